// Package file provides the workspace file tools: ReadFile (with PDF
// text extraction), WriteFile and EditFile (approval-gated), and
// ListFiles. All paths resolve inside the workspace; escapes are
// rejected.
package file

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	jimi "github.com/jimihq/jimi"
)

const maxReadOutput = 16_000

// base carries the shared workspace resolution.
type base struct {
	workdir string
}

// SetWorkdir implements jimi.WorkdirAware.
func (b *base) SetWorkdir(dir string) { b.workdir = dir }

// resolve joins a relative path onto the workspace, rejecting escapes.
func (b *base) resolve(path string) (string, error) {
	if b.workdir == "" {
		return "", fmt.Errorf("no workspace configured")
	}
	if path == "" {
		path = "."
	}
	resolved := filepath.Join(b.workdir, filepath.FromSlash(path))
	rel, err := filepath.Rel(b.workdir, resolved)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path escapes the workspace: %s", path)
	}
	return resolved, nil
}

// ReadTool reads a file, extracting text from PDFs.
type ReadTool struct {
	base
}

// NewReadTool creates the ReadFile tool.
func NewReadTool() *ReadTool { return &ReadTool{} }

func (t *ReadTool) Definition() jimi.ToolDefinition {
	return jimi.ToolDefinition{
		Name:        "ReadFile",
		Description: "Read a file from the workspace. PDF files are converted to plain text.",
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"path": {"type": "string", "description": "File path relative to the workspace"}
			},
			"required": ["path"]
		}`),
	}
}

func (t *ReadTool) Execute(_ context.Context, args json.RawMessage) jimi.ToolResult {
	var params struct {
		Path string `json:"path"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return jimi.Errorf("invalid arguments", err.Error())
	}
	resolved, err := t.resolve(params.Path)
	if err != nil {
		return jimi.Errorf(err.Error(), "")
	}

	data, err := os.ReadFile(resolved)
	if err != nil {
		return jimi.Errorf("read failed: "+err.Error(), "")
	}

	var content string
	if strings.EqualFold(filepath.Ext(resolved), ".pdf") {
		content, err = extractPDF(data)
		if err != nil {
			return jimi.Errorf("pdf extraction failed: "+err.Error(), "")
		}
	} else {
		content = string(data)
	}
	if len(content) > maxReadOutput {
		content = content[:maxReadOutput] + "\n... (truncated)"
	}
	return jimi.Ok(content, "Read "+params.Path)
}

// WriteTool writes a file after approval.
type WriteTool struct {
	base
	approval *jimi.Approval
}

// NewWriteTool creates the WriteFile tool.
func NewWriteTool() *WriteTool { return &WriteTool{} }

// SetApproval implements jimi.ApprovalAware.
func (t *WriteTool) SetApproval(a *jimi.Approval) { t.approval = a }

func (t *WriteTool) Definition() jimi.ToolDefinition {
	return jimi.ToolDefinition{
		Name:        "WriteFile",
		Description: "Write content to a file in the workspace, creating parent directories as needed.",
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"path": {"type": "string", "description": "File path relative to the workspace"},
				"content": {"type": "string", "description": "Full file content"}
			},
			"required": ["path", "content"]
		}`),
	}
}

func (t *WriteTool) Execute(ctx context.Context, args json.RawMessage) jimi.ToolResult {
	var params struct {
		Path    string `json:"path"`
		Content string `json:"content"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return jimi.Errorf("invalid arguments", err.Error())
	}
	resolved, err := t.resolve(params.Path)
	if err != nil {
		return jimi.Errorf(err.Error(), "")
	}

	if t.approval != nil {
		d := t.approval.Request(ctx, "WriteFile", jimi.ActionEdit,
			fmt.Sprintf("write %d bytes to %s", len(params.Content), params.Path))
		if d == jimi.Reject {
			return jimi.Rejected("write not approved")
		}
	}

	if err := os.MkdirAll(filepath.Dir(resolved), 0o755); err != nil {
		return jimi.Errorf("mkdir failed: "+err.Error(), "")
	}
	if err := os.WriteFile(resolved, []byte(params.Content), 0o644); err != nil {
		return jimi.Errorf("write failed: "+err.Error(), "")
	}
	return jimi.Ok(fmt.Sprintf("Wrote %d bytes to %s", len(params.Content), params.Path), "Wrote "+params.Path)
}

// EditTool replaces an exact string in a file after approval.
type EditTool struct {
	base
	approval *jimi.Approval
}

// NewEditTool creates the EditFile tool.
func NewEditTool() *EditTool { return &EditTool{} }

// SetApproval implements jimi.ApprovalAware.
func (t *EditTool) SetApproval(a *jimi.Approval) { t.approval = a }

func (t *EditTool) Definition() jimi.ToolDefinition {
	return jimi.ToolDefinition{
		Name:        "EditFile",
		Description: "Replace an exact string in a workspace file. The old string must occur exactly once.",
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"path": {"type": "string", "description": "File path relative to the workspace"},
				"old": {"type": "string", "description": "Exact text to replace"},
				"new": {"type": "string", "description": "Replacement text"}
			},
			"required": ["path", "old", "new"]
		}`),
	}
}

func (t *EditTool) Execute(ctx context.Context, args json.RawMessage) jimi.ToolResult {
	var params struct {
		Path string `json:"path"`
		Old  string `json:"old"`
		New  string `json:"new"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return jimi.Errorf("invalid arguments", err.Error())
	}
	resolved, err := t.resolve(params.Path)
	if err != nil {
		return jimi.Errorf(err.Error(), "")
	}

	data, err := os.ReadFile(resolved)
	if err != nil {
		return jimi.Errorf("read failed: "+err.Error(), "")
	}
	content := string(data)
	switch strings.Count(content, params.Old) {
	case 0:
		return jimi.Errorf("old string not found in "+params.Path, "")
	case 1:
	default:
		return jimi.Errorf("old string occurs more than once in "+params.Path, "")
	}

	if t.approval != nil {
		d := t.approval.Request(ctx, "EditFile", jimi.ActionEdit, "edit "+params.Path)
		if d == jimi.Reject {
			return jimi.Rejected("edit not approved")
		}
	}

	updated := strings.Replace(content, params.Old, params.New, 1)
	if err := os.WriteFile(resolved, []byte(updated), 0o644); err != nil {
		return jimi.Errorf("write failed: "+err.Error(), "")
	}
	return jimi.Ok("Edited "+params.Path, "Edited "+params.Path)
}

// ListTool lists a workspace directory.
type ListTool struct {
	base
}

// NewListTool creates the ListFiles tool.
func NewListTool() *ListTool { return &ListTool{} }

func (t *ListTool) Definition() jimi.ToolDefinition {
	return jimi.ToolDefinition{
		Name:        "ListFiles",
		Description: "List files and directories in a workspace directory, one entry per line; directories end with a slash.",
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"path": {"type": "string", "description": "Directory relative to the workspace (empty for root)"}
			}
		}`),
	}
}

func (t *ListTool) Execute(_ context.Context, args json.RawMessage) jimi.ToolResult {
	var params struct {
		Path string `json:"path"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return jimi.Errorf("invalid arguments", err.Error())
	}
	resolved, err := t.resolve(params.Path)
	if err != nil {
		return jimi.Errorf(err.Error(), "")
	}
	entries, err := os.ReadDir(resolved)
	if err != nil {
		return jimi.Errorf("list failed: "+err.Error(), "")
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		n := e.Name()
		if e.IsDir() {
			n += "/"
		}
		names = append(names, n)
	}
	sort.Strings(names)
	if len(names) == 0 {
		return jimi.Ok("(empty directory)", "0 entries")
	}
	return jimi.Ok(strings.Join(names, "\n"), fmt.Sprintf("%d entries", len(names)))
}

var (
	_ jimi.Tool          = (*ReadTool)(nil)
	_ jimi.Tool          = (*WriteTool)(nil)
	_ jimi.Tool          = (*EditTool)(nil)
	_ jimi.Tool          = (*ListTool)(nil)
	_ jimi.WorkdirAware  = (*ReadTool)(nil)
	_ jimi.ApprovalAware = (*WriteTool)(nil)
	_ jimi.ApprovalAware = (*EditTool)(nil)
)
