package jimi

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

// asyncHistoryLimit caps the persisted index. It is deliberately larger
// than the in-memory completed cache (completedCacheLimit): the cache
// serves the live session, the index serves later sessions in the same
// workdir.
const asyncHistoryLimit = 100

// asyncDirName is the per-workdir persistence root.
const asyncDirName = ".jimi/async_subagents"

// AsyncRecord is the persistence projection of a finished (or running)
// async subagent: no live handles, ISO-8601 dates.
type AsyncRecord struct {
	ID             string      `json:"id"`
	Name           string      `json:"name"`
	Mode           AsyncMode   `json:"mode"`
	Status         AsyncStatus `json:"status"`
	StartTime      time.Time   `json:"start_time"`
	EndTime        *time.Time  `json:"end_time,omitempty"`
	DurationMs     int64       `json:"duration_ms"`
	Prompt         string      `json:"prompt"`
	Result         string      `json:"result,omitempty"`
	Error          string      `json:"error,omitempty"`
	TriggerPattern string      `json:"trigger_pattern,omitempty"`
}

// AsyncIndexEntry is one line of the persisted index, newest first.
type AsyncIndexEntry struct {
	ID         string      `json:"id"`
	Name       string      `json:"name"`
	Status     AsyncStatus `json:"status"`
	StartTime  time.Time   `json:"start_time"`
	DurationMs int64       `json:"duration_ms"`
}

// AsyncStore persists completed async subagent records per workdir:
//
//	<workDir>/.jimi/async_subagents/
//	    index.json          newest-first, at most 100 entries
//	    results/<id>.json   full record
//
// Persistence must never crash a live run: every failure is logged and
// swallowed. An empty workdir makes every operation a no-op.
type AsyncStore struct {
	logger *slog.Logger
}

// NewAsyncStore creates a store logging through l (nil for silent).
func NewAsyncStore(l *slog.Logger) *AsyncStore {
	if l == nil {
		l = nopLogger
	}
	return &AsyncStore{logger: l}
}

func asyncDir(workDir string) string {
	return filepath.Join(workDir, filepath.FromSlash(asyncDirName))
}

func asyncResultsDir(workDir string) string {
	return filepath.Join(asyncDir(workDir), "results")
}

func asyncIndexPath(workDir string) string {
	return filepath.Join(asyncDir(workDir), "index.json")
}

// Save writes the record file and updates the index: any existing entry
// with the same id is replaced, the new entry is prepended, the index
// is truncated to the history limit and the truncated records' files
// are deleted in the same update.
func (s *AsyncStore) Save(workDir string, rec AsyncRecord) {
	if workDir == "" {
		return
	}
	resultsDir := asyncResultsDir(workDir)
	if err := os.MkdirAll(resultsDir, 0o755); err != nil {
		s.logger.Warn("async persistence: mkdir failed", "dir", resultsDir, "error", err)
		return
	}

	b, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		s.logger.Warn("async persistence: encode failed", "id", rec.ID, "error", err)
		return
	}
	recPath := filepath.Join(resultsDir, rec.ID+".json")
	if err := os.WriteFile(recPath, b, 0o644); err != nil {
		s.logger.Warn("async persistence: write failed", "path", recPath, "error", err)
		return
	}

	index := s.readIndex(workDir)
	filtered := make([]AsyncIndexEntry, 0, len(index)+1)
	filtered = append(filtered, AsyncIndexEntry{
		ID:         rec.ID,
		Name:       rec.Name,
		Status:     rec.Status,
		StartTime:  rec.StartTime,
		DurationMs: rec.DurationMs,
	})
	for _, e := range index {
		if e.ID == rec.ID {
			continue
		}
		filtered = append(filtered, e)
	}
	if len(filtered) > asyncHistoryLimit {
		for _, e := range filtered[asyncHistoryLimit:] {
			p := filepath.Join(resultsDir, e.ID+".json")
			if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
				s.logger.Warn("async persistence: overflow delete failed", "path", p, "error", err)
			}
		}
		filtered = filtered[:asyncHistoryLimit]
	}
	s.writeIndex(workDir, filtered)
}

// History returns the newest-first index entries, at most limit
// (limit <= 0 returns everything).
func (s *AsyncStore) History(workDir string, limit int) []AsyncIndexEntry {
	if workDir == "" {
		return nil
	}
	index := s.readIndex(workDir)
	if limit > 0 && len(index) > limit {
		index = index[:limit]
	}
	return index
}

// Load reads one full record by id.
func (s *AsyncStore) Load(workDir, id string) (AsyncRecord, bool) {
	if workDir == "" || id == "" {
		return AsyncRecord{}, false
	}
	b, err := os.ReadFile(filepath.Join(asyncResultsDir(workDir), id+".json"))
	if err != nil {
		return AsyncRecord{}, false
	}
	var rec AsyncRecord
	if err := json.Unmarshal(b, &rec); err != nil {
		s.logger.Warn("async persistence: decode failed", "id", id, "error", err)
		return AsyncRecord{}, false
	}
	return rec, true
}

// Clear removes every persisted record and the index, returning the
// number of index entries removed.
func (s *AsyncStore) Clear(workDir string) int {
	if workDir == "" {
		return 0
	}
	index := s.readIndex(workDir)
	resultsDir := asyncResultsDir(workDir)
	for _, e := range index {
		p := filepath.Join(resultsDir, e.ID+".json")
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			s.logger.Warn("async persistence: delete failed", "path", p, "error", err)
		}
	}
	if err := os.Remove(asyncIndexPath(workDir)); err != nil && !os.IsNotExist(err) {
		s.logger.Warn("async persistence: index delete failed", "error", err)
	}
	return len(index)
}

// Count returns the number of persisted index entries.
func (s *AsyncStore) Count(workDir string) int {
	if workDir == "" {
		return 0
	}
	return len(s.readIndex(workDir))
}

func (s *AsyncStore) readIndex(workDir string) []AsyncIndexEntry {
	b, err := os.ReadFile(asyncIndexPath(workDir))
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.Warn("async persistence: index read failed", "error", err)
		}
		return nil
	}
	var index []AsyncIndexEntry
	if err := json.Unmarshal(b, &index); err != nil {
		s.logger.Warn("async persistence: index decode failed", "error", err)
		return nil
	}
	return index
}

func (s *AsyncStore) writeIndex(workDir string, index []AsyncIndexEntry) {
	b, err := json.MarshalIndent(index, "", "  ")
	if err != nil {
		s.logger.Warn("async persistence: index encode failed", "error", err)
		return
	}
	if err := os.WriteFile(asyncIndexPath(workDir), b, 0o644); err != nil {
		s.logger.Warn("async persistence: index write failed", "error", err)
	}
}

// FormatDuration renders a millisecond duration as "Ns", "NmSs", or
// "NhMmSs" as the magnitude dictates.
func FormatDuration(ms int64) string {
	secs := ms / 1000
	switch {
	case secs < 60:
		return fmt.Sprintf("%ds", secs)
	case secs < 3600:
		return fmt.Sprintf("%dm%ds", secs/60, secs%60)
	default:
		return fmt.Sprintf("%dh%dm%ds", secs/3600, (secs%3600)/60, secs%60)
	}
}
