package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	jimi "github.com/jimihq/jimi"
)

func TestStripHTML(t *testing.T) {
	html := `<html><head><style>body{color:red}</style><script>alert(1)</script></head>
<body><h1>Title</h1><p>Some &amp; text</p></body></html>`
	got := StripHTML(html)
	if strings.Contains(got, "alert") || strings.Contains(got, "color:red") {
		t.Fatalf("script/style leaked: %q", got)
	}
	if !strings.Contains(got, "Title") || !strings.Contains(got, "Some & text") {
		t.Fatalf("content lost: %q", got)
	}
}

func TestFetchExtractsText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html><body><article><h1>Doc</h1><p>The content body of the page.</p></article></body></html>`))
	}))
	defer srv.Close()

	tool := New()
	res := tool.Execute(context.Background(), json.RawMessage(`{"url":"`+srv.URL+`"}`))
	if res.Kind != jimi.ToolOk {
		t.Fatalf("%+v", res)
	}
	if !strings.Contains(res.Output, "content body") {
		t.Fatalf("output %q", res.Output)
	}
}

func TestFetchHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	tool := New()
	res := tool.Execute(context.Background(), json.RawMessage(`{"url":"`+srv.URL+`"}`))
	if res.Kind != jimi.ToolError || !strings.Contains(res.Message, "404") {
		t.Fatalf("%+v", res)
	}
}

func TestFetchInvalidURL(t *testing.T) {
	tool := New()
	res := tool.Execute(context.Background(), json.RawMessage(`{"url":"::not a url::"}`))
	if res.Kind != jimi.ToolError {
		t.Fatalf("%+v", res)
	}
}
