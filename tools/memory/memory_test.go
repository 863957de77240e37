package memory

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	jimi "github.com/jimihq/jimi"
	"github.com/jimihq/jimi/store"
)

// fakeFacts is an in-memory FactStore.
type fakeFacts struct {
	facts []store.Fact
}

func (f *fakeFacts) Init(context.Context) error { return nil }

func (f *fakeFacts) UpsertFact(_ context.Context, fact, category string) (store.Fact, error) {
	for i, existing := range f.facts {
		if strings.EqualFold(existing.Fact, fact) {
			f.facts[i].Category = category
			return f.facts[i], nil
		}
	}
	rec := store.Fact{ID: jimi.NewID(), Fact: fact, Category: category, Confidence: 1.0}
	f.facts = append(f.facts, rec)
	return rec, nil
}

func (f *fakeFacts) SearchFacts(_ context.Context, query string, limit int) ([]store.Fact, error) {
	var out []store.Fact
	q := strings.ToLower(query)
	for _, fact := range f.facts {
		if q == "" || strings.Contains(strings.ToLower(fact.Fact), q) ||
			strings.Contains(strings.ToLower(fact.Category), q) {
			out = append(out, fact)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (f *fakeFacts) DeleteFact(_ context.Context, id string) error { return nil }
func (f *fakeFacts) Close() error                                  { return nil }

func TestRememberAndSearch(t *testing.T) {
	facts := &fakeFacts{}
	remember := NewRememberTool(facts)
	search := NewMemorySearchTool(facts)

	res := remember.Execute(context.Background(),
		json.RawMessage(`{"fact":"tests run with the race detector","category":"convention"}`))
	if res.Kind != jimi.ToolOk {
		t.Fatalf("%+v", res)
	}

	res = search.Execute(context.Background(), json.RawMessage(`{"query":"race detector"}`))
	if res.Kind != jimi.ToolOk || !strings.Contains(res.Output, "race detector") {
		t.Fatalf("%+v", res)
	}
	if !strings.Contains(res.Output, "[convention]") {
		t.Fatalf("category missing: %q", res.Output)
	}
}

func TestRememberRejectsEmptyFact(t *testing.T) {
	remember := NewRememberTool(&fakeFacts{})
	res := remember.Execute(context.Background(), json.RawMessage(`{"fact":"  "}`))
	if res.Kind != jimi.ToolError {
		t.Fatalf("%+v", res)
	}
}

func TestSearchNoMatches(t *testing.T) {
	search := NewMemorySearchTool(&fakeFacts{})
	res := search.Execute(context.Background(), json.RawMessage(`{"query":"nothing"}`))
	if res.Kind != jimi.ToolOk || !strings.Contains(res.Output, "No matching facts") {
		t.Fatalf("%+v", res)
	}
}
