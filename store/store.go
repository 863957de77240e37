// Package store defines the long-term memory contract shared by the
// sqlite and postgres backends. Facts are short natural-language
// statements the agent chose to remember across sessions.
package store

import "context"

// Fact is one remembered statement.
type Fact struct {
	ID         string  `json:"id"`
	Fact       string  `json:"fact"`
	Category   string  `json:"category"`
	Confidence float64 `json:"confidence"`
	CreatedAt  int64   `json:"created_at"`
	UpdatedAt  int64   `json:"updated_at"`
}

// FactStore stores and retrieves facts. Search is plain substring
// matching ranked by recency; backends are free to do better.
type FactStore interface {
	// Init creates the schema. Idempotent.
	Init(ctx context.Context) error
	// UpsertFact inserts a fact, or bumps the confidence of an
	// existing fact with the same text (case-insensitive).
	UpsertFact(ctx context.Context, fact, category string) (Fact, error)
	// SearchFacts returns facts matching query, most recent first.
	// An empty query matches everything.
	SearchFacts(ctx context.Context, query string, limit int) ([]Fact, error)
	// DeleteFact removes a fact by id.
	DeleteFact(ctx context.Context, id string) error
	Close() error
}
