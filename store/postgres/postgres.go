// Package postgres implements store.FactStore on PostgreSQL. The
// *pgxpool.Pool is externally owned: the caller creates and closes it.
package postgres

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	jimi "github.com/jimihq/jimi"
	"github.com/jimihq/jimi/store"
)

// Store implements store.FactStore backed by PostgreSQL.
type Store struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

var _ store.FactStore = (*Store)(nil)

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithLogger sets a structured logger for store operations.
func WithLogger(l *slog.Logger) StoreOption {
	return func(s *Store) { s.logger = l }
}

// New creates a Store over an existing pool.
func New(pool *pgxpool.Pool, opts ...StoreOption) *Store {
	s := &Store{pool: pool, logger: slog.New(discardHandler{})}
	for _, o := range opts {
		o(s)
	}
	return s
}

type discardHandler struct{}

func (discardHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (discardHandler) Handle(context.Context, slog.Record) error { return nil }
func (d discardHandler) WithAttrs([]slog.Attr) slog.Handler      { return d }
func (d discardHandler) WithGroup(string) slog.Handler           { return d }

// Init creates the facts table.
func (s *Store) Init(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `CREATE TABLE IF NOT EXISTS facts (
		id TEXT PRIMARY KEY,
		fact TEXT NOT NULL,
		category TEXT NOT NULL,
		confidence DOUBLE PRECISION DEFAULT 1.0,
		created_at BIGINT NOT NULL,
		updated_at BIGINT NOT NULL
	)`)
	if err != nil {
		s.logger.Error("postgres: init failed", "error", err)
	}
	return err
}

// UpsertFact inserts a new fact or bumps an existing one with the same
// text (case-insensitive), capping confidence at 1.0.
func (s *Store) UpsertFact(ctx context.Context, fact, category string) (store.Fact, error) {
	now := time.Now().Unix()

	var existing store.Fact
	err := s.pool.QueryRow(ctx,
		`SELECT id, fact, category, confidence, created_at, updated_at
		 FROM facts WHERE lower(fact) = lower($1)`, fact).
		Scan(&existing.ID, &existing.Fact, &existing.Category,
			&existing.Confidence, &existing.CreatedAt, &existing.UpdatedAt)
	switch {
	case err == nil:
		conf := existing.Confidence + 0.1
		if conf > 1.0 {
			conf = 1.0
		}
		_, err = s.pool.Exec(ctx,
			`UPDATE facts SET fact=$1, category=$2, confidence=$3, updated_at=$4 WHERE id=$5`,
			fact, category, conf, now, existing.ID)
		if err != nil {
			return store.Fact{}, err
		}
		existing.Fact = fact
		existing.Category = category
		existing.Confidence = conf
		existing.UpdatedAt = now
		return existing, nil
	case !errors.Is(err, pgx.ErrNoRows):
		return store.Fact{}, err
	}

	f := store.Fact{
		ID:         jimi.NewID(),
		Fact:       fact,
		Category:   category,
		Confidence: 1.0,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO facts (id, fact, category, confidence, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		f.ID, f.Fact, f.Category, f.Confidence, f.CreatedAt, f.UpdatedAt)
	if err != nil {
		return store.Fact{}, err
	}
	return f, nil
}

// SearchFacts returns facts whose text or category contains query,
// most recently updated first.
func (s *Store) SearchFacts(ctx context.Context, query string, limit int) ([]store.Fact, error) {
	if limit <= 0 {
		limit = 20
	}
	pattern := "%" + strings.ToLower(query) + "%"
	rows, err := s.pool.Query(ctx,
		`SELECT id, fact, category, confidence, created_at, updated_at
		 FROM facts
		 WHERE lower(fact) LIKE $1 OR lower(category) LIKE $1
		 ORDER BY updated_at DESC LIMIT $2`,
		pattern, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []store.Fact
	for rows.Next() {
		var f store.Fact
		if err := rows.Scan(&f.ID, &f.Fact, &f.Category, &f.Confidence, &f.CreatedAt, &f.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// DeleteFact removes a fact by id.
func (s *Store) DeleteFact(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM facts WHERE id = $1`, id)
	return err
}

// Close is a no-op: the pool is externally owned.
func (s *Store) Close() error { return nil }
