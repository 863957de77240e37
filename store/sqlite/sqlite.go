// Package sqlite implements store.FactStore on a local SQLite file.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	jimi "github.com/jimihq/jimi"
	"github.com/jimihq/jimi/store"
)

// Store implements store.FactStore backed by a SQLite file.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

var _ store.FactStore = (*Store)(nil)

// nopLogger is a logger that discards all output.
var nopLogger = slog.New(discardHandler{})

type discardHandler struct{}

func (discardHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (discardHandler) Handle(context.Context, slog.Record) error { return nil }
func (d discardHandler) WithAttrs([]slog.Attr) slog.Handler      { return d }
func (d discardHandler) WithGroup(string) slog.Handler           { return d }

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithLogger sets a structured logger for store operations.
func WithLogger(l *slog.Logger) StoreOption {
	return func(s *Store) { s.logger = l }
}

// New creates a Store using a local SQLite file at dbPath. A single
// shared connection serializes all goroutines, eliminating SQLITE_BUSY
// errors from concurrent writers.
func New(dbPath string, opts ...StoreOption) *Store {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		// sql.Open only fails when the driver is not registered; with
		// the blank import above that never happens.
		panic(fmt.Sprintf("sqlite: open driver: %v", err))
	}
	db.SetMaxOpenConns(1)
	s := &Store{db: db, logger: nopLogger}
	for _, o := range opts {
		o(s)
	}
	s.logger.Debug("sqlite: store opened", "path", dbPath)
	return s
}

// Init creates the facts table.
func (s *Store) Init(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS facts (
		id TEXT PRIMARY KEY,
		fact TEXT NOT NULL,
		category TEXT NOT NULL,
		confidence REAL DEFAULT 1.0,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	)`)
	if err != nil {
		s.logger.Error("sqlite: init failed", "error", err)
		return err
	}
	return nil
}

// UpsertFact inserts a new fact or bumps an existing one with the same
// text (case-insensitive), capping confidence at 1.0.
func (s *Store) UpsertFact(ctx context.Context, fact, category string) (store.Fact, error) {
	now := time.Now().Unix()

	var existing store.Fact
	err := s.db.QueryRowContext(ctx,
		`SELECT id, fact, category, confidence, created_at, updated_at
		 FROM facts WHERE lower(fact) = lower(?)`, fact).
		Scan(&existing.ID, &existing.Fact, &existing.Category,
			&existing.Confidence, &existing.CreatedAt, &existing.UpdatedAt)
	switch {
	case err == nil:
		conf := existing.Confidence + 0.1
		if conf > 1.0 {
			conf = 1.0
		}
		_, err = s.db.ExecContext(ctx,
			`UPDATE facts SET fact=?, category=?, confidence=?, updated_at=? WHERE id=?`,
			fact, category, conf, now, existing.ID)
		if err != nil {
			return store.Fact{}, err
		}
		existing.Fact = fact
		existing.Category = category
		existing.Confidence = conf
		existing.UpdatedAt = now
		return existing, nil
	case err != sql.ErrNoRows:
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
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO facts (id, fact, category, confidence, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
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
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, fact, category, confidence, created_at, updated_at
		 FROM facts
		 WHERE lower(fact) LIKE ? OR lower(category) LIKE ?
		 ORDER BY updated_at DESC LIMIT ?`,
		pattern, pattern, limit)
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
	_, err := s.db.ExecContext(ctx, `DELETE FROM facts WHERE id = ?`, id)
	return err
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}
