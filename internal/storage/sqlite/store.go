// Package sqlite provides a SQLite-backed audit store.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/tjfontaine/gamestats/internal/core/domain"
	"github.com/tjfontaine/gamestats/internal/storage"
)

// Store is a SQLite implementation of AuditStore
type Store struct {
	db *sqlx.DB
}

var _ storage.AuditStore = (*Store)(nil)

// New creates a new SQLite store
func New(dbPath string) (*Store, error) {
	db, err := sqlx.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL; PRAGMA synchronous=NORMAL;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	store := &Store{db: db}

	// Initialize schema
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

func (s *Store) initSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS query_audit (
			id TEXT PRIMARY KEY,
			game TEXT NOT NULL,
			collection TEXT NOT NULL,
			input_stages INTEGER NOT NULL,
			pipeline TEXT NOT NULL,
			diagnostics TEXT,
			truncated INTEGER NOT NULL DEFAULT 0,
			status TEXT NOT NULL,
			error TEXT,
			result_count INTEGER NOT NULL DEFAULT 0,
			duration_ns INTEGER NOT NULL DEFAULT 0,
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_query_audit_game_created ON query_audit(game, created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_query_audit_status ON query_audit(status)`,
	}

	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to execute schema statement: %w", err)
		}
	}

	return nil
}

// auditRow is the column layout of query_audit.
type auditRow struct {
	ID          string         `db:"id"`
	Game        string         `db:"game"`
	Collection  string         `db:"collection"`
	InputStages int            `db:"input_stages"`
	Pipeline    string         `db:"pipeline"`
	Diagnostics sql.NullString `db:"diagnostics"`
	Truncated   int            `db:"truncated"`
	Status      string         `db:"status"`
	Error       sql.NullString `db:"error"`
	ResultCount int            `db:"result_count"`
	DurationNs  int64          `db:"duration_ns"`
	CreatedAt   time.Time      `db:"created_at"`
}

func toRow(a *domain.QueryAudit) auditRow {
	return auditRow{
		ID:          a.ID,
		Game:        a.Game,
		Collection:  a.Collection,
		InputStages: a.InputStages,
		Pipeline:    string(a.Pipeline),
		Diagnostics: sql.NullString{String: string(a.Diagnostics), Valid: len(a.Diagnostics) > 0},
		Truncated:   a.Truncated,
		Status:      string(a.Status),
		Error:       sql.NullString{String: a.Error, Valid: a.Error != ""},
		ResultCount: a.ResultCount,
		DurationNs:  int64(a.Duration),
		CreatedAt:   a.CreatedAt.UTC(),
	}
}

func (r auditRow) toAudit() *domain.QueryAudit {
	a := &domain.QueryAudit{
		ID:          r.ID,
		Game:        r.Game,
		Collection:  r.Collection,
		InputStages: r.InputStages,
		Pipeline:    []byte(r.Pipeline),
		Truncated:   r.Truncated,
		Status:      domain.QueryStatus(r.Status),
		Error:       r.Error.String,
		ResultCount: r.ResultCount,
		Duration:    time.Duration(r.DurationNs),
		CreatedAt:   r.CreatedAt,
	}
	if r.Diagnostics.Valid && r.Diagnostics.String != "" {
		a.Diagnostics = []byte(r.Diagnostics.String)
	}
	return a
}

func (s *Store) RecordQuery(ctx context.Context, audit *domain.QueryAudit) error {
	if audit.CreatedAt.IsZero() {
		audit.CreatedAt = time.Now().UTC()
	}
	if len(audit.Pipeline) == 0 {
		audit.Pipeline = []byte("[]")
	}

	query := `INSERT INTO query_audit (
		id, game, collection, input_stages, pipeline, diagnostics, truncated,
		status, error, result_count, duration_ns, created_at
	) VALUES (
		:id, :game, :collection, :input_stages, :pipeline, :diagnostics, :truncated,
		:status, :error, :result_count, :duration_ns, :created_at
	)`

	if _, err := s.db.NamedExecContext(ctx, query, toRow(audit)); err != nil {
		return fmt.Errorf("failed to insert query audit: %w", err)
	}
	return nil
}

func (s *Store) ListQueries(ctx context.Context, opts storage.AuditListOptions) ([]*domain.QueryAudit, error) {
	var (
		where []string
		args  []any
	)
	if opts.Game != "" {
		where = append(where, "game = ?")
		args = append(args, opts.Game)
	}
	if opts.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(opts.Status))
	}

	query := `SELECT id, game, collection, input_stages, pipeline, diagnostics, truncated,
	                 status, error, result_count, duration_ns, created_at
	          FROM query_audit`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?"

	limit := opts.Limit
	if limit == 0 {
		limit = storage.DefaultListLimit
	}
	args = append(args, limit, opts.Offset)

	var rows []auditRow
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to query audit records: %w", err)
	}

	result := make([]*domain.QueryAudit, len(rows))
	for i, r := range rows {
		result[i] = r.toAudit()
	}
	return result, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}
