// Package ports defines the storage boundaries of the service.
package ports

import (
	"context"

	"github.com/tjfontaine/gamestats/internal/core/domain"
	"github.com/tjfontaine/gamestats/internal/pipeline"
)

// DocumentStore holds game events and scores and executes aggregation
// pipelines against them. Collection names are physical names as produced by
// the game registry.
type DocumentStore interface {
	// EnsureCollections creates the named collections and their indexes if
	// they do not already exist.
	EnsureCollections(ctx context.Context, collections []string) error

	// Insert stores a single document in the named collection.
	Insert(ctx context.Context, collection string, doc any) error

	// Aggregate runs an already sanitized pipeline and returns every result
	// document. It is called at most once per query and never retried.
	Aggregate(ctx context.Context, collection string, stages []pipeline.Stage) ([]map[string]any, error)

	// Ping checks connectivity to the backing database.
	Ping(ctx context.Context) error

	// Close releases the connection.
	Close(ctx context.Context) error
}

// AuditStore records analytics queries after they run.
type AuditStore interface {
	// RecordQuery persists an audit record
	RecordQuery(ctx context.Context, audit *domain.QueryAudit) error

	// ListQueries returns the most recent records first
	ListQueries(ctx context.Context, opts AuditListOptions) ([]*domain.QueryAudit, error)

	// Close closes the storage connection
	Close() error
}

// AuditListOptions defines options for listing audit records
type AuditListOptions struct {
	Game   string
	Status domain.QueryStatus // Optional status filter
	Limit  int
	Offset int
}
