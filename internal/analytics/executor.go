// Package analytics runs client aggregation pipelines against a game's
// collections after sanitizing them.
package analytics

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/tjfontaine/gamestats/internal/core/domain"
	"github.com/tjfontaine/gamestats/internal/core/ports"
	"github.com/tjfontaine/gamestats/internal/games"
	"github.com/tjfontaine/gamestats/internal/pipeline"
	"github.com/tjfontaine/gamestats/internal/telemetry"
)

const (
	tracerName = "github.com/tjfontaine/gamestats/internal/analytics"

	defaultAuditPage = 20
	maxAuditPage     = 100
)

// Result is a successful query.
type Result struct {
	Documents   []map[string]any
	Stages      []pipeline.Stage
	Diagnostics []pipeline.Diagnostic
	Truncated   int
}

// ExecutionError is returned when the document store fails a sanitized
// pipeline. It is never retried.
type ExecutionError struct {
	Game       string
	Collection string
	Err        error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("aggregate on %s/%s failed: %v", e.Game, e.Collection, e.Err)
}

func (e *ExecutionError) Unwrap() error { return e.Err }

// Executor sanitizes pipelines with each game's policy and hands them to the
// document store.
type Executor struct {
	games   *games.Registry
	store   ports.DocumentStore
	audit   ports.AuditStore
	metrics *telemetry.Metrics
	logger  *slog.Logger
	tracer  trace.Tracer
	now     func() time.Time
}

// Option configures an Executor.
type Option func(*Executor)

// WithAuditStore records every query in store.
func WithAuditStore(store ports.AuditStore) Option {
	return func(e *Executor) {
		e.audit = store
	}
}

// WithMetrics records query outcomes and latency.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(e *Executor) {
		e.metrics = m
	}
}

// WithLogger sets the logger used for sanitizer diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Executor) {
		e.logger = logger
	}
}

// NewExecutor creates an executor over the registry's games.
func NewExecutor(registry *games.Registry, store ports.DocumentStore, opts ...Option) *Executor {
	e := &Executor{
		games:  registry,
		store:  store,
		logger: slog.Default(),
		tracer: otel.Tracer(tracerName),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute sanitizes stages with the game's policy and runs the result against
// the game's collection. The store is called at most once; deadlines come
// from ctx.
//
// Errors are *domain.APIError for unknown games or collections,
// *pipeline.RejectedError for strict policies, and *ExecutionError for store
// failures.
func (e *Executor) Execute(ctx context.Context, gameID, collection string, stages []pipeline.Stage) (*Result, error) {
	ctx, span := e.tracer.Start(ctx, "analytics.execute", trace.WithAttributes(
		attribute.String("game", gameID),
		attribute.String("collection", collection),
		attribute.Int("stages.input", len(stages)),
	))
	defer span.End()

	game, ok := e.games.Get(gameID)
	if !ok {
		err := domain.ErrUnknownGame(gameID)
		span.SetStatus(codes.Error, err.Message)
		return nil, err
	}
	kind, ok := games.ParseKind(collection)
	if !ok {
		err := domain.ErrInvalidRequest(fmt.Sprintf("unknown collection %q (must be events or scores)", collection)).
			WithCode(domain.ErrorCodeUnknownCollection).
			WithParam("collection")
		span.SetStatus(codes.Error, err.Message)
		return nil, err
	}

	outcome := game.Sanitizer.Sanitize(stages)
	e.logDiagnostics(ctx, game.ID, outcome)
	span.SetAttributes(
		attribute.Int("stages.sanitized", len(outcome.Stages)),
		attribute.Int("stages.truncated", outcome.Truncated),
		attribute.Int("diagnostics", len(outcome.Diagnostics)),
	)

	audit := e.newAudit(game.ID, kind, len(stages), outcome)

	if game.Sanitizer.Policy().Strict {
		if err := outcome.Reject(); err != nil {
			audit.Status = domain.QueryStatusRejected
			audit.Error = err.Error()
			e.finish(ctx, audit)
			span.SetStatus(codes.Error, "rejected")
			return nil, err
		}
	}

	start := e.now()
	docs, err := e.store.Aggregate(ctx, game.Collection(kind), outcome.Stages)
	audit.Duration = e.now().Sub(start)
	if err != nil {
		execErr := &ExecutionError{Game: game.ID, Collection: string(kind), Err: err}
		audit.Status = domain.QueryStatusFailed
		audit.Error = err.Error()
		e.finish(ctx, audit)
		span.RecordError(err)
		span.SetStatus(codes.Error, "aggregate failed")
		return nil, execErr
	}

	if docs == nil {
		docs = []map[string]any{}
	}
	audit.Status = domain.QueryStatusCompleted
	audit.ResultCount = len(docs)
	e.finish(ctx, audit)
	span.SetAttributes(attribute.Int("results", len(docs)))

	return &Result{
		Documents:   docs,
		Stages:      outcome.Stages,
		Diagnostics: outcome.Diagnostics,
		Truncated:   outcome.Truncated,
	}, nil
}

func (e *Executor) logDiagnostics(ctx context.Context, game string, outcome pipeline.Outcome) {
	for _, d := range outcome.Diagnostics {
		e.logger.InfoContext(ctx, "pipeline stage sanitized",
			slog.String("game", game),
			slog.String("operator", d.Operator),
			slog.String("reason", string(d.Reason)),
			slog.Int("index", d.Index),
			slog.String("detail", d.Detail),
		)
	}
	if outcome.Truncated > 0 {
		e.logger.WarnContext(ctx, "pipeline exceeded stage cap",
			slog.String("game", game),
			slog.Int("discarded", outcome.Truncated),
		)
	}
}

func (e *Executor) newAudit(game string, kind games.Kind, inputStages int, outcome pipeline.Outcome) *domain.QueryAudit {
	audit := domain.NewQueryAudit(uuid.NewString(), game, string(kind))
	audit.InputStages = inputStages
	audit.Truncated = outcome.Truncated

	if raw, err := json.Marshal(outcome.Stages); err == nil {
		audit.Pipeline = raw
	}
	if len(outcome.Diagnostics) > 0 {
		if raw, err := json.Marshal(outcome.Diagnostics); err == nil {
			audit.Diagnostics = raw
		}
	}
	return audit
}

// finish records metrics and the audit entry. Audit failures are logged and
// never change the query result.
func (e *Executor) finish(ctx context.Context, audit *domain.QueryAudit) {
	if e.metrics != nil {
		e.metrics.ObserveQuery(audit.Game, string(audit.Status), audit.Duration)
	}
	if e.audit == nil {
		return
	}
	if err := e.audit.RecordQuery(context.WithoutCancel(ctx), audit); err != nil {
		e.logger.ErrorContext(ctx, "failed to record query audit",
			slog.String("game", audit.Game),
			slog.String("audit_id", audit.ID),
			slog.String("error", err.Error()),
		)
	}
}

// Recent returns the latest audit records for a game, newest first. It
// returns an empty list when auditing is disabled.
func (e *Executor) Recent(ctx context.Context, gameID string, limit int) ([]*domain.QueryAudit, error) {
	if _, ok := e.games.Get(gameID); !ok {
		return nil, domain.ErrUnknownGame(gameID)
	}
	if e.audit == nil {
		return []*domain.QueryAudit{}, nil
	}
	switch {
	case limit <= 0:
		limit = defaultAuditPage
	case limit > maxAuditPage:
		limit = maxAuditPage
	}
	records, err := e.audit.ListQueries(ctx, ports.AuditListOptions{Game: gameID, Limit: limit})
	if err != nil {
		return nil, fmt.Errorf("list query audit: %w", err)
	}
	if records == nil {
		records = []*domain.QueryAudit{}
	}
	return records, nil
}
