package analytics

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/tjfontaine/gamestats/internal/config"
	"github.com/tjfontaine/gamestats/internal/core/domain"
	"github.com/tjfontaine/gamestats/internal/core/ports"
	"github.com/tjfontaine/gamestats/internal/games"
	"github.com/tjfontaine/gamestats/internal/pipeline"
	"github.com/tjfontaine/gamestats/internal/storage/memory"
	"github.com/tjfontaine/gamestats/internal/telemetry"
)

// fakeStore records aggregate calls and returns configured results.
type fakeStore struct {
	docs  []map[string]any
	err   error
	calls []aggregateCall
}

type aggregateCall struct {
	collection string
	stages     []pipeline.Stage
}

func (s *fakeStore) EnsureCollections(context.Context, []string) error { return nil }
func (s *fakeStore) Insert(context.Context, string, any) error         { return nil }
func (s *fakeStore) Ping(context.Context) error                        { return nil }
func (s *fakeStore) Close(context.Context) error                       { return nil }

func (s *fakeStore) Aggregate(_ context.Context, collection string, stages []pipeline.Stage) ([]map[string]any, error) {
	s.calls = append(s.calls, aggregateCall{collection: collection, stages: stages})
	return s.docs, s.err
}

var _ ports.DocumentStore = (*fakeStore)(nil)

// failingAudit rejects every write.
type failingAudit struct{ memory.Store }

func (*failingAudit) RecordQuery(context.Context, *domain.QueryAudit) error {
	return errors.New("disk full")
}

type fixture struct {
	exec    *Executor
	store   *fakeStore
	audit   *memory.Store
	metrics *telemetry.Metrics
}

func newFixture(t *testing.T, store *fakeStore) *fixture {
	t.Helper()

	metrics := telemetry.NewMetrics(prometheus.NewRegistry())
	registry, err := games.NewRegistry(
		[]config.GameConfig{
			{ID: "chess", Name: "Chess"},
			{ID: "snake", Name: "Snake", Policy: "locked"},
		},
		map[string]config.PolicyConfig{"locked": {Strict: true}},
		pipeline.WithSink(metrics.SanitizerSink()),
	)
	if err != nil {
		t.Fatalf("NewRegistry() error = %v", err)
	}

	audit := memory.New()
	exec := NewExecutor(registry, store,
		WithAuditStore(audit),
		WithMetrics(metrics),
		WithLogger(slog.New(slog.NewJSONHandler(io.Discard, nil))),
	)
	return &fixture{exec: exec, store: store, audit: audit, metrics: metrics}
}

func mustStages(t *testing.T, raw string) []pipeline.Stage {
	t.Helper()
	var stages []pipeline.Stage
	if err := json.Unmarshal([]byte(raw), &stages); err != nil {
		t.Fatalf("unmarshal stages: %v", err)
	}
	return stages
}

func stagesJSON(t *testing.T, stages []pipeline.Stage) string {
	t.Helper()
	b, err := json.Marshal(stages)
	if err != nil {
		t.Fatalf("marshal stages: %v", err)
	}
	return string(b)
}

func TestExecutor_Execute(t *testing.T) {
	store := &fakeStore{docs: []map[string]any{{"_id": "p-1", "total": 3}}}
	f := newFixture(t, store)

	result, err := f.exec.Execute(context.Background(), "chess", "events",
		mustStages(t, `[{"$match":{"type":"win"}},{"$out":"stolen"},{"$group":{"_id":"$player_id","total":{"$sum":1}}}]`))
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	if len(store.calls) != 1 {
		t.Fatalf("Aggregate calls = %d, want 1", len(store.calls))
	}
	if store.calls[0].collection != "chess_events" {
		t.Errorf("collection = %q, want chess_events", store.calls[0].collection)
	}

	want := `[{"$match":{"type":"win"}},{"$group":{"_id":"$player_id","total":{"$sum":1}}},{"limit":10000}]`
	if got := stagesJSON(t, store.calls[0].stages); got != want {
		t.Errorf("store saw %s, want %s", got, want)
	}
	if got := stagesJSON(t, result.Stages); got != want {
		t.Errorf("result stages %s, want %s", got, want)
	}

	if diff := cmp.Diff(store.docs, result.Documents); diff != "" {
		t.Errorf("Documents mismatch (-want +got):\n%s", diff)
	}

	var reasons []pipeline.Reason
	for _, d := range result.Diagnostics {
		reasons = append(reasons, d.Reason)
	}
	if diff := cmp.Diff([]pipeline.Reason{pipeline.ReasonDangerous, pipeline.ReasonGroupLimitInjected}, reasons); diff != "" {
		t.Errorf("Diagnostics mismatch (-want +got):\n%s", diff)
	}

	if got := testutil.ToFloat64(f.metrics.Queries.WithLabelValues("chess", "completed")); got != 1 {
		t.Errorf("completed queries = %v, want 1", got)
	}
	if got := testutil.ToFloat64(f.metrics.SanitizerActions.WithLabelValues("out", "dangerous")); got != 1 {
		t.Errorf("dangerous actions = %v, want 1", got)
	}

	records, err := f.exec.Recent(context.Background(), "chess", 0)
	if err != nil {
		t.Fatalf("Recent() error = %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("audit records = %d, want 1", len(records))
	}
	rec := records[0]
	if rec.Status != domain.QueryStatusCompleted || rec.ResultCount != 1 || rec.InputStages != 3 || rec.Collection != "events" {
		t.Errorf("audit record = %+v", rec)
	}
	if string(rec.Pipeline) != want {
		t.Errorf("audit pipeline = %s, want %s", rec.Pipeline, want)
	}
}

func TestExecutor_EmptyResultIsNotNil(t *testing.T) {
	f := newFixture(t, &fakeStore{})

	result, err := f.exec.Execute(context.Background(), "chess", "scores", nil)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if result.Documents == nil {
		t.Error("Documents should be an empty slice")
	}
	if got := stagesJSON(t, f.store.calls[0].stages); got != `[{"limit":1000}]` {
		t.Errorf("store saw %s", got)
	}
}

func TestExecutor_UpstreamFailure(t *testing.T) {
	cause := errors.New("connection reset by peer")
	f := newFixture(t, &fakeStore{err: cause})

	_, err := f.exec.Execute(context.Background(), "chess", "events", mustStages(t, `[{"$limit":5}]`))

	var execErr *ExecutionError
	if !errors.As(err, &execErr) {
		t.Fatalf("error = %v, want *ExecutionError", err)
	}
	if !errors.Is(err, cause) {
		t.Error("ExecutionError should unwrap to the store error")
	}
	if execErr.Game != "chess" || execErr.Collection != "events" {
		t.Errorf("ExecutionError = %+v", execErr)
	}
	if len(f.store.calls) != 1 {
		t.Errorf("Aggregate calls = %d, want exactly 1 (no retries)", len(f.store.calls))
	}

	if got := testutil.ToFloat64(f.metrics.Queries.WithLabelValues("chess", "failed")); got != 1 {
		t.Errorf("failed queries = %v, want 1", got)
	}
	records, _ := f.exec.Recent(context.Background(), "chess", 10)
	if len(records) != 1 || records[0].Status != domain.QueryStatusFailed || records[0].Error != cause.Error() {
		t.Errorf("audit records = %+v", records)
	}
}

func TestExecutor_StrictPolicy(t *testing.T) {
	t.Run("rejects violations", func(t *testing.T) {
		f := newFixture(t, &fakeStore{})

		_, err := f.exec.Execute(context.Background(), "snake", "scores", mustStages(t, `[{"$limit":5000}]`))
		if !pipeline.IsRejected(err) {
			t.Fatalf("error = %v, want *pipeline.RejectedError", err)
		}
		if len(f.store.calls) != 0 {
			t.Error("rejected pipeline must not reach the store")
		}
		records, _ := f.exec.Recent(context.Background(), "snake", 10)
		if len(records) != 1 || records[0].Status != domain.QueryStatusRejected {
			t.Errorf("audit records = %+v", records)
		}
	})

	t.Run("allows pipelines that only gain bounds", func(t *testing.T) {
		f := newFixture(t, &fakeStore{})

		_, err := f.exec.Execute(context.Background(), "snake", "scores", mustStages(t, `[{"$match":{}}]`))
		if err != nil {
			t.Fatalf("Execute() error = %v", err)
		}
		if got := stagesJSON(t, f.store.calls[0].stages); got != `[{"$match":{}},{"limit":1000}]` {
			t.Errorf("store saw %s", got)
		}
	})
}

func TestExecutor_InvalidTarget(t *testing.T) {
	tests := []struct {
		name       string
		game       string
		collection string
		wantCode   domain.ErrorCode
	}{
		{name: "unknown game", game: "pong", collection: "events", wantCode: domain.ErrorCodeUnknownGame},
		{name: "unknown collection", game: "chess", collection: "users", wantCode: domain.ErrorCodeUnknownCollection},
		{name: "physical collection name", game: "chess", collection: "snake_events", wantCode: domain.ErrorCodeUnknownCollection},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, &fakeStore{})

			_, err := f.exec.Execute(context.Background(), tt.game, tt.collection, nil)
			var apiErr *domain.APIError
			if !errors.As(err, &apiErr) {
				t.Fatalf("error = %v, want *domain.APIError", err)
			}
			if apiErr.Code != tt.wantCode {
				t.Errorf("Code = %v, want %v", apiErr.Code, tt.wantCode)
			}
			if len(f.store.calls) != 0 {
				t.Error("store should not be called")
			}
		})
	}
}

func TestExecutor_AuditFailureDoesNotFailQuery(t *testing.T) {
	store := &fakeStore{docs: []map[string]any{{"n": 1}}}
	registry, err := games.NewRegistry([]config.GameConfig{{ID: "chess"}}, nil)
	if err != nil {
		t.Fatalf("NewRegistry() error = %v", err)
	}
	exec := NewExecutor(registry, store,
		WithAuditStore(&failingAudit{}),
		WithLogger(slog.New(slog.NewJSONHandler(io.Discard, nil))),
	)

	result, err := exec.Execute(context.Background(), "chess", "events", nil)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if len(result.Documents) != 1 {
		t.Errorf("Documents = %v", result.Documents)
	}
}

func TestExecutor_Recent(t *testing.T) {
	f := newFixture(t, &fakeStore{})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := f.exec.Execute(ctx, "chess", "events", nil); err != nil {
			t.Fatalf("Execute() error = %v", err)
		}
	}
	if _, err := f.exec.Execute(ctx, "snake", "events", nil); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	records, err := f.exec.Recent(ctx, "chess", 2)
	if err != nil {
		t.Fatalf("Recent() error = %v", err)
	}
	if len(records) != 2 {
		t.Errorf("Recent() returned %d records, want 2", len(records))
	}
	for _, r := range records {
		if r.Game != "chess" {
			t.Errorf("record for %q leaked into chess history", r.Game)
		}
	}

	if _, err := f.exec.Recent(ctx, "pong", 2); err == nil {
		t.Error("Recent() for unknown game should fail")
	}

	registry, err := games.NewRegistry([]config.GameConfig{{ID: "chess"}}, nil)
	if err != nil {
		t.Fatalf("NewRegistry() error = %v", err)
	}
	noAudit := NewExecutor(registry, &fakeStore{})
	records, err = noAudit.Recent(ctx, "chess", 5)
	if err != nil || len(records) != 0 || records == nil {
		t.Errorf("Recent() without audit store = %v, %v", records, err)
	}
}
