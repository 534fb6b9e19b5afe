package server

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tjfontaine/gamestats/internal/analytics"
	"github.com/tjfontaine/gamestats/internal/core/domain"
	"github.com/tjfontaine/gamestats/internal/core/ports"
	"github.com/tjfontaine/gamestats/internal/games"
	"github.com/tjfontaine/gamestats/internal/ingest"
	"github.com/tjfontaine/gamestats/internal/pipeline"
	"github.com/tjfontaine/gamestats/internal/telemetry"
)

const defaultMaxBodyBytes = 1 << 20

// Handler serves the game and analytics API.
type Handler struct {
	games    *games.Registry
	store    ports.DocumentStore
	executor *analytics.Executor
	metrics  *telemetry.Metrics
	gatherer prometheus.Gatherer
	maxBody  int64
	logger   *slog.Logger
	now      func() time.Time
}

// HandlerConfig wires a Handler's collaborators.
type HandlerConfig struct {
	Games    *games.Registry
	Store    ports.DocumentStore
	Executor *analytics.Executor
	Metrics  *telemetry.Metrics  // Optional
	Gatherer prometheus.Gatherer // Optional: served at /metrics
	MaxBody  int64
	Logger   *slog.Logger
}

func NewHandler(cfg HandlerConfig) *Handler {
	maxBody := cfg.MaxBody
	if maxBody <= 0 {
		maxBody = defaultMaxBodyBytes
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		games:    cfg.Games,
		store:    cfg.Store,
		executor: cfg.Executor,
		metrics:  cfg.Metrics,
		gatherer: cfg.Gatherer,
		maxBody:  maxBody,
		logger:   logger,
		now:      time.Now,
	}
}

// Register mounts every route on r.
func (h *Handler) Register(r chi.Router) {
	r.Get("/healthz", h.HandleHealth)
	if h.gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/v1/games", func(r chi.Router) {
		r.Get("/", h.HandleListGames)
		r.Route("/{game}", func(r chi.Router) {
			r.Post("/events", h.HandleIngestEvent)
			r.Post("/scores", h.HandleIngestScore)
			r.Post("/analytics/query", h.HandleQuery)
			r.Get("/analytics/audit", h.HandleAudit)
		})
	})
}

func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := h.store.Ping(ctx); err != nil {
		AddError(r.Context(), err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type listGamesResponse struct {
	Games []domain.GameInfo `json:"games"`
}

func (h *Handler) HandleListGames(w http.ResponseWriter, r *http.Request) {
	list := h.games.List()
	resp := listGamesResponse{Games: make([]domain.GameInfo, len(list))}
	for i, g := range list {
		resp.Games[i] = g.Info()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) HandleIngestEvent(w http.ResponseWriter, r *http.Request) {
	game, ok := h.lookupGame(w, r)
	if !ok {
		return
	}
	body, err := h.readBody(w, r)
	if err != nil {
		WriteError(w, r, err)
		return
	}

	event, err := ingest.Event(game.ID, body, h.now())
	if err != nil {
		WriteError(w, r, err)
		return
	}
	if !h.insert(w, r, game, games.KindEvents, event) {
		return
	}
	AddLogField(r.Context(), "event_id", event.ID)
	writeJSON(w, http.StatusCreated, event)
}

func (h *Handler) HandleIngestScore(w http.ResponseWriter, r *http.Request) {
	game, ok := h.lookupGame(w, r)
	if !ok {
		return
	}
	body, err := h.readBody(w, r)
	if err != nil {
		WriteError(w, r, err)
		return
	}

	score, err := ingest.Score(game.ID, body, h.now())
	if err != nil {
		WriteError(w, r, err)
		return
	}
	if !h.insert(w, r, game, games.KindScores, score) {
		return
	}
	AddLogField(r.Context(), "score_id", score.ID)
	writeJSON(w, http.StatusCreated, score)
}

func (h *Handler) insert(w http.ResponseWriter, r *http.Request, game *games.Game, kind games.Kind, doc any) bool {
	if err := h.store.Insert(r.Context(), game.Collection(kind), doc); err != nil {
		AddError(r.Context(), err)
		if errors.Is(err, context.DeadlineExceeded) {
			WriteError(w, r, domain.ErrTimeout("insert exceeded the request deadline"))
		} else {
			WriteError(w, r, domain.ErrUpstream("failed to store document"))
		}
		return false
	}
	if h.metrics != nil {
		h.metrics.Ingested.WithLabelValues(game.ID, string(kind)).Inc()
	}
	return true
}

type queryResponse struct {
	Results     []map[string]any      `json:"results"`
	Count       int                   `json:"count"`
	Pipeline    []pipeline.Stage      `json:"pipeline"`
	Diagnostics []pipeline.Diagnostic `json:"diagnostics"`
	Truncated   int                   `json:"truncated"`
}

func (h *Handler) HandleQuery(w http.ResponseWriter, r *http.Request) {
	gameID := chi.URLParam(r, "game")
	AddLogField(r.Context(), "game", gameID)

	body, err := h.readBody(w, r)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	collection, stages, err := decodeQuery(body)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	AddLogField(r.Context(), "collection", collection)

	result, err := h.executor.Execute(r.Context(), gameID, collection, stages)
	if err != nil {
		WriteError(w, r, err)
		return
	}

	diagnostics := result.Diagnostics
	if diagnostics == nil {
		diagnostics = []pipeline.Diagnostic{}
	}
	AddLogField(r.Context(), "result_count", strconv.Itoa(len(result.Documents)))
	writeJSON(w, http.StatusOK, queryResponse{
		Results:     result.Documents,
		Count:       len(result.Documents),
		Pipeline:    result.Stages,
		Diagnostics: diagnostics,
		Truncated:   result.Truncated,
	})
}

// decodeQuery reads {"collection": ..., "pipeline": [...]} keeping the field
// order of every stage. Array elements that are not objects become empty
// stages so the sanitizer drops them as malformed.
func decodeQuery(body []byte) (string, []pipeline.Stage, error) {
	doc, err := pipeline.ParseDocument(body)
	if err != nil {
		return "", nil, domain.ErrInvalidRequest("request body must be a JSON object").
			WithCode(domain.ErrorCodeInvalidBody)
	}

	rawCollection, ok := doc.Get("collection")
	if !ok {
		return "", nil, domain.ErrMissingField("collection")
	}
	collection, ok := rawCollection.(string)
	if !ok || collection == "" {
		return "", nil, domain.ErrInvalidRequest("collection must be a non-empty string").
			WithCode(domain.ErrorCodeInvalidBody).
			WithParam("collection")
	}

	rawPipeline, ok := doc.Get("pipeline")
	if !ok {
		return "", nil, domain.ErrMissingField("pipeline")
	}
	elems, ok := pipeline.AsArray(rawPipeline)
	if !ok {
		return "", nil, domain.ErrInvalidRequest("pipeline must be an array of stages").
			WithCode(domain.ErrorCodeInvalidBody).
			WithParam("pipeline")
	}

	stages := make([]pipeline.Stage, len(elems))
	for i, elem := range elems {
		if d, ok := elem.(pipeline.Document); ok {
			stages[i] = pipeline.Stage(d)
		} else {
			stages[i] = pipeline.Stage{}
		}
	}
	return collection, stages, nil
}

type auditResponse struct {
	Queries []*domain.QueryAudit `json:"queries"`
}

func (h *Handler) HandleAudit(w http.ResponseWriter, r *http.Request) {
	gameID := chi.URLParam(r, "game")
	AddLogField(r.Context(), "game", gameID)

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			WriteError(w, r, domain.ErrInvalidRequest("limit must be a positive integer").WithParam("limit"))
			return
		}
		limit = n
	}

	records, err := h.executor.Recent(r.Context(), gameID, limit)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, auditResponse{Queries: records})
}

func (h *Handler) lookupGame(w http.ResponseWriter, r *http.Request) (*games.Game, bool) {
	id := chi.URLParam(r, "game")
	AddLogField(r.Context(), "game", id)
	game, ok := h.games.Get(id)
	if !ok {
		WriteError(w, r, domain.ErrUnknownGame(id))
		return nil, false
	}
	return game, true
}

func (h *Handler) readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, domain.ErrInvalidRequest("request body too large").
				WithCode(domain.ErrorCodeInvalidBody).
				WithStatusCode(http.StatusRequestEntityTooLarge)
		}
		return nil, domain.ErrInvalidRequest("failed to read request body").
			WithCode(domain.ErrorCodeInvalidBody)
	}
	return body, nil
}
