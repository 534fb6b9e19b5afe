package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/tjfontaine/gamestats/internal/analytics"
	"github.com/tjfontaine/gamestats/internal/core/domain"
	"github.com/tjfontaine/gamestats/internal/pipeline"
)

// ToCanonicalError converts any error to a domain.APIError.
// Store failures become a single generic upstream error; the cause is kept
// for the request log only.
func ToCanonicalError(err error) *domain.APIError {
	var apiErr *domain.APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}

	var rejected *pipeline.RejectedError
	if errors.As(err, &rejected) {
		return domain.ErrRejected(rejected.Error())
	}

	var execErr *analytics.ExecutionError
	if errors.As(err, &execErr) {
		if errors.Is(err, context.DeadlineExceeded) {
			return domain.ErrTimeout("analytics query exceeded the request deadline")
		}
		return domain.ErrUpstream("analytics query failed")
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return domain.ErrTimeout("request deadline exceeded")
	}
	return domain.ErrServer("internal server error")
}

type errorBody struct {
	Error *domain.APIError `json:"error"`
}

// WriteError writes err as a JSON error response and attaches it to the
// request log.
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	AddError(r.Context(), err)
	apiErr := ToCanonicalError(err)
	writeJSON(w, apiErr.HTTPStatusCode(), errorBody{Error: apiErr})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
