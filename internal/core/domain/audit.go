package domain

import (
	"encoding/json"
	"time"
)

// QueryAudit records one analytics query after sanitization. It stores what
// the client sent, what actually ran, and how it ended.
type QueryAudit struct {
	// ID uniquely identifies this query
	ID string `json:"id"`

	// Game is the game the query ran against
	Game string `json:"game"`

	// Collection is the logical collection name (events or scores)
	Collection string `json:"collection"`

	// InputStages is the number of stages the client submitted
	InputStages int `json:"input_stages"`

	// Pipeline is the sanitized pipeline as JSON
	Pipeline json.RawMessage `json:"pipeline"`

	// Diagnostics lists every sanitizer action as JSON
	Diagnostics json.RawMessage `json:"diagnostics,omitempty"`

	// Truncated is the number of stages dropped by the stage cap
	Truncated int `json:"truncated"`

	Status QueryStatus `json:"status"`

	// Error holds the failure message for failed or rejected queries
	Error string `json:"error,omitempty"`

	ResultCount int `json:"result_count"`

	Duration time.Duration `json:"duration_ns"`

	CreatedAt time.Time `json:"created_at"`
}

// QueryStatus is the terminal state of an analytics query.
type QueryStatus string

const (
	QueryStatusCompleted QueryStatus = "completed"
	QueryStatusFailed    QueryStatus = "failed"
	QueryStatusRejected  QueryStatus = "rejected"
)

// NewQueryAudit creates an audit record stamped with the current time.
func NewQueryAudit(id, game, collection string) *QueryAudit {
	return &QueryAudit{
		ID:         id,
		Game:       game,
		Collection: collection,
		CreatedAt:  time.Now().UTC(),
	}
}
