// Package ingest turns client request bodies into stored event and score
// documents.
package ingest

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/tjfontaine/gamestats/internal/core/domain"
)

const (
	maxPlayerIDLen = 128
	maxTypeLen     = 64
	maxModeLen     = 64
)

type eventRequest struct {
	Type      string          `json:"type"`
	PlayerID  string          `json:"player_id"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp string          `json:"timestamp"`
}

type scoreRequest struct {
	PlayerID string   `json:"player_id"`
	Score    *float64 `json:"score"`
	Mode     string   `json:"mode"`
}

// Event decodes and validates an event body for game. Timestamp defaults to
// now when the client omits it.
func Event(game string, body []byte, now time.Time) (*domain.Event, error) {
	var req eventRequest
	if err := decode(body, &req); err != nil {
		return nil, err
	}

	if err := requireString("type", req.Type, maxTypeLen); err != nil {
		return nil, err
	}
	if err := requireString("player_id", req.PlayerID, maxPlayerIDLen); err != nil {
		return nil, err
	}

	var payload map[string]any
	if len(req.Payload) > 0 && !bytes.Equal(req.Payload, []byte("null")) {
		if err := json.Unmarshal(req.Payload, &payload); err != nil {
			return nil, domain.ErrInvalidRequest("payload must be an object").
				WithCode(domain.ErrorCodeInvalidBody).
				WithParam("payload")
		}
	}

	ts := now
	if req.Timestamp != "" {
		parsed, err := time.Parse(time.RFC3339, req.Timestamp)
		if err != nil {
			return nil, domain.ErrInvalidRequest("timestamp must be RFC3339").
				WithCode(domain.ErrorCodeInvalidBody).
				WithParam("timestamp")
		}
		ts = parsed
	}

	return &domain.Event{
		ID:        uuid.NewString(),
		Game:      game,
		Type:      req.Type,
		PlayerID:  req.PlayerID,
		Payload:   payload,
		Timestamp: ts.UTC(),
		CreatedAt: now.UTC(),
	}, nil
}

// Score decodes and validates a score body for game.
func Score(game string, body []byte, now time.Time) (*domain.Score, error) {
	var req scoreRequest
	if err := decode(body, &req); err != nil {
		return nil, err
	}

	if err := requireString("player_id", req.PlayerID, maxPlayerIDLen); err != nil {
		return nil, err
	}
	if req.Score == nil {
		return nil, domain.ErrMissingField("score")
	}
	if math.IsNaN(*req.Score) || math.IsInf(*req.Score, 0) {
		return nil, domain.ErrInvalidRequest("score must be a finite number").
			WithCode(domain.ErrorCodeInvalidBody).
			WithParam("score")
	}
	if len(req.Mode) > maxModeLen {
		return nil, tooLong("mode", maxModeLen)
	}

	return &domain.Score{
		ID:        uuid.NewString(),
		Game:      game,
		PlayerID:  req.PlayerID,
		Score:     *req.Score,
		Mode:      req.Mode,
		CreatedAt: now.UTC(),
	}, nil
}

func decode(body []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(body))
	if err := dec.Decode(v); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) && typeErr.Field != "" {
			return domain.ErrInvalidRequest(typeErr.Field+" has the wrong type").
				WithCode(domain.ErrorCodeInvalidBody).
				WithParam(typeErr.Field)
		}
		return domain.ErrInvalidRequest("request body must be a JSON object").
			WithCode(domain.ErrorCodeInvalidBody)
	}
	if _, err := dec.Token(); err != io.EOF {
		return domain.ErrInvalidRequest("unexpected data after JSON object").
			WithCode(domain.ErrorCodeInvalidBody)
	}
	return nil
}

func requireString(field, value string, maxLen int) error {
	if strings.TrimSpace(value) == "" {
		return domain.ErrMissingField(field)
	}
	if len(value) > maxLen {
		return tooLong(field, maxLen)
	}
	return nil
}

func tooLong(field string, maxLen int) error {
	return domain.ErrInvalidRequest(fmt.Sprintf("%s exceeds %d bytes", field, maxLen)).
		WithCode(domain.ErrorCodeInvalidBody).
		WithParam(field)
}
