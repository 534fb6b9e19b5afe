package domain

import "time"

// Event is a gameplay event reported by a client.
type Event struct {
	ID        string         `json:"id" bson:"_id"`
	Game      string         `json:"game" bson:"game"`
	Type      string         `json:"type" bson:"type"`
	PlayerID  string         `json:"player_id" bson:"player_id"`
	Payload   map[string]any `json:"payload,omitempty" bson:"payload,omitempty"`
	Timestamp time.Time      `json:"timestamp" bson:"timestamp"`
	CreatedAt time.Time      `json:"created_at" bson:"created_at"`
}

// Score is a single result posted for a player.
type Score struct {
	ID        string    `json:"id" bson:"_id"`
	Game      string    `json:"game" bson:"game"`
	PlayerID  string    `json:"player_id" bson:"player_id"`
	Score     float64   `json:"score" bson:"score"`
	Mode      string    `json:"mode,omitempty" bson:"mode,omitempty"`
	CreatedAt time.Time `json:"created_at" bson:"created_at"`
}

// GameInfo is the public description of a configured game.
type GameInfo struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Policy      string   `json:"policy"`
	Strict      bool     `json:"strict"`
	Collections []string `json:"collections"`
}
