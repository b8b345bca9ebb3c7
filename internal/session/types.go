package session

import (
	"context"
	"strings"
	"time"
)

// AIIdentity is the reserved pseudo-identity occupying the second seat in
// engine-backed games.
const AIIdentity = "AI"

// Status represents a game session lifecycle state.
type Status string

const (
	// StatusPending: fewer than two occupants have joined.
	StatusPending Status = "PENDING"
	// StatusActive: two occupants, game ongoing.
	StatusActive Status = "ACTIVE"
	// StatusFinished: terminal position reached or a player left for good.
	StatusFinished Status = "FINISHED"
)

// ColorAssignment maps colors to identities. Once both values are set they
// never change for the life of the session.
type ColorAssignment struct {
	White string `json:"white,omitempty"`
	Black string `json:"black,omitempty"`
}

// GameRecord is the persisted state of one game, rehydrated on every cold
// activation of its coordinator. Live connections are not part of it.
type GameRecord struct {
	ID        string          `json:"id"`
	FEN       string          `json:"fen"`
	MovesUCI  []string        `json:"moves_uci"`
	MovesSAN  []string        `json:"moves_san"`
	LastMove  string          `json:"last_move,omitempty"`
	Players   []string        `json:"players"`
	Colors    ColorAssignment `json:"players_color"`
	AI        bool            `json:"ai"`
	Depth     int             `json:"depth,omitempty"`
	Status    Status          `json:"status"`
	Winner    string          `json:"winner,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// HasPlayer reports whether identity occupies a seat.
func (r *GameRecord) HasPlayer(identity string) bool {
	for _, p := range r.Players {
		if p == identity {
			return true
		}
	}
	return false
}

// Humans returns the non-AI participants.
func (r *GameRecord) Humans() []string {
	out := make([]string, 0, len(r.Players))
	for _, p := range r.Players {
		if p != AIIdentity {
			out = append(out, p)
		}
	}
	return out
}

// ColorOf returns "white", "black", or "" for an identity.
func (r *GameRecord) ColorOf(identity string) string {
	switch {
	case identity != "" && r.Colors.White == identity:
		return "white"
	case identity != "" && r.Colors.Black == identity:
		return "black"
	default:
		return ""
	}
}

// identityOfColor is the inverse of ColorOf. color is "white" or "black".
func (r *GameRecord) identityOfColor(color string) string {
	if strings.EqualFold(color, "white") {
		return r.Colors.White
	}
	return r.Colors.Black
}

// Clone deep-copies the record so a move transaction can mutate and persist
// a copy before swapping it in.
func (r *GameRecord) Clone() *GameRecord {
	cp := *r
	cp.MovesUCI = append([]string(nil), r.MovesUCI...)
	cp.MovesSAN = append([]string(nil), r.MovesSAN...)
	cp.Players = append([]string(nil), r.Players...)
	return &cp
}

// GameStore is the coordinator-local durable key/value storage. Load returns
// (nil, nil) for an unknown game.
type GameStore interface {
	Load(ctx context.Context, gameID string) (*GameRecord, error)
	Save(ctx context.Context, rec *GameRecord) error
}

// ResultStore is the slice of the shared relational store the coordinator
// needs for finalization. All calls are best-effort relative to the session's
// own state.
type ResultStore interface {
	SaveGameResult(ctx context.Context, rec *GameRecord, method string) error
	RemoveActiveGame(ctx context.Context, playerID, gameID string) error
	RecordResult(ctx context.Context, playerID, outcome string, moveCount int) error
}

// Recommender asks the external engine for a move.
type Recommender interface {
	BestMove(ctx context.Context, fen string, depth int) (string, error)
}

// Conn is a live transport connection tagged with the identity that opened
// it. Sends are fire-and-forget from the coordinator's point of view.
type Conn interface {
	Identity() string
	Send(ctx context.Context, v any) error
}
