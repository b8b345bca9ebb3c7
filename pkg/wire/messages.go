// Package wire defines the JSON message protocol spoken between clients and
// a game session. Every message carries a message_type discriminator; inbound
// payloads are validated on receipt and unknown shapes rejected.
package wire

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Message type discriminators.
const (
	// Client → session.
	TypeMove          = "move"
	TypePlayerMessage = "player_message"

	// Session → client. TypeMove is reused for the opponent-facing
	// move broadcast.
	TypeGameState    = "game-state"
	TypeConfirmation = "confirmation"
	TypePlayerLeft   = "player-left"
	TypeError        = "error"
)

// MovePayload is the move a client proposes. Promotion is optional and, when
// present, is the lowercase piece letter appended to the UCI string.
type MovePayload struct {
	From      string `json:"from"`
	To        string `json:"to"`
	Promotion string `json:"promotion,omitempty"`
}

// UCI renders the payload as a UCI move string.
func (m MovePayload) UCI() string {
	return strings.ToLower(m.From + m.To + m.Promotion)
}

// ClientMessage is the validated tagged union of client-originated messages.
type ClientMessage struct {
	MessageType string       `json:"message_type"`
	PlayerID    string       `json:"playerID,omitempty"`
	Move        *MovePayload `json:"move,omitempty"`

	// Raw carries the full original payload for opaque relay messages.
	Raw json.RawMessage `json:"-"`
}

// DecodeClientMessage parses and validates one inbound message.
func DecodeClientMessage(raw []byte) (*ClientMessage, error) {
	var msg ClientMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, fmt.Errorf("malformed message: %w", err)
	}
	switch msg.MessageType {
	case TypeMove:
		if msg.Move == nil || strings.TrimSpace(msg.Move.From) == "" || strings.TrimSpace(msg.Move.To) == "" {
			return nil, fmt.Errorf("move message missing move payload")
		}
	case TypePlayerMessage:
		// Opaque to the session; relayed as received.
	default:
		return nil, fmt.Errorf("unknown message_type %q", msg.MessageType)
	}
	msg.Raw = append(json.RawMessage(nil), raw...)
	return &msg, nil
}

// MoveSquares is the from/to pair echoed on move broadcasts.
type MoveSquares struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// GameState is the standardized session snapshot sent on connect, move
// confirmation, and move broadcast.
type GameState struct {
	MessageType string       `json:"message_type"`
	FEN         string       `json:"fen"`
	Color       string       `json:"color,omitempty"`
	Turn        string       `json:"turn"`
	GameOver    bool         `json:"game_over"`
	Checkmate   bool         `json:"checkmate"`
	Players     []string     `json:"players"`
	Move        *MoveSquares `json:"move,omitempty"`
}

// PlayerLeft notifies remaining participants that an opponent has left the
// game for good (an explicit leave, not a transport drop).
type PlayerLeft struct {
	MessageType string `json:"message_type"`
	PlayerID    string `json:"playerID"`
}

// ErrorMessage is the uniform error envelope for both the HTTP and the
// real-time path.
type ErrorMessage struct {
	MessageType string `json:"message_type"`
	Error       string `json:"error"`
}

// Errorf builds an error envelope.
func Errorf(format string, args ...any) ErrorMessage {
	return ErrorMessage{MessageType: TypeError, Error: fmt.Sprintf(format, args...)}
}
