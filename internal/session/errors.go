package session

import "errors"

var (
	ErrGameFull       = errors.New("game already has two players")
	ErrAlreadyJoined  = errors.New("player already joined this game")
	ErrMissingPlayer  = errors.New("player identity required")
	ErrNotParticipant = errors.New("player is not part of this game")
	ErrGameNotActive  = errors.New("game is not active")
	ErrGameFinished   = errors.New("game is already finished")
	ErrNotYourTurn    = errors.New("not your turn")
	ErrInvalidMove    = errors.New("invalid move")
	ErrInvalidDepth   = errors.New("search depth out of range")
	ErrAIMoveFailed   = errors.New("engine move failed")
	ErrPersistence    = errors.New("failed to persist game state")
)
