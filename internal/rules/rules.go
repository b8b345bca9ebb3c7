// Package rules wraps the move-legality engine behind the small surface the
// session coordinator needs: apply a proposed move to a position, ask whose
// turn it is, and detect terminal positions. Positions travel as FEN strings;
// "startpos" (or empty) means the initial position.
package rules

import (
	"errors"
	"fmt"
	"strings"

	nchess "github.com/corentings/chess/v2"
)

// ErrIllegalMove is returned when the engine rejects a proposed move. The
// position is never mutated on rejection.
var ErrIllegalMove = errors.New("illegal move")

// StartPos is the sentinel FEN for the initial position.
const StartPos = "startpos"

// Applied describes one successfully applied move.
type Applied struct {
	FEN       string
	UCI       string
	SAN       string
	From      string
	To        string
	GameOver  bool
	Checkmate bool
}

// Apply validates moveStr against the position in fen and returns the
// resulting position. UCI notation is tried first, SAN as a fallback
// (engine-recommended moves arrive as UCI, humans may send either).
func Apply(fen, moveStr string) (*Applied, error) {
	game, err := reconstruct(fen)
	if err != nil {
		return nil, err
	}
	pos := game.Position()

	raw := strings.TrimSpace(moveStr)
	if raw == "" {
		return nil, ErrIllegalMove
	}

	var mv *nchess.Move
	if decoded, derr := (nchess.UCINotation{}).Decode(pos, strings.ToLower(raw)); derr == nil {
		if err := game.Move(decoded, nil); err != nil {
			return nil, ErrIllegalMove
		}
		mv = decoded
	} else {
		if err := game.PushNotationMove(raw, nchess.AlgebraicNotation{}, nil); err != nil {
			return nil, ErrIllegalMove
		}
		moves := game.Moves()
		if len(moves) == 0 {
			return nil, ErrIllegalMove
		}
		mv = moves[len(moves)-1]
	}

	return &Applied{
		FEN:       game.FEN(),
		UCI:       mv.String(),
		SAN:       nchess.AlgebraicNotation{}.Encode(pos, mv),
		From:      mv.S1().String(),
		To:        mv.S2().String(),
		GameOver:  game.Outcome() != nchess.NoOutcome,
		Checkmate: game.Method() == nchess.Checkmate,
	}, nil
}

// StartingFEN returns the full FEN of the initial position.
func StartingFEN() string {
	return nchess.NewGame().FEN()
}

// SideToMove returns "w" or "b" for the position in fen.
func SideToMove(fen string) (string, error) {
	game, err := reconstruct(fen)
	if err != nil {
		return "", err
	}
	return strings.ToLower(game.Position().Turn().String()), nil
}

// IsGameOver reports whether fen is a terminal position.
func IsGameOver(fen string) (bool, error) {
	game, err := reconstruct(fen)
	if err != nil {
		return false, err
	}
	return game.Outcome() != nchess.NoOutcome, nil
}

// IsCheckmate reports whether fen is a checkmate position.
func IsCheckmate(fen string) (bool, error) {
	game, err := reconstruct(fen)
	if err != nil {
		return false, err
	}
	return game.Method() == nchess.Checkmate, nil
}

// Winner returns "white" or "black" when fen is a checkmate position (the
// side not to move has delivered mate), or "" for any non-decisive position.
func Winner(fen string) (string, error) {
	game, err := reconstruct(fen)
	if err != nil {
		return "", err
	}
	if game.Method() != nchess.Checkmate {
		return "", nil
	}
	if game.Position().Turn() == nchess.White {
		return "black", nil
	}
	return "white", nil
}

// Board returns the piece placement for rendering.
func Board(fen string) (*nchess.Board, error) {
	game, err := reconstruct(fen)
	if err != nil {
		return nil, err
	}
	return game.Position().Board(), nil
}

func reconstruct(fen string) (*nchess.Game, error) {
	fen = strings.TrimSpace(fen)
	if fen == "" || fen == StartPos {
		return nchess.NewGame(), nil
	}
	option, err := nchess.FEN(fen)
	if err != nil {
		return nil, fmt.Errorf("parse fen %q: %w", fen, err)
	}
	return nchess.NewGame(option), nil
}
