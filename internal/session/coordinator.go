// Package session implements the per-game coordinator: an in-memory state
// machine that owns one game's authoritative record, serializes all
// operations against it, relays moves between live connections, and drives
// the engine for AI-backed games. State is hydrated lazily from the game
// store and every successful move is persisted before it becomes visible.
package session

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/chesslink/chesslink-server/internal/config"
	"github.com/chesslink/chesslink-server/internal/engine"
	"github.com/chesslink/chesslink-server/internal/obslog"
	"github.com/chesslink/chesslink-server/internal/rules"
	"github.com/chesslink/chesslink-server/pkg/wire"
)

const finalizeTimeout = 10 * time.Second

// Coordinator owns the state of a single game. All exported methods take the
// coordinator mutex, so every operation observes and produces a consistent
// record. Durable writes happen on a cloned record which is swapped in only
// after the store accepts it; a failed write leaves the in-memory state (and
// the position clients see) untouched.
type Coordinator struct {
	id string

	mu        sync.Mutex
	rec       *GameRecord
	hydrated  bool
	finalized bool
	conns     []Conn

	games   GameStore
	results ResultStore
	engine  Recommender
	policy  config.ColorPolicy
	logger  *zap.Logger
}

func newCoordinator(id string, deps Deps) *Coordinator {
	logger := deps.Logger
	if logger == nil {
		logger = obslog.L()
	}
	return &Coordinator{
		id:      id,
		games:   deps.Games,
		results: deps.Results,
		engine:  deps.Engine,
		policy:  deps.Policy,
		logger:  logger.With(zap.String("game_id", id)),
	}
}

// ID returns the game identifier this coordinator serves.
func (c *Coordinator) ID() string { return c.id }

func (c *Coordinator) hydrateLocked(ctx context.Context) error {
	if c.hydrated {
		return nil
	}
	rec, err := c.games.Load(ctx, c.id)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	if rec == nil {
		now := time.Now().UTC()
		rec = &GameRecord{
			ID:        c.id,
			FEN:       rules.StartingFEN(),
			Status:    StatusPending,
			CreatedAt: now,
			UpdatedAt: now,
		}
	}
	c.rec = rec
	c.hydrated = true
	if rec.Status == StatusFinished {
		c.finalized = true
	}
	return nil
}

// Join seats identity in the game, creating the record on first contact.
// Joining an already-occupied seat is idempotent. When the first joiner asks
// for an AI opponent the reserved AI identity takes the second seat
// immediately and depth is validated up front, before any engine traffic.
func (c *Coordinator) Join(ctx context.Context, identity string, wantAI bool, depth int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.joinLocked(ctx, identity, wantAI, depth)
}

func (c *Coordinator) joinLocked(ctx context.Context, identity string, wantAI bool, depth int) error {
	if identity == "" || identity == AIIdentity {
		return ErrMissingPlayer
	}
	if err := c.hydrateLocked(ctx); err != nil {
		return err
	}
	if c.rec.HasPlayer(identity) {
		return ErrAlreadyJoined
	}
	if len(c.rec.Players) >= 2 {
		return ErrGameFull
	}

	cur := c.rec.Clone()
	cur.Players = append(cur.Players, identity)
	if wantAI && len(cur.Players) == 1 {
		if depth < engine.MinDepth || depth > engine.MaxDepth {
			return ErrInvalidDepth
		}
		cur.AI = true
		cur.Depth = depth
		cur.Players = append(cur.Players, AIIdentity)
	}
	if len(cur.Players) >= 2 {
		cur.Status = StatusActive
	} else {
		cur.Status = StatusPending
	}
	cur.UpdatedAt = time.Now().UTC()

	if err := c.games.Save(ctx, cur); err != nil {
		c.logger.Error("join: failed to persist", zap.Error(err))
		return fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	c.rec = cur

	c.logger.Info("player joined",
		zap.String("player", identity),
		zap.Bool("ai", cur.AI),
		zap.String("status", string(cur.Status)))
	return nil
}

// Connect joins identity if needed, assigns a color per the configured
// policy, registers the connection, and pushes the current snapshot to it.
// A connection from a third identity on a full game is refused.
func (c *Coordinator) Connect(ctx context.Context, conn Conn, wantAI bool, depth int) (*wire.GameState, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	identity := conn.Identity()
	if err := c.joinLocked(ctx, identity, wantAI, depth); err != nil && !errors.Is(err, ErrAlreadyJoined) {
		return nil, err
	}

	if err := c.assignColorsLocked(ctx, identity); err != nil {
		return nil, err
	}

	c.conns = append(c.conns, conn)

	st := c.stateLocked(identity, wire.TypeGameState, nil)
	if err := conn.Send(ctx, st); err != nil {
		c.logger.Warn("connect: snapshot send failed", zap.String("player", identity), zap.Error(err))
	}
	return st, nil
}

// assignColorsLocked gives identity a color if it has none. Assignments are
// persisted and never change once both seats are colored.
func (c *Coordinator) assignColorsLocked(ctx context.Context, identity string) error {
	if c.rec.ColorOf(identity) != "" {
		return nil
	}

	cur := c.rec.Clone()
	switch {
	case cur.Colors.White == "" && cur.Colors.Black == "":
		cur.Colors.White = identity
		if cur.AI {
			// the engine only ever answers a human move, so it must
			// hold black; AI games skip the coin flip
			cur.Colors.Black = AIIdentity
		}
	case cur.Colors.Black == "":
		cur.Colors.Black = identity
		if !cur.AI && c.policy == config.ColorPolicyRandom && coinFlip() {
			cur.Colors.White, cur.Colors.Black = cur.Colors.Black, cur.Colors.White
		}
	case cur.Colors.White == "":
		cur.Colors.White = identity
	default:
		return nil
	}
	cur.UpdatedAt = time.Now().UTC()

	if err := c.games.Save(ctx, cur); err != nil {
		c.logger.Error("color assignment: failed to persist", zap.Error(err))
		return fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	c.rec = cur

	c.logger.Info("colors assigned",
		zap.String("white", cur.Colors.White),
		zap.String("black", cur.Colors.Black))
	return nil
}

func coinFlip() bool {
	var b [1]byte
	if _, err := rand.Read(b[:]); err != nil {
		return false
	}
	return b[0]&1 == 1
}

// SubmitMove validates and applies identity's move, persists the new
// position, confirms to the mover, and either broadcasts the move to the
// opponent or answers with the engine's reply in AI games. Failures before
// the persist point leave the game untouched; the returned error is for the
// submitter only.
func (c *Coordinator) SubmitMove(ctx context.Context, identity string, mv wire.MovePayload) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.hydrateLocked(ctx); err != nil {
		return err
	}
	switch c.rec.Status {
	case StatusFinished:
		return ErrGameFinished
	case StatusActive:
	default:
		return ErrGameNotActive
	}
	if !c.rec.HasPlayer(identity) {
		return ErrNotParticipant
	}

	turn, err := rules.SideToMove(c.rec.FEN)
	if err != nil {
		return err
	}
	if c.rec.ColorOf(identity) != colorName(turn) {
		return ErrNotYourTurn
	}

	applied, err := c.applyAndSaveLocked(ctx, mv.UCI())
	if err != nil {
		return err
	}

	c.sendTo(ctx, identity, c.stateLocked(identity, wire.TypeConfirmation, nil))

	move := &wire.MoveSquares{From: applied.From, To: applied.To}
	if c.rec.Status == StatusFinished {
		c.sendOthers(ctx, identity, c.stateForOpponent(identity, wire.TypeMove, move))
		c.finalizeLocked(finishMethod(applied))
		return nil
	}

	if c.rec.AI {
		return c.engineTurnLocked(ctx, identity)
	}

	c.sendOthers(ctx, identity, c.stateForOpponent(identity, wire.TypeMove, move))
	return nil
}

// applyAndSaveLocked runs one move through the rules adapter, persists the
// mutated clone, and swaps it in. ErrInvalidMove is returned verbatim so
// callers can distinguish rule rejections from storage failures.
func (c *Coordinator) applyAndSaveLocked(ctx context.Context, moveStr string) (*rules.Applied, error) {
	applied, err := rules.Apply(c.rec.FEN, moveStr)
	if err != nil {
		if errors.Is(err, rules.ErrIllegalMove) {
			return nil, fmt.Errorf("%w: %s", ErrInvalidMove, moveStr)
		}
		return nil, err
	}

	cur := c.rec.Clone()
	cur.FEN = applied.FEN
	cur.MovesUCI = append(cur.MovesUCI, applied.UCI)
	cur.MovesSAN = append(cur.MovesSAN, applied.SAN)
	cur.LastMove = applied.UCI
	cur.UpdatedAt = time.Now().UTC()
	if applied.GameOver {
		cur.Status = StatusFinished
		if applied.Checkmate {
			if winner, werr := rules.Winner(applied.FEN); werr == nil {
				cur.Winner = cur.identityOfColor(winner)
			}
		}
	}

	if err := c.games.Save(ctx, cur); err != nil {
		c.logger.Error("move: failed to persist", zap.String("move", applied.UCI), zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	c.rec = cur
	return applied, nil
}

// engineTurnLocked asks the recommender for a reply to the current position
// and applies it as the AI seat's move. The human mover's confirmation has
// already been delivered; an engine failure here reaches them as an error.
func (c *Coordinator) engineTurnLocked(ctx context.Context, human string) error {
	if c.engine == nil {
		return ErrAIMoveFailed
	}

	best, err := c.engine.BestMove(ctx, c.rec.FEN, c.rec.Depth)
	if err != nil {
		c.logger.Error("engine recommendation failed", zap.Int("depth", c.rec.Depth), zap.Error(err))
		return fmt.Errorf("%w: %v", ErrAIMoveFailed, err)
	}

	applied, err := c.applyAndSaveLocked(ctx, best)
	if err != nil {
		if errors.Is(err, ErrInvalidMove) {
			c.logger.Error("engine returned unplayable move", zap.String("move", best))
			return fmt.Errorf("%w: unplayable recommendation %s", ErrAIMoveFailed, best)
		}
		return err
	}

	c.sendTo(ctx, human, c.stateLocked(human, wire.TypeGameState,
		&wire.MoveSquares{From: applied.From, To: applied.To}))

	if c.rec.Status == StatusFinished {
		c.finalizeLocked(finishMethod(applied))
	}
	return nil
}

// finishMethod names how a move-terminated game ended. Anything terminal
// that is not mate (stalemate, insufficient material, repetition) is a draw.
func finishMethod(applied *rules.Applied) string {
	if applied.Checkmate {
		return "checkmate"
	}
	return "draw"
}

// Relay forwards an opaque client payload to every other live connection.
func (c *Coordinator) Relay(ctx context.Context, from string, raw []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, conn := range c.conns {
		if conn.Identity() == from {
			continue
		}
		if err := conn.Send(ctx, json.RawMessage(raw)); err != nil {
			c.logger.Debug("relay send failed", zap.String("to", conn.Identity()), zap.Error(err))
		}
	}
}

// Leave is an explicit, permanent departure. The remaining participant is
// notified and, if the game was still running, wins by abandonment.
func (c *Coordinator) Leave(ctx context.Context, identity string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.hydrateLocked(ctx); err != nil {
		return err
	}
	if !c.rec.HasPlayer(identity) {
		return ErrNotParticipant
	}

	c.sendOthers(ctx, identity, wire.PlayerLeft{MessageType: wire.TypePlayerLeft, PlayerID: identity})

	if c.rec.Status != StatusFinished {
		wasActive := c.rec.Status == StatusActive
		cur := c.rec.Clone()
		cur.Status = StatusFinished
		if wasActive {
			for _, p := range cur.Players {
				if p != identity {
					cur.Winner = p
				}
			}
		}
		cur.UpdatedAt = time.Now().UTC()
		if err := c.games.Save(ctx, cur); err != nil {
			c.logger.Error("leave: failed to persist", zap.Error(err))
			return fmt.Errorf("%w: %v", ErrPersistence, err)
		}
		c.rec = cur
		if wasActive {
			c.finalizeLocked("abandoned")
		} else {
			// nothing was played; close the game without result or stats
			c.finalized = true
		}
	}

	c.logger.Info("player left", zap.String("player", identity))
	return nil
}

// RemoveConn drops a closed connection. Transport drops do not change game
// state; the seat stays reserved for reconnection.
func (c *Coordinator) RemoveConn(conn Conn) {
	c.mu.Lock()
	defer c.mu.Unlock()
	kept := c.conns[:0]
	for _, cn := range c.conns {
		if cn != conn {
			kept = append(kept, cn)
		}
	}
	c.conns = kept
}

// Snapshot returns the current game state as seen by identity. Read-only;
// identity need not be a participant.
func (c *Coordinator) Snapshot(ctx context.Context, identity string) (*wire.GameState, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.hydrateLocked(ctx); err != nil {
		return nil, err
	}
	return c.stateLocked(identity, wire.TypeGameState, nil), nil
}

// Record returns a copy of the current persisted state, for rendering and
// the info endpoint.
func (c *Coordinator) Record(ctx context.Context) (*GameRecord, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.hydrateLocked(ctx); err != nil {
		return nil, err
	}
	return c.rec.Clone(), nil
}

// finalizeLocked runs the once-only post-game bookkeeping: the durable game
// result and per-player stats updates. All writes are best-effort and run
// off the session lock; the session itself is already terminal.
func (c *Coordinator) finalizeLocked(method string) {
	if c.finalized {
		return
	}
	c.finalized = true

	rec := c.rec.Clone()
	c.logger.Info("game finished",
		zap.String("method", method),
		zap.String("winner", rec.Winner),
		zap.Int("moves", len(rec.MovesUCI)))

	if c.results == nil {
		return
	}
	results := c.results
	logger := c.logger
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), finalizeTimeout)
		defer cancel()

		if err := results.SaveGameResult(ctx, rec, method); err != nil {
			logger.Warn("finalize: game result not saved", zap.Error(err))
		}
		moves := fullMoveCount(len(rec.MovesUCI))
		for _, p := range rec.Humans() {
			if err := results.RemoveActiveGame(ctx, p, rec.ID); err != nil {
				logger.Warn("finalize: active game not cleared", zap.String("player", p), zap.Error(err))
			}
			if err := results.RecordResult(ctx, p, outcomeFor(rec, p), moves); err != nil {
				logger.Warn("finalize: stats not recorded", zap.String("player", p), zap.Error(err))
			}
		}
	}()
}

func outcomeFor(rec *GameRecord, player string) string {
	switch rec.Winner {
	case player:
		return "win"
	case "":
		return "tie"
	default:
		return "loss"
	}
}

// fullMoveCount converts a half-move (ply) count to full moves.
func fullMoveCount(plies int) int {
	return (plies + 1) / 2
}

func colorName(sideToMove string) string {
	if sideToMove == "w" {
		return "white"
	}
	return "black"
}

// stateLocked builds the standardized snapshot for one viewer.
func (c *Coordinator) stateLocked(viewer, messageType string, move *wire.MoveSquares) *wire.GameState {
	turn, err := rules.SideToMove(c.rec.FEN)
	if err != nil {
		c.logger.Error("stored position unreadable", zap.String("fen", c.rec.FEN), zap.Error(err))
		turn = "w"
	}
	over, _ := rules.IsGameOver(c.rec.FEN)
	mate, _ := rules.IsCheckmate(c.rec.FEN)
	return &wire.GameState{
		MessageType: messageType,
		FEN:         c.rec.FEN,
		Color:       c.rec.ColorOf(viewer),
		Turn:        turn,
		GameOver:    over || c.rec.Status == StatusFinished,
		Checkmate:   mate,
		Players:     append([]string(nil), c.rec.Players...),
		Move:        move,
	}
}

// stateForOpponent builds the snapshot sent to everyone except mover. The
// color field is filled per-recipient at send time; with at most one
// opponent the mover's counterpart color is correct.
func (c *Coordinator) stateForOpponent(mover, messageType string, move *wire.MoveSquares) *wire.GameState {
	opponent := ""
	for _, p := range c.rec.Players {
		if p != mover {
			opponent = p
			break
		}
	}
	return c.stateLocked(opponent, messageType, move)
}

func (c *Coordinator) sendTo(ctx context.Context, identity string, v any) {
	for _, conn := range c.conns {
		if conn.Identity() != identity {
			continue
		}
		if err := conn.Send(ctx, v); err != nil {
			c.logger.Debug("send failed", zap.String("to", identity), zap.Error(err))
		}
	}
}

func (c *Coordinator) sendOthers(ctx context.Context, identity string, v any) {
	for _, conn := range c.conns {
		if conn.Identity() == identity {
			continue
		}
		if err := conn.Send(ctx, v); err != nil {
			c.logger.Debug("send failed", zap.String("to", conn.Identity()), zap.Error(err))
		}
	}
}
