package session_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/chesslink/chesslink-server/internal/config"
	"github.com/chesslink/chesslink-server/internal/session"
	"github.com/chesslink/chesslink-server/internal/store"
	"github.com/chesslink/chesslink-server/pkg/wire"
)

type fakeConn struct {
	identity string

	mu   sync.Mutex
	msgs []any
}

func (c *fakeConn) Identity() string { return c.identity }

func (c *fakeConn) Send(_ context.Context, v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgs = append(c.msgs, v)
	return nil
}

func (c *fakeConn) states() []*wire.GameState {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []*wire.GameState
	for _, m := range c.msgs {
		if st, ok := m.(*wire.GameState); ok {
			out = append(out, st)
		}
	}
	return out
}

func (c *fakeConn) lastState() *wire.GameState {
	sts := c.states()
	if len(sts) == 0 {
		return nil
	}
	return sts[len(sts)-1]
}

type fakeEngine struct {
	mu    sync.Mutex
	calls []engineCall
	reply string
	err   error
}

type engineCall struct {
	fen   string
	depth int
}

func (e *fakeEngine) BestMove(_ context.Context, fen string, depth int) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls = append(e.calls, engineCall{fen: fen, depth: depth})
	return e.reply, e.err
}

type fakeResults struct {
	mu       sync.Mutex
	saved    []string // method per SaveGameResult call
	removed  []string // "player/game"
	outcomes map[string]string
	moves    map[string]int
}

func newFakeResults() *fakeResults {
	return &fakeResults{outcomes: map[string]string{}, moves: map[string]int{}}
}

func (f *fakeResults) SaveGameResult(_ context.Context, _ *session.GameRecord, method string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saved = append(f.saved, method)
	return nil
}

func (f *fakeResults) RemoveActiveGame(_ context.Context, playerID, gameID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed = append(f.removed, playerID+"/"+gameID)
	return nil
}

func (f *fakeResults) RecordResult(_ context.Context, playerID, outcome string, moveCount int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.outcomes[playerID] = outcome
	f.moves[playerID] = moveCount
	return nil
}

func (f *fakeResults) outcomeOf(player string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.outcomes[player]
}

func (f *fakeResults) methods() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.saved...)
}

// failStore wraps the in-memory store and fails saves on demand.
type failStore struct {
	*store.MemoryGames
	failSaves bool
}

func (s *failStore) Save(ctx context.Context, rec *session.GameRecord) error {
	if s.failSaves {
		return errors.New("storage down")
	}
	return s.MemoryGames.Save(ctx, rec)
}

func newRegistry(t *testing.T, deps session.Deps) *session.Registry {
	t.Helper()
	if deps.Games == nil {
		deps.Games = store.NewMemoryGames()
	}
	if deps.Policy == "" {
		deps.Policy = config.ColorPolicySticky
	}
	return session.NewRegistry(deps)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func mv(from, to string) wire.MovePayload {
	return wire.MovePayload{From: from, To: to}
}

func TestJoinOccupancy(t *testing.T) {
	reg := newRegistry(t, session.Deps{})
	ctx := context.Background()
	coord := reg.Get("g1")

	if err := coord.Join(ctx, "alice", false, 0); err != nil {
		t.Fatalf("first join: %v", err)
	}
	if err := coord.Join(ctx, "alice", false, 0); !errors.Is(err, session.ErrAlreadyJoined) {
		t.Fatalf("rejoin = %v, want ErrAlreadyJoined", err)
	}
	if err := coord.Join(ctx, "bob", false, 0); err != nil {
		t.Fatalf("second join: %v", err)
	}
	if err := coord.Join(ctx, "carol", false, 0); !errors.Is(err, session.ErrGameFull) {
		t.Fatalf("third join = %v, want ErrGameFull", err)
	}
	if err := coord.Join(ctx, "", false, 0); !errors.Is(err, session.ErrMissingPlayer) {
		t.Fatalf("empty identity = %v, want ErrMissingPlayer", err)
	}
}

func TestStickyColors(t *testing.T) {
	reg := newRegistry(t, session.Deps{})
	ctx := context.Background()
	coord := reg.Get("g1")

	alice := &fakeConn{identity: "alice"}
	bob := &fakeConn{identity: "bob"}

	st, err := coord.Connect(ctx, alice, false, 0)
	if err != nil {
		t.Fatalf("connect alice: %v", err)
	}
	if st.Color != "white" {
		t.Fatalf("first connector color = %q, want white", st.Color)
	}

	st, err = coord.Connect(ctx, bob, false, 0)
	if err != nil {
		t.Fatalf("connect bob: %v", err)
	}
	if st.Color != "black" {
		t.Fatalf("second connector color = %q, want black", st.Color)
	}

	// reconnect keeps the assignment
	coord.RemoveConn(alice)
	alice2 := &fakeConn{identity: "alice"}
	st, err = coord.Connect(ctx, alice2, false, 0)
	if err != nil {
		t.Fatalf("reconnect alice: %v", err)
	}
	if st.Color != "white" {
		t.Fatalf("reconnect color = %q, want white", st.Color)
	}
}

func TestRandomPolicyAssignsBothColors(t *testing.T) {
	reg := newRegistry(t, session.Deps{Policy: config.ColorPolicyRandom})
	ctx := context.Background()
	coord := reg.Get("g1")

	st1, err := coord.Connect(ctx, &fakeConn{identity: "alice"}, false, 0)
	if err != nil {
		t.Fatalf("connect alice: %v", err)
	}
	st2, err := coord.Connect(ctx, &fakeConn{identity: "bob"}, false, 0)
	if err != nil {
		t.Fatalf("connect bob: %v", err)
	}
	if st1 == nil || st2 == nil {
		t.Fatalf("missing snapshots")
	}
	rec, err := coord.Record(ctx)
	if err != nil {
		t.Fatalf("Record: %v", err)
	}
	got := map[string]bool{rec.Colors.White: true, rec.Colors.Black: true}
	if !got["alice"] || !got["bob"] {
		t.Fatalf("both players should hold a color: %+v", rec.Colors)
	}
}

func TestHumanGameMoveFlow(t *testing.T) {
	reg := newRegistry(t, session.Deps{})
	ctx := context.Background()
	coord := reg.Get("g1")

	alice := &fakeConn{identity: "alice"}
	bob := &fakeConn{identity: "bob"}
	if _, err := coord.Connect(ctx, alice, false, 0); err != nil {
		t.Fatalf("connect alice: %v", err)
	}
	if _, err := coord.Connect(ctx, bob, false, 0); err != nil {
		t.Fatalf("connect bob: %v", err)
	}

	// black cannot open
	if err := coord.SubmitMove(ctx, "bob", mv("e7", "e5")); !errors.Is(err, session.ErrNotYourTurn) {
		t.Fatalf("out-of-turn move = %v, want ErrNotYourTurn", err)
	}

	// illegal move leaves the game untouched
	if err := coord.SubmitMove(ctx, "alice", mv("e2", "e5")); !errors.Is(err, session.ErrInvalidMove) {
		t.Fatalf("illegal move = %v, want ErrInvalidMove", err)
	}
	st, err := coord.Snapshot(ctx, "alice")
	if err != nil || st.Turn != "w" {
		t.Fatalf("turn after rejection = %q (%v), want w", st.Turn, err)
	}

	if err := coord.SubmitMove(ctx, "alice", mv("e2", "e4")); err != nil {
		t.Fatalf("SubmitMove: %v", err)
	}

	// mover gets a confirmation, opponent a move broadcast
	conf := alice.lastState()
	if conf == nil || conf.MessageType != wire.TypeConfirmation || conf.Turn != "b" {
		t.Fatalf("unexpected confirmation: %+v", conf)
	}
	bcast := bob.lastState()
	if bcast == nil || bcast.MessageType != wire.TypeMove {
		t.Fatalf("unexpected broadcast: %+v", bcast)
	}
	if bcast.Move == nil || bcast.Move.From != "e2" || bcast.Move.To != "e4" {
		t.Fatalf("broadcast move = %+v", bcast.Move)
	}

	// turns alternate
	if err := coord.SubmitMove(ctx, "bob", mv("e7", "e5")); err != nil {
		t.Fatalf("reply move: %v", err)
	}

	// spectators cannot move
	if err := coord.SubmitMove(ctx, "carol", mv("g1", "f3")); !errors.Is(err, session.ErrNotParticipant) {
		t.Fatalf("spectator move = %v, want ErrNotParticipant", err)
	}
}

func TestPendingGameRejectsMoves(t *testing.T) {
	reg := newRegistry(t, session.Deps{})
	ctx := context.Background()
	coord := reg.Get("g1")

	alice := &fakeConn{identity: "alice"}
	if _, err := coord.Connect(ctx, alice, false, 0); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if err := coord.SubmitMove(ctx, "alice", mv("e2", "e4")); !errors.Is(err, session.ErrGameNotActive) {
		t.Fatalf("move while pending = %v, want ErrGameNotActive", err)
	}
}

func TestAIGameFlow(t *testing.T) {
	eng := &fakeEngine{reply: "e7e5"}
	reg := newRegistry(t, session.Deps{Engine: eng})
	ctx := context.Background()
	coord := reg.Get("g1")

	human := &fakeConn{identity: "alice"}
	st, err := coord.Connect(ctx, human, true, 5)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	if st.Color != "white" {
		t.Fatalf("human color = %q, want white under sticky policy", st.Color)
	}
	if len(st.Players) != 2 || st.Players[1] != session.AIIdentity {
		t.Fatalf("players = %v", st.Players)
	}

	if err := coord.SubmitMove(ctx, "alice", mv("e2", "e4")); err != nil {
		t.Fatalf("SubmitMove: %v", err)
	}

	eng.mu.Lock()
	calls := append([]engineCall(nil), eng.calls...)
	eng.mu.Unlock()
	if len(calls) != 1 {
		t.Fatalf("engine calls = %d, want 1", len(calls))
	}
	if calls[0].depth != 5 {
		t.Fatalf("engine depth = %d, want 5", calls[0].depth)
	}
	// the engine sees the position after the human move
	sts := human.states()
	if len(sts) < 2 {
		t.Fatalf("expected confirmation and engine reply, got %d messages", len(sts))
	}
	conf := sts[len(sts)-2]
	if conf.MessageType != wire.TypeConfirmation || calls[0].fen != conf.FEN {
		t.Fatalf("engine fen %q != post-move fen %q", calls[0].fen, conf.FEN)
	}

	reply := sts[len(sts)-1]
	if reply.MessageType != wire.TypeGameState || reply.Move == nil ||
		reply.Move.From != "e7" || reply.Move.To != "e5" {
		t.Fatalf("unexpected engine reply message: %+v", reply)
	}
	if reply.Turn != "w" {
		t.Fatalf("turn after engine reply = %q, want w", reply.Turn)
	}
}

func TestAIFailureReachesSubmitter(t *testing.T) {
	eng := &fakeEngine{err: errors.New("engine offline")}
	reg := newRegistry(t, session.Deps{Engine: eng})
	ctx := context.Background()
	coord := reg.Get("g1")

	human := &fakeConn{identity: "alice"}
	if _, err := coord.Connect(ctx, human, true, 5); err != nil {
		t.Fatalf("connect: %v", err)
	}
	err := coord.SubmitMove(ctx, "alice", mv("e2", "e4"))
	if !errors.Is(err, session.ErrAIMoveFailed) {
		t.Fatalf("SubmitMove = %v, want ErrAIMoveFailed", err)
	}

	// the human move itself stuck; it is still the AI's turn
	st, serr := coord.Snapshot(ctx, "alice")
	if serr != nil || st.Turn != "b" {
		t.Fatalf("turn = %q (%v), want b", st.Turn, serr)
	}
}

func TestDepthValidatedAtJoin(t *testing.T) {
	reg := newRegistry(t, session.Deps{Engine: &fakeEngine{reply: "e7e5"}})
	ctx := context.Background()

	for _, depth := range []int{0, -1, 16, 100} {
		coord := reg.Get(fmt.Sprintf("g-depth-%d", depth))
		if err := coord.Join(ctx, "alice", true, depth); !errors.Is(err, session.ErrInvalidDepth) {
			t.Errorf("depth %d: err = %v, want ErrInvalidDepth", depth, err)
		}
	}
	coord := reg.Get("g-depth-ok")
	if err := coord.Join(ctx, "alice", true, 15); err != nil {
		t.Fatalf("depth 15 rejected: %v", err)
	}
}

func TestRehydration(t *testing.T) {
	games := store.NewMemoryGames()
	ctx := context.Background()

	reg1 := newRegistry(t, session.Deps{Games: games})
	coord := reg1.Get("g1")
	if _, err := coord.Connect(ctx, &fakeConn{identity: "alice"}, false, 0); err != nil {
		t.Fatalf("connect alice: %v", err)
	}
	if _, err := coord.Connect(ctx, &fakeConn{identity: "bob"}, false, 0); err != nil {
		t.Fatalf("connect bob: %v", err)
	}
	if err := coord.SubmitMove(ctx, "alice", mv("e2", "e4")); err != nil {
		t.Fatalf("SubmitMove: %v", err)
	}

	// a fresh registry simulates a process restart
	reg2 := newRegistry(t, session.Deps{Games: games})
	bob := &fakeConn{identity: "bob"}
	st, err := reg2.Get("g1").Connect(ctx, bob, false, 0)
	if err != nil {
		t.Fatalf("reconnect after restart: %v", err)
	}
	if st.Color != "black" || st.Turn != "b" {
		t.Fatalf("rehydrated snapshot = color %q turn %q", st.Color, st.Turn)
	}
	if err := reg2.Get("g1").SubmitMove(ctx, "bob", mv("e7", "e5")); err != nil {
		t.Fatalf("move after rehydration: %v", err)
	}
}

func TestCheckmateFinalization(t *testing.T) {
	results := newFakeResults()
	reg := newRegistry(t, session.Deps{Results: results})
	ctx := context.Background()
	coord := reg.Get("g1")

	alice := &fakeConn{identity: "alice"}
	bob := &fakeConn{identity: "bob"}
	if _, err := coord.Connect(ctx, alice, false, 0); err != nil {
		t.Fatalf("connect alice: %v", err)
	}
	if _, err := coord.Connect(ctx, bob, false, 0); err != nil {
		t.Fatalf("connect bob: %v", err)
	}

	moves := []struct {
		player string
		m      wire.MovePayload
	}{
		{"alice", mv("f2", "f3")},
		{"bob", mv("e7", "e5")},
		{"alice", mv("g2", "g4")},
		{"bob", mv("d8", "h4")},
	}
	for _, step := range moves {
		if err := coord.SubmitMove(ctx, step.player, step.m); err != nil {
			t.Fatalf("SubmitMove %s %v: %v", step.player, step.m, err)
		}
	}

	st := bob.lastState()
	if st == nil || !st.GameOver || !st.Checkmate {
		t.Fatalf("expected terminal state, got %+v", st)
	}

	waitFor(t, "finalization", func() bool {
		return results.outcomeOf("bob") != "" && results.outcomeOf("alice") != ""
	})
	if got := results.outcomeOf("bob"); got != "win" {
		t.Fatalf("bob outcome = %q, want win", got)
	}
	if got := results.outcomeOf("alice"); got != "loss" {
		t.Fatalf("alice outcome = %q, want loss", got)
	}
	if methods := results.methods(); len(methods) != 1 || methods[0] != "checkmate" {
		t.Fatalf("saved methods = %v", methods)
	}

	// no play after the end
	if err := coord.SubmitMove(ctx, "alice", mv("a2", "a3")); !errors.Is(err, session.ErrGameFinished) {
		t.Fatalf("post-finish move = %v, want ErrGameFinished", err)
	}
}

func TestLeaveConcedes(t *testing.T) {
	results := newFakeResults()
	reg := newRegistry(t, session.Deps{Results: results})
	ctx := context.Background()
	coord := reg.Get("g1")

	alice := &fakeConn{identity: "alice"}
	bob := &fakeConn{identity: "bob"}
	if _, err := coord.Connect(ctx, alice, false, 0); err != nil {
		t.Fatalf("connect alice: %v", err)
	}
	if _, err := coord.Connect(ctx, bob, false, 0); err != nil {
		t.Fatalf("connect bob: %v", err)
	}

	if err := coord.Leave(ctx, "alice"); err != nil {
		t.Fatalf("Leave: %v", err)
	}
	if err := coord.Leave(ctx, "carol"); !errors.Is(err, session.ErrNotParticipant) {
		t.Fatalf("stranger leave = %v, want ErrNotParticipant", err)
	}

	// opponent is told
	var left *wire.PlayerLeft
	bob.mu.Lock()
	for _, m := range bob.msgs {
		if pl, ok := m.(wire.PlayerLeft); ok {
			left = &pl
		}
	}
	bob.mu.Unlock()
	if left == nil || left.PlayerID != "alice" {
		t.Fatalf("missing player-left notification: %+v", left)
	}

	waitFor(t, "abandon finalization", func() bool {
		return results.outcomeOf("bob") != ""
	})
	if got := results.outcomeOf("bob"); got != "win" {
		t.Fatalf("bob outcome = %q, want win", got)
	}
	if methods := results.methods(); len(methods) != 1 || methods[0] != "abandoned" {
		t.Fatalf("saved methods = %v", methods)
	}
}

func TestDurableWriteFailureLeavesGameUntouched(t *testing.T) {
	games := &failStore{MemoryGames: store.NewMemoryGames()}
	reg := newRegistry(t, session.Deps{Games: games})
	ctx := context.Background()
	coord := reg.Get("g1")

	if _, err := coord.Connect(ctx, &fakeConn{identity: "alice"}, false, 0); err != nil {
		t.Fatalf("connect alice: %v", err)
	}
	if _, err := coord.Connect(ctx, &fakeConn{identity: "bob"}, false, 0); err != nil {
		t.Fatalf("connect bob: %v", err)
	}

	games.failSaves = true
	if err := coord.SubmitMove(ctx, "alice", mv("e2", "e4")); !errors.Is(err, session.ErrPersistence) {
		t.Fatalf("move with storage down = %v, want ErrPersistence", err)
	}

	games.failSaves = false
	st, err := coord.Snapshot(ctx, "alice")
	if err != nil || st.Turn != "w" {
		t.Fatalf("turn after failed persist = %q (%v), want w", st.Turn, err)
	}
	// the same move goes through once storage recovers
	if err := coord.SubmitMove(ctx, "alice", mv("e2", "e4")); err != nil {
		t.Fatalf("retry after recovery: %v", err)
	}
}

func TestRelay(t *testing.T) {
	reg := newRegistry(t, session.Deps{})
	ctx := context.Background()
	coord := reg.Get("g1")

	alice := &fakeConn{identity: "alice"}
	bob := &fakeConn{identity: "bob"}
	if _, err := coord.Connect(ctx, alice, false, 0); err != nil {
		t.Fatalf("connect alice: %v", err)
	}
	if _, err := coord.Connect(ctx, bob, false, 0); err != nil {
		t.Fatalf("connect bob: %v", err)
	}

	payload := []byte(`{"message_type":"player_message","text":"gg"}`)
	coord.Relay(ctx, "alice", payload)

	bob.mu.Lock()
	defer bob.mu.Unlock()
	found := false
	for _, m := range bob.msgs {
		if raw, ok := m.(json.RawMessage); ok && string(raw) == string(payload) {
			found = true
		}
	}
	if !found {
		t.Fatalf("relay payload not delivered to opponent")
	}
	alice.mu.Lock()
	defer alice.mu.Unlock()
	for _, m := range alice.msgs {
		if _, ok := m.(json.RawMessage); ok {
			t.Fatalf("relay echoed back to sender")
		}
	}
}

func TestRandomPolicyAIGameKeepsHumanWhite(t *testing.T) {
	ctx := context.Background()
	// enough games that a surviving coin flip would almost surely show
	for i := 0; i < 16; i++ {
		eng := &fakeEngine{reply: "e7e5"}
		reg := newRegistry(t, session.Deps{Policy: config.ColorPolicyRandom, Engine: eng})
		coord := reg.Get(fmt.Sprintf("g%d", i))

		st, err := coord.Connect(ctx, &fakeConn{identity: "alice"}, true, 5)
		if err != nil {
			t.Fatalf("game %d: connect: %v", i, err)
		}
		if st.Color != "white" {
			t.Fatalf("game %d: human color = %q, want white", i, st.Color)
		}
		if err := coord.SubmitMove(ctx, "alice", mv("e2", "e4")); err != nil {
			t.Fatalf("game %d: opening move rejected: %v", i, err)
		}
	}
}

func TestStalemateFinalizesAsDraw(t *testing.T) {
	games := store.NewMemoryGames()
	ctx := context.Background()

	// white to move, Kg6 stalemates the black king
	if err := games.Save(ctx, &session.GameRecord{
		ID:      "g1",
		FEN:     "7k/5Q2/5K2/8/8/8/8/8 w - - 0 1",
		Players: []string{"alice", "bob"},
		Colors:  session.ColorAssignment{White: "alice", Black: "bob"},
		Status:  session.StatusActive,
	}); err != nil {
		t.Fatalf("seed game: %v", err)
	}

	results := newFakeResults()
	reg := newRegistry(t, session.Deps{Games: games, Results: results})
	coord := reg.Get("g1")

	alice := &fakeConn{identity: "alice"}
	if _, err := coord.Connect(ctx, alice, false, 0); err != nil {
		t.Fatalf("connect alice: %v", err)
	}
	if err := coord.SubmitMove(ctx, "alice", mv("f6", "g6")); err != nil {
		t.Fatalf("SubmitMove: %v", err)
	}

	st := alice.lastState()
	if st == nil || !st.GameOver || st.Checkmate {
		t.Fatalf("expected drawn terminal state, got %+v", st)
	}

	waitFor(t, "draw finalization", func() bool {
		return results.outcomeOf("alice") != "" && results.outcomeOf("bob") != ""
	})
	if got := results.outcomeOf("alice"); got != "tie" {
		t.Fatalf("alice outcome = %q, want tie", got)
	}
	if got := results.outcomeOf("bob"); got != "tie" {
		t.Fatalf("bob outcome = %q, want tie", got)
	}
	if methods := results.methods(); len(methods) != 1 || methods[0] != "draw" {
		t.Fatalf("saved methods = %v", methods)
	}

	rec, err := coord.Record(ctx)
	if err != nil {
		t.Fatalf("Record: %v", err)
	}
	if rec.Winner != "" {
		t.Fatalf("draw winner = %q, want empty", rec.Winner)
	}
}

func TestLeavePendingGameRecordsNothing(t *testing.T) {
	results := newFakeResults()
	reg := newRegistry(t, session.Deps{Results: results})
	ctx := context.Background()
	coord := reg.Get("g1")

	if _, err := coord.Connect(ctx, &fakeConn{identity: "alice"}, false, 0); err != nil {
		t.Fatalf("connect alice: %v", err)
	}
	if err := coord.Leave(ctx, "alice"); err != nil {
		t.Fatalf("Leave: %v", err)
	}

	rec, err := coord.Record(ctx)
	if err != nil {
		t.Fatalf("Record: %v", err)
	}
	if rec.Status != session.StatusFinished || rec.Winner != "" {
		t.Fatalf("after lone leave: status %q winner %q", rec.Status, rec.Winner)
	}
	if methods := results.methods(); len(methods) != 0 {
		t.Fatalf("unstarted game archived a result: %v", methods)
	}
	if got := results.outcomeOf("alice"); got != "" {
		t.Fatalf("unstarted game recorded outcome %q", got)
	}
}
