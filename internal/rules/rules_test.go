package rules

import "testing"

func TestApply_UCI_SAN_Illegal(t *testing.T) {
	a1, err := Apply(StartPos, "e2e4")
	if err != nil {
		t.Fatalf("Apply UCI: %v", err)
	}
	if a1.UCI != "e2e4" || a1.SAN != "e4" || a1.From != "e2" || a1.To != "e4" {
		t.Fatalf("unexpected applied move: %+v", a1)
	}
	if a1.GameOver {
		t.Fatalf("opening move should not end the game")
	}

	a2, err := Apply(a1.FEN, "Nc6")
	if err != nil {
		t.Fatalf("Apply SAN: %v", err)
	}
	if a2.UCI != "b8c6" {
		t.Fatalf("SAN decode mismatch: %q", a2.UCI)
	}

	if _, err := Apply(StartPos, "e2e5"); err == nil {
		t.Fatalf("expected illegal move rejection")
	}
	if _, err := Apply(StartPos, "garbage"); err == nil {
		t.Fatalf("expected unparseable move rejection")
	}
	if _, err := Apply(StartPos, ""); err == nil {
		t.Fatalf("expected empty move rejection")
	}
}

func TestApply_PositionUnchangedOnRejection(t *testing.T) {
	before := StartingFEN()
	if _, err := Apply(before, "e7e5"); err == nil {
		t.Fatalf("black cannot move first")
	}
	turn, err := SideToMove(before)
	if err != nil || turn != "w" {
		t.Fatalf("SideToMove after rejection: %q %v", turn, err)
	}
}

func TestFoolsMate(t *testing.T) {
	fen := StartPos
	for _, mv := range []string{"f2f3", "e7e5", "g2g4", "d8h4"} {
		a, err := Apply(fen, mv)
		if err != nil {
			t.Fatalf("Apply %s: %v", mv, err)
		}
		fen = a.FEN
	}
	over, err := IsGameOver(fen)
	if err != nil || !over {
		t.Fatalf("expected game over: %v", err)
	}
	mate, err := IsCheckmate(fen)
	if err != nil || !mate {
		t.Fatalf("expected checkmate: %v", err)
	}
	winner, err := Winner(fen)
	if err != nil || winner != "black" {
		t.Fatalf("Winner = %q, want black (%v)", winner, err)
	}
}

func TestSideToMoveAlternates(t *testing.T) {
	a, err := Apply(StartPos, "e2e4")
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	turn, err := SideToMove(a.FEN)
	if err != nil || turn != "b" {
		t.Fatalf("SideToMove = %q, want b (%v)", turn, err)
	}
}

func TestWinnerNonTerminal(t *testing.T) {
	winner, err := Winner(StartPos)
	if err != nil || winner != "" {
		t.Fatalf("Winner on start position = %q (%v)", winner, err)
	}
}
