package board

import (
	"bytes"
	"context"
	"image/png"
	"testing"

	nchess "github.com/corentings/chess/v2"
)

func TestRenderPNG(t *testing.T) {
	r := NewRenderer()
	game := nchess.NewGame()

	out, err := r.RenderPNG(context.Background(), game.Position().Board(), nil)
	if err != nil {
		t.Fatalf("RenderPNG: %v", err)
	}
	img, err := png.Decode(bytes.NewReader(out))
	if err != nil {
		t.Fatalf("output is not a PNG: %v", err)
	}
	want := boardSize + margin*2
	if b := img.Bounds(); b.Dx() != want || b.Dy() != want {
		t.Fatalf("bounds = %v, want %dx%d", b, want, want)
	}
}

func TestRenderPNGHighlightChangesOutput(t *testing.T) {
	r := NewRenderer()
	game := nchess.NewGame()
	b := game.Position().Board()

	plain, err := r.RenderPNG(context.Background(), b, nil)
	if err != nil {
		t.Fatalf("RenderPNG: %v", err)
	}
	marked, err := r.RenderPNG(context.Background(), b, &Highlight{From: nchess.E2, To: nchess.E4})
	if err != nil {
		t.Fatalf("RenderPNG with highlight: %v", err)
	}
	if bytes.Equal(plain, marked) {
		t.Fatalf("highlight should change the rendering")
	}
}

func TestRenderPNGNilBoard(t *testing.T) {
	if _, err := NewRenderer().RenderPNG(context.Background(), nil, nil); err == nil {
		t.Fatalf("expected error for nil board")
	}
}

func TestPieceSVGParsesForAllPieces(t *testing.T) {
	r := NewRenderer()
	for _, pc := range []nchess.Piece{
		nchess.WhiteKing, nchess.WhiteQueen, nchess.WhiteRook,
		nchess.WhiteBishop, nchess.WhiteKnight, nchess.WhitePawn,
		nchess.BlackKing, nchess.BlackQueen, nchess.BlackRook,
		nchess.BlackBishop, nchess.BlackKnight, nchess.BlackPawn,
	} {
		if _, err := r.pieceImage(pc, squareSize); err != nil {
			t.Errorf("pieceImage(%v): %v", pc, err)
		}
	}
}
