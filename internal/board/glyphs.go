package board

import (
	"fmt"

	nchess "github.com/corentings/chess/v2"
)

// Piece glyphs are stylized shapes in a 45x45 viewBox, filled per side with
// a contrasting outline so pieces stay readable on both square colors.

const glyphTemplate = `<svg xmlns="http://www.w3.org/2000/svg" viewBox="0 0 45 45">` +
	`<g fill="%s" stroke="%s" stroke-width="1.5" stroke-linejoin="round">%s</g></svg>`

var pieceShapes = map[nchess.PieceType]string{
	nchess.Pawn: `<circle cx="22.5" cy="13" r="5"/>` +
		`<path d="M17 20 L28 20 L30 32 L15 32 Z"/>` +
		`<rect x="11" y="33" width="23" height="5" rx="2"/>`,
	nchess.Rook: `<path d="M12 10 L16 10 L16 13 L19 13 L19 10 L26 10 L26 13 L29 13 L29 10 L33 10 L33 17 L30 19 L30 31 L33 33 L33 38 L12 38 L12 33 L15 31 L15 19 L12 17 Z"/>`,
	nchess.Knight: `<path d="M14 38 L14 33 C14 27 18 25 18 21 L13 23 L11 20 L17 12 L20 9 L21 12 C28 13 33 19 33 27 L33 38 Z"/>`,
	nchess.Bishop: `<path d="M22.5 8 C27 12 30 17 30 23 C30 28 27 31 22.5 31 C18 31 15 28 15 23 C15 17 18 12 22.5 8 Z"/>` +
		`<path d="M22.5 13 L22.5 22 M18.5 18 L26.5 18" fill="none"/>` +
		`<rect x="13" y="33" width="19" height="5" rx="2"/>`,
	nchess.Queen: `<path d="M10 15 L16 27 L18 13 L22.5 26 L27 13 L29 27 L35 15 L33 33 L12 33 Z"/>` +
		`<circle cx="10" cy="14" r="2"/><circle cx="18" cy="11" r="2"/>` +
		`<circle cx="27" cy="11" r="2"/><circle cx="35" cy="14" r="2"/>` +
		`<rect x="11" y="34" width="23" height="4" rx="2"/>`,
	nchess.King: `<path d="M22.5 6 L22.5 14 M19 9.5 L26 9.5" fill="none" stroke-width="2.5"/>` +
		`<path d="M22.5 15 L31 33 L14 33 Z"/>` +
		`<rect x="11" y="34" width="23" height="4" rx="2"/>`,
}

func pieceSVG(piece nchess.Piece) []byte {
	fill, outline := "#f8f8f4", "#1f1f1f"
	if piece.Color() == nchess.Black {
		fill, outline = "#2a2a2a", "#e8e8e4"
	}
	return []byte(fmt.Sprintf(glyphTemplate, fill, outline, pieceShapes[piece.Type()]))
}
