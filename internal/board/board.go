// Package board rasterizes a chess position to PNG for the snapshot
// endpoint. Pieces are stylized vector glyphs rendered per piece/size and
// cached; coordinates are drawn along the margins.
package board

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	imagedraw "image/draw"
	"image/png"
	"sync"

	nchess "github.com/corentings/chess/v2"
	"github.com/srwiley/oksvg"
	"github.com/srwiley/rasterx"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

const (
	squareSize   = 72
	boardSquares = 8
	boardSize    = squareSize * boardSquares
	margin       = 28
)

var (
	lightSquare    = color.RGBA{233, 207, 163, 255}
	darkSquare     = color.RGBA{187, 136, 96, 255}
	highlightFill  = color.NRGBA{R: 255, G: 228, B: 120, A: 140}
	backgroundFill = color.RGBA{28, 31, 46, 255}
	labelColor     = color.RGBA{214, 218, 228, 255}
)

// Highlight marks the last move's squares.
type Highlight struct {
	From nchess.Square
	To   nchess.Square
}

type cacheKey struct {
	piece nchess.Piece
	size  int
}

// Renderer is safe for concurrent use; rendered glyphs are cached per
// piece and size.
type Renderer struct {
	mu    sync.RWMutex
	cache map[cacheKey]image.Image
}

func NewRenderer() *Renderer {
	return &Renderer{cache: make(map[cacheKey]image.Image)}
}

// RenderPNG draws the position with rank/file labels and an optional
// last-move highlight.
func (r *Renderer) RenderPNG(ctx context.Context, b *nchess.Board, highlight *Highlight) ([]byte, error) {
	if b == nil {
		return nil, fmt.Errorf("board is nil")
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	total := boardSize + margin*2
	origin := image.Point{X: margin, Y: margin}
	img := image.NewRGBA(image.Rect(0, 0, total, total))
	imagedraw.Draw(img, img.Bounds(), image.NewUniform(backgroundFill), image.Point{}, imagedraw.Src)

	drawSquares(img, origin)
	if highlight != nil {
		drawHighlight(img, origin, highlight.From)
		drawHighlight(img, origin, highlight.To)
	}
	if err := r.drawPieces(img, b, origin); err != nil {
		return nil, err
	}
	drawCoordinates(img, origin)

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}

var (
	ranksTopDown = []nchess.Rank{nchess.Rank8, nchess.Rank7, nchess.Rank6, nchess.Rank5, nchess.Rank4, nchess.Rank3, nchess.Rank2, nchess.Rank1}
	filesLeft    = []nchess.File{nchess.FileA, nchess.FileB, nchess.FileC, nchess.FileD, nchess.FileE, nchess.FileF, nchess.FileG, nchess.FileH}
)

func drawSquares(dst imagedraw.Image, origin image.Point) {
	for row, rank := range ranksTopDown {
		for col, file := range filesLeft {
			x := origin.X + col*squareSize
			y := origin.Y + row*squareSize
			clr := lightSquare
			if (int(rank)+int(file))%2 == 0 {
				clr = darkSquare
			}
			imagedraw.Draw(dst, image.Rect(x, y, x+squareSize, y+squareSize), image.NewUniform(clr), image.Point{}, imagedraw.Src)
		}
	}
}

func drawHighlight(dst imagedraw.Image, origin image.Point, sq nchess.Square) {
	col := int(sq.File())
	row := 7 - int(sq.Rank())
	x := origin.X + col*squareSize
	y := origin.Y + row*squareSize
	imagedraw.Draw(dst, image.Rect(x, y, x+squareSize, y+squareSize), image.NewUniform(highlightFill), image.Point{}, imagedraw.Over)
}

func (r *Renderer) drawPieces(dst imagedraw.Image, b *nchess.Board, origin image.Point) error {
	boardMap := b.SquareMap()
	for row, rank := range ranksTopDown {
		for col, file := range filesLeft {
			piece := boardMap[nchess.NewSquare(file, rank)]
			if piece == nchess.NoPiece {
				continue
			}
			glyph, err := r.pieceImage(piece, squareSize)
			if err != nil {
				return err
			}
			x := origin.X + col*squareSize
			y := origin.Y + row*squareSize
			imagedraw.Draw(dst, image.Rect(x, y, x+squareSize, y+squareSize), glyph, image.Point{}, imagedraw.Over)
		}
	}
	return nil
}

func (r *Renderer) pieceImage(piece nchess.Piece, size int) (image.Image, error) {
	key := cacheKey{piece: piece, size: size}

	r.mu.RLock()
	if img, ok := r.cache[key]; ok {
		r.mu.RUnlock()
		return img, nil
	}
	r.mu.RUnlock()

	icon, err := oksvg.ReadIconStream(bytes.NewReader(pieceSVG(piece)))
	if err != nil {
		return nil, fmt.Errorf("parse piece svg: %w", err)
	}
	icon.SetTarget(0, 0, float64(size), float64(size))

	img := image.NewRGBA(image.Rect(0, 0, size, size))
	scanner := rasterx.NewScannerGV(size, size, img, img.Bounds())
	raster := rasterx.NewDasher(size, size, scanner)
	icon.Draw(raster, 1.0)

	r.mu.Lock()
	r.cache[key] = img
	r.mu.Unlock()
	return img, nil
}

func drawCoordinates(dst *image.RGBA, origin image.Point) {
	face := basicfont.Face7x13
	drawer := &font.Drawer{
		Dst:  dst,
		Src:  image.NewUniform(labelColor),
		Face: face,
	}
	for col := 0; col < boardSquares; col++ {
		label := string(rune('a' + col))
		x := origin.X + col*squareSize + squareSize/2 - drawer.MeasureString(label).Ceil()/2
		y := origin.Y + boardSize + 18
		drawer.Dot = fixed.P(x, y)
		drawer.DrawString(label)
	}
	for row := 0; row < boardSquares; row++ {
		label := string(rune('8' - row))
		x := origin.X - 18
		y := origin.Y + row*squareSize + squareSize/2 + face.Height/2
		drawer.Dot = fixed.P(x, y)
		drawer.DrawString(label)
	}
}
