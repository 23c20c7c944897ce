// Package render draws a session's board as a PNG.
package render

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/park285/tictactoe-live/internal/domain"
	"github.com/park285/tictactoe-live/internal/game"
)

type Options struct {
	CellSize int // pixels per cell, default 120
	Caption  bool
}

var (
	backgroundColor = color.RGBA{248, 249, 250, 255}
	gridColor       = color.RGBA{52, 58, 64, 255}
	winColor        = color.NRGBA{R: 255, G: 212, B: 59, A: 110}
	captionColor    = color.RGBA{33, 37, 41, 255}
)

const (
	margin      = 16
	gridWidth   = 6
	captionArea = 28
	markPadding = 12
)

// RenderPNG draws s's board, highlighting a completed line.
func RenderPNG(ctx context.Context, s domain.Session, opts Options) ([]byte, error) {
	cell := opts.CellSize
	if cell <= 0 {
		cell = 120
	}
	boardPx := cell * 3
	width := boardPx + margin*2
	height := boardPx + margin*2
	if opts.Caption {
		height += captionArea
	}
	origin := image.Point{X: margin, Y: margin}

	img := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Draw(img, img.Bounds(), image.NewUniform(backgroundColor), image.Point{}, draw.Src)

	if s.Winner != "" {
		if p, ok := s.Participant(s.Winner); ok {
			if line, won := game.WinningLine(s.Board, p.Marker); won {
				for _, idx := range line {
					draw.Draw(img, cellRect(idx, cell, origin), image.NewUniform(winColor), image.Point{}, draw.Over)
				}
			}
		}
	}
	drawGrid(img, cell, origin)

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	size := cell - markPadding*2
	for idx, m := range s.Board {
		if m == domain.Empty {
			continue
		}
		mark, err := markImage(m, size)
		if err != nil {
			return nil, err
		}
		r := cellRect(idx, cell, origin).Inset(markPadding)
		draw.Draw(img, r, mark, image.Point{}, draw.Over)
	}

	if opts.Caption {
		drawCaption(img, Caption(s), image.Point{X: margin, Y: margin + boardPx + captionArea - 8})
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}

// Caption describes the state under the board.
func Caption(s domain.Session) string {
	switch {
	case s.Status == domain.StatusWaiting:
		return "Waiting for an opponent"
	case s.Status == domain.StatusFinished && s.Winner != "":
		if p, ok := s.Participant(s.Winner); ok {
			return fmt.Sprintf("%s (%s) wins", p.Username, p.Marker)
		}
		return "Game over"
	case s.Status == domain.StatusFinished:
		return "Draw"
	}
	if p, ok := s.ParticipantByMarker(s.Turn); ok {
		return fmt.Sprintf("%s to move (%s)", p.Username, s.Turn)
	}
	return fmt.Sprintf("%s to move", s.Turn)
}

func cellRect(idx, cell int, origin image.Point) image.Rectangle {
	x := origin.X + (idx%3)*cell
	y := origin.Y + (idx/3)*cell
	return image.Rect(x, y, x+cell, y+cell)
}

func drawGrid(img *image.RGBA, cell int, origin image.Point) {
	boardPx := cell * 3
	half := gridWidth / 2
	for i := 1; i < 3; i++ {
		x := origin.X + i*cell
		draw.Draw(img, image.Rect(x-half, origin.Y, x+half, origin.Y+boardPx), image.NewUniform(gridColor), image.Point{}, draw.Src)
		y := origin.Y + i*cell
		draw.Draw(img, image.Rect(origin.X, y-half, origin.X+boardPx, y+half), image.NewUniform(gridColor), image.Point{}, draw.Src)
	}
}

func drawCaption(img *image.RGBA, text string, baseline image.Point) {
	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(captionColor),
		Face: basicfont.Face7x13,
		Dot:  fixed.P(baseline.X, baseline.Y),
	}
	d.DrawString(text)
}
