package render

import (
	"bytes"
	"context"
	"image/png"
	"testing"
	"time"

	"github.com/park285/tictactoe-live/internal/domain"
)

func sample() domain.Session {
	s := domain.NewSession("s1", "g", domain.Principal{ID: "A", Username: "alice"}, domain.MarkerX, time.Unix(0, 0))
	s.SecondPlayer = &domain.Participant{ID: "B", Username: "bob", Marker: domain.MarkerO}
	s.Status = domain.StatusActive
	return s
}

func TestRenderPNG(t *testing.T) {
	s := sample()
	s.Board[0], s.Board[4] = domain.MarkerX, domain.MarkerO
	raw, err := RenderPNG(context.Background(), s, Options{CellSize: 60, Caption: true})
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	img, err := png.Decode(bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	b := img.Bounds()
	if b.Dx() != 60*3+margin*2 || b.Dy() != 60*3+margin*2+captionArea {
		t.Fatalf("unexpected size %v", b)
	}
	// a point on the O ring, 11px above the centre of cell 4
	ringX, ringY := margin+60+30, margin+60+markPadding+7
	_, _, _, a := img.At(ringX, ringY).RGBA()
	r, g, bl, _ := img.At(ringX, ringY).RGBA()
	bgR, bgG, bgB, _ := backgroundColor.RGBA()
	if a == 0 || (r == bgR && g == bgG && bl == bgB) {
		t.Fatalf("O mark not drawn at (%d,%d)", ringX, ringY)
	}
}

func TestRenderCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := RenderPNG(ctx, sample(), Options{}); err == nil {
		t.Fatalf("expected context error")
	}
}

func TestCaption(t *testing.T) {
	s := sample()
	if got := Caption(s); got != "alice to move (X)" {
		t.Fatalf("caption = %q", got)
	}
	s.Status, s.Winner = domain.StatusFinished, "B"
	if got := Caption(s); got != "bob (O) wins" {
		t.Fatalf("caption = %q", got)
	}
	s.Winner = ""
	if Caption(s) != "Draw" {
		t.Fatalf("draw caption")
	}
}
