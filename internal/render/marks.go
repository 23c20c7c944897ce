package render

import (
	"bytes"
	"embed"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"sync"

	"github.com/srwiley/oksvg"
	"github.com/srwiley/rasterx"

	"github.com/park285/tictactoe-live/internal/domain"
)

//go:embed assets/*.svg
var markFiles embed.FS

type markKey struct {
	marker domain.Marker
	size   int
}

var (
	markCache   = map[markKey]image.Image{}
	markCacheMu sync.RWMutex
)

func markAsset(m domain.Marker) (string, error) {
	switch m {
	case domain.MarkerX:
		return "assets/x.svg", nil
	case domain.MarkerO:
		return "assets/o.svg", nil
	}
	return "", fmt.Errorf("no asset for marker %q", m)
}

// markImage rasterises the marker's SVG at size x size, cached per size.
func markImage(m domain.Marker, size int) (image.Image, error) {
	key := markKey{marker: m, size: size}
	markCacheMu.RLock()
	img, ok := markCache[key]
	markCacheMu.RUnlock()
	if ok {
		return img, nil
	}

	name, err := markAsset(m)
	if err != nil {
		return nil, err
	}
	data, err := markFiles.ReadFile(name)
	if err != nil {
		return nil, fmt.Errorf("read mark asset %s: %w", name, err)
	}
	icon, err := oksvg.ReadIconStream(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("parse mark svg: %w", err)
	}
	icon.SetTarget(0, 0, float64(size), float64(size))

	rgba := image.NewRGBA(image.Rect(0, 0, size, size))
	draw.Draw(rgba, rgba.Bounds(), image.NewUniform(color.Transparent), image.Point{}, draw.Src)
	scanner := rasterx.NewScannerGV(size, size, rgba, rgba.Bounds())
	icon.Draw(rasterx.NewDasher(size, size, scanner), 1.0)

	markCacheMu.Lock()
	markCache[key] = rgba
	markCacheMu.Unlock()
	return rgba, nil
}
