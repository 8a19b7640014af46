// Package export renders room snapshots to image and document formats.
package export

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/sanehaakhtar/localboard/internal/state"
)

var (
	ErrUnsupportedFormat = errors.New("export: unsupported format")
	ErrCanvasSize        = errors.New("export: canvas size must be positive")
)

// Renderer draws strokes onto a width x height canvas and writes the
// encoded result to w. Strokes are drawn in slice order.
type Renderer interface {
	Render(w io.Writer, strokes []state.Stroke, width, height int) error
}

// ForPath picks a renderer from the output file extension.
func ForPath(path string) (Renderer, error) {
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".png":
		return PNG{}, nil
	case ".pdf":
		return PDF{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, ext)
	}
}

// pixelStroke is a stroke resolved against a concrete canvas.
type pixelStroke struct {
	points []state.PixelPoint
	color  [3]int
	width  float64
}

func layout(strokes []state.Stroke, width, height int) ([]pixelStroke, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("%w: %dx%d", ErrCanvasSize, width, height)
	}
	canvas := state.Rect{Width: float64(width), Height: float64(height)}
	out := make([]pixelStroke, 0, len(strokes))
	for _, s := range strokes {
		if len(s.Points) == 0 {
			continue
		}
		c, _ := ParseColor(s.Color)
		ps := pixelStroke{
			points: make([]state.PixelPoint, len(s.Points)),
			color:  [3]int{int(c.R), int(c.G), int(c.B)},
			width:  s.Width,
		}
		if ps.width <= 0 {
			ps.width = 1
		}
		for i, p := range s.Points {
			ps.points[i] = state.Denormalize(p.NX, p.NY, canvas)
		}
		out = append(out, ps)
	}
	return out, nil
}
