package export

import (
	"fmt"
	"image/color"
	"io"

	"github.com/gogpu/gg"

	"github.com/sanehaakhtar/localboard/internal/state"
)

// PNG rasterises strokes on a white background.
type PNG struct{}

var _ Renderer = PNG{}

func (PNG) Render(w io.Writer, strokes []state.Stroke, width, height int) error {
	laid, err := layout(strokes, width, height)
	if err != nil {
		return err
	}

	dc := gg.NewContext(width, height)
	defer dc.Close()
	dc.ClearWithColor(gg.White)
	dc.SetLineCap(gg.LineCapRound)
	dc.SetLineJoin(gg.LineJoinRound)

	for _, s := range laid {
		dc.SetColor(color.NRGBA{R: uint8(s.color[0]), G: uint8(s.color[1]), B: uint8(s.color[2]), A: 255})
		if len(s.points) == 1 {
			dc.DrawCircle(s.points[0].X, s.points[0].Y, s.width/2)
			if err := dc.Fill(); err != nil {
				return fmt.Errorf("png fill: %w", err)
			}
			continue
		}
		dc.SetLineWidth(s.width)
		dc.MoveTo(s.points[0].X, s.points[0].Y)
		for _, p := range s.points[1:] {
			dc.LineTo(p.X, p.Y)
		}
		if err := dc.Stroke(); err != nil {
			return fmt.Errorf("png stroke: %w", err)
		}
	}

	if err := dc.EncodePNG(w); err != nil {
		return fmt.Errorf("png encode: %w", err)
	}
	return nil
}
