package export

import (
	"fmt"
	"io"

	"github.com/jung-kurt/gofpdf"

	"github.com/sanehaakhtar/localboard/internal/state"
)

// PDF writes a single page sized to the canvas, one point per pixel.
type PDF struct {
	Title string
}

var _ Renderer = PDF{}

func (r PDF) Render(w io.Writer, strokes []state.Stroke, width, height int) error {
	laid, err := layout(strokes, width, height)
	if err != nil {
		return err
	}

	p := gofpdf.NewCustom(&gofpdf.InitType{
		OrientationStr: "P",
		UnitStr:        "pt",
		Size:           gofpdf.SizeType{Wd: float64(width), Ht: float64(height)},
	})
	p.SetCreator("localboard", true)
	if r.Title != "" {
		p.SetTitle(r.Title, true)
	}
	p.AddPage()
	p.SetLineCapStyle("round")
	p.SetLineJoinStyle("round")

	for _, s := range laid {
		p.SetDrawColor(s.color[0], s.color[1], s.color[2])
		p.SetFillColor(s.color[0], s.color[1], s.color[2])
		if len(s.points) == 1 {
			p.Circle(s.points[0].X, s.points[0].Y, s.width/2, "F")
			continue
		}
		p.SetLineWidth(s.width)
		p.MoveTo(s.points[0].X, s.points[0].Y)
		for _, pt := range s.points[1:] {
			p.LineTo(pt.X, pt.Y)
		}
		p.DrawPath("D")
	}

	if err := p.Output(w); err != nil {
		return fmt.Errorf("pdf output: %w", err)
	}
	return nil
}
