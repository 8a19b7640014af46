// Package shape classifies finished strokes into template shapes.
package shape

import (
	"math"
	"sort"

	"github.com/sanehaakhtar/localboard/internal/state"
)

const (
	Line      = "line"
	Circle    = "circle"
	Rectangle = "rectangle"
	Triangle  = "triangle"
	Scribble  = "scribble"
)

// Candidate is one ranked guess.
type Candidate struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
}

// Recognizer ranks shape labels for a pixel-space stroke. Implementations
// must be deterministic, return confidences in [0,1] sorted descending and
// return at most k candidates.
type Recognizer interface {
	Recognize(points []state.PixelPoint, box state.Box, k int) []Candidate
}

// Heuristic scores strokes from simple geometric features: straightness,
// closure, radius spread and filled-area ratio.
type Heuristic struct{}

var _ Recognizer = Heuristic{}

// Recognize implements Recognizer. A zero-sized box is replaced by the tight
// bounds of points.
func (Heuristic) Recognize(points []state.PixelPoint, box state.Box, k int) []Candidate {
	if k <= 0 {
		return nil
	}
	if box.Width() <= 0 && box.Height() <= 0 {
		box, _ = state.Bounds(points, 0)
	}
	diag := math.Hypot(box.Width(), box.Height())
	if len(points) < 2 || diag == 0 {
		return truncate([]Candidate{{Label: Scribble, Confidence: 1}}, k)
	}

	f := extract(points, box, diag)

	scores := map[string]float64{
		Line:      clamp01((f.straightness - 0.75) / 0.25),
		Circle:    f.closed * clamp01(1-f.radiusSpread/0.25) * clamp01(1-math.Abs(f.fillRatio-math.Pi/4)/0.25),
		Rectangle: f.closed * f.edgeFraction * clamp01(1-math.Abs(f.fillRatio-1)/0.3),
		Triangle:  f.closed * clamp01(1-math.Abs(f.fillRatio-0.5)/0.2),
	}
	best := 0.0
	for _, s := range scores {
		best = math.Max(best, s)
	}
	scores[Scribble] = 1 - best

	out := make([]Candidate, 0, len(scores))
	for label, c := range scores {
		out = append(out, Candidate{Label: label, Confidence: c})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Confidence != out[j].Confidence {
			return out[i].Confidence > out[j].Confidence
		}
		return out[i].Label < out[j].Label
	})
	return truncate(out, k)
}

type features struct {
	straightness float64
	closed       float64
	radiusSpread float64
	fillRatio    float64
	edgeFraction float64
}

func extract(points []state.PixelPoint, box state.Box, diag float64) features {
	var f features

	pathLen := 0.0
	for i := 1; i < len(points); i++ {
		pathLen += dist(points[i-1], points[i])
	}
	ends := dist(points[0], points[len(points)-1])
	if pathLen > 0 {
		f.straightness = ends / pathLen
	}
	f.closed = clamp01(1 - (ends/diag)/0.25)

	var cx, cy float64
	for _, p := range points {
		cx += p.X
		cy += p.Y
	}
	cx /= float64(len(points))
	cy /= float64(len(points))
	center := state.PixelPoint{X: cx, Y: cy}

	var sum, sumSq float64
	for _, p := range points {
		r := dist(p, center)
		sum += r
		sumSq += r * r
	}
	mean := sum / float64(len(points))
	if mean > 0 {
		variance := math.Max(sumSq/float64(len(points))-mean*mean, 0)
		f.radiusSpread = math.Sqrt(variance) / mean
	}

	if area := box.Width() * box.Height(); area > 0 {
		f.fillRatio = polygonArea(points) / area
	}

	tol := math.Max(0.08*math.Min(box.Width(), box.Height()), 1)
	near := 0
	for _, p := range points {
		d := math.Min(
			math.Min(math.Abs(p.X-box.MinX), math.Abs(box.MaxX-p.X)),
			math.Min(math.Abs(p.Y-box.MinY), math.Abs(box.MaxY-p.Y)),
		)
		if d <= tol {
			near++
		}
	}
	f.edgeFraction = float64(near) / float64(len(points))
	return f
}

// polygonArea is the shoelace area of points treated as a closed polygon.
func polygonArea(points []state.PixelPoint) float64 {
	area := 0.0
	for i := range points {
		j := (i + 1) % len(points)
		area += points[i].X*points[j].Y - points[j].X*points[i].Y
	}
	return math.Abs(area) / 2
}

func dist(a, b state.PixelPoint) float64 {
	return math.Hypot(a.X-b.X, a.Y-b.Y)
}

func clamp01(v float64) float64 {
	return math.Min(math.Max(v, 0), 1)
}

func truncate(c []Candidate, k int) []Candidate {
	if len(c) > k {
		return c[:k]
	}
	return c
}
