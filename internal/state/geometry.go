package state

// PixelPoint is a position in a concrete canvas, in pixels.
type PixelPoint struct {
	X float64
	Y float64
}

// Rect is a canvas rectangle in pixels.
type Rect struct {
	X      float64
	Y      float64
	Width  float64
	Height float64
}

// Box is an axis-aligned bounding box in pixels.
type Box struct {
	MinX, MinY float64
	MaxX, MaxY float64
}

// Width of the box.
func (b Box) Width() float64 { return b.MaxX - b.MinX }

// Height of the box.
func (b Box) Height() float64 { return b.MaxY - b.MinY }

// Normalize maps a pixel point into resolution-independent coordinates
// relative to r. A degenerate rect maps to 0 on that axis.
func Normalize(p PixelPoint, r Rect) (nx, ny float64) {
	if r.Width != 0 {
		nx = (p.X - r.X) / r.Width
	}
	if r.Height != 0 {
		ny = (p.Y - r.Y) / r.Height
	}
	return nx, ny
}

// Denormalize maps a normalized point back into pixels of r.
func Denormalize(nx, ny float64, r Rect) PixelPoint {
	return PixelPoint{
		X: r.X + nx*r.Width,
		Y: r.Y + ny*r.Height,
	}
}

// Bounds returns the bounding box of points grown by padding on every side.
// ok is false for an empty slice.
func Bounds(points []PixelPoint, padding float64) (box Box, ok bool) {
	if len(points) == 0 {
		return Box{}, false
	}
	box = Box{MinX: points[0].X, MinY: points[0].Y, MaxX: points[0].X, MaxY: points[0].Y}
	for _, p := range points[1:] {
		if p.X < box.MinX {
			box.MinX = p.X
		}
		if p.X > box.MaxX {
			box.MaxX = p.X
		}
		if p.Y < box.MinY {
			box.MinY = p.Y
		}
		if p.Y > box.MaxY {
			box.MaxY = p.Y
		}
	}
	box.MinX -= padding
	box.MinY -= padding
	box.MaxX += padding
	box.MaxY += padding
	return box, true
}
