package state

// NormalizedPoint is a canvas position expressed as a fraction of the
// producer's canvas size. T is the producer's wall clock in milliseconds and
// carries no ordering meaning.
type NormalizedPoint struct {
	NX float64 `json:"nx"`
	NY float64 `json:"ny"`
	T  int64   `json:"t"`
}

// Stroke is one continuous pen gesture.
type Stroke struct {
	ID     string            `json:"id"`
	Points []NormalizedPoint `json:"points"`
	Color  string            `json:"color"`
	Width  float64           `json:"width"`
	Owner  string            `json:"owner"`

	// Sealed is advisory: appends are still accepted after stroke_end to
	// tolerate out-of-order delivery.
	Sealed bool `json:"sealed,omitempty"`
}

// Clone returns a deep copy of the stroke.
func (s Stroke) Clone() Stroke {
	out := s
	out.Points = make([]NormalizedPoint, len(s.Points))
	copy(out.Points, s.Points)
	return out
}

// Cursor is an ephemeral pointer position. It never enters RoomState.
type Cursor struct {
	SessionID string  `json:"sessionId,omitempty"`
	NX        float64 `json:"nx"`
	NY        float64 `json:"ny"`
	Color     string  `json:"color,omitempty"`
}

// Snapshot is the full-state transfer handed to a joining client.
type Snapshot struct {
	RoomID   string   `json:"roomId"`
	Revision uint64   `json:"revision"`
	Strokes  []Stroke `json:"strokes"`
}

func cloneStrokes(in []*Stroke) []Stroke {
	out := make([]Stroke, 0, len(in))
	for _, s := range in {
		out = append(out, s.Clone())
	}
	return out
}
