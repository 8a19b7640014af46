// Package client keeps a local, optimistic copy of a room and talks to the
// localboard server.
package client

import (
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/sanehaakhtar/localboard/internal/protocol"
	"github.com/sanehaakhtar/localboard/internal/shape"
	"github.com/sanehaakhtar/localboard/internal/state"
)

// PixelStroke is a stroke resolved against a concrete canvas.
type PixelStroke struct {
	ID     string
	Points []state.PixelPoint
	Color  string
	Width  float64

	// Local marks the stroke this client is currently drawing. Sealed is set
	// once the owner has ended the stroke.
	Local  bool
	Sealed bool
}

// PixelCursor is a remote pointer resolved against a concrete canvas.
type PixelCursor struct {
	SessionID string
	Point     state.PixelPoint
	Color     string
}

// Reconciler applies server messages to a local model of one room.
//
// Points are stored normalized; pixel coordinates are produced only by
// Render and Cursors. Undo and clear are applied when the server echoes
// them, never optimistically. An undo echo names the stroke the room
// removed, so the same stroke leaves the local model even when local order
// differs from the room's.
type Reconciler struct {
	logger     zerolog.Logger
	recognizer shape.Recognizer
	now        func() time.Time

	mu       sync.Mutex
	roomID   string
	self     string
	strokes  []*state.Stroke
	index    map[string]*state.Stroke
	open     map[string]string
	last     string
	local    string
	cursors  map[string]state.Cursor
	members  map[string]struct{}
	revision uint64
}

// Option customises a Reconciler.
type Option func(*Reconciler)

// WithRecognizer replaces the default heuristic shape recognizer.
func WithRecognizer(r shape.Recognizer) Option {
	return func(rc *Reconciler) { rc.recognizer = r }
}

// WithClock sets the source of point timestamps.
func WithClock(now func() time.Time) Option {
	return func(rc *Reconciler) { rc.now = now }
}

// NewReconciler creates an empty model for roomID.
func NewReconciler(roomID string, logger zerolog.Logger, opts ...Option) *Reconciler {
	rc := &Reconciler{
		logger:     logger.With().Str("component", "reconciler").Str("room", roomID).Logger(),
		recognizer: shape.Heuristic{},
		now:        time.Now,
		roomID:     roomID,
		index:      make(map[string]*state.Stroke),
		open:       make(map[string]string),
		cursors:    make(map[string]state.Cursor),
		members:    make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(rc)
	}
	return rc
}

// RoomID returns the room this model tracks.
func (rc *Reconciler) RoomID() string { return rc.roomID }

// SessionID returns the identity assigned by the server's hello, if seen.
func (rc *Reconciler) SessionID() string {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return rc.self
}

// Revision returns the revision of the last applied snapshot.
func (rc *Reconciler) Revision() uint64 {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return rc.revision
}

// Join returns the join_room message. Sending it again later re-hydrates
// the model from a fresh snapshot.
func (rc *Reconciler) Join() protocol.Message {
	return protocol.JoinRoom(rc.roomID)
}

// BeginStroke starts the local optimistic stroke and returns its
// stroke_start message. An unfinished local stroke is abandoned.
func (rc *Reconciler) BeginStroke(p state.PixelPoint, canvas state.Rect, color string, width float64) protocol.Message {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	s := state.Stroke{
		ID:     uuid.NewString(),
		Points: []state.NormalizedPoint{rc.normalize(p, canvas)},
		Color:  color,
		Width:  width,
		Owner:  rc.self,
	}
	rc.insertLocked(s.Clone())
	rc.local = s.ID
	return protocol.StrokeStart(rc.roomID, s)
}

// ExtendStroke adds a point to the local stroke. ok is false when no local
// stroke is in progress.
func (rc *Reconciler) ExtendStroke(p state.PixelPoint, canvas state.Rect) (msg protocol.Message, ok bool) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	if rc.local == "" {
		return protocol.Message{}, false
	}
	pt := rc.normalize(p, canvas)
	if s, found := rc.index[rc.local]; found {
		s.Points = append(s.Points, pt)
	}
	return protocol.StrokeAppend(rc.roomID, rc.local, pt), true
}

// EndStroke finishes the local stroke.
func (rc *Reconciler) EndStroke() (msg protocol.Message, ok bool) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	if rc.local == "" {
		return protocol.Message{}, false
	}
	id := rc.local
	rc.local = ""
	if s, found := rc.index[id]; found {
		s.Sealed = true
	}
	return protocol.StrokeEnd(rc.roomID, id), true
}

// MoveCursor returns a cursor message for a local pointer position.
func (rc *Reconciler) MoveCursor(p state.PixelPoint, canvas state.Rect, color string) protocol.Message {
	nx, ny := state.Normalize(p, canvas)
	return protocol.CursorMove(rc.roomID, nx, ny, color)
}

// Undo returns an undo message. The model changes when the server relays it.
func (rc *Reconciler) Undo() protocol.Message { return protocol.Undo(rc.roomID) }

// Clear returns a clear message. The model changes when the server relays it.
func (rc *Reconciler) Clear() protocol.Message { return protocol.Clear(rc.roomID) }

// Apply folds one server message into the model. Messages for other rooms
// are ignored.
func (rc *Reconciler) Apply(msg protocol.Message) {
	rc.mu.Lock()
	defer rc.mu.Unlock()

	if msg.Type == protocol.TypeHello {
		rc.self = msg.SessionID
		return
	}
	if msg.RoomID != rc.roomID {
		return
	}

	switch msg.Type {
	case protocol.TypeSnapshot:
		if msg.Snapshot != nil {
			rc.hydrateLocked(*msg.Snapshot)
		}
	case protocol.TypeUserJoined:
		rc.members[msg.SessionID] = struct{}{}
	case protocol.TypeUserLeft:
		delete(rc.members, msg.SessionID)
		delete(rc.cursors, msg.SessionID)
		delete(rc.open, msg.SessionID)
	case protocol.TypeStrokeStart:
		if msg.Stroke != nil {
			rc.remoteStartLocked(msg.SenderID, *msg.Stroke)
		}
	case protocol.TypeStrokeAppend:
		if msg.Point != nil {
			rc.remoteAppendLocked(msg.SenderID, msg.StrokeID, *msg.Point)
		}
	case protocol.TypeStrokeEnd:
		rc.remoteEndLocked(msg.SenderID, msg.StrokeID)
	case protocol.TypeUndo:
		rc.undoLocked(msg.StrokeID)
	case protocol.TypeClear:
		rc.clearLocked()
	case protocol.TypeCursor:
		if msg.Cursor != nil && msg.SenderID != rc.self {
			c := *msg.Cursor
			c.SessionID = msg.SenderID
			rc.cursors[msg.SenderID] = c
		}
	}
}

func (rc *Reconciler) hydrateLocked(snap state.Snapshot) {
	clear(rc.strokes)
	rc.strokes = rc.strokes[:0]
	rc.index = make(map[string]*state.Stroke, len(snap.Strokes))
	rc.open = make(map[string]string)
	rc.last = ""
	for _, s := range snap.Strokes {
		rc.insertLocked(s.Clone())
	}
	if n := len(rc.strokes); n > 0 {
		rc.last = rc.strokes[n-1].ID
	}
	if _, ok := rc.index[rc.local]; !ok {
		rc.local = ""
	}
	rc.revision = snap.Revision
	rc.logger.Debug().Int("strokes", len(snap.Strokes)).Uint64("revision", snap.Revision).Msg("hydrated")
}

func (rc *Reconciler) remoteStartLocked(sender string, s state.Stroke) {
	if sender == rc.self {
		return
	}
	if _, dup := rc.index[s.ID]; dup {
		return
	}
	s.Owner = sender
	rc.insertLocked(s.Clone())
	rc.open[sender] = s.ID
	rc.last = s.ID
}

// remoteAppendLocked routes a point by stroke id. Only when the message
// carries no id does it fall back to the sender's open stroke, then to the
// most recently received stroke. The last step is best-effort recovery for
// mis-ordered delivery. An unknown id is a race and is dropped.
func (rc *Reconciler) remoteAppendLocked(sender, strokeID string, p state.NormalizedPoint) {
	if sender == rc.self {
		return
	}
	var target *state.Stroke
	ok := false
	if strokeID != "" {
		target, ok = rc.index[strokeID]
	} else {
		target, ok = rc.index[rc.open[sender]]
	}
	if !ok && strokeID == "" {
		target, ok = rc.index[rc.last]
		if ok {
			rc.logger.Debug().Str("session", sender).Str("stroke", rc.last).Msg("append routed to last received stroke")
		}
	}
	if !ok {
		return
	}
	target.Points = append(target.Points, p)
}

func (rc *Reconciler) remoteEndLocked(sender, strokeID string) {
	if strokeID == "" {
		strokeID = rc.open[sender]
	}
	if rc.open[sender] == strokeID {
		delete(rc.open, sender)
	}
	if s, ok := rc.index[strokeID]; ok {
		s.Sealed = true
	}
}

// undoLocked removes strokeID, or the local tail when the echo names no
// stroke.
func (rc *Reconciler) undoLocked(strokeID string) {
	n := len(rc.strokes)
	if n == 0 {
		return
	}
	i := n - 1
	if strokeID != "" {
		i = slices.IndexFunc(rc.strokes, func(s *state.Stroke) bool { return s.ID == strokeID })
		if i < 0 {
			return
		}
	}
	removed := rc.strokes[i]
	rc.strokes = slices.Delete(rc.strokes, i, i+1)
	rc.forgetLocked(removed.ID)
}

func (rc *Reconciler) clearLocked() {
	clear(rc.strokes)
	rc.strokes = rc.strokes[:0]
	rc.index = make(map[string]*state.Stroke)
	rc.open = make(map[string]string)
	rc.last = ""
	rc.local = ""
}

func (rc *Reconciler) forgetLocked(id string) {
	delete(rc.index, id)
	for sender, open := range rc.open {
		if open == id {
			delete(rc.open, sender)
		}
	}
	if rc.last == id {
		rc.last = ""
		if n := len(rc.strokes); n > 0 {
			rc.last = rc.strokes[n-1].ID
		}
	}
	if rc.local == id {
		rc.local = ""
	}
}

func (rc *Reconciler) insertLocked(s state.Stroke) {
	rc.strokes = append(rc.strokes, &s)
	rc.index[s.ID] = &s
}

func (rc *Reconciler) normalize(p state.PixelPoint, canvas state.Rect) state.NormalizedPoint {
	nx, ny := state.Normalize(p, canvas)
	return state.NormalizedPoint{NX: nx, NY: ny, T: rc.now().UnixMilli()}
}

// Strokes returns a deep copy of the persisted model in local order.
func (rc *Reconciler) Strokes() []state.Stroke {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	out := make([]state.Stroke, 0, len(rc.strokes))
	for _, s := range rc.strokes {
		out = append(out, s.Clone())
	}
	return out
}

// Members returns the other sessions seen joining, sorted.
func (rc *Reconciler) Members() []string {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	out := make([]string, 0, len(rc.members))
	for id := range rc.members {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Render denormalizes every stroke against canvas.
func (rc *Reconciler) Render(canvas state.Rect) []PixelStroke {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	out := make([]PixelStroke, 0, len(rc.strokes))
	for _, s := range rc.strokes {
		out = append(out, PixelStroke{
			ID:     s.ID,
			Points: pixels(s.Points, canvas),
			Color:  s.Color,
			Width:  s.Width,
			Local:  s.ID == rc.local,
			Sealed: s.Sealed,
		})
	}
	return out
}

// Cursors denormalizes remote cursors against canvas, sorted by session.
func (rc *Reconciler) Cursors(canvas state.Rect) []PixelCursor {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	out := make([]PixelCursor, 0, len(rc.cursors))
	for id, c := range rc.cursors {
		out = append(out, PixelCursor{
			SessionID: id,
			Point:     state.Denormalize(c.NX, c.NY, canvas),
			Color:     c.Color,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SessionID < out[j].SessionID })
	return out
}

// Recognize hands a stroke's pixel geometry and bounds to the shape
// recognizer. ok is false for an unknown stroke.
func (rc *Reconciler) Recognize(strokeID string, canvas state.Rect, k int) (candidates []shape.Candidate, ok bool) {
	rc.mu.Lock()
	s, found := rc.index[strokeID]
	var pts []state.PixelPoint
	if found {
		pts = pixels(s.Points, canvas)
	}
	rc.mu.Unlock()
	if !found {
		return nil, false
	}
	box, _ := state.Bounds(pts, 0)
	return rc.recognizer.Recognize(pts, box, k), true
}

func pixels(points []state.NormalizedPoint, canvas state.Rect) []state.PixelPoint {
	out := make([]state.PixelPoint, len(points))
	for i, p := range points {
		out[i] = state.Denormalize(p.NX, p.NY, canvas)
	}
	return out
}
