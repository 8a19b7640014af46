package client

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sanehaakhtar/localboard/internal/protocol"
	"github.com/sanehaakhtar/localboard/internal/shape"
	"github.com/sanehaakhtar/localboard/internal/state"
)

var canvas = state.Rect{Width: 200, Height: 100}

func newTestReconciler(t *testing.T) *Reconciler {
	t.Helper()
	clock := time.UnixMilli(1_700_000_000_000)
	rc := NewReconciler("R1", zerolog.Nop(), WithClock(func() time.Time { return clock }))
	rc.Apply(protocol.Message{Type: protocol.TypeHello, SessionID: "me"})
	return rc
}

func remote(msg protocol.Message, sender string) protocol.Message {
	msg.SenderID = sender
	return msg
}

func np(x, y float64) state.NormalizedPoint {
	return state.NormalizedPoint{NX: x, NY: y}
}

func ids(strokes []state.Stroke) []string {
	out := make([]string, 0, len(strokes))
	for _, s := range strokes {
		out = append(out, s.ID)
	}
	return out
}

func TestHydrateReplacesModel(t *testing.T) {
	rc := newTestReconciler(t)
	rc.Apply(remote(protocol.StrokeStart("R1", state.Stroke{ID: "old", Points: []state.NormalizedPoint{np(0, 0)}}), "b"))

	rc.Apply(protocol.Message{Type: protocol.TypeSnapshot, RoomID: "R1", Snapshot: &state.Snapshot{
		RoomID:   "R1",
		Revision: 7,
		Strokes: []state.Stroke{
			{ID: "s1", Owner: "a", Points: []state.NormalizedPoint{np(0.1, 0.1)}},
			{ID: "s2", Owner: "b", Points: []state.NormalizedPoint{np(0.2, 0.2)}},
		},
	}})

	assert.Equal(t, []string{"s1", "s2"}, ids(rc.Strokes()))
	assert.Equal(t, uint64(7), rc.Revision())
}

func TestAppendRoutesByStrokeID(t *testing.T) {
	rc := newTestReconciler(t)
	rc.Apply(remote(protocol.StrokeStart("R1", state.Stroke{ID: "a1", Points: []state.NormalizedPoint{np(0.1, 0.1)}}), "a"))
	rc.Apply(remote(protocol.StrokeStart("R1", state.Stroke{ID: "b1", Points: []state.NormalizedPoint{np(0.9, 0.9)}}), "b"))

	rc.Apply(remote(protocol.StrokeAppend("R1", "a1", np(0.2, 0.2)), "a"))
	rc.Apply(remote(protocol.StrokeAppend("R1", "b1", np(0.8, 0.8)), "b"))
	rc.Apply(remote(protocol.StrokeAppend("R1", "a1", np(0.3, 0.3)), "a"))

	got := rc.Strokes()
	require.Len(t, got, 2)
	assert.Equal(t, []state.NormalizedPoint{np(0.1, 0.1), np(0.2, 0.2), np(0.3, 0.3)}, got[0].Points)
	assert.Equal(t, []state.NormalizedPoint{np(0.9, 0.9), np(0.8, 0.8)}, got[1].Points)
	assert.Equal(t, "a", got[0].Owner)
}

func TestAppendFallbacks(t *testing.T) {
	rc := newTestReconciler(t)
	rc.Apply(remote(protocol.StrokeStart("R1", state.Stroke{ID: "a1", Points: []state.NormalizedPoint{np(0.1, 0.1)}}), "a"))
	rc.Apply(remote(protocol.StrokeStart("R1", state.Stroke{ID: "b1", Points: []state.NormalizedPoint{np(0.9, 0.9)}}), "b"))

	// no stroke id: the sender's open stroke
	rc.Apply(remote(protocol.StrokeAppend("R1", "", np(0.2, 0.2)), "a"))
	// no id and no open stroke for the sender: most recently received stroke
	rc.Apply(remote(protocol.StrokeAppend("R1", "", np(0.5, 0.5)), "ghost"))
	// an unknown id is a race, not a routing hint
	rc.Apply(remote(protocol.StrokeAppend("R1", "gone", np(0.7, 0.7)), "ghost"))

	got := rc.Strokes()
	assert.Len(t, got[0].Points, 2)
	assert.Equal(t, []state.NormalizedPoint{np(0.9, 0.9), np(0.5, 0.5)}, got[1].Points)
}

func TestStrokeEndClosesSenderMapping(t *testing.T) {
	rc := newTestReconciler(t)
	rc.Apply(remote(protocol.StrokeStart("R1", state.Stroke{ID: "a1", Points: []state.NormalizedPoint{np(0.1, 0.1)}}), "a"))
	rc.Apply(remote(protocol.StrokeStart("R1", state.Stroke{ID: "b1", Points: []state.NormalizedPoint{np(0.9, 0.9)}}), "b"))
	rc.Apply(remote(protocol.StrokeEnd("R1", "a1"), "a"))

	rc.Apply(remote(protocol.StrokeAppend("R1", "", np(0.4, 0.4)), "a"))

	got := rc.Strokes()
	assert.Len(t, got[0].Points, 1)
	assert.Len(t, got[1].Points, 2, "fell back to the last received stroke")
}

func TestUndoAndClearMirrorRegistry(t *testing.T) {
	rc := newTestReconciler(t)
	rc.Apply(protocol.Message{Type: protocol.TypeUndo, RoomID: "R1"})
	rc.Apply(protocol.Message{Type: protocol.TypeClear, RoomID: "R1"})
	assert.Empty(t, rc.Strokes())

	for _, id := range []string{"s1", "s2", "s3"} {
		rc.Apply(remote(protocol.StrokeStart("R1", state.Stroke{ID: id, Points: []state.NormalizedPoint{np(0.5, 0.5)}}), "b"))
	}
	rc.Apply(remote(protocol.Undo("R1"), "c"))
	assert.Equal(t, []string{"s1", "s2"}, ids(rc.Strokes()))

	// the undone stroke no longer receives points
	rc.Apply(remote(protocol.StrokeAppend("R1", "s3", np(0.1, 0.1)), "b"))
	assert.Equal(t, []string{"s1", "s2"}, ids(rc.Strokes()))

	rc.Apply(remote(protocol.Clear("R1"), "c"))
	assert.Empty(t, rc.Strokes())
	rc.Apply(remote(protocol.StrokeAppend("R1", "", np(0.1, 0.1)), "b"))
	assert.Empty(t, rc.Strokes())
}

func TestLocalStrokeIsOptimistic(t *testing.T) {
	rc := newTestReconciler(t)

	_, ok := rc.ExtendStroke(state.PixelPoint{X: 1, Y: 1}, canvas)
	assert.False(t, ok)

	start := rc.BeginStroke(state.PixelPoint{X: 20, Y: 10}, canvas, "red", 4)
	require.Equal(t, protocol.TypeStrokeStart, start.Type)
	require.NotNil(t, start.Stroke)
	id := start.Stroke.ID
	assert.NotEmpty(t, id)
	assert.Equal(t, "me", start.Stroke.Owner)
	assert.InDelta(t, 0.1, start.Stroke.Points[0].NX, 1e-9)
	assert.Equal(t, int64(1_700_000_000_000), start.Stroke.Points[0].T)

	ext, ok := rc.ExtendStroke(state.PixelPoint{X: 100, Y: 50}, canvas)
	require.True(t, ok)
	assert.Equal(t, id, ext.StrokeID)
	assert.InDelta(t, 0.5, ext.Point.NY, 1e-9)

	rendered := rc.Render(canvas)
	require.Len(t, rendered, 1)
	assert.True(t, rendered[0].Local)
	assert.Len(t, rendered[0].Points, 2)

	end, ok := rc.EndStroke()
	require.True(t, ok)
	assert.Equal(t, id, end.StrokeID)
	assert.False(t, rc.Render(canvas)[0].Local)

	_, ok = rc.EndStroke()
	assert.False(t, ok)
}

func TestOwnEchoIsIgnored(t *testing.T) {
	rc := newTestReconciler(t)
	start := rc.BeginStroke(state.PixelPoint{X: 20, Y: 10}, canvas, "red", 4)

	rc.Apply(remote(start, "me"))
	rc.Apply(remote(protocol.StrokeAppend("R1", start.Stroke.ID, np(0.9, 0.9)), "me"))

	got := rc.Strokes()
	require.Len(t, got, 1)
	assert.Len(t, got[0].Points, 1)
}

func TestUndoOfLocalStrokeEndsGesture(t *testing.T) {
	rc := newTestReconciler(t)
	rc.BeginStroke(state.PixelPoint{X: 20, Y: 10}, canvas, "red", 4)

	undo := rc.Undo()
	assert.Len(t, rc.Strokes(), 1, "undo waits for the relay")
	rc.Apply(remote(undo, "me"))

	assert.Empty(t, rc.Strokes())
	_, ok := rc.EndStroke()
	assert.False(t, ok)
}

func TestRenderDenormalizesAtRenderTime(t *testing.T) {
	rc := newTestReconciler(t)
	rc.Apply(remote(protocol.StrokeStart("R1", state.Stroke{ID: "s1", Color: "blue", Width: 2, Points: []state.NormalizedPoint{np(0.5, 0.25)}}), "b"))

	small := rc.Render(state.Rect{Width: 100, Height: 100})
	large := rc.Render(state.Rect{X: 10, Y: 20, Width: 400, Height: 200})

	assert.Equal(t, state.PixelPoint{X: 50, Y: 25}, small[0].Points[0])
	assert.Equal(t, state.PixelPoint{X: 210, Y: 70}, large[0].Points[0])
	assert.Equal(t, "blue", large[0].Color)
}

func TestCursors(t *testing.T) {
	rc := newTestReconciler(t)
	rc.Apply(remote(protocol.CursorMove("R1", 0.5, 0.5, "red"), "b"))
	rc.Apply(remote(protocol.CursorMove("R1", 0.1, 0.2, "green"), "a"))
	rc.Apply(remote(protocol.CursorMove("R1", 0.3, 0.3, "blue"), "me"))
	rc.Apply(remote(protocol.CursorMove("R1", 0.25, 0.5, "red"), "b"))

	got := rc.Cursors(canvas)
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].SessionID)
	assert.Equal(t, PixelCursor{SessionID: "b", Point: state.PixelPoint{X: 50, Y: 50}, Color: "red"}, got[1])

	rc.Apply(protocol.Message{Type: protocol.TypeUserLeft, RoomID: "R1", SessionID: "b"})
	got = rc.Cursors(canvas)
	require.Len(t, got, 1)
	assert.Equal(t, "a", got[0].SessionID)
	assert.Empty(t, rc.Strokes(), "cursors never enter the stroke model")
}

func TestMembers(t *testing.T) {
	rc := newTestReconciler(t)
	rc.Apply(protocol.Message{Type: protocol.TypeUserJoined, RoomID: "R1", SessionID: "z"})
	rc.Apply(protocol.Message{Type: protocol.TypeUserJoined, RoomID: "R1", SessionID: "a"})
	rc.Apply(protocol.Message{Type: protocol.TypeUserLeft, RoomID: "R1", SessionID: "z"})
	assert.Equal(t, []string{"a"}, rc.Members())
}

func TestOtherRoomsIgnored(t *testing.T) {
	rc := newTestReconciler(t)
	rc.Apply(remote(protocol.StrokeStart("R2", state.Stroke{ID: "x", Points: []state.NormalizedPoint{np(0, 0)}}), "b"))
	rc.Apply(protocol.Message{Type: protocol.TypeSnapshot, RoomID: "R2", Snapshot: &state.Snapshot{
		Strokes: []state.Stroke{{ID: "y"}},
	}})
	assert.Empty(t, rc.Strokes())
	assert.Equal(t, "me", rc.SessionID())
}

type fixedRecognizer struct {
	gotPoints []state.PixelPoint
	gotBox    state.Box
}

func (f *fixedRecognizer) Recognize(points []state.PixelPoint, box state.Box, k int) []shape.Candidate {
	f.gotPoints, f.gotBox = points, box
	return []shape.Candidate{{Label: shape.Line, Confidence: 1}}[:min(k, 1)]
}

func TestRecognize(t *testing.T) {
	t.Run("default heuristic", func(t *testing.T) {
		rc := newTestReconciler(t)
		start := rc.BeginStroke(state.PixelPoint{X: 0, Y: 0}, canvas, "black", 2)
		for i := 1; i <= 10; i++ {
			rc.ExtendStroke(state.PixelPoint{X: float64(i) * 15, Y: float64(i) * 8}, canvas)
		}
		got, ok := rc.Recognize(start.Stroke.ID, canvas, 3)
		require.True(t, ok)
		require.Len(t, got, 3)
		assert.Equal(t, shape.Line, got[0].Label)
	})

	t.Run("pixel geometry and bounds", func(t *testing.T) {
		rec := &fixedRecognizer{}
		rc := NewReconciler("R1", zerolog.Nop(), WithRecognizer(rec))
		rc.Apply(remote(protocol.StrokeStart("R1", state.Stroke{ID: "s1", Points: []state.NormalizedPoint{np(0.1, 0.2), np(0.5, 0.6)}}), "b"))

		got, ok := rc.Recognize("s1", canvas, 5)
		require.True(t, ok)
		assert.Len(t, got, 1)
		assert.Equal(t, []state.PixelPoint{{X: 20, Y: 20}, {X: 100, Y: 60}}, rec.gotPoints)
		assert.Equal(t, state.Box{MinX: 20, MinY: 20, MaxX: 100, MaxY: 60}, rec.gotBox)
	})

	t.Run("unknown stroke", func(t *testing.T) {
		rc := newTestReconciler(t)
		_, ok := rc.Recognize("nope", canvas, 3)
		assert.False(t, ok)
	})
}

type roomMember string

func (m roomMember) SessionID() string { return string(m) }

func (roomMember) Enqueue([]byte) bool { return true }

func TestUndoAfterConcurrentStartsMatchesRegistry(t *testing.T) {
	reg := state.NewRegistry(zerolog.Nop())
	reg.Join("R1", roomMember("me"), nil, nil)
	reg.Join("R1", roomMember("b"), nil, nil)

	rc := newTestReconciler(t)
	mine := rc.BeginStroke(state.PixelPoint{X: 20, Y: 10}, canvas, "red", 4)
	theirs := remote(protocol.StrokeStart("R1", state.Stroke{ID: "b1", Points: []state.NormalizedPoint{np(0.9, 0.9)}}), "b")

	// b's start reaches the room first, but this client drew its own first.
	require.True(t, reg.StartStroke("R1", "b", *theirs.Stroke, state.Fanout{}))
	require.True(t, reg.StartStroke("R1", "me", *mine.Stroke, state.Fanout{}))
	rc.Apply(theirs)
	assert.Equal(t, []string{mine.Stroke.ID, "b1"}, ids(rc.Strokes()))

	var undo protocol.Message
	reg.Undo("R1", "b", func(removedID string) state.Fanout {
		undo = remote(protocol.Undo("R1"), "b")
		undo.StrokeID = removedID
		return state.Fanout{}
	})
	rc.Apply(undo)

	snap, ok := reg.Snapshot("R1")
	require.True(t, ok)
	assert.Equal(t, ids(snap.Strokes), ids(rc.Strokes()))
	assert.Equal(t, []string{"b1"}, ids(rc.Strokes()))
	_, drawing := rc.ExtendStroke(state.PixelPoint{X: 1, Y: 1}, canvas)
	assert.False(t, drawing, "the undone stroke was the local gesture")
}

func TestUndoOfUnknownStrokeIsIgnored(t *testing.T) {
	rc := newTestReconciler(t)
	rc.Apply(remote(protocol.StrokeStart("R1", state.Stroke{ID: "s1", Points: []state.NormalizedPoint{np(0.5, 0.5)}}), "b"))

	undo := remote(protocol.Undo("R1"), "b")
	undo.StrokeID = "gone"
	rc.Apply(undo)
	assert.Equal(t, []string{"s1"}, ids(rc.Strokes()))
}

func TestRehydrateDropsLocalGestureMissingFromSnapshot(t *testing.T) {
	rc := newTestReconciler(t)
	kept := rc.BeginStroke(state.PixelPoint{X: 20, Y: 10}, canvas, "red", 4)

	rc.Apply(protocol.Message{Type: protocol.TypeSnapshot, RoomID: "R1", Snapshot: &state.Snapshot{
		RoomID:  "R1",
		Strokes: []state.Stroke{*kept.Stroke},
	}})
	_, ok := rc.ExtendStroke(state.PixelPoint{X: 30, Y: 10}, canvas)
	assert.True(t, ok, "snapshot still holds the local stroke")

	rc.Apply(protocol.Message{Type: protocol.TypeSnapshot, RoomID: "R1", Snapshot: &state.Snapshot{RoomID: "R1"}})
	_, ok = rc.ExtendStroke(state.PixelPoint{X: 40, Y: 10}, canvas)
	assert.False(t, ok)
	_, ok = rc.EndStroke()
	assert.False(t, ok)
	assert.Empty(t, rc.Render(canvas))
}

func TestRenderReportsSealed(t *testing.T) {
	rc := newTestReconciler(t)
	rc.Apply(remote(protocol.StrokeStart("R1", state.Stroke{ID: "s1", Points: []state.NormalizedPoint{np(0.5, 0.5)}}), "b"))
	assert.False(t, rc.Render(canvas)[0].Sealed)

	rc.Apply(remote(protocol.StrokeEnd("R1", "s1"), "b"))
	assert.True(t, rc.Render(canvas)[0].Sealed)
}
