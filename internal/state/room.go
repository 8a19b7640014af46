package state

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Member is a joined connection that receives fan-out frames.
//
// Enqueue is called with the room lock held and must not block. It returns
// false when the frame could not be queued; the member is then expected to
// tear itself down, since its view of the room can no longer converge.
type Member interface {
	SessionID() string
	Enqueue(frame []byte) bool
}

// Fanout is the frame delivered to room members once an operation has been
// applied. A nil Frame delivers nothing.
type Fanout struct {
	Frame []byte
	// Everyone includes the acting session; otherwise it is skipped.
	Everyone bool
}

// Room owns one RoomState and the set of joined members. Every method runs
// inside the room's critical section; rooms never share a lock.
type Room struct {
	id     string
	logger zerolog.Logger

	mu           sync.Mutex
	strokes      []*Stroke
	index        map[string]*Stroke
	usedIDs      map[string]struct{}
	members      map[string]Member
	revision     uint64
	lastActivity time.Time
	evicted      bool
}

func newRoom(id string, logger zerolog.Logger) *Room {
	return &Room{
		id:           id,
		logger:       logger,
		index:        make(map[string]*Stroke),
		usedIDs:      make(map[string]struct{}),
		members:      make(map[string]Member),
		lastActivity: time.Now(),
	}
}

// ID returns the room identifier.
func (r *Room) ID() string { return r.id }

// Snapshot returns a deep copy of the room state.
func (r *Room) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked()
}

// MemberCount returns the number of joined sessions.
func (r *Room) MemberCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.members)
}

func (r *Room) snapshotLocked() Snapshot {
	return Snapshot{
		RoomID:   r.id,
		Revision: r.revision,
		Strokes:  cloneStrokes(r.strokes),
	}
}

// join registers m. The reply frame, built from the snapshot taken under the
// same lock, is queued to m before any later fan-out can reach it.
func (r *Room) join(m Member, notice []byte, reply func(Snapshot) []byte) (Snapshot, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.evicted {
		return Snapshot{}, false
	}
	sid := m.SessionID()
	_, rejoin := r.members[sid]
	r.members[sid] = m
	r.touch()

	snap := r.snapshotLocked()
	if reply != nil {
		if frame := reply(snap); frame != nil {
			m.Enqueue(frame)
		}
	}
	if !rejoin {
		r.fanoutLocked(sid, Fanout{Frame: notice})
	}
	return snap, true
}

func (r *Room) leave(sessionID string, notice []byte) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.members[sessionID]; !ok {
		return false
	}
	delete(r.members, sessionID)
	r.touch()
	r.fanoutLocked(sessionID, Fanout{Frame: notice})
	return true
}

func (r *Room) startStroke(sender string, s Stroke, out Fanout) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s.ID == "" {
		return false
	}
	if _, dup := r.usedIDs[s.ID]; dup {
		r.logger.Debug().Str("stroke", s.ID).Str("session", sender).Msg("duplicate stroke id ignored")
		return false
	}
	stroke := s.Clone()
	stroke.Owner = sender
	stroke.Sealed = false
	r.strokes = append(r.strokes, &stroke)
	r.index[stroke.ID] = &stroke
	r.usedIDs[stroke.ID] = struct{}{}
	r.mutated()
	r.fanoutLocked(sender, out)
	return true
}

// appendPoint resolves the target strictly by stroke id.
func (r *Room) appendPoint(sender, strokeID string, p NormalizedPoint, out Fanout) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	stroke, ok := r.ownedLocked(sender, strokeID)
	if !ok {
		return false
	}
	stroke.Points = append(stroke.Points, p)
	r.mutated()
	r.fanoutLocked(sender, out)
	return true
}

func (r *Room) endStroke(sender, strokeID string, out Fanout) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	stroke, ok := r.ownedLocked(sender, strokeID)
	if !ok {
		return false
	}
	stroke.Sealed = true
	r.touch()
	r.fanoutLocked(sender, out)
	return true
}

// undo builds its fan-out from the removed stroke's id, which is empty when
// the room had nothing to remove.
func (r *Room) undo(sender string, relay func(removedID string) Fanout) (Stroke, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var removed Stroke
	ok := false
	if n := len(r.strokes); n > 0 {
		last := r.strokes[n-1]
		r.strokes[n-1] = nil
		r.strokes = r.strokes[:n-1]
		delete(r.index, last.ID)
		removed, ok = *last, true
		r.mutated()
	} else {
		r.touch()
	}
	if relay != nil {
		r.fanoutLocked(sender, relay(removed.ID))
	}
	return removed, ok
}

func (r *Room) clear(sender string, out Fanout) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := len(r.strokes)
	if n > 0 {
		r.strokes = nil
		r.index = make(map[string]*Stroke)
		r.mutated()
	} else {
		r.touch()
	}
	r.fanoutLocked(sender, out)
	return n
}

func (r *Room) relay(sender string, out Fanout) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fanoutLocked(sender, out)
}

func (r *Room) ownedLocked(sender, strokeID string) (*Stroke, bool) {
	if strokeID == "" {
		return nil, false
	}
	stroke, ok := r.index[strokeID]
	if !ok {
		r.logger.Debug().Str("stroke", strokeID).Str("session", sender).Msg("stroke not found")
		return nil, false
	}
	if stroke.Owner != sender {
		r.logger.Debug().Str("stroke", strokeID).Str("session", sender).Str("owner", stroke.Owner).Msg("stroke owned by another session")
		return nil, false
	}
	return stroke, true
}

func (r *Room) fanoutLocked(sender string, out Fanout) {
	if out.Frame == nil {
		return
	}
	for sid, m := range r.members {
		if sid == sender && !out.Everyone {
			continue
		}
		// Members report their own overflow.
		if !m.Enqueue(out.Frame) {
			r.logger.Debug().Str("session", sid).Msg("frame dropped")
		}
	}
}

func (r *Room) mutated() {
	r.revision++
	r.touch()
}

func (r *Room) touch() {
	r.lastActivity = time.Now()
}

// evictIfIdle marks the room evicted when it has no members and has seen no
// activity since cutoff.
func (r *Room) evictIfIdle(cutoff time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.members) > 0 || r.lastActivity.After(cutoff) {
		return false
	}
	r.evicted = true
	return true
}
