package state

import (
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Registry maps room identifiers to their authoritative state.
//
// It is process-scoped: rooms are created on first reference and live until
// EvictIdle removes them. The registry lock only guards the map; every state
// mutation runs under the owning room's lock, so rooms never contend.
type Registry struct {
	logger zerolog.Logger

	mu    sync.RWMutex
	rooms map[string]*Room
}

// Stats is a point-in-time view of registry size.
type Stats struct {
	Rooms   int `json:"rooms"`
	Members int `json:"members"`
}

// NewRegistry creates an empty registry.
func NewRegistry(logger zerolog.Logger) *Registry {
	return &Registry{
		logger: logger.With().Str("component", "registry").Logger(),
		rooms:  make(map[string]*Room),
	}
}

// GetOrCreate returns the room for roomID, creating it if needed.
func (g *Registry) GetOrCreate(roomID string) *Room {
	g.mu.RLock()
	r, ok := g.rooms[roomID]
	g.mu.RUnlock()
	if ok {
		return r
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if r, ok = g.rooms[roomID]; ok {
		return r
	}
	r = newRoom(roomID, g.logger.With().Str("room", roomID).Logger())
	g.rooms[roomID] = r
	g.logger.Info().Str("room", roomID).Msg("room created")
	return r
}

// Lookup returns an existing room without creating it.
func (g *Registry) Lookup(roomID string) (*Room, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	r, ok := g.rooms[roomID]
	return r, ok
}

// Snapshot returns a deep copy of an existing room's state. ok is false for
// an unknown room, which is not created.
func (g *Registry) Snapshot(roomID string) (snap Snapshot, ok bool) {
	r, ok := g.Lookup(roomID)
	if !ok {
		return Snapshot{}, false
	}
	return r.Snapshot(), true
}

// Join registers m as a member of roomID and returns the hydration
// snapshot. reply, when non-nil, builds the frame queued to m from that
// snapshot; notice is delivered to every other member on first join.
func (g *Registry) Join(roomID string, m Member, notice []byte, reply func(Snapshot) []byte) Snapshot {
	for {
		r := g.GetOrCreate(roomID)
		if snap, ok := r.join(m, notice, reply); ok {
			return snap
		}
		// Lost a race with EvictIdle; the map no longer holds r.
	}
}

// Leave deregisters sessionID from roomID. RoomState is untouched.
func (g *Registry) Leave(roomID, sessionID string, notice []byte) bool {
	r, ok := g.Lookup(roomID)
	if !ok {
		return false
	}
	return r.leave(sessionID, notice)
}

// StartStroke appends a new open stroke owned by sender. A stroke id that was
// ever used in the room is rejected.
func (g *Registry) StartStroke(roomID, sender string, s Stroke, out Fanout) bool {
	return g.GetOrCreate(roomID).startStroke(sender, s, out)
}

// AppendPoint extends the stroke identified by strokeID. It is a no-op when
// the stroke is gone, the id is empty, or sender does not own the stroke.
func (g *Registry) AppendPoint(roomID, sender, strokeID string, p NormalizedPoint, out Fanout) bool {
	r, ok := g.Lookup(roomID)
	if !ok {
		return false
	}
	return r.appendPoint(sender, strokeID, p, out)
}

// EndStroke marks a stroke sealed. Later appends are still accepted.
func (g *Registry) EndStroke(roomID, sender, strokeID string, out Fanout) bool {
	r, ok := g.Lookup(roomID)
	if !ok {
		return false
	}
	return r.endStroke(sender, strokeID, out)
}

// Undo removes the most recently created stroke regardless of owner. relay
// receives the removed stroke's id ("" when the room was empty) and builds
// the frame fanned out under the same lock.
func (g *Registry) Undo(roomID, sender string, relay func(removedID string) Fanout) (Stroke, bool) {
	r, ok := g.Lookup(roomID)
	if !ok {
		return Stroke{}, false
	}
	return r.undo(sender, relay)
}

// Clear removes every stroke and returns how many were dropped.
func (g *Registry) Clear(roomID, sender string, out Fanout) int {
	r, ok := g.Lookup(roomID)
	if !ok {
		return 0
	}
	return r.clear(sender, out)
}

// Relay fans out a frame without touching RoomState.
func (g *Registry) Relay(roomID, sender string, out Fanout) {
	if r, ok := g.Lookup(roomID); ok {
		r.relay(sender, out)
	}
}

// EvictIdle drops rooms that have no members and no activity within ttl.
// A non-positive ttl disables eviction.
func (g *Registry) EvictIdle(now time.Time, ttl time.Duration) []string {
	if ttl <= 0 {
		return nil
	}
	cutoff := now.Add(-ttl)

	g.mu.Lock()
	defer g.mu.Unlock()
	var evicted []string
	for id, r := range g.rooms {
		if r.evictIfIdle(cutoff) {
			delete(g.rooms, id)
			evicted = append(evicted, id)
		}
	}
	sort.Strings(evicted)
	for _, id := range evicted {
		g.logger.Info().Str("room", id).Dur("ttl", ttl).Msg("idle room evicted")
	}
	return evicted
}

// Stats reports the current number of rooms and joined members.
func (g *Registry) Stats() Stats {
	g.mu.RLock()
	rooms := make([]*Room, 0, len(g.rooms))
	for _, r := range g.rooms {
		rooms = append(rooms, r)
	}
	g.mu.RUnlock()

	st := Stats{Rooms: len(rooms)}
	for _, r := range rooms {
		st.Members += r.MemberCount()
	}
	return st
}
