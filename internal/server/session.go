package server

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/sanehaakhtar/localboard/internal/protocol"
	"github.com/sanehaakhtar/localboard/internal/state"
)

// sessionState is either unjoined or joined; there is no third case.
type sessionState interface {
	isSessionState()
}

type unjoined struct{}

type joined struct {
	roomID string
}

func (unjoined) isSessionState() {}
func (joined) isSessionState()   {}

// session is one live WebSocket connection. Frames are read and applied
// strictly in arrival order by readLoop; writeLoop is the only writer.
type session struct {
	server *Server
	conn   *websocket.Conn
	send   chan []byte
	ctx    context.Context
	cancel context.CancelFunc
	logger zerolog.Logger

	id        string
	state     sessionState
	slowOnce  sync.Once
	connected time.Time
}

var _ state.Member = (*session)(nil)

func (s *session) SessionID() string { return s.id }

// Enqueue hands a frame to the writer without blocking. A full queue closes
// the session.
func (s *session) Enqueue(frame []byte) bool {
	select {
	case <-s.ctx.Done():
		return false
	default:
	}
	select {
	case s.send <- frame:
		return true
	default:
		s.slowOnce.Do(func() {
			s.logger.Warn().Int("queue", cap(s.send)).Msg("outbound queue full, closing session")
			s.server.metrics.SlowSession()
			s.cancel()
		})
		return false
	}
}

func (s *session) run() {
	defer s.finish()
	go s.writeLoop()
	go func() {
		<-s.ctx.Done()
		_ = s.conn.Close()
	}()

	if frame := s.encode(protocol.Message{Type: protocol.TypeHello, SessionID: s.id}); frame != nil {
		s.Enqueue(frame)
	}
	s.readLoop()
}

func (s *session) finish() {
	if j, ok := s.state.(joined); ok {
		notice := s.encode(protocol.Message{Type: protocol.TypeUserLeft, RoomID: j.roomID, SessionID: s.id})
		s.server.registry.Leave(j.roomID, s.id, notice)
		s.state = unjoined{}
	}
	s.cancel()
	s.logger.Info().Dur("duration", time.Since(s.connected)).Msg("session closed")
}

func (s *session) readLoop() {
	cfg := s.server.cfg
	s.conn.SetReadLimit(cfg.ReadLimit)
	_ = s.conn.SetReadDeadline(time.Now().Add(cfg.PongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(cfg.PongWait))
	})

	for {
		messageType, data, err := s.conn.ReadMessage()
		if err != nil {
			if errors.Is(err, websocket.ErrReadLimit) {
				s.server.metrics.Rejected("oversize")
			}
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Debug().Err(err).Msg("read failed")
			}
			return
		}
		if messageType != websocket.TextMessage {
			s.server.metrics.Rejected("binary")
			continue
		}

		msg, err := protocol.DecodeIntent(data)
		if err != nil {
			s.server.metrics.Rejected("malformed")
			s.logger.Warn().Err(err).Msg("frame rejected")
			continue
		}
		s.server.metrics.Message(string(msg.Type))
		s.handle(msg)
	}
}

func (s *session) writeLoop() {
	cfg := s.server.cfg
	ticker := time.NewTicker(cfg.PingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case frame := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(cfg.WriteWait))
			if err := s.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				s.logger.Debug().Err(err).Msg("write failed")
				s.cancel()
				return
			}
		case <-ticker.C:
			if err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(cfg.WriteWait)); err != nil {
				s.cancel()
				return
			}
		}
	}
}

// handle applies one validated intent. Every recoverable condition ends
// here; nothing closes the connection.
func (s *session) handle(msg protocol.Message) {
	switch msg.Type {
	case protocol.TypeJoinRoom:
		s.join(msg.RoomID, true)

	case protocol.TypeStrokeStart:
		if !s.inRoom(msg.RoomID) {
			s.join(msg.RoomID, false)
		}
		msg.Stroke.Owner = s.id
		s.server.registry.StartStroke(msg.RoomID, s.id, *msg.Stroke, s.relay(msg, false))

	case protocol.TypeStrokeAppend:
		if s.requireRoom(msg) {
			s.server.registry.AppendPoint(msg.RoomID, s.id, msg.StrokeID, *msg.Point, s.relay(msg, false))
		}

	case protocol.TypeStrokeEnd:
		if s.requireRoom(msg) {
			s.server.registry.EndStroke(msg.RoomID, s.id, msg.StrokeID, s.relay(msg, false))
		}

	case protocol.TypeUndo:
		if s.requireRoom(msg) {
			s.server.registry.Undo(msg.RoomID, s.id, func(removedID string) state.Fanout {
				msg.StrokeID = removedID
				return s.relay(msg, true)
			})
		}

	case protocol.TypeClear:
		if s.requireRoom(msg) {
			s.server.registry.Clear(msg.RoomID, s.id, s.relay(msg, true))
		}

	case protocol.TypeCursor:
		if s.requireRoom(msg) {
			msg.Cursor.SessionID = s.id
			s.server.registry.Relay(msg.RoomID, s.id, s.relay(msg, false))
		}
	}
}

// join moves the session into roomID, leaving any previous room first.
// Re-joining the current room only re-sends the snapshot.
func (s *session) join(roomID string, withSnapshot bool) {
	if j, ok := s.state.(joined); ok && j.roomID != roomID {
		notice := s.encode(protocol.Message{Type: protocol.TypeUserLeft, RoomID: j.roomID, SessionID: s.id})
		s.server.registry.Leave(j.roomID, s.id, notice)
		s.logger.Info().Str("from", j.roomID).Str("to", roomID).Msg("switching room")
	}

	var reply func(state.Snapshot) []byte
	if withSnapshot {
		reply = func(snap state.Snapshot) []byte {
			return s.encode(protocol.Message{Type: protocol.TypeSnapshot, RoomID: roomID, Snapshot: &snap})
		}
	}
	notice := s.encode(protocol.Message{Type: protocol.TypeUserJoined, RoomID: roomID, SessionID: s.id})
	snap := s.server.registry.Join(roomID, s, notice, reply)
	s.state = joined{roomID: roomID}
	s.logger.Info().Str("room", roomID).Int("strokes", len(snap.Strokes)).Msg("joined room")
}

func (s *session) inRoom(roomID string) bool {
	switch st := s.state.(type) {
	case joined:
		return st.roomID == roomID
	default:
		return false
	}
}

// requireRoom reports whether msg targets the joined room. Anything else is
// a stray or late message and is dropped.
func (s *session) requireRoom(msg protocol.Message) bool {
	if s.inRoom(msg.RoomID) {
		return true
	}
	s.server.metrics.Rejected("not_joined")
	s.logger.Debug().Str("type", string(msg.Type)).Str("room", msg.RoomID).Msg("message for a room the session has not joined")
	return false
}

func (s *session) relay(msg protocol.Message, everyone bool) state.Fanout {
	msg.SenderID = s.id
	return state.Fanout{Frame: s.encode(msg), Everyone: everyone}
}

func (s *session) encode(msg protocol.Message) []byte {
	frame, err := protocol.Encode(msg)
	if err != nil {
		s.logger.Error().Err(err).Msg("encode failed")
		return nil
	}
	return frame
}
