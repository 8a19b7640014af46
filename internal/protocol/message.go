// Package protocol defines the replication messages exchanged between
// clients and the room server.
package protocol

import (
	"github.com/sanehaakhtar/localboard/internal/state"
)

// Type discriminates messages on the wire.
type Type string

// Client intents. The server relays them to other room members with
// SenderID set.
const (
	TypeJoinRoom     Type = "join_room"
	TypeStrokeStart  Type = "stroke_start"
	TypeStrokeAppend Type = "stroke_append"
	TypeStrokeEnd    Type = "stroke_end"
	TypeUndo         Type = "undo"
	TypeClear        Type = "clear"
	TypeCursor       Type = "cursor"
)

// Server-originated messages.
const (
	TypeHello      Type = "hello"
	TypeSnapshot   Type = "snapshot"
	TypeUserJoined Type = "user_joined"
	TypeUserLeft   Type = "user_left"
)

// Message is the single envelope for every frame. Fields irrelevant to a
// type are omitted.
type Message struct {
	Type      Type                   `json:"type"`
	RoomID    string                 `json:"roomId,omitempty"`
	SenderID  string                 `json:"senderId,omitempty"`
	SessionID string                 `json:"sessionId,omitempty"`
	Stroke    *state.Stroke          `json:"stroke,omitempty"`
	StrokeID  string                 `json:"strokeId,omitempty"`
	Point     *state.NormalizedPoint `json:"point,omitempty"`
	Cursor    *state.Cursor          `json:"cursor,omitempty"`
	Snapshot  *state.Snapshot        `json:"snapshot,omitempty"`
}

// ClientTypes lists the message types a client may send.
func ClientTypes() []Type {
	return []Type{
		TypeJoinRoom,
		TypeStrokeStart,
		TypeStrokeAppend,
		TypeStrokeEnd,
		TypeUndo,
		TypeClear,
		TypeCursor,
	}
}

// JoinRoom builds a join_room intent.
func JoinRoom(roomID string) Message {
	return Message{Type: TypeJoinRoom, RoomID: roomID}
}

// StrokeStart builds a stroke_start intent.
func StrokeStart(roomID string, s state.Stroke) Message {
	return Message{Type: TypeStrokeStart, RoomID: roomID, Stroke: &s}
}

// StrokeAppend builds a stroke_append intent.
func StrokeAppend(roomID, strokeID string, p state.NormalizedPoint) Message {
	return Message{Type: TypeStrokeAppend, RoomID: roomID, StrokeID: strokeID, Point: &p}
}

// StrokeEnd builds a stroke_end intent.
func StrokeEnd(roomID, strokeID string) Message {
	return Message{Type: TypeStrokeEnd, RoomID: roomID, StrokeID: strokeID}
}

// Undo builds an undo intent.
func Undo(roomID string) Message {
	return Message{Type: TypeUndo, RoomID: roomID}
}

// Clear builds a clear intent.
func Clear(roomID string) Message {
	return Message{Type: TypeClear, RoomID: roomID}
}

// CursorMove builds a cursor intent.
func CursorMove(roomID string, nx, ny float64, color string) Message {
	return Message{Type: TypeCursor, RoomID: roomID, Cursor: &state.Cursor{NX: nx, NY: ny, Color: color}}
}
