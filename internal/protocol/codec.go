package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// ErrMalformed marks a frame rejected before it reaches the registry.
var ErrMalformed = errors.New("protocol: malformed message")

type schemaRegistry struct {
	once    sync.Once
	initErr error
	base    *jsonschema.Schema
	byType  map[Type]*jsonschema.Schema
}

var schemas schemaRegistry

func initSchemas() error {
	schemas.once.Do(func() {
		base, err := jsonschema.CompileString("message.json", messageSchema)
		if err != nil {
			schemas.initErr = err
			return
		}
		schemas.base = base

		byType := map[Type]string{
			TypeJoinRoom:     joinRoomSchema,
			TypeStrokeStart:  strokeStartSchema,
			TypeStrokeAppend: strokeAppendSchema,
			TypeStrokeEnd:    strokeEndSchema,
			TypeUndo:         roomOnlySchema,
			TypeClear:        roomOnlySchema,
			TypeCursor:       cursorSchema,
		}
		schemas.byType = make(map[Type]*jsonschema.Schema, len(byType))
		for typ, src := range byType {
			compiled, err := jsonschema.CompileString("message_"+string(typ)+".json", src)
			if err != nil {
				schemas.initErr = err
				return
			}
			schemas.byType[typ] = compiled
		}
	})
	return schemas.initErr
}

// DecodeIntent parses and validates a client-originated frame. Any error
// wraps ErrMalformed.
func DecodeIntent(raw []byte) (Message, error) {
	if err := initSchemas(); err != nil {
		return Message{}, err
	}

	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if err := schemas.base.Validate(doc); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	var msg Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	schema, ok := schemas.byType[msg.Type]
	if !ok {
		return Message{}, fmt.Errorf("%w: unsupported type %q", ErrMalformed, msg.Type)
	}
	if err := schema.Validate(doc); err != nil {
		return Message{}, fmt.Errorf("%w: %s: %v", ErrMalformed, msg.Type, err)
	}
	msg.SenderID = ""
	return msg, nil
}

// Decode parses a server-originated frame without schema validation.
func Decode(raw []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if msg.Type == "" {
		return Message{}, fmt.Errorf("%w: missing type", ErrMalformed)
	}
	return msg, nil
}

// Encode serialises a message into a single text frame.
func Encode(msg Message) ([]byte, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", msg.Type, err)
	}
	return data, nil
}

const messageSchema = `{
  "type": "object",
  "required": ["type"],
  "properties": {
    "type": {
      "enum": ["join_room", "stroke_start", "stroke_append", "stroke_end", "undo", "clear", "cursor"]
    }
  },
  "additionalProperties": true
}`

const pointDef = `{
  "type": "object",
  "required": ["nx", "ny"],
  "properties": {
    "nx": { "type": "number" },
    "ny": { "type": "number" },
    "t": { "type": "integer" }
  },
  "additionalProperties": true
}`

const joinRoomSchema = `{
  "type": "object",
  "required": ["roomId"],
  "properties": {
    "roomId": { "type": "string", "minLength": 1 }
  },
  "additionalProperties": true
}`

const roomOnlySchema = joinRoomSchema

const strokeStartSchema = `{
  "type": "object",
  "required": ["roomId", "stroke"],
  "properties": {
    "roomId": { "type": "string", "minLength": 1 },
    "stroke": {
      "type": "object",
      "required": ["id", "points"],
      "properties": {
        "id": { "type": "string", "minLength": 1 },
        "points": { "type": "array", "minItems": 1, "items": ` + pointDef + ` },
        "color": { "type": "string" },
        "width": { "type": "number", "minimum": 0 }
      },
      "additionalProperties": true
    }
  },
  "additionalProperties": true
}`

const strokeAppendSchema = `{
  "type": "object",
  "required": ["roomId", "point"],
  "properties": {
    "roomId": { "type": "string", "minLength": 1 },
    "strokeId": { "type": "string" },
    "point": ` + pointDef + `
  },
  "additionalProperties": true
}`

const strokeEndSchema = `{
  "type": "object",
  "required": ["roomId"],
  "properties": {
    "roomId": { "type": "string", "minLength": 1 },
    "strokeId": { "type": "string" }
  },
  "additionalProperties": true
}`

const cursorSchema = `{
  "type": "object",
  "required": ["roomId", "cursor"],
  "properties": {
    "roomId": { "type": "string", "minLength": 1 },
    "cursor": {
      "type": "object",
      "required": ["nx", "ny"],
      "properties": {
        "nx": { "type": "number" },
        "ny": { "type": "number" },
        "color": { "type": "string" }
      },
      "additionalProperties": true
    }
  },
  "additionalProperties": true
}`
