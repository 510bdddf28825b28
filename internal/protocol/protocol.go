// Package protocol defines the JSON frame types exchanged between the
// terminal bridge and the remote PTY endpoint.
//
// Frames are JSON objects with a "type" discriminator. Payloads that do not
// parse as JSON are not an error: the remote side may interleave raw terminal
// bytes, so undecodable frames degrade to output frames carrying the raw text.
package protocol

import (
	"encoding/json"
	"fmt"
)

// Frame type discriminators.
const (
	TypeInput           = "input"
	TypeResize          = "resize"
	TypeOutput          = "output"
	TypeHistory         = "history"
	TypeSessionID       = "session_id"
	TypeSessionNotFound = "session_not_found"
	TypeError           = "error"
	TypeExit            = "exit"
)

// Frame is the superset of all wire message shapes. Fields not used by a
// given type are left at their zero value; handlers treat absent fields as
// absence, never as an error.
type Frame struct {
	Type      string          `json:"type"`
	Data      string          `json:"data,omitempty"`
	SessionID string          `json:"session_id,omitempty"`
	Cols      int             `json:"cols,omitempty"`
	Rows      int             `json:"rows,omitempty"`
	Code      json.RawMessage `json:"code,omitempty"`
}

// Decode parses a raw channel payload into a Frame. Non-JSON payloads and
// JSON without a "type" field are wrapped as output frames carrying the raw
// text unchanged.
func Decode(raw []byte) Frame {
	var f Frame
	if err := json.Unmarshal(raw, &f); err != nil || f.Type == "" {
		return Frame{Type: TypeOutput, Data: string(raw)}
	}
	return f
}

// ExitCode renders the exit frame's code for display. The server may send
// the code as a number or a string; either way the caller gets printable
// text ("?" when the field is missing entirely).
func (f Frame) ExitCode() string {
	if len(f.Code) == 0 {
		return "?"
	}
	var s string
	if err := json.Unmarshal(f.Code, &s); err == nil {
		return s
	}
	var n float64
	if err := json.Unmarshal(f.Code, &n); err == nil {
		return fmt.Sprintf("%d", int(n))
	}
	return string(f.Code)
}

// EncodeInput builds an input frame carrying keystroke bytes.
func EncodeInput(data string) []byte {
	b, _ := json.Marshal(Frame{Type: TypeInput, Data: data})
	return b
}

// EncodeResize builds a resize frame with the engine's current grid size.
func EncodeResize(cols, rows int) []byte {
	b, _ := json.Marshal(struct {
		Type string `json:"type"`
		Cols int    `json:"cols"`
		Rows int    `json:"rows"`
	}{TypeResize, cols, rows})
	return b
}

// EncodeOutput builds an output frame. Used by the dev server.
func EncodeOutput(data string) []byte {
	b, _ := json.Marshal(Frame{Type: TypeOutput, Data: data})
	return b
}

// EncodeHistory builds a history frame. Used by the dev server.
func EncodeHistory(data string) []byte {
	b, _ := json.Marshal(Frame{Type: TypeHistory, Data: data})
	return b
}

// EncodeSessionID builds a session_id frame announcing a server-assigned id.
func EncodeSessionID(id string) []byte {
	b, _ := json.Marshal(Frame{Type: TypeSessionID, SessionID: id})
	return b
}

// EncodeSessionNotFound builds a session_not_found frame.
func EncodeSessionNotFound() []byte {
	b, _ := json.Marshal(Frame{Type: TypeSessionNotFound})
	return b
}

// EncodeError builds an error frame with a diagnostic message.
func EncodeError(msg string) []byte {
	b, _ := json.Marshal(Frame{Type: TypeError, Data: msg})
	return b
}

// EncodeExit builds an exit frame with a numeric exit code.
func EncodeExit(code int) []byte {
	b, _ := json.Marshal(struct {
		Type string `json:"type"`
		Code int    `json:"code"`
	}{TypeExit, code})
	return b
}
