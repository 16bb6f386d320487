package wire

import "encoding/json"

// MessageType tags the payload carried by an Envelope on the local IPC
// channel between the shim process and the chat runtime process.
type MessageType string

const (
	// MsgEditBufferUpdate is shim -> runtime: the edit buffer changed.
	MsgEditBufferUpdate MessageType = "edit_buffer_update"

	// MsgInsertText is runtime -> shim: insert text into the shell's edit
	// buffer (e.g. accepting an LLM suggestion), engaging the insertion
	// lock until the shell echoes it back.
	MsgInsertText MessageType = "insert_text"

	// MsgSetKeyboardMode is runtime -> shim: switch keyboard encoding.
	MsgSetKeyboardMode MessageType = "set_keyboard_mode"

	// MsgPing/MsgPong are a liveness check pair, either direction.
	MsgPing MessageType = "ping"
	MsgPong MessageType = "pong"
)

// Envelope is one frame of the local IPC protocol: newline-delimited JSON
// over a Unix domain socket.
type Envelope struct {
	Type    MessageType     `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// InsertTextPayload is the payload of MsgInsertText.
type InsertTextPayload struct {
	Text string `json:"text"`
}

// SetKeyboardModePayload is the payload of MsgSetKeyboardMode.
type SetKeyboardModePayload struct {
	Mode KeyboardMode `json:"mode"`
}

// NewEnvelope marshals payload and wraps it in an Envelope of the given
// type.
func NewEnvelope(t MessageType, payload any) (Envelope, error) {
	if payload == nil {
		return Envelope{Type: t}, nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{Type: t, Payload: raw}, nil
}
