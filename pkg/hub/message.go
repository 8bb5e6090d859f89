// Package hub provides a thread-safe websocket broadcast hub
// using the idiomatic Go channel-based fan-out pattern.
package hub

import "time"

// MessageType indicates the websocket message format
type MessageType int

const (
	// JSONMessage is a JSON-encoded message
	JSONMessage MessageType = iota
	// BinaryMessage is raw binary data (e.g., JPEG frames)
	BinaryMessage
)

// Message represents a message to be broadcast to clients
type Message struct {
	Type MessageType
	Data []byte
}

// NewJSONMessage creates a JSON message from pre-encoded bytes
func NewJSONMessage(data []byte) Message {
	return Message{Type: JSONMessage, Data: data}
}

// NewBinaryMessage creates a binary message
func NewBinaryMessage(data []byte) Message {
	return Message{Type: BinaryMessage, Data: data}
}

// Notice is a transient user-facing message, shown by the UI as a toast.
type Notice struct {
	Type  string `json:"type"`
	Level string `json:"level"`
	Text  string `json:"text"`
	Time  int64  `json:"time"`
}

// Notice levels.
const (
	LevelInfo  = "info"
	LevelError = "error"
)

// NewNotice stamps a notice with the current time.
func NewNotice(level, text string) Notice {
	return Notice{Type: "notice", Level: level, Text: text, Time: time.Now().UnixMilli()}
}
