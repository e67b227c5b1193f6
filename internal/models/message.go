package models

import (
	"encoding/json"
	"time"
)

// MessageType represents the type of feed message
type MessageType string

const (
	MessageTypeChunk     MessageType = "chunk"
	MessageTypeSummary   MessageType = "summary"
	MessageTypeRun       MessageType = "run"
	MessageTypeHeartbeat MessageType = "heartbeat"
	MessageTypeError     MessageType = "error"
)

// Message is the envelope for all websocket feed communications
type Message struct {
	Type      MessageType     `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp time.Time       `json:"timestamp"`
}

// NewMessage creates a new message with the given type and payload
func NewMessage(msgType MessageType, payload interface{}) (*Message, error) {
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &Message{
		Type:      msgType,
		Payload:   payloadJSON,
		Timestamp: time.Now(),
	}, nil
}

// RunMessage is the payload for MessageTypeRun
type RunMessage struct {
	RunID     string `json:"run_id"`
	Source    string `json:"source"`
	Chunks    int    `json:"chunks"`
	RowsRead  int    `json:"rows_read"`
	Processed int    `json:"processed"`
	Skipped   int    `json:"skipped"`
}

// SummaryMessage is the payload for MessageTypeSummary
type SummaryMessage struct {
	Summary DatasetSummary `json:"summary"`
	Text    string         `json:"text"`
}

// HeartbeatMessage is the payload for MessageTypeHeartbeat
type HeartbeatMessage struct {
	Subscribers int   `json:"subscribers"`
	Uptime      int64 `json:"uptime"`
}

// ErrorMessage is the payload for MessageTypeError
type ErrorMessage struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// UnmarshalPayload unmarshals the message payload into the provided struct
func (m *Message) UnmarshalPayload(v interface{}) error {
	err := json.Unmarshal(m.Payload, v)
	if err != nil {
		return err
	}
	return nil
}
