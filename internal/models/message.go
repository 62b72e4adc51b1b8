package models

import (
	"encoding/json"
	"fmt"
)

// Message types on the client wire. Anything else is an extension type and
// is rebroadcast verbatim to the other local sessions of the document.
const (
	TypeOp              = "op"
	TypeEdit            = "edit"
	TypePing            = "ping"
	TypePong            = "pong"
	TypeSnapshot        = "snapshot"
	TypeSnapshotRequest = "snapshot_request"
)

// Snapshot is the persisted document state. The same shape is stored under
// doc:<docId>:snapshot and delivered to newly-attached clients.
type Snapshot struct {
	Text    string `json:"text"`
	Version int64  `json:"version"`
}

// Envelope wraps a client edit as it travels on the pub/sub bus. Payload
// carries the original inbound message verbatim.
type Envelope struct {
	ServerID      string          `json:"serverId"`
	DocID         string          `json:"docId"`
	Type          string          `json:"type"`
	ServerVersion int64           `json:"serverVersion"`
	Payload       json.RawMessage `json:"payload"`
}

// SnapshotFrame is the server-to-client snapshot message.
type SnapshotFrame struct {
	Type     string `json:"type"`
	DocID    string `json:"docId"`
	Text     string `json:"text"`
	Version  int64  `json:"version"`
	ServerID string `json:"serverId"`
}

// PongFrame answers a client ping. Timestamp is Unix milliseconds.
type PongFrame struct {
	Type      string `json:"type"`
	ServerID  string `json:"serverId"`
	Timestamp int64  `json:"timestamp"`
}

// ParseMessage decodes an inbound text frame. Clients may send arbitrary
// extra fields, so the message is kept as a generic object; unknown fields
// survive re-serialization.
func ParseMessage(raw []byte) (map[string]any, error) {
	var msg map[string]any
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, fmt.Errorf("malformed message: %w", err)
	}
	return msg, nil
}

// MessageType returns the message's type field, defaulting to "op".
func MessageType(msg map[string]any) string {
	if t, ok := msg["type"].(string); ok && t != "" {
		return t
	}
	return TypeOp
}

// EditText extracts the full-text body of an edit message.
func EditText(msg map[string]any) (string, bool) {
	text, ok := msg["text"].(string)
	return text, ok
}

// EditVersion extracts the client's claimed version, or -1 when absent.
// JSON numbers decode as float64.
func EditVersion(msg map[string]any) int64 {
	if v, ok := msg["version"].(float64); ok {
		return int64(v)
	}
	return -1
}

// OpID extracts the client-assigned operation id, if any.
func OpID(msg map[string]any) (string, bool) {
	id, ok := msg["opId"].(string)
	return id, ok
}

// EnhanceOp returns the message re-serialized with serverId and
// serverVersion merged in, so downstream clients can adopt the
// authoritative version. All original fields are preserved.
func EnhanceOp(msg map[string]any, serverID string, serverVersion int64) ([]byte, error) {
	enhanced := make(map[string]any, len(msg)+2)
	for k, v := range msg {
		enhanced[k] = v
	}
	enhanced["serverId"] = serverID
	enhanced["serverVersion"] = serverVersion
	return json.Marshal(enhanced)
}
