package models

import (
	"time"

	"github.com/segmentio/ksuid"
)

// Session represents an active WebSocket attachment to a document.
type Session struct {
	ID           string    `json:"id"`
	DocID        string    `json:"doc_id"`
	RemoteAddr   string    `json:"remote_addr"`
	ConnectedAt  time.Time `json:"connected_at"`
	LastActiveAt time.Time `json:"last_active_at"`
}

// NewSession pins a session to a document at handshake time.
// Learning: KSUID ids are time-ordered, which keeps session logs sortable
// by connect time without an extra column.
func NewSession(docID, remoteAddr string) *Session {
	now := time.Now()
	return &Session{
		ID:           ksuid.New().String(),
		DocID:        docID,
		RemoteAddr:   remoteAddr,
		ConnectedAt:  now,
		LastActiveAt: now,
	}
}
