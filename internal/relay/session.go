package relay

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel/attribute"

	"collab-relay/internal/middleware"
	"collab-relay/internal/models"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second
	sendBufferSize = 256
)

// Session owns one client socket. All writes go through the send channel
// and are drained by a single writer goroutine, so no two frames are ever
// written concurrently to the same connection.
type Session struct {
	*models.Session
	conn *websocket.Conn
	send chan []byte

	closeOnce sync.Once
}

func newSession(conn *websocket.Conn, docID string) *Session {
	return &Session{
		Session: models.NewSession(docID, conn.RemoteAddr().String()),
		conn:    conn,
		send:    make(chan []byte, sendBufferSize),
	}
}

// enqueue queues an outbound frame. Returns false when the buffer is full,
// which the caller treats as a dead client.
func (s *Session) enqueue(payload []byte) bool {
	select {
	case s.send <- payload:
		return true
	default:
		return false
	}
}

// Close stops the writer goroutine, which sends a close frame and tears
// down the connection. Safe to call more than once.
func (s *Session) Close() {
	s.closeOnce.Do(func() { close(s.send) })
}

// ReadPump reads frames in arrival order and hands them to the handler.
// It owns session teardown: when the read side ends for any reason the
// session detaches from its room and the connection is closed.
func (s *Session) ReadPump(ctx context.Context, h *Handler, room *Room) {
	defer func() {
		room.Detach(s)
		s.Close()
		s.conn.Close()
	}()

	s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		s.conn.SetReadDeadline(time.Now().Add(pongWait))
		s.LastActiveAt = time.Now()
		return nil
	})

	for {
		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				log.Printf("WebSocket error on session %s: %v", s.ID, err)
			}
			return
		}

		s.conn.SetReadDeadline(time.Now().Add(pongWait))
		s.LastActiveAt = time.Now()

		msgCtx, span := middleware.StartSpan(ctx, "WebSocket.ProcessMessage",
			attribute.String("session.id", s.ID),
			attribute.String("document.id", s.DocID),
			attribute.Int("message.size", len(raw)),
		)
		h.dispatch(msgCtx, room, s, raw)
		span.End()
	}
}

// WritePump drains the send channel onto the socket, one text frame per
// message, and keeps the transport alive with periodic protocol pings.
func (s *Session) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.conn.Close()
	}()

	for {
		select {
		case payload, ok := <-s.send:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Session closed
				s.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := s.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}

		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
