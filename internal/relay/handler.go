package relay

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"collab-relay/internal/models"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// The reverse proxy in front of the fleet owns origin policy.
		return true
	},
}

// Handler upgrades client connections and dispatches their frames. It is
// the only component that talks to both the rooms and the bus.
type Handler struct {
	serverID string
	registry *Registry
	bus      Bus
}

func NewHandler(serverID string, registry *Registry, bus Bus) *Handler {
	return &Handler{
		serverID: serverID,
		registry: registry,
		bus:      bus,
	}
}

// ServeWS handles the /ws upgrade. The docId query parameter is mandatory
// and pinned to the session; a connection without one is rejected before
// it can attach to any room.
func (h *Handler) ServeWS(w http.ResponseWriter, r *http.Request) {
	docID := r.URL.Query().Get("docId")

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("Failed to upgrade WebSocket: %v", err)
		return
	}

	if docID == "" {
		log.Printf("⚠️  No docId supplied in websocket connect from %s, closing", conn.RemoteAddr())
		msg := websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "missing docId")
		conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
		conn.Close()
		return
	}

	session := newSession(conn, docID)
	room := h.registry.GetOrLoad(r.Context(), docID)
	room.Attach(session)

	go session.WritePump()
	go session.ReadPump(context.Background(), h, room)

	log.Printf("✓ WS connected. server=%s session=%s remote=%s doc=%s",
		h.serverID, session.ID, session.RemoteAddr, docID)
}

// dispatch routes one inbound frame. Messages default to type "op";
// malformed JSON is dropped without touching any state; unrecognized types
// are rebroadcast verbatim to the other local sessions of the document.
func (h *Handler) dispatch(ctx context.Context, room *Room, s *Session, raw []byte) {
	msg, err := models.ParseMessage(raw)
	if err != nil {
		log.Printf("⚠️  Dropping malformed frame from session %s: %v", s.ID, err)
		return
	}

	switch models.MessageType(msg) {
	case models.TypeOp, models.TypeEdit:
		h.handleEdit(ctx, room, msg, raw)

	case models.TypePing:
		frame, err := json.Marshal(models.PongFrame{
			Type:      models.TypePong,
			ServerID:  h.serverID,
			Timestamp: time.Now().UnixMilli(),
		})
		if err == nil {
			room.deliver(s, frame)
		}

	case models.TypeSnapshotRequest:
		frame, err := room.SnapshotFrame()
		if err != nil {
			log.Printf("⚠️  Failed to encode snapshot for doc %s: %v", room.DocID(), err)
			return
		}
		room.deliver(s, frame)

	default:
		room.Broadcast(raw, s)
	}
}

// handleEdit runs the accept path for a client op: apply under the room
// guard, publish the envelope on the bus, then fan the enhanced op out to
// every local session. The sender gets the same enhanced copy back - that
// echo is its delivery confirmation. A publish failure is logged and
// swallowed: the snapshot persist is already scheduled and the local fanout
// still goes ahead, so reconnecting clients elsewhere reconverge from the
// store.
func (h *Handler) handleEdit(ctx context.Context, room *Room, msg map[string]any, raw []byte) {
	text, hasText := models.EditText(msg)
	newVersion := room.ApplyLocal(text, hasText, models.EditVersion(msg))

	env := models.Envelope{
		ServerID:      h.serverID,
		DocID:         room.DocID(),
		Type:          models.TypeOp,
		ServerVersion: newVersion,
		Payload:       json.RawMessage(raw),
	}
	payload, err := json.Marshal(&env)
	if err != nil {
		log.Printf("⚠️  Failed to encode envelope for doc %s: %v", room.DocID(), err)
	} else if err := h.bus.Publish(ctx, room.DocID(), payload); err != nil {
		log.Printf("⚠️  Failed to publish op for doc %s: %v", room.DocID(), err)
	}

	enhanced, err := models.EnhanceOp(msg, h.serverID, newVersion)
	if err != nil {
		log.Printf("⚠️  Failed to enhance op for doc %s: %v", room.DocID(), err)
		return
	}
	room.Broadcast(enhanced, nil)
}
