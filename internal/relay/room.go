package relay

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"sync"

	"collab-relay/internal/models"
	"collab-relay/internal/store"
)

// Room holds one document's authoritative per-replica state: the current
// text, the server-assigned version, and the locally attached sessions.
//
// Locking rules: every (text, version) transition and every sessions
// mutation holds mu. The mutex is never held across network I/O - fanout
// copies the session set under the lock and sends outside it, each send
// serialized by the session's own writer goroutine.
type Room struct {
	docID    string
	serverID string
	snaps    SnapshotStore
	persist  *Persister

	loadOnce sync.Once

	mu       sync.Mutex
	text     string
	version  int64
	sessions map[*Session]bool
}

func newRoom(docID, serverID string, snaps SnapshotStore, persist *Persister) *Room {
	return &Room{
		docID:    docID,
		serverID: serverID,
		snaps:    snaps,
		persist:  persist,
		sessions: make(map[*Session]bool),
	}
}

// load seeds (text, version) from the snapshot store, exactly once per
// resident room. A store failure degrades to ("", 0) with a warning - the
// next accepted update re-persists, so nothing is lost for good.
func (r *Room) load(ctx context.Context) {
	snap, err := r.snaps.LoadSnapshot(ctx, r.docID)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			log.Printf("⚠️  Failed to load snapshot for doc %s, seeding empty: %v", r.docID, err)
		}
		return
	}

	r.mu.Lock()
	r.text = snap.Text
	r.version = snap.Version
	r.mu.Unlock()

	log.Printf("Loaded snapshot for doc %s at version %d", r.docID, snap.Version)
}

// DocID returns the document id this room serves.
func (r *Room) DocID() string {
	return r.docID
}

// Snapshot returns the current (text, version) pair.
func (r *Room) Snapshot() models.Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return models.Snapshot{Text: r.text, Version: r.version}
}

// SnapshotFrame builds the wire frame delivered to clients on attach and
// in reply to snapshot_request.
func (r *Room) SnapshotFrame() ([]byte, error) {
	snap := r.Snapshot()
	return json.Marshal(models.SnapshotFrame{
		Type:     models.TypeSnapshot,
		DocID:    r.docID,
		Text:     snap.Text,
		Version:  snap.Version,
		ServerID: r.serverID,
	})
}

// Attach adds a session to the room and immediately pushes the current
// snapshot to it.
func (r *Room) Attach(s *Session) {
	r.mu.Lock()
	r.sessions[s] = true
	n := len(r.sessions)
	r.mu.Unlock()

	log.Printf("Session %s joined doc %s (total: %d sessions)", s.ID, r.docID, n)

	frame, err := r.SnapshotFrame()
	if err != nil {
		log.Printf("⚠️  Failed to encode snapshot for doc %s: %v", r.docID, err)
		return
	}
	r.deliver(s, frame)
}

// Detach removes a session. The room stays resident when empty; the next
// attach reuses the in-memory state.
func (r *Room) Detach(s *Session) {
	r.mu.Lock()
	if _, ok := r.sessions[s]; !ok {
		r.mu.Unlock()
		return
	}
	delete(r.sessions, s)
	n := len(r.sessions)
	r.mu.Unlock()

	log.Printf("Session %s left doc %s (remaining: %d sessions)", s.ID, r.docID, n)
}

// ApplyLocal applies a client edit under the room guard and schedules the
// async snapshot persist. The assigned version is always
// max(current+1, incoming+1), so a stale client claim can never regress
// the counter; the stale case is applied anyway (last write wins on the
// full text) and surfaced as a warning.
func (r *Room) ApplyLocal(text string, hasText bool, incomingVersion int64) int64 {
	r.mu.Lock()
	newVersion := r.version + 1
	if incomingVersion+1 > newVersion {
		newVersion = incomingVersion + 1
	}
	if incomingVersion >= 0 && incomingVersion < r.version {
		log.Printf("⚠️  Applying stale op for doc %s: incomingVersion=%d currentVersion=%d newVersion=%d",
			r.docID, incomingVersion, r.version, newVersion)
	}
	if hasText {
		r.text = text
	}
	r.version = newVersion
	snap := models.Snapshot{Text: r.text, Version: r.version}
	r.mu.Unlock()

	r.persist.Enqueue(r.docID, snap, r.serverID)
	return newVersion
}

// ApplyRemote applies an envelope received from the bus. Only envelopes
// whose server-assigned version is strictly greater than the current one
// are accepted; stale deliveries are dropped without touching any session.
// On accept the inner client message, enhanced with the origin replica and
// the authoritative version, fans out to every local session.
func (r *Room) ApplyRemote(env *models.Envelope) bool {
	inner, err := models.ParseMessage(env.Payload)
	if err != nil {
		log.Printf("⚠️  Dropping remote op with bad payload for doc %s: %v", r.docID, err)
		return false
	}

	r.mu.Lock()
	if env.ServerVersion <= r.version {
		cur := r.version
		r.mu.Unlock()
		log.Printf("Ignoring stale remote op: doc=%s serverVersion=%d currentVersion=%d",
			r.docID, env.ServerVersion, cur)
		return false
	}
	if text, ok := models.EditText(inner); ok {
		r.text = text
	}
	r.version = env.ServerVersion
	snap := models.Snapshot{Text: r.text, Version: r.version}
	r.mu.Unlock()

	r.persist.Enqueue(r.docID, snap, env.ServerID)

	enhanced, err := models.EnhanceOp(inner, env.ServerID, env.ServerVersion)
	if err != nil {
		log.Printf("⚠️  Failed to enhance remote op for doc %s: %v", r.docID, err)
		return true
	}
	r.Broadcast(enhanced, nil)
	return true
}

// Broadcast delivers a frame to every attached session, skipping skip when
// non-nil. The session set is copied under the lock; sends happen outside.
func (r *Room) Broadcast(payload []byte, skip *Session) {
	r.mu.Lock()
	targets := make([]*Session, 0, len(r.sessions))
	for s := range r.sessions {
		if s != skip {
			targets = append(targets, s)
		}
	}
	r.mu.Unlock()

	for _, s := range targets {
		r.deliver(s, payload)
	}
}

// deliver enqueues a frame on one session. A full send buffer means the
// client stopped draining; the session is detached and closed.
func (r *Room) deliver(s *Session, payload []byte) {
	if !s.enqueue(payload) {
		log.Printf("⚠️  Session %s buffer full, closing connection", s.ID)
		r.Detach(s)
		s.Close()
	}
}
