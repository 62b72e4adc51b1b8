package client

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"collab-relay/internal/models"
)

/*
Client sync loop.

Convergence depends on this side of the wire behaving: edits are debounced
and carry the whole buffer, every sent op is tracked until the server
echoes it back, and a dropped connection queues edits locally, replaying
them in order once the post-reconnect snapshot has been applied. Remote
frames are applied under an applying-remote flag so adopting the server's
text can never itself trigger an outbound send.
*/

const (
	defaultDebounce     = 300 * time.Millisecond
	defaultPingInterval = 20 * time.Second
	backoffBase         = 500 * time.Millisecond
	backoffMax          = 30 * time.Second
)

// Options configures a Sync. ServerURL is the ws(s) base, e.g.
// "ws://localhost:8080". A new DocID means tearing this Sync down and
// building a new one; one Sync drives exactly one socket at a time.
type Options struct {
	ServerURL    string
	DocID        string
	Debounce     time.Duration
	PingInterval time.Duration

	// OnRemote fires after the buffer is replaced by a snapshot or a
	// remote op, with the new text and authoritative version.
	OnRemote func(text string, version int64)
}

// PendingOp is a sent-but-unconfirmed edit, replayed on reconnect.
type PendingOp struct {
	OpID  string
	Frame []byte
}

// Sync owns one client's connection lifecycle and buffer state.
type Sync struct {
	opts Options

	writeMu sync.Mutex // serializes frames onto the socket

	mu             sync.Mutex
	conn           *websocket.Conn // nil while disconnected
	buffer         string
	serverVersion  int64
	applyingRemote bool
	snapshotSeen   bool // post-open snapshot processed; gates replay
	pending        []PendingOp
	sequence       int64
	debounce       *time.Timer
}

func New(opts Options) (*Sync, error) {
	if opts.ServerURL == "" {
		return nil, fmt.Errorf("ServerURL is required")
	}
	if opts.DocID == "" {
		return nil, fmt.Errorf("DocID is required")
	}
	if opts.Debounce <= 0 {
		opts.Debounce = defaultDebounce
	}
	if opts.PingInterval <= 0 {
		opts.PingInterval = defaultPingInterval
	}
	return &Sync{opts: opts}, nil
}

// Text returns the current local buffer.
func (s *Sync) Text() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buffer
}

// Version returns the last adopted server version.
func (s *Sync) Version() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.serverVersion
}

// PendingCount returns the number of sent-but-unconfirmed edits.
func (s *Sync) PendingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// SetText records a local keystroke: the buffer is replaced and the
// debounce timer re-armed. The edit frame goes out only once the timer
// fires with no further keystrokes.
func (s *Sync) SetText(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.applyingRemote {
		return
	}
	s.buffer = text
	if s.debounce == nil {
		s.debounce = time.AfterFunc(s.opts.Debounce, s.flushEdit)
	} else {
		s.debounce.Reset(s.opts.Debounce)
	}
}

// Run drives the connection until ctx is cancelled: dial, sync, and on any
// close or error reconnect with exponential backoff (reset on a successful
// open), indefinitely.
func (s *Sync) Run(ctx context.Context) error {
	attempt := 0
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		conn, err := s.dial(ctx)
		if err == nil {
			attempt = 0
			s.runConn(ctx, conn)
			if err := ctx.Err(); err != nil {
				return err
			}
		} else {
			log.Printf("⚠️  Dial failed for doc %s: %v", s.opts.DocID, err)
		}

		delay := BackoffDelay(attempt)
		attempt++
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
}

// BackoffDelay computes min(30s, 500ms * 2^attempt).
func BackoffDelay(attempt int) time.Duration {
	if attempt > 6 {
		return backoffMax
	}
	d := backoffBase << uint(attempt)
	if d > backoffMax {
		return backoffMax
	}
	return d
}

func (s *Sync) dial(ctx context.Context) (*websocket.Conn, error) {
	endpoint := strings.TrimSuffix(s.opts.ServerURL, "/") + "/ws?docId=" + url.QueryEscape(s.opts.DocID)
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, endpoint, nil)
	return conn, err
}

// runConn services one live connection until it drops. On open it requests
// a fresh snapshot; the pending queue replays once that snapshot has been
// applied, so replayed ops always land on top of the authoritative state.
func (s *Sync) runConn(ctx context.Context, conn *websocket.Conn) {
	s.mu.Lock()
	s.conn = conn
	s.snapshotSeen = false
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.conn = nil
		s.mu.Unlock()
		conn.Close()
	}()

	log.Printf("✓ Connected to %s for doc %s", s.opts.ServerURL, s.opts.DocID)

	req, _ := json.Marshal(map[string]any{
		"type":  models.TypeSnapshotRequest,
		"reqId": uuid.NewString(),
	})
	if err := s.writeRaw(conn, req); err != nil {
		log.Printf("⚠️  Failed to request snapshot: %v", err)
		return
	}

	done := make(chan struct{})
	defer close(done)
	go s.pingLoop(ctx, conn, done)

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			log.Printf("Connection lost for doc %s: %v", s.opts.DocID, err)
			return
		}
		s.handleFrame(raw)
	}
}

func (s *Sync) pingLoop(ctx context.Context, conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(s.opts.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			frame, _ := json.Marshal(map[string]any{
				"type": models.TypePing,
				"ts":   time.Now().UnixMilli(),
			})
			if err := s.writeRaw(conn, frame); err != nil {
				return
			}
		}
	}
}

// handleFrame applies one inbound server frame.
func (s *Sync) handleFrame(raw []byte) {
	msg, err := models.ParseMessage(raw)
	if err != nil {
		log.Printf("⚠️  Dropping malformed server frame: %v", err)
		return
	}

	switch models.MessageType(msg) {
	case models.TypeSnapshot:
		text, _ := models.EditText(msg)
		version := frameVersion(msg)
		s.applyRemote(text, version)

		s.mu.Lock()
		first := !s.snapshotSeen
		s.snapshotSeen = true
		s.mu.Unlock()
		if first {
			s.replayPending()
		}

	case models.TypePong:
		// liveness only

	case models.TypeOp, models.TypeEdit:
		opID, _ := models.OpID(msg)
		sv := frameServerVersion(msg)

		s.mu.Lock()
		if opID != "" && s.confirmPending(opID) {
			// Echo of our own edit: the buffer already holds this text
			// (or newer keystrokes); only the version is adopted.
			if sv > s.serverVersion {
				s.serverVersion = sv
			}
			s.mu.Unlock()
			return
		}
		stale := sv <= s.serverVersion
		s.mu.Unlock()
		if stale {
			return
		}

		if text, ok := models.EditText(msg); ok {
			s.applyRemote(text, sv)
		}
	}
}

// confirmPending removes opID from the pending queue. Caller holds mu.
func (s *Sync) confirmPending(opID string) bool {
	for i, op := range s.pending {
		if op.OpID == opID {
			s.pending = append(s.pending[:i], s.pending[i+1:]...)
			return true
		}
	}
	return false
}

// applyRemote replaces the buffer with server-authored text. The
// applying-remote flag stays up through the OnRemote callback so an editor
// pushing the text back via SetText cannot re-trigger a send.
func (s *Sync) applyRemote(text string, version int64) {
	s.mu.Lock()
	s.applyingRemote = true
	s.buffer = text
	s.serverVersion = version
	cb := s.opts.OnRemote
	s.mu.Unlock()

	if cb != nil {
		cb(text, version)
	}

	s.mu.Lock()
	s.applyingRemote = false
	s.mu.Unlock()
}

// flushEdit fires when the debounce window closes: build the edit frame,
// queue it as pending, and send it if a connection is up. Disconnected
// edits stay queued for the post-reconnect replay.
func (s *Sync) flushEdit() {
	s.mu.Lock()
	opID := uuid.NewString()
	s.sequence++
	frame, err := json.Marshal(map[string]any{
		"type":      models.TypeEdit,
		"opId":      opID,
		"docId":     s.opts.DocID,
		"text":      s.buffer,
		"version":   s.serverVersion + 1,
		"timestamp": time.Now().UnixMilli(),
		"sequence":  s.sequence,
	})
	if err != nil {
		s.mu.Unlock()
		return
	}
	s.pending = append(s.pending, PendingOp{OpID: opID, Frame: frame})
	conn := s.conn
	s.mu.Unlock()

	if conn != nil {
		if err := s.writeRaw(conn, frame); err != nil {
			log.Printf("⚠️  Failed to send edit %s (kept pending): %v", opID, err)
		}
	}
}

// replayPending resends every unconfirmed op in order.
func (s *Sync) replayPending() {
	s.mu.Lock()
	conn := s.conn
	frames := make([][]byte, len(s.pending))
	for i, op := range s.pending {
		frames[i] = op.Frame
	}
	s.mu.Unlock()

	if conn == nil || len(frames) == 0 {
		return
	}
	log.Printf("Replaying %d pending ops for doc %s", len(frames), s.opts.DocID)
	for _, frame := range frames {
		if err := s.writeRaw(conn, frame); err != nil {
			log.Printf("⚠️  Replay interrupted: %v", err)
			return
		}
	}
}

func (s *Sync) writeRaw(conn *websocket.Conn, payload []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return conn.WriteMessage(websocket.TextMessage, payload)
}

func frameVersion(msg map[string]any) int64 {
	if v, ok := msg["version"].(float64); ok {
		return int64(v)
	}
	return 0
}

func frameServerVersion(msg map[string]any) int64 {
	if v, ok := msg["serverVersion"].(float64); ok {
		return int64(v)
	}
	if v, ok := msg["version"].(float64); ok {
		return int64(v)
	}
	return -1
}
