package relay

import (
	"context"
	"sync"

	"github.com/redis/go-redis/v9"

	"collab-relay/internal/models"
	"collab-relay/internal/store"
)

// fakeStore is an in-memory SnapshotStore.
type fakeStore struct {
	mu      sync.Mutex
	snaps   map[string]models.Snapshot
	loadErr error
	saveErr error
	saves   []savedSnapshot
}

type savedSnapshot struct {
	docID string
	snap  models.Snapshot
}

func newFakeStore() *fakeStore {
	return &fakeStore{snaps: make(map[string]models.Snapshot)}
}

func (f *fakeStore) seed(docID string, snap models.Snapshot) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.snaps[docID] = snap
}

func (f *fakeStore) LoadSnapshot(ctx context.Context, docID string) (*models.Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.loadErr != nil {
		return nil, f.loadErr
	}
	snap, ok := f.snaps[docID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &snap, nil
}

func (f *fakeStore) SaveSnapshot(ctx context.Context, docID string, snap models.Snapshot) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.saveErr != nil {
		return f.saveErr
	}
	f.snaps[docID] = snap
	f.saves = append(f.saves, savedSnapshot{docID: docID, snap: snap})
	return nil
}

func (f *fakeStore) saved(docID string) (models.Snapshot, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	snap, ok := f.snaps[docID]
	return snap, ok
}

func (f *fakeStore) saveCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.saves)
}

// countingStore wraps fakeStore and counts LoadSnapshot calls.
type countingStore struct {
	*fakeStore
	mu    sync.Mutex
	loads int
}

func (c *countingStore) LoadSnapshot(ctx context.Context, docID string) (*models.Snapshot, error) {
	c.mu.Lock()
	c.loads++
	c.mu.Unlock()
	return c.fakeStore.LoadSnapshot(ctx, docID)
}

func (c *countingStore) loadCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loads
}

// fakeBus records published envelopes. SubscribeOps is never used in unit
// tests; broker tests feed HandleBusMessage directly.
type fakeBus struct {
	mu        sync.Mutex
	pubErr    error
	published []publishedMsg
}

type publishedMsg struct {
	docID   string
	payload []byte
}

func (f *fakeBus) Publish(ctx context.Context, docID string, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.pubErr != nil {
		return f.pubErr
	}
	f.published = append(f.published, publishedMsg{docID: docID, payload: payload})
	return nil
}

func (f *fakeBus) SubscribeOps(ctx context.Context) *redis.PubSub {
	return nil
}

func (f *fakeBus) last() (publishedMsg, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.published) == 0 {
		return publishedMsg{}, false
	}
	return f.published[len(f.published)-1], true
}

func (f *fakeBus) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.published)
}

// fakeHistory records archived edits.
type fakeHistory struct {
	mu      sync.Mutex
	records []*models.EditRecord
}

func (f *fakeHistory) Append(ctx context.Context, rec *models.EditRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = append(f.records, rec)
	return nil
}

func (f *fakeHistory) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.records)
}

// newTestPersister builds a started persister backed by snaps; callers must
// Shutdown it.
func newTestPersister(snaps SnapshotStore) *Persister {
	p := NewPersister(snaps, nil, 2, 16)
	p.Start()
	return p
}
