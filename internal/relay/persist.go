package relay

import (
	"context"
	"log"
	"sync"
	"time"

	"collab-relay/internal/models"
)

/*
Snapshot persistence worker pool.

Every accepted update schedules a store write, but under a write storm the
store must not see one write per keystroke. A fixed set of workers drains
a bounded queue of document ids, and a latest-wins pending map coalesces:
however many updates a document takes while its token sits in the queue,
only the newest snapshot is actually written. A full queue therefore loses
nothing - the pending entry stays and the next accepted update re-arms it.
*/

const persistTimeout = 5 * time.Second

type persistJob struct {
	snap   models.Snapshot
	origin string
	queued bool // a token for this doc sits in the jobs queue
}

// Persister is the bounded async snapshot writer shared by all rooms.
type Persister struct {
	snaps   SnapshotStore
	history HistoryArchive // nil disables the archive

	jobs    chan string
	workers int

	mu      sync.Mutex
	pending map[string]persistJob

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

func NewPersister(snaps SnapshotStore, history HistoryArchive, workers, queueSize int) *Persister {
	ctx, cancel := context.WithCancel(context.Background())
	return &Persister{
		snaps:   snaps,
		history: history,
		jobs:    make(chan string, queueSize),
		workers: workers,
		pending: make(map[string]persistJob),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start spawns the workers.
func (p *Persister) Start() {
	log.Printf("🔧 Starting snapshot persister with %d workers", p.workers)
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
}

func (p *Persister) worker(id int) {
	defer p.wg.Done()

	for {
		select {
		case <-p.ctx.Done():
			return
		case docID := <-p.jobs:
			p.flush(docID)
		}
	}
}

// Enqueue records the latest snapshot for docID and queues a write. If a
// write for this doc is already queued, the snapshot is coalesced into it.
// If the queue is full the entry stays pending without a token and is
// picked up by the next enqueue for this doc or the shutdown drain.
func (p *Persister) Enqueue(docID string, snap models.Snapshot, origin string) {
	p.mu.Lock()
	prev, ok := p.pending[docID]
	queued := ok && prev.queued
	p.pending[docID] = persistJob{snap: snap, origin: origin, queued: true}
	p.mu.Unlock()

	if queued {
		return
	}

	select {
	case p.jobs <- docID:
	case <-p.ctx.Done():
	default:
		p.mu.Lock()
		if job, ok := p.pending[docID]; ok {
			job.queued = false
			p.pending[docID] = job
		}
		p.mu.Unlock()
		log.Printf("⚠️  Persist queue full, deferring snapshot for doc %s (version %d)", docID, snap.Version)
	}
}

// flush writes the newest pending snapshot for docID, if any.
func (p *Persister) flush(docID string) {
	p.mu.Lock()
	job, ok := p.pending[docID]
	delete(p.pending, docID)
	p.mu.Unlock()
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	if err := p.snaps.SaveSnapshot(ctx, docID, job.snap); err != nil {
		log.Printf("⚠️  Failed to persist snapshot for doc %s: %v", docID, err)
		return
	}

	if p.history != nil {
		rec := &models.EditRecord{
			DocID:   docID,
			Version: job.snap.Version,
			Text:    job.snap.Text,
			Origin:  job.origin,
		}
		if err := p.history.Append(ctx, rec); err != nil {
			log.Printf("⚠️  Failed to archive edit for doc %s: %v", docID, err)
		}
	}
}

// Shutdown stops the workers and best-effort flushes the newest pending
// snapshot of every document.
func (p *Persister) Shutdown() {
	log.Println("🛑 Shutting down snapshot persister...")

	p.cancel()
	p.wg.Wait()

	p.mu.Lock()
	remaining := make([]string, 0, len(p.pending))
	for docID := range p.pending {
		remaining = append(remaining, docID)
	}
	p.mu.Unlock()

	for _, docID := range remaining {
		p.flush(docID)
	}

	log.Println("✓ Snapshot persister shutdown complete")
}

// QueueLength returns the number of queued write tokens.
func (p *Persister) QueueLength() int {
	return len(p.jobs)
}
