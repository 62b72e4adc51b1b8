package relay

import (
	"context"

	"github.com/redis/go-redis/v9"

	"collab-relay/internal/models"
)

// Interfaces declared by this package for what it consumes. The relay only
// cares about these methods; the store package provides the Redis-backed
// implementation and tests provide in-memory fakes.

// SnapshotStore loads and persists document snapshots.
type SnapshotStore interface {
	LoadSnapshot(ctx context.Context, docID string) (*models.Snapshot, error)
	SaveSnapshot(ctx context.Context, docID string, snap models.Snapshot) error
}

// Bus carries update envelopes between replicas.
type Bus interface {
	Publish(ctx context.Context, docID string, payload []byte) error
	SubscribeOps(ctx context.Context) *redis.PubSub
}

// HistoryArchive records accepted updates out-of-band. Optional; a nil
// archive disables it.
type HistoryArchive interface {
	Append(ctx context.Context, rec *models.EditRecord) error
}
