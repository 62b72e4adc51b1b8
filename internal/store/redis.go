package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"

	"collab-relay/internal/models"
)

// ErrNotFound is returned when no snapshot exists for a document.
var ErrNotFound = errors.New("snapshot not found")

// OpsPattern matches every document's ops channel.
const OpsPattern = "doc:*:ops"

// SnapshotKey builds the key holding a document's persisted snapshot.
func SnapshotKey(docID string) string {
	return "doc:" + docID + ":snapshot"
}

// OpsChannel builds the pub/sub channel carrying a document's ops.
func OpsChannel(docID string) string {
	return "doc:" + docID + ":ops"
}

// DocIDFromChannel derives the document id back out of an ops channel name.
func DocIDFromChannel(channel string) (string, bool) {
	if !strings.HasPrefix(channel, "doc:") || !strings.HasSuffix(channel, ":ops") {
		return "", false
	}
	if len(channel) <= len("doc:")+len(":ops") {
		return "", false
	}
	return channel[len("doc:") : len(channel)-len(":ops")], true
}

// Redis is the thin client over the external key-value store: snapshot
// read/write plus the cross-replica ops bus.
type Redis struct {
	rdb *redis.Client
}

func NewRedis(addr, password string, db int) *Redis {
	return &Redis{
		rdb: redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: password,
			DB:       db,
		}),
	}
}

// Ping verifies connectivity at startup.
func (s *Redis) Ping(ctx context.Context) error {
	if err := s.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}

func (s *Redis) Close() error {
	return s.rdb.Close()
}

// LoadSnapshot reads and decodes doc:<docId>:snapshot.
// Returns ErrNotFound when the key is absent.
func (s *Redis) LoadSnapshot(ctx context.Context, docID string) (*models.Snapshot, error) {
	raw, err := s.rdb.Get(ctx, SnapshotKey(docID)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load snapshot for %s: %w", docID, err)
	}

	var snap models.Snapshot
	if err := json.Unmarshal([]byte(raw), &snap); err != nil {
		return nil, fmt.Errorf("decode snapshot for %s: %w", docID, err)
	}
	return &snap, nil
}

// RawSnapshot returns the persisted snapshot JSON verbatim, for the
// read-only API. Returns ErrNotFound when the key is absent.
func (s *Redis) RawSnapshot(ctx context.Context, docID string) ([]byte, error) {
	raw, err := s.rdb.Get(ctx, SnapshotKey(docID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read snapshot for %s: %w", docID, err)
	}
	return raw, nil
}

// SaveSnapshot writes doc:<docId>:snapshot. Concurrent writers race toward
// the same or later state, so plain SET is sufficient.
func (s *Redis) SaveSnapshot(ctx context.Context, docID string, snap models.Snapshot) error {
	payload, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode snapshot for %s: %w", docID, err)
	}
	if err := s.rdb.Set(ctx, SnapshotKey(docID), payload, 0).Err(); err != nil {
		return fmt.Errorf("persist snapshot for %s: %w", docID, err)
	}
	return nil
}

// Publish sends an envelope on the document's ops channel.
func (s *Redis) Publish(ctx context.Context, docID string, payload []byte) error {
	if err := s.rdb.Publish(ctx, OpsChannel(docID), payload).Err(); err != nil {
		return fmt.Errorf("publish to %s: %w", OpsChannel(docID), err)
	}
	return nil
}

// SubscribeOps opens the single pattern subscription covering every
// document's ops channel.
func (s *Redis) SubscribeOps(ctx context.Context) *redis.PubSub {
	return s.rdb.PSubscribe(ctx, OpsPattern)
}
