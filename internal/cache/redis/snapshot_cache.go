package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/predictstake/internal/domain"
)

// SnapshotCache implements domain.SnapshotCache with one JSON string per
// (event, user).
//
// Key schema:
//
//	{prefix}:snapshot:{event}:{user}
type SnapshotCache struct {
	c *Client
}

// NewSnapshotCache creates a SnapshotCache backed by the given Client.
func NewSnapshotCache(c *Client) *SnapshotCache {
	return &SnapshotCache{c: c}
}

func (sc *SnapshotCache) key(event, user common.Address) string {
	return sc.c.Key("snapshot", event.Hex(), user.Hex())
}

// Set stores snap for ttl.
func (sc *SnapshotCache) Set(ctx context.Context, snap domain.EventSnapshot, ttl time.Duration) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("redis: marshal snapshot %s: %w", snap.Event.Address.Hex(), err)
	}
	if err := sc.c.rdb.Set(ctx, sc.key(snap.Event.Address, snap.User), data, ttl).Err(); err != nil {
		return fmt.Errorf("redis: set snapshot %s: %w", snap.Event.Address.Hex(), err)
	}
	return nil
}

// Get returns the cached snapshot or domain.ErrNotFound.
func (sc *SnapshotCache) Get(ctx context.Context, event, user common.Address) (domain.EventSnapshot, error) {
	data, err := sc.c.rdb.Get(ctx, sc.key(event, user)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.EventSnapshot{}, domain.ErrNotFound
		}
		return domain.EventSnapshot{}, fmt.Errorf("redis: get snapshot %s: %w", event.Hex(), err)
	}
	var snap domain.EventSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return domain.EventSnapshot{}, fmt.Errorf("redis: unmarshal snapshot %s: %w", event.Hex(), err)
	}
	return snap, nil
}

// Invalidate removes the cached snapshot.
func (sc *SnapshotCache) Invalidate(ctx context.Context, event, user common.Address) error {
	if err := sc.c.rdb.Del(ctx, sc.key(event, user)).Err(); err != nil {
		return fmt.Errorf("redis: invalidate snapshot %s: %w", event.Hex(), err)
	}
	return nil
}

var _ domain.SnapshotCache = (*SnapshotCache)(nil)
