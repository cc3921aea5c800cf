package domain

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// LockManager provides distributed locking.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// SignalBus provides pub/sub between service replicas.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
}

// SnapshotCache shares recent event snapshots between replicas.
type SnapshotCache interface {
	Set(ctx context.Context, snap EventSnapshot, ttl time.Duration) error
	Get(ctx context.Context, event, user common.Address) (EventSnapshot, error)
	Invalidate(ctx context.Context, event, user common.Address) error
}

// Channel names used on the SignalBus.
const (
	ChannelRefresh   = "refresh"
	ChannelOperation = "operation"
)

// RateLimiter counts requests per key within a window.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}
