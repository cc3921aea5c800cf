package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/alanyoungcy/predictstake/internal/domain"
	"github.com/alanyoungcy/predictstake/internal/refresh"
)

// snapshotStore keeps one refresh.Cache per recently viewed event, bounded by
// an LRU. A shared cache, when configured, lets replicas reuse each other's
// reads within maxAge.
type snapshotStore struct {
	reader domain.LedgerReader
	user   common.Address
	maxAge time.Duration
	clock  refresh.Clock
	shared domain.SnapshotCache
	logger *slog.Logger

	mu      sync.Mutex
	entries *lru.Cache[common.Address, *refresh.Cache[domain.EventSnapshot]]
	flags   map[common.Address]map[domain.Intent]bool
}

func newSnapshotStore(reader domain.LedgerReader, user common.Address, size int, maxAge time.Duration, clock refresh.Clock, shared domain.SnapshotCache, logger *slog.Logger) (*snapshotStore, error) {
	entries, err := lru.New[common.Address, *refresh.Cache[domain.EventSnapshot]](size)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: snapshot cache: %w", err)
	}
	return &snapshotStore{
		reader:  reader,
		user:    user,
		maxAge:  maxAge,
		clock:   clock,
		shared:  shared,
		logger:  logger,
		entries: entries,
		flags:   make(map[common.Address]map[domain.Intent]bool),
	}, nil
}

func (s *snapshotStore) entry(event common.Address) *refresh.Cache[domain.EventSnapshot] {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.entries.Get(event); ok {
		return c
	}
	c := refresh.NewCache(func(ctx context.Context) (domain.EventSnapshot, error) {
		return s.load(ctx, event)
	}, s.maxAge, s.clock)
	s.entries.Add(event, c)
	return c
}

func (s *snapshotStore) load(ctx context.Context, event common.Address) (domain.EventSnapshot, error) {
	if s.shared != nil {
		snap, err := s.shared.Get(ctx, event, s.user)
		switch {
		case err == nil && s.clock.Now().Sub(snap.FetchedAt) < s.maxAge:
			s.clearFlags(event)
			return snap, nil
		case err != nil && !errors.Is(err, domain.ErrNotFound):
			s.logger.Warn("shared snapshot read failed",
				slog.String("event", event.Hex()),
				slog.String("error", err.Error()),
			)
		}
	}

	snap, err := s.reader.ReadEvent(ctx, event, s.user)
	if err != nil {
		return domain.EventSnapshot{}, err
	}
	s.clearFlags(event)
	if s.shared != nil {
		if err := s.shared.Set(ctx, snap, s.maxAge); err != nil {
			s.logger.Warn("shared snapshot write failed",
				slog.String("event", event.Hex()),
				slog.String("error", err.Error()),
			)
		}
	}
	return snap, nil
}

// get returns a snapshot no older than maxAge.
func (s *snapshotStore) get(ctx context.Context, event common.Address) (domain.EventSnapshot, error) {
	snap, err := s.entry(event).Get(ctx)
	if err != nil {
		return domain.EventSnapshot{}, err
	}
	return s.withFlags(snap), nil
}

// fresh drops every cached copy of event and reads the ledger.
func (s *snapshotStore) fresh(ctx context.Context, event common.Address) (domain.EventSnapshot, error) {
	s.invalidate(ctx, event)
	return s.get(ctx, event)
}

func (s *snapshotStore) invalidate(ctx context.Context, event common.Address) {
	s.entry(event).Invalidate()
	if s.shared == nil {
		return
	}
	if err := s.shared.Invalidate(ctx, event, s.user); err != nil {
		s.logger.Warn("shared snapshot invalidate failed",
			slog.String("event", event.Hex()),
			slog.String("error", err.Error()),
		)
	}
}

// Refresh implements refresh.Subscriber.
func (s *snapshotStore) Refresh(ctx context.Context, _ string) error {
	s.mu.Lock()
	keys := s.entries.Keys()
	s.mu.Unlock()
	for _, k := range keys {
		s.invalidate(ctx, k)
	}
	return nil
}

// markClaimed records a confirmed claim ahead of the ledger's indexers. The
// flag lives until the next read of the event.
func (s *snapshotStore) markClaimed(event common.Address, intent domain.Intent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.flags[event]
	if !ok {
		f = make(map[domain.Intent]bool)
		s.flags[event] = f
	}
	f[intent] = true
}

func (s *snapshotStore) clearFlags(event common.Address) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.flags, event)
}

func (s *snapshotStore) withFlags(snap domain.EventSnapshot) domain.EventSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	f := s.flags[snap.Event.Address]
	if f[domain.IntentReward] || f[domain.IntentRefund] {
		snap.Stake.Claimed = true
	}
	if f[domain.IntentCreatorRefund] {
		snap.Event.CreatorRewardClaimed = true
	}
	return snap
}
