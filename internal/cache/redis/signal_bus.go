package redis

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/predictstake/internal/domain"
)

const subscriberBuffer = 128

// SignalBus carries refresh requests and operation transitions between
// replicas over Redis pub/sub. Only exact channel names are accepted.
// A subscriber that falls behind loses messages instead of stalling the
// shared connection, the same delivery memory.Bus gives a single replica.
type SignalBus struct {
	c       *Client
	logger  *slog.Logger
	dropped atomic.Int64
}

// NewSignalBus creates a SignalBus backed by the given Client.
func NewSignalBus(c *Client, logger *slog.Logger) *SignalBus {
	if logger == nil {
		logger = slog.Default()
	}
	return &SignalBus{c: c, logger: logger.With(slog.String("component", "signal_bus"))}
}

func (sb *SignalBus) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := checkChannel(channel); err != nil {
		return err
	}
	if err := sb.c.rdb.Publish(ctx, sb.c.Key("ch", channel), payload).Err(); err != nil {
		return fmt.Errorf("redis: publish %s: %w", channel, err)
	}
	return nil
}

// Subscribe waits for Redis to confirm the subscription, then relays
// payloads until ctx is done. The returned channel is closed afterwards.
func (sb *SignalBus) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	if err := checkChannel(channel); err != nil {
		return nil, err
	}
	pubsub := sb.c.rdb.Subscribe(ctx, sb.c.Key("ch", channel))
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("redis: subscribe %s: %w", channel, err)
	}

	out := make(chan []byte, subscriberBuffer)
	go sb.relay(ctx, channel, pubsub, out)
	return out, nil
}

func (sb *SignalBus) relay(ctx context.Context, channel string, pubsub *redis.PubSub, out chan<- []byte) {
	defer close(out)
	defer pubsub.Close()

	in := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-in:
			if !ok {
				return
			}
			select {
			case out <- []byte(msg.Payload):
			default:
				n := sb.dropped.Add(1)
				sb.logger.Warn("subscriber behind, message dropped",
					slog.String("channel", channel),
					slog.Int64("dropped_total", n),
				)
			}
		}
	}
}

// Dropped returns how many messages were discarded for slow subscribers.
func (sb *SignalBus) Dropped() int64 { return sb.dropped.Load() }

func checkChannel(channel string) error {
	if channel == "" || strings.ContainsAny(channel, "*?[") {
		return fmt.Errorf("redis: channel %q: %w", channel, domain.ErrInvalidInput)
	}
	return nil
}

var _ domain.SignalBus = (*SignalBus)(nil)
