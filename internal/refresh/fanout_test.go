package refresh

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/predictstake/internal/cache/memory"
	"github.com/alanyoungcy/predictstake/internal/domain"
)

func singleShot(clock *fakeClock, hooks Hooks) *Coordinator {
	cfg := DefaultConfig()
	cfg.Offsets = []time.Duration{0}
	return New(cfg, clock, hooks, nil)
}

func TestFanoutReachesOtherReplicas(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	bus := memory.NewBus()

	clockA, clockB := newFakeClock(), newFakeClock()
	var throttledA atomic.Int32
	var remoteB atomic.Int32
	a := singleShot(clockA, Hooks{OnThrottled: func(string) { throttledA.Add(1) }})
	b := singleShot(clockB, Hooks{OnRun: func(r Run) {
		if r.Remote {
			remoteB.Add(1)
		}
	}})
	defer a.Close()
	defer b.Close()
	subA := &countingSub{clock: clockA}
	subB := &countingSub{clock: clockB}
	a.Subscribe(subA)
	b.Subscribe(subB)

	fa := NewFanout(a, bus, clockA, nil)
	fb := NewFanout(b, bus, clockB, nil)
	require.NotEqual(t, fa.Origin(), fb.Origin())
	go func() { _ = fa.Run(ctx) }()
	go func() { _ = fb.Run(ctx) }()
	require.Eventually(t, func() bool { return bus.Subscribers(domain.ChannelRefresh) == 2 },
		time.Second, 5*time.Millisecond)

	fa.Trigger("stake confirmed")
	require.Equal(t, 1, subA.count())

	require.Eventually(t, func() bool { return subB.count() == 1 }, time.Second, 5*time.Millisecond)
	assert.EqualValues(t, 1, remoteB.Load())
	assert.Never(t, func() bool { return throttledA.Load() > 0 }, 50*time.Millisecond, 5*time.Millisecond,
		"own notice must not re-trigger the publisher")
}

func TestFanoutIgnoresMalformedNotices(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	bus := memory.NewBus()
	clock := newFakeClock()
	c := singleShot(clock, Hooks{})
	defer c.Close()
	sub := &countingSub{clock: clock}
	c.Subscribe(sub)

	f := NewFanout(c, bus, clock, nil)
	go func() { _ = f.Run(ctx) }()
	require.Eventually(t, func() bool { return bus.Subscribers(domain.ChannelRefresh) == 1 },
		time.Second, 5*time.Millisecond)

	require.NoError(t, bus.Publish(ctx, domain.ChannelRefresh, []byte("{not json")))
	payload, err := json.Marshal(Notice{Origin: "other", Reason: "claim confirmed"})
	require.NoError(t, err)
	require.NoError(t, bus.Publish(ctx, domain.ChannelRefresh, payload))

	require.Eventually(t, func() bool { return sub.count() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"claim confirmed"}, sub.reasons)
}

func TestFanoutWithoutBus(t *testing.T) {
	clock := newFakeClock()
	c := singleShot(clock, Hooks{})
	defer c.Close()
	sub := &countingSub{clock: clock}
	c.Subscribe(sub)

	f := NewFanout(c, nil, clock, nil)
	f.Trigger("local")
	assert.Equal(t, 1, sub.count())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, f.Run(ctx))
}
