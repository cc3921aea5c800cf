package refresh

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/predictstake/internal/domain"
)

const publishTimeout = 3 * time.Second

// Notice is the payload published on domain.ChannelRefresh.
type Notice struct {
	Origin string    `json:"origin"`
	Reason string    `json:"reason"`
	At     time.Time `json:"at"`
}

// Fanout triggers the local coordinator and tells other replicas about it
// over a SignalBus. Notices published by this replica are ignored on receipt.
type Fanout struct {
	coord  *Coordinator
	bus    domain.SignalBus
	origin string
	clock  Clock
	logger *slog.Logger
}

// NewFanout creates a Fanout with a fresh replica id.
func NewFanout(coord *Coordinator, bus domain.SignalBus, clock Clock, logger *slog.Logger) *Fanout {
	if clock == nil {
		clock = SystemClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Fanout{
		coord:  coord,
		bus:    bus,
		origin: uuid.NewString(),
		clock:  clock,
		logger: logger.With(slog.String("component", "refresh_fanout")),
	}
}

// Origin returns this replica's id.
func (f *Fanout) Origin() string { return f.origin }

// Trigger runs Coordinator.Trigger and then publishes a notice, waiting up
// to publishTimeout for the bus.
func (f *Fanout) Trigger(reason string) {
	f.coord.Trigger(reason)
	if f.bus == nil {
		return
	}
	payload, err := json.Marshal(Notice{Origin: f.origin, Reason: reason, At: f.clock.Now().UTC()})
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	if err := f.bus.Publish(ctx, domain.ChannelRefresh, payload); err != nil {
		f.logger.Warn("publish refresh notice failed",
			slog.String("reason", reason),
			slog.String("error", err.Error()),
		)
	}
}

// Run forwards notices from other replicas to the coordinator until ctx is
// done.
func (f *Fanout) Run(ctx context.Context) error {
	if f.bus == nil {
		<-ctx.Done()
		return nil
	}
	ch, err := f.bus.Subscribe(ctx, domain.ChannelRefresh)
	if err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case data, ok := <-ch:
			if !ok {
				return nil
			}
			var n Notice
			if err := json.Unmarshal(data, &n); err != nil {
				f.logger.Debug("dropping malformed refresh notice", slog.String("error", err.Error()))
				continue
			}
			if n.Origin == f.origin {
				continue
			}
			f.coord.TriggerRemote(n.Reason)
		}
	}
}
