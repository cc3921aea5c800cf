package orchestrator

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/alanyoungcy/predictstake/internal/domain"
	"github.com/alanyoungcy/predictstake/internal/opstate"
)

const publishTimeout = 3 * time.Second

// OperationNotice is the payload published on domain.ChannelOperation for
// every transition.
type OperationNotice struct {
	ID        string    `json:"id"`
	User      string    `json:"user"`
	Event     string    `json:"event"`
	Intent    string    `json:"intent"`
	From      string    `json:"from,omitempty"`
	To        string    `json:"to"`
	TxHash    string    `json:"tx_hash,omitempty"`
	ErrorKind string    `json:"error_kind,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	At        time.Time `json:"at"`
}

// NoticeFromTransition converts a transition for publication.
func NoticeFromTransition(t opstate.Transition) OperationNotice {
	return OperationNotice{
		ID:        t.OperationID,
		User:      t.Key.User.Hex(),
		Event:     t.Key.Event.Hex(),
		Intent:    string(t.Intent),
		From:      string(t.From),
		To:        string(t.To),
		TxHash:    hashString(t.TxHash),
		ErrorKind: string(t.Kind()),
		Reason:    string(domain.ReasonOf(t.Err)),
		At:        t.At.UTC(),
	}
}

// Publisher pushes operation transitions onto a SignalBus.
type Publisher struct {
	bus    domain.SignalBus
	logger *slog.Logger
}

// NewPublisher creates a Publisher.
func NewPublisher(bus domain.SignalBus, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{bus: bus, logger: logger.With(slog.String("component", "op_publisher"))}
}

// Observe is an opstate.Registry transition observer.
func (p *Publisher) Observe(t opstate.Transition) {
	payload, err := json.Marshal(NoticeFromTransition(t))
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	if err := p.bus.Publish(ctx, domain.ChannelOperation, payload); err != nil {
		p.logger.Warn("publish operation failed",
			slog.String("id", t.OperationID),
			slog.String("state", string(t.To)),
			slog.String("error", err.Error()),
		)
	}
}
