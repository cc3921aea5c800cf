// Package watch polls a fixed set of events for the service wallet, reports
// lifecycle changes and optionally claims whatever becomes claimable.
package watch

import (
	"context"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/predictstake/internal/domain"
	"github.com/alanyoungcy/predictstake/internal/lifecycle"
	"github.com/alanyoungcy/predictstake/internal/orchestrator"
)

// Service is the part of the orchestrator the tracker drives.
type Service interface {
	View(ctx context.Context, event common.Address) (orchestrator.View, error)
	Claim(ctx context.Context, event common.Address, intent domain.Intent) orchestrator.ActionResult
}

// Config controls polling.
type Config struct {
	Events    []common.Address
	Interval  time.Duration
	AutoClaim bool
}

// Tracker polls events and remembers the last label seen for each.
type Tracker struct {
	svc    Service
	cfg    Config
	logger *slog.Logger
	last   map[common.Address]lifecycle.Label
}

// NewTracker creates a Tracker. A non-positive interval polls every 30s.
func NewTracker(svc Service, cfg Config, logger *slog.Logger) *Tracker {
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{
		svc:    svc,
		cfg:    cfg,
		logger: logger.With(slog.String("component", "watch")),
		last:   make(map[common.Address]lifecycle.Label),
	}
}

// Run checks every event immediately and then on each tick until ctx is
// cancelled.
func (t *Tracker) Run(ctx context.Context) error {
	t.Check(ctx)
	ticker := time.NewTicker(t.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			t.Check(ctx)
		}
	}
}

// Check polls every event once and returns the claims attempted.
func (t *Tracker) Check(ctx context.Context) []orchestrator.ActionResult {
	var claims []orchestrator.ActionResult
	for _, ev := range t.cfg.Events {
		if ctx.Err() != nil {
			return claims
		}
		v, err := t.svc.View(ctx, ev)
		if err != nil {
			t.logger.WarnContext(ctx, "watch view failed",
				slog.String("event", ev.Hex()),
				slog.String("kind", string(domain.KindOf(err))),
				slog.String("error", err.Error()),
			)
			continue
		}
		if prev, seen := t.last[ev]; !seen || prev != v.Label {
			t.logger.InfoContext(ctx, "event label changed",
				slog.String("event", ev.Hex()),
				slog.String("from", string(prev)),
				slog.String("to", string(v.Label)),
				slog.String("status", string(v.Status)),
			)
			t.last[ev] = v.Label
		}
		for _, intent := range Claimable(v) {
			if !t.cfg.AutoClaim {
				t.logger.InfoContext(ctx, "claim available",
					slog.String("event", ev.Hex()),
					slog.String("intent", string(intent)),
				)
				continue
			}
			res := t.svc.Claim(ctx, ev, intent)
			claims = append(claims, res)
			attrs := []any{
				slog.String("event", ev.Hex()),
				slog.String("intent", string(intent)),
				slog.String("message", res.Message),
			}
			if res.Success {
				t.logger.InfoContext(ctx, "auto claim confirmed", append(attrs, slog.String("tx_hash", res.TxHash))...)
			} else {
				t.logger.WarnContext(ctx, "auto claim failed", append(attrs, slog.String("kind", string(res.ErrorKind)))...)
			}
		}
	}
	return claims
}

// Claimable lists the claim intents v allows, in a fixed order.
func Claimable(v orchestrator.View) []domain.Intent {
	var out []domain.Intent
	if v.CanClaimReward {
		out = append(out, domain.IntentReward)
	}
	if v.CanClaimRefund {
		out = append(out, domain.IntentRefund)
	}
	if v.CanClaimCreatorRefund {
		out = append(out, domain.IntentCreatorRefund)
	}
	return out
}
