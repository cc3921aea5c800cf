package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/predictstake/internal/domain"
)

// RetryConfig bounds read retries.
type RetryConfig struct {
	Attempts  int
	BaseDelay time.Duration
	MaxDelay  time.Duration
}

// DefaultRetryConfig is 3 attempts doubling from 250ms, capped at 2s.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{Attempts: 3, BaseDelay: 250 * time.Millisecond, MaxDelay: 2 * time.Second}
}

// RetryReader wraps a LedgerReader with bounded exponential backoff for
// transient failures. Once attempts are exhausted the error wraps
// domain.ErrDegraded.
type RetryReader struct {
	next    domain.LedgerReader
	cfg     RetryConfig
	logger  *slog.Logger
	onRetry func(op string, err error)
}

// NewRetryReader creates a RetryReader. onRetry may be nil.
func NewRetryReader(next domain.LedgerReader, cfg RetryConfig, logger *slog.Logger, onRetry func(op string, err error)) *RetryReader {
	if cfg.Attempts < 1 {
		cfg.Attempts = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RetryReader{
		next:    next,
		cfg:     cfg,
		logger:  logger.With(slog.String("component", "ledger_retry")),
		onRetry: onRetry,
	}
}

func (r *RetryReader) ReadEvent(ctx context.Context, event, user common.Address) (domain.EventSnapshot, error) {
	return retry(ctx, r, "read_event", func() (domain.EventSnapshot, error) {
		return r.next.ReadEvent(ctx, event, user)
	})
}

func (r *RetryReader) Balance(ctx context.Context, token, owner common.Address) (*big.Int, error) {
	return retry(ctx, r, "balance", func() (*big.Int, error) {
		return r.next.Balance(ctx, token, owner)
	})
}

func (r *RetryReader) Allowance(ctx context.Context, token, owner, spender common.Address) (*big.Int, error) {
	return retry(ctx, r, "allowance", func() (*big.Int, error) {
		return r.next.Allowance(ctx, token, owner, spender)
	})
}

func (r *RetryReader) backOff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.cfg.BaseDelay
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxInterval = r.cfg.MaxDelay
	b.MaxElapsedTime = 0
	b.Reset()
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(r.cfg.Attempts-1)), ctx)
}

func retry[T any](ctx context.Context, r *RetryReader, op string, fn func() (T, error)) (T, error) {
	attempts := 0
	var last error
	v, err := backoff.RetryNotifyWithData[T](func() (T, error) {
		attempts++
		v, err := fn()
		if err == nil {
			return v, nil
		}
		err = ClassifyError(err)
		last = err
		if !IsTransient(err) {
			return v, backoff.Permanent(err)
		}
		return v, err
	}, r.backOff(ctx), func(err error, wait time.Duration) {
		r.logger.Debug("retrying ledger read",
			slog.String("op", op),
			slog.Int("attempt", attempts),
			slog.Duration("wait", wait),
			slog.String("error", err.Error()),
		)
		if r.onRetry != nil {
			r.onRetry(op, err)
		}
	})
	if err == nil {
		return v, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		var zero T
		return zero, fmt.Errorf("ledger: %s: %w", op, ClassifyError(ctxErr))
	}
	if last != nil && IsTransient(last) {
		r.logger.Warn("ledger read degraded",
			slog.String("op", op),
			slog.Int("attempts", attempts),
			slog.String("error", last.Error()),
		)
		var zero T
		return zero, fmt.Errorf("ledger: %s failed after %d attempts: %w: %w", op, attempts, domain.ErrDegraded, last)
	}
	var zero T
	return zero, fmt.Errorf("ledger: %s: %w", op, err)
}
