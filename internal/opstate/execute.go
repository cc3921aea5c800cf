package opstate

import (
	"context"
	"fmt"
	"time"

	"github.com/alanyoungcy/predictstake/internal/domain"
)

// DefaultConfirmTimeout bounds the wait for a broadcast write.
const DefaultConfirmTimeout = 3 * time.Minute

// Execute drives m through one ledger write and leaves it Confirmed or
// Failed. The caller's ctx can cancel the write only before broadcast; once
// the write is out the wait for its outcome is bounded by confirmTimeout
// alone.
func Execute(ctx context.Context, m *Machine, w domain.LedgerWriter, req domain.WriteRequest, confirmTimeout time.Duration) (domain.Receipt, error) {
	if confirmTimeout <= 0 {
		confirmTimeout = DefaultConfirmTimeout
	}
	if err := m.Submit(); err != nil {
		return domain.Receipt{}, err
	}
	if err := ctx.Err(); err != nil {
		_ = m.Fail(err)
		return domain.Receipt{}, fmt.Errorf("opstate: %s cancelled before broadcast: %w", req.Op, err)
	}

	h, err := w.Write(ctx, req)
	if err != nil {
		_ = m.Fail(err)
		return domain.Receipt{}, err
	}
	if err := m.Confirming(h.Hash); err != nil {
		return domain.Receipt{}, err
	}

	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), confirmTimeout)
	defer cancel()
	rcpt, err := w.AwaitConfirmation(wctx, h)
	if err != nil {
		_ = m.Fail(err)
		return domain.Receipt{}, err
	}
	if err := m.Confirm(); err != nil {
		return domain.Receipt{}, err
	}
	return rcpt, nil
}
