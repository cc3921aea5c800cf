// Package ledger holds ledger-agnostic plumbing shared by every backend:
// failure classification and retrying reads.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"syscall"

	"github.com/alanyoungcy/predictstake/internal/domain"
)

type pattern struct {
	needles []string
	reason  domain.Reason
}

// Revert messages differ between deployments, so matching is by substring.
var revertPatterns = []pattern{
	{[]string{"not a winner", "not winner", "did not win", "losing option"}, domain.ReasonNotWinner},
	{[]string{"not completed", "not resolved", "not finalized", "not finalised"}, domain.ReasonNotCompleted},
	{[]string{"no stake", "not staked", "nothing to claim", "no position"}, domain.ReasonNoStake},
	{[]string{"not nullified", "not refundable", "not cancelled", "not canceled"}, domain.ReasonNotNullified},
	{[]string{"not creator", "not the creator", "only creator"}, domain.ReasonNotCreator},
}

// ClassifyRevert maps a revert message to a Reason.
func ClassifyRevert(msg string) domain.Reason {
	lower := strings.ToLower(msg)
	for _, p := range revertPatterns {
		for _, n := range p.needles {
			if strings.Contains(lower, n) {
				return p.reason
			}
		}
	}
	return domain.ReasonUnclassified
}

type sentinelPattern struct {
	needles  []string
	sentinel error
}

var failurePatterns = []sentinelPattern{
	{[]string{"user rejected", "user denied", "rejected by user", "action_rejected", "signing declined"}, domain.ErrUserRejected},
	{[]string{"insufficient funds for gas", "insufficient funds for intrinsic", "gas required exceeds allowance"}, domain.ErrInsufficientGas},
	{[]string{"already claimed", "reward claimed", "refund claimed"}, domain.ErrAlreadyClaimed},
	{[]string{"exceeds allowance", "insufficient allowance"}, domain.ErrInsufficientAllowance},
	{[]string{"exceeds balance", "insufficient balance"}, domain.ErrInsufficientBalance},
	{[]string{"staking closed", "event not active", "event ended", "not ongoing", "betting closed"}, domain.ErrEventNotOpen},
	{[]string{"different option", "opposing option", "already staked on other"}, domain.ErrOpposingChoice},
}

// ClassifyError attaches a domain sentinel to a raw backend error so callers
// can use domain.KindOf. Reverts without a more specific sentinel become
// *domain.RevertError. Unrecognised errors are returned unchanged.
func ClassifyError(err error) error {
	if err == nil {
		return nil
	}
	if domain.KindOf(err) != domain.KindUnknown {
		return err
	}
	msg := err.Error()
	lower := strings.ToLower(msg)
	for _, p := range failurePatterns {
		for _, n := range p.needles {
			if strings.Contains(lower, n) {
				return fmt.Errorf("%w: %w", p.sentinel, err)
			}
		}
	}
	if strings.Contains(lower, "revert") {
		return &domain.RevertError{Reason: ClassifyRevert(msg), Message: msg}
	}
	if isTimeout(err) {
		return fmt.Errorf("%w: %w", domain.ErrNetworkTimeout, err)
	}
	return err
}

// IsTransient reports whether a read that failed with err may succeed when
// retried: timeouts, rate limiting and dropped connections.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	var revert *domain.RevertError
	if errors.As(err, &revert) {
		return false
	}
	if errors.Is(err, domain.ErrInvalidInput) {
		return false
	}
	if isTimeout(err) || errors.Is(err, domain.ErrRateLimited) {
		return true
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED) {
		return true
	}
	lower := strings.ToLower(err.Error())
	for _, n := range []string{"429", "too many requests", "rate limit", "connection reset", "connection refused", "503", "502", "bad gateway", "service unavailable"} {
		if strings.Contains(lower, n) {
			return true
		}
	}
	return false
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, domain.ErrNetworkTimeout) {
		return true
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	lower := strings.ToLower(err.Error())
	return strings.Contains(lower, "timeout") || strings.Contains(lower, "timed out")
}
