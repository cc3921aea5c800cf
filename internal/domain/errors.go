package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrRateLimited   = errors.New("rate limited")
	ErrUnauthorized  = errors.New("unauthorized")
	ErrSigningFailed = errors.New("signing failed")
	ErrLockHeld      = errors.New("lock already held")

	ErrUserRejected          = errors.New("request rejected by signer")
	ErrInsufficientGas       = errors.New("insufficient funds for gas")
	ErrInsufficientBalance   = errors.New("insufficient token balance")
	ErrInsufficientAllowance = errors.New("insufficient allowance")
	ErrEventNotOpen          = errors.New("event is not open for staking")
	ErrOpposingChoice        = errors.New("existing stake is on the other option")
	ErrAlreadyClaimed        = errors.New("already claimed")
	ErrNetworkTimeout        = errors.New("network timeout")
	ErrInvalidInput          = errors.New("invalid input")
	ErrOperationInFlight     = errors.New("operation already in flight")
	ErrDegraded              = errors.New("ledger reads unavailable")
)

// ErrorKind is the caller-facing classification of a failed action.
type ErrorKind string

const (
	KindUserRejected          ErrorKind = "UserRejected"
	KindInsufficientGas       ErrorKind = "InsufficientGas"
	KindInsufficientBalance   ErrorKind = "InsufficientBalance"
	KindInsufficientAllowance ErrorKind = "InsufficientAllowance"
	KindEventNotOpen          ErrorKind = "EventNotOpen"
	KindOpposingChoice        ErrorKind = "OpposingChoice"
	KindAlreadyClaimed        ErrorKind = "AlreadyClaimed"
	KindRevertedByLedger      ErrorKind = "RevertedByLedger"
	KindNetworkTimeout        ErrorKind = "NetworkTimeout"
	KindUnknown               ErrorKind = "UnknownError"
	KindInvalidInput          ErrorKind = "InvalidInput"
	KindIneligible            ErrorKind = "Ineligible"
	KindOperationInFlight     ErrorKind = "OperationInFlight"
	KindDegraded              ErrorKind = "Degraded"
)

// Reason refines RevertedByLedger and Ineligible failures.
type Reason string

const (
	ReasonNotWinner    Reason = "not_winner"
	ReasonNotCompleted Reason = "not_completed"
	ReasonNoStake      Reason = "no_stake"
	ReasonNotNullified Reason = "not_nullified"
	ReasonNotCreator   Reason = "not_creator"
	ReasonUnclassified Reason = "unclassified"
)

// RevertError is a write the ledger accepted for execution and then reverted.
type RevertError struct {
	Reason  Reason
	Message string
}

func (e *RevertError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("reverted by ledger (%s)", e.Reason)
	}
	return fmt.Sprintf("reverted by ledger (%s): %s", e.Reason, e.Message)
}

// IneligibleError is a claim rejected locally before any write.
type IneligibleError struct {
	Intent Intent
	Reason Reason
}

func (e *IneligibleError) Error() string {
	return fmt.Sprintf("%s claim not eligible: %s", e.Intent, e.Reason)
}

var sentinelKinds = []struct {
	err  error
	kind ErrorKind
}{
	{ErrDegraded, KindDegraded},
	{ErrUserRejected, KindUserRejected},
	{ErrInsufficientGas, KindInsufficientGas},
	{ErrInsufficientBalance, KindInsufficientBalance},
	{ErrInsufficientAllowance, KindInsufficientAllowance},
	{ErrEventNotOpen, KindEventNotOpen},
	{ErrOpposingChoice, KindOpposingChoice},
	{ErrAlreadyClaimed, KindAlreadyClaimed},
	{ErrNetworkTimeout, KindNetworkTimeout},
	{ErrInvalidInput, KindInvalidInput},
	{ErrOperationInFlight, KindOperationInFlight},
	{ErrLockHeld, KindOperationInFlight},
}

// KindOf maps any error to its ErrorKind. nil maps to the empty kind.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var revert *RevertError
	if errors.As(err, &revert) {
		return KindRevertedByLedger
	}
	var inel *IneligibleError
	if errors.As(err, &inel) {
		return KindIneligible
	}
	for _, sk := range sentinelKinds {
		if errors.Is(err, sk.err) {
			return sk.kind
		}
	}
	return KindUnknown
}

// ReasonOf returns the sub-reason carried by a revert or ineligibility error.
func ReasonOf(err error) Reason {
	var revert *RevertError
	if errors.As(err, &revert) {
		return revert.Reason
	}
	var inel *IneligibleError
	if errors.As(err, &inel) {
		return inel.Reason
	}
	return ""
}

// IsValidation reports whether kind is detected locally before a broadcast.
func IsValidation(kind ErrorKind) bool {
	switch kind {
	case KindOpposingChoice, KindEventNotOpen, KindInsufficientBalance,
		KindInsufficientAllowance, KindAlreadyClaimed, KindInvalidInput,
		KindIneligible, KindOperationInFlight:
		return true
	default:
		return false
	}
}
