package orchestrator

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/predictstake/internal/domain"
)

// ActionResult is the outcome of every orchestrated action. Errors never
// escape an action; they are folded into ErrorKind, Reason and Message.
type ActionResult struct {
	Success           bool             `json:"success"`
	Message           string           `json:"message"`
	OperationID       string           `json:"operation_id,omitempty"`
	Intent            domain.Intent    `json:"intent,omitempty"`
	ErrorKind         domain.ErrorKind `json:"error_kind,omitempty"`
	Reason            domain.Reason    `json:"reason,omitempty"`
	TxHash            string           `json:"tx_hash,omitempty"`
	Amount            string           `json:"amount,omitempty"`
	RequestedApproval *big.Int         `json:"requested_approval,omitempty"`
	NeedsResubmit     bool             `json:"needs_resubmit,omitempty"`
	Retryable         bool             `json:"retryable,omitempty"`
}

var kindMessages = map[domain.ErrorKind]string{
	domain.KindUserRejected:          "The request was rejected in the wallet.",
	domain.KindInsufficientGas:       "Not enough native balance to pay for gas.",
	domain.KindInsufficientBalance:   "Token balance is too low for this stake.",
	domain.KindInsufficientAllowance: "Token spending must be approved first.",
	domain.KindEventNotOpen:          "This event is not open for staking.",
	domain.KindOpposingChoice:        "You already staked on the other option.",
	domain.KindAlreadyClaimed:        "Already claimed.",
	domain.KindRevertedByLedger:      "The transaction was reverted.",
	domain.KindNetworkTimeout:        "The network did not respond in time.",
	domain.KindInvalidInput:          "Invalid request.",
	domain.KindIneligible:            "Not eligible to claim.",
	domain.KindOperationInFlight:     "Another operation on this event is still in progress.",
	domain.KindDegraded:              "Ledger data is temporarily unavailable. Try again.",
	domain.KindUnknown:               "Something went wrong.",
}

var reasonMessages = map[domain.Reason]string{
	domain.ReasonNotWinner:    "Your option did not win.",
	domain.ReasonNotCompleted: "The event has not completed yet.",
	domain.ReasonNoStake:      "You have no stake in this event.",
	domain.ReasonNotNullified: "The event is not refundable.",
	domain.ReasonNotCreator:   "Only the event creator can claim this refund.",
}

// Retryable reports whether a manual retry of the same action may succeed.
func Retryable(kind domain.ErrorKind) bool {
	return kind == domain.KindDegraded || kind == domain.KindNetworkTimeout
}

func failure(intent domain.Intent, opID string, err error) ActionResult {
	kind := domain.KindOf(err)
	reason := domain.ReasonOf(err)
	msg, ok := reasonMessages[reason]
	if !ok {
		msg = kindMessages[kind]
	}
	if kind == domain.KindInvalidInput {
		msg = kindMessages[kind] + " " + err.Error()
	}
	return ActionResult{
		Success:     false,
		Message:     msg,
		OperationID: opID,
		Intent:      intent,
		ErrorKind:   kind,
		Reason:      reason,
		Retryable:   Retryable(kind),
	}
}

func success(intent domain.Intent, opID string, tx common.Hash, msg string) ActionResult {
	return ActionResult{
		Success:     true,
		Message:     msg,
		OperationID: opID,
		Intent:      intent,
		TxHash:      tx.Hex(),
	}
}
