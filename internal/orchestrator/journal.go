package orchestrator

import (
	"context"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/predictstake/internal/domain"
	"github.com/alanyoungcy/predictstake/internal/opstate"
)

const journalTimeout = 5 * time.Second

// Journal records operation transitions in an OperationStore. An operation
// is created when it leaves Idle, so guard rejections never reach the store.
type Journal struct {
	store  domain.OperationStore
	logger *slog.Logger
}

// NewJournal creates a Journal over store.
func NewJournal(store domain.OperationStore, logger *slog.Logger) *Journal {
	if logger == nil {
		logger = slog.Default()
	}
	return &Journal{store: store, logger: logger.With(slog.String("component", "journal"))}
}

// Observe is an opstate.Registry transition observer.
func (j *Journal) Observe(t opstate.Transition) {
	if t.From == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), journalTimeout)
	defer cancel()

	var err error
	if t.From == domain.StateIdle {
		err = j.store.Create(ctx, RecordFromTransition(t))
	} else {
		err = j.store.Update(ctx, t.OperationID, domain.OperationUpdate{
			State:     t.To,
			TxHash:    hashString(t.TxHash),
			ErrorKind: t.Kind(),
			Message:   errString(t.Err),
		})
	}
	if err != nil {
		j.logger.Error("journal write failed",
			slog.String("id", t.OperationID),
			slog.String("state", string(t.To)),
			slog.String("error", err.Error()),
		)
	}
}

// RecordFromTransition builds the journal row for the first transition out
// of Idle.
func RecordFromTransition(t opstate.Transition) domain.OperationRecord {
	return domain.OperationRecord{
		ID:        t.OperationID,
		User:      t.Key.User,
		Event:     t.Key.Event,
		Intent:    t.Intent,
		State:     t.To,
		Amount:    t.Amount,
		TxHash:    hashString(t.TxHash),
		ErrorKind: t.Kind(),
		Message:   errString(t.Err),
		CreatedAt: t.At,
		UpdatedAt: t.At,
	}
}

func hashString(h common.Hash) string {
	if h == (common.Hash{}) {
		return ""
	}
	return h.Hex()
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
