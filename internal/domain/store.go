package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// OperationUpdate is one state transition appended to a journaled operation.
type OperationUpdate struct {
	State     OperationState
	TxHash    string
	ErrorKind ErrorKind
	Message   string
}

// OperationStore persists the operation journal.
type OperationStore interface {
	Create(ctx context.Context, rec OperationRecord) error
	Update(ctx context.Context, id string, upd OperationUpdate) error
	GetByID(ctx context.Context, id string) (OperationRecord, error)
	List(ctx context.Context, opts ListOpts) ([]OperationRecord, error)
	ListBefore(ctx context.Context, before time.Time) ([]OperationRecord, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditQuery selects audit entries. EventPrefix matches "archive." or
// "operation.claim" style families; empty matches everything.
type AuditQuery struct {
	ListOpts
	EventPrefix string
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, q AuditQuery) ([]AuditEntry, error)
}
