package postgres

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/predictstake/internal/domain"
)

// OperationStore implements domain.OperationStore using PostgreSQL. Every
// update also appends a row to operation_transitions.
type OperationStore struct {
	pool *pgxpool.Pool
}

// NewOperationStore creates a new OperationStore backed by the given pool.
func NewOperationStore(pool *pgxpool.Pool) *OperationStore {
	return &OperationStore{pool: pool}
}

// Create inserts a journaled operation and its first transition.
func (s *OperationStore) Create(ctx context.Context, rec domain.OperationRecord) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin create operation %s: %w", rec.ID, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	const query = `
		INSERT INTO operations (
			id, wallet, event, intent, state, amount,
			tx_hash, error_kind, message, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6::numeric, $7, $8, $9, $10, $10)`
	_, err = tx.Exec(ctx, query,
		rec.ID, rec.User.Hex(), rec.Event.Hex(), string(rec.Intent), string(rec.State),
		amountText(rec.Amount), rec.TxHash, string(rec.ErrorKind), rec.Message, createdAt(rec.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("postgres: create operation %s: %w", rec.ID, err)
	}
	if err := insertTransition(ctx, tx, rec.ID, domain.OperationUpdate{
		State: rec.State, TxHash: rec.TxHash, ErrorKind: rec.ErrorKind, Message: rec.Message,
	}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit operation %s: %w", rec.ID, err)
	}
	return nil
}

// Update moves an operation to a new state. An empty TxHash keeps the
// stored one.
func (s *OperationStore) Update(ctx context.Context, id string, upd domain.OperationUpdate) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin update operation %s: %w", id, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	const query = `
		UPDATE operations SET
			state = $1,
			tx_hash = CASE WHEN $2 = '' THEN tx_hash ELSE $2 END,
			error_kind = $3,
			message = $4,
			updated_at = NOW()
		WHERE id = $5`
	tag, err := tx.Exec(ctx, query, string(upd.State), upd.TxHash, string(upd.ErrorKind), upd.Message, id)
	if err != nil {
		return fmt.Errorf("postgres: update operation %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	if err := insertTransition(ctx, tx, id, upd); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit operation %s: %w", id, err)
	}
	return nil
}

func insertTransition(ctx context.Context, tx pgx.Tx, id string, upd domain.OperationUpdate) error {
	const query = `
		INSERT INTO operation_transitions (operation_id, state, tx_hash, error_kind, message)
		VALUES ($1, $2, $3, $4, $5)`
	if _, err := tx.Exec(ctx, query, id, string(upd.State), upd.TxHash, string(upd.ErrorKind), upd.Message); err != nil {
		return fmt.Errorf("postgres: append transition %s: %w", id, err)
	}
	return nil
}

const operationSelectCols = `id::text, wallet, event, intent, state, amount::text,
	tx_hash, error_kind, message, created_at, updated_at`

func scanOperation(scanner interface{ Scan(dest ...any) error }) (domain.OperationRecord, error) {
	var rec domain.OperationRecord
	var wallet, event, intent, state, kind string
	var amount *string
	err := scanner.Scan(
		&rec.ID, &wallet, &event, &intent, &state, &amount,
		&rec.TxHash, &kind, &rec.Message, &rec.CreatedAt, &rec.UpdatedAt,
	)
	if err != nil {
		return domain.OperationRecord{}, err
	}
	rec.User = common.HexToAddress(wallet)
	rec.Event = common.HexToAddress(event)
	rec.Intent = domain.Intent(intent)
	rec.State = domain.OperationState(state)
	rec.ErrorKind = domain.ErrorKind(kind)
	rec.Amount = parseAmount(amount)
	return rec, nil
}

func scanOperations(rows pgx.Rows) ([]domain.OperationRecord, error) {
	var out []domain.OperationRecord
	for rows.Next() {
		rec, err := scanOperation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// GetByID retrieves a single operation.
func (s *OperationStore) GetByID(ctx context.Context, id string) (domain.OperationRecord, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+operationSelectCols+` FROM operations WHERE id = $1`, id)
	rec, err := scanOperation(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.OperationRecord{}, domain.ErrNotFound
		}
		return domain.OperationRecord{}, fmt.Errorf("postgres: get operation %s: %w", id, err)
	}
	return rec, nil
}

// List returns operations newest first.
func (s *OperationStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.OperationRecord, error) {
	query, args := appendPage(`SELECT `+operationSelectCols+` FROM operations WHERE 1=1`, nil, opts)
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list operations: %w", err)
	}
	defer rows.Close()

	out, err := scanOperations(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan operations: %w", err)
	}
	return out, nil
}

// ListBefore returns every terminal operation created before the cutoff,
// oldest first.
func (s *OperationStore) ListBefore(ctx context.Context, before time.Time) ([]domain.OperationRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+operationSelectCols+` FROM operations
		 WHERE created_at < $1 AND state IN ('confirmed', 'failed')
		 ORDER BY created_at ASC`, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list operations before %s: %w", before.Format(time.RFC3339), err)
	}
	defer rows.Close()

	out, err := scanOperations(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan operations before: %w", err)
	}
	return out, nil
}

// DeleteBefore removes terminal operations created before the cutoff along
// with their transitions.
func (s *OperationStore) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM operations WHERE created_at < $1 AND state IN ('confirmed', 'failed')`, before)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete operations before %s: %w", before.Format(time.RFC3339), err)
	}
	return tag.RowsAffected(), nil
}

func amountText(v *big.Int) *string {
	if v == nil {
		return nil
	}
	s := v.String()
	return &s
}

func parseAmount(s *string) *big.Int {
	if s == nil {
		return nil
	}
	v, ok := new(big.Int).SetString(*s, 10)
	if !ok {
		return nil
	}
	return v
}

func createdAt(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t
}

var _ domain.OperationStore = (*OperationStore)(nil)
