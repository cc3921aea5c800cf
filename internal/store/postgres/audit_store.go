package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/predictstake/internal/domain"
)

// AuditStore records archive runs and completed operations in audit_log.
type AuditStore struct {
	pool *pgxpool.Pool
}

func NewAuditStore(pool *pgxpool.Pool) *AuditStore {
	return &AuditStore{pool: pool}
}

// Log appends one entry. detail is stored as JSONB.
func (s *AuditStore) Log(ctx context.Context, event string, detail map[string]any) error {
	if event == "" {
		return fmt.Errorf("postgres: audit event name: %w", domain.ErrInvalidInput)
	}
	raw, err := json.Marshal(detail)
	if err != nil {
		return fmt.Errorf("postgres: marshal audit detail for %s: %w", event, err)
	}
	if _, err := s.pool.Exec(ctx, `INSERT INTO audit_log (event, detail) VALUES ($1, $2)`, event, raw); err != nil {
		return fmt.Errorf("postgres: insert audit %s: %w", event, err)
	}
	return nil
}

// List returns entries newest first.
func (s *AuditStore) List(ctx context.Context, q domain.AuditQuery) ([]domain.AuditEntry, error) {
	query, args := auditQuery(q)
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: query audit log: %w", err)
	}
	entries, err := pgx.CollectRows(rows, scanAuditEntry)
	if err != nil {
		return nil, fmt.Errorf("postgres: read audit log: %w", err)
	}
	return entries, nil
}

func auditQuery(q domain.AuditQuery) (string, []any) {
	query := `SELECT id, event, detail, created_at FROM audit_log WHERE 1=1`
	var args []any
	if q.EventPrefix != "" {
		query += ` AND event LIKE $1`
		args = append(args, likePrefix(q.EventPrefix))
	}
	return appendPage(query, args, q.ListOpts)
}

// likePrefix escapes LIKE metacharacters so event names match literally.
func likePrefix(p string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(p) + "%"
}

func scanAuditEntry(row pgx.CollectableRow) (domain.AuditEntry, error) {
	var e domain.AuditEntry
	var raw []byte
	if err := row.Scan(&e.ID, &e.Event, &raw, &e.CreatedAt); err != nil {
		return e, err
	}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &e.Detail); err != nil {
			return e, fmt.Errorf("audit %d detail: %w", e.ID, err)
		}
	}
	return e, nil
}
