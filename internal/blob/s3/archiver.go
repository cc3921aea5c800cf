package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/alanyoungcy/predictstake/internal/domain"
)

// OperationArchiveStore is the slice of the journal the archiver needs.
type OperationArchiveStore interface {
	ListBefore(ctx context.Context, before time.Time) ([]domain.OperationRecord, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// ArchiveImpl implements domain.Archiver by exporting terminal journal rows
// as JSONL and uploading them to object storage.
type ArchiveImpl struct {
	writer domain.BlobWriter
	ops    OperationArchiveStore
	audit  domain.AuditStore
	reader domain.BlobReader
	prune  bool
	logger *slog.Logger
}

// ArchiverOption configures an ArchiveImpl.
type ArchiverOption func(*ArchiveImpl)

// WithPrune deletes the archived rows from the journal after a successful
// upload and audit entry.
func WithPrune(prune bool) ArchiverOption {
	return func(a *ArchiveImpl) { a.prune = prune }
}

// WithExistingCheck makes the archiver probe reader before uploading so a
// second run in the same month writes a numbered sibling instead of
// overwriting the earlier file.
func WithExistingCheck(reader domain.BlobReader) ArchiverOption {
	return func(a *ArchiveImpl) { a.reader = reader }
}

// WithArchiveLogger sets the logger.
func WithArchiveLogger(l *slog.Logger) ArchiverOption {
	return func(a *ArchiveImpl) { a.logger = l }
}

// NewArchiver creates a new ArchiveImpl.
func NewArchiver(writer domain.BlobWriter, ops OperationArchiveStore, audit domain.AuditStore, opts ...ArchiverOption) *ArchiveImpl {
	a := &ArchiveImpl{writer: writer, ops: ops, audit: audit, logger: slog.Default()}
	for _, o := range opts {
		o(a)
	}
	a.logger = a.logger.With(slog.String("component", "archiver"))
	return a
}

type archivedOperation struct {
	ID        string    `json:"id"`
	Wallet    string    `json:"wallet"`
	Event     string    `json:"event"`
	Intent    string    `json:"intent"`
	State     string    `json:"state"`
	Amount    string    `json:"amount,omitempty"`
	TxHash    string    `json:"tx_hash,omitempty"`
	ErrorKind string    `json:"error_kind,omitempty"`
	Message   string    `json:"message,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func toArchived(rec domain.OperationRecord) archivedOperation {
	out := archivedOperation{
		ID:        rec.ID,
		Wallet:    rec.User.Hex(),
		Event:     rec.Event.Hex(),
		Intent:    string(rec.Intent),
		State:     string(rec.State),
		TxHash:    rec.TxHash,
		ErrorKind: string(rec.ErrorKind),
		Message:   rec.Message,
		CreatedAt: rec.CreatedAt.UTC(),
		UpdatedAt: rec.UpdatedAt.UTC(),
	}
	if rec.Amount != nil {
		out.Amount = rec.Amount.String()
	}
	return out
}

// ArchiveOperations uploads every terminal operation created before the
// cutoff to archive/operations/YYYY-MM.jsonl, records the upload in the
// audit log and returns the number of rows archived.
func (a *ArchiveImpl) ArchiveOperations(ctx context.Context, before time.Time) (int64, error) {
	recs, err := a.ops.ListBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive operations query: %w", err)
	}
	if len(recs) == 0 {
		return 0, nil
	}

	rows := make([]archivedOperation, len(recs))
	for i, r := range recs {
		rows[i] = toArchived(r)
	}
	buf, err := marshalJSONL(rows)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive operations marshal: %w", err)
	}

	path, err := a.freePath(ctx, archivePath("operations", before))
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive operations probe: %w", err)
	}
	if int64(len(buf)) > minPartSize {
		err = a.writer.PutMultipart(ctx, path, bytes.NewReader(buf), minPartSize)
	} else {
		err = a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson")
	}
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive operations upload: %w", err)
	}

	count := int64(len(recs))
	if err := a.audit.Log(ctx, "archive.operations", map[string]any{
		"path":   path,
		"count":  count,
		"before": before.Format(time.RFC3339),
	}); err != nil {
		return count, fmt.Errorf("s3blob: archive operations audit log: %w", err)
	}

	if a.prune {
		deleted, err := a.ops.DeleteBefore(ctx, before)
		if err != nil {
			return count, fmt.Errorf("s3blob: prune archived operations: %w", err)
		}
		a.logger.Info("pruned archived operations", slog.Int64("deleted", deleted))
	}
	a.logger.Info("archived operations",
		slog.String("path", path),
		slog.Int64("count", count),
	)
	return count, nil
}

// archivePath builds the object key for an archive file, partitioned by the
// year-month of the cutoff.
//
//	archive/operations/2026-01.jsonl
func archivePath(kind string, before time.Time) string {
	return fmt.Sprintf("archive/%s/%s.jsonl", kind, before.UTC().Format("2006-01"))
}

// maxSiblings bounds the numbered files probed for one month.
const maxSiblings = 1000

func (a *ArchiveImpl) freePath(ctx context.Context, path string) (string, error) {
	if a.reader == nil {
		return path, nil
	}
	base := strings.TrimSuffix(path, ".jsonl")
	candidate := path
	for n := 2; n <= maxSiblings; n++ {
		exists, err := a.reader.Exists(ctx, candidate)
		if err != nil {
			return "", err
		}
		if !exists {
			return candidate, nil
		}
		candidate = fmt.Sprintf("%s.%d.jsonl", base, n)
	}
	return "", fmt.Errorf("more than %d archive files for %s", maxSiblings, path)
}

// marshalJSONL serialises records as newline-delimited JSON.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}

var _ domain.Archiver = (*ArchiveImpl)(nil)
