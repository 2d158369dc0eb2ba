package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/ledgerbot/internal/domain"
)

// ExecutionArchiveStore is the part of the execution store the archiver
// needs. *postgres.ExecutionStore satisfies it.
type ExecutionArchiveStore interface {
	ListBefore(ctx context.Context, before time.Time) ([]domain.ExecutionResult, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// Archiver implements domain.Archiver. It writes old execution results to
// object storage as JSONL and, once the upload succeeded, prunes them from
// the primary store.
type Archiver struct {
	writer domain.BlobWriter
	store  ExecutionArchiveStore
	prune  bool
	logger *slog.Logger
}

var _ domain.Archiver = (*Archiver)(nil)

// NewArchiver creates an Archiver. With prune false the archived rows stay
// in the store.
func NewArchiver(writer domain.BlobWriter, store ExecutionArchiveStore, prune bool, logger *slog.Logger) *Archiver {
	return &Archiver{
		writer: writer,
		store:  store,
		prune:  prune,
		logger: logger.With(slog.String("component", "archiver")),
	}
}

// ArchiveExecutions uploads every result completed before the cutoff to
// ArchivePath(before) and returns how many were archived.
func (a *Archiver) ArchiveExecutions(ctx context.Context, before time.Time) (int64, error) {
	results, err := a.store.ListBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive executions query: %w", err)
	}
	if len(results) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(results)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive executions marshal: %w", err)
	}
	path := ArchivePath(before)
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return 0, fmt.Errorf("s3blob: archive executions upload: %w", err)
	}
	count := int64(len(results))

	if a.prune {
		deleted, err := a.store.DeleteBefore(ctx, before)
		if err != nil {
			return count, fmt.Errorf("s3blob: archive executions prune: %w", err)
		}
		if deleted != count {
			a.logger.WarnContext(ctx, "pruned row count differs from archived",
				slog.Int64("archived", count),
				slog.Int64("deleted", deleted),
			)
		}
	}

	a.logger.InfoContext(ctx, "executions archived",
		slog.String("path", path),
		slog.Int64("count", count),
		slog.Time("before", before),
	)
	return count, nil
}

// ArchivePath is the object key for a cutoff, unique per run:
//
//	archive/executions/2026-07/executions_1783166400000.jsonl
func ArchivePath(before time.Time) string {
	before = before.UTC()
	return fmt.Sprintf("archive/executions/%s/executions_%d.jsonl", before.Format("2006-01"), before.UnixMilli())
}

// marshalJSONL encodes records as newline-delimited JSON.
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
