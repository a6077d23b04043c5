package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/arbsim/internal/domain"
)

// DefaultPageSize is the number of records per archive object.
const DefaultPageSize = 5000

// multipartThreshold switches uploads to the multipart manager.
const multipartThreshold = 16 << 20

// Archiver implements domain.Archiver. Records older than the cutoff are
// written as JSONL objects under archive/<kind>/YYYY-MM/ and then deleted
// from the store. Each run is recorded in the audit log.
type Archiver struct {
	writer   domain.BlobWriter
	opps     domain.OpportunityStore
	trades   domain.TradeStore
	audit    domain.AuditStore
	pageSize int
	logger   *slog.Logger
}

var _ domain.Archiver = (*Archiver)(nil)

// NewArchiver creates an Archiver. audit may be nil.
func NewArchiver(writer domain.BlobWriter, opps domain.OpportunityStore, trades domain.TradeStore, audit domain.AuditStore, logger *slog.Logger) *Archiver {
	return &Archiver{
		writer:   writer,
		opps:     opps,
		trades:   trades,
		audit:    audit,
		pageSize: DefaultPageSize,
		logger:   logger.With(slog.String("component", "archiver")),
	}
}

// SetPageSize overrides the number of records per object.
func (a *Archiver) SetPageSize(n int) {
	if n > 0 {
		a.pageSize = n
	}
}

// ArchiveOpportunities archives and deletes opportunities older than before.
func (a *Archiver) ArchiveOpportunities(ctx context.Context, before time.Time) (int64, error) {
	return archive(ctx, a, "opportunities", before,
		a.opps.ListBefore, a.opps.DeleteBefore,
		func(o domain.Opportunity) time.Time { return o.Timestamp })
}

// ArchiveTrades archives and deletes trades older than before.
func (a *Archiver) ArchiveTrades(ctx context.Context, before time.Time) (int64, error) {
	return archive(ctx, a, "trades", before,
		a.trades.ListBefore, a.trades.DeleteBefore,
		func(t domain.SimulatedTrade) time.Time { return t.Timestamp })
}

// archive pages through records older than before. Each page is uploaded
// and then deleted up to its newest timestamp; rows sharing that timestamp
// are carried into the next page so nothing is deleted unarchived.
func archive[T any](
	ctx context.Context,
	a *Archiver,
	kind string,
	before time.Time,
	list func(context.Context, time.Time, int) ([]T, error),
	del func(context.Context, time.Time) (int64, error),
	ts func(T) time.Time,
) (int64, error) {
	var (
		total int64
		paths []string
		page  int
		limit = a.pageSize
	)
	for {
		rows, err := list(ctx, before, limit)
		if err != nil {
			return total, fmt.Errorf("s3blob: list %s: %w", kind, err)
		}
		if len(rows) == 0 {
			break
		}

		last := len(rows) < limit
		cut := before
		if !last {
			cut = ts(rows[len(rows)-1])
			keep := len(rows)
			for keep > 0 && !ts(rows[keep-1]).Before(cut) {
				keep--
			}
			if keep == 0 {
				// Every row shares one timestamp; widen the page.
				limit *= 2
				continue
			}
			rows = rows[:keep]
		}

		path := archivePath(kind, before, page)
		if err := upload(ctx, a, path, rows); err != nil {
			return total, err
		}
		if _, err := del(ctx, cut); err != nil {
			return total, fmt.Errorf("s3blob: delete archived %s: %w", kind, err)
		}
		total += int64(len(rows))
		paths = append(paths, path)
		page++
		limit = a.pageSize
		if last {
			break
		}
	}

	if total == 0 {
		return 0, nil
	}
	a.logger.Info("records archived",
		slog.String("kind", kind),
		slog.Int64("count", total),
		slog.Time("before", before),
	)
	if a.audit != nil {
		if err := a.audit.Log(ctx, "archive."+kind, map[string]any{
			"paths":  paths,
			"count":  total,
			"before": before.Format(time.RFC3339),
		}); err != nil {
			return total, fmt.Errorf("s3blob: audit %s archive: %w", kind, err)
		}
	}
	return total, nil
}

func upload[T any](ctx context.Context, a *Archiver, path string, rows []T) error {
	buf, err := marshalJSONL(rows)
	if err != nil {
		return fmt.Errorf("s3blob: encode %s: %w", path, err)
	}
	if len(buf) > multipartThreshold {
		err = a.writer.PutMultipart(ctx, path, bytes.NewReader(buf), 0)
	} else {
		err = a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson")
	}
	if err != nil {
		return fmt.Errorf("s3blob: upload %s: %w", path, err)
	}
	return nil
}

// archivePath partitions objects by the month of the cutoff:
//
//	archive/trades/2026-03/20260301T000000Z-000.jsonl
func archivePath(kind string, before time.Time, page int) string {
	before = before.UTC()
	return fmt.Sprintf("archive/%s/%s/%s-%03d.jsonl",
		kind, before.Format("2006-01"), before.Format("20060102T150405Z"), page)
}

func marshalJSONL[T any](rows []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	for i, r := range rows {
		if err := enc.Encode(r); err != nil {
			return nil, fmt.Errorf("record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}
