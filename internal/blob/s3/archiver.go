package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/traderops/backoffice/internal/domain"
)

// Narrow store views required by the archiver. The Postgres stores satisfy
// these through their time-ranged list methods.

// TradeArchiveStore provides read access to trades for archival purposes.
type TradeArchiveStore interface {
	ListBefore(ctx context.Context, before time.Time) ([]domain.Trade, error)
}

// OrderArchiveStore provides read access to closed orders for archival
// purposes.
type OrderArchiveStore interface {
	ListClosedBefore(ctx context.Context, before time.Time) ([]domain.Order, error)
}

// SignalArchiveStore provides read access to signals for archival purposes.
type SignalArchiveStore interface {
	ListBefore(ctx context.Context, before time.Time) ([]domain.Signal, error)
}

// BlobWriter uploads one object.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
}

// Archiver snapshots aged records to JSONL files in object storage.
//
// Deletion of the archived records from the primary store is intentionally
// not performed here; that is a separate, explicit step to be executed after
// the archive has been verified.
type Archiver struct {
	writer  BlobWriter
	trades  TradeArchiveStore
	orders  OrderArchiveStore
	signals SignalArchiveStore
	syslog  domain.SystemLogStore
}

// NewArchiver creates an Archiver.
func NewArchiver(
	writer BlobWriter,
	trades TradeArchiveStore,
	orders OrderArchiveStore,
	signals SignalArchiveStore,
	syslog domain.SystemLogStore,
) *Archiver {
	return &Archiver{
		writer:  writer,
		trades:  trades,
		orders:  orders,
		signals: signals,
		syslog:  syslog,
	}
}

// ArchiveAll archives trades, closed orders, and signals older than the
// cutoff. Returns the total number of archived records; the first failure
// aborts the pass.
func (a *Archiver) ArchiveAll(ctx context.Context, before time.Time) (int64, error) {
	var total int64

	n, err := a.ArchiveTrades(ctx, before)
	if err != nil {
		return total, err
	}
	total += n

	n, err = a.ArchiveOrders(ctx, before)
	if err != nil {
		return total, err
	}
	total += n

	n, err = a.ArchiveSignals(ctx, before)
	if err != nil {
		return total, err
	}
	return total + n, nil
}

// ArchiveTrades uploads all trades closed before the cutoff to
// archive/trades/YYYY-MM.jsonl and records the event in the system log.
func (a *Archiver) ArchiveTrades(ctx context.Context, before time.Time) (int64, error) {
	trades, err := a.trades.ListBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive trades query: %w", err)
	}
	return upload(ctx, a, "trades", before, trades)
}

// ArchiveOrders uploads all orders closed before the cutoff to
// archive/orders/YYYY-MM.jsonl and records the event in the system log.
func (a *Archiver) ArchiveOrders(ctx context.Context, before time.Time) (int64, error) {
	orders, err := a.orders.ListClosedBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive orders query: %w", err)
	}
	return upload(ctx, a, "orders", before, orders)
}

// ArchiveSignals uploads all signals received before the cutoff to
// archive/signals/YYYY-MM.jsonl and records the event in the system log.
func (a *Archiver) ArchiveSignals(ctx context.Context, before time.Time) (int64, error) {
	signals, err := a.signals.ListBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive signals query: %w", err)
	}
	return upload(ctx, a, "signals", before, signals)
}

func upload[T any](ctx context.Context, a *Archiver, kind string, before time.Time, records []T) (int64, error) {
	if len(records) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(records)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive %s marshal: %w", kind, err)
	}

	path := archivePath(kind, before)
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return 0, fmt.Errorf("s3blob: archive %s upload: %w", kind, err)
	}

	count := int64(len(records))
	if err := a.syslog.Log(ctx, "info", "archiver", "archive uploaded", map[string]any{
		"kind":   kind,
		"path":   path,
		"count":  count,
		"before": before.Format(time.RFC3339),
	}); err != nil {
		return count, fmt.Errorf("s3blob: archive %s audit log: %w", kind, err)
	}
	return count, nil
}

// archivePath builds the object key for an archive file, partitioned by the
// year-month of the cutoff time.
//
//	archive/trades/2025-01.jsonl
//	archive/orders/2025-01.jsonl
//	archive/signals/2025-01.jsonl
func archivePath(kind string, before time.Time) string {
	return fmt.Sprintf("archive/%s/%s.jsonl", kind, before.Format("2006-01"))
}

// marshalJSONL serialises a slice of values as newline-delimited JSON (JSONL).
// Each element is marshalled as a single compact JSON line followed by '\n'.
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
