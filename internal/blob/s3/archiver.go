package s3blob

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/hashbrotherhood/hashmarket/internal/domain"
)

// OrderArchiveStore provides read access to settled orders for archival. The
// Postgres order store satisfies this implicitly.
type OrderArchiveStore interface {
	ListSettledBefore(ctx context.Context, before time.Time) ([]domain.Order, error)
}

// TelemetryArchiveStore provides read access to the raw samples backing an
// order's telemetry summary.
type TelemetryArchiveStore interface {
	ListByOrder(ctx context.Context, orderID string, opts domain.ListOpts) ([]domain.TelemetrySample, error)
}

// telemetryExportLimit bounds the number of raw samples exported per order.
// A 30-day rental at a 5-minute cadence produces under 9k samples.
const telemetryExportLimit = 20_000

// ArchiveImpl implements domain.Archiver. It exports settled orders, together
// with their raw telemetry samples, as JSONL objects in S3, one object per
// settlement month. Runs are idempotent: the current bundle is read back
// first and orders already present in it are skipped, so repeated sweeps
// over the same window never duplicate lines.
//
// Deletion of archived records from the primary store is intentionally NOT
// performed here. That is a separate, explicit step to be executed after the
// archive has been verified.
type ArchiveImpl struct {
	writer  domain.BlobWriter
	reader  domain.BlobReader
	orders  OrderArchiveStore
	samples TelemetryArchiveStore
	audit   domain.AuditStore
}

// NewArchiver creates a new ArchiveImpl.
func NewArchiver(
	writer domain.BlobWriter,
	reader domain.BlobReader,
	orders OrderArchiveStore,
	samples TelemetryArchiveStore,
	audit domain.AuditStore,
) *ArchiveImpl {
	return &ArchiveImpl{
		writer:  writer,
		reader:  reader,
		orders:  orders,
		samples: samples,
		audit:   audit,
	}
}

var _ domain.Archiver = (*ArchiveImpl)(nil)

// archiveRecord is one JSONL line: the settled order plus its raw samples,
// kept together so a dispute post-mortem needs a single object.
type archiveRecord struct {
	Order   domain.Order             `json:"order"`
	Samples []domain.TelemetrySample `json:"samples,omitempty"`
}

// ArchiveSettledOrders queries orders settled strictly before the cutoff,
// bundles each with its telemetry samples, and appends the new lines to the
// month's object at archive/orders/YYYY-MM.jsonl. The archival event is
// recorded in the audit log and the count of newly archived orders is
// returned.
func (a *ArchiveImpl) ArchiveSettledOrders(ctx context.Context, before time.Time) (int64, error) {
	orders, err := a.orders.ListSettledBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive settled orders query: %w", err)
	}
	if len(orders) == 0 {
		return 0, nil
	}

	path := archivePath("orders", before)
	existing, archived, err := a.loadBundle(ctx, path)
	if err != nil {
		return 0, err
	}

	var buf bytes.Buffer
	buf.Write(existing)
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	var count int64
	for _, o := range orders {
		if archived[o.ID] {
			continue
		}
		samples, err := a.samples.ListByOrder(ctx, o.ID, domain.ListOpts{Limit: telemetryExportLimit})
		if err != nil {
			return 0, fmt.Errorf("s3blob: archive telemetry query for order %s: %w", o.ID, err)
		}
		if err := enc.Encode(archiveRecord{Order: o, Samples: samples}); err != nil {
			return 0, fmt.Errorf("s3blob: archive encode order %s: %w", o.ID, err)
		}
		count++
	}
	if count == 0 {
		return 0, nil
	}

	if err := a.writer.Put(ctx, path, &buf, "application/x-ndjson"); err != nil {
		return 0, fmt.Errorf("s3blob: archive settled orders upload: %w", err)
	}

	if err := a.audit.Log(ctx, "archive.orders", map[string]any{
		"path":   path,
		"count":  count,
		"before": before.Format(time.RFC3339),
	}); err != nil {
		return count, fmt.Errorf("s3blob: archive settled orders audit log: %w", err)
	}

	return count, nil
}

// loadBundle reads the current month's object and returns its raw bytes plus
// the set of order ids already archived in it. A missing object yields an
// empty bundle.
func (a *ArchiveImpl) loadBundle(ctx context.Context, path string) ([]byte, map[string]bool, error) {
	body, err := a.reader.Get(ctx, path)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, map[string]bool{}, nil
		}
		return nil, nil, fmt.Errorf("s3blob: archive read bundle %s: %w", path, err)
	}
	defer body.Close()

	raw, err := io.ReadAll(body)
	if err != nil {
		return nil, nil, fmt.Errorf("s3blob: archive read bundle %s: %w", path, err)
	}

	archived := make(map[string]bool)
	sc := bufio.NewScanner(bytes.NewReader(raw))
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		var rec archiveRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			return nil, nil, fmt.Errorf("s3blob: archive bundle %s corrupt: %w", path, err)
		}
		archived[rec.Order.ID] = true
	}
	if err := sc.Err(); err != nil {
		return nil, nil, fmt.Errorf("s3blob: archive scan bundle %s: %w", path, err)
	}
	return raw, archived, nil
}

// archivePath builds the S3 key for an archive file, partitioned by the
// year-month of the cutoff time.
//
//	archive/orders/2026-08.jsonl
func archivePath(kind string, before time.Time) string {
	return fmt.Sprintf("archive/%s/%s.jsonl", kind, before.Format("2006-01"))
}
