package edgesync

import (
	"context"
	"errors"
	"log/slog"

	"github.com/flagmesh/flagmesh/internal/edgedoc"
	"github.com/flagmesh/flagmesh/internal/edgestore"
	"github.com/flagmesh/flagmesh/internal/observability"
)

// scanPageSize is the page size for sequential table scans.
const scanPageSize = 100

// ErrStopScan stops a scan early from inside the callback without
// surfacing an error to the caller.
var ErrStopScan = errors.New("edgesync: stop scan")

// ScanOptions tune a table scan.
type ScanOptions struct {
	// CapacityBudget caps the read capacity a scan may consume; zero means
	// unbudgeted. Exceeding the budget aborts the scan with a
	// *edgestore.CapacityBudgetError after the offending page. This is
	// cooperative backpressure: already-delivered documents stay delivered.
	CapacityBudget float64
}

// ScanIdentities streams every identity document in the store to fn,
// page by page. Items that fail to parse are skipped and logged, never
// fatal to the scan.
func (e *Engine) ScanIdentities(ctx context.Context, opts ScanOptions, fn func(edgedoc.IdentityDocument) error) error {
	if e.tables.Identities == "" {
		return edgestore.ErrNotConfigured
	}
	return e.scan(ctx, e.tables.Identities, opts, func(item edgestore.Item) error {
		doc, err := edgedoc.ParseIdentityDocument(item)
		if err != nil {
			e.logger.WarnContext(ctx, "skipping unparseable identity document",
				slog.Any("key", item["composite_key"]),
				slog.String("error", err.Error()),
			)
			return nil
		}
		return fn(doc)
	})
}

// ScanOverrides streams every override document in the store to fn.
func (e *Engine) ScanOverrides(ctx context.Context, opts ScanOptions, fn func(edgedoc.OverrideDocument) error) error {
	if e.tables.Overrides == "" {
		return edgestore.ErrNotConfigured
	}
	return e.scan(ctx, e.tables.Overrides, opts, func(item edgestore.Item) error {
		doc, err := edgedoc.ParseOverrideDocument(item)
		if err != nil {
			e.logger.WarnContext(ctx, "skipping unparseable override document",
				slog.Any("key", item["document_key"]),
				slog.String("error", err.Error()),
			)
			return nil
		}
		return fn(doc)
	})
}

func (e *Engine) scan(ctx context.Context, table string, opts ScanOptions, fn func(edgestore.Item) error) error {
	var spent float64
	var startKey edgestore.Item

	for {
		page, err := e.store.Scan(ctx, edgestore.ScanRequest{
			Table:    table,
			StartKey: startKey,
			Limit:    scanPageSize,
		})
		if err != nil {
			return err
		}

		spent += page.ConsumedCapacity
		observability.ScanConsumedCapacity.WithLabelValues(table).Add(page.ConsumedCapacity)

		for _, item := range page.Items {
			if err := fn(item); err != nil {
				if errors.Is(err, ErrStopScan) {
					return nil
				}
				return err
			}
		}

		if opts.CapacityBudget > 0 && spent > opts.CapacityBudget {
			return &edgestore.CapacityBudgetError{Budget: opts.CapacityBudget, Spent: spent}
		}
		if page.LastKey == nil {
			return nil
		}
		startKey = page.LastKey
	}
}
