// Package edgestore abstracts the key/value document store the sync engine
// projects environments, identities and API keys into. The production
// implementation targets DynamoDB; the in-memory implementation backs tests
// and local development.
package edgestore

import (
	"context"
	"errors"
	"fmt"
)

// Item is one flat store document, as produced by the edgedoc mappers.
type Item = map[string]any

// MaxBatchSize is the largest number of requests (puts plus deletes) one
// BatchWrite call accepts, matching the backing store's batch limit.
// Callers chunk above this.
const MaxBatchSize = 25

// Batch is one unit of writes: items to put and item keys to delete.
type Batch struct {
	Puts    []Item
	Deletes []Item
}

// Len returns the number of requests in the batch.
func (b Batch) Len() int { return len(b.Puts) + len(b.Deletes) }

var (
	// ErrNotConfigured is returned by the disabled store: edge features were
	// invoked on a deployment with no edge store configured.
	ErrNotConfigured = errors.New("edgestore: not configured")

	// ErrNotFound is returned by Get when no item exists under the key.
	ErrNotFound = errors.New("edgestore: item not found")
)

// TransientError wraps a failure that is expected to clear on retry:
// throttling, exhausted batch retries, 5xx responses. Callers retry
// transient failures with backoff and treat everything else as fatal.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return fmt.Sprintf("edgestore: transient: %v", e.Err) }
func (e *TransientError) Unwrap() error { return e.Err }

// IsTransient reports whether err is retryable.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// CapacityBudgetError aborts a scan that consumed more read capacity than
// the caller budgeted for.
type CapacityBudgetError struct {
	Budget float64
	Spent  float64
}

func (e *CapacityBudgetError) Error() string {
	return fmt.Sprintf("edgestore: capacity budget %.1f exhausted (spent %.1f)", e.Budget, e.Spent)
}

// ScanRequest is one page request over a table.
type ScanRequest struct {
	Table string

	// StartKey resumes after the item this key addresses; nil starts from
	// the beginning of the table.
	StartKey Item

	// Limit caps the number of items in the page; zero means store default.
	Limit int32
}

// Page is one scan result page. A nil LastKey means the table is exhausted.
type Page struct {
	Items            []Item
	LastKey          Item
	ConsumedCapacity float64
}

// Store is the document store surface the sync engine and the migration
// controller depend on. All writes are idempotent: re-putting an item
// replaces it byte-for-byte, re-deleting a missing key is a no-op.
type Store interface {
	// BatchWrite applies up to MaxBatchSize put/delete requests to table.
	// It either fully succeeds or fails as a unit from the caller's
	// perspective; partial acceptance is retried internally before a
	// TransientError surfaces.
	BatchWrite(ctx context.Context, table string, batch Batch) error

	// Get fetches one item by its full key, or ErrNotFound.
	Get(ctx context.Context, table string, key Item) (Item, error)

	// Scan reads one page of a table.
	Scan(ctx context.Context, req ScanRequest) (Page, error)
}

type disabled struct{}

// NewDisabled returns a Store whose every operation fails with
// ErrNotConfigured. Deployments without an edge store wire this in so
// misrouted edge calls fail loudly instead of panicking on a nil store.
func NewDisabled() Store { return disabled{} }

func (disabled) BatchWrite(context.Context, string, Batch) error { return ErrNotConfigured }
func (disabled) Get(context.Context, string, Item) (Item, error) { return nil, ErrNotConfigured }
func (disabled) Scan(context.Context, ScanRequest) (Page, error) { return Page{}, ErrNotConfigured }
