// Package edgesync orchestrates bulk and incremental projection of edge
// documents into the edge store: chunking at the store batch limit,
// concurrent dispatch with per-key ordering, and per-chunk retry of
// transient failures. Partial failures are reported, never rolled back;
// every write is an idempotent put, so re-running a failed operation
// converges.
package edgesync

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/spaolacci/murmur3"
	"golang.org/x/sync/errgroup"

	"github.com/flagmesh/flagmesh/internal/edgedoc"
	"github.com/flagmesh/flagmesh/internal/edgestore"
	"github.com/flagmesh/flagmesh/internal/observability"
)

const (
	defaultWorkers      = 4
	defaultChunkRetries = 3
	defaultRetryBase    = 100 * time.Millisecond
)

// Tables names the edge store tables per entity type. An empty name
// disables that entity: its operations return a disabled Report.
type Tables struct {
	Environments string
	Identities   string
	Overrides    string
	APIKeys      string
}

// Config tunes the write path.
type Config struct {
	// Workers bounds concurrent chunk dispatch. Items sharing a document
	// key always land on the same worker, so their writes serialize.
	Workers int

	// ChunkRetries is how many times one chunk is retried after a
	// transient store failure before it is reported as failed.
	ChunkRetries int

	// RetryBaseDelay is the first retry delay; it doubles per attempt.
	RetryBaseDelay time.Duration
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = defaultWorkers
	}
	if c.ChunkRetries <= 0 {
		c.ChunkRetries = defaultChunkRetries
	}
	if c.RetryBaseDelay <= 0 {
		c.RetryBaseDelay = defaultRetryBase
	}
	return c
}

// ChunkFailure records one chunk that exhausted its retries.
type ChunkFailure struct {
	Index int
	Err   error
}

// Report is the outcome of one sync operation. Succeeded counts chunks, not
// items; FailedChunks carry enough to alert on and re-run.
type Report struct {
	Entity    string
	Items     int
	Chunks    int
	Succeeded int

	FailedChunks []ChunkFailure

	// Disabled marks a no-op: the entity's table is not configured.
	Disabled bool
}

// OK reports whether every chunk landed.
func (r Report) OK() bool { return !r.Disabled && len(r.FailedChunks) == 0 }

// Changeset is an incremental update: documents to put and item keys to
// delete, applied together. Applying the same changeset twice has the same
// effect as applying it once.
type Changeset struct {
	Puts    []edgestore.Item
	Deletes []edgestore.Item
}

// Empty reports whether the changeset carries no work.
func (c Changeset) Empty() bool { return len(c.Puts) == 0 && len(c.Deletes) == 0 }

// Engine drives writes into the edge store.
type Engine struct {
	logger *slog.Logger
	config Config
	store  edgestore.Store
	tables Tables
}

// New creates an engine. The store must not be nil; deployments without an
// edge store pass edgestore.NewDisabled() and empty table names.
func New(logger *slog.Logger, cfg Config, store edgestore.Store, tables Tables) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if store == nil {
		panic("edgesync: store cannot be nil")
	}
	return &Engine{
		logger: logger,
		config: cfg.withDefaults(),
		store:  store,
		tables: tables,
	}
}

// WriteFullEnvironments projects environment documents, sharded by api key.
func (e *Engine) WriteFullEnvironments(ctx context.Context, docs []edgedoc.EnvironmentDocument) Report {
	if e.tables.Environments == "" {
		return e.disabled(ctx, "environment")
	}
	reqs := make([]request, 0, len(docs))
	for _, doc := range docs {
		reqs = append(reqs, request{key: doc.APIKey, put: doc.Item()})
	}
	return e.write(ctx, "environment", e.tables.Environments, reqs)
}

// WriteFullIdentities projects identity documents, sharded by composite key.
func (e *Engine) WriteFullIdentities(ctx context.Context, docs []edgedoc.IdentityDocument) Report {
	if e.tables.Identities == "" {
		return e.disabled(ctx, "identity")
	}
	reqs := make([]request, 0, len(docs))
	for _, doc := range docs {
		reqs = append(reqs, request{key: doc.CompositeKey, put: doc.Item()})
	}
	return e.write(ctx, "identity", e.tables.Identities, reqs)
}

// WriteFullAPIKeys projects api-key documents, sharded by the key string.
func (e *Engine) WriteFullAPIKeys(ctx context.Context, docs []edgedoc.APIKeyDocument) Report {
	if e.tables.APIKeys == "" {
		return e.disabled(ctx, "api_key")
	}
	reqs := make([]request, 0, len(docs))
	for _, doc := range docs {
		reqs = append(reqs, request{key: doc.Key, put: doc.Item()})
	}
	return e.write(ctx, "api_key", e.tables.APIKeys, reqs)
}

// ApplyChangeset applies puts and deletes to the override table, sharded by
// document key so a put and a delete of the same key never race.
func (e *Engine) ApplyChangeset(ctx context.Context, cs Changeset) Report {
	if e.tables.Overrides == "" {
		return e.disabled(ctx, "override")
	}
	reqs := make([]request, 0, len(cs.Puts)+len(cs.Deletes))
	for _, item := range cs.Puts {
		reqs = append(reqs, request{key: changesetKey(item), put: item})
	}
	for _, key := range cs.Deletes {
		reqs = append(reqs, request{key: changesetKey(key), del: key})
	}
	return e.write(ctx, "override", e.tables.Overrides, reqs)
}

// request is one document-level write with its affinity key.
type request struct {
	key string
	put edgestore.Item
	del edgestore.Item
}

func changesetKey(item edgestore.Item) string {
	if k, ok := item["document_key"].(string); ok {
		return k
	}
	return fmt.Sprintf("%v", item)
}

func (e *Engine) disabled(ctx context.Context, entity string) Report {
	e.logger.DebugContext(ctx, "edge sync skipped, entity not configured",
		slog.String("entity", entity))
	return Report{Entity: entity, Disabled: true}
}

// write shards requests by key, chunks each shard at the store batch limit
// and dispatches chunks concurrently. Per-shard chunks run in order, which
// is what gives same-key writes their ordering guarantee.
func (e *Engine) write(ctx context.Context, entity, table string, reqs []request) Report {
	report := Report{Entity: entity, Items: len(reqs)}
	if len(reqs) == 0 {
		return report
	}

	shards := make([][]request, e.config.Workers)
	for _, r := range reqs {
		idx := int(murmur3.Sum32([]byte(r.key)) % uint32(e.config.Workers))
		shards[idx] = append(shards[idx], r)
	}

	type chunk struct {
		index int
		batch edgestore.Batch
	}
	var chunks [][]chunk
	next := 0
	for _, shard := range shards {
		if len(shard) == 0 {
			continue
		}
		var shardChunks []chunk
		for start := 0; start < len(shard); start += edgestore.MaxBatchSize {
			end := start + edgestore.MaxBatchSize
			if end > len(shard) {
				end = len(shard)
			}
			var batch edgestore.Batch
			for _, r := range shard[start:end] {
				if r.put != nil {
					batch.Puts = append(batch.Puts, r.put)
				} else {
					batch.Deletes = append(batch.Deletes, r.del)
				}
			}
			shardChunks = append(shardChunks, chunk{index: next, batch: batch})
			next++
		}
		chunks = append(chunks, shardChunks)
	}
	report.Chunks = next

	results := make([]error, next)
	g, ctx := errgroup.WithContext(ctx)
	for _, shardChunks := range chunks {
		g.Go(func() error {
			for _, c := range shardChunks {
				results[c.index] = e.writeChunk(ctx, entity, table, c.batch)
			}
			return nil
		})
	}
	_ = g.Wait()

	for i, err := range results {
		if err != nil {
			observability.SyncChunksTotal.WithLabelValues(entity, "fail").Inc()
			report.FailedChunks = append(report.FailedChunks, ChunkFailure{Index: i, Err: err})
			continue
		}
		observability.SyncChunksTotal.WithLabelValues(entity, "success").Inc()
		report.Succeeded++
	}
	observability.SyncItemsTotal.WithLabelValues(entity).Add(float64(report.Items))

	if !report.OK() {
		e.logger.ErrorContext(ctx, "edge sync finished with failed chunks",
			slog.String("entity", entity),
			slog.Int("chunks", report.Chunks),
			slog.Int("failed", len(report.FailedChunks)),
		)
	}
	return report
}

// writeChunk retries transient failures with exponential backoff; anything
// else fails the chunk immediately.
func (e *Engine) writeChunk(ctx context.Context, entity, table string, batch edgestore.Batch) error {
	var lastErr error
	for attempt := 0; attempt <= e.config.ChunkRetries; attempt++ {
		if attempt > 0 {
			observability.SyncChunkRetries.WithLabelValues(entity).Inc()
			e.logger.WarnContext(ctx, "retrying chunk after transient failure",
				slog.String("entity", entity),
				slog.Int("attempt", attempt),
				slog.String("error", lastErr.Error()),
			)
			if err := sleep(ctx, e.backoff(attempt)); err != nil {
				return err
			}
		}

		lastErr = e.store.BatchWrite(ctx, table, batch)
		if lastErr == nil {
			return nil
		}
		if !edgestore.IsTransient(lastErr) {
			return lastErr
		}
	}
	return fmt.Errorf("edgesync: retries exhausted: %w", lastErr)
}

func (e *Engine) backoff(attempt int) time.Duration {
	d := e.config.RetryBaseDelay
	for i := 1; i < attempt; i++ {
		d *= 2
	}
	return d
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
