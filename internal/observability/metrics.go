package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// NOTE: All metrics are defined globally here. A binary that only runs one
// role (e.g. the syncer) still registers the other roles' series with zero
// values; harmless, and it keeps dashboards uniform across deployments.

// namespace defines the global prefix for all metrics (e.g., flagmesh_...).
const namespace = "flagmesh"

// lowLatencyBuckets gives sub-5ms resolution for the in-process hot path
// (resolution and segment matching). Range: 1ms to 500ms.
var lowLatencyBuckets = []float64{.001, .002, .005, .010, .015, .020, .025, .030, .050, .100, .500}

var (
	// -------------------------------------------------------------------------
	// RESOLVER
	// -------------------------------------------------------------------------

	// ResolverEvaluations counts flag resolutions by request shape.
	// Metric: flagmesh_resolver_evaluations_total
	ResolverEvaluations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "resolver",
		Name:      "evaluations_total",
		Help:      "Total flag resolutions performed",
	}, []string{"scope"}) // environment, identity

	// ResolverDuration measures end-to-end resolution latency.
	// Metric: flagmesh_resolver_duration_seconds
	ResolverDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "resolver",
		Name:      "duration_seconds",
		Help:      "Time taken to resolve all flags for one request",
		Buckets:   lowLatencyBuckets,
	})

	// SegmentMatchDuration measures one segment rule-tree evaluation.
	// Metric: flagmesh_resolver_segment_match_duration_seconds
	SegmentMatchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "resolver",
		Name:      "segment_match_duration_seconds",
		Help:      "Time taken to evaluate one segment rule tree",
		Buckets:   lowLatencyBuckets,
	})

	// -------------------------------------------------------------------------
	// EDGE SYNC (Workers)
	// -------------------------------------------------------------------------

	// SyncChunksTotal counts dispatched write chunks by entity and outcome.
	// Metric: flagmesh_edgesync_chunks_total
	SyncChunksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "edgesync",
		Name:      "chunks_total",
		Help:      "Total write chunks dispatched to the edge store",
	}, []string{"entity", "status"}) // success, fail

	// SyncChunkRetries counts transient-failure retries of individual chunks.
	// Metric: flagmesh_edgesync_chunk_retries_total
	SyncChunkRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "edgesync",
		Name:      "chunk_retries_total",
		Help:      "Total per-chunk retries after transient store failures",
	}, []string{"entity"})

	// SyncItemsTotal counts individual documents written to the edge store.
	// Metric: flagmesh_edgesync_items_total
	SyncItemsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "edgesync",
		Name:      "items_total",
		Help:      "Total documents written to the edge store",
	}, []string{"entity"})

	// ScanConsumedCapacity accumulates read capacity units spent by scans.
	// Metric: flagmesh_edgesync_scan_consumed_capacity_total
	ScanConsumedCapacity = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "edgesync",
		Name:      "scan_consumed_capacity_total",
		Help:      "Read capacity units consumed by edge store scans",
	}, []string{"table"})

	// -------------------------------------------------------------------------
	// SNAPSHOT CACHE
	// -------------------------------------------------------------------------

	SnapshotCacheHits = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "snapshot",
		Name:      "cache_hits_total",
		Help:      "Total snapshot cache hits",
	}, []string{"layer"}) // l1, l2

	SnapshotCacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "snapshot",
		Name:      "cache_misses_total",
		Help:      "Total snapshot lookups that missed both cache layers",
	})

	// SnapshotCacheUsage tracks the L1 item count (otter reports items, not bytes).
	SnapshotCacheUsage = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "snapshot",
		Name:      "l1_cache_items_count",
		Help:      "Current number of environment snapshots in the L1 cache",
	})

	// -------------------------------------------------------------------------
	// DATABASE POOL
	// -------------------------------------------------------------------------

	// DatabasePoolConnections tracks pgx pool connections by state.
	// Metric: flagmesh_database_pool_connections
	DatabasePoolConnections = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "database",
		Name:      "pool_connections",
		Help:      "Current database pool connections by state",
	}, []string{"state"}) // total, idle, in_use, max

	// DatabasePoolAcquireCount counts successful connection acquisitions.
	// Metric: flagmesh_database_pool_acquire_count_total
	DatabasePoolAcquireCount = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "database",
		Name:      "pool_acquire_count_total",
		Help:      "Cumulative count of successful connection acquisitions",
	})

	// DatabasePoolAcquireDuration accumulates time spent acquiring connections.
	// Metric: flagmesh_database_pool_acquire_duration_seconds_total
	DatabasePoolAcquireDuration = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "database",
		Name:      "pool_acquire_duration_seconds_total",
		Help:      "Cumulative time spent acquiring connections from the pool",
	})

	// DatabasePoolWaitCount counts acquisitions that had to wait for a free
	// connection; a growing value means the pool is saturated.
	// Metric: flagmesh_database_pool_wait_count_total
	DatabasePoolWaitCount = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "database",
		Name:      "pool_wait_count_total",
		Help:      "Cumulative count of acquisitions that blocked waiting for a connection",
	})

	// -------------------------------------------------------------------------
	// SYNCER
	// -------------------------------------------------------------------------

	// SyncerCyclesTotal counts completed syncer cycles by outcome.
	// Metric: flagmesh_syncer_cycles_total
	SyncerCyclesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "syncer",
		Name:      "cycles_total",
		Help:      "Total syncer cycles run",
	}, []string{"status"}) // ok, failed

	// SyncerCycleDuration measures how long one full cycle takes. A cycle
	// that approaches the sync interval means the daemon is falling behind.
	// Metric: flagmesh_syncer_cycle_duration_seconds
	SyncerCycleDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "syncer",
		Name:      "cycle_duration_seconds",
		Help:      "Duration of one full syncer cycle",
		Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
	})

	// SyncerEnvironmentsTotal counts environments handled per cycle outcome.
	// Metric: flagmesh_syncer_environments_total
	SyncerEnvironmentsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "syncer",
		Name:      "environments_total",
		Help:      "Total environments processed by the syncer",
	}, []string{"status"}) // synced, skipped

	// -------------------------------------------------------------------------
	// MIGRATION
	// -------------------------------------------------------------------------

	// MigrationsTotal counts finished bulk migrations by outcome.
	// Metric: flagmesh_migration_runs_total
	MigrationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "migration",
		Name:      "runs_total",
		Help:      "Total project migrations run",
	}, []string{"status"}) // completed, failed

	// MigrationIdentitiesTotal counts identities processed during migrations.
	// Metric: flagmesh_migration_identities_total
	MigrationIdentitiesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "migration",
		Name:      "identities_total",
		Help:      "Total identities processed by bulk migrations",
	}, []string{"status"}) // written, skipped

	// -------------------------------------------------------------------------
	// OPS API (HTTP)
	// -------------------------------------------------------------------------

	// OpsReqDuration measures the latency of operator HTTP requests.
	// Metric: flagmesh_ops_http_handling_seconds
	OpsReqDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "ops",
		Name:      "http_handling_seconds",
		Help:      "Time taken to handle operator HTTP requests",
		Buckets:   prometheus.DefBuckets, // admin traffic runs at human speed
	}, []string{"method", "path"})

	// OpsReqTotal counts operator HTTP requests.
	// Metric: flagmesh_ops_http_requests_total
	OpsReqTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "ops",
		Name:      "http_requests_total",
		Help:      "Total operator HTTP requests",
	}, []string{"method", "path", "code"})
)
