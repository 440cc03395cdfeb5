// Package syncer implements the background daemon that keeps the edge store
// and the snapshot cache aligned with PostgreSQL, the system of record. Each
// cycle it loads every edge-enabled environment, projects it into an
// environment document, bulk-writes the documents through the sync engine,
// and refreshes the snapshot cache.
package syncer

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/flagmesh/flagmesh/internal/domain"
	"github.com/flagmesh/flagmesh/internal/edgedoc"
	"github.com/flagmesh/flagmesh/internal/edgesync"
	"github.com/flagmesh/flagmesh/internal/observability"
)

// EnvironmentSource is the primary-store surface the syncer reads from.
type EnvironmentSource interface {
	ListEdgeEnabledEnvironments(ctx context.Context) ([]*domain.Environment, error)
}

// SnapshotRefresher receives the fresh environment snapshots each cycle.
// *snapshot.Provider implements it.
type SnapshotRefresher interface {
	Refresh(ctx context.Context, env *domain.Environment) error
}

// Config holds the configuration for the syncer service.
type Config struct {
	// Interval is the duration between sync cycles (polling).
	Interval time.Duration
}

// Service orchestrates the synchronization process.
type Service struct {
	logger    *slog.Logger
	config    Config
	source    EnvironmentSource
	engine    *edgesync.Engine
	snapshots SnapshotRefresher
}

// New creates a syncer service. The snapshot refresher may be nil for
// edge-store-only deployments; source and engine are mandatory.
func New(logger *slog.Logger, cfg Config, source EnvironmentSource, engine *edgesync.Engine, snapshots SnapshotRefresher) *Service {
	if logger == nil {
		logger = slog.Default()
	}

	if source == nil {
		panic("syncer: environment source cannot be nil")
	}
	if engine == nil {
		panic("syncer: sync engine cannot be nil")
	}

	if cfg.Interval < time.Second {
		cfg.Interval = 10 * time.Second // Safe default
	}

	return &Service{
		logger:    logger,
		config:    cfg,
		source:    source,
		engine:    engine,
		snapshots: snapshots,
	}
}

// Run starts the syncer loop. It blocks until the context is cancelled.
func (s *Service) Run(ctx context.Context) error {
	s.logger.Info("starting syncer service", slog.String("interval", s.config.Interval.String()))

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	// Run once immediately on startup
	if err := s.Sync(ctx); err != nil {
		s.logger.Error("initial sync failed", slog.String("error", err.Error()))
	}

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("syncer service stopping...")
			return nil
		case <-ticker.C:
			if err := s.Sync(ctx); err != nil {
				// Log the error but don't stop the worker.
				// Retry on next tick.
				s.logger.Error("sync cycle failed", slog.String("error", err.Error()))
			}
		}
	}
}

// Sync performs a single synchronization cycle. It is exported so the
// one-shot path (migrator warm-up, tests) can reuse it.
func (s *Service) Sync(ctx context.Context) error {
	start := time.Now()

	err := s.sync(ctx)

	observability.SyncerCycleDuration.Observe(time.Since(start).Seconds())
	status := "ok"
	if err != nil {
		status = "failed"
	}
	observability.SyncerCyclesTotal.WithLabelValues(status).Inc()
	return err
}

func (s *Service) sync(ctx context.Context) error {
	start := time.Now()

	// 1. Read from the source of truth (Postgres)
	envs, err := s.source.ListEdgeEnabledEnvironments(ctx)
	if err != nil {
		return fmt.Errorf("failed to list environments: %w", err)
	}
	if len(envs) == 0 {
		return nil
	}

	// 2. Project environment documents. A malformed environment is skipped,
	// not fatal: the rest of the fleet still syncs.
	docs := make([]edgedoc.EnvironmentDocument, 0, len(envs))
	synced := envs[:0]
	for _, env := range envs {
		doc, err := edgedoc.FromEnvironment(env)
		if err != nil {
			s.logger.Warn("skipping unmappable environment",
				slog.String("api_key", env.APIKey),
				slog.String("error", err.Error()),
			)
			observability.SyncerEnvironmentsTotal.WithLabelValues("skipped").Inc()
			continue
		}
		docs = append(docs, doc)
		synced = append(synced, env)
	}

	// 3. Bulk-write to the edge store.
	report := s.engine.WriteFullEnvironments(ctx, docs)
	if report.Disabled {
		s.logger.Debug("edge store disabled for environments, skipping write")
	} else if !report.OK() {
		return fmt.Errorf("environment write left %d of %d chunks failed",
			len(report.FailedChunks), report.Chunks)
	}

	// 4. Refresh the snapshot cache so resolver reads see the same state
	// the edge just received.
	refreshErrors := 0
	if s.snapshots != nil {
		for _, env := range synced {
			if err := s.snapshots.Refresh(ctx, env); err != nil {
				s.logger.Warn("failed to refresh snapshot",
					slog.String("api_key", env.APIKey),
					slog.String("error", err.Error()),
				)
				refreshErrors++
			}
		}
	}
	observability.SyncerEnvironmentsTotal.WithLabelValues("synced").Add(float64(len(synced)))

	s.logger.Info("sync cycle completed",
		slog.Int("environments", len(synced)),
		slog.Int("skipped", len(envs)-len(synced)),
		slog.Int("refresh_errors", refreshErrors),
		slog.String("duration", time.Since(start).String()),
	)
	return nil
}
