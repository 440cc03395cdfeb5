// Package main initializes and runs the flagmesh syncer daemon.
//
// It acts as the composition root for the background worker that keeps the
// edge store and the snapshot cache aligned with PostgreSQL.
package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/flagmesh/flagmesh/internal/config"
	"github.com/flagmesh/flagmesh/internal/database"
	"github.com/flagmesh/flagmesh/internal/edgestore"
	"github.com/flagmesh/flagmesh/internal/edgesync"
	"github.com/flagmesh/flagmesh/internal/logger"
	"github.com/flagmesh/flagmesh/internal/observability"
	"github.com/flagmesh/flagmesh/internal/snapshot"
	"github.com/flagmesh/flagmesh/internal/store"
	"github.com/flagmesh/flagmesh/internal/syncer"
)

// main is the application entrypoint.
func main() {
	if err := run(); err != nil {
		log.Printf("Fatal error: %v", err)
		os.Exit(1)
	}
}

// run executes the service lifecycle.
func run() error {
	// -------------------------------------------------------------------------
	// 1. Configuration and Logging
	// -------------------------------------------------------------------------
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logg := logger.New(&cfg.App)
	slog.SetDefault(logg)
	cfg.LogConfig(logg)

	if !cfg.Syncer.Enabled {
		logg.Info("syncer is disabled by configuration, exiting")
		return nil
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// -------------------------------------------------------------------------
	// 2. Infrastructure Setup
	// -------------------------------------------------------------------------

	// Primary store (PostgreSQL, system of record)
	pool, err := database.NewPostgresPool(ctx, &cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to connect to postgres: %w", err)
	}
	defer pool.Close()
	go database.RunPoolMonitor(ctx, pool, 15*time.Second)

	repo := store.NewPostgresStore(pool)

	// Snapshot cache (L1 otter + L2 Redis)
	redisClient, err := snapshot.NewRedisClient(ctx, &cfg.Redis)
	if err != nil {
		return fmt.Errorf("failed to connect to redis: %w", err)
	}
	defer redisClient.Close()

	provider, err := snapshot.NewProvider(logg, cfg.Snapshot, repo, redisClient)
	if err != nil {
		return fmt.Errorf("failed to build snapshot provider: %w", err)
	}
	defer provider.Close()
	go provider.RunMetricsCollector(ctx, 15*time.Second)

	// Edge store (DynamoDB), disabled unless configured
	edge, edgeChecker, err := buildEdgeStore(ctx, cfg, logg)
	if err != nil {
		return err
	}

	// -------------------------------------------------------------------------
	// 3. Wiring (Dependency Injection)
	// -------------------------------------------------------------------------
	engine := edgesync.New(logg, edgesync.Config{
		Workers:        cfg.Syncer.Workers,
		ChunkRetries:   cfg.Syncer.ChunkRetries,
		RetryBaseDelay: cfg.Syncer.RetryBaseDelay,
	}, edge, edgesync.Tables{
		Environments: cfg.EdgeStore.EnvironmentsTable,
		Identities:   cfg.EdgeStore.IdentitiesTable,
		Overrides:    cfg.EdgeStore.OverridesTable,
		APIKeys:      cfg.EdgeStore.APIKeysTable,
	})

	svc := syncer.New(logg, syncer.Config{Interval: cfg.Syncer.Interval}, repo, engine, provider)

	// -------------------------------------------------------------------------
	// 4. Observability Server
	// -------------------------------------------------------------------------
	checkers := []observability.Checker{
		database.NewHealthChecker(pool),
		snapshot.NewHealthChecker(redisClient),
	}
	if edgeChecker != nil {
		checkers = append(checkers, edgeChecker)
	}

	obsServer := observability.NewServer(logg, &cfg.Observability, checkers...)
	obsServer.Start()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = obsServer.Shutdown(shutdownCtx)
	}()

	// -------------------------------------------------------------------------
	// 5. Run Until Shutdown
	// -------------------------------------------------------------------------
	if err := svc.Run(ctx); err != nil {
		return fmt.Errorf("syncer stopped with error: %w", err)
	}

	logg.Info("service exited successfully")
	return nil
}

// buildEdgeStore returns the configured edge store, or a disabled no-op one
// when the edge is not enabled. The checker is nil when disabled.
func buildEdgeStore(ctx context.Context, cfg *config.Config, logg *slog.Logger) (edgestore.Store, observability.Checker, error) {
	if !cfg.EdgeStore.Enabled {
		logg.Info("edge store disabled, edge writes will be no-ops")
		return edgestore.NewDisabled(), nil, nil
	}

	client, err := edgestore.NewDynamoClient(ctx, &cfg.EdgeStore)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to build dynamodb client: %w", err)
	}

	// Probe whichever table is configured; environments is the common case.
	probeTable := cfg.EdgeStore.EnvironmentsTable
	if probeTable == "" {
		probeTable = cfg.EdgeStore.OverridesTable
	}
	if probeTable == "" {
		probeTable = cfg.EdgeStore.IdentitiesTable
	}
	if probeTable == "" {
		probeTable = cfg.EdgeStore.APIKeysTable
	}

	return edgestore.NewDynamoStore(client, logg), edgestore.NewHealthChecker(client, probeTable), nil
}
