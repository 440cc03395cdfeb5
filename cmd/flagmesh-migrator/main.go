// Package main runs a one-shot bulk migration of a project into the edge
// store: environments, api keys, identities, and the override changeset
// derived from them. It is an operator tool, not a daemon; the process exits
// non-zero when the migration fails so it can be driven from CI or a job.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/flagmesh/flagmesh/internal/config"
	"github.com/flagmesh/flagmesh/internal/database"
	"github.com/flagmesh/flagmesh/internal/edgestore"
	"github.com/flagmesh/flagmesh/internal/edgesync"
	"github.com/flagmesh/flagmesh/internal/logger"
	"github.com/flagmesh/flagmesh/internal/migration"
	"github.com/flagmesh/flagmesh/internal/store"
)

// main is the application entrypoint.
func main() {
	if err := run(); err != nil {
		log.Printf("Fatal error: %v", err)
		os.Exit(1)
	}
}

// run executes the one-shot migration.
func run() error {
	projectID := flag.Int64("project", 0, "id of the project to migrate (required)")
	trigger := flag.Bool("trigger", false, "trigger the migration first if it was not scheduled")
	flag.Parse()

	if *projectID <= 0 {
		flag.Usage()
		return fmt.Errorf("a positive -project id is required")
	}

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

	if !cfg.EdgeStore.Enabled {
		return fmt.Errorf("edge store is not enabled; a migration has nowhere to write")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// -------------------------------------------------------------------------
	// 2. Infrastructure Setup
	// -------------------------------------------------------------------------
	pool, err := database.NewPostgresPool(ctx, &cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to connect to postgres: %w", err)
	}
	defer pool.Close()

	repo := store.NewPostgresStore(pool)

	client, err := edgestore.NewDynamoClient(ctx, &cfg.EdgeStore)
	if err != nil {
		return fmt.Errorf("failed to build dynamodb client: %w", err)
	}

	// -------------------------------------------------------------------------
	// 3. Wiring (Dependency Injection)
	// -------------------------------------------------------------------------
	engine := edgesync.New(logg, edgesync.Config{
		Workers:        cfg.Syncer.Workers,
		ChunkRetries:   cfg.Syncer.ChunkRetries,
		RetryBaseDelay: cfg.Syncer.RetryBaseDelay,
	}, edgestore.NewDynamoStore(client, logg), edgesync.Tables{
		Environments: cfg.EdgeStore.EnvironmentsTable,
		Identities:   cfg.EdgeStore.IdentitiesTable,
		Overrides:    cfg.EdgeStore.OverridesTable,
		APIKeys:      cfg.EdgeStore.APIKeysTable,
	})

	controller := migration.NewController(logg, repo, engine)

	// -------------------------------------------------------------------------
	// 4. Execute
	// -------------------------------------------------------------------------
	if *trigger {
		if _, err := controller.Trigger(ctx, *projectID); err != nil {
			if !errors.Is(err, migration.ErrAlreadyTriggered) {
				return fmt.Errorf("failed to trigger migration: %w", err)
			}
			logg.Info("migration already triggered, proceeding", slog.Int64("project_id", *projectID))
		} else {
			logg.Info("migration triggered", slog.Int64("project_id", *projectID))
		}
	}

	logg.Info("starting bulk migration", slog.Int64("project_id", *projectID))
	if err := controller.Migrate(ctx, *projectID); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	meta, err := controller.Status(ctx, *projectID)
	if err != nil {
		return fmt.Errorf("migration finished but status read failed: %w", err)
	}

	logg.Info("migration completed",
		slog.Int64("project_id", *projectID),
		slog.String("status", string(meta.Status())))
	return nil
}
