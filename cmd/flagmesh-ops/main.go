// Package main initializes and runs the flagmesh operator API.
//
// It acts as the composition root for the operator HTTP surface: migration
// status and triggering, and incremental override-changeset sync, plus the
// observability server.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/flagmesh/flagmesh/internal/config"
	"github.com/flagmesh/flagmesh/internal/database"
	"github.com/flagmesh/flagmesh/internal/edgestore"
	"github.com/flagmesh/flagmesh/internal/edgesync"
	"github.com/flagmesh/flagmesh/internal/logger"
	"github.com/flagmesh/flagmesh/internal/migration"
	"github.com/flagmesh/flagmesh/internal/observability"
	"github.com/flagmesh/flagmesh/internal/opsapi"
	"github.com/flagmesh/flagmesh/internal/store"
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
	go database.RunPoolMonitor(ctx, pool, 15*time.Second)

	repo := store.NewPostgresStore(pool)

	var edge edgestore.Store = edgestore.NewDisabled()
	checkers := []observability.Checker{database.NewHealthChecker(pool)}
	if cfg.EdgeStore.Enabled {
		client, err := edgestore.NewDynamoClient(ctx, &cfg.EdgeStore)
		if err != nil {
			return fmt.Errorf("failed to build dynamodb client: %w", err)
		}
		edge = edgestore.NewDynamoStore(client, logg)
		if cfg.EdgeStore.OverridesTable != "" {
			checkers = append(checkers, edgestore.NewHealthChecker(client, cfg.EdgeStore.OverridesTable))
		}
	} else {
		logg.Info("edge store disabled, edge operations will report unavailable")
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

	controller := migration.NewController(logg, repo, engine)

	// Outside production an empty hash means auth off; the config validator
	// refuses that combination in production.
	skipAuth := cfg.Ops.APIKeyHash == ""
	if skipAuth {
		logg.Warn("ops api authentication is disabled (no API key hash configured)")
	}
	api := opsapi.NewAPIWithConfig(controller, engine, cfg.Ops.APIKeyHash, skipAuth)

	// -------------------------------------------------------------------------
	// 4. HTTP Server Setup
	// -------------------------------------------------------------------------
	server := &http.Server{
		Addr:              net.JoinHostPort(cfg.Ops.Host, cfg.Ops.Port),
		Handler:           api.Router,
		ReadTimeout:       cfg.Ops.ReadTimeout,
		WriteTimeout:      cfg.Ops.WriteTimeout,
		ReadHeaderTimeout: cfg.Ops.ReadHeaderTimeout,
		IdleTimeout:       cfg.Ops.IdleTimeout,
		MaxHeaderBytes:    cfg.Ops.MaxHeaderBytes,
	}

	obsServer := observability.NewServer(logg, &cfg.Observability, checkers...)
	obsServer.Start()

	errChan := make(chan error, 1)
	go func() {
		logg.Info("ops api listening",
			slog.String("addr", server.Addr),
			slog.Bool("tls", cfg.Ops.TLSEnabled))

		var err error
		if cfg.Ops.TLSEnabled {
			err = server.ListenAndServeTLS(cfg.Ops.TLSCert, cfg.Ops.TLSKey)
		} else {
			err = server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- fmt.Errorf("ops api server failed: %w", err)
		}
	}()

	// -------------------------------------------------------------------------
	// 5. Graceful Shutdown
	// -------------------------------------------------------------------------
	select {
	case err := <-errChan:
		return err
	case <-ctx.Done():
		logg.Info("shutdown signal received, stopping servers...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logg.Error("ops api shutdown failed", slog.String("error", err.Error()))
	}
	if err := obsServer.Shutdown(shutdownCtx); err != nil {
		logg.Error("observability shutdown failed", slog.String("error", err.Error()))
	}

	logg.Info("service exited successfully")
	return nil
}
