package migration

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/flagmesh/flagmesh/internal/domain"
	"github.com/flagmesh/flagmesh/internal/edgedoc"
	"github.com/flagmesh/flagmesh/internal/edgesync"
	"github.com/flagmesh/flagmesh/internal/observability"
)

// identityFlushSize is how many identity documents accumulate before they
// are handed to the sync engine as one bulk write.
const identityFlushSize = 500

// IdentityIterator streams a project's identities from the primary store.
// Next returns false when the stream is exhausted; Close releases the
// underlying cursor and is safe to call more than once.
type IdentityIterator interface {
	Next(ctx context.Context) (*domain.Identity, bool, error)
	Close()
}

// ProjectStore is the primary-store surface the controller needs. The
// transition methods apply conditional updates: they fail with the matching
// state error when another process already performed the transition, which
// is what makes transitions per-project linearizable without a lock.
type ProjectStore interface {
	GetMigrationMetadata(ctx context.Context, projectID int64) (Metadata, error)
	TriggerMigration(ctx context.Context, projectID int64, at time.Time) (Metadata, error)
	StartMigration(ctx context.Context, projectID int64, at time.Time) (Metadata, error)
	FinishMigration(ctx context.Context, projectID int64, at time.Time) (Metadata, error)

	SetProjectEdgeEnabled(ctx context.Context, projectID int64, enabled bool) error
	ListProjectEnvironments(ctx context.Context, projectID int64) ([]*domain.Environment, error)
	ListProjectAPIKeys(ctx context.Context, projectID int64) ([]*domain.EnvironmentAPIKey, error)
	IterateIdentities(ctx context.Context, environmentID int64) (IdentityIterator, error)
}

// Controller runs and reports project migrations.
type Controller struct {
	logger *slog.Logger
	store  ProjectStore
	engine *edgesync.Engine
	now    func() time.Time
}

// NewController creates a controller.
func NewController(logger *slog.Logger, store ProjectStore, engine *edgesync.Engine) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	if store == nil {
		panic("migration: project store cannot be nil")
	}
	if engine == nil {
		panic("migration: sync engine cannot be nil")
	}
	return &Controller{
		logger: logger,
		store:  store,
		engine: engine,
		now:    time.Now,
	}
}

// Status returns the project's migration record.
func (c *Controller) Status(ctx context.Context, projectID int64) (Metadata, error) {
	return c.store.GetMigrationMetadata(ctx, projectID)
}

// Trigger schedules the project for migration. Idempotence is rejected
// loudly: a second trigger fails with ErrAlreadyTriggered.
func (c *Controller) Trigger(ctx context.Context, projectID int64) (Metadata, error) {
	meta, err := c.store.TriggerMigration(ctx, projectID, c.now())
	if err != nil {
		return meta, err
	}
	c.logger.InfoContext(ctx, "migration triggered", slog.Int64("project_id", projectID))
	return meta, nil
}

// Migrate runs the bulk migration: enable the project for edge serving,
// project environments and API keys, stream identities into identity
// documents (malformed records skipped and logged), derive the override
// changeset from the written identities, apply it, then finish.
//
// Failed sync chunks abort before Finish, leaving the project IN_PROGRESS.
// Recovery is an operator decision (all writes are idempotent puts, so
// re-driving them converges); LastTransition is the signal to watch.
func (c *Controller) Migrate(ctx context.Context, projectID int64) error {
	meta, err := c.store.GetMigrationMetadata(ctx, projectID)
	if err != nil {
		return err
	}
	if !meta.CanMigrate() {
		switch meta.Status() {
		case StatusCompleted:
			return ErrAlreadyFinished
		default:
			return ErrAlreadyStarted
		}
	}

	if _, err := c.store.StartMigration(ctx, projectID, c.now()); err != nil {
		return err
	}
	c.logger.InfoContext(ctx, "migration started", slog.Int64("project_id", projectID))

	if err := c.migrate(ctx, projectID); err != nil {
		observability.MigrationsTotal.WithLabelValues("failed").Inc()
		c.logger.ErrorContext(ctx, "migration failed, project left in progress",
			slog.Int64("project_id", projectID),
			slog.String("error", err.Error()),
		)
		return err
	}

	if _, err := c.store.FinishMigration(ctx, projectID, c.now()); err != nil {
		return err
	}
	observability.MigrationsTotal.WithLabelValues("completed").Inc()
	c.logger.InfoContext(ctx, "migration completed", slog.Int64("project_id", projectID))
	return nil
}

func (c *Controller) migrate(ctx context.Context, projectID int64) error {
	if err := c.store.SetProjectEdgeEnabled(ctx, projectID, true); err != nil {
		return fmt.Errorf("enable edge serving: %w", err)
	}

	envs, err := c.store.ListProjectEnvironments(ctx, projectID)
	if err != nil {
		return fmt.Errorf("list environments: %w", err)
	}

	envDocs := make([]edgedoc.EnvironmentDocument, 0, len(envs))
	for _, env := range envs {
		doc, err := edgedoc.FromEnvironment(env)
		if err != nil {
			return fmt.Errorf("map environment %d: %w", env.ID, err)
		}
		envDocs = append(envDocs, doc)
	}
	if report := c.engine.WriteFullEnvironments(ctx, envDocs); !report.OK() {
		return reportError("environments", report)
	}

	keys, err := c.store.ListProjectAPIKeys(ctx, projectID)
	if err != nil {
		return fmt.Errorf("list api keys: %w", err)
	}
	keyDocs := make([]edgedoc.APIKeyDocument, 0, len(keys))
	for _, key := range keys {
		doc, err := edgedoc.FromAPIKey(key)
		if err != nil {
			return fmt.Errorf("map api key %d: %w", key.ID, err)
		}
		keyDocs = append(keyDocs, doc)
	}
	if report := c.engine.WriteFullAPIKeys(ctx, keyDocs); !report.OK() {
		return reportError("api keys", report)
	}

	for _, env := range envs {
		if err := c.migrateIdentities(ctx, env); err != nil {
			return fmt.Errorf("environment %d: %w", env.ID, err)
		}
	}
	return nil
}

// migrateIdentities streams one environment's identities, writing identity
// documents in bulk and mirroring their overrides into the override table.
func (c *Controller) migrateIdentities(ctx context.Context, env *domain.Environment) error {
	iter, err := c.store.IterateIdentities(ctx, env.ID)
	if err != nil {
		return fmt.Errorf("iterate identities: %w", err)
	}
	defer iter.Close()

	var pending []edgedoc.IdentityDocument
	var overrides []edgedoc.OverrideDocument

	flush := func() error {
		if len(pending) == 0 {
			return nil
		}
		if report := c.engine.WriteFullIdentities(ctx, pending); !report.OK() {
			return reportError("identities", report)
		}
		observability.MigrationIdentitiesTotal.WithLabelValues("written").Add(float64(len(pending)))
		pending = pending[:0]

		if len(overrides) > 0 {
			cs := edgesync.Changeset{}
			for _, o := range overrides {
				cs.Puts = append(cs.Puts, o.Item())
			}
			if report := c.engine.ApplyChangeset(ctx, cs); !report.OK() {
				return reportError("overrides", report)
			}
			overrides = overrides[:0]
		}
		return nil
	}

	for {
		identity, ok, err := iter.Next(ctx)
		if err != nil {
			return fmt.Errorf("read identity: %w", err)
		}
		if !ok {
			break
		}
		if identity.UUID == "" {
			identity.UUID = uuid.NewString()
		}

		doc, err := edgedoc.FromIdentity(env.APIKey, identity)
		if err != nil {
			var mapErr *edgedoc.MappingError
			if errors.As(err, &mapErr) {
				observability.MigrationIdentitiesTotal.WithLabelValues("skipped").Inc()
				c.logger.WarnContext(ctx, "skipping unmappable identity",
					slog.Int64("identity_id", identity.ID),
					slog.String("field", mapErr.Field),
					slog.String("reason", mapErr.Reason),
				)
				continue
			}
			return err
		}

		derived, err := edgedoc.OverridesFromIdentity(env.ID, doc)
		if err != nil {
			return err
		}

		pending = append(pending, doc)
		overrides = append(overrides, derived...)
		if len(pending) >= identityFlushSize {
			if err := flush(); err != nil {
				return err
			}
		}
	}
	return flush()
}

func reportError(what string, report edgesync.Report) error {
	if report.Disabled {
		return fmt.Errorf("migration: %s sync disabled, edge store not configured", what)
	}
	return fmt.Errorf("migration: %s sync failed %d of %d chunks (first: %w)",
		what, len(report.FailedChunks), report.Chunks, report.FailedChunks[0].Err)
}
