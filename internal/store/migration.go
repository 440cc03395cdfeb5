package store

import (
	"context"
	"fmt"
	"time"

	"github.com/flagmesh/flagmesh/internal/migration"
)

// Migration transitions are conditional single-timestamp updates: the WHERE
// clause only matches when the timestamp is still unset, so concurrent
// processes racing the same transition see exactly one winner. No lock, no
// serializable isolation; per-project linearizability comes from the row.

// GetMigrationMetadata returns the project's migration record; a project
// never touched has an all-nil record.
func (s *PostgresStore) GetMigrationMetadata(ctx context.Context, projectID int64) (migration.Metadata, error) {
	meta := migration.Metadata{ProjectID: projectID}
	query := `
		SELECT triggered_at, migration_start_time, migration_end_time
		FROM project_migration_metadata
		WHERE project_id = $1
	`
	rows, err := s.db.Query(ctx, query, projectID)
	if err != nil {
		return meta, fmt.Errorf("failed to read migration metadata: %w", err)
	}
	defer rows.Close()

	if rows.Next() {
		if err := rows.Scan(&meta.TriggeredAt, &meta.StartTime, &meta.EndTime); err != nil {
			return meta, fmt.Errorf("failed to scan migration metadata: %w", err)
		}
	}
	return meta, rows.Err()
}

// TriggerMigration sets triggered_at if and only if it is unset.
func (s *PostgresStore) TriggerMigration(ctx context.Context, projectID int64, at time.Time) (migration.Metadata, error) {
	query := `
		INSERT INTO project_migration_metadata (project_id, triggered_at)
		VALUES ($1, $2)
		ON CONFLICT (project_id)
		DO UPDATE SET triggered_at = EXCLUDED.triggered_at
		WHERE project_migration_metadata.triggered_at IS NULL
	`
	tag, err := s.db.Exec(ctx, query, projectID, at)
	if err != nil {
		return migration.Metadata{}, fmt.Errorf("failed to trigger migration: %w", err)
	}
	if tag.RowsAffected() == 0 {
		meta, _ := s.GetMigrationMetadata(ctx, projectID)
		return meta, migration.ErrAlreadyTriggered
	}
	return s.GetMigrationMetadata(ctx, projectID)
}

// StartMigration sets migration_start_time if and only if it is unset.
func (s *PostgresStore) StartMigration(ctx context.Context, projectID int64, at time.Time) (migration.Metadata, error) {
	query := `
		INSERT INTO project_migration_metadata (project_id, migration_start_time)
		VALUES ($1, $2)
		ON CONFLICT (project_id)
		DO UPDATE SET migration_start_time = EXCLUDED.migration_start_time
		WHERE project_migration_metadata.migration_start_time IS NULL
	`
	tag, err := s.db.Exec(ctx, query, projectID, at)
	if err != nil {
		return migration.Metadata{}, fmt.Errorf("failed to start migration: %w", err)
	}
	if tag.RowsAffected() == 0 {
		meta, _ := s.GetMigrationMetadata(ctx, projectID)
		if meta.EndTime != nil {
			return meta, migration.ErrAlreadyFinished
		}
		return meta, migration.ErrAlreadyStarted
	}
	return s.GetMigrationMetadata(ctx, projectID)
}

// FinishMigration sets migration_end_time if and only if the migration is
// running and not yet finished.
func (s *PostgresStore) FinishMigration(ctx context.Context, projectID int64, at time.Time) (migration.Metadata, error) {
	query := `
		UPDATE project_migration_metadata
		SET migration_end_time = $2
		WHERE project_id = $1
		  AND migration_start_time IS NOT NULL
		  AND migration_end_time IS NULL
	`
	tag, err := s.db.Exec(ctx, query, projectID, at)
	if err != nil {
		return migration.Metadata{}, fmt.Errorf("failed to finish migration: %w", err)
	}
	if tag.RowsAffected() == 0 {
		meta, _ := s.GetMigrationMetadata(ctx, projectID)
		if meta.StartTime == nil {
			return meta, migration.ErrNotStarted
		}
		return meta, migration.ErrAlreadyFinished
	}
	return s.GetMigrationMetadata(ctx, projectID)
}

// SetProjectEdgeEnabled flips the project's edge serving switch.
func (s *PostgresStore) SetProjectEdgeEnabled(ctx context.Context, projectID int64, enabled bool) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE projects SET edge_enabled = $2 WHERE id = $1`, projectID, enabled)
	if err != nil {
		return fmt.Errorf("failed to update project %d: %w", projectID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
