// Package store is the data access layer over PostgreSQL, the system of
// record. It assembles immutable environment snapshots for the resolver and
// the sync engine, streams identities for bulk migration, and holds the
// migration metadata with conditional single-timestamp updates.
package store

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/flagmesh/flagmesh/internal/domain"
	"github.com/flagmesh/flagmesh/internal/migration"
	"github.com/flagmesh/flagmesh/internal/validation"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("store: not found")

// EnvironmentRepository is the read surface the resolver path and the
// syncer depend on.
type EnvironmentRepository interface {
	// GetEnvironment assembles the full evaluation snapshot for the
	// environment addressed by api key: defaults, segments with rules and
	// overrides, project switches. Returns ErrNotFound for unknown keys.
	GetEnvironment(ctx context.Context, apiKey string) (*domain.Environment, error)

	ListProjectEnvironments(ctx context.Context, projectID int64) ([]*domain.Environment, error)
	ListProjectAPIKeys(ctx context.Context, projectID int64) ([]*domain.EnvironmentAPIKey, error)

	// ListEdgeEnabledEnvironments returns every environment whose project
	// was migrated to the edge; the syncer's work list.
	ListEdgeEnabledEnvironments(ctx context.Context) ([]*domain.Environment, error)
}

// Compile-time checks that PostgresStore serves every consumer.
var (
	_ EnvironmentRepository  = (*PostgresStore)(nil)
	_ migration.ProjectStore = (*PostgresStore)(nil)
)

// PostgresStore implements the repositories on a pgx connection pool.
type PostgresStore struct {
	db *pgxpool.Pool
}

// NewPostgresStore creates a new repository instance with the given connection pool.
func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	validation.AssertNotNil(db, "database pool")
	return &PostgresStore{db: db}
}
