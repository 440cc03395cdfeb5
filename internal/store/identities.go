package store

import (
	"context"
	"fmt"

	"github.com/flagmesh/flagmesh/internal/domain"
	"github.com/flagmesh/flagmesh/internal/migration"
)

// identityPageSize is how many identities one page of the iterator loads.
const identityPageSize = 500

// IterateIdentities streams the environment's identities ordered by id.
// Pages are fetched by a background goroutine one page ahead of the
// consumer, so migration keeps writing while the next page loads.
func (s *PostgresStore) IterateIdentities(ctx context.Context, environmentID int64) (migration.IdentityIterator, error) {
	var projectID int64
	err := s.db.QueryRow(ctx,
		`SELECT project_id FROM environments WHERE id = $1`, environmentID,
	).Scan(&projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve environment %d: %w", environmentID, err)
	}
	features, err := s.projectFeatures(ctx, projectID)
	if err != nil {
		return nil, err
	}

	iterCtx, cancel := context.WithCancel(ctx)
	it := &identityIterator{
		store:         s,
		environmentID: environmentID,
		features:      features,
		pages:         make(chan identityPage, 1),
		cancel:        cancel,
	}
	go it.fetchLoop(iterCtx)
	return it, nil
}

type identityPage struct {
	identities []*domain.Identity
	err        error
}

type identityIterator struct {
	store         *PostgresStore
	environmentID int64
	features      map[int64]domain.Feature

	pages  chan identityPage
	cancel context.CancelFunc

	current []*domain.Identity
	pos     int
	done    bool
}

// fetchLoop loads pages sequentially and hands them to the consumer through
// a buffered channel: one page is always being read while the previous one
// is being consumed.
func (it *identityIterator) fetchLoop(ctx context.Context) {
	defer close(it.pages)

	var afterID int64
	for {
		identities, err := it.store.identityPage(ctx, it.environmentID, afterID, it.features)
		if err != nil {
			select {
			case it.pages <- identityPage{err: err}:
			case <-ctx.Done():
			}
			return
		}
		if len(identities) == 0 {
			return
		}
		afterID = identities[len(identities)-1].ID

		select {
		case it.pages <- identityPage{identities: identities}:
		case <-ctx.Done():
			return
		}
		if len(identities) < identityPageSize {
			return
		}
	}
}

func (it *identityIterator) Next(ctx context.Context) (*domain.Identity, bool, error) {
	for it.pos >= len(it.current) {
		if it.done {
			return nil, false, nil
		}
		select {
		case page, ok := <-it.pages:
			if !ok {
				it.done = true
				return nil, false, nil
			}
			if page.err != nil {
				it.done = true
				return nil, false, page.err
			}
			it.current = page.identities
			it.pos = 0
		case <-ctx.Done():
			return nil, false, ctx.Err()
		}
	}

	identity := it.current[it.pos]
	it.pos++
	return identity, true, nil
}

func (it *identityIterator) Close() {
	it.cancel()
}

// identityPage loads one page of identities with traits and identity-scoped
// overrides attached.
func (s *PostgresStore) identityPage(ctx context.Context, environmentID, afterID int64, features map[int64]domain.Feature) ([]*domain.Identity, error) {
	query := `
		SELECT id, uuid, identifier, dashboard_alias, created_date
		FROM identities
		WHERE environment_id = $1 AND id > $2
		ORDER BY id
		LIMIT $3
	`
	rows, err := s.db.Query(ctx, query, environmentID, afterID, identityPageSize)
	if err != nil {
		return nil, fmt.Errorf("failed to list identities: %w", err)
	}
	defer rows.Close()

	var identities []*domain.Identity
	byID := make(map[int64]*domain.Identity)
	var ids []int64
	for rows.Next() {
		identity := &domain.Identity{EnvironmentID: environmentID}
		if err := rows.Scan(&identity.ID, &identity.UUID, &identity.Identifier,
			&identity.DashboardAlias, &identity.CreatedDate); err != nil {
			return nil, fmt.Errorf("failed to scan identity row: %w", err)
		}
		identities = append(identities, identity)
		byID[identity.ID] = identity
		ids = append(ids, identity.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}
	if len(identities) == 0 {
		return nil, nil
	}

	traitQuery := `
		SELECT identity_id, key, value_kind, value
		FROM traits
		WHERE identity_id = ANY($1)
		ORDER BY id
	`
	traitRows, err := s.db.Query(ctx, traitQuery, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to list traits: %w", err)
	}
	defer traitRows.Close()

	for traitRows.Next() {
		var identityID int64
		var key, valueKind, value string
		if err := traitRows.Scan(&identityID, &key, &valueKind, &value); err != nil {
			return nil, fmt.Errorf("failed to scan trait row: %w", err)
		}
		v, err := domain.ParseValue(valueKind, value)
		if err != nil {
			return nil, fmt.Errorf("trait %q of identity %d: %w", key, identityID, err)
		}
		identity := byID[identityID]
		identity.Traits = append(identity.Traits, domain.Trait{Key: key, Value: v})
	}
	if err := traitRows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}

	overrideQuery := `
		SELECT id, feature_id, identity_id, enabled, value_kind, value, version, live_from, created_at
		FROM feature_states
		WHERE identity_id = ANY($1)
		ORDER BY id
	`
	overrideRows, err := s.db.Query(ctx, overrideQuery, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to list identity overrides: %w", err)
	}
	defer overrideRows.Close()

	for overrideRows.Next() {
		var fs domain.FeatureState
		var featureID, identityID int64
		var valueKind, value string
		if err := overrideRows.Scan(&fs.ID, &featureID, &identityID, &fs.Enabled,
			&valueKind, &value, &fs.Version, &fs.LiveFrom, &fs.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan override row: %w", err)
		}
		v, err := domain.ParseValue(valueKind, value)
		if err != nil {
			return nil, fmt.Errorf("feature state %d: %w", fs.ID, err)
		}
		fs.Value = v
		fs.Feature = features[featureID]
		id := identityID
		fs.IdentityID = &id
		identity := byID[identityID]
		identity.Overrides = append(identity.Overrides, fs)
	}
	return identities, overrideRows.Err()
}
