package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/flagmesh/flagmesh/internal/domain"
)

// GetEnvironment assembles the evaluation snapshot for one environment.
// The snapshot is built from several queries inside one read; callers treat
// the result as immutable.
func (s *PostgresStore) GetEnvironment(ctx context.Context, apiKey string) (*domain.Environment, error) {
	env, err := s.environmentByAPIKey(ctx, apiKey)
	if err != nil {
		return nil, err
	}
	if err := s.populateEnvironment(ctx, env); err != nil {
		return nil, err
	}
	return env, nil
}

// ListProjectEnvironments returns full snapshots of every environment in
// the project, ordered by id.
func (s *PostgresStore) ListProjectEnvironments(ctx context.Context, projectID int64) ([]*domain.Environment, error) {
	query := `
		SELECT e.id, e.api_key, e.name, e.updated_at,
		       p.id, p.name, p.hide_disabled_flags, p.edge_enabled,
		       o.id, o.name, o.persist_trait_data
		FROM environments e
		JOIN projects p ON p.id = e.project_id
		JOIN organisations o ON o.id = p.organisation_id
		WHERE p.id = $1
		ORDER BY e.id
	`
	rows, err := s.db.Query(ctx, query, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to list environments: %w", err)
	}
	defer rows.Close()

	var envs []*domain.Environment
	for rows.Next() {
		env, err := scanEnvironment(rows)
		if err != nil {
			return nil, err
		}
		envs = append(envs, env)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}

	for _, env := range envs {
		if err := s.populateEnvironment(ctx, env); err != nil {
			return nil, err
		}
	}
	return envs, nil
}

// ListEdgeEnabledEnvironments returns full snapshots of every environment
// whose project has been migrated to the edge, ordered by id. This is the
// syncer's work list.
func (s *PostgresStore) ListEdgeEnabledEnvironments(ctx context.Context) ([]*domain.Environment, error) {
	query := `
		SELECT e.id, e.api_key, e.name, e.updated_at,
		       p.id, p.name, p.hide_disabled_flags, p.edge_enabled,
		       o.id, o.name, o.persist_trait_data
		FROM environments e
		JOIN projects p ON p.id = e.project_id
		JOIN organisations o ON o.id = p.organisation_id
		WHERE p.edge_enabled = TRUE
		ORDER BY e.id
	`
	rows, err := s.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list edge-enabled environments: %w", err)
	}
	defer rows.Close()

	var envs []*domain.Environment
	for rows.Next() {
		env, err := scanEnvironment(rows)
		if err != nil {
			return nil, err
		}
		envs = append(envs, env)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}

	for _, env := range envs {
		if err := s.populateEnvironment(ctx, env); err != nil {
			return nil, err
		}
	}
	return envs, nil
}

// ListProjectAPIKeys returns every additional environment API key in the
// project, including inactive and expired ones; the edge decides validity.
func (s *PostgresStore) ListProjectAPIKeys(ctx context.Context, projectID int64) ([]*domain.EnvironmentAPIKey, error) {
	query := `
		SELECT k.id, k.environment_id, k.key, k.kind, k.name, k.active, k.expires_at, k.created_at
		FROM environment_api_keys k
		JOIN environments e ON e.id = k.environment_id
		WHERE e.project_id = $1
		ORDER BY k.id
	`
	rows, err := s.db.Query(ctx, query, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to list api keys: %w", err)
	}
	defer rows.Close()

	var keys []*domain.EnvironmentAPIKey
	for rows.Next() {
		var k domain.EnvironmentAPIKey
		var kind string
		if err := rows.Scan(&k.ID, &k.EnvironmentID, &k.Key, &kind, &k.Name, &k.Active, &k.ExpiresAt, &k.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan api key row: %w", err)
		}
		k.Kind = domain.APIKeyKind(kind)
		keys = append(keys, &k)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}
	return keys, nil
}

func (s *PostgresStore) environmentByAPIKey(ctx context.Context, apiKey string) (*domain.Environment, error) {
	query := `
		SELECT e.id, e.api_key, e.name, e.updated_at,
		       p.id, p.name, p.hide_disabled_flags, p.edge_enabled,
		       o.id, o.name, o.persist_trait_data
		FROM environments e
		JOIN projects p ON p.id = e.project_id
		JOIN organisations o ON o.id = p.organisation_id
		WHERE e.api_key = $1
	`
	row := s.db.QueryRow(ctx, query, apiKey)
	env, err := scanEnvironment(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return env, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEnvironment(row rowScanner) (*domain.Environment, error) {
	var env domain.Environment
	err := row.Scan(
		&env.ID, &env.APIKey, &env.Name, &env.UpdatedAt,
		&env.Project.ID, &env.Project.Name, &env.Project.HideDisabledFlags, &env.Project.EdgeEnabled,
		&env.Project.Organisation.ID, &env.Project.Organisation.Name, &env.Project.Organisation.PersistTraitData,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan environment row: %w", err)
	}
	return &env, nil
}

// populateEnvironment fills the snapshot: project features, environment
// default states, segments with rules and segment-scoped overrides.
func (s *PostgresStore) populateEnvironment(ctx context.Context, env *domain.Environment) error {
	features, err := s.projectFeatures(ctx, env.Project.ID)
	if err != nil {
		return err
	}
	if env.FeatureStates, err = s.environmentStates(ctx, env.ID, features); err != nil {
		return err
	}
	if env.Segments, err = s.projectSegments(ctx, env.Project.ID, env.ID, features); err != nil {
		return err
	}
	return nil
}

// projectFeatures loads the project's features with their multivariate
// options, keyed by feature id.
func (s *PostgresStore) projectFeatures(ctx context.Context, projectID int64) (map[int64]domain.Feature, error) {
	query := `
		SELECT id, name, type, kind, default_enabled,
		       initial_value_kind, initial_value, server_key_only, archived
		FROM features
		WHERE project_id = $1
		ORDER BY id
	`
	rows, err := s.db.Query(ctx, query, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to list features: %w", err)
	}
	defer rows.Close()

	features := make(map[int64]domain.Feature)
	for rows.Next() {
		var f domain.Feature
		var typ, kind, valueKind, value string
		if err := rows.Scan(&f.ID, &f.Name, &typ, &kind, &f.DefaultEnabled,
			&valueKind, &value, &f.ServerKeyOnly, &f.Archived); err != nil {
			return nil, fmt.Errorf("failed to scan feature row: %w", err)
		}
		f.ProjectID = projectID
		f.Type = domain.FeatureType(typ)
		f.Kind = domain.FeatureKind(kind)
		if f.InitialValue, err = domain.ParseValue(valueKind, value); err != nil {
			return nil, fmt.Errorf("feature %d: %w", f.ID, err)
		}
		features[f.ID] = f
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}

	optQuery := `
		SELECT o.id, o.feature_id, o.value_kind, o.value, o.default_percentage_allocation
		FROM multivariate_feature_options o
		JOIN features f ON f.id = o.feature_id
		WHERE f.project_id = $1
		ORDER BY o.id
	`
	optRows, err := s.db.Query(ctx, optQuery, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to list multivariate options: %w", err)
	}
	defer optRows.Close()

	for optRows.Next() {
		var opt domain.MultivariateFeatureOption
		var valueKind, value string
		if err := optRows.Scan(&opt.ID, &opt.FeatureID, &valueKind, &value, &opt.DefaultPercentageAllocation); err != nil {
			return nil, fmt.Errorf("failed to scan option row: %w", err)
		}
		if opt.Value, err = domain.ParseValue(valueKind, value); err != nil {
			return nil, fmt.Errorf("option %d: %w", opt.ID, err)
		}
		f, ok := features[opt.FeatureID]
		if !ok {
			continue
		}
		f.Options = append(f.Options, opt)
		features[opt.FeatureID] = f
	}
	return features, optRows.Err()
}

// environmentStates loads the environment-default feature states. All
// versions are loaded; the resolver picks the live one.
func (s *PostgresStore) environmentStates(ctx context.Context, environmentID int64, features map[int64]domain.Feature) ([]domain.FeatureState, error) {
	query := `
		SELECT id, feature_id, enabled, value_kind, value, version, live_from, created_at
		FROM feature_states
		WHERE environment_id = $1 AND feature_segment_id IS NULL AND identity_id IS NULL
		ORDER BY id
	`
	rows, err := s.db.Query(ctx, query, environmentID)
	if err != nil {
		return nil, fmt.Errorf("failed to list feature states: %w", err)
	}
	defer rows.Close()

	states, err := scanStates(rows, features, nil)
	if err != nil {
		return nil, err
	}
	return s.attachMultivariateValues(ctx, states, features)
}

// projectSegments loads the project's segments with rule trees and attaches
// the environment's segment-scoped overrides.
func (s *PostgresStore) projectSegments(ctx context.Context, projectID, environmentID int64, features map[int64]domain.Feature) ([]domain.Segment, error) {
	query := `
		SELECT id, name, feature_id
		FROM segments
		WHERE project_id = $1
		ORDER BY id
	`
	rows, err := s.db.Query(ctx, query, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to list segments: %w", err)
	}
	defer rows.Close()

	var segments []domain.Segment
	index := make(map[int64]int)
	for rows.Next() {
		var seg domain.Segment
		if err := rows.Scan(&seg.ID, &seg.Name, &seg.FeatureID); err != nil {
			return nil, fmt.Errorf("failed to scan segment row: %w", err)
		}
		seg.ProjectID = projectID
		index[seg.ID] = len(segments)
		segments = append(segments, seg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}
	if len(segments) == 0 {
		return nil, nil
	}

	if err := s.loadSegmentRules(ctx, projectID, segments, index); err != nil {
		return nil, err
	}
	if err := s.loadSegmentOverrides(ctx, environmentID, segments, index, features); err != nil {
		return nil, err
	}
	return segments, nil
}

// loadSegmentRules rebuilds each segment's rule arena. Rows come back
// ordered by id, and a child row always has a larger id than its parent,
// so parents are inserted before their children.
func (s *PostgresStore) loadSegmentRules(ctx context.Context, projectID int64, segments []domain.Segment, index map[int64]int) error {
	ruleQuery := `
		SELECT r.id, r.segment_id, r.parent_id, r.type
		FROM segment_rules r
		JOIN segments s ON s.id = r.segment_id
		WHERE s.project_id = $1
		ORDER BY r.id
	`
	rows, err := s.db.Query(ctx, ruleQuery, projectID)
	if err != nil {
		return fmt.Errorf("failed to list segment rules: %w", err)
	}
	defer rows.Close()

	// db rule id -> arena handle within its segment's RuleSet
	handles := make(map[int64]int)
	for rows.Next() {
		var id, segmentID int64
		var parentID *int64
		var typ string
		if err := rows.Scan(&id, &segmentID, &parentID, &typ); err != nil {
			return fmt.Errorf("failed to scan rule row: %w", err)
		}
		seg := &segments[index[segmentID]]
		if parentID == nil {
			handles[id] = seg.Rules.AddRoot(domain.RuleType(typ))
		} else {
			handles[id] = seg.Rules.AddChild(handles[*parentID], domain.RuleType(typ))
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("rows iteration error: %w", err)
	}

	condQuery := `
		SELECT c.rule_id, r.segment_id, c.operator, c.property, c.value
		FROM segment_conditions c
		JOIN segment_rules r ON r.id = c.rule_id
		JOIN segments s ON s.id = r.segment_id
		WHERE s.project_id = $1
		ORDER BY c.id
	`
	condRows, err := s.db.Query(ctx, condQuery, projectID)
	if err != nil {
		return fmt.Errorf("failed to list segment conditions: %w", err)
	}
	defer condRows.Close()

	for condRows.Next() {
		var ruleID, segmentID int64
		var operator, property, value string
		if err := condRows.Scan(&ruleID, &segmentID, &operator, &property, &value); err != nil {
			return fmt.Errorf("failed to scan condition row: %w", err)
		}
		seg := &segments[index[segmentID]]
		seg.Rules.AddConditions(handles[ruleID], domain.Condition{
			Operator: domain.Operator(operator),
			Property: property,
			Value:    value,
		})
	}
	return condRows.Err()
}

// loadSegmentOverrides attaches the environment's segment-scoped feature
// states to their segments.
func (s *PostgresStore) loadSegmentOverrides(ctx context.Context, environmentID int64, segments []domain.Segment, index map[int64]int, features map[int64]domain.Feature) error {
	query := `
		SELECT fs.id, fs.feature_id, fs.enabled, fs.value_kind, fs.value,
		       fs.version, fs.live_from, fs.created_at,
		       fseg.segment_id, fseg.priority
		FROM feature_states fs
		JOIN feature_segments fseg ON fseg.id = fs.feature_segment_id
		WHERE fs.environment_id = $1
		ORDER BY fs.id
	`
	rows, err := s.db.Query(ctx, query, environmentID)
	if err != nil {
		return fmt.Errorf("failed to list segment overrides: %w", err)
	}
	defer rows.Close()

	var states []domain.FeatureState
	var owners []int64
	for rows.Next() {
		var fs domain.FeatureState
		var featureID, segmentID int64
		var valueKind, value string
		var priority int
		if err := rows.Scan(&fs.ID, &featureID, &fs.Enabled, &valueKind, &value,
			&fs.Version, &fs.LiveFrom, &fs.CreatedAt, &segmentID, &priority); err != nil {
			return fmt.Errorf("failed to scan override row: %w", err)
		}
		if fs.Value, err = domain.ParseValue(valueKind, value); err != nil {
			return fmt.Errorf("feature state %d: %w", fs.ID, err)
		}
		fs.Feature = features[featureID]
		fs.FeatureSegment = &domain.FeatureSegment{SegmentID: segmentID, Priority: priority}
		states = append(states, fs)
		owners = append(owners, segmentID)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("rows iteration error: %w", err)
	}

	states, err = s.attachMultivariateValues(ctx, states, features)
	if err != nil {
		return err
	}
	for i, fs := range states {
		idx, ok := index[owners[i]]
		if !ok {
			continue
		}
		segments[idx].FeatureStates = append(segments[idx].FeatureStates, fs)
	}
	return nil
}

func scanStates(rows pgx.Rows, features map[int64]domain.Feature, identityID *int64) ([]domain.FeatureState, error) {
	var states []domain.FeatureState
	for rows.Next() {
		var fs domain.FeatureState
		var featureID int64
		var valueKind, value string
		if err := rows.Scan(&fs.ID, &featureID, &fs.Enabled, &valueKind, &value,
			&fs.Version, &fs.LiveFrom, &fs.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan feature state row: %w", err)
		}
		v, err := domain.ParseValue(valueKind, value)
		if err != nil {
			return nil, fmt.Errorf("feature state %d: %w", fs.ID, err)
		}
		fs.Value = v
		fs.Feature = features[featureID]
		if identityID != nil {
			id := *identityID
			fs.IdentityID = &id
		}
		states = append(states, fs)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}
	return states, nil
}

// attachMultivariateValues loads per-state allocation overrides for the
// given states and attaches them in place.
func (s *PostgresStore) attachMultivariateValues(ctx context.Context, states []domain.FeatureState, features map[int64]domain.Feature) ([]domain.FeatureState, error) {
	if len(states) == 0 {
		return states, nil
	}
	ids := make([]int64, 0, len(states))
	byID := make(map[int64]int, len(states))
	for i, fs := range states {
		ids = append(ids, fs.ID)
		byID[fs.ID] = i
	}

	query := `
		SELECT feature_state_id, option_id, percentage_allocation
		FROM multivariate_feature_state_values
		WHERE feature_state_id = ANY($1)
		ORDER BY id
	`
	rows, err := s.db.Query(ctx, query, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to list multivariate state values: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var stateID, optionID int64
		var allocation float64
		if err := rows.Scan(&stateID, &optionID, &allocation); err != nil {
			return nil, fmt.Errorf("failed to scan state value row: %w", err)
		}
		idx, ok := byID[stateID]
		if !ok {
			continue
		}
		fs := &states[idx]
		for _, opt := range features[fs.Feature.ID].Options {
			if opt.ID == optionID {
				fs.MultivariateValues = append(fs.MultivariateValues, domain.MultivariateStateValue{
					Option:               opt,
					PercentageAllocation: allocation,
				})
				break
			}
		}
	}
	return states, rows.Err()
}
