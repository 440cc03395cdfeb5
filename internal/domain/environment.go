package domain

import "time"

// Organisation is the billing/tenancy root. Only the evaluation-relevant
// switches are modeled here.
type Organisation struct {
	ID   int64
	Name string

	// PersistTraitData controls whether SDK identify calls store traits.
	// When false, traits are evaluated in-request and discarded.
	PersistTraitData bool
}

// Project owns features and segments and carries the evaluation switches
// consumed by the resolver and the migration controller.
type Project struct {
	ID           int64
	Name         string
	Organisation Organisation

	// HideDisabledFlags drops disabled flag-kind features from SDK results.
	HideDisabledFlags bool

	// EdgeEnabled marks the project as served from the edge store.
	EdgeEnabled bool
}

// Environment is one deployable context (production, staging, ...) of a
// project. An Environment value handed to the resolver is an immutable
// snapshot: defaults, segments and their overrides all refer to the same
// instant and are never mutated by evaluation.
type Environment struct {
	ID     int64
	APIKey string
	Name   string

	Project Project

	// FeatureStates holds the environment-default states (scope none).
	// Multiple versions of the same feature's state may be present; the
	// resolver picks the live one.
	FeatureStates []FeatureState

	// Segments are the project's segments with this environment's
	// segment-scoped overrides attached, in declaration order.
	Segments []Segment

	UpdatedAt time.Time
}

// APIKeyKind distinguishes client-side from server-side environment keys.
type APIKeyKind string

const (
	APIKeyClient APIKeyKind = "CLIENT"
	APIKeyServer APIKeyKind = "SERVER"
)

// EnvironmentAPIKey is an additional access key for an environment,
// projected into the edge store so edge nodes can authenticate SDK traffic.
type EnvironmentAPIKey struct {
	ID            int64
	EnvironmentID int64
	Key           string
	Kind          APIKeyKind
	Name          string
	Active        bool
	ExpiresAt     *time.Time
	CreatedAt     time.Time
}

// IsValid reports whether the key may currently be used.
func (k *EnvironmentAPIKey) IsValid(now time.Time) bool {
	if !k.Active {
		return false
	}
	return k.ExpiresAt == nil || k.ExpiresAt.After(now)
}
