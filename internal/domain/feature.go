package domain

import (
	"fmt"
	"time"
)

// FeatureType distinguishes plain flags from weighted multivariate features.
type FeatureType string

const (
	FeatureStandard     FeatureType = "STANDARD"
	FeatureMultivariate FeatureType = "MULTIVARIATE"
)

// FeatureKind is the legacy presentation category of a feature. Only
// flag-kind features participate in hide_disabled_flags filtering; features
// carrying remote-config payloads are always returned.
type FeatureKind string

const (
	FeatureKindFlag   FeatureKind = "FLAG"
	FeatureKindConfig FeatureKind = "CONFIG"
)

// Feature is a named switch or remote-config entry owned by a project.
// Identity is (ProjectID, Name); Name is unique per project and immutable.
type Feature struct {
	ID        int64
	ProjectID int64
	Name      string

	Type FeatureType
	Kind FeatureKind

	DefaultEnabled bool
	InitialValue   Value
	ServerKeyOnly  bool
	Archived       bool

	// Options holds the multivariate options in declaration order.
	// Empty for STANDARD features.
	Options []MultivariateFeatureOption
}

// MultivariateFeatureOption is one weighted value of a multivariate feature.
type MultivariateFeatureOption struct {
	ID        int64
	FeatureID int64

	Value Value

	// DefaultPercentageAllocation is the share of the [0,100) band this
	// option claims when a feature state carries no explicit allocation.
	DefaultPercentageAllocation float64
}

// ValidateOptions enforces the allocation invariant: the default allocations
// of all options for one feature must not exceed 100.
func ValidateOptions(opts []MultivariateFeatureOption) error {
	var total float64
	for _, o := range opts {
		if o.DefaultPercentageAllocation < 0 {
			return fmt.Errorf("option %d has negative allocation %v", o.ID, o.DefaultPercentageAllocation)
		}
		total += o.DefaultPercentageAllocation
	}
	if total > 100 {
		return fmt.Errorf("total default allocation %v exceeds 100", total)
	}
	return nil
}

// FeatureSegment links a segment-scoped feature state to its segment and
// carries the precedence of that override. Lower priority values win.
type FeatureSegment struct {
	SegmentID int64
	Priority  int
}

// MultivariateStateValue pins a per-state allocation for one option,
// possibly diverging from the option's default.
type MultivariateStateValue struct {
	Option               MultivariateFeatureOption
	PercentageAllocation float64
}

// FeatureState is the stored state of one feature in one environment,
// optionally scoped to a segment (via FeatureSegment) or an identity.
// At most one of FeatureSegment/IdentityID is set; both nil means the state
// is the environment default.
type FeatureState struct {
	ID      int64
	Feature Feature

	FeatureSegment *FeatureSegment
	IdentityID     *int64

	Enabled bool
	Value   Value

	// Version and LiveFrom order multiple states of the same scope over
	// time: the live state is the highest version whose LiveFrom is not in
	// the future.
	Version  int64
	LiveFrom time.Time

	CreatedAt time.Time

	// MultivariateValues overrides the option default allocations for this
	// state when non-empty.
	MultivariateValues []MultivariateStateValue
}

// ScopeKind identifies which scope a feature state belongs to.
type ScopeKind uint8

const (
	ScopeEnvironment ScopeKind = iota
	ScopeSegment
	ScopeIdentity
)

// Scope derives the scope of the state from its back-references.
func (fs *FeatureState) Scope() ScopeKind {
	switch {
	case fs.IdentityID != nil:
		return ScopeIdentity
	case fs.FeatureSegment != nil:
		return ScopeSegment
	default:
		return ScopeEnvironment
	}
}

// IsLive reports whether the state is eligible at the given instant.
func (fs *FeatureState) IsLive(now time.Time) bool {
	return !fs.LiveFrom.After(now)
}

// Supersedes reports whether fs should replace other as the single live
// state for a shared (feature, environment, scope). Higher version wins
// among live states; a live state always beats a not-yet-live one.
func (fs *FeatureState) Supersedes(other *FeatureState, now time.Time) bool {
	if other == nil {
		return fs.IsLive(now)
	}
	if !fs.IsLive(now) {
		return false
	}
	if !other.IsLive(now) {
		return true
	}
	return fs.Version > other.Version
}
