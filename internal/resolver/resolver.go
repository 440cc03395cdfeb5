// Package resolver merges environment defaults, segment overrides and
// identity overrides into exactly one authoritative feature state per
// feature. It is a pure projection over an immutable environment snapshot
// plus per-request identity data: no I/O, no locks, no mutation, safe to
// run on any number of goroutines.
package resolver

import (
	"log/slog"
	"sort"
	"strconv"
	"time"

	"github.com/flagmesh/flagmesh/internal/domain"
	"github.com/flagmesh/flagmesh/internal/observability"
	"github.com/flagmesh/flagmesh/internal/rules"
)

// ResolvedFlag is the authoritative state of one feature for one request.
type ResolvedFlag struct {
	Feature domain.Feature
	Enabled bool
	Value   domain.Value

	// SegmentID names the segment whose override won, when one did.
	SegmentID *int64

	// IdentityOverride is true when an identity-scoped state won.
	IdentityOverride bool
}

// Result is the outcome of a resolution: the flags in feature-name order and
// the names of features that were overridden at identity level. Callers use
// the overridden set to distinguish personal overrides from cohort ones.
type Result struct {
	Flags              []ResolvedFlag
	IdentityOverridden map[string]struct{}
}

// Resolver computes flag resolutions. Construct once and share freely.
type Resolver struct {
	matcher *rules.Matcher
	logger  *slog.Logger

	// now is injectable so liveness windows are testable.
	now func() time.Time
}

// New creates a Resolver. A nil logger falls back to slog.Default().
func New(logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		matcher: rules.NewMatcher(logger),
		logger:  logger,
		now:     time.Now,
	}
}

// Matcher exposes the underlying segment matcher for callers that only need
// membership answers (matches_segment / matching_segment_ids).
func (r *Resolver) Matcher() *rules.Matcher { return r.matcher }

// candidate is a feature's winning state while resolution is in flight.
type candidate struct {
	state            *domain.FeatureState
	segmentID        *int64
	identityOverride bool
}

// Resolve produces one authoritative state per non-archived feature of the
// environment.
//
// identity may be nil (anonymous environment-level resolution: no segment or
// identity overrides apply and multivariate features keep their control
// value). extraTraits are request-time traits layered over the identity's
// stored traits. featureFilter narrows the result to one feature by name; an
// unknown name yields an empty result, not an error.
func (r *Resolver) Resolve(env *domain.Environment, identity *domain.Identity, extraTraits domain.Traits, featureFilter string) Result {
	now := r.now()
	defer func(start time.Time) {
		observability.ResolverDuration.Observe(time.Since(start).Seconds())
	}(time.Now())

	scope := "environment"
	if identity != nil {
		scope = "identity"
	}
	observability.ResolverEvaluations.WithLabelValues(scope).Inc()

	// 1. Environment defaults: the single live state per feature.
	states := make(map[string]candidate)
	for i := range env.FeatureStates {
		fs := &env.FeatureStates[i]
		if fs.Scope() != domain.ScopeEnvironment || fs.Feature.Archived {
			continue
		}
		if fs.Supersedes(states[fs.Feature.Name].state, now) {
			states[fs.Feature.Name] = candidate{state: fs}
		}
	}

	overridden := make(map[string]struct{})
	identityID := ""

	if identity != nil {
		identityID = identity.Identifier
		traits := mergeTraits(identity.Traits, extraTraits)

		// 2-3. Winning segment override per feature.
		for name, win := range r.segmentOverrides(env, traits, identityID, now) {
			segID := win.segmentID
			states[name] = candidate{state: win.state, segmentID: &segID}
		}

		// 4. Identity overrides beat everything else.
		for name, fs := range liveIdentityOverrides(identity, now) {
			states[name] = candidate{state: fs, identityOverride: true}
			overridden[name] = struct{}{}
		}
	}

	// Narrow to the requested feature, if any.
	if featureFilter != "" {
		if c, ok := states[featureFilter]; ok {
			states = map[string]candidate{featureFilter: c}
		} else {
			states = nil
		}
	}

	// 5. hide_disabled_flags drops disabled standard flag-kind features.
	// Remote-config entries are always returned.
	hideDisabled := env.Project.HideDisabledFlags

	flags := make([]ResolvedFlag, 0, len(states))
	for _, c := range states {
		feature := c.state.Feature
		if hideDisabled && !c.state.Enabled &&
			feature.Kind == domain.FeatureKindFlag &&
			feature.Type == domain.FeatureStandard {
			continue
		}

		value := c.state.Value

		// 6. Multivariate selection for weighted features.
		if feature.Type == domain.FeatureMultivariate && identity != nil {
			value = multivariateValue(c.state, identityID)
		}

		flags = append(flags, ResolvedFlag{
			Feature:          feature,
			Enabled:          c.state.Enabled,
			Value:            value,
			SegmentID:        c.segmentID,
			IdentityOverride: c.identityOverride,
		})
	}

	sort.Slice(flags, func(i, j int) bool { return flags[i].Feature.Name < flags[j].Feature.Name })

	return Result{Flags: flags, IdentityOverridden: overridden}
}

// segmentWin pairs a winning override with the segment that produced it.
type segmentWin struct {
	state     *domain.FeatureState
	segmentID int64
	priority  int
}

// segmentOverrides evaluates only segments that actually carry overrides in
// this environment and selects, per feature, the override with the
// numerically lowest priority value (lower = higher precedence). Priorities
// are unique per feature and environment upstream; should duplicates ever
// appear, the most recently created override wins.
func (r *Resolver) segmentOverrides(env *domain.Environment, traits domain.Traits, identityID string, now time.Time) map[string]segmentWin {
	wins := make(map[string]segmentWin)

	for i := range env.Segments {
		seg := &env.Segments[i]
		if len(seg.FeatureStates) == 0 {
			continue
		}
		matchStart := time.Now()
		matched := r.matcher.Matches(seg, traits, identityID)
		observability.SegmentMatchDuration.Observe(time.Since(matchStart).Seconds())
		if !matched {
			continue
		}

		for j := range seg.FeatureStates {
			fs := &seg.FeatureStates[j]
			if fs.FeatureSegment == nil || !fs.IsLive(now) || fs.Feature.Archived {
				continue
			}
			// A feature-specific segment only ever overrides its own feature.
			if !seg.AppliesToFeature(fs.Feature.ID) {
				continue
			}

			name := fs.Feature.Name
			current, exists := wins[name]
			if !exists ||
				fs.FeatureSegment.Priority < current.priority ||
				(fs.FeatureSegment.Priority == current.priority && fs.CreatedAt.After(current.state.CreatedAt)) {
				wins[name] = segmentWin{state: fs, segmentID: seg.ID, priority: fs.FeatureSegment.Priority}
			}
		}
	}

	return wins
}

func liveIdentityOverrides(identity *domain.Identity, now time.Time) map[string]*domain.FeatureState {
	out := make(map[string]*domain.FeatureState, len(identity.Overrides))
	for i := range identity.Overrides {
		fs := &identity.Overrides[i]
		if fs.Feature.Archived {
			continue
		}
		if fs.Supersedes(out[fs.Feature.Name], now) {
			out[fs.Feature.Name] = fs
		}
	}
	return out
}

// mergeTraits layers request-time traits over stored ones; request values
// win on key collision.
func mergeTraits(stored, extra domain.Traits) domain.Traits {
	if len(extra) == 0 {
		return stored
	}
	merged := make(domain.Traits, len(stored), len(stored)+len(extra))
	copy(merged, stored)
	for _, t := range extra {
		merged = merged.Upsert(t.Key, t.Value)
	}
	return merged
}

// featureContextIDs is the hash-ring convention for multivariate selection.
func featureContextIDs(featureID int64, identityID string) []string {
	return []string{strconv.FormatInt(featureID, 10), identityID}
}
