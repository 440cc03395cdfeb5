package resolver

import (
	"bytes"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flagmesh/flagmesh/internal/domain"
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
}

// Fixture helpers. All states are live an hour in the past unless a test
// says otherwise.

func feature(id int64, name string) domain.Feature {
	return domain.Feature{
		ID:   id,
		Name: name,
		Type: domain.FeatureStandard,
		Kind: domain.FeatureKindFlag,
	}
}

func envDefault(f domain.Feature, enabled bool, value domain.Value) domain.FeatureState {
	return domain.FeatureState{
		Feature:  f,
		Enabled:  enabled,
		Value:    value,
		Version:  1,
		LiveFrom: time.Now().Add(-time.Hour),
	}
}

func segmentOverride(f domain.Feature, segmentID int64, priority int, enabled bool, value domain.Value) domain.FeatureState {
	fs := envDefault(f, enabled, value)
	fs.FeatureSegment = &domain.FeatureSegment{SegmentID: segmentID, Priority: priority}
	fs.CreatedAt = time.Now().Add(-time.Hour)
	return fs
}

func identityOverride(f domain.Feature, identityID int64, enabled bool, value domain.Value) domain.FeatureState {
	fs := envDefault(f, enabled, value)
	fs.IdentityID = &identityID
	return fs
}

// matchAllSegment matches every identity (empty ALL root).
func matchAllSegment(id int64) domain.Segment {
	s := domain.Segment{ID: id}
	s.Rules.AddRoot(domain.RuleAll)
	return s
}

// matchNoneSegment matches nobody (empty ANY root).
func matchNoneSegment(id int64) domain.Segment {
	s := domain.Segment{ID: id}
	s.Rules.AddRoot(domain.RuleAny)
	return s
}

func testIdentity(identifier string, traits domain.Traits, overrides ...domain.FeatureState) *domain.Identity {
	return &domain.Identity{
		ID:         99,
		Identifier: identifier,
		Traits:     traits,
		Overrides:  overrides,
	}
}

func flagByName(t *testing.T, res Result, name string) ResolvedFlag {
	t.Helper()
	for _, f := range res.Flags {
		if f.Feature.Name == name {
			return f
		}
	}
	t.Fatalf("feature %q not in result", name)
	return ResolvedFlag{}
}

func TestResolve_EnvironmentDefaults(t *testing.T) {
	t.Parallel()

	r := New(discard())

	fa := feature(1, "alpha")
	fb := feature(2, "beta")
	archived := feature(3, "gone")
	archived.Archived = true

	env := &domain.Environment{
		FeatureStates: []domain.FeatureState{
			envDefault(fa, true, domain.StringValue("a")),
			envDefault(fb, false, domain.NilValue()),
			envDefault(archived, true, domain.NilValue()),
		},
	}

	res := r.Resolve(env, nil, nil, "")

	require.Len(t, res.Flags, 2, "archived features never resolve")
	assert.Equal(t, "alpha", res.Flags[0].Feature.Name, "flags come back in name order")
	assert.Equal(t, "beta", res.Flags[1].Feature.Name)
	assert.True(t, res.Flags[0].Enabled)
	assert.Empty(t, res.IdentityOverridden)
}

func TestResolve_EmptyEnvironment(t *testing.T) {
	t.Parallel()

	r := New(discard())
	res := r.Resolve(&domain.Environment{}, nil, nil, "")
	assert.Empty(t, res.Flags)
}

func TestResolve_FeatureFilter(t *testing.T) {
	t.Parallel()

	r := New(discard())
	env := &domain.Environment{
		FeatureStates: []domain.FeatureState{
			envDefault(feature(1, "alpha"), true, domain.NilValue()),
			envDefault(feature(2, "beta"), true, domain.NilValue()),
		},
	}

	res := r.Resolve(env, nil, nil, "beta")
	require.Len(t, res.Flags, 1)
	assert.Equal(t, "beta", res.Flags[0].Feature.Name)

	res = r.Resolve(env, nil, nil, "no-such-feature")
	assert.Empty(t, res.Flags, "unknown filter is an empty result, not an error")
}

func TestResolve_LivenessOrdering(t *testing.T) {
	t.Parallel()

	r := New(discard())
	f := feature(1, "alpha")

	v1 := envDefault(f, false, domain.StringValue("old"))
	v1.Version = 1

	v2 := envDefault(f, true, domain.StringValue("new"))
	v2.Version = 2

	scheduled := envDefault(f, false, domain.StringValue("future"))
	scheduled.Version = 3
	scheduled.LiveFrom = time.Now().Add(time.Hour)

	env := &domain.Environment{FeatureStates: []domain.FeatureState{v1, v2, scheduled}}

	res := r.Resolve(env, nil, nil, "")
	require.Len(t, res.Flags, 1)
	assert.Equal(t, "new", res.Flags[0].Value.String(),
		"highest live version wins; scheduled states wait their turn")
}

func TestResolve_SegmentOverridePriority(t *testing.T) {
	t.Parallel()

	r := New(discard())
	f := feature(1, "checkout")

	segLow := matchAllSegment(10)
	segLow.FeatureStates = []domain.FeatureState{
		segmentOverride(f, 10, 1, true, domain.StringValue("priority-one")),
	}
	segHigh := matchAllSegment(20)
	segHigh.FeatureStates = []domain.FeatureState{
		segmentOverride(f, 20, 2, true, domain.StringValue("priority-two")),
	}

	env := &domain.Environment{
		FeatureStates: []domain.FeatureState{envDefault(f, false, domain.StringValue("default"))},
		// Declared high-priority-last on purpose; order must not matter.
		Segments: []domain.Segment{segHigh, segLow},
	}

	res := r.Resolve(env, testIdentity("user-1", nil), nil, "")

	flag := flagByName(t, res, "checkout")
	assert.Equal(t, "priority-one", flag.Value.String(),
		"numerically lowest priority value wins")
	require.NotNil(t, flag.SegmentID)
	assert.Equal(t, int64(10), *flag.SegmentID)
}

func TestResolve_SegmentOverrideEqualPriorityTieBreak(t *testing.T) {
	t.Parallel()

	// Equal priorities are not expected upstream; if they occur the most
	// recently created override wins.
	r := New(discard())
	f := feature(1, "checkout")

	older := segmentOverride(f, 10, 1, true, domain.StringValue("older"))
	older.CreatedAt = time.Now().Add(-2 * time.Hour)
	newer := segmentOverride(f, 20, 1, true, domain.StringValue("newer"))
	newer.CreatedAt = time.Now().Add(-time.Minute)

	segA := matchAllSegment(10)
	segA.FeatureStates = []domain.FeatureState{older}
	segB := matchAllSegment(20)
	segB.FeatureStates = []domain.FeatureState{newer}

	env := &domain.Environment{
		FeatureStates: []domain.FeatureState{envDefault(f, false, domain.NilValue())},
		Segments:      []domain.Segment{segA, segB},
	}

	res := r.Resolve(env, testIdentity("user-1", nil), nil, "")
	assert.Equal(t, "newer", flagByName(t, res, "checkout").Value.String())
}

func TestResolve_NonMatchingSegmentIgnored(t *testing.T) {
	t.Parallel()

	r := New(discard())
	f := feature(1, "checkout")

	seg := matchNoneSegment(10)
	seg.FeatureStates = []domain.FeatureState{
		segmentOverride(f, 10, 1, true, domain.StringValue("never")),
	}

	env := &domain.Environment{
		FeatureStates: []domain.FeatureState{envDefault(f, false, domain.StringValue("default"))},
		Segments:      []domain.Segment{seg},
	}

	res := r.Resolve(env, testIdentity("user-1", nil), nil, "")
	flag := flagByName(t, res, "checkout")
	assert.Equal(t, "default", flag.Value.String())
	assert.Nil(t, flag.SegmentID)
}

func TestResolve_FeatureSpecificSegmentScoping(t *testing.T) {
	t.Parallel()

	r := New(discard())
	fa := feature(1, "alpha")
	fb := feature(2, "beta")

	// Segment scoped to feature alpha carrying overrides for both features;
	// only the alpha override may apply.
	ownFeature := fa.ID
	seg := matchAllSegment(10)
	seg.FeatureID = &ownFeature
	seg.FeatureStates = []domain.FeatureState{
		segmentOverride(fa, 10, 1, true, domain.StringValue("scoped-win")),
		segmentOverride(fb, 10, 1, true, domain.StringValue("leak")),
	}

	env := &domain.Environment{
		FeatureStates: []domain.FeatureState{
			envDefault(fa, false, domain.StringValue("a-default")),
			envDefault(fb, false, domain.StringValue("b-default")),
		},
		Segments: []domain.Segment{seg},
	}

	res := r.Resolve(env, testIdentity("user-1", nil), nil, "")
	assert.Equal(t, "scoped-win", flagByName(t, res, "alpha").Value.String())
	assert.Equal(t, "b-default", flagByName(t, res, "beta").Value.String(),
		"a feature-specific segment must not override other features")
}

func TestResolve_IdentityOverridePrecedence(t *testing.T) {
	t.Parallel()

	r := New(discard())
	f := feature(1, "checkout")

	seg := matchAllSegment(10)
	seg.FeatureStates = []domain.FeatureState{
		segmentOverride(f, 10, 1, true, domain.StringValue("segment")),
	}

	env := &domain.Environment{
		FeatureStates: []domain.FeatureState{envDefault(f, false, domain.StringValue("default"))},
		Segments:      []domain.Segment{seg},
	}

	identity := testIdentity("user-1", nil,
		identityOverride(f, 99, true, domain.StringValue("personal")),
	)

	res := r.Resolve(env, identity, nil, "")

	flag := flagByName(t, res, "checkout")
	assert.Equal(t, "personal", flag.Value.String(),
		"identity override beats segment and environment default")
	assert.True(t, flag.IdentityOverride)
	assert.Contains(t, res.IdentityOverridden, "checkout")
}

func TestResolve_AnonymousSkipsOverrides(t *testing.T) {
	t.Parallel()

	r := New(discard())
	f := feature(1, "checkout")

	seg := matchAllSegment(10)
	seg.FeatureStates = []domain.FeatureState{
		segmentOverride(f, 10, 1, true, domain.StringValue("segment")),
	}

	env := &domain.Environment{
		FeatureStates: []domain.FeatureState{envDefault(f, false, domain.StringValue("default"))},
		Segments:      []domain.Segment{seg},
	}

	res := r.Resolve(env, nil, nil, "")
	assert.Equal(t, "default", flagByName(t, res, "checkout").Value.String(),
		"without an identity there is no cohort to match")
}

func TestResolve_HideDisabledFlags(t *testing.T) {
	t.Parallel()

	r := New(discard())

	disabledFlag := feature(1, "hidden-flag")
	enabledFlag := feature(2, "visible-flag")
	disabledConfig := feature(3, "config-entry")
	disabledConfig.Kind = domain.FeatureKindConfig

	env := &domain.Environment{
		Project: domain.Project{HideDisabledFlags: true},
		FeatureStates: []domain.FeatureState{
			envDefault(disabledFlag, false, domain.NilValue()),
			envDefault(enabledFlag, true, domain.NilValue()),
			envDefault(disabledConfig, false, domain.StringValue("cfg")),
		},
	}

	res := r.Resolve(env, nil, nil, "")

	names := make([]string, 0, len(res.Flags))
	for _, f := range res.Flags {
		names = append(names, f.Feature.Name)
	}
	assert.Equal(t, []string{"config-entry", "visible-flag"}, names,
		"disabled standard flags hide; config entries never do")
}

func TestResolve_HideDisabledFlags_OverridePromotes(t *testing.T) {
	t.Parallel()

	r := New(discard())
	f := feature(1, "promoted")

	seg := matchAllSegment(10)
	seg.FeatureStates = []domain.FeatureState{
		segmentOverride(f, 10, 1, true, domain.NilValue()),
	}

	env := &domain.Environment{
		Project:       domain.Project{HideDisabledFlags: true},
		FeatureStates: []domain.FeatureState{envDefault(f, false, domain.NilValue())},
		Segments:      []domain.Segment{seg},
	}

	res := r.Resolve(env, testIdentity("user-1", nil), nil, "")
	require.Len(t, res.Flags, 1, "an override promoting the flag to enabled keeps it visible")
	assert.True(t, res.Flags[0].Enabled)
}

func TestResolve_ExtraTraitsWinOverStored(t *testing.T) {
	t.Parallel()

	r := New(discard())
	f := feature(1, "checkout")

	seg := matchAllSegment(10)
	seg.Rules = domain.RuleSet{}
	seg.Rules.AddRoot(domain.RuleAll,
		domain.Condition{Operator: domain.OpEqual, Property: "plan", Value: "pro"},
	)
	seg.FeatureStates = []domain.FeatureState{
		segmentOverride(f, 10, 1, true, domain.StringValue("segment")),
	}

	env := &domain.Environment{
		FeatureStates: []domain.FeatureState{envDefault(f, false, domain.StringValue("default"))},
		Segments:      []domain.Segment{seg},
	}

	stored := domain.Traits{{Key: "plan", Value: domain.StringValue("free")}}
	request := domain.Traits{{Key: "plan", Value: domain.StringValue("pro")}}

	res := r.Resolve(env, testIdentity("user-1", stored), request, "")
	assert.Equal(t, "segment", flagByName(t, res, "checkout").Value.String(),
		"request-time traits shadow stored ones")
}

func TestResolve_Multivariate_FullAllocation(t *testing.T) {
	t.Parallel()

	r := New(discard())

	f := feature(1, "experiment")
	f.Type = domain.FeatureMultivariate
	f.Options = []domain.MultivariateFeatureOption{
		{ID: 1, FeatureID: 1, Value: domain.StringValue("variant-a"), DefaultPercentageAllocation: 100},
	}

	env := &domain.Environment{
		FeatureStates: []domain.FeatureState{envDefault(f, true, domain.StringValue("control"))},
	}

	// Any identity: a single option owning the whole band always wins.
	for _, id := range []string{"user-1", "user-2", "someone-else", "x"} {
		res := r.Resolve(env, testIdentity(id, nil), nil, "")
		assert.Equal(t, "variant-a", flagByName(t, res, "experiment").Value.String())
	}
}

func TestResolve_Multivariate_ZeroAllocationKeepsControl(t *testing.T) {
	t.Parallel()

	r := New(discard())

	f := feature(1, "experiment")
	f.Type = domain.FeatureMultivariate
	f.Options = []domain.MultivariateFeatureOption{
		{ID: 1, FeatureID: 1, Value: domain.StringValue("variant-a"), DefaultPercentageAllocation: 0},
	}

	env := &domain.Environment{
		FeatureStates: []domain.FeatureState{envDefault(f, true, domain.StringValue("control"))},
	}

	res := r.Resolve(env, testIdentity("user-1", nil), nil, "")
	assert.Equal(t, "control", flagByName(t, res, "experiment").Value.String(),
		"position past every band leaves the control value standing")
}

func TestResolve_Multivariate_PerStateValuesDiverge(t *testing.T) {
	t.Parallel()

	r := New(discard())

	f := feature(1, "experiment")
	f.Type = domain.FeatureMultivariate
	f.Options = []domain.MultivariateFeatureOption{
		{ID: 1, FeatureID: 1, Value: domain.StringValue("variant-a"), DefaultPercentageAllocation: 0},
	}

	fs := envDefault(f, true, domain.StringValue("control"))
	// The state pins 100% to variant-a even though the option default is 0.
	fs.MultivariateValues = []domain.MultivariateStateValue{
		{Option: f.Options[0], PercentageAllocation: 100},
	}

	env := &domain.Environment{FeatureStates: []domain.FeatureState{fs}}

	res := r.Resolve(env, testIdentity("user-1", nil), nil, "")
	assert.Equal(t, "variant-a", flagByName(t, res, "experiment").Value.String(),
		"per-state allocations shadow the option defaults")
}

func TestResolve_Multivariate_DeterministicPerIdentity(t *testing.T) {
	t.Parallel()

	r := New(discard())

	f := feature(1, "experiment")
	f.Type = domain.FeatureMultivariate
	f.Options = []domain.MultivariateFeatureOption{
		{ID: 1, FeatureID: 1, Value: domain.StringValue("variant-a"), DefaultPercentageAllocation: 50},
		{ID: 2, FeatureID: 1, Value: domain.StringValue("variant-b"), DefaultPercentageAllocation: 50},
	}

	env := &domain.Environment{
		FeatureStates: []domain.FeatureState{envDefault(f, true, domain.StringValue("control"))},
	}

	first := flagByName(t, r.Resolve(env, testIdentity("sticky", nil), nil, ""), "experiment").Value
	for i := 0; i < 100; i++ {
		got := flagByName(t, r.Resolve(env, testIdentity("sticky", nil), nil, ""), "experiment").Value
		require.Equal(t, first, got, "the same identity must always land in the same band")
	}
}

func TestResolve_AtMostOneStatePerFeature(t *testing.T) {
	t.Parallel()

	r := New(discard())
	f := feature(1, "checkout")

	seg := matchAllSegment(10)
	seg.FeatureStates = []domain.FeatureState{
		segmentOverride(f, 10, 1, true, domain.StringValue("segment")),
	}

	env := &domain.Environment{
		FeatureStates: []domain.FeatureState{envDefault(f, false, domain.StringValue("default"))},
		Segments:      []domain.Segment{seg},
	}

	identity := testIdentity("user-1", nil,
		identityOverride(f, 99, true, domain.StringValue("personal")),
	)

	res := r.Resolve(env, identity, nil, "")
	assert.Len(t, res.Flags, 1, "exactly one authoritative state per feature")
}
