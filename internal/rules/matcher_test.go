package rules

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flagmesh/flagmesh/internal/domain"
)

// segmentWithRoot builds a one-root segment for the common test shapes.
func segmentWithRoot(id int64, typ domain.RuleType, conds ...domain.Condition) domain.Segment {
	s := domain.Segment{ID: id, Name: "test-segment"}
	s.Rules.AddRoot(typ, conds...)
	return s
}

func TestMatcher_Matches_RuleComposition(t *testing.T) {
	t.Parallel()

	proTraits := domain.Traits{
		{Key: "plan", Value: domain.StringValue("pro")},
		{Key: "age", Value: domain.IntValue(30)},
	}

	planIsPro := domain.Condition{Operator: domain.OpEqual, Property: "plan", Value: "pro"}
	planIsFree := domain.Condition{Operator: domain.OpEqual, Property: "plan", Value: "free"}
	adult := domain.Condition{Operator: domain.OpGreaterThanInclusive, Property: "age", Value: "18"}

	tests := []struct {
		name    string
		segment domain.Segment
		traits  domain.Traits
		want    bool
	}{
		{
			name:    "Should match ALL when every condition holds",
			segment: segmentWithRoot(1, domain.RuleAll, planIsPro, adult),
			traits:  proTraits,
			want:    true,
		},
		{
			name:    "Should not match ALL when one condition fails",
			segment: segmentWithRoot(1, domain.RuleAll, planIsPro, planIsFree),
			traits:  proTraits,
			want:    false,
		},
		{
			name:    "Should match empty ALL vacuously",
			segment: segmentWithRoot(1, domain.RuleAll),
			traits:  proTraits,
			want:    true,
		},
		{
			name:    "Should match ANY when one condition holds",
			segment: segmentWithRoot(1, domain.RuleAny, planIsFree, planIsPro),
			traits:  proTraits,
			want:    true,
		},
		{
			name:    "Should not match empty ANY",
			segment: segmentWithRoot(1, domain.RuleAny),
			traits:  proTraits,
			want:    false,
		},
		{
			name:    "Should match NONE when nothing holds",
			segment: segmentWithRoot(1, domain.RuleNone, planIsFree),
			traits:  proTraits,
			want:    true,
		},
		{
			name:    "Should not match NONE when a condition holds",
			segment: segmentWithRoot(1, domain.RuleNone, planIsPro),
			traits:  proTraits,
			want:    false,
		},
		{
			name:    "Should match empty NONE vacuously",
			segment: segmentWithRoot(1, domain.RuleNone),
			traits:  proTraits,
			want:    true,
		},
		{
			name:    "Should not match a segment without rules",
			segment: domain.Segment{ID: 1},
			traits:  proTraits,
			want:    false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			m := NewMatcher(discard())
			got := m.Matches(&tt.segment, tt.traits, "user-1")
			assert.Equal(t, tt.want, got)
		})
	}
}

// Concrete scenario from the product contract: root ALL with
// plan EQUAL "pro" matches plan=pro and rejects plan=free.
func TestMatcher_Matches_PlanProScenario(t *testing.T) {
	t.Parallel()

	m := NewMatcher(discard())
	segment := segmentWithRoot(7, domain.RuleAll,
		domain.Condition{Operator: domain.OpEqual, Property: "plan", Value: "pro"},
	)

	pro := domain.Traits{{Key: "plan", Value: domain.StringValue("pro")}}
	free := domain.Traits{{Key: "plan", Value: domain.StringValue("free")}}

	assert.True(t, m.Matches(&segment, pro, "user-1"))
	assert.False(t, m.Matches(&segment, free, "user-1"))
}

func TestMatcher_Matches_NestedRules(t *testing.T) {
	t.Parallel()

	// ALL( ANY(plan=free, plan=pro), NONE(country=XX) )
	var s domain.Segment
	s.ID = 3
	root := s.Rules.AddRoot(domain.RuleAll)
	s.Rules.AddChild(root, domain.RuleAny,
		domain.Condition{Operator: domain.OpEqual, Property: "plan", Value: "free"},
		domain.Condition{Operator: domain.OpEqual, Property: "plan", Value: "pro"},
	)
	s.Rules.AddChild(root, domain.RuleNone,
		domain.Condition{Operator: domain.OpEqual, Property: "country", Value: "XX"},
	)

	m := NewMatcher(discard())

	match := domain.Traits{
		{Key: "plan", Value: domain.StringValue("pro")},
		{Key: "country", Value: domain.StringValue("BR")},
	}
	blocked := domain.Traits{
		{Key: "plan", Value: domain.StringValue("pro")},
		{Key: "country", Value: domain.StringValue("XX")},
	}

	assert.True(t, m.Matches(&s, match, "user-1"))
	assert.False(t, m.Matches(&s, blocked, "user-1"))
}

func TestMatcher_Matches_Deterministic(t *testing.T) {
	t.Parallel()

	m := NewMatcher(discard())
	segment := segmentWithRoot(42, domain.RuleAll,
		domain.Condition{Operator: domain.OpPercentageSplit, Value: "50"},
	)
	traits := domain.Traits{}

	first := m.Matches(&segment, traits, "sticky-user")
	for i := 0; i < 1000; i++ {
		require.Equal(t, first, m.Matches(&segment, traits, "sticky-user"),
			"membership must be stable across calls")
	}
}

func TestMatcher_PercentageSplit_SaltedPerSegment(t *testing.T) {
	t.Parallel()

	m := NewMatcher(discard())
	split := domain.Condition{Operator: domain.OpPercentageSplit, Value: "50"}

	// With enough identities, two segments with the same split must
	// disagree for at least one identity; a shared bucket would mean the
	// segment id is not salted in.
	a := segmentWithRoot(1, domain.RuleAll, split)
	b := segmentWithRoot(2, domain.RuleAll, split)

	disagreements := 0
	for i := 0; i < 500; i++ {
		id := fmt.Sprintf("user-%d", i)
		if m.Matches(&a, nil, id) != m.Matches(&b, nil, id) {
			disagreements++
		}
	}
	assert.Positive(t, disagreements)
}

func TestMatcher_MatchingSegmentIDs_DeclarationOrder(t *testing.T) {
	t.Parallel()

	m := NewMatcher(discard())

	pro := domain.Condition{Operator: domain.OpEqual, Property: "plan", Value: "pro"}
	free := domain.Condition{Operator: domain.OpEqual, Property: "plan", Value: "free"}

	segments := []domain.Segment{
		segmentWithRoot(30, domain.RuleAll, pro),
		segmentWithRoot(10, domain.RuleAll, free),
		segmentWithRoot(20, domain.RuleAll, pro),
	}

	traits := domain.Traits{{Key: "plan", Value: domain.StringValue("pro")}}

	got := m.MatchingSegmentIDs(segments, traits, "user-1")
	assert.Equal(t, []int64{30, 20}, got, "ids come back in declaration order, not sorted")
}
