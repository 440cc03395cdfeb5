package rules

import (
	"log/slog"
	"strconv"

	"github.com/flagmesh/flagmesh/internal/domain"
)

// Matcher decides which segments an identity belongs to. It holds no
// per-request state: Matches and MatchingSegmentIDs are pure over their
// inputs and safe for unbounded concurrent use.
type Matcher struct {
	logger *slog.Logger
}

// NewMatcher creates a Matcher. A nil logger falls back to slog.Default().
func NewMatcher(logger *slog.Logger) *Matcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Matcher{logger: logger}
}

// Matches reports whether the identity (trait set + identifier) belongs to
// the segment. Every root rule of the segment must evaluate true; a segment
// without rules matches nobody. Identical inputs always produce the same
// answer, which SDK-side evaluation parity depends on.
//
// Feature-specific segments are matched like any other; filtering them per
// feature is the resolver's concern.
func (m *Matcher) Matches(segment *domain.Segment, traits domain.Traits, identityID string) bool {
	roots := segment.Rules.Roots()
	if len(roots) == 0 {
		return false
	}

	// Percentage splits are salted with the segment id so an identity in
	// the lucky N% of one segment is independent of every other segment.
	contextIDs := []string{strconv.FormatInt(segment.ID, 10), identityID}

	for _, root := range roots {
		if !m.evaluateRule(&segment.Rules, root, traits, contextIDs) {
			return false
		}
	}
	return true
}

// MatchingSegmentIDs evaluates all segments and returns the ids of those the
// identity belongs to, in declaration order.
func (m *Matcher) MatchingSegmentIDs(segments []domain.Segment, traits domain.Traits, identityID string) []int64 {
	matched := make([]int64, 0, len(segments))
	for i := range segments {
		if m.Matches(&segments[i], traits, identityID) {
			matched = append(matched, segments[i].ID)
		}
	}
	return matched
}

// evaluateRule applies the node's composition semantics recursively,
// short-circuiting as soon as the outcome is decided:
//
//	ALL:  every child and condition true; vacuously true when empty.
//	ANY:  at least one child or condition true; false when empty.
//	NONE: no child or condition true; vacuously true when empty.
func (m *Matcher) evaluateRule(rs *domain.RuleSet, idx int, traits domain.Traits, contextIDs []string) bool {
	typ, children, conds, ok := rs.Rule(idx)
	if !ok {
		// Dangling handle; treat as a non-match rather than failing the request.
		m.logger.Warn("segment rule references unknown node", slog.Int("rule", idx))
		return false
	}

	switch typ {
	case domain.RuleAll:
		for _, c := range children {
			if !m.evaluateRule(rs, c, traits, contextIDs) {
				return false
			}
		}
		for _, cond := range conds {
			if !evaluateCondition(cond, traits, contextIDs, m.logger) {
				return false
			}
		}
		return true

	case domain.RuleAny:
		for _, c := range children {
			if m.evaluateRule(rs, c, traits, contextIDs) {
				return true
			}
		}
		for _, cond := range conds {
			if evaluateCondition(cond, traits, contextIDs, m.logger) {
				return true
			}
		}
		return false

	case domain.RuleNone:
		for _, c := range children {
			if m.evaluateRule(rs, c, traits, contextIDs) {
				return false
			}
		}
		for _, cond := range conds {
			if evaluateCondition(cond, traits, contextIDs, m.logger) {
				return false
			}
		}
		return true

	default:
		m.logger.Warn("skipping rule with unknown type", slog.String("type", string(typ)))
		return false
	}
}
