// Package rules implements segment rule evaluation: leaf condition checks
// against an identity's traits and the recursive ALL/ANY/NONE composition
// that decides segment membership.
//
// Evaluation is fail-open: a malformed condition never surfaces an error to
// the caller, it evaluates to false and emits a diagnostic. One bad rule
// must not take down flag evaluation for a whole environment.
package rules

import (
	"log/slog"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/flagmesh/flagmesh/internal/domain"
	"github.com/flagmesh/flagmesh/internal/hashring"
)

// evaluateCondition checks one leaf condition against the trait set.
//
// contextIDs feed the hash ring for PERCENTAGE_SPLIT and follow the
// [segmentID, identityID] convention; every other operator reads the trait
// named by the condition's property. A missing trait is a mismatch, never
// an error.
func evaluateCondition(cond domain.Condition, traits domain.Traits, contextIDs []string, log *slog.Logger) bool {
	if cond.Operator == domain.OpPercentageSplit {
		return evaluatePercentageSplit(cond, contextIDs, log)
	}

	traitValue, ok := traits.Get(cond.Property)
	if !ok {
		return false
	}

	switch cond.Operator {
	case domain.OpEqual:
		return compareEqual(traitValue, cond.Value)
	case domain.OpNotEqual:
		return !compareEqual(traitValue, cond.Value)
	case domain.OpGreaterThan:
		return compareOrder(traitValue, cond.Value) > 0
	case domain.OpGreaterThanInclusive:
		return compareOrder(traitValue, cond.Value) >= 0
	case domain.OpLessThan:
		return compareOrder(traitValue, cond.Value) < 0
	case domain.OpLessThanInclusive:
		return compareOrder(traitValue, cond.Value) <= 0
	case domain.OpContains:
		return strings.Contains(traitValue.String(), cond.Value)
	case domain.OpNotContains:
		return !strings.Contains(traitValue.String(), cond.Value)
	case domain.OpRegex:
		return matchRegex(traitValue.String(), cond.Value, log)
	case domain.OpIn:
		return matchIn(traitValue.String(), cond.Value)
	case domain.OpModulo:
		return matchModulo(traitValue, cond.Value)
	default:
		log.Warn("skipping condition with unknown operator",
			slog.String("operator", string(cond.Operator)),
			slog.String("property", cond.Property),
		)
		return false
	}
}

func evaluatePercentageSplit(cond domain.Condition, contextIDs []string, log *slog.Logger) bool {
	threshold, err := strconv.ParseFloat(cond.Value, 64)
	if err != nil {
		log.Warn("percentage split condition has non-numeric value",
			slog.String("value", cond.Value),
		)
		return false
	}
	return hashring.PercentageValue(contextIDs)*100 < threshold
}

// compareEqual compares numerically when both sides parse as numbers,
// otherwise on canonical string forms. "2" therefore equals "2.0", while
// bools compare as "true"/"false".
func compareEqual(trait domain.Value, condValue string) bool {
	tf, tok := trait.Float()
	cf, cerr := strconv.ParseFloat(condValue, 64)
	if tok && cerr == nil {
		return tf == cf
	}
	return trait.String() == condValue
}

// compareOrder returns -1/0/+1 for trait vs. the condition operand.
// Both sides are compared as numbers when possible; when either side is
// non-numeric the comparison deliberately falls back to lexicographic
// string ordering. That permissiveness is a documented policy: ordering
// operators on string traits are legal, not a silent failure.
func compareOrder(trait domain.Value, condValue string) int {
	tf, tok := trait.Float()
	cf, cerr := strconv.ParseFloat(condValue, 64)

	if tok && cerr == nil {
		switch {
		case tf < cf:
			return -1
		case tf > cf:
			return 1
		default:
			return 0
		}
	}

	return strings.Compare(trait.String(), condValue)
}

func matchRegex(traitValue, pattern string, log *slog.Logger) bool {
	re, err := regexp.Compile(pattern)
	if err != nil {
		// Invalid pattern is a configuration defect, reported as a
		// non-fatal diagnostic and treated as a mismatch.
		log.Warn("invalid regex in segment condition",
			slog.String("pattern", pattern),
			slog.String("error", err.Error()),
		)
		return false
	}
	return re.MatchString(traitValue)
}

// matchIn tests case-sensitive membership of the trait's string form in the
// comma-separated token list. Numeric traits are stringified first, so a
// trait value 42 matches the token "42".
func matchIn(traitValue, condValue string) bool {
	for _, token := range strings.Split(condValue, ",") {
		if traitValue == token {
			return true
		}
	}
	return false
}

// matchModulo expects the operand in "divisor|remainder" form and a numeric
// trait. Anything malformed or non-numeric is a mismatch.
func matchModulo(trait domain.Value, condValue string) bool {
	divisorStr, remainderStr, found := strings.Cut(condValue, "|")
	if !found {
		return false
	}

	divisor, err := strconv.ParseFloat(divisorStr, 64)
	if err != nil || divisor == 0 {
		return false
	}
	remainder, err := strconv.ParseFloat(remainderStr, 64)
	if err != nil {
		return false
	}

	tf, ok := trait.Float()
	if !ok {
		return false
	}

	return math.Mod(tf, divisor) == remainder
}
