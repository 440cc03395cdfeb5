package domain

// RuleType is the boolean composition mode of a segment rule node.
type RuleType string

const (
	RuleAll  RuleType = "ALL"
	RuleAny  RuleType = "ANY"
	RuleNone RuleType = "NONE"
)

// Operator is the comparison applied by a leaf condition.
type Operator string

const (
	OpEqual                Operator = "EQUAL"
	OpNotEqual             Operator = "NOT_EQUAL"
	OpGreaterThan          Operator = "GREATER_THAN"
	OpGreaterThanInclusive Operator = "GREATER_THAN_INCLUSIVE"
	OpLessThan             Operator = "LESS_THAN"
	OpLessThanInclusive    Operator = "LESS_THAN_INCLUSIVE"
	OpContains             Operator = "CONTAINS"
	OpNotContains          Operator = "NOT_CONTAINS"
	OpRegex                Operator = "REGEX"
	OpIn                   Operator = "IN"
	OpPercentageSplit      Operator = "PERCENTAGE_SPLIT"
	OpModulo               Operator = "MODULO"
)

// Condition is a leaf test in a segment rule tree. Property names a trait
// key (ignored for PERCENTAGE_SPLIT); Value is the comparison operand in
// string form (comma-separated for IN, "divisor|remainder" for MODULO).
type Condition struct {
	Operator Operator
	Property string
	Value    string
}

// Segment is a named cohort defined by a rule tree over identity traits.
// A feature-specific segment (FeatureID non-nil) is only usable as an
// override source for that exact feature.
type Segment struct {
	ID        int64
	ProjectID int64
	Name      string

	// FeatureID scopes a feature-specific segment to one feature.
	FeatureID *int64

	Rules RuleSet

	// FeatureStates are the segment-scoped overrides for the environment
	// this segment snapshot was loaded with. Each carries a FeatureSegment
	// with this segment's id and the override priority.
	FeatureStates []FeatureState
}

// IsFeatureSpecific reports whether the segment is scoped to a single feature.
func (s *Segment) IsFeatureSpecific() bool { return s.FeatureID != nil }

// AppliesToFeature reports whether this segment may override the given
// feature: always, unless the segment is feature-specific for another one.
func (s *Segment) AppliesToFeature(featureID int64) bool {
	return s.FeatureID == nil || *s.FeatureID == featureID
}

// RuleSet stores a segment's rule tree as an arena of nodes addressed by
// index, with explicit parent-to-children index lists. The representation
// cannot express a cycle through its construction API: a child is always a
// freshly appended node, so edges only ever point forward.
type RuleSet struct {
	nodes []ruleNode
	roots []int
}

type ruleNode struct {
	typ        RuleType
	children   []int
	conditions []Condition
}

// AddRoot appends a new root rule and returns its handle.
func (rs *RuleSet) AddRoot(typ RuleType, conds ...Condition) int {
	idx := rs.append(typ, conds)
	rs.roots = append(rs.roots, idx)
	return idx
}

// AddChild appends a new rule beneath parent and returns its handle.
// An out-of-range parent is ignored and -1 is returned; a rule can never be
// made its own ancestor because the new node does not exist yet.
func (rs *RuleSet) AddChild(parent int, typ RuleType, conds ...Condition) int {
	if parent < 0 || parent >= len(rs.nodes) {
		return -1
	}
	idx := rs.append(typ, conds)
	rs.nodes[parent].children = append(rs.nodes[parent].children, idx)
	return idx
}

// AddConditions appends extra conditions to an existing rule.
func (rs *RuleSet) AddConditions(rule int, conds ...Condition) {
	if rule < 0 || rule >= len(rs.nodes) {
		return
	}
	rs.nodes[rule].conditions = append(rs.nodes[rule].conditions, conds...)
}

func (rs *RuleSet) append(typ RuleType, conds []Condition) int {
	rs.nodes = append(rs.nodes, ruleNode{typ: typ, conditions: conds})
	return len(rs.nodes) - 1
}

// Roots returns the handles of the top-level rules in declaration order.
func (rs *RuleSet) Roots() []int { return rs.roots }

// Rule returns the composition type, child handles and conditions of a node.
// The ok return is false for an out-of-range handle.
func (rs *RuleSet) Rule(idx int) (typ RuleType, children []int, conds []Condition, ok bool) {
	if idx < 0 || idx >= len(rs.nodes) {
		return "", nil, nil, false
	}
	n := rs.nodes[idx]
	return n.typ, n.children, n.conditions, true
}

// Len returns the number of rule nodes in the arena.
func (rs *RuleSet) Len() int { return len(rs.nodes) }
