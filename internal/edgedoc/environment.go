package edgedoc

import (
	"time"

	"github.com/flagmesh/flagmesh/internal/domain"
)

// EnvironmentDocument is the full environment snapshot as projected to the
// edge store, keyed by the environment api_key.
type EnvironmentDocument struct {
	ID        int64
	APIKey    string
	Name      string
	Project   ProjectDocument
	UpdatedAt time.Time

	FeatureStates []FeatureStateDocument
	Segments      []SegmentDocument

	Unknown map[string]any
}

// ProjectDocument carries the project switches the edge needs to evaluate.
type ProjectDocument struct {
	ID                int64
	Name              string
	HideDisabledFlags bool
	Organisation      OrganisationDocument

	Unknown map[string]any
}

// OrganisationDocument is the tenancy root embedded in project documents.
type OrganisationDocument struct {
	ID               int64
	Name             string
	PersistTraitData bool

	Unknown map[string]any
}

// SegmentDocument is one segment with its rule tree and the environment's
// segment-scoped overrides.
type SegmentDocument struct {
	ID        int64
	Name      string
	FeatureID *int64

	Rules         []RuleDocument
	FeatureStates []FeatureStateDocument

	Unknown map[string]any
}

// RuleDocument is one node of a segment rule tree in nested form. The flat
// arena the domain uses becomes explicit nesting on the wire.
type RuleDocument struct {
	Type       string
	Conditions []ConditionDocument
	Rules      []RuleDocument
}

// ConditionDocument is a leaf comparison.
type ConditionDocument struct {
	Operator string
	Property string
	Value    string
}

// FromEnvironment maps an environment snapshot into its edge document.
func FromEnvironment(env *domain.Environment) (EnvironmentDocument, error) {
	if env.APIKey == "" {
		return EnvironmentDocument{}, mappingErrorf("api_key", "must not be empty")
	}
	doc := EnvironmentDocument{
		ID:     env.ID,
		APIKey: env.APIKey,
		Name:   env.Name,
		Project: ProjectDocument{
			ID:                env.Project.ID,
			Name:              env.Project.Name,
			HideDisabledFlags: env.Project.HideDisabledFlags,
			Organisation: OrganisationDocument{
				ID:               env.Project.Organisation.ID,
				Name:             env.Project.Organisation.Name,
				PersistTraitData: env.Project.Organisation.PersistTraitData,
			},
		},
		UpdatedAt: env.UpdatedAt,
	}
	for _, fs := range env.FeatureStates {
		doc.FeatureStates = append(doc.FeatureStates, FromFeatureState(fs))
	}
	for i := range env.Segments {
		doc.Segments = append(doc.Segments, fromSegment(&env.Segments[i]))
	}
	return doc, nil
}

func fromSegment(s *domain.Segment) SegmentDocument {
	doc := SegmentDocument{
		ID:   s.ID,
		Name: s.Name,
	}
	if s.FeatureID != nil {
		id := *s.FeatureID
		doc.FeatureID = &id
	}
	for _, root := range s.Rules.Roots() {
		if rule, ok := fromRule(&s.Rules, root); ok {
			doc.Rules = append(doc.Rules, rule)
		}
	}
	for _, fs := range s.FeatureStates {
		doc.FeatureStates = append(doc.FeatureStates, FromFeatureState(fs))
	}
	return doc
}

func fromRule(rs *domain.RuleSet, idx int) (RuleDocument, bool) {
	typ, children, conds, ok := rs.Rule(idx)
	if !ok {
		return RuleDocument{}, false
	}
	doc := RuleDocument{Type: string(typ)}
	for _, c := range conds {
		doc.Conditions = append(doc.Conditions, ConditionDocument{
			Operator: string(c.Operator),
			Property: c.Property,
			Value:    c.Value,
		})
	}
	for _, child := range children {
		if sub, ok := fromRule(rs, child); ok {
			doc.Rules = append(doc.Rules, sub)
		}
	}
	return doc, true
}

// ToEnvironment reconstructs the domain snapshot. EdgeEnabled is forced on:
// a snapshot read back from the edge store is by definition edge-served.
func (d EnvironmentDocument) ToEnvironment() *domain.Environment {
	env := &domain.Environment{
		ID:     d.ID,
		APIKey: d.APIKey,
		Name:   d.Name,
		Project: domain.Project{
			ID:                d.Project.ID,
			Name:              d.Project.Name,
			HideDisabledFlags: d.Project.HideDisabledFlags,
			EdgeEnabled:       true,
			Organisation: domain.Organisation{
				ID:               d.Project.Organisation.ID,
				Name:             d.Project.Organisation.Name,
				PersistTraitData: d.Project.Organisation.PersistTraitData,
			},
		},
		UpdatedAt: d.UpdatedAt,
	}
	for _, fs := range d.FeatureStates {
		env.FeatureStates = append(env.FeatureStates, fs.ToFeatureState(0))
	}
	for _, sd := range d.Segments {
		env.Segments = append(env.Segments, sd.toSegment())
	}
	return env
}

func (d SegmentDocument) toSegment() domain.Segment {
	s := domain.Segment{
		ID:   d.ID,
		Name: d.Name,
	}
	if d.FeatureID != nil {
		id := *d.FeatureID
		s.FeatureID = &id
	}
	for _, rule := range d.Rules {
		root := s.Rules.AddRoot(domain.RuleType(rule.Type), rule.domainConditions()...)
		rule.addChildren(&s.Rules, root)
	}
	for _, fs := range d.FeatureStates {
		s.FeatureStates = append(s.FeatureStates, fs.ToFeatureState(d.ID))
	}
	return s
}

func (d RuleDocument) domainConditions() []domain.Condition {
	conds := make([]domain.Condition, 0, len(d.Conditions))
	for _, c := range d.Conditions {
		conds = append(conds, domain.Condition{
			Operator: domain.Operator(c.Operator),
			Property: c.Property,
			Value:    c.Value,
		})
	}
	return conds
}

func (d RuleDocument) addChildren(rs *domain.RuleSet, parent int) {
	for _, sub := range d.Rules {
		child := rs.AddChild(parent, domain.RuleType(sub.Type), sub.domainConditions()...)
		sub.addChildren(rs, child)
	}
}

// --- item encoding ---

// Item encodes the document as a flat store item.
func (d EnvironmentDocument) Item() map[string]any {
	item := map[string]any{
		"id":         d.ID,
		"api_key":    d.APIKey,
		"name":       d.Name,
		"project":    d.Project.item(),
		"updated_at": d.UpdatedAt.UTC().Format(time.RFC3339Nano),
	}
	if len(d.FeatureStates) > 0 {
		states := make([]any, 0, len(d.FeatureStates))
		for _, fs := range d.FeatureStates {
			states = append(states, fs.item())
		}
		item["feature_states"] = states
	}
	if len(d.Segments) > 0 {
		segments := make([]any, 0, len(d.Segments))
		for _, s := range d.Segments {
			segments = append(segments, s.item())
		}
		item["segments"] = segments
	}
	return mergeUnknown(item, d.Unknown)
}

func (d ProjectDocument) item() map[string]any {
	item := map[string]any{
		"id":                  d.ID,
		"name":                d.Name,
		"hide_disabled_flags": d.HideDisabledFlags,
		"organisation":        d.Organisation.item(),
	}
	return mergeUnknown(item, d.Unknown)
}

func (d OrganisationDocument) item() map[string]any {
	item := map[string]any{
		"id":                 d.ID,
		"name":               d.Name,
		"persist_trait_data": d.PersistTraitData,
	}
	return mergeUnknown(item, d.Unknown)
}

func (d SegmentDocument) item() map[string]any {
	item := map[string]any{
		"id":   d.ID,
		"name": d.Name,
	}
	if d.FeatureID != nil {
		item["feature_id"] = *d.FeatureID
	}
	if len(d.Rules) > 0 {
		rules := make([]any, 0, len(d.Rules))
		for _, r := range d.Rules {
			rules = append(rules, r.item())
		}
		item["rules"] = rules
	}
	if len(d.FeatureStates) > 0 {
		states := make([]any, 0, len(d.FeatureStates))
		for _, fs := range d.FeatureStates {
			states = append(states, fs.item())
		}
		item["feature_states"] = states
	}
	return mergeUnknown(item, d.Unknown)
}

func (d RuleDocument) item() map[string]any {
	item := map[string]any{"type": d.Type}
	if len(d.Conditions) > 0 {
		conds := make([]any, 0, len(d.Conditions))
		for _, c := range d.Conditions {
			conds = append(conds, map[string]any{
				"operator": c.Operator,
				"property": c.Property,
				"value":    c.Value,
			})
		}
		item["conditions"] = conds
	}
	if len(d.Rules) > 0 {
		rules := make([]any, 0, len(d.Rules))
		for _, r := range d.Rules {
			rules = append(rules, r.item())
		}
		item["rules"] = rules
	}
	return item
}

// ParseEnvironmentDocument decodes a store item back into a document,
// preserving unrecognized fields.
func ParseEnvironmentDocument(item map[string]any) (EnvironmentDocument, error) {
	var doc EnvironmentDocument
	var ok bool

	if doc.APIKey, ok = getString(item, "api_key"); !ok {
		return doc, mappingErrorf("api_key", "missing or not a string")
	}
	if doc.ID, ok = getInt(item, "id"); !ok {
		return doc, mappingErrorf("id", "missing or not a number")
	}
	doc.Name, _ = getString(item, "name")

	projectItem, ok := getMap(item, "project")
	if !ok {
		return doc, mappingErrorf("project", "missing or not a map")
	}
	project, err := parseProjectDocument(projectItem)
	if err != nil {
		return doc, err
	}
	doc.Project = project

	if raw, ok := getString(item, "updated_at"); ok {
		updated, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return doc, mappingErrorf("updated_at", "not RFC 3339: %v", err)
		}
		doc.UpdatedAt = updated
	}

	for _, raw := range getList(item, "feature_states") {
		m, ok := raw.(map[string]any)
		if !ok {
			return doc, mappingErrorf("feature_states", "entry is not a map")
		}
		fs, err := parseFeatureStateDocument(m)
		if err != nil {
			return doc, err
		}
		doc.FeatureStates = append(doc.FeatureStates, fs)
	}

	for _, raw := range getList(item, "segments") {
		m, ok := raw.(map[string]any)
		if !ok {
			return doc, mappingErrorf("segments", "entry is not a map")
		}
		s, err := parseSegmentDocument(m)
		if err != nil {
			return doc, err
		}
		doc.Segments = append(doc.Segments, s)
	}

	doc.Unknown = unknownFields(item,
		"id", "api_key", "name", "project", "updated_at", "feature_states", "segments")
	return doc, nil
}

func parseProjectDocument(item map[string]any) (ProjectDocument, error) {
	var doc ProjectDocument
	var ok bool

	if doc.ID, ok = getInt(item, "id"); !ok {
		return doc, mappingErrorf("project.id", "missing or not a number")
	}
	doc.Name, _ = getString(item, "name")
	doc.HideDisabledFlags, _ = getBool(item, "hide_disabled_flags")

	if orgItem, ok := getMap(item, "organisation"); ok {
		doc.Organisation.ID, _ = getInt(orgItem, "id")
		doc.Organisation.Name, _ = getString(orgItem, "name")
		doc.Organisation.PersistTraitData, _ = getBool(orgItem, "persist_trait_data")
		doc.Organisation.Unknown = unknownFields(orgItem, "id", "name", "persist_trait_data")
	}

	doc.Unknown = unknownFields(item, "id", "name", "hide_disabled_flags", "organisation")
	return doc, nil
}

func parseSegmentDocument(item map[string]any) (SegmentDocument, error) {
	var doc SegmentDocument
	var ok bool

	if doc.ID, ok = getInt(item, "id"); !ok {
		return doc, mappingErrorf("segments.id", "missing or not a number")
	}
	doc.Name, _ = getString(item, "name")
	if id, ok := getInt(item, "feature_id"); ok {
		doc.FeatureID = &id
	}

	for _, raw := range getList(item, "rules") {
		m, ok := raw.(map[string]any)
		if !ok {
			return doc, mappingErrorf("segments.rules", "entry is not a map")
		}
		rule, err := parseRuleDocument(m)
		if err != nil {
			return doc, err
		}
		doc.Rules = append(doc.Rules, rule)
	}

	for _, raw := range getList(item, "feature_states") {
		m, ok := raw.(map[string]any)
		if !ok {
			return doc, mappingErrorf("segments.feature_states", "entry is not a map")
		}
		fs, err := parseFeatureStateDocument(m)
		if err != nil {
			return doc, err
		}
		doc.FeatureStates = append(doc.FeatureStates, fs)
	}

	doc.Unknown = unknownFields(item, "id", "name", "feature_id", "rules", "feature_states")
	return doc, nil
}

func parseRuleDocument(item map[string]any) (RuleDocument, error) {
	var doc RuleDocument
	var ok bool

	if doc.Type, ok = getString(item, "type"); !ok {
		return doc, mappingErrorf("rules.type", "missing or not a string")
	}

	for _, raw := range getList(item, "conditions") {
		m, ok := raw.(map[string]any)
		if !ok {
			return doc, mappingErrorf("rules.conditions", "entry is not a map")
		}
		var cond ConditionDocument
		if cond.Operator, ok = getString(m, "operator"); !ok {
			return doc, mappingErrorf("rules.conditions.operator", "missing or not a string")
		}
		cond.Property, _ = getString(m, "property")
		cond.Value, _ = getString(m, "value")
		doc.Conditions = append(doc.Conditions, cond)
	}

	for _, raw := range getList(item, "rules") {
		m, ok := raw.(map[string]any)
		if !ok {
			return doc, mappingErrorf("rules.rules", "entry is not a map")
		}
		sub, err := parseRuleDocument(m)
		if err != nil {
			return doc, err
		}
		doc.Rules = append(doc.Rules, sub)
	}

	return doc, nil
}
