package edgedoc

import (
	"github.com/flagmesh/flagmesh/internal/domain"
)

// FeatureDocument is the embedded feature descriptor carried by feature
// state documents.
type FeatureDocument struct {
	ID   int64
	Name string
	Type string
	Kind string

	Options []MultivariateOptionDocument

	Unknown map[string]any
}

// MultivariateOptionDocument is one weighted option of a multivariate
// feature as stored in edge documents.
type MultivariateOptionDocument struct {
	ID                          int64
	Value                       domain.Value
	DefaultPercentageAllocation float64
}

// MultivariateValueDocument pins a per-state allocation for one option.
type MultivariateValueDocument struct {
	OptionID             int64
	Value                domain.Value
	PercentageAllocation float64
}

// FeatureStateDocument is the flat form of one feature state: embedded in
// identity documents (identity scope), environment documents (default and
// segment scopes) and override documents.
type FeatureStateDocument struct {
	Feature FeatureDocument
	Enabled bool
	Value   domain.Value

	// SegmentPriority is set only on segment-scoped states.
	SegmentPriority *int

	MultivariateValues []MultivariateValueDocument

	Unknown map[string]any
}

// FromFeature maps a domain feature to its document descriptor.
func FromFeature(f domain.Feature) FeatureDocument {
	doc := FeatureDocument{
		ID:   f.ID,
		Name: f.Name,
		Type: string(f.Type),
		Kind: string(f.Kind),
	}
	for _, opt := range f.Options {
		doc.Options = append(doc.Options, MultivariateOptionDocument{
			ID:                          opt.ID,
			Value:                       opt.Value,
			DefaultPercentageAllocation: opt.DefaultPercentageAllocation,
		})
	}
	return doc
}

// ToFeature reconstructs the domain feature from its descriptor.
func (d FeatureDocument) ToFeature() domain.Feature {
	f := domain.Feature{
		ID:   d.ID,
		Name: d.Name,
		Type: domain.FeatureType(d.Type),
		Kind: domain.FeatureKind(d.Kind),
	}
	for _, opt := range d.Options {
		f.Options = append(f.Options, domain.MultivariateFeatureOption{
			ID:                          opt.ID,
			FeatureID:                   d.ID,
			Value:                       opt.Value,
			DefaultPercentageAllocation: opt.DefaultPercentageAllocation,
		})
	}
	return f
}

// FromFeatureState flattens a feature state. Version, liveness window and
// creation time are deliberately not carried: edge documents hold only the
// single live state per scope.
func FromFeatureState(fs domain.FeatureState) FeatureStateDocument {
	doc := FeatureStateDocument{
		Feature: FromFeature(fs.Feature),
		Enabled: fs.Enabled,
		Value:   fs.Value,
	}
	if fs.FeatureSegment != nil {
		p := fs.FeatureSegment.Priority
		doc.SegmentPriority = &p
	}
	for _, mv := range fs.MultivariateValues {
		doc.MultivariateValues = append(doc.MultivariateValues, MultivariateValueDocument{
			OptionID:             mv.Option.ID,
			Value:                mv.Option.Value,
			PercentageAllocation: mv.PercentageAllocation,
		})
	}
	return doc
}

// ToFeatureState reconstructs the domain state. segmentID attaches the
// owning segment for segment-scoped states; pass zero for other scopes.
func (d FeatureStateDocument) ToFeatureState(segmentID int64) domain.FeatureState {
	fs := domain.FeatureState{
		Feature: d.Feature.ToFeature(),
		Enabled: d.Enabled,
		Value:   d.Value,
	}
	if d.SegmentPriority != nil {
		fs.FeatureSegment = &domain.FeatureSegment{SegmentID: segmentID, Priority: *d.SegmentPriority}
	}
	for _, mv := range d.MultivariateValues {
		fs.MultivariateValues = append(fs.MultivariateValues, domain.MultivariateStateValue{
			Option:               domain.MultivariateFeatureOption{ID: mv.OptionID, FeatureID: d.Feature.ID, Value: mv.Value},
			PercentageAllocation: mv.PercentageAllocation,
		})
	}
	return fs
}

// --- item encoding ---

func (d FeatureDocument) item() map[string]any {
	item := map[string]any{
		"id":   d.ID,
		"name": d.Name,
		"type": d.Type,
		"kind": d.Kind,
	}
	if len(d.Options) > 0 {
		opts := make([]any, 0, len(d.Options))
		for _, o := range d.Options {
			opts = append(opts, map[string]any{
				"id":                            o.ID,
				"value":                         encodeValue(o.Value),
				"default_percentage_allocation": o.DefaultPercentageAllocation,
			})
		}
		item["multivariate_options"] = opts
	}
	return mergeUnknown(item, d.Unknown)
}

func parseFeatureDocument(item map[string]any) (FeatureDocument, error) {
	var doc FeatureDocument
	var ok bool

	if doc.ID, ok = getInt(item, "id"); !ok {
		return doc, mappingErrorf("feature.id", "missing or not a number")
	}
	if doc.Name, ok = getString(item, "name"); !ok {
		return doc, mappingErrorf("feature.name", "missing or not a string")
	}
	doc.Type, _ = getString(item, "type")
	doc.Kind, _ = getString(item, "kind")

	for _, raw := range getList(item, "multivariate_options") {
		m, ok := raw.(map[string]any)
		if !ok {
			return doc, mappingErrorf("feature.multivariate_options", "entry is not a map")
		}
		var opt MultivariateOptionDocument
		opt.ID, _ = getInt(m, "id")
		opt.DefaultPercentageAllocation, _ = getFloat(m, "default_percentage_allocation")
		v, err := decodeValue("feature.multivariate_options.value", m["value"])
		if err != nil {
			return doc, err
		}
		opt.Value = v
		doc.Options = append(doc.Options, opt)
	}

	doc.Unknown = unknownFields(item, "id", "name", "type", "kind", "multivariate_options")
	return doc, nil
}

func (d FeatureStateDocument) item() map[string]any {
	item := map[string]any{
		"feature":             d.Feature.item(),
		"enabled":             d.Enabled,
		"feature_state_value": encodeValue(d.Value),
	}
	if d.SegmentPriority != nil {
		item["feature_segment"] = map[string]any{"priority": int64(*d.SegmentPriority)}
	}
	if len(d.MultivariateValues) > 0 {
		mvs := make([]any, 0, len(d.MultivariateValues))
		for _, mv := range d.MultivariateValues {
			mvs = append(mvs, map[string]any{
				"multivariate_feature_option_id": mv.OptionID,
				"value":                          encodeValue(mv.Value),
				"percentage_allocation":          mv.PercentageAllocation,
			})
		}
		item["multivariate_feature_state_values"] = mvs
	}
	return mergeUnknown(item, d.Unknown)
}

func parseFeatureStateDocument(item map[string]any) (FeatureStateDocument, error) {
	var doc FeatureStateDocument

	featureItem, ok := getMap(item, "feature")
	if !ok {
		return doc, mappingErrorf("feature", "missing or not a map")
	}
	feature, err := parseFeatureDocument(featureItem)
	if err != nil {
		return doc, err
	}
	doc.Feature = feature

	doc.Enabled, _ = getBool(item, "enabled")

	v, err := decodeValue("feature_state_value", item["feature_state_value"])
	if err != nil {
		return doc, err
	}
	doc.Value = v

	if fsItem, ok := getMap(item, "feature_segment"); ok {
		if p, ok := getInt(fsItem, "priority"); ok {
			priority := int(p)
			doc.SegmentPriority = &priority
		}
	}

	for _, raw := range getList(item, "multivariate_feature_state_values") {
		m, ok := raw.(map[string]any)
		if !ok {
			return doc, mappingErrorf("multivariate_feature_state_values", "entry is not a map")
		}
		var mv MultivariateValueDocument
		mv.OptionID, _ = getInt(m, "multivariate_feature_option_id")
		mv.PercentageAllocation, _ = getFloat(m, "percentage_allocation")
		val, err := decodeValue("multivariate_feature_state_values.value", m["value"])
		if err != nil {
			return doc, err
		}
		mv.Value = val
		doc.MultivariateValues = append(doc.MultivariateValues, mv)
	}

	doc.Unknown = unknownFields(item,
		"feature", "enabled", "feature_state_value", "feature_segment", "multivariate_feature_state_values")
	return doc, nil
}
