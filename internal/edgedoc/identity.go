package edgedoc

import (
	"time"

	"github.com/flagmesh/flagmesh/internal/domain"
)

// TraitDocument is one key/value trait as stored on identity documents.
type TraitDocument struct {
	Key   string
	Value domain.Value
}

// IdentityDocument is the edge representation of one identity: its traits
// and its identity-scoped feature state overrides, keyed by composite_key.
type IdentityDocument struct {
	CompositeKey      string
	IdentityUUID      string
	Identifier        string
	EnvironmentAPIKey string
	DashboardAlias    string
	CreatedDate       time.Time

	Traits        []TraitDocument
	FeatureStates []FeatureStateDocument

	Unknown map[string]any
}

// FromIdentity maps a domain identity into its edge document. The identity
// must carry a non-empty identifier and UUID; callers backfill missing
// UUIDs before mapping. Keys longer than MaxKeyLength are rejected.
func FromIdentity(environmentAPIKey string, identity *domain.Identity) (IdentityDocument, error) {
	if identity.Identifier == "" {
		return IdentityDocument{}, mappingErrorf("identifier", "must not be empty")
	}
	if identity.UUID == "" {
		return IdentityDocument{}, mappingErrorf("identity_uuid", "must not be empty")
	}
	key := CompositeKey(environmentAPIKey, identity.Identifier)
	if len(key) > MaxKeyLength {
		return IdentityDocument{}, mappingErrorf("composite_key", "length %d exceeds limit %d", len(key), MaxKeyLength)
	}

	doc := IdentityDocument{
		CompositeKey:      key,
		IdentityUUID:      identity.UUID,
		Identifier:        identity.Identifier,
		EnvironmentAPIKey: environmentAPIKey,
		DashboardAlias:    identity.DashboardAlias,
		CreatedDate:       identity.CreatedDate,
	}
	for _, t := range identity.Traits {
		doc.Traits = append(doc.Traits, TraitDocument{Key: t.Key, Value: t.Value})
	}
	for _, fs := range identity.Overrides {
		doc.FeatureStates = append(doc.FeatureStates, FromFeatureState(fs))
	}
	return doc, nil
}

// ToIdentity reconstructs the domain identity. Numeric identity IDs do not
// exist at the edge and come back zero.
func (d IdentityDocument) ToIdentity() *domain.Identity {
	identity := &domain.Identity{
		UUID:           d.IdentityUUID,
		Identifier:     d.Identifier,
		DashboardAlias: d.DashboardAlias,
		CreatedDate:    d.CreatedDate,
	}
	for _, t := range d.Traits {
		identity.Traits = append(identity.Traits, domain.Trait{Key: t.Key, Value: t.Value})
	}
	for _, fs := range d.FeatureStates {
		identity.Overrides = append(identity.Overrides, fs.ToFeatureState(0))
	}
	return identity
}

// Item encodes the document as a flat store item.
func (d IdentityDocument) Item() map[string]any {
	item := map[string]any{
		"composite_key":       d.CompositeKey,
		"identity_uuid":       d.IdentityUUID,
		"identifier":          d.Identifier,
		"environment_api_key": d.EnvironmentAPIKey,
		"created_date":        d.CreatedDate.UTC().Format(time.RFC3339Nano),
	}
	if d.DashboardAlias != "" {
		item["dashboard_alias"] = d.DashboardAlias
	}
	if len(d.Traits) > 0 {
		traits := make([]any, 0, len(d.Traits))
		for _, t := range d.Traits {
			traits = append(traits, map[string]any{
				"trait_key":   t.Key,
				"trait_value": encodeValue(t.Value),
			})
		}
		item["identity_traits"] = traits
	}
	if len(d.FeatureStates) > 0 {
		states := make([]any, 0, len(d.FeatureStates))
		for _, fs := range d.FeatureStates {
			states = append(states, fs.item())
		}
		item["identity_features"] = states
	}
	return mergeUnknown(item, d.Unknown)
}

// ParseIdentityDocument decodes a store item back into a document,
// preserving unrecognized fields.
func ParseIdentityDocument(item map[string]any) (IdentityDocument, error) {
	var doc IdentityDocument
	var ok bool

	if doc.CompositeKey, ok = getString(item, "composite_key"); !ok {
		return doc, mappingErrorf("composite_key", "missing or not a string")
	}
	if doc.Identifier, ok = getString(item, "identifier"); !ok {
		return doc, mappingErrorf("identifier", "missing or not a string")
	}
	doc.IdentityUUID, _ = getString(item, "identity_uuid")
	doc.EnvironmentAPIKey, _ = getString(item, "environment_api_key")
	doc.DashboardAlias, _ = getString(item, "dashboard_alias")

	if raw, ok := getString(item, "created_date"); ok {
		created, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return doc, mappingErrorf("created_date", "not RFC 3339: %v", err)
		}
		doc.CreatedDate = created
	}

	for _, raw := range getList(item, "identity_traits") {
		m, ok := raw.(map[string]any)
		if !ok {
			return doc, mappingErrorf("identity_traits", "entry is not a map")
		}
		key, ok := getString(m, "trait_key")
		if !ok {
			return doc, mappingErrorf("identity_traits.trait_key", "missing or not a string")
		}
		v, err := decodeValue("identity_traits.trait_value", m["trait_value"])
		if err != nil {
			return doc, err
		}
		doc.Traits = append(doc.Traits, TraitDocument{Key: key, Value: v})
	}

	for _, raw := range getList(item, "identity_features") {
		m, ok := raw.(map[string]any)
		if !ok {
			return doc, mappingErrorf("identity_features", "entry is not a map")
		}
		fs, err := parseFeatureStateDocument(m)
		if err != nil {
			return doc, err
		}
		doc.FeatureStates = append(doc.FeatureStates, fs)
	}

	doc.Unknown = unknownFields(item,
		"composite_key", "identity_uuid", "identifier", "environment_api_key",
		"dashboard_alias", "created_date", "identity_traits", "identity_features")
	return doc, nil
}
