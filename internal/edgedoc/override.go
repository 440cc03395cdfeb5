package edgedoc

import (
	"github.com/flagmesh/flagmesh/internal/domain"
)

// OverrideDocument is one identity override projected into the per-
// environment override table: partition key environment_id, sort key
// document_key. It denormalizes enough of the identity for dashboard
// listings without a second lookup.
type OverrideDocument struct {
	EnvironmentID     int64
	DocumentKey       string
	EnvironmentAPIKey string
	IdentityUUID      string
	Identifier        string
	FeatureState      FeatureStateDocument

	Unknown map[string]any
}

// OverridesFromIdentity derives one override document per identity-scoped
// feature state on the identity document. Writing these alongside the
// identity keeps the override table consistent with the identity table.
func OverridesFromIdentity(environmentID int64, doc IdentityDocument) ([]OverrideDocument, error) {
	if doc.IdentityUUID == "" {
		return nil, mappingErrorf("identity_uuid", "must not be empty")
	}
	overrides := make([]OverrideDocument, 0, len(doc.FeatureStates))
	for _, fs := range doc.FeatureStates {
		key := OverrideDocumentKey(fs.Feature.ID, doc.IdentityUUID)
		if len(key) > MaxKeyLength {
			return nil, mappingErrorf("document_key", "length %d exceeds limit %d", len(key), MaxKeyLength)
		}
		overrides = append(overrides, OverrideDocument{
			EnvironmentID:     environmentID,
			DocumentKey:       key,
			EnvironmentAPIKey: doc.EnvironmentAPIKey,
			IdentityUUID:      doc.IdentityUUID,
			Identifier:        doc.Identifier,
			FeatureState:      fs,
		})
	}
	return overrides, nil
}

// ToFeatureState reconstructs the identity-scoped domain state.
func (d OverrideDocument) ToFeatureState() domain.FeatureState {
	return d.FeatureState.ToFeatureState(0)
}

// Item encodes the document as a flat store item.
func (d OverrideDocument) Item() map[string]any {
	item := map[string]any{
		"environment_id":      d.EnvironmentID,
		"document_key":        d.DocumentKey,
		"environment_api_key": d.EnvironmentAPIKey,
		"identity_uuid":       d.IdentityUUID,
		"identifier":          d.Identifier,
		"feature_state":       d.FeatureState.item(),
	}
	return mergeUnknown(item, d.Unknown)
}

// ParseOverrideDocument decodes a store item back into a document,
// preserving unrecognized fields.
func ParseOverrideDocument(item map[string]any) (OverrideDocument, error) {
	var doc OverrideDocument
	var ok bool

	if doc.EnvironmentID, ok = getInt(item, "environment_id"); !ok {
		return doc, mappingErrorf("environment_id", "missing or not a number")
	}
	if doc.DocumentKey, ok = getString(item, "document_key"); !ok {
		return doc, mappingErrorf("document_key", "missing or not a string")
	}
	if _, _, err := ParseOverrideDocumentKey(doc.DocumentKey); err != nil {
		return doc, err
	}
	doc.EnvironmentAPIKey, _ = getString(item, "environment_api_key")
	doc.IdentityUUID, _ = getString(item, "identity_uuid")
	doc.Identifier, _ = getString(item, "identifier")

	fsItem, ok := getMap(item, "feature_state")
	if !ok {
		return doc, mappingErrorf("feature_state", "missing or not a map")
	}
	fs, err := parseFeatureStateDocument(fsItem)
	if err != nil {
		return doc, err
	}
	doc.FeatureState = fs

	doc.Unknown = unknownFields(item,
		"environment_id", "document_key", "environment_api_key",
		"identity_uuid", "identifier", "feature_state")
	return doc, nil
}
