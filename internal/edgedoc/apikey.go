package edgedoc

import (
	"time"

	"github.com/flagmesh/flagmesh/internal/domain"
)

// APIKeyDocument projects an environment API key to the edge store so edge
// nodes can authenticate SDK traffic locally, keyed by the key string.
type APIKeyDocument struct {
	ID            int64
	Key           string
	Kind          string
	Name          string
	EnvironmentID int64
	Active        bool
	ExpiresAt     *time.Time
	CreatedAt     time.Time

	Unknown map[string]any
}

// FromAPIKey maps a domain key into its edge document.
func FromAPIKey(k *domain.EnvironmentAPIKey) (APIKeyDocument, error) {
	if k.Key == "" {
		return APIKeyDocument{}, mappingErrorf("key", "must not be empty")
	}
	doc := APIKeyDocument{
		ID:            k.ID,
		Key:           k.Key,
		Kind:          string(k.Kind),
		Name:          k.Name,
		EnvironmentID: k.EnvironmentID,
		Active:        k.Active,
		CreatedAt:     k.CreatedAt,
	}
	if k.ExpiresAt != nil {
		t := *k.ExpiresAt
		doc.ExpiresAt = &t
	}
	return doc, nil
}

// ToAPIKey reconstructs the domain key.
func (d APIKeyDocument) ToAPIKey() *domain.EnvironmentAPIKey {
	k := &domain.EnvironmentAPIKey{
		ID:            d.ID,
		Key:           d.Key,
		Kind:          domain.APIKeyKind(d.Kind),
		Name:          d.Name,
		EnvironmentID: d.EnvironmentID,
		Active:        d.Active,
		CreatedAt:     d.CreatedAt,
	}
	if d.ExpiresAt != nil {
		t := *d.ExpiresAt
		k.ExpiresAt = &t
	}
	return k
}

// Item encodes the document as a flat store item.
func (d APIKeyDocument) Item() map[string]any {
	item := map[string]any{
		"id":             d.ID,
		"key":            d.Key,
		"kind":           d.Kind,
		"name":           d.Name,
		"environment_id": d.EnvironmentID,
		"active":         d.Active,
		"created_at":     d.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
	if d.ExpiresAt != nil {
		item["expires_at"] = d.ExpiresAt.UTC().Format(time.RFC3339Nano)
	}
	return mergeUnknown(item, d.Unknown)
}

// ParseAPIKeyDocument decodes a store item back into a document,
// preserving unrecognized fields.
func ParseAPIKeyDocument(item map[string]any) (APIKeyDocument, error) {
	var doc APIKeyDocument
	var ok bool

	if doc.Key, ok = getString(item, "key"); !ok {
		return doc, mappingErrorf("key", "missing or not a string")
	}
	doc.ID, _ = getInt(item, "id")
	doc.Kind, _ = getString(item, "kind")
	doc.Name, _ = getString(item, "name")
	doc.EnvironmentID, _ = getInt(item, "environment_id")
	doc.Active, _ = getBool(item, "active")

	if raw, ok := getString(item, "created_at"); ok {
		created, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return doc, mappingErrorf("created_at", "not RFC 3339: %v", err)
		}
		doc.CreatedAt = created
	}
	if raw, ok := getString(item, "expires_at"); ok {
		expires, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return doc, mappingErrorf("expires_at", "not RFC 3339: %v", err)
		}
		doc.ExpiresAt = &expires
	}

	doc.Unknown = unknownFields(item,
		"id", "key", "kind", "name", "environment_id", "active", "created_at", "expires_at")
	return doc, nil
}
