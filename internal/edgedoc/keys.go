package edgedoc

import (
	"fmt"
	"strings"
)

// Document keys are derived from stable identifiers only, never from
// mutable fields: re-mapping the same domain object always yields the same
// storage key, which is what makes every write idempotent.

// overridePrefix is the document_key namespace of identity override
// documents in the environments-v2 table.
const overridePrefix = "identity_override"

// CompositeKey derives the identity-document partition key.
func CompositeKey(environmentAPIKey, identifier string) string {
	return fmt.Sprintf("%s_%s", environmentAPIKey, identifier)
}

// OverrideDocumentKey derives the sort key of one identity override
// document. The feature-scoped prefix groups all overrides of one feature
// into a contiguous key range.
func OverrideDocumentKey(featureID int64, identityUUID string) string {
	return fmt.Sprintf("%s:%d:%s", overridePrefix, featureID, identityUUID)
}

// OverrideFeaturePrefix returns the key prefix covering every override
// document of one feature, for range scans.
func OverrideFeaturePrefix(featureID int64) string {
	return fmt.Sprintf("%s:%d:", overridePrefix, featureID)
}

// ParseOverrideDocumentKey splits a document_key back into its parts.
func ParseOverrideDocumentKey(key string) (featureID string, identityUUID string, err error) {
	parts := strings.SplitN(key, ":", 3)
	if len(parts) != 3 || parts[0] != overridePrefix {
		return "", "", mappingErrorf("document_key", "malformed override key %q", key)
	}
	return parts[1], parts[2], nil
}
