// Package edgedoc is the pure transformation layer between the domain model
// and the edge store's flat document representation. Nothing here touches
// the network: documents are plain map[string]any items that the edge store
// implementations marshal as-is.
//
// Two properties matter and are tested: mapping is lossless in both
// directions for well-formed inputs, and unknown document fields survive a
// round trip opaquely so older binaries can rewrite documents produced by
// newer ones without shedding data.
package edgedoc

import "fmt"

// MaxKeyLength is the edge store's partition-key size limit in bytes.
// Documents whose derived key would exceed it are rejected with a
// MappingError; during migration such records are skipped and logged,
// never fatal to the batch.
const MaxKeyLength = 2048

// MappingError reports a document that cannot be mapped: a required field
// is missing or malformed, or a derived key violates a store constraint.
type MappingError struct {
	Field  string
	Reason string
}

func (e *MappingError) Error() string {
	return fmt.Sprintf("edgedoc: field %q: %s", e.Field, e.Reason)
}

func mappingErrorf(field, format string, args ...any) *MappingError {
	return &MappingError{Field: field, Reason: fmt.Sprintf(format, args...)}
}
