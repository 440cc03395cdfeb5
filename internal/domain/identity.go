package domain

import "time"

// Trait is a (key, typed value) pair attached to one identity. Keys are
// unique per identity. Whether traits are persisted at all is governed by
// the owning organisation's PersistTraitData flag; transient traits are
// still evaluated in-request.
type Trait struct {
	Key   string
	Value Value
}

// Traits is an ordered trait collection with key lookup.
type Traits []Trait

// Get returns the value for key. The second return is false when the
// identity has no such trait.
func (ts Traits) Get(key string) (Value, bool) {
	for _, t := range ts {
		if t.Key == key {
			return t.Value, true
		}
	}
	return Value{}, false
}

// Upsert replaces the value for key or appends a new trait, preserving the
// uniqueness of keys.
func (ts Traits) Upsert(key string, v Value) Traits {
	for i, t := range ts {
		if t.Key == key {
			ts[i].Value = v
			return ts
		}
	}
	return append(ts, Trait{Key: key, Value: v})
}

// Identity is one end user (or device, or tenant) inside an environment.
// Identifier is unique per environment; UUID is the stable identifier used
// by the edge store documents.
type Identity struct {
	ID            int64
	UUID          string
	EnvironmentID int64

	Identifier     string
	DashboardAlias string
	CreatedDate    time.Time

	Traits Traits

	// Overrides are the identity-scoped feature states. Each has a non-nil
	// IdentityID referring back to this identity.
	Overrides []FeatureState
}
