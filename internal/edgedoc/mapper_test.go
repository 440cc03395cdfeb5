package edgedoc

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flagmesh/flagmesh/internal/domain"
)

func testFeature() domain.Feature {
	return domain.Feature{
		ID:   7,
		Name: "checkout_banner",
		Type: domain.FeatureMultivariate,
		Kind: domain.FeatureKindConfig,
		Options: []domain.MultivariateFeatureOption{
			{ID: 70, FeatureID: 7, Value: domain.StringValue("blue"), DefaultPercentageAllocation: 30},
			{ID: 71, FeatureID: 7, Value: domain.StringValue("green"), DefaultPercentageAllocation: 70},
		},
	}
}

func testIdentity() *domain.Identity {
	return &domain.Identity{
		ID:          42,
		UUID:        "0b9e1c3e-70f1-4f30-a51d-6e3b3d6a9f01",
		Identifier:  "user@example.com",
		CreatedDate: time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC),
		Traits: domain.Traits{
			{Key: "plan", Value: domain.StringValue("pro")},
			{Key: "logins", Value: domain.IntValue(12)},
		},
		Overrides: []domain.FeatureState{
			{
				Feature: testFeature(),
				Enabled: true,
				Value:   domain.StringValue("green"),
			},
		},
	}
}

func TestCompositeKey(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "env-key-1_user@example.com", CompositeKey("env-key-1", "user@example.com"))
}

func TestOverrideDocumentKey(t *testing.T) {
	t.Parallel()

	key := OverrideDocumentKey(7, "abc-123")
	assert.Equal(t, "identity_override:7:abc-123", key)
	assert.True(t, strings.HasPrefix(key, OverrideFeaturePrefix(7)))

	featureID, uuid, err := ParseOverrideDocumentKey(key)
	require.NoError(t, err)
	assert.Equal(t, "7", featureID)
	assert.Equal(t, "abc-123", uuid)
}

func TestParseOverrideDocumentKeyShouldRejectMalformedKeys(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		key  string
	}{
		{name: "wrong prefix", key: "environment:7:abc"},
		{name: "missing uuid", key: "identity_override:7"},
		{name: "empty", key: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, _, err := ParseOverrideDocumentKey(tt.key)
			var mapErr *MappingError
			require.ErrorAs(t, err, &mapErr)
			assert.Equal(t, "document_key", mapErr.Field)
		})
	}
}

func TestFromIdentityShouldDeriveStableDocument(t *testing.T) {
	t.Parallel()

	doc, err := FromIdentity("env-key-1", testIdentity())
	require.NoError(t, err)

	assert.Equal(t, "env-key-1_user@example.com", doc.CompositeKey)
	assert.Equal(t, "env-key-1", doc.EnvironmentAPIKey)
	require.Len(t, doc.Traits, 2)
	require.Len(t, doc.FeatureStates, 1)
	assert.Equal(t, int64(7), doc.FeatureStates[0].Feature.ID)

	again, err := FromIdentity("env-key-1", testIdentity())
	require.NoError(t, err)
	assert.Equal(t, doc, again, "mapping must be deterministic")
}

func TestFromIdentityShouldRejectInvalidInput(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		mutate    func(*domain.Identity)
		wantField string
	}{
		{
			name:      "empty identifier",
			mutate:    func(i *domain.Identity) { i.Identifier = "" },
			wantField: "identifier",
		},
		{
			name:      "empty uuid",
			mutate:    func(i *domain.Identity) { i.UUID = "" },
			wantField: "identity_uuid",
		},
		{
			name:      "composite key over limit",
			mutate:    func(i *domain.Identity) { i.Identifier = strings.Repeat("x", MaxKeyLength) },
			wantField: "composite_key",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			identity := testIdentity()
			tt.mutate(identity)

			_, err := FromIdentity("env-key-1", identity)
			var mapErr *MappingError
			require.ErrorAs(t, err, &mapErr)
			assert.Equal(t, tt.wantField, mapErr.Field)
		})
	}
}

func TestIdentityDocumentShouldRoundTripThroughItem(t *testing.T) {
	t.Parallel()

	doc, err := FromIdentity("env-key-1", testIdentity())
	require.NoError(t, err)

	parsed, err := ParseIdentityDocument(doc.Item())
	require.NoError(t, err)
	assert.Equal(t, doc, parsed)

	identity := parsed.ToIdentity()
	assert.Equal(t, "user@example.com", identity.Identifier)
	assert.Equal(t, "0b9e1c3e-70f1-4f30-a51d-6e3b3d6a9f01", identity.UUID)
	plan, ok := identity.Traits.Get("plan")
	require.True(t, ok)
	assert.Equal(t, domain.StringValue("pro"), plan)
	require.Len(t, identity.Overrides, 1)
	assert.Equal(t, domain.StringValue("green"), identity.Overrides[0].Value)
}

func TestParseIdentityDocumentShouldPreserveUnknownFields(t *testing.T) {
	t.Parallel()

	doc, err := FromIdentity("env-key-1", testIdentity())
	require.NoError(t, err)

	item := doc.Item()
	item["django_id"] = int64(9001)
	item["dashboard_metadata"] = map[string]any{"starred": true}

	parsed, err := ParseIdentityDocument(item)
	require.NoError(t, err)
	require.NotNil(t, parsed.Unknown)
	assert.Equal(t, int64(9001), parsed.Unknown["django_id"])

	reencoded := parsed.Item()
	assert.Equal(t, int64(9001), reencoded["django_id"])
	assert.Equal(t, map[string]any{"starred": true}, reencoded["dashboard_metadata"])
	// Known fields win over a colliding unknown entry.
	assert.Equal(t, "env-key-1_user@example.com", reencoded["composite_key"])
}

func TestParseIdentityDocumentShouldRejectMalformedItems(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		item      map[string]any
		wantField string
	}{
		{
			name:      "missing composite key",
			item:      map[string]any{"identifier": "u"},
			wantField: "composite_key",
		},
		{
			name:      "missing identifier",
			item:      map[string]any{"composite_key": "k_u"},
			wantField: "identifier",
		},
		{
			name: "bad created date",
			item: map[string]any{
				"composite_key": "k_u",
				"identifier":    "u",
				"created_date":  "yesterday",
			},
			wantField: "created_date",
		},
		{
			name: "trait value of unsupported type",
			item: map[string]any{
				"composite_key": "k_u",
				"identifier":    "u",
				"identity_traits": []any{
					map[string]any{"trait_key": "plan", "trait_value": []any{"pro"}},
				},
			},
			wantField: "identity_traits.trait_value",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := ParseIdentityDocument(tt.item)
			var mapErr *MappingError
			require.ErrorAs(t, err, &mapErr)
			assert.Equal(t, tt.wantField, mapErr.Field)
		})
	}
}

func TestEnvironmentDocumentShouldRoundTripThroughItem(t *testing.T) {
	t.Parallel()

	featureID := int64(7)
	segment := domain.Segment{ID: 3, Name: "power-users", FeatureID: &featureID}
	root := segment.Rules.AddRoot(domain.RuleAll)
	any1 := segment.Rules.AddChild(root, domain.RuleAny,
		domain.Condition{Operator: domain.OpEqual, Property: "plan", Value: "pro"},
		domain.Condition{Operator: domain.OpGreaterThan, Property: "logins", Value: "10"},
	)
	segment.Rules.AddChild(any1, domain.RuleNone,
		domain.Condition{Operator: domain.OpEqual, Property: "banned", Value: "true"},
	)
	segment.FeatureStates = []domain.FeatureState{
		{
			Feature:        testFeature(),
			FeatureSegment: &domain.FeatureSegment{SegmentID: 3, Priority: 1},
			Enabled:        true,
			Value:          domain.StringValue("blue"),
		},
	}

	env := &domain.Environment{
		ID:     11,
		APIKey: "env-key-1",
		Name:   "production",
		Project: domain.Project{
			ID:                5,
			Name:              "web",
			HideDisabledFlags: true,
			EdgeEnabled:       true,
			Organisation:      domain.Organisation{ID: 2, Name: "acme", PersistTraitData: true},
		},
		FeatureStates: []domain.FeatureState{
			{Feature: testFeature(), Enabled: false, Value: domain.NilValue()},
		},
		Segments:  []domain.Segment{segment},
		UpdatedAt: time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC),
	}

	doc, err := FromEnvironment(env)
	require.NoError(t, err)

	parsed, err := ParseEnvironmentDocument(doc.Item())
	require.NoError(t, err)
	assert.Equal(t, doc, parsed)

	restored := parsed.ToEnvironment()
	assert.Equal(t, env.APIKey, restored.APIKey)
	assert.True(t, restored.Project.EdgeEnabled)
	assert.True(t, restored.Project.HideDisabledFlags)
	require.Len(t, restored.Segments, 1)

	got := restored.Segments[0]
	require.NotNil(t, got.FeatureID)
	assert.Equal(t, featureID, *got.FeatureID)
	require.Len(t, got.Rules.Roots(), 1)
	typ, children, _, ok := got.Rules.Rule(got.Rules.Roots()[0])
	require.True(t, ok)
	assert.Equal(t, domain.RuleAll, typ)
	require.Len(t, children, 1)
	typ, children, conds, ok := got.Rules.Rule(children[0])
	require.True(t, ok)
	assert.Equal(t, domain.RuleAny, typ)
	assert.Len(t, conds, 2)
	require.Len(t, children, 1)
	typ, _, conds, ok = got.Rules.Rule(children[0])
	require.True(t, ok)
	assert.Equal(t, domain.RuleNone, typ)
	assert.Len(t, conds, 1)

	require.Len(t, got.FeatureStates, 1)
	require.NotNil(t, got.FeatureStates[0].FeatureSegment)
	assert.Equal(t, int64(3), got.FeatureStates[0].FeatureSegment.SegmentID)
	assert.Equal(t, 1, got.FeatureStates[0].FeatureSegment.Priority)
}

func TestFromEnvironmentShouldRejectEmptyAPIKey(t *testing.T) {
	t.Parallel()

	_, err := FromEnvironment(&domain.Environment{})
	var mapErr *MappingError
	require.ErrorAs(t, err, &mapErr)
	assert.Equal(t, "api_key", mapErr.Field)
}

func TestOverridesFromIdentityShouldDeriveOneDocumentPerState(t *testing.T) {
	t.Parallel()

	doc, err := FromIdentity("env-key-1", testIdentity())
	require.NoError(t, err)

	overrides, err := OverridesFromIdentity(11, doc)
	require.NoError(t, err)
	require.Len(t, overrides, 1)

	o := overrides[0]
	assert.Equal(t, int64(11), o.EnvironmentID)
	assert.Equal(t, "identity_override:7:0b9e1c3e-70f1-4f30-a51d-6e3b3d6a9f01", o.DocumentKey)
	assert.Equal(t, "env-key-1", o.EnvironmentAPIKey)
	assert.Equal(t, "user@example.com", o.Identifier)

	parsed, err := ParseOverrideDocument(o.Item())
	require.NoError(t, err)
	assert.Equal(t, o, parsed)

	fs := parsed.ToFeatureState()
	assert.Equal(t, domain.StringValue("green"), fs.Value)
	assert.True(t, fs.Enabled)
}

func TestAPIKeyDocumentShouldRoundTripThroughItem(t *testing.T) {
	t.Parallel()

	expires := time.Date(2027, 1, 1, 0, 0, 0, 0, time.UTC)
	key := &domain.EnvironmentAPIKey{
		ID:            91,
		EnvironmentID: 11,
		Key:           "ser.key-abc",
		Kind:          domain.APIKeyServer,
		Name:          "ci",
		Active:        true,
		ExpiresAt:     &expires,
		CreatedAt:     time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}

	doc, err := FromAPIKey(key)
	require.NoError(t, err)

	parsed, err := ParseAPIKeyDocument(doc.Item())
	require.NoError(t, err)
	assert.Equal(t, doc, parsed)

	restored := parsed.ToAPIKey()
	assert.Equal(t, key, restored)
}

func TestValueKindsShouldSurviveItemRoundTrip(t *testing.T) {
	t.Parallel()

	identity := testIdentity()
	identity.Traits = domain.Traits{
		{Key: "s", Value: domain.StringValue("hello")},
		{Key: "i", Value: domain.IntValue(-3)},
		{Key: "b", Value: domain.BoolValue(true)},
		{Key: "n", Value: domain.NilValue()},
	}

	doc, err := FromIdentity("env-key-1", identity)
	require.NoError(t, err)

	parsed, err := ParseIdentityDocument(doc.Item())
	require.NoError(t, err)

	restored := parsed.ToIdentity()
	require.Len(t, restored.Traits, 4)
	assert.Equal(t, identity.Traits, restored.Traits)
}
