package migration

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flagmesh/flagmesh/internal/domain"
	"github.com/flagmesh/flagmesh/internal/edgedoc"
	"github.com/flagmesh/flagmesh/internal/edgestore"
	"github.com/flagmesh/flagmesh/internal/edgesync"
)

// fakeProjectStore implements ProjectStore in memory with the same
// conditional-update semantics the Postgres store provides.
type fakeProjectStore struct {
	mu          sync.Mutex
	meta        map[int64]Metadata
	edgeEnabled map[int64]bool
	envs        map[int64][]*domain.Environment
	keys        map[int64][]*domain.EnvironmentAPIKey
	identities  map[int64][]*domain.Identity
}

func newFakeProjectStore() *fakeProjectStore {
	return &fakeProjectStore{
		meta:        make(map[int64]Metadata),
		edgeEnabled: make(map[int64]bool),
		envs:        make(map[int64][]*domain.Environment),
		keys:        make(map[int64][]*domain.EnvironmentAPIKey),
		identities:  make(map[int64][]*domain.Identity),
	}
}

func (f *fakeProjectStore) GetMigrationMetadata(_ context.Context, projectID int64) (Metadata, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m := f.meta[projectID]
	m.ProjectID = projectID
	return m, nil
}

func (f *fakeProjectStore) TriggerMigration(_ context.Context, projectID int64, at time.Time) (Metadata, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, err := f.meta[projectID].Trigger(at)
	if err != nil {
		return m, err
	}
	f.meta[projectID] = m
	return m, nil
}

func (f *fakeProjectStore) StartMigration(_ context.Context, projectID int64, at time.Time) (Metadata, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, err := f.meta[projectID].Start(at)
	if err != nil {
		return m, err
	}
	f.meta[projectID] = m
	return m, nil
}

func (f *fakeProjectStore) FinishMigration(_ context.Context, projectID int64, at time.Time) (Metadata, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, err := f.meta[projectID].Finish(at)
	if err != nil {
		return m, err
	}
	f.meta[projectID] = m
	return m, nil
}

func (f *fakeProjectStore) SetProjectEdgeEnabled(_ context.Context, projectID int64, enabled bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.edgeEnabled[projectID] = enabled
	return nil
}

func (f *fakeProjectStore) ListProjectEnvironments(_ context.Context, projectID int64) ([]*domain.Environment, error) {
	return f.envs[projectID], nil
}

func (f *fakeProjectStore) ListProjectAPIKeys(_ context.Context, projectID int64) ([]*domain.EnvironmentAPIKey, error) {
	return f.keys[projectID], nil
}

func (f *fakeProjectStore) IterateIdentities(_ context.Context, environmentID int64) (IdentityIterator, error) {
	return &sliceIterator{identities: f.identities[environmentID]}, nil
}

type sliceIterator struct {
	identities []*domain.Identity
	pos        int
}

func (it *sliceIterator) Next(context.Context) (*domain.Identity, bool, error) {
	if it.pos >= len(it.identities) {
		return nil, false, nil
	}
	identity := it.identities[it.pos]
	it.pos++
	return identity, true, nil
}

func (it *sliceIterator) Close() {}

func migrationFixture() (*fakeProjectStore, *edgestore.MemoryStore, *Controller) {
	store := newFakeProjectStore()

	feature := domain.Feature{ID: 7, ProjectID: 5, Name: "checkout_banner", Type: domain.FeatureStandard, Kind: domain.FeatureKindFlag}
	env := &domain.Environment{
		ID:     11,
		APIKey: "env-key-1",
		Name:   "production",
		Project: domain.Project{
			ID:           5,
			Name:         "web",
			Organisation: domain.Organisation{ID: 2, Name: "acme"},
		},
		FeatureStates: []domain.FeatureState{{Feature: feature, Enabled: true, Value: domain.StringValue("on")}},
	}
	store.envs[5] = []*domain.Environment{env}
	store.keys[5] = []*domain.EnvironmentAPIKey{
		{ID: 91, EnvironmentID: 11, Key: "ser.extra", Kind: domain.APIKeyServer, Active: true, CreatedAt: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)},
	}

	identityID := int64(42)
	for i := 0; i < 3; i++ {
		identity := &domain.Identity{
			ID:          identityID + int64(i),
			UUID:        fmt.Sprintf("uuid-%d", i),
			Identifier:  fmt.Sprintf("user-%d", i),
			CreatedDate: time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC),
		}
		if i == 0 {
			overrideID := identity.ID
			identity.Overrides = []domain.FeatureState{
				{Feature: feature, IdentityID: &overrideID, Enabled: false, Value: domain.NilValue()},
			}
		}
		store.identities[11] = append(store.identities[11], identity)
	}

	edge := edgestore.NewMemoryStore()
	edge.CreateTable("environments", "api_key")
	edge.CreateTable("identities", "composite_key")
	edge.CreateTable("overrides", "environment_id", "document_key")
	edge.CreateTable("api_keys", "key")

	engine := edgesync.New(nil, edgesync.Config{Workers: 2, ChunkRetries: 2, RetryBaseDelay: time.Millisecond}, edge, edgesync.Tables{
		Environments: "environments",
		Identities:   "identities",
		Overrides:    "overrides",
		APIKeys:      "api_keys",
	})

	return store, edge, NewController(nil, store, engine)
}

func TestTriggerShouldScheduleOnce(t *testing.T) {
	t.Parallel()

	store, _, controller := migrationFixture()

	meta, err := controller.Trigger(context.Background(), 5)
	require.NoError(t, err)
	assert.Equal(t, StatusScheduled, meta.Status())

	_, err = controller.Trigger(context.Background(), 5)
	assert.ErrorIs(t, err, ErrAlreadyTriggered)

	got, err := store.GetMigrationMetadata(context.Background(), 5)
	require.NoError(t, err)
	assert.Equal(t, StatusScheduled, got.Status())
}

func TestMigrateShouldProjectEverythingAndComplete(t *testing.T) {
	t.Parallel()

	store, edge, controller := migrationFixture()

	require.NoError(t, controller.Migrate(context.Background(), 5))

	meta, err := controller.Status(context.Background(), 5)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, meta.Status())
	require.NotNil(t, meta.LastTransition())
	assert.True(t, store.edgeEnabled[5])

	assert.Equal(t, 1, edge.Len("environments"))
	assert.Equal(t, 1, edge.Len("api_keys"))
	assert.Equal(t, 3, edge.Len("identities"))
	assert.Equal(t, 1, edge.Len("overrides"), "only identity 0 carries an override")

	item, err := edge.Get(context.Background(), "overrides", edgestore.Item{
		"environment_id": int64(11),
		"document_key":   edgedoc.OverrideDocumentKey(7, "uuid-0"),
	})
	require.NoError(t, err)
	doc, err := edgedoc.ParseOverrideDocument(item)
	require.NoError(t, err)
	assert.Equal(t, "user-0", doc.Identifier)
	assert.False(t, doc.FeatureState.Enabled)
}

func TestMigrateShouldRejectRepeatedRuns(t *testing.T) {
	t.Parallel()

	_, _, controller := migrationFixture()

	require.NoError(t, controller.Migrate(context.Background(), 5))

	err := controller.Migrate(context.Background(), 5)
	assert.ErrorIs(t, err, ErrAlreadyFinished)
}

func TestMigrateShouldSkipUnmappableIdentities(t *testing.T) {
	t.Parallel()

	store, edge, controller := migrationFixture()
	store.identities[11] = append(store.identities[11], &domain.Identity{
		ID:   99,
		UUID: "uuid-broken",
		// Identifier deliberately empty: mapping fails, record is skipped.
	})

	require.NoError(t, controller.Migrate(context.Background(), 5))

	meta, err := controller.Status(context.Background(), 5)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, meta.Status())
	assert.Equal(t, 3, edge.Len("identities"), "broken record skipped, not fatal")
}

func TestMigrateShouldBackfillMissingIdentityUUIDs(t *testing.T) {
	t.Parallel()

	store, edge, controller := migrationFixture()
	store.identities[11] = []*domain.Identity{{ID: 1, Identifier: "no-uuid-yet"}}

	require.NoError(t, controller.Migrate(context.Background(), 5))

	item, err := edge.Get(context.Background(), "identities", edgestore.Item{
		"composite_key": edgedoc.CompositeKey("env-key-1", "no-uuid-yet"),
	})
	require.NoError(t, err)
	doc, err := edgedoc.ParseIdentityDocument(item)
	require.NoError(t, err)
	assert.NotEmpty(t, doc.IdentityUUID)
}

func TestMigrateShouldLeaveProjectInProgressOnSyncFailure(t *testing.T) {
	t.Parallel()

	_, edge, controller := migrationFixture()
	edge.WriteHook = func(table string, batch edgestore.Batch) error {
		if table == "identities" {
			return fmt.Errorf("access denied")
		}
		return nil
	}

	err := controller.Migrate(context.Background(), 5)
	require.Error(t, err)

	meta, statusErr := controller.Status(context.Background(), 5)
	require.NoError(t, statusErr)
	assert.Equal(t, StatusInProgress, meta.Status())

	// Retrying a stuck migration is an operator decision, not automatic.
	assert.ErrorIs(t, controller.Migrate(context.Background(), 5), ErrAlreadyStarted)
}

func TestMigrateShouldFailWhenEdgeStoreDisabled(t *testing.T) {
	t.Parallel()

	store := newFakeProjectStore()
	store.envs[5] = []*domain.Environment{{ID: 11, APIKey: "env-key-1", Project: domain.Project{ID: 5}}}
	engine := edgesync.New(nil, edgesync.Config{}, edgestore.NewDisabled(), edgesync.Tables{})
	controller := NewController(nil, store, engine)

	err := controller.Migrate(context.Background(), 5)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not configured")
}
