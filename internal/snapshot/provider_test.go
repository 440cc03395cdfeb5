package snapshot_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flagmesh/flagmesh/internal/config"
	"github.com/flagmesh/flagmesh/internal/domain"
	"github.com/flagmesh/flagmesh/internal/snapshot"
)

// stubSource serves a fixed set of environments and counts loads.
type stubSource struct {
	envs  map[string]*domain.Environment
	err   error
	loads atomic.Int64
}

func (s *stubSource) GetEnvironment(_ context.Context, apiKey string) (*domain.Environment, error) {
	s.loads.Add(1)
	if s.err != nil {
		return nil, s.err
	}
	env, ok := s.envs[apiKey]
	if !ok {
		return nil, errors.New("environment not found")
	}
	return env, nil
}

func testEnvironment(apiKey, name string) *domain.Environment {
	return &domain.Environment{
		ID:     11,
		APIKey: apiKey,
		Name:   name,
		Project: domain.Project{
			ID:   5,
			Name: "web",
			Organisation: domain.Organisation{
				ID:               1,
				Name:             "acme",
				PersistTraitData: true,
			},
		},
		UpdatedAt: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
}

func testConfig() config.SnapshotConfig {
	return config.SnapshotConfig{
		LocalTTL:      time.Minute,
		LocalCapacity: 100,
		RedisTTL:      5 * time.Minute,
	}
}

func newTestProvider(t *testing.T, source snapshot.Source) *snapshot.Provider {
	t.Helper()
	p, err := snapshot.NewProvider(nil, testConfig(), source, nil)
	require.NoError(t, err)
	t.Cleanup(p.Close)
	return p
}

func TestProvider_Get(t *testing.T) {
	t.Parallel()

	t.Run("Should read through to the source on a cold cache", func(t *testing.T) {
		t.Parallel()
		source := &stubSource{envs: map[string]*domain.Environment{
			"env-key-1": testEnvironment("env-key-1", "Production"),
		}}
		p := newTestProvider(t, source)

		env, err := p.Get(context.Background(), "env-key-1")
		require.NoError(t, err)
		assert.Equal(t, "Production", env.Name)
		assert.Equal(t, int64(1), source.loads.Load())
	})

	t.Run("Should serve repeated reads from the local layer", func(t *testing.T) {
		t.Parallel()
		source := &stubSource{envs: map[string]*domain.Environment{
			"env-key-1": testEnvironment("env-key-1", "Production"),
		}}
		p := newTestProvider(t, source)

		ctx := context.Background()
		_, err := p.Get(ctx, "env-key-1")
		require.NoError(t, err)

		for range 10 {
			env, err := p.Get(ctx, "env-key-1")
			require.NoError(t, err)
			assert.Equal(t, "Production", env.Name)
		}
		assert.Equal(t, int64(1), source.loads.Load(),
			"only the first read should hit the source")
	})

	t.Run("Should propagate source errors without caching them", func(t *testing.T) {
		t.Parallel()
		source := &stubSource{err: errors.New("database down")}
		p := newTestProvider(t, source)

		ctx := context.Background()
		_, err := p.Get(ctx, "env-key-1")
		assert.Error(t, err)

		_, err = p.Get(ctx, "env-key-1")
		assert.Error(t, err)
		assert.Equal(t, int64(2), source.loads.Load(),
			"errors must not be cached")
	})
}

func TestProvider_Refresh(t *testing.T) {
	t.Parallel()

	t.Run("Should make the refreshed snapshot visible without a source read", func(t *testing.T) {
		t.Parallel()
		source := &stubSource{err: errors.New("source must not be hit")}
		p := newTestProvider(t, source)

		require.NoError(t, p.Refresh(context.Background(), testEnvironment("env-key-1", "Refreshed")))

		env, err := p.Get(context.Background(), "env-key-1")
		require.NoError(t, err)
		assert.Equal(t, "Refreshed", env.Name)
		assert.Zero(t, source.loads.Load())
	})

	t.Run("Should replace a previously cached snapshot", func(t *testing.T) {
		t.Parallel()
		source := &stubSource{envs: map[string]*domain.Environment{
			"env-key-1": testEnvironment("env-key-1", "Old"),
		}}
		p := newTestProvider(t, source)

		ctx := context.Background()
		_, err := p.Get(ctx, "env-key-1")
		require.NoError(t, err)

		require.NoError(t, p.Refresh(ctx, testEnvironment("env-key-1", "New")))

		env, err := p.Get(ctx, "env-key-1")
		require.NoError(t, err)
		assert.Equal(t, "New", env.Name)
	})

	t.Run("Should reject a nil environment", func(t *testing.T) {
		t.Parallel()
		p := newTestProvider(t, &stubSource{})
		assert.Error(t, p.Refresh(context.Background(), nil))
	})
}

func TestProvider_Invalidate(t *testing.T) {
	t.Parallel()

	source := &stubSource{envs: map[string]*domain.Environment{
		"env-key-1": testEnvironment("env-key-1", "Production"),
	}}
	p := newTestProvider(t, source)

	ctx := context.Background()
	_, err := p.Get(ctx, "env-key-1")
	require.NoError(t, err)
	require.NoError(t, p.Invalidate(ctx, "env-key-1"))

	_, err = p.Get(ctx, "env-key-1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), source.loads.Load(),
		"invalidation must force a source reload")
}

func TestNewProvider_NilSource(t *testing.T) {
	t.Parallel()
	assert.Panics(t, func() {
		_, _ = snapshot.NewProvider(nil, testConfig(), nil, nil)
	})
}
