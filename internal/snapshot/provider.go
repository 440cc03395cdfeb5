// Package snapshot serves read-only environment snapshots through a layered
// cache: a contention-free in-process L1 (otter, S3-FIFO) in front of a
// shared Redis L2, with the primary store as the read-through source of
// truth. The syncer daemon refreshes both layers on its projection loop;
// resolver-side readers only ever Get.
//
// L2 values are the environment's edge-document form serialized as JSON, so
// the same mapper round trip that feeds the edge store feeds the cache.
package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/maypok86/otter"
	"github.com/redis/go-redis/v9"

	"github.com/flagmesh/flagmesh/internal/config"
	"github.com/flagmesh/flagmesh/internal/domain"
	"github.com/flagmesh/flagmesh/internal/edgedoc"
	"github.com/flagmesh/flagmesh/internal/observability"
)

// keyPrefix namespaces environment snapshot keys in Redis.
// Example: "flagmesh:env:9A2b..."
const keyPrefix = "flagmesh:env:"

// Source loads an environment snapshot from the system of record on a full
// cache miss.
type Source interface {
	GetEnvironment(ctx context.Context, apiKey string) (*domain.Environment, error)
}

// Provider is the layered snapshot cache. The zero value is not usable;
// construct with NewProvider. A nil Redis client degrades to L1-only, which
// is how unit tests and single-node deployments run.
type Provider struct {
	logger   *slog.Logger
	source   Source
	local    otter.Cache[string, *domain.Environment]
	redis    *redis.Client
	redisTTL time.Duration
}

// NewProvider creates a snapshot provider. Source must not be nil; redis may
// be nil to disable the L2 layer.
func NewProvider(log *slog.Logger, cfg config.SnapshotConfig, source Source, redisClient *redis.Client) (*Provider, error) {
	if log == nil {
		log = slog.Default()
	}
	if source == nil {
		panic("snapshot: source cannot be nil")
	}

	local, err := otter.MustBuilder[string, *domain.Environment](cfg.LocalCapacity).
		WithTTL(cfg.LocalTTL).
		Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build local cache: %w", err)
	}

	return &Provider{
		logger:   log,
		source:   source,
		local:    local,
		redis:    redisClient,
		redisTTL: cfg.RedisTTL,
	}, nil
}

// Get returns the environment snapshot for the api key, reading through
// L1 -> L2 -> source. Misses on both layers hit the source and backfill.
func (p *Provider) Get(ctx context.Context, apiKey string) (*domain.Environment, error) {
	if env, found := p.local.Get(apiKey); found {
		observability.SnapshotCacheHits.WithLabelValues("l1").Inc()
		return env, nil
	}

	if env, found := p.getL2(ctx, apiKey); found {
		observability.SnapshotCacheHits.WithLabelValues("l2").Inc()
		p.local.Set(apiKey, env)
		return env, nil
	}

	observability.SnapshotCacheMisses.Inc()
	env, err := p.source.GetEnvironment(ctx, apiKey)
	if err != nil {
		return nil, err
	}
	p.backfill(ctx, apiKey, env)
	return env, nil
}

// Refresh writes the environment snapshot into both layers. The syncer calls
// this on every projection tick so readers stay at most one TTL behind.
func (p *Provider) Refresh(ctx context.Context, env *domain.Environment) error {
	if env == nil {
		return fmt.Errorf("snapshot: environment cannot be nil")
	}
	p.local.Set(env.APIKey, env)

	if p.redis == nil {
		return nil
	}
	payload, err := marshalEnvironment(env)
	if err != nil {
		return err
	}
	if err := p.redis.Set(ctx, keyPrefix+env.APIKey, payload, p.redisTTL).Err(); err != nil {
		return fmt.Errorf("failed to write snapshot for %q: %w", env.APIKey, err)
	}
	return nil
}

// Invalidate drops the snapshot from both layers.
func (p *Provider) Invalidate(ctx context.Context, apiKey string) error {
	p.local.Delete(apiKey)
	if p.redis == nil {
		return nil
	}
	if err := p.redis.Del(ctx, keyPrefix+apiKey).Err(); err != nil {
		return fmt.Errorf("failed to invalidate snapshot for %q: %w", apiKey, err)
	}
	return nil
}

// Close shuts down the local cache and its background cleanup goroutines.
// The Redis client is owned by the caller and stays open.
func (p *Provider) Close() {
	p.local.Close()
}

// RunMetricsCollector periodically publishes the L1 item count. It blocks
// until the context is cancelled.
func (p *Provider) RunMetricsCollector(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			observability.SnapshotCacheUsage.Set(float64(p.local.Size()))
		}
	}
}

// getL2 reads the Redis layer. Any failure is a miss: a broken or corrupt L2
// must never take down the read path, it just costs a source round trip.
func (p *Provider) getL2(ctx context.Context, apiKey string) (*domain.Environment, bool) {
	if p.redis == nil {
		return nil, false
	}
	payload, err := p.redis.Get(ctx, keyPrefix+apiKey).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			p.logger.WarnContext(ctx, "snapshot l2 read failed",
				slog.String("api_key", apiKey),
				slog.Any("error", err))
		}
		return nil, false
	}

	env, err := unmarshalEnvironment(payload)
	if err != nil {
		p.logger.WarnContext(ctx, "snapshot l2 payload corrupt, treating as miss",
			slog.String("api_key", apiKey),
			slog.Any("error", err))
		return nil, false
	}
	return env, true
}

// backfill populates both layers after a source read. Failures are logged
// and swallowed; the caller already has its snapshot.
func (p *Provider) backfill(ctx context.Context, apiKey string, env *domain.Environment) {
	if err := p.Refresh(ctx, env); err != nil {
		p.logger.WarnContext(ctx, "snapshot backfill failed",
			slog.String("api_key", apiKey),
			slog.Any("error", err))
	}
}

func marshalEnvironment(env *domain.Environment) ([]byte, error) {
	doc, err := edgedoc.FromEnvironment(env)
	if err != nil {
		return nil, fmt.Errorf("failed to map environment %q: %w", env.APIKey, err)
	}
	payload, err := json.Marshal(doc.Item())
	if err != nil {
		return nil, fmt.Errorf("failed to marshal environment %q: %w", env.APIKey, err)
	}
	return payload, nil
}

func unmarshalEnvironment(payload []byte) (*domain.Environment, error) {
	var item map[string]any
	if err := json.Unmarshal(payload, &item); err != nil {
		return nil, err
	}
	doc, err := edgedoc.ParseEnvironmentDocument(item)
	if err != nil {
		return nil, err
	}
	return doc.ToEnvironment(), nil
}
