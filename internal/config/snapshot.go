package config

import "time"

// SnapshotConfig tunes the layered environment snapshot cache: a small
// in-process L1 in front of a shared Redis L2.
type SnapshotConfig struct {
	LocalTTL      time.Duration `envconfig:"LOCAL_TTL" default:"30s" validate:"gt=0"`
	LocalCapacity int           `envconfig:"LOCAL_CAPACITY" default:"10000" validate:"min=1"`
	RedisTTL      time.Duration `envconfig:"REDIS_TTL" default:"5m" validate:"gt=0"`
}
