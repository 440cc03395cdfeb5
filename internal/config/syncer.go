package config

import (
	"fmt"
	"time"
)

// SyncerConfig contains configuration for the Syncer worker service and the
// edge sync write path it drives.
type SyncerConfig struct {
	Enabled  bool          `envconfig:"ENABLED" default:"true"`
	Interval time.Duration `envconfig:"INTERVAL" default:"30s" validate:"gt=0"`

	// Write path tuning. Workers bounds concurrent chunk dispatch; chunks
	// that fail transiently are retried with exponential backoff.
	Workers        int           `envconfig:"WORKERS" default:"4" validate:"min=1"`
	ChunkRetries   int           `envconfig:"CHUNK_RETRIES" default:"3" validate:"min=0"`
	RetryBaseDelay time.Duration `envconfig:"RETRY_BASE_DELAY" default:"100ms"`
}

// Validate performs validation on the SyncerConfig.
func (c *SyncerConfig) Validate() error {
	if c.RetryBaseDelay <= 0 {
		return fmt.Errorf("syncer retry base delay must be positive, got %s", c.RetryBaseDelay)
	}
	return nil
}
