// Copyright 2025 NovaDrive Authors
// SPDX-License-Identifier: Apache-2.0

// Package quota implements the per-caller rolling-window upload ledger.
//
// Bytes are reserved at declaration time, before any chunk moves: an
// abandoned session keeps its reservation until the window rolls over. The
// ledger is an admission gate in front of session initiation, not a hard cap
// enforced during transfer.
package quota

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/kaihere14/novadrive/pkg/types"
)

// Defaults for the ledger window.
const (
	DefaultLimit  = 2 << 30 // 2 GiB per window
	DefaultWindow = 24 * time.Hour
)

// Config configures the quota ledger.
type Config struct {
	// LimitBytes is the per-caller byte budget per window.
	LimitBytes int64 `mapstructure:"limit_bytes"`

	// Window is the rolling window length. The window starts at the first
	// reservation and the counter expires with it.
	Window time.Duration `mapstructure:"window"`

	// KeyPrefix namespaces ledger keys in Redis.
	KeyPrefix string `mapstructure:"key_prefix"`
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		LimitBytes: DefaultLimit,
		Window:     DefaultWindow,
		KeyPrefix:  "novadrive:quota:",
	}
}

// reserveScript atomically checks and reserves declared bytes.
// The expiry is set only when the key is created, so the window anchors at
// the first write and accumulates until it rolls over.
// Returns: allowed (1 or 0), used bytes before this reservation.
var reserveScript = redis.NewScript(`
local key = KEYS[1]
local size = tonumber(ARGV[1])
local limit = tonumber(ARGV[2])
local window = tonumber(ARGV[3])

local used = tonumber(redis.call("GET", key) or "0")
if used + size > limit then
    return {0, used}
end

local new_used = redis.call("INCRBY", key, size)
if new_used == size then
    redis.call("EXPIRE", key, window)
end

return {1, used}
`)

// Ledger tracks bytes accepted per caller within the rolling window.
type Ledger struct {
	client *redis.Client
	config Config
}

// NewLedger creates a ledger on the given Redis client.
func NewLedger(client *redis.Client, cfg Config) *Ledger {
	if cfg.LimitBytes <= 0 {
		cfg.LimitBytes = DefaultLimit
	}
	if cfg.Window <= 0 {
		cfg.Window = DefaultWindow
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "novadrive:quota:"
	}
	return &Ledger{client: client, config: cfg}
}

// CheckAndReserve admits declaredSize bytes for the caller or returns
// *types.QuotaExceededError. Reservation happens before transfer; there is no
// refund on abandonment.
func (l *Ledger) CheckAndReserve(ctx context.Context, callerID string, declaredSize int64) error {
	key := l.config.KeyPrefix + callerID
	window := int64(l.config.Window.Seconds())

	res, err := reserveScript.Run(ctx, l.client, []string{key},
		declaredSize, l.config.LimitBytes, window,
	).Int64Slice()
	if err != nil {
		return fmt.Errorf("quota reserve: %w", err)
	}

	if res[0] != 1 {
		return &types.QuotaExceededError{
			Limit:     l.config.LimitBytes,
			Used:      res[1],
			Attempted: declaredSize,
		}
	}
	return nil
}

// Used returns the bytes currently reserved for the caller in this window.
func (l *Ledger) Used(ctx context.Context, callerID string) (int64, error) {
	used, err := l.client.Get(ctx, l.config.KeyPrefix+callerID).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("quota read: %w", err)
	}
	return used, nil
}

// Release gives back a reservation. Exists for administrative abort flows;
// nothing in the upload path calls it automatically.
func (l *Ledger) Release(ctx context.Context, callerID string, size int64) error {
	if err := l.client.DecrBy(ctx, l.config.KeyPrefix+callerID, size).Err(); err != nil {
		return fmt.Errorf("quota release: %w", err)
	}
	return nil
}
