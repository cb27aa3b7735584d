// Copyright 2025 NovaDrive Authors
// SPDX-License-Identifier: Apache-2.0

// Package fingerprint implements the short-window content-hash dedup index.
//
// A fingerprint is a sha256 over the leading 4 MiB of the file only. Two
// files sharing an identical prefix but differing later collide; the index is
// a narrow-window guard against accidental double submission, not a
// content-addressed store, so the false-positive risk is accepted and the
// record TTL is kept short.
package fingerprint

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/minio/sha256-simd"
	"github.com/redis/go-redis/v9"

	"github.com/kaihere14/novadrive/pkg/types"
)

// DefaultTTL is the fingerprint record lifetime. Deliberately minutes, not
// hours: much shorter than the session TTL.
const DefaultTTL = 15 * time.Minute

// Compute reads at most the fingerprint prefix from r and returns the
// hex-encoded sha256 of it.
func Compute(r io.Reader) (string, error) {
	h := sha256.New()
	if _, err := io.Copy(h, io.LimitReader(r, types.FingerprintPrefix)); err != nil {
		return "", fmt.Errorf("fingerprint: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Index maps (owner, declared size, fingerprint) to an upload session id
// with an absolute TTL.
type Index struct {
	client *redis.Client
	ttl    time.Duration
}

// NewIndex creates an Index on the given Redis client.
func NewIndex(client *redis.Client, ttl time.Duration) *Index {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Index{client: client, ttl: ttl}
}

func (i *Index) key(ownerID string, size int64, fp string) string {
	return fmt.Sprintf("novadrive:fp:%s:%d:%s", ownerID, size, fp)
}

// Check returns the session id bound to the fingerprint, if any.
func (i *Index) Check(ctx context.Context, ownerID string, size int64, fp string) (string, bool, error) {
	sessionID, err := i.client.Get(ctx, i.key(ownerID, size, fp)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("fingerprint check: %w", err)
	}
	return sessionID, true, nil
}

// Bind points the fingerprint at a session. A later Bind for the same
// fingerprint overwrites the earlier one and refreshes the TTL.
func (i *Index) Bind(ctx context.Context, ownerID string, size int64, fp, sessionID string) error {
	if err := i.client.Set(ctx, i.key(ownerID, size, fp), sessionID, i.ttl).Err(); err != nil {
		return fmt.Errorf("fingerprint bind: %w", err)
	}
	return nil
}

// Release deletes the fingerprint record. Called when the session completes;
// records otherwise age out on their own.
func (i *Index) Release(ctx context.Context, ownerID string, size int64, fp string) error {
	if err := i.client.Del(ctx, i.key(ownerID, size, fp)).Err(); err != nil {
		return fmt.Errorf("fingerprint release: %w", err)
	}
	return nil
}
