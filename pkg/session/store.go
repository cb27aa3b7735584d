// Copyright 2025 NovaDrive Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/kaihere14/novadrive/pkg/types"
)

// Store persists upload sessions and their sparse receipt state.
//
// The received-index set is owned exclusively by the store: readers query
// membership, only MarkReceived mutates it, and it never shrinks. No lock is
// taken across processes; idempotency of chunk receipt comes from the
// set-membership uniqueness check.
type Store interface {
	// Create persists a new session with a TTL matching its expiry horizon.
	Create(ctx context.Context, sess *types.UploadSession) error

	// Get loads a session. Returns types.ErrUnknownSession if absent.
	Get(ctx context.Context, sessionID string) (*types.UploadSession, error)

	// SetStatus updates the session status, preserving the remaining TTL.
	SetStatus(ctx context.Context, sessionID string, status types.SessionStatus) error

	// MarkReceived records a receipt for a chunk index. If the index already
	// has a receipt it reports already=true with the existing etag and
	// changes nothing.
	MarkReceived(ctx context.Context, sessionID string, index int, etag string) (already bool, existing string, err error)

	// Receipt returns the stored etag for one chunk index. ok is false when
	// the index has no receipt yet.
	Receipt(ctx context.Context, sessionID string, index int) (etag string, ok bool, err error)

	// ReceivedIndices returns the received set, sorted ascending.
	ReceivedIndices(ctx context.Context, sessionID string) ([]int, error)

	// Receipts returns all receipts, sorted ascending by chunk index.
	Receipts(ctx context.Context, sessionID string) ([]types.Receipt, error)
}

const (
	sessionKeyPrefix = "novadrive:session:"
	chunksSuffix     = ":chunks"
	receiptsSuffix   = ":receipts"
)

// RedisStore implements Store on Redis. Session metadata is a JSON value,
// received indices a set, receipts a hash, all sharing the session TTL.
type RedisStore struct {
	client *redis.Client
}

var _ Store = (*RedisStore)(nil)

// NewRedisStore creates a session store on the given client.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func sessionKey(id string) string  { return sessionKeyPrefix + id }
func chunksKey(id string) string   { return sessionKeyPrefix + id + chunksSuffix }
func receiptsKey(id string) string { return sessionKeyPrefix + id + receiptsSuffix }

func (s *RedisStore) Create(ctx context.Context, sess *types.UploadSession) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	ttl := time.Until(sess.ExpiresAt)
	if ttl <= 0 {
		ttl = time.Second
	}
	if err := s.client.Set(ctx, sessionKey(sess.ID), data, ttl).Err(); err != nil {
		return fmt.Errorf("store session: %w", err)
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, sessionID string) (*types.UploadSession, error) {
	data, err := s.client.Get(ctx, sessionKey(sessionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, types.ErrUnknownSession
	}
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	var sess types.UploadSession
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	return &sess, nil
}

func (s *RedisStore) SetStatus(ctx context.Context, sessionID string, status types.SessionStatus) error {
	sess, err := s.Get(ctx, sessionID)
	if err != nil {
		return err
	}
	sess.Status = status
	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	if err := s.client.Set(ctx, sessionKey(sessionID), data, redis.KeepTTL).Err(); err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	return nil
}

func (s *RedisStore) MarkReceived(ctx context.Context, sessionID string, index int, etag string) (bool, string, error) {
	field := strconv.Itoa(index)

	added, err := s.client.SAdd(ctx, chunksKey(sessionID), index).Result()
	if err != nil {
		return false, "", fmt.Errorf("mark chunk: %w", err)
	}
	if added == 0 {
		existing, err := s.client.HGet(ctx, receiptsKey(sessionID), field).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return false, "", fmt.Errorf("load receipt: %w", err)
		}
		return true, existing, nil
	}

	pipe := s.client.Pipeline()
	pipe.HSet(ctx, receiptsKey(sessionID), field, etag)
	// Receipt state shares the session's expiry horizon.
	pipe.Expire(ctx, chunksKey(sessionID), types.SessionTTL)
	pipe.Expire(ctx, receiptsKey(sessionID), types.SessionTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, "", fmt.Errorf("store receipt: %w", err)
	}
	return false, "", nil
}

func (s *RedisStore) Receipt(ctx context.Context, sessionID string, index int) (string, bool, error) {
	etag, err := s.client.HGet(ctx, receiptsKey(sessionID), strconv.Itoa(index)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("load receipt: %w", err)
	}
	return etag, true, nil
}

func (s *RedisStore) ReceivedIndices(ctx context.Context, sessionID string) ([]int, error) {
	members, err := s.client.SMembers(ctx, chunksKey(sessionID)).Result()
	if err != nil {
		return nil, fmt.Errorf("load chunk set: %w", err)
	}
	indices := make([]int, 0, len(members))
	for _, m := range members {
		i, err := strconv.Atoi(m)
		if err != nil {
			return nil, fmt.Errorf("corrupt chunk index %q: %w", m, err)
		}
		indices = append(indices, i)
	}
	sort.Ints(indices)
	return indices, nil
}

func (s *RedisStore) Receipts(ctx context.Context, sessionID string) ([]types.Receipt, error) {
	fields, err := s.client.HGetAll(ctx, receiptsKey(sessionID)).Result()
	if err != nil {
		return nil, fmt.Errorf("load receipts: %w", err)
	}
	receipts := make([]types.Receipt, 0, len(fields))
	for field, etag := range fields {
		i, err := strconv.Atoi(field)
		if err != nil {
			return nil, fmt.Errorf("corrupt receipt index %q: %w", field, err)
		}
		receipts = append(receipts, types.Receipt{Index: i, ETag: etag})
	}
	sort.Slice(receipts, func(a, b int) bool { return receipts[a].Index < receipts[b].Index })
	return receipts, nil
}
