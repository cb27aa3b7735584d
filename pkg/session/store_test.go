// Copyright 2025 NovaDrive Authors
// SPDX-License-Identifier: Apache-2.0

package session_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kaihere14/novadrive/pkg/session"
	"github.com/kaihere14/novadrive/pkg/types"
)

func newStore(t *testing.T) (*session.RedisStore, *miniredis.Miniredis) {
	t.Helper()
	s := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	t.Cleanup(func() { client.Close() })
	return session.NewRedisStore(client), s
}

func testSession(id string) *types.UploadSession {
	now := time.Now()
	return &types.UploadSession{
		ID:          id,
		OwnerID:     "owner-1",
		FileName:    "a.bin",
		FileSize:    10 * types.MinChunkSize,
		ChunkSize:   types.MinChunkSize,
		TotalChunks: 10,
		ObjectKey:   "uploads/owner-1/" + id + "/a.bin",
		UploadID:    "up-" + id,
		Status:      types.SessionInitiated,
		CreatedAt:   now,
		ExpiresAt:   now.Add(types.SessionTTL),
	}
}

func TestRedisStore_CreateGetRoundTrip(t *testing.T) {
	store, _ := newStore(t)
	ctx := context.Background()

	sess := testSession("s1")
	require.NoError(t, store.Create(ctx, sess))

	got, err := store.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, sess.ObjectKey, got.ObjectKey)
	assert.Equal(t, sess.TotalChunks, got.TotalChunks)
	assert.Equal(t, types.SessionInitiated, got.Status)

	_, err = store.Get(ctx, "missing")
	assert.ErrorIs(t, err, types.ErrUnknownSession)
}

func TestRedisStore_SessionAgesOut(t *testing.T) {
	store, mr := newStore(t)
	ctx := context.Background()

	require.NoError(t, store.Create(ctx, testSession("s1")))

	mr.FastForward(types.SessionTTL + time.Minute)

	_, err := store.Get(ctx, "s1")
	assert.ErrorIs(t, err, types.ErrUnknownSession)
}

func TestRedisStore_SetStatusKeepsTTL(t *testing.T) {
	store, mr := newStore(t)
	ctx := context.Background()

	require.NoError(t, store.Create(ctx, testSession("s1")))
	require.NoError(t, store.SetStatus(ctx, "s1", types.SessionUploading))

	got, err := store.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, types.SessionUploading, got.Status)

	// The status write must not clear the expiry.
	ttl := mr.TTL("novadrive:session:s1")
	assert.Greater(t, ttl, time.Duration(0))

	assert.ErrorIs(t, store.SetStatus(ctx, "missing", types.SessionFailed), types.ErrUnknownSession)
}

func TestRedisStore_MarkReceivedOnce(t *testing.T) {
	store, _ := newStore(t)
	ctx := context.Background()

	require.NoError(t, store.Create(ctx, testSession("s1")))

	already, _, err := store.MarkReceived(ctx, "s1", 3, "etag-3")
	require.NoError(t, err)
	assert.False(t, already)

	already, existing, err := store.MarkReceived(ctx, "s1", 3, "etag-other")
	require.NoError(t, err)
	assert.True(t, already)
	assert.Equal(t, "etag-3", existing, "first receipt wins")

	indices, err := store.ReceivedIndices(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, []int{3}, indices)
}

func TestRedisStore_ReceiptsSortedByIndex(t *testing.T) {
	store, _ := newStore(t)
	ctx := context.Background()

	require.NoError(t, store.Create(ctx, testSession("s1")))
	for _, idx := range []int{7, 0, 3, 9, 1} {
		_, _, err := store.MarkReceived(ctx, "s1", idx, "etag")
		require.NoError(t, err)
	}

	indices, err := store.ReceivedIndices(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 3, 7, 9}, indices)

	receipts, err := store.Receipts(ctx, "s1")
	require.NoError(t, err)
	for i := 1; i < len(receipts); i++ {
		assert.Less(t, receipts[i-1].Index, receipts[i].Index)
	}
}

func TestRedisStore_ReceiptLookup(t *testing.T) {
	store, _ := newStore(t)
	ctx := context.Background()

	require.NoError(t, store.Create(ctx, testSession("s1")))

	_, ok, err := store.Receipt(ctx, "s1", 2)
	require.NoError(t, err)
	assert.False(t, ok, "no receipt before the chunk lands")

	_, _, err = store.MarkReceived(ctx, "s1", 2, "etag-2")
	require.NoError(t, err)

	etag, ok, err := store.Receipt(ctx, "s1", 2)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "etag-2", etag)
}
