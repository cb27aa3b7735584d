// Copyright 2025 NovaDrive Authors
// SPDX-License-Identifier: Apache-2.0

package types

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSessionStatus_Terminal(t *testing.T) {
	t.Parallel()

	assert.False(t, SessionInitiated.Terminal())
	assert.False(t, SessionUploading.Terminal())
	assert.False(t, SessionMerging.Terminal())
	assert.True(t, SessionCompleted.Terminal())
	assert.True(t, SessionFailed.Terminal())
	assert.True(t, SessionExpired.Terminal())
}

func TestPlanChunks(t *testing.T) {
	t.Parallel()

	tests := []struct {
		size, chunkSize int64
		want            int
	}{
		{1, DefaultChunkSize, 1},
		{DefaultChunkSize, DefaultChunkSize, 1},
		{DefaultChunkSize + 1, DefaultChunkSize, 2},
		{22 * 1024 * 1024, DefaultChunkSize, 5},
		{100, 0, 0},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, PlanChunks(tc.size, tc.chunkSize))
	}
}

func TestChunkRange_LastChunkShort(t *testing.T) {
	t.Parallel()

	size := int64(22 * 1024 * 1024)

	off, n := ChunkRange(0, size, DefaultChunkSize)
	assert.Equal(t, int64(0), off)
	assert.Equal(t, int64(DefaultChunkSize), n)

	off, n = ChunkRange(4, size, DefaultChunkSize)
	assert.Equal(t, int64(4*DefaultChunkSize), off)
	assert.Equal(t, int64(2*1024*1024), n)
}

func TestUploadSession_ExpiredAt(t *testing.T) {
	t.Parallel()

	now := time.Now()
	sess := &UploadSession{ExpiresAt: now.Add(time.Hour)}
	assert.False(t, sess.ExpiredAt(now))
	assert.False(t, sess.ExpiredAt(now.Add(time.Hour)))
	assert.True(t, sess.ExpiredAt(now.Add(time.Hour+time.Second)))
}

func TestAIStatus_Terminal(t *testing.T) {
	t.Parallel()

	assert.False(t, AIPending.Terminal())
	assert.False(t, AIProcessing.Terminal())
	assert.True(t, AICompleted.Terminal())
	assert.True(t, AIFailed.Terminal())
}
