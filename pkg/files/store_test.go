// Copyright 2025 NovaDrive Authors
// SPDX-License-Identifier: Apache-2.0

package files

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kaihere14/novadrive/pkg/types"
)

func newFile(id string) *types.FileRecord {
	now := time.Now()
	return &types.FileRecord{
		ID:        id,
		OwnerID:   "owner-1",
		Name:      "report.pdf",
		MimeType:  "application/pdf",
		Size:      1024,
		ObjectKey: "uploads/owner-1/" + id + "/report.pdf",
		Tags:      []string{},
		AIStatus:  types.AIPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestMemoryStore_ForwardOnlyTransitions(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	require.NoError(t, store.Create(ctx, newFile("f1")))

	// completed before processing: refused.
	require.ErrorIs(t, store.SetEnrichment(ctx, "f1", []string{"a"}, "s"), types.ErrTerminalState)

	require.NoError(t, store.SetAIProcessing(ctx, "f1"))
	// processing twice: refused.
	require.ErrorIs(t, store.SetAIProcessing(ctx, "f1"), types.ErrTerminalState)

	require.NoError(t, store.SetEnrichment(ctx, "f1", []string{"tag1", "tag2", "tag3"}, "a summary"))

	got, err := store.Get(ctx, "f1")
	require.NoError(t, err)
	assert.Equal(t, types.AICompleted, got.AIStatus)
	assert.Equal(t, []string{"tag1", "tag2", "tag3"}, got.Tags)
	assert.Equal(t, "a summary", got.Summary)
}

func TestMemoryStore_TerminalIsImmutable(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	require.NoError(t, store.Create(ctx, newFile("f1")))
	require.NoError(t, store.SetAIProcessing(ctx, "f1"))
	require.NoError(t, store.SetEnrichment(ctx, "f1", []string{"a", "b", "c"}, "done"))

	// No pipeline job may mutate a terminal record.
	require.ErrorIs(t, store.SetAIFailed(ctx, "f1"), types.ErrTerminalState)
	require.ErrorIs(t, store.SetEnrichment(ctx, "f1", []string{"x"}, "other"), types.ErrTerminalState)

	got, err := store.Get(ctx, "f1")
	require.NoError(t, err)
	assert.Equal(t, types.AICompleted, got.AIStatus)
	assert.Equal(t, "done", got.Summary)
}

func TestMemoryStore_FailedIsTerminal(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	require.NoError(t, store.Create(ctx, newFile("f1")))
	require.NoError(t, store.SetAIFailed(ctx, "f1"))

	require.ErrorIs(t, store.SetAIProcessing(ctx, "f1"), types.ErrTerminalState)
	require.ErrorIs(t, store.SetAIFailed(ctx, "f1"), types.ErrTerminalState)

	got, err := store.Get(ctx, "f1")
	require.NoError(t, err)
	assert.Equal(t, types.AIFailed, got.AIStatus)
}

func TestMemoryStore_NotFound(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	_, err := store.Get(ctx, "missing")
	require.ErrorIs(t, err, ErrNotFound)
	require.ErrorIs(t, store.SetAIProcessing(ctx, "missing"), ErrNotFound)
}

func TestMemoryStore_GetReturnsCopy(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	require.NoError(t, store.Create(ctx, newFile("f1")))
	require.NoError(t, store.SetAIProcessing(ctx, "f1"))
	require.NoError(t, store.SetEnrichment(ctx, "f1", []string{"a", "b", "c"}, "s"))

	got, err := store.Get(ctx, "f1")
	require.NoError(t, err)
	got.Tags[0] = "mutated"

	again, err := store.Get(ctx, "f1")
	require.NoError(t, err)
	assert.Equal(t, "a", again.Tags[0])
}

func TestMemoryStore_TransitionsBumpUpdatedAt(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	file := newFile("f1")
	file.UpdatedAt = time.Now().Add(-time.Hour)
	require.NoError(t, store.Create(ctx, file))

	require.NoError(t, store.SetAIProcessing(ctx, "f1"))
	afterClaim, err := store.Get(ctx, "f1")
	require.NoError(t, err)
	assert.True(t, afterClaim.UpdatedAt.After(file.UpdatedAt))

	require.NoError(t, store.SetEnrichment(ctx, "f1", []string{"a", "b", "c"}, "s"))
	afterEnrich, err := store.Get(ctx, "f1")
	require.NoError(t, err)
	assert.True(t, afterEnrich.UpdatedAt.After(afterClaim.UpdatedAt) || afterEnrich.UpdatedAt.Equal(afterClaim.UpdatedAt))

	// A refused transition mutates nothing, timestamp included.
	require.ErrorIs(t, store.SetAIFailed(ctx, "f1"), types.ErrTerminalState)
	unchanged, err := store.Get(ctx, "f1")
	require.NoError(t, err)
	assert.Equal(t, afterEnrich.UpdatedAt, unchanged.UpdatedAt)
}
