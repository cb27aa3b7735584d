// Copyright 2025 NovaDrive Authors
// SPDX-License-Identifier: Apache-2.0

package taskqueue_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/kaihere14/novadrive/pkg/taskqueue"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryQueue_EnqueueDequeue(t *testing.T) {
	t.Parallel()

	q := taskqueue.NewMemoryQueue()
	defer q.Close()
	ctx := context.Background()

	task := &taskqueue.Task{Type: taskqueue.TaskTypeExtract}
	require.NoError(t, q.Enqueue(ctx, task))
	assert.NotEmpty(t, task.ID)
	assert.Equal(t, taskqueue.StatusPending, task.Status)

	got, err := q.Dequeue(ctx, "w1", taskqueue.TaskTypeExtract)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, task.ID, got.ID)
	assert.Equal(t, taskqueue.StatusRunning, got.Status)
	assert.Equal(t, "w1", got.WorkerID)

	// A running task is not handed out again.
	again, err := q.Dequeue(ctx, "w2", taskqueue.TaskTypeExtract)
	require.NoError(t, err)
	assert.Nil(t, again)
}

func TestMemoryQueue_DequeueFiltersByType(t *testing.T) {
	t.Parallel()

	q := taskqueue.NewMemoryQueue()
	defer q.Close()
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, &taskqueue.Task{Type: taskqueue.TaskTypeTagImage}))

	got, err := q.Dequeue(ctx, "w1", taskqueue.TaskTypeExtract)
	require.NoError(t, err)
	assert.Nil(t, got)

	got, err = q.Dequeue(ctx, "w1", taskqueue.TaskTypeTagImage, taskqueue.TaskTypeTagDocument)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, taskqueue.TaskTypeTagImage, got.Type)
}

func TestMemoryQueue_DequeueOldestFirst(t *testing.T) {
	t.Parallel()

	q := taskqueue.NewMemoryQueue()
	defer q.Close()
	ctx := context.Background()

	now := time.Now()
	newer := &taskqueue.Task{Type: taskqueue.TaskTypeExtract, ScheduledAt: now.Add(-time.Minute)}
	older := &taskqueue.Task{Type: taskqueue.TaskTypeExtract, ScheduledAt: now.Add(-time.Hour)}
	require.NoError(t, q.Enqueue(ctx, newer))
	require.NoError(t, q.Enqueue(ctx, older))

	got, err := q.Dequeue(ctx, "w1", taskqueue.TaskTypeExtract)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, older.ID, got.ID)
}

func TestMemoryQueue_Complete(t *testing.T) {
	t.Parallel()

	q := taskqueue.NewMemoryQueue()
	defer q.Close()
	ctx := context.Background()

	task := &taskqueue.Task{Type: taskqueue.TaskTypeExtract}
	require.NoError(t, q.Enqueue(ctx, task))
	_, err := q.Dequeue(ctx, "w1", taskqueue.TaskTypeExtract)
	require.NoError(t, err)

	require.NoError(t, q.Complete(ctx, task.ID))

	got, err := q.Get(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, taskqueue.StatusCompleted, got.Status)
	assert.NotNil(t, got.CompletedAt)

	assert.ErrorIs(t, q.Complete(ctx, "missing"), taskqueue.ErrTaskNotFound)
}

func TestMemoryQueue_FailRequeuesWithBackoff(t *testing.T) {
	t.Parallel()

	q := taskqueue.NewMemoryQueue()
	defer q.Close()
	ctx := context.Background()

	task := &taskqueue.Task{Type: taskqueue.TaskTypeExtract, MaxRetries: 3}
	require.NoError(t, q.Enqueue(ctx, task))
	_, err := q.Dequeue(ctx, "w1", taskqueue.TaskTypeExtract)
	require.NoError(t, err)

	require.NoError(t, q.Fail(ctx, task.ID, errors.New("model call timed out")))

	got, err := q.Get(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, taskqueue.StatusPending, got.Status)
	assert.Equal(t, 1, got.Attempts)
	assert.Equal(t, "model call timed out", got.LastError)
	assert.True(t, got.RetryAfter.After(time.Now()))

	// Not eligible again until the backoff elapses.
	again, err := q.Dequeue(ctx, "w1", taskqueue.TaskTypeExtract)
	require.NoError(t, err)
	assert.Nil(t, again)
}

func TestMemoryQueue_FailMovesToDeadLetter(t *testing.T) {
	t.Parallel()

	q := taskqueue.NewMemoryQueue()
	defer q.Close()
	ctx := context.Background()

	task := &taskqueue.Task{Type: taskqueue.TaskTypeTagGeneric, MaxRetries: 1}
	require.NoError(t, q.Enqueue(ctx, task))
	_, err := q.Dequeue(ctx, "w1", taskqueue.TaskTypeTagGeneric)
	require.NoError(t, err)

	require.NoError(t, q.Fail(ctx, task.ID, errors.New("boom")))

	got, err := q.Get(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, taskqueue.StatusDeadLetter, got.Status)

	again, err := q.Dequeue(ctx, "w1", taskqueue.TaskTypeTagGeneric)
	require.NoError(t, err)
	assert.Nil(t, again)
}

func TestMemoryQueue_Stats(t *testing.T) {
	t.Parallel()

	q := taskqueue.NewMemoryQueue()
	defer q.Close()
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, &taskqueue.Task{Type: taskqueue.TaskTypeExtract}))
	require.NoError(t, q.Enqueue(ctx, &taskqueue.Task{Type: taskqueue.TaskTypeExtract}))
	require.NoError(t, q.Enqueue(ctx, &taskqueue.Task{Type: taskqueue.TaskTypeTagDocument}))

	_, err := q.Dequeue(ctx, "w1", taskqueue.TaskTypeTagDocument)
	require.NoError(t, err)

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.Pending)
	assert.Equal(t, int64(1), stats.Running)
	assert.Equal(t, int64(2), stats.ByType[taskqueue.TaskTypeExtract])
	assert.NotNil(t, stats.OldestPending)
}

func TestMemoryQueue_Cleanup(t *testing.T) {
	t.Parallel()

	q := taskqueue.NewMemoryQueue()
	defer q.Close()
	ctx := context.Background()

	old := &taskqueue.Task{Type: taskqueue.TaskTypeExtract}
	require.NoError(t, q.Enqueue(ctx, old))
	_, err := q.Dequeue(ctx, "w1", taskqueue.TaskTypeExtract)
	require.NoError(t, err)
	require.NoError(t, q.Complete(ctx, old.ID))

	// Completed just now, nothing old enough to remove.
	n, err := q.Cleanup(ctx, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	n, err = q.Cleanup(ctx, -time.Second)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = q.Get(ctx, old.ID)
	assert.ErrorIs(t, err, taskqueue.ErrTaskNotFound)
}

func TestMemoryQueue_Closed(t *testing.T) {
	t.Parallel()

	q := taskqueue.NewMemoryQueue()
	require.NoError(t, q.Close())

	err := q.Enqueue(context.Background(), &taskqueue.Task{Type: taskqueue.TaskTypeExtract})
	assert.ErrorIs(t, err, taskqueue.ErrQueueClosed)

	_, err = q.Dequeue(context.Background(), "w1")
	assert.ErrorIs(t, err, taskqueue.ErrQueueClosed)
}

func TestMarshalPayloadRoundTrip(t *testing.T) {
	t.Parallel()

	type payload struct {
		FileID string `json:"file_id"`
	}

	raw, err := taskqueue.MarshalPayload(payload{FileID: "f-1"})
	require.NoError(t, err)

	got, err := taskqueue.UnmarshalPayload[payload](raw)
	require.NoError(t, err)
	assert.Equal(t, "f-1", got.FileID)
}
