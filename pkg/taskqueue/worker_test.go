// Copyright 2025 NovaDrive Authors
// SPDX-License-Identifier: Apache-2.0

package taskqueue_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kaihere14/novadrive/pkg/taskqueue"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

// testHandler implements Handler for testing
type testHandler struct {
	taskType taskqueue.TaskType
	handleFn func(ctx context.Context, task *taskqueue.Task) error
}

func (h *testHandler) Type() taskqueue.TaskType {
	return h.taskType
}

func (h *testHandler) Handle(ctx context.Context, task *taskqueue.Task) error {
	if h.handleFn != nil {
		return h.handleFn(ctx, task)
	}
	return nil
}

func TestWorker_NewWorker(t *testing.T) {
	t.Parallel()

	q := taskqueue.NewMemoryQueue()
	defer q.Close()

	worker := taskqueue.NewWorker(taskqueue.WorkerConfig{
		ID:    "test-worker",
		Queue: q,
	})

	assert.NotNil(t, worker)
	assert.Equal(t, q, worker.Queue())
}

func TestWorker_RegisterHandler(t *testing.T) {
	t.Parallel()

	q := taskqueue.NewMemoryQueue()
	defer q.Close()

	worker := taskqueue.NewWorker(taskqueue.WorkerConfig{ID: "w", Queue: q})
	worker.RegisterHandler(&testHandler{taskType: taskqueue.TaskTypeExtract})
	worker.RegisterHandler(&testHandler{taskType: taskqueue.TaskTypeTagImage})
	worker.RegisterHandler(nil)

	assert.ElementsMatch(t,
		[]taskqueue.TaskType{taskqueue.TaskTypeExtract, taskqueue.TaskTypeTagImage},
		worker.HandlerTypes())
}

func TestWorker_ProcessesTask(t *testing.T) {
	defer goleak.VerifyNone(t)

	q := taskqueue.NewMemoryQueue()
	defer q.Close()
	ctx := context.Background()

	var handled atomic.Int32
	worker := taskqueue.NewWorker(taskqueue.WorkerConfig{
		ID:           "w",
		Queue:        q,
		PollInterval: 10 * time.Millisecond,
		Concurrency:  2,
	})
	worker.RegisterHandler(&testHandler{
		taskType: taskqueue.TaskTypeExtract,
		handleFn: func(ctx context.Context, task *taskqueue.Task) error {
			handled.Add(1)
			return nil
		},
	})

	task := &taskqueue.Task{Type: taskqueue.TaskTypeExtract}
	require.NoError(t, q.Enqueue(ctx, task))

	worker.Start(ctx)

	require.Eventually(t, func() bool {
		got, err := q.Get(ctx, task.ID)
		return err == nil && got.Status == taskqueue.StatusCompleted
	}, 2*time.Second, 10*time.Millisecond)

	worker.Stop()
	assert.Equal(t, int32(1), handled.Load())
}

func TestWorker_FailedTaskIsRequeued(t *testing.T) {
	defer goleak.VerifyNone(t)

	q := taskqueue.NewMemoryQueue()
	defer q.Close()
	ctx := context.Background()

	worker := taskqueue.NewWorker(taskqueue.WorkerConfig{
		ID:           "w",
		Queue:        q,
		PollInterval: 10 * time.Millisecond,
		Concurrency:  1,
	})
	worker.RegisterHandler(&testHandler{
		taskType: taskqueue.TaskTypeTagDocument,
		handleFn: func(ctx context.Context, task *taskqueue.Task) error {
			return errors.New("parse failure")
		},
	})

	task := &taskqueue.Task{Type: taskqueue.TaskTypeTagDocument, MaxRetries: 5}
	require.NoError(t, q.Enqueue(ctx, task))

	worker.Start(ctx)

	require.Eventually(t, func() bool {
		got, err := q.Get(ctx, task.ID)
		return err == nil && got.Attempts >= 1
	}, 2*time.Second, 10*time.Millisecond)

	worker.Stop()

	got, err := q.Get(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, "parse failure", got.LastError)
	assert.NotEqual(t, taskqueue.StatusCompleted, got.Status)
}

func TestWorker_NoHandlersDoesNotStart(t *testing.T) {
	defer goleak.VerifyNone(t)

	q := taskqueue.NewMemoryQueue()
	defer q.Close()

	worker := taskqueue.NewWorker(taskqueue.WorkerConfig{ID: "w", Queue: q})
	worker.Start(context.Background())
	// No goroutines were spawned; Stop must still be safe.
	worker.Stop()
}

func TestWorker_StopDrainsGoroutines(t *testing.T) {
	defer goleak.VerifyNone(t)

	q := taskqueue.NewMemoryQueue()
	defer q.Close()

	worker := taskqueue.NewWorker(taskqueue.WorkerConfig{
		ID:           "w",
		Queue:        q,
		PollInterval: 5 * time.Millisecond,
		Concurrency:  4,
	})
	worker.RegisterHandler(&testHandler{taskType: taskqueue.TaskTypeExtract})

	worker.Start(context.Background())
	time.Sleep(30 * time.Millisecond)
	worker.Stop()
}
