// Copyright 2025 NovaDrive Authors
// SPDX-License-Identifier: Apache-2.0

// Package transfer drives the client half of the chunk protocol: move N
// chunks to the destination with bounded parallelism and guarantee a receipt
// for every chunk before finalize.
package transfer

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/kaihere14/novadrive/pkg/logger"
	"github.com/kaihere14/novadrive/pkg/objstore"
	"github.com/kaihere14/novadrive/pkg/types"
)

// Defaults for the transfer plan.
const (
	DefaultBatchWidth   = 4
	DefaultMaxRetries   = 3
	DefaultRetryBackoff = 500 * time.Millisecond
)

// GrantSource issues transfer grants and accepts chunk submissions. Grants
// are short-lived and single-use; a retry always requests a fresh one.
type GrantSource interface {
	// Grant returns a fresh transfer grant for one chunk index.
	Grant(ctx context.Context, index int) (objstore.Grant, error)

	// Submit transfers one chunk under the grant and returns its receipt.
	Submit(ctx context.Context, index int, grant objstore.Grant, body io.Reader) (types.Receipt, error)
}

// Config tunes the coordinator.
type Config struct {
	// ChunkSize is the fixed chunk size; the last chunk may be shorter.
	ChunkSize int64

	// BatchWidth bounds peak parallelism: grants for a whole batch are
	// acquired before any transfer in it starts, and the coordinator waits
	// for the batch before issuing the next batch's grants.
	BatchWidth int

	// MaxRetries bounds per-chunk retry attempts within a batch slot.
	MaxRetries int

	// RetryBackoff is the base delay between attempts for one chunk.
	RetryBackoff time.Duration

	// OnProgress, if set, is called once per completed batch, not per chunk.
	OnProgress func(percent float64, done, total int)
}

// Coordinator transfers a file chunk by chunk in fixed-width batches.
type Coordinator struct {
	source GrantSource
	config Config
}

// NewCoordinator creates a Coordinator with defaults filled in.
func NewCoordinator(source GrantSource, cfg Config) *Coordinator {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = types.DefaultChunkSize
	}
	if cfg.BatchWidth <= 0 {
		cfg.BatchWidth = DefaultBatchWidth
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = DefaultRetryBackoff
	}
	return &Coordinator{source: source, config: cfg}
}

// Upload transfers size bytes from src and returns one receipt per chunk,
// sorted by chunk index. Chunk index i covers
// [i*chunkSize, min((i+1)*chunkSize, size)).
func (c *Coordinator) Upload(ctx context.Context, src io.ReaderAt, size int64) ([]types.Receipt, error) {
	if size <= 0 {
		return nil, types.ErrInvalidPlan
	}
	total := types.PlanChunks(size, c.config.ChunkSize)
	receipts := make([]types.Receipt, total)
	done := 0

	for start := 0; start < total; start += c.config.BatchWidth {
		end := start + c.config.BatchWidth
		if end > total {
			end = total
		}

		// Acquire every grant in the batch before any transfer starts. This
		// bounds the number of outstanding unused grants to one batch.
		grants := make([]objstore.Grant, end-start)
		for i := start; i < end; i++ {
			g, err := c.source.Grant(ctx, i)
			if err != nil {
				return nil, fmt.Errorf("grant for chunk %d: %w", i, err)
			}
			grants[i-start] = g
		}

		var wg sync.WaitGroup
		errs := make([]error, end-start)
		for i := start; i < end; i++ {
			wg.Add(1)
			go func(idx int, grant objstore.Grant) {
				defer wg.Done()
				rec, err := c.transferChunk(ctx, src, size, idx, grant)
				if err != nil {
					errs[idx-start] = err
					return
				}
				receipts[idx] = rec
			}(i, grants[i-start])
		}
		wg.Wait()

		for slot, err := range errs {
			if err != nil {
				return nil, fmt.Errorf("chunk %d: %w", start+slot, err)
			}
		}

		done = end
		if c.config.OnProgress != nil {
			c.config.OnProgress(float64(done)/float64(total)*100, done, total)
		}
	}

	return receipts, nil
}

// transferChunk submits one chunk, retrying with a fresh grant on failure.
// A succeeded chunk is never retransferred.
func (c *Coordinator) transferChunk(ctx context.Context, src io.ReaderAt, size int64, index int, grant objstore.Grant) (types.Receipt, error) {
	off, n := types.ChunkRange(index, size, c.config.ChunkSize)

	var lastErr error
	for attempt := 0; attempt < c.config.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return types.Receipt{}, ctx.Err()
			case <-time.After(c.config.RetryBackoff * time.Duration(attempt)):
			}

			fresh, err := c.source.Grant(ctx, index)
			if err != nil {
				lastErr = err
				continue
			}
			grant = fresh

			logger.Ctx(ctx).Debug().
				Int("chunk", index).
				Int("attempt", attempt).
				Msg("transfer: retrying with fresh grant")
		}

		rec, err := c.source.Submit(ctx, index, grant, io.NewSectionReader(src, off, n))
		if err != nil {
			lastErr = err
			continue
		}
		// A transfer that reports success without a receipt fails the slot;
		// it is never silently ignored.
		if rec.ETag == "" {
			return types.Receipt{}, types.ErrMissingReceipt
		}
		return rec, nil
	}

	return types.Receipt{}, fmt.Errorf("retries exhausted: %w", lastErr)
}
