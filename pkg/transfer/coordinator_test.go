// Copyright 2025 NovaDrive Authors
// SPDX-License-Identifier: Apache-2.0

package transfer

import (
	"bytes"
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kaihere14/novadrive/pkg/objstore"
	"github.com/kaihere14/novadrive/pkg/types"
)

// fakeSource records grant and submission activity and can inject failures.
type fakeSource struct {
	mu sync.Mutex

	grants      map[int]int // index -> grant count
	submissions map[int]int // index -> submit count
	inFlight    int
	maxInFlight int

	failFirst map[int]int // index -> number of initial failures
	emptyETag map[int]bool
	chunks    map[int][]byte
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		grants:      make(map[int]int),
		submissions: make(map[int]int),
		failFirst:   make(map[int]int),
		emptyETag:   make(map[int]bool),
		chunks:      make(map[int][]byte),
	}
}

func (f *fakeSource) Grant(ctx context.Context, index int) (objstore.Grant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.grants[index]++
	return objstore.Grant{
		URL:        fmt.Sprintf("fake://chunk/%d/grant/%d", index, f.grants[index]),
		Method:     "PUT",
		PartNumber: int32(index + 1),
		ExpiresAt:  time.Now().Add(10 * time.Minute),
	}, nil
}

func (f *fakeSource) Submit(ctx context.Context, index int, grant objstore.Grant, body io.Reader) (types.Receipt, error) {
	data, err := io.ReadAll(body)
	if err != nil {
		return types.Receipt{}, err
	}

	f.mu.Lock()
	f.submissions[index]++
	f.inFlight++
	if f.inFlight > f.maxInFlight {
		f.maxInFlight = f.inFlight
	}
	fail := f.failFirst[index] > 0
	if fail {
		f.failFirst[index]--
	}
	empty := f.emptyETag[index]
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		f.inFlight--
		f.mu.Unlock()
	}()

	if fail {
		return types.Receipt{}, errors.New("transient transfer error")
	}
	if empty {
		return types.Receipt{Index: index}, nil
	}

	f.mu.Lock()
	f.chunks[index] = data
	f.mu.Unlock()
	return types.Receipt{Index: index, ETag: fmt.Sprintf("etag-%d", index)}, nil
}

func testConfig() Config {
	return Config{
		ChunkSize:    1024,
		BatchWidth:   4,
		MaxRetries:   3,
		RetryBackoff: time.Millisecond,
	}
}

func TestCoordinator_UploadAllChunks(t *testing.T) {
	// 4.5 chunks worth of data: 5 chunks, last one short.
	data := make([]byte, 4*1024+512)
	_, err := rand.Read(data)
	require.NoError(t, err)

	src := newFakeSource()
	c := NewCoordinator(src, testConfig())

	receipts, err := c.Upload(context.Background(), bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)
	require.Len(t, receipts, 5)

	for i, rec := range receipts {
		assert.Equal(t, i, rec.Index, "receipts must be sorted by chunk index")
		assert.NotEmpty(t, rec.ETag)
	}

	// Reassemble and compare byte ranges.
	var got []byte
	for i := 0; i < 5; i++ {
		got = append(got, src.chunks[i]...)
	}
	assert.Equal(t, data, got)
	assert.Equal(t, 512, len(src.chunks[4]), "last chunk is short")
}

func TestCoordinator_BatchWidthBoundsParallelism(t *testing.T) {
	data := make([]byte, 22*1024) // 22 chunks of 1 KiB
	src := newFakeSource()
	c := NewCoordinator(src, testConfig())

	_, err := c.Upload(context.Background(), bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)
	assert.LessOrEqual(t, src.maxInFlight, 4)
}

func TestCoordinator_ProgressPerBatch(t *testing.T) {
	// 5 chunks at width 4: batch of 4, then batch of 1.
	data := make([]byte, 5*1024)
	src := newFakeSource()

	var percents []float64
	var dones []int
	cfg := testConfig()
	cfg.OnProgress = func(percent float64, done, total int) {
		percents = append(percents, percent)
		dones = append(dones, done)
		assert.Equal(t, 5, total)
	}
	c := NewCoordinator(src, cfg)

	_, err := c.Upload(context.Background(), bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)

	// One update per batch, not per chunk.
	assert.Equal(t, []int{4, 5}, dones)
	require.Len(t, percents, 2)
	assert.InDelta(t, 80.0, percents[0], 0.01)
	assert.InDelta(t, 100.0, percents[1], 0.01)
}

func TestCoordinator_RetryWithFreshGrant(t *testing.T) {
	data := make([]byte, 2*1024)
	src := newFakeSource()
	src.failFirst[1] = 2 // chunk 1 fails twice, succeeds on third attempt

	c := NewCoordinator(src, testConfig())
	receipts, err := c.Upload(context.Background(), bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)
	require.Len(t, receipts, 2)

	// Each retry requested a fresh grant for the failed index alone.
	assert.Equal(t, 3, src.grants[1])
	assert.Equal(t, 3, src.submissions[1])
	// The succeeded chunk was never retransferred.
	assert.Equal(t, 1, src.grants[0])
	assert.Equal(t, 1, src.submissions[0])
}

func TestCoordinator_RetriesExhausted(t *testing.T) {
	data := make([]byte, 1024)
	src := newFakeSource()
	src.failFirst[0] = 100

	c := NewCoordinator(src, testConfig())
	_, err := c.Upload(context.Background(), bytes.NewReader(data), int64(len(data)))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "chunk 0")
	assert.Equal(t, 3, src.submissions[0])
}

func TestCoordinator_MissingReceiptIsFatal(t *testing.T) {
	data := make([]byte, 1024)
	src := newFakeSource()
	src.emptyETag[0] = true

	c := NewCoordinator(src, testConfig())
	_, err := c.Upload(context.Background(), bytes.NewReader(data), int64(len(data)))
	require.ErrorIs(t, err, types.ErrMissingReceipt)
}

func TestCoordinator_EmptyUploadRejected(t *testing.T) {
	src := newFakeSource()
	c := NewCoordinator(src, testConfig())
	_, err := c.Upload(context.Background(), bytes.NewReader(nil), 0)
	require.ErrorIs(t, err, types.ErrInvalidPlan)
}

func TestCoordinator_FiveMiBDefaultPlan(t *testing.T) {
	// 22 MiB at the 5 MiB default: 5 chunks (4 full + one 2 MiB tail).
	size := int64(22 * 1024 * 1024)
	total := types.PlanChunks(size, types.DefaultChunkSize)
	assert.Equal(t, 5, total)

	off, n := types.ChunkRange(4, size, types.DefaultChunkSize)
	assert.Equal(t, int64(20*1024*1024), off)
	assert.Equal(t, int64(2*1024*1024), n)
}
