// Copyright 2025 NovaDrive Authors
// SPDX-License-Identifier: Apache-2.0

package quota

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kaihere14/novadrive/pkg/types"
)

func setupLedger(t *testing.T, limit int64) (*miniredis.Miniredis, *Ledger) {
	t.Helper()
	s := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	t.Cleanup(func() { client.Close() })

	cfg := DefaultConfig()
	cfg.LimitBytes = limit
	cfg.Window = time.Hour
	return s, NewLedger(client, cfg)
}

func TestLedger_ReserveWithinLimit(t *testing.T) {
	_, ledger := setupLedger(t, 100)
	ctx := context.Background()

	require.NoError(t, ledger.CheckAndReserve(ctx, "caller", 40))
	require.NoError(t, ledger.CheckAndReserve(ctx, "caller", 40))

	used, err := ledger.Used(ctx, "caller")
	require.NoError(t, err)
	assert.Equal(t, int64(80), used)
}

func TestLedger_ExceededCarriesState(t *testing.T) {
	_, ledger := setupLedger(t, 100)
	ctx := context.Background()

	require.NoError(t, ledger.CheckAndReserve(ctx, "caller", 99))

	err := ledger.CheckAndReserve(ctx, "caller", 2)
	var qe *types.QuotaExceededError
	require.ErrorAs(t, err, &qe)
	assert.Equal(t, int64(100), qe.Limit)
	assert.Equal(t, int64(99), qe.Used)
	assert.Equal(t, int64(2), qe.Attempted)

	// The denied attempt must not have consumed anything.
	used, err := ledger.Used(ctx, "caller")
	require.NoError(t, err)
	assert.Equal(t, int64(99), used)
}

func TestLedger_ExactBoundaryAdmitted(t *testing.T) {
	_, ledger := setupLedger(t, 100)
	ctx := context.Background()

	require.NoError(t, ledger.CheckAndReserve(ctx, "caller", 60))
	// used = limit - declaredSize: admitted.
	require.NoError(t, ledger.CheckAndReserve(ctx, "caller", 40))
	// Budget is now exactly spent.
	err := ledger.CheckAndReserve(ctx, "caller", 1)
	var qe *types.QuotaExceededError
	require.ErrorAs(t, err, &qe)
}

func TestLedger_WindowRollsOver(t *testing.T) {
	s, ledger := setupLedger(t, 100)
	ctx := context.Background()

	require.NoError(t, ledger.CheckAndReserve(ctx, "caller", 100))
	require.Error(t, ledger.CheckAndReserve(ctx, "caller", 1))

	s.FastForward(2 * time.Hour)

	require.NoError(t, ledger.CheckAndReserve(ctx, "caller", 100))
}

func TestLedger_WindowAnchorsAtFirstWrite(t *testing.T) {
	s, ledger := setupLedger(t, 100)
	ctx := context.Background()

	require.NoError(t, ledger.CheckAndReserve(ctx, "caller", 10))
	s.FastForward(30 * time.Minute)
	// Later reservations accumulate without refreshing the expiry.
	require.NoError(t, ledger.CheckAndReserve(ctx, "caller", 10))
	s.FastForward(31 * time.Minute)

	used, err := ledger.Used(ctx, "caller")
	require.NoError(t, err)
	assert.Equal(t, int64(0), used, "window should expire relative to first write")
}

func TestLedger_CallersIndependent(t *testing.T) {
	_, ledger := setupLedger(t, 100)
	ctx := context.Background()

	require.NoError(t, ledger.CheckAndReserve(ctx, "a", 100))
	require.NoError(t, ledger.CheckAndReserve(ctx, "b", 100))
}

func TestLedger_Release(t *testing.T) {
	_, ledger := setupLedger(t, 100)
	ctx := context.Background()

	require.NoError(t, ledger.CheckAndReserve(ctx, "caller", 80))
	require.NoError(t, ledger.Release(ctx, "caller", 30))

	used, err := ledger.Used(ctx, "caller")
	require.NoError(t, err)
	assert.Equal(t, int64(50), used)
}
