package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fraudgate/internal/config"
)

type fakeFlagSource struct {
	flagged bool
	err     error
	calls   int
}

func (f *fakeFlagSource) BeneficiaryFlagged(ctx context.Context, beneficiaryID string) (bool, error) {
	f.calls++
	return f.flagged, f.err
}

func (f *fakeFlagSource) CountTransactionsSince(ctx context.Context, userID string, since time.Time) (int, error) {
	return 0, nil
}

func (f *fakeFlagSource) AverageTransactionAmount(ctx context.Context, userID string) (decimal.Decimal, error) {
	return decimal.Zero, nil
}

func (f *fakeFlagSource) SumReceivedSince(ctx context.Context, userID string, since time.Time) (decimal.Decimal, error) {
	return decimal.Zero, nil
}

func (f *fakeFlagSource) GetBeneficiary(ctx context.Context, id string) (*Beneficiary, error) {
	return nil, nil
}

func newTestFlagCache(t *testing.T, inner SignalStore, addr string) *FlagCache {
	t.Helper()
	cache := NewFlagCache(inner, config.RedisConfig{Addr: addr, FlagTTL: time.Minute}, zerolog.Nop())
	t.Cleanup(func() { _ = cache.Close() })
	return cache
}

func TestFlagCacheMissReadsStoreAndCaches(t *testing.T) {
	mr := miniredis.RunT(t)
	inner := &fakeFlagSource{flagged: true}
	cache := newTestFlagCache(t, inner, mr.Addr())

	flagged, err := cache.BeneficiaryFlagged(context.Background(), "ben-1")
	require.NoError(t, err)
	assert.True(t, flagged)
	assert.Equal(t, 1, inner.calls)

	cached, err := mr.Get("flag:beneficiary:ben-1")
	require.NoError(t, err)
	assert.Equal(t, "1", cached)
	assert.Equal(t, time.Minute, mr.TTL("flag:beneficiary:ben-1"))
}

func TestFlagCacheNegativeResultCached(t *testing.T) {
	mr := miniredis.RunT(t)
	inner := &fakeFlagSource{flagged: false}
	cache := newTestFlagCache(t, inner, mr.Addr())

	flagged, err := cache.BeneficiaryFlagged(context.Background(), "ben-1")
	require.NoError(t, err)
	assert.False(t, flagged)

	cached, err := mr.Get("flag:beneficiary:ben-1")
	require.NoError(t, err)
	assert.Equal(t, "0", cached)
}

func TestFlagCacheHitSkipsStore(t *testing.T) {
	mr := miniredis.RunT(t)
	require.NoError(t, mr.Set("flag:beneficiary:ben-1", "1"))

	inner := &fakeFlagSource{flagged: false}
	cache := newTestFlagCache(t, inner, mr.Addr())

	flagged, err := cache.BeneficiaryFlagged(context.Background(), "ben-1")
	require.NoError(t, err)
	assert.True(t, flagged)
	assert.Equal(t, 0, inner.calls)
}

func TestFlagCacheUnreachableFallsThrough(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	inner := &fakeFlagSource{flagged: true}
	cache := newTestFlagCache(t, inner, addr)

	flagged, err := cache.BeneficiaryFlagged(context.Background(), "ben-1")
	require.NoError(t, err)
	assert.True(t, flagged)
	assert.Equal(t, 1, inner.calls)
}

func TestFlagCacheStoreErrorPropagates(t *testing.T) {
	mr := miniredis.RunT(t)
	inner := &fakeFlagSource{err: errors.New("query failed")}
	cache := newTestFlagCache(t, inner, mr.Addr())

	_, err := cache.BeneficiaryFlagged(context.Background(), "ben-1")
	assert.Error(t, err)
}
