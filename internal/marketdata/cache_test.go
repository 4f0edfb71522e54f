package marketdata_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantlab/alphaevolve/internal/domain"
	"github.com/quantlab/alphaevolve/internal/marketdata"
	testhelpers "github.com/quantlab/alphaevolve/internal/testing"
)

func newTestCache(t *testing.T, fetcher marketdata.Fetcher, ttl time.Duration) *marketdata.Cache {
	t.Helper()
	db, cleanup := testhelpers.NewTestDB(t, "cache")
	t.Cleanup(cleanup)

	cache, err := marketdata.NewCache(db, fetcher, ttl, zerolog.Nop())
	require.NoError(t, err)
	return cache
}

func testMarket() domain.MarketConfig {
	return domain.MarketConfig{
		Symbol:        "BTCUSDT",
		Timeframe:     "1h",
		Type:          domain.MarketCrypto,
		MinDataPoints: 10,
	}
}

func TestCacheMissThenHit(t *testing.T) {
	fetcher := &testhelpers.StubFetcher{Candles: 100}
	cache := newTestCache(t, fetcher, time.Hour)

	first, err := cache.Get(context.Background(), testMarket())
	require.NoError(t, err)
	assert.Len(t, first.Candles, 100)

	second, err := cache.Get(context.Background(), testMarket())
	require.NoError(t, err)
	assert.Len(t, second.Candles, 100)

	// Second read is served from cache, the fetcher runs once
	assert.Equal(t, int64(1), fetcher.Fetches.Load())

	hits, misses := cache.Stats()
	assert.Equal(t, int64(1), hits)
	assert.Equal(t, int64(1), misses)
}

func TestCacheFetchFailureOnMiss(t *testing.T) {
	fetcher := &testhelpers.StubFetcher{Err: errors.New("feed down")}
	cache := newTestCache(t, fetcher, time.Hour)

	_, err := cache.Get(context.Background(), testMarket())
	assert.Error(t, err)
}

func TestCacheServesStaleOnRefreshFailure(t *testing.T) {
	fetcher := &testhelpers.StubFetcher{Candles: 50}
	// Zero TTL: every cached entry is immediately stale
	cache := newTestCache(t, fetcher, 0)

	_, err := cache.Get(context.Background(), testMarket())
	require.NoError(t, err)

	fetcher.Err = errors.New("feed down")
	stale, err := cache.Get(context.Background(), testMarket())
	require.NoError(t, err, "stale data beats no data")
	assert.Len(t, stale.Candles, 50)
}

func TestCacheEnforcesMinDataPoints(t *testing.T) {
	fetcher := &testhelpers.StubFetcher{Candles: 5}
	cache := newTestCache(t, fetcher, time.Hour)

	market := testMarket()
	market.MinDataPoints = 50

	_, err := cache.Get(context.Background(), market)
	assert.ErrorContains(t, err, "insufficient data")
}

func TestCachePurge(t *testing.T) {
	fetcher := &testhelpers.StubFetcher{Candles: 20}
	cache := newTestCache(t, fetcher, -time.Hour) // everything is past the TTL

	_, err := cache.Get(context.Background(), testMarket())
	require.NoError(t, err)

	removed, err := cache.Purge()
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)
}

func TestSeriesSliceBounds(t *testing.T) {
	s := testhelpers.NewSeriesFixture("BTCUSDT", "1h", 10)

	assert.Len(t, s.Slice(0, 5).Candles, 5)
	assert.Len(t, s.Slice(8, 50).Candles, 2)
	assert.Empty(t, s.Slice(7, 3).Candles)
}
