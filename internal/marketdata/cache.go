// Package marketdata provides the TTL-bounded cache of historical price
// series keyed by (symbol, timeframe), backed by the cache-profile database.
package marketdata

import (
	"context"
	"database/sql"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/quantlab/alphaevolve/internal/database"
	"github.com/quantlab/alphaevolve/internal/domain"
)

// Schema for the candle series cache. Payloads are msgpack-encoded Series.
const Schema = `
CREATE TABLE IF NOT EXISTS candle_series (
    key        TEXT PRIMARY KEY,
    symbol     TEXT NOT NULL,
    timeframe  TEXT NOT NULL,
    payload    BLOB NOT NULL,
    fetched_at INTEGER NOT NULL
);
`

// Candle is one OHLCV bar.
type Candle struct {
	Time   int64   `msgpack:"t"`
	Open   float64 `msgpack:"o"`
	High   float64 `msgpack:"h"`
	Low    float64 `msgpack:"l"`
	Close  float64 `msgpack:"c"`
	Volume float64 `msgpack:"v"`
}

// Series is a historical candle series for one (symbol, timeframe) key.
type Series struct {
	Symbol    string   `msgpack:"symbol"`
	Timeframe string   `msgpack:"timeframe"`
	Candles   []Candle `msgpack:"candles"`
	FetchedAt int64    `msgpack:"fetched_at"`
}

// Fetcher retrieves a fresh series for a market on cache miss.
type Fetcher interface {
	Fetch(ctx context.Context, market domain.MarketConfig) (*Series, error)
}

// Cache is a TTL-bounded, persistent candle cache. It is safe for many
// concurrent readers; concurrent refreshes of the same key are tolerated
// without locking because refreshes are idempotent (last write wins).
type Cache struct {
	db      *sql.DB
	fetcher Fetcher
	ttl     time.Duration
	log     zerolog.Logger

	hits   atomic.Int64
	misses atomic.Int64
}

// NewCache creates the candle cache and applies its schema.
func NewCache(db *database.DB, fetcher Fetcher, ttl time.Duration, log zerolog.Logger) (*Cache, error) {
	if err := db.ApplySchema(Schema); err != nil {
		return nil, fmt.Errorf("failed to initialize market data cache schema: %w", err)
	}

	return &Cache{
		db:      db.Conn(),
		fetcher: fetcher,
		ttl:     ttl,
		log:     log.With().Str("component", "marketdata").Logger(),
	}, nil
}

// Get returns the cached series for a market, refreshing through the fetcher
// when the entry is missing or older than the TTL. A fetch failure on a
// missing entry is the market's failure; a stale entry that cannot be
// refreshed is served anyway with a warning, since old data beats no data
// for backtesting.
func (c *Cache) Get(ctx context.Context, market domain.MarketConfig) (*Series, error) {
	key := market.Key()

	cached, fetchedAt, err := c.lookup(key)
	if err != nil {
		c.log.Warn().Err(err).Str("key", key).Msg("cache lookup failed, treating as miss")
	}

	if cached != nil && time.Since(time.Unix(fetchedAt, 0)) < c.ttl {
		c.hits.Add(1)
		return cached, nil
	}
	c.misses.Add(1)

	fresh, fetchErr := c.fetcher.Fetch(ctx, market)
	if fetchErr != nil {
		if cached != nil {
			c.log.Warn().Err(fetchErr).Str("key", key).Msg("refresh failed, serving stale series")
			return cached, nil
		}
		return nil, fmt.Errorf("failed to fetch market data for %s: %w", key, fetchErr)
	}

	if len(fresh.Candles) < market.MinDataPoints {
		return nil, fmt.Errorf("insufficient data for %s: got %d candles, need %d",
			key, len(fresh.Candles), market.MinDataPoints)
	}

	fresh.FetchedAt = time.Now().Unix()
	if err := c.store(key, market, fresh); err != nil {
		// Persisting the refresh is best effort; the caller still gets data.
		c.log.Warn().Err(err).Str("key", key).Msg("failed to persist refreshed series")
	}

	return fresh, nil
}

// Stats returns cumulative hit/miss counters.
func (c *Cache) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

// Purge removes entries older than the TTL. Called from maintenance jobs.
func (c *Cache) Purge() (int64, error) {
	cutoff := time.Now().Add(-c.ttl).Unix()
	res, err := c.db.Exec(`DELETE FROM candle_series WHERE fetched_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to purge candle cache: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func (c *Cache) lookup(key string) (*Series, int64, error) {
	var payload []byte
	var fetchedAt int64
	err := c.db.QueryRow(`SELECT payload, fetched_at FROM candle_series WHERE key = ?`, key).
		Scan(&payload, &fetchedAt)
	if err == sql.ErrNoRows {
		return nil, 0, nil
	}
	if err != nil {
		return nil, 0, err
	}

	var s Series
	if err := msgpack.Unmarshal(payload, &s); err != nil {
		return nil, 0, fmt.Errorf("corrupt cache payload for %s: %w", key, err)
	}
	return &s, fetchedAt, nil
}

func (c *Cache) store(key string, market domain.MarketConfig, s *Series) error {
	payload, err := msgpack.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to encode series: %w", err)
	}

	// INSERT OR REPLACE makes concurrent refreshes of the same key safe:
	// whichever write lands last wins and both payloads are equivalent.
	_, err = c.db.Exec(`
		INSERT OR REPLACE INTO candle_series (key, symbol, timeframe, payload, fetched_at)
		VALUES (?, ?, ?, ?, ?)
	`, key, market.Symbol, market.Timeframe, payload, s.FetchedAt)
	return err
}
