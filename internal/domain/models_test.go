package domain

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func record(market, timeframe string, trades int, pnl float64) MetricsRecord {
	return MetricsRecord{
		Market:       market,
		Timeframe:    timeframe,
		TotalReturn:  0.1,
		SharpeRatio:  1.5,
		MaxDrawdown:  0.1,
		WinRate:      0.55,
		ProfitFactor: 1.8,
		NumTrades:    trades,
		TotalPnL:     pnl,
		Consistency:  0.6,
	}
}

func TestGenomeCloneIsDeep(t *testing.T) {
	g := Genome{
		ID:         "g1",
		Parameters: map[string]float64{"a": 1},
		ParentIDs:  []string{"p1"},
	}

	clone := g.Clone()
	clone.Parameters["a"] = 99
	clone.ParentIDs[0] = "other"

	assert.Equal(t, 1.0, g.Parameters["a"])
	assert.Equal(t, "p1", g.ParentIDs[0])
}

func TestMarketConfigKey(t *testing.T) {
	m := MarketConfig{Symbol: "BTCUSDT", Timeframe: "1h"}
	assert.Equal(t, "BTCUSDT@1h", m.Key())
}

func TestMetricsRecordValidate(t *testing.T) {
	valid := record("BTCUSDT@1h", "1h", 10, 100)
	assert.NoError(t, valid.Validate())

	noMarket := valid
	noMarket.Market = ""
	assert.Error(t, noMarket.Validate())

	badWinRate := valid
	badWinRate.WinRate = 1.2
	assert.Error(t, badWinRate.Validate())

	negativeTrades := valid
	negativeTrades.NumTrades = -1
	assert.Error(t, negativeTrades.Validate())
}

func TestAggregateUnionsAndSums(t *testing.T) {
	records := []MetricsRecord{
		record("BTCUSDT@1h", "1h", 10, 100),
		record("ETHUSDT@4h", "4h", 20, 300),
		record("BTCUSDT@1h", "1h", 5, -50), // duplicate market, deduplicated
	}

	agg := Aggregate("g1", "v1", records)

	assert.Equal(t, []string{"BTCUSDT@1h", "ETHUSDT@4h"}, agg.MarketsTested)
	assert.Equal(t, []string{"1h", "4h"}, agg.Timeframes)
	assert.Equal(t, 35, agg.NumTrades)
	assert.InDelta(t, 350.0, agg.TotalPnL, 1e-9)
}

func TestAggregateOrderIndependent(t *testing.T) {
	records := []MetricsRecord{
		record("A@1h", "1h", 3, 10),
		record("B@1h", "1h", 7, -200),
		record("C@4h", "4h", 11, 45),
		record("D@1d", "1d", 2, 0),
	}

	base := Aggregate("g", "v", records)

	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 20; i++ {
		shuffled := make([]MetricsRecord, len(records))
		copy(shuffled, records)
		rng.Shuffle(len(shuffled), func(a, b int) { shuffled[a], shuffled[b] = shuffled[b], shuffled[a] })

		got := Aggregate("g", "v", shuffled)
		assert.Equal(t, base.MarketsTested, got.MarketsTested)
		assert.Equal(t, base.NumTrades, got.NumTrades)
		assert.InDelta(t, base.SharpeRatio, got.SharpeRatio, 1e-9)
		assert.InDelta(t, base.WinRate, got.WinRate, 1e-9)
		assert.InDelta(t, base.TotalPnL, got.TotalPnL, 1e-9)
	}
}

func TestAggregatePnLWeighting(t *testing.T) {
	big := record("A@1h", "1h", 10, 1000)
	big.SharpeRatio = 3.0
	small := record("B@1h", "1h", 10, 10)
	small.SharpeRatio = 0.0

	agg := Aggregate("g", "v", []MetricsRecord{big, small})

	// The large-PnL market dominates the rate-style average
	assert.Greater(t, agg.SharpeRatio, 2.5)
}

func TestAggregateEqualWeightFallback(t *testing.T) {
	a := record("A@1h", "1h", 0, 0)
	a.SharpeRatio = 2.0
	b := record("B@1h", "1h", 0, 0)
	b.SharpeRatio = 0.0

	agg := Aggregate("g", "v", []MetricsRecord{a, b})

	// Zero PnL everywhere falls back to equal weights instead of NaN
	assert.InDelta(t, 1.0, agg.SharpeRatio, 1e-9)
}

func TestAggregateEmpty(t *testing.T) {
	agg := Aggregate("g", "v", nil)
	assert.Empty(t, agg.MarketsTested)
	assert.Equal(t, 0, agg.NumTrades)
}

func TestDiversitySampleDeterministicAndCapped(t *testing.T) {
	first := DiversitySample(Universe, DefaultMarketSampleSize)
	second := DiversitySample(Universe, DefaultMarketSampleSize)

	require.Len(t, first, DefaultMarketSampleSize)
	assert.Equal(t, first, second)

	// The sample spans more than one volatility regime
	regimes := map[VolatilityRegime]bool{}
	for _, m := range first {
		regimes[m.Volatility] = true
	}
	assert.Greater(t, len(regimes), 1)
}

func TestDiversitySampleSmallUniverse(t *testing.T) {
	small := Universe[:3]
	sample := DiversitySample(small, 8)
	assert.Len(t, sample, 3)
}

func TestFilterUniverse(t *testing.T) {
	filtered := FilterUniverse(Universe, []string{"SPY", "QQQ"})
	require.NotEmpty(t, filtered)
	for _, m := range filtered {
		assert.Contains(t, []string{"SPY", "QQQ"}, m.Symbol)
	}
}
