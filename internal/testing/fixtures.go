package testing

import (
	"fmt"
	"time"

	"github.com/quantlab/alphaevolve/internal/domain"
	"github.com/quantlab/alphaevolve/internal/marketdata"
)

// NewGenomeFixture returns a minimal valid genome for tests.
func NewGenomeFixture(id string) domain.Genome {
	return domain.Genome{
		ID:          id,
		Name:        "fixture-" + id,
		Description: "test genome",
		Source: `def generate_signal(candles, params):
    if candles[-1]["close"] > candles[-2]["close"]:
        return "buy"
    return "hold"
`,
		Parameters: map[string]float64{
			"fast_period": 9,
			"slow_period": 21,
			"stop_loss":   0.02,
		},
		Generation: 0,
	}
}

// NewRecordFixture returns a healthy metrics record for the given market.
func NewRecordFixture(market, timeframe string) domain.MetricsRecord {
	return domain.MetricsRecord{
		Market:       market,
		Timeframe:    timeframe,
		WindowStart:  time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		WindowEnd:    time.Date(2024, 6, 30, 0, 0, 0, 0, time.UTC),
		TotalReturn:  0.12,
		SharpeRatio:  1.8,
		MaxDrawdown:  0.08,
		WinRate:      0.58,
		ProfitFactor: 1.9,
		NumTrades:    42,
		TotalPnL:     1200,
		AvgSlippage:  0.0005,
		AvgLatencyMs: 40,
		Consistency:  0.7,
	}
}

// NewSeriesFixture builds a synthetic candle series with a mild uptrend.
func NewSeriesFixture(symbol, timeframe string, n int) *marketdata.Series {
	candles := make([]marketdata.Candle, n)
	base := 100.0
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).Unix()
	for i := 0; i < n; i++ {
		price := base + float64(i)*0.1
		candles[i] = marketdata.Candle{
			Time:   start + int64(i)*3600,
			Open:   price,
			High:   price * 1.01,
			Low:    price * 0.99,
			Close:  price * 1.002,
			Volume: 1000 + float64(i%10)*50,
		}
	}
	return &marketdata.Series{
		Symbol:    symbol,
		Timeframe: timeframe,
		Candles:   candles,
		FetchedAt: time.Now().Unix(),
	}
}

// MarketFixtures returns n distinct market configurations for tests that do
// not care about the real universe.
func MarketFixtures(n int) []domain.MarketConfig {
	markets := make([]domain.MarketConfig, n)
	for i := 0; i < n; i++ {
		markets[i] = domain.MarketConfig{
			Symbol:        fmt.Sprintf("TEST%d", i),
			Timeframe:     "1h",
			Type:          domain.MarketCrypto,
			Volatility:    domain.VolatilityMedium,
			Trend:         domain.TrendMixed,
			LookbackDays:  30,
			MinDataPoints: 10,
		}
	}
	return markets
}
