package domain

import "sort"

// Universe is the static set of market configurations candidates are
// evaluated against. Diversity sampling draws from this set; it is never
// mutated at runtime.
var Universe = []MarketConfig{
	// Crypto - high volatility
	{Symbol: "BTCUSDT", Timeframe: "1h", Type: MarketCrypto, Volatility: VolatilityHigh, Trend: TrendTrending, LookbackDays: 365, MinDataPoints: 500},
	{Symbol: "BTCUSDT", Timeframe: "4h", Type: MarketCrypto, Volatility: VolatilityHigh, Trend: TrendTrending, LookbackDays: 730, MinDataPoints: 500},
	{Symbol: "BTCUSDT", Timeframe: "1d", Type: MarketCrypto, Volatility: VolatilityMedium, Trend: TrendTrending, LookbackDays: 1460, MinDataPoints: 365},
	{Symbol: "ETHUSDT", Timeframe: "1h", Type: MarketCrypto, Volatility: VolatilityHigh, Trend: TrendMixed, LookbackDays: 365, MinDataPoints: 500},
	{Symbol: "ETHUSDT", Timeframe: "4h", Type: MarketCrypto, Volatility: VolatilityHigh, Trend: TrendMixed, LookbackDays: 730, MinDataPoints: 500},
	{Symbol: "SOLUSDT", Timeframe: "1h", Type: MarketCrypto, Volatility: VolatilityHigh, Trend: TrendTrending, LookbackDays: 365, MinDataPoints: 500},
	{Symbol: "SOLUSDT", Timeframe: "4h", Type: MarketCrypto, Volatility: VolatilityHigh, Trend: TrendRanging, LookbackDays: 730, MinDataPoints: 400},
	{Symbol: "BNBUSDT", Timeframe: "4h", Type: MarketCrypto, Volatility: VolatilityMedium, Trend: TrendRanging, LookbackDays: 730, MinDataPoints: 400},

	// Forex - low/medium volatility
	{Symbol: "EURUSD", Timeframe: "1h", Type: MarketForex, Volatility: VolatilityLow, Trend: TrendRanging, LookbackDays: 365, MinDataPoints: 500},
	{Symbol: "EURUSD", Timeframe: "4h", Type: MarketForex, Volatility: VolatilityLow, Trend: TrendRanging, LookbackDays: 730, MinDataPoints: 500},
	{Symbol: "EURUSD", Timeframe: "1d", Type: MarketForex, Volatility: VolatilityLow, Trend: TrendMixed, LookbackDays: 1460, MinDataPoints: 365},
	{Symbol: "GBPUSD", Timeframe: "1h", Type: MarketForex, Volatility: VolatilityMedium, Trend: TrendMixed, LookbackDays: 365, MinDataPoints: 500},
	{Symbol: "GBPUSD", Timeframe: "4h", Type: MarketForex, Volatility: VolatilityMedium, Trend: TrendRanging, LookbackDays: 730, MinDataPoints: 400},
	{Symbol: "USDJPY", Timeframe: "1h", Type: MarketForex, Volatility: VolatilityLow, Trend: TrendTrending, LookbackDays: 365, MinDataPoints: 500},
	{Symbol: "USDJPY", Timeframe: "1d", Type: MarketForex, Volatility: VolatilityLow, Trend: TrendTrending, LookbackDays: 1460, MinDataPoints: 365},
	{Symbol: "AUDUSD", Timeframe: "4h", Type: MarketForex, Volatility: VolatilityMedium, Trend: TrendRanging, LookbackDays: 730, MinDataPoints: 400},

	// Equities - medium volatility, daily bars
	{Symbol: "SPY", Timeframe: "1d", Type: MarketEquity, Volatility: VolatilityLow, Trend: TrendTrending, LookbackDays: 1825, MinDataPoints: 500},
	{Symbol: "QQQ", Timeframe: "1d", Type: MarketEquity, Volatility: VolatilityMedium, Trend: TrendTrending, LookbackDays: 1825, MinDataPoints: 500},
	{Symbol: "IWM", Timeframe: "1d", Type: MarketEquity, Volatility: VolatilityMedium, Trend: TrendRanging, LookbackDays: 1825, MinDataPoints: 500},
	{Symbol: "AAPL", Timeframe: "1d", Type: MarketEquity, Volatility: VolatilityMedium, Trend: TrendTrending, LookbackDays: 1825, MinDataPoints: 500},
	{Symbol: "MSFT", Timeframe: "1d", Type: MarketEquity, Volatility: VolatilityMedium, Trend: TrendTrending, LookbackDays: 1825, MinDataPoints: 500},
	{Symbol: "TSLA", Timeframe: "1d", Type: MarketEquity, Volatility: VolatilityHigh, Trend: TrendMixed, LookbackDays: 1825, MinDataPoints: 500},
	{Symbol: "NVDA", Timeframe: "1d", Type: MarketEquity, Volatility: VolatilityHigh, Trend: TrendTrending, LookbackDays: 1825, MinDataPoints: 500},
	{Symbol: "XLE", Timeframe: "1d", Type: MarketEquity, Volatility: VolatilityMedium, Trend: TrendRanging, LookbackDays: 1825, MinDataPoints: 500},
}

// DefaultMarketSampleSize caps the default diversity sample.
const DefaultMarketSampleSize = 8

// DiversitySample picks up to max markets from the universe, spreading the
// selection across volatility regimes and timeframes. The sample is
// deterministic: groups and members are visited in sorted order, round-robin,
// so two runs over the same universe select the same markets.
func DiversitySample(universe []MarketConfig, max int) []MarketConfig {
	if max <= 0 || len(universe) == 0 {
		return nil
	}
	if len(universe) <= max {
		out := make([]MarketConfig, len(universe))
		copy(out, universe)
		return out
	}

	// Bucket by (volatility, timeframe) so the sample spans both dimensions.
	groups := make(map[string][]MarketConfig)
	for _, m := range universe {
		k := string(m.Volatility) + "|" + m.Timeframe
		groups[k] = append(groups[k], m)
	}

	groupKeys := make([]string, 0, len(groups))
	for k := range groups {
		groupKeys = append(groupKeys, k)
	}
	sort.Strings(groupKeys)
	for _, k := range groupKeys {
		sort.Slice(groups[k], func(i, j int) bool {
			return groups[k][i].Key() < groups[k][j].Key()
		})
	}

	// Round-robin across groups until the cap is reached.
	var sample []MarketConfig
	for depth := 0; len(sample) < max; depth++ {
		advanced := false
		for _, k := range groupKeys {
			if depth < len(groups[k]) {
				sample = append(sample, groups[k][depth])
				advanced = true
				if len(sample) == max {
					break
				}
			}
		}
		if !advanced {
			break
		}
	}
	return sample
}

// FilterUniverse returns the universe entries whose symbol matches any of the
// given symbols. An empty filter returns the full universe.
func FilterUniverse(universe []MarketConfig, symbols []string) []MarketConfig {
	if len(symbols) == 0 {
		out := make([]MarketConfig, len(universe))
		copy(out, universe)
		return out
	}

	wanted := make(map[string]bool, len(symbols))
	for _, s := range symbols {
		wanted[s] = true
	}

	var out []MarketConfig
	for _, m := range universe {
		if wanted[m.Symbol] {
			out = append(out, m)
		}
	}
	return out
}
