// Package formulas provides shared statistical primitives used by the
// evaluator and the deployment gate.
package formulas

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"
)

// Mean calculates the arithmetic mean of a slice of float64 values
func Mean(data []float64) float64 {
	if len(data) == 0 {
		return 0
	}
	return stat.Mean(data, nil)
}

// StdDev calculates the sample standard deviation of a slice of float64 values
func StdDev(data []float64) float64 {
	if len(data) < 2 {
		return 0
	}
	return stat.StdDev(data, nil)
}

// Variance calculates the sample variance of a slice of float64 values
func Variance(data []float64) float64 {
	if len(data) < 2 {
		return 0
	}
	return stat.Variance(data, nil)
}

// SharpeRatio calculates the annualized Sharpe ratio from per-period returns.
// Formula: mean / stddev * sqrt(periodsPerYear), zero risk-free rate.
func SharpeRatio(returns []float64, periodsPerYear float64) float64 {
	if len(returns) < 2 {
		return 0
	}
	sd := StdDev(returns)
	if sd == 0 {
		return 0
	}
	return Mean(returns) / sd * math.Sqrt(periodsPerYear)
}

// MaxDrawdown calculates the maximum peak-to-trough decline of an equity curve,
// returned as a positive fraction (0.25 = 25% drawdown).
func MaxDrawdown(equity []float64) float64 {
	if len(equity) == 0 {
		return 0
	}

	peak := equity[0]
	maxDD := 0.0
	for _, v := range equity {
		if v > peak {
			peak = v
		}
		if peak > 0 {
			dd := (peak - v) / peak
			if dd > maxDD {
				maxDD = dd
			}
		}
	}
	return maxDD
}

// CalculateReturns converts an equity or price series to percentage returns.
// Returns[i] = (Series[i] - Series[i-1]) / Series[i-1]
func CalculateReturns(series []float64) []float64 {
	if len(series) < 2 {
		return []float64{}
	}

	returns := make([]float64, len(series)-1)
	for i := 1; i < len(series); i++ {
		if series[i-1] != 0 {
			returns[i-1] = (series[i] - series[i-1]) / series[i-1]
		}
	}
	return returns
}

// TStatistic calculates the one-sample t statistic of data against mu.
// Returns 0 when the sample is too small or degenerate.
func TStatistic(data []float64, mu float64) float64 {
	n := len(data)
	if n < 2 {
		return 0
	}
	sd := StdDev(data)
	if sd == 0 {
		return 0
	}
	return (Mean(data) - mu) / (sd / math.Sqrt(float64(n)))
}

// ConfidenceInterval returns the (low, high) bounds of a normal-approximation
// confidence interval around the sample mean. z is the critical value
// (1.96 for 95%).
func ConfidenceInterval(data []float64, z float64) (float64, float64) {
	n := len(data)
	if n == 0 {
		return 0, 0
	}
	m := Mean(data)
	if n < 2 {
		return m, m
	}
	half := z * StdDev(data) / math.Sqrt(float64(n))
	return m - half, m + half
}

// Percentile returns the p-th percentile (0-100) of data using linear
// interpolation between closest ranks. The input is not modified.
func Percentile(data []float64, p float64) float64 {
	if len(data) == 0 {
		return 0
	}

	sorted := make([]float64, len(data))
	copy(sorted, data)
	sort.Float64s(sorted)

	if p <= 0 {
		return sorted[0]
	}
	if p >= 100 {
		return sorted[len(sorted)-1]
	}

	rank := p / 100 * float64(len(sorted)-1)
	lo := int(math.Floor(rank))
	hi := int(math.Ceil(rank))
	if lo == hi {
		return sorted[lo]
	}
	frac := rank - float64(lo)
	return sorted[lo]*(1-frac) + sorted[hi]*frac
}
