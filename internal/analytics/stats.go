// Package analytics computes the derived indicators, percentile ranks,
// comparative features, and semantic classifications that make up a
// symbol-day's artifact payload.
package analytics

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

// Mean is the arithmetic mean, 0 for an empty slice.
func Mean(data []float64) float64 {
	if len(data) == 0 {
		return 0
	}
	return stat.Mean(data, nil)
}

// StdDev is the sample standard deviation, 0 for an empty slice.
func StdDev(data []float64) float64 {
	if len(data) == 0 {
		return 0
	}
	return stat.StdDev(data, nil)
}

// AnnualizedVolatility scales daily-return standard deviation to a yearly
// figure assuming 252 trading days.
func AnnualizedVolatility(dailyReturns []float64) float64 {
	if len(dailyReturns) == 0 {
		return 0
	}
	return StdDev(dailyReturns) * math.Sqrt(252)
}

// Returns converts a price series to simple period-over-period returns.
func Returns(prices []float64) []float64 {
	if len(prices) < 2 {
		return nil
	}
	out := make([]float64, len(prices)-1)
	for i := 1; i < len(prices); i++ {
		if prices[i-1] != 0 {
			out[i-1] = (prices[i] - prices[i-1]) / prices[i-1]
		}
	}
	return out
}

// PercentileRank returns the fraction of values in window strictly below v,
// expressed on a 0-100 scale. Used to rank today's indicator value against
// its own lookback history rather than against other symbols.
func PercentileRank(window []float64, v float64) float64 {
	if len(window) == 0 {
		return 0
	}
	below := 0
	for _, w := range window {
		if w < v {
			below++
		}
	}
	return 100 * float64(below) / float64(len(window))
}

// FrequencyAbove returns the fraction of window strictly above threshold.
func FrequencyAbove(window []float64, threshold float64) float64 {
	if len(window) == 0 {
		return 0
	}
	count := 0
	for _, w := range window {
		if w > threshold {
			count++
		}
	}
	return float64(count) / float64(len(window))
}

// MaxDrawdown returns the largest peak-to-trough decline in prices as a
// positive fraction (0.25 means a 25% drawdown from the running peak).
func MaxDrawdown(prices []float64) *float64 {
	if len(prices) < 2 {
		return nil
	}
	maxDD := 0.0
	peak := prices[0]
	for _, p := range prices {
		if p > peak {
			peak = p
		}
		if peak > 0 {
			if dd := (peak - p) / peak; dd > maxDD {
				maxDD = dd
			}
		}
	}
	return &maxDD
}

// SharpeRatio annualizes the mean/stddev ratio of returns against a
// periodic risk-free rate. periodsPerYear is 252 for daily returns.
func SharpeRatio(returns []float64, riskFreeRate float64, periodsPerYear int) *float64 {
	if len(returns) < 2 {
		return nil
	}
	sd := StdDev(returns)
	if sd == 0 {
		return nil
	}
	periodicRF := riskFreeRate / float64(periodsPerYear)
	sharpe := (Mean(returns) - periodicRF) / sd * math.Sqrt(float64(periodsPerYear))
	return &sharpe
}
