package analytics

import "github.com/sentinel-quant/nightly-compute/internal/domain"

// DefaultLookbackDays is the window percentile ranks are computed over.
const DefaultLookbackDays = 365

// ComputePercentiles ranks today's indicator values against their own
// trailing history. history must already exclude today's row and be
// ordered oldest-first; today is the indicator row just computed.
func ComputePercentiles(displaySymbol string, history []domain.DailyIndicators, today domain.DailyIndicators) domain.IndicatorPercentiles {
	window := history
	if len(window) > DefaultLookbackDays {
		window = window[len(window)-DefaultLookbackDays:]
	}

	ranks := map[string]float64{}
	freq := map[string]float64{}

	addRank := func(name string, series []float64, v *float64) {
		if v == nil {
			return
		}
		ranks[name] = PercentileRank(series, *v)
	}

	addRank("rsi14", fieldSeries(window, func(d domain.DailyIndicators) *float64 { return d.RSI14 }), today.RSI14)
	addRank("atr_percent", fieldSeries(window, func(d domain.DailyIndicators) *float64 { return d.ATRPercent }), today.ATRPercent)
	addRank("volume_ratio", fieldSeries(window, func(d domain.DailyIndicators) *float64 { return d.VolumeRatio }), today.VolumeRatio)
	addRank("macd_histogram", fieldSeries(window, func(d domain.DailyIndicators) *float64 { return d.MACDHistogram }), today.MACDHistogram)

	rsiSeries := fieldSeries(window, func(d domain.DailyIndicators) *float64 { return d.RSI14 })
	freq["rsi_above_70"] = FrequencyAbove(rsiSeries, 70)
	freq["rsi_above_30"] = FrequencyAbove(rsiSeries, 30)

	return domain.IndicatorPercentiles{
		DisplaySymbol:           displaySymbol,
		Date:                    today.Date,
		LookbackDays:            len(window),
		Ranks:                   ranks,
		FrequencyAboveThreshold: freq,
	}
}

func fieldSeries(rows []domain.DailyIndicators, get func(domain.DailyIndicators) *float64) []float64 {
	out := make([]float64, 0, len(rows))
	for _, r := range rows {
		if v := get(r); v != nil {
			out = append(out, *v)
		}
	}
	return out
}
