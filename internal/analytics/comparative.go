package analytics

import "github.com/sentinel-quant/nightly-compute/internal/domain"

// ComputeComparative derives return/volatility/risk-adjusted features from
// a symbol's own close-price history plus, when available, a reference
// index's close-price history aligned to the same calendar.
func ComputeComparative(displaySymbol string, obs []domain.OHLCV, referenceCloses []float64, riskFreeRate float64) domain.ComparativeFeatures {
	closes := closesOf(obs)
	n := len(closes)
	today := obs[n-1].Date

	out := domain.ComparativeFeatures{
		DisplaySymbol: displaySymbol,
		Date:          today,
	}

	out.DailyReturn = periodReturn(closes, 1)
	out.WeeklyReturn = periodReturn(closes, 5)
	out.MonthlyReturn = periodReturn(closes, 21)
	out.YTDReturn = ytdReturn(obs)

	out.Volatility30D = windowVolatility(closes, 30)
	out.Volatility90D = windowVolatility(closes, 90)

	out.Sharpe30D = windowSharpe(closes, 30, riskFreeRate)
	out.Sharpe90D = windowSharpe(closes, 90, riskFreeRate)

	out.MaxDrawdown30D = windowDrawdown(closes, 30)
	out.MaxDrawdown90D = windowDrawdown(closes, 90)

	if len(referenceCloses) == n {
		out.RelativeStrength = relativeStrength(closes, referenceCloses)
	}

	return out
}

func periodReturn(closes []float64, days int) *float64 {
	if len(closes) < days+1 {
		return nil
	}
	start := closes[len(closes)-days-1]
	end := closes[len(closes)-1]
	if start == 0 {
		return nil
	}
	r := (end - start) / start
	return &r
}

func ytdReturn(obs []domain.OHLCV) *float64 {
	if len(obs) == 0 {
		return nil
	}
	year := obs[len(obs)-1].Date.Year()
	var startClose float64
	found := false
	for _, o := range obs {
		if o.Date.Year() == year && o.Close != nil {
			startClose = *o.Close
			found = true
			break
		}
	}
	if !found || startClose == 0 {
		return nil
	}
	end := value(obs[len(obs)-1].Close)
	r := (end - startClose) / startClose
	return &r
}

func windowVolatility(closes []float64, days int) *float64 {
	if len(closes) < days+1 {
		return nil
	}
	window := closes[len(closes)-days-1:]
	v := AnnualizedVolatility(Returns(window))
	return &v
}

func windowSharpe(closes []float64, days int, riskFreeRate float64) *float64 {
	if len(closes) < days+1 {
		return nil
	}
	window := closes[len(closes)-days-1:]
	return SharpeRatio(Returns(window), riskFreeRate, 252)
}

func windowDrawdown(closes []float64, days int) *float64 {
	if len(closes) < days {
		return nil
	}
	window := closes[len(closes)-days:]
	return MaxDrawdown(window)
}

// relativeStrength is the ratio of the symbol's growth factor (1 plus its
// cumulative return) to the reference index's growth factor over the same
// window, 1.0 meaning the symbol tracked the index exactly.
func relativeStrength(closes, reference []float64) *float64 {
	if len(closes) < 2 || len(reference) < 2 {
		return nil
	}
	symStart, symEnd := closes[0], closes[len(closes)-1]
	refStart, refEnd := reference[0], reference[len(reference)-1]
	if symStart == 0 || refStart == 0 {
		return nil
	}
	symReturn := (symEnd - symStart) / symStart
	refReturn := (refEnd - refStart) / refStart
	if refReturn == -1 {
		return nil
	}
	rs := (1 + symReturn) / (1 + refReturn)
	return &rs
}
