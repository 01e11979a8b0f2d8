package analytics

import (
	"math"

	"github.com/markcheno/go-talib"

	"github.com/sentinel-quant/nightly-compute/internal/domain"
)

// ComputeIndicators derives one daily_indicators row from the full raw
// observation history available for a symbol, keeping only the last day's
// figures. go-talib needs the whole history in memory to warm up each
// indicator's lookback window; it is cheap enough at one symbol per call
// that the worker doesn't need to keep a running state across days.
func ComputeIndicators(displaySymbol string, obs []domain.OHLCV) domain.DailyIndicators {
	n := len(obs)
	last := obs[n-1]

	closes := closesOf(obs)
	highs := highsOf(obs)
	lows := lowsOf(obs)
	volumes := volumesOf(obs)

	out := domain.DailyIndicators{
		DisplaySymbol: displaySymbol,
		Date:          last.Date,
		Open:          value(last.Open),
		High:          value(last.High),
		Low:           value(last.Low),
		Close:         value(last.Close),
		Volume:        value(last.Volume),
	}

	out.SMA20 = lastValid(talib.Sma(closes, 20))
	out.SMA50 = lastValid(talib.Sma(closes, 50))
	out.SMA200 = lastValid(talib.Sma(closes, 200))
	out.RSI14 = lastValid(talib.Rsi(closes, 14))

	macd, signal, hist := talib.Macd(closes, 12, 26, 9)
	out.MACD = lastValid(macd)
	out.MACDSignal = lastValid(signal)
	out.MACDHistogram = lastValid(hist)

	upper, middle, lower := talib.BBands(closes, 20, 2, 2, talib.SMA)
	out.BollingerUpper = lastValid(upper)
	out.BollingerMiddle = lastValid(middle)
	out.BollingerLower = lastValid(lower)

	atr := talib.Atr(highs, lows, closes, 14)
	out.ATR14 = lastValid(atr)
	if out.ATR14 != nil && out.Close != 0 {
		pct := *out.ATR14 / out.Close * 100
		out.ATRPercent = &pct
	}

	vwap := vwapSeries(obs)
	out.VWAP = lastValid(vwap)
	if out.VWAP != nil && *out.VWAP != 0 {
		pct := (out.Close - *out.VWAP) / *out.VWAP * 100
		out.PriceToVWAPPercent = &pct
	}

	out.VolumeSMA20 = lastValid(talib.Sma(volumes, 20))
	if out.VolumeSMA20 != nil && *out.VolumeSMA20 != 0 {
		ratio := out.Volume / *out.VolumeSMA20
		out.VolumeRatio = &ratio
	}

	out.UncertaintyScore = uncertaintyScore(closes, highs, lows, volumes)

	return out
}

// lastValid returns a pointer to the final element of series, or nil if the
// series is empty or that element is NaN (go-talib pads warm-up periods
// with NaN rather than trimming the slice).
func lastValid(series []float64) *float64 {
	if len(series) == 0 {
		return nil
	}
	v := series[len(series)-1]
	if v != v { // NaN
		return nil
	}
	return &v
}

// uncertaintyScore is a bounded 0-100 composite of realized volatility,
// recent range expansion, and volume dispersion (§4.3). Each component is
// clamped to [0,1] against a fixed ceiling before being averaged, so one
// extreme input can't single-handedly saturate the score. Returns nil when
// there isn't enough history to assess range expansion and volume
// dispersion against their baseline windows.
const (
	uncertaintyVolCeiling          = 0.80 // annualized volatility treated as maximally uncertain
	uncertaintyRangeWindow         = 14
	uncertaintyRangeBaselineWindow = 90
	uncertaintyVolumeWindow        = 30
)

func uncertaintyScore(closes, highs, lows, volumes []float64) *float64 {
	n := len(closes)
	if n < uncertaintyRangeBaselineWindow+1 {
		return nil
	}

	volComponent := clampUnit(AnnualizedVolatility(Returns(closes)) / uncertaintyVolCeiling)

	recentRange := meanTrueRangePercent(highs[n-uncertaintyRangeWindow:], lows[n-uncertaintyRangeWindow:], closes[n-uncertaintyRangeWindow:])
	baselineRange := meanTrueRangePercent(highs[n-uncertaintyRangeBaselineWindow:], lows[n-uncertaintyRangeBaselineWindow:], closes[n-uncertaintyRangeBaselineWindow:])
	var rangeComponent float64
	if baselineRange > 0 {
		rangeComponent = clampUnit(recentRange/baselineRange - 1)
	}

	volWindow := volumes[n-uncertaintyVolumeWindow:]
	var volumeComponent float64
	if mean := Mean(volWindow); mean > 0 {
		volumeComponent = clampUnit(StdDev(volWindow) / mean)
	}

	score := (volComponent + rangeComponent + volumeComponent) / 3 * 100
	return &score
}

// meanTrueRangePercent averages the daily high-low range as a fraction of
// that day's close, over the given slices.
func meanTrueRangePercent(highs, lows, closes []float64) float64 {
	var sum float64
	var n int
	for i := range highs {
		if closes[i] == 0 {
			continue
		}
		sum += (highs[i] - lows[i]) / closes[i]
		n++
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

func clampUnit(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}

// value dereferences an absent-value sentinel to NaN so go-talib's existing
// NaN-padding convention (see lastValid) absorbs it, rather than silently
// treating an absent observation as a valid zero.
func value(v *float64) float64 {
	if v == nil {
		return math.NaN()
	}
	return *v
}

func vwapSeries(obs []domain.OHLCV) []float64 {
	out := make([]float64, len(obs))
	var cumPV, cumVol float64
	for i, o := range obs {
		high, low, close, vol := value(o.High), value(o.Low), value(o.Close), value(o.Volume)
		typical := (high + low + close) / 3
		cumPV += typical * vol
		cumVol += vol
		if cumVol > 0 {
			out[i] = cumPV / cumVol
		} else {
			out[i] = typical
		}
	}
	return out
}

func closesOf(obs []domain.OHLCV) []float64 {
	out := make([]float64, len(obs))
	for i, o := range obs {
		out[i] = value(o.Close)
	}
	return out
}

func highsOf(obs []domain.OHLCV) []float64 {
	out := make([]float64, len(obs))
	for i, o := range obs {
		out[i] = value(o.High)
	}
	return out
}

func lowsOf(obs []domain.OHLCV) []float64 {
	out := make([]float64, len(obs))
	for i, o := range obs {
		out[i] = value(o.Low)
	}
	return out
}

func volumesOf(obs []domain.OHLCV) []float64 {
	out := make([]float64, len(obs))
	for i, o := range obs {
		out[i] = value(o.Volume)
	}
	return out
}
