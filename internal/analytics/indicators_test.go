package analytics

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/sentinel-quant/nightly-compute/internal/domain"
)

func flatSeries(n int, price, volume float64) []domain.OHLCV {
	obs := make([]domain.OHLCV, n)
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := range obs {
		p, v := price, volume
		obs[i] = domain.OHLCV{
			Date: start.AddDate(0, 0, i),
			Open: &p, High: &p, Low: &p, Close: &p, Volume: &v,
		}
	}
	return obs
}

func TestUncertaintyScoreNilBelowBaselineWindow(t *testing.T) {
	obs := flatSeries(uncertaintyRangeBaselineWindow, 100, 1000)
	closes, highs, lows, volumes := closesOf(obs), highsOf(obs), lowsOf(obs), volumesOf(obs)
	assert.Nil(t, uncertaintyScore(closes, highs, lows, volumes))
}

func TestUncertaintyScoreLowForFlatQuietSeries(t *testing.T) {
	obs := flatSeries(uncertaintyRangeBaselineWindow+10, 100, 1000)
	closes, highs, lows, volumes := closesOf(obs), highsOf(obs), lowsOf(obs), volumesOf(obs)
	score := uncertaintyScore(closes, highs, lows, volumes)
	if assert.NotNil(t, score) {
		assert.InDelta(t, 0, *score, 1)
	}
}

func TestComputeIndicatorsCarriesAbsentVolumeAsNaNRatherThanZero(t *testing.T) {
	obs := flatSeries(60, 100, 1000)
	obs[len(obs)-1].Volume = nil // halted day, volume absent rather than zero

	ind := ComputeIndicators("AAPL", obs)
	assert.True(t, math.IsNaN(ind.Volume), "absent observation should surface as NaN, not a valid-looking 0")
}
