package analytics

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sentinel-quant/nightly-compute/internal/domain"
)

func ptr(v float64) *float64 { return &v }

func TestClassifyRiskUsesWorseOfUncertaintyAndATR(t *testing.T) {
	tests := []struct {
		name        string
		uncertainty *float64
		atrPercent  *float64
		want        RiskRegime
	}{
		{"both nil defaults to moderate", nil, nil, RiskRegimeModerate},
		{"low uncertainty, no atr", ptr(10), nil, RiskRegimeLow},
		{"extreme atr dominates moderate uncertainty", ptr(35), ptr(8), RiskRegimeExtreme},
		{"high uncertainty dominates low atr", ptr(65), ptr(1), RiskRegimeHigh},
		{"both extreme", ptr(90), ptr(9), RiskRegimeExtreme},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, classifyRisk(tt.uncertainty, tt.atrPercent))
		})
	}
}

func TestClassifyMomentumDirectionAndStrength(t *testing.T) {
	tests := []struct {
		name string
		ind  domain.DailyIndicators
		want MomentumState
	}{
		{
			name: "strong bullish: stacked MAs, overbought RSI, positive histogram",
			ind: domain.DailyIndicators{
				SMA20: ptr(110), SMA50: ptr(100), SMA200: ptr(90),
				RSI14: ptr(75), MACDHistogram: ptr(0.5),
			},
			want: MomentumState{Direction: MomentumBullish, Strength: MomentumStrong},
		},
		{
			name: "strong bearish: inverted MAs, oversold RSI, negative histogram",
			ind: domain.DailyIndicators{
				SMA20: ptr(90), SMA50: ptr(100), SMA200: ptr(110),
				RSI14: ptr(25), MACDHistogram: ptr(-0.5),
			},
			want: MomentumState{Direction: MomentumBearish, Strength: MomentumStrong},
		},
		{
			name: "no data is neutral and weak",
			ind:  domain.DailyIndicators{},
			want: MomentumState{Direction: MomentumNeutral, Strength: MomentumWeak},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, classifyMomentum(tt.ind))
		})
	}
}

func TestClassifyTrendComparesPriceToMAStack(t *testing.T) {
	up := domain.DailyIndicators{Close: 110, SMA20: ptr(105), SMA50: ptr(100)}
	assert.Equal(t, TrendUp, classifyTrend(up))

	down := domain.DailyIndicators{Close: 90, SMA20: ptr(95), SMA50: ptr(100)}
	assert.Equal(t, TrendDown, classifyTrend(down))

	flat := domain.DailyIndicators{Close: 100}
	assert.Equal(t, TrendFlat, classifyTrend(flat))
}

func TestClassifyVolumeBandsOnRatio(t *testing.T) {
	assert.Equal(t, VolumeSurge, classifyVolume(ptr(2.0)))
	assert.Equal(t, VolumeDry, classifyVolume(ptr(0.3)))
	assert.Equal(t, VolumeNormal, classifyVolume(ptr(1.0)))
	assert.Equal(t, VolumeNormal, classifyVolume(nil))
}
