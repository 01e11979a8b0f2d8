package analytics

import "github.com/sentinel-quant/nightly-compute/internal/domain"

// Fixed threshold constants driving the semantic classification layer.
// These are deliberately not configuration: changing a threshold changes
// the meaning of every historical classification, so a change here is a
// code change with its own review, not an environment toggle.
const (
	rsiOverbought = 70.0
	rsiOversold   = 30.0
	rsiMidline    = 50.0

	atrPercentModerate = 2.0
	atrPercentHigh     = 4.0
	atrPercentExtreme  = 7.0

	uncertaintyModerate = 30.0
	uncertaintyHigh     = 60.0
	uncertaintyExtreme  = 85.0

	volumeSurgeRatio = 1.5
	volumeDrySpell   = 0.5

	momentumStrongScore   = 3
	momentumModerateScore = 1
)

// RiskRegime buckets a symbol's current uncertainty and realized volatility
// (ATR%) into a four-band scale (§4.3a).
type RiskRegime string

const (
	RiskRegimeLow      RiskRegime = "LOW"
	RiskRegimeModerate RiskRegime = "MODERATE"
	RiskRegimeHigh     RiskRegime = "HIGH"
	RiskRegimeExtreme  RiskRegime = "EXTREME"
)

// MomentumDirection is the signed component of MomentumState.
type MomentumDirection string

const (
	MomentumBullish MomentumDirection = "BULLISH"
	MomentumBearish MomentumDirection = "BEARISH"
	MomentumNeutral MomentumDirection = "NEUTRAL"
)

// MomentumStrength is the magnitude component of MomentumState.
type MomentumStrength string

const (
	MomentumStrong   MomentumStrength = "STRONG"
	MomentumModerate MomentumStrength = "MODERATE"
	MomentumWeak     MomentumStrength = "WEAK"
)

// MomentumState is the compound momentum label (§4.3a): a direction driven
// by the sign of the composite score, and a strength driven by its
// magnitude.
type MomentumState struct {
	Direction MomentumDirection
	Strength  MomentumStrength
}

// TrendState compares price to the moving-average stack.
type TrendState string

const (
	TrendUp   TrendState = "uptrend"
	TrendDown TrendState = "downtrend"
	TrendFlat TrendState = "flat"
)

// VolumeState flags unusually high or low trading activity.
type VolumeState string

const (
	VolumeSurge  VolumeState = "surge"
	VolumeDry    VolumeState = "dry"
	VolumeNormal VolumeState = "normal"
)

// Classification bundles the four semantic labels attached to an
// artifact's payload alongside the raw indicator values.
type Classification struct {
	Risk     RiskRegime
	Momentum MomentumState
	Trend    TrendState
	Volume   VolumeState
}

// Classify derives the semantic labels from one day's indicators. cmp is
// accepted but no label reads it.
func Classify(ind domain.DailyIndicators, cmp domain.ComparativeFeatures) Classification {
	return Classification{
		Risk:     classifyRisk(ind.UncertaintyScore, ind.ATRPercent),
		Momentum: classifyMomentum(ind),
		Trend:    classifyTrend(ind),
		Volume:   classifyVolume(ind.VolumeRatio),
	}
}

// classifyRisk combines uncertainty and ATR% into one four-band regime,
// taking whichever signal reads more severe when both are available.
func classifyRisk(uncertainty, atrPercent *float64) RiskRegime {
	fromUncertainty, haveUncertainty := riskFromUncertainty(uncertainty)
	fromATR, haveATR := riskFromATRPercent(atrPercent)

	switch {
	case haveUncertainty && haveATR:
		return maxRisk(fromUncertainty, fromATR)
	case haveUncertainty:
		return fromUncertainty
	case haveATR:
		return fromATR
	default:
		return RiskRegimeModerate
	}
}

func riskFromUncertainty(v *float64) (RiskRegime, bool) {
	if v == nil {
		return "", false
	}
	switch {
	case *v >= uncertaintyExtreme:
		return RiskRegimeExtreme, true
	case *v >= uncertaintyHigh:
		return RiskRegimeHigh, true
	case *v >= uncertaintyModerate:
		return RiskRegimeModerate, true
	default:
		return RiskRegimeLow, true
	}
}

func riskFromATRPercent(v *float64) (RiskRegime, bool) {
	if v == nil {
		return "", false
	}
	switch {
	case *v >= atrPercentExtreme:
		return RiskRegimeExtreme, true
	case *v >= atrPercentHigh:
		return RiskRegimeHigh, true
	case *v >= atrPercentModerate:
		return RiskRegimeModerate, true
	default:
		return RiskRegimeLow, true
	}
}

var riskRank = map[RiskRegime]int{
	RiskRegimeLow:      0,
	RiskRegimeModerate: 1,
	RiskRegimeHigh:     2,
	RiskRegimeExtreme:  3,
}

func maxRisk(a, b RiskRegime) RiskRegime {
	if riskRank[b] > riskRank[a] {
		return b
	}
	return a
}

// classifyMomentum builds a signed composite score from the MA stack, RSI,
// and the MACD histogram, then maps its sign to direction and its
// magnitude to strength.
func classifyMomentum(ind domain.DailyIndicators) MomentumState {
	score := 0

	if ind.SMA20 != nil && ind.SMA50 != nil {
		if *ind.SMA20 > *ind.SMA50 {
			score++
		} else if *ind.SMA20 < *ind.SMA50 {
			score--
		}
	}
	if ind.SMA50 != nil && ind.SMA200 != nil {
		if *ind.SMA50 > *ind.SMA200 {
			score++
		} else if *ind.SMA50 < *ind.SMA200 {
			score--
		}
	}

	if ind.RSI14 != nil {
		switch {
		case *ind.RSI14 >= rsiOverbought:
			score += 2
		case *ind.RSI14 > rsiMidline:
			score++
		case *ind.RSI14 <= rsiOversold:
			score -= 2
		case *ind.RSI14 < rsiMidline:
			score--
		}
	}

	if ind.MACDHistogram != nil {
		if *ind.MACDHistogram > 0 {
			score++
		} else if *ind.MACDHistogram < 0 {
			score--
		}
	}

	direction := MomentumNeutral
	switch {
	case score > 0:
		direction = MomentumBullish
	case score < 0:
		direction = MomentumBearish
	}

	magnitude := score
	if magnitude < 0 {
		magnitude = -magnitude
	}
	strength := MomentumWeak
	switch {
	case magnitude >= momentumStrongScore:
		strength = MomentumStrong
	case magnitude >= momentumModerateScore:
		strength = MomentumModerate
	}

	return MomentumState{Direction: direction, Strength: strength}
}

func classifyTrend(ind domain.DailyIndicators) TrendState {
	if ind.SMA20 == nil || ind.SMA50 == nil {
		return TrendFlat
	}
	switch {
	case ind.Close > *ind.SMA20 && *ind.SMA20 > *ind.SMA50:
		return TrendUp
	case ind.Close < *ind.SMA20 && *ind.SMA20 < *ind.SMA50:
		return TrendDown
	default:
		return TrendFlat
	}
}

func classifyVolume(ratio *float64) VolumeState {
	if ratio == nil {
		return VolumeNormal
	}
	switch {
	case *ratio >= volumeSurgeRatio:
		return VolumeSurge
	case *ratio <= volumeDrySpell:
		return VolumeDry
	default:
		return VolumeNormal
	}
}
