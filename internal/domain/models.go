// Package domain holds the shared value types that cross package
// boundaries: the repository returns them, analytics consumes and produces
// them, the worker threads them through its pipeline, and the read API
// serializes them.
package domain

import "time"

// SurfaceType enumerates the kinds of alias a symbol can carry (§3.1).
type SurfaceType string

const (
	SurfaceDisplay       SurfaceType = "display"
	SurfaceVendorA       SurfaceType = "vendor_a"
	SurfaceVendorB       SurfaceType = "vendor_b"
	SurfaceAnalystVendor SurfaceType = "analyst"
)

// Security is the master symbol record (§3.1).
type Security struct {
	ID          int64  `json:"id"`
	CompanyName string `json:"company_name"`
	Exchange    string `json:"exchange"`
	Currency    string `json:"currency"`
	Sector      string `json:"sector"`
	Industry    string `json:"industry"`
	Active      bool   `json:"active"`
}

// SecurityAlias resolves a surface symbol to a master id.
type SecurityAlias struct {
	SecurityID    int64       `json:"security_id"`
	SurfaceSymbol string      `json:"surface_symbol"`
	SurfaceType   SurfaceType `json:"surface_type"`
	IsPrimary     bool        `json:"is_primary"`
}

// ActiveSymbol is a row of the list-active-symbols join result.
type ActiveSymbol struct {
	MasterID      int64  `json:"master_id"`
	DisplaySymbol string `json:"display_symbol"`
}

// OHLCV is one daily observation in a raw price series. Fields are pointers
// rather than plain float64 so a halted or illiquid day's non-finite reading
// (NaN/±Inf from the provider) can be carried as absent rather than coerced
// into a valid-looking zero.
type OHLCV struct {
	Date   time.Time `json:"date"`
	Open   *float64  `json:"open,omitempty"`
	High   *float64  `json:"high,omitempty"`
	Low    *float64  `json:"low,omitempty"`
	Close  *float64  `json:"close,omitempty"`
	Volume *float64  `json:"volume,omitempty"`
}

// RawSeries is the symbol-day record of §3.2. BusinessDate is the trading
// date this series describes — it must equal the date of the last element
// of Observations — and is distinct from FetchedAt/ExpiresAt, which are
// system timestamps.
type RawSeries struct {
	DisplaySymbol string         `json:"display_symbol"`
	BusinessDate  time.Time      `json:"business_date"`
	Observations  []OHLCV        `json:"observations"` // ascending by Date, duplicate dates forbidden
	Metadata      map[string]any `json:"metadata,omitempty"`
	EarliestDate  time.Time      `json:"earliest_date"`
	LatestDate    time.Time      `json:"latest_date"`
	RowCount      int            `json:"row_count"`
	FetchedAt     time.Time      `json:"fetched_at"`
	Source        string         `json:"source"`
	ExpiresAt     time.Time      `json:"expires_at"`
}

// DailyIndicators is one row of daily_indicators (§3.3). Pointer fields are
// nil rather than zero when the lookback window is too short to compute
// them, so the JSON wire contract represents "absent" distinctly from 0.
type DailyIndicators struct {
	DisplaySymbol string    `json:"display_symbol" db:"display_symbol"`
	Date          time.Time `json:"date" db:"date"`
	Open          float64   `json:"-" db:"open"`
	High          float64   `json:"-" db:"high"`
	Low           float64   `json:"-" db:"low"`
	Close         float64   `json:"-" db:"close"`
	Volume        float64   `json:"volume" db:"volume"`

	SMA20  *float64 `json:"sma_20,omitempty" db:"sma_20"`
	SMA50  *float64 `json:"sma_50,omitempty" db:"sma_50"`
	SMA200 *float64 `json:"sma_200,omitempty" db:"sma_200"`
	RSI14  *float64 `json:"rsi_14,omitempty" db:"rsi_14"`

	MACD          *float64 `json:"macd,omitempty" db:"macd"`
	MACDSignal    *float64 `json:"macd_signal,omitempty" db:"macd_signal"`
	MACDHistogram *float64 `json:"macd_histogram,omitempty" db:"macd_histogram"`

	BollingerUpper  *float64 `json:"bollinger_upper,omitempty" db:"bollinger_upper"`
	BollingerMiddle *float64 `json:"bollinger_middle,omitempty" db:"bollinger_middle"`
	BollingerLower  *float64 `json:"bollinger_lower,omitempty" db:"bollinger_lower"`

	ATR14      *float64 `json:"atr_14,omitempty" db:"atr_14"`
	ATRPercent *float64 `json:"atr_percent,omitempty" db:"atr_percent"`

	VWAP               *float64 `json:"vwap,omitempty" db:"vwap"`
	PriceToVWAPPercent *float64 `json:"price_to_vwap_percent,omitempty" db:"price_to_vwap_percent"`

	VolumeSMA20 *float64 `json:"volume_sma_20,omitempty" db:"volume_sma_20"`
	VolumeRatio *float64 `json:"volume_ratio,omitempty" db:"volume_ratio"`

	UncertaintyScore *float64 `json:"uncertainty_score,omitempty" db:"uncertainty_score"`
}

// IndicatorPercentiles is one row of indicator_percentiles (§3.3).
type IndicatorPercentiles struct {
	DisplaySymbol string    `json:"display_symbol"`
	Date          time.Time `json:"date"`
	LookbackDays  int       `json:"lookback_days"`
	// Ranks maps an indicator name (e.g. "rsi14", "atr_percent") to its
	// percentile rank in [0,100] over the lookback window.
	Ranks map[string]float64 `json:"ranks"`
	// FrequencyAboveThreshold maps a named predicate (e.g. "rsi_above_70") to
	// the fraction of lookback observations satisfying it.
	FrequencyAboveThreshold map[string]float64 `json:"frequency_above_threshold"`
}

// ComparativeFeatures is one row of comparative_features (§3.3).
type ComparativeFeatures struct {
	DisplaySymbol    string    `json:"display_symbol"`
	Date             time.Time `json:"date"`
	DailyReturn      *float64  `json:"daily_return,omitempty"`
	WeeklyReturn     *float64  `json:"weekly_return,omitempty"`
	MonthlyReturn    *float64  `json:"monthly_return,omitempty"`
	YTDReturn        *float64  `json:"ytd_return,omitempty"`
	Volatility30D    *float64  `json:"volatility_30d,omitempty"`
	Volatility90D    *float64  `json:"volatility_90d,omitempty"`
	Sharpe30D        *float64  `json:"sharpe_30d,omitempty"`
	Sharpe90D        *float64  `json:"sharpe_90d,omitempty"`
	MaxDrawdown30D   *float64  `json:"max_drawdown_30d,omitempty"`
	MaxDrawdown90D   *float64  `json:"max_drawdown_90d,omitempty"`
	RelativeStrength *float64  `json:"relative_strength,omitempty"` // vs the configured reference index
}

// ArtifactStatus is the §3.4 status enum.
type ArtifactStatus string

const (
	ArtifactPending   ArtifactStatus = "pending"
	ArtifactCompleted ArtifactStatus = "completed"
	ArtifactFailed    ArtifactStatus = "failed"
)

// Artifact is the final precomputed per-symbol-per-day record (§3.4).
type Artifact struct {
	SecurityID     int64          `json:"security_id"`
	DisplaySymbol  string         `json:"display_symbol"`
	BusinessDate   time.Time      `json:"business_date"`
	Narrative      string         `json:"narrative"`
	Payload        map[string]any `json:"payload"`
	LatencyMS      int64          `json:"latency_ms"`
	ChartObjectKey string         `json:"chart_object_key,omitempty"`
	Status         ArtifactStatus `json:"status"`
	ErrorMessage   string         `json:"error_message,omitempty"`
	ComputedAt     time.Time      `json:"computed_at"`
	ExpiresAt      time.Time      `json:"expires_at"`
}

// ReferenceMetric is a row of the independent reference-data side stream
// (§3.5). The core reads this opportunistically; its absence never fails a
// run.
type ReferenceMetric struct {
	TradingDate     time.Time `json:"trading_date"`
	SourceStockCode string    `json:"source_stock_code"`
	SurfaceSymbol   string    `json:"surface_symbol"`
	MetricCode      string    `json:"metric_code"`
	ValueNumeric    *float64  `json:"value_numeric,omitempty"`
	ValueText       *string   `json:"value_text,omitempty"`
	SourceObjectKey string    `json:"source_object_key,omitempty"`
}

// WatchlistItem is a user's tracked symbol (§3.6).
type WatchlistItem struct {
	UserID string `json:"user_id"`
	Symbol string `json:"symbol"`
}

// JobStatus tracks an on-demand report request end to end (§3.6).
type JobStatus struct {
	JobID       string     `json:"job_id" db:"job_id"`
	Symbol      string     `json:"symbol" db:"symbol"`
	Status      string     `json:"status" db:"status"`
	RequestedAt time.Time  `json:"requested_at" db:"requested_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty" db:"completed_at"`
}

// RunState is the controller's in-memory view of a single nightly run,
// threaded through both fan-out phases and exposed over the run-progress
// stream (§9).
type RunState struct {
	CorrelationID    string     `json:"correlation_id"`
	BusinessDate     time.Time  `json:"business_date"`
	StartedAt        time.Time  `json:"started_at"`
	Phase            string     `json:"phase"` // "raw", "barrier", "derived", "done", "failed"
	TotalSymbols     int        `json:"total_symbols"`
	RawCompleted     int        `json:"raw_completed"`
	RawFailed        int        `json:"raw_failed"`
	DerivedCompleted int        `json:"derived_completed"`
	DerivedFailed    int        `json:"derived_failed"`
	FinishedAt       *time.Time `json:"finished_at,omitempty"`
}
