// Package repository is the only part of the system that issues SQL. Every
// query builder takes a dbconst table name rather than a literal, every
// write that must touch a row checks RowsAffected (the idempotent watchlist
// add and remove do not), and every multi-table write runs inside one
// transaction.
package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog"

	"github.com/sentinel-quant/nightly-compute/internal/clientcache"
	"github.com/sentinel-quant/nightly-compute/internal/dbconst"
	"github.com/sentinel-quant/nightly-compute/internal/domain"
	"github.com/sentinel-quant/nightly-compute/internal/errs"
)

// Repository wraps the shared pool. Every method is safe for concurrent use
// by multiple worker goroutines. seriesCache, when set, is consulted ahead
// of Postgres for GetRaw and kept in sync (via its monotonic-merge rule) on
// every StoreRaw; it is purely an accelerator and is never the source of
// truth.
type Repository struct {
	db          *sqlx.DB
	seriesCache *clientcache.SeriesCache
	aliasCache  *clientcache.SQLiteCache
	log         zerolog.Logger
}

func New(db *sqlx.DB, log zerolog.Logger) *Repository {
	return &Repository{db: db, log: log.With().Str("component", "repository").Logger()}
}

// WithSeriesCache attaches the Redis hot-read tier. Optional: a Repository
// built without it simply always reads through to Postgres.
func (r *Repository) WithSeriesCache(c *clientcache.SeriesCache) *Repository {
	r.seriesCache = c
	return r
}

// WithAliasCache attaches the sqlite TTL cache for Resolve lookups.
// Optional: a Repository built without it simply always reads through to
// Postgres.
func (r *Repository) WithAliasCache(c *clientcache.SQLiteCache) *Repository {
	r.aliasCache = c
	return r
}

// Resolve maps a surface symbol to its master security id, preferring the
// primary alias when more than one surface shares a symbol string.
func (r *Repository) Resolve(ctx context.Context, surfaceSymbol string) (*domain.SecurityAlias, error) {
	if r.aliasCache != nil {
		if cached, err := r.aliasCache.GetIfFresh(clientcache.TableAliasCache, surfaceSymbol); err != nil {
			r.log.Warn().Err(err).Str("symbol", surfaceSymbol).Msg("alias cache read failed")
		} else if cached != nil {
			var alias domain.SecurityAlias
			if err := json.Unmarshal(cached, &alias); err == nil {
				return &alias, nil
			}
		}
	}

	var alias domain.SecurityAlias
	query := fmt.Sprintf(`
		SELECT security_id, surface_symbol, surface_type, is_primary
		FROM %s
		WHERE surface_symbol = $1
		ORDER BY is_primary DESC
		LIMIT 1`, dbconst.TableSecurityAliases)

	err := r.db.GetContext(ctx, &alias, query, surfaceSymbol)
	if err == sql.ErrNoRows {
		return nil, errs.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", surfaceSymbol, err)
	}

	if r.aliasCache != nil {
		if cacheErr := r.aliasCache.Store(clientcache.TableAliasCache, surfaceSymbol, alias, clientcache.TTLAlias); cacheErr != nil {
			r.log.Warn().Err(cacheErr).Str("symbol", surfaceSymbol).Msg("alias cache store failed")
		}
	}
	return &alias, nil
}

// ListActiveSymbols returns every symbol the nightly run should fan out
// over.
func (r *Repository) ListActiveSymbols(ctx context.Context) ([]domain.ActiveSymbol, error) {
	query := fmt.Sprintf(`
		SELECT s.id AS master_id, a.surface_symbol AS display_symbol
		FROM %s s
		JOIN %s a ON a.security_id = s.id AND a.is_primary = TRUE
		WHERE s.active = TRUE
		ORDER BY s.id`, dbconst.TableSecurities, dbconst.TableSecurityAliases)

	var symbols []domain.ActiveSymbol
	if err := r.db.SelectContext(ctx, &symbols, query); err != nil {
		return nil, fmt.Errorf("list active symbols: %w", err)
	}
	return symbols, nil
}

// StoreRaw upserts one symbol-day raw series. Re-running the same
// business date with a freshly fetched series replaces the prior row in
// place; this is the idempotent-upsert guarantee the worker's redelivery
// path relies on.
func (r *Repository) StoreRaw(ctx context.Context, series domain.RawSeries) error {
	obs, err := json.Marshal(series.Observations)
	if err != nil {
		return fmt.Errorf("marshal observations for %s: %w", series.DisplaySymbol, err)
	}
	meta, err := json.Marshal(series.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata for %s: %w", series.DisplaySymbol, err)
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (display_symbol, business_date, observations, metadata, earliest_date, latest_date, row_count, fetched_at, source, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (display_symbol, business_date) DO UPDATE SET
			observations = EXCLUDED.observations,
			metadata = EXCLUDED.metadata,
			earliest_date = EXCLUDED.earliest_date,
			latest_date = EXCLUDED.latest_date,
			row_count = EXCLUDED.row_count,
			fetched_at = EXCLUDED.fetched_at,
			source = EXCLUDED.source,
			expires_at = EXCLUDED.expires_at`, dbconst.TableRawSeries)

	res, err := r.db.ExecContext(ctx, query,
		series.DisplaySymbol, series.BusinessDate, obs, meta,
		series.EarliestDate, series.LatestDate, series.RowCount,
		series.FetchedAt, series.Source, series.ExpiresAt)
	if err != nil {
		return fmt.Errorf("store raw series for %s: %w", series.DisplaySymbol, err)
	}
	if rowErr := requireRowsAffected(res, dbconst.TableRawSeries, series.DisplaySymbol); rowErr != nil {
		return rowErr
	}

	if r.seriesCache != nil {
		if cacheErr := r.seriesCache.MergeStore(ctx, series); cacheErr != nil {
			r.log.Warn().Err(cacheErr).Str("symbol", series.DisplaySymbol).Msg("series cache merge-store failed")
		}
	}
	return nil
}

// HasRaw reports whether a raw series already exists for the symbol/date,
// used by the derived phase's barrier check (§4.3 raw-before-derived).
func (r *Repository) HasRaw(ctx context.Context, displaySymbol string, businessDate time.Time) (bool, error) {
	query := fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE display_symbol = $1 AND business_date = $2`, dbconst.TableRawSeries)
	var count int
	if err := r.db.GetContext(ctx, &count, query, displaySymbol, businessDate); err != nil {
		return false, fmt.Errorf("check raw existence for %s: %w", displaySymbol, err)
	}
	return count > 0, nil
}

// GetRaw fetches the stored raw series for one symbol/day, used by the
// derived phase to compute indicators without re-fetching.
func (r *Repository) GetRaw(ctx context.Context, displaySymbol string, businessDate time.Time) (*domain.RawSeries, error) {
	if r.seriesCache != nil {
		if cached, err := r.seriesCache.Get(ctx, displaySymbol); err != nil {
			r.log.Warn().Err(err).Str("symbol", displaySymbol).Msg("series cache read failed")
		} else if cached != nil && cached.BusinessDate.Equal(businessDate) {
			return cached, nil
		}
	}

	query := fmt.Sprintf(`
		SELECT display_symbol, business_date, observations, metadata, earliest_date, latest_date, row_count, fetched_at, source, expires_at
		FROM %s WHERE display_symbol = $1 AND business_date = $2`, dbconst.TableRawSeries)

	var row struct {
		DisplaySymbol string          `db:"display_symbol"`
		BusinessDate  time.Time       `db:"business_date"`
		Observations  json.RawMessage `db:"observations"`
		Metadata      json.RawMessage `db:"metadata"`
		EarliestDate  time.Time       `db:"earliest_date"`
		LatestDate    time.Time       `db:"latest_date"`
		RowCount      int             `db:"row_count"`
		FetchedAt     time.Time       `db:"fetched_at"`
		Source        string          `db:"source"`
		ExpiresAt     time.Time       `db:"expires_at"`
	}

	if err := r.db.GetContext(ctx, &row, query, displaySymbol, businessDate); err != nil {
		if err == sql.ErrNoRows {
			return nil, errs.ErrNotFound
		}
		return nil, fmt.Errorf("get raw series for %s: %w", displaySymbol, err)
	}

	var obs []domain.OHLCV
	if err := json.Unmarshal(row.Observations, &obs); err != nil {
		return nil, errs.SchemaMismatch(fmt.Sprintf("raw_series.observations for %s: %v", displaySymbol, err))
	}
	var meta map[string]any
	if len(row.Metadata) > 0 {
		if err := json.Unmarshal(row.Metadata, &meta); err != nil {
			return nil, errs.SchemaMismatch(fmt.Sprintf("raw_series.metadata for %s: %v", displaySymbol, err))
		}
	}

	return &domain.RawSeries{
		DisplaySymbol: row.DisplaySymbol,
		BusinessDate:  row.BusinessDate,
		Observations:  obs,
		Metadata:      meta,
		EarliestDate:  row.EarliestDate,
		LatestDate:    row.LatestDate,
		RowCount:      row.RowCount,
		FetchedAt:     row.FetchedAt,
		Source:        row.Source,
		ExpiresAt:     row.ExpiresAt,
	}, nil
}

// execer is satisfied by both *sqlx.DB and *sqlx.Tx, letting the write
// helpers below run either standalone or inside WithTx without duplicating
// their query-building logic.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// StoreIndicators upserts one symbol-day indicator row.
func (r *Repository) StoreIndicators(ctx context.Context, ind domain.DailyIndicators) error {
	return r.execIndicators(ctx, r.db, ind)
}

func (r *Repository) execIndicators(ctx context.Context, x execer, ind domain.DailyIndicators) error {
	query := fmt.Sprintf(`
		INSERT INTO %s (
			display_symbol, date, open, high, low, close, volume,
			sma_20, sma_50, sma_200, rsi_14, macd, macd_signal, macd_histogram,
			bollinger_upper, bollinger_middle, bollinger_lower,
			atr_14, atr_percent, vwap, price_to_vwap_percent,
			volume_sma_20, volume_ratio, uncertainty_score
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7,
			$8, $9, $10, $11, $12, $13, $14,
			$15, $16, $17,
			$18, $19, $20, $21,
			$22, $23, $24
		)
		ON CONFLICT (display_symbol, date) DO UPDATE SET
			open = EXCLUDED.open, high = EXCLUDED.high, low = EXCLUDED.low, close = EXCLUDED.close, volume = EXCLUDED.volume,
			sma_20 = EXCLUDED.sma_20, sma_50 = EXCLUDED.sma_50, sma_200 = EXCLUDED.sma_200,
			rsi_14 = EXCLUDED.rsi_14, macd = EXCLUDED.macd, macd_signal = EXCLUDED.macd_signal, macd_histogram = EXCLUDED.macd_histogram,
			bollinger_upper = EXCLUDED.bollinger_upper, bollinger_middle = EXCLUDED.bollinger_middle, bollinger_lower = EXCLUDED.bollinger_lower,
			atr_14 = EXCLUDED.atr_14, atr_percent = EXCLUDED.atr_percent, vwap = EXCLUDED.vwap, price_to_vwap_percent = EXCLUDED.price_to_vwap_percent,
			volume_sma_20 = EXCLUDED.volume_sma_20, volume_ratio = EXCLUDED.volume_ratio, uncertainty_score = EXCLUDED.uncertainty_score`,
		dbconst.TableDailyIndicators)

	res, err := x.ExecContext(ctx, query,
		ind.DisplaySymbol, ind.Date, ind.Open, ind.High, ind.Low, ind.Close, ind.Volume,
		ind.SMA20, ind.SMA50, ind.SMA200, ind.RSI14, ind.MACD, ind.MACDSignal, ind.MACDHistogram,
		ind.BollingerUpper, ind.BollingerMiddle, ind.BollingerLower,
		ind.ATR14, ind.ATRPercent, ind.VWAP, ind.PriceToVWAPPercent,
		ind.VolumeSMA20, ind.VolumeRatio, ind.UncertaintyScore)
	if err != nil {
		return fmt.Errorf("store indicators for %s: %w", ind.DisplaySymbol, err)
	}
	return requireRowsAffected(res, dbconst.TableDailyIndicators, ind.DisplaySymbol)
}

// ListIndicatorHistory returns up to limit prior daily_indicators rows for
// a symbol, ascending by date, excluding the given date itself. Used to
// build the lookback window for percentile ranking.
func (r *Repository) ListIndicatorHistory(ctx context.Context, displaySymbol string, before time.Time, limit int) ([]domain.DailyIndicators, error) {
	query := fmt.Sprintf(`
		SELECT display_symbol, date, open, high, low, close, volume,
			sma_20, sma_50, sma_200, rsi_14, macd, macd_signal, macd_histogram,
			bollinger_upper, bollinger_middle, bollinger_lower,
			atr_14, atr_percent, vwap, price_to_vwap_percent,
			volume_sma_20, volume_ratio, uncertainty_score
		FROM (
			SELECT * FROM %s WHERE display_symbol = $1 AND date < $2
			ORDER BY date DESC LIMIT $3
		) recent
		ORDER BY date ASC`, dbconst.TableDailyIndicators)

	var rows []domain.DailyIndicators
	if err := r.db.SelectContext(ctx, &rows, query, displaySymbol, before, limit); err != nil {
		return nil, fmt.Errorf("list indicator history for %s: %w", displaySymbol, err)
	}
	return rows, nil
}

// StorePercentiles upserts one symbol-day percentile row.
func (r *Repository) StorePercentiles(ctx context.Context, p domain.IndicatorPercentiles) error {
	return r.execPercentiles(ctx, r.db, p)
}

func (r *Repository) execPercentiles(ctx context.Context, x execer, p domain.IndicatorPercentiles) error {
	ranks, err := json.Marshal(p.Ranks)
	if err != nil {
		return fmt.Errorf("marshal ranks for %s: %w", p.DisplaySymbol, err)
	}
	freq, err := json.Marshal(p.FrequencyAboveThreshold)
	if err != nil {
		return fmt.Errorf("marshal frequency for %s: %w", p.DisplaySymbol, err)
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (display_symbol, date, lookback_days, ranks, frequency_above_threshold)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (display_symbol, date, lookback_days) DO UPDATE SET
			ranks = EXCLUDED.ranks, frequency_above_threshold = EXCLUDED.frequency_above_threshold`,
		dbconst.TableIndicatorPercentiles)

	res, err := x.ExecContext(ctx, query, p.DisplaySymbol, p.Date, p.LookbackDays, ranks, freq)
	if err != nil {
		return fmt.Errorf("store percentiles for %s: %w", p.DisplaySymbol, err)
	}
	return requireRowsAffected(res, dbconst.TableIndicatorPercentiles, p.DisplaySymbol)
}

// StoreComparatives upserts one symbol-day comparative-features row.
func (r *Repository) StoreComparatives(ctx context.Context, c domain.ComparativeFeatures) error {
	return r.execComparatives(ctx, r.db, c)
}

func (r *Repository) execComparatives(ctx context.Context, x execer, c domain.ComparativeFeatures) error {
	query := fmt.Sprintf(`
		INSERT INTO %s (
			display_symbol, date, daily_return, weekly_return, monthly_return, ytd_return,
			volatility_30d, volatility_90d, sharpe_30d, sharpe_90d,
			max_drawdown_30d, max_drawdown_90d, relative_strength
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (display_symbol, date) DO UPDATE SET
			daily_return = EXCLUDED.daily_return, weekly_return = EXCLUDED.weekly_return,
			monthly_return = EXCLUDED.monthly_return, ytd_return = EXCLUDED.ytd_return,
			volatility_30d = EXCLUDED.volatility_30d, volatility_90d = EXCLUDED.volatility_90d,
			sharpe_30d = EXCLUDED.sharpe_30d, sharpe_90d = EXCLUDED.sharpe_90d,
			max_drawdown_30d = EXCLUDED.max_drawdown_30d, max_drawdown_90d = EXCLUDED.max_drawdown_90d,
			relative_strength = EXCLUDED.relative_strength`, dbconst.TableComparativeFeatures)

	res, err := x.ExecContext(ctx, query,
		c.DisplaySymbol, c.Date, c.DailyReturn, c.WeeklyReturn, c.MonthlyReturn, c.YTDReturn,
		c.Volatility30D, c.Volatility90D, c.Sharpe30D, c.Sharpe90D,
		c.MaxDrawdown30D, c.MaxDrawdown90D, c.RelativeStrength)
	if err != nil {
		return fmt.Errorf("store comparatives for %s: %w", c.DisplaySymbol, err)
	}
	return requireRowsAffected(res, dbconst.TableComparativeFeatures, c.DisplaySymbol)
}

// UpsertArtifact writes one per-symbol-per-day artifact row, transitioning
// its status (§3.4: pending -> completed, or pending -> failed on
// exhausted retries). Only a completed row is servable by the read API.
func (r *Repository) UpsertArtifact(ctx context.Context, a domain.Artifact) error {
	return r.execArtifact(ctx, r.db, a)
}

func (r *Repository) execArtifact(ctx context.Context, x execer, a domain.Artifact) error {
	payload, err := json.Marshal(a.Payload)
	if err != nil {
		return fmt.Errorf("marshal payload for %s: %w", a.DisplaySymbol, err)
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (security_id, display_symbol, business_date, narrative, payload, latency_ms, chart_object_key, status, error_message, computed_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (display_symbol, business_date) DO UPDATE SET
			narrative = EXCLUDED.narrative, payload = EXCLUDED.payload, latency_ms = EXCLUDED.latency_ms,
			chart_object_key = EXCLUDED.chart_object_key, status = EXCLUDED.status,
			error_message = EXCLUDED.error_message, computed_at = EXCLUDED.computed_at, expires_at = EXCLUDED.expires_at`,
		dbconst.TableArtifacts)

	res, err := x.ExecContext(ctx, query,
		a.SecurityID, a.DisplaySymbol, a.BusinessDate, a.Narrative, payload, a.LatencyMS,
		a.ChartObjectKey, a.Status, a.ErrorMessage, a.ComputedAt, a.ExpiresAt)
	if err != nil {
		return fmt.Errorf("upsert artifact for %s: %w", a.DisplaySymbol, err)
	}
	return requireRowsAffected(res, dbconst.TableArtifacts, a.DisplaySymbol)
}

// ReadArtifact returns a symbol's artifact for its most recent business
// date. If there is none, or it is not completed, the result is
// ErrPrecomputeMissing (an older completed artifact is not served), so the
// API can fail fast rather than serve a partial payload.
func (r *Repository) ReadArtifact(ctx context.Context, displaySymbol string) (*domain.Artifact, error) {
	query := fmt.Sprintf(`
		SELECT security_id, display_symbol, business_date, narrative, payload, latency_ms, chart_object_key, status, error_message, computed_at, expires_at
		FROM %s WHERE display_symbol = $1 ORDER BY business_date DESC LIMIT 1`, dbconst.TableArtifacts)

	var row struct {
		SecurityID     int64           `db:"security_id"`
		DisplaySymbol  string          `db:"display_symbol"`
		BusinessDate   time.Time       `db:"business_date"`
		Narrative      string          `db:"narrative"`
		Payload        json.RawMessage `db:"payload"`
		LatencyMS      int64           `db:"latency_ms"`
		ChartObjectKey string          `db:"chart_object_key"`
		Status         string          `db:"status"`
		ErrorMessage   string          `db:"error_message"`
		ComputedAt     time.Time       `db:"computed_at"`
		ExpiresAt      time.Time       `db:"expires_at"`
	}

	if err := r.db.GetContext(ctx, &row, query, displaySymbol); err != nil {
		if err == sql.ErrNoRows {
			return nil, errs.ErrPrecomputeMissing
		}
		return nil, fmt.Errorf("read artifact for %s: %w", displaySymbol, err)
	}
	if row.Status != string(domain.ArtifactCompleted) {
		return nil, errs.ErrPrecomputeMissing
	}

	var payload map[string]any
	if len(row.Payload) > 0 {
		if err := json.Unmarshal(row.Payload, &payload); err != nil {
			return nil, errs.SchemaMismatch(fmt.Sprintf("artifacts.payload for %s: %v", displaySymbol, err))
		}
	}

	return &domain.Artifact{
		SecurityID:     row.SecurityID,
		DisplaySymbol:  row.DisplaySymbol,
		BusinessDate:   row.BusinessDate,
		Narrative:      row.Narrative,
		Payload:        payload,
		LatencyMS:      row.LatencyMS,
		ChartObjectKey: row.ChartObjectKey,
		Status:         domain.ArtifactStatus(row.Status),
		ErrorMessage:   row.ErrorMessage,
		ComputedAt:     row.ComputedAt,
		ExpiresAt:      row.ExpiresAt,
	}, nil
}

// UpsertReferenceMetric writes one row of the independent reference-data
// stream. Failures here never propagate to the core pipeline's error path.
func (r *Repository) UpsertReferenceMetric(ctx context.Context, m domain.ReferenceMetric) error {
	query := fmt.Sprintf(`
		INSERT INTO %s (trading_date, source_stock_code, surface_symbol, metric_code, value_numeric, value_text, source_object_key)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (trading_date, source_stock_code, metric_code) DO UPDATE SET
			surface_symbol = EXCLUDED.surface_symbol, value_numeric = EXCLUDED.value_numeric,
			value_text = EXCLUDED.value_text, source_object_key = EXCLUDED.source_object_key`,
		dbconst.TableReferenceMetrics)

	res, err := r.db.ExecContext(ctx, query,
		m.TradingDate, m.SourceStockCode, m.SurfaceSymbol, m.MetricCode, m.ValueNumeric, m.ValueText, m.SourceObjectKey)
	if err != nil {
		return fmt.Errorf("upsert reference metric %s/%s: %w", m.SourceStockCode, m.MetricCode, err)
	}
	return requireRowsAffected(res, dbconst.TableReferenceMetrics, m.SourceStockCode)
}

// ListWatchlist returns every symbol a user is tracking.
func (r *Repository) ListWatchlist(ctx context.Context, userID string) ([]domain.WatchlistItem, error) {
	query := fmt.Sprintf(`SELECT user_id, symbol FROM %s WHERE user_id = $1 ORDER BY symbol`, dbconst.TableWatchlistItems)
	var items []domain.WatchlistItem
	if err := r.db.SelectContext(ctx, &items, query, userID); err != nil {
		return nil, fmt.Errorf("list watchlist for %s: %w", userID, err)
	}
	return items, nil
}

// AddWatchlistItem tracks a symbol for a user. Idempotent: tracking an
// already-tracked symbol is a no-op, not an error.
func (r *Repository) AddWatchlistItem(ctx context.Context, userID, symbol string) error {
	query := fmt.Sprintf(`
		INSERT INTO %s (user_id, symbol) VALUES ($1, $2)
		ON CONFLICT (user_id, symbol) DO NOTHING`, dbconst.TableWatchlistItems)
	if _, err := r.db.ExecContext(ctx, query, userID, symbol); err != nil {
		return fmt.Errorf("add watchlist item %s/%s: %w", userID, symbol, err)
	}
	return nil
}

// RemoveWatchlistItem untracks a symbol for a user. Removing an
// already-absent symbol is a no-op, not an error.
func (r *Repository) RemoveWatchlistItem(ctx context.Context, userID, symbol string) error {
	query := fmt.Sprintf(`DELETE FROM %s WHERE user_id = $1 AND symbol = $2`, dbconst.TableWatchlistItems)
	if _, err := r.db.ExecContext(ctx, query, userID, symbol); err != nil {
		return fmt.Errorf("remove watchlist item %s/%s: %w", userID, symbol, err)
	}
	return nil
}

// CreateJobStatus records a newly requested on-demand report job.
func (r *Repository) CreateJobStatus(ctx context.Context, job domain.JobStatus) error {
	query := fmt.Sprintf(`
		INSERT INTO %s (job_id, symbol, status, requested_at, completed_at)
		VALUES ($1, $2, $3, $4, $5)`, dbconst.TableJobStatus)
	res, err := r.db.ExecContext(ctx, query, job.JobID, job.Symbol, job.Status, job.RequestedAt, job.CompletedAt)
	if err != nil {
		return fmt.Errorf("create job status %s: %w", job.JobID, err)
	}
	return requireRowsAffected(res, dbconst.TableJobStatus, job.JobID)
}

// UpdateJobStatus advances an on-demand job's status, used by the worker
// when it processes a message carrying a JobID.
func (r *Repository) UpdateJobStatus(ctx context.Context, jobID, status string, completedAt *time.Time) error {
	query := fmt.Sprintf(`UPDATE %s SET status = $1, completed_at = $2 WHERE job_id = $3`, dbconst.TableJobStatus)
	res, err := r.db.ExecContext(ctx, query, status, completedAt, jobID)
	if err != nil {
		return fmt.Errorf("update job status %s: %w", jobID, err)
	}
	return requireRowsAffected(res, dbconst.TableJobStatus, jobID)
}

// GetJobStatus returns one on-demand job's status, polled by the read API.
func (r *Repository) GetJobStatus(ctx context.Context, jobID string) (*domain.JobStatus, error) {
	query := fmt.Sprintf(`SELECT job_id, symbol, status, requested_at, completed_at FROM %s WHERE job_id = $1`, dbconst.TableJobStatus)
	var job domain.JobStatus
	if err := r.db.GetContext(ctx, &job, query, jobID); err != nil {
		if err == sql.ErrNoRows {
			return nil, errs.ErrNotFound
		}
		return nil, fmt.Errorf("get job status %s: %w", jobID, err)
	}
	return &job, nil
}

// rankableMetrics maps a metric name accepted on the ranking endpoint to the
// comparative_features column it ranks by. Kept as an explicit allowlist so
// the metric path segment never reaches the query as a raw identifier.
var rankableMetrics = map[string]string{
	"daily_return":      "daily_return",
	"weekly_return":     "weekly_return",
	"monthly_return":    "monthly_return",
	"ytd_return":        "ytd_return",
	"volatility_30d":    "volatility_30d",
	"sharpe_30d":        "sharpe_30d",
	"relative_strength": "relative_strength",
}

// RankedSymbol is one row of a cross-symbol ranking result.
type RankedSymbol struct {
	DisplaySymbol string  `db:"display_symbol" json:"display_symbol"`
	Value         float64 `db:"value" json:"value"`
}

// RankBy returns the top limit symbols for the latest business date ranked
// by a comparative_features metric, descending. Returns ErrInvariantViolation
// for a metric name outside the allowlist.
func (r *Repository) RankBy(ctx context.Context, metric string, limit int) ([]RankedSymbol, error) {
	col, ok := rankableMetrics[metric]
	if !ok {
		return nil, errs.InvariantViolation("", fmt.Sprintf("unranked metric %q", metric))
	}

	query := fmt.Sprintf(`
		SELECT display_symbol, %s AS value
		FROM %s
		WHERE date = (SELECT MAX(date) FROM %s) AND %s IS NOT NULL
		ORDER BY %s DESC
		LIMIT $1`, col, dbconst.TableComparativeFeatures, dbconst.TableComparativeFeatures, col, col)

	var rows []RankedSymbol
	if err := r.db.SelectContext(ctx, &rows, query, limit); err != nil {
		return nil, fmt.Errorf("rank by %s: %w", metric, err)
	}
	return rows, nil
}

// StoreDerived writes the derived phase's indicators, comparatives,
// percentiles, and completed artifact as one atomic transaction (§4.1): a
// crash partway through must never leave indicator/comparative rows visible
// without the artifact that signals they're ready to serve.
func (r *Repository) StoreDerived(ctx context.Context, ind domain.DailyIndicators, cmp domain.ComparativeFeatures, pct domain.IndicatorPercentiles, artifact domain.Artifact) error {
	return r.WithTx(ctx, func(tx *sqlx.Tx) error {
		if err := r.execIndicators(ctx, tx, ind); err != nil {
			return err
		}
		if err := r.execComparatives(ctx, tx, cmp); err != nil {
			return err
		}
		if err := r.execPercentiles(ctx, tx, pct); err != nil {
			return err
		}
		return r.execArtifact(ctx, tx, artifact)
	})
}

// WithTx runs fn inside one transaction, committing on success and rolling
// back on any error or panic. Used directly by StoreDerived, and available
// for any other multi-table write that needs the same guarantee.
func (r *Repository) WithTx(ctx context.Context, fn func(*sqlx.Tx) error) (err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		}
		if err != nil {
			tx.Rollback()
			return
		}
		err = tx.Commit()
	}()
	return fn(tx)
}

func requireRowsAffected(res sql.Result, table, key string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected for %s: %w", table, err)
	}
	if n == 0 {
		return errs.OperationFailed(table, key)
	}
	return nil
}
