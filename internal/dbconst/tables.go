// Package dbconst holds the process-wide table-name constants. No other
// package may embed a table-name string literal in a query; every query
// builder takes one of these constants, so a typo surfaces at compile time
// instead of as a silent query against a nonexistent table.
package dbconst

const (
	TableSecurities       = "securities"
	TableSecurityAliases  = "security_aliases"
	TableRawSeries        = "raw_series"
	TableDailyIndicators  = "daily_indicators"
	TableIndicatorPercentiles = "indicator_percentiles"
	TableComparativeFeatures = "comparative_features"
	TableArtifacts        = "artifacts"
	TableReferenceMetrics = "reference_metrics"
	TableWatchlistItems   = "watchlist_items"
	TableJobStatus        = "job_status"
)

// AllTables lists every table the repository is allowed to touch. Used to
// validate any table name that arrives via a parameter rather than a Go
// constant (there should be none on the write path, but cleanup/migration
// tooling iterates this list).
var AllTables = []string{
	TableSecurities,
	TableSecurityAliases,
	TableRawSeries,
	TableDailyIndicators,
	TableIndicatorPercentiles,
	TableComparativeFeatures,
	TableArtifacts,
	TableReferenceMetrics,
	TableWatchlistItems,
	TableJobStatus,
}
