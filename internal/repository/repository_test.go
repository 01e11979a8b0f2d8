package repository

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sentinel-quant/nightly-compute/internal/domain"
	"github.com/sentinel-quant/nightly-compute/internal/errs"
)

func newTestRepo(t *testing.T) (*Repository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	sqlxDB := sqlx.NewDb(db, "postgres")
	return New(sqlxDB, zerolog.Nop()), mock
}

func TestResolveReturnsNotFoundOnNoRows(t *testing.T) {
	repo, mock := newTestRepo(t)

	mock.ExpectQuery("SELECT security_id").
		WithArgs("AAPL").
		WillReturnRows(sqlmock.NewRows([]string{"security_id", "surface_symbol", "surface_type", "is_primary"}))

	alias, err := repo.Resolve(context.Background(), "AAPL")
	assert.Nil(t, alias)
	assert.ErrorIs(t, err, errs.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestResolveReturnsAlias(t *testing.T) {
	repo, mock := newTestRepo(t)

	rows := sqlmock.NewRows([]string{"security_id", "surface_symbol", "surface_type", "is_primary"}).
		AddRow(int64(42), "AAPL", "display", true)
	mock.ExpectQuery("SELECT security_id").
		WithArgs("AAPL").
		WillReturnRows(rows)

	alias, err := repo.Resolve(context.Background(), "AAPL")
	require.NoError(t, err)
	require.NotNil(t, alias)
	assert.Equal(t, int64(42), alias.SecurityID)
	assert.True(t, alias.IsPrimary)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStoreRawUpsertsAndChecksRowsAffected(t *testing.T) {
	repo, mock := newTestRepo(t)

	close := 150.0
	series := domain.RawSeries{
		DisplaySymbol: "AAPL",
		BusinessDate:  time.Date(2026, 3, 5, 0, 0, 0, 0, time.UTC),
		Observations:  []domain.OHLCV{{Date: time.Date(2026, 3, 5, 0, 0, 0, 0, time.UTC), Close: &close}},
		EarliestDate:  time.Date(2026, 3, 5, 0, 0, 0, 0, time.UTC),
		LatestDate:    time.Date(2026, 3, 5, 0, 0, 0, 0, time.UTC),
		RowCount:      1,
		FetchedAt:     time.Now().UTC(),
		Source:        "provider",
		ExpiresAt:     time.Now().UTC().Add(24 * time.Hour),
	}

	mock.ExpectExec("INSERT INTO raw_series").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.StoreRaw(context.Background(), series)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStoreRawZeroRowsAffectedIsOperationFailed(t *testing.T) {
	repo, mock := newTestRepo(t)

	series := domain.RawSeries{DisplaySymbol: "AAPL", BusinessDate: time.Now().UTC()}

	mock.ExpectExec("INSERT INTO raw_series").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.StoreRaw(context.Background(), series)
	assert.ErrorIs(t, err, errs.ErrOperationFailed)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestReadArtifactRejectsIncompleteStatus(t *testing.T) {
	repo, mock := newTestRepo(t)

	rows := sqlmock.NewRows([]string{
		"security_id", "display_symbol", "business_date", "narrative", "payload",
		"latency_ms", "chart_object_key", "status", "error_message", "computed_at", "expires_at",
	}).AddRow(int64(1), "AAPL", time.Now(), "", []byte("{}"), int64(0), "", "failed", "boom", time.Now(), time.Now())

	mock.ExpectQuery("SELECT security_id, display_symbol").
		WithArgs("AAPL").
		WillReturnRows(rows)

	artifact, err := repo.ReadArtifact(context.Background(), "AAPL")
	assert.Nil(t, artifact)
	assert.ErrorIs(t, err, errs.ErrPrecomputeMissing)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestReadArtifactReturnsCompletedArtifact(t *testing.T) {
	repo, mock := newTestRepo(t)

	now := time.Now()
	rows := sqlmock.NewRows([]string{
		"security_id", "display_symbol", "business_date", "narrative", "payload",
		"latency_ms", "chart_object_key", "status", "error_message", "computed_at", "expires_at",
	}).AddRow(int64(1), "AAPL", now, "steady uptrend", []byte(`{"score":1}`), int64(120), "charts/AAPL/2026-03-05.png", "completed", "", now, now)

	mock.ExpectQuery("SELECT security_id, display_symbol").
		WithArgs("AAPL").
		WillReturnRows(rows)

	artifact, err := repo.ReadArtifact(context.Background(), "AAPL")
	require.NoError(t, err)
	require.NotNil(t, artifact)
	assert.Equal(t, domain.ArtifactCompleted, artifact.Status)
	assert.Equal(t, float64(1), artifact.Payload["score"])
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRankByRejectsUnknownMetric(t *testing.T) {
	repo, _ := newTestRepo(t)

	rows, err := repo.RankBy(context.Background(), "not_a_real_metric", 10)
	assert.Nil(t, rows)
	assert.ErrorIs(t, err, errs.ErrInvariantViolation)
}

func TestRankByQueriesAllowlistedColumn(t *testing.T) {
	repo, mock := newTestRepo(t)

	rows := sqlmock.NewRows([]string{"display_symbol", "value"}).
		AddRow("AAPL", 3.2).
		AddRow("MSFT", 1.1)
	mock.ExpectQuery("SELECT display_symbol, daily_return").
		WithArgs(10).
		WillReturnRows(rows)

	ranked, err := repo.RankBy(context.Background(), "daily_return", 10)
	require.NoError(t, err)
	require.Len(t, ranked, 2)
	assert.Equal(t, "AAPL", ranked[0].DisplaySymbol)
	assert.Equal(t, 3.2, ranked[0].Value)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAddWatchlistItemIsIdempotent(t *testing.T) {
	repo, mock := newTestRepo(t)

	mock.ExpectExec("INSERT INTO watchlist_items").
		WithArgs("user-1", "AAPL").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.AddWatchlistItem(context.Background(), "user-1", "AAPL")
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListWatchlistReturnsItems(t *testing.T) {
	repo, mock := newTestRepo(t)

	rows := sqlmock.NewRows([]string{"user_id", "symbol"}).
		AddRow("user-1", "AAPL").
		AddRow("user-1", "MSFT")
	mock.ExpectQuery("SELECT user_id, symbol").
		WithArgs("user-1").
		WillReturnRows(rows)

	items, err := repo.ListWatchlist(context.Background(), "user-1")
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "MSFT", items[1].Symbol)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestWithTxRollsBackOnError(t *testing.T) {
	repo, mock := newTestRepo(t)

	mock.ExpectBegin()
	mock.ExpectRollback()

	err := repo.WithTx(context.Background(), func(tx *sqlx.Tx) error {
		return assert.AnError
	})
	assert.ErrorIs(t, err, assert.AnError)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestWithTxCommitsOnSuccess(t *testing.T) {
	repo, mock := newTestRepo(t)

	mock.ExpectBegin()
	mock.ExpectCommit()

	err := repo.WithTx(context.Background(), func(tx *sqlx.Tx) error {
		return nil
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStoreDerivedWritesAllFourTablesInOneTransaction(t *testing.T) {
	repo, mock := newTestRepo(t)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO daily_indicators").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO comparative_features").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO indicator_percentiles").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO artifacts").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	ind := domain.DailyIndicators{DisplaySymbol: "AAPL", Date: time.Now()}
	cmp := domain.ComparativeFeatures{DisplaySymbol: "AAPL", Date: time.Now()}
	pct := domain.IndicatorPercentiles{DisplaySymbol: "AAPL", Date: time.Now(), Ranks: map[string]float64{}, FrequencyAboveThreshold: map[string]float64{}}
	artifact := domain.Artifact{DisplaySymbol: "AAPL", BusinessDate: time.Now(), Status: domain.ArtifactCompleted, Payload: map[string]any{}}

	err := repo.StoreDerived(context.Background(), ind, cmp, pct, artifact)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStoreDerivedRollsBackWhenAnyWriteFails(t *testing.T) {
	repo, mock := newTestRepo(t)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO daily_indicators").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO comparative_features").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	ind := domain.DailyIndicators{DisplaySymbol: "AAPL", Date: time.Now()}
	cmp := domain.ComparativeFeatures{DisplaySymbol: "AAPL", Date: time.Now()}
	pct := domain.IndicatorPercentiles{DisplaySymbol: "AAPL", Date: time.Now(), Ranks: map[string]float64{}, FrequencyAboveThreshold: map[string]float64{}}
	artifact := domain.Artifact{DisplaySymbol: "AAPL", BusinessDate: time.Now(), Status: domain.ArtifactCompleted, Payload: map[string]any{}}

	err := repo.StoreDerived(context.Background(), ind, cmp, pct, artifact)
	assert.ErrorIs(t, err, errs.ErrOperationFailed)
	require.NoError(t, mock.ExpectationsWereMet())
}
