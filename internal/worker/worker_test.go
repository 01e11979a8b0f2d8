package worker

import (
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/sentinel-quant/nightly-compute/internal/queue"
	"github.com/sentinel-quant/nightly-compute/internal/repository"
	"github.com/sentinel-quant/nightly-compute/internal/timekeeping"
)

func newTestPool(t *testing.T) (*Pool, sqlmock.Sqlmock, *queue.MemoryQueue) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	repo := repository.New(sqlx.NewDb(db, "postgres"), zerolog.Nop())
	clock, err := timekeeping.New("UTC")
	require.NoError(t, err)
	q := queue.NewMemoryQueue(zerolog.Nop())

	pool := New(q, repo, nil, clock, nil, Config{}, zerolog.Nop())
	return pool, mock, q
}

func TestAdvanceJobChainsRawToDerived(t *testing.T) {
	pool, mock, q := newTestPool(t)

	mock.ExpectExec("UPDATE job_status").
		WithArgs("computing", nil, "job-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	msg := queue.Message{
		ID:            "msg-1",
		CorrelationID: "job-1",
		Phase:         queue.PhaseRaw,
		DisplaySymbol: "AAPL",
		BusinessDate:  time.Date(2026, 3, 5, 0, 0, 0, 0, time.UTC),
		JobID:         "job-1",
	}
	pool.advanceJob(msg)

	require.Equal(t, 1, q.Size())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAdvanceJobCompletesOnDerivedSuccess(t *testing.T) {
	pool, mock, _ := newTestPool(t)

	mock.ExpectExec("UPDATE job_status").
		WithArgs("completed", sqlmock.AnyArg(), "job-2").
		WillReturnResult(sqlmock.NewResult(0, 1))

	msg := queue.Message{
		ID:            "msg-2",
		CorrelationID: "job-2",
		Phase:         queue.PhaseDerived,
		DisplaySymbol: "AAPL",
		JobID:         "job-2",
	}
	pool.advanceJob(msg)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestReportFailureMarksJobFailedOnlyAfterAttemptsExhausted(t *testing.T) {
	pool, mock, _ := newTestPool(t)

	msg := queue.Message{
		ID:          "msg-3",
		Phase:       queue.PhaseRaw,
		JobID:       "job-3",
		Attempt:     1,
		MaxAttempts: 5,
	}
	cause := errors.New("boom")
	pool.reportFailure(msg, cause)
	require.NoError(t, mock.ExpectationsWereMet()) // no expectation set, and none should fire

	mock.ExpectExec("UPDATE job_status").
		WithArgs("failed", sqlmock.AnyArg(), "job-3").
		WillReturnResult(sqlmock.NewResult(0, 1))

	msg.Attempt = 5
	pool.reportFailure(msg, cause)
	require.NoError(t, mock.ExpectationsWereMet())
}
