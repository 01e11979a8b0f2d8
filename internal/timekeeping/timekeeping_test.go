package timekeeping

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sentinel-quant/nightly-compute/internal/errs"
)

func TestBusinessDateRolloverAtMidnight(t *testing.T) {
	clock, err := New("America/New_York")
	require.NoError(t, err)

	loc := clock.Location()

	// A run starting at 23:59:50 on day D uses D as its business date even
	// if it finishes at 00:00:10 on D+1 — scenario 4 of spec.md §8.
	runStart := time.Date(2026, 3, 5, 23, 59, 50, 0, loc)
	businessDate := clock.BusinessDate(runStart)

	require.Equal(t, "2026-03-05", FormatDate(businessDate))

	runFinish := time.Date(2026, 3, 6, 0, 0, 10, 0, loc)
	require.NotEqual(t, FormatDate(businessDate), FormatDate(clock.BusinessDate(runFinish)))
}

func TestNextBusinessDayAt08(t *testing.T) {
	clock, err := New("UTC")
	require.NoError(t, err)

	d := clock.BusinessDate(time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC))
	expiry := clock.NextBusinessDayAt08(d)

	require.Equal(t, "2026-01-16", FormatDate(expiry))
	require.Equal(t, 8, expiry.Hour())
}

func TestInvalidZoneIsConfigMissing(t *testing.T) {
	_, err := New("Not/AZone")
	require.Error(t, err)
	require.ErrorIs(t, err, errs.ErrConfigMissing)
}

func TestFormatParseRoundTrip(t *testing.T) {
	loc, _ := time.LoadLocation("UTC")
	d, err := ParseDate("2026-06-30", loc)
	require.NoError(t, err)
	require.Equal(t, "2026-06-30", FormatDate(d))
}
