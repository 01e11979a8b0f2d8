// Package timekeeping is the single source of "what business date is it".
//
// The whole system operates in one IANA-named zone, configured once at
// startup. Deriving a date from a naked wall-clock time.Now() anywhere else
// in the code is forbidden; every component asks this package instead.
package timekeeping

import (
	"fmt"
	"time"

	"github.com/sentinel-quant/nightly-compute/internal/errs"
)

// Clock resolves business dates in one fixed zone.
type Clock struct {
	loc *time.Location
}

// New loads the configured IANA zone. A bad zone name is a config-missing
// error at startup, not a runtime surprise.
func New(zoneName string) (*Clock, error) {
	loc, err := time.LoadLocation(zoneName)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid timezone %q: %v", errs.ErrConfigMissing, zoneName, err)
	}
	return &Clock{loc: loc}, nil
}

// Location returns the configured zone, e.g. for cron scheduling.
func (c *Clock) Location() *time.Location {
	return c.loc
}

// Now returns the current instant, informational only — never used to
// derive a business date directly (use BusinessDate for that).
func (c *Clock) Now() time.Time {
	return time.Now().In(c.loc)
}

// BusinessDate returns the trading date that `at` falls on on, in the
// configured zone. The controller calls this once at run start; the value
// must not be re-derived mid-run even if the run crosses local midnight.
func (c *Clock) BusinessDate(at time.Time) time.Time {
	y, m, d := at.In(c.loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, c.loc)
}

// Today is BusinessDate(Now()) — the controller's run-start business date.
func (c *Clock) Today() time.Time {
	return c.BusinessDate(c.Now())
}

// NextBusinessDayAt08 computes the expiry timestamp for a raw series fetched
// on `businessDate`: 08:00 local time on the next weekday (Saturday and
// Sunday are skipped; exchange holidays are not). This is a system
// timestamp, not a business date, and is stored as such.
func (c *Clock) NextBusinessDayAt08(businessDate time.Time) time.Time {
	next := businessDate.AddDate(0, 0, 1)
	for next.Weekday() == time.Saturday || next.Weekday() == time.Sunday {
		next = next.AddDate(0, 0, 1)
	}
	y, m, d := next.Date()
	return time.Date(y, m, d, 8, 0, 0, 0, c.loc)
}

// FormatDate renders a business date as the canonical YYYY-MM-DD used for
// natural keys throughout the repository layer.
func FormatDate(d time.Time) string {
	return d.Format("2006-01-02")
}

// ParseDate is the inverse of FormatDate, interpreted in the given zone.
func ParseDate(s string, loc *time.Location) (time.Time, error) {
	return time.ParseInLocation("2006-01-02", s, loc)
}
