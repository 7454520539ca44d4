package marketclock

import (
	"fmt"
	"time"
	_ "time/tzdata" // Exchange timezone must resolve on minimal hosts.

	"github.com/scmhub/calendar"
)

// Regular session bounds in exchange-local time.
const (
	openHour    = 9
	openMinute  = 30
	closeHour   = 16
	closeMinute = 0
)

// Options configure the gate.
type Options struct {
	Timezone string
	// MIC selects a scmhub/calendar exchange calendar (e.g. "xnys"). Empty
	// disables holiday awareness.
	MIC string
}

// Clock answers whether the exchange's regular session is open.
type Clock struct {
	loc *time.Location
	cal *calendar.Calendar
}

// New builds a Clock for the configured timezone and optional calendar.
func New(opts Options) (*Clock, error) {
	tz := opts.Timezone
	if tz == "" {
		tz = "America/New_York"
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", tz, err)
	}

	c := &Clock{loc: loc}
	if opts.MIC != "" {
		cal := calendar.GetCalendar(opts.MIC)
		if cal == nil {
			return nil, fmt.Errorf("unknown exchange calendar %q", opts.MIC)
		}
		c.cal = cal
	}
	return c, nil
}

// Location returns the exchange timezone.
func (c *Clock) Location() *time.Location {
	return c.loc
}

// IsOpen reports whether t falls within Mon–Fri 09:30–16:00 exchange time,
// both bounds inclusive, and is not an exchange holiday when a calendar is set.
func (c *Clock) IsOpen(t time.Time) bool {
	local := t.In(c.loc)

	switch local.Weekday() {
	case time.Saturday, time.Sunday:
		return false
	}
	if c.cal != nil && !c.cal.IsBusinessDay(local) {
		return false
	}

	open := time.Date(local.Year(), local.Month(), local.Day(), openHour, openMinute, 0, 0, c.loc)
	closeAt := time.Date(local.Year(), local.Month(), local.Day(), closeHour, closeMinute, 0, 0, c.loc)
	return !local.Before(open) && !local.After(closeAt)
}
