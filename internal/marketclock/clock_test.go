package marketclock

import (
	"testing"
	"time"
)

func mustClock(t *testing.T, opts Options) *Clock {
	t.Helper()
	c, err := New(opts)
	if err != nil {
		t.Fatalf("new clock: %v", err)
	}
	return c
}

func TestIsOpenRegularSession(t *testing.T) {
	c := mustClock(t, Options{})
	ny := c.Location()

	cases := []struct {
		name string
		at   time.Time
		want bool
	}{
		{"before open", time.Date(2025, 5, 2, 9, 29, 59, 0, ny), false},
		{"at open", time.Date(2025, 5, 2, 9, 30, 0, 0, ny), true},
		{"midday", time.Date(2025, 5, 2, 12, 0, 0, 0, ny), true},
		{"at close", time.Date(2025, 5, 2, 16, 0, 0, 0, ny), true},
		{"after close", time.Date(2025, 5, 2, 16, 0, 1, 0, ny), false},
		{"saturday", time.Date(2025, 5, 3, 12, 0, 0, 0, ny), false},
		{"sunday", time.Date(2025, 5, 4, 12, 0, 0, 0, ny), false},
	}
	for _, tc := range cases {
		if got := c.IsOpen(tc.at); got != tc.want {
			t.Errorf("%s: IsOpen(%s) = %v, want %v", tc.name, tc.at, got, tc.want)
		}
	}
}

func TestIsOpenConvertsFromUTC(t *testing.T) {
	c := mustClock(t, Options{})
	// 14:00 UTC on a May weekday is 10:00 in New York (EDT).
	if !c.IsOpen(time.Date(2025, 5, 2, 14, 0, 0, 0, time.UTC)) {
		t.Fatal("14:00 UTC should be within the New York session")
	}
	if c.IsOpen(time.Date(2025, 5, 2, 21, 0, 0, 0, time.UTC)) {
		t.Fatal("21:00 UTC should be after the New York close")
	}
}

func TestIsOpenHolidayCalendar(t *testing.T) {
	plain := mustClock(t, Options{})
	withCal := mustClock(t, Options{MIC: "xnys"})

	christmas := time.Date(2025, 12, 25, 12, 0, 0, 0, plain.Location())
	if !plain.IsOpen(christmas) {
		t.Fatal("weekday-only gate should treat a Thursday as open")
	}
	if withCal.IsOpen(christmas) {
		t.Fatal("exchange calendar should close the session on Christmas")
	}
}

func TestNewRejectsUnknownTimezone(t *testing.T) {
	if _, err := New(Options{Timezone: "Mars/Olympus_Mons"}); err == nil {
		t.Fatal("unknown timezone should fail")
	}
}
