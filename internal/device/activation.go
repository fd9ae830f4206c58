package device

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	minObscuringDays = 6
	obscuringDays    = 9
	day              = 24 * time.Hour
)

// Intn returns a uniform integer in [0, n).
type Intn func(n int) int

// ObscureActivationDate turns the device's first-active-week date into a
// fuzzed activation date for the backend. The result lies in
// [week+6, week+6+min(daysSince, 9)] days, or is today when the week+6 floor
// is still in the future. An empty or unparsable week yields "".
func ObscureActivationDate(firstActiveWeek string, now time.Time, intn Intn) string {
	week, err := ParseDate(firstActiveWeek)
	if err != nil {
		return ""
	}
	now = now.UTC()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	floor := week.Add(minObscuringDays * day)

	daysBetween := int(today.Sub(floor) / day)
	if today.Before(floor) {
		return FormatDate(now)
	}
	if daysBetween > obscuringDays {
		daysBetween = obscuringDays
	}
	return FormatDate(floor.Add(time.Duration(intn(daysBetween+1)) * day))
}

// ParseDate reads yyyy-m-d with or without zero padding as a UTC date.
func ParseDate(s string) (time.Time, error) {
	parts := strings.Split(strings.TrimSpace(s), "-")
	if len(parts) != 3 {
		return time.Time{}, fmt.Errorf("date %q: want yyyy-mm-dd", s)
	}
	var n [3]int
	for i, p := range parts {
		v, err := strconv.Atoi(p)
		if err != nil {
			return time.Time{}, fmt.Errorf("date %q: %w", s, err)
		}
		n[i] = v
	}
	return time.Date(n[0], time.Month(n[1]), n[2], 0, 0, 0, 0, time.UTC), nil
}

// FormatDate renders the UTC calendar date as yyyy-m-d without padding, the
// form the backend and stored offer info use.
func FormatDate(t time.Time) string {
	t = t.UTC()
	return fmt.Sprintf("%d-%d-%d", t.Year(), int(t.Month()), t.Day())
}
