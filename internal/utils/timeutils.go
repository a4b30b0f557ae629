package utils

import (
	"fmt"
	"time"
)

// MonthEnd returns the final day of t's calendar month at midnight UTC. All
// monthly series in this codebase are keyed on month-end stamps.
func MonthEnd(t time.Time) time.Time {
	y, m, _ := t.Date()
	return time.Date(y, m+1, 0, 0, 0, 0, 0, time.UTC)
}

// MonthStart returns the first day of t's calendar month at midnight UTC.
func MonthStart(t time.Time) time.Time {
	y, m, _ := t.Date()
	return time.Date(y, m, 1, 0, 0, 0, 0, time.UTC)
}

// AddMonths shifts a month-end stamp by n calendar months, keeping the
// month-end alignment (adding via day arithmetic would drift on short months).
func AddMonths(monthEnd time.Time, n int) time.Time {
	y, m, _ := monthEnd.Date()
	return time.Date(y, m+time.Month(n)+1, 0, 0, 0, 0, 0, time.UTC)
}

// MonthRange returns every month-end from first to last inclusive.
func MonthRange(first, last time.Time) []time.Time {
	first = MonthEnd(first)
	last = MonthEnd(last)
	if last.Before(first) {
		return nil
	}
	var months []time.Time
	for m := first; !m.After(last); m = AddMonths(m, 1) {
		months = append(months, m)
	}
	return months
}

// MonthsBetween counts whole calendar months from a to b (zero when equal).
func MonthsBetween(a, b time.Time) int {
	ay, am, _ := MonthEnd(a).Date()
	by, bm, _ := MonthEnd(b).Date()
	return (by-ay)*12 + int(bm-am)
}

var dateLayouts = []string{
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	time.RFC3339,
	"2006-01-02",
	"01/02/2006 15:04:05",
	"01/02/2006",
}

// ParseDate accepts the timestamp formats seen in the 311 exports.
func ParseDate(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, fmt.Errorf("empty time value")
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised time value %q", value)
}
