package vacation

import (
	"fmt"
	"strings"
	"time"

	"github.com/odyssey-erp/odyssey-hr/internal/shared"
)

// DayCount selects how days inside a span are charged.
type DayCount string

const (
	// CalendarDays charges every day, both endpoints included.
	CalendarDays DayCount = "calendar"
	// WorkingDays charges Monday to Friday only.
	WorkingDays DayCount = "working"
)

// MaxSpanDays bounds a single request.
const MaxSpanDays = 366

// ParseDayCount parses a configured policy name; empty means calendar.
func ParseDayCount(s string) (DayCount, error) {
	switch DayCount(strings.ToLower(strings.TrimSpace(s))) {
	case "", CalendarDays:
		return CalendarDays, nil
	case WorkingDays:
		return WorkingDays, nil
	}
	return "", fmt.Errorf("%w: unknown day count policy %q", shared.ErrValidation, s)
}

func (p DayCount) counts(d time.Time) bool {
	if p == WorkingDays {
		wd := d.Weekday()
		return wd != time.Saturday && wd != time.Sunday
	}
	return true
}

// Split counts the days of [start, end] and groups them by year in
// ascending order. Years without countable days are omitted.
func (p DayCount) Split(start, end time.Time) ([]Allocation, int, error) {
	start, end = DateOnly(start), DateOnly(end)
	if start.IsZero() || end.IsZero() || end.Before(start) {
		return nil, 0, fmt.Errorf("%w: end date %s before start date %s",
			shared.ErrInvalidRange, end.Format(time.DateOnly), start.Format(time.DateOnly))
	}
	if span := int(end.Sub(start).Hours()/24) + 1; span > MaxSpanDays {
		return nil, 0, fmt.Errorf("%w: span of %d days exceeds %d", shared.ErrInvalidRange, span, MaxSpanDays)
	}
	var allocs []Allocation
	total := 0
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		if !p.counts(d) {
			continue
		}
		total++
		if n := len(allocs); n > 0 && allocs[n-1].Year == d.Year() {
			allocs[n-1].Days++
			continue
		}
		allocs = append(allocs, Allocation{Year: d.Year(), Days: 1})
	}
	if total == 0 {
		return nil, 0, fmt.Errorf("%w: no %s days between %s and %s", shared.ErrInvalidRange, p,
			start.Format(time.DateOnly), end.Format(time.DateOnly))
	}
	return allocs, total, nil
}

// SpanYears lists every calendar year touched by [start, end], including
// years that hold no countable days.
func SpanYears(start, end time.Time) []int {
	start, end = DateOnly(start), DateOnly(end)
	if start.IsZero() || end.Before(start) {
		return nil
	}
	years := make([]int, 0, end.Year()-start.Year()+1)
	for y := start.Year(); y <= end.Year(); y++ {
		years = append(years, y)
	}
	return years
}

// DateOnly truncates t to midnight UTC of its calendar date.
func DateOnly(t time.Time) time.Time {
	if t.IsZero() {
		return t
	}
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ParseDate parses a YYYY-MM-DD date.
func ParseDate(s string) (time.Time, error) {
	t, err := time.Parse(time.DateOnly, strings.TrimSpace(s))
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: invalid date %q", shared.ErrValidation, s)
	}
	return t, nil
}
