package timeutil

import (
	"errors"
	"fmt"
	"time"
)

// Layout is the storage format for timestamps. It is fixed
// width and always UTC, so stored values sort lexically in
// time order and round-trip without precision loss.
const Layout = "2006-01-02T15:04:05.000000000Z"

// ErrInvalidRange is returned for an unrecognized range name.
var ErrInvalidRange = errors.New("invalid time range")

// Format renders t in the storage layout. The zero time
// formats as the empty string.
func Format(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(Layout)
}

// Parse reads a timestamp written by Format. RFC3339 values
// are accepted as well so hand-edited rows still load.
func Parse(s string) (time.Time, error) {
	t, err := time.Parse(Layout, s)
	if err == nil {
		return t, nil
	}
	t, err = time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing timestamp %q: %w", s, err)
	}
	return t.UTC(), nil
}

// Range names recognized by Range.
const (
	Today     = "today"
	Yesterday = "yesterday"
	ThisWeek  = "this_week"
	LastWeek  = "last_week"
	ThisMonth = "this_month"
	LastMonth = "last_month"
)

// RangeNames lists the recognized range names in menu order.
var RangeNames = []string{
	Today, Yesterday, ThisWeek, LastWeek, ThisMonth, LastMonth,
}

// Window is a half-open interval [Start, End).
type Window struct {
	Start time.Time
	End   time.Time
}

// Contains reports whether t falls inside the window.
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.Start) && t.Before(w.End)
}

// Range resolves a named window relative to now. Day, week and
// month boundaries are taken in now's location; weeks start on
// Monday. Closed windows (yesterday, last_week, last_month) end
// at the start of the following period, which covers every
// instant of their final day.
func Range(name string, now time.Time) (Window, error) {
	today := startOfDay(now)
	switch name {
	case Today:
		return Window{Start: today, End: now}, nil
	case Yesterday:
		return Window{Start: today.AddDate(0, 0, -1), End: today}, nil
	case ThisWeek:
		return Window{Start: startOfWeek(today), End: now}, nil
	case LastWeek:
		monday := startOfWeek(today)
		return Window{Start: monday.AddDate(0, 0, -7), End: monday}, nil
	case ThisMonth:
		return Window{Start: startOfMonth(today), End: now}, nil
	case LastMonth:
		first := startOfMonth(today)
		return Window{Start: first.AddDate(0, -1, 0), End: first}, nil
	}
	return Window{}, fmt.Errorf("%w: %q", ErrInvalidRange, name)
}

// IsRange reports whether name is a recognized range.
func IsRange(name string) bool {
	for _, n := range RangeNames {
		if n == name {
			return true
		}
	}
	return false
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

func startOfWeek(day time.Time) time.Time {
	offset := (int(day.Weekday()) + 6) % 7 // Mon=0
	return day.AddDate(0, 0, -offset)
}

func startOfMonth(day time.Time) time.Time {
	y, m, _ := day.Date()
	return time.Date(y, m, 1, 0, 0, 0, 0, day.Location())
}
