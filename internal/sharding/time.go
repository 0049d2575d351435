package sharding

import (
	"time"

	herrors "github.com/hayabusa-search/hayabusa/internal/errors"
)

const (
	minuteLayout   = "2006-01-02 15:04"
	dateOnlyLayout = "2006-01-02"
)

// ParseStart parses "YYYY-MM-DD HH:MM" or "YYYY-MM-DD" in local time. The
// day-only form starts at 00:00.
func ParseStart(s string) (time.Time, error) {
	return parse(s, false, time.Local)
}

// ParseEnd parses "YYYY-MM-DD HH:MM" or "YYYY-MM-DD" in local time. The
// day-only form ends at 23:59.
func ParseEnd(s string) (time.Time, error) {
	return parse(s, true, time.Local)
}

func parse(s string, end bool, loc *time.Location) (time.Time, error) {
	// The calendar date is read in UTC so a missing local midnight cannot
	// shift it.
	if day, err := time.Parse(dateOnlyLayout, s); err == nil {
		y, m, d := day.Date()
		if end {
			return time.Date(y, m, d, lastHour, lastMinute, 0, 0, loc), nil
		}
		return startOfDay(y, m, d, loc), nil
	}
	t, err := time.ParseInLocation(minuteLayout, s, loc)
	if err != nil {
		return time.Time{}, herrors.NewValidationError(herrors.CodeInvalidTimeRange,
			"invalid time: %q (format: YYYY-MM-DD [hh:mm])", s)
	}
	return t, nil
}

// ParseRange parses both bounds and enforces start <= end and the maximum
// span in whole days.
func ParseRange(startStr, endStr string, maxDays int) (time.Time, time.Time, error) {
	start, err := ParseStart(startStr)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	end, err := ParseEnd(endStr)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	if start.After(end) {
		return time.Time{}, time.Time{}, herrors.NewValidationError(herrors.CodeInvalidTimeRange,
			"invalid time period: %s - %s", start.Format(minuteLayout), end.Format(minuteLayout))
	}
	days := int(end.Sub(start) / (24 * time.Hour))
	if maxDays > 0 && days > maxDays {
		return time.Time{}, time.Time{}, herrors.NewValidationError(herrors.CodeTimeRangeTooLong,
			"too long time period: %ddays (max: %ddays)", days, maxDays)
	}
	return start, end, nil
}

// startOfDay returns the first instant of the date in loc. Where daylight
// saving starts at 00:00 the local midnight does not exist and may normalize
// into the previous day; the result is then moved forward to the transition.
func startOfDay(y int, m time.Month, d int, loc *time.Location) time.Time {
	t := time.Date(y, m, d, 0, 0, 0, 0, loc)
	for {
		if _, _, td := t.Date(); td == d {
			return t
		}
		t = t.Add(time.Minute)
	}
}
