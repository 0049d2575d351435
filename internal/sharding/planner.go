// Package sharding converts an inclusive, minute-resolution time range into
// the shard-file glob patterns that cover it.
//
// Shards are laid out one file per minute as YYYY/MM/DD/HH/MM.db under a
// base directory. Plan returns one entry per calendar day touched by the
// range; each entry is a whitespace-joined set of fragments (an explicit
// file, a {lo..hi} brace range, or a * wildcard) that a bash shell expands
// to exactly the files of that day inside the range.
package sharding

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	herrors "github.com/hayabusa-search/hayabusa/internal/errors"
)

const (
	lastHour   = 23
	lastMinute = 59

	dayLayout = "2006/01/02"
)

// clock is a minute-resolution time of day.
type clock struct {
	hour   int
	minute int
}

// Plan returns the shard glob entries covering [start, end] under baseDir.
// Both bounds are truncated to the minute. now is only used to reject
// ranges reaching into the future; for fixed inputs the output never
// changes.
func Plan(baseDir string, start, end, now time.Time) ([]string, error) {
	start = start.Truncate(time.Minute)
	end = end.Truncate(time.Minute)

	var problems []string
	if start.After(now) {
		problems = append(problems, fmt.Sprintf("invalid start time: %s (time in the future)", start.Format(minuteLayout)))
	}
	if end.After(now) {
		problems = append(problems, fmt.Sprintf("invalid end time: %s (time in the future)", end.Format(minuteLayout)))
	}
	if len(problems) > 0 {
		return nil, herrors.NewValidationError(herrors.CodeFutureTime, "%s", strings.Join(problems, ", "))
	}
	if start.After(end) {
		return nil, herrors.NewValidationError(herrors.CodeInvalidTimeRange,
			"invalid time period: %s - %s", start.Format(minuteLayout), end.Format(minuteLayout))
	}

	from := clock{start.Hour(), start.Minute()}
	to := clock{end.Hour(), end.Minute()}

	startDate := dateOf(start)
	endDate := dateOf(end)
	if startDate.Equal(endDate) {
		return []string{joinDay(baseDir, startDate, dayFragments(from, to))}, nil
	}

	var entries []string
	for date := startDate; !date.After(endDate); date = date.AddDate(0, 0, 1) {
		var frags []string
		switch {
		case date.Equal(startDate):
			frags = dayFragments(from, clock{lastHour, lastMinute})
		case date.Equal(endDate):
			frags = dayFragments(clock{0, 0}, to)
		default:
			frags = []string{hoursWildcard(0, lastHour)}
		}
		entries = append(entries, joinDay(baseDir, date, frags))
	}
	return entries, nil
}

// dayFragments covers [from, to] within a single day. from must not be
// after to.
func dayFragments(from, to clock) []string {
	if from.hour == to.hour {
		return []string{hourFragment(from.hour, from.minute, to.minute)}
	}

	var frags []string

	firstFull := from.hour
	if from.minute != 0 {
		frags = append(frags, hourFragment(from.hour, from.minute, lastMinute))
		firstFull++
	}

	lastFull := to.hour
	var trailing string
	if to.minute != lastMinute {
		trailing = hourFragment(to.hour, 0, to.minute)
		lastFull--
	}

	if firstFull <= lastFull {
		frags = append(frags, hoursWildcard(firstFull, lastFull))
	}
	if trailing != "" {
		frags = append(frags, trailing)
	}
	return frags
}

// hourFragment covers minutes lo..hi of one hour.
func hourFragment(hour, lo, hi int) string {
	var minutes string
	switch {
	case lo == hi:
		minutes = fmt.Sprintf("%02d", lo)
	case lo == 0 && hi == lastMinute:
		minutes = "*"
	default:
		minutes = braceRange(lo, hi)
	}
	return fmt.Sprintf("%02d/%s.db", hour, minutes)
}

// hoursWildcard covers every minute of hours lo..hi.
func hoursWildcard(lo, hi int) string {
	var hours string
	switch {
	case lo == hi:
		hours = fmt.Sprintf("%02d", lo)
	case lo == 0 && hi == lastHour:
		hours = "*"
	default:
		hours = braceRange(lo, hi)
	}
	return hours + "/*.db"
}

func braceRange(lo, hi int) string {
	return fmt.Sprintf("{%02d..%02d}", lo, hi)
}

func joinDay(baseDir string, date time.Time, frags []string) string {
	dayDir := filepath.Join(baseDir, date.Format(dayLayout))
	paths := make([]string, len(frags))
	for i, f := range frags {
		paths[i] = filepath.Join(dayDir, f)
	}
	return strings.Join(paths, " ")
}

// dateOf returns t's calendar day in t's location as a UTC midnight. Local
// midnights do not exist on days where daylight saving starts at 00:00, so
// days are stepped in UTC.
func dateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
