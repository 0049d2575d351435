package sharding

import (
	"fmt"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	herrors "github.com/hayabusa-search/hayabusa/internal/errors"
)

const testDir = "/efs/store/auth"

var testNow = time.Date(2030, 1, 1, 0, 0, 0, 0, time.Local)

func mustPlan(t *testing.T, start, end string) []string {
	t.Helper()
	s, err := ParseStart(start)
	if err != nil {
		t.Fatalf("ParseStart(%q): %v", start, err)
	}
	e, err := ParseEnd(end)
	if err != nil {
		t.Fatalf("ParseEnd(%q): %v", end, err)
	}
	paths, err := Plan(testDir, s, e, testNow)
	if err != nil {
		t.Fatalf("Plan(%q, %q): %v", start, end, err)
	}
	return paths
}

// p prefixes every whitespace-separated fragment with the test directory.
func p(entry string) string {
	frags := strings.Fields(entry)
	for i, f := range frags {
		frags[i] = testDir + "/" + f
	}
	return strings.Join(frags, " ")
}

func TestPlanFixtures(t *testing.T) {
	tests := []struct {
		start, end string
		want       []string
	}{
		// same minute / same hour
		{"2018-08-01 3:05", "2018-08-01 3:05", []string{p("2018/08/01/03/05.db")}},
		{"2018-08-01 3:05", "2018-08-01 3:43", []string{p("2018/08/01/03/{05..43}.db")}},
		{"2018-08-01 3:00", "2018-08-01 3:43", []string{p("2018/08/01/03/{00..43}.db")}},
		{"2018-08-01 3:07", "2018-08-01 3:59", []string{p("2018/08/01/03/{07..59}.db")}},
		{"2018-08-01 3:00", "2018-08-01 3:59", []string{p("2018/08/01/03/*.db")}},

		// same day
		{"2018-08-01 1:59", "2018-08-01 2:00", []string{p("2018/08/01/01/59.db 2018/08/01/02/00.db")}},
		{"2018-08-01 1:59", "2018-08-01 3:00", []string{p("2018/08/01/01/59.db 2018/08/01/02/*.db 2018/08/01/03/00.db")}},
		{"2018-08-01", "2018-08-01", []string{p("2018/08/01/*/*.db")}},
		{"2018-08-01 0:00", "2018-08-01 23:59", []string{p("2018/08/01/*/*.db")}},
		{"2018-08-01 3:05", "2018-08-01 11:23", []string{p("2018/08/01/03/{05..59}.db 2018/08/01/{04..10}/*.db 2018/08/01/11/{00..23}.db")}},
		{"2018-08-01 3:05", "2018-08-01 11:59", []string{p("2018/08/01/03/{05..59}.db 2018/08/01/{04..11}/*.db")}},
		{"2018-08-01 3:00", "2018-08-01 11:33", []string{p("2018/08/01/{03..10}/*.db 2018/08/01/11/{00..33}.db")}},
		{"2018-08-01 3:00", "2018-08-01 11:59", []string{p("2018/08/01/{03..11}/*.db")}},

		// two days
		{"2018-07-31 23:33", "2018-08-01 00:07", []string{p("2018/07/31/23/{33..59}.db"), p("2018/08/01/00/{00..07}.db")}},
		{"2018-07-31 23:00", "2018-08-01 00:07", []string{p("2018/07/31/23/*.db"), p("2018/08/01/00/{00..07}.db")}},
		{"2018-07-31 23:03", "2018-08-01 00:59", []string{p("2018/07/31/23/{03..59}.db"), p("2018/08/01/00/*.db")}},
		{"2018-07-31 23:00", "2018-08-01 00:59", []string{p("2018/07/31/23/*.db"), p("2018/08/01/00/*.db")}},
		{"2018-07-31 11:04", "2018-08-01 05:44", []string{
			p("2018/07/31/11/{04..59}.db 2018/07/31/{12..23}/*.db"),
			p("2018/08/01/{00..04}/*.db 2018/08/01/05/{00..44}.db"),
		}},
		{"2018-07-31 11:00", "2018-08-01 05:44", []string{
			p("2018/07/31/{11..23}/*.db"),
			p("2018/08/01/{00..04}/*.db 2018/08/01/05/{00..44}.db"),
		}},
		{"2018-07-31 11:11", "2018-08-01 05:59", []string{
			p("2018/07/31/11/{11..59}.db 2018/07/31/{12..23}/*.db"),
			p("2018/08/01/{00..05}/*.db"),
		}},
		{"2018-07-31 11:00", "2018-08-01 05:59", []string{p("2018/07/31/{11..23}/*.db"), p("2018/08/01/{00..05}/*.db")}},
		{"2018-07-31 00:03", "2018-08-01 23:07", []string{
			p("2018/07/31/00/{03..59}.db 2018/07/31/{01..23}/*.db"),
			p("2018/08/01/{00..22}/*.db 2018/08/01/23/{00..07}.db"),
		}},
		{"2018-07-31 00:00", "2018-08-01 23:07", []string{
			p("2018/07/31/*/*.db"),
			p("2018/08/01/{00..22}/*.db 2018/08/01/23/{00..07}.db"),
		}},
		{"2018-07-31 00:03", "2018-08-01 23:59", []string{
			p("2018/07/31/00/{03..59}.db 2018/07/31/{01..23}/*.db"),
			p("2018/08/01/*/*.db"),
		}},
		{"2018-07-31 00:00", "2018-08-01 23:59", []string{p("2018/07/31/*/*.db"), p("2018/08/01/*/*.db")}},
		{"2018-07-31", "2018-08-01", []string{p("2018/07/31/*/*.db"), p("2018/08/01/*/*.db")}},
		{"2018-07-31 23:59", "2018-08-01 00:00", []string{p("2018/07/31/23/59.db"), p("2018/08/01/00/00.db")}},
		{"2018-07-31 22:00", "2018-08-01 01:59", []string{p("2018/07/31/{22..23}/*.db"), p("2018/08/01/{00..01}/*.db")}},

		// multiple days
		{"2018-07-30 11:04", "2018-08-02 05:44", []string{
			p("2018/07/30/11/{04..59}.db 2018/07/30/{12..23}/*.db"),
			p("2018/07/31/*/*.db"),
			p("2018/08/01/*/*.db"),
			p("2018/08/02/{00..04}/*.db 2018/08/02/05/{00..44}.db"),
		}},
		{"2018-07-30 00:00", "2018-08-02 23:59", []string{
			p("2018/07/30/*/*.db"), p("2018/07/31/*/*.db"), p("2018/08/01/*/*.db"), p("2018/08/02/*/*.db"),
		}},
		{"2018-07-30", "2018-08-02", []string{
			p("2018/07/30/*/*.db"), p("2018/07/31/*/*.db"), p("2018/08/01/*/*.db"), p("2018/08/02/*/*.db"),
		}},
	}

	for _, tt := range tests {
		t.Run(tt.start+"_"+tt.end, func(t *testing.T) {
			got := mustPlan(t, tt.start, tt.end)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Plan(%s, %s)\n got: %q\nwant: %q", tt.start, tt.end, got, tt.want)
			}
		})
	}
}

func TestPlanSingleMinuteAndDay(t *testing.T) {
	at := func(y int, mo time.Month, d, h, mi int) time.Time {
		return time.Date(y, mo, d, h, mi, 0, 0, time.Local)
	}

	got, err := Plan("X", at(2018, 8, 1, 3, 5), at(2018, 8, 1, 3, 5), testNow)
	if err != nil || !reflect.DeepEqual(got, []string{"X/2018/08/01/03/05.db"}) {
		t.Errorf("same minute: %q, %v", got, err)
	}

	got, err = Plan("X", at(2018, 7, 31, 23, 33), at(2018, 8, 1, 0, 7), testNow)
	want := []string{"X/2018/07/31/23/{33..59}.db", "X/2018/08/01/00/{00..07}.db"}
	if err != nil || !reflect.DeepEqual(got, want) {
		t.Errorf("day boundary: %q, %v", got, err)
	}
}

func TestPlanValidation(t *testing.T) {
	now := time.Date(2018, 8, 1, 12, 0, 0, 0, time.Local)

	tests := []struct {
		name       string
		start, end time.Time
		code       string
	}{
		{"reversed", now.Add(-time.Minute), now.Add(-2 * time.Minute), herrors.CodeInvalidTimeRange},
		{"end in future", now.Add(-time.Hour), now.Add(time.Minute), herrors.CodeFutureTime},
		{"both in future", now.Add(time.Hour), now.Add(2 * time.Hour), herrors.CodeFutureTime},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Plan(testDir, tt.start, tt.end, now)
			if err == nil {
				t.Fatal("expected error")
			}
			if herrors.GetCode(err) != tt.code {
				t.Errorf("code = %q, want %q (%v)", herrors.GetCode(err), tt.code, err)
			}
		})
	}

	_, err := Plan(testDir, now.Add(time.Hour), now.Add(2*time.Hour), now)
	if !strings.Contains(err.Error(), "start time") || !strings.Contains(err.Error(), "end time") {
		t.Errorf("both future bounds should be reported: %v", err)
	}

	if _, err := Plan(testDir, now, now, now); err != nil {
		t.Errorf("now itself is not in the future: %v", err)
	}
}

func TestParseRange(t *testing.T) {
	start, end, err := ParseRange("2018-08-01", "2018-08-03", 31)
	if err != nil {
		t.Fatalf("ParseRange: %v", err)
	}
	if start.Hour() != 0 || start.Minute() != 0 {
		t.Errorf("start = %s", start)
	}
	if end.Day() != 3 || end.Hour() != 23 || end.Minute() != 59 {
		t.Errorf("end = %s", end)
	}

	tests := []struct {
		start, end string
		code       string
	}{
		{"2018-08-01 3:00", "2018-08-01 2:00", herrors.CodeInvalidTimeRange},
		{"yesterday", "2018-08-01", herrors.CodeInvalidTimeRange},
		{"2018-08-01", "2018/08/02", herrors.CodeInvalidTimeRange},
		{"2018-07-01", "2018-08-02", herrors.CodeTimeRangeTooLong},
	}
	for _, tt := range tests {
		_, _, err := ParseRange(tt.start, tt.end, 31)
		if herrors.GetCode(err) != tt.code {
			t.Errorf("ParseRange(%q, %q) code = %q, want %q", tt.start, tt.end, herrors.GetCode(err), tt.code)
		}
	}
}

// minuteFile is the shard path of the minute containing t.
func minuteFile(base string, t time.Time) string {
	return filepath.Join(base, t.Format("2006/01/02/15/04")+".db")
}

// coverage returns the files of a one-file-per-minute set around
// [start, end] that the planned entries match.
func coverage(entries []string, base string, from, to time.Time) map[string]bool {
	byDay := make(map[string][]string)
	for _, entry := range entries {
		for _, pattern := range Patterns(entry) {
			day := strings.Join(strings.Split(strings.TrimPrefix(pattern, base+"/"), "/")[:3], "/")
			byDay[day] = append(byDay[day], pattern)
		}
	}

	covered := make(map[string]bool)
	for t := from; !t.After(to); t = t.Add(time.Minute) {
		name := minuteFile(base, t)
		for _, pattern := range byDay[t.Format("2006/01/02")] {
			if ok, _ := filepath.Match(pattern, name); ok {
				covered[name] = true
				break
			}
		}
	}
	return covered
}

func TestProperty_PlanCoversExactlyTheRange(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	origin := time.Date(2018, 1, 1, 0, 0, 0, 0, time.UTC)
	now := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	const margin = 90 * time.Minute

	properties.Property("expanded plan matches exactly the minutes in [start, end]", prop.ForAll(
		func(startOffset, span int) bool {
			start := origin.Add(time.Duration(startOffset) * time.Minute)
			end := start.Add(time.Duration(span) * time.Minute)

			entries, err := Plan("X", start, end, now)
			if err != nil {
				return false
			}

			covered := coverage(entries, "X", start.Add(-margin), end.Add(margin))
			for tm := start.Add(-margin); !tm.After(end.Add(margin)); tm = tm.Add(time.Minute) {
				inRange := !tm.Before(start) && !tm.After(end)
				if covered[minuteFile("X", tm)] != inRange {
					t.Logf("start=%s end=%s minute=%s covered=%v", start, end, tm, !inRange)
					return false
				}
			}
			return true
		},
		gen.IntRange(0, 365*24*60),
		gen.IntRange(0, 3*24*60),
	))

	properties.Property("one entry per calendar day", prop.ForAll(
		func(startOffset, span int) bool {
			start := origin.Add(time.Duration(startOffset) * time.Minute)
			end := start.Add(time.Duration(span) * time.Minute)

			entries, err := Plan("X", start, end, now)
			if err != nil {
				return false
			}
			days := int(dateOf(end).Sub(dateOf(start))/(24*time.Hour)) + 1
			return len(entries) == days
		},
		gen.IntRange(0, 365*24*60),
		gen.IntRange(0, 10*24*60),
	))

	properties.Property("plan is deterministic", prop.ForAll(
		func(startOffset, span int) bool {
			start := origin.Add(time.Duration(startOffset) * time.Minute)
			end := start.Add(time.Duration(span) * time.Minute)

			a, errA := Plan("X", start, end, now)
			b, errB := Plan("X", start, end, now)
			return errA == nil && errB == nil && reflect.DeepEqual(a, b)
		},
		gen.IntRange(0, 365*24*60),
		gen.IntRange(0, 5*24*60),
	))

	properties.TestingRun(t)
}

func TestPlanDaylightSavingMidnight(t *testing.T) {
	tests := []struct {
		zone       string
		start, end [3]int // day, hour, minute
		year       int
		month      time.Month
		want       []string
	}{
		{
			zone: "America/Santiago", year: 2024, month: time.September,
			start: [3]int{7, 12, 0}, end: [3]int{9, 10, 0},
			want: []string{
				"X/2024/09/07/{12..23}/*.db",
				"X/2024/09/08/*/*.db",
				"X/2024/09/09/{00..09}/*.db X/2024/09/09/10/00.db",
			},
		},
		{
			zone: "America/Sao_Paulo", year: 2018, month: time.November,
			start: [3]int{3, 12, 0}, end: [3]int{5, 10, 0},
			want: []string{
				"X/2018/11/03/{12..23}/*.db",
				"X/2018/11/04/*/*.db",
				"X/2018/11/05/{00..09}/*.db X/2018/11/05/10/00.db",
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.zone, func(t *testing.T) {
			loc, err := time.LoadLocation(tt.zone)
			if err != nil {
				t.Fatalf("LoadLocation: %v", err)
			}
			start := time.Date(tt.year, tt.month, tt.start[0], tt.start[1], tt.start[2], 0, 0, loc)
			end := time.Date(tt.year, tt.month, tt.end[0], tt.end[1], tt.end[2], 0, 0, loc)

			got, err := Plan("X", start, end, testNow)
			if err != nil {
				t.Fatalf("Plan: %v", err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Plan = %q\nwant   %q", got, tt.want)
			}
		})
	}
}

func TestParseDayWithoutMidnight(t *testing.T) {
	loc, err := time.LoadLocation("America/Santiago")
	if err != nil {
		t.Fatalf("LoadLocation: %v", err)
	}

	start, err := parse("2024-09-08", false, loc)
	if err != nil {
		t.Fatalf("parse start: %v", err)
	}
	// clocks jump from 00:00 straight to 01:00
	if want := time.Date(2024, 9, 8, 1, 0, 0, 0, loc); !start.Equal(want) || start.Day() != 8 {
		t.Errorf("start = %s, want %s", start, want)
	}

	end, err := parse("2024-09-08", true, loc)
	if err != nil {
		t.Fatalf("parse end: %v", err)
	}
	if end.Day() != 8 || end.Hour() != 23 || end.Minute() != 59 {
		t.Errorf("end = %s, want 2024-09-08 23:59", end)
	}

	got, err := Plan("X", start, end, testNow)
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if want := []string{"X/2024/09/08/{01..23}/*.db"}; !reflect.DeepEqual(got, want) {
		t.Errorf("Plan = %q, want %q", got, want)
	}
}

func TestProperty_PlanCoversExactlyTheRangeAcrossDaylightSaving(t *testing.T) {
	loc, err := time.LoadLocation("America/Santiago")
	if err != nil {
		t.Fatalf("LoadLocation: %v", err)
	}

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	// 2018-08-12 starts daylight saving at 00:00 in Santiago.
	origin := time.Date(2018, 8, 8, 0, 0, 0, 0, loc)
	now := time.Date(2020, 1, 1, 0, 0, 0, 0, loc)
	const margin = 90 * time.Minute

	properties.Property("expanded plan matches exactly the local minutes in [start, end]", prop.ForAll(
		func(startOffset, span int) bool {
			start := origin.Add(time.Duration(startOffset) * time.Minute)
			end := start.Add(time.Duration(span) * time.Minute)

			entries, err := Plan("X", start, end, now)
			if err != nil {
				return false
			}

			days := int(dateOf(end).Sub(dateOf(start))/(24*time.Hour)) + 1
			if len(entries) != days {
				t.Logf("start=%s end=%s entries=%q", start, end, entries)
				return false
			}

			covered := coverage(entries, "X", start.Add(-margin), end.Add(margin))
			for tm := start.Add(-margin); !tm.After(end.Add(margin)); tm = tm.Add(time.Minute) {
				inRange := !tm.Before(start) && !tm.After(end)
				if covered[minuteFile("X", tm)] != inRange {
					t.Logf("start=%s end=%s minute=%s covered=%v", start, end, tm, !inRange)
					return false
				}
			}
			return true
		},
		gen.IntRange(0, 7*24*60),
		gen.IntRange(0, 3*24*60),
	))

	properties.TestingRun(t)
}

func ExamplePlan() {
	start := time.Date(2018, 8, 1, 3, 5, 0, 0, time.UTC)
	end := time.Date(2018, 8, 1, 11, 23, 0, 0, time.UTC)
	entries, _ := Plan("/store/syslog", start, end, end)
	for _, e := range entries {
		fmt.Println(e)
	}
	// Output:
	// /store/syslog/2018/08/01/03/{05..59}.db /store/syslog/2018/08/01/{04..10}/*.db /store/syslog/2018/08/01/11/{00..23}.db
}
