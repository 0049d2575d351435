package sharding

import (
	"fmt"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// rangeRe matches the numeric brace ranges Plan emits, e.g. {05..43}.
var rangeRe = regexp.MustCompile(`\{(\d+)\.\.(\d+)\}`)

// Expand performs the brace-range expansion bash applies to one fragment.
// Ranges are inclusive and keep the zero padding of their bounds. Glob
// metacharacters are left untouched.
func Expand(fragment string) []string {
	loc := rangeRe.FindStringSubmatchIndex(fragment)
	if loc == nil {
		return []string{fragment}
	}

	prefix := fragment[:loc[0]]
	suffix := fragment[loc[1]:]
	loStr := fragment[loc[2]:loc[3]]
	hiStr := fragment[loc[4]:loc[5]]
	lo, _ := strconv.Atoi(loStr)
	hi, _ := strconv.Atoi(hiStr)

	width := 0
	if strings.HasPrefix(loStr, "0") || strings.HasPrefix(hiStr, "0") {
		width = max(len(loStr), len(hiStr))
	}

	step := 1
	if lo > hi {
		step = -1
	}

	var out []string
	for n := lo; ; n += step {
		for _, rest := range Expand(suffix) {
			out = append(out, fmt.Sprintf("%s%0*d%s", prefix, width, n, rest))
		}
		if n == hi {
			break
		}
	}
	return out
}

// Patterns splits a planner entry into fragments and expands each one.
func Patterns(entry string) []string {
	var out []string
	for _, frag := range strings.Fields(entry) {
		out = append(out, Expand(frag)...)
	}
	return out
}

// Match reports whether name is covered by the planner entry.
func Match(entry, name string) bool {
	for _, pattern := range Patterns(entry) {
		if ok, err := filepath.Match(pattern, name); err == nil && ok {
			return true
		}
	}
	return false
}

// Glob resolves a planner entry against the filesystem. Patterns without
// glob metacharacters are returned even when the file does not exist, the
// way an unmatched literal survives shell expansion. The result is sorted
// and free of duplicates.
func Glob(entry string) ([]string, error) {
	seen := make(map[string]struct{})
	var out []string
	add := func(p string) {
		if _, ok := seen[p]; !ok {
			seen[p] = struct{}{}
			out = append(out, p)
		}
	}

	for _, pattern := range Patterns(entry) {
		if !strings.ContainsAny(pattern, "*?[") {
			add(pattern)
			continue
		}
		matches, err := filepath.Glob(pattern)
		if err != nil {
			return nil, fmt.Errorf("sharding: bad pattern %q: %w", pattern, err)
		}
		for _, m := range matches {
			add(m)
		}
	}

	sort.Strings(out)
	return out, nil
}
