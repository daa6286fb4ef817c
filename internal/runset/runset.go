// Package runset parses run selectors such as "1056-1060,1070" into run ids.
package runset

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// RunID identifies a run. It is either a run number or an opaque token
// (e.g. "10ns") that could not be read as a number or a range.
type RunID struct {
	num   int
	token string
	isNum bool
}

// Number returns a numeric run id.
func Number(n int) RunID {
	return RunID{num: n, isNum: true}
}

// Token returns a string run id.
func Token(s string) RunID {
	return RunID{token: s}
}

// Int returns the run number and whether the id is numeric.
func (r RunID) Int() (int, bool) {
	return r.num, r.isNum
}

// String formats the id without padding.
func (r RunID) String() string {
	if r.isNum {
		return strconv.Itoa(r.num)
	}
	return r.token
}

// Pad formats the id, left-filling numeric ids with zeros up to width digits.
// A leading minus sign is kept in front of the zeros. Tokens are returned as is.
func (r RunID) Pad(width int) string {
	s := r.String()
	if !r.isNum || width <= 0 {
		return s
	}
	sign := ""
	if strings.HasPrefix(s, "-") {
		sign, s = "-", s[1:]
	}
	if n := width - len(sign) - len(s); n > 0 {
		s = strings.Repeat("0", n) + s
	}
	return sign + s
}

// Parse turns a selector into an ordered list of run ids.
//
// Tokens are comma separated. Each token is a number, a dash separated range
// expanded in ascending order, or kept verbatim as a string token. Nothing is
// de-duplicated. An empty or blank selector yields an empty list.
func Parse(selector string) []RunID {
	if strings.TrimSpace(selector) == "" {
		return nil
	}

	var ids []RunID
	for _, raw := range strings.Split(selector, ",") {
		tok := strings.TrimSpace(raw)

		if n, err := strconv.Atoi(tok); err == nil {
			ids = append(ids, Number(n))
			continue
		}

		if lo, hi, ok := parseRange(tok); ok {
			for v := lo; v <= hi; v++ {
				ids = append(ids, Number(v))
			}
			continue
		}

		ids = append(ids, Token(tok))
	}
	return ids
}

// parseRange reads "a-b" (or more dash separated numbers) and returns the
// smallest and largest value.
func parseRange(tok string) (lo, hi int, ok bool) {
	parts := strings.Split(tok, "-")
	if len(parts) < 2 {
		return 0, 0, false
	}
	nums := make([]int, 0, len(parts))
	for _, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return 0, 0, false
		}
		nums = append(nums, n)
	}
	sort.Ints(nums)
	return nums[0], nums[len(nums)-1], true
}

// Strings returns the ids formatted without padding.
func Strings(ids []RunID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return out
}

// Join formats ids as a comma separated list for log output.
func Join(ids []RunID) string {
	return strings.Join(Strings(ids), ", ")
}

var (
	// ErrNoRuns is returned when the selectors produce no run at all.
	ErrNoRuns = errors.New("no run numbers were specified")

	// ErrDuplicateRun is returned when a run is selected more than once.
	ErrDuplicateRun = errors.New("at least one run is specified multiple times")
)

// Collect parses every selector in order and concatenates the results.
// It fails when the result is empty or contains a run twice.
func Collect(selectors []string) ([]RunID, error) {
	var ids []RunID
	for _, s := range selectors {
		ids = append(ids, Parse(s)...)
	}
	if len(ids) == 0 {
		return nil, ErrNoRuns
	}

	seen := make(map[RunID]bool, len(ids))
	for _, id := range ids {
		if seen[id] {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateRun, id)
		}
		seen[id] = true
	}
	return ids, nil
}
