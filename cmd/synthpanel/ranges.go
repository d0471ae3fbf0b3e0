package main

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// parseRanges expands a list such as "1-51,53" into sorted, distinct
// integers. Bounds are inclusive.
func parseRanges(spec string) ([]int, error) {
	seen := make(map[int]bool)
	for _, part := range strings.Split(spec, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		lo, hi := part, part
		// a leading '-' belongs to the number, not the range
		if i := strings.Index(part[1:], "-"); i >= 0 {
			lo, hi = part[:i+1], part[i+2:]
		}
		from, err := strconv.Atoi(strings.TrimSpace(lo))
		if err != nil {
			return nil, fmt.Errorf("invalid range %q", part)
		}
		to, err := strconv.Atoi(strings.TrimSpace(hi))
		if err != nil {
			return nil, fmt.Errorf("invalid range %q", part)
		}
		if to < from {
			return nil, fmt.Errorf("invalid range %q: end before start", part)
		}
		for v := from; v <= to; v++ {
			seen[v] = true
		}
	}
	if len(seen) == 0 {
		return nil, fmt.Errorf("empty range %q", spec)
	}

	values := make([]int, 0, len(seen))
	for v := range seen {
		values = append(values, v)
	}
	sort.Ints(values)
	return values, nil
}
