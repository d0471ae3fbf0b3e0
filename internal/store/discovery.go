package store

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sort"
	"strconv"
	"strings"
)

// discoverPeriods lists the periods that have a "<prefix>_<period><ext>"
// file in dir, ascending. A missing directory holds no periods.
func discoverPeriods(dir, prefix, ext string) ([]int, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read directory %s: %w", dir, err)
	}

	var periods []int
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := strings.ToLower(entry.Name())
		stem, ok := strings.CutSuffix(name, ext)
		if !ok {
			continue
		}
		digits, ok := strings.CutPrefix(stem, strings.ToLower(prefix)+"_")
		if !ok {
			continue
		}
		period, err := strconv.Atoi(digits)
		if err != nil {
			continue
		}
		periods = append(periods, period)
	}

	sort.Ints(periods)
	return periods, nil
}
