// Package recency extracts an [updated_after, updated_before] time
// window from ambient context file paths.
package recency

import (
	"path"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

// Window is the resolved recency window. A nil bound imposes no filter
// on that side.
type Window struct {
	UpdatedAfter  *time.Time
	UpdatedBefore *time.Time
}

var dateFileRe = regexp.MustCompile(`^(\d{4})-(\d{2})-(\d{2})\.md$`)

const defaultLookback = 30 * 24 * time.Hour

// FromContextPaths extracts a window from the given ambient context
// file paths:
//   - Any path whose last two segments match memory/YYYY-MM-DD.md
//     contributes [startOfDay, endOfDay] UTC; multiple matches widen to
//     the enclosing union. Dated files outside a memory/ directory are
//     ignored.
//   - If no date-scoped files but a MEMORY.md is present, default to
//     updated_after = now-30d with no upper bound.
//   - Otherwise empty.
//
// now is passed in rather than read from time.Now so callers control
// the reference instant (and tests stay deterministic).
func FromContextPaths(paths []string, now time.Time) Window {
	var start, end *time.Time
	hasMemoryMD := false

	for _, p := range paths {
		slash := filepath.ToSlash(p)
		base := path.Base(slash)
		if m := dateFileRe.FindStringSubmatch(base); m != nil && path.Base(path.Dir(slash)) == "memory" {
			day, err := time.Parse("2006-01-02", m[1]+"-"+m[2]+"-"+m[3])
			if err != nil {
				continue
			}
			dayStart := day.UTC()
			dayEnd := dayStart.Add(24 * time.Hour).Add(-time.Nanosecond)
			if start == nil || dayStart.Before(*start) {
				start = &dayStart
			}
			if end == nil || dayEnd.After(*end) {
				end = &dayEnd
			}
			continue
		}
		if strings.EqualFold(base, "MEMORY.md") {
			hasMemoryMD = true
		}
	}

	if start != nil || end != nil {
		return Window{UpdatedAfter: start, UpdatedBefore: end}
	}

	if hasMemoryMD {
		fallback := now.Add(-defaultLookback)
		return Window{UpdatedAfter: &fallback}
	}

	return Window{}
}
