package stagelog

import (
	"fmt"
	"sort"
	"strings"

	"kpiledger/pkg/contracts/domain"
)

// TimelineOrder selects how timeline entries are sorted.
type TimelineOrder string

const (
	// OrderByWell groups entries per well, then by start time and stage.
	OrderByWell TimelineOrder = "well"
	// OrderChronological sorts by start time across all wells.
	OrderChronological TimelineOrder = "chronological"
)

// ParseTimelineOrder maps a user supplied value to a TimelineOrder.
// The empty string selects OrderByWell.
func ParseTimelineOrder(s string) (TimelineOrder, error) {
	switch TimelineOrder(strings.ToLower(strings.TrimSpace(s))) {
	case "", OrderByWell:
		return OrderByWell, nil
	case OrderChronological, "time", "start":
		return OrderChronological, nil
	}
	return "", fmt.Errorf("unknown timeline order %q", s)
}

// Timeline is the chart-ready projection of a stage log.
type Timeline struct {
	Entries []domain.TimelineEntry `json:"entries"`
	Empty   bool                   `json:"empty"`
}

// ProjectTimeline flattens the stage log into sorted entries. An empty log
// yields an empty, non-nil slice with Empty set.
func ProjectTimeline(log domain.StageLog, order TimelineOrder) Timeline {
	entries := make([]domain.TimelineEntry, 0, len(log))
	for _, rec := range log {
		entries = append(entries, domain.TimelineEntry{
			Well:          rec.Well,
			Stage:         rec.Stage,
			Start:         rec.Start,
			End:           rec.End,
			DurationHours: rec.DurationHours,
		})
	}

	less := byWell
	if order == OrderChronological {
		less = byStart
	}
	sort.SliceStable(entries, func(i, j int) bool { return less(entries[i], entries[j]) })

	return Timeline{Entries: entries, Empty: len(entries) == 0}
}

func byWell(a, b domain.TimelineEntry) bool {
	if a.Well != b.Well {
		return a.Well < b.Well
	}
	if !a.Start.Equal(b.Start) {
		return a.Start.Before(b.Start)
	}
	return a.Stage < b.Stage
}

func byStart(a, b domain.TimelineEntry) bool {
	if !a.Start.Equal(b.Start) {
		return a.Start.Before(b.Start)
	}
	if a.Well != b.Well {
		return a.Well < b.Well
	}
	return a.Stage < b.Stage
}
