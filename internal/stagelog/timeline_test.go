package stagelog

import (
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kpiledger/pkg/contracts/domain"
)

func TestProjectTimeline(t *testing.T) {
	log := jobWithLog(nil,
		record("B1", 1, "2024-01-01T01:00", "2024-01-01T03:00"),
		record("A1", 2, "2024-01-01T02:00", "2024-01-01T05:00"),
		record("A1", 1, "2024-01-01T00:00", "2024-01-01T02:00"),
	).StageLog

	t.Run("by well", func(t *testing.T) {
		tl := ProjectTimeline(log, OrderByWell)

		require.Len(t, tl.Entries, 3)
		assert.False(t, tl.Empty)
		assert.Equal(t, []string{"A1|1", "A1|2", "B1|1"}, labels(tl.Entries))
		assert.InDelta(t, 3.0, tl.Entries[1].DurationHours, 1e-9)
	})

	t.Run("chronological", func(t *testing.T) {
		tl := ProjectTimeline(log, OrderChronological)

		assert.Equal(t, []string{"A1|1", "B1|1", "A1|2"}, labels(tl.Entries))
	})

	t.Run("same start orders by stage", func(t *testing.T) {
		tied := jobWithLog(nil,
			record("A1", 2, "2024-01-01T00:00", "2024-01-01T01:00"),
			record("A1", 1, "2024-01-01T00:00", "2024-01-01T02:00"),
		).StageLog

		assert.Equal(t, []string{"A1|1", "A1|2"}, labels(ProjectTimeline(tied, OrderByWell).Entries))
	})

	t.Run("empty log", func(t *testing.T) {
		tl := ProjectTimeline(domain.StageLog{}, OrderByWell)

		assert.True(t, tl.Empty)
		assert.NotNil(t, tl.Entries)
		assert.Empty(t, tl.Entries)
	})
}

func TestParseTimelineOrder(t *testing.T) {
	tests := []struct {
		in      string
		want    TimelineOrder
		wantErr bool
	}{
		{"", OrderByWell, false},
		{"well", OrderByWell, false},
		{"Chronological", OrderChronological, false},
		{"start", OrderChronological, false},
		{"random", "", true},
	}
	for _, tt := range tests {
		got, err := ParseTimelineOrder(tt.in)
		if tt.wantErr {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got)
	}
}

func labels(entries []domain.TimelineEntry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.Well + "|" + strconv.Itoa(e.Stage)
	}
	return out
}
