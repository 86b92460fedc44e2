package stagelog

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMergeReport_Summary(t *testing.T) {
	t.Run("clean upload", func(t *testing.T) {
		r := &MergeReport{Well: "A1", Inserted: 2, NoOps: 1}

		assert.Equal(t, "uploaded 3 stages for well A1 (2 inserted, 0 overwritten, 1 unchanged)", r.Summary(5))
		assert.True(t, r.Changed())
	})

	t.Run("truncates row errors", func(t *testing.T) {
		r := &MergeReport{
			Well:     "A1",
			Inserted: 9,
			RowErrors: []RowError{
				{Row: 2, Reason: "stage is empty"},
				{Row: 5, Reason: "end is not after start"},
				{Row: 8, Reason: "start time: value is empty"},
			},
			Warnings: []DataIntegrityWarning{orphanWarning("job-1", "Z9", 1)},
		}

		got := r.Summary(2)
		assert.Contains(t, got, "skipped 3 malformed rows: row 2: stage is empty; row 5: end is not after start; and 1 more")
		assert.Contains(t, got, "(1 data integrity warnings)")
	})

	t.Run("zero limit lists no reasons", func(t *testing.T) {
		r := &MergeReport{Well: "A1", RowErrors: []RowError{{Row: 2, Reason: "bad"}}}

		assert.Equal(t, "uploaded 0 stages for well A1 (0 inserted, 0 overwritten, 0 unchanged), skipped 1 malformed rows", r.Summary(0))
		assert.False(t, r.Changed())
	})
}
