package exporter

import (
	"io"

	"kpiledger/internal/stagelog"
)

// TimelineHeader is the column row of a timeline export
var TimelineHeader = []string{"Well", "Stage", "Start", "End", "Duration (hr)"}

// ProgressHeader is the column row of a progress export
var ProgressHeader = []string{"Well", "Completed", "Total", "Percent"}

// TimelineRecords flattens timeline entries into CSV rows, keeping their order
func TimelineRecords(t stagelog.Timeline) [][]string {
	records := make([][]string, 0, len(t.Entries))
	for _, e := range t.Entries {
		records = append(records, []string{
			e.Well,
			formatInt(e.Stage),
			formatTime(e.Start),
			formatTime(e.End),
			formatFloat(e.DurationHours),
		})
	}
	return records
}

// WriteTimeline writes t as CSV. An empty timeline still gets its header.
func WriteTimeline(w io.Writer, t stagelog.Timeline, bom bool) error {
	return WriteCSV(w, WriteOptions{
		Headers:   TimelineHeader,
		Records:   TimelineRecords(t),
		BOMPrefix: bom,
	})
}

// ProgressRecords lists wells by name followed by a pad total row
func ProgressRecords(p stagelog.Progress) [][]string {
	wells := p.OrderedWells()
	records := make([][]string, 0, len(wells)+1)
	for _, wp := range wells {
		records = append(records, []string{
			wp.Well,
			formatInt(wp.Completed),
			formatInt(wp.Total),
			formatRatio(wp.Ratio),
		})
	}
	return append(records, []string{
		"Pad",
		formatInt(p.Pad.Completed),
		formatInt(p.Pad.Total),
		formatRatio(p.Pad.Ratio),
	})
}

// WriteProgress writes p as CSV
func WriteProgress(w io.Writer, p stagelog.Progress, bom bool) error {
	return WriteCSV(w, WriteOptions{
		Headers:   ProgressHeader,
		Records:   ProgressRecords(p),
		BOMPrefix: bom,
	})
}
