package exporter

import (
	"strconv"
	"time"
)

// TimeLayout is the spreadsheet-friendly timestamp format used in exports
const TimeLayout = "2006-01-02 15:04"

// formatFloat formats a float64 value for CSV output with exactly 2 decimal places
func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', 2, 64)
}

// formatRatio renders a completion ratio as a percentage
func formatRatio(r float64) string {
	return strconv.FormatFloat(r*100, 'f', 1, 64)
}

func formatInt(i int) string {
	return strconv.Itoa(i)
}

// formatTime renders t in TimeLayout in its own location. Zero times are
// left blank.
func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(TimeLayout)
}
