package domain

import (
	"time"
)

// StageRecord is one validated spreadsheet row: a numbered stage of a well
// with its start/end window.
type StageRecord struct {
	Well          string    `json:"well" yaml:"well"`
	Stage         int       `json:"stage" yaml:"stage"`
	Start         time.Time `json:"start" yaml:"start"`
	End           time.Time `json:"end" yaml:"end"`
	DurationHours float64   `json:"duration_hr" yaml:"duration_hr"`
}

// Equal compares two records field for field. Timestamps are compared as
// instants so a record survives a store round trip unchanged.
func (r StageRecord) Equal(other StageRecord) bool {
	return r.Well == other.Well &&
		r.Stage == other.Stage &&
		r.Start.Equal(other.Start) &&
		r.End.Equal(other.End) &&
		r.DurationHours == other.DurationHours
}

// Duration returns the stage window.
func (r StageRecord) Duration() time.Duration {
	return r.End.Sub(r.Start)
}

// StageKey identifies a stage record inside a job's stage log.
type StageKey string

// StageLog maps stage keys to their records. At most one record per key.
type StageLog map[StageKey]StageRecord

// Clone returns a shallow copy of the log; records are values.
func (l StageLog) Clone() StageLog {
	c := make(StageLog, len(l))
	for k, v := range l {
		c[k] = v
	}
	return c
}

// WellProgress is the derived completion state of a single well.
type WellProgress struct {
	Well      string  `json:"well"`
	Completed int     `json:"completed"`
	Total     int     `json:"total"`
	Ratio     float64 `json:"ratio"`
}

// PadProgress is the completion state summed over every declared well.
type PadProgress struct {
	Completed int     `json:"completed"`
	Total     int     `json:"total"`
	Ratio     float64 `json:"ratio"`
}

// TimelineEntry is one renderable stage interval.
type TimelineEntry struct {
	Well          string    `json:"well"`
	Stage         int       `json:"stage"`
	Start         time.Time `json:"start"`
	End           time.Time `json:"end"`
	DurationHours float64   `json:"duration_hr"`
}
