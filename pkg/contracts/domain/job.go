package domain

import (
	"sort"
	"time"
)

// Job is a well-pad operation: declared wells plus the stage records merged into it.
type Job struct {
	ID        string         `json:"id" yaml:"id"`
	Operator  string         `json:"operator" yaml:"operator"`
	Pad       string         `json:"pad" yaml:"pad"`
	Wells     map[string]int `json:"wells" yaml:"wells"`
	StageLog  StageLog       `json:"stage_log" yaml:"stage_log"`
	CreatedAt time.Time      `json:"created_at" yaml:"created_at"`
	UpdatedAt time.Time      `json:"updated_at" yaml:"updated_at"`
}

// HasWell reports whether the well is declared on the job.
func (j *Job) HasWell(well string) bool {
	_, ok := j.Wells[well]
	return ok
}

// WellNames returns the declared wells in name order.
func (j *Job) WellNames() []string {
	names := make([]string, 0, len(j.Wells))
	for name := range j.Wells {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// TotalStages is the sum of declared stage counts across all wells.
func (j *Job) TotalStages() int {
	total := 0
	for _, n := range j.Wells {
		total += n
	}
	return total
}

// Clone returns a deep copy so callers can mutate the stage log freely.
func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}
	c := *j
	c.Wells = make(map[string]int, len(j.Wells))
	for k, v := range j.Wells {
		c.Wells[k] = v
	}
	c.StageLog = j.StageLog.Clone()
	return &c
}

// JobSummary is the listing view of a job.
type JobSummary struct {
	ID          string    `json:"id"`
	Operator    string    `json:"operator"`
	Pad         string    `json:"pad"`
	WellCount   int       `json:"well_count"`
	TotalStages int       `json:"total_stages"`
	Recorded    int       `json:"recorded_stages"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Summary builds the listing view of the job.
func (j *Job) Summary() JobSummary {
	return JobSummary{
		ID:          j.ID,
		Operator:    j.Operator,
		Pad:         j.Pad,
		WellCount:   len(j.Wells),
		TotalStages: j.TotalStages(),
		Recorded:    len(j.StageLog),
		UpdatedAt:   j.UpdatedAt,
	}
}
