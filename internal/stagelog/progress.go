package stagelog

import (
	"sort"
	"time"

	"kpiledger/pkg/contracts/domain"
)

// Progress is the derived completion view of a job. It is never persisted.
type Progress struct {
	Wells    map[string]domain.WellProgress `json:"wells"`
	Pad      domain.PadProgress             `json:"pad"`
	JobStart *time.Time                     `json:"job_start,omitempty"`
	Warnings []DataIntegrityWarning         `json:"warnings,omitempty"`
}

// OrderedWells returns the per-well progress sorted by well name.
func (p Progress) OrderedWells() []domain.WellProgress {
	out := make([]domain.WellProgress, 0, len(p.Wells))
	for _, wp := range p.Wells {
		out = append(out, wp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Well < out[j].Well })
	return out
}

// ComputeProgress derives per-well and pad completion plus the job start
// from a job snapshot. Stages of undeclared wells are reported as warnings
// and left out of every ratio.
func ComputeProgress(job *domain.Job) Progress {
	p := Progress{Wells: make(map[string]domain.WellProgress)}
	if job == nil {
		return p
	}

	stages := make(map[string]map[int]struct{})
	for _, rec := range job.StageLog {
		if p.JobStart == nil || rec.Start.Before(*p.JobStart) {
			start := rec.Start
			p.JobStart = &start
		}
		set, ok := stages[rec.Well]
		if !ok {
			set = make(map[int]struct{})
			stages[rec.Well] = set
		}
		set[rec.Stage] = struct{}{}
	}

	for well, total := range job.Wells {
		completed := len(stages[well])
		p.Wells[well] = domain.WellProgress{
			Well:      well,
			Completed: completed,
			Total:     total,
			Ratio:     ratio(completed, total),
		}
		p.Pad.Completed += min(completed, max(total, 0))
		p.Pad.Total += max(total, 0)
	}
	p.Pad.Ratio = ratio(p.Pad.Completed, p.Pad.Total)

	orphans := make([]string, 0)
	for well := range stages {
		if !job.HasWell(well) {
			orphans = append(orphans, well)
		}
	}
	sort.Strings(orphans)
	for _, well := range orphans {
		w := orphanWarning(job.ID, well, 0)
		w.Message = "stages recorded for well " + well + " which is not declared on the job"
		p.Warnings = append(p.Warnings, w)
	}
	return p
}

func ratio(completed, total int) float64 {
	if total <= 0 {
		return 0
	}
	r := float64(completed) / float64(total)
	switch {
	case r < 0:
		return 0
	case r > 1:
		return 1
	}
	return r
}
