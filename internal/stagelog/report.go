package stagelog

import (
	"fmt"
	"strings"

	"kpiledger/pkg/contracts/domain"
)

// Outcome is the classification of one stage key during a merge.
type Outcome string

const (
	OutcomeInsert    Outcome = "insert"
	OutcomeOverwrite Outcome = "overwrite"
	OutcomeNoOp      Outcome = "noop"
)

// MergeReport tells the caller exactly what an upload changed.
type MergeReport struct {
	UploadID    string                      `json:"upload_id"`
	JobID       string                      `json:"job_id"`
	Well        string                      `json:"well"`
	Inserted    int                         `json:"inserted"`
	Overwritten int                         `json:"overwritten"`
	NoOps       int                         `json:"noops"`
	Superseded  int                         `json:"superseded,omitempty"`
	Outcomes    map[domain.StageKey]Outcome `json:"outcomes"`
	RowErrors   []RowError                  `json:"row_errors"`
	Anomalies   []ParseAnomaly              `json:"anomalies,omitempty"`
	Warnings    []DataIntegrityWarning      `json:"warnings,omitempty"`
}

// Merged is the number of distinct stages accepted from the upload.
func (m *MergeReport) Merged() int {
	return m.Inserted + m.Overwritten + m.NoOps
}

// Changed reports whether the upload modified the stage log.
func (m *MergeReport) Changed() bool {
	return m.Inserted+m.Overwritten > 0
}

// Summary renders a one-line message for the operator, listing at most
// maxErrors row failures.
func (m *MergeReport) Summary(maxErrors int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "uploaded %d stages for well %s (%d inserted, %d overwritten, %d unchanged)",
		m.Merged(), m.Well, m.Inserted, m.Overwritten, m.NoOps)
	if n := len(m.RowErrors); n > 0 {
		fmt.Fprintf(&b, ", skipped %d malformed rows", n)
		shown := m.RowErrors
		if maxErrors >= 0 && len(shown) > maxErrors {
			shown = shown[:maxErrors]
		}
		if len(shown) > 0 {
			reasons := make([]string, len(shown))
			for i := range shown {
				reasons[i] = shown[i].Error()
			}
			b.WriteString(": ")
			b.WriteString(strings.Join(reasons, "; "))
			if len(shown) < n {
				fmt.Fprintf(&b, "; and %d more", n-len(shown))
			}
		}
	}
	if n := len(m.Warnings); n > 0 {
		fmt.Fprintf(&b, " (%d data integrity warnings)", n)
	}
	return b.String()
}
