package stagelog

import (
	"errors"
	"fmt"
	"strings"
)

// Store sentinel errors. JobStore implementations wrap or return these.
var (
	ErrJobNotFound      = errors.New("job not found")
	ErrJobExists        = errors.New("job already exists")
	ErrStoreUnavailable = errors.New("store unavailable")
)

// SchemaError reports a workbook that does not satisfy the column contract.
// The whole upload fails and nothing is written.
type SchemaError struct {
	Sheet        string   `json:"sheet"`
	SheetMissing bool     `json:"sheet_missing,omitempty"`
	Missing      []string `json:"missing_columns,omitempty"`
	Cause        error    `json:"-"`
}

// Error implements the error interface
func (e *SchemaError) Error() string {
	switch {
	case e.Cause != nil:
		return fmt.Sprintf("schema error: cannot read workbook: %v", e.Cause)
	case e.SheetMissing:
		return fmt.Sprintf("schema error: sheet %q not found", e.Sheet)
	default:
		return fmt.Sprintf("schema error: sheet %q is missing required columns: %s",
			e.Sheet, strings.Join(e.Missing, ", "))
	}
}

// Unwrap returns the underlying cause, if any
func (e *SchemaError) Unwrap() error {
	return e.Cause
}

// RowErrorKind classifies a per-row parse failure.
type RowErrorKind string

const (
	InvalidStage        RowErrorKind = "invalid_stage"
	InvalidTimestamp    RowErrorKind = "invalid_timestamp"
	NonPositiveDuration RowErrorKind = "non_positive_duration"
	MissingWell         RowErrorKind = "missing_well"
	InvalidWell         RowErrorKind = "invalid_well"
)

// RowError is a single skipped row. Row is the 1-based sheet row number.
type RowError struct {
	Row    int          `json:"row"`
	Kind   RowErrorKind `json:"kind"`
	Column string       `json:"column,omitempty"`
	Value  string       `json:"value,omitempty"`
	Reason string       `json:"reason"`
}

// Error implements the error interface
func (e *RowError) Error() string {
	return fmt.Sprintf("row %d: %s", e.Row, e.Reason)
}

// ParseAnomaly flags a row that was accepted but looked suspicious, such as
// a supplied duration that disagrees with its timestamps.
type ParseAnomaly struct {
	Row      int     `json:"row"`
	Stage    int     `json:"stage"`
	Reason   string  `json:"reason"`
	Supplied float64 `json:"supplied_hr,omitempty"`
	Computed float64 `json:"computed_hr,omitempty"`
}

// ReconcileErrorKind classifies a failed merge.
type ReconcileErrorKind string

const (
	UnknownJobOrWell ReconcileErrorKind = "unknown_job_or_well"
	StoreUnavailable ReconcileErrorKind = "store_unavailable"
)

// ReconcileError aborts a merge. No stage was written.
type ReconcileError struct {
	Kind  ReconcileErrorKind
	JobID string
	Well  string
	Err   error
}

// Error implements the error interface
func (e *ReconcileError) Error() string {
	switch e.Kind {
	case UnknownJobOrWell:
		if e.Err != nil && errors.Is(e.Err, ErrJobNotFound) {
			return fmt.Sprintf("job %q not found", e.JobID)
		}
		return fmt.Sprintf("well %q is not declared on job %q", e.Well, e.JobID)
	default:
		return fmt.Sprintf("store unavailable while merging job %q: %v", e.JobID, e.Err)
	}
}

// Unwrap returns the underlying error
func (e *ReconcileError) Unwrap() error {
	return e.Err
}

// Retryable reports whether re-sending the same upload can succeed.
func (e *ReconcileError) Retryable() bool {
	return e.Kind == StoreUnavailable
}

// IsUnknownJobOrWell reports whether err is a ReconcileError of that kind.
func IsUnknownJobOrWell(err error) bool {
	var re *ReconcileError
	return errors.As(err, &re) && re.Kind == UnknownJobOrWell
}

// IsStoreUnavailable reports whether err is a ReconcileError of that kind.
func IsStoreUnavailable(err error) bool {
	var re *ReconcileError
	return errors.As(err, &re) && re.Kind == StoreUnavailable
}

// DataIntegrityWarning is recorded but never fatal.
type DataIntegrityWarning struct {
	Kind    string `json:"kind"`
	JobID   string `json:"job_id"`
	Well    string `json:"well"`
	Stage   int    `json:"stage,omitempty"`
	Message string `json:"message"`
}

// WarningOrphanedWell marks a stage whose well is not declared on its job.
const WarningOrphanedWell = "orphaned_well"

func orphanWarning(jobID, well string, stage int) DataIntegrityWarning {
	return DataIntegrityWarning{
		Kind:    WarningOrphanedWell,
		JobID:   jobID,
		Well:    well,
		Stage:   stage,
		Message: fmt.Sprintf("stage %d belongs to well %q which is not declared on job %q", stage, well, jobID),
	}
}
