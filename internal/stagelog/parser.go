package stagelog

import (
	"context"
	"fmt"
	"io"
	"iter"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"kpiledger/pkg/contracts/domain"
)

// DefaultSheetName is the worksheet operators fill in.
const DefaultSheetName = "KPI"

// DefaultDurationTolerance is how far a supplied duration may drift from the
// timestamps, in hours, before the row is flagged.
const DefaultDurationTolerance = 0.02

// Excel serial bounds accepted as dates: 1970-01-01 up to 9999-12-31. Smaller
// numbers are far more likely a mistyped year or stage than a real timestamp.
const (
	minDateSerial = 25569
	maxDateSerial = 2958465
)

// Normalized header names.
const (
	ColumnStage     = "stage"
	ColumnStartTime = "start time"
	ColumnEndTime   = "end time"
	ColumnDuration  = "stage duration (hr)"
	ColumnWell      = "well"
)

// RequiredColumns must all be present in the header row.
var RequiredColumns = []string{ColumnStage, ColumnStartTime, ColumnEndTime}

// headerAliases maps alternative spellings to the normalized column name.
var headerAliases = map[string]string{
	"stage #":  ColumnStage,
	"stage no": ColumnStage,
}

// timestampLayouts are tried in order for text cells.
var timestampLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"01/02/2006 15:04:05",
	"01/02/2006 15:04",
	"1/2/2006 15:04:05",
	"1/2/2006 15:04",
	"1/2/06 15:04",
	"2006-01-02",
}

// ParseOptions configures a parse pass.
type ParseOptions struct {
	// SheetName defaults to DefaultSheetName.
	SheetName string
	// Well is assigned to rows that carry no well column value.
	Well string
	// DurationTolerance defaults to DefaultDurationTolerance when nil. Zero
	// requires supplied durations to match the timestamps exactly.
	DurationTolerance *float64
}

func (o ParseOptions) withDefaults() ParseOptions {
	if strings.TrimSpace(o.SheetName) == "" {
		o.SheetName = DefaultSheetName
	}
	if o.DurationTolerance == nil || *o.DurationTolerance < 0 {
		tolerance := DefaultDurationTolerance
		o.DurationTolerance = &tolerance
	}
	return o
}

// RowResult is the outcome of one data row: either Record is valid or Err is set.
type RowResult struct {
	Row     int                `json:"row"`
	Record  domain.StageRecord `json:"record"`
	Err     *RowError          `json:"error,omitempty"`
	Anomaly *ParseAnomaly      `json:"anomaly,omitempty"`
}

// OK reports whether the row produced a record.
func (r RowResult) OK() bool {
	return r.Err == nil
}

// Rows is a single-pass iterator over the data rows of a KPI sheet.
type Rows struct {
	file     *excelize.File
	rows     *excelize.Rows
	opts     ParseOptions
	columns  map[string]int
	date1904 bool

	rowNum  int
	current RowResult
	err     error
	closed  bool
}

// Parse opens the workbook and validates the header. Missing sheets or
// required columns fail fast with a *SchemaError before any row is read.
func Parse(r io.Reader, opts ParseOptions) (*Rows, error) {
	opts = opts.withDefaults()

	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, &SchemaError{Sheet: opts.SheetName, Cause: err}
	}

	sheet, ok := findSheet(f, opts.SheetName)
	if !ok {
		f.Close()
		return nil, &SchemaError{Sheet: opts.SheetName, SheetMissing: true}
	}

	xr, err := f.Rows(sheet)
	if err != nil {
		f.Close()
		return nil, &SchemaError{Sheet: opts.SheetName, Cause: err}
	}

	rows := &Rows{file: f, rows: xr, opts: opts}
	if props, err := f.GetWorkbookProps(); err == nil && props.Date1904 != nil {
		rows.date1904 = *props.Date1904
	}

	if err := rows.readHeader(); err != nil {
		rows.Close()
		return nil, err
	}
	return rows, nil
}

func findSheet(f *excelize.File, name string) (string, bool) {
	want := strings.TrimSpace(name)
	for _, candidate := range f.GetSheetList() {
		if strings.EqualFold(strings.TrimSpace(candidate), want) {
			return candidate, true
		}
	}
	return "", false
}

// readHeader consumes rows up to and including the first non-blank one.
func (r *Rows) readHeader() error {
	for r.rows.Next() {
		r.rowNum++
		cells, err := r.rows.Columns()
		if err != nil {
			return &SchemaError{Sheet: r.opts.SheetName, Cause: err}
		}
		if isBlank(cells) {
			continue
		}
		r.columns = mapColumns(cells)
		if missing := missingColumns(r.columns); len(missing) > 0 {
			return &SchemaError{Sheet: r.opts.SheetName, Missing: missing}
		}
		return nil
	}
	if err := r.rows.Error(); err != nil {
		return &SchemaError{Sheet: r.opts.SheetName, Cause: err}
	}
	return &SchemaError{Sheet: r.opts.SheetName, Missing: append([]string(nil), RequiredColumns...)}
}

func normalizeHeader(h string) string {
	n := strings.ToLower(strings.Join(strings.Fields(h), " "))
	if alias, ok := headerAliases[n]; ok {
		return alias
	}
	return n
}

func mapColumns(header []string) map[string]int {
	cols := make(map[string]int, len(header))
	for i, h := range header {
		name := normalizeHeader(h)
		if name == "" {
			continue
		}
		if _, dup := cols[name]; !dup {
			cols[name] = i
		}
	}
	return cols
}

func missingColumns(cols map[string]int) []string {
	var missing []string
	for _, name := range RequiredColumns {
		if _, ok := cols[name]; !ok {
			missing = append(missing, name)
		}
	}
	return missing
}

func isBlank(cells []string) bool {
	for _, c := range cells {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

// Next advances to the next non-blank data row.
func (r *Rows) Next() bool {
	if r.closed || r.err != nil {
		return false
	}
	for r.rows.Next() {
		r.rowNum++
		cells, err := r.rows.Columns(excelize.Options{RawCellValue: true})
		if err != nil {
			r.err = fmt.Errorf("failed to read row %d: %w", r.rowNum, err)
			return false
		}
		if isBlank(cells) {
			continue
		}
		r.current = r.parseRow(r.rowNum, cells)
		return true
	}
	if err := r.rows.Error(); err != nil {
		r.err = fmt.Errorf("failed to iterate sheet %q: %w", r.opts.SheetName, err)
	}
	return false
}

// Result returns the row produced by the last successful Next.
func (r *Rows) Result() RowResult {
	return r.current
}

// Err returns the first read error. Row-level failures are not read errors.
func (r *Rows) Err() error {
	return r.err
}

// Close releases the workbook. Safe to call more than once.
func (r *Rows) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true
	var errs []error
	if r.rows != nil {
		if err := r.rows.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := r.file.Close(); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return fmt.Errorf("failed to close workbook: %v", errs)
	}
	return nil
}

// All adapts the iterator to a range-over-func sequence. Like Rows itself it
// can only be consumed once.
func (r *Rows) All() iter.Seq[RowResult] {
	return func(yield func(RowResult) bool) {
		for r.Next() {
			if !yield(r.Result()) {
				return
			}
		}
	}
}

func (r *Rows) cell(cells []string, column string) (string, bool) {
	idx, ok := r.columns[column]
	if !ok {
		return "", false
	}
	if idx >= len(cells) {
		return "", true
	}
	return strings.TrimSpace(cells[idx]), true
}

func (r *Rows) parseRow(rowNum int, cells []string) RowResult {
	res := RowResult{Row: rowNum}
	fail := func(kind RowErrorKind, column, value, reason string) RowResult {
		res.Err = &RowError{Row: rowNum, Kind: kind, Column: column, Value: value, Reason: reason}
		return res
	}

	well := r.opts.Well
	if v, ok := r.cell(cells, ColumnWell); ok && v != "" {
		if err := ValidateName(v); err != nil {
			return fail(InvalidWell, ColumnWell, v, err.Error())
		}
		well = v
	}
	if strings.TrimSpace(well) == "" {
		return fail(MissingWell, ColumnWell, "", "no well given for row")
	}

	rawStage, _ := r.cell(cells, ColumnStage)
	stage, err := parseStage(rawStage)
	if err != nil {
		return fail(InvalidStage, ColumnStage, rawStage, err.Error())
	}

	rawStart, _ := r.cell(cells, ColumnStartTime)
	start, err := r.parseTimestamp(rawStart)
	if err != nil {
		return fail(InvalidTimestamp, ColumnStartTime, rawStart, fmt.Sprintf("start time: %v", err))
	}
	rawEnd, _ := r.cell(cells, ColumnEndTime)
	end, err := r.parseTimestamp(rawEnd)
	if err != nil {
		return fail(InvalidTimestamp, ColumnEndTime, rawEnd, fmt.Sprintf("end time: %v", err))
	}
	if !end.After(start) {
		return fail(NonPositiveDuration, ColumnEndTime, rawEnd,
			fmt.Sprintf("end %s is not after start %s", end.Format(time.DateTime), start.Format(time.DateTime)))
	}

	computed := end.Sub(start).Hours()
	res.Record = domain.StageRecord{
		Well:          well,
		Stage:         stage,
		Start:         start,
		End:           end,
		DurationHours: computed,
	}

	if raw, ok := r.cell(cells, ColumnDuration); ok && raw != "" {
		supplied, err := strconv.ParseFloat(raw, 64)
		switch {
		case err != nil:
			res.Anomaly = &ParseAnomaly{Row: rowNum, Stage: stage, Computed: computed,
				Reason: fmt.Sprintf("duration %q is not a number, using timestamps", raw)}
		case supplied < 0 || math.Abs(supplied-computed) > *r.opts.DurationTolerance:
			res.Anomaly = &ParseAnomaly{Row: rowNum, Stage: stage, Supplied: supplied, Computed: computed,
				Reason: fmt.Sprintf("duration %.2fh disagrees with timestamps (%.2fh)", supplied, computed)}
		}
	}
	return res
}

func parseStage(raw string) (int, error) {
	if raw == "" {
		return 0, fmt.Errorf("stage is empty")
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("stage %q is not a number", raw)
	}
	if f != math.Trunc(f) || f < 1 || f > math.MaxInt32 {
		return 0, fmt.Errorf("stage %q is not a positive integer", raw)
	}
	return int(f), nil
}

func (r *Rows) parseTimestamp(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, fmt.Errorf("value is empty")
	}
	if serial, err := strconv.ParseFloat(raw, 64); err == nil {
		if serial < minDateSerial || serial > maxDateSerial {
			return time.Time{}, fmt.Errorf("%q is not a valid date", raw)
		}
		t, err := excelize.ExcelDateToTime(serial, r.date1904)
		if err != nil {
			return time.Time{}, fmt.Errorf("%q is not a valid date: %w", raw, err)
		}
		return t.Round(time.Second), nil
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.Round(time.Second), nil
		}
	}
	return time.Time{}, fmt.Errorf("%q is not a recognized timestamp", raw)
}

// Batch is a fully drained parse pass.
type Batch struct {
	Records   []domain.StageRecord `json:"-"`
	RowErrors []RowError           `json:"row_errors"`
	Anomalies []ParseAnomaly       `json:"anomalies"`
	Rows      int                  `json:"rows"`
}

// Collect drains rows into a Batch and closes them. A cancelled context stops
// the pass and discards everything read so far.
func Collect(ctx context.Context, rows *Rows) (Batch, error) {
	defer rows.Close()

	var batch Batch
	for res := range rows.All() {
		if err := ctx.Err(); err != nil {
			return Batch{}, err
		}
		batch.Rows++
		if res.Err != nil {
			batch.RowErrors = append(batch.RowErrors, *res.Err)
			continue
		}
		batch.Records = append(batch.Records, res.Record)
		if res.Anomaly != nil {
			batch.Anomalies = append(batch.Anomalies, *res.Anomaly)
		}
	}
	if err := rows.Err(); err != nil {
		return Batch{}, err
	}
	return batch, nil
}

// ParseBatch is Parse followed by Collect.
func ParseBatch(ctx context.Context, r io.Reader, opts ParseOptions) (Batch, error) {
	rows, err := Parse(r, opts)
	if err != nil {
		return Batch{}, err
	}
	return Collect(ctx, rows)
}
