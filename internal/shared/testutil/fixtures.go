package testutil

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"kpiledger/pkg/contracts/domain"
)

// KPIHeader is the header row of a well-formed KPI sheet.
var KPIHeader = []any{"Stage", "Start Time", "End Time", "Stage Duration (hr)"}

// Workbook builds an xlsx with a single sheet holding rows. Nil cells are
// left empty.
func Workbook(t testing.TB, sheet string, rows ...[]any) []byte {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()

	require.NoError(t, f.SetSheetName("Sheet1", sheet))
	for r, row := range rows {
		for c, v := range row {
			if v == nil {
				continue
			}
			cell, err := excelize.CoordinatesToCellName(c+1, r+1)
			require.NoError(t, err)
			require.NoError(t, f.SetCellValue(sheet, cell, v))
		}
	}

	buf, err := f.WriteToBuffer()
	require.NoError(t, err)
	return buf.Bytes()
}

// KPIWorkbook builds a "KPI" sheet with the standard header followed by rows.
func KPIWorkbook(t testing.TB, rows ...[]any) []byte {
	t.Helper()
	return Workbook(t, "KPI", append([][]any{KPIHeader}, rows...)...)
}

// Time parses "2006-01-02T15:04" in UTC and panics on malformed input.
func Time(s string) time.Time {
	v, err := time.Parse("2006-01-02T15:04", s)
	if err != nil {
		panic(err)
	}
	return v
}

// PadJob returns a job declaring wells A1 (3 stages) and A2 (2 stages).
func PadJob(id string) *domain.Job {
	created := Time("2024-01-01T00:00")
	return &domain.Job{
		ID:        id,
		Operator:  "Acme Energy",
		Pad:       "North Pad",
		Wells:     map[string]int{"A1": 3, "A2": 2},
		StageLog:  domain.StageLog{},
		CreatedAt: created,
		UpdatedAt: created,
	}
}
