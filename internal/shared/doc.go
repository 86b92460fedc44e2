// Package shared holds code reused across kpiledger packages that belongs to
// no single layer.
//
// The testutil subpackage provides:
//
//   - BufferedSlogHandler, a slog.Handler that captures records for assertions
//   - workbook builders that produce KPI xlsx uploads in memory
//   - job fixtures with declared wells
//
// Example usage:
//
//	func TestUpload(t *testing.T) {
//	    logger, logs := testutil.NewTestLogger(t)
//	    body := testutil.KPIWorkbook(t,
//	        []any{1, "2024-01-01 00:00", "2024-01-01 02:00", 2.0},
//	    )
//	    ...
//	    testutil.AssertLogContains(t, logs, slog.LevelInfo, "upload merged")
//	}
//
// Nothing here may import a kpiledger package other than pkg/contracts.
package shared
