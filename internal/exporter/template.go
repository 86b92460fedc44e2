package exporter

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/xuri/excelize/v2"
)

// TemplateHeader is the header row of an upload-ready KPI sheet
var TemplateHeader = []string{"Stage", "Start Time", "End Time", "Stage Duration (hr)"}

const (
	defaultTemplateSheet = "KPI"
	templateTimeFormat   = "yyyy-mm-dd hh:mm"
)

// TemplateOptions shapes an empty KPI workbook
type TemplateOptions struct {
	SheetName string
	// Well adds a Well column pre-filled on every numbered row
	Well string
	// Stages pre-numbers that many stage rows
	Stages int
}

// WriteTemplate writes an xlsx workbook with the KPI header row and,
// optionally, numbered stage rows to fill in.
func WriteTemplate(w io.Writer, opts TemplateOptions) error {
	f, err := buildTemplate(opts)
	if err != nil {
		return err
	}
	defer f.Close()

	if err := f.Write(w); err != nil {
		return fmt.Errorf("write template: %w", err)
	}
	return nil
}

// WriteTemplateFile writes the template to path, creating parent directories
func WriteTemplateFile(path string, opts TemplateOptions) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create directory for %s: %w", path, err)
	}

	f, err := buildTemplate(opts)
	if err != nil {
		return err
	}
	defer f.Close()

	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("save template %s: %w", path, err)
	}
	return nil
}

func buildTemplate(opts TemplateOptions) (*excelize.File, error) {
	sheet := opts.SheetName
	if sheet == "" {
		sheet = defaultTemplateSheet
	}
	if opts.Stages < 0 {
		return nil, fmt.Errorf("stage count must not be negative, got %d", opts.Stages)
	}

	header := make([]any, 0, len(TemplateHeader)+1)
	for _, h := range TemplateHeader {
		header = append(header, h)
	}
	if opts.Well != "" {
		header = append(header, "Well")
	}
	lastCol, err := excelize.ColumnNumberToName(len(header))
	if err != nil {
		return nil, err
	}

	f := excelize.NewFile()
	if err := f.SetSheetName("Sheet1", sheet); err != nil {
		f.Close()
		return nil, fmt.Errorf("name sheet %q: %w", sheet, err)
	}

	if err := writeTemplateRows(f, sheet, header, lastCol, opts); err != nil {
		f.Close()
		return nil, err
	}
	return f, nil
}

func writeTemplateRows(f *excelize.File, sheet string, header []any, lastCol string, opts TemplateOptions) error {
	if err := f.SetSheetRow(sheet, "A1", &header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}

	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return err
	}
	if err := f.SetCellStyle(sheet, "A1", lastCol+"1", bold); err != nil {
		return err
	}
	if err := f.SetColWidth(sheet, "A", lastCol, 20); err != nil {
		return err
	}
	if err := f.SetPanes(sheet, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	}); err != nil {
		return err
	}

	if opts.Stages == 0 {
		return nil
	}

	for stage := 1; stage <= opts.Stages; stage++ {
		row := stage + 1
		if err := f.SetCellValue(sheet, fmt.Sprintf("A%d", row), stage); err != nil {
			return fmt.Errorf("write stage %d: %w", stage, err)
		}
		if opts.Well != "" {
			if err := f.SetCellStr(sheet, fmt.Sprintf("%s%d", lastCol, row), opts.Well); err != nil {
				return fmt.Errorf("write stage %d: %w", stage, err)
			}
		}
	}

	format := templateTimeFormat
	timeStyle, err := f.NewStyle(&excelize.Style{CustomNumFmt: &format})
	if err != nil {
		return err
	}
	return f.SetCellStyle(sheet, "B2", fmt.Sprintf("C%d", opts.Stages+1), timeStyle)
}
