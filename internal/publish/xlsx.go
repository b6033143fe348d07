package publish

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/xuri/excelize/v2"

	"github.com/olivestudio/leadrecon/internal/table"
)

// DefaultSheetName names the worksheet of exported workbooks.
const DefaultSheetName = "לידים"

// WriteXLSX writes the prepared grid of t as a right-to-left workbook with
// a formatted, filterable header row.
func WriteXLSX(w io.Writer, t *table.Table, sortCol, sheet string) error {
	if sheet == "" {
		sheet = DefaultSheetName
	}
	grid := Prepare(t, sortCol)

	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", sheet); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}
	rtl := true
	if err := f.SetSheetView(sheet, 0, &excelize.ViewOptions{RightToLeft: &rtl}); err != nil {
		return fmt.Errorf("set sheet view: %w", err)
	}

	for r, row := range grid {
		cell, err := excelize.CoordinatesToCellName(1, r+1)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return fmt.Errorf("write row %d: %w", r+1, err)
		}
	}

	if len(grid) > 0 && len(grid[0]) > 0 {
		last, err := excelize.CoordinatesToCellName(len(grid[0]), 1)
		if err != nil {
			return err
		}
		style, err := f.NewStyle(&excelize.Style{
			Font:      &excelize.Font{Bold: true, Size: 12, Color: "FFFFFF"},
			Fill:      excelize.Fill{Type: "pattern", Color: []string{"000080"}, Pattern: 1},
			Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center"},
		})
		if err != nil {
			return fmt.Errorf("header style: %w", err)
		}
		if err := f.SetCellStyle(sheet, "A1", last, style); err != nil {
			return fmt.Errorf("apply header style: %w", err)
		}
		end, err := excelize.CoordinatesToCellName(len(grid[0]), len(grid))
		if err != nil {
			return err
		}
		if err := f.AutoFilter(sheet, "A1:"+end, nil); err != nil {
			return fmt.Errorf("auto filter: %w", err)
		}
	}

	return f.Write(w)
}

// XLSXPublisher writes the table to a workbook file on every publish.
type XLSXPublisher struct {
	Path       string
	SortColumn string
	Sheet      string
}

// Publish overwrites the workbook at p.Path.
func (p *XLSXPublisher) Publish(ctx context.Context, t *table.Table) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(p.Path), 0o755); err != nil {
		return fmt.Errorf("create export dir: %w", err)
	}
	f, err := os.Create(p.Path)
	if err != nil {
		return fmt.Errorf("create %s: %w", p.Path, err)
	}
	if err := WriteXLSX(f, t, p.SortColumn, p.Sheet); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
