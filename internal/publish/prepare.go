// Package publish hands a reconciled table to its destinations: the shared
// Google spreadsheet and downloadable XLSX workbooks.
package publish

import (
	"context"
	"sort"

	"github.com/olivestudio/leadrecon/internal/table"
)

// Publisher delivers a reconciled table to an external destination.
type Publisher interface {
	Publish(ctx context.Context, t *table.Table) error
}

// Prepare converts a table into the row grid destinations expect: a header
// row followed by the data sorted by sortCol ascending (missing dates
// last). Dates become dd/mm/yyyy strings, numbers stay float64 and null,
// NaN or infinite cells become nil.
func Prepare(t *table.Table, sortCol string) [][]any {
	if t == nil {
		return nil
	}
	rows := make([][]table.Value, len(t.Rows))
	copy(rows, t.Rows)

	if si := t.Index(sortCol); si >= 0 {
		sort.SliceStable(rows, func(i, j int) bool {
			a, b := rows[i][si], rows[j][si]
			if a.Kind != table.KindDate || b.Kind != table.KindDate {
				return a.Kind == table.KindDate && b.Kind != table.KindDate
			}
			return a.Time.Before(b.Time)
		})
	}

	out := make([][]any, 0, len(rows)+1)
	header := make([]any, len(t.Columns))
	for i, c := range t.Columns {
		header[i] = c
	}
	out = append(out, header)
	for _, row := range rows {
		cells := make([]any, len(row))
		for i, v := range row {
			cells[i] = cellValue(v)
		}
		out = append(out, cells)
	}
	return out
}

func cellValue(v table.Value) any {
	switch v.Kind {
	case table.KindText:
		return v.Text
	case table.KindDate:
		return v.String()
	case table.KindNumber:
		if v.IsNaN() {
			return nil
		}
		return v.Num
	default:
		return nil
	}
}
