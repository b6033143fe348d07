package datanorm

import (
	"sort"
	"strings"

	"github.com/olivestudio/leadrecon/internal/table"
)

// joinSep separates collapsed text values.
const joinSep = ", "

// Merge unions the report tables and collapses them to one row per phone
// key. Returns nil when there is nothing to merge.
//
// Each column is collapsed by its runtime kind over the unioned table:
// text columns join the sorted distinct non-null values, date columns take
// the earliest date, anything else takes the first non-null value in input
// order.
func Merge(tables []*table.Table, schema Schema) *table.Table {
	var inputs []*table.Table
	for _, t := range tables {
		if t != nil {
			inputs = append(inputs, t)
		}
	}
	if len(inputs) == 0 {
		return nil
	}

	long := table.Concat(inputs...)
	if ci := long.Index(schema.CreatedAt); ci >= 0 {
		for _, row := range long.Rows {
			row[ci] = parseDateCell(row[ci])
		}
	}

	pi := long.Index(schema.Phone)
	groups := make(map[string][]int)
	var keys []string
	for r, row := range long.Rows {
		var key string
		if pi >= 0 {
			key = NormalizeKey(row[pi])
		}
		if _, ok := groups[key]; !ok {
			keys = append(keys, key)
		}
		groups[key] = append(groups[key], r)
	}
	sort.Strings(keys)

	kinds := make([]table.Kind, len(long.Columns))
	for c, col := range long.Columns {
		kinds[c] = long.ColumnKind(col)
	}

	cols := []string{KeyColumn}
	for _, c := range long.Columns {
		if c != KeyColumn {
			cols = append(cols, c)
		}
	}
	out := table.New(cols...)
	out.Rows = make([][]table.Value, 0, len(keys))

	for _, key := range keys {
		members := groups[key]
		row := make([]table.Value, 0, len(cols))
		row = append(row, table.Text(key))
		for c, col := range long.Columns {
			if col == KeyColumn {
				continue
			}
			row = append(row, collapse(long, members, c, kinds[c]))
		}
		out.Rows = append(out.Rows, row)
	}
	return out
}

func collapse(t *table.Table, members []int, c int, kind table.Kind) table.Value {
	var present []table.Value
	for _, r := range members {
		if v := t.Rows[r][c]; !v.IsNull() {
			present = append(present, v)
		}
	}
	if len(present) == 0 {
		return table.Null
	}

	switch kind {
	case table.KindText:
		return table.Text(JoinDistinct(present))
	case table.KindDate:
		earliest := present[0]
		for _, v := range present[1:] {
			if v.Kind == table.KindDate && (earliest.Kind != table.KindDate || v.Time.Before(earliest.Time)) {
				earliest = v
			}
		}
		return earliest
	default:
		return present[0]
	}
}

// JoinDistinct stringifies, deduplicates and sorts values, joined by ", ".
func JoinDistinct(values []table.Value) string {
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		set[v.String()] = struct{}{}
	}
	uniq := make([]string, 0, len(set))
	for s := range set {
		uniq = append(uniq, s)
	}
	sort.Strings(uniq)
	return strings.Join(uniq, joinSep)
}
