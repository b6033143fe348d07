// Package table is a small schema-free table used by the reconciliation
// pipeline. Report exports do not share a schema, so every cell carries its
// own runtime kind and columns are typed by probing their values.
package table

import (
	"math"
	"strconv"
	"time"
)

// Kind is the runtime type tag of a cell.
type Kind int

const (
	KindNull Kind = iota
	KindText
	KindDate
	KindNumber
)

func (k Kind) String() string {
	switch k {
	case KindText:
		return "text"
	case KindDate:
		return "date"
	case KindNumber:
		return "number"
	default:
		return "null"
	}
}

// DateLayout is the day/month/year layout used by the source exports and by
// every textual date this package writes.
const DateLayout = "02/01/2006"

// parseLayout accepts one or two digit days and months.
const parseLayout = "2/1/2006"

// Value is one tagged cell.
type Value struct {
	Kind Kind
	Text string
	Time time.Time
	Num  float64
}

// Null is the empty cell.
var Null = Value{}

func Text(s string) Value        { return Value{Kind: KindText, Text: s} }
func Date(t time.Time) Value     { return Value{Kind: KindDate, Time: t} }
func Number(f float64) Value     { return Value{Kind: KindNumber, Num: f} }
func (v Value) IsNull() bool     { return v.Kind == KindNull }
func (v Value) Is(s string) bool { return v.Kind == KindText && v.Text == s }
func (v Value) IsNaN() bool {
	return v.Kind == KindNumber && (math.IsNaN(v.Num) || math.IsInf(v.Num, 0))
}

// String stringifies a value. Numbers use the shortest representation, so an
// integral phone number never picks up a ".0" suffix.
func (v Value) String() string {
	switch v.Kind {
	case KindText:
		return v.Text
	case KindDate:
		return v.Time.Format(DateLayout)
	case KindNumber:
		return strconv.FormatFloat(v.Num, 'f', -1, 64)
	default:
		return ""
	}
}

// Float returns the numeric reading of a value. Text is parsed; anything
// else that is not a number reports false.
func (v Value) Float() (float64, bool) {
	switch v.Kind {
	case KindNumber:
		return v.Num, true
	case KindText:
		f, err := strconv.ParseFloat(v.Text, 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

// ParseDayMonthYear parses a d/m/yyyy string. Invalid input yields Null.
func ParseDayMonthYear(s string) Value {
	t, err := time.Parse(parseLayout, s)
	if err != nil {
		return Null
	}
	return Date(t)
}

// Table is an ordered set of named columns over rows of tagged values.
// Every row has exactly len(Columns) cells.
type Table struct {
	Columns []string
	Rows    [][]Value
}

// New returns an empty table with the given columns.
func New(columns ...string) *Table {
	return &Table{Columns: append([]string(nil), columns...)}
}

func (t *Table) Len() int { return len(t.Rows) }

// Index returns the position of a column or -1.
func (t *Table) Index(col string) int {
	for i, c := range t.Columns {
		if c == col {
			return i
		}
	}
	return -1
}

func (t *Table) Has(col string) bool { return t.Index(col) >= 0 }

// Get returns the cell of row r in column col, Null when the column is absent.
func (t *Table) Get(r int, col string) Value {
	i := t.Index(col)
	if i < 0 {
		return Null
	}
	return t.Rows[r][i]
}

// Set writes a cell, adding the column when it does not exist yet.
func (t *Table) Set(r int, col string, v Value) {
	i := t.Index(col)
	if i < 0 {
		i = t.AddColumn(col)
	}
	t.Rows[r][i] = v
}

// AddRow appends a row, padding or truncating it to the column count.
func (t *Table) AddRow(cells []Value) {
	row := make([]Value, len(t.Columns))
	copy(row, cells)
	t.Rows = append(t.Rows, row)
}

// AddColumn appends a null column and returns its index. Existing columns are
// left untouched.
func (t *Table) AddColumn(col string) int {
	if i := t.Index(col); i >= 0 {
		return i
	}
	t.Columns = append(t.Columns, col)
	for r := range t.Rows {
		t.Rows[r] = append(t.Rows[r], Null)
	}
	return len(t.Columns) - 1
}

// Fill sets every cell of a column to v.
func (t *Table) Fill(col string, v Value) {
	i := t.AddColumn(col)
	for r := range t.Rows {
		t.Rows[r][i] = v
	}
}

// DropColumn removes a column if present.
func (t *Table) DropColumn(col string) {
	i := t.Index(col)
	if i < 0 {
		return
	}
	t.Columns = append(t.Columns[:i:i], t.Columns[i+1:]...)
	for r, row := range t.Rows {
		t.Rows[r] = append(row[:i:i], row[i+1:]...)
	}
}

// Column returns a copy of all cells of a column, all Null when absent.
func (t *Table) Column(col string) []Value {
	out := make([]Value, len(t.Rows))
	i := t.Index(col)
	if i < 0 {
		return out
	}
	for r, row := range t.Rows {
		out[r] = row[i]
	}
	return out
}

// ColumnKind probes the runtime kind of a column: Text wins over Date, Date
// over Number. A column with only nulls (or absent) is KindNull.
func (t *Table) ColumnKind(col string) Kind {
	i := t.Index(col)
	if i < 0 {
		return KindNull
	}
	seen := map[Kind]bool{}
	for _, row := range t.Rows {
		seen[row[i].Kind] = true
	}
	switch {
	case seen[KindText]:
		return KindText
	case seen[KindDate]:
		return KindDate
	case seen[KindNumber]:
		return KindNumber
	default:
		return KindNull
	}
}

// Clone returns a deep copy.
func (t *Table) Clone() *Table {
	c := New(t.Columns...)
	c.Rows = make([][]Value, len(t.Rows))
	for r, row := range t.Rows {
		c.Rows[r] = append([]Value(nil), row...)
	}
	return c
}

// Append unions another table into t. Columns missing on either side are
// null-filled; new columns are appended in the order they are met.
func (t *Table) Append(o *Table) {
	idx := make([]int, len(o.Columns))
	for i, c := range o.Columns {
		idx[i] = t.AddColumn(c)
	}
	for _, src := range o.Rows {
		row := make([]Value, len(t.Columns))
		for i, v := range src {
			row[idx[i]] = v
		}
		t.Rows = append(t.Rows, row)
	}
}

// Concat unions tables in order.
func Concat(tables ...*Table) *Table {
	out := New()
	for _, t := range tables {
		if t != nil {
			out.Append(t)
		}
	}
	return out
}

// Select returns a new table with exactly the given columns in that order.
// Absent columns come back null.
func (t *Table) Select(cols []string) *Table {
	out := New(cols...)
	idx := make([]int, len(cols))
	for i, c := range cols {
		idx[i] = t.Index(c)
	}
	out.Rows = make([][]Value, len(t.Rows))
	for r, row := range t.Rows {
		nr := make([]Value, len(cols))
		for i, j := range idx {
			if j >= 0 {
				nr[i] = row[j]
			}
		}
		out.Rows[r] = nr
	}
	return out
}
