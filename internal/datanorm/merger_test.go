package datanorm

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/olivestudio/leadrecon/internal/table"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestMergeCardinality(t *testing.T) {
	s := DefaultSchema()
	a := table.New(s.Phone, s.Status)
	a.AddRow([]table.Value{table.Text("050-1234567"), table.Text("פעיל")})
	a.AddRow([]table.Value{table.Text("052-7654321"), table.Text("פעיל")})
	b := table.New(s.Phone, s.Status)
	b.AddRow([]table.Value{table.Text("1234567"), table.Text("ליד")})
	b.AddRow([]table.Value{table.Text("0537654321"), table.Null})
	b.AddRow([]table.Value{table.Text("0549999999"), table.Null})

	out := Merge([]*table.Table{a, b}, s)
	require.NotNil(t, out)
	assert.Equal(t, 3, out.Len(), "5 rows over 3 distinct keys")
	assert.Equal(t, KeyColumn, out.Columns[0])

	keys := map[string]bool{}
	for _, v := range out.Column(KeyColumn) {
		assert.False(t, keys[v.Text], "key %q appears twice", v.Text)
		keys[v.Text] = true
	}
}

func TestMergeTextJoinsSortedDistinct(t *testing.T) {
	s := DefaultSchema()
	tbl := table.New(s.Phone, s.Status)
	for _, st := range []string{"a", "b", "a"} {
		tbl.AddRow([]table.Value{table.Text("0501111111"), table.Text(st)})
	}

	out := Merge([]*table.Table{tbl}, s)
	require.Equal(t, 1, out.Len())
	assert.Equal(t, table.Text("a, b"), out.Get(0, s.Status))
}

func TestMergeEarliestCreatedDate(t *testing.T) {
	s := DefaultSchema()
	tbl := table.New(s.Phone, s.CreatedAt)
	tbl.AddRow([]table.Value{table.Text("0501111111"), table.Text("05/01/2024")})
	tbl.AddRow([]table.Value{table.Text("0501111111"), table.Text("01/01/2024")})
	tbl.AddRow([]table.Value{table.Text("0501111111"), table.Text("not a date")})

	out := Merge([]*table.Table{tbl}, s)
	require.Equal(t, 1, out.Len())
	assert.Equal(t, table.Date(day(2024, 1, 1)), out.Get(0, s.CreatedAt))
}

func TestMergeScalarTakesFirstNonNull(t *testing.T) {
	s := DefaultSchema()
	tbl := table.New(s.Phone, s.Age)
	tbl.AddRow([]table.Value{table.Text("0501111111"), table.Null})
	tbl.AddRow([]table.Value{table.Text("0501111111"), table.Number(25)})
	tbl.AddRow([]table.Value{table.Text("0501111111"), table.Number(40)})
	tbl.AddRow([]table.Value{table.Text("0502222222"), table.Null})

	out := Merge([]*table.Table{tbl}, s)
	require.Equal(t, 2, out.Len())
	assert.Equal(t, table.Number(25), out.Get(0, s.Age))
	assert.True(t, out.Get(1, s.Age).IsNull())
}

func TestMergeMixedKindColumnIsText(t *testing.T) {
	s := DefaultSchema()
	a := table.New(s.Phone, "x")
	a.AddRow([]table.Value{table.Text("0501111111"), table.Number(7)})
	b := table.New(s.Phone, "x")
	b.AddRow([]table.Value{table.Text("0501111111"), table.Text("seven")})

	out := Merge([]*table.Table{a, b}, s)
	assert.Equal(t, table.Text("7, seven"), out.Get(0, "x"))
}

func TestMergeKeepsRepeatedHeaderColumns(t *testing.T) {
	s := DefaultSchema()
	tbl, err := table.ReadCSV(strings.NewReader("טלפון,הערה,הערה\n0501234567,first,second\n"))
	require.NoError(t, err)

	out := Merge([]*table.Table{tbl}, s)
	require.Equal(t, 1, out.Len())
	assert.Equal(t, table.Text("first"), out.Get(0, "הערה"))
	assert.Equal(t, table.Text("second"), out.Get(0, "הערה.1"))
}

func TestMergeNothing(t *testing.T) {
	assert.Nil(t, Merge(nil, DefaultSchema()))
	assert.Nil(t, Merge([]*table.Table{nil}, DefaultSchema()))
}

func TestProject(t *testing.T) {
	tbl := table.New("a", "b", "c")
	tbl.AddRow([]table.Value{table.Text("1"), table.Text("2"), table.Text("3")})

	out, ok := Project(tbl, []string{"c", "a", "b"})
	require.True(t, ok)
	assert.Equal(t, []string{"c", "a", "b"}, out.Columns)
	assert.Equal(t, []table.Value{table.Text("3"), table.Text("1"), table.Text("2")}, out.Rows[0])

	same, ok := Project(tbl, []string{"c", "missing"})
	assert.False(t, ok)
	assert.Same(t, tbl, same)

	sub, ok := Project(tbl, []string{"b"})
	require.True(t, ok)
	assert.Equal(t, []string{"b"}, sub.Columns)
}
