package datanorm

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/olivestudio/leadrecon/internal/table"
)

func TestPipelineEmptyDir(t *testing.T) {
	p := NewPipeline(Options{})
	_, err := p.Run(context.Background(), t.TempDir(), nil)
	assert.True(t, errors.Is(err, ErrNoReports))
}

func TestPipelineRun(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "all-leads-report.csv",
		"טלפון,נוצר בתאריך,מקור,סטטוס,גיל,חברות\n"+
			"050-1234567,05/01/2024,Website,פעיל,10,Gold\n"+
			"052-7654321,03/01/2024,ללא מקור,סומן כאבוד,30,\n")
	writeFile(t, dir, "active-members-report.csv",
		"טלפון,נוצר בתאריך,מקור,מנוי\n"+
			"1234567,01/01/2024,Instagram,Silver\n")
	writeFile(t, dir, "trial-classes-report.csv",
		"טלפון,תאריך\n0501234567,10/01/2024\n")

	var stages []Stage
	p := NewPipeline(Options{})
	res, err := p.Run(context.Background(), dir, func(s Stage, _ int) { stages = append(stages, s) })
	require.NoError(t, err)
	assert.Equal(t, []Stage{StageLoad, StageMerge, StageReconcile}, stages)

	s := p.Schema()
	out := res.Table
	require.Equal(t, 2, out.Len())
	assert.False(t, out.Has(s.Memberships))
	assert.Len(t, res.Reports, 3)
	assert.True(t, res.TrialKeys["234567"])

	rows := map[string]int{}
	for i, v := range out.Column(KeyColumn) {
		rows[v.Text] = i
	}
	a, b := rows["234567"], rows["654321"]

	assert.Equal(t, table.Date(day(2024, 1, 1)), out.Get(a, s.CreatedAt))
	assert.Equal(t, "instagram, whatsapp", out.Get(a, s.Source).Text)
	assert.Equal(t, "Gold, Silver", out.Get(a, s.Subscription).Text)
	assert.Equal(t, table.Number(20), out.Get(a, s.Age))
	assert.Equal(t, "כן", out.Get(a, s.Relevant).Text)
	assert.Equal(t, "V", out.Get(a, s.DidTrial).Text)

	assert.Equal(t, "ללא מקור", out.Get(b, s.Source).Text)
	assert.Equal(t, "לא", out.Get(b, s.Relevant).Text)
	assert.Equal(t, "", out.Get(b, s.DidTrial).Text)
}

func TestResultDescribe(t *testing.T) {
	var r *Result
	assert.Equal(t, "no data", r.Describe())

	tbl := table.New("x")
	tbl.AddRow([]table.Value{table.Text("1")})
	r = &Result{Table: tbl, Reports: make([]Report, 2)}
	assert.Equal(t, "1 records from 2 reports", r.Describe())
}
