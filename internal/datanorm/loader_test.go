package datanorm

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/olivestudio/leadrecon/internal/table"
)

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	return p
}

func TestListReportsLexicalOrder(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "b.csv", "x\n1\n")
	writeFile(t, dir, "a.csv", "x\n1\n")
	writeFile(t, dir, "notes.txt", "ignored")
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub.csv"), 0o755))

	l := NewLoader(NewClassifier(nil, ""), DefaultSchema(), "")
	files, err := l.ListReports(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(dir, "a.csv"), filepath.Join(dir, "b.csv")}, files)
}

func TestListReportsMissingDir(t *testing.T) {
	l := NewLoader(NewClassifier(nil, ""), DefaultSchema(), "")
	_, err := l.ListReports(filepath.Join(t.TempDir(), "nope"))
	assert.Error(t, err)
}

func TestLoadFileStampsCategory(t *testing.T) {
	dir := t.TempDir()
	p := writeFile(t, dir, "active-members-report (2).csv", "טלפון,סטטוס\n0501234567,פעיל\n")

	s := DefaultSchema()
	l := NewLoader(NewClassifier(nil, ""), s, "")
	rep, err := l.LoadFile(p)
	require.NoError(t, err)
	assert.Equal(t, "לקוחות פעילים", rep.Classification.Label)
	assert.Equal(t, table.Text("לקוחות פעילים"), rep.Table.Get(0, s.SourceFile))
}

func TestLoadFileDedupesTrials(t *testing.T) {
	dir := t.TempDir()
	p := writeFile(t, dir, "trial-classes-report.csv",
		"טלפון,תאריך\n"+
			"050-1234567,01/02/2024\n"+
			"0501234567,15/03/2024\n"+
			"0527777777,garbage\n"+
			"0527777777,02/02/2024\n")

	s := DefaultSchema()
	l := NewLoader(NewClassifier(nil, ""), s, "")
	rep, err := l.LoadFile(p)
	require.NoError(t, err)
	require.Equal(t, 2, rep.Table.Len())

	byKey := map[string]table.Value{}
	for i := range rep.Table.Rows {
		byKey[NormalizeKey(rep.Table.Get(i, s.Phone))] = rep.Table.Get(i, s.TrialDate)
	}
	assert.Equal(t, table.Date(day(2024, 3, 15)), byKey["234567"])
	assert.Equal(t, table.Date(day(2024, 2, 2)), byKey["777777"], "dated row wins over unparsable one")
}

func TestLoadDirCollectsTrials(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "all-leads-report.csv", "טלפון\n0501234567\n")
	writeFile(t, dir, "trial-classes-report.csv", "טלפון,תאריך\n0501234567,01/01/2024\n")

	l := NewLoader(NewClassifier(nil, ""), DefaultSchema(), "")
	res, err := l.LoadDir(context.Background(), dir)
	require.NoError(t, err)
	assert.Len(t, res.Reports, 2)
	assert.Len(t, res.Trials, 1)
	assert.Len(t, res.Tables(), 2)
}

func TestLoadDirCancelled(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.csv", "x\n1\n")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	l := NewLoader(NewClassifier(nil, ""), DefaultSchema(), "")
	_, err := l.LoadDir(ctx, dir)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestLoadSupplemental(t *testing.T) {
	s := DefaultSchema()

	none, err := LoadSupplemental("", s)
	require.NoError(t, err)
	assert.Nil(t, none)

	_, err = LoadSupplemental(filepath.Join(t.TempDir(), "missing.csv"), s)
	assert.Error(t, err)

	p := writeFile(t, t.TempDir(), "sup.csv", "טלפון,גיל\n501234567,30\n0521111111,40\n")
	sup, err := LoadSupplemental(p, s)
	require.NoError(t, err)
	assert.Equal(t, []table.Value{table.Text("0501234567"), table.Text("0521111111")}, sup.Column(s.Phone))
}
