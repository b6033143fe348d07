package publish

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func TestWriteXLSX(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteXLSX(&buf, leads(), "נוצר בתאריך", ""))

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows(DefaultSheetName)
	require.NoError(t, err)
	require.Len(t, rows, 4)
	assert.Equal(t, []string{"נוצר בתאריך", "שם", "גיל"}, rows[0])
	assert.Equal(t, []string{"02/01/2024", "a", "31"}, rows[1])
	assert.Equal(t, []string{"", "c"}, rows[3])
}

func TestXLSXPublisher(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.xlsx")
	p := &XLSXPublisher{Path: path, SortColumn: "נוצר בתאריך", Sheet: "data"}
	require.NoError(t, p.Publish(context.Background(), leads()))

	f, err := excelize.OpenFile(path)
	require.NoError(t, err)
	defer f.Close()
	assert.Equal(t, "data", f.GetSheetName(0))
}

func TestXLSXPublisherCreatesDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "exports", "nested", "leads.xlsx")
	p := &XLSXPublisher{Path: path, SortColumn: "נוצר בתאריך"}
	require.NoError(t, p.Publish(context.Background(), leads()))
	assert.FileExists(t, path)
}
