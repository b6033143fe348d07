package archive

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/olivestudio/leadrecon/internal/datanorm"
	"github.com/olivestudio/leadrecon/internal/table"
)

func records() *table.Table {
	s := datanorm.DefaultSchema()
	t := table.New(datanorm.KeyColumn, s.Phone, s.CreatedAt, s.Source)
	t.AddRow([]table.Value{
		table.Text("234567"), table.Text("050-1234567"),
		table.Date(time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)), table.Text("instagram"),
	})
	t.AddRow([]table.Value{table.Text("654321"), table.Null, table.Null, table.Null})
	return t
}

func TestReplace(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	a := New(db, datanorm.DefaultSchema())
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	a.now = func() time.Time { return now }

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM lead_records").WillReturnResult(sqlmock.NewResult(0, 5))
	prep := mock.ExpectPrepare("COPY")
	prep.ExpectExec().
		WithArgs("234567", "run-1", time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC), "050-1234567",
			"instagram", nil, nil, nil, nil, nil, sqlmock.AnyArg(), now).
		WillReturnResult(sqlmock.NewResult(0, 1))
	prep.ExpectExec().
		WithArgs("654321", "run-1", nil, nil, nil, nil, nil, nil, nil, nil, `{"Normalized Phone":"654321"}`, now).
		WillReturnResult(sqlmock.NewResult(0, 1))
	prep.ExpectExec().WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	require.NoError(t, a.Replace(context.Background(), "run-1", records()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReplaceRollsBack(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM lead_records").WillReturnError(errors.New("permission denied"))
	mock.ExpectRollback()

	err = New(db, datanorm.DefaultSchema()).Replace(context.Background(), "run-1", records())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "clear records")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEnsureSchemaAndCount(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS lead_records").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM lead_records`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(7))

	a := New(db, datanorm.DefaultSchema())
	require.NoError(t, a.EnsureSchema(context.Background()))
	n, err := a.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 7, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}
