package source

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"viewbot/internal/table"
)

func TestSQLRows(t *testing.T) {
	t.Parallel()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	mock.ExpectQuery("SELECT (.+) FROM leads").
		WillReturnRows(sqlmock.NewRows([]string{"Company", "Options", "Score", "Note"}).
			AddRow([]byte("Acme"), `["Accept","Decline"]`, int64(7), nil).
			AddRow("Globex", "[not json", int64(3), `["hot"]`))

	src := NewSQL(db, time.Second)
	rows, err := src.Rows(context.Background(), "SELECT * FROM leads")
	require.NoError(t, err)
	require.Len(t, rows, 2)

	assert.Equal(t, "Acme", rows[0]["Company"])
	assert.Equal(t, []any{"Accept", "Decline"}, rows[0]["Options"])
	assert.Equal(t, int64(7), rows[0]["Score"])
	assert.Nil(t, rows[0]["Note"])
	assert.Equal(t, "[not json", rows[1]["Options"])
	// only list-role columns are decoded
	assert.Equal(t, `["hot"]`, rows[1]["Note"])

	mock.ExpectClose()
	require.NoError(t, src.Close())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLQueryError(t *testing.T) {
	t.Parallel()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT").WillReturnError(errors.New("no such table"))
	_, err = NewSQL(db, 0).Rows(context.Background(), "SELECT 1")
	assert.ErrorIs(t, err, ErrQuery)

	_, err = NewSQL(db, 0).Rows(context.Background(), "  ")
	assert.ErrorIs(t, err, ErrQuery)
}

func TestFileRowsYAML(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "rows.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
leads:
  - Company: Acme
    Options: [Accept, Decline]
    Response Type: in_channel
  - Company: Globex
`), 0o600))

	rows, err := NewFile(path).Rows(context.Background(), "leads")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "Acme", rows[0]["Company"])
	assert.Equal(t, []string{"Accept", "Decline"}, table.AsList(rows[0]["Options"]))
	assert.Equal(t, "in_channel", rows[0]["Response Type"])

	_, err = NewFile(path).Rows(context.Background(), "tickets")
	assert.ErrorIs(t, err, ErrUnknownView)
}

func TestFileRowsJSON(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "rows.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"disk":[{"host":"db1","used":0.93,"Options":"[\"Ack\"]"}]}`), 0o600))

	rows, err := NewFile(path).Rows(context.Background(), "disk")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, 0.93, rows[0]["used"])
	assert.Equal(t, []any{"Ack"}, rows[0]["Options"])
}

func TestOpen(t *testing.T) {
	t.Parallel()
	_, err := Open(Config{})
	assert.Error(t, err)
	_, err = Open(Config{Driver: "sql"})
	assert.Error(t, err)
	_, err = Open(Config{Driver: "csv"})
	assert.Error(t, err)

	src, err := Open(Config{Driver: "file", Path: "rows.yaml"})
	require.NoError(t, err)
	assert.IsType(t, &File{}, src)

	src, err = Open(Config{Driver: "sql", DSN: filepath.Join(t.TempDir(), "rows.sqlite")})
	require.NoError(t, err)
	defer src.Close()
	_, err = src.(*SQL).db.Exec(`CREATE TABLE t(name TEXT, option_names TEXT, note TEXT)`)
	require.NoError(t, err)
	_, err = src.(*SQL).db.Exec(`INSERT INTO t VALUES('a', '["x","y"]', '[1]')`)
	require.NoError(t, err)
	rows, err := src.Rows(context.Background(), "SELECT name, option_names, note FROM t")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "a", rows[0]["name"])
	assert.Equal(t, []any{"x", "y"}, rows[0]["option_names"])
	assert.Equal(t, "[1]", rows[0]["note"])
}
