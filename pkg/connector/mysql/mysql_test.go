package mysql

import (
	"context"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/datalens-io/datalens/pkg/connector/core"
	dlerrors "github.com/datalens-io/datalens/pkg/errors"
)

// mockedConnector wires a sqlmock handle into a connector already in the
// connected state, so ExecuteQuery skips the real dial.
func mockedConnector(t *testing.T) (*Connector, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	c := New(core.ConnectionConfig{Database: "appdb"})
	c.db = db
	c.BeginConnect()
	c.EndConnect(nil)
	return c, mock
}

func TestBuildDSN(t *testing.T) {
	tests := []struct {
		name   string
		config core.ConnectionConfig
		want   string
	}{
		{
			name:   "defaults",
			config: core.ConnectionConfig{},
			want:   "root:@tcp(localhost:3306)/mysql?parseTime=true",
		},
		{
			name: "full config",
			config: core.ConnectionConfig{
				Host: "db.internal", Port: 3307,
				Username: "app", Password: "secret", Database: "analytics",
			},
			want: "app:secret@tcp(db.internal:3307)/analytics?parseTime=true",
		},
		{
			name:   "explicit connection string wins",
			config: core.ConnectionConfig{ConnectionString: "app:x@tcp(h:3306)/db"},
			want:   "app:x@tcp(h:3306)/db",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, BuildDSN(tt.config))
		})
	}
}

func TestExecuteQueryInjectsLimit(t *testing.T) {
	c, mock := mockedConnector(t)

	rows := sqlmock.NewRows([]string{"id", "name"}).
		AddRow(int64(1), []byte("ada")).
		AddRow(int64(2), []byte("grace"))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT * FROM users LIMIT 2")).WillReturnRows(rows)

	result, err := c.ExecuteQuery(context.Background(), "SELECT * FROM users", core.QueryOptions{Limit: 2})
	require.NoError(t, err)

	require.Len(t, result.Rows, 2)
	// Driver []byte values come back as strings.
	assert.Equal(t, "ada", result.Rows[0][1])
	assert.Equal(t, []string{"id", "name"}, []string{result.Columns[0].Name, result.Columns[1].Name})
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestExecuteQueryColumnTypes(t *testing.T) {
	c, mock := mockedConnector(t)

	rows := sqlmock.NewRowsWithColumnDefinition(
		sqlmock.NewColumn("id").OfType("BIGINT", int64(0)),
		sqlmock.NewColumn("price").OfType("DECIMAL", 0.0),
		sqlmock.NewColumn("name").OfType("VARCHAR", ""),
	).AddRow(int64(1), 9.99, "widget")
	mock.ExpectQuery("SELECT .*").WillReturnRows(rows)

	result, err := c.ExecuteQuery(context.Background(), "SELECT id, price, name FROM products", core.QueryOptions{})
	require.NoError(t, err)

	assert.Equal(t, core.FieldTypeInteger, result.Columns[0].Type)
	assert.Equal(t, core.FieldTypeNumber, result.Columns[1].Type)
	assert.Equal(t, core.FieldTypeString, result.Columns[2].Type)
}

func TestExecuteQueryEmptyResult(t *testing.T) {
	c, mock := mockedConnector(t)

	mock.ExpectQuery("SELECT .*").WillReturnRows(sqlmock.NewRows([]string{"id", "name"}))

	result, err := c.ExecuteQuery(context.Background(), "SELECT * FROM users WHERE 1=0", core.QueryOptions{})
	require.NoError(t, err)

	// Columns are never inferred for an empty result set.
	assert.Empty(t, result.Columns)
	assert.Empty(t, result.Rows)
	assert.NotNil(t, result.Columns)
	assert.NotNil(t, result.Rows)
}

func TestExecuteQueryFailureIsQueryError(t *testing.T) {
	c, mock := mockedConnector(t)

	mock.ExpectQuery("SELECT .*").WillReturnError(&mysql.MySQLError{Number: 1064, Message: "syntax error"})

	_, err := c.ExecuteQuery(context.Background(), "SELECT bogus FROM", core.QueryOptions{})
	require.Error(t, err)
	assert.True(t, dlerrors.IsType(err, dlerrors.ErrorTypeQuery))
	assert.Equal(t, core.StateErrored, c.State())
}

func TestGetTableCount(t *testing.T) {
	c, mock := mockedConnector(t)

	rows := sqlmock.NewRows([]string{"count"}).AddRow(int64(42))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM users")).WillReturnRows(rows)

	count, err := c.GetTableCount(context.Background(), "users")
	require.NoError(t, err)
	assert.Equal(t, int64(42), count)
}

func TestGetSampleDataRandomUsesRand(t *testing.T) {
	c, mock := mockedConnector(t)

	rows := sqlmock.NewRows([]string{"id"}).AddRow(int64(3))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT * FROM users ORDER BY RAND() LIMIT 10")).WillReturnRows(rows)

	_, sample, err := c.GetSampleData(context.Background(), "users", 10, true)
	require.NoError(t, err)
	assert.Len(t, sample, 1)
}

func TestConnectAfterQueryFailureClosesStaleHandle(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	// Nothing listens on port 1, so the reconnect attempt itself fails;
	// the stale pool must be released before the new dial regardless.
	c := New(core.ConnectionConfig{Host: "127.0.0.1", Port: 1, Database: "appdb"})
	c.db = db
	c.BeginConnect()
	c.EndConnect(nil)

	mock.ExpectQuery("SELECT .*").WillReturnError(&mysql.MySQLError{Number: 1064, Message: "syntax error"})
	_, qerr := c.ExecuteQuery(context.Background(), "SELECT bogus FROM", core.QueryOptions{})
	require.Error(t, qerr)
	require.Equal(t, core.StateErrored, c.State())

	mock.ExpectClose()
	require.Error(t, c.Connect(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
	assert.Nil(t, c.db)
}

func TestClassifyError(t *testing.T) {
	config := core.ConnectionConfig{Host: "db.local", Port: 3306, Database: "appdb"}

	assert.Equal(t, "invalid username or password",
		classifyError(&mysql.MySQLError{Number: 1045}, config))
	assert.Equal(t, `database "appdb" does not exist`,
		classifyError(&mysql.MySQLError{Number: 1049}, config))

	err := translateConnectError(&mysql.MySQLError{Number: 1045}, config)
	assert.True(t, dlerrors.IsType(err, dlerrors.ErrorTypeAuthentication))
	err = translateConnectError(&mysql.MySQLError{Number: 1049}, config)
	assert.True(t, dlerrors.IsType(err, dlerrors.ErrorTypeNotFound))
}
