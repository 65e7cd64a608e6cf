// Package mysql implements the datalens connector contract for MySQL
// over database/sql with the go-sql-driver pool.
package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"go.uber.org/zap"

	"github.com/datalens-io/datalens/pkg/connector/base"
	"github.com/datalens-io/datalens/pkg/connector/core"
	dlerrors "github.com/datalens-io/datalens/pkg/errors"
)

const (
	maxOpenConns = 10
	maxIdleConns = 1
)

// Connector is the pooled MySQL connector.
type Connector struct {
	*base.Connector

	db *sql.DB
}

// New creates a MySQL connector from the given configuration.
func New(config core.ConnectionConfig) *Connector {
	return &Connector{
		Connector: base.NewConnector(core.SourceTypeMySQL, config),
	}
}

// BuildDSN synthesizes a go-sql-driver DSN from the configuration.
// parseTime is always enabled so temporal columns scan as time.Time.
func BuildDSN(config core.ConnectionConfig) string {
	if config.ConnectionString != "" {
		return config.ConnectionString
	}

	user := config.Username
	if user == "" {
		user = "root"
	}
	host := config.Host
	if host == "" {
		host = "localhost"
	}
	port := config.Port
	if port == 0 {
		port = 3306
	}
	database := config.Database
	if database == "" {
		database = "mysql"
	}

	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true", user, config.Password, host, port, database)
}

// Connect opens the pool and verifies it with a ping.
func (c *Connector) Connect(ctx context.Context) error {
	if c.IsConnected() {
		return nil
	}
	c.BeginConnect()

	// Recovery from the Errored state re-runs Connect; release the
	// previous pool before opening a new one.
	if c.db != nil {
		_ = c.db.Close()
		c.db = nil
	}

	db, err := sql.Open("mysql", BuildDSN(c.Config()))
	if err != nil {
		c.EndConnect(err)
		return dlerrors.Wrap(err, dlerrors.ErrorTypeConfig, "invalid mysql connection string")
	}
	db.SetMaxOpenConns(maxOpenConns)
	db.SetMaxIdleConns(maxIdleConns)
	db.SetConnMaxLifetime(time.Hour)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		c.EndConnect(err)
		return translateConnectError(err, c.Config())
	}

	c.db = db
	c.EndConnect(nil)
	c.Logger().Info("mysql connection pool created", zap.Int("max_open_conns", maxOpenConns))
	return nil
}

// Disconnect closes the pool. Idempotent.
func (c *Connector) Disconnect(ctx context.Context) {
	if c.db != nil {
		_ = c.db.Close()
		c.db = nil
		c.Logger().Info("mysql connection pool closed")
	}
	c.EndDisconnect()
}

// TestConnection probes the server with a short timeout, classifying
// expected failures into a message.
func (c *Connector) TestConnection(ctx context.Context) (bool, string) {
	probeCtx, cancel := context.WithTimeout(ctx, core.TestConnectionTimeout)
	defer cancel()

	db, err := sql.Open("mysql", BuildDSN(c.Config()))
	if err != nil {
		return false, err.Error()
	}
	defer func() { _ = db.Close() }()

	var one int
	if err := db.QueryRowContext(probeCtx, "SELECT 1").Scan(&one); err != nil {
		return false, classifyError(err, c.Config())
	}
	return true, ""
}

// ExecuteQuery runs raw MySQL SQL with the row-limit heuristic and the
// caller's timeout applied.
func (c *Connector) ExecuteQuery(ctx context.Context, query string, opts core.QueryOptions) (*core.QueryResult, error) {
	if err := c.Connect(ctx); err != nil {
		return nil, err
	}
	opts = opts.Normalize()
	query = base.ApplyRowLimit(query, opts.Limit)

	var columns []core.QueryColumn
	var rows [][]interface{}

	elapsed, err := c.ExecuteTimed(ctx, opts.Timeout, func(execCtx context.Context) error {
		sqlRows, err := c.db.QueryContext(execCtx, query)
		if err != nil {
			return dlerrors.Wrap(err, dlerrors.ErrorTypeQuery, "query execution failed")
		}
		defer func() { _ = sqlRows.Close() }()

		columnTypes, err := sqlRows.ColumnTypes()
		if err != nil {
			return dlerrors.Wrap(err, dlerrors.ErrorTypeData, "failed to read column types")
		}

		for sqlRows.Next() {
			values := make([]interface{}, len(columnTypes))
			scanTargets := make([]interface{}, len(columnTypes))
			for i := range values {
				scanTargets[i] = &values[i]
			}
			if err := sqlRows.Scan(scanTargets...); err != nil {
				return dlerrors.Wrap(err, dlerrors.ErrorTypeData, "failed to scan row")
			}
			row := make([]interface{}, len(values))
			for i, v := range values {
				row[i] = convertValue(v)
			}
			rows = append(rows, row)
		}
		if err := sqlRows.Err(); err != nil {
			rows = nil
			return dlerrors.Wrap(err, dlerrors.ErrorTypeQuery, "query execution failed")
		}

		if len(rows) > 0 {
			columns = make([]core.QueryColumn, len(columnTypes))
			for i, ct := range columnTypes {
				columns[i] = core.QueryColumn{
					Name: ct.Name(),
					Type: core.MapSQLType(ct.DatabaseTypeName()),
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if columns == nil {
		columns = []core.QueryColumn{}
	}
	if rows == nil {
		rows = [][]interface{}{}
	}
	return &core.QueryResult{Columns: columns, Rows: rows, ElapsedMS: elapsed}, nil
}

// GetSampleData draws a table sample using ORDER BY RAND() for random
// selection.
func (c *Connector) GetSampleData(ctx context.Context, table string, size int, random bool) ([]core.QueryColumn, [][]interface{}, error) {
	if size <= 0 {
		size = core.DefaultSampleSize
	}

	query := base.SampleSQL(table, size, random, "RAND()")
	result, err := c.ExecuteQuery(ctx, query, core.QueryOptions{Limit: size})
	if err != nil {
		return nil, nil, err
	}
	return result.Columns, result.Rows, nil
}

// GetTableCount counts rows through the default COUNT(*) path.
func (c *Connector) GetTableCount(ctx context.Context, table string) (int64, error) {
	return base.TableCount(ctx, c, table)
}

func translateConnectError(err error, config core.ConnectionConfig) error {
	msg := classifyError(err, config)
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		switch myErr.Number {
		case 1045:
			return dlerrors.Wrap(err, dlerrors.ErrorTypeAuthentication, msg)
		case 1049:
			return dlerrors.Wrap(err, dlerrors.ErrorTypeNotFound, msg)
		}
	}
	return dlerrors.Wrap(err, dlerrors.ErrorTypeConnection, msg)
}

// classifyError translates a native MySQL failure into one of the small
// set of connection messages.
func classifyError(err error, config core.ConnectionConfig) string {
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		switch myErr.Number {
		case 1045:
			return "invalid username or password"
		case 1049:
			return fmt.Sprintf("database %q does not exist", config.Database)
		}
		return myErr.Error()
	}

	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, context.DeadlineExceeded) ||
		strings.Contains(err.Error(), "connection refused") {
		return fmt.Sprintf("could not connect to server at %s:%d", config.Host, config.Port)
	}
	return err.Error()
}

// convertValue flattens driver values: the MySQL driver hands back
// []byte for most text-ish columns.
func convertValue(v interface{}) interface{} {
	switch val := v.(type) {
	case []byte:
		return string(val)
	default:
		return v
	}
}
