// Package postgres implements the datalens connector contract for
// PostgreSQL using a bounded pgx connection pool.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/datalens-io/datalens/pkg/connector/base"
	"github.com/datalens-io/datalens/pkg/connector/core"
	dlerrors "github.com/datalens-io/datalens/pkg/errors"
)

const (
	minPoolConns = 1
	maxPoolConns = 10
)

// Connector is the pooled PostgreSQL connector.
type Connector struct {
	*base.Connector

	pool *pgxpool.Pool
}

// New creates a PostgreSQL connector from the given configuration.
func New(config core.ConnectionConfig) *Connector {
	return &Connector{
		Connector: base.NewConnector(core.SourceTypePostgreSQL, config),
	}
}

// BuildDSN synthesizes a postgres:// connection string from the discrete
// configuration fields. An explicit ConnectionString wins.
func BuildDSN(config core.ConnectionConfig) string {
	if config.ConnectionString != "" {
		return config.ConnectionString
	}

	user := config.Username
	if user == "" {
		user = "postgres"
	}
	host := config.Host
	if host == "" {
		host = "localhost"
	}
	port := config.Port
	if port == 0 {
		port = 5432
	}
	database := config.Database
	if database == "" {
		database = "postgres"
	}

	if config.Password != "" {
		return fmt.Sprintf("postgres://%s:%s@%s:%d/%s",
			url.QueryEscape(user), url.QueryEscape(config.Password), host, port, database)
	}
	return fmt.Sprintf("postgres://%s@%s:%d/%s", url.QueryEscape(user), host, port, database)
}

// Connect establishes the connection pool and verifies it with a ping.
func (c *Connector) Connect(ctx context.Context) error {
	if c.IsConnected() {
		return nil
	}
	c.BeginConnect()

	// Recovery from the Errored state re-runs Connect; release the
	// previous pool before building a new one.
	if c.pool != nil {
		c.pool.Close()
		c.pool = nil
	}

	poolConfig, err := pgxpool.ParseConfig(BuildDSN(c.Config()))
	if err != nil {
		c.EndConnect(err)
		return dlerrors.Wrap(err, dlerrors.ErrorTypeConfig, "invalid postgresql connection string")
	}
	poolConfig.MinConns = minPoolConns
	poolConfig.MaxConns = maxPoolConns

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		c.EndConnect(err)
		return translateConnectError(err, c.Config())
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		c.EndConnect(err)
		return translateConnectError(err, c.Config())
	}

	c.pool = pool
	c.EndConnect(nil)
	c.Logger().Info("postgresql connection pool created",
		zap.Int32("max_conns", poolConfig.MaxConns))
	return nil
}

// Disconnect closes the pool. Idempotent.
func (c *Connector) Disconnect(ctx context.Context) {
	if c.pool != nil {
		c.pool.Close()
		c.pool = nil
		c.Logger().Info("postgresql connection pool closed")
	}
	c.EndDisconnect()
}

// TestConnection probes the server with a short timeout. Expected failure
// modes are classified into a message; no error escapes.
func (c *Connector) TestConnection(ctx context.Context) (bool, string) {
	probeCtx, cancel := context.WithTimeout(ctx, core.TestConnectionTimeout)
	defer cancel()

	conn, err := pgx.Connect(probeCtx, BuildDSN(c.Config()))
	if err != nil {
		return false, classifyError(err, c.Config())
	}
	defer func() { _ = conn.Close(probeCtx) }()

	var one int
	if err := conn.QueryRow(probeCtx, "SELECT 1").Scan(&one); err != nil {
		return false, classifyError(err, c.Config())
	}
	return true, ""
}

// ExecuteQuery runs raw PostgreSQL SQL with the row-limit heuristic and
// the caller's timeout applied.
func (c *Connector) ExecuteQuery(ctx context.Context, query string, opts core.QueryOptions) (*core.QueryResult, error) {
	if err := c.Connect(ctx); err != nil {
		return nil, err
	}
	opts = opts.Normalize()
	query = base.ApplyRowLimit(query, opts.Limit)

	var columns []core.QueryColumn
	var rows [][]interface{}

	elapsed, err := c.ExecuteTimed(ctx, opts.Timeout, func(execCtx context.Context) error {
		conn, err := c.pool.Acquire(execCtx)
		if err != nil {
			return dlerrors.Wrap(err, dlerrors.ErrorTypeConnection, "failed to acquire connection")
		}
		defer conn.Release()

		pgRows, err := conn.Query(execCtx, query)
		if err != nil {
			return wrapQueryError(err)
		}
		defer pgRows.Close()

		fields := pgRows.FieldDescriptions()
		for pgRows.Next() {
			values, err := pgRows.Values()
			if err != nil {
				return dlerrors.Wrap(err, dlerrors.ErrorTypeData, "failed to read row values")
			}
			row := make([]interface{}, len(fields))
			for i := range fields {
				if i < len(values) {
					row[i] = convertValue(values[i])
				}
			}
			rows = append(rows, row)
		}
		if err := pgRows.Err(); err != nil {
			rows = nil
			return wrapQueryError(err)
		}

		// Empty result sets report empty columns, never columns inferred
		// from a previous call.
		if len(rows) > 0 {
			columns = make([]core.QueryColumn, len(fields))
			for i, fd := range fields {
				columns[i] = core.QueryColumn{Name: fd.Name, Type: mapOID(fd.DataTypeOID)}
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

// GetSampleData draws a table sample. Random sampling tries TABLESAMPLE
// BERNOULLI first and falls back to ORDER BY RANDOM() when the clause is
// not applicable (views, old servers).
func (c *Connector) GetSampleData(ctx context.Context, table string, size int, random bool) ([]core.QueryColumn, [][]interface{}, error) {
	if size <= 0 {
		size = core.DefaultSampleSize
	}

	if random {
		query := fmt.Sprintf("SELECT * FROM %s TABLESAMPLE BERNOULLI(10) LIMIT %d", table, size)
		result, err := c.ExecuteQuery(ctx, query, core.QueryOptions{Limit: size})
		if err == nil {
			return result.Columns, result.Rows, nil
		}
		c.Logger().Warn("tablesample failed, falling back to random order",
			zap.String("table", table), zap.Error(err))
	}

	query := base.SampleSQL(table, size, random, "RANDOM()")
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

func wrapQueryError(err error) error {
	return dlerrors.Wrap(err, dlerrors.ErrorTypeQuery, "query execution failed")
}

func translateConnectError(err error, config core.ConnectionConfig) error {
	msg := classifyError(err, config)
	switch {
	case isAuthError(err):
		return dlerrors.Wrap(err, dlerrors.ErrorTypeAuthentication, msg)
	case isMissingDatabase(err):
		return dlerrors.Wrap(err, dlerrors.ErrorTypeNotFound, msg)
	default:
		return dlerrors.Wrap(err, dlerrors.ErrorTypeConnection, msg)
	}
}

// classifyError translates a native failure into one of the small set of
// connection messages.
func classifyError(err error, config core.ConnectionConfig) string {
	switch {
	case isAuthError(err):
		return "invalid username or password"
	case isMissingDatabase(err):
		return fmt.Sprintf("database %q does not exist", config.Database)
	case isUnreachable(err):
		return fmt.Sprintf("could not connect to server at %s:%d", config.Host, config.Port)
	default:
		return err.Error()
	}
}

func isAuthError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "28P01" || pgErr.Code == "28000"
	}
	return false
}

func isMissingDatabase(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "3D000"
	}
	return false
}

func isUnreachable(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	return strings.Contains(err.Error(), "connection refused")
}

// convertValue flattens driver-specific values into plain Go values that
// serialize cleanly.
func convertValue(v interface{}) interface{} {
	switch val := v.(type) {
	case [16]byte:
		return formatUUID(val)
	case []byte:
		return string(val)
	case time.Time:
		return val
	default:
		return v
	}
}

func formatUUID(b [16]byte) string {
	return fmt.Sprintf("%x-%x-%x-%x-%x", b[0:4], b[4:6], b[6:8], b[8:10], b[10:16])
}
