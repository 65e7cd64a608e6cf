package mysql

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/datalens-io/datalens/pkg/connector/core"
	dlerrors "github.com/datalens-io/datalens/pkg/errors"
	"github.com/datalens-io/datalens/pkg/metrics"
)

const tablesQuery = `
SELECT
    TABLE_NAME,
    TABLE_COMMENT,
    TABLE_ROWS
FROM information_schema.TABLES
WHERE TABLE_SCHEMA = ?
  AND TABLE_TYPE = 'BASE TABLE'
ORDER BY TABLE_NAME`

const columnsQuery = `
SELECT
    c.TABLE_NAME,
    c.COLUMN_NAME,
    c.DATA_TYPE,
    c.IS_NULLABLE,
    c.COLUMN_DEFAULT,
    c.COLUMN_KEY,
    c.COLUMN_COMMENT,
    kcu.REFERENCED_TABLE_NAME,
    kcu.REFERENCED_COLUMN_NAME
FROM information_schema.COLUMNS c
LEFT JOIN information_schema.KEY_COLUMN_USAGE kcu
    ON c.TABLE_SCHEMA = kcu.TABLE_SCHEMA
    AND c.TABLE_NAME = kcu.TABLE_NAME
    AND c.COLUMN_NAME = kcu.COLUMN_NAME
    AND kcu.REFERENCED_TABLE_NAME IS NOT NULL
WHERE c.TABLE_SCHEMA = ?
ORDER BY c.TABLE_NAME, c.ORDINAL_POSITION`

// GetSchema introspects tables, columns, keys, and comments from
// information_schema. Row counts come from the TABLE_ROWS engine
// estimate rather than live COUNT(*) scans.
func (c *Connector) GetSchema(ctx context.Context) (*core.DatabaseSchema, error) {
	if err := c.Connect(ctx); err != nil {
		return nil, err
	}
	metrics.SchemaIntrospections.WithLabelValues(string(core.SourceTypeMySQL)).Inc()

	database := c.Config().Database

	type tableInfo struct {
		name     string
		comment  sql.NullString
		rowCount sql.NullInt64
	}

	tableRows, err := c.db.QueryContext(ctx, tablesQuery, database)
	if err != nil {
		return nil, dlerrors.Wrap(err, dlerrors.ErrorTypeSchema, "failed to list tables")
	}
	var tables []tableInfo
	for tableRows.Next() {
		var ti tableInfo
		if err := tableRows.Scan(&ti.name, &ti.comment, &ti.rowCount); err != nil {
			_ = tableRows.Close()
			return nil, dlerrors.Wrap(err, dlerrors.ErrorTypeSchema, "failed to scan table row")
		}
		tables = append(tables, ti)
	}
	_ = tableRows.Close()
	if err := tableRows.Err(); err != nil {
		return nil, dlerrors.Wrap(err, dlerrors.ErrorTypeSchema, "failed to list tables")
	}

	columnRows, err := c.db.QueryContext(ctx, columnsQuery, database)
	if err != nil {
		return nil, dlerrors.Wrap(err, dlerrors.ErrorTypeSchema, "failed to list columns")
	}
	tableColumns := make(map[string][]core.ColumnSchema)
	for columnRows.Next() {
		var (
			tableName, columnName, dataType, isNullable string
			columnDefault, columnKey, comment           sql.NullString
			fkTable, fkColumn                           sql.NullString
		)
		if err := columnRows.Scan(&tableName, &columnName, &dataType, &isNullable,
			&columnDefault, &columnKey, &comment, &fkTable, &fkColumn); err != nil {
			_ = columnRows.Close()
			return nil, dlerrors.Wrap(err, dlerrors.ErrorTypeSchema, "failed to scan column row")
		}

		col := core.ColumnSchema{
			Name:       columnName,
			Type:       core.MapSQLType(dataType),
			Nullable:   isNullable == "YES",
			PrimaryKey: columnKey.String == "PRI",
		}
		if fkTable.Valid && fkColumn.Valid {
			col.ForeignKey = fmt.Sprintf("%s.%s", fkTable.String, fkColumn.String)
		}
		if columnDefault.Valid {
			col.Default = columnDefault.String
		}
		if comment.Valid && comment.String != "" {
			col.Description = comment.String
		}
		tableColumns[tableName] = append(tableColumns[tableName], col)
	}
	_ = columnRows.Close()
	if err := columnRows.Err(); err != nil {
		return nil, dlerrors.Wrap(err, dlerrors.ErrorTypeSchema, "failed to list columns")
	}

	schemas := make([]core.TableSchema, 0, len(tables))
	for _, ti := range tables {
		ts := core.TableSchema{
			Name:     ti.name,
			Columns:  tableColumns[ti.name],
			RowCount: -1,
		}
		if ti.rowCount.Valid {
			ts.RowCount = ti.rowCount.Int64
		}
		if ti.comment.Valid && ti.comment.String != "" {
			ts.Description = ti.comment.String
		}
		schemas = append(schemas, ts)
	}

	return &core.DatabaseSchema{Tables: schemas}, nil
}
