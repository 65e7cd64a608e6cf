package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgtype"
	"go.uber.org/zap"

	"github.com/datalens-io/datalens/pkg/connector/core"
	dlerrors "github.com/datalens-io/datalens/pkg/errors"
	"github.com/datalens-io/datalens/pkg/metrics"
)

const tablesQuery = `
SELECT
    t.table_name,
    obj_description(
        (quote_ident(t.table_schema) || '.' || quote_ident(t.table_name))::regclass
    ) AS table_comment
FROM information_schema.tables t
WHERE t.table_schema = 'public'
  AND t.table_type = 'BASE TABLE'
ORDER BY t.table_name`

const columnsQuery = `
SELECT
    c.table_name,
    c.column_name,
    c.data_type,
    c.is_nullable,
    c.column_default,
    CASE WHEN pk.column_name IS NOT NULL THEN true ELSE false END AS is_primary_key,
    fk.foreign_table_name,
    fk.foreign_column_name,
    col_description(
        (quote_ident(c.table_schema) || '.' || quote_ident(c.table_name))::regclass,
        c.ordinal_position
    ) AS column_comment
FROM information_schema.columns c
LEFT JOIN (
    SELECT kcu.table_name, kcu.column_name
    FROM information_schema.table_constraints tc
    JOIN information_schema.key_column_usage kcu
        ON tc.constraint_name = kcu.constraint_name
    WHERE tc.constraint_type = 'PRIMARY KEY'
      AND tc.table_schema = 'public'
) pk ON c.table_name = pk.table_name AND c.column_name = pk.column_name
LEFT JOIN (
    SELECT
        kcu.table_name,
        kcu.column_name,
        ccu.table_name AS foreign_table_name,
        ccu.column_name AS foreign_column_name
    FROM information_schema.table_constraints tc
    JOIN information_schema.key_column_usage kcu
        ON tc.constraint_name = kcu.constraint_name
    JOIN information_schema.constraint_column_usage ccu
        ON tc.constraint_name = ccu.constraint_name
    WHERE tc.constraint_type = 'FOREIGN KEY'
      AND tc.table_schema = 'public'
) fk ON c.table_name = fk.table_name AND c.column_name = fk.column_name
WHERE c.table_schema = 'public'
ORDER BY c.table_name, c.ordinal_position`

// GetSchema introspects tables, columns, constraints, and comments from
// the public schema. Row counts are live COUNT(*) per table; a table
// whose count fails is still returned with an unknown count.
func (c *Connector) GetSchema(ctx context.Context) (*core.DatabaseSchema, error) {
	if err := c.Connect(ctx); err != nil {
		return nil, err
	}
	metrics.SchemaIntrospections.WithLabelValues(string(core.SourceTypePostgreSQL)).Inc()

	conn, err := c.pool.Acquire(ctx)
	if err != nil {
		return nil, dlerrors.Wrap(err, dlerrors.ErrorTypeConnection, "failed to acquire connection")
	}
	defer conn.Release()

	type tableInfo struct {
		name    string
		comment *string
	}

	tableRows, err := conn.Query(ctx, tablesQuery)
	if err != nil {
		return nil, dlerrors.Wrap(err, dlerrors.ErrorTypeSchema, "failed to list tables")
	}
	var tables []tableInfo
	for tableRows.Next() {
		var ti tableInfo
		if err := tableRows.Scan(&ti.name, &ti.comment); err != nil {
			tableRows.Close()
			return nil, dlerrors.Wrap(err, dlerrors.ErrorTypeSchema, "failed to scan table row")
		}
		tables = append(tables, ti)
	}
	tableRows.Close()
	if err := tableRows.Err(); err != nil {
		return nil, dlerrors.Wrap(err, dlerrors.ErrorTypeSchema, "failed to list tables")
	}

	columnRows, err := conn.Query(ctx, columnsQuery)
	if err != nil {
		return nil, dlerrors.Wrap(err, dlerrors.ErrorTypeSchema, "failed to list columns")
	}
	tableColumns := make(map[string][]core.ColumnSchema)
	for columnRows.Next() {
		var (
			tableName, columnName, dataType, isNullable string
			columnDefault, fkTable, fkColumn, comment   *string
			isPrimaryKey                                bool
		)
		if err := columnRows.Scan(&tableName, &columnName, &dataType, &isNullable,
			&columnDefault, &isPrimaryKey, &fkTable, &fkColumn, &comment); err != nil {
			columnRows.Close()
			return nil, dlerrors.Wrap(err, dlerrors.ErrorTypeSchema, "failed to scan column row")
		}

		col := core.ColumnSchema{
			Name:       columnName,
			Type:       core.MapSQLType(dataType),
			Nullable:   isNullable == "YES",
			PrimaryKey: isPrimaryKey,
		}
		if fkTable != nil && fkColumn != nil {
			col.ForeignKey = fmt.Sprintf("%s.%s", *fkTable, *fkColumn)
		}
		if columnDefault != nil {
			col.Default = *columnDefault
		}
		if comment != nil {
			col.Description = *comment
		}
		tableColumns[tableName] = append(tableColumns[tableName], col)
	}
	columnRows.Close()
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
		if ti.comment != nil {
			ts.Description = *ti.comment
		}

		var count int64
		if err := conn.QueryRow(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s", ti.name)).Scan(&count); err != nil {
			c.Logger().Warn("row count failed, reporting unknown",
				zap.String("table", ti.name), zap.Error(err))
		} else {
			ts.RowCount = count
		}
		schemas = append(schemas, ts)
	}

	return &core.DatabaseSchema{Tables: schemas}, nil
}

// mapOID maps a PostgreSQL type OID onto the canonical type set.
func mapOID(oid uint32) core.FieldType {
	switch oid {
	case pgtype.Int2OID, pgtype.Int4OID, pgtype.Int8OID:
		return core.FieldTypeInteger
	case pgtype.Float4OID, pgtype.Float8OID, pgtype.NumericOID:
		return core.FieldTypeNumber
	case pgtype.BoolOID:
		return core.FieldTypeBoolean
	case pgtype.DateOID:
		return core.FieldTypeDate
	case pgtype.TimestampOID, pgtype.TimestamptzOID, pgtype.TimeOID, pgtype.TimetzOID:
		return core.FieldTypeDateTime
	case pgtype.JSONOID, pgtype.JSONBOID:
		return core.FieldTypeJSON
	case pgtype.UUIDOID:
		return core.FieldTypeUUID
	case pgtype.Int2ArrayOID, pgtype.Int4ArrayOID, pgtype.Int8ArrayOID,
		pgtype.TextArrayOID, pgtype.VarcharArrayOID, pgtype.Float4ArrayOID,
		pgtype.Float8ArrayOID, pgtype.BoolArrayOID:
		return core.FieldTypeArray
	default:
		return core.FieldTypeString
	}
}
