package base

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/datalens-io/datalens/pkg/connector/core"
	dlerrors "github.com/datalens-io/datalens/pkg/errors"
)

// ApplyRowLimit appends a LIMIT clause to bare SELECT statements that do
// not already carry one. This is a textual heuristic, not a parser: a
// "limit" substring anywhere in the statement, including inside a
// subquery or CTE, counts as already limited and suppresses injection.
// Known technical debt; statement-level parsing would be needed for
// exact correctness on nested queries.
func ApplyRowLimit(query string, limit int) string {
	trimmed := strings.TrimSpace(query)
	lower := strings.ToLower(trimmed)

	if !strings.HasPrefix(lower, "select") {
		return trimmed
	}
	if strings.Contains(lower, "limit") {
		return trimmed
	}
	return fmt.Sprintf("%s LIMIT %d", strings.TrimRight(trimmed, ";"), limit)
}

// SampleSQL builds the sampling query for a relational backend. randFn
// is the engine's native random function ("RANDOM()" for PostgreSQL,
// "RAND()" for MySQL).
func SampleSQL(table string, size int, random bool, randFn string) string {
	if random {
		return fmt.Sprintf("SELECT * FROM %s ORDER BY %s LIMIT %d", table, randFn, size)
	}
	return fmt.Sprintf("SELECT * FROM %s LIMIT %d", table, size)
}

// TableCount is the default row-count implementation: a COUNT(*) issued
// through the connector's own ExecuteQuery. Backends with a cheaper
// native path override their GetTableCount instead of calling this.
func TableCount(ctx context.Context, c core.Connector, table string) (int64, error) {
	result, err := c.ExecuteQuery(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s", table), core.QueryOptions{Limit: 1})
	if err != nil {
		return 0, err
	}
	if len(result.Rows) == 0 || len(result.Rows[0]) == 0 {
		return 0, nil
	}
	return ToInt64(result.Rows[0][0])
}

// ToInt64 coerces the scalar shapes drivers hand back for counts.
func ToInt64(v interface{}) (int64, error) {
	switch n := v.(type) {
	case int64:
		return n, nil
	case int32:
		return int64(n), nil
	case int:
		return int64(n), nil
	case uint64:
		return int64(n), nil
	case float64:
		return int64(n), nil
	case string:
		parsed, err := strconv.ParseInt(n, 10, 64)
		if err != nil {
			return 0, dlerrors.Wrap(err, dlerrors.ErrorTypeData, "count value is not an integer")
		}
		return parsed, nil
	case []byte:
		parsed, err := strconv.ParseInt(string(n), 10, 64)
		if err != nil {
			return 0, dlerrors.Wrap(err, dlerrors.ErrorTypeData, "count value is not an integer")
		}
		return parsed, nil
	default:
		return 0, dlerrors.Newf(dlerrors.ErrorTypeData, "unexpected count value type %T", v)
	}
}
