package csvfile

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/datalens-io/datalens/pkg/connector/core"
	dlerrors "github.com/datalens-io/datalens/pkg/errors"
)

// selectQuery is a parsed statement in the restricted grammar:
//
//	SELECT col[, col]|* [FROM name] [WHERE col <op> value [AND ...]] [LIMIT n]
//
// A query that does not start with SELECT is treated as a bare filter
// expression over all columns.
type selectQuery struct {
	columns    []string // nil means all columns
	conditions []condition
	limit      int
}

type condition struct {
	column   string
	operator string
	value    interface{}
}

// comparison operators, longest first so ">=" is not consumed as ">".
var operators = []string{">=", "<=", "!=", "==", "=", ">", "<"}

// parseQuery parses the restricted grammar. defaultLimit caps the result
// when the statement carries no LIMIT clause of its own.
func parseQuery(query string, defaultLimit int) (*selectQuery, error) {
	trimmed := strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(query), ";"))
	if trimmed == "" {
		return nil, dlerrors.New(dlerrors.ErrorTypeQuery, "query is empty")
	}

	sel := &selectQuery{limit: defaultLimit}
	lower := strings.ToLower(trimmed)

	if !strings.HasPrefix(lower, "select") {
		// Bare filter expression, e.g. "age > 30 AND city = 'Oslo'".
		conds, err := parseConditions(trimmed)
		if err != nil {
			return nil, err
		}
		sel.conditions = conds
		return sel, nil
	}

	rest := strings.TrimSpace(trimmed[len("select"):])
	lowerRest := strings.ToLower(rest)

	selectEnd := len(rest)
	if idx := keywordIndex(lowerRest, "from"); idx >= 0 {
		selectEnd = idx
	} else if idx := keywordIndex(lowerRest, "where"); idx >= 0 {
		selectEnd = idx
	} else if idx := keywordIndex(lowerRest, "limit"); idx >= 0 {
		selectEnd = idx
	}

	columnList := strings.TrimSpace(rest[:selectEnd])
	if columnList == "" {
		return nil, dlerrors.New(dlerrors.ErrorTypeQuery, "select list is empty")
	}
	if columnList != "*" {
		for _, col := range strings.Split(columnList, ",") {
			col = strings.TrimSpace(col)
			if col == "" {
				return nil, dlerrors.New(dlerrors.ErrorTypeQuery, "malformed select list")
			}
			sel.columns = append(sel.columns, col)
		}
	}

	// The FROM target is accepted and ignored; a file has one table.
	wherePart := ""
	limitPart := ""
	if idx := keywordIndex(lowerRest, "where"); idx >= 0 {
		wherePart = rest[idx+len("where"):]
		if lidx := keywordIndex(strings.ToLower(wherePart), "limit"); lidx >= 0 {
			limitPart = wherePart[lidx+len("limit"):]
			wherePart = wherePart[:lidx]
		}
	} else if idx := keywordIndex(lowerRest, "limit"); idx >= 0 {
		limitPart = rest[idx+len("limit"):]
	}

	if wherePart != "" {
		conds, err := parseConditions(strings.TrimSpace(wherePart))
		if err != nil {
			return nil, err
		}
		sel.conditions = conds
	}
	if limitPart != "" {
		n, err := strconv.Atoi(strings.TrimSpace(limitPart))
		if err != nil || n < 0 {
			return nil, dlerrors.Newf(dlerrors.ErrorTypeQuery, "invalid limit clause: %q", strings.TrimSpace(limitPart))
		}
		if n < sel.limit || sel.limit <= 0 {
			sel.limit = n
		}
	}

	return sel, nil
}

// keywordIndex locates a whole-word keyword in a lowercased string.
func keywordIndex(lower, keyword string) int {
	offset := 0
	for {
		idx := strings.Index(lower[offset:], keyword)
		if idx < 0 {
			return -1
		}
		idx += offset
		beforeOK := idx == 0 || lower[idx-1] == ' '
		after := idx + len(keyword)
		afterOK := after == len(lower) || lower[after] == ' '
		if beforeOK && afterOK {
			return idx
		}
		offset = idx + len(keyword)
	}
}

// parseConditions splits an expression on AND and parses each clause as
// "column op literal".
func parseConditions(expr string) ([]condition, error) {
	var conds []condition
	for _, clause := range splitAnd(expr) {
		clause = strings.TrimSpace(clause)
		if clause == "" {
			continue
		}
		cond, err := parseCondition(clause)
		if err != nil {
			return nil, err
		}
		conds = append(conds, cond)
	}
	if len(conds) == 0 {
		return nil, dlerrors.New(dlerrors.ErrorTypeQuery, "empty filter expression")
	}
	return conds, nil
}

func splitAnd(expr string) []string {
	lower := strings.ToLower(expr)
	var parts []string
	start := 0
	offset := 0
	for {
		idx := strings.Index(lower[offset:], "and")
		if idx < 0 {
			break
		}
		idx += offset
		beforeOK := idx > 0 && lower[idx-1] == ' '
		after := idx + len("and")
		afterOK := after < len(lower) && lower[after] == ' '
		if beforeOK && afterOK {
			parts = append(parts, expr[start:idx])
			start = after
		}
		offset = after
	}
	parts = append(parts, expr[start:])
	return parts
}

func parseCondition(clause string) (condition, error) {
	for _, op := range operators {
		idx := strings.Index(clause, op)
		if idx <= 0 {
			continue
		}
		column := strings.TrimSpace(clause[:idx])
		literal := strings.TrimSpace(clause[idx+len(op):])
		if column == "" || literal == "" {
			break
		}
		normalized := op
		if op == "==" {
			normalized = "="
		}
		return condition{column: column, operator: normalized, value: parseLiteral(literal)}, nil
	}
	return condition{}, dlerrors.Newf(dlerrors.ErrorTypeQuery, "unsupported filter clause: %q", clause)
}

// parseLiteral types a filter literal the same way cells are typed, so
// comparisons line up with stored values.
func parseLiteral(literal string) interface{} {
	if len(literal) >= 2 {
		if (literal[0] == '\'' && literal[len(literal)-1] == '\'') ||
			(literal[0] == '"' && literal[len(literal)-1] == '"') {
			return literal[1 : len(literal)-1]
		}
	}
	return parseCell(literal)
}

// evaluate runs the statement against a frame and returns the projected
// columns and matching rows.
func (q *selectQuery) evaluate(f *frame) ([]core.QueryColumn, [][]interface{}, error) {
	indices := make([]int, 0, len(f.columns))
	if q.columns == nil {
		for i := range f.columns {
			indices = append(indices, i)
		}
	} else {
		for _, name := range q.columns {
			idx := columnIndex(f, name)
			if idx < 0 {
				return nil, nil, dlerrors.Newf(dlerrors.ErrorTypeQuery, "unknown column: %s", name)
			}
			indices = append(indices, idx)
		}
	}

	for _, cond := range q.conditions {
		if columnIndex(f, cond.column) < 0 {
			return nil, nil, dlerrors.Newf(dlerrors.ErrorTypeQuery, "unknown column in filter: %s", cond.column)
		}
	}

	columns := make([]core.QueryColumn, len(indices))
	for i, idx := range indices {
		columns[i] = core.QueryColumn{Name: f.columns[idx], Type: f.types[idx]}
	}

	rows := make([][]interface{}, 0)
	for _, row := range f.rows {
		if q.limit > 0 && len(rows) >= q.limit {
			break
		}
		if !q.matches(f, row) {
			continue
		}
		projected := make([]interface{}, len(indices))
		for i, idx := range indices {
			projected[i] = row[idx]
		}
		rows = append(rows, projected)
	}
	return columns, rows, nil
}

func (q *selectQuery) matches(f *frame, row []interface{}) bool {
	for _, cond := range q.conditions {
		idx := columnIndex(f, cond.column)
		if !compare(row[idx], cond.operator, cond.value) {
			return false
		}
	}
	return true
}

func columnIndex(f *frame, name string) int {
	for i, col := range f.columns {
		if col == name {
			return i
		}
	}
	return -1
}

// compare applies one operator. Nulls never match, matching the usual
// SQL three-valued intuition for this grammar.
func compare(cell interface{}, operator string, value interface{}) bool {
	if cell == nil || value == nil {
		return false
	}

	if cf, vf, ok := asFloats(cell, value); ok {
		switch operator {
		case "=":
			return cf == vf
		case "!=":
			return cf != vf
		case ">":
			return cf > vf
		case ">=":
			return cf >= vf
		case "<":
			return cf < vf
		case "<=":
			return cf <= vf
		}
		return false
	}

	cs := stringify(cell)
	vs := stringify(value)
	switch operator {
	case "=":
		return cs == vs
	case "!=":
		return cs != vs
	case ">":
		return cs > vs
	case ">=":
		return cs >= vs
	case "<":
		return cs < vs
	case "<=":
		return cs <= vs
	}
	return false
}

func asFloats(a, b interface{}) (float64, float64, bool) {
	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	return af, bf, aok && bok
}

func toFloat(v interface{}) (float64, bool) {
	switch val := v.(type) {
	case int64:
		return float64(val), true
	case float64:
		return val, true
	default:
		return 0, false
	}
}

func stringify(v interface{}) string {
	switch val := v.(type) {
	case string:
		return val
	case bool:
		return strconv.FormatBool(val)
	case time.Time:
		return val.Format(time.RFC3339)
	default:
		return fmt.Sprintf("%v", val)
	}
}
