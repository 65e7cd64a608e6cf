package core

import (
	"math"
	"reflect"
	"strings"
	"time"

	gojson "github.com/goccy/go-json"
)

// sqlTypePatterns is the priority-ordered substring-match table mapping
// native SQL type names onto the canonical set. First match wins, so
// "timestamp" resolves before the bare "date" pattern and "jsonb" hits
// the json pattern.
var sqlTypePatterns = []struct {
	substrings []string
	fieldType  FieldType
}{
	{[]string{"int", "serial"}, FieldTypeInteger},
	{[]string{"float", "double", "decimal", "numeric", "real"}, FieldTypeNumber},
	{[]string{"bool"}, FieldTypeBoolean},
	{[]string{"json"}, FieldTypeJSON},
	{[]string{"uuid"}, FieldTypeUUID},
	{[]string{"array"}, FieldTypeArray},
	{[]string{"time", "timestamp"}, FieldTypeDateTime},
	{[]string{"date"}, FieldTypeDate},
}

// MapSQLType maps a native SQL type name to its canonical type. Matching
// is case-insensitive and idempotent: "int4", "INTEGER", and "BIGINT" all
// resolve to integer. Unrecognized types resolve to string.
func MapSQLType(sqlType string) FieldType {
	lower := strings.ToLower(sqlType)
	for _, p := range sqlTypePatterns {
		for _, sub := range p.substrings {
			if strings.Contains(lower, sub) {
				return p.fieldType
			}
		}
	}
	return FieldTypeString
}

// InferValueType classifies a runtime value by its dynamic kind. It is
// used by the schemaless backends (document store, HTTP, tabular frame)
// where no declared schema exists.
func InferValueType(value interface{}) FieldType {
	if value == nil {
		return FieldTypeNull
	}

	switch v := value.(type) {
	case bool:
		return FieldTypeBoolean
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return FieldTypeInteger
	case float32:
		if float64(v) == math.Trunc(float64(v)) {
			return FieldTypeInteger
		}
		return FieldTypeNumber
	case float64:
		if v == math.Trunc(v) {
			return FieldTypeInteger
		}
		return FieldTypeNumber
	case gojson.Number:
		if _, err := v.Int64(); err == nil {
			return FieldTypeInteger
		}
		return FieldTypeNumber
	case string:
		return FieldTypeString
	case time.Time:
		return FieldTypeDateTime
	case []byte:
		return FieldTypeString
	}

	switch reflect.TypeOf(value).Kind() {
	case reflect.Slice, reflect.Array:
		return FieldTypeArray
	case reflect.Map, reflect.Struct:
		return FieldTypeObject
	case reflect.Ptr:
		rv := reflect.ValueOf(value)
		if rv.IsNil() {
			return FieldTypeNull
		}
		return InferValueType(rv.Elem().Interface())
	default:
		return FieldTypeString
	}
}

// TypeSet accumulates the canonical types observed for one field across a
// sample, then resolves them to a single type.
type TypeSet struct {
	types map[FieldType]struct{}
}

// NewTypeSet returns an empty TypeSet.
func NewTypeSet() *TypeSet {
	return &TypeSet{types: make(map[FieldType]struct{})}
}

// Add records one observed type.
func (ts *TypeSet) Add(t FieldType) {
	ts.types[t] = struct{}{}
}

// AddValue infers and records the type of one observed value.
func (ts *TypeSet) AddValue(value interface{}) {
	ts.Add(InferValueType(value))
}

// Resolve collapses the observed set to one canonical type plus a
// nullable flag. Null observations alongside exactly one concrete type
// make the field nullable rather than mixed; two or more concrete types
// resolve to mixed.
func (ts *TypeSet) Resolve() (FieldType, bool) {
	nullable := false
	concrete := make([]FieldType, 0, len(ts.types))
	for t := range ts.types {
		if t == FieldTypeNull {
			nullable = true
			continue
		}
		concrete = append(concrete, t)
	}

	switch len(concrete) {
	case 0:
		return FieldTypeNull, true
	case 1:
		return concrete[0], nullable
	default:
		return FieldTypeMixed, nullable
	}
}

// Len returns the number of distinct observed types.
func (ts *TypeSet) Len() int {
	return len(ts.types)
}
