package csvfile

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseQuery(t *testing.T) {
	tests := []struct {
		name      string
		query     string
		wantCols  []string
		wantConds int
		wantLimit int
		wantErr   bool
	}{
		{
			name:      "select star",
			query:     "SELECT *",
			wantCols:  nil,
			wantLimit: 100,
		},
		{
			name:      "projection with from and limit",
			query:     "select id, name from data limit 10",
			wantCols:  []string{"id", "name"},
			wantLimit: 10,
		},
		{
			name:      "where with multiple conditions",
			query:     "SELECT * WHERE age >= 18 AND city != 'Oslo'",
			wantConds: 2,
			wantLimit: 100,
		},
		{
			name:      "bare filter expression",
			query:     "age > 30",
			wantConds: 1,
			wantLimit: 100,
		},
		{
			name:      "statement limit never exceeds the option limit",
			query:     "SELECT * LIMIT 500",
			wantLimit: 100,
		},
		{name: "empty", query: "  ", wantErr: true},
		{name: "bad limit", query: "SELECT * LIMIT abc", wantErr: true},
		{name: "empty select list", query: "SELECT FROM data", wantErr: true},
		{name: "unparseable clause", query: "SELECT * WHERE age ~ 30", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sel, err := parseQuery(tt.query, 100)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantCols, sel.columns)
			assert.Len(t, sel.conditions, tt.wantConds)
			assert.Equal(t, tt.wantLimit, sel.limit)
		})
	}
}

func TestParseConditionOperators(t *testing.T) {
	cond, err := parseCondition("age >= 18")
	require.NoError(t, err)
	assert.Equal(t, "age", cond.column)
	assert.Equal(t, ">=", cond.operator)
	assert.Equal(t, int64(18), cond.value)

	// Double equals normalizes to a single equality operator.
	cond, err = parseCondition("name == bob")
	require.NoError(t, err)
	assert.Equal(t, "=", cond.operator)
	assert.Equal(t, "bob", cond.value)
}

func TestCompare(t *testing.T) {
	assert.True(t, compare(int64(5), ">", int64(4)))
	assert.True(t, compare(5.5, ">=", int64(5)))
	assert.True(t, compare("b", ">", "a"))
	assert.True(t, compare(int64(5), "!=", int64(4)))
	assert.False(t, compare(int64(5), "=", int64(4)))

	// Nulls never match any comparison.
	assert.False(t, compare(nil, "=", int64(4)))
	assert.False(t, compare(nil, "!=", int64(4)))
}
