package base

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApplyRowLimit(t *testing.T) {
	tests := []struct {
		name  string
		query string
		want  string
	}{
		{
			name:  "bare select gets a limit",
			query: "SELECT * FROM users",
			want:  "SELECT * FROM users LIMIT 100",
		},
		{
			name:  "trailing semicolon stripped before injection",
			query: "SELECT * FROM users;",
			want:  "SELECT * FROM users LIMIT 100",
		},
		{
			name:  "existing limit untouched",
			query: "SELECT * FROM users LIMIT 5",
			want:  "SELECT * FROM users LIMIT 5",
		},
		{
			name:  "lowercase limit untouched",
			query: "select * from users limit 5",
			want:  "select * from users limit 5",
		},
		{
			name:  "non-select untouched",
			query: "EXPLAIN SELECT * FROM users",
			want:  "EXPLAIN SELECT * FROM users",
		},
		{
			// The substring check cannot see that the limit belongs to the
			// subquery, so the outer statement stays unbounded.
			name:  "limit inside subquery suppresses injection",
			query: "SELECT * FROM (SELECT * FROM users LIMIT 10) sub",
			want:  "SELECT * FROM (SELECT * FROM users LIMIT 10) sub",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ApplyRowLimit(tt.query, 100))
		})
	}
}

func TestSampleSQL(t *testing.T) {
	assert.Equal(t, "SELECT * FROM users LIMIT 10", SampleSQL("users", 10, false, "RANDOM()"))
	assert.Equal(t, "SELECT * FROM users ORDER BY RANDOM() LIMIT 10", SampleSQL("users", 10, true, "RANDOM()"))
	assert.Equal(t, "SELECT * FROM users ORDER BY RAND() LIMIT 10", SampleSQL("users", 10, true, "RAND()"))
}

func TestToInt64(t *testing.T) {
	tests := []struct {
		name  string
		value interface{}
		want  int64
	}{
		{"int64", int64(7), 7},
		{"int32", int32(7), 7},
		{"int", 7, 7},
		{"uint64", uint64(7), 7},
		{"float64", float64(7), 7},
		{"string", "7", 7},
		{"bytes", []byte("7"), 7},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ToInt64(tt.value)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := ToInt64("not a number")
	assert.Error(t, err)

	_, err = ToInt64(struct{}{})
	assert.Error(t, err)
}
