package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	err := New(ErrorTypeConnection, "could not connect")

	assert.Equal(t, ErrorTypeConnection, err.Type)
	assert.Equal(t, "connection: could not connect", err.Error())
	assert.NotEmpty(t, err.Stack)
}

func TestWrapPreservesCause(t *testing.T) {
	cause := errors.New("dial tcp: connection refused")
	err := Wrap(cause, ErrorTypeConnection, "could not connect to server")

	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "connection refused")
}

func TestWrapNil(t *testing.T) {
	assert.Nil(t, Wrap(nil, ErrorTypeQuery, "ignored"))
}

func TestWrapKeepsInnerStack(t *testing.T) {
	inner := New(ErrorTypeQuery, "syntax error")
	outer := Wrap(inner, ErrorTypeInternal, "request failed")

	require.NotEmpty(t, outer.Stack)
	assert.Equal(t, inner.Stack[0], outer.Stack[0])
}

func TestWrapf(t *testing.T) {
	err := Wrapf(errors.New("boom"), ErrorTypeConnection, "could not connect to %s:%d", "db.local", 5432)
	assert.Contains(t, err.Message, "db.local:5432")
}

func TestIsType(t *testing.T) {
	err := New(ErrorTypeTimeout, "query timed out")

	assert.True(t, IsType(err, ErrorTypeTimeout))
	assert.False(t, IsType(err, ErrorTypeQuery))
	assert.False(t, IsType(errors.New("plain"), ErrorTypeTimeout))

	// Classification survives fmt wrapping.
	wrapped := fmt.Errorf("outer: %w", err)
	assert.True(t, IsType(wrapped, ErrorTypeTimeout))
}

func TestTypeOf(t *testing.T) {
	assert.Equal(t, ErrorTypeSchema, TypeOf(New(ErrorTypeSchema, "x")))
	assert.Equal(t, ErrorTypeInternal, TypeOf(errors.New("plain")))
}

func TestIsConnectionError(t *testing.T) {
	tests := []struct {
		errType ErrorType
		want    bool
	}{
		{ErrorTypeConnection, true},
		{ErrorTypeAuthentication, true},
		{ErrorTypeNotFound, true},
		{ErrorTypeQuery, false},
		{ErrorTypeTimeout, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.errType), func(t *testing.T) {
			assert.Equal(t, tt.want, IsConnectionError(New(tt.errType, "x")))
		})
	}
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(New(ErrorTypeConnection, "x")))
	assert.True(t, IsRetryable(New(ErrorTypeTimeout, "x")))
	assert.False(t, IsRetryable(New(ErrorTypeAuthentication, "x")))
	assert.False(t, IsRetryable(New(ErrorTypeQuery, "x")))
}

func TestWithDetail(t *testing.T) {
	err := New(ErrorTypeTimeout, "query timed out").WithDetail("timeout", "30s")
	assert.Equal(t, "30s", err.Details["timeout"])
}
