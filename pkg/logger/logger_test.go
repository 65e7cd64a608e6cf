package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// The init guard is package-global, so the failed-Init path and the
// recovery path have to be exercised in one test.
func TestGetRecoversFromFailedInit(t *testing.T) {
	err := Init(Config{Level: "not-a-level", Encoding: "json"})
	require.Error(t, err)

	logger := Get()
	require.NotNil(t, logger)
	assert.NotPanics(t, func() {
		logger.Info("recovered")
		With(zap.String("source_type", "csv")).Debug("child logger")
	})

	// Later Get calls reuse the fallback.
	assert.Same(t, logger, Get())
}
