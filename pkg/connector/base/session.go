package base

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/datalens-io/datalens/pkg/connector/core"
	"github.com/datalens-io/datalens/pkg/logger"
)

// WithSession runs fn inside a scoped connector session: Connect on
// entry, Disconnect on every exit path including panics. Each session
// gets a correlation id in the log fields.
func WithSession(ctx context.Context, c core.Connector, fn func(ctx context.Context) error) error {
	log := logger.With(
		zap.String("session_id", uuid.NewString()),
		zap.String("source_type", string(c.Type())),
	)

	if err := c.Connect(ctx); err != nil {
		log.Error("session connect failed", zap.Error(err))
		return err
	}
	defer c.Disconnect(ctx)

	log.Debug("session opened")
	if err := fn(ctx); err != nil {
		log.Warn("session operation failed", zap.Error(err))
		return err
	}
	log.Debug("session closed")
	return nil
}
