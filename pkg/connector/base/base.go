// Package base provides the shared behavior connectors build on: the
// lifecycle state machine, timed query execution with timeout
// classification, the scoped session guard, and the relational helpers
// (row-limit injection, sample SQL, default row counting).
package base

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/datalens-io/datalens/pkg/connector/core"
	dlerrors "github.com/datalens-io/datalens/pkg/errors"
	"github.com/datalens-io/datalens/pkg/logger"
	"github.com/datalens-io/datalens/pkg/metrics"
)

// Connector carries the state and plumbing shared by every backend
// implementation. Concrete connectors embed it.
type Connector struct {
	sourceType core.SourceType
	config     core.ConnectionConfig
	log        *zap.Logger

	mu    sync.RWMutex
	state core.State
	// held tracks whether backend resources are currently open. It is
	// independent of state: a failed query moves state to Errored while
	// the pool or client underneath is still alive.
	held bool
}

// NewConnector creates the embedded base for a backend connector.
func NewConnector(sourceType core.SourceType, config core.ConnectionConfig) *Connector {
	return &Connector{
		sourceType: sourceType,
		config:     config,
		log:        logger.With(zap.String("connector", string(sourceType))),
		state:      core.StateDisconnected,
	}
}

// Type returns the backend family.
func (c *Connector) Type() core.SourceType {
	return c.sourceType
}

// Config returns the connection configuration.
func (c *Connector) Config() core.ConnectionConfig {
	return c.config
}

// Logger returns the connector-scoped logger.
func (c *Connector) Logger() *zap.Logger {
	return c.log
}

// State reports the current lifecycle state.
func (c *Connector) State() core.State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

func (c *Connector) setState(s core.State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// IsConnected reports whether the connector currently holds backend
// resources (Connected or mid-query).
func (c *Connector) IsConnected() bool {
	s := c.State()
	return s == core.StateConnected || s == core.StateQuerying
}

// BeginConnect transitions to Connecting.
func (c *Connector) BeginConnect() {
	c.setState(core.StateConnecting)
}

// EndConnect finishes a connect attempt. On success the connector is
// Connected and the active-connection gauge is bumped, once per held
// backend handle even across Errored-state reconnects; on failure it is
// Errored.
func (c *Connector) EndConnect(err error) {
	if err != nil {
		c.setState(core.StateErrored)
		return
	}

	c.mu.Lock()
	alreadyHeld := c.held
	c.state = core.StateConnected
	c.held = true
	c.mu.Unlock()

	if !alreadyHeld {
		metrics.ConnectionOpened(string(c.sourceType))
	}
}

// EndDisconnect transitions to Disconnected. Safe to call repeatedly;
// the gauge is decremented exactly when resources were held, regardless
// of the lifecycle state they were released from.
func (c *Connector) EndDisconnect() {
	c.mu.Lock()
	wasHeld := c.held
	c.held = false
	c.state = core.StateDisconnected
	c.mu.Unlock()

	if wasHeld {
		metrics.ConnectionClosed(string(c.sourceType))
	}
}

// ExecuteTimed runs fn under the caller-supplied wall-clock timeout,
// transitioning through Querying and measuring elapsed milliseconds
// strictly around the call. Deadline expiry is classified as a distinct
// timeout error, never as a query error, and no partial results survive
// it. The backend call is cancelled cooperatively where the driver
// supports context cancellation; otherwise the caller is unblocked while
// the backend finishes server-side.
func (c *Connector) ExecuteTimed(ctx context.Context, timeout time.Duration, fn func(ctx context.Context) error) (int64, error) {
	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	c.setState(core.StateQuerying)
	start := time.Now()
	err := fn(execCtx)
	elapsed := time.Since(start)

	if err != nil && (errors.Is(err, context.DeadlineExceeded) || execCtx.Err() == context.DeadlineExceeded) {
		err = dlerrors.Wrap(err, dlerrors.ErrorTypeTimeout, "query timed out").
			WithDetail("timeout", timeout.String())
	}

	metrics.ObserveQuery(string(c.sourceType), elapsed, err)

	if err != nil {
		c.setState(core.StateErrored)
		return elapsed.Milliseconds(), err
	}

	c.setState(core.StateConnected)
	return elapsed.Milliseconds(), nil
}
