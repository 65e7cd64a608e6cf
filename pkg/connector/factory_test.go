package connector

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/datalens-io/datalens/pkg/connector/core"
	dlerrors "github.com/datalens-io/datalens/pkg/errors"
)

func TestParseSourceType(t *testing.T) {
	for _, tag := range []string{"postgresql", "mysql", "mongodb", "csv", "rest_api"} {
		t.Run(tag, func(t *testing.T) {
			st, err := ParseSourceType(tag)
			require.NoError(t, err)
			assert.Equal(t, core.SourceType(tag), st)
		})
	}

	_, err := ParseSourceType("oracle")
	require.Error(t, err)
	assert.True(t, dlerrors.IsType(err, dlerrors.ErrorTypeConfig))
}

func TestNewBuildsEveryBackend(t *testing.T) {
	for _, st := range []core.SourceType{
		core.SourceTypePostgreSQL, core.SourceTypeMySQL, core.SourceTypeMongoDB,
		core.SourceTypeCSV, core.SourceTypeRESTAPI,
	} {
		t.Run(string(st), func(t *testing.T) {
			conn, err := New(st, core.ConnectionConfig{})
			require.NoError(t, err)
			assert.Equal(t, st, conn.Type())
			assert.Equal(t, core.StateDisconnected, conn.State())
		})
	}
}

func TestNewUnknownType(t *testing.T) {
	_, err := New(core.SourceType("sqlite"), core.ConnectionConfig{})
	require.Error(t, err)
	assert.True(t, dlerrors.IsType(err, dlerrors.ErrorTypeConfig))
}

func TestNewPostgresSynthesizesDSN(t *testing.T) {
	conn, err := New(core.SourceTypePostgreSQL, core.ConnectionConfig{
		Host: "db.local", Port: 5433, Username: "app", Password: "pw", Database: "analytics",
	})
	require.NoError(t, err)

	type configured interface {
		Config() core.ConnectionConfig
	}
	cfg := conn.(configured).Config()
	assert.Equal(t, "postgres://app:pw@db.local:5433/analytics", cfg.ConnectionString)
}

func TestNewPostgresKeepsExplicitConnectionString(t *testing.T) {
	conn, err := New(core.SourceTypePostgreSQL, core.ConnectionConfig{
		ConnectionString: "postgres://explicit/db",
		Host:             "ignored",
	})
	require.NoError(t, err)

	type configured interface {
		Config() core.ConnectionConfig
	}
	cfg := conn.(configured).Config()
	assert.Equal(t, "postgres://explicit/db", cfg.ConnectionString)
}
