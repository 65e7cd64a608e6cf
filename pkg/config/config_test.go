package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dlerrors "github.com/datalens-io/datalens/pkg/errors"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadJSON(t *testing.T) {
	path := writeFile(t, "source.json", `{
		"name": "orders-db",
		"type": "postgresql",
		"connection": {
			"host": "db.local",
			"port": 5433,
			"username": "app",
			"database": "orders"
		}
	}`)

	src, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "orders-db", src.Name)
	assert.Equal(t, "postgresql", src.Type)
	assert.Equal(t, "db.local", src.Connection.Host)
	assert.Equal(t, 5433, src.Connection.Port)
}

func TestLoadYAML(t *testing.T) {
	path := writeFile(t, "source.yaml", `
name: events
type: mongodb
connection:
  host: mongo.local
  database: events
`)

	src, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "mongodb", src.Type)
	assert.Equal(t, "events", src.Connection.Database)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load("/nonexistent/source.json")
	require.Error(t, err)
	assert.True(t, dlerrors.IsType(err, dlerrors.ErrorTypeConfig))
}

func TestLoadMissingType(t *testing.T) {
	path := writeFile(t, "source.json", `{"connection": {"host": "x"}}`)

	_, err := Load(path)
	require.Error(t, err)
	assert.True(t, dlerrors.IsType(err, dlerrors.ErrorTypeConfig))
}
