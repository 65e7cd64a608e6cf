package restapi

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/datalens-io/datalens/pkg/connector/core"
	dlerrors "github.com/datalens-io/datalens/pkg/errors"
)

func connectServer(t *testing.T, handler http.Handler) (*Connector, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	c := New(core.ConnectionConfig{APIURL: server.URL})
	require.NoError(t, c.Connect(context.Background()))
	t.Cleanup(func() { c.Disconnect(context.Background()) })
	return c, server
}

func jsonHandler(body string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(body))
	})
}

func TestConnectBareArray(t *testing.T) {
	c, _ := connectServer(t, jsonHandler(`[{"id": 1, "name": "ada"}, {"id": 2, "name": "grace"}]`))

	count, err := c.GetTableCount(context.Background(), "data")
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
}

func TestConnectDataEnvelope(t *testing.T) {
	c, _ := connectServer(t, jsonHandler(`{"data": [{"id": 1}, {"id": 2}, {"id": 3}]}`))

	count, err := c.GetTableCount(context.Background(), "data")
	require.NoError(t, err)
	assert.Equal(t, int64(3), count)
}

func TestConnectSingleObject(t *testing.T) {
	c, _ := connectServer(t, jsonHandler(`{"status": "ok", "uptime": 42}`))

	result, err := c.ExecuteQuery(context.Background(), "", core.QueryOptions{})
	require.NoError(t, err)
	require.Len(t, result.Rows, 1)
}

func TestAuthHeadersSent(t *testing.T) {
	var gotAuth, gotCustom string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotCustom = r.Header.Get("X-Tenant")
		_, _ = w.Write([]byte(`[]`))
	}))
	defer server.Close()

	c := New(core.ConnectionConfig{
		APIURL:  server.URL,
		APIKey:  "tok123",
		Headers: map[string]string{"X-Tenant": "acme"},
	})
	require.NoError(t, c.Connect(context.Background()))
	defer c.Disconnect(context.Background())

	assert.Equal(t, "Bearer tok123", gotAuth)
	assert.Equal(t, "acme", gotCustom)
}

func TestGetSchemaInfersTypes(t *testing.T) {
	c, _ := connectServer(t, jsonHandler(
		`[{"id": 1, "score": 9.5, "name": "ada", "tags": ["x"]}, {"id": 2, "score": 7.25, "name": null, "tags": []}]`))

	schema, err := c.GetSchema(context.Background())
	require.NoError(t, err)
	require.Len(t, schema.Tables, 1)
	assert.Equal(t, "data", schema.Tables[0].Name)

	byName := make(map[string]core.ColumnSchema)
	for _, col := range schema.Tables[0].Columns {
		byName[col.Name] = col
	}
	assert.Equal(t, core.FieldTypeInteger, byName["id"].Type)
	assert.Equal(t, core.FieldTypeNumber, byName["score"].Type)
	assert.Equal(t, core.FieldTypeArray, byName["tags"].Type)
	assert.Equal(t, core.FieldTypeString, byName["name"].Type)
	assert.True(t, byName["name"].Nullable)
}

func TestExecuteQueryFilter(t *testing.T) {
	c, _ := connectServer(t, jsonHandler(
		`[{"id": 1, "status": "paid"}, {"id": 2, "status": "open"}, {"id": 3, "status": "paid"}]`))

	result, err := c.ExecuteQuery(context.Background(), "status=paid", core.QueryOptions{})
	require.NoError(t, err)
	assert.Len(t, result.Rows, 2)

	// Numeric values match their string form.
	result, err = c.ExecuteQuery(context.Background(), "id=2&status=open", core.QueryOptions{})
	require.NoError(t, err)
	require.Len(t, result.Rows, 1)
}

func TestExecuteQueryFilterIgnoresMissingKeys(t *testing.T) {
	c, _ := connectServer(t, jsonHandler(
		`[{"id": 1, "status": "paid"}, {"id": 2}, {"id": 3, "status": "open"}]`))

	// A record without the filtered field passes the filter; only a
	// present, differing value excludes it.
	result, err := c.ExecuteQuery(context.Background(), "status=paid", core.QueryOptions{})
	require.NoError(t, err)
	require.Len(t, result.Rows, 2)
}

func TestExecuteQueryEmptyReturnsAll(t *testing.T) {
	c, _ := connectServer(t, jsonHandler(`[{"id": 1}, {"id": 2}]`))

	result, err := c.ExecuteQuery(context.Background(), "", core.QueryOptions{})
	require.NoError(t, err)
	assert.Len(t, result.Rows, 2)
}

func TestExecuteQueryRefetchReplacesCache(t *testing.T) {
	mux := http.NewServeMux()
	mux.Handle("/", jsonHandler(`[{"id": 1}]`))
	mux.Handle("/archive", jsonHandler(`[{"id": 10}, {"id": 11}]`))

	c, _ := connectServer(t, mux)

	result, err := c.ExecuteQuery(context.Background(), "/archive", core.QueryOptions{})
	require.NoError(t, err)
	assert.Len(t, result.Rows, 2)

	// The fetched record set replaced the cache.
	count, err := c.GetTableCount(context.Background(), "data")
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
}

func TestConnectUnauthorized(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	c := New(core.ConnectionConfig{APIURL: server.URL})
	err := c.Connect(context.Background())
	require.Error(t, err)
	assert.True(t, dlerrors.IsType(err, dlerrors.ErrorTypeAuthentication))

	ok, message := c.TestConnection(context.Background())
	assert.False(t, ok)
	assert.Contains(t, message, "authentication failed")
}

func TestConnectNotFound(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	defer server.Close()

	c := New(core.ConnectionConfig{APIURL: server.URL})
	err := c.Connect(context.Background())
	require.Error(t, err)
	assert.True(t, dlerrors.IsType(err, dlerrors.ErrorTypeNotFound))
}

func TestRefetchTimeoutIsTimeoutError(t *testing.T) {
	mux := http.NewServeMux()
	mux.Handle("/", jsonHandler(`[{"id": 1}]`))
	mux.HandleFunc("/slow", func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		_, _ = w.Write([]byte(`[]`))
	})

	c, _ := connectServer(t, mux)

	_, err := c.ExecuteQuery(context.Background(), "/slow", core.QueryOptions{Timeout: time.Millisecond})
	require.Error(t, err)
	assert.True(t, dlerrors.IsType(err, dlerrors.ErrorTypeTimeout))
}

func TestGetSampleDataHead(t *testing.T) {
	c, _ := connectServer(t, jsonHandler(`[{"id": 1}, {"id": 2}, {"id": 3}]`))

	_, rows, err := c.GetSampleData(context.Background(), "data", 2, false)
	require.NoError(t, err)
	assert.Len(t, rows, 2)
}

func TestGetSampleDataRandomDrawsFromWholeCache(t *testing.T) {
	body := "["
	for i := 0; i < 50; i++ {
		if i > 0 {
			body += ","
		}
		body += fmt.Sprintf(`{"id": %d}`, i)
	}
	body += "]"
	c, _ := connectServer(t, jsonHandler(body))

	sawNonPrefix := false
	for trial := 0; trial < 20; trial++ {
		_, rows, err := c.GetSampleData(context.Background(), "data", 3, true)
		require.NoError(t, err)
		require.Len(t, rows, 3)

		// No record may be drawn twice within one sample.
		seen := make(map[interface{}]bool)
		for i, row := range rows {
			assert.False(t, seen[row[0]], "record %v sampled twice", row[0])
			seen[row[0]] = true
			if row[0] != int64(i) {
				sawNonPrefix = true
			}
		}
	}
	assert.True(t, sawNonPrefix, "every draw returned the positional prefix")
}

func TestGetSampleDataRandomSizeClamped(t *testing.T) {
	c, _ := connectServer(t, jsonHandler(`[{"id": 1}, {"id": 2}]`))

	_, rows, err := c.GetSampleData(context.Background(), "data", 10, true)
	require.NoError(t, err)
	assert.Len(t, rows, 2)
}

func TestDecodeRecordsRejectsScalars(t *testing.T) {
	_, err := decodeRecords([]byte(`"just a string"`))
	require.Error(t, err)
	assert.True(t, dlerrors.IsType(err, dlerrors.ErrorTypeData))

	_, err = decodeRecords([]byte(`[1, 2, 3]`))
	require.Error(t, err)
}
