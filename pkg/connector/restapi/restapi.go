// Package restapi implements the datalens connector contract for JSON
// HTTP endpoints. The endpoint's record set is fetched once and cached;
// queries either filter the cache or re-fetch it from another path.
package restapi

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"sort"
	"strings"

	gojson "github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/datalens-io/datalens/pkg/connector/base"
	"github.com/datalens-io/datalens/pkg/connector/core"
	dlerrors "github.com/datalens-io/datalens/pkg/errors"
	"github.com/datalens-io/datalens/pkg/metrics"
)

// tableName is the single implicit table a REST endpoint exposes.
const tableName = "data"

// schemaSampleSize bounds how many cached records feed schema inference.
const schemaSampleSize = 100

// Connector is the cached-HTTP connector. The record cache is mutable
// per instance with no internal locking; a re-fetch replaces it in
// place.
type Connector struct {
	*base.Connector

	client  *http.Client
	records []map[string]interface{}
}

// New creates a REST connector from the given configuration.
func New(config core.ConnectionConfig) *Connector {
	return &Connector{
		Connector: base.NewConnector(core.SourceTypeRESTAPI, config),
		client:    &http.Client{},
	}
}

// Connect fetches the configured endpoint and caches its records.
func (c *Connector) Connect(ctx context.Context) error {
	if c.IsConnected() {
		return nil
	}
	c.BeginConnect()

	records, err := c.fetch(ctx, c.Config().APIURL)
	if err != nil {
		c.EndConnect(err)
		return err
	}

	c.records = records
	c.EndConnect(nil)
	c.Logger().Info("rest endpoint cached", zap.Int("records", len(records)))
	return nil
}

// Disconnect drops the cached records. Idempotent.
func (c *Connector) Disconnect(ctx context.Context) {
	if c.records != nil {
		c.records = nil
		c.Logger().Info("rest cache released")
	}
	c.EndDisconnect()
}

// TestConnection performs a GET against the endpoint and classifies the
// outcome.
func (c *Connector) TestConnection(ctx context.Context) (bool, string) {
	probeCtx, cancel := context.WithTimeout(ctx, core.TestConnectionTimeout)
	defer cancel()

	if _, err := c.fetch(probeCtx, c.Config().APIURL); err != nil {
		return false, err.Error()
	}
	return true, ""
}

// fetch GETs a URL (absolute, or a path resolved against the configured
// endpoint) and normalizes its JSON body into records.
func (c *Connector) fetch(ctx context.Context, target string) ([]map[string]interface{}, error) {
	resolved, err := c.resolveURL(target)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, resolved, nil)
	if err != nil {
		return nil, dlerrors.Wrap(err, dlerrors.ErrorTypeConfig, "invalid api url")
	}
	config := c.Config()
	if config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+config.APIKey)
	}
	for k, v := range config.Headers {
		req.Header.Set(k, v)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, dlerrors.Wrap(err, dlerrors.ErrorTypeTimeout, "api request timed out")
		}
		return nil, dlerrors.Wrapf(err, dlerrors.ErrorTypeConnection, "could not connect to %s", resolved)
	}
	defer func() { _ = resp.Body.Close() }()

	switch resp.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return nil, dlerrors.Newf(dlerrors.ErrorTypeAuthentication, "authentication failed: status %d", resp.StatusCode)
	case http.StatusNotFound:
		return nil, dlerrors.Newf(dlerrors.ErrorTypeNotFound, "endpoint not found: %s", resolved)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, dlerrors.Newf(dlerrors.ErrorTypeConnection, "api error: status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, dlerrors.Wrap(err, dlerrors.ErrorTypeData, "failed to read response body")
	}
	return decodeRecords(body)
}

// resolveURL accepts an absolute http(s) URL or a path relative to the
// configured endpoint.
func (c *Connector) resolveURL(target string) (string, error) {
	if target == "" {
		target = c.Config().APIURL
	}
	if target == "" {
		return "", dlerrors.New(dlerrors.ErrorTypeConfig, "api_url must be provided")
	}
	if strings.HasPrefix(target, "http://") || strings.HasPrefix(target, "https://") {
		return target, nil
	}

	baseURL, err := url.Parse(c.Config().APIURL)
	if err != nil || baseURL.Host == "" {
		return "", dlerrors.Newf(dlerrors.ErrorTypeConfig, "invalid api url: %s", c.Config().APIURL)
	}
	ref, err := url.Parse(target)
	if err != nil {
		return "", dlerrors.Newf(dlerrors.ErrorTypeQuery, "invalid request path: %s", target)
	}
	return baseURL.ResolveReference(ref).String(), nil
}

// decodeRecords normalizes the three accepted body shapes: a bare array
// of objects, an envelope {"data": [...]}, or a single object treated as
// a one-record set. Numbers decode as json.Number so integers survive.
func decodeRecords(body []byte) ([]map[string]interface{}, error) {
	decoder := gojson.NewDecoder(bytes.NewReader(body))
	decoder.UseNumber()

	var decoded interface{}
	if err := decoder.Decode(&decoded); err != nil {
		return nil, dlerrors.Wrap(err, dlerrors.ErrorTypeData, "response is not valid JSON")
	}

	switch v := decoded.(type) {
	case []interface{}:
		return toRecords(v)
	case map[string]interface{}:
		if data, ok := v["data"]; ok {
			if list, ok := data.([]interface{}); ok {
				return toRecords(list)
			}
		}
		return []map[string]interface{}{v}, nil
	default:
		return nil, dlerrors.New(dlerrors.ErrorTypeData, "unsupported response shape, expected object or array")
	}
}

func toRecords(list []interface{}) ([]map[string]interface{}, error) {
	records := make([]map[string]interface{}, 0, len(list))
	for _, item := range list {
		record, ok := item.(map[string]interface{})
		if !ok {
			return nil, dlerrors.New(dlerrors.ErrorTypeData, "array items must be JSON objects")
		}
		records = append(records, record)
	}
	return records, nil
}

// GetSchema infers the single-table schema from up to schemaSampleSize
// cached records.
func (c *Connector) GetSchema(ctx context.Context) (*core.DatabaseSchema, error) {
	if err := c.Connect(ctx); err != nil {
		return nil, err
	}
	metrics.SchemaIntrospections.WithLabelValues(string(core.SourceTypeRESTAPI)).Inc()

	sample := c.records
	if len(sample) > schemaSampleSize {
		sample = sample[:schemaSampleSize]
	}

	fields := recordFields(sample)
	fieldTypes := make(map[string]*core.TypeSet, len(fields))
	for _, field := range fields {
		fieldTypes[field] = core.NewTypeSet()
	}
	for _, record := range sample {
		for _, field := range fields {
			value, ok := record[field]
			if !ok {
				fieldTypes[field].Add(core.FieldTypeNull)
				continue
			}
			fieldTypes[field].AddValue(value)
		}
	}

	columns := make([]core.ColumnSchema, 0, len(fields))
	for _, field := range fields {
		fieldType, nullable := fieldTypes[field].Resolve()
		columns = append(columns, core.ColumnSchema{
			Name:     field,
			Type:     fieldType,
			Nullable: nullable,
		})
	}

	return &core.DatabaseSchema{
		Tables: []core.TableSchema{{
			Name:     tableName,
			Columns:  columns,
			RowCount: int64(len(c.records)),
		}},
	}, nil
}

// ExecuteQuery either re-fetches from a path or URL, replacing the
// cache, or filters the cached records with an &-joined key=value
// expression. An empty query returns the whole cache.
func (c *Connector) ExecuteQuery(ctx context.Context, query string, opts core.QueryOptions) (*core.QueryResult, error) {
	if err := c.Connect(ctx); err != nil {
		return nil, err
	}
	opts = opts.Normalize()

	query = strings.TrimSpace(query)
	var matched []map[string]interface{}

	elapsed, err := c.ExecuteTimed(ctx, opts.Timeout, func(execCtx context.Context) error {
		if strings.HasPrefix(query, "/") || strings.HasPrefix(query, "http") {
			records, err := c.fetch(execCtx, query)
			if err != nil {
				return err
			}
			c.records = records
			matched = records
			return nil
		}

		filter, err := parseFilter(query)
		if err != nil {
			return err
		}
		matched = applyFilter(c.records, filter)
		return nil
	})
	if err != nil {
		return nil, err
	}

	if len(matched) > opts.Limit {
		matched = matched[:opts.Limit]
	}
	columns, rows := recordsToResult(matched)
	return &core.QueryResult{Columns: columns, Rows: rows, ElapsedMS: elapsed}, nil
}

// parseFilter decodes "key=value&key=value" into equality pairs.
func parseFilter(query string) (map[string]string, error) {
	filter := make(map[string]string)
	if query == "" {
		return filter, nil
	}
	for _, pair := range strings.Split(query, "&") {
		key, value, ok := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, dlerrors.Newf(dlerrors.ErrorTypeQuery, "invalid filter pair: %q", pair)
		}
		filter[key] = strings.TrimSpace(value)
	}
	return filter, nil
}

// applyFilter keeps records whose stringified field values equal every
// filter value. A record missing a filter key is not excluded; only a
// present, differing value filters it out.
func applyFilter(records []map[string]interface{}, filter map[string]string) []map[string]interface{} {
	if len(filter) == 0 {
		return records
	}
	matched := make([]map[string]interface{}, 0)
	for _, record := range records {
		ok := true
		for key, want := range filter {
			if value, present := record[key]; present && stringifyValue(value) != want {
				ok = false
				break
			}
		}
		if ok {
			matched = append(matched, record)
		}
	}
	return matched
}

func stringifyValue(v interface{}) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case gojson.Number:
		return val.String()
	case bool:
		if val {
			return "true"
		}
		return "false"
	default:
		return fmt.Sprintf("%v", val)
	}
}

// GetSampleData draws cached records, randomly without replacement or
// as a head selection.
func (c *Connector) GetSampleData(ctx context.Context, table string, size int, random bool) ([]core.QueryColumn, [][]interface{}, error) {
	if err := c.Connect(ctx); err != nil {
		return nil, nil, err
	}
	if size <= 0 {
		size = core.DefaultSampleSize
	}
	if size > len(c.records) {
		size = len(c.records)
	}

	var sample []map[string]interface{}
	if random {
		perm := rand.Perm(len(c.records))
		sample = make([]map[string]interface{}, 0, size)
		for _, idx := range perm[:size] {
			sample = append(sample, c.records[idx])
		}
	} else {
		sample = c.records[:size]
	}

	columns, rows := recordsToResult(sample)
	return columns, rows, nil
}

// GetTableCount reports the cached record count.
func (c *Connector) GetTableCount(ctx context.Context, table string) (int64, error) {
	if err := c.Connect(ctx); err != nil {
		return 0, err
	}
	return int64(len(c.records)), nil
}

// recordFields collects the union of field names across records, sorted
// for deterministic column order.
func recordFields(records []map[string]interface{}) []string {
	seen := make(map[string]struct{})
	var fields []string
	for _, record := range records {
		for key := range record {
			if _, ok := seen[key]; !ok {
				seen[key] = struct{}{}
				fields = append(fields, key)
			}
		}
	}
	sort.Strings(fields)
	return fields
}

// recordsToResult normalizes records into the common result shape.
// Missing fields become explicit nils.
func recordsToResult(records []map[string]interface{}) ([]core.QueryColumn, [][]interface{}) {
	if len(records) == 0 {
		return []core.QueryColumn{}, [][]interface{}{}
	}

	fields := recordFields(records)
	fieldTypes := make(map[string]*core.TypeSet, len(fields))
	for _, field := range fields {
		fieldTypes[field] = core.NewTypeSet()
	}
	for _, record := range records {
		for _, field := range fields {
			if value, ok := record[field]; ok {
				fieldTypes[field].AddValue(value)
			}
		}
	}

	columns := make([]core.QueryColumn, len(fields))
	for i, field := range fields {
		fieldType, _ := fieldTypes[field].Resolve()
		columns[i] = core.QueryColumn{Name: field, Type: fieldType}
	}

	rows := make([][]interface{}, 0, len(records))
	for _, record := range records {
		row := make([]interface{}, len(fields))
		for i, field := range fields {
			row[i] = convertValue(record[field])
		}
		rows = append(rows, row)
	}
	return columns, rows
}

// convertValue flattens decoder artifacts into plain Go values.
func convertValue(v interface{}) interface{} {
	switch val := v.(type) {
	case gojson.Number:
		if n, err := val.Int64(); err == nil {
			return n
		}
		if f, err := val.Float64(); err == nil {
			return f
		}
		return val.String()
	case []interface{}:
		converted := make([]interface{}, len(val))
		for i, item := range val {
			converted[i] = convertValue(item)
		}
		return converted
	case map[string]interface{}:
		converted := make(map[string]interface{}, len(val))
		for k, item := range val {
			converted[k] = convertValue(item)
		}
		return converted
	default:
		return v
	}
}
