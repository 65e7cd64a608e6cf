// Package csvfile implements the datalens connector contract for CSV
// files. The whole file is loaded into a typed in-memory frame on
// connect, from a local path, an http(s) URL, or an s3:// object key,
// with transparent gzip decompression.
package csvfile

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/klauspost/compress/gzip"
	"go.uber.org/zap"

	"github.com/datalens-io/datalens/pkg/connector/base"
	"github.com/datalens-io/datalens/pkg/connector/core"
	dlerrors "github.com/datalens-io/datalens/pkg/errors"
	"github.com/datalens-io/datalens/pkg/metrics"
)

// tableName is the single implicit table every CSV source exposes.
const tableName = "data"

// frame is the typed in-memory representation of a loaded file. Missing
// cells are explicit nils.
type frame struct {
	columns  []string
	types    []core.FieldType
	nullable []bool
	rows     [][]interface{}
}

// Connector is the tabular file connector. The frame is mutable per
// instance with no internal locking; concurrent queries racing a reload
// are not isolated from each other.
type Connector struct {
	*base.Connector

	frame *frame
}

// New creates a CSV connector from the given configuration.
func New(config core.ConnectionConfig) *Connector {
	return &Connector{
		Connector: base.NewConnector(core.SourceTypeCSV, config),
	}
}

// Connect loads the whole file into the in-memory frame.
func (c *Connector) Connect(ctx context.Context) error {
	if c.IsConnected() {
		return nil
	}
	c.BeginConnect()

	reader, closeFn, err := c.open(ctx)
	if err != nil {
		c.EndConnect(err)
		return err
	}
	defer closeFn()

	f, err := loadFrame(reader)
	if err != nil {
		c.EndConnect(err)
		return err
	}

	c.frame = f
	c.EndConnect(nil)
	c.Logger().Info("csv loaded",
		zap.Int("rows", len(f.rows)), zap.Int("columns", len(f.columns)))
	return nil
}

// Disconnect drops the frame. Idempotent.
func (c *Connector) Disconnect(ctx context.Context) {
	if c.frame != nil {
		c.frame = nil
		c.Logger().Info("csv frame released")
	}
	c.EndDisconnect()
}

// TestConnection verifies the file is reachable and parseable by
// reading its header row only.
func (c *Connector) TestConnection(ctx context.Context) (bool, string) {
	probeCtx, cancel := context.WithTimeout(ctx, core.TestConnectionTimeout)
	defer cancel()

	reader, closeFn, err := c.open(probeCtx)
	if err != nil {
		return false, err.Error()
	}
	defer closeFn()

	if _, err := csv.NewReader(reader).Read(); err != nil {
		if err == io.EOF {
			return false, "csv file is empty"
		}
		return false, fmt.Sprintf("csv parsing error: %v", err)
	}
	return true, ""
}

// open resolves the configured source into a reader. Sources ending in
// .gz are decompressed transparently.
func (c *Connector) open(ctx context.Context) (io.Reader, func(), error) {
	config := c.Config()

	var (
		raw     io.ReadCloser
		source  string
		closers []io.Closer
	)

	switch {
	case config.FilePath != "":
		source = config.FilePath
		file, err := os.Open(config.FilePath)
		if err != nil {
			if os.IsNotExist(err) {
				return nil, nil, dlerrors.Newf(dlerrors.ErrorTypeNotFound, "file not found: %s", config.FilePath)
			}
			return nil, nil, dlerrors.Wrap(err, dlerrors.ErrorTypeConnection, "failed to open csv file")
		}
		raw = file

	case strings.HasPrefix(config.FileURL, "s3://"):
		source = config.FileURL
		body, err := c.openS3(ctx, config)
		if err != nil {
			return nil, nil, err
		}
		raw = body

	case config.FileURL != "":
		source = config.FileURL
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, config.FileURL, nil)
		if err != nil {
			return nil, nil, dlerrors.Wrap(err, dlerrors.ErrorTypeConfig, "invalid file URL")
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			return nil, nil, dlerrors.Wrap(err, dlerrors.ErrorTypeConnection, "failed to fetch csv file")
		}
		if resp.StatusCode != http.StatusOK {
			_ = resp.Body.Close()
			return nil, nil, dlerrors.Newf(dlerrors.ErrorTypeConnection, "http error fetching csv: status %d", resp.StatusCode)
		}
		raw = resp.Body

	default:
		return nil, nil, dlerrors.New(dlerrors.ErrorTypeConfig, "either file_path or file_url must be provided")
	}

	closers = append(closers, raw)
	reader := io.Reader(raw)

	if strings.HasSuffix(source, ".gz") {
		gz, err := gzip.NewReader(raw)
		if err != nil {
			for _, cl := range closers {
				_ = cl.Close()
			}
			return nil, nil, dlerrors.Wrap(err, dlerrors.ErrorTypeData, "failed to open gzip stream")
		}
		closers = append(closers, gz)
		reader = gz
	}

	closeFn := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			_ = closers[i].Close()
		}
	}
	return reader, closeFn, nil
}

// openS3 fetches an s3://bucket/key object.
func (c *Connector) openS3(ctx context.Context, config core.ConnectionConfig) (io.ReadCloser, error) {
	trimmed := strings.TrimPrefix(config.FileURL, "s3://")
	bucket, key, ok := strings.Cut(trimmed, "/")
	if !ok || bucket == "" || key == "" {
		return nil, dlerrors.Newf(dlerrors.ErrorTypeConfig, "invalid s3 url: %s", config.FileURL)
	}

	var loadOpts []func(*awsconfig.LoadOptions) error
	if config.AWSRegion != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(config.AWSRegion))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, dlerrors.Wrap(err, dlerrors.ErrorTypeConfig, "failed to load aws configuration")
	}

	out, err := s3.NewFromConfig(awsCfg).GetObject(ctx, &s3.GetObjectInput{
		Bucket: &bucket,
		Key:    &key,
	})
	if err != nil {
		return nil, dlerrors.Wrap(err, dlerrors.ErrorTypeConnection, "failed to fetch csv object from s3")
	}
	return out.Body, nil
}

// loadFrame parses the full CSV stream into a typed frame. The first
// record is the header; empty cells become nils and per-column types are
// resolved across all observed values.
func loadFrame(r io.Reader) (*frame, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		if err == io.EOF {
			return nil, dlerrors.New(dlerrors.ErrorTypeData, "csv file is empty")
		}
		return nil, dlerrors.Wrap(err, dlerrors.ErrorTypeData, "csv parsing error")
	}

	columns := make([]string, len(header))
	copy(columns, header)

	typeSets := make([]*core.TypeSet, len(columns))
	nullable := make([]bool, len(columns))
	for i := range typeSets {
		typeSets[i] = core.NewTypeSet()
	}

	var rows [][]interface{}
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, dlerrors.Wrap(err, dlerrors.ErrorTypeData, "csv parsing error")
		}

		row := make([]interface{}, len(columns))
		for i := range columns {
			if i >= len(record) || record[i] == "" {
				row[i] = nil
				nullable[i] = true
				continue
			}
			value := parseCell(record[i])
			row[i] = value
			typeSets[i].Add(cellType(value))
		}
		rows = append(rows, row)
	}

	types := make([]core.FieldType, len(columns))
	for i, ts := range typeSets {
		resolved, wasNull := ts.Resolve()
		types[i] = resolved
		if wasNull {
			nullable[i] = true
		}
	}

	return &frame{columns: columns, types: types, nullable: nullable, rows: rows}, nil
}

var datetimeLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
}

// parseCell converts one CSV cell into its narrowest Go value.
func parseCell(cell string) interface{} {
	if n, err := strconv.ParseInt(cell, 10, 64); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(cell, 64); err == nil {
		return f
	}
	if cell == "true" || cell == "false" || cell == "True" || cell == "False" {
		return strings.EqualFold(cell, "true")
	}
	if t, err := time.Parse("2006-01-02", cell); err == nil {
		return t
	}
	for _, layout := range datetimeLayouts {
		if t, err := time.Parse(layout, cell); err == nil {
			return t
		}
	}
	return cell
}

// cellType classifies a parsed cell, distinguishing date-only values
// from full timestamps.
func cellType(value interface{}) core.FieldType {
	if t, ok := value.(time.Time); ok {
		if t.Hour() == 0 && t.Minute() == 0 && t.Second() == 0 && t.Nanosecond() == 0 {
			return core.FieldTypeDate
		}
		return core.FieldTypeDateTime
	}
	return core.InferValueType(value)
}

// GetSchema exposes the single implicit table with per-column inferred
// types.
func (c *Connector) GetSchema(ctx context.Context) (*core.DatabaseSchema, error) {
	if err := c.Connect(ctx); err != nil {
		return nil, err
	}
	metrics.SchemaIntrospections.WithLabelValues(string(core.SourceTypeCSV)).Inc()

	f := c.frame
	columns := make([]core.ColumnSchema, len(f.columns))
	for i, name := range f.columns {
		columns[i] = core.ColumnSchema{
			Name:     name,
			Type:     f.types[i],
			Nullable: f.nullable[i],
		}
	}

	return &core.DatabaseSchema{
		Tables: []core.TableSchema{{
			Name:     tableName,
			Columns:  columns,
			RowCount: int64(len(f.rows)),
		}},
	}, nil
}

// ExecuteQuery evaluates the restricted SELECT grammar, or a bare filter
// expression, against the frame.
func (c *Connector) ExecuteQuery(ctx context.Context, query string, opts core.QueryOptions) (*core.QueryResult, error) {
	if err := c.Connect(ctx); err != nil {
		return nil, err
	}
	opts = opts.Normalize()

	var columns []core.QueryColumn
	var rows [][]interface{}

	elapsed, err := c.ExecuteTimed(ctx, opts.Timeout, func(execCtx context.Context) error {
		sel, err := parseQuery(query, opts.Limit)
		if err != nil {
			return err
		}
		columns, rows, err = sel.evaluate(c.frame)
		return err
	})
	if err != nil {
		return nil, err
	}

	if len(rows) == 0 {
		columns = []core.QueryColumn{}
		rows = [][]interface{}{}
	}
	return &core.QueryResult{Columns: columns, Rows: rows, ElapsedMS: elapsed}, nil
}

// GetSampleData draws frame rows, randomly without replacement or as a
// head selection.
func (c *Connector) GetSampleData(ctx context.Context, table string, size int, random bool) ([]core.QueryColumn, [][]interface{}, error) {
	if err := c.Connect(ctx); err != nil {
		return nil, nil, err
	}
	if size <= 0 {
		size = core.DefaultSampleSize
	}

	f := c.frame
	if size > len(f.rows) {
		size = len(f.rows)
	}

	var picked [][]interface{}
	if random {
		perm := rand.Perm(len(f.rows))
		picked = make([][]interface{}, 0, size)
		for _, idx := range perm[:size] {
			picked = append(picked, f.rows[idx])
		}
	} else {
		picked = f.rows[:size]
	}

	columns := make([]core.QueryColumn, len(f.columns))
	for i, name := range f.columns {
		columns[i] = core.QueryColumn{Name: name, Type: f.types[i]}
	}
	return columns, picked, nil
}

// GetTableCount reports the loaded row count without a query.
func (c *Connector) GetTableCount(ctx context.Context, table string) (int64, error) {
	if err := c.Connect(ctx); err != nil {
		return 0, err
	}
	return int64(len(c.frame.rows)), nil
}
