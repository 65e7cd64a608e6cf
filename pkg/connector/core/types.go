// Package core defines the capability contract every datalens connector
// implements, along with the shared vocabulary all backends normalize
// into: ConnectionConfig on the way in, DatabaseSchema and QueryResult on
// the way out, and the closed canonical type set that makes results
// comparable across backends.
package core

import (
	"context"
	"time"
)

// SourceType identifies a backend family. The set is closed; the factory
// matches on it exhaustively so adding a backend is a compile-time-checked
// extension point.
type SourceType string

const (
	SourceTypePostgreSQL SourceType = "postgresql"
	SourceTypeMySQL      SourceType = "mysql"
	SourceTypeMongoDB    SourceType = "mongodb"
	SourceTypeCSV        SourceType = "csv"
	SourceTypeRESTAPI    SourceType = "rest_api"
)

// FieldType is one of the closed canonical type tags every backend's
// native types are mapped onto.
type FieldType string

const (
	FieldTypeInteger  FieldType = "integer"
	FieldTypeNumber   FieldType = "number"
	FieldTypeBoolean  FieldType = "boolean"
	FieldTypeDate     FieldType = "date"
	FieldTypeDateTime FieldType = "datetime"
	FieldTypeJSON     FieldType = "json"
	FieldTypeUUID     FieldType = "uuid"
	FieldTypeArray    FieldType = "array"
	FieldTypeString   FieldType = "string"
	FieldTypeObject   FieldType = "object"
	FieldTypeNull     FieldType = "null"
	// FieldTypeMixed is used only when schema inference observes more
	// than one canonical type for the same field across a sample.
	FieldTypeMixed FieldType = "mixed"
)

// CanonicalTypes lists every member of the canonical type set.
var CanonicalTypes = []FieldType{
	FieldTypeInteger, FieldTypeNumber, FieldTypeBoolean, FieldTypeDate,
	FieldTypeDateTime, FieldTypeJSON, FieldTypeUUID, FieldTypeArray,
	FieldTypeString, FieldTypeObject, FieldTypeNull, FieldTypeMixed,
}

// ConnectionConfig is the union of fields needed by any backend. Only the
// subset relevant to the chosen backend is read; unused fields are
// ignored, not validated.
type ConnectionConfig struct {
	// Relational and document backends
	Host             string `json:"host,omitempty" yaml:"host,omitempty"`
	Port             int    `json:"port,omitempty" yaml:"port,omitempty"`
	Username         string `json:"username,omitempty" yaml:"username,omitempty"`
	Password         string `json:"password,omitempty" yaml:"password,omitempty"`
	Database         string `json:"database,omitempty" yaml:"database,omitempty"`
	ConnectionString string `json:"connection_string,omitempty" yaml:"connection_string,omitempty"`

	// File backends
	FilePath string `json:"file_path,omitempty" yaml:"file_path,omitempty"`
	FileURL  string `json:"file_url,omitempty" yaml:"file_url,omitempty"`

	// HTTP backends
	APIURL  string            `json:"api_url,omitempty" yaml:"api_url,omitempty"`
	APIKey  string            `json:"api_key,omitempty" yaml:"api_key,omitempty"`
	Headers map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`

	// Cloud object storage (S3-hosted files)
	AWSRegion string `json:"aws_region,omitempty" yaml:"aws_region,omitempty"`
}

// ColumnSchema describes one column of a logical table. Name is unique
// within its table. ForeignKey, when set, is "table.column".
type ColumnSchema struct {
	Name        string    `json:"name"`
	Type        FieldType `json:"type"`
	Nullable    bool      `json:"nullable"`
	PrimaryKey  bool      `json:"primary_key"`
	ForeignKey  string    `json:"foreign_key,omitempty"`
	Default     string    `json:"default,omitempty"`
	Description string    `json:"description,omitempty"`
}

// TableSchema describes one logical table. For non-relational sources a
// table may represent a whole collection or an entire file. RowCount may
// be an engine estimate; -1 means unknown.
type TableSchema struct {
	Name        string         `json:"name"`
	Columns     []ColumnSchema `json:"columns"`
	RowCount    int64          `json:"row_count"`
	Description string         `json:"description,omitempty"`
}

// DatabaseSchema is the full introspection result of one data source.
type DatabaseSchema struct {
	Tables []TableSchema `json:"tables"`
}

// QueryColumn describes one column of a QueryResult.
type QueryColumn struct {
	Name string    `json:"name"`
	Type FieldType `json:"type"`
}

// QueryResult is the normalized result of one query. Every row has
// exactly len(Columns) values, positionally aligned; missing values are
// explicit nils, never omitted. ElapsedMS measures strictly the backend
// execution call.
type QueryResult struct {
	Columns   []QueryColumn   `json:"columns"`
	Rows      [][]interface{} `json:"rows"`
	ElapsedMS int64           `json:"elapsed_ms"`
}

// QueryOptions bounds a query execution. Limit caps returned rows for
// bare SELECT statements; Timeout is the wall-clock deadline around the
// backend call.
type QueryOptions struct {
	Limit   int
	Timeout time.Duration
}

const (
	// DefaultQueryLimit caps result rows when the caller does not say.
	DefaultQueryLimit = 100
	// DefaultQueryTimeout bounds query execution when the caller does not say.
	DefaultQueryTimeout = 30 * time.Second
	// DefaultSampleSize is the default sample-data row count.
	DefaultSampleSize = 100
	// TestConnectionTimeout bounds the side-effect-free probe.
	TestConnectionTimeout = 10 * time.Second
)

// Normalize fills zero options with defaults.
func (o QueryOptions) Normalize() QueryOptions {
	if o.Limit <= 0 {
		o.Limit = DefaultQueryLimit
	}
	if o.Timeout <= 0 {
		o.Timeout = DefaultQueryTimeout
	}
	return o
}

// State is the connector lifecycle state.
//
// Disconnected -> Connecting -> Connected <-> Querying -> Disconnected.
// Any failure during Connecting or Querying moves to Errored, from which
// only a fresh Connect recovers.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateQuerying
	StateErrored
)

// String returns the lowercase state name.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateQuerying:
		return "querying"
	case StateErrored:
		return "errored"
	default:
		return "unknown"
	}
}

// Connector is the capability contract every backend implements.
type Connector interface {
	// Connect establishes backend resources (pool, file load, HTTP client
	// plus initial fetch). Failures carry a backend-translated message.
	Connect(ctx context.Context) error

	// Disconnect releases resources. Idempotent; never fails.
	Disconnect(ctx context.Context)

	// TestConnection is a side-effect-free probe with a short timeout.
	// It never returns an error for expected failure modes; they become
	// a (false, classified message) result.
	TestConnection(ctx context.Context) (bool, string)

	// GetSchema introspects the full schema, connecting first if needed.
	GetSchema(ctx context.Context) (*DatabaseSchema, error)

	// ExecuteQuery runs one query in the backend's native mini-language.
	ExecuteQuery(ctx context.Context, query string, opts QueryOptions) (*QueryResult, error)

	// GetSampleData returns a representative subset of a logical table.
	GetSampleData(ctx context.Context, table string, size int, random bool) ([]QueryColumn, [][]interface{}, error)

	// GetTableCount returns the row count of a logical table.
	GetTableCount(ctx context.Context, table string) (int64, error)

	// State reports the lifecycle state.
	State() State

	// Type reports the backend family.
	Type() SourceType
}
