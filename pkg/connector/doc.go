// Package connector constructs datalens connectors from a source type
// tag and a connection configuration.
//
// The source-type set is closed: postgresql, mysql, mongodb, csv, and
// rest_api. New builds the matching backend through an exhaustive
// switch, so an unsupported tag is a configuration error and adding a
// backend is a compile-time-checked change.
//
// Every connector returned by New implements core.Connector and starts
// disconnected; nothing touches the backend until Connect or one of the
// auto-connecting operations (GetSchema, ExecuteQuery, GetSampleData,
// GetTableCount) is called. For one-shot work, base.WithSession wraps
// an operation in a connect/disconnect pair that releases resources on
// every exit path.
package connector
