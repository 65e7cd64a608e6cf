// Package datalens provides uniform access to heterogeneous data sources.
//
// Five backend families sit behind one capability contract: PostgreSQL
// and MySQL (pooled relational connections), MongoDB (document store),
// CSV files (loaded into an in-memory frame), and REST endpoints (a
// cached HTTP record set). Every backend exposes the same operations:
//
//	Connect / Disconnect / TestConnection
//	GetSchema / ExecuteQuery / GetSampleData / GetTableCount
//
// and normalizes its native types into one closed canonical set
// (integer, number, boolean, date, datetime, json, uuid, array, string,
// object, null, mixed), so callers can inspect and query any source
// without backend-specific code.
//
// # Quick Start
//
// Build a connector through the factory and run an operation inside a
// scoped session:
//
//	import (
//	    "context"
//
//	    "github.com/datalens-io/datalens/pkg/connector"
//	    "github.com/datalens-io/datalens/pkg/connector/base"
//	    "github.com/datalens-io/datalens/pkg/connector/core"
//	)
//
//	conn, err := connector.New(core.SourceTypePostgreSQL, core.ConnectionConfig{
//	    Host:     "localhost",
//	    Database: "analytics",
//	    Username: "app",
//	    Password: "secret",
//	})
//	if err != nil {
//	    return err
//	}
//
//	err = base.WithSession(ctx, conn, func(ctx context.Context) error {
//	    schema, err := conn.GetSchema(ctx)
//	    if err != nil {
//	        return err
//	    }
//	    // use schema
//	    return nil
//	})
//
// # Key Packages
//
//	pkg/connector         - factory over the closed source-type set
//	pkg/connector/core    - contract, canonical types, normalized results
//	pkg/connector/base    - lifecycle state machine, timed execution, session guard
//	pkg/config            - source definition loading (JSON/YAML)
//	pkg/errors            - structured, classified error handling
//	pkg/logger            - structured logging
//	pkg/metrics           - query and connection metrics
//
// The datalens CLI under cmd/datalens exposes the same operations as
// subcommands (test, schema, query, sample, count).
package datalens
