package connector

import (
	"github.com/datalens-io/datalens/pkg/connector/core"
	"github.com/datalens-io/datalens/pkg/connector/csvfile"
	"github.com/datalens-io/datalens/pkg/connector/mongodb"
	"github.com/datalens-io/datalens/pkg/connector/mysql"
	"github.com/datalens-io/datalens/pkg/connector/postgres"
	"github.com/datalens-io/datalens/pkg/connector/restapi"
	dlerrors "github.com/datalens-io/datalens/pkg/errors"
)

// ParseSourceType validates a source type tag.
func ParseSourceType(tag string) (core.SourceType, error) {
	switch core.SourceType(tag) {
	case core.SourceTypePostgreSQL, core.SourceTypeMySQL, core.SourceTypeMongoDB,
		core.SourceTypeCSV, core.SourceTypeRESTAPI:
		return core.SourceType(tag), nil
	default:
		return "", dlerrors.Newf(dlerrors.ErrorTypeConfig, "unsupported source type: %q", tag)
	}
}

// New builds a connector for the given source type. The switch is
// exhaustive over the closed SourceType set; adding a backend means
// adding a case here.
func New(sourceType core.SourceType, config core.ConnectionConfig) (core.Connector, error) {
	switch sourceType {
	case core.SourceTypePostgreSQL:
		// Discrete host and credential fields collapse into a DSN once,
		// here, so the connector only ever sees a connection string.
		if config.ConnectionString == "" {
			config.ConnectionString = postgres.BuildDSN(config)
		}
		return postgres.New(config), nil
	case core.SourceTypeMySQL:
		return mysql.New(config), nil
	case core.SourceTypeMongoDB:
		return mongodb.New(config), nil
	case core.SourceTypeCSV:
		return csvfile.New(config), nil
	case core.SourceTypeRESTAPI:
		return restapi.New(config), nil
	default:
		return nil, dlerrors.Newf(dlerrors.ErrorTypeConfig, "unsupported source type: %q", sourceType)
	}
}
