// Package config loads data source definitions from JSON or YAML files.
// A definition names the backend family and carries the connection
// fields that backend reads; environment variables override file values
// under the DATALENS prefix (DATALENS_CONNECTION_PASSWORD and friends).
package config

import (
	"strings"

	"github.com/spf13/viper"

	"github.com/datalens-io/datalens/pkg/connector/core"
	dlerrors "github.com/datalens-io/datalens/pkg/errors"
)

// Source is the on-disk shape of a data source definition.
type Source struct {
	Name       string                `mapstructure:"name"`
	Type       string                `mapstructure:"type"`
	Connection core.ConnectionConfig `mapstructure:"connection"`
}

// Load reads a source definition file. The format is inferred from the
// file extension.
func Load(path string) (*Source, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("DATALENS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, dlerrors.Wrapf(err, dlerrors.ErrorTypeConfig, "failed to read config file %s", path)
	}

	var src Source
	if err := v.Unmarshal(&src); err != nil {
		return nil, dlerrors.Wrapf(err, dlerrors.ErrorTypeConfig, "failed to parse config file %s", path)
	}

	if src.Type == "" {
		return nil, dlerrors.New(dlerrors.ErrorTypeConfig, "source definition is missing a type")
	}
	return &src, nil
}
