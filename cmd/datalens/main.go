package main

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"strings"
	"time"

	gojson "github.com/goccy/go-json"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/datalens-io/datalens/pkg/config"
	"github.com/datalens-io/datalens/pkg/connector"
	"github.com/datalens-io/datalens/pkg/connector/base"
	"github.com/datalens-io/datalens/pkg/connector/core"
	"github.com/datalens-io/datalens/pkg/logger"
)

var version = "0.1.0"

func main() {
	var configFile, logLevel string

	root := &cobra.Command{
		Use:   "datalens",
		Short: "DataLens - uniform access to heterogeneous data sources",
		Long: `DataLens connects to PostgreSQL, MySQL, MongoDB, CSV files, and REST
endpoints behind one contract: inspect schemas, run queries, and sample
data with normalized types regardless of the backend.`,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if err := logger.Init(logger.Config{Level: logLevel, Encoding: "console"}); err != nil {
				fmt.Fprintln(os.Stderr, err)
				os.Exit(1)
			}
		},
	}
	root.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Path to source configuration file (JSON or YAML)")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "error", "Log level (debug, info, warn, error)")

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("DataLens v%s\n", version)
			fmt.Printf("Go version: %s\n", runtime.Version())
			fmt.Printf("OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List supported source types",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("Supported source types:")
			for _, st := range []core.SourceType{
				core.SourceTypePostgreSQL, core.SourceTypeMySQL, core.SourceTypeMongoDB,
				core.SourceTypeCSV, core.SourceTypeRESTAPI,
			} {
				fmt.Printf("  - %s\n", st)
			}
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "test",
		Short: "Probe a source without establishing a session",
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, err := buildConnector(configFile)
			if err != nil {
				return err
			}
			ok, message := conn.TestConnection(cmd.Context())
			if !ok {
				return fmt.Errorf("connection failed: %s", message)
			}
			fmt.Println("connection ok")
			return nil
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "schema",
		Short: "Introspect and print the full schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, err := buildConnector(configFile)
			if err != nil {
				return err
			}
			return base.WithSession(cmd.Context(), conn, func(ctx context.Context) error {
				schema, err := conn.GetSchema(ctx)
				if err != nil {
					return err
				}
				return printJSON(schema)
			})
		},
	})

	var queryLimit int
	var queryTimeout time.Duration
	queryCmd := &cobra.Command{
		Use:   "query <statement>",
		Short: "Execute a query in the source's native mini-language",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, err := buildConnector(configFile)
			if err != nil {
				return err
			}
			statement := strings.Join(args, " ")
			return base.WithSession(cmd.Context(), conn, func(ctx context.Context) error {
				result, err := conn.ExecuteQuery(ctx, statement, core.QueryOptions{
					Limit:   queryLimit,
					Timeout: queryTimeout,
				})
				if err != nil {
					return err
				}
				logger.Get().Debug("query finished",
					zap.Int("rows", len(result.Rows)), zap.Int64("elapsed_ms", result.ElapsedMS))
				return printJSON(result)
			})
		},
	}
	queryCmd.Flags().IntVar(&queryLimit, "limit", core.DefaultQueryLimit, "Maximum rows to return")
	queryCmd.Flags().DurationVar(&queryTimeout, "timeout", core.DefaultQueryTimeout, "Query timeout")
	root.AddCommand(queryCmd)

	var sampleSize int
	var sampleRandom bool
	sampleCmd := &cobra.Command{
		Use:   "sample <table>",
		Short: "Fetch sample rows from a table",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, err := buildConnector(configFile)
			if err != nil {
				return err
			}
			return base.WithSession(cmd.Context(), conn, func(ctx context.Context) error {
				columns, rows, err := conn.GetSampleData(ctx, args[0], sampleSize, sampleRandom)
				if err != nil {
					return err
				}
				return printJSON(map[string]interface{}{"columns": columns, "rows": rows})
			})
		},
	}
	sampleCmd.Flags().IntVar(&sampleSize, "size", core.DefaultSampleSize, "Number of rows to sample")
	sampleCmd.Flags().BoolVar(&sampleRandom, "random", false, "Sample random rows instead of a head selection")
	root.AddCommand(sampleCmd)

	root.AddCommand(&cobra.Command{
		Use:   "count <table>",
		Short: "Count rows in a table",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, err := buildConnector(configFile)
			if err != nil {
				return err
			}
			return base.WithSession(cmd.Context(), conn, func(ctx context.Context) error {
				count, err := conn.GetTableCount(ctx, args[0])
				if err != nil {
					return err
				}
				fmt.Println(count)
				return nil
			})
		},
	})

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// buildConnector loads a source definition and runs it through the
// factory.
func buildConnector(configFile string) (core.Connector, error) {
	if configFile == "" {
		return nil, fmt.Errorf("--config is required")
	}

	src, err := config.Load(configFile)
	if err != nil {
		return nil, err
	}

	sourceType, err := connector.ParseSourceType(src.Type)
	if err != nil {
		return nil, err
	}
	return connector.New(sourceType, src.Connection)
}

func printJSON(v interface{}) error {
	data, err := gojson.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}
