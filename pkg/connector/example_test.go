package connector_test

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/datalens-io/datalens/pkg/connector"
	"github.com/datalens-io/datalens/pkg/connector/base"
	"github.com/datalens-io/datalens/pkg/connector/core"
)

// Example demonstrates building a connector through the factory and
// inspecting a source inside a scoped session.
func Example() {
	path := filepath.Join(os.TempDir(), "example_users.csv")
	if err := os.WriteFile(path, []byte("id,name\n1,ada\n2,grace\n3,linus\n"), 0o644); err != nil {
		log.Fatal(err)
	}
	defer os.Remove(path)

	conn, err := connector.New(core.SourceTypeCSV, core.ConnectionConfig{FilePath: path})
	if err != nil {
		log.Fatal(err)
	}

	ctx := context.Background()
	err = base.WithSession(ctx, conn, func(ctx context.Context) error {
		schema, err := conn.GetSchema(ctx)
		if err != nil {
			return err
		}
		for _, table := range schema.Tables {
			fmt.Printf("%s: %d columns, %d rows\n", table.Name, len(table.Columns), table.RowCount)
		}

		result, err := conn.ExecuteQuery(ctx, "SELECT name WHERE id > 1", core.QueryOptions{})
		if err != nil {
			return err
		}
		for _, row := range result.Rows {
			fmt.Println(row[0])
		}
		return nil
	})
	if err != nil {
		log.Fatal(err)
	}

	// Output:
	// data: 2 columns, 3 rows
	// grace
	// linus
}
