package mongodb

import (
	"context"
	"sort"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"

	"github.com/datalens-io/datalens/pkg/connector/core"
	dlerrors "github.com/datalens-io/datalens/pkg/errors"
	"github.com/datalens-io/datalens/pkg/metrics"
)

// GetSchema infers the database schema by sampling documents from every
// collection. A collection that fails to sample is skipped with a
// warning; the rest of the schema is still returned.
func (c *Connector) GetSchema(ctx context.Context) (*core.DatabaseSchema, error) {
	if err := c.Connect(ctx); err != nil {
		return nil, err
	}
	metrics.SchemaIntrospections.WithLabelValues(string(core.SourceTypeMongoDB)).Inc()

	names, err := c.database.ListCollectionNames(ctx, bson.D{})
	if err != nil {
		return nil, dlerrors.Wrap(err, dlerrors.ErrorTypeSchema, "failed to list collections")
	}
	sort.Strings(names)

	tables := make([]core.TableSchema, 0, len(names))
	for _, name := range names {
		if strings.HasPrefix(name, "system.") {
			continue
		}

		table, err := c.inferCollectionSchema(ctx, name)
		if err != nil {
			c.Logger().Warn("collection sampling failed, skipping",
				zap.String("collection", name), zap.Error(err))
			continue
		}
		tables = append(tables, *table)
	}

	return &core.DatabaseSchema{Tables: tables}, nil
}

// inferCollectionSchema samples up to schemaSampleSize documents from a
// collection and unions the observed per-field types.
func (c *Connector) inferCollectionSchema(ctx context.Context, name string) (*core.TableSchema, error) {
	collection := c.database.Collection(name)

	count, err := collection.CountDocuments(ctx, bson.D{})
	if err != nil {
		return nil, dlerrors.Wrap(err, dlerrors.ErrorTypeSchema, "document count failed")
	}

	sampleSize := int64(schemaSampleSize)
	if count > 0 && count < sampleSize {
		sampleSize = count
	}

	var docs []bson.D
	if count > 0 {
		cursor, err := collection.Aggregate(ctx, mongo.Pipeline{
			{{Key: "$sample", Value: bson.D{{Key: "size", Value: sampleSize}}}},
		})
		if err != nil {
			return nil, dlerrors.Wrap(err, dlerrors.ErrorTypeSchema, "sample aggregation failed")
		}
		defer func() { _ = cursor.Close(ctx) }()
		if err := cursor.All(ctx, &docs); err != nil {
			return nil, dlerrors.Wrap(err, dlerrors.ErrorTypeSchema, "failed to decode sampled documents")
		}
	}

	fieldOrder := make([]string, 0)
	fieldTypes := make(map[string]*core.TypeSet)
	for _, doc := range docs {
		for _, elem := range doc {
			ts, ok := fieldTypes[elem.Key]
			if !ok {
				ts = core.NewTypeSet()
				fieldTypes[elem.Key] = ts
				fieldOrder = append(fieldOrder, elem.Key)
			}
			ts.AddValue(convertBSONValue(elem.Value))
		}
	}

	columns := make([]core.ColumnSchema, 0, len(fieldOrder))
	for _, field := range fieldOrder {
		fieldType, _ := fieldTypes[field].Resolve()
		columns = append(columns, core.ColumnSchema{
			Name: field,
			Type: fieldType,
			// Document fields can be absent from any document.
			Nullable:   true,
			PrimaryKey: field == identityField,
		})
	}

	return &core.TableSchema{
		Name:     name,
		Columns:  columns,
		RowCount: count,
	}, nil
}
