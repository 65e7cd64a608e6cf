// Package mongodb implements the datalens connector contract for
// MongoDB. Collections map onto logical tables; their schemas are
// inferred by sampling live documents.
package mongodb

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	gojson "github.com/goccy/go-json"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"github.com/datalens-io/datalens/pkg/connector/base"
	"github.com/datalens-io/datalens/pkg/connector/core"
	dlerrors "github.com/datalens-io/datalens/pkg/errors"
)

// identityField is the store's reserved identity field; it is the only
// field ever marked as a primary key.
const identityField = "_id"

// schemaSampleSize bounds the per-collection document sample used for
// schema inference.
const schemaSampleSize = 100

// Connector is the MongoDB connector. It holds one client handle reused
// across calls.
type Connector struct {
	*base.Connector

	client   *mongo.Client
	database *mongo.Database
}

// New creates a MongoDB connector from the given configuration.
func New(config core.ConnectionConfig) *Connector {
	return &Connector{
		Connector: base.NewConnector(core.SourceTypeMongoDB, config),
	}
}

// BuildURI synthesizes a mongodb:// connection string from the discrete
// configuration fields. An explicit ConnectionString wins.
func BuildURI(config core.ConnectionConfig) string {
	if config.ConnectionString != "" {
		return config.ConnectionString
	}

	host := config.Host
	if host == "" {
		host = "localhost"
	}
	port := config.Port
	if port == 0 {
		port = 27017
	}
	database := config.Database
	if database == "" {
		database = "test"
	}

	if config.Username != "" && config.Password != "" {
		return fmt.Sprintf("mongodb://%s:%s@%s:%d/%s",
			url.QueryEscape(config.Username), url.QueryEscape(config.Password), host, port, database)
	}
	return fmt.Sprintf("mongodb://%s:%d/%s", host, port, database)
}

// Connect establishes the client and verifies it with a ping.
func (c *Connector) Connect(ctx context.Context) error {
	if c.IsConnected() {
		return nil
	}
	c.BeginConnect()

	// Recovery from the Errored state re-runs Connect; release the
	// previous client before dialing a new one.
	if c.client != nil {
		_ = c.client.Disconnect(ctx)
		c.client = nil
		c.database = nil
	}

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(BuildURI(c.Config())))
	if err != nil {
		c.EndConnect(err)
		return dlerrors.Wrap(err, dlerrors.ErrorTypeConnection, classifyError(err, c.Config()))
	}

	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		c.EndConnect(err)
		return translateConnectError(err, c.Config())
	}

	database := c.Config().Database
	if database == "" {
		database = "test"
	}
	c.client = client
	c.database = client.Database(database)
	c.EndConnect(nil)
	c.Logger().Info("mongodb connection established", zap.String("database", database))
	return nil
}

// Disconnect releases the client. Idempotent.
func (c *Connector) Disconnect(ctx context.Context) {
	if c.client != nil {
		_ = c.client.Disconnect(ctx)
		c.client = nil
		c.database = nil
		c.Logger().Info("mongodb connection closed")
	}
	c.EndDisconnect()
}

// TestConnection pings the server with a short server-selection timeout.
func (c *Connector) TestConnection(ctx context.Context) (bool, string) {
	probeCtx, cancel := context.WithTimeout(ctx, core.TestConnectionTimeout)
	defer cancel()

	opts := options.Client().
		ApplyURI(BuildURI(c.Config())).
		SetServerSelectionTimeout(core.TestConnectionTimeout / 2)

	client, err := mongo.Connect(probeCtx, opts)
	if err != nil {
		return false, classifyError(err, c.Config())
	}
	defer func() { _ = client.Disconnect(probeCtx) }()

	if err := client.Ping(probeCtx, nil); err != nil {
		return false, classifyError(err, c.Config())
	}
	return true, ""
}

// ExecuteQuery runs a query in the "<collection>:<json>" mini-language.
// A JSON array payload is treated as an aggregation pipeline, a JSON
// object as a find filter.
func (c *Connector) ExecuteQuery(ctx context.Context, query string, opts core.QueryOptions) (*core.QueryResult, error) {
	if err := c.Connect(ctx); err != nil {
		return nil, err
	}
	opts = opts.Normalize()

	collectionName, payload, err := ParseQuery(query)
	if err != nil {
		return nil, err
	}

	var docs []bson.D
	elapsed, err := c.ExecuteTimed(ctx, opts.Timeout, func(execCtx context.Context) error {
		collection := c.database.Collection(collectionName)

		var cursor *mongo.Cursor
		var err error
		switch p := payload.(type) {
		case []interface{}:
			cursor, err = collection.Aggregate(execCtx, p)
		default:
			findOpts := options.Find().SetLimit(int64(opts.Limit))
			cursor, err = collection.Find(execCtx, p, findOpts)
		}
		if err != nil {
			return dlerrors.Wrap(err, dlerrors.ErrorTypeQuery, "mongodb query failed")
		}
		defer func() { _ = cursor.Close(execCtx) }()

		for cursor.Next(execCtx) && len(docs) < opts.Limit {
			var doc bson.D
			if err := cursor.Decode(&doc); err != nil {
				return dlerrors.Wrap(err, dlerrors.ErrorTypeData, "failed to decode document")
			}
			docs = append(docs, doc)
		}
		if err := cursor.Err(); err != nil {
			docs = nil
			return dlerrors.Wrap(err, dlerrors.ErrorTypeQuery, "mongodb query failed")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	columns, rows := documentsToResult(docs)
	return &core.QueryResult{Columns: columns, Rows: rows, ElapsedMS: elapsed}, nil
}

// ParseQuery splits the "<collection>:<json>" query format and decodes
// the payload. An empty payload means an unfiltered find.
func ParseQuery(query string) (string, interface{}, error) {
	idx := strings.Index(query, ":")
	if idx < 0 {
		return "", nil, dlerrors.New(dlerrors.ErrorTypeQuery,
			"query format should be collection:{json_filter} or collection:[pipeline]")
	}

	collection := strings.TrimSpace(query[:idx])
	payload := strings.TrimSpace(query[idx+1:])
	if collection == "" {
		return "", nil, dlerrors.New(dlerrors.ErrorTypeQuery, "collection name is empty")
	}
	if payload == "" {
		return collection, bson.D{}, nil
	}

	var decoded interface{}
	if err := gojson.Unmarshal([]byte(payload), &decoded); err != nil {
		return "", nil, dlerrors.Wrap(err, dlerrors.ErrorTypeQuery, "invalid query JSON")
	}
	return collection, decoded, nil
}

// GetSampleData draws documents from a collection, using the native
// $sample stage for random selection.
func (c *Connector) GetSampleData(ctx context.Context, table string, size int, random bool) ([]core.QueryColumn, [][]interface{}, error) {
	if err := c.Connect(ctx); err != nil {
		return nil, nil, err
	}
	if size <= 0 {
		size = core.DefaultSampleSize
	}

	collection := c.database.Collection(table)

	var cursor *mongo.Cursor
	var err error
	if random {
		cursor, err = collection.Aggregate(ctx, mongo.Pipeline{
			{{Key: "$sample", Value: bson.D{{Key: "size", Value: size}}}},
		})
	} else {
		cursor, err = collection.Find(ctx, bson.D{}, options.Find().SetLimit(int64(size)))
	}
	if err != nil {
		return nil, nil, dlerrors.Wrap(err, dlerrors.ErrorTypeQuery, "mongodb sample failed")
	}
	defer func() { _ = cursor.Close(ctx) }()

	var docs []bson.D
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, nil, dlerrors.Wrap(err, dlerrors.ErrorTypeData, "failed to decode documents")
	}

	columns, rows := documentsToResult(docs)
	return columns, rows, nil
}

// GetTableCount overrides the default COUNT(*) path with the store's
// native document count.
func (c *Connector) GetTableCount(ctx context.Context, table string) (int64, error) {
	if err := c.Connect(ctx); err != nil {
		return 0, err
	}
	count, err := c.database.Collection(table).CountDocuments(ctx, bson.D{})
	if err != nil {
		return 0, dlerrors.Wrap(err, dlerrors.ErrorTypeQuery, "document count failed")
	}
	return count, nil
}

// documentsToResult normalizes ordered documents into the common result
// shape. Columns come from the first document's field order; fields
// missing from later documents become explicit nils.
func documentsToResult(docs []bson.D) ([]core.QueryColumn, [][]interface{}) {
	if len(docs) == 0 {
		return []core.QueryColumn{}, [][]interface{}{}
	}

	first := docs[0]
	columns := make([]core.QueryColumn, len(first))
	for i, elem := range first {
		columns[i] = core.QueryColumn{
			Name: elem.Key,
			Type: core.InferValueType(convertBSONValue(elem.Value)),
		}
	}

	rows := make([][]interface{}, 0, len(docs))
	for _, doc := range docs {
		byKey := make(map[string]interface{}, len(doc))
		for _, elem := range doc {
			byKey[elem.Key] = convertBSONValue(elem.Value)
		}
		row := make([]interface{}, len(columns))
		for i, col := range columns {
			row[i] = byKey[col.Name]
		}
		rows = append(rows, row)
	}
	return columns, rows
}

// convertBSONValue flattens driver primitives into plain Go values.
func convertBSONValue(v interface{}) interface{} {
	switch val := v.(type) {
	case primitive.ObjectID:
		return val.Hex()
	case primitive.DateTime:
		return val.Time()
	case primitive.Decimal128:
		return val.String()
	case primitive.A:
		converted := make([]interface{}, len(val))
		for i, item := range val {
			converted[i] = convertBSONValue(item)
		}
		return converted
	case bson.D:
		converted := make(map[string]interface{}, len(val))
		for _, elem := range val {
			converted[elem.Key] = convertBSONValue(elem.Value)
		}
		return converted
	case bson.M:
		converted := make(map[string]interface{}, len(val))
		for k, item := range val {
			converted[k] = convertBSONValue(item)
		}
		return converted
	default:
		return v
	}
}

func translateConnectError(err error, config core.ConnectionConfig) error {
	msg := classifyError(err, config)
	if strings.Contains(err.Error(), "AuthenticationFailed") ||
		strings.Contains(err.Error(), "auth error") {
		return dlerrors.Wrap(err, dlerrors.ErrorTypeAuthentication, msg)
	}
	return dlerrors.Wrap(err, dlerrors.ErrorTypeConnection, msg)
}

// classifyError translates a native failure into one of the small set of
// connection messages.
func classifyError(err error, config core.ConnectionConfig) string {
	text := err.Error()
	switch {
	case strings.Contains(text, "AuthenticationFailed") || strings.Contains(text, "auth error"):
		return "invalid username or password"
	case strings.Contains(text, "server selection error") || strings.Contains(text, "connection refused"):
		return fmt.Sprintf("could not connect to server at %s:%d", config.Host, config.Port)
	default:
		return text
	}
}
