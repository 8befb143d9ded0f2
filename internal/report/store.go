package report

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// Collection is the MongoDB collection reports are stored in.
const Collection = "opdbt_runs"

// ErrNotFound is returned when no stored report matches.
var ErrNotFound = errors.New("run report not found")

// Store persists run reports.
type Store interface {
	Save(ctx context.Context, r *RunReport) error
	Get(ctx context.Context, runID string) (*RunReport, error)
	Latest(ctx context.Context) (*RunReport, error)
	Close(ctx context.Context) error
}

// MongoStore implements Store on a MongoDB collection.
type MongoStore struct {
	client   *mongo.Client
	database string
}

// NewMongoStore connects to MongoDB and verifies the connection.
func NewMongoStore(ctx context.Context, uri, database string) (*MongoStore, error) {
	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connecting to MongoDB: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("pinging MongoDB: %w", err)
	}
	return &MongoStore{client: client, database: database}, nil
}

func (m *MongoStore) coll() *mongo.Collection {
	return m.client.Database(m.database).Collection(Collection)
}

// Save inserts or replaces the report keyed by its run id.
func (m *MongoStore) Save(ctx context.Context, r *RunReport) error {
	_, err := m.coll().ReplaceOne(ctx, bson.D{{Key: "run_id", Value: r.RunID}}, r, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("saving run report %s: %w", r.RunID, err)
	}
	return nil
}

// Get loads the report with the given run id.
func (m *MongoStore) Get(ctx context.Context, runID string) (*RunReport, error) {
	return m.findOne(ctx, bson.D{{Key: "run_id", Value: runID}})
}

// Latest loads the most recently started report.
func (m *MongoStore) Latest(ctx context.Context) (*RunReport, error) {
	return m.findOne(ctx, bson.D{}, options.FindOne().SetSort(bson.D{{Key: "started_at", Value: -1}}))
}

func (m *MongoStore) findOne(ctx context.Context, filter bson.D, opts ...options.Lister[options.FindOneOptions]) (*RunReport, error) {
	r := &RunReport{}
	err := m.coll().FindOne(ctx, filter, opts...).Decode(r)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading run report: %w", err)
	}
	return r, nil
}

// Close disconnects from MongoDB.
func (m *MongoStore) Close(ctx context.Context) error {
	return m.client.Disconnect(ctx)
}
