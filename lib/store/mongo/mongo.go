// Package mongo implements the history store interface for MongoDB.
package mongo

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	mgo "go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/twputra/sentrysol-beta-v2/lib/store"
)

// Database holding the history collection.
const Database = "sentrysol"

// Mongo implements a connection to a MongoDB database.
type Mongo struct {
	c   *mgo.Client
	col *mgo.Collection
}

// MongoAnalysis is the document stored for a store.Analysis. The analysis data is kept as a document so it can be
// queried.
type MongoAnalysis struct {
	ID            string    `bson:"_id"`
	WalletAddress string    `bson:"wallet_address"`
	AnalysisData  bson.D    `bson:"analysis_data"`
	Raw           string    `bson:"raw,omitempty"` // data that is not a JSON object
	RiskScore     float64   `bson:"risk_score"`
	RiskLevel     string    `bson:"risk_level"`
	CreatedAt     time.Time `bson:"created_at"`
}

// toMongo converts an analysis to its document.
func toMongo(a store.Analysis) (MongoAnalysis, error) {
	ma := MongoAnalysis{
		ID:            a.ID,
		WalletAddress: a.WalletAddress,
		RiskScore:     a.RiskScore,
		RiskLevel:     a.RiskLevel,
		CreatedAt:     a.CreatedAt,
	}
	if err := bson.UnmarshalExtJSON(a.AnalysisData, false, &ma.AnalysisData); err != nil {
		ma.AnalysisData, ma.Raw = nil, string(a.AnalysisData)
	}
	return ma, nil
}

// Analysis converts a MongoAnalysis to store.Analysis type.
func (ma MongoAnalysis) Analysis() (store.Analysis, error) {
	a := store.Analysis{
		ID:            ma.ID,
		WalletAddress: ma.WalletAddress,
		RiskScore:     ma.RiskScore,
		RiskLevel:     ma.RiskLevel,
		CreatedAt:     ma.CreatedAt.UTC(),
	}
	if ma.Raw != "" {
		a.AnalysisData = []byte(ma.Raw)
		return a, nil
	}

	b, err := bson.MarshalExtJSON(ma.AnalysisData, false, false)
	if err != nil {
		return a, fmt.Errorf("cannot convert analysis %s to JSON: %w", ma.ID, err)
	}
	a.AnalysisData = b
	return a, nil
}

// New returns a Mongo client connection to the specified MongoDB database uri.
func New(uri string) (*Mongo, error) {
	c, err := mgo.NewClient(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("cannot connect to mongo DB in %s: %w", uri, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second) //nolint:gomnd // 5 seconds timeout
	defer cancel()

	if err = c.Connect(ctx); err != nil {
		return nil, fmt.Errorf("error connecting to mongo DB: %w", err)
	}

	m := &Mongo{c: c, col: c.Database(Database).Collection(store.Table)}

	// history is always read by address, newest first
	_, err = m.col.Indexes().CreateOne(ctx, mgo.IndexModel{
		Keys: bson.D{{Key: "wallet_address", Value: 1}, {Key: "created_at", Value: -1}},
	})
	if err != nil {
		_ = c.Disconnect(context.Background())
		return nil, fmt.Errorf("cannot create history index: %w", err)
	}

	return m, nil
}

// Close will close a database connection. Must be called at termination time.
func (m *Mongo) Close() error {
	return m.c.Disconnect(context.Background())
}

// Ping checks the connection to the server.
func (m *Mongo) Ping(ctx context.Context) error {
	return m.c.Ping(ctx, nil)
}

// SaveAnalysis inserts an analysis.
func (m *Mongo) SaveAnalysis(ctx context.Context, a store.Analysis) (string, error) {
	if err := store.Check(&a, uuid.NewString, time.Now); err != nil {
		return "", err
	}

	ma, err := toMongo(a)
	if err != nil {
		return "", err
	}
	if _, err = m.col.InsertOne(ctx, ma); err != nil {
		return "", fmt.Errorf("could not insert analysis in db: %w", err)
	}

	return a.ID, nil
}

// GetHistory returns the latest analyses of address.
func (m *Mongo) GetHistory(ctx context.Context, address string, limit int) ([]store.Analysis, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}}).
		SetLimit(int64(store.Limit(limit)))

	cur, err := m.col.Find(ctx, bson.M{"wallet_address": address}, opts)
	if err != nil {
		return nil, fmt.Errorf("error reading history: %w", err)
	}
	defer cur.Close(ctx)

	res := []store.Analysis{}
	for cur.Next(ctx) {
		var ma MongoAnalysis
		if err = cur.Decode(&ma); err != nil {
			return nil, fmt.Errorf("error decoding analysis: %w", err)
		}
		a, err := ma.Analysis()
		if err != nil {
			return nil, err
		}
		res = append(res, a)
	}

	return res, cur.Err()
}

// DeleteHistory deletes every analysis of address.
func (m *Mongo) DeleteHistory(ctx context.Context, address string) (int64, error) {
	res, err := m.col.DeleteMany(ctx, bson.M{"wallet_address": address})
	if err != nil {
		return 0, err
	}
	if res.DeletedCount == 0 {
		return 0, store.ErrNotFound
	}

	return res.DeletedCount, nil
}
