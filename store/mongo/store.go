// Package mongo implements the store on the official MongoDB driver.
// Jobs are claimed one at a time with FindOneAndUpdate so no two
// workers ever hold the same lease.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	mongod "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/pressline/conveyor/dlq"
	"github.com/pressline/conveyor/job"
)

// Collection name constants.
const (
	colJobs   = "conveyor_jobs"
	colQueues = "conveyor_queues"
	colDLQ    = "conveyor_dlq"
)

// Ensure Store implements all subsystem interfaces at compile time.
var (
	_ job.Store = (*Store)(nil)
	_ dlq.Store = (*Store)(nil)
)

// Store is a MongoDB implementation of store.Store.
type Store struct {
	client *mongod.Client
	db     *mongod.Database
	logger *slog.Logger

	// ownsClient is set when New dialed the client itself, so Close
	// should disconnect it.
	ownsClient bool
}

// Option configures the Store.
type Option func(*Store)

// WithLogger sets the logger for the store.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// New connects to MongoDB and returns a store over the named database.
func New(ctx context.Context, uri, database string, opts ...Option) (*Store, error) {
	client, err := mongod.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("conveyor/mongo: connect: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("conveyor/mongo: ping: %w", err)
	}

	s := &Store{
		client:     client,
		db:         client.Database(database),
		logger:     slog.Default(),
		ownsClient: true,
	}

	for _, opt := range opts {
		opt(s)
	}

	return s, nil
}

// NewFromDatabase creates a store over an existing database handle.
// The caller owns the client lifecycle; Close becomes a no-op.
func NewFromDatabase(db *mongod.Database, opts ...Option) *Store {
	s := &Store{
		db:     db,
		logger: slog.Default(),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Database returns the underlying database handle for advanced usage.
func (s *Store) Database() *mongod.Database {
	return s.db
}

// Migrate creates indexes for all conveyor collections.
func (s *Store) Migrate(ctx context.Context) error {
	for col, models := range migrationIndexes() {
		if len(models) == 0 {
			continue
		}
		if _, err := s.db.Collection(col).Indexes().CreateMany(ctx, models); err != nil {
			return fmt.Errorf("conveyor/mongo: migrate %s indexes: %w", col, err)
		}
	}
	return nil
}

// migrationIndexes returns the index models per collection.
func migrationIndexes() map[string][]mongod.IndexModel {
	return map[string][]mongod.IndexModel{
		colJobs: {
			{Keys: bson.D{
				{Key: "queue", Value: 1},
				{Key: "state", Value: 1},
				{Key: "priority", Value: 1},
				{Key: "available_at", Value: 1},
			}},
			{Keys: bson.D{
				{Key: "state", Value: 1},
				{Key: "lease_expires_at", Value: 1},
			}},
			{Keys: bson.D{
				{Key: "queue", Value: 1},
				{Key: "idempotency_key", Value: 1},
			}},
			{Keys: bson.D{{Key: "created_at", Value: -1}}},
		},
		colDLQ: {
			{Keys: bson.D{
				{Key: "queue", Value: 1},
				{Key: "failed_at", Value: -1},
			}},
			{Keys: bson.D{{Key: "job_id", Value: 1}}},
		},
	}
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	client := s.db.Client()
	return client.Ping(ctx, nil)
}

// Close disconnects the client when this store dialed it; otherwise
// the caller owns the client lifecycle and Close is a no-op.
func (s *Store) Close() error {
	if !s.ownsClient {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

// ── helpers ──────────────────────────────────────────────────────

// now returns the current UTC time.
func now() time.Time {
	return time.Now().UTC()
}

// isNoDocuments returns true when err indicates no MongoDB documents found.
func isNoDocuments(err error) bool {
	return errors.Is(err, mongod.ErrNoDocuments)
}

// isDuplicateKey checks if a MongoDB error is a duplicate key violation.
func isDuplicateKey(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "duplicate key") ||
		strings.Contains(err.Error(), "E11000")
}
