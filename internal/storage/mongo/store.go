// Package mongo implements the document store on MongoDB.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/tjfontaine/gamestats/internal/pipeline"
	"github.com/tjfontaine/gamestats/internal/storage"
)

// Store is a MongoDB implementation of DocumentStore
type Store struct {
	client *mongo.Client
	db     *mongo.Database
	logger *slog.Logger
}

var _ storage.DocumentStore = (*Store)(nil)

// Config holds database connection configuration
type Config struct {
	URI            string
	Database       string
	ConnectTimeout time.Duration
}

// New connects to MongoDB and verifies the connection.
func New(ctx context.Context, cfg Config, logger *slog.Logger) (*Store, error) {
	if cfg.Database == "" {
		return nil, errors.New("mongo database name is required")
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}

	opts := options.Client().
		ApplyURI(cfg.URI).
		SetConnectTimeout(cfg.ConnectTimeout).
		SetBSONOptions(&options.BSONOptions{DefaultDocumentM: true})

	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongo: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()
	if err := client.Ping(pingCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping mongo: %w", err)
	}

	return &Store{
		client: client,
		db:     client.Database(cfg.Database),
		logger: logger,
	}, nil
}

// EnsureCollections creates missing collections and their indexes.
func (s *Store) EnsureCollections(ctx context.Context, collections []string) error {
	existing, err := s.db.ListCollectionNames(ctx, bson.D{})
	if err != nil {
		return fmt.Errorf("failed to list collections: %w", err)
	}
	have := make(map[string]bool, len(existing))
	for _, name := range existing {
		have[name] = true
	}

	for _, name := range collections {
		if !have[name] {
			if err := s.db.CreateCollection(ctx, name); err != nil {
				return fmt.Errorf("failed to create collection %s: %w", name, err)
			}
			s.logger.Info("created collection", slog.String("collection", name))
		}

		indexes := []mongo.IndexModel{
			{Keys: bson.D{{Key: "player_id", Value: 1}}},
			{Keys: bson.D{{Key: "created_at", Value: -1}}},
		}
		if _, err := s.db.Collection(name).Indexes().CreateMany(ctx, indexes); err != nil {
			return fmt.Errorf("failed to create indexes on %s: %w", name, err)
		}
	}
	return nil
}

func (s *Store) Insert(ctx context.Context, collection string, doc any) error {
	if _, err := s.db.Collection(collection).InsertOne(ctx, doc); err != nil {
		return fmt.Errorf("failed to insert into %s: %w", collection, err)
	}
	return nil
}

// Aggregate runs a sanitized pipeline and decodes every result.
func (s *Store) Aggregate(ctx context.Context, collection string, stages []pipeline.Stage) ([]map[string]any, error) {
	pipe, err := Pipeline(stages)
	if err != nil {
		return nil, fmt.Errorf("failed to encode pipeline: %w", err)
	}

	cursor, err := s.db.Collection(collection).Aggregate(ctx, pipe)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var raw []bson.M
	if err := cursor.All(ctx, &raw); err != nil {
		return nil, err
	}

	results := make([]map[string]any, len(raw))
	for i, doc := range raw {
		results[i] = normalizeMap(doc)
	}
	return results, nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, readpref.Primary())
}

func (s *Store) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}
