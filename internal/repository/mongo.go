package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Document is a stored document with its ID exposed as "id".
type Document map[string]any

// DocumentStore reads documents and the shared URL blacklist from MongoDB.
// Every call goes through a circuit breaker so an unreachable cluster fails
// fast instead of stalling requests.
type DocumentStore struct {
	client    *mongo.Client
	db        *mongo.Database
	blacklist string
	cb        *gobreaker.CircuitBreaker
}

// NewDocumentStore connects to uri and pings the cluster.
func NewDocumentStore(uri, database, blacklistCollection string) (*DocumentStore, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	clientOpts := options.Client().
		ApplyURI(uri).
		SetMaxPoolSize(50).
		SetMaxConnIdleTime(30 * time.Second)

	client, err := mongo.Connect(ctx, clientOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	// Ping to verify connection
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	return &DocumentStore{
		client:    client,
		db:        client.Database(database),
		blacklist: blacklistCollection,
		cb:        newBreaker("mongodb"),
	}, nil
}

func newBreaker(name string) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 3,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.ConsecutiveFailures > 5 ||
				(counts.Requests >= 10 && failureRatio >= 0.6)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state changed")
		},
	})
}

func (s *DocumentStore) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

func (s *DocumentStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, nil)
}

// GetDocument returns nil, nil when the document does not exist.
func (s *DocumentStore) GetDocument(ctx context.Context, collection, id string) (Document, error) {
	out, err := s.cb.Execute(func() (interface{}, error) {
		var raw bson.M
		err := s.db.Collection(collection).FindOne(ctx, idFilter(id)).Decode(&raw)
		if err != nil {
			if errors.Is(err, mongo.ErrNoDocuments) {
				return nil, nil
			}
			return nil, err
		}
		return toDocument(raw), nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get document %s/%s: %w", collection, id, err)
	}
	if out == nil {
		return nil, nil
	}
	return out.(Document), nil
}

// ListDocuments returns every document in collection.
func (s *DocumentStore) ListDocuments(ctx context.Context, collection string) ([]Document, error) {
	out, err := s.cb.Execute(func() (interface{}, error) {
		cursor, err := s.db.Collection(collection).Find(ctx, bson.M{})
		if err != nil {
			return nil, err
		}
		defer cursor.Close(ctx)

		docs := []Document{}
		for cursor.Next(ctx) {
			var raw bson.M
			if err := cursor.Decode(&raw); err != nil {
				return nil, err
			}
			docs = append(docs, toDocument(raw))
		}
		return docs, cursor.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", collection, err)
	}
	return out.([]Document), nil
}

// ListBlacklist returns the documents of the blacklist collection.
func (s *DocumentStore) ListBlacklist(ctx context.Context) ([]Document, error) {
	return s.ListDocuments(ctx, s.blacklist)
}

// GetBlocklist returns the normalized targets of the blacklist collection.
func (s *DocumentStore) GetBlocklist(ctx context.Context) ([]string, error) {
	docs, err := s.ListBlacklist(ctx)
	if err != nil {
		return nil, err
	}
	return blocklistTargets(docs), nil
}

// blocklistTargets reads the "url" field (or "domain") of each document.
func blocklistTargets(docs []Document) []string {
	var targets []string
	for _, doc := range docs {
		raw, _ := doc["url"].(string)
		if raw == "" {
			raw, _ = doc["domain"].(string)
		}
		if target, ok := NormalizeTarget(raw); ok {
			targets = append(targets, target)
		}
	}
	return targets
}

// idFilter matches ObjectID hex strings as ObjectIDs and anything else as a
// plain string _id.
func idFilter(id string) bson.M {
	if oid, err := primitive.ObjectIDFromHex(id); err == nil {
		return bson.M{"_id": bson.M{"$in": bson.A{oid, id}}}
	}
	return bson.M{"_id": id}
}

func toDocument(raw bson.M) Document {
	doc := make(Document, len(raw))
	for k, v := range raw {
		if k == "_id" {
			switch id := v.(type) {
			case primitive.ObjectID:
				doc["id"] = id.Hex()
			default:
				doc["id"] = fmt.Sprint(id)
			}
			continue
		}
		doc[k] = v
	}
	return doc
}
