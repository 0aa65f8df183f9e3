package docstore

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/mittelweg/ares/document"
)

// MongoConfig holds MongoDB connection settings.
type MongoConfig struct {
	URI        string // e.g. "mongodb://localhost:27017"
	Database   string
	ParentColl string // defaults to "parents"
	ChunkColl  string // defaults to "chunks"
	Timeout    time.Duration
}

// MongoStore implements Store on MongoDB with one collection for parents
// and one for chunks (keyed by chunk id, indexed by parent id).
type MongoStore struct {
	client  *mongo.Client
	parents *mongo.Collection
	chunks  *mongo.Collection
}

type mongoParent struct {
	ID         string              `bson:"_id"`
	SourceName string              `bson:"source_name"`
	FullText   string              `bson:"full_text"`
	Pages      []document.PageSpan `bson:"pages,omitempty"`
	Metadata   map[string]string   `bson:"metadata,omitempty"`
}

type mongoChunk struct {
	ID       string `bson:"_id"`
	ParentID string `bson:"parent_id"`
	Content  string `bson:"content"`
	Start    int    `bson:"start"`
	End      int    `bson:"end"`
	Page     int    `bson:"page,omitempty"`
	Ordinal  int    `bson:"ordinal"`
}

// NewMongoStore connects to MongoDB and prepares the collections.
func NewMongoStore(ctx context.Context, config *MongoConfig) (*MongoStore, error) {
	if config == nil || config.URI == "" {
		return nil, fmt.Errorf("mongo config with URI is required")
	}
	if config.Database == "" {
		config.Database = "ares"
	}
	if config.ParentColl == "" {
		config.ParentColl = "parents"
	}
	if config.ChunkColl == "" {
		config.ChunkColl = "chunks"
	}
	timeout := config.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	connectCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(config.URI))
	if err != nil {
		return nil, fmt.Errorf("connect to mongo: %w", err)
	}
	if err := client.Ping(connectCtx, nil); err != nil {
		return nil, fmt.Errorf("ping mongo: %w", err)
	}

	db := client.Database(config.Database)
	store := &MongoStore{
		client:  client,
		parents: db.Collection(config.ParentColl),
		chunks:  db.Collection(config.ChunkColl),
	}

	idx := mongo.IndexModel{Keys: bson.D{{Key: "parent_id", Value: 1}}}
	if _, err := store.chunks.Indexes().CreateOne(connectCtx, idx); err != nil {
		return nil, fmt.Errorf("create chunk index: %w", err)
	}
	return store, nil
}

// PutParent implements Store.
func (s *MongoStore) PutParent(ctx context.Context, doc document.ParentDocument) error {
	record := mongoParent{
		ID:         doc.ID,
		SourceName: doc.SourceName,
		FullText:   doc.FullText,
		Pages:      doc.Pages,
		Metadata:   doc.Metadata,
	}
	_, err := s.parents.ReplaceOne(ctx, bson.M{"_id": doc.ID}, record, options.Replace().SetUpsert(true))
	return err
}

// Parent implements Store.
func (s *MongoStore) Parent(ctx context.Context, id string) (document.ParentDocument, bool, error) {
	var record mongoParent
	err := s.parents.FindOne(ctx, bson.M{"_id": id}).Decode(&record)
	if err == mongo.ErrNoDocuments {
		return document.ParentDocument{}, false, nil
	}
	if err != nil {
		return document.ParentDocument{}, false, err
	}
	return document.ParentDocument{
		ID:         record.ID,
		SourceName: record.SourceName,
		FullText:   record.FullText,
		Pages:      record.Pages,
		Metadata:   record.Metadata,
	}, true, nil
}

// DeleteParent implements Store.
func (s *MongoStore) DeleteParent(ctx context.Context, id string) error {
	if _, err := s.chunks.DeleteMany(ctx, bson.M{"parent_id": id}); err != nil {
		return err
	}
	_, err := s.parents.DeleteOne(ctx, bson.M{"_id": id})
	return err
}

// PutChunks implements Store.
func (s *MongoStore) PutChunks(ctx context.Context, parentID string, chunks []document.Chunk) error {
	if _, err := s.chunks.DeleteMany(ctx, bson.M{"parent_id": parentID}); err != nil {
		return err
	}
	if len(chunks) == 0 {
		return nil
	}
	records := make([]any, 0, len(chunks))
	for i, ch := range chunks {
		records = append(records, mongoChunk{
			ID:       ch.ID,
			ParentID: ch.ParentID,
			Content:  ch.Content,
			Start:    ch.Start,
			End:      ch.End,
			Page:     ch.Page,
			Ordinal:  i,
		})
	}
	_, err := s.chunks.InsertMany(ctx, records)
	return err
}

// Chunk implements Store.
func (s *MongoStore) Chunk(ctx context.Context, id string) (document.Chunk, bool, error) {
	var record mongoChunk
	err := s.chunks.FindOne(ctx, bson.M{"_id": id}).Decode(&record)
	if err == mongo.ErrNoDocuments {
		return document.Chunk{}, false, nil
	}
	if err != nil {
		return document.Chunk{}, false, err
	}
	return document.Chunk{
		ID:       record.ID,
		ParentID: record.ParentID,
		Content:  record.Content,
		Start:    record.Start,
		End:      record.End,
		Page:     record.Page,
	}, true, nil
}

// ChunkIDs implements Store.
func (s *MongoStore) ChunkIDs(ctx context.Context, parentID string) ([]string, error) {
	opts := options.Find().
		SetProjection(bson.M{"_id": 1}).
		SetSort(bson.D{{Key: "ordinal", Value: 1}})
	cursor, err := s.chunks.Find(ctx, bson.M{"parent_id": parentID}, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var ids []string
	for cursor.Next(ctx) {
		var record struct {
			ID string `bson:"_id"`
		}
		if err := cursor.Decode(&record); err != nil {
			return nil, err
		}
		ids = append(ids, record.ID)
	}
	return ids, cursor.Err()
}

// Close disconnects the client.
func (s *MongoStore) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}
