package docstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mittelweg/ares/document"
)

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Addr     string        // Redis server address (e.g. "localhost:6379")
	Password string        // Redis password (if any)
	DB       int           // Redis database number
	Prefix   string        // Key prefix for namespacing
	TTL      time.Duration // Time-to-live for keys (0 means no expiration)
}

// RedisStore implements Store on Redis. Parents and chunks are stored as
// JSON values; the chunk catalog of each parent lives in a list key so
// deletes can find every chunk without scanning.
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisStore creates a Redis-backed store.
func NewRedisStore(config *RedisConfig) *RedisStore {
	if config == nil {
		config = &RedisConfig{
			Addr:   "localhost:6379",
			Prefix: "ares:doc:",
		}
	}
	client := redis.NewClient(&redis.Options{
		Addr:     config.Addr,
		Password: config.Password,
		DB:       config.DB,
	})
	return newRedisStore(client, config.Prefix, config.TTL)
}

// NewRedisStoreWithClient wraps an existing client; mainly useful for tests.
func NewRedisStoreWithClient(client *redis.Client, prefix string, ttl time.Duration) *RedisStore {
	return newRedisStore(client, prefix, ttl)
}

func newRedisStore(client *redis.Client, prefix string, ttl time.Duration) *RedisStore {
	if prefix == "" {
		prefix = "ares:doc:"
	}
	return &RedisStore{client: client, prefix: prefix, ttl: ttl}
}

func (s *RedisStore) parentKey(id string) string  { return s.prefix + "parent:" + id }
func (s *RedisStore) chunkKey(id string) string   { return s.prefix + "chunk:" + id }
func (s *RedisStore) catalogKey(id string) string { return s.prefix + "chunks:" + id }

// PutParent implements Store.
func (s *RedisStore) PutParent(ctx context.Context, doc document.ParentDocument) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal parent %s: %w", doc.ID, err)
	}
	return s.client.Set(ctx, s.parentKey(doc.ID), data, s.ttl).Err()
}

// Parent implements Store.
func (s *RedisStore) Parent(ctx context.Context, id string) (document.ParentDocument, bool, error) {
	data, err := s.client.Get(ctx, s.parentKey(id)).Bytes()
	if err == redis.Nil {
		return document.ParentDocument{}, false, nil
	}
	if err != nil {
		return document.ParentDocument{}, false, err
	}
	var doc document.ParentDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return document.ParentDocument{}, false, fmt.Errorf("unmarshal parent %s: %w", id, err)
	}
	return doc, true, nil
}

// DeleteParent implements Store.
func (s *RedisStore) DeleteParent(ctx context.Context, id string) error {
	ids, err := s.ChunkIDs(ctx, id)
	if err != nil {
		return err
	}
	pipe := s.client.TxPipeline()
	for _, chunkID := range ids {
		pipe.Del(ctx, s.chunkKey(chunkID))
	}
	pipe.Del(ctx, s.catalogKey(id))
	pipe.Del(ctx, s.parentKey(id))
	_, err = pipe.Exec(ctx)
	return err
}

// PutChunks implements Store.
func (s *RedisStore) PutChunks(ctx context.Context, parentID string, chunks []document.Chunk) error {
	old, err := s.ChunkIDs(ctx, parentID)
	if err != nil {
		return err
	}

	pipe := s.client.TxPipeline()
	for _, chunkID := range old {
		pipe.Del(ctx, s.chunkKey(chunkID))
	}
	pipe.Del(ctx, s.catalogKey(parentID))
	for _, ch := range chunks {
		data, err := json.Marshal(ch)
		if err != nil {
			return fmt.Errorf("marshal chunk %s: %w", ch.ID, err)
		}
		pipe.Set(ctx, s.chunkKey(ch.ID), data, s.ttl)
		pipe.RPush(ctx, s.catalogKey(parentID), ch.ID)
	}
	if s.ttl > 0 && len(chunks) > 0 {
		pipe.Expire(ctx, s.catalogKey(parentID), s.ttl)
	}
	_, err = pipe.Exec(ctx)
	return err
}

// Chunk implements Store.
func (s *RedisStore) Chunk(ctx context.Context, id string) (document.Chunk, bool, error) {
	data, err := s.client.Get(ctx, s.chunkKey(id)).Bytes()
	if err == redis.Nil {
		return document.Chunk{}, false, nil
	}
	if err != nil {
		return document.Chunk{}, false, err
	}
	var ch document.Chunk
	if err := json.Unmarshal(data, &ch); err != nil {
		return document.Chunk{}, false, fmt.Errorf("unmarshal chunk %s: %w", id, err)
	}
	return ch, true, nil
}

// ChunkIDs implements Store.
func (s *RedisStore) ChunkIDs(ctx context.Context, parentID string) ([]string, error) {
	ids, err := s.client.LRange(ctx, s.catalogKey(parentID), 0, -1).Result()
	if err == redis.Nil {
		return nil, nil
	}
	return ids, err
}

// Close releases the underlying client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
