package retrieval

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache TTLs. Query results age out quickly because the knowledge base is
// writable; embeddings are pure functions of (model, text) and keep far
// longer.
const (
	DefaultQueryTTL     = time.Hour
	DefaultEmbeddingTTL = 7 * 24 * time.Hour
)

// Cache is a Redis-backed read-through cache for the retrieval pipeline.
// Every failure degrades to a miss; the cache never affects correctness.
// A nil *Cache is valid and always misses.
type Cache struct {
	rdb      redis.UniversalClient
	queryTTL time.Duration
	embedTTL time.Duration
}

// NewCache wraps rdb with the default TTLs.
func NewCache(rdb redis.UniversalClient) *Cache {
	return &Cache{rdb: rdb, queryTTL: DefaultQueryTTL, embedTTL: DefaultEmbeddingTTL}
}

// queryKey hashes the full query identity: namespace, query text, and
// filter.
func queryKey(businessID, query string, f Filter) string {
	sum := sha256.Sum256([]byte(businessID + "\x00" + query + "\x00" + f.Vendor + "\x00" + f.DocType))
	return "rag:q:" + hex.EncodeToString(sum[:])
}

// embeddingKey hashes (model, text).
func embeddingKey(model, text string) string {
	sum := sha256.Sum256([]byte(model + "\x00" + text))
	return "rag:e:" + hex.EncodeToString(sum[:])
}

// GetResults returns a cached result list, or false on any miss or error.
func (c *Cache) GetResults(ctx context.Context, businessID, query string, f Filter) ([]Result, bool) {
	if c == nil {
		return nil, false
	}
	data, err := c.rdb.Get(ctx, queryKey(businessID, query, f)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			slog.Debug("retrieval: query cache read failed", "error", err)
		}
		return nil, false
	}
	var results []Result
	if err := json.Unmarshal(data, &results); err != nil {
		slog.Debug("retrieval: query cache decode failed", "error", err)
		return nil, false
	}
	return results, true
}

// SetResults stores a result list. Errors are logged and dropped.
func (c *Cache) SetResults(ctx context.Context, businessID, query string, f Filter, results []Result) {
	if c == nil {
		return
	}
	data, err := json.Marshal(results)
	if err != nil {
		return
	}
	if err := c.rdb.Set(ctx, queryKey(businessID, query, f), data, c.queryTTL).Err(); err != nil {
		slog.Debug("retrieval: query cache write failed", "error", err)
	}
}

// InvalidateQueries drops all cached query results. Called on knowledge-base
// writes so stale results never outlive an update by more than one lookup.
func (c *Cache) InvalidateQueries(ctx context.Context) {
	if c == nil {
		return
	}
	iter := c.rdb.Scan(ctx, 0, "rag:q:*", 0).Iterator()
	for iter.Next(ctx) {
		if err := c.rdb.Del(ctx, iter.Val()).Err(); err != nil {
			slog.Debug("retrieval: query cache invalidate failed", "key", iter.Val(), "error", err)
		}
	}
	if err := iter.Err(); err != nil {
		slog.Debug("retrieval: query cache scan failed", "error", err)
	}
}

// GetEmbedding returns a cached vector, or false.
func (c *Cache) GetEmbedding(ctx context.Context, model, text string) ([]float32, bool) {
	if c == nil {
		return nil, false
	}
	data, err := c.rdb.Get(ctx, embeddingKey(model, text)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			slog.Debug("retrieval: embedding cache read failed", "error", err)
		}
		return nil, false
	}
	var vec []float32
	if err := json.Unmarshal(data, &vec); err != nil {
		return nil, false
	}
	return vec, true
}

// SetEmbedding stores a vector. Errors are logged and dropped.
func (c *Cache) SetEmbedding(ctx context.Context, model, text string, vec []float32) {
	if c == nil {
		return
	}
	data, err := json.Marshal(vec)
	if err != nil {
		return
	}
	if err := c.rdb.Set(ctx, embeddingKey(model, text), data, c.embedTTL).Err(); err != nil {
		slog.Debug("retrieval: embedding cache write failed", "error", err)
	}
}
