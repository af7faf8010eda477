// Package cache keeps a short-lived Redis copy of annotation reads and
// records signed-out JWT ids until they expire.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/map-annotator/backend/internal/config"
	"github.com/map-annotator/backend/internal/models"
)

const (
	markerKeyPrefix  = "marker:"
	markerListKey    = "marker:list"
	revokedKeyPrefix = "revoked:"

	cacheTTL = 5 * time.Minute
)

// Cache defines the caching operations the handlers depend on.
type Cache interface {
	// Get returns the cached annotation for id, or nil on a miss.
	Get(ctx context.Context, id string) (*models.Annotation, error)

	// GetAll returns the cached annotation list. The bool reports whether
	// the list key was present at all, so an empty list is still a hit.
	GetAll(ctx context.Context) ([]models.Annotation, bool, error)

	// Set caches one annotation and drops the list key.
	Set(ctx context.Context, annotation *models.Annotation) error

	// SetAll caches the full annotation list.
	SetAll(ctx context.Context, annotations []models.Annotation) error

	// Delete evicts one annotation and drops the list key.
	Delete(ctx context.Context, id string) error

	// InvalidateAll drops the cached annotation list.
	InvalidateAll(ctx context.Context) error

	// DenyToken records a signed-out token id until the token would have
	// expired anyway.
	DenyToken(ctx context.Context, tokenID string, ttl time.Duration) error

	// TokenDenied reports whether the token id has been signed out.
	TokenDenied(ctx context.Context, tokenID string) (bool, error)

	// Close releases the underlying connection.
	Close() error
}

// RedisCache implements Cache on a single Redis client.
type RedisCache struct {
	client *redis.Client
	logger *zap.Logger
	ttl    time.Duration
}

// NewRedisCache connects to the Redis instance named by the config and
// verifies it answers before handing the cache out.
func NewRedisCache(cfg *config.Config, logger *zap.Logger) (Cache, error) {
	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	logger.Info("Connected to Redis cache")

	return &RedisCache{
		client: client,
		logger: logger,
		ttl:    cacheTTL,
	}, nil
}

// Get returns the cached annotation for id. Redis errors and decode
// failures degrade to a miss rather than failing the read path.
func (c *RedisCache) Get(ctx context.Context, id string) (*models.Annotation, error) {
	key := markerKeyPrefix + id

	data, err := c.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		c.logger.Warn("Cache read failed", zap.String("key", key), zap.Error(err))
		return nil, nil
	}

	var annotation models.Annotation
	if err := json.Unmarshal(data, &annotation); err != nil {
		c.logger.Warn("Cached annotation would not decode", zap.String("key", key), zap.Error(err))
		return nil, nil
	}

	return &annotation, nil
}

// GetAll returns the cached annotation list, with hit=false on any miss.
func (c *RedisCache) GetAll(ctx context.Context) ([]models.Annotation, bool, error) {
	data, err := c.client.Get(ctx, markerListKey).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		c.logger.Warn("Cache read failed", zap.String("key", markerListKey), zap.Error(err))
		return nil, false, nil
	}

	var annotations []models.Annotation
	if err := json.Unmarshal(data, &annotations); err != nil {
		c.logger.Warn("Cached annotation list would not decode", zap.Error(err))
		return nil, false, nil
	}

	return annotations, true, nil
}

// Set caches a single annotation. The list key is dropped so the next
// list read repopulates it from the database.
func (c *RedisCache) Set(ctx context.Context, annotation *models.Annotation) error {
	key := markerKeyPrefix + annotation.ID

	data, err := json.Marshal(annotation)
	if err != nil {
		return err
	}

	if err := c.client.Set(ctx, key, data, c.ttl).Err(); err != nil {
		c.logger.Warn("Cache write failed", zap.String("key", key), zap.Error(err))
		return err
	}

	return c.InvalidateAll(ctx)
}

// SetAll caches the full annotation list under the list key.
func (c *RedisCache) SetAll(ctx context.Context, annotations []models.Annotation) error {
	data, err := json.Marshal(annotations)
	if err != nil {
		return err
	}

	if err := c.client.Set(ctx, markerListKey, data, c.ttl).Err(); err != nil {
		c.logger.Warn("Cache write failed", zap.String("key", markerListKey), zap.Error(err))
		return err
	}

	c.logger.Debug("Cached annotation list", zap.Int("count", len(annotations)))
	return nil
}

// Delete evicts one annotation and drops the list key.
func (c *RedisCache) Delete(ctx context.Context, id string) error {
	key := markerKeyPrefix + id

	if err := c.client.Del(ctx, key).Err(); err != nil {
		c.logger.Warn("Cache eviction failed", zap.String("key", key), zap.Error(err))
		return err
	}

	return c.InvalidateAll(ctx)
}

// InvalidateAll drops the cached annotation list.
func (c *RedisCache) InvalidateAll(ctx context.Context) error {
	if err := c.client.Del(ctx, markerListKey).Err(); err != nil {
		c.logger.Warn("Cache eviction failed", zap.String("key", markerListKey), zap.Error(err))
		return err
	}
	return nil
}

// DenyToken records a signed-out token id for the remainder of its life.
// A non-positive ttl means the token is already expired and needs no entry.
func (c *RedisCache) DenyToken(ctx context.Context, tokenID string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}

	key := revokedKeyPrefix + tokenID
	if err := c.client.Set(ctx, key, "1", ttl).Err(); err != nil {
		c.logger.Warn("Token revocation write failed", zap.String("token_id", tokenID), zap.Error(err))
		return err
	}

	c.logger.Debug("Recorded signed-out token", zap.String("token_id", tokenID))
	return nil
}

// TokenDenied reports whether the token id has been signed out. Redis
// failures count as not denied so a cache outage cannot lock everyone out.
func (c *RedisCache) TokenDenied(ctx context.Context, tokenID string) (bool, error) {
	_, err := c.client.Get(ctx, revokedKeyPrefix+tokenID).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		c.logger.Warn("Token revocation read failed", zap.String("token_id", tokenID), zap.Error(err))
		return false, nil
	}
	return true, nil
}

// Close releases the Redis connection.
func (c *RedisCache) Close() error {
	return c.client.Close()
}
