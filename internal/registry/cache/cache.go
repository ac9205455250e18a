// Package cache provides a read-through cache for registry records. It
// serves the public read endpoints only; purchase-time and grading-time
// checks read the store directly, so a stale entry is at worst a stale
// GET response within the TTL.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"cardvault/internal/registry/models"
	"cardvault/pkg/domain"
)

// RecordCache is the interface the registry service depends on.
type RecordCache interface {
	Get(ctx context.Context, id domain.TokenID) (*models.Record, bool)
	Set(ctx context.Context, record *models.Record)
	Invalidate(ctx context.Context, id domain.TokenID)
}

// Noop disables caching. Used when Redis is not configured.
type Noop struct{}

func (Noop) Get(context.Context, domain.TokenID) (*models.Record, bool) { return nil, false }
func (Noop) Set(context.Context, *models.Record)                        {}
func (Noop) Invalidate(context.Context, domain.TokenID)                 {}

// Redis caches records as JSON with a TTL. Cache failures degrade to store
// reads; they are never surfaced to callers.
type Redis struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedis(client *redis.Client, ttl time.Duration) *Redis {
	return &Redis{client: client, ttl: ttl}
}

func key(id domain.TokenID) string {
	return fmt.Sprintf("cardvault:record:%d", id)
}

func (c *Redis) Get(ctx context.Context, id domain.TokenID) (*models.Record, bool) {
	data, err := c.client.Get(ctx, key(id)).Bytes()
	if err != nil {
		return nil, false
	}
	var record models.Record
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, false
	}
	return &record, true
}

func (c *Redis) Set(ctx context.Context, record *models.Record) {
	data, err := json.Marshal(record)
	if err != nil {
		return
	}
	_ = c.client.Set(ctx, key(record.ID), data, c.ttl).Err()
}

func (c *Redis) Invalidate(ctx context.Context, id domain.TokenID) {
	_ = c.client.Del(ctx, key(id)).Err()
}
