package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/lalithlochan/herald/internal/db"
)

// TemplateCache stores active templates as JSON under herald:template:{code}.
type TemplateCache struct {
	client *Client
	logger *zap.Logger
	ttl    time.Duration
}

// NewTemplateCache creates a cache whose entries expire after ttl.
func NewTemplateCache(client *Client, logger *zap.Logger, ttl time.Duration) *TemplateCache {
	return &TemplateCache{
		client: client,
		logger: logger,
		ttl:    ttl,
	}
}

// Get returns the cached template, or (nil, nil) on a miss.
func (c *TemplateCache) Get(ctx context.Context, code string) (*db.Template, error) {
	val, err := c.client.rdb.Get(ctx, key("template", code)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get failed: %w", err)
	}

	var t db.Template
	if err := json.Unmarshal(val, &t); err != nil {
		c.logger.Warn("dropping unreadable cached template",
			zap.String("code", code),
			zap.Error(err),
		)
		_ = c.client.rdb.Del(ctx, key("template", code)).Err()
		return nil, nil
	}

	return &t, nil
}

// Set caches a template under its code.
func (c *TemplateCache) Set(ctx context.Context, t *db.Template) error {
	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("failed to marshal template: %w", err)
	}

	if err := c.client.rdb.Set(ctx, key("template", t.Code), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}

	return nil
}

// Invalidate removes cached entries for the given codes.
func (c *TemplateCache) Invalidate(ctx context.Context, codes ...string) error {
	if len(codes) == 0 {
		return nil
	}
	keys := make([]string, len(codes))
	for i, code := range codes {
		keys[i] = key("template", code)
	}
	if err := c.client.rdb.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("redis del failed: %w", err)
	}
	return nil
}
