package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	// SendResultTTL is how long the outcome of an operator send is remembered.
	SendResultTTL = 24 * time.Hour

	// processingTTL bounds the reservation while a send is in flight.
	processingTTL = 2 * time.Minute

	processingMarker = "processing"
)

// ErrDuplicateRequest indicates the same idempotency key is still being processed.
var ErrDuplicateRequest = errors.New("duplicate request: idempotency key already exists")

// SendResult is the remembered outcome of an operator-initiated send.
type SendResult struct {
	Channel     string `json:"channel"`
	Status      string `json:"status"`
	Reason      string `json:"reason,omitempty"`
	ProviderRef string `json:"provider_ref,omitempty"`
	StatusCode  int    `json:"status_code"`
	CreatedAt   int64  `json:"created_at"`
}

// SendGuard makes POST /v1/notifications safe to retry with an Idempotency-Key.
type SendGuard struct {
	client *Client
	logger *zap.Logger
}

// NewSendGuard creates a new guard.
func NewSendGuard(client *Client, logger *zap.Logger) *SendGuard {
	return &SendGuard{
		client: client,
		logger: logger,
	}
}

// Check returns the stored result for key. Returns (nil, nil) if the key is
// unknown and ErrDuplicateRequest while another request holds it.
func (g *SendGuard) Check(ctx context.Context, idempotencyKey string) (*SendResult, error) {
	val, err := g.client.rdb.Get(ctx, key("send", idempotencyKey)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get failed: %w", err)
	}

	if val == processingMarker {
		return nil, ErrDuplicateRequest
	}

	var result SendResult
	if err := json.Unmarshal([]byte(val), &result); err != nil {
		g.logger.Error("failed to unmarshal send result", zap.Error(err))
		return nil, fmt.Errorf("invalid cached result: %w", err)
	}

	return &result, nil
}

// CheckOrReserve returns a stored result if there is one, otherwise reserves
// the key for the caller. A nil result and nil error mean the caller owns the key.
func (g *SendGuard) CheckOrReserve(ctx context.Context, idempotencyKey string) (*SendResult, error) {
	result, err := g.Check(ctx, idempotencyKey)
	if err != nil || result != nil {
		return result, err
	}

	reserved, err := g.client.rdb.SetNX(ctx, key("send", idempotencyKey), processingMarker, processingTTL).Result()
	if err != nil {
		return nil, fmt.Errorf("redis setnx failed: %w", err)
	}
	if !reserved {
		return nil, ErrDuplicateRequest
	}

	return nil, nil
}

// Store records the outcome of the send held under key.
func (g *SendGuard) Store(ctx context.Context, idempotencyKey string, result *SendResult) error {
	if result.CreatedAt == 0 {
		result.CreatedAt = time.Now().Unix()
	}

	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to marshal result: %w", err)
	}

	if err := g.client.rdb.Set(ctx, key("send", idempotencyKey), data, SendResultTTL).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}

	return nil
}

// Release drops a reservation without a result so the request can be retried.
func (g *SendGuard) Release(ctx context.Context, idempotencyKey string) {
	if err := g.client.rdb.Del(ctx, key("send", idempotencyKey)).Err(); err != nil {
		g.logger.Warn("failed to release idempotency key", zap.Error(err))
	}
}
