package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/ragscope/backend/pkg/logger"
)

type Client struct {
	client *redis.Client
}

func NewClient(ctx context.Context, host string, port int, password string, db int) (*Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", host, port),
		Password: password,
		DB:       db,
	})

	if _, err := client.Ping(ctx).Result(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	logger.Info("Redis client initialized", zap.String("addr", fmt.Sprintf("%s:%d", host, port)))

	return &Client{client: client}, nil
}

func (c *Client) Close() error {
	return c.client.Close()
}

func (c *Client) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func scoreKey(key string) string {
	return "score:" + key
}

type cachedScore struct {
	Score  float64 `json:"score"`
	Reason string  `json:"reason,omitempty"`
}

func (c *Client) SetScore(ctx context.Context, key string, score float64, reason string, ttl time.Duration) error {
	value, err := json.Marshal(cachedScore{Score: score, Reason: reason})
	if err != nil {
		return fmt.Errorf("failed to marshal score: %w", err)
	}
	if err := c.client.Set(ctx, scoreKey(key), value, ttl).Err(); err != nil {
		return fmt.Errorf("failed to set score cache: %w", err)
	}

	logger.Debug("Score cached", zap.String("key", key), zap.Duration("ttl", ttl))
	return nil
}

func (c *Client) GetScore(ctx context.Context, key string) (float64, string, bool, error) {
	data, err := c.client.Get(ctx, scoreKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return 0, "", false, nil
	}
	if err != nil {
		return 0, "", false, fmt.Errorf("failed to get score cache: %w", err)
	}

	var cached cachedScore
	if err := json.Unmarshal(data, &cached); err != nil {
		return 0, "", false, fmt.Errorf("failed to decode cached score: %w", err)
	}

	logger.Debug("Score cache hit", zap.String("key", key))
	return cached.Score, cached.Reason, true, nil
}
