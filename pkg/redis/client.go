package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Config holds Redis configuration.
type Config struct {
	URL          string // redis:// URL; takes precedence over Host/Port
	Host         string
	Port         string
	Password     string
	DB           int
	PoolSize     int
	MinIdleConns int
	MaxRetries   int
}

// Client wraps the Redis client with additional functionality.
type Client struct {
	*redis.Client
	log *zap.Logger
}

// NewClient creates a new Redis client and verifies connectivity.
func NewClient(cfg Config, log *zap.Logger) (*Client, error) {
	var opts *redis.Options
	if cfg.URL != "" {
		parsed, err := redis.ParseURL(cfg.URL)
		if err != nil {
			return nil, fmt.Errorf("invalid redis url: %w", err)
		}
		opts = parsed
	} else {
		opts = &redis.Options{
			Addr:     fmt.Sprintf("%s:%s", cfg.Host, cfg.Port),
			Password: cfg.Password,
			DB:       cfg.DB,
		}
	}
	if cfg.PoolSize > 0 {
		opts.PoolSize = cfg.PoolSize
	}
	if cfg.MinIdleConns > 0 {
		opts.MinIdleConns = cfg.MinIdleConns
	}
	if cfg.MaxRetries > 0 {
		opts.MaxRetries = cfg.MaxRetries
	}
	client := redis.NewClient(opts)

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &Client{
		Client: client,
		log:    log.With(zap.String("module", "redis")),
	}, nil
}

// NewFromExisting wraps an already constructed go-redis client. Used by tests
// backed by miniredis.
func NewFromExisting(client *redis.Client, log *zap.Logger) *Client {
	return &Client{Client: client, log: log.With(zap.String("module", "redis"))}
}

// Close closes the Redis client connection.
func (c *Client) Close() error {
	if err := c.Client.Close(); err != nil {
		c.log.Error("failed to close Redis client", zap.Error(err))
		return err
	}
	return nil
}

// IsAvailable checks if Redis is available.
func (c *Client) IsAvailable(ctx context.Context) error {
	return c.Ping(ctx).Err()
}
