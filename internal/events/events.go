// ABOUTME: Publishers that forward verified shop webhooks to downstream consumers
// ABOUTME: RedisPublisher appends to a Redis stream, LogPublisher only logs

package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

// Message is one verified webhook ready for forwarding.
type Message struct {
	AppKey         string
	ShopID         string
	InternalShopID string
	EventID        string
	Event          string
	Payload        json.RawMessage
}

func (m Message) values() map[string]any {
	payload := string(m.Payload)
	if payload == "" {
		payload = "null"
	}
	return map[string]any{
		"app":              m.AppKey,
		"shop_id":          m.ShopID,
		"internal_shop_id": m.InternalShopID,
		"event_id":         m.EventID,
		"event":            m.Event,
		"payload":          payload,
	}
}

// Publisher forwards webhook messages.
type Publisher interface {
	Publish(ctx context.Context, msg Message) error
	Close() error
}

// RedisConfig holds the connection settings for RedisPublisher.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Stream   string
	// MaxLen caps the stream length approximately; 0 keeps everything.
	MaxLen int64
}

// RedisPublisher appends messages to a Redis stream with XADD.
type RedisPublisher struct {
	client *redis.Client
	stream string
	maxLen int64
	logger *slog.Logger
}

// NewRedisPublisher connects to Redis and verifies the connection with PING.
func NewRedisPublisher(ctx context.Context, cfg RedisConfig, logger *slog.Logger) (*RedisPublisher, error) {
	if cfg.Stream == "" {
		return nil, fmt.Errorf("redis stream name is required")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connecting to redis at %s: %w", cfg.Addr, err)
	}
	return newRedisPublisher(client, cfg, logger), nil
}

func newRedisPublisher(client *redis.Client, cfg RedisConfig, logger *slog.Logger) *RedisPublisher {
	return &RedisPublisher{
		client: client,
		stream: cfg.Stream,
		maxLen: cfg.MaxLen,
		logger: logger.With("component", "events", "stream", cfg.Stream),
	}
}

// Publish appends msg to the stream.
func (p *RedisPublisher) Publish(ctx context.Context, msg Message) error {
	args := &redis.XAddArgs{
		Stream: p.stream,
		Values: msg.values(),
	}
	if p.maxLen > 0 {
		args.MaxLen = p.maxLen
		args.Approx = true
	}

	id, err := p.client.XAdd(ctx, args).Result()
	if err != nil {
		return fmt.Errorf("publishing event %s: %w", msg.Event, err)
	}
	p.logger.Debug("event forwarded", "app", msg.AppKey, "shop_id", msg.ShopID, "event", msg.Event, "entry_id", id)
	return nil
}

// Close closes the Redis client.
func (p *RedisPublisher) Close() error {
	return p.client.Close()
}

// LogPublisher logs messages instead of forwarding them.
type LogPublisher struct {
	logger *slog.Logger
}

// NewLogPublisher creates a LogPublisher.
func NewLogPublisher(logger *slog.Logger) *LogPublisher {
	return &LogPublisher{logger: logger.With("component", "events")}
}

// Publish logs msg at info level.
func (p *LogPublisher) Publish(ctx context.Context, msg Message) error {
	p.logger.InfoContext(ctx, "event received",
		"app", msg.AppKey,
		"shop_id", msg.ShopID,
		"internal_shop_id", msg.InternalShopID,
		"event_id", msg.EventID,
		"event", msg.Event,
		"payload_bytes", len(msg.Payload),
	)
	return nil
}

// Close is a no-op.
func (p *LogPublisher) Close() error {
	return nil
}
