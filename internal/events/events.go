// Package events announces finished sync runs to other services.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	DefaultChannel = "EVENT_GRANTS_SYNCED"

	TypeSyncCompleted = "SYNC_COMPLETED"
	TypeSyncFailed    = "SYNC_FAILED"
)

// Config selects the redis instance events are published to. An empty URL
// disables publishing.
type Config struct {
	URL     string `yaml:"url"`
	Channel string `yaml:"channel"`
}

// Event is the JSON payload published after every completed run.
type Event struct {
	Type             string    `json:"type"`
	RunID            string    `json:"runId"`
	Status           string    `json:"status"`
	FileName         string    `json:"fileName,omitempty"`
	RecordsProcessed int       `json:"recordsProcessed"`
	RecordsDeleted   int       `json:"recordsDeleted"`
	RecordsSkipped   int       `json:"recordsSkipped"`
	Skipped          bool      `json:"skipped"`
	ErrorMessage     string    `json:"errorMessage,omitempty"`
	CompletedAt      time.Time `json:"completedAt"`
}

// Publisher sends events.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
	Close() error
}

// Nop discards events.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }
func (Nop) Close() error                         { return nil }

// RedisPublisher publishes events on a redis pub/sub channel.
type RedisPublisher struct {
	rdb     *redis.Client
	channel string
}

// New returns a publisher for cfg, or Nop when no URL is configured.
func New(ctx context.Context, cfg Config) (Publisher, error) {
	if cfg.URL == "" {
		return Nop{}, nil
	}
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("redis.ParseURL: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return NewRedisPublisher(rdb, cfg.Channel), nil
}

// NewRedisPublisher wraps an existing client.
func NewRedisPublisher(rdb *redis.Client, channel string) *RedisPublisher {
	if channel == "" {
		channel = DefaultChannel
	}
	return &RedisPublisher{rdb: rdb, channel: channel}
}

// Publish sends ev as JSON.
func (p *RedisPublisher) Publish(ctx context.Context, ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := p.rdb.Publish(ctx, p.channel, payload).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", p.channel, err)
	}
	return nil
}

// Close releases the redis connection pool.
func (p *RedisPublisher) Close() error {
	return p.rdb.Close()
}
