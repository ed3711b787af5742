package directory

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"ms-credentials/internal/models"

	"github.com/go-redis/redis/v8"
)

const eventKeyPrefix = "event:"

type EventSource interface {
	GetEvent(ctx context.Context, id string) (*models.Event, error)
}

type Logger interface {
	Warn(category, message string)
}

// EventCache is a read-through Redis cache in front of the event table.
// Validation resolves the event owner on every scan, so the hot path stays off
// the database. Redis failures fall back to the source.
type EventCache struct {
	Client *redis.Client
	Source EventSource
	TTL    time.Duration
	Logger Logger
}

func NewEventCache(client *redis.Client, source EventSource, ttl time.Duration, logger Logger) *EventCache {
	return &EventCache{Client: client, Source: source, TTL: ttl, Logger: logger}
}

func (c *EventCache) GetEvent(ctx context.Context, id string) (*models.Event, error) {
	if c.Client != nil {
		raw, err := c.Client.Get(ctx, eventKeyPrefix+id).Result()
		switch {
		case err == nil:
			var ev models.Event
			if err := json.Unmarshal([]byte(raw), &ev); err == nil {
				return &ev, nil
			}
			c.warn(fmt.Sprintf("discarding unreadable cached event %s", id))
		case err != redis.Nil:
			c.warn(fmt.Sprintf("event cache read failed for %s: %v", id, err))
		}
	}

	ev, err := c.Source.GetEvent(ctx, id)
	if err != nil {
		return nil, err
	}

	if c.Client != nil {
		if payload, err := json.Marshal(ev); err == nil {
			if err := c.Client.Set(ctx, eventKeyPrefix+id, payload, c.TTL).Err(); err != nil {
				c.warn(fmt.Sprintf("event cache write failed for %s: %v", id, err))
			}
		}
	}
	return ev, nil
}

// Invalidate drops a cached event, e.g. after it was cancelled.
func (c *EventCache) Invalidate(ctx context.Context, id string) error {
	if c.Client == nil {
		return nil
	}
	if err := c.Client.Del(ctx, eventKeyPrefix+id).Err(); err != nil {
		return fmt.Errorf("failed to invalidate cached event %s: %w", id, err)
	}
	return nil
}

func (c *EventCache) warn(msg string) {
	if c.Logger != nil {
		c.Logger.Warn("CACHE", msg)
	}
}
