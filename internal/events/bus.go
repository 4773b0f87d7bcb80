package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Type labels a pipeline lifecycle event.
type Type string

const (
	TypeJobEnqueued    Type = "job_enqueued"
	TypeInsightCreated Type = "insight_created"
	TypeJobFailed      Type = "job_failed"
	TypePlanPatched    Type = "plan_patched"
)

// Event is one pipeline lifecycle notification for external observers.
type Event struct {
	ID        string    `json:"id"`
	AgentID   string    `json:"agent_id"`
	Type      Type      `json:"type"`
	Kind      string    `json:"kind,omitempty"`
	Detail    string    `json:"detail,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Bus publishes pipeline events to a Redis Stream.
type Bus struct {
	rdb    *redis.Client
	logger *zap.Logger
}

const stream = "vault:pipeline"

// NewBus creates a Redis-backed event bus.
func NewBus(redisURL string, logger *zap.Logger) (*Bus, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &Bus{rdb: rdb, logger: logger}, nil
}

// Publish appends an event to the pipeline stream.
func (b *Bus) Publish(ctx context.Context, ev *Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}

	_, err = b.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		Values: map[string]interface{}{
			"data": string(data),
		},
	}).Result()
	if err != nil {
		return fmt.Errorf("publish to %s: %w", stream, err)
	}

	b.logger.Debug("published event",
		zap.String("agent", ev.AgentID),
		zap.String("type", string(ev.Type)))
	return nil
}

// Subscribe tails the pipeline stream from its current end. Cancel the
// context to stop; the channel closes on return.
func (b *Bus) Subscribe(ctx context.Context) <-chan *Event {
	ch := make(chan *Event, 16)

	go func() {
		defer close(ch)
		lastID := "$"

		for {
			select {
			case <-ctx.Done():
				return
			default:
			}

			results, err := b.rdb.XRead(ctx, &redis.XReadArgs{
				Streams: []string{stream, lastID},
				Count:   10,
				Block:   time.Second * 2,
			}).Result()

			if err != nil {
				// go-redis may wrap the context error
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					return
				}
				continue
			}

			for _, r := range results {
				for _, msg := range r.Messages {
					lastID = msg.ID
					data, ok := msg.Values["data"].(string)
					if !ok {
						continue
					}
					var ev Event
					if json.Unmarshal([]byte(data), &ev) == nil {
						ch <- &ev
					}
				}
			}
		}
	}()

	return ch
}

// Close shuts down the Redis connection.
func (b *Bus) Close() error {
	return b.rdb.Close()
}
