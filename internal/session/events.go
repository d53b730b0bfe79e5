package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/nidhogg/aibrain/internal/workflow"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// DefaultStream is where workflow events are published.
const DefaultStream = "brain:events"

const streamMaxLen = 10000

// EventBus publishes workflow events to a Redis stream and tails it.
type EventBus struct {
	rdb    *redis.Client
	stream string
	logger *zap.Logger
}

func NewEventBus(rdb *redis.Client, stream string, logger *zap.Logger) *EventBus {
	if stream == "" {
		stream = DefaultStream
	}
	return &EventBus{rdb: rdb, stream: stream, logger: logger}
}

// Publish appends ev to the stream, trimming it to roughly the newest
// ten thousand entries.
func (b *EventBus) Publish(ctx context.Context, ev workflow.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	_, err = b.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: b.stream,
		MaxLen: streamMaxLen,
		Approx: true,
		Values: map[string]interface{}{
			"type": ev.Type,
			"data": string(data),
		},
	}).Result()
	if err != nil {
		return fmt.Errorf("publish to %s: %w", b.stream, err)
	}
	b.logger.Debug("published event",
		zap.String("type", ev.Type),
		zap.String("session_id", ev.SessionID))
	return nil
}

// Subscribe tails the stream from lastID ("$" for new entries only, "0"
// for the whole history). Cancel ctx to stop; the channel is then closed.
func (b *EventBus) Subscribe(ctx context.Context, lastID string) <-chan workflow.Event {
	if lastID == "" {
		lastID = "$"
	}
	ch := make(chan workflow.Event, 16)

	go func() {
		defer close(ch)
		for {
			if ctx.Err() != nil {
				return
			}
			results, err := b.rdb.XRead(ctx, &redis.XReadArgs{
				Streams: []string{b.stream, lastID},
				Count:   10,
				Block:   2 * time.Second,
			}).Result()
			if err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					return
				}
				if !errors.Is(err, redis.Nil) {
					b.logger.Warn("read events", zap.Error(err))
					select {
					case <-ctx.Done():
						return
					case <-time.After(time.Second):
					}
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
					var ev workflow.Event
					if err := json.Unmarshal([]byte(data), &ev); err != nil {
						b.logger.Warn("decode event", zap.String("id", msg.ID), zap.Error(err))
						continue
					}
					select {
					case ch <- ev:
					case <-ctx.Done():
						return
					}
				}
			}
		}
	}()

	return ch
}
