// Package relay mirrors bus traffic onto a Redis Stream for live dashboard
// consumers that cannot poll PostgreSQL.
package relay

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/virelang/coordination/internal/bus"
)

// Stream is the Redis Stream every mirrored message lands on.
const Stream = "coordination:events"

// maxLen caps the stream; dashboards only need a recent window, the
// durable log lives in PostgreSQL.
const maxLen = 10000

// Relay taps the bus and forwards every delivered message to Redis. The
// relay is best-effort: a failed XADD is logged and dropped, never
// surfaced to the publish path.
type Relay struct {
	rdb    *redis.Client
	logger *zap.Logger
}

// New creates a Redis-backed relay.
func New(ctx context.Context, redisURL string, logger *zap.Logger) (*Relay, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &Relay{rdb: rdb, logger: logger}, nil
}

// Tap subscribes the relay to every bus topic.
func (r *Relay) Tap(b *bus.Bus) {
	b.SubscribeAll(r.handle)
}

func (r *Relay) handle(ctx context.Context, msg *bus.Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		r.logger.Error("marshal message for relay", zap.String("id", msg.ID), zap.Error(err))
		return
	}

	err = r.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: Stream,
		MaxLen: maxLen,
		Approx: true,
		Values: map[string]any{
			"topic": msg.Topic,
			"agent": msg.Agent,
			"step":  msg.Step,
			"data":  string(data),
		},
	}).Err()
	if err != nil {
		r.logger.Warn("relay publish failed",
			zap.String("topic", msg.Topic),
			zap.String("id", msg.ID),
			zap.Error(err))
		return
	}

	r.logger.Debug("relayed message",
		zap.String("topic", msg.Topic),
		zap.String("agent", msg.Agent))
}

// Close shuts down the Redis connection.
func (r *Relay) Close() error {
	return r.rdb.Close()
}
