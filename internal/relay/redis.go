// Package relay fans session events out to a Redis stream so other services
// can follow avatar sessions.
package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/normanking/avatarchat/internal/bus"
)

// Config holds configuration for the Redis connection
type Config struct {
	Addr     string
	Password string
	DB       int
	Stream   string
	MaxLen   int64 // approximate stream cap, 0 = unbounded
}

// RedisRelay appends bus events to a Redis stream with XADD.
type RedisRelay struct {
	rdb     *redis.Client
	cfg     Config
	logger  zerolog.Logger
	timeout time.Duration
}

// StreamEntry is one relayed event read back from the stream.
type StreamEntry struct {
	ID    string
	Event bus.Event
}

// NewRedisRelay connects and verifies the server with a ping.
func NewRedisRelay(cfg Config, logger zerolog.Logger) (*RedisRelay, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return &RedisRelay{
		rdb:     rdb,
		cfg:     cfg,
		logger:  logger.With().Str("component", "relay").Logger(),
		timeout: 2 * time.Second,
	}, nil
}

// Attach relays every session event type.
func (r *RedisRelay) Attach(b *bus.EventBus) {
	b.SubscribeMultiple(bus.AllEventTypes, r.Handle)
}

// Handle publishes one event. Failures are logged and dropped.
func (r *RedisRelay) Handle(e bus.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	if _, err := r.Publish(ctx, e); err != nil {
		r.logger.Warn().Err(err).Str("event", string(e.Type)).Msg("Relay publish failed")
	}
}

// Publish appends e to the stream and returns the entry id.
func (r *RedisRelay) Publish(ctx context.Context, e bus.Event) (string, error) {
	values, err := encode(e)
	if err != nil {
		return "", err
	}
	args := &redis.XAddArgs{
		Stream: r.cfg.Stream,
		Values: values,
	}
	if r.cfg.MaxLen > 0 {
		args.MaxLen = r.cfg.MaxLen
		args.Approx = true
	}

	id, err := r.rdb.XAdd(ctx, args).Result()
	if err != nil {
		return "", fmt.Errorf("xadd failed: %w", err)
	}
	return id, nil
}

// Tail returns up to count of the newest entries, newest first.
func (r *RedisRelay) Tail(ctx context.Context, count int64) ([]StreamEntry, error) {
	msgs, err := r.rdb.XRevRangeN(ctx, r.cfg.Stream, "+", "-", count).Result()
	if err != nil {
		return nil, fmt.Errorf("xrevrange failed: %w", err)
	}
	out := make([]StreamEntry, 0, len(msgs))
	for _, m := range msgs {
		e, err := decode(m.Values)
		if err != nil {
			return nil, fmt.Errorf("decode %s: %w", m.ID, err)
		}
		out = append(out, StreamEntry{ID: m.ID, Event: e})
	}
	return out, nil
}

// Ping checks if Redis is reachable
func (r *RedisRelay) Ping(ctx context.Context) error {
	return r.rdb.Ping(ctx).Err()
}

// Close closes the client.
func (r *RedisRelay) Close() error {
	return r.rdb.Close()
}

// encode flattens an event into stream fields. Data travels as JSON.
func encode(e bus.Event) (map[string]any, error) {
	data, err := json.Marshal(e.Data)
	if err != nil {
		return nil, fmt.Errorf("marshal event data: %w", err)
	}
	return map[string]any{
		"type":      string(e.Type),
		"session":   e.SessionID,
		"timestamp": e.Timestamp.UTC().Format(time.RFC3339Nano),
		"data":      string(data),
	}, nil
}

func decode(values map[string]any) (bus.Event, error) {
	str := func(k string) string {
		s, _ := values[k].(string)
		return s
	}

	e := bus.Event{Type: bus.EventType(str("type")), SessionID: str("session")}
	if ts := str("timestamp"); ts != "" {
		t, err := time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return e, err
		}
		e.Timestamp = t
	}
	if raw := str("data"); raw != "" && raw != "null" {
		if err := json.Unmarshal([]byte(raw), &e.Data); err != nil {
			return e, err
		}
	}
	return e, nil
}
