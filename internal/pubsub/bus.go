// Package pubsub is the Pub/Sub Bus (component B): a backlog list plus a
// fan-out channel per build-log stream, backed by Redis the way the
// original tailer/__init__.py and kozmic/builds/tasks.py use it —
// rpush for the backlog, publish for live subscribers, and exists/delete
// on the same key as the end-of-stream signal. The Job Execution Core
// never stores an explicit "done" sentinel message: deleting the key is
// the end-of-stream signal, not a published value (spec.md §4.2).
package pubsub

import (
	"context"
	"fmt"

	"github.com/go-redis/redis/v8"
)

// Bus is the narrow surface every other component needs: Publisher (D)
// writes, Relay (I) reads and watches for EOS.
type Bus struct {
	rdb *redis.Client
}

// Message is one line delivered from a subscription.
type Message struct {
	Payload string
}

// Subscription wraps a redis.PubSub so callers don't import go-redis
// directly outside this package.
type Subscription struct {
	ps *redis.PubSub
}

// New connects to a Redis instance. host is "host:port"; db selects
// the logical database, matching KOZMIC_REDIS_HOST/PORT/DATABASE from
// the original's DefaultConfig.
func New(host string, db int, password string) *Bus {
	return &Bus{rdb: redis.NewClient(&redis.Options{
		Addr:     host,
		DB:       db,
		Password: password,
	})}
}

// Publish fans a line out to live subscribers of channel.
func (b *Bus) Publish(ctx context.Context, channel, line string) error {
	if err := b.rdb.Publish(ctx, channel, line).Err(); err != nil {
		return fmt.Errorf("pubsub: publish to %s: %w", channel, err)
	}
	return nil
}

// Append appends a line to channel's backlog list, replayed to clients
// that connect after some output has already been produced.
func (b *Bus) Append(ctx context.Context, channel, line string) error {
	if err := b.rdb.RPush(ctx, channel, line).Err(); err != nil {
		return fmt.Errorf("pubsub: append to %s: %w", channel, err)
	}
	return nil
}

// Backlog returns every line appended to channel so far, in order.
func (b *Bus) Backlog(ctx context.Context, channel string) ([]string, error) {
	lines, err := b.rdb.LRange(ctx, channel, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("pubsub: backlog for %s: %w", channel, err)
	}
	return lines, nil
}

// Finish deletes the backlog key. Its absence is what tells Relay
// clients the stream has ended — there is no explicit "done" message
// on the channel itself.
func (b *Bus) Finish(ctx context.Context, channel string) error {
	if err := b.rdb.Del(ctx, channel).Err(); err != nil {
		return fmt.Errorf("pubsub: finishing %s: %w", channel, err)
	}
	return nil
}

// Alive reports whether channel's backlog key still exists, i.e.
// whether the stream is still open.
func (b *Bus) Alive(ctx context.Context, channel string) (bool, error) {
	n, err := b.rdb.Exists(ctx, channel).Result()
	if err != nil {
		return false, fmt.Errorf("pubsub: checking liveness of %s: %w", channel, err)
	}
	return n > 0, nil
}

// Subscribe opens a live subscription to channel. Callers must call
// Close when done.
func (b *Bus) Subscribe(ctx context.Context, channel string) *Subscription {
	return &Subscription{ps: b.rdb.Subscribe(ctx, channel)}
}

// Receive blocks until a message arrives or ctx is done.
func (s *Subscription) Receive(ctx context.Context) (Message, error) {
	msg, err := s.ps.ReceiveMessage(ctx)
	if err != nil {
		return Message{}, err
	}
	return Message{Payload: msg.Payload}, nil
}

// Channel exposes the underlying message channel for select-based
// consumers (internal/relay uses this to add a timeout branch).
func (s *Subscription) Channel() <-chan *redis.Message {
	return s.ps.Channel()
}

func (s *Subscription) Close() error {
	return s.ps.Close()
}

// Close releases the underlying Redis connection pool.
func (b *Bus) Close() error {
	return b.rdb.Close()
}
