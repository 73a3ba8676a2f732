// Package feedback consumes review outcomes from a durable event log and
// tracks how each prompt version fares with experts.
package feedback

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hyperjump/kakunin/internal/models"
)

// Event is one entry of the log. ID is opaque and increases with every append.
// Err is set when the entry could not be decoded; ID is still valid so readers
// can move past it.
type Event struct {
	ID      string
	Outcome models.ReviewOutcome
	Err     error
}

// EventLog is an append-only log of review outcomes.
type EventLog interface {
	// Publish appends an outcome.
	Publish(ctx context.Context, o models.ReviewOutcome) error
	// Read returns up to count events after the event with id after ("" reads
	// from the start). It waits up to block for new events when none are
	// available and returns an empty slice on timeout.
	Read(ctx context.Context, after string, count int, block time.Duration) ([]Event, error)
	Close() error
}

// MemoryLog is an EventLog kept in process memory.
type MemoryLog struct {
	mu     sync.Mutex
	events []Event
	notify chan struct{}
}

// NewMemoryLog returns an empty log.
func NewMemoryLog() *MemoryLog {
	return &MemoryLog{notify: make(chan struct{})}
}

// Publish implements EventLog.
func (m *MemoryLog) Publish(_ context.Context, o models.ReviewOutcome) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, Event{ID: strconv.Itoa(len(m.events) + 1), Outcome: o})
	close(m.notify)
	m.notify = make(chan struct{})
	return nil
}

// Read implements EventLog.
func (m *MemoryLog) Read(ctx context.Context, after string, count int, block time.Duration) ([]Event, error) {
	offset := 0
	if after != "" {
		n, err := strconv.Atoi(after)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("%w: bad event id %q", models.ErrInvalidInput, after)
		}
		offset = n
	}
	for {
		m.mu.Lock()
		if offset < len(m.events) || block <= 0 {
			end := len(m.events)
			if offset > end {
				offset = end
			}
			if count > 0 && offset+count < end {
				end = offset + count
			}
			out := append([]Event(nil), m.events[offset:end]...)
			m.mu.Unlock()
			return out, nil
		}
		wait := m.notify
		m.mu.Unlock()

		timer := time.NewTimer(block)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
			return nil, nil
		case <-wait:
			timer.Stop()
		}
	}
}

// Close implements EventLog.
func (m *MemoryLog) Close() error { return nil }

// RedisLog is an EventLog backed by a Redis stream.
type RedisLog struct {
	client *redis.Client
	stream string
}

const outcomeField = "outcome"

// NewRedisLog uses stream on client.
func NewRedisLog(client *redis.Client, stream string) *RedisLog {
	return &RedisLog{client: client, stream: stream}
}

// DialRedis connects to addr and checks the connection.
func DialRedis(ctx context.Context, addr, stream string) (*RedisLog, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", addr, err)
	}
	return NewRedisLog(client, stream), nil
}

// Publish implements EventLog.
func (r *RedisLog) Publish(ctx context.Context, o models.ReviewOutcome) error {
	payload, err := json.Marshal(o)
	if err != nil {
		return fmt.Errorf("failed to marshal outcome: %w", err)
	}
	err = r.client.XAdd(ctx, &redis.XAddArgs{
		Stream: r.stream,
		Values: map[string]interface{}{outcomeField: string(payload)},
	}).Err()
	if err != nil {
		return fmt.Errorf("failed to append to stream %s: %w", r.stream, err)
	}
	return nil
}

// Read implements EventLog.
func (r *RedisLog) Read(ctx context.Context, after string, count int, block time.Duration) ([]Event, error) {
	if after == "" {
		after = "0"
	}
	args := &redis.XReadArgs{
		Streams: []string{r.stream, after},
		Count:   int64(count),
		Block:   block,
	}
	if block <= 0 {
		// go-redis sends BLOCK 0, which waits forever, for a zero duration.
		args.Block = -1
	}
	streams, err := r.client.XRead(ctx, args).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("failed to read stream %s: %w", r.stream, err)
	}
	var out []Event
	for _, s := range streams {
		for _, msg := range s.Messages {
			raw, ok := msg.Values[outcomeField].(string)
			if !ok {
				out = append(out, Event{ID: msg.ID, Err: fmt.Errorf("event %s has no %s field", msg.ID, outcomeField)})
				continue
			}
			var o models.ReviewOutcome
			if err := json.Unmarshal([]byte(raw), &o); err != nil {
				out = append(out, Event{ID: msg.ID, Err: fmt.Errorf("failed to decode event %s: %w", msg.ID, err)})
				continue
			}
			out = append(out, Event{ID: msg.ID, Outcome: o})
		}
	}
	return out, nil
}

// Close closes the client.
func (r *RedisLog) Close() error {
	return r.client.Close()
}
