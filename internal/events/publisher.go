package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/banshee-data/floorsight/internal/timeutil"
)

// DefaultEventStream is the Redis stream carrying engine events.
const DefaultEventStream = "floorsight:events"

// Retry policy for publishes. Live-state events are worth a couple of
// quick retries but never worth stalling the pipeline.
const (
	publishAttempts = 3
	publishBackoff  = 50 * time.Millisecond
)

// Publisher delivers events to external collaborators. Implementations
// must be safe for concurrent use.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// RedisPublisher appends events to a Redis stream as JSON, one entry per
// event, with bounded retry and exponential backoff. A publish that
// still fails after the retries returns the error; callers log and drop
// rather than block.
type RedisPublisher struct {
	client *redis.Client
	stream string
	clock  timeutil.Clock
	maxLen int64
}

// NewRedisPublisher creates a publisher appending to the given stream.
// maxLen > 0 caps the stream length (approximate trimming).
func NewRedisPublisher(client *redis.Client, stream string, maxLen int64, clock timeutil.Clock) *RedisPublisher {
	if stream == "" {
		stream = DefaultEventStream
	}
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &RedisPublisher{client: client, stream: stream, clock: clock, maxLen: maxLen}
}

// Publish implements Publisher.
func (p *RedisPublisher) Publish(ctx context.Context, ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", ev.Kind(), err)
	}

	backoff := publishBackoff
	var lastErr error
	for attempt := 0; attempt < publishAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-p.clock.After(backoff):
			}
			backoff *= 2
		}
		err := p.client.XAdd(ctx, &redis.XAddArgs{
			Stream: p.stream,
			MaxLen: p.maxLen,
			Approx: true,
			Values: map[string]interface{}{
				"kind": ev.Kind(),
				"data": string(payload),
			},
		}).Err()
		if err == nil {
			return nil
		}
		lastErr = err
	}
	return fmt.Errorf("publish %s event after %d attempts: %w", ev.Kind(), publishAttempts, lastErr)
}

// MemoryPublisher collects events in memory. Used by tests and the
// replay tool.
type MemoryPublisher struct {
	mu     sync.Mutex
	events []Event
}

// NewMemoryPublisher creates an empty in-memory publisher.
func NewMemoryPublisher() *MemoryPublisher {
	return &MemoryPublisher{}
}

// Publish implements Publisher.
func (p *MemoryPublisher) Publish(_ context.Context, ev Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

// Events returns a snapshot of everything published so far.
func (p *MemoryPublisher) Events() []Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Event, len(p.events))
	copy(out, p.events)
	return out
}

// ByKind returns the published events of one kind, in order.
func (p *MemoryPublisher) ByKind(kind string) []Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []Event
	for _, ev := range p.events {
		if ev.Kind() == kind {
			out = append(out, ev)
		}
	}
	return out
}
