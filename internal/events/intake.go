package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/banshee-data/floorsight/internal/floor"
)

// Observation intake defaults. The perception collaborator appends one
// JSON observation per stream entry under the "data" field.
const (
	DefaultObservationStream = "floorsight:observations"
	DefaultConsumerGroup     = "floorsight-engine"
	intakeBlock              = 5 * time.Second
	intakeBatch              = 128
)

// Intake consumes observations from a Redis stream via a consumer group
// and hands them to the coordinator. Malformed entries are acked and
// dropped; one camera's garbage must not wedge the stream.
type Intake struct {
	client   *redis.Client
	stream   string
	group    string
	consumer string
}

// NewIntake creates an intake consumer. Empty stream/group fall back to
// the defaults; consumer names one engine instance within the group.
func NewIntake(client *redis.Client, stream, group, consumer string) *Intake {
	if stream == "" {
		stream = DefaultObservationStream
	}
	if group == "" {
		group = DefaultConsumerGroup
	}
	if consumer == "" {
		consumer = "engine-1"
	}
	return &Intake{client: client, stream: stream, group: group, consumer: consumer}
}

// EnsureGroup creates the consumer group (and the stream, if missing).
// An already-existing group is not an error.
func (in *Intake) EnsureGroup(ctx context.Context) error {
	err := in.client.XGroupCreateMkStream(ctx, in.stream, in.group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("create consumer group %s on %s: %w", in.group, in.stream, err)
	}
	return nil
}

// Run reads observations until the context is cancelled, invoking handle
// for each decoded observation. Read errors are logged and retried;
// decode errors ack and skip the entry.
func (in *Intake) Run(ctx context.Context, handle func(*floor.Observation)) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		streams, err := in.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    in.group,
			Consumer: in.consumer,
			Streams:  []string{in.stream, ">"},
			Count:    intakeBatch,
			Block:    intakeBlock,
		}).Result()
		if err != nil {
			if err == redis.Nil {
				continue // no entries within the block window
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			floor.Opsf("intake: read %s failed, retrying: %v", in.stream, err)
			continue
		}

		for _, s := range streams {
			for _, msg := range s.Messages {
				in.handleMessage(ctx, msg, handle)
			}
		}
	}
}

func (in *Intake) handleMessage(ctx context.Context, msg redis.XMessage, handle func(*floor.Observation)) {
	defer in.client.XAck(ctx, in.stream, in.group, msg.ID)

	raw, ok := msg.Values["data"].(string)
	if !ok {
		floor.Diagf("intake: entry %s has no data field, skipping", msg.ID)
		return
	}
	var obs floor.Observation
	if err := json.Unmarshal([]byte(raw), &obs); err != nil {
		floor.Diagf("intake: entry %s undecodable, skipping: %v", msg.ID, err)
		return
	}
	handle(&obs)
}
