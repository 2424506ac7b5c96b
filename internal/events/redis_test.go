package events

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"

	"github.com/banshee-data/floorsight/internal/floor"
)

func testRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, client
}

func TestRedisPublisherAppendsToStream(t *testing.T) {
	_, client := testRedis(t)
	ctx := context.Background()
	pub := NewRedisPublisher(client, "test:events", 0, nil)

	err := pub.Publish(ctx, RepCountedEvent{
		EntityID:      "anon:x",
		SetID:         "set-1",
		ExerciseLabel: "squat",
		RepCount:      3,
	})
	if err != nil {
		t.Fatalf("Publish(rep) = %v", err)
	}
	if err := pub.Publish(ctx, GuidanceEvent{EntityID: "anon:x", AlertKey: "back_angle"}); err != nil {
		t.Fatalf("Publish(guidance) = %v", err)
	}

	entries, err := client.XRange(ctx, "test:events", "-", "+").Result()
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		t.Fatalf("stream has %d entries, want 2", len(entries))
	}
	if kind := entries[0].Values["kind"]; kind != KindRepCounted {
		t.Errorf("first entry kind = %v, want %s", kind, KindRepCounted)
	}
	var rep RepCountedEvent
	if err := json.Unmarshal([]byte(entries[0].Values["data"].(string)), &rep); err != nil {
		t.Fatalf("first entry undecodable: %v", err)
	}
	if rep.RepCount != 3 || rep.ExerciseLabel != "squat" {
		t.Errorf("decoded rep event = %+v", rep)
	}
	if kind := entries[1].Values["kind"]; kind != KindGuidance {
		t.Errorf("second entry kind = %v, want %s", kind, KindGuidance)
	}
}

func TestRedisPublisherReportsExhaustedRetries(t *testing.T) {
	mr, client := testRedis(t)
	pub := NewRedisPublisher(client, "test:events", 0, nil)

	mr.Close()

	start := time.Now()
	err := pub.Publish(context.Background(), RepCountedEvent{EntityID: "anon:x"})
	if err == nil {
		t.Fatal("Publish() succeeded against a dead server")
	}
	if !strings.Contains(err.Error(), "3 attempts") {
		t.Errorf("error %q does not report the exhausted attempts", err)
	}
	// Two backoff waits (50ms, 100ms) separate the three attempts.
	if elapsed := time.Since(start); elapsed < 100*time.Millisecond {
		t.Errorf("retries gave up after %v, want backoff between attempts", elapsed)
	}
}

func TestIntakeAcksMalformedEntries(t *testing.T) {
	_, client := testRedis(t)
	ctx := context.Background()
	in := NewIntake(client, "test:obs", "test-group", "engine-test")

	if err := in.EnsureGroup(ctx); err != nil {
		t.Fatalf("EnsureGroup() = %v", err)
	}
	// Creating the group a second time is not an error.
	if err := in.EnsureGroup(ctx); err != nil {
		t.Fatalf("second EnsureGroup() = %v", err)
	}

	add := func(values map[string]interface{}) string {
		id, err := client.XAdd(ctx, &redis.XAddArgs{Stream: "test:obs", Values: values}).Result()
		if err != nil {
			t.Fatal(err)
		}
		return id
	}
	add(map[string]interface{}{"kind": "observation"}) // no data field
	add(map[string]interface{}{"data": "{not json"})
	raw, err := json.Marshal(floor.Observation{CameraID: "cam/a", LocalID: 7, TimestampNS: 42})
	if err != nil {
		t.Fatal(err)
	}
	validID := add(map[string]interface{}{"data": string(raw)})

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	var got []*floor.Observation
	err = in.Run(runCtx, func(o *floor.Observation) {
		got = append(got, o)
		cancel()
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Run() = %v, want context.Canceled", err)
	}
	if len(got) != 1 {
		t.Fatalf("decoded %d observations, want 1", len(got))
	}
	if got[0].Key() != (floor.TrackKey{Camera: "cam/a", LocalID: 7}) {
		t.Errorf("decoded observation key = %+v", got[0].Key())
	}

	// The garbage entries must be acked, never left pending to wedge the
	// group. The valid entry's ack may race the cancellation, so only the
	// malformed ones are asserted.
	pending, err := client.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: "test:obs",
		Group:  "test-group",
		Start:  "-",
		End:    "+",
		Count:  10,
	}).Result()
	if err != nil {
		t.Fatal(err)
	}
	for _, p := range pending {
		if p.ID != validID {
			t.Errorf("malformed entry %s left pending", p.ID)
		}
	}
}
