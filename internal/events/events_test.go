package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestEventKinds(t *testing.T) {
	cases := []struct {
		ev   Event
		want string
	}{
		{IdentityResolvedEvent{}, KindIdentityResolved},
		{RepCountedEvent{}, KindRepCounted},
		{FormAlertEvent{}, KindFormAlert},
		{GuidanceEvent{}, KindGuidance},
	}
	for _, c := range cases {
		if got := c.ev.Kind(); got != c.want {
			t.Errorf("Kind() = %q, want %q", got, c.want)
		}
	}
}

func TestRepCountedEventRoundTrip(t *testing.T) {
	in := RepCountedEvent{
		EntityID:      "anon:x",
		SetID:         "set-1",
		ExerciseLabel: "bicep_curl",
		RepCount:      4,
		TimestampNS:   12345,
	}
	raw, err := json.Marshal(in)
	if err != nil {
		t.Fatal(err)
	}
	var out RepCountedEvent
	if err := json.Unmarshal(raw, &out); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(in, out); diff != "" {
		t.Errorf("event mismatch (-in +out):\n%s", diff)
	}
}

func TestMemoryPublisherByKind(t *testing.T) {
	pub := NewMemoryPublisher()
	ctx := context.Background()

	pub.Publish(ctx, RepCountedEvent{EntityID: "a", RepCount: 1})
	pub.Publish(ctx, GuidanceEvent{EntityID: "a", AlertKey: "elbow_drift"})
	pub.Publish(ctx, RepCountedEvent{EntityID: "a", RepCount: 2})

	if got := len(pub.Events()); got != 3 {
		t.Fatalf("len(Events()) = %d, want 3", got)
	}
	reps := pub.ByKind(KindRepCounted)
	if len(reps) != 2 {
		t.Fatalf("len(ByKind(rep_counted)) = %d, want 2", len(reps))
	}
	if reps[1].(RepCountedEvent).RepCount != 2 {
		t.Errorf("reps out of order: %+v", reps)
	}
}

type failingPublisher struct {
	err error
}

func (p failingPublisher) Publish(context.Context, Event) error { return p.err }

func TestMultiPublisherReachesAllSinks(t *testing.T) {
	good := NewMemoryPublisher()
	bad := failingPublisher{err: errors.New("sink down")}
	multi := MultiPublisher{bad, good}

	err := multi.Publish(context.Background(), GuidanceEvent{EntityID: "a"})
	if err == nil {
		t.Fatal("expected error from failing sink")
	}
	// The healthy sink must still have received the event.
	if got := len(good.Events()); got != 1 {
		t.Errorf("healthy sink got %d events, want 1", got)
	}
}

func TestMultiPublisherNoSinks(t *testing.T) {
	var multi MultiPublisher
	if err := multi.Publish(context.Background(), GuidanceEvent{}); err != nil {
		t.Errorf("empty MultiPublisher returned %v, want nil", err)
	}
}
