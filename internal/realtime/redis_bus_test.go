package realtime

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func setupTestBus(t *testing.T) *RedisBus {
	s := miniredis.RunT(t)
	bus, err := NewRedisBus("redis://" + s.Addr())
	if err != nil {
		t.Fatalf("failed to create redis bus: %v", err)
	}
	t.Cleanup(func() { _ = bus.Close() })
	return bus
}

func TestPublishReachesSubscriber(t *testing.T) {
	bus := setupTestBus(t)

	events, release := bus.Subscribe(ProfileTopic("u1"))
	defer release()

	// Subscription attach races the publish without a small settle window.
	time.Sleep(50 * time.Millisecond)

	if err := bus.Publish(context.Background(), ProfileTopic("u1"), "u1"); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	select {
	case ev := <-events:
		if ev.Topic != ProfileTopic("u1") || ev.Ref != "u1" {
			t.Errorf("unexpected event: %+v", ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestSubscribeIsTopicScoped(t *testing.T) {
	bus := setupTestBus(t)

	events, release := bus.Subscribe(ChildrenTopic("u1"))
	defer release()
	time.Sleep(50 * time.Millisecond)

	if err := bus.Publish(context.Background(), ChildrenTopic("u2"), "u2"); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	select {
	case ev := <-events:
		t.Fatalf("received event for foreign topic: %+v", ev)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestReleaseClosesChannel(t *testing.T) {
	bus := setupTestBus(t)

	events, release := bus.Subscribe(EntriesTopic("c1"))
	release()

	select {
	case _, ok := <-events:
		if ok {
			t.Fatal("expected closed channel after release")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("channel not closed after release")
	}
}
