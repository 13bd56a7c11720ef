package realtime

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func waitFor(t *testing.T, ch <-chan json.RawMessage) json.RawMessage {
	t.Helper()
	select {
	case payload := <-ch:
		return payload
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for bus delivery")
		return nil
	}
}

func testBusRoundTrip(t *testing.T, bus Bus) {
	t.Helper()
	ctx := context.Background()

	rows := make(chan json.RawMessage, 8)
	sub, err := bus.SubscribeRowChanges(ctx, "sess-1", func(row json.RawMessage) {
		rows <- row
	})
	if err != nil {
		t.Fatalf("SubscribeRowChanges failed: %v", err)
	}
	defer sub.Close()

	events := make(chan json.RawMessage, 8)
	evSub, err := bus.SubscribeBroadcast(ctx, "sess-1", "selection", func(payload json.RawMessage) {
		events <- payload
	})
	if err != nil {
		t.Fatalf("SubscribeBroadcast failed: %v", err)
	}
	defer evSub.Close()

	// A subscriber on another session must not receive anything.
	other := make(chan json.RawMessage, 8)
	otherSub, err := bus.SubscribeRowChanges(ctx, "sess-2", func(row json.RawMessage) {
		other <- row
	})
	if err != nil {
		t.Fatalf("SubscribeRowChanges (other) failed: %v", err)
	}
	defer otherSub.Close()

	if err := bus.PublishRowChange(ctx, "sess-1", json.RawMessage(`{"id":"sess-1"}`)); err != nil {
		t.Fatalf("PublishRowChange failed: %v", err)
	}
	if err := bus.PublishBroadcast(ctx, "sess-1", "selection", json.RawMessage(`{"userId":"u2"}`)); err != nil {
		t.Fatalf("PublishBroadcast failed: %v", err)
	}

	if got := string(waitFor(t, rows)); got != `{"id":"sess-1"}` {
		t.Errorf("row change payload = %s", got)
	}
	if got := string(waitFor(t, events)); got != `{"userId":"u2"}` {
		t.Errorf("broadcast payload = %s", got)
	}

	select {
	case payload := <-other:
		t.Errorf("session isolation broken, got %s", payload)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestMemoryBusRoundTrip(t *testing.T) {
	testBusRoundTrip(t, NewMemoryBus())
}

func TestMemoryBusCloseStopsDelivery(t *testing.T) {
	bus := NewMemoryBus()
	ctx := context.Background()

	got := make(chan json.RawMessage, 8)
	sub, err := bus.SubscribeRowChanges(ctx, "sess-1", func(row json.RawMessage) {
		got <- row
	})
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}

	if err := sub.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}
	// Double close must be safe.
	if err := sub.Close(); err != nil {
		t.Fatalf("second close failed: %v", err)
	}

	if err := bus.PublishRowChange(ctx, "sess-1", json.RawMessage(`{}`)); err != nil {
		t.Fatalf("publish failed: %v", err)
	}

	select {
	case payload := <-got:
		t.Errorf("callback fired after Close: %s", payload)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestRedisBusRoundTrip(t *testing.T) {
	s := miniredis.RunT(t)

	bus, err := NewRedisBus("redis://" + s.Addr())
	if err != nil {
		t.Fatalf("NewRedisBus failed: %v", err)
	}
	defer bus.Close()

	if err := bus.Ping(context.Background()); err != nil {
		t.Fatalf("Ping failed: %v", err)
	}

	testBusRoundTrip(t, bus)
}

func TestRedisBusOrderPreserved(t *testing.T) {
	s := miniredis.RunT(t)

	bus, err := NewRedisBus("redis://" + s.Addr())
	if err != nil {
		t.Fatalf("NewRedisBus failed: %v", err)
	}
	defer bus.Close()

	ctx := context.Background()
	rows := make(chan json.RawMessage, 8)
	sub, err := bus.SubscribeRowChanges(ctx, "sess-1", func(row json.RawMessage) {
		rows <- row
	})
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}
	defer sub.Close()

	for _, payload := range []string{`{"v":1}`, `{"v":2}`, `{"v":3}`} {
		if err := bus.PublishRowChange(ctx, "sess-1", json.RawMessage(payload)); err != nil {
			t.Fatalf("publish failed: %v", err)
		}
	}

	for _, want := range []string{`{"v":1}`, `{"v":2}`, `{"v":3}`} {
		if got := string(waitFor(t, rows)); got != want {
			t.Errorf("out of order delivery: got %s, want %s", got, want)
		}
	}
}
