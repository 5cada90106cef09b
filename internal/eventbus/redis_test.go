package eventbus

import (
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/rs/zerolog"

	"github.com/friendsincode/airwave/internal/events"
)

func newMiniredisBus(t *testing.T) (*RedisBus, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	cfg := DefaultRedisConfig()
	cfg.Addr = mr.Addr()
	bus := NewRedisBus(cfg, zerolog.Nop())
	t.Cleanup(func() { bus.Close() })
	return bus, mr
}

func receive(t *testing.T, sub events.Subscriber) events.Payload {
	t.Helper()
	select {
	case p := <-sub:
		return p
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return nil
	}
}

func TestRedisBusDeliversLocally(t *testing.T) {
	bus, _ := newMiniredisBus(t)
	if bus.Degraded() {
		t.Fatal("expected healthy bus")
	}
	sub := bus.Subscribe(events.EventTrackPlaying)
	bus.Publish(events.EventTrackPlaying, events.Payload{"title": "A"})

	if p := receive(t, sub); p["title"] != "A" {
		t.Fatalf("unexpected payload %v", p)
	}
	select {
	case p := <-sub:
		t.Fatalf("own message echoed back: %v", p)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestRedisBusCrossNode(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := DefaultRedisConfig()
	cfg.Addr = mr.Addr()

	a := NewRedisBus(cfg, zerolog.Nop())
	defer a.Close()
	b := NewRedisBus(cfg, zerolog.Nop())
	defer b.Close()

	sub := b.Subscribe(events.EventChatMessage)
	// let the subscription register before publishing
	deadline := time.Now().Add(2 * time.Second)
	for len(mr.PubSubChannels("")) == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}

	a.Publish(events.EventChatMessage, events.Payload{"content": "hi"})
	if p := receive(t, sub); p["content"] != "hi" {
		t.Fatalf("unexpected payload %v", p)
	}
}

func TestRedisBusFallsBackWhenUnreachable(t *testing.T) {
	cfg := DefaultRedisConfig()
	cfg.Addr = "127.0.0.1:1"
	cfg.DialTimeout = 100 * time.Millisecond
	bus := NewRedisBus(cfg, zerolog.Nop())
	defer bus.Close()

	if !bus.Degraded() {
		t.Fatal("expected degraded bus")
	}
	sub := bus.Subscribe(events.EventQueueCleared)
	bus.Publish(events.EventQueueCleared, events.Payload{"removed": 1})
	receive(t, sub)
}

func TestWireMessageRoundTrip(t *testing.T) {
	data, err := marshalMessage(events.EventTrackFinished, events.Payload{"id": "x"}, "node-1")
	if err != nil {
		t.Fatal(err)
	}
	msg, err := unmarshalMessage(data)
	if err != nil {
		t.Fatal(err)
	}
	if msg.NodeID != "node-1" || msg.EventType != events.EventTrackFinished || msg.MessageID == "" {
		t.Fatalf("unexpected message %+v", msg)
	}
}
