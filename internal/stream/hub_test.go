package stream

import (
	"encoding/json"
	"testing"
	"time"
)

func TestNewEvent(t *testing.T) {
	t.Parallel()

	evt := NewEvent("audit", map[string]string{"id": "p-1"})
	if evt.Type != "audit" {
		t.Fatalf("expected type audit, got %q", evt.Type)
	}
	if evt.At == "" {
		t.Fatal("expected timestamp")
	}
	var payload map[string]string
	if err := json.Unmarshal(evt.Data, &payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if payload["id"] != "p-1" {
		t.Fatalf("expected id=p-1, got %q", payload["id"])
	}
}

func TestSubscribePublishAndUnsubscribeIdempotent(t *testing.T) {
	t.Parallel()

	h := NewHub()
	ch := h.Subscribe(1)
	h.Publish(NewEvent("ready", nil))

	select {
	case evt := <-ch:
		if evt.Type != "ready" {
			t.Fatalf("expected ready event, got %q", evt.Type)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for published event")
	}

	h.Unsubscribe(ch)
	if _, ok := <-ch; ok {
		t.Fatal("expected channel closed after unsubscribe")
	}
}

func TestPublishDropsWhenSubscriberBufferFull(t *testing.T) {
	t.Parallel()

	h := NewHub()
	ch := h.Subscribe(1)
	h.Publish(NewEvent("first", nil))
	h.Publish(NewEvent("second", nil)) // buffer full, must not block

	evt := <-ch
	if evt.Type != "first" {
		t.Fatalf("expected to receive the first buffered event, got %q", evt.Type)
	}
}
