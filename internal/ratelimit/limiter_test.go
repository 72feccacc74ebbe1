package ratelimit

import (
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestInMemoryLimiter_AllowsUpToLimit(t *testing.T) {
	l := NewInMemory()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return base }

	for i := 0; i < 3; i++ {
		d := l.Allow("alice", 3)
		if !d.Allowed {
			t.Fatalf("request %d: want allowed, got denied", i)
		}
	}
	d := l.Allow("alice", 3)
	if d.Allowed {
		t.Fatalf("4th request: want denied once limit reached")
	}
	if d.Remaining != 0 {
		t.Fatalf("remaining = %d, want 0", d.Remaining)
	}
}

func TestInMemoryLimiter_RejectionsDoNotConsumeSlot(t *testing.T) {
	l := NewInMemory()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return base }

	l.Allow("bob", 1)
	for i := 0; i < 5; i++ {
		d := l.Allow("bob", 1)
		if d.Allowed {
			t.Fatalf("request %d: expected denial after limit reached", i)
		}
		if d.Count != 1 {
			t.Fatalf("count = %d, want 1 (rejections must not consume a slot)", d.Count)
		}
	}
}

func TestInMemoryLimiter_WindowSlides(t *testing.T) {
	l := NewInMemory()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }

	l.Allow("carol", 1)
	d := l.Allow("carol", 1)
	if d.Allowed {
		t.Fatalf("expected denial within the window")
	}

	now = now.Add(Window + time.Second)
	l.now = func() time.Time { return now }
	d = l.Allow("carol", 1)
	if !d.Allowed {
		t.Fatalf("expected allow once the window has fully slid past")
	}
}

func TestRedisLimiter_SlidingWindow(t *testing.T) {
	srv, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run: %v", err)
	}
	defer srv.Close()

	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	defer client.Close()

	l := NewRedis(client)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return base }

	for i := 0; i < 2; i++ {
		d := l.Allow("dave", 2)
		if !d.Allowed {
			t.Fatalf("request %d: want allowed", i)
		}
	}
	d := l.Allow("dave", 2)
	if d.Allowed {
		t.Fatalf("3rd request: want denied once limit reached")
	}
}

func TestRedisLimiter_FallsBackWhenClientNil(t *testing.T) {
	l := NewRedis(nil)
	l.Client = nil
	d := l.Allow("erin", 1)
	if !d.Allowed {
		t.Fatalf("first request via fallback: want allowed")
	}
}
