package executor

import (
	"context"
	"testing"
)

func TestMemoryExecutor_IdempotentUnderSameKey(t *testing.T) {
	calls := 0
	e := NewMemoryExecutor()
	e.Handler = func(mutationName string, payload []byte) Result {
		calls++
		return OkResult([]byte("applied"))
	}

	ctx := context.Background()
	r1, err := e.Execute(ctx, "rotate_keys", []byte("p"), "proposal-1")
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	r2, err := e.Execute(ctx, "rotate_keys", []byte("p"), "proposal-1")
	if err != nil {
		t.Fatalf("Execute (replay): %v", err)
	}
	if calls != 1 {
		t.Fatalf("handler invoked %d times, want 1 (idempotent replay)", calls)
	}
	if string(r1.Data) != string(r2.Data) {
		t.Fatalf("replay result differs: %v vs %v", r1, r2)
	}
	if e.Calls() != 1 {
		t.Fatalf("Calls() = %d, want 1", e.Calls())
	}
}

func TestMemoryExecutor_DistinctKeysDispatchSeparately(t *testing.T) {
	e := NewMemoryExecutor()
	ctx := context.Background()
	if _, err := e.Execute(ctx, "mutate_dns", nil, "p-1"); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if _, err := e.Execute(ctx, "mutate_dns", nil, "p-2"); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if e.Calls() != 2 {
		t.Fatalf("Calls() = %d, want 2", e.Calls())
	}
}

func TestWithTimeout_ZeroTimeoutExpiresDeadline(t *testing.T) {
	inner := Func(func(ctx context.Context, mutationName string, payload []byte, idempotencyKey string) (Result, error) {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
		return OkResult([]byte("ok")), nil
	})
	wrapped := WithTimeout(inner, 0)
	_, err := wrapped.Execute(context.Background(), "mutate_dns", nil, "p-1")
	if err == nil {
		t.Fatalf("expected deadline-exceeded error with zero timeout")
	}
}
