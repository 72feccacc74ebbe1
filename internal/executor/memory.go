package executor

import (
	"context"
	"sync"
)

// MemoryExecutor is a development/test stand-in for the real DNS/credential
// collaborator. It remembers the result it returned for each idempotency
// key so repeated dispatch (recovery after a crash mid-EXECUTING) replays
// the original result instead of re-running the side effect — the same
// idempotence contract §4.6 requires of a real executor.
type MemoryExecutor struct {
	mu      sync.Mutex
	seen    map[string]Result
	Handler func(mutationName string, payload []byte) Result
}

func NewMemoryExecutor() *MemoryExecutor {
	return &MemoryExecutor{seen: make(map[string]Result)}
}

func (e *MemoryExecutor) Execute(ctx context.Context, mutationName string, payload []byte, idempotencyKey string) (Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if r, ok := e.seen[idempotencyKey]; ok {
		return r, nil
	}

	var result Result
	if e.Handler != nil {
		result = e.Handler(mutationName, payload)
	} else {
		result = OkResult(nil)
	}
	e.seen[idempotencyKey] = result
	return result, nil
}

// Calls reports how many distinct idempotency keys have been dispatched,
// for test assertions on at-most-once execution.
func (e *MemoryExecutor) Calls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.seen)
}
