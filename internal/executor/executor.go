// Package executor defines the contract the gate uses to hand an approved
// mutation to its external collaborator (DNS record store, DNSSEC signer,
// credential rotation service) per §4.6. The gate never implements a
// mutation itself; it only dispatches through this interface and records
// whatever comes back.
package executor

import (
	"context"
	"time"
)

// Executor performs a gated mutation. It must be idempotent under
// identical (idempotencyKey, payload) pairs — the idempotency key is the
// proposal id — and must never reject on authorization grounds; the gate
// is the sole authority over whether a mutation is allowed to run.
type Executor interface {
	Execute(ctx context.Context, mutationName string, payload []byte, idempotencyKey string) (Result, error)
}

// Result is the executor's verdict for one dispatch.
type Result struct {
	Kind    ResultKind
	Message string
	Data    []byte
}

type ResultKind string

const (
	Ok        ResultKind = "OK"
	Retriable ResultKind = "RETRIABLE"
	Fatal     ResultKind = "FATAL"
)

func OkResult(data []byte) Result {
	return Result{Kind: Ok, Data: data}
}

func RetriableResult(message string) Result {
	return Result{Kind: Retriable, Message: message}
}

func FatalResult(message string) Result {
	return Result{Kind: Fatal, Message: message}
}

// Func adapts a plain function to the Executor interface, the way the
// teacher wires handler funcs into interfaces it dispatches against.
type Func func(ctx context.Context, mutationName string, payload []byte, idempotencyKey string) (Result, error)

func (f Func) Execute(ctx context.Context, mutationName string, payload []byte, idempotencyKey string) (Result, error) {
	return f(ctx, mutationName, payload, idempotencyKey)
}

// WithTimeout wraps an Executor so every dispatch carries a deadline, per
// §5's "all [blocking points] must carry a deadline."
func WithTimeout(next Executor, d time.Duration) Executor {
	return Func(func(ctx context.Context, mutationName string, payload []byte, idempotencyKey string) (Result, error) {
		ctx, cancel := context.WithTimeout(ctx, d)
		defer cancel()
		return next.Execute(ctx, mutationName, payload, idempotencyKey)
	})
}
