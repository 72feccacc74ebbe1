package proposal

import (
	"context"
	"time"
)

// Filter selects proposals for list(), matching §4.3's "by status, by
// proposer, by mutation_name" — empty fields are wildcards.
type Filter struct {
	Status       Status
	Proposer     string
	MutationName string
}

func (f Filter) Matches(p *Proposal) bool {
	if f.Status != "" && p.Status != f.Status {
		return false
	}
	if f.Proposer != "" && p.Proposer != f.Proposer {
		return false
	}
	if f.MutationName != "" && p.MutationName != f.MutationName {
		return false
	}
	return true
}

// Store is the proposal persistence contract: every mutating method is
// transactional against its own proposal row/key under exclusive access, as
// required by §5's per-proposal fine-grained locking model.
type Store interface {
	Create(ctx context.Context, p *Proposal) error
	Get(ctx context.Context, id string) (*Proposal, error)
	List(ctx context.Context, filter Filter) ([]*Proposal, error)

	// Approve adds identity to the approval set (idempotent) and
	// recomputes status under exclusive access. Returns ErrNotFound,
	// ErrAlreadyTerminal, or the updated proposal.
	Approve(ctx context.Context, id, identity string, now time.Time) (*Proposal, error)

	// BeginExecute performs the single-shot compare-and-swap from an
	// executable status (see CanExecute) to EXECUTING. Exactly one
	// concurrent caller wins; the other observes
	// ErrInProgress or ErrAlreadyTerminal.
	BeginExecute(ctx context.Context, id string, now time.Time) (*Proposal, error)

	// FinishExecute records the outcome of an execute attempt and
	// transitions out of EXECUTING to the given terminal/non-terminal
	// status.
	FinishExecute(ctx context.Context, id string, status Status, outcome Outcome) (*Proposal, error)

	// RecoverStuckExecuting returns proposals left in EXECUTING past the
	// given deadline, for crash-recovery re-invocation of the executor
	// with the same idempotency key.
	RecoverStuckExecuting(ctx context.Context, olderThan time.Time) ([]*Proposal, error)
}
