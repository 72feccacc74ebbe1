package proposal

import (
	"context"
	"errors"
	"time"
)

var (
	ErrInvalidTransition = errors.New("proposal: invalid state transition")
	ErrNotFound           = errors.New("proposal: not found")
	ErrAlreadyTerminal    = errors.New("proposal: already terminal")
	ErrTimelockActive     = errors.New("proposal: timelock still active")
	ErrForbidden          = errors.New("proposal: identity lacks required privilege")
	ErrPolicyChanged      = errors.New("proposal: mutation no longer recognized by active policy")
	ErrInProgress         = errors.New("proposal: execution already in progress")
)

// CanTransition reports whether the fixed state graph in §4.3 permits
// from→to.
func CanTransition(from, to Status) bool {
	switch from {
	case Pending:
		return to == TimelockActive || to == Approved || to == Rejected || to == Expired
	case TimelockActive:
		return to == Approved || to == Rejected || to == Expired
	case Approved:
		return to == Executing || to == Rejected || to == Expired
	case Executing:
		return to == Executed || to == Approved || to == Rejected
	default:
		return false
	}
}

// NextAfterApproval computes the post-approval status: APPROVED once the
// quorum is met and the timelock has elapsed (now >= timelock_until,
// inclusive), TIMELOCK_ACTIVE if the quorum is met but the delay has not
// elapsed, otherwise the proposal keeps its current status.
func NextAfterApproval(p *Proposal, now time.Time) Status {
	quorumMet := len(p.Approvals) >= p.RequiredApprovals
	if !quorumMet {
		return p.Status
	}
	if now.After(p.TimelockUntil) || now.Equal(p.TimelockUntil) {
		return Approved
	}
	return TimelockActive
}

// CreationStatus computes the status a freshly-proposed proposal starts in
// (§4.2 step 6): APPROVED if quorum is already met and the timelock has
// elapsed, TIMELOCK_ACTIVE if the timelock has not elapsed, otherwise
// PENDING.
func CreationStatus(p *Proposal, now time.Time) Status {
	quorumMet := len(p.Approvals) >= p.RequiredApprovals
	timelockElapsed := now.After(p.TimelockUntil) || now.Equal(p.TimelockUntil)
	if quorumMet && timelockElapsed {
		return Approved
	}
	if !timelockElapsed {
		return TimelockActive
	}
	return Pending
}

// CanExecute reports whether execute() may proceed: the proposal must be
// APPROVED — either stored as such, or a PENDING/TIMELOCK_ACTIVE proposal
// whose quorum is met and whose timelock has elapsed by now — and now must
// be at or past timelock_until. A proposal already EXECUTING yields
// ErrInProgress.
func CanExecute(p *Proposal, now time.Time) error {
	if IsTerminal(p.Status) {
		return ErrAlreadyTerminal
	}
	if p.Status == Executing {
		return ErrInProgress
	}
	status := p.Status
	if status == Pending || status == TimelockActive {
		status = NextAfterApproval(p, now)
	}
	if status != Approved {
		return ErrTimelockActive
	}
	if now.Before(p.TimelockUntil) {
		return ErrTimelockActive
	}
	return nil
}

// TwoPhase mirrors the prepare/commit/rollback shape used for executor
// dispatch: prepare marks EXECUTING durably before the external call so a
// crash between prepare and commit is recoverable with the same
// idempotency key.
type TwoPhase struct {
	Prepare  func(ctx context.Context) error
	Commit   func(ctx context.Context) (Outcome, error)
	Rollback func(ctx context.Context) error
}

// ExecuteTwoPhase runs prepare then commit, rolling back on commit failure.
// It returns the executor outcome on success.
func ExecuteTwoPhase(ctx context.Context, t TwoPhase) (Outcome, error) {
	if t.Prepare != nil {
		if err := t.Prepare(ctx); err != nil {
			return Outcome{}, err
		}
	}
	if t.Commit == nil {
		return Outcome{}, errors.New("proposal: commit missing")
	}
	outcome, err := t.Commit(ctx)
	if err != nil {
		if t.Rollback != nil {
			_ = t.Rollback(ctx)
		}
		return Outcome{}, err
	}
	return outcome, nil
}
