// Package gate implements the admission pipeline and proposal lifecycle
// operations in §4: propose, approve, execute, and the read-only policy/
// privilege/listing surface §6 exposes. It is the orchestrator that wires
// internal/policy, internal/ratelimit, internal/proposal, internal/consent,
// internal/executor, and internal/audit together; it owns no storage or
// transport of its own.
package gate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/axiomgate/governor/internal/audit"
	"github.com/axiomgate/governor/internal/consent"
	"github.com/axiomgate/governor/internal/executor"
	"github.com/axiomgate/governor/internal/policy"
	"github.com/axiomgate/governor/internal/proposal"
	"github.com/axiomgate/governor/internal/ratelimit"
)

// Kind is the stable, machine-readable deny reason from §6.
type Kind string

const (
	Unauthenticated Kind = "UNAUTHENTICATED"
	Forbidden       Kind = "FORBIDDEN"
	RateLimited     Kind = "RATE_LIMITED"
	UnknownMutation Kind = "UNKNOWN_MUTATION"
	NotFound        Kind = "NOT_FOUND"
	TimelockActive  Kind = "TIMELOCK_ACTIVE"
	AlreadyTerminal Kind = "ALREADY_TERMINAL"
	ConsentDenied   Kind = "CONSENT_DENIED"
	PolicyChanged   Kind = "POLICY_CHANGED"
	Internal        Kind = "INTERNAL"
)

// Denial is returned instead of a value whenever admission, approval, or
// execution refuses a request. Per §7, denials carry exactly one cause —
// the first reason encountered in the fixed admission order.
type Denial struct {
	Kind    Kind
	Message string
}

func (d *Denial) Error() string {
	return fmt.Sprintf("%s: %s", d.Kind, d.Message)
}

func deny(kind Kind, format string, args ...any) *Denial {
	return &Denial{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// AsDenial unwraps err into a *Denial if it is one.
func AsDenial(err error) (*Denial, bool) {
	var d *Denial
	if errors.As(err, &d) {
		return d, true
	}
	return nil, false
}

// PolicySource exposes the currently active, atomically-replaced policy
// snapshot, per §5's "single reference replaced atomically on reload."
type PolicySource interface {
	Current() *policy.Snapshot
}

// Gate is the assembled admission pipeline. Every field is a narrow
// collaborator interface so tests can substitute in-memory/static
// implementations without standing up real infrastructure.
type Gate struct {
	Policy   PolicySource
	Limiter  ratelimit.Limiter
	Store    proposal.Store
	Audit    audit.Log
	Consent  consent.Client
	Executor executor.Executor

	Now    func() time.Time
	NewID  func() string

	ExecuteTimeout time.Duration
}

func New(policySource PolicySource, limiter ratelimit.Limiter, store proposal.Store, auditLog audit.Log, consentClient consent.Client, exec executor.Executor) *Gate {
	return &Gate{
		Policy:         policySource,
		Limiter:        limiter,
		Store:          store,
		Audit:          auditLog,
		Consent:        consentClient,
		Executor:       exec,
		Now:            func() time.Time { return time.Now().UTC() },
		NewID:          func() string { return uuid.New().String() },
		ExecuteTimeout: 10 * time.Second,
	}
}

func (g *Gate) now() time.Time {
	if g.Now != nil {
		return g.Now()
	}
	return time.Now().UTC()
}

func (g *Gate) newID() string {
	if g.NewID != nil {
		return g.NewID()
	}
	return uuid.New().String()
}

// PolicyView returns the active snapshot, the policy() operation in §6.
func (g *Gate) PolicyView() *policy.Snapshot {
	if g.Policy == nil {
		return nil
	}
	return g.Policy.Current()
}

// HasPrivilege is the hasPrivilege() operation in §6.
func (g *Gate) HasPrivilege(identity, privilege string) bool {
	snap := g.PolicyView()
	return snap.HasPrivilege(identity, privilege)
}

// Proposals is the proposals(filter?) operation in §6.
func (g *Gate) Proposals(ctx context.Context, filter proposal.Filter) ([]*proposal.Proposal, error) {
	return g.Store.List(ctx, filter)
}

// Get returns a single proposal by id, denying NOT_FOUND if absent.
func (g *Gate) Get(ctx context.Context, id string) (*proposal.Proposal, error) {
	p, err := g.Store.Get(ctx, id)
	if err != nil {
		if errors.Is(err, proposal.ErrNotFound) {
			return nil, deny(NotFound, "proposal %q not found", id)
		}
		return nil, deny(Internal, "%v", err)
	}
	return p, nil
}

// Propose implements the admission pipeline of §4.2: identity presence →
// rate limit → policy lookup → privilege check → consent check → proposal
// creation → audit append. It returns a *Denial on the first failing step.
func (g *Gate) Propose(ctx context.Context, identity, mutationName string, payload map[string]any, rawPayload []byte) (*proposal.Proposal, error) {
	if identity == "" {
		return nil, deny(Unauthenticated, "no verified identity on request")
	}

	snap := g.PolicyView()
	if snap == nil {
		return nil, deny(Internal, "no active policy snapshot")
	}

	if d := g.checkRateLimit(identity, snap); d != nil {
		g.auditDeny(ctx, identity, mutationName, d)
		return nil, d
	}

	mutation, ok := snap.MutationByName(mutationName)
	if !ok {
		d := deny(UnknownMutation, "mutation %q is not gated by the active policy", mutationName)
		g.auditDeny(ctx, identity, mutationName, d)
		return nil, d
	}

	if !snap.HasPrivilege(identity, mutationName) {
		d := deny(Forbidden, "identity %q lacks privilege %q", identity, mutationName)
		g.auditDeny(ctx, identity, mutationName, d)
		return nil, d
	}

	if d := g.checkConsent(ctx, identity, mutationName, snap); d != nil {
		g.auditDeny(ctx, identity, mutationName, d)
		return nil, d
	}

	if allowed, err := snap.EvalConstraint(identity, mutationName, payload); err != nil {
		d := deny(Internal, "%v", err)
		g.auditDeny(ctx, identity, mutationName, d)
		return nil, d
	} else if !allowed {
		d := deny(Forbidden, "mutation %q constraint rejected the request", mutationName)
		g.auditDeny(ctx, identity, mutationName, d)
		return nil, d
	}

	now := g.now()
	timelockUntil := now.Add(time.Duration(mutation.TimelockHours) * time.Hour)
	p := &proposal.Proposal{
		ID:                g.newID(),
		MutationName:      mutationName,
		Payload:           rawPayload,
		Proposer:          identity,
		ProposedAt:        now,
		TimelockUntil:     timelockUntil,
		Approvals:         []string{identity},
		RequiredApprovals: mutation.Approvals,
		IdempotencyKey:    g.newID(),
	}
	p.Status = proposal.CreationStatus(p, now)

	if err := g.Store.Create(ctx, p); err != nil {
		d := deny(Internal, "%v", err)
		g.auditDeny(ctx, identity, mutationName, d)
		return nil, d
	}

	if _, err := g.Audit.Append(ctx, identity, audit.Propose, p.ID, fmt.Sprintf("mutation=%s", mutationName)); err != nil {
		return nil, deny(Internal, "%v", err)
	}
	return p, nil
}

func (g *Gate) checkRateLimit(identity string, snap *policy.Snapshot) *Denial {
	if g.Limiter == nil {
		return nil
	}
	limit := snap.MaxRateRPM()
	if limit <= 0 {
		return nil
	}
	decision := g.Limiter.Allow(identity, limit)
	if !decision.Allowed {
		return deny(RateLimited, "identity %q exceeded %d requests per 60s window", identity, limit)
	}
	return nil
}

func (g *Gate) checkConsent(ctx context.Context, identity, mutationName string, snap *policy.Snapshot) *Denial {
	binding, ok := snap.ConsentBindingFor(mutationName)
	if !ok {
		return nil
	}
	if g.Consent == nil {
		if binding.Required {
			return deny(ConsentDenied, "no consent collaborator configured and binding %q is required", binding.Name)
		}
		return nil
	}
	allowed, found, err := g.Consent.Check(ctx, identity, binding.Name)
	if err != nil {
		return deny(Internal, "consent check failed: %v", err)
	}
	if !found {
		// No consent record: apply the binding's own default, not a
		// hardcoded denial.
		allowed = binding.Defaults.Telemetry == policy.ConsentOn
	}
	if !allowed {
		return deny(ConsentDenied, "identity %q has not consented to %q", identity, binding.Name)
	}
	return nil
}

func (g *Gate) auditDeny(ctx context.Context, identity, mutationName string, d *Denial) {
	_, _ = g.Audit.Append(ctx, identity, audit.Deny, mutationName, fmt.Sprintf("kind=%s message=%s", d.Kind, d.Message))
}

// Approve implements approveMutation() in §4.3: idempotent add-to-set,
// transition to TIMELOCK_ACTIVE/APPROVED once quorum and delay are both
// satisfied.
func (g *Gate) Approve(ctx context.Context, identity, proposalID string) (*proposal.Proposal, error) {
	if identity == "" {
		return nil, deny(Unauthenticated, "no verified identity on request")
	}
	snap := g.PolicyView()
	if snap == nil {
		return nil, deny(Internal, "no active policy snapshot")
	}

	existing, err := g.Store.Get(ctx, proposalID)
	if err != nil {
		if errors.Is(err, proposal.ErrNotFound) {
			return nil, deny(NotFound, "proposal %q not found", proposalID)
		}
		return nil, deny(Internal, "%v", err)
	}
	if proposal.IsTerminal(existing.Status) {
		return nil, deny(AlreadyTerminal, "proposal %q is already %s", proposalID, existing.Status)
	}
	if !snap.HasPrivilege(identity, existing.MutationName) {
		return nil, deny(Forbidden, "identity %q lacks privilege %q", identity, existing.MutationName)
	}
	if _, ok := snap.MutationByName(existing.MutationName); !ok {
		return nil, deny(PolicyChanged, "mutation %q is no longer recognized by the active policy", existing.MutationName)
	}

	p, err := g.Store.Approve(ctx, proposalID, identity, g.now())
	if err != nil {
		switch {
		case errors.Is(err, proposal.ErrNotFound):
			return nil, deny(NotFound, "proposal %q not found", proposalID)
		case errors.Is(err, proposal.ErrAlreadyTerminal):
			return nil, deny(AlreadyTerminal, "proposal %q is already terminal", proposalID)
		default:
			return nil, deny(Internal, "%v", err)
		}
	}
	if _, err := g.Audit.Append(ctx, identity, audit.Approve, p.ID, fmt.Sprintf("approvals=%d/%d", len(p.Approvals), p.RequiredApprovals)); err != nil {
		return nil, deny(Internal, "%v", err)
	}
	return p, nil
}

// Execute implements executeMutation() in §4.3 and §4.6: single-shot CAS
// into EXECUTING, dispatch to the executor under a deadline, then record
// the outcome and final status. Exactly one of two racing callers performs
// the dispatch; the other observes ALREADY_TERMINAL.
func (g *Gate) Execute(ctx context.Context, identity, proposalID string) (*proposal.Proposal, error) {
	if identity == "" {
		return nil, deny(Unauthenticated, "no verified identity on request")
	}
	snap := g.PolicyView()
	if snap == nil {
		return nil, deny(Internal, "no active policy snapshot")
	}

	existing, err := g.Store.Get(ctx, proposalID)
	if err != nil {
		if errors.Is(err, proposal.ErrNotFound) {
			return nil, deny(NotFound, "proposal %q not found", proposalID)
		}
		return nil, deny(Internal, "%v", err)
	}
	if _, ok := snap.MutationByName(existing.MutationName); !ok {
		return nil, deny(PolicyChanged, "mutation %q is no longer recognized by the active policy", existing.MutationName)
	}
	if err := proposal.CanExecute(existing, g.now()); err != nil {
		switch {
		case errors.Is(err, proposal.ErrAlreadyTerminal):
			return nil, deny(AlreadyTerminal, "proposal %q is already %s", proposalID, existing.Status)
		case errors.Is(err, proposal.ErrInProgress):
			return nil, deny(AlreadyTerminal, "proposal %q execution already in progress", proposalID)
		case errors.Is(err, proposal.ErrTimelockActive):
			return nil, deny(TimelockActive, "proposal %q is not yet executable", proposalID)
		default:
			return nil, deny(Internal, "%v", err)
		}
	}

	executing, err := g.Store.BeginExecute(ctx, proposalID, g.now())
	if err != nil {
		switch {
		case errors.Is(err, proposal.ErrInProgress):
			return nil, deny(AlreadyTerminal, "proposal %q execution already in progress", proposalID)
		case errors.Is(err, proposal.ErrAlreadyTerminal):
			return nil, deny(AlreadyTerminal, "proposal %q is already %s", proposalID, existing.Status)
		default:
			return nil, deny(Internal, "%v", err)
		}
	}

	outcome, runErr := g.dispatch(ctx, executing)

	finalStatus := proposal.Executed
	switch outcome.Kind {
	case proposal.OutcomeFatal:
		finalStatus = proposal.Rejected
	case proposal.OutcomeRetriable:
		finalStatus = proposal.Approved
	}
	if runErr != nil {
		finalStatus = proposal.Approved
		outcome = proposal.Outcome{Kind: proposal.OutcomeRetriable, Message: runErr.Error(), At: g.now()}
	}

	updated, err := g.Store.FinishExecute(ctx, proposalID, finalStatus, outcome)
	if err != nil {
		return nil, deny(Internal, "%v", err)
	}

	if finalStatus == proposal.Executed {
		if _, err := g.Audit.Append(ctx, identity, audit.Execute, proposalID, fmt.Sprintf("mutation=%s outcome=%s", existing.MutationName, outcome.Kind)); err != nil {
			return nil, deny(Internal, "%v", err)
		}
	}
	return updated, nil
}

func (g *Gate) dispatch(ctx context.Context, p *proposal.Proposal) (proposal.Outcome, error) {
	if g.Executor == nil {
		return proposal.Outcome{Kind: proposal.OutcomeOK, At: g.now()}, nil
	}
	timeout := g.ExecuteTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	outcome, err := proposal.ExecuteTwoPhase(ctx, proposal.TwoPhase{
		Commit: func(ctx context.Context) (proposal.Outcome, error) {
			dctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()
			result, err := g.Executor.Execute(dctx, p.MutationName, p.Payload, p.IdempotencyKey)
			if err != nil {
				return proposal.Outcome{}, err
			}
			return outcomeFromResult(result, g.now()), nil
		},
	})
	return outcome, err
}

func outcomeFromResult(r executor.Result, at time.Time) proposal.Outcome {
	var kind proposal.OutcomeKind
	switch r.Kind {
	case executor.Ok:
		kind = proposal.OutcomeOK
	case executor.Retriable:
		kind = proposal.OutcomeRetriable
	case executor.Fatal:
		kind = proposal.OutcomeFatal
	default:
		kind = proposal.OutcomeFatal
	}
	return proposal.Outcome{Kind: kind, Message: r.Message, Result: r.Data, At: at}
}

// RecoverStuckExecuting re-invokes the executor for every proposal left in
// EXECUTING past the deadline, per §4.6/§8 scenario 6 — crash-safe
// recovery keyed by the same idempotency key the original attempt used.
func (g *Gate) RecoverStuckExecuting(ctx context.Context, olderThan time.Time) (int, error) {
	stuck, err := g.Store.RecoverStuckExecuting(ctx, olderThan)
	if err != nil {
		return 0, err
	}
	recovered := 0
	for _, p := range stuck {
		outcome, err := g.dispatch(ctx, p)
		finalStatus := proposal.Executed
		if err != nil {
			outcome = proposal.Outcome{Kind: proposal.OutcomeRetriable, Message: err.Error(), At: g.now()}
			finalStatus = proposal.Approved
		} else if outcome.Kind == proposal.OutcomeFatal {
			finalStatus = proposal.Rejected
		} else if outcome.Kind == proposal.OutcomeRetriable {
			finalStatus = proposal.Approved
		}
		if _, err := g.Store.FinishExecute(ctx, p.ID, finalStatus, outcome); err != nil {
			return recovered, err
		}
		if finalStatus == proposal.Executed {
			_, _ = g.Audit.Append(ctx, "system:recovery", audit.Execute, p.ID, fmt.Sprintf("mutation=%s outcome=%s recovered=true", p.MutationName, outcome.Kind))
		}
		recovered++
	}
	return recovered, nil
}

// DecodePayload is a convenience for HTTP handlers translating a raw JSON
// payload into the map[string]any shape constraint_cel expressions see.
func DecodePayload(raw []byte) (map[string]any, error) {
	if len(raw) == 0 {
		return map[string]any{}, nil
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("gate: decode payload: %w", err)
	}
	return out, nil
}
