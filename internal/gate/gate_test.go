package gate

import (
	"context"
	"testing"
	"time"

	"github.com/axiomgate/governor/internal/audit"
	"github.com/axiomgate/governor/internal/executor"
	"github.com/axiomgate/governor/internal/policy"
	"github.com/axiomgate/governor/internal/proposal"
	"github.com/axiomgate/governor/internal/ratelimit"
	"github.com/axiomgate/governor/internal/store/memory"
)

type staticPolicy struct{ snap *policy.Snapshot }

func (s staticPolicy) Current() *policy.Snapshot { return s.snap }

func mustSnapshot(t *testing.T, doc policy.Document) *policy.Snapshot {
	t.Helper()
	raw, err := policy.Encode(doc)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	snap, issues, err := policy.Load(raw)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(issues) > 0 {
		t.Fatalf("unexpected validation issues: %v", issues)
	}
	return snap
}

func basicDoc() policy.Document {
	return policy.Document{
		Version: "1",
		Capabilities: policy.Capabilities{
			Maintainer:         "file://maintainers.yaml",
			TrustedContributor: "file://trusted.yaml",
			DefaultConsent:     "file://consent.yaml",
		},
		Mutations: []policy.Mutation{
			{Name: "rotate_keys", Approvals: 2, TimelockHours: 24},
		},
		Roles: []policy.Role{
			{Name: "maintainer", Members: []string{"identity:alice", "identity:jonathan"}, Privileges: []string{"rotate_keys"}},
		},
		Routes: []policy.Route{
			{Path: "/*", Plane: policy.PlaneControl, Methods: []string{"POST"}, Guards: []string{policy.GuardMTLS, policy.GuardPolicyGate}},
		},
		Constraints: policy.Constraints{RequireMTLS: true, LogAllMutations: true, MaxRateRPM: 60},
	}
}

func newTestGate(t *testing.T, doc policy.Document, now time.Time) (*Gate, func(time.Time)) {
	snap := mustSnapshot(t, doc)
	cur := now
	clock := func() time.Time { return cur }
	g := New(staticPolicy{snap: snap}, ratelimit.NewInMemoryWithClock(clock), memory.NewProposalStore(), audit.NewMemoryLog(), nil, executor.NewMemoryExecutor())
	g.Now = clock
	return g, func(t time.Time) { cur = t }
}

func TestPropose_NormalPathMultiApproval(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	g, setNow := newTestGate(t, basicDoc(), base)

	p, err := g.Propose(context.Background(), "identity:alice", "rotate_keys", map[string]any{"scope": "bastion"}, nil)
	if err != nil {
		t.Fatalf("Propose: %v", err)
	}
	if p.Status != proposal.TimelockActive {
		t.Fatalf("status = %s, want TIMELOCK_ACTIVE", p.Status)
	}

	p, err = g.Approve(context.Background(), "identity:jonathan", p.ID)
	if err != nil {
		t.Fatalf("Approve: %v", err)
	}
	if p.Status != proposal.TimelockActive {
		t.Fatalf("status after quorum = %s, want TIMELOCK_ACTIVE (timelock not elapsed)", p.Status)
	}

	if _, err := g.Execute(context.Background(), "identity:alice", p.ID); err == nil {
		t.Fatalf("expected TIMELOCK_ACTIVE denial before the delay elapses")
	} else if d, ok := AsDenial(err); !ok || d.Kind != TimelockActive {
		t.Fatalf("got %v, want TIMELOCK_ACTIVE denial", err)
	}

	setNow(base.Add(24 * time.Hour))
	executed, err := g.Execute(context.Background(), "identity:alice", p.ID)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if executed.Status != proposal.Executed {
		t.Fatalf("status = %s, want EXECUTED", executed.Status)
	}
}

func TestPropose_InsufficientPrivilegeDenies(t *testing.T) {
	g, _ := newTestGate(t, basicDoc(), time.Now())
	_, err := g.Propose(context.Background(), "identity:bob", "rotate_keys", nil, nil)
	d, ok := AsDenial(err)
	if !ok || d.Kind != Forbidden {
		t.Fatalf("got %v, want FORBIDDEN denial", err)
	}
}

func TestPropose_RateLimited(t *testing.T) {
	doc := basicDoc()
	doc.Constraints.MaxRateRPM = 2
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	g, setNow := newTestGate(t, doc, base)

	for i := 0; i < 2; i++ {
		if _, err := g.Propose(context.Background(), "identity:alice", "rotate_keys", nil, nil); err != nil {
			t.Fatalf("propose %d: %v", i, err)
		}
	}
	_, err := g.Propose(context.Background(), "identity:alice", "rotate_keys", nil, nil)
	d, ok := AsDenial(err)
	if !ok || d.Kind != RateLimited {
		t.Fatalf("got %v, want RATE_LIMITED denial on 3rd request", err)
	}

	setNow(base.Add(61 * time.Second))
	if _, err := g.Propose(context.Background(), "identity:alice", "rotate_keys", nil, nil); err != nil {
		t.Fatalf("propose after window slide: %v", err)
	}
}

func TestApprove_IdempotentUnderSameIdentity(t *testing.T) {
	g, _ := newTestGate(t, basicDoc(), time.Now())
	p, err := g.Propose(context.Background(), "identity:alice", "rotate_keys", nil, nil)
	if err != nil {
		t.Fatalf("Propose: %v", err)
	}
	for i := 0; i < 3; i++ {
		p, err = g.Approve(context.Background(), "identity:alice", p.ID)
		if err != nil {
			t.Fatalf("Approve (%d): %v", i, err)
		}
	}
	if len(p.Approvals) != 1 {
		t.Fatalf("approvals = %v, want exactly one distinct approver", p.Approvals)
	}
}

func TestExecute_UnknownProposalReturnsNotFound(t *testing.T) {
	g, _ := newTestGate(t, basicDoc(), time.Now())
	_, err := g.Execute(context.Background(), "identity:alice", "does-not-exist")
	d, ok := AsDenial(err)
	if !ok || d.Kind != NotFound {
		t.Fatalf("got %v, want NOT_FOUND denial", err)
	}
}

func TestExecute_SingleShotUnderConcurrentCallers(t *testing.T) {
	doc := basicDoc()
	doc.Mutations[0].Approvals = 1
	doc.Mutations[0].TimelockHours = 1
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	g, setNow := newTestGate(t, doc, base)

	p, err := g.Propose(context.Background(), "identity:alice", "rotate_keys", nil, nil)
	if err != nil {
		t.Fatalf("Propose: %v", err)
	}
	if _, err := g.Approve(context.Background(), "identity:alice", p.ID); err != nil {
		t.Fatalf("Approve: %v", err)
	}
	setNow(base.Add(time.Hour))

	type result struct {
		p   *proposal.Proposal
		err error
	}
	results := make(chan result, 2)
	for i := 0; i < 2; i++ {
		go func() {
			pr, err := g.Execute(context.Background(), "identity:alice", p.ID)
			results <- result{pr, err}
		}()
	}

	successes := 0
	for i := 0; i < 2; i++ {
		r := <-results
		if r.err == nil {
			successes++
		}
	}
	if successes != 1 {
		t.Fatalf("successes = %d, want exactly 1 of 2 concurrent executes to win", successes)
	}
}
