package gate

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/axiomgate/governor/internal/audit"
	"github.com/axiomgate/governor/internal/policy"
)

// AtomicPolicySource is the concrete PolicySource: a single reference
// replaced atomically on reload (§5), installed once at startup and
// swapped by a reload watcher. Readers within a single request observe
// one consistent snapshot value regardless of a reload racing in.
type AtomicPolicySource struct {
	current atomic.Pointer[policy.Snapshot]
	path    string
	audit   audit.Log
}

func NewAtomicPolicySource(path string, auditLog audit.Log) *AtomicPolicySource {
	return &AtomicPolicySource{path: path, audit: auditLog}
}

func (s *AtomicPolicySource) Current() *policy.Snapshot {
	return s.current.Load()
}

// LoadInitial installs the policy at startup: the configured path if set
// and valid, otherwise the development-permissive snapshot with a warning,
// per §6's "if absent or invalid, it installs the development-permissive
// snapshot and emits a warning."
func (s *AtomicPolicySource) LoadInitial() (warning string, err error) {
	if s.path == "" {
		s.current.Store(policy.Development())
		return "no POLICY_PATH configured; running with the development-permissive policy", nil
	}
	snap, issues, loadErr := policy.LoadFile(s.path)
	if loadErr != nil || len(issues) > 0 {
		s.current.Store(policy.Development())
		s.auditReject(loadErr, issues)
		return fmt.Sprintf("policy at %q failed to load (%v, issues=%v); falling back to development-permissive policy", s.path, loadErr, issues), nil
	}
	s.current.Store(snap)
	return "", nil
}

// Reload re-reads the configured path and, only if the new document passes
// validation, atomically installs it. On failure the prior snapshot is
// retained (§8 scenario 4: "prior snapshot retained").
func (s *AtomicPolicySource) Reload() ([]policy.Issue, error) {
	if s.path == "" {
		return nil, fmt.Errorf("policy: no path configured to reload from")
	}
	snap, issues, err := policy.LoadFile(s.path)
	if err != nil {
		s.auditReject(err, nil)
		return nil, err
	}
	if len(issues) > 0 {
		s.auditReject(nil, issues)
		return issues, nil
	}
	s.current.Store(snap)
	return nil, nil
}

// auditReject appends a POLICY_REJECT record for a failed load.
func (s *AtomicPolicySource) auditReject(loadErr error, issues []policy.Issue) {
	if s.audit == nil {
		return
	}
	_, _ = s.audit.Append(context.Background(), "system:policy", audit.PolicyReject, s.path, fmt.Sprintf("err=%v issues=%v", loadErr, issues))
}
