package policy

import (
	"fmt"
	"time"

	"github.com/casbin/casbin/v2"
	"github.com/google/cel-go/cel"
)

// Snapshot is the immutable, validated runtime form of a policy document.
// It is created once per load and shared read-only; a hot-reload produces a
// brand new Snapshot value, never mutates an existing one, so a single
// request observes one consistent view for its whole lifetime.
type Snapshot struct {
	Doc         Document
	LoadedAt    time.Time
	Development bool

	enforcer    *casbin.Enforcer
	constraints map[string]cel.Program
}

// MutationByName looks up a gated mutation descriptor in this snapshot, the
// policy-lookup step of admission (§4.2 step 3).
func (s *Snapshot) MutationByName(name string) (Mutation, bool) {
	if s == nil {
		return Mutation{}, false
	}
	for _, m := range s.Doc.Mutations {
		if m.Name == name {
			return m, true
		}
	}
	return Mutation{}, false
}

// MaxRateRPM exposes the constraint used by the rate limiter.
func (s *Snapshot) MaxRateRPM() int {
	if s == nil {
		return 0
	}
	return s.Doc.Constraints.MaxRateRPM
}

// ConsentBindingFor returns the consent binding matching a mutation
// category, if any (§4.2 step 5 — bindings whose name matches the mutation
// category).
func (s *Snapshot) ConsentBindingFor(category string) (ConsentBinding, bool) {
	if s == nil {
		return ConsentBinding{}, false
	}
	for _, cb := range s.Doc.ConsentBindings {
		if cb.Name == category {
			return cb, true
		}
	}
	return ConsentBinding{}, false
}

// Load decodes and validates a policy document, compiling its RBAC
// enforcer and CEL constraint programs only if validation succeeds. On any
// validation issue it returns them and a nil snapshot — the caller (the
// service's policy loader) decides whether to keep the prior snapshot or
// fall back to Development().
func Load(raw []byte) (*Snapshot, []Issue, error) {
	doc, err := Decode(raw)
	if err != nil {
		return nil, nil, err
	}
	return fromDocument(doc)
}

// LoadFile is Load from a path on disk.
func LoadFile(path string) (*Snapshot, []Issue, error) {
	doc, err := DecodeFile(path)
	if err != nil {
		return nil, nil, err
	}
	return fromDocument(doc)
}

func fromDocument(doc Document) (*Snapshot, []Issue, error) {
	issues := Validate(doc)
	if len(issues) > 0 {
		return nil, issues, nil
	}
	enforcer, err := buildEnforcer(doc)
	if err != nil {
		return nil, nil, fmt.Errorf("policy: compile rbac: %w", err)
	}
	programs, err := compileConstraints(doc)
	if err != nil {
		return nil, nil, err
	}
	return &Snapshot{
		Doc:         doc,
		LoadedAt:    time.Now().UTC(),
		enforcer:    enforcer,
		constraints: programs,
	}, nil, nil
}

// Development returns the explicitly permissive fallback snapshot installed
// when no policy document is configured or the configured one fails to
// load. Per open-question (c): relaxation is restricted to
// require_mtls=false and empty mutation/role lists; max_rate_rpm stays
// positive, the policy-gate guard is still mandatory, and the crypto check
// still runs (there is no crypto block, so it trivially passes).
func Development() *Snapshot {
	doc := Document{
		Version: "development",
		Capabilities: Capabilities{
			Maintainer:         "file://dev/maintainers.yaml",
			TrustedContributor: "file://dev/trusted-contributors.yaml",
			DefaultConsent:     "file://dev/default-consent.yaml",
		},
		Routes: []Route{
			{Path: "/*", Plane: PlaneData, Methods: []string{"GET", "POST"}, Guards: []string{GuardPolicyGate}},
		},
		Constraints: Constraints{
			RequireMTLS:     false,
			LogAllMutations: true,
			MaxRateRPM:      60,
		},
	}
	snap, issues, err := fromDocument(doc)
	if err != nil || len(issues) > 0 {
		panic(fmt.Sprintf("policy: development snapshot failed its own validation: %v %v", issues, err))
	}
	snap.Development = true
	return snap
}
