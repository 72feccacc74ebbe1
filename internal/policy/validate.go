package policy

import (
	"fmt"
	"strings"
)

// Issue is a single validation failure. Validate runs every check
// independently and unions the issues so an operator sees the whole
// picture in one pass, never just the first broken rule.
type Issue struct {
	Check   string
	Message string
}

func (i Issue) String() string {
	return fmt.Sprintf("%s: %s", i.Check, i.Message)
}

// Validate runs the fixed sequence of checks from §4.1 over a decoded
// document and returns every issue found. An empty slice means the
// document satisfies every invariant in §3.
func Validate(doc Document) []Issue {
	var issues []Issue

	issues = append(issues, checkVersionAndRate(doc)...)
	issues = append(issues, checkRouteGuards(doc)...)
	issues = append(issues, checkCapabilities(doc)...)
	issues = append(issues, checkMutations(doc)...)
	issues = append(issues, checkRolePrivileges(doc)...)
	issues = append(issues, checkParadoxExclusion(doc)...)
	issues = append(issues, checkConsentBindings(doc)...)
	issues = append(issues, checkCrypto(doc)...)

	return issues
}

func checkVersionAndRate(doc Document) []Issue {
	var issues []Issue
	if strings.TrimSpace(doc.Version) == "" {
		issues = append(issues, Issue{"version", "version must be non-empty"})
	}
	if doc.Constraints.MaxRateRPM <= 0 {
		issues = append(issues, Issue{"constraints.max_rate_rpm", "must be > 0"})
	}
	return issues
}

func checkRouteGuards(doc Document) []Issue {
	var issues []Issue
	for _, route := range doc.Routes {
		guardSet := map[string]struct{}{}
		for _, g := range route.Guards {
			if _, known := KnownGuards[g]; !known {
				issues = append(issues, Issue{"routes.guards", fmt.Sprintf("route %q references unknown guard %q", route.Path, g)})
				continue
			}
			guardSet[g] = struct{}{}
		}
		if _, ok := guardSet[GuardPolicyGate]; !ok {
			issues = append(issues, Issue{"routes.guards", fmt.Sprintf("route %q must include guard %q", route.Path, GuardPolicyGate)})
		}
		if route.Plane == PlaneControl {
			if _, ok := guardSet[GuardMTLS]; !ok {
				issues = append(issues, Issue{"routes.guards", fmt.Sprintf("control-plane route %q must include guard %q", route.Path, GuardMTLS)})
			}
		}
	}
	return issues
}

func checkCapabilities(doc Document) []Issue {
	var issues []Issue
	check := func(field, value string) {
		if strings.TrimSpace(value) == "" {
			issues = append(issues, Issue{"capabilities." + field, "must reference an external file/URI"})
			return
		}
		if value == "stub" {
			issues = append(issues, Issue{"capabilities." + field, `must not be the literal "stub"`})
		}
	}
	check("maintainer", doc.Capabilities.Maintainer)
	check("trusted_contributor", doc.Capabilities.TrustedContributor)
	check("default_consent", doc.Capabilities.DefaultConsent)
	return issues
}

func maintainerRole(doc Document) *Role {
	for i := range doc.Roles {
		if doc.Roles[i].Name == "maintainer" {
			return &doc.Roles[i]
		}
	}
	return nil
}

func checkMutations(doc Document) []Issue {
	var issues []Issue
	seen := map[string]struct{}{}
	maintainer := maintainerRole(doc)
	for _, m := range doc.Mutations {
		if _, dup := seen[m.Name]; dup {
			issues = append(issues, Issue{"mutations.name", fmt.Sprintf("duplicate mutation name %q", m.Name)})
		}
		seen[m.Name] = struct{}{}
		if m.Approvals < 1 {
			issues = append(issues, Issue{"mutations.approvals", fmt.Sprintf("mutation %q: approvals must be >= 1", m.Name)})
		}
		if m.TimelockHours < 1 {
			issues = append(issues, Issue{"mutations.timelock_hours", fmt.Sprintf("mutation %q: timelock_hours must be >= 1", m.Name)})
		}
		if maintainer != nil && m.Approvals > len(maintainer.Members) {
			issues = append(issues, Issue{"mutations.approvals", fmt.Sprintf("mutation %q: approvals (%d) exceeds maintainer member count (%d)", m.Name, m.Approvals, len(maintainer.Members))})
		}
	}
	return issues
}

// knownPrivileges is the closed privilege enumeration for this document:
// every gated mutation name is itself a privilege (§4.2), plus the fixed
// administrative privileges.
func knownPrivileges(doc Document) map[string]struct{} {
	out := map[string]struct{}{}
	for k := range AdministrativePrivileges {
		out[k] = struct{}{}
	}
	for _, m := range doc.Mutations {
		out[m.Name] = struct{}{}
	}
	return out
}

func checkRolePrivileges(doc Document) []Issue {
	var issues []Issue
	seen := map[string]struct{}{}
	known := knownPrivileges(doc)
	for _, role := range doc.Roles {
		if _, dup := seen[role.Name]; dup {
			issues = append(issues, Issue{"roles.name", fmt.Sprintf("duplicate role name %q", role.Name)})
		}
		seen[role.Name] = struct{}{}
		for _, p := range role.Privileges {
			if _, ok := known[p]; !ok {
				issues = append(issues, Issue{"roles.privileges", fmt.Sprintf("role %q references unknown privilege %q", role.Name, p)})
			}
		}
	}
	return issues
}

// checkParadoxExclusion enforces invariant (4): trusted_contributor may
// never hold rotate_keys, regardless of what the document's mutation set
// calls that privilege.
func checkParadoxExclusion(doc Document) []Issue {
	var issues []Issue
	for _, role := range doc.Roles {
		if role.Name != "trusted_contributor" {
			continue
		}
		for _, p := range role.Privileges {
			if p == "rotate_keys" {
				issues = append(issues, Issue{"roles.paradox", "trusted_contributor must not have rotate_keys"})
			}
		}
	}
	return issues
}

func checkConsentBindings(doc Document) []Issue {
	var issues []Issue
	validDefault := func(v string) bool { return v == ConsentOn || v == ConsentOff }
	for _, cb := range doc.ConsentBindings {
		if !cb.Required {
			continue
		}
		if strings.TrimSpace(cb.ManifestRef) == "" {
			issues = append(issues, Issue{"consent_bindings.manifest_ref", fmt.Sprintf("required consent binding %q needs a non-empty manifest_ref", cb.Name)})
		}
		if !validDefault(cb.Defaults.Telemetry) {
			issues = append(issues, Issue{"consent_bindings.defaults.telemetry", fmt.Sprintf("consent binding %q: telemetry default must be on|off", cb.Name)})
		}
		if !validDefault(cb.Defaults.Indexing) {
			issues = append(issues, Issue{"consent_bindings.defaults.indexing", fmt.Sprintf("consent binding %q: indexing default must be on|off", cb.Name)})
		}
	}
	return issues
}

func checkCrypto(doc Document) []Issue {
	var issues []Issue
	if doc.Crypto == nil {
		return issues
	}
	terminatedNames := map[string]struct{}{}
	for _, t := range doc.Crypto.Terminated {
		if t.Status != AlgoTerminated {
			issues = append(issues, Issue{"crypto.terminated", fmt.Sprintf("terminated list entry %q must carry status=terminated", t.Name)})
		}
		terminatedNames[t.Name] = struct{}{}
	}
	for slot, algo := range doc.Crypto.slots() {
		if algo == nil {
			continue
		}
		if algo.Status == AlgoTerminated {
			issues = append(issues, Issue{"crypto." + slot, fmt.Sprintf("uses terminated algorithm: %s", algo.Name)})
			continue
		}
		if _, terminated := terminatedNames[algo.Name]; terminated {
			issues = append(issues, Issue{"crypto." + slot, fmt.Sprintf("uses terminated algorithm: %s", algo.Name)})
		}
	}
	return issues
}
