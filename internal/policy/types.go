// Package policy implements the declarative governance policy model: decode,
// validate, and the immutable runtime snapshot admission checks against.
package policy

// Document is the declarative, schema-checked policy document as decoded
// from YAML. It is the wire format; Snapshot is the validated runtime form.
type Document struct {
	Version         string             `yaml:"version"`
	Capabilities    Capabilities       `yaml:"capabilities"`
	Mutations       []Mutation         `yaml:"mutations"`
	Roles           []Role             `yaml:"roles"`
	Routes          []Route            `yaml:"routes"`
	ConsentBindings []ConsentBinding   `yaml:"consent_bindings"`
	Constraints     Constraints        `yaml:"constraints"`
	Crypto          *CryptoRegistry    `yaml:"crypto,omitempty"`
}

type Capabilities struct {
	Maintainer         string `yaml:"maintainer"`
	TrustedContributor string `yaml:"trusted_contributor"`
	DefaultConsent     string `yaml:"default_consent"`
}

type Mutation struct {
	Name          string `yaml:"name"`
	Description   string `yaml:"description"`
	Approvals     int    `yaml:"approvals"`
	TimelockHours int    `yaml:"timelock_hours"`
	// ConstraintCEL is an optional CEL boolean expression evaluated against
	// the admission request (identity, payload) during admission, in
	// addition to the fixed privilege/consent checks. Empty means no extra
	// constraint. See internal/policy/constraint.go.
	ConstraintCEL string `yaml:"constraint_cel,omitempty"`
}

type Role struct {
	Name       string   `yaml:"name"`
	Members    []string `yaml:"members"`
	Privileges []string `yaml:"privileges"`
}

type Route struct {
	Path    string   `yaml:"path"`
	Plane   string   `yaml:"plane"`
	Methods []string `yaml:"methods"`
	Guards  []string `yaml:"guards"`
}

const (
	PlaneControl = "control"
	PlaneData    = "data"
)

const (
	GuardMTLS       = "mtls"
	GuardPolicyGate = "policy-gate"
	GuardRateLimit  = "rate-limit"
	GuardAuditLog   = "audit-log"
)

// KnownGuards is the fixed, closed enumeration of route guards a policy
// document may reference. Unknown guards are a validation error.
var KnownGuards = map[string]struct{}{
	GuardMTLS:       {},
	GuardPolicyGate: {},
	GuardRateLimit:  {},
	GuardAuditLog:   {},
}

type ConsentBinding struct {
	Name        string         `yaml:"name"`
	ManifestRef string         `yaml:"manifest_ref"`
	Required    bool           `yaml:"required"`
	Defaults    ConsentDefault `yaml:"defaults"`
}

type ConsentDefault struct {
	Telemetry string `yaml:"telemetry"`
	Indexing  string `yaml:"indexing"`
}

const (
	ConsentOn  = "on"
	ConsentOff = "off"
)

type Constraints struct {
	RequireMTLS     bool `yaml:"require_mtls"`
	LogAllMutations bool `yaml:"log_all_mutations"`
	MaxRateRPM      int  `yaml:"max_rate_rpm"`
}

// CryptoRegistry decodes the ten fixed algorithm slots plus the terminated
// name list described in the governance data model.
type CryptoRegistry struct {
	PasswordHashing  *AlgoDescriptor `yaml:"password_hashing,omitempty"`
	GeneralHashing   *AlgoDescriptor `yaml:"general_hashing,omitempty"`
	PQSignatures     *AlgoDescriptor `yaml:"pq_signatures,omitempty"`
	PQKeyExchange    *AlgoDescriptor `yaml:"pq_key_exchange,omitempty"`
	ClassicalSigs    *AlgoDescriptor `yaml:"classical_sigs,omitempty"`
	Symmetric        *AlgoDescriptor `yaml:"symmetric,omitempty"`
	KeyDerivation    *AlgoDescriptor `yaml:"key_derivation,omitempty"`
	RNG              *AlgoDescriptor `yaml:"rng,omitempty"`
	DatabaseHashing  *AlgoDescriptor `yaml:"database_hashing,omitempty"`
	FallbackSig      *AlgoDescriptor `yaml:"fallback_sig,omitempty"`
	Terminated       []AlgoDescriptor `yaml:"terminated,omitempty"`
}

// slots returns the ten named slots paired with their registry key, for
// validator iteration. Absent slots are included as nil entries; the
// validator skips them.
func (c *CryptoRegistry) slots() map[string]*AlgoDescriptor {
	if c == nil {
		return nil
	}
	return map[string]*AlgoDescriptor{
		"password_hashing": c.PasswordHashing,
		"general_hashing":  c.GeneralHashing,
		"pq_signatures":    c.PQSignatures,
		"pq_key_exchange":  c.PQKeyExchange,
		"classical_sigs":   c.ClassicalSigs,
		"symmetric":        c.Symmetric,
		"key_derivation":   c.KeyDerivation,
		"rng":              c.RNG,
		"database_hashing": c.DatabaseHashing,
		"fallback_sig":     c.FallbackSig,
	}
}

type AlgoStatus string

const (
	AlgoRequired   AlgoStatus = "required"
	AlgoDeprecated AlgoStatus = "deprecated"
	AlgoTerminated AlgoStatus = "terminated"
)

type AlgoDescriptor struct {
	Name     string     `yaml:"name"`
	Standard string     `yaml:"standard"`
	Status   AlgoStatus `yaml:"status"`
}

// AdministrativePrivileges are privileges not derived from a gated mutation
// name but meaningful on their own (policy-version workflow, audit access).
var AdministrativePrivileges = map[string]struct{}{
	"manage_policy":         {},
	"view_audit":            {},
	"approve_policy_version": {},
}
