package policy

import (
	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
)

// rbacModel is a plain RBAC model: a role grants a privilege, an identity
// is granted a role by membership. Compiled fresh for every snapshot load
// instead of read from a policy file, since the roles/privileges/members
// are themselves the governance policy document being loaded.
const rbacModel = `
[request_definition]
r = sub, obj

[policy_definition]
p = sub, obj

[role_definition]
g = _, _

[policy_effect]
e = some(where (p.eft == allow))

[matchers]
m = g(r.sub, p.sub) && r.obj == p.obj
`

// buildEnforcer compiles the decoded roles into a Casbin RBAC enforcer:
// every role becomes a Casbin role granted its privileges as policies,
// every member is added to that role via the grouping relation. hasPrivilege
// then reduces to a single Enforce call.
func buildEnforcer(doc Document) (*casbin.Enforcer, error) {
	m, err := model.NewModelFromString(rbacModel)
	if err != nil {
		return nil, err
	}
	e, err := casbin.NewEnforcer(m)
	if err != nil {
		return nil, err
	}
	e.EnableAutoSave(false)
	for _, role := range doc.Roles {
		for _, priv := range role.Privileges {
			if _, err := e.AddPolicy(role.Name, priv); err != nil {
				return nil, err
			}
		}
		for _, member := range role.Members {
			if _, err := e.AddRoleForUser(member, role.Name); err != nil {
				return nil, err
			}
		}
	}
	return e, nil
}

// HasPrivilege reports whether identity holds privilege under the snapshot's
// compiled role graph — the union-of-roles check from §4.2 step 4.
func (s *Snapshot) HasPrivilege(identity, privilege string) bool {
	if s == nil || s.enforcer == nil {
		return false
	}
	ok, err := s.enforcer.Enforce(identity, privilege)
	if err != nil {
		return false
	}
	return ok
}

// RolesFor returns the roles identity belongs to in this snapshot, for
// diagnostics and the hasPrivilege() API surface.
func (s *Snapshot) RolesFor(identity string) []string {
	if s == nil || s.enforcer == nil {
		return nil
	}
	roles, err := s.enforcer.GetRolesForUser(identity)
	if err != nil {
		return nil
	}
	return roles
}
