package rbac

import (
	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"

	"takedown/core/store"
)

// API-surface permissions checked by handlers. The workflow engine applies
// its own per-edge role gate on top of these.
const (
	PermSubmit      = "cases.submit"
	PermView        = "cases.view"
	PermTransition  = "cases.transition"
	PermMetrics     = "cases.metrics"
	PermManageUsers = "users.manage"
)

const modelText = `
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

// Policy answers "may this role hit this endpoint". Roles inherit:
// admin > officer > reporter.
type Policy struct {
	enforcer *casbin.SyncedEnforcer
}

func NewPolicy() (*Policy, error) {
	m, err := model.NewModelFromString(modelText)
	if err != nil {
		return nil, err
	}
	e, err := casbin.NewSyncedEnforcer(m)
	if err != nil {
		return nil, err
	}
	rules := [][2]string{
		{string(store.RoleReporter), PermSubmit},
		{string(store.RoleReporter), PermView},
		{string(store.RoleOfficer), PermTransition},
		{string(store.RoleOfficer), PermMetrics},
		{string(store.RoleAdmin), PermManageUsers},
	}
	for _, rule := range rules {
		if _, err := e.AddPolicy(rule[0], rule[1]); err != nil {
			return nil, err
		}
	}
	inherits := [][2]string{
		{string(store.RoleAdmin), string(store.RoleOfficer)},
		{string(store.RoleOfficer), string(store.RoleReporter)},
	}
	for _, g := range inherits {
		if _, err := e.AddGroupingPolicy(g[0], g[1]); err != nil {
			return nil, err
		}
	}
	return &Policy{enforcer: e}, nil
}

func (p *Policy) Allowed(role store.Role, permission string) bool {
	if p == nil || p.enforcer == nil {
		return false
	}
	ok, err := p.enforcer.Enforce(string(role), permission)
	return err == nil && ok
}
