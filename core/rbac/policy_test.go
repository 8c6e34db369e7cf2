package rbac

import (
	"testing"

	"takedown/core/store"
)

func TestPolicyGrantsByRole(t *testing.T) {
	p, err := NewPolicy()
	if err != nil {
		t.Fatalf("policy: %v", err)
	}
	cases := []struct {
		role store.Role
		perm string
		want bool
	}{
		{store.RoleReporter, PermSubmit, true},
		{store.RoleReporter, PermView, true},
		{store.RoleReporter, PermTransition, false},
		{store.RoleReporter, PermMetrics, false},
		{store.RoleReporter, PermManageUsers, false},

		{store.RoleOfficer, PermSubmit, true},
		{store.RoleOfficer, PermView, true},
		{store.RoleOfficer, PermTransition, true},
		{store.RoleOfficer, PermMetrics, true},
		{store.RoleOfficer, PermManageUsers, false},

		{store.RoleAdmin, PermSubmit, true},
		{store.RoleAdmin, PermTransition, true},
		{store.RoleAdmin, PermMetrics, true},
		{store.RoleAdmin, PermManageUsers, true},

		{store.RoleSystem, PermSubmit, false},
		{store.RoleSystem, PermTransition, false},

		{store.Role("ghost"), PermView, false},
	}
	for _, tc := range cases {
		if got := p.Allowed(tc.role, tc.perm); got != tc.want {
			t.Errorf("Allowed(%s, %s) = %v, want %v", tc.role, tc.perm, got, tc.want)
		}
	}
}

func TestNilPolicyDeniesEverything(t *testing.T) {
	var p *Policy
	if p.Allowed(store.RoleAdmin, PermView) {
		t.Fatal("nil policy allowed a request")
	}
}
