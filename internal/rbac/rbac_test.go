package rbac

import "testing"

func TestCan(t *testing.T) {
	cases := []struct {
		name   string
		role   Role
		action Action
		allow  bool
	}{
		{name: "citizen read", role: RoleCitizen, action: ActionRead, allow: true},
		{name: "citizen report", role: RoleCitizen, action: ActionReport, allow: true},
		{name: "citizen comment", role: RoleCitizen, action: ActionComment, allow: true},
		{name: "citizen triage", role: RoleCitizen, action: ActionTriage, allow: false},
		{name: "citizen manage", role: RoleCitizen, action: ActionManage, allow: false},
		{name: "authority triage", role: RoleAuthority, action: ActionTriage, allow: true},
		{name: "authority manage", role: RoleAuthority, action: ActionManage, allow: true},
		{name: "authority admin", role: RoleAuthority, action: ActionAdmin, allow: false},
		{name: "admin admin", role: RoleAdmin, action: ActionAdmin, allow: true},
		{name: "unknown read", role: Role("ghost"), action: ActionRead, allow: false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Can(tc.role, tc.action); got != tc.allow {
				t.Fatalf("Can(%q, %q) = %v, want %v", tc.role, tc.action, got, tc.allow)
			}
		})
	}
}

func TestNormalize(t *testing.T) {
	if got := Normalize("authority"); got != RoleAuthority {
		t.Fatalf("Normalize(authority) = %q", got)
	}
	if got := Normalize("superuser"); got != RoleCitizen {
		t.Fatalf("Normalize(superuser) = %q, want citizen fallback", got)
	}
}
