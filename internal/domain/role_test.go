package domain

import (
	"encoding/json"
	"testing"
)

func TestRoleOrdering(t *testing.T) {
	cases := []struct {
		actual  Role
		minimum Role
		want    bool
	}{
		{RoleViewer, RoleViewer, true},
		{RoleViewer, RoleContributor, false},
		{RoleViewer, RoleOwner, false},
		{RoleContributor, RoleViewer, true},
		{RoleContributor, RoleContributor, true},
		{RoleContributor, RoleOwner, false},
		{RoleOwner, RoleViewer, true},
		{RoleOwner, RoleContributor, true},
		{RoleOwner, RoleOwner, true},
	}
	for _, tc := range cases {
		if got := tc.actual.Meets(tc.minimum); got != tc.want {
			t.Errorf("%s.Meets(%s) = %v, want %v", tc.actual, tc.minimum, got, tc.want)
		}
	}
}

func TestParseRoleRoundTrip(t *testing.T) {
	for _, role := range []Role{RoleViewer, RoleContributor, RoleOwner} {
		parsed, err := ParseRole(role.String())
		if err != nil {
			t.Fatalf("ParseRole(%q): %v", role.String(), err)
		}
		if parsed != role {
			t.Fatalf("ParseRole(%q) = %v, want %v", role.String(), parsed, role)
		}
	}
}

func TestParseRoleRejectsUnknown(t *testing.T) {
	for _, name := range []string{"", "admin", "Owner", "OWNER"} {
		if _, err := ParseRole(name); err == nil {
			t.Errorf("ParseRole(%q) accepted an unknown role", name)
		}
	}
}

func TestRoleJSON(t *testing.T) {
	data, err := json.Marshal(RoleContributor)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(data) != `"contributor"` {
		t.Fatalf("unexpected encoding %s", data)
	}
	var role Role
	if err := json.Unmarshal([]byte(`"owner"`), &role); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if role != RoleOwner {
		t.Fatalf("unmarshal produced %v", role)
	}
	if err := json.Unmarshal([]byte(`"superuser"`), &role); err == nil {
		t.Fatal("expected error for unknown role name")
	}
}
