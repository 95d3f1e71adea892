package domain

import "fmt"

// Role is the membership role within a team. The set is closed and totally
// ordered: Viewer < Contributor < Owner.
type Role int

const (
	RoleViewer Role = iota
	RoleContributor
	RoleOwner
)

var roleNames = map[Role]string{
	RoleViewer:      "viewer",
	RoleContributor: "contributor",
	RoleOwner:       "owner",
}

// Meets reports whether the role satisfies the given minimum.
func (r Role) Meets(minimum Role) bool {
	return r >= minimum
}

// Valid reports whether the role is one of the three known values.
func (r Role) Valid() bool {
	_, ok := roleNames[r]
	return ok
}

// String returns the lowercase role name.
func (r Role) String() string {
	if name, ok := roleNames[r]; ok {
		return name
	}
	return fmt.Sprintf("role(%d)", int(r))
}

// ParseRole converts a stored or user-supplied role name.
func ParseRole(name string) (Role, error) {
	switch name {
	case "viewer":
		return RoleViewer, nil
	case "contributor":
		return RoleContributor, nil
	case "owner":
		return RoleOwner, nil
	}
	return RoleViewer, fmt.Errorf("unknown role %q", name)
}

// MarshalJSON encodes the role as its lowercase name.
func (r Role) MarshalJSON() ([]byte, error) {
	if !r.Valid() {
		return nil, fmt.Errorf("cannot marshal invalid role %d", int(r))
	}
	return []byte(`"` + r.String() + `"`), nil
}

// UnmarshalJSON decodes a lowercase role name.
func (r *Role) UnmarshalJSON(data []byte) error {
	if len(data) < 2 || data[0] != '"' || data[len(data)-1] != '"' {
		return fmt.Errorf("role must be a JSON string")
	}
	parsed, err := ParseRole(string(data[1 : len(data)-1]))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}
