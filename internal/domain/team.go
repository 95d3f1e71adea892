package domain

import "time"

// Team represents a named group of members. Exactly one team in the system
// carries Hidden=true: the global sentinel team, which is never addressable
// through any user-facing path.
type Team struct {
	ID          string
	Name        string
	Description string
	Hidden      bool
	CreatedAt   time.Time
}

// Membership links a user to a team with a role. A user holds at most one
// role per team.
type Membership struct {
	TeamID    string
	UserID    string
	Role      Role
	CreatedAt time.Time
}

// Member is a membership row joined with the user it belongs to, as surfaced
// on the team page.
type Member struct {
	Membership
	Username string
	Enabled  bool
}
