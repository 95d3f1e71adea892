package domain

import "time"

// User represents a directory account. Disabled users are hidden from other
// users' views but keep their memberships.
type User struct {
	ID           string
	Username     string
	Email        string
	PasswordHash []byte
	Enabled      bool
	CreatedAt    time.Time
}
