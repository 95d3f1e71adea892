package domain

import "time"

// Webhook is a team-scoped delivery target for membership events. Secret
// holds the AES-GCM ciphertext of the signing secret.
type Webhook struct {
	ID        string    `json:"id"`
	TeamID    string    `json:"team_id"`
	URL       string    `json:"url"`
	Secret    []byte    `json:"-"`
	CreatedAt time.Time `json:"created_at"`
}
