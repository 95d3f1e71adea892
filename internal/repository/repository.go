package repository

import (
	"context"

	"github.com/splax/teamscope/internal/domain"
)

// UserRepository persists users.
type UserRepository interface {
	CreateUser(ctx context.Context, user *domain.User) error
	GetUserByID(ctx context.Context, id string) (*domain.User, error)
	GetUserByUsername(ctx context.Context, username string) (*domain.User, error)
	SetUserEnabled(ctx context.Context, id string, enabled bool) error
	// SearchEnabledUsers returns enabled users whose username contains the
	// query, case-insensitively. Callers must not rely on its ordering.
	SearchEnabledUsers(ctx context.Context, query string) ([]domain.User, error)
}

// TeamRepository manages teams and the global sentinel team.
type TeamRepository interface {
	CreateTeam(ctx context.Context, team *domain.Team) error
	GetTeamByID(ctx context.Context, teamID string) (*domain.Team, error)
	GetGlobalTeam(ctx context.Context) (*domain.Team, error)
	// ListTeamsByUser returns teams joined through the user's membership
	// rows, hidden team included; visibility filtering is the engine's job.
	ListTeamsByUser(ctx context.Context, userID string) ([]domain.Team, error)
}

// WebhookRepository persists team webhook registrations.
type WebhookRepository interface {
	CreateWebhook(ctx context.Context, webhook *domain.Webhook) error
	ListTeamWebhooks(ctx context.Context, teamID string) ([]domain.Webhook, error)
	DeleteWebhook(ctx context.Context, teamID, webhookID string) error
}

// MembershipRepository manages the team/user join rows.
type MembershipRepository interface {
	CreateMembership(ctx context.Context, membership *domain.Membership) error
	GetMembership(ctx context.Context, teamID, userID string) (*domain.Membership, error)
	UpdateMembershipRole(ctx context.Context, teamID, userID string, role domain.Role) error
	DeleteMembership(ctx context.Context, teamID, userID string) error
	ListTeamMembers(ctx context.Context, teamID string) ([]domain.Member, error)
	CountTeamOwners(ctx context.Context, teamID string) (int, error)
}
