package team

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"strings"
	"time"

	"log/slog"

	"github.com/google/uuid"

	"github.com/splax/teamscope/internal/domain"
	"github.com/splax/teamscope/internal/repository"
	"github.com/splax/teamscope/internal/service/access"
)

// Broadcaster fans membership events out to stream subscribers.
type Broadcaster interface {
	Broadcast(teamID string, payload []byte)
}

// Service handles team lifecycle and membership mutations. Reads go through
// the access engine so visibility rules are enforced in one place.
type Service struct {
	teams       repository.TeamRepository
	users       repository.UserRepository
	memberships repository.MembershipRepository
	access      access.Service
	events      Broadcaster
	logger      *slog.Logger
}

// New constructs a Service. events may be nil when no stream is attached.
func New(teams repository.TeamRepository, users repository.UserRepository, memberships repository.MembershipRepository, accessSvc access.Service, events Broadcaster, logger *slog.Logger) Service {
	return Service{teams: teams, users: users, memberships: memberships, access: accessSvc, events: events, logger: logger}
}

var (
	errInvalidTeamName = errors.New("team name is required")
	errTeamNameTaken   = errors.New("team name already taken")
	errUnknownUser     = errors.New("user not found")
	errUserDisabled    = errors.New("user is disabled")
	errAlreadyMember   = errors.New("user is already a member")
	errInvalidRole     = errors.New("invalid role")
	errLastOwner       = errors.New("team must retain at least one owner")
	errNotAMember      = errors.New("user is not a member")
)

// Create registers a team with the creator as its initial owner.
func (s Service) Create(ctx context.Context, ownerID, name, description string) (*domain.Team, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, errInvalidTeamName
	}
	team := &domain.Team{
		ID:          uuid.NewString(),
		Name:        name,
		Description: description,
		CreatedAt:   time.Now().UTC(),
	}
	if err := s.teams.CreateTeam(ctx, team); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return nil, errTeamNameTaken
		}
		return nil, err
	}
	membership := &domain.Membership{
		TeamID:    team.ID,
		UserID:    ownerID,
		Role:      domain.RoleOwner,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.memberships.CreateMembership(ctx, membership); err != nil {
		return nil, err
	}
	s.logger.Info("team created", "team_id", team.ID, "owner_id", ownerID)
	return team, nil
}

// Show resolves the team page for a requester: the team itself, the
// requester's own membership, and the visible roster.
func (s Service) Show(ctx context.Context, requesterID, teamID string) (*domain.Team, *domain.Membership, []domain.Member, error) {
	membership, err := s.access.Resolve(ctx, requesterID, teamID)
	if err != nil {
		return nil, nil, nil, err
	}
	team, err := s.teams.GetTeamByID(ctx, teamID)
	if err != nil {
		return nil, nil, nil, err
	}
	members, err := s.Members(ctx, requesterID, teamID)
	if err != nil {
		return nil, nil, nil, err
	}
	return team, membership, members, nil
}

// Members returns the roster shown on the team page: the requester's own
// visibility is checked first, and disabled users are left out. Their rows
// still exist and still gate their own access.
func (s Service) Members(ctx context.Context, requesterID, teamID string) ([]domain.Member, error) {
	if _, err := s.access.Resolve(ctx, requesterID, teamID); err != nil {
		return nil, err
	}
	members, err := s.memberships.ListTeamMembers(ctx, teamID)
	if err != nil {
		return nil, err
	}
	visible := make([]domain.Member, 0, len(members))
	for _, member := range members {
		if !member.Enabled {
			continue
		}
		visible = append(visible, member)
	}
	sort.Slice(visible, func(i, j int) bool {
		if visible[i].Username != visible[j].Username {
			return visible[i].Username < visible[j].Username
		}
		return visible[i].UserID < visible[j].UserID
	})
	return visible, nil
}

// AddMember adds a user to a team by username. Only owners may mutate
// membership.
func (s Service) AddMember(ctx context.Context, requesterID, teamID, username string, role domain.Role) (*domain.Membership, error) {
	if !role.Valid() {
		return nil, errInvalidRole
	}
	if err := s.requireOwner(ctx, requesterID, teamID); err != nil {
		return nil, err
	}
	user, err := s.users.GetUserByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, errUnknownUser
		}
		return nil, err
	}
	if !user.Enabled {
		return nil, errUserDisabled
	}
	membership := &domain.Membership{
		TeamID:    teamID,
		UserID:    user.ID,
		Role:      role,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.memberships.CreateMembership(ctx, membership); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return nil, errAlreadyMember
		}
		return nil, err
	}
	s.logger.Info("member added", "team_id", teamID, "user_id", user.ID, "role", role.String())
	s.publish(teamID, "member_added", user.ID, role)
	return membership, nil
}

// ChangeRole updates a member's role. Demoting the last owner is refused so
// every addressable team keeps at least one owner.
func (s Service) ChangeRole(ctx context.Context, requesterID, teamID, userID string, role domain.Role) error {
	if !role.Valid() {
		return errInvalidRole
	}
	if err := s.requireOwner(ctx, requesterID, teamID); err != nil {
		return err
	}
	existing, err := s.memberships.GetMembership(ctx, teamID, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return errNotAMember
		}
		return err
	}
	if existing.Role == domain.RoleOwner && !role.Meets(domain.RoleOwner) {
		if err := s.checkOwnerFloor(ctx, teamID); err != nil {
			return err
		}
	}
	if err := s.memberships.UpdateMembershipRole(ctx, teamID, userID, role); err != nil {
		return err
	}
	s.logger.Info("member role changed", "team_id", teamID, "user_id", userID, "role", role.String())
	s.publish(teamID, "role_changed", userID, role)
	return nil
}

// RemoveMember deletes a membership. Removing the last owner is refused.
func (s Service) RemoveMember(ctx context.Context, requesterID, teamID, userID string) error {
	if err := s.requireOwner(ctx, requesterID, teamID); err != nil {
		return err
	}
	existing, err := s.memberships.GetMembership(ctx, teamID, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return errNotAMember
		}
		return err
	}
	if existing.Role == domain.RoleOwner {
		if err := s.checkOwnerFloor(ctx, teamID); err != nil {
			return err
		}
	}
	if err := s.memberships.DeleteMembership(ctx, teamID, userID); err != nil {
		return err
	}
	s.logger.Info("member removed", "team_id", teamID, "user_id", userID)
	s.publish(teamID, "member_removed", userID, existing.Role)
	return nil
}

// EnsureGlobalTeam creates the hidden sentinel team on first boot. It is
// idempotent and safe to run on every startup.
func (s Service) EnsureGlobalTeam(ctx context.Context, name string) (*domain.Team, error) {
	team, err := s.teams.GetGlobalTeam(ctx)
	if err == nil {
		return team, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, err
	}
	team = &domain.Team{
		ID:          uuid.NewString(),
		Name:        name,
		Description: "system-wide defaults",
		Hidden:      true,
		CreatedAt:   time.Now().UTC(),
	}
	if err := s.teams.CreateTeam(ctx, team); err != nil {
		// lost a startup race: another instance created it first
		if errors.Is(err, repository.ErrConflict) {
			return s.teams.GetGlobalTeam(ctx)
		}
		return nil, err
	}
	s.logger.Info("global team created", "team_id", team.ID)
	return team, nil
}

func (s Service) requireOwner(ctx context.Context, requesterID, teamID string) error {
	membership, err := s.access.Resolve(ctx, requesterID, teamID)
	if err != nil {
		return err
	}
	if !membership.Role.Meets(domain.RoleOwner) {
		return access.ErrRoleTooLow
	}
	return nil
}

func (s Service) checkOwnerFloor(ctx context.Context, teamID string) error {
	owners, err := s.memberships.CountTeamOwners(ctx, teamID)
	if err != nil {
		return err
	}
	if owners <= 1 {
		return errLastOwner
	}
	return nil
}

func (s Service) publish(teamID, event, userID string, role domain.Role) {
	if s.events == nil {
		return
	}
	payload, err := json.Marshal(map[string]any{
		"event":   event,
		"team_id": teamID,
		"user_id": userID,
		"role":    role.String(),
		"at":      time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return
	}
	s.events.Broadcast(teamID, payload)
}
