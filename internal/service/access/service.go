package access

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"log/slog"

	"github.com/splax/teamscope/internal/domain"
	"github.com/splax/teamscope/internal/repository"
)

// Service decides what a requesting user may see and do across teams. It is
// a pure read layer: every call is computed fresh from the repositories.
type Service struct {
	teams       repository.TeamRepository
	users       repository.UserRepository
	memberships repository.MembershipRepository
	logger      *slog.Logger
}

// New constructs a Service.
func New(teams repository.TeamRepository, users repository.UserRepository, memberships repository.MembershipRepository, logger *slog.Logger) Service {
	return Service{teams: teams, users: users, memberships: memberships, logger: logger}
}

var (
	// ErrTeamNotFound covers both truly absent teams and the hidden sentinel
	// team; the two are indistinguishable to every caller.
	ErrTeamNotFound = errors.New("team not found")

	// ErrNotAuthorized is the umbrella authorization failure. The two
	// concrete causes below wrap it so boundaries can match uniformly with
	// errors.Is while internal callers may still tell them apart.
	ErrNotAuthorized = errors.New("not authorized")

	ErrNotMember  = fmt.Errorf("%w: requester holds no membership", ErrNotAuthorized)
	ErrRoleTooLow = fmt.Errorf("%w: requester role below required minimum", ErrNotAuthorized)
)

// Resolve decides whether the requester may address the team, returning the
// requester's own membership when they may. A hidden team resolves exactly
// like a missing one, for owners of the hidden team included.
func (s Service) Resolve(ctx context.Context, requesterID, teamID string) (*domain.Membership, error) {
	team, err := s.teams.GetTeamByID(ctx, teamID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrTeamNotFound
		}
		return nil, err
	}
	if team.Hidden {
		return nil, ErrTeamNotFound
	}
	membership, err := s.memberships.GetMembership(ctx, teamID, requesterID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrNotMember
		}
		return nil, err
	}
	return membership, nil
}

// TeamsFor returns the teams the requester may enumerate: every team where
// they hold a membership, except the hidden sentinel team.
func (s Service) TeamsFor(ctx context.Context, requesterID string) ([]domain.Team, error) {
	teams, err := s.teams.ListTeamsByUser(ctx, requesterID)
	if err != nil {
		return nil, err
	}
	visible := make([]domain.Team, 0, len(teams))
	for _, team := range teams {
		if team.Hidden {
			continue
		}
		visible = append(visible, team)
	}
	return visible, nil
}

// SearchUsers performs the typeahead lookup of candidate members for a team:
// enabled users matching the query who do not already belong to the team.
// The requester must be able to see the team and hold at least minRole.
func (s Service) SearchUsers(ctx context.Context, requesterID, teamID, query string, minRole domain.Role) ([]domain.User, error) {
	membership, err := s.Resolve(ctx, requesterID, teamID)
	if err != nil {
		return nil, err
	}
	if !membership.Role.Meets(minRole) {
		s.logger.Warn("user search denied", "team_id", teamID, "requester_id", requesterID, "role", membership.Role.String())
		return nil, ErrRoleTooLow
	}

	members, err := s.memberships.ListTeamMembers(ctx, teamID)
	if err != nil {
		return nil, err
	}
	existing := make(map[string]struct{}, len(members))
	for _, member := range members {
		existing[member.UserID] = struct{}{}
	}

	candidates, err := s.users.SearchEnabledUsers(ctx, query)
	if err != nil {
		return nil, err
	}
	matches := make([]domain.User, 0, len(candidates))
	for _, user := range candidates {
		// The store promises an enabled, query-filtered feed; re-check both
		// rather than trusting it.
		if !user.Enabled || !containsFold(user.Username, query) {
			continue
		}
		if _, ok := existing[user.ID]; ok {
			continue
		}
		matches = append(matches, user)
	}
	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Username != matches[j].Username {
			return matches[i].Username < matches[j].Username
		}
		return matches[i].ID < matches[j].ID
	})
	return matches, nil
}

// SearchTeams returns the requester's teams whose name matches the query.
// Only teams backed by real membership rows can appear, since enumeration is
// defined purely over the membership relation.
func (s Service) SearchTeams(ctx context.Context, requesterID, query string) ([]domain.Team, error) {
	teams, err := s.TeamsFor(ctx, requesterID)
	if err != nil {
		return nil, err
	}
	matches := make([]domain.Team, 0, len(teams))
	for _, team := range teams {
		if containsFold(team.Name, query) {
			matches = append(matches, team)
		}
	}
	sort.Slice(matches, func(i, j int) bool {
		return matches[i].Name < matches[j].Name
	})
	return matches, nil
}

// containsFold reports whether s contains substr under simple case folding.
func containsFold(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}
