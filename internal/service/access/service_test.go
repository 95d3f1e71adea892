package access

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"reflect"
	"testing"
	"time"

	"github.com/splax/teamscope/internal/domain"
	"github.com/splax/teamscope/internal/repository"
)

// memStore is an in-memory fixture backing all three repository interfaces.
// Team enumeration derives from membership rows, the same way the SQL join
// does.
type memStore struct {
	teams       map[string]domain.Team
	users       map[string]domain.User
	memberships []domain.Membership

	// leakDisabled simulates a store that fails to pre-filter disabled users
	// out of its search feed.
	leakDisabled bool
	// searchCalls flips the feed order between calls so ordering bugs in the
	// engine surface as nondeterminism.
	searchCalls int
}

func newMemStore() *memStore {
	return &memStore{
		teams: make(map[string]domain.Team),
		users: make(map[string]domain.User),
	}
}

func (s *memStore) addTeam(id, name string, hidden bool) {
	s.teams[id] = domain.Team{ID: id, Name: name, Hidden: hidden, CreatedAt: time.Now()}
}

func (s *memStore) addUser(id, username string, enabled bool) {
	s.users[id] = domain.User{ID: id, Username: username, Enabled: enabled, CreatedAt: time.Now()}
}

func (s *memStore) addMembership(teamID, userID string, role domain.Role) {
	s.memberships = append(s.memberships, domain.Membership{TeamID: teamID, UserID: userID, Role: role, CreatedAt: time.Now()})
}

func (s *memStore) CreateUser(ctx context.Context, user *domain.User) error { return nil }

func (s *memStore) GetUserByID(ctx context.Context, id string) (*domain.User, error) {
	if user, ok := s.users[id]; ok {
		return &user, nil
	}
	return nil, repository.ErrNotFound
}

func (s *memStore) GetUserByUsername(ctx context.Context, username string) (*domain.User, error) {
	for _, user := range s.users {
		if user.Username == username {
			return &user, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (s *memStore) SetUserEnabled(ctx context.Context, id string, enabled bool) error { return nil }

func (s *memStore) SearchEnabledUsers(ctx context.Context, query string) ([]domain.User, error) {
	feed := make([]domain.User, 0, len(s.users))
	for _, user := range s.users {
		if !s.leakDisabled && !user.Enabled {
			continue
		}
		feed = append(feed, user)
	}
	s.searchCalls++
	if s.searchCalls%2 == 0 {
		for i, j := 0, len(feed)-1; i < j; i, j = i+1, j-1 {
			feed[i], feed[j] = feed[j], feed[i]
		}
	}
	return feed, nil
}

func (s *memStore) CreateTeam(ctx context.Context, team *domain.Team) error { return nil }

func (s *memStore) GetTeamByID(ctx context.Context, teamID string) (*domain.Team, error) {
	if team, ok := s.teams[teamID]; ok {
		return &team, nil
	}
	return nil, repository.ErrNotFound
}

func (s *memStore) GetGlobalTeam(ctx context.Context) (*domain.Team, error) {
	for _, team := range s.teams {
		if team.Hidden {
			return &team, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (s *memStore) ListTeamsByUser(ctx context.Context, userID string) ([]domain.Team, error) {
	teams := make([]domain.Team, 0)
	seen := make(map[string]struct{})
	for _, m := range s.memberships {
		if m.UserID != userID {
			continue
		}
		if _, ok := seen[m.TeamID]; ok {
			continue
		}
		seen[m.TeamID] = struct{}{}
		if team, ok := s.teams[m.TeamID]; ok {
			teams = append(teams, team)
		}
	}
	return teams, nil
}

func (s *memStore) CreateMembership(ctx context.Context, membership *domain.Membership) error {
	s.memberships = append(s.memberships, *membership)
	return nil
}

func (s *memStore) GetMembership(ctx context.Context, teamID, userID string) (*domain.Membership, error) {
	for _, m := range s.memberships {
		if m.TeamID == teamID && m.UserID == userID {
			found := m
			return &found, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (s *memStore) UpdateMembershipRole(ctx context.Context, teamID, userID string, role domain.Role) error {
	return nil
}

func (s *memStore) DeleteMembership(ctx context.Context, teamID, userID string) error { return nil }

func (s *memStore) ListTeamMembers(ctx context.Context, teamID string) ([]domain.Member, error) {
	members := make([]domain.Member, 0)
	for _, m := range s.memberships {
		if m.TeamID != teamID {
			continue
		}
		user := s.users[m.UserID]
		members = append(members, domain.Member{Membership: m, Username: user.Username, Enabled: user.Enabled})
	}
	return members, nil
}

func (s *memStore) CountTeamOwners(ctx context.Context, teamID string) (int, error) {
	count := 0
	for _, m := range s.memberships {
		if m.TeamID == teamID && m.Role == domain.RoleOwner {
			count++
		}
	}
	return count, nil
}

func newService(store *memStore) Service {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(store, store, store, log)
}

func TestResolveHiddenTeamIsNotFound(t *testing.T) {
	store := newMemStore()
	store.addUser("u-owner", "owner", true)
	store.addTeam("t-hidden", "teamscope_global", true)
	// even the hidden team's own owner gets not-found
	store.addMembership("t-hidden", "u-owner", domain.RoleOwner)

	svc := newService(store)
	if _, err := svc.Resolve(context.Background(), "u-owner", "t-hidden"); !errors.Is(err, ErrTeamNotFound) {
		t.Fatalf("expected ErrTeamNotFound, got %v", err)
	}
}

func TestResolveMissingTeamIsNotFound(t *testing.T) {
	store := newMemStore()
	store.addUser("u1", "user1", true)

	svc := newService(store)
	if _, err := svc.Resolve(context.Background(), "u1", "t-missing"); !errors.Is(err, ErrTeamNotFound) {
		t.Fatalf("expected ErrTeamNotFound, got %v", err)
	}
}

func TestResolveMembershipGate(t *testing.T) {
	store := newMemStore()
	store.addUser("u-owner", "owner", true)
	store.addUser("u-stranger", "stranger", true)
	store.addTeam("t1", "qa team", false)
	store.addMembership("t1", "u-owner", domain.RoleOwner)

	svc := newService(store)

	membership, err := svc.Resolve(context.Background(), "u-owner", "t1")
	if err != nil {
		t.Fatalf("owner should resolve: %v", err)
	}
	if membership.Role != domain.RoleOwner {
		t.Fatalf("expected owner membership, got %v", membership.Role)
	}

	_, err = svc.Resolve(context.Background(), "u-stranger", "t1")
	if !errors.Is(err, ErrNotAuthorized) {
		t.Fatalf("expected authorization failure, got %v", err)
	}
	if !errors.Is(err, ErrNotMember) {
		t.Fatalf("expected the no-membership cause, got %v", err)
	}
	if errors.Is(err, ErrTeamNotFound) {
		t.Fatal("authorization failure must not look like not-found")
	}
}

func TestTeamsForExcludesHiddenTeam(t *testing.T) {
	store := newMemStore()
	store.addUser("u1", "user1", true)
	store.addTeam("t1", "qa team", false)
	store.addTeam("t-hidden", "teamscope_global", true)
	store.addMembership("t1", "u1", domain.RoleViewer)
	store.addMembership("t-hidden", "u1", domain.RoleOwner)

	svc := newService(store)
	teams, err := svc.TeamsFor(context.Background(), "u1")
	if err != nil {
		t.Fatalf("TeamsFor: %v", err)
	}
	if len(teams) != 1 || teams[0].ID != "t1" {
		t.Fatalf("expected only t1, got %+v", teams)
	}
}

func TestTeamsForOnlyMemberships(t *testing.T) {
	store := newMemStore()
	store.addUser("u1", "user1", true)
	store.addTeam("t1", "qa team", false)
	store.addTeam("t2", "other team", false)
	store.addMembership("t2", "someone-else", domain.RoleOwner)

	svc := newService(store)
	teams, err := svc.TeamsFor(context.Background(), "u1")
	if err != nil {
		t.Fatalf("TeamsFor: %v", err)
	}
	if len(teams) != 0 {
		t.Fatalf("expected no teams for a user with no memberships, got %+v", teams)
	}
}

func TestSearchUsersRoleThreshold(t *testing.T) {
	store := newMemStore()
	store.addTeam("t1", "qa team", false)
	store.addUser("u-viewer", "viewer-user", true)
	store.addUser("u-contrib", "contrib-user", true)
	store.addUser("u-owner", "owner-user", true)
	store.addMembership("t1", "u-viewer", domain.RoleViewer)
	store.addMembership("t1", "u-contrib", domain.RoleContributor)
	store.addMembership("t1", "u-owner", domain.RoleOwner)

	svc := newService(store)

	for _, requester := range []string{"u-viewer", "u-contrib"} {
		_, err := svc.SearchUsers(context.Background(), requester, "t1", "user", domain.RoleOwner)
		if !errors.Is(err, ErrNotAuthorized) {
			t.Fatalf("requester %s: expected authorization failure, got %v", requester, err)
		}
		if !errors.Is(err, ErrRoleTooLow) {
			t.Fatalf("requester %s: expected the role-threshold cause, got %v", requester, err)
		}
	}

	if _, err := svc.SearchUsers(context.Background(), "u-owner", "t1", "user", domain.RoleOwner); err != nil {
		t.Fatalf("owner search should succeed: %v", err)
	}
}

func TestSearchUsersVisibilityPropagates(t *testing.T) {
	store := newMemStore()
	store.addUser("u1", "user1", true)
	store.addTeam("t-hidden", "teamscope_global", true)
	store.addMembership("t-hidden", "u1", domain.RoleOwner)

	svc := newService(store)

	if _, err := svc.SearchUsers(context.Background(), "u1", "t-hidden", "user", domain.RoleOwner); !errors.Is(err, ErrTeamNotFound) {
		t.Fatalf("expected ErrTeamNotFound for hidden team, got %v", err)
	}
	if _, err := svc.SearchUsers(context.Background(), "u1", "t-missing", "user", domain.RoleOwner); !errors.Is(err, ErrTeamNotFound) {
		t.Fatalf("expected ErrTeamNotFound for missing team, got %v", err)
	}
}

func TestSearchUsersExcludesDisabledEvenFromLeakyFeed(t *testing.T) {
	store := newMemStore()
	store.leakDisabled = true
	store.addTeam("t1", "qa team", false)
	store.addUser("u-owner", "boss", true)
	store.addUser("u-disabled", "user-disabled", false)
	store.addUser("u-active", "user-active", true)
	store.addMembership("t1", "u-owner", domain.RoleOwner)

	svc := newService(store)
	users, err := svc.SearchUsers(context.Background(), "u-owner", "t1", "user", domain.RoleOwner)
	if err != nil {
		t.Fatalf("SearchUsers: %v", err)
	}
	if len(users) != 1 || users[0].ID != "u-active" {
		t.Fatalf("expected only the enabled match, got %+v", users)
	}
}

func TestSearchUsersExcludesExistingMembers(t *testing.T) {
	store := newMemStore()
	store.addTeam("t1", "qa team", false)
	store.addUser("u-owner", "user-boss", true)
	store.addUser("u-member", "user-member", true)
	store.addUser("u-candidate", "user-candidate", true)
	store.addMembership("t1", "u-owner", domain.RoleOwner)
	store.addMembership("t1", "u-member", domain.RoleViewer)

	svc := newService(store)
	users, err := svc.SearchUsers(context.Background(), "u-owner", "t1", "user", domain.RoleOwner)
	if err != nil {
		t.Fatalf("SearchUsers: %v", err)
	}
	if len(users) != 1 || users[0].ID != "u-candidate" {
		t.Fatalf("expected only the non-member candidate, got %+v", users)
	}
}

// Mirrors the reference behavior: "qa team" has owner and viewer user1;
// user2, created afterwards, matches while user1 is already a member.
func TestSearchUsersReferenceScenario(t *testing.T) {
	store := newMemStore()
	store.addTeam("t-qa", "qa team", false)
	store.addUser("u-owner", "owner", true)
	store.addMembership("t-qa", "u-owner", domain.RoleOwner)
	store.addUser("u-admin", "useradmin", true)
	store.addUser("u1", "user1", true)
	store.addMembership("t-qa", "u1", domain.RoleViewer)
	store.addUser("u2", "user2", true)

	svc := newService(store)
	users, err := svc.SearchUsers(context.Background(), "u-owner", "t-qa", "user", domain.RoleOwner)
	if err != nil {
		t.Fatalf("SearchUsers: %v", err)
	}
	if len(users) != 2 {
		t.Fatalf("expected 2 matches, got %d: %+v", len(users), users)
	}
	if users[0].Username != "user2" || users[1].Username != "useradmin" {
		t.Fatalf("unexpected order: %q, %q", users[0].Username, users[1].Username)
	}
}

func TestSearchUsersEmptyResultIsNotAFailure(t *testing.T) {
	store := newMemStore()
	store.addTeam("t1", "qa team", false)
	store.addUser("u-owner", "boss", true)
	store.addMembership("t1", "u-owner", domain.RoleOwner)

	svc := newService(store)
	users, err := svc.SearchUsers(context.Background(), "u-owner", "t1", "zzz-no-match", domain.RoleOwner)
	if err != nil {
		t.Fatalf("authorized query with no matches must not fail: %v", err)
	}
	if len(users) != 0 {
		t.Fatalf("expected empty result, got %+v", users)
	}
}

func TestSearchUsersDeterministicOrdering(t *testing.T) {
	store := newMemStore()
	store.addTeam("t1", "qa team", false)
	store.addUser("u-owner", "boss", true)
	store.addMembership("t1", "u-owner", domain.RoleOwner)
	store.addUser("id-b", "user-twin", true)
	store.addUser("id-a", "user-twin", true)
	store.addUser("id-c", "user-alpha", true)

	svc := newService(store)
	first, err := svc.SearchUsers(context.Background(), "u-owner", "t1", "user", domain.RoleOwner)
	if err != nil {
		t.Fatalf("SearchUsers: %v", err)
	}
	wantIDs := []string{"id-c", "id-a", "id-b"}
	gotIDs := make([]string, 0, len(first))
	for _, u := range first {
		gotIDs = append(gotIDs, u.ID)
	}
	if !reflect.DeepEqual(gotIDs, wantIDs) {
		t.Fatalf("expected order %v, got %v", wantIDs, gotIDs)
	}

	// the store flips its feed order between calls; results must not move
	for i := 0; i < 3; i++ {
		again, err := svc.SearchUsers(context.Background(), "u-owner", "t1", "user", domain.RoleOwner)
		if err != nil {
			t.Fatalf("repeat %d: %v", i, err)
		}
		if !reflect.DeepEqual(again, first) {
			t.Fatalf("repeat %d returned a different ordering: %+v", i, again)
		}
	}
}

func TestSearchTeamsRequiresMembershipRows(t *testing.T) {
	store := newMemStore()
	store.addUser("u1", "user1", true)
	store.addTeam("t1", "qa team", false)
	store.addTeam("t-hidden", "teamscope_global", true)
	store.addMembership("t-hidden", "u1", domain.RoleOwner)

	svc := newService(store)

	// t1 exists but has no memberships, so it cannot be found
	teams, err := svc.SearchTeams(context.Background(), "u1", "team")
	if err != nil {
		t.Fatalf("SearchTeams: %v", err)
	}
	if len(teams) != 0 {
		t.Fatalf("expected empty result before any membership exists, got %+v", teams)
	}

	store.addMembership("t1", "u1", domain.RoleViewer)

	teams, err = svc.SearchTeams(context.Background(), "u1", "team")
	if err != nil {
		t.Fatalf("SearchTeams: %v", err)
	}
	if len(teams) != 1 || teams[0].Name != "qa team" {
		t.Fatalf("expected [qa team], got %+v", teams)
	}
}

func TestSearchTeamsAnyRoleAndOrdering(t *testing.T) {
	store := newMemStore()
	store.addUser("u1", "user1", true)
	store.addTeam("t-b", "beta team", false)
	store.addTeam("t-a", "alpha team", false)
	store.addTeam("t-x", "unrelated", false)
	store.addMembership("t-b", "u1", domain.RoleViewer)
	store.addMembership("t-a", "u1", domain.RoleContributor)
	store.addMembership("t-x", "u1", domain.RoleOwner)

	svc := newService(store)
	first, err := svc.SearchTeams(context.Background(), "u1", "TEAM")
	if err != nil {
		t.Fatalf("SearchTeams: %v", err)
	}
	if len(first) != 2 || first[0].Name != "alpha team" || first[1].Name != "beta team" {
		t.Fatalf("unexpected results: %+v", first)
	}
	again, err := svc.SearchTeams(context.Background(), "u1", "TEAM")
	if err != nil {
		t.Fatalf("SearchTeams repeat: %v", err)
	}
	if !reflect.DeepEqual(again, first) {
		t.Fatalf("repeated call changed ordering: %+v", again)
	}
}
