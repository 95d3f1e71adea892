package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/splax/teamscope/internal/domain"
	"github.com/splax/teamscope/internal/repository"
)

// Repository implements persistence interfaces on PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// New constructs a Repository.
func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// ensure Repository satisfies interfaces.
var (
	_ repository.UserRepository       = (*Repository)(nil)
	_ repository.TeamRepository       = (*Repository)(nil)
	_ repository.MembershipRepository = (*Repository)(nil)
	_ repository.WebhookRepository    = (*Repository)(nil)
)

const uniqueViolation = "23505"

func mapWriteError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return repository.ErrConflict
	}
	return err
}

// CreateUser inserts a user.
func (r *Repository) CreateUser(ctx context.Context, user *domain.User) error {
	const query = `INSERT INTO users (id, username, email, password_hash, enabled, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`
	_, err := r.pool.Exec(ctx, query, user.ID, user.Username, user.Email, user.PasswordHash, user.Enabled, user.CreatedAt)
	return mapWriteError(err)
}

// GetUserByID retrieves a user by identifier.
func (r *Repository) GetUserByID(ctx context.Context, id string) (*domain.User, error) {
	const query = `SELECT id, username, email, password_hash, enabled, created_at FROM users WHERE id = $1`
	return r.scanUser(r.pool.QueryRow(ctx, query, id))
}

// GetUserByUsername retrieves a user by username.
func (r *Repository) GetUserByUsername(ctx context.Context, username string) (*domain.User, error) {
	const query = `SELECT id, username, email, password_hash, enabled, created_at FROM users WHERE username = $1`
	return r.scanUser(r.pool.QueryRow(ctx, query, username))
}

func (r *Repository) scanUser(row pgx.Row) (*domain.User, error) {
	var u domain.User
	if err := row.Scan(&u.ID, &u.Username, &u.Email, &u.PasswordHash, &u.Enabled, &u.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return &u, nil
}

// SetUserEnabled flips the enabled flag on an account.
func (r *Repository) SetUserEnabled(ctx context.Context, id string, enabled bool) error {
	const query = `UPDATE users SET enabled = $2 WHERE id = $1`
	tag, err := r.pool.Exec(ctx, query, id, enabled)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// SearchEnabledUsers returns enabled users matching the query as a
// case-insensitive substring of the username.
func (r *Repository) SearchEnabledUsers(ctx context.Context, query string) ([]domain.User, error) {
	const stmt = `SELECT id, username, email, password_hash, enabled, created_at
		FROM users
		WHERE enabled AND username ILIKE '%' || $1 || '%'`
	rows, err := r.pool.Query(ctx, stmt, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.User, 0)
	for rows.Next() {
		var u domain.User
		if err := rows.Scan(&u.ID, &u.Username, &u.Email, &u.PasswordHash, &u.Enabled, &u.CreatedAt); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// CreateTeam creates a team record.
func (r *Repository) CreateTeam(ctx context.Context, team *domain.Team) error {
	const query = `INSERT INTO teams (id, name, description, hidden, created_at)
		VALUES ($1, $2, $3, $4, $5)`
	_, err := r.pool.Exec(ctx, query, team.ID, team.Name, team.Description, team.Hidden, team.CreatedAt)
	return mapWriteError(err)
}

// GetTeamByID returns a team by identifier.
func (r *Repository) GetTeamByID(ctx context.Context, teamID string) (*domain.Team, error) {
	const query = `SELECT id, name, description, hidden, created_at FROM teams WHERE id = $1`
	return r.scanTeam(r.pool.QueryRow(ctx, query, teamID))
}

// GetGlobalTeam returns the hidden sentinel team.
func (r *Repository) GetGlobalTeam(ctx context.Context) (*domain.Team, error) {
	const query = `SELECT id, name, description, hidden, created_at FROM teams WHERE hidden LIMIT 1`
	return r.scanTeam(r.pool.QueryRow(ctx, query))
}

func (r *Repository) scanTeam(row pgx.Row) (*domain.Team, error) {
	var team domain.Team
	if err := row.Scan(&team.ID, &team.Name, &team.Description, &team.Hidden, &team.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return &team, nil
}

// ListTeamsByUser returns teams the user belongs to. Only teams with an
// actual membership row for the user appear.
func (r *Repository) ListTeamsByUser(ctx context.Context, userID string) ([]domain.Team, error) {
	const query = `SELECT t.id, t.name, t.description, t.hidden, t.created_at
		FROM teams t
		INNER JOIN memberships m ON m.team_id = t.id
		WHERE m.user_id = $1`
	rows, err := r.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	teams := make([]domain.Team, 0)
	for rows.Next() {
		var team domain.Team
		if err := rows.Scan(&team.ID, &team.Name, &team.Description, &team.Hidden, &team.CreatedAt); err != nil {
			return nil, err
		}
		teams = append(teams, team)
	}
	return teams, rows.Err()
}

// CreateMembership inserts a membership row. Duplicate (team, user) pairs
// surface as ErrConflict.
func (r *Repository) CreateMembership(ctx context.Context, membership *domain.Membership) error {
	const query = `INSERT INTO memberships (team_id, user_id, role, created_at)
		VALUES ($1, $2, $3, $4)`
	_, err := r.pool.Exec(ctx, query, membership.TeamID, membership.UserID, membership.Role.String(), membership.CreatedAt)
	return mapWriteError(err)
}

// GetMembership fetches a single membership row.
func (r *Repository) GetMembership(ctx context.Context, teamID, userID string) (*domain.Membership, error) {
	const query = `SELECT team_id, user_id, role, created_at FROM memberships WHERE team_id = $1 AND user_id = $2`
	row := r.pool.QueryRow(ctx, query, teamID, userID)
	var m domain.Membership
	var role string
	if err := row.Scan(&m.TeamID, &m.UserID, &role, &m.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	parsed, err := domain.ParseRole(role)
	if err != nil {
		return nil, err
	}
	m.Role = parsed
	return &m, nil
}

// UpdateMembershipRole changes the role on an existing membership.
func (r *Repository) UpdateMembershipRole(ctx context.Context, teamID, userID string, role domain.Role) error {
	const query = `UPDATE memberships SET role = $3 WHERE team_id = $1 AND user_id = $2`
	tag, err := r.pool.Exec(ctx, query, teamID, userID, role.String())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// DeleteMembership removes a membership row.
func (r *Repository) DeleteMembership(ctx context.Context, teamID, userID string) error {
	const query = `DELETE FROM memberships WHERE team_id = $1 AND user_id = $2`
	tag, err := r.pool.Exec(ctx, query, teamID, userID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// ListTeamMembers returns all membership rows of a team joined with their
// users, disabled users included; filtering is the caller's concern.
func (r *Repository) ListTeamMembers(ctx context.Context, teamID string) ([]domain.Member, error) {
	const query = `SELECT m.team_id, m.user_id, m.role, m.created_at, u.username, u.enabled
		FROM memberships m
		INNER JOIN users u ON u.id = m.user_id
		WHERE m.team_id = $1`
	rows, err := r.pool.Query(ctx, query, teamID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	members := make([]domain.Member, 0)
	for rows.Next() {
		var member domain.Member
		var role string
		if err := rows.Scan(&member.TeamID, &member.UserID, &role, &member.CreatedAt, &member.Username, &member.Enabled); err != nil {
			return nil, err
		}
		parsed, err := domain.ParseRole(role)
		if err != nil {
			return nil, err
		}
		member.Role = parsed
		members = append(members, member)
	}
	return members, rows.Err()
}

// CreateWebhook registers a webhook for a team.
func (r *Repository) CreateWebhook(ctx context.Context, webhook *domain.Webhook) error {
	const query = `INSERT INTO webhooks (id, team_id, url, secret, created_at)
		VALUES ($1, $2, $3, $4, $5)`
	_, err := r.pool.Exec(ctx, query, webhook.ID, webhook.TeamID, webhook.URL, webhook.Secret, webhook.CreatedAt)
	return mapWriteError(err)
}

// ListTeamWebhooks returns all webhooks registered on a team.
func (r *Repository) ListTeamWebhooks(ctx context.Context, teamID string) ([]domain.Webhook, error) {
	const query = `SELECT id, team_id, url, secret, created_at FROM webhooks WHERE team_id = $1`
	rows, err := r.pool.Query(ctx, query, teamID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	webhooks := make([]domain.Webhook, 0)
	for rows.Next() {
		var hook domain.Webhook
		if err := rows.Scan(&hook.ID, &hook.TeamID, &hook.URL, &hook.Secret, &hook.CreatedAt); err != nil {
			return nil, err
		}
		webhooks = append(webhooks, hook)
	}
	return webhooks, rows.Err()
}

// DeleteWebhook removes a webhook from a team.
func (r *Repository) DeleteWebhook(ctx context.Context, teamID, webhookID string) error {
	const query = `DELETE FROM webhooks WHERE team_id = $1 AND id = $2`
	tag, err := r.pool.Exec(ctx, query, teamID, webhookID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// CountTeamOwners counts owner memberships on a team.
func (r *Repository) CountTeamOwners(ctx context.Context, teamID string) (int, error) {
	const query = `SELECT COUNT(1) FROM memberships WHERE team_id = $1 AND role = 'owner'`
	row := r.pool.QueryRow(ctx, query, teamID)
	var count int
	if err := row.Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}
