package auth

import (
	"context"
	"errors"
	"strings"
	"time"

	"log/slog"

	"github.com/google/uuid"

	"github.com/splax/teamscope/internal/domain"
	"github.com/splax/teamscope/internal/repository"
	"github.com/splax/teamscope/pkg/config"
	"github.com/splax/teamscope/pkg/crypto"
	jwtpkg "github.com/splax/teamscope/pkg/jwt"
)

// Service handles authentication workflows.
type Service struct {
	users  repository.UserRepository
	logger *slog.Logger
	cfg    config.Config
}

// New constructs a Service.
func New(users repository.UserRepository, logger *slog.Logger, cfg config.Config) Service {
	return Service{users: users, logger: logger, cfg: cfg}
}

var (
	errMissingCredentials = errors.New("username and password are required")
	errInvalidCredentials = errors.New("invalid credentials")

	// ErrAccountDisabled refuses logins for disabled accounts. This is a
	// session policy only: an already-issued identity of a disabled user
	// still resolves their own teams.
	ErrAccountDisabled = errors.New("account is disabled")
)

// TokenPair contains access and refresh tokens.
type TokenPair struct {
	AccessToken  string        `json:"access_token"`
	RefreshToken string        `json:"refresh_token"`
	ExpiresIn    time.Duration `json:"expires_in"`
}

// Signup registers a new user account, enabled by default.
func (s Service) Signup(ctx context.Context, username, email, password string) (*domain.User, TokenPair, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return nil, TokenPair{}, errMissingCredentials
	}
	hash, err := crypto.HashPassword(password)
	if err != nil {
		return nil, TokenPair{}, err
	}
	user := &domain.User{
		ID:           uuid.NewString(),
		Username:     username,
		Email:        strings.TrimSpace(email),
		PasswordHash: hash,
		Enabled:      true,
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.users.CreateUser(ctx, user); err != nil {
		return nil, TokenPair{}, err
	}
	tokens, err := s.issueTokens(user.ID)
	if err != nil {
		return nil, TokenPair{}, err
	}
	s.logger.Info("user registered", "user_id", user.ID)
	return user, tokens, nil
}

// Login authenticates a user by username and returns tokens.
func (s Service) Login(ctx context.Context, username, password string) (*domain.User, TokenPair, error) {
	user, err := s.users.GetUserByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, TokenPair{}, errInvalidCredentials
		}
		return nil, TokenPair{}, err
	}
	if err := crypto.ComparePassword(user.PasswordHash, password); err != nil {
		return nil, TokenPair{}, errInvalidCredentials
	}
	if !user.Enabled {
		return nil, TokenPair{}, ErrAccountDisabled
	}
	tokens, err := s.issueTokens(user.ID)
	if err != nil {
		return nil, TokenPair{}, err
	}
	s.logger.Info("user logged in", "user_id", user.ID)
	return user, tokens, nil
}

// Authorize validates a bearer token and returns the associated user. A
// disabled user still authorizes; the engine decides what they may see.
func (s Service) Authorize(ctx context.Context, token string) (*domain.User, error) {
	trimmed := strings.TrimSpace(token)
	if trimmed == "" {
		return nil, errors.New("token required")
	}
	claims, err := jwtpkg.Parse(trimmed, s.cfg.JWTSecret)
	if err != nil {
		return nil, err
	}
	user, err := s.users.GetUserByID(ctx, claims.UserID)
	if err != nil {
		return nil, err
	}
	return user, nil
}

// SetEnabled flips the enabled flag on the caller's own account.
func (s Service) SetEnabled(ctx context.Context, userID string, enabled bool) error {
	if err := s.users.SetUserEnabled(ctx, userID, enabled); err != nil {
		return err
	}
	s.logger.Info("user enabled flag changed", "user_id", userID, "enabled", enabled)
	return nil
}

func (s Service) issueTokens(userID string) (TokenPair, error) {
	access, err := jwtpkg.GenerateToken(userID, s.cfg.JWTSecret, s.cfg.AccessTokenTTL)
	if err != nil {
		return TokenPair{}, err
	}
	refresh, err := jwtpkg.GenerateToken(userID, s.cfg.JWTSecret, s.cfg.RefreshTokenTTL)
	if err != nil {
		return TokenPair{}, err
	}
	return TokenPair{AccessToken: access, RefreshToken: refresh, ExpiresIn: s.cfg.AccessTokenTTL}, nil
}
