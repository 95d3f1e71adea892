package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"log/slog"

	"github.com/google/uuid"

	"github.com/splax/teamscope/internal/domain"
	"github.com/splax/teamscope/internal/repository"
	"github.com/splax/teamscope/internal/service/access"
	"github.com/splax/teamscope/pkg/crypto"
)

const deliverTimeout = 10 * time.Second

// signatureHeader carries the hex HMAC-SHA256 of the delivered body.
const signatureHeader = "X-Teamscope-Signature"

var (
	errInvalidURL     = errors.New("webhook url must be http or https")
	errMissingSecret  = errors.New("webhook secret is required")
	errUnknownWebhook = errors.New("webhook not found")
)

// Service manages team webhooks and delivers signed membership events to
// them. It implements the team service's Broadcaster so registered hooks
// receive the same payloads as stream subscribers.
type Service struct {
	webhooks repository.WebhookRepository
	access   access.Service
	client   *http.Client
	key      string
	logger   *slog.Logger
}

// New constructs a Service. key encrypts stored signing secrets at rest.
func New(webhooks repository.WebhookRepository, accessSvc access.Service, key string, logger *slog.Logger) Service {
	return Service{
		webhooks: webhooks,
		access:   accessSvc,
		client:   &http.Client{Timeout: deliverTimeout},
		key:      key,
		logger:   logger,
	}
}

// Create registers a webhook on a team. Only owners may manage hooks.
func (s Service) Create(ctx context.Context, requesterID, teamID, rawURL, secret string) (*domain.Webhook, error) {
	if err := s.requireOwner(ctx, requesterID, teamID); err != nil {
		return nil, err
	}
	parsed, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		return nil, errInvalidURL
	}
	if strings.TrimSpace(secret) == "" {
		return nil, errMissingSecret
	}
	sealed, err := crypto.EncryptString(s.key, secret)
	if err != nil {
		return nil, err
	}
	hook := &domain.Webhook{
		ID:        uuid.NewString(),
		TeamID:    teamID,
		URL:       parsed.String(),
		Secret:    sealed,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.webhooks.CreateWebhook(ctx, hook); err != nil {
		return nil, err
	}
	s.logger.Info("webhook registered", "team_id", teamID, "webhook_id", hook.ID)
	return hook, nil
}

// List returns the team's webhooks with secrets stripped.
func (s Service) List(ctx context.Context, requesterID, teamID string) ([]domain.Webhook, error) {
	if err := s.requireOwner(ctx, requesterID, teamID); err != nil {
		return nil, err
	}
	hooks, err := s.webhooks.ListTeamWebhooks(ctx, teamID)
	if err != nil {
		return nil, err
	}
	for i := range hooks {
		hooks[i].Secret = nil
	}
	return hooks, nil
}

// Delete removes a webhook from a team.
func (s Service) Delete(ctx context.Context, requesterID, teamID, webhookID string) error {
	if err := s.requireOwner(ctx, requesterID, teamID); err != nil {
		return err
	}
	if err := s.webhooks.DeleteWebhook(ctx, teamID, webhookID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return errUnknownWebhook
		}
		return err
	}
	return nil
}

// Broadcast delivers a membership event payload to every hook on the team.
// Deliveries run in the background and failures are logged, not surfaced.
func (s Service) Broadcast(teamID string, payload []byte) {
	ctx, cancel := context.WithTimeout(context.Background(), deliverTimeout)
	defer cancel()
	hooks, err := s.webhooks.ListTeamWebhooks(ctx, teamID)
	if err != nil {
		s.logger.Error("webhook lookup failed", "team_id", teamID, "error", err)
		return
	}
	for _, hook := range hooks {
		go s.deliver(hook, payload)
	}
}

func (s Service) deliver(hook domain.Webhook, payload []byte) {
	secret, err := crypto.DecryptToString(s.key, hook.Secret)
	if err != nil {
		s.logger.Error("webhook secret unreadable", "webhook_id", hook.ID, "error", err)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), deliverTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, hook.URL, bytes.NewReader(payload))
	if err != nil {
		s.logger.Error("webhook request build failed", "webhook_id", hook.ID, "error", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(signatureHeader, Sign(payload, []byte(secret)))

	resp, err := s.client.Do(req)
	if err != nil {
		s.logger.Warn("webhook delivery failed", "webhook_id", hook.ID, "error", err)
		return
	}
	resp.Body.Close()
	if resp.StatusCode >= http.StatusBadRequest {
		s.logger.Warn("webhook delivery rejected", "webhook_id", hook.ID, "status", resp.StatusCode)
	}
}

// Sign computes the hex HMAC-SHA256 of payload with secret.
func Sign(payload, secret []byte) string {
	hasher := hmac.New(sha256.New, secret)
	hasher.Write(payload)
	return hex.EncodeToString(hasher.Sum(nil))
}

// VerifySignature reports whether provided matches the payload signature.
func VerifySignature(payload, secret []byte, provided string) bool {
	if provided == "" {
		return false
	}
	expected := Sign(payload, secret)
	return hmac.Equal([]byte(provided), []byte(expected))
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
