package webhooks

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"coursehub/internal/platform/audit"
	"coursehub/internal/platform/models"
	"coursehub/internal/platform/repositories"

	"github.com/rs/zerolog/log"
)

var (
	ErrNotFound  = repositories.ErrNotFound
	ErrForbidden = repositories.ErrForbidden
)

const secretBytes = 32

// Repository is the persistence the management surface needs.
type Repository interface {
	Create(webhook *models.Webhook) error
	GetOwned(id, ownerID string) (*models.Webhook, error)
	ListByOwner(ownerID string) ([]*models.Webhook, error)
	Update(webhook *models.Webhook) error
	Delete(id, ownerID string) error
}

type CreateRequest struct {
	URL         string              `json:"url"`
	Events      []models.EventType  `json:"events"`
	RetryPolicy *models.RetryPolicy `json:"retry_policy,omitempty"`
}

type RetryPolicyUpdate struct {
	Enabled          *bool `json:"enabled,omitempty"`
	MaxAttempts      *int  `json:"max_attempts,omitempty"`
	BaseDelaySeconds *int  `json:"base_delay_seconds,omitempty"`
}

// UpdateRequest is a partial update; nil fields are left unchanged.
type UpdateRequest struct {
	URL         *string               `json:"url,omitempty"`
	Events      []models.EventType    `json:"events,omitempty"`
	Status      *models.WebhookStatus `json:"status,omitempty"`
	RetryPolicy *RetryPolicyUpdate    `json:"retry_policy,omitempty"`
}

type Service struct {
	repo         Repository
	dispatcher   *Dispatcher
	audit        *audit.Logger
	defaultRetry models.RetryPolicy
}

func NewService(repo Repository, dispatcher *Dispatcher, auditor *audit.Logger, defaultRetry models.RetryPolicy) *Service {
	return &Service{
		repo:         repo,
		dispatcher:   dispatcher,
		audit:        auditor,
		defaultRetry: defaultRetry,
	}
}

// Create registers a webhook for owner. The returned value is the only one
// that ever exposes the generated signing secret.
func (s *Service) Create(ctx context.Context, owner string, req CreateRequest) (*models.CreatedWebhook, error) {
	secret, err := generateSecret()
	if err != nil {
		return nil, err
	}

	webhook := &models.Webhook{
		OwnerID:     owner,
		URL:         req.URL,
		Secret:      secret,
		Events:      req.Events,
		Status:      models.StatusActive,
		RetryPolicy: s.defaultRetry,
	}
	if req.RetryPolicy != nil {
		webhook.RetryPolicy = *req.RetryPolicy
	}

	if err := ValidateWebhook(webhook); err != nil {
		return nil, err
	}
	if err := s.repo.Create(webhook); err != nil {
		return nil, fmt.Errorf("failed to create webhook: %w", err)
	}

	log.Info().Str("webhook_id", webhook.ID).Str("owner_id", owner).Msg("webhook created")
	s.audit.Log(ctx, owner, audit.ActionWebhookCreated, "webhook", webhook.ID, map[string]interface{}{
		"url":    webhook.URL,
		"events": webhook.Events,
	})

	return models.NewCreatedWebhook(webhook), nil
}

func (s *Service) Get(ctx context.Context, id, owner string) (*models.Webhook, error) {
	return s.repo.GetOwned(id, owner)
}

func (s *Service) List(ctx context.Context, owner string) ([]*models.Webhook, error) {
	return s.repo.ListByOwner(owner)
}

func (s *Service) Update(ctx context.Context, id, owner string, req UpdateRequest) (*models.Webhook, error) {
	webhook, err := s.repo.GetOwned(id, owner)
	if err != nil {
		return nil, err
	}

	changed := []string{}
	if req.URL != nil {
		webhook.URL = *req.URL
		changed = append(changed, "url")
	}
	if req.Events != nil {
		webhook.Events = req.Events
		changed = append(changed, "events")
	}
	if req.Status != nil {
		webhook.Status = *req.Status
		changed = append(changed, "status")
	}
	if p := req.RetryPolicy; p != nil {
		if p.Enabled != nil {
			webhook.RetryPolicy.Enabled = *p.Enabled
		}
		if p.MaxAttempts != nil {
			webhook.RetryPolicy.MaxAttempts = *p.MaxAttempts
		}
		if p.BaseDelaySeconds != nil {
			webhook.RetryPolicy.BaseDelaySeconds = *p.BaseDelaySeconds
		}
		changed = append(changed, "retry_policy")
	}

	if err := ValidateWebhook(webhook); err != nil {
		return nil, err
	}
	if err := s.repo.Update(webhook); err != nil {
		return nil, err
	}

	s.audit.Log(ctx, owner, audit.ActionWebhookUpdated, "webhook", id, map[string]interface{}{
		"changed": changed,
	})
	return webhook, nil
}

// Delete removes the webhook. Chains already running for it stop before
// their next retry.
func (s *Service) Delete(ctx context.Context, id, owner string) error {
	webhook, err := s.repo.GetOwned(id, owner)
	if err != nil {
		return err
	}
	if err := s.repo.Delete(id, owner); err != nil {
		return err
	}

	log.Info().Str("webhook_id", id).Str("owner_id", owner).Msg("webhook deleted")
	s.audit.Log(ctx, owner, audit.ActionWebhookDeleted, "webhook", id, map[string]interface{}{
		"url": webhook.URL,
	})
	return nil
}

// Trigger raises a domain event. An empty ownerScope delivers to every owner.
func (s *Service) Trigger(eventType models.EventType, data interface{}, ownerScope string) *Fanout {
	return s.dispatcher.Trigger(eventType, data, ownerScope)
}

// SendTest delivers a single webhook.ping to the webhook, whatever its
// status, and reports the outcome.
func (s *Service) SendTest(ctx context.Context, id, owner string) (Outcome, error) {
	webhook, err := s.repo.GetOwned(id, owner)
	if err != nil {
		return Outcome{}, err
	}

	outcome, err := s.dispatcher.DeliverSync(ctx, webhook, models.EventPing, map[string]interface{}{
		"webhook_id": webhook.ID,
		"message":    "This is a test delivery.",
	})
	if err != nil {
		return Outcome{}, err
	}

	s.audit.Log(ctx, owner, audit.ActionWebhookTested, "webhook", id, map[string]interface{}{
		"success": outcome.Success,
		"reason":  outcome.Reason,
	})
	return outcome, nil
}

func generateSecret() (string, error) {
	b := make([]byte, secretBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate secret: %w", err)
	}
	return "whsec_" + hex.EncodeToString(b), nil
}
