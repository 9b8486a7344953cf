package webhooks

import (
	"context"
	"errors"
	"time"

	"coursehub/internal/platform/models"
	"coursehub/internal/platform/repositories"

	"github.com/rs/zerolog/log"
)

// Chain results.
const (
	ResultDelivered = "delivered"
	ResultExhausted = "exhausted"
	ResultCancelled = "cancelled"
	ResultPanicked  = "panicked"
)

type Attempter interface {
	Attempt(ctx context.Context, webhook *models.Webhook, d *Delivery) Outcome
}

type WebhookGetter interface {
	GetByID(id string) (*models.Webhook, error)
}

// ChainResult is the terminal state of one subscription's delivery chain.
type ChainResult struct {
	WebhookID  string  `json:"webhook_id"`
	DeliveryID string  `json:"delivery_id"`
	Delivered  bool    `json:"delivered"`
	Attempts   int     `json:"attempts"`
	Result     string  `json:"result"`
	Last       Outcome `json:"last"`
}

// Scheduler runs a delivery chain: the first attempt plus retries allowed by
// the webhook's retry policy. The delay between attempts is the constant
// base_delay_seconds, not exponential.
type Scheduler struct {
	executor Attempter
	store    WebhookGetter
	sleep    func(ctx context.Context, d time.Duration) error
}

func NewScheduler(executor Attempter, store WebhookGetter) *Scheduler {
	return &Scheduler{
		executor: executor,
		store:    store,
		sleep:    sleepContext,
	}
}

// DeliverWithRetry reports whether any attempt in the chain succeeded.
func (s *Scheduler) DeliverWithRetry(ctx context.Context, webhook *models.Webhook, d *Delivery) bool {
	return s.Run(ctx, webhook, d).Delivered
}

// Run executes the chain. Attempts are strictly sequential. Before each retry
// the webhook is re-read: a deleted or no longer active webhook stops the
// chain, but an attempt already in flight always completes.
func (s *Scheduler) Run(ctx context.Context, webhook *models.Webhook, d *Delivery) ChainResult {
	result := ChainResult{WebhookID: webhook.ID, DeliveryID: d.ID}

	for attempt := 1; ; attempt++ {
		d.Attempt = attempt
		outcome := s.executor.Attempt(ctx, webhook, d)
		result.Attempts = attempt
		result.Last = outcome

		if outcome.Success {
			result.Delivered = true
			result.Result = ResultDelivered
			return result
		}

		if attempt >= allowedAttempts(webhook.RetryPolicy) {
			result.Result = ResultExhausted
			log.Warn().
				Str("webhook_id", webhook.ID).
				Str("delivery_id", d.ID).
				Str("event", string(d.Event.Type)).
				Int("attempts", attempt).
				Str("reason", outcome.Reason).
				Msg("webhook delivery failed; no attempts left")
			return result
		}

		if err := s.sleep(ctx, retryDelay(webhook.RetryPolicy)); err != nil {
			result.Result = ResultCancelled
			return result
		}

		current, err := s.store.GetByID(webhook.ID)
		switch {
		case errors.Is(err, repositories.ErrNotFound):
			log.Debug().Str("webhook_id", webhook.ID).Msg("webhook deleted; stopping retries")
			result.Result = ResultCancelled
			return result
		case err != nil:
			// keep going with what we already have
			log.Error().Err(err).Str("webhook_id", webhook.ID).Msg("failed to reload webhook before retry")
		case current.Status != models.StatusActive:
			log.Info().Str("webhook_id", webhook.ID).Str("status", string(current.Status)).
				Msg("webhook no longer active; stopping retries")
			result.Result = ResultCancelled
			return result
		default:
			webhook = current
		}
	}
}

// allowedAttempts is the total number of attempts a chain may make.
func allowedAttempts(p models.RetryPolicy) int {
	if !p.Enabled || p.MaxAttempts < 1 {
		return 1
	}
	if p.MaxAttempts > models.MaxRetryAttempts {
		return models.MaxRetryAttempts
	}
	return p.MaxAttempts
}

func retryDelay(p models.RetryPolicy) time.Duration {
	if p.BaseDelaySeconds < 1 {
		return time.Second
	}
	return time.Duration(p.BaseDelaySeconds) * time.Second
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
