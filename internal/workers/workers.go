// Package workers holds periodic jobs that run outside the request path.
package workers

import (
	"fmt"
	"time"

	"coursehub/internal/platform/config"
	"coursehub/internal/platform/metrics"
	"coursehub/internal/platform/models"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
)

// failingWindow is how far back ReportFailingWebhooks looks.
const failingWindow = time.Hour

type WebhookStore interface {
	CountByStatus() (map[models.WebhookStatus]int, error)
	ListFailing(since int64) ([]*models.Webhook, error)
}

// RefreshWebhookGauges publishes the number of webhooks in each status.
func RefreshWebhookGauges(store WebhookStore, m *metrics.Metrics) error {
	counts, err := store.CountByStatus()
	if err != nil {
		return fmt.Errorf("failed to count webhooks: %w", err)
	}
	m.SetWebhookCounts(counts)
	return nil
}

// ReportFailingWebhooks logs every active webhook whose latest delivery failed
// within the window ending at now, and returns how many there were.
func ReportFailingWebhooks(store WebhookStore, window time.Duration, now time.Time) (int, error) {
	failing, err := store.ListFailing(now.Add(-window).Unix())
	if err != nil {
		return 0, fmt.Errorf("failed to list failing webhooks: %w", err)
	}

	for _, w := range failing {
		log.Warn().
			Str("webhook_id", w.ID).
			Str("owner_id", w.OwnerID).
			Str("url", w.URL).
			Int64("failed_deliveries", w.Stats.FailedDeliveries).
			Str("reason", w.Stats.LastFailureReason).
			Msg("webhook is failing")
	}
	return len(failing), nil
}

// Schedule registers the jobs on c. The caller starts and stops c.
func Schedule(c *cron.Cron, cfg config.WorkersConfig, store WebhookStore, m *metrics.Metrics) error {
	if _, err := c.AddFunc(cfg.StatsSchedule, func() {
		if err := RefreshWebhookGauges(store, m); err != nil {
			log.Error().Err(err).Msg("webhook gauge refresh failed")
		}
	}); err != nil {
		return fmt.Errorf("invalid stats schedule %q: %w", cfg.StatsSchedule, err)
	}

	if _, err := c.AddFunc(cfg.FailingSchedule, func() {
		n, err := ReportFailingWebhooks(store, failingWindow, time.Now())
		if err != nil {
			log.Error().Err(err).Msg("failing webhook report failed")
			return
		}
		log.Info().Int("failing", n).Msg("failing webhook report complete")
	}); err != nil {
		return fmt.Errorf("invalid failing schedule %q: %w", cfg.FailingSchedule, err)
	}

	return nil
}
