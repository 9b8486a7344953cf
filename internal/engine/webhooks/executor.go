package webhooks

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"syscall"
	"time"

	"coursehub/internal/platform/metrics"
	"coursehub/internal/platform/models"
	"coursehub/internal/platform/repositories"

	"github.com/rs/zerolog/log"
)

const (
	HeaderSignature = "X-Coursehub-Signature"
	HeaderEvent     = "X-Coursehub-Event"
	HeaderDelivery  = "X-Coursehub-Delivery"
	HeaderWebhook   = "X-Coursehub-Webhook"
	HeaderAttempt   = "X-Coursehub-Attempt"

	DefaultTimeout = 10 * time.Second

	// responses are drained so connections can be reused, but never read past this
	maxDrainBytes = 64 << 10
)

type StatsRecorder interface {
	RecordAttempt(id string, success bool, reason string, at time.Time) error
}

type Outcome struct {
	Success    bool          `json:"success"`
	StatusCode int           `json:"status_code,omitempty"`
	Reason     string        `json:"reason,omitempty"`
	Attempt    int           `json:"attempt"`
	Timestamp  time.Time     `json:"timestamp"`
	Duration   time.Duration `json:"duration"`
}

type ExecutorConfig struct {
	Timeout   time.Duration
	UserAgent string
}

// Executor performs single delivery attempts.
type Executor struct {
	client    *http.Client
	stats     StatsRecorder
	metrics   *metrics.Metrics
	userAgent string
	now       func() time.Time
}

func NewExecutor(stats StatsRecorder, m *metrics.Metrics, cfg ExecutorConfig) *Executor {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	return &Executor{
		client: &http.Client{
			Timeout: timeout,
			// a redirect turns POST into GET; report it instead of following it
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		stats:     stats,
		metrics:   m,
		userAgent: cfg.UserAgent,
		now:       time.Now,
	}
}

// Attempt sends d to webhook once and records the outcome in the webhook's
// statistics. It never returns an error: every failure is classified into
// the outcome.
func (e *Executor) Attempt(ctx context.Context, webhook *models.Webhook, d *Delivery) Outcome {
	start := e.now()
	outcome := e.send(ctx, webhook, d)
	outcome.Attempt = d.Attempt
	outcome.Timestamp = e.now()
	outcome.Duration = outcome.Timestamp.Sub(start)

	e.metrics.ObserveAttempt(d.Event.Type, outcome.Success, outcome.Duration)

	logEvent := log.Debug()
	if !outcome.Success {
		logEvent = log.Warn()
	}
	logEvent.
		Str("webhook_id", webhook.ID).
		Str("delivery_id", d.ID).
		Str("event", string(d.Event.Type)).
		Int("attempt", d.Attempt).
		Int("status_code", outcome.StatusCode).
		Str("reason", outcome.Reason).
		Dur("duration", outcome.Duration).
		Msg("webhook delivery attempt")

	if err := e.stats.RecordAttempt(webhook.ID, outcome.Success, outcome.Reason, outcome.Timestamp); err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			log.Debug().Str("webhook_id", webhook.ID).Str("delivery_id", d.ID).
				Msg("webhook deleted during delivery; outcome discarded")
		} else {
			e.metrics.StatsUpdateFailed()
			log.Error().Err(err).Str("webhook_id", webhook.ID).Str("delivery_id", d.ID).
				Msg("failed to record delivery attempt")
		}
	}

	return outcome
}

func (e *Executor) send(ctx context.Context, webhook *models.Webhook, d *Delivery) Outcome {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, webhook.URL, bytes.NewReader(d.Event.Body))
	if err != nil {
		return Outcome{Reason: "invalid request: " + err.Error()}
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderSignature, Sign(webhook.Secret, d.Event.Body))
	req.Header.Set(HeaderEvent, string(d.Event.Type))
	req.Header.Set(HeaderDelivery, d.ID)
	req.Header.Set(HeaderWebhook, webhook.ID)
	req.Header.Set(HeaderAttempt, strconv.Itoa(d.Attempt))
	if e.userAgent != "" {
		req.Header.Set("User-Agent", e.userAgent)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return Outcome{Reason: classifyError(err)}
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, maxDrainBytes))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Outcome{StatusCode: resp.StatusCode, Reason: fmt.Sprintf("HTTP %d", resp.StatusCode)}
	}
	return Outcome{Success: true, StatusCode: resp.StatusCode}
}

// classifyError turns a transport error into a short reason for webhook stats.
func classifyError(err error) string {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return "timeout"
	}
	if errors.Is(err, context.Canceled) {
		return "canceled"
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return "dns lookup failed: " + dnsErr.Name
	}
	if errors.Is(err, syscall.ECONNREFUSED) {
		return "connection refused"
	}
	if errors.Is(err, syscall.ECONNRESET) {
		return "connection reset"
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		err = urlErr.Err
	}
	return "connection failed: " + err.Error()
}
