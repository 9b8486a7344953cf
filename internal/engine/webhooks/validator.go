package webhooks

import (
	"fmt"
	"net/url"

	"coursehub/internal/platform/models"
)

// ValidationError is a configuration error in a management request.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s %s", e.Field, e.Message)
}

func invalid(field, message string) error {
	return &ValidationError{Field: field, Message: message}
}

func ValidateWebhook(w *models.Webhook) error {
	if w.OwnerID == "" {
		return invalid("owner_id", "is required")
	}
	if err := validateURL(w.URL); err != nil {
		return err
	}
	if err := validateEvents(w.Events); err != nil {
		return err
	}
	if !w.Status.Valid() {
		return invalid("status", "must be 'active', 'paused' or 'disabled'")
	}
	return validateRetryPolicy(w.RetryPolicy)
}

func validateURL(raw string) error {
	if raw == "" {
		return invalid("url", "is required")
	}

	u, err := url.Parse(raw)
	if err != nil {
		return invalid("url", "has an invalid format")
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return invalid("url", "must start with http:// or https://")
	}
	if u.Host == "" {
		return invalid("url", "must include a host")
	}
	return nil
}

func validateEvents(events []models.EventType) error {
	if len(events) == 0 {
		return invalid("events", "must contain at least one event type")
	}
	seen := make(map[models.EventType]bool, len(events))
	for _, e := range events {
		if !e.Subscribable() {
			return invalid("events", fmt.Sprintf("contains unknown event type %q", e))
		}
		if seen[e] {
			return invalid("events", fmt.Sprintf("contains %q more than once", e))
		}
		seen[e] = true
	}
	return nil
}

func validateRetryPolicy(p models.RetryPolicy) error {
	if p.MaxAttempts < 0 || p.MaxAttempts > models.MaxRetryAttempts {
		return invalid("retry_policy.max_attempts", fmt.Sprintf("must be between 0 and %d", models.MaxRetryAttempts))
	}
	if p.BaseDelaySeconds < 1 {
		return invalid("retry_policy.base_delay_seconds", "must be at least 1")
	}
	return nil
}
