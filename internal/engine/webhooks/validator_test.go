package webhooks

import (
	"errors"
	"testing"

	"coursehub/internal/platform/models"
)

func validWebhook() *models.Webhook {
	return &models.Webhook{
		OwnerID: "user_1",
		URL:     "https://example.com/hook",
		Events:  []models.EventType{models.EventCourseCompleted},
		Status:  models.StatusActive,
		RetryPolicy: models.RetryPolicy{
			Enabled:          true,
			MaxAttempts:      3,
			BaseDelaySeconds: 60,
		},
	}
}

func TestValidateWebhook(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(w *models.Webhook)
		field  string
	}{
		{"valid", func(w *models.Webhook) {}, ""},
		{"missing url", func(w *models.Webhook) { w.URL = "" }, "url"},
		{"ftp url", func(w *models.Webhook) { w.URL = "ftp://example.com" }, "url"},
		{"no host", func(w *models.Webhook) { w.URL = "https://" }, "url"},
		{"no events", func(w *models.Webhook) { w.Events = nil }, "events"},
		{"unknown event", func(w *models.Webhook) { w.Events = []models.EventType{"course.deleted"} }, "events"},
		{"ping not subscribable", func(w *models.Webhook) { w.Events = []models.EventType{models.EventPing} }, "events"},
		{"duplicate event", func(w *models.Webhook) {
			w.Events = []models.EventType{models.EventCourseCompleted, models.EventCourseCompleted}
		}, "events"},
		{"bad status", func(w *models.Webhook) { w.Status = "failed" }, "status"},
		{"too many attempts", func(w *models.Webhook) { w.RetryPolicy.MaxAttempts = 11 }, "retry_policy.max_attempts"},
		{"negative attempts", func(w *models.Webhook) { w.RetryPolicy.MaxAttempts = -1 }, "retry_policy.max_attempts"},
		{"zero attempts allowed", func(w *models.Webhook) { w.RetryPolicy.MaxAttempts = 0 }, ""},
		{"zero delay", func(w *models.Webhook) { w.RetryPolicy.BaseDelaySeconds = 0 }, "retry_policy.base_delay_seconds"},
		{"missing owner", func(w *models.Webhook) { w.OwnerID = "" }, "owner_id"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := validWebhook()
			tt.mutate(w)
			err := ValidateWebhook(w)

			if tt.field == "" {
				if err != nil {
					t.Errorf("ValidateWebhook() unexpected error = %v", err)
				}
				return
			}

			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("ValidateWebhook() error = %v, want *ValidationError", err)
			}
			if verr.Field != tt.field {
				t.Errorf("field = %q, want %q", verr.Field, tt.field)
			}
		})
	}
}
