package models

type EventType string

const (
	EventCourseCompleted     EventType = "course.completed"
	EventCourseEnrolled      EventType = "course.enrolled"
	EventCourseStarted       EventType = "course.started"
	EventAssignmentSubmitted EventType = "assignment.submitted"
	EventAssignmentGraded    EventType = "assignment.graded"

	// EventPing is only sent by test deliveries; it cannot be subscribed to.
	EventPing EventType = "webhook.ping"
)

var SubscribableEvents = []EventType{
	EventCourseCompleted,
	EventCourseEnrolled,
	EventCourseStarted,
	EventAssignmentSubmitted,
	EventAssignmentGraded,
}

func (e EventType) Subscribable() bool {
	for _, known := range SubscribableEvents {
		if e == known {
			return true
		}
	}
	return false
}

type WebhookStatus string

const (
	StatusActive   WebhookStatus = "active"
	StatusPaused   WebhookStatus = "paused"
	StatusDisabled WebhookStatus = "disabled"
)

func (s WebhookStatus) Valid() bool {
	switch s {
	case StatusActive, StatusPaused, StatusDisabled:
		return true
	}
	return false
}

const (
	DeliverySuccess = "success"
	DeliveryFailed  = "failed"
)

const MaxRetryAttempts = 10

type RetryPolicy struct {
	Enabled          bool `json:"enabled"`
	MaxAttempts      int  `json:"max_attempts"`
	BaseDelaySeconds int  `json:"base_delay_seconds"`
}

// WebhookStats are only ever changed by atomic increments in the store.
type WebhookStats struct {
	TotalDeliveries      int64  `json:"total_deliveries"`
	SuccessfulDeliveries int64  `json:"successful_deliveries"`
	FailedDeliveries     int64  `json:"failed_deliveries"`
	LastDeliveryAt       int64  `json:"last_delivery_at,omitempty"`
	LastDeliveryStatus   string `json:"last_delivery_status,omitempty"`
	LastFailureReason    string `json:"last_failure_reason,omitempty"`
}

type Webhook struct {
	ID          string        `json:"id"`
	OwnerID     string        `json:"owner_id"`
	URL         string        `json:"url"`
	Secret      string        `json:"-"`
	Events      []EventType   `json:"events"` // JSON array in DB
	Status      WebhookStatus `json:"status"`
	RetryPolicy RetryPolicy   `json:"retry_policy"`
	Stats       WebhookStats  `json:"stats"`
	CreatedAt   int64         `json:"created_at"`
	UpdatedAt   int64         `json:"updated_at"`
}

func (w *Webhook) Subscribes(event EventType) bool {
	for _, e := range w.Events {
		if e == event {
			return true
		}
	}
	return false
}

// CreatedWebhook is the only representation that carries the signing secret.
// It is returned once, from the create call.
type CreatedWebhook struct {
	*Webhook
	Secret string `json:"secret"`
}

func NewCreatedWebhook(w *Webhook) *CreatedWebhook {
	return &CreatedWebhook{Webhook: w, Secret: w.Secret}
}
