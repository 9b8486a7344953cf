package repositories

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"coursehub/internal/platform/models"
	"coursehub/internal/platform/secrets"
	"github.com/google/uuid"
)

var (
	ErrNotFound  = errors.New("webhook not found")
	ErrForbidden = errors.New("webhook belongs to another owner")
)

// maxReasonLength bounds last_failure_reason so a chatty endpoint cannot bloat rows.
const maxReasonLength = 255

const webhookColumns = `id, owner_id, url, secret, events, status,
	retry_enabled, max_attempts, base_delay_seconds,
	total_deliveries, successful_deliveries, failed_deliveries,
	last_delivery_at, last_delivery_status, last_failure_reason,
	created_at, updated_at`

type WebhookRepository struct {
	db  *sql.DB
	box *secrets.Box
}

func NewWebhookRepository(db *sql.DB, box *secrets.Box) *WebhookRepository {
	return &WebhookRepository{db: db, box: box}
}

func (r *WebhookRepository) Create(webhook *models.Webhook) error {
	now := time.Now().Unix()
	webhook.ID = "wh_" + uuid.New().String()
	webhook.CreatedAt = now
	webhook.UpdatedAt = now
	if webhook.Status == "" {
		webhook.Status = models.StatusActive
	}
	webhook.Stats = models.WebhookStats{}

	eventsJSON, err := json.Marshal(webhook.Events)
	if err != nil {
		return err
	}

	sealed, err := r.box.Seal(webhook.Secret)
	if err != nil {
		return fmt.Errorf("failed to seal secret: %w", err)
	}

	query := `
		INSERT INTO webhooks (id, owner_id, url, secret, events, status, retry_enabled, max_attempts, base_delay_seconds, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = r.db.Exec(query,
		webhook.ID,
		webhook.OwnerID,
		webhook.URL,
		sealed,
		string(eventsJSON),
		string(webhook.Status),
		webhook.RetryPolicy.Enabled,
		webhook.RetryPolicy.MaxAttempts,
		webhook.RetryPolicy.BaseDelaySeconds,
		webhook.CreatedAt,
		webhook.UpdatedAt,
	)
	return err
}

func (r *WebhookRepository) GetByID(id string) (*models.Webhook, error) {
	row := r.db.QueryRow(`SELECT `+webhookColumns+` FROM webhooks WHERE id = ?`, id)
	w, err := r.scanWebhook(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return w, err
}

// GetOwned returns the webhook only if owner registered it.
func (r *WebhookRepository) GetOwned(id, ownerID string) (*models.Webhook, error) {
	w, err := r.GetByID(id)
	if err != nil {
		return nil, err
	}
	if w.OwnerID != ownerID {
		return nil, ErrForbidden
	}
	return w, nil
}

func (r *WebhookRepository) ListByOwner(ownerID string) ([]*models.Webhook, error) {
	rows, err := r.db.Query(`SELECT `+webhookColumns+` FROM webhooks WHERE owner_id = ? ORDER BY created_at DESC, id`, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	webhooks := []*models.Webhook{}
	for rows.Next() {
		w, err := r.scanWebhook(rows)
		if err != nil {
			return nil, err
		}
		webhooks = append(webhooks, w)
	}
	return webhooks, rows.Err()
}

// Update writes the owner-mutable fields. Secret and stats are never touched
// here, so a concurrent delivery increment cannot be overwritten.
func (r *WebhookRepository) Update(webhook *models.Webhook) error {
	eventsJSON, err := json.Marshal(webhook.Events)
	if err != nil {
		return err
	}
	webhook.UpdatedAt = time.Now().Unix()

	query := `
		UPDATE webhooks
		SET url = ?, events = ?, status = ?, retry_enabled = ?, max_attempts = ?, base_delay_seconds = ?, updated_at = ?
		WHERE id = ? AND owner_id = ?
	`
	res, err := r.db.Exec(query,
		webhook.URL,
		string(eventsJSON),
		string(webhook.Status),
		webhook.RetryPolicy.Enabled,
		webhook.RetryPolicy.MaxAttempts,
		webhook.RetryPolicy.BaseDelaySeconds,
		webhook.UpdatedAt,
		webhook.ID,
		webhook.OwnerID,
	)
	if err != nil {
		return err
	}
	return expectOneRow(res)
}

func (r *WebhookRepository) Delete(id, ownerID string) error {
	res, err := r.db.Exec(`DELETE FROM webhooks WHERE id = ? AND owner_id = ?`, id, ownerID)
	if err != nil {
		return err
	}
	return expectOneRow(res)
}

// GetByEvent returns active webhooks subscribed to eventType. An empty ownerID
// matches every owner.
func (r *WebhookRepository) GetByEvent(eventType models.EventType, ownerID string) ([]*models.Webhook, error) {
	// events is a JSON array; filter with json_each so a prefix like
	// "course.complete" never matches "course.completed"
	query := `SELECT ` + webhookColumns + ` FROM webhooks
		WHERE status = 'active'
		AND (? = '' OR owner_id = ?)
		AND EXISTS (SELECT 1 FROM json_each(webhooks.events) WHERE json_each.value = ?)
		ORDER BY created_at, id`
	rows, err := r.db.Query(query, ownerID, ownerID, string(eventType))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var matched []*models.Webhook
	for rows.Next() {
		w, err := r.scanWebhook(rows)
		if err != nil {
			return nil, err
		}
		matched = append(matched, w)
	}
	return matched, rows.Err()
}

// RecordAttempt counts one delivery attempt. The counters are incremented in a
// single statement so concurrent attempts never lose updates. A webhook deleted
// while the attempt was in flight yields ErrNotFound and nothing is written.
func (r *WebhookRepository) RecordAttempt(id string, success bool, reason string, at time.Time) error {
	var succeeded, failed int
	status := models.DeliverySuccess
	if success {
		succeeded = 1
		reason = ""
	} else {
		failed = 1
		status = models.DeliveryFailed
		if len(reason) > maxReasonLength {
			reason = reason[:maxReasonLength]
		}
	}

	query := `
		UPDATE webhooks SET
			total_deliveries = total_deliveries + 1,
			successful_deliveries = successful_deliveries + ?,
			failed_deliveries = failed_deliveries + ?,
			last_delivery_at = ?,
			last_delivery_status = ?,
			last_failure_reason = CASE WHEN ? = 1 THEN last_failure_reason ELSE ? END
		WHERE id = ?
	`
	res, err := r.db.Exec(query, succeeded, failed, at.Unix(), status, succeeded, reason, id)
	if err != nil {
		return err
	}
	return expectOneRow(res)
}

// CountByStatus returns the number of webhooks per lifecycle state.
func (r *WebhookRepository) CountByStatus() (map[models.WebhookStatus]int, error) {
	rows, err := r.db.Query(`SELECT status, COUNT(*) FROM webhooks GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := map[models.WebhookStatus]int{
		models.StatusActive:   0,
		models.StatusPaused:   0,
		models.StatusDisabled: 0,
	}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[models.WebhookStatus(status)] = n
	}
	return counts, rows.Err()
}

// ListFailing returns active webhooks whose most recent attempt failed since the given time.
func (r *WebhookRepository) ListFailing(since int64) ([]*models.Webhook, error) {
	query := `SELECT ` + webhookColumns + ` FROM webhooks
		WHERE status = 'active' AND last_delivery_status = 'failed' AND last_delivery_at >= ?
		ORDER BY last_delivery_at DESC`
	rows, err := r.db.Query(query, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var webhooks []*models.Webhook
	for rows.Next() {
		w, err := r.scanWebhook(rows)
		if err != nil {
			return nil, err
		}
		webhooks = append(webhooks, w)
	}
	return webhooks, rows.Err()
}

func (r *WebhookRepository) scanWebhook(s interface {
	Scan(dest ...interface{}) error
}) (*models.Webhook, error) {
	var w models.Webhook
	var sealed, eventsStr, status string
	var lastDeliveryAt sql.NullInt64
	var lastStatus, lastReason sql.NullString

	err := s.Scan(
		&w.ID,
		&w.OwnerID,
		&w.URL,
		&sealed,
		&eventsStr,
		&status,
		&w.RetryPolicy.Enabled,
		&w.RetryPolicy.MaxAttempts,
		&w.RetryPolicy.BaseDelaySeconds,
		&w.Stats.TotalDeliveries,
		&w.Stats.SuccessfulDeliveries,
		&w.Stats.FailedDeliveries,
		&lastDeliveryAt,
		&lastStatus,
		&lastReason,
		&w.CreatedAt,
		&w.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	w.Status = models.WebhookStatus(status)
	if lastDeliveryAt.Valid {
		w.Stats.LastDeliveryAt = lastDeliveryAt.Int64
	}
	if lastStatus.Valid {
		w.Stats.LastDeliveryStatus = lastStatus.String
	}
	if lastReason.Valid {
		w.Stats.LastFailureReason = lastReason.String
	}

	if err := json.Unmarshal([]byte(eventsStr), &w.Events); err != nil {
		return nil, fmt.Errorf("webhook %s has malformed events: %w", w.ID, err)
	}

	secret, err := r.box.Open(sealed)
	if err != nil {
		return nil, fmt.Errorf("webhook %s: %w", w.ID, err)
	}
	w.Secret = secret

	return &w, nil
}

func expectOneRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
