package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Actions recorded for webhook management.
const (
	ActionWebhookCreated = "webhook.created"
	ActionWebhookUpdated = "webhook.updated"
	ActionWebhookDeleted = "webhook.deleted"
	ActionWebhookTested  = "webhook.tested"
	ActionEventTriggered = "event.triggered"
)

type AuditLog struct {
	ID           string                 `json:"id"`
	UserID       string                 `json:"user_id"`
	Action       string                 `json:"action"`
	ResourceType string                 `json:"resource_type"`
	ResourceID   string                 `json:"resource_id"`
	Metadata     map[string]interface{} `json:"metadata"`
	IPAddress    string                 `json:"ip_address"`
	UserAgent    string                 `json:"user_agent"`
	CreatedAt    int64                  `json:"created_at"`
}

type requestKey struct{}

type requestInfo struct {
	ip        string
	userAgent string
}

// WithRequest stores the caller's address and user agent for later audit entries.
func WithRequest(ctx context.Context, r *http.Request) context.Context {
	ip := r.RemoteAddr
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		ip = host
	}
	return context.WithValue(ctx, requestKey{}, requestInfo{ip: ip, userAgent: r.UserAgent()})
}

type Logger struct {
	db *sql.DB
	wg sync.WaitGroup
}

func NewLogger(db *sql.DB) *Logger {
	return &Logger{db: db}
}

// Log writes an audit entry in the background. A nil Logger is a no-op.
func (l *Logger) Log(ctx context.Context, userID, action, resourceType, resourceID string, metadata map[string]interface{}) {
	if l == nil {
		return
	}

	ip, ua := "unknown", "unknown"
	if info, ok := ctx.Value(requestKey{}).(requestInfo); ok {
		ip = info.ip
		if info.userAgent != "" {
			ua = info.userAgent
		}
	}

	metaJSON, err := json.Marshal(metadata)
	if err != nil {
		metaJSON = []byte("{}")
	}

	entry := &AuditLog{
		ID:           "audit_" + uuid.New().String(),
		UserID:       userID,
		Action:       action,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		Metadata:     metadata,
		IPAddress:    ip,
		UserAgent:    ua,
		CreatedAt:    time.Now().Unix(),
	}

	l.wg.Add(1)
	go func() {
		defer l.wg.Done()

		query := `
			INSERT INTO audit_logs (id, user_id, action, resource_type, resource_id, metadata, ip_address, user_agent, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`
		_, err := l.db.Exec(query, entry.ID, entry.UserID, entry.Action, entry.ResourceType, entry.ResourceID,
			string(metaJSON), entry.IPAddress, entry.UserAgent, entry.CreatedAt)
		if err != nil {
			log.Error().Err(err).Str("action", entry.Action).Str("resource_id", entry.ResourceID).
				Msg("failed to write audit log")
		}
	}()
}

// Wait blocks until pending entries are written.
func (l *Logger) Wait() {
	if l == nil {
		return
	}
	l.wg.Wait()
}
