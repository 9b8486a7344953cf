package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"coursehub/internal/api/handlers"
	"coursehub/internal/api/middleware"
	"coursehub/internal/engine/webhooks"
	"coursehub/internal/platform/audit"
	"coursehub/internal/platform/auth"
	"coursehub/internal/platform/config"
	"coursehub/internal/platform/database"
	"coursehub/internal/platform/metrics"
	"coursehub/internal/platform/models"
	"coursehub/internal/platform/repositories"
	"coursehub/internal/platform/secrets"
	"coursehub/migrations"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testServer struct {
	*httptest.Server
	tokens     *auth.TokenService
	dispatcher *webhooks.Dispatcher
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	db, err := database.Open(config.DatabaseConfig{Path: ":memory:"})
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db, migrations.FS))

	var key [32]byte
	copy(key[:], "0123456789abcdef0123456789abcdef")
	repo := repositories.NewWebhookRepository(db, secrets.NewBox(key))

	m := metrics.New()
	auditor := audit.NewLogger(db)
	executor := webhooks.NewExecutor(repo, m, webhooks.ExecutorConfig{Timeout: time.Second})
	dispatcher := webhooks.NewDispatcher(repo, executor, m, 0)
	service := webhooks.NewService(repo, dispatcher, auditor, models.RetryPolicy{
		Enabled:          false,
		MaxAttempts:      1,
		BaseDelaySeconds: 1,
	})

	tokens := auth.NewTokenService(config.JWTConfig{Secret: "test-secret", AccessTokenTTL: time.Hour})
	limiter := middleware.NewLocalLimiter()

	router := NewRouter(&Dependencies{
		WebhookHandler: handlers.NewWebhookHandler(service),
		EventHandler:   handlers.NewEventHandler(service, auditor),
		HealthHandler:  handlers.NewHealthHandler(db, nil),
		MetricsHandler: handlers.NewMetricsHandler(m),
		AuthMiddleware: middleware.NewAuthMiddleware(tokens),
		RateLimiter:    middleware.NewRateLimiter(limiter, map[string]int{}),
	})

	srv := httptest.NewServer(router)
	t.Cleanup(func() {
		srv.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		dispatcher.Drain(ctx)
		auditor.Wait()
		limiter.Stop()
		db.Close()
	})

	return &testServer{Server: srv, tokens: tokens, dispatcher: dispatcher}
}

func (s *testServer) token(t *testing.T, userID, role string) string {
	t.Helper()
	token, err := s.tokens.GenerateAccessToken(userID, role)
	require.NoError(t, err)
	return token
}

func (s *testServer) do(t *testing.T, method, path, token string, body interface{}) (*http.Response, []byte) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequest(method, s.URL+path, reader)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, raw
}

type hookReceiver struct {
	*httptest.Server
	mu     sync.Mutex
	events []string
}

func newHookReceiver(t *testing.T) *hookReceiver {
	rcv := &hookReceiver{}
	rcv.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rcv.mu.Lock()
		rcv.events = append(rcv.events, r.Header.Get(webhooks.HeaderEvent))
		rcv.mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(rcv.Close)
	return rcv
}

func (rcv *hookReceiver) received() []string {
	rcv.mu.Lock()
	defer rcv.mu.Unlock()
	return append([]string(nil), rcv.events...)
}

func TestWebhookLifecycle(t *testing.T) {
	srv := newTestServer(t)
	alice := srv.token(t, "user_alice", auth.RoleUser)
	bob := srv.token(t, "user_bob", auth.RoleUser)

	resp, body := srv.do(t, http.MethodPost, "/api/v1/webhooks", alice, map[string]interface{}{
		"url":    "https://lms.example.com/hooks",
		"events": []string{"course.completed"},
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))

	var created struct {
		ID     string `json:"id"`
		Secret string `json:"secret"`
		Status string `json:"status"`
	}
	require.NoError(t, json.Unmarshal(body, &created))
	assert.NotEmpty(t, created.ID)
	assert.NotEmpty(t, created.Secret)
	assert.Equal(t, "active", created.Status)

	resp, body = srv.do(t, http.MethodGet, "/api/v1/webhooks", alice, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), created.ID)
	assert.NotContains(t, string(body), created.Secret)

	resp, _ = srv.do(t, http.MethodGet, "/api/v1/webhooks/"+created.ID, bob, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, body = srv.do(t, http.MethodDelete, "/api/v1/webhooks/"+created.ID, bob, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Contains(t, string(body), "FORBIDDEN")

	resp, body = srv.do(t, http.MethodPatch, "/api/v1/webhooks/"+created.ID, alice, map[string]interface{}{
		"status": "paused",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	assert.Contains(t, string(body), `"status":"paused"`)

	resp, _ = srv.do(t, http.MethodDelete, "/api/v1/webhooks/"+created.ID, alice, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, body = srv.do(t, http.MethodGet, "/api/v1/webhooks/"+created.ID, alice, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Contains(t, string(body), "NOT_FOUND")

	resp, body = srv.do(t, http.MethodGet, "/api/v1/webhooks", alice, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `"total":0`)
}

func TestCreateWebhook_Invalid(t *testing.T) {
	srv := newTestServer(t)
	alice := srv.token(t, "user_alice", auth.RoleUser)

	tests := []struct {
		name  string
		body  interface{}
		field string
	}{
		{"bad url", map[string]interface{}{"url": "ftp://x", "events": []string{"course.completed"}}, "url"},
		{"unknown event", map[string]interface{}{"url": "https://x.example.com", "events": []string{"course.deleted"}}, "events"},
		{"attempts out of range", map[string]interface{}{
			"url":          "https://x.example.com",
			"events":       []string{"course.completed"},
			"retry_policy": map[string]interface{}{"enabled": true, "max_attempts": 20, "base_delay_seconds": 5},
		}, "retry_policy.max_attempts"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := srv.do(t, http.MethodPost, "/api/v1/webhooks", alice, tt.body)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

			var env struct {
				Code    string            `json:"code"`
				Details map[string]string `json:"details"`
			}
			require.NoError(t, json.Unmarshal(body, &env))
			assert.Equal(t, "INVALID_INPUT", env.Code)
			assert.Equal(t, tt.field, env.Details["field"])
		})
	}

	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/api/v1/webhooks", bytes.NewBufferString("{"))
	req.Header.Set("Authorization", "Bearer "+alice)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestUnauthenticated(t *testing.T) {
	srv := newTestServer(t)

	resp, _ := srv.do(t, http.MethodGet, "/api/v1/webhooks", "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, _ = srv.do(t, http.MethodPost, "/api/v1/events", "bogus", map[string]string{"event": "course.completed"})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestSendTestDelivery(t *testing.T) {
	srv := newTestServer(t)
	rcv := newHookReceiver(t)
	alice := srv.token(t, "user_alice", auth.RoleUser)

	resp, body := srv.do(t, http.MethodPost, "/api/v1/webhooks", alice, map[string]interface{}{
		"url":    rcv.URL,
		"events": []string{"assignment.graded"},
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))
	var created struct{ ID string }
	require.NoError(t, json.Unmarshal(body, &created))

	resp, body = srv.do(t, http.MethodPost, "/api/v1/webhooks/"+created.ID+"/test", alice, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	assert.Contains(t, string(body), `"success":true`)
	assert.Equal(t, []string{"webhook.ping"}, rcv.received())
}

func TestTriggerEvent(t *testing.T) {
	srv := newTestServer(t)
	rcv := newHookReceiver(t)
	alice := srv.token(t, "user_alice", auth.RoleUser)
	platform := srv.token(t, "svc_grading", auth.RoleService)

	resp, body := srv.do(t, http.MethodPost, "/api/v1/webhooks", alice, map[string]interface{}{
		"url":    rcv.URL,
		"events": []string{"assignment.graded"},
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))

	event := map[string]interface{}{
		"event": "assignment.graded",
		"data":  map[string]interface{}{"assignment_id": "a_1", "score": 92},
	}

	resp, _ = srv.do(t, http.MethodPost, "/api/v1/events", alice, event)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode, "plain users cannot raise events")

	resp, body = srv.do(t, http.MethodPost, "/api/v1/events", platform, event)
	require.Equal(t, http.StatusAccepted, resp.StatusCode, string(body))

	resp, _ = srv.do(t, http.MethodPost, "/api/v1/events", platform, map[string]string{"event": "webhook.ping"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, srv.dispatcher.Drain(ctx))
	assert.Equal(t, []string{"assignment.graded"}, rcv.received())
}

func TestHealthAndMetrics(t *testing.T) {
	srv := newTestServer(t)

	resp, body := srv.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `"database":"healthy"`)

	resp, body = srv.do(t, http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "go_goroutines")
}
