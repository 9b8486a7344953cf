package webhooks

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"coursehub/internal/platform/config"
	"coursehub/internal/platform/database"
	"coursehub/internal/platform/metrics"
	"coursehub/internal/platform/models"
	"coursehub/internal/platform/repositories"
	"coursehub/internal/platform/secrets"
	"coursehub/migrations"

	"github.com/stretchr/testify/require"
)

// recordingSleep replaces the retry wait so chains run instantly.
type recordingSleep struct {
	mu     sync.Mutex
	delays []time.Duration
	hook   func(n int)
}

func (s *recordingSleep) sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.delays = append(s.delays, d)
	n := len(s.delays)
	hook := s.hook
	s.mu.Unlock()

	if hook != nil {
		hook(n)
	}
	return ctx.Err()
}

func (s *recordingSleep) recorded() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.delays...)
}

type harness struct {
	repo       *repositories.WebhookRepository
	metrics    *metrics.Metrics
	executor   *Executor
	dispatcher *Dispatcher
	service    *Service
	sleeper    *recordingSleep
}

func newHarness(t *testing.T, timeout time.Duration) *harness {
	t.Helper()

	db, err := database.Open(config.DatabaseConfig{Path: ":memory:"})
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db, migrations.FS))

	var key [32]byte
	copy(key[:], "0123456789abcdef0123456789abcdef")
	repo := repositories.NewWebhookRepository(db, secrets.NewBox(key))

	m := metrics.New()
	executor := NewExecutor(repo, m, ExecutorConfig{Timeout: timeout, UserAgent: "coursehub-test"})
	dispatcher := NewDispatcher(repo, executor, m, 0)
	sleeper := &recordingSleep{}
	dispatcher.scheduler.sleep = sleeper.sleep

	h := &harness{
		repo:       repo,
		metrics:    m,
		executor:   executor,
		dispatcher: dispatcher,
		service: NewService(repo, dispatcher, nil, models.RetryPolicy{
			Enabled:          true,
			MaxAttempts:      3,
			BaseDelaySeconds: 60,
		}),
		sleeper: sleeper,
	}

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		dispatcher.Drain(ctx)
		db.Close()
	})
	return h
}

func (h *harness) create(t *testing.T, owner, url string, policy models.RetryPolicy, events ...models.EventType) *models.CreatedWebhook {
	t.Helper()
	if len(events) == 0 {
		events = []models.EventType{models.EventCourseCompleted}
	}
	created, err := h.service.Create(context.Background(), owner, CreateRequest{
		URL:         url,
		Events:      events,
		RetryPolicy: &policy,
	})
	require.NoError(t, err)
	return created
}

func (h *harness) stats(t *testing.T, id string) models.WebhookStats {
	t.Helper()
	w, err := h.repo.GetByID(id)
	require.NoError(t, err)
	return w.Stats
}

type receivedRequest struct {
	header http.Header
	body   []byte
}

// receiver is a webhook endpoint whose status code for the nth request
// (1-based) is chosen by respond.
type receiver struct {
	*httptest.Server

	mu       sync.Mutex
	requests []receivedRequest
}

func newReceiver(t *testing.T, respond func(n int) int) *receiver {
	t.Helper()
	rcv := &receiver{}
	rcv.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)

		rcv.mu.Lock()
		rcv.requests = append(rcv.requests, receivedRequest{header: r.Header.Clone(), body: body})
		n := len(rcv.requests)
		rcv.mu.Unlock()

		w.WriteHeader(respond(n))
	}))
	t.Cleanup(rcv.Close)
	return rcv
}

func (rcv *receiver) received() []receivedRequest {
	rcv.mu.Lock()
	defer rcv.mu.Unlock()
	return append([]receivedRequest(nil), rcv.requests...)
}

func always(status int) func(int) int {
	return func(int) int { return status }
}

func failFirst(n int) func(int) int {
	return func(i int) int {
		if i <= n {
			return http.StatusInternalServerError
		}
		return http.StatusOK
	}
}

var threeAttempts = models.RetryPolicy{Enabled: true, MaxAttempts: 3, BaseDelaySeconds: 60}
