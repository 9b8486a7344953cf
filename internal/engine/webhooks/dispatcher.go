package webhooks

import (
	"context"
	"runtime/debug"
	"sync"
	"time"

	"coursehub/internal/platform/metrics"
	"coursehub/internal/platform/models"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

type Store interface {
	WebhookGetter
	StatsRecorder
	GetByEvent(eventType models.EventType, ownerID string) ([]*models.Webhook, error)
}

// Fanout tracks one Trigger call. Callers raising domain events ignore it;
// it exists for diagnostics and tests.
type Fanout struct {
	Event models.EventType

	done    chan struct{}
	results []ChainResult
	err     error
}

func (f *Fanout) Done() <-chan struct{} {
	return f.done
}

// Results blocks until every chain reached a terminal state.
func (f *Fanout) Results() []ChainResult {
	<-f.done
	return f.results
}

// Err is the resolution or serialisation error, if any. Valid after Done.
func (f *Fanout) Err() error {
	<-f.done
	return f.err
}

type Dispatcher struct {
	store          Store
	scheduler      *Scheduler
	executor       Attempter
	metrics        *metrics.Metrics
	maxConcurrency int
	now            func() time.Time

	inflight sync.WaitGroup
}

// NewDispatcher builds the delivery pipeline. maxConcurrency caps concurrent
// chains per event; zero means one goroutine per matching webhook.
func NewDispatcher(store Store, executor Attempter, m *metrics.Metrics, maxConcurrency int) *Dispatcher {
	return &Dispatcher{
		store:          store,
		scheduler:      NewScheduler(executor, store),
		executor:       executor,
		metrics:        m,
		maxConcurrency: maxConcurrency,
		now:            time.Now,
	}
}

// Trigger fans eventType out to every active webhook subscribed to it,
// optionally only those owned by ownerID. It returns immediately; delivery
// failures are recorded in webhook statistics and never reach the caller.
func (d *Dispatcher) Trigger(eventType models.EventType, data interface{}, ownerID string) *Fanout {
	f := &Fanout{Event: eventType, done: make(chan struct{})}
	d.metrics.EventTriggered(eventType)

	event, err := NewEvent(eventType, data, d.now())
	if err != nil {
		log.Error().Err(err).Str("event", string(eventType)).Msg("dropping event")
		f.err = err
		close(f.done)
		return f
	}

	d.inflight.Add(1)
	go func() {
		defer d.inflight.Done()
		defer close(f.done)
		defer func() {
			if r := recover(); r != nil {
				log.Error().Interface("panic", r).Bytes("stack", debug.Stack()).
					Str("event", string(eventType)).Msg("webhook fan-out panicked")
			}
		}()

		// detached from any request: chains run to completion on their own
		f.results, f.err = d.fanout(context.Background(), event, ownerID)
	}()

	return f
}

func (d *Dispatcher) fanout(ctx context.Context, event *Event, ownerID string) ([]ChainResult, error) {
	webhooks, err := d.store.GetByEvent(event.Type, ownerID)
	if err != nil {
		log.Error().Err(err).Str("event", string(event.Type)).Msg("failed to resolve webhooks")
		return nil, err
	}
	if len(webhooks) == 0 {
		log.Debug().Str("event", string(event.Type)).Msg("no webhooks subscribed")
		return nil, nil
	}

	log.Debug().Str("event", string(event.Type)).Int("webhooks", len(webhooks)).Msg("dispatching event")

	var g errgroup.Group
	if d.maxConcurrency > 0 {
		g.SetLimit(d.maxConcurrency)
	}

	results := make([]ChainResult, len(webhooks))
	for i, webhook := range webhooks {
		g.Go(func() error {
			results[i] = d.deliver(ctx, webhook, event)
			return nil
		})
	}
	g.Wait()

	return results, nil
}

// deliver runs one chain in isolation: a panic here is contained to this webhook.
func (d *Dispatcher) deliver(ctx context.Context, webhook *models.Webhook, event *Event) (result ChainResult) {
	delivery := event.NewDelivery()
	d.metrics.ChainStarted()

	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Bytes("stack", debug.Stack()).
				Str("webhook_id", webhook.ID).Str("delivery_id", delivery.ID).
				Msg("webhook delivery panicked")
			result = ChainResult{
				WebhookID:  webhook.ID,
				DeliveryID: delivery.ID,
				Attempts:   delivery.Attempt,
				Result:     ResultPanicked,
			}
		}
		d.metrics.ChainFinished(event.Type, result.Result)
	}()

	return d.scheduler.Run(ctx, webhook, delivery)
}

// DeliverSync makes a single attempt to one webhook and waits for it. Used for
// test deliveries requested by the owner.
func (d *Dispatcher) DeliverSync(ctx context.Context, webhook *models.Webhook, eventType models.EventType, data interface{}) (Outcome, error) {
	event, err := NewEvent(eventType, data, d.now())
	if err != nil {
		return Outcome{}, err
	}
	delivery := event.NewDelivery()
	delivery.Attempt = 1
	return d.executor.Attempt(ctx, webhook, delivery), nil
}

// Drain waits until every triggered fan-out has finished or ctx is done.
// Callers must stop triggering new events first.
func (d *Dispatcher) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.inflight.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
