package webhook

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/homelab/ha-ingestor/internal/catalog"
	"github.com/homelab/ha-ingestor/internal/config"
	"github.com/homelab/ha-ingestor/internal/metrics"
	"github.com/homelab/ha-ingestor/internal/model"
)

// worker pairs one enabled subscription with its mailbox and compiled
// predicate.
type worker struct {
	sub       *model.WebhookSubscription
	predicate *Predicate
	mailbox   *mailbox
}

// Dispatcher is the Webhook Dispatcher (C5): it tees events broadcast by
// the Ingestor, evaluates each enabled subscription's predicate, and
// drives one delivery consumer goroutine per subscription.
type Dispatcher struct {
	store *catalog.Store
	cfg   config.WebhookConfig
	hc    *http.Client
	now   func() time.Time

	mu      sync.RWMutex
	workers map[int64]*worker
	running map[int64]context.CancelFunc
	runCtx  context.Context
	wg      sync.WaitGroup
}

// New returns a Dispatcher persisting delivery state through store.
func New(store *catalog.Store, cfg config.WebhookConfig) *Dispatcher {
	return &Dispatcher{
		store:   store,
		cfg:     cfg,
		hc:      &http.Client{Timeout: cfg.RequestTimeout},
		now:     time.Now,
		workers: make(map[int64]*worker),
		running: make(map[int64]context.CancelFunc),
	}
}

// LoadSubscriptions (re)reads enabled subscriptions from the catalog and
// replaces the active worker set. Disabled subscriptions are dropped;
// newly enabled ones get a fresh mailbox. If Run is already active, a
// consumer goroutine is started for every newly added worker and stopped
// for every worker that disappears, so a subscription created at runtime
// (via the HTTP API) begins draining its mailbox immediately instead of
// only taking effect on the next process restart.
func (d *Dispatcher) LoadSubscriptions(ctx context.Context) error {
	subs, err := d.store.ListWebhookSubscriptions(ctx)
	if err != nil {
		return fmt.Errorf("loading webhook subscriptions: %w", err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	fresh := make(map[int64]*worker, len(subs))
	for _, sub := range subs {
		if !sub.Enabled {
			continue
		}
		pred, err := ParsePredicate(sub.Conditions)
		if err != nil {
			return fmt.Errorf("parsing predicate for subscription %d: %w", sub.ID, err)
		}
		if existing, ok := d.workers[sub.ID]; ok {
			fresh[sub.ID] = &worker{sub: sub, predicate: pred, mailbox: existing.mailbox}
			continue
		}
		fresh[sub.ID] = &worker{sub: sub, predicate: pred, mailbox: newMailbox(sub.ID, d.cfg.MailboxCapacity)}
	}

	for id, w := range fresh {
		d.startConsumerLocked(id, w)
	}
	for id, cancel := range d.running {
		if _, ok := fresh[id]; !ok {
			cancel()
			delete(d.running, id)
		}
	}

	d.workers = fresh
	return nil
}

// Publish evaluates ev against every active subscription's predicate and
// pushes it onto the mailboxes of those that match. Never blocks.
func (d *Dispatcher) Publish(ev *model.Event) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, w := range d.workers {
		if w.predicate.Evaluate(ev) {
			w.mailbox.Push(ev)
		}
	}
}

// startConsumerLocked starts a consumer goroutine for id if one is not
// already running. Must be called with d.mu held. Before Run starts,
// d.runCtx is nil and this is a no-op: Run itself starts consumers for
// whatever the worker set looks like at the time it's called.
func (d *Dispatcher) startConsumerLocked(id int64, w *worker) {
	if d.runCtx == nil {
		return
	}
	if _, ok := d.running[id]; ok {
		return
	}
	cctx, cancel := context.WithCancel(d.runCtx)
	d.running[id] = cancel
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.consume(cctx, w)
	}()
}

// Run starts one consumer goroutine per active subscription and keeps the
// running set in sync with LoadSubscriptions until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) {
	d.mu.Lock()
	d.runCtx = ctx
	for id, w := range d.workers {
		d.startConsumerLocked(id, w)
	}
	d.mu.Unlock()

	<-ctx.Done()

	d.mu.Lock()
	for id, cancel := range d.running {
		cancel()
		delete(d.running, id)
	}
	d.mu.Unlock()

	d.wg.Wait()
}

func (d *Dispatcher) consume(ctx context.Context, w *worker) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-w.mailbox.ch:
			d.deliver(ctx, w, ev)
		}
	}
}

// deliver attempts HTTP delivery of ev to w.sub per the configured attempt
// schedule, persisting delivery state through every transition so a crash
// mid-dispatch cannot lose the pending row.
func (d *Dispatcher) deliver(ctx context.Context, w *worker, ev *model.Event) {
	payload := model.WebhookPayload{
		SubscriptionID: w.sub.ID,
		EventID:        ev.Context.ID,
		FiredAt:        ev.TimeFired,
		EntityID:       ev.EntityID,
		NewState:       ev.NewState,
		OldState:       ev.OldState,
		CorrelationID:  ev.Context.ID,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return
	}
	sum := sha256.Sum256(body)
	signature := Sign(w.sub.Secret, body)

	deliveryID := uuid.New().String()
	delivery := &model.WebhookDelivery{
		ID:             deliveryID,
		SubscriptionID: w.sub.ID,
		PayloadHash:    hex.EncodeToString(sum[:]),
		Attempt:        1,
		Status:         model.DeliveryPending,
	}
	_ = d.store.UpsertDelivery(ctx, delivery)

	maxAttempts := len(d.cfg.AttemptSchedule)
	if maxAttempts == 0 {
		maxAttempts = 1
	}

	var lastErr string
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			delay := d.cfg.AttemptSchedule[attempt-2]
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}
		}

		err := d.post(ctx, w.sub.URL, body, signature, deliveryID, attempt)
		if err == nil {
			delivery.Status = model.DeliveryDelivered
			delivery.Attempt = attempt
			_ = d.store.UpsertDelivery(ctx, delivery)
			metrics.WebhookDeliveries.WithLabelValues("delivered").Inc()
			return
		}
		lastErr = err.Error()

		if attempt < maxAttempts {
			delivery.Attempt = attempt + 1
			delivery.Status = model.DeliveryPending
			delivery.LastError = lastErr
			_ = d.store.UpsertDelivery(ctx, delivery)
			metrics.WebhookDeliveries.WithLabelValues("retried").Inc()
		}
	}

	delivery.Status = model.DeliveryGivingUp
	delivery.LastError = lastErr
	_ = d.store.UpsertDelivery(ctx, delivery)
	metrics.WebhookDeliveries.WithLabelValues("giving_up").Inc()
	slog.Warn("webhook delivery exhausted retry schedule", "subscription_id", w.sub.ID, "delivery_id", deliveryID, "error", lastErr)
}

func (d *Dispatcher) post(ctx context.Context, url string, body []byte, signature, deliveryID string, attempt int) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Signature", "sha256="+signature)
	req.Header.Set("X-Timestamp", strconv.FormatInt(d.now().Unix(), 10))
	req.Header.Set("X-Delivery-Id", deliveryID)
	req.Header.Set("X-Attempt", strconv.Itoa(attempt))

	resp, err := d.hc.Do(req)
	if err != nil {
		return fmt.Errorf("delivering webhook: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("receiver returned status %d", resp.StatusCode)
	}
	return nil
}
