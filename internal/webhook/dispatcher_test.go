package webhook

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/homelab/ha-ingestor/internal/catalog"
	"github.com/homelab/ha-ingestor/internal/config"
	"github.com/homelab/ha-ingestor/internal/model"
)

func openTestCatalog(t *testing.T) *catalog.Store {
	t.Helper()
	s, err := catalog.Open(":memory:")
	if err != nil {
		t.Fatalf("catalog.Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func testEvent(entityID, domain, state string) *model.Event {
	return &model.Event{
		EntityID:  entityID,
		Domain:    domain,
		EventType: "state_changed",
		TimeFired: time.Now(),
		Context:   model.Context{ID: "corr-1"},
		NewState:  &model.State{State: state},
	}
}

func TestDispatcher_DeliversOnFirstAttempt(t *testing.T) {
	var received int32
	var gotSig string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&received, 1)
		gotSig = r.Header.Get("X-Signature")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	store := openTestCatalog(t)
	ctx := context.Background()

	sub := &model.WebhookSubscription{
		Name: "test", URL: srv.URL, Secret: "sekret", Enabled: true,
		Conditions: json.RawMessage(`{"any":[{"all":[{"field":"entity_id","op":"eq","value":"light.a"}]}]}`),
		CreatedAt:  time.Now(),
	}
	id, err := store.CreateWebhookSubscription(ctx, sub)
	if err != nil {
		t.Fatalf("CreateWebhookSubscription: %v", err)
	}
	sub.ID = id

	cfg := config.WebhookConfig{MailboxCapacity: 4, AttemptSchedule: []time.Duration{time.Millisecond, time.Millisecond}, RequestTimeout: time.Second}
	d := New(store, cfg)
	if err := d.LoadSubscriptions(ctx); err != nil {
		t.Fatalf("LoadSubscriptions: %v", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() { defer wg.Done(); d.Run(runCtx) }()

	d.Publish(testEvent("light.a", "light", "on"))

	deadline := time.Now().Add(time.Second)
	for atomic.LoadInt32(&received) == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if atomic.LoadInt32(&received) != 1 {
		t.Fatalf("received = %d, want 1", received)
	}
	if gotSig == "" {
		t.Error("expected a non-empty X-Signature header")
	}

	cancel()
	wg.Wait()
}

func TestDispatcher_NonMatchingEventNotDelivered(t *testing.T) {
	var received int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&received, 1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	store := openTestCatalog(t)
	ctx := context.Background()

	sub := &model.WebhookSubscription{
		Name: "test", URL: srv.URL, Secret: "sekret", Enabled: true,
		Conditions: json.RawMessage(`{"any":[{"all":[{"field":"entity_id","op":"eq","value":"light.a"}]}]}`),
		CreatedAt:  time.Now(),
	}
	id, _ := store.CreateWebhookSubscription(ctx, sub)
	sub.ID = id

	cfg := config.WebhookConfig{MailboxCapacity: 4, AttemptSchedule: []time.Duration{time.Millisecond}, RequestTimeout: time.Second}
	d := New(store, cfg)
	if err := d.LoadSubscriptions(ctx); err != nil {
		t.Fatalf("LoadSubscriptions: %v", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go d.Run(runCtx)

	d.Publish(testEvent("light.b", "light", "on"))
	time.Sleep(50 * time.Millisecond)

	if atomic.LoadInt32(&received) != 0 {
		t.Errorf("received = %d, want 0 for a non-matching event", received)
	}
}

func TestDispatcher_SubscriptionAddedAfterRunStillDelivers(t *testing.T) {
	var received int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&received, 1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	store := openTestCatalog(t)
	ctx := context.Background()

	cfg := config.WebhookConfig{MailboxCapacity: 4, AttemptSchedule: []time.Duration{time.Millisecond}, RequestTimeout: time.Second}
	d := New(store, cfg)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go d.Run(runCtx)

	// Subscription is created after Run is already draining the (empty)
	// worker set, mirroring a runtime POST /api/v1/webhooks call.
	sub := &model.WebhookSubscription{
		Name: "test", URL: srv.URL, Secret: "sekret", Enabled: true,
		Conditions: json.RawMessage(`{"any":[{"all":[{"field":"entity_id","op":"eq","value":"light.a"}]}]}`),
		CreatedAt:  time.Now(),
	}
	id, err := store.CreateWebhookSubscription(ctx, sub)
	if err != nil {
		t.Fatalf("CreateWebhookSubscription: %v", err)
	}
	sub.ID = id
	if err := d.LoadSubscriptions(ctx); err != nil {
		t.Fatalf("LoadSubscriptions: %v", err)
	}

	d.Publish(testEvent("light.a", "light", "on"))

	deadline := time.Now().Add(time.Second)
	for atomic.LoadInt32(&received) == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if atomic.LoadInt32(&received) != 1 {
		t.Fatalf("received = %d, want 1 for a subscription added after Run started", received)
	}
}

func TestDispatcher_RetryExhaustionGivesUp(t *testing.T) {
	var attempts int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	store := openTestCatalog(t)
	ctx := context.Background()

	sub := &model.WebhookSubscription{
		Name: "test", URL: srv.URL, Secret: "sekret", Enabled: true,
		Conditions: json.RawMessage(`{"any":[{"all":[{"field":"entity_id","op":"eq","value":"light.a"}]}]}`),
		CreatedAt:  time.Now(),
	}
	id, _ := store.CreateWebhookSubscription(ctx, sub)
	sub.ID = id

	cfg := config.WebhookConfig{
		MailboxCapacity: 4,
		AttemptSchedule: []time.Duration{time.Millisecond, time.Millisecond, time.Millisecond},
		RequestTimeout:  time.Second,
	}
	d := New(store, cfg)
	if err := d.LoadSubscriptions(ctx); err != nil {
		t.Fatalf("LoadSubscriptions: %v", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	go d.Run(runCtx)

	d.Publish(testEvent("light.a", "light", "on"))

	deadline := time.Now().Add(time.Second)
	for atomic.LoadInt32(&attempts) < 3 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()

	if got := atomic.LoadInt32(&attempts); got != 3 {
		t.Errorf("attempts = %d, want exactly 3 (len(AttemptSchedule))", got)
	}

	deliveries, err := store.GetPendingDeliveries(ctx, sub.ID)
	if err != nil {
		t.Fatalf("GetPendingDeliveries: %v", err)
	}
	if len(deliveries) != 0 {
		t.Errorf("expected no pending deliveries after giving up, got %d", len(deliveries))
	}
}
