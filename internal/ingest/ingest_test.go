package ingest

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/homelab/ha-ingestor/internal/connection"
	"github.com/homelab/ha-ingestor/internal/pipeline"
)

func eventFrame(t *testing.T, body string) *connection.Frame {
	t.Helper()
	return &connection.Frame{Type: connection.TypeEvent, Event: json.RawMessage(body)}
}

const s1Frame = `{
  "event_type": "state_changed",
  "data": {
    "entity_id": "light.living_room",
    "old_state": {"state":"off","last_changed":"2025-01-20T10:00:00Z","last_updated":"2025-01-20T10:00:00Z","attributes":{}},
    "new_state": {"state":"on","last_changed":"2025-01-20T10:05:30Z","last_updated":"2025-01-20T10:05:30Z","attributes":{"brightness":200}}
  },
  "time_fired": "2025-01-20T10:05:30Z",
  "origin": "LOCAL",
  "context": {"id":"abc","parent_id":null,"user_id":null}
}`

func TestHandleFrame_HappyPath(t *testing.T) {
	p := pipeline.New(10)
	ing := New(p, nil)

	if err := ing.HandleFrame(t.Context(), eventFrame(t, s1Frame)); err != nil {
		t.Fatalf("HandleFrame: %v", err)
	}

	got := <-p.Chan()
	if got.EntityID != "light.living_room" {
		t.Errorf("EntityID = %q", got.EntityID)
	}
	if got.Domain != "light" {
		t.Errorf("Domain = %q, want light", got.Domain)
	}
	if got.DurationInState == nil || *got.DurationInState != 330 {
		t.Errorf("DurationInState = %v, want 330", got.DurationInState)
	}
	if got.TimeFired.UnixNano() != time.Date(2025, 1, 20, 10, 5, 30, 0, time.UTC).UnixNano() {
		t.Errorf("TimeFired = %v", got.TimeFired)
	}
}

func TestHandleFrame_MissingEntityIDDropped(t *testing.T) {
	p := pipeline.New(10)
	ing := New(p, nil)

	body := `{"event_type":"state_changed","data":{"new_state":{"state":"on"}},"time_fired":"2025-01-20T10:05:30Z","origin":"LOCAL","context":{"id":"x"}}`
	if err := ing.HandleFrame(t.Context(), eventFrame(t, body)); err != nil {
		t.Fatalf("HandleFrame: %v", err)
	}

	select {
	case ev := <-p.Chan():
		t.Fatalf("expected no event enqueued, got %+v", ev)
	default:
	}
}

func TestHandleFrame_MissingNewStateDropped(t *testing.T) {
	p := pipeline.New(10)
	ing := New(p, nil)

	body := `{"event_type":"state_changed","data":{"entity_id":"light.a"},"time_fired":"2025-01-20T10:05:30Z","origin":"LOCAL","context":{"id":"x"}}`
	if err := ing.HandleFrame(t.Context(), eventFrame(t, body)); err != nil {
		t.Fatalf("HandleFrame: %v", err)
	}

	select {
	case ev := <-p.Chan():
		t.Fatalf("expected no event enqueued, got %+v", ev)
	default:
	}
}

func TestHandleFrame_IgnoresNonEventFrames(t *testing.T) {
	p := pipeline.New(10)
	ing := New(p, nil)

	if err := ing.HandleFrame(t.Context(), &connection.Frame{Type: connection.TypeResult}); err != nil {
		t.Fatalf("HandleFrame: %v", err)
	}
	select {
	case ev := <-p.Chan():
		t.Fatalf("expected no event enqueued for non-event frame, got %+v", ev)
	default:
	}
}

func TestHandleFrame_JoinsCatalog(t *testing.T) {
	p := pipeline.New(10)
	cache := NewCatalogCache()
	deviceID := "dev1"
	areaID := "area1"
	cache.Set("light.living_room", &deviceID, &areaID)

	ing := New(p, cache)
	if err := ing.HandleFrame(t.Context(), eventFrame(t, s1Frame)); err != nil {
		t.Fatalf("HandleFrame: %v", err)
	}

	got := <-p.Chan()
	if got.DeviceID == nil || *got.DeviceID != "dev1" {
		t.Errorf("DeviceID = %v, want dev1", got.DeviceID)
	}
	if got.AreaID == nil || *got.AreaID != "area1" {
		t.Errorf("AreaID = %v, want area1", got.AreaID)
	}
}

func TestHandleFrame_CatalogMissDoesNotBlock(t *testing.T) {
	p := pipeline.New(10)
	cache := NewCatalogCache()
	ing := New(p, cache)

	if err := ing.HandleFrame(t.Context(), eventFrame(t, s1Frame)); err != nil {
		t.Fatalf("HandleFrame: %v", err)
	}
	got := <-p.Chan()
	if got.DeviceID != nil {
		t.Errorf("DeviceID = %v, want nil on cache miss", got.DeviceID)
	}
}

type fakeRouter struct {
	handled bool
	err     error
	calls   int
}

func (f *fakeRouter) ApplyUpdateFrame(ctx context.Context, frame *connection.Frame) (bool, error) {
	f.calls++
	return f.handled, f.err
}

func TestHandleFrame_RoutesNonStateChangedToUpdateRouter(t *testing.T) {
	p := pipeline.New(10)
	ing := New(p, nil)
	router := &fakeRouter{handled: true}
	ing.SetUpdateRouter(router)

	body := `{"event_type":"device_registry_updated","data":{"action":"update","device_id":"dev1"}}`
	if err := ing.HandleFrame(t.Context(), eventFrame(t, body)); err != nil {
		t.Fatalf("HandleFrame: %v", err)
	}
	if router.calls != 1 {
		t.Fatalf("router.calls = %d, want 1", router.calls)
	}
	select {
	case ev := <-p.Chan():
		t.Fatalf("expected no event enqueued for a routed frame, got %+v", ev)
	default:
	}
}

func TestHandleFrame_UpdateRouterDeclinesFallsThroughToStateChanged(t *testing.T) {
	p := pipeline.New(10)
	ing := New(p, nil)
	ing.SetUpdateRouter(&fakeRouter{handled: false})

	if err := ing.HandleFrame(t.Context(), eventFrame(t, s1Frame)); err != nil {
		t.Fatalf("HandleFrame: %v", err)
	}
	got := <-p.Chan()
	if got.EntityID != "light.living_room" {
		t.Errorf("EntityID = %q", got.EntityID)
	}
}
