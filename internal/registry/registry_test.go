package registry

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/homelab/ha-ingestor/internal/config"
	"github.com/homelab/ha-ingestor/internal/connection"
)

// newFakeRegistryServer upgrades to WebSocket, performs the auth handshake,
// then answers the three registry-list commands with canned rows and echoes
// back every subscribe_events frame it receives on subscribed.
func newFakeRegistryServer(t *testing.T, devicesJSON, entitiesJSON, areasJSON string, subscribed chan<- connection.Frame) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		if err := conn.WriteJSON(&connection.Frame{Type: connection.TypeAuthRequired}); err != nil {
			return
		}
		var authFrame connection.Frame
		if err := conn.ReadJSON(&authFrame); err != nil {
			return
		}
		if err := conn.WriteJSON(&connection.Frame{Type: connection.TypeAuthOK}); err != nil {
			return
		}

		for {
			var raw json.RawMessage
			if err := conn.ReadJSON(&raw); err != nil {
				return
			}
			var frame connection.Frame
			if err := json.Unmarshal(raw, &frame); err != nil {
				return
			}
			switch frame.Type {
			case connection.TypeListDeviceRegistry:
				_ = conn.WriteJSON(&connection.Frame{ID: frame.ID, Type: connection.TypeResult, Success: true, Result: json.RawMessage(devicesJSON)})
			case connection.TypeListEntityRegistry:
				_ = conn.WriteJSON(&connection.Frame{ID: frame.ID, Type: connection.TypeResult, Success: true, Result: json.RawMessage(entitiesJSON)})
			case connection.TypeListAreaRegistry:
				_ = conn.WriteJSON(&connection.Frame{ID: frame.ID, Type: connection.TypeResult, Success: true, Result: json.RawMessage(areasJSON)})
			case connection.TypeSubscribeEvents:
				if subscribed != nil {
					subscribed <- frame
				}
				_ = conn.WriteJSON(&connection.Frame{ID: frame.ID, Type: connection.TypeResult, Success: true})
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func dialTestSession(t *testing.T, srv *httptest.Server) *connection.Session {
	t.Helper()
	cfg := config.HAConfig{
		Endpoints: []config.HAEndpoint{
			{Name: "primary", URL: "ws" + strings.TrimPrefix(srv.URL, "http"), Token: "test-token"},
		},
		ConnectTimeout:  2 * time.Second,
		ReadIdleTimeout: 2 * time.Second,
	}
	breakerCfg := config.BreakerConfig{FailureThreshold: 3, ResetTimeout: time.Second, SuccessThreshold: 2}
	mgr := connection.New(cfg, breakerCfg)
	sess, err := mgr.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	t.Cleanup(func() { _ = sess.Close() })
	return sess
}

func TestSweep_InfersCapabilitiesFromEntityDomains(t *testing.T) {
	devices := `[{"id":"dev1","name":"Living Room Light"}]`
	entities := `[{"entity_id":"light.living_room","device_id":"dev1","platform":"hue","unique_id":"u1"}]`
	areas := `[]`
	srv := newFakeRegistryServer(t, devices, entities, areas, nil)
	sess := dialTestSession(t, srv)

	store := openTestCatalog(t)
	disc := New(store)
	if err := disc.Sweep(context.Background(), sess); err != nil {
		t.Fatalf("Sweep: %v", err)
	}

	caps, err := store.ListCapabilities(context.Background(), "dev1")
	if err != nil {
		t.Fatalf("ListCapabilities: %v", err)
	}
	if len(caps) != 1 || caps[0].Name != "brightness" || caps[0].Source != "inferred" {
		t.Fatalf("caps = %+v, want one inferred brightness capability", caps)
	}
}

func TestSweep_AppliesTypedExposeSchemaOverInference(t *testing.T) {
	devices := `[{"id":"dev1","name":"Thermostat","exposes":[{"name":"mode","type":"enum","values":["auto","manual"]}]}]`
	entities := `[{"entity_id":"climate.thermostat","device_id":"dev1","platform":"zigbee2mqtt","unique_id":"u1"}]`
	areas := `[]`
	srv := newFakeRegistryServer(t, devices, entities, areas, nil)
	sess := dialTestSession(t, srv)

	store := openTestCatalog(t)
	disc := New(store)
	if err := disc.Sweep(context.Background(), sess); err != nil {
		t.Fatalf("Sweep: %v", err)
	}

	caps, err := store.ListCapabilities(context.Background(), "dev1")
	if err != nil {
		t.Fatalf("ListCapabilities: %v", err)
	}
	if len(caps) != 1 || caps[0].Name != "mode" || caps[0].Source != "expose-schema" {
		t.Fatalf("caps = %+v, want one expose-schema mode capability, not the inferred climate/temperature default", caps)
	}
}

func TestSubscribeUpdates_SubscribesAllThreeRegistryEventTypes(t *testing.T) {
	subscribed := make(chan connection.Frame, 3)
	srv := newFakeRegistryServer(t, `[]`, `[]`, `[]`, subscribed)
	sess := dialTestSession(t, srv)

	disc := New(openTestCatalog(t))
	if err := disc.SubscribeUpdates(sess); err != nil {
		t.Fatalf("SubscribeUpdates: %v", err)
	}

	got := make(map[string]bool, 3)
	for i := 0; i < 3; i++ {
		select {
		case frame := <-subscribed:
			got[frame.EventType] = true
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for subscribe_events frame %d", i+1)
		}
	}
	for _, want := range []string{connection.TypeDeviceRegistryUpdated, connection.TypeEntityRegistryUpdated, connection.TypeAreaRegistryUpdated} {
		if !got[want] {
			t.Errorf("missing subscribe_events for %q", want)
		}
	}
}
