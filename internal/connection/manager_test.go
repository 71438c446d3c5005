package connection

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/homelab/ha-ingestor/internal/config"
)

// newFakeHAServer starts a test HTTP server that upgrades to WebSocket and
// performs the auth handshake. validToken controls whether auth succeeds.
func newFakeHAServer(t *testing.T, validToken string) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		if err := conn.WriteJSON(&Frame{Type: TypeAuthRequired}); err != nil {
			return
		}
		var authFrame Frame
		if err := conn.ReadJSON(&authFrame); err != nil {
			return
		}
		if authFrame.AccessToken != validToken {
			_ = conn.WriteJSON(&Frame{Type: TypeAuthInvalid})
			return
		}
		if err := conn.WriteJSON(&Frame{Type: TypeAuthOK}); err != nil {
			return
		}

		// Keep the connection open for subsequent frame exchange in
		// tests that need it; idle read will time out naturally when
		// the test server is closed.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func wsURL(httpURL string) string {
	return "ws" + strings.TrimPrefix(httpURL, "http")
}

func TestManager_AcquireSucceedsOnValidToken(t *testing.T) {
	srv := newFakeHAServer(t, "good-token")

	cfg := config.HAConfig{
		Endpoints: []config.HAEndpoint{
			{Name: "primary", URL: wsURL(srv.URL), Token: "good-token"},
		},
		ConnectTimeout:  2 * time.Second,
		ReadIdleTimeout: 2 * time.Second,
	}
	breakerCfg := config.BreakerConfig{FailureThreshold: 3, ResetTimeout: time.Second, SuccessThreshold: 2}

	m := New(cfg, breakerCfg)
	sess, err := m.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	defer sess.Close()
	if sess.Endpoint != "primary" {
		t.Errorf("Endpoint = %q, want primary", sess.Endpoint)
	}
}

func TestManager_AcquireFailsOnInvalidToken(t *testing.T) {
	srv := newFakeHAServer(t, "good-token")

	cfg := config.HAConfig{
		Endpoints: []config.HAEndpoint{
			{Name: "primary", URL: wsURL(srv.URL), Token: "wrong-token"},
		},
		ConnectTimeout:  2 * time.Second,
		ReadIdleTimeout: 2 * time.Second,
	}
	breakerCfg := config.BreakerConfig{FailureThreshold: 3, ResetTimeout: time.Second, SuccessThreshold: 2}

	m := New(cfg, breakerCfg)
	_, err := m.Acquire(context.Background())
	if err == nil {
		t.Fatal("expected Acquire to fail on invalid token")
	}

	status := m.Status()
	if status["primary"].State.String() != "open" {
		t.Errorf("breaker state = %v, want open after auth failure", status["primary"].State)
	}
}

func TestManager_FallsBackToSecondEndpoint(t *testing.T) {
	badSrv := newFakeHAServer(t, "expected-token")
	goodSrv := newFakeHAServer(t, "second-token")

	cfg := config.HAConfig{
		Endpoints: []config.HAEndpoint{
			{Name: "primary", URL: wsURL(badSrv.URL), Token: "wrong-token"},
			{Name: "fallback", URL: wsURL(goodSrv.URL), Token: "second-token"},
		},
		ConnectTimeout:  2 * time.Second,
		ReadIdleTimeout: 2 * time.Second,
	}
	breakerCfg := config.BreakerConfig{FailureThreshold: 3, ResetTimeout: time.Second, SuccessThreshold: 2}

	m := New(cfg, breakerCfg)
	sess, err := m.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	defer sess.Close()
	if sess.Endpoint != "fallback" {
		t.Errorf("Endpoint = %q, want fallback", sess.Endpoint)
	}
}

func TestManager_ErrNoBackendWhenAllOpen(t *testing.T) {
	cfg := config.HAConfig{
		Endpoints: []config.HAEndpoint{
			{Name: "primary", URL: "ws://127.0.0.1:1/unreachable", Token: "t"},
		},
		ConnectTimeout:  100 * time.Millisecond,
		ReadIdleTimeout: time.Second,
	}
	breakerCfg := config.BreakerConfig{FailureThreshold: 1, ResetTimeout: time.Hour, SuccessThreshold: 1}

	m := New(cfg, breakerCfg)
	_, err := m.Acquire(context.Background())
	if err == nil {
		t.Fatal("expected first Acquire to fail (unreachable)")
	}

	_, err = m.Acquire(context.Background())
	if err != ErrNoBackend {
		t.Fatalf("second Acquire error = %v, want ErrNoBackend", err)
	}
}

func TestRetryDelay_WithinBounds(t *testing.T) {
	identity := func(n int64) int64 { return n - 1 }
	d := RetryDelay(10, identity) // would overflow without the cap
	if d > 30*time.Second {
		t.Errorf("RetryDelay(10) = %v, want <= 30s", d)
	}
}
