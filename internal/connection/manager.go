// Package connection implements the Connection Manager (C1): a prioritized
// pool of Home Assistant WebSocket endpoints, each guarded by a circuit
// breaker, exposing at most one live Session at a time.
package connection

import (
	"context"
	"errors"
	"time"

	"github.com/homelab/ha-ingestor/internal/breaker"
	"github.com/homelab/ha-ingestor/internal/config"
	"github.com/homelab/ha-ingestor/internal/metrics"
)

// ErrNoBackend is returned by Acquire when no endpoint yields a session:
// each breaker either denies the attempt (Open with an unelapsed reset
// timeout, or HalfOpen) or allows it and the dial or handshake fails.
var ErrNoBackend = errors.New("connection: no backend available")

// errAuthFailed marks a permanent, non-retriable endpoint failure: the
// breaker opens immediately regardless of failure_threshold.
var errAuthFailed = errors.New("connection: authentication failed")

// Outcome describes the result of an attempted operation against an
// endpoint, reported back to the Manager via Report.
type Outcome int

const (
	Success Outcome = iota
	Failure
	AuthFailure
)

type endpointState struct {
	cfg     config.HAEndpoint
	breaker *breaker.Breaker
}

// Manager maintains at most one live Session at a time, selected from a
// prioritized endpoint list. It does not buffer any data; it owns only the
// connection.
type Manager struct {
	endpoints []*endpointState
	cfg       config.HAConfig
	now       func() time.Time
}

// New builds a Manager from the configured endpoint list, in priority order
// (first entry highest priority).
func New(cfg config.HAConfig, breakerCfg config.BreakerConfig) *Manager {
	m := &Manager{cfg: cfg, now: time.Now}
	for _, ep := range cfg.Endpoints {
		m.endpoints = append(m.endpoints, &endpointState{
			cfg: ep,
			breaker: breaker.New(breaker.Config{
				FailureThreshold: breakerCfg.FailureThreshold,
				ResetTimeout:     breakerCfg.ResetTimeout,
				SuccessThreshold: breakerCfg.SuccessThreshold,
			}),
		})
	}
	return m
}

// Acquire walks endpoints in priority order and returns the first live
// Session it can establish. It returns ErrNoBackend if no endpoint both
// passes its breaker and completes the dial and auth handshake.
func (m *Manager) Acquire(ctx context.Context) (*Session, error) {
	now := m.now()
	for _, ep := range m.endpoints {
		if !ep.breaker.Allow(now) {
			continue
		}

		conn, err := dialAndAuthenticate(ctx, ep.cfg.URL, ep.cfg.Token, m.cfg.ConnectTimeout)
		if err != nil {
			if errors.Is(err, errAuthFailed) {
				m.Report(ep.cfg.Name, AuthFailure)
			} else {
				m.Report(ep.cfg.Name, Failure)
			}
			continue
		}

		m.Report(ep.cfg.Name, Success)
		return newSession(ep.cfg.Name, conn, m.cfg.ReadIdleTimeout), nil
	}
	return nil, ErrNoBackend
}

// Report records the outcome of an operation against an endpoint and
// updates its breaker accordingly. AuthFailure trips the breaker directly
// (an auth failure is a permanent error for that endpoint, not retried
// without a config change).
func (m *Manager) Report(endpoint string, outcome Outcome) {
	ep := m.find(endpoint)
	if ep == nil {
		return
	}
	now := m.now()
	switch outcome {
	case Success:
		ep.breaker.ReportSuccess(now)
	case Failure:
		ep.breaker.ReportFailure(now)
	case AuthFailure:
		ep.breaker.ForceOpen(now)
	}
	metrics.BreakerState.WithLabelValues(endpoint).Set(float64(ep.breaker.State()))
}

func (m *Manager) find(endpoint string) *endpointState {
	for _, ep := range m.endpoints {
		if ep.cfg.Name == endpoint {
			return ep
		}
	}
	return nil
}

// Status returns a per-endpoint breaker snapshot for the read-side status
// API.
func (m *Manager) Status() map[string]breaker.Snapshot {
	out := make(map[string]breaker.Snapshot, len(m.endpoints))
	for _, ep := range m.endpoints {
		out[ep.cfg.Name] = ep.breaker.Snapshot()
	}
	return out
}

// RetryDelay returns the jittered backoff delay for the nth consecutive
// ErrNoBackend result (0-indexed), per the 100ms-to-30s full-jitter policy.
func RetryDelay(attempt int, rand func(n int64) int64) time.Duration {
	const (
		base    = 100 * time.Millisecond
		maxWait = 30 * time.Second
	)
	backoff := base << attempt
	if backoff <= 0 || backoff > maxWait {
		backoff = maxWait
	}
	return time.Duration(rand(int64(backoff)))
}
