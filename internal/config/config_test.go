package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	f, err := os.CreateTemp(t.TempDir(), "config-*.yaml")
	if err != nil {
		t.Fatalf("creating temp config: %v", err)
	}
	if _, err := f.WriteString(content); err != nil {
		t.Fatalf("writing temp config: %v", err)
	}
	f.Close()
	return f.Name()
}

const baseValidConfig = `
ha:
  endpoints:
    - name: primary
      url: "ws://homeassistant.local:8123/api/websocket"
      token: "abc123"
writer:
  tsdb_url: "http://tsdb.local:8086/write"
`

func TestLoad_Valid(t *testing.T) {
	path := writeConfig(t, baseValidConfig)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(cfg.HA.Endpoints) != 1 {
		t.Fatalf("Endpoints len = %d, want 1", len(cfg.HA.Endpoints))
	}
	if cfg.HA.Endpoints[0].URL != "ws://homeassistant.local:8123/api/websocket" {
		t.Errorf("Endpoints[0].URL = %q", cfg.HA.Endpoints[0].URL)
	}
	if cfg.Writer.TSDBURL != "http://tsdb.local:8086/write" {
		t.Errorf("Writer.TSDBURL = %q", cfg.Writer.TSDBURL)
	}
}

func TestLoad_Defaults(t *testing.T) {
	path := writeConfig(t, baseValidConfig)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.HA.ConnectTimeout != 10*time.Second {
		t.Errorf("HA.ConnectTimeout = %v, want 10s", cfg.HA.ConnectTimeout)
	}
	if cfg.Breaker.FailureThreshold != 5 {
		t.Errorf("Breaker.FailureThreshold = %d, want 5", cfg.Breaker.FailureThreshold)
	}
	if cfg.Pipeline.Capacity != 1000 {
		t.Errorf("Pipeline.Capacity = %d, want 1000", cfg.Pipeline.Capacity)
	}
	if cfg.Writer.BatchSize != 500 {
		t.Errorf("Writer.BatchSize = %d, want 500", cfg.Writer.BatchSize)
	}
	if len(cfg.Webhook.AttemptSchedule) != 3 {
		t.Errorf("Webhook.AttemptSchedule len = %d, want 3", len(cfg.Webhook.AttemptSchedule))
	}
	if cfg.Schedule.DailyAggregate != "0 3 * * *" {
		t.Errorf("Schedule.DailyAggregate = %q", cfg.Schedule.DailyAggregate)
	}
	if cfg.HTTPAPI.ListenAddr != ":8080" {
		t.Errorf("HTTPAPI.ListenAddr = %q, want :8080", cfg.HTTPAPI.ListenAddr)
	}
	if cfg.CatalogDB != "ha-ingestor.db" {
		t.Errorf("CatalogDB = %q", cfg.CatalogDB)
	}
}

func TestLoad_NoEndpoints(t *testing.T) {
	path := writeConfig(t, `
writer:
  tsdb_url: "http://tsdb.local:8086/write"
`)
	_, err := Load(path)
	if err == nil {
		t.Fatal("expected error for missing ha.endpoints, got nil")
	}
}

func TestLoad_InvalidEndpointURL(t *testing.T) {
	path := writeConfig(t, `
ha:
  endpoints:
    - name: primary
      url: "not-a-url"
      token: "abc123"
writer:
  tsdb_url: "http://tsdb.local:8086/write"
`)
	_, err := Load(path)
	if err == nil {
		t.Fatal("expected error for invalid endpoint url, got nil")
	}
}

func TestLoad_DuplicateEndpointName(t *testing.T) {
	path := writeConfig(t, `
ha:
  endpoints:
    - name: primary
      url: "ws://a.local:8123/api/websocket"
      token: "abc123"
    - name: primary
      url: "ws://b.local:8123/api/websocket"
      token: "def456"
writer:
  tsdb_url: "http://tsdb.local:8086/write"
`)
	_, err := Load(path)
	if err == nil {
		t.Fatal("expected error for duplicate endpoint name, got nil")
	}
}

func TestLoad_MissingEndpointToken(t *testing.T) {
	path := writeConfig(t, `
ha:
  endpoints:
    - name: primary
      url: "ws://homeassistant.local:8123/api/websocket"
writer:
  tsdb_url: "http://tsdb.local:8086/write"
`)
	_, err := Load(path)
	if err == nil {
		t.Fatal("expected error for missing endpoint token, got nil")
	}
}

func TestLoad_MissingTSDBURL(t *testing.T) {
	path := writeConfig(t, `
ha:
  endpoints:
    - name: primary
      url: "ws://homeassistant.local:8123/api/websocket"
      token: "abc123"
`)
	_, err := Load(path)
	if err == nil {
		t.Fatal("expected error for missing writer.tsdb_url, got nil")
	}
}

func TestLoad_UnknownKey(t *testing.T) {
	path := writeConfig(t, baseValidConfig+"\nunknown_field: oops\n")
	_, err := Load(path)
	if err == nil {
		t.Fatal("expected error for unknown config key, got nil")
	}
}

func TestLoad_FileNotFound(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nonexistent.yaml"))
	if err == nil {
		t.Fatal("expected error for missing file, got nil")
	}
}

func TestDefaultPath(t *testing.T) {
	path, err := DefaultPath()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if path == "" {
		t.Error("DefaultPath returned empty string")
	}
}

func TestLoad_EnrichmentSourceMissingURL(t *testing.T) {
	path := writeConfig(t, baseValidConfig+`
enrichment:
  sources:
    weather:
      enabled: true
      ttl: 10m
`)
	_, err := Load(path)
	if err == nil {
		t.Fatal("expected error for enabled enrichment source missing url, got nil")
	}
}

func TestLoad_EnrichmentSourceDisabledNoURL(t *testing.T) {
	path := writeConfig(t, baseValidConfig+`
enrichment:
  sources:
    weather:
      enabled: false
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Enrichment.Sources["weather"].Enabled {
		t.Error("expected weather source disabled")
	}
}

func TestLoad_TelemetryValid(t *testing.T) {
	path := writeConfig(t, baseValidConfig+`
telemetry:
  otlp_endpoint: "localhost:4317"
  insecure: true
  service_name: "my-ha-ingestor"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Telemetry == nil {
		t.Fatal("expected Telemetry to be non-nil")
	}
	if cfg.Telemetry.OTLPEndpoint != "localhost:4317" {
		t.Errorf("OTLPEndpoint = %q, want %q", cfg.Telemetry.OTLPEndpoint, "localhost:4317")
	}
	if !cfg.Telemetry.Insecure {
		t.Error("Insecure = false, want true")
	}
	if cfg.Telemetry.ServiceName != "my-ha-ingestor" {
		t.Errorf("ServiceName = %q, want %q", cfg.Telemetry.ServiceName, "my-ha-ingestor")
	}
}

func TestLoad_TelemetryOmitted(t *testing.T) {
	path := writeConfig(t, baseValidConfig)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Telemetry != nil {
		t.Error("expected Telemetry to be nil when block is omitted")
	}
}

func TestLoad_TelemetryMissingEndpoint(t *testing.T) {
	path := writeConfig(t, baseValidConfig+`
telemetry:
  insecure: true
`)
	_, err := Load(path)
	if err == nil {
		t.Fatal("expected error for telemetry missing otlp_endpoint, got nil")
	}
}

func TestLoad_TelemetryHeaders(t *testing.T) {
	path := writeConfig(t, baseValidConfig+`
telemetry:
  otlp_endpoint: "otelcol.example.com:4317"
  headers:
    Authorization: "Bearer secret"
    x-dataset: "test"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(cfg.Telemetry.Headers) != 2 {
		t.Fatalf("Headers len = %d, want 2", len(cfg.Telemetry.Headers))
	}
	if cfg.Telemetry.Headers["Authorization"] != "Bearer secret" {
		t.Errorf("Authorization header = %q, want %q", cfg.Telemetry.Headers["Authorization"], "Bearer secret")
	}
}
