package tsdb

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func testBatch() Batch {
	return Batch{
		BatchID:     "abc123",
		Measurement: "home_assistant_events",
		Points: []Point{{
			Measurement: "home_assistant_events",
			Tags:        map[string]string{"entity_id": "light.a"},
			Fields:      map[string]interface{}{"state": "on"},
			Time:        time.Now(),
		}},
	}
}

func TestClient_Write_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Batch-Id") != "abc123" {
			t.Errorf("X-Batch-Id = %q", r.Header.Get("X-Batch-Id"))
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := New(srv.URL, "tok", &http.Client{})
	if err := c.Write(context.Background(), testBatch()); err != nil {
		t.Fatalf("Write: %v", err)
	}
}

func TestClient_Write_RetriableOn5xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := New(srv.URL, "tok", &http.Client{})
	err := c.Write(context.Background(), testBatch())
	var retriable *ErrRetriable
	if !errors.As(err, &retriable) {
		t.Fatalf("err = %v, want *ErrRetriable", err)
	}
}

func TestClient_Write_RetriableOn429(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := New(srv.URL, "tok", &http.Client{})
	err := c.Write(context.Background(), testBatch())
	var retriable *ErrRetriable
	if !errors.As(err, &retriable) {
		t.Fatalf("err = %v, want *ErrRetriable", err)
	}
}

func TestClient_Write_NonRetriableOn400(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	c := New(srv.URL, "tok", &http.Client{})
	err := c.Write(context.Background(), testBatch())
	var nonRetriable *ErrNonRetriable
	if !errors.As(err, &nonRetriable) {
		t.Fatalf("err = %v, want *ErrNonRetriable", err)
	}
}

func TestClient_Query_DecodesPoints(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("measurement"); got != "home_assistant_events" {
			t.Errorf("measurement = %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[{"measurement":"home_assistant_events","tags":{"entity_id":"light.a"},"fields":{"state":"on"},"time":"2025-01-20T00:00:00Z"}]`))
	}))
	defer srv.Close()

	c := New(srv.URL, "tok", &http.Client{})
	points, err := c.Query(context.Background(), "home_assistant_events", time.Now().Add(-24*time.Hour), time.Now())
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(points) != 1 || points[0].Tags["entity_id"] != "light.a" {
		t.Fatalf("points = %+v", points)
	}
}

func TestClient_Purge_SendsDeleteWithBeforeParam(t *testing.T) {
	var gotMethod, gotBefore string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotBefore = r.URL.Query().Get("before")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := New(srv.URL, "tok", &http.Client{})
	cutoff := time.Date(2025, 1, 13, 0, 0, 0, 0, time.UTC)
	if err := c.Purge(context.Background(), "home_assistant_events", cutoff); err != nil {
		t.Fatalf("Purge: %v", err)
	}
	if gotMethod != http.MethodDelete {
		t.Errorf("method = %q, want DELETE", gotMethod)
	}
	if gotBefore == "" {
		t.Error("expected a before query param")
	}
}
