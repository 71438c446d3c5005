package enrichment

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"
)

type fakeFetcher struct {
	calls int
	body  json.RawMessage
	err   error
}

func (f *fakeFetcher) Fetch(ctx context.Context) (json.RawMessage, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.body, nil
}

func TestCache_SnapshotMissBeforeFirstRefresh(t *testing.T) {
	c := NewCache("weather", time.Minute, &fakeFetcher{body: json.RawMessage(`{"temp":10}`)})
	if _, ok := c.Snapshot(); ok {
		t.Error("expected no snapshot before first refresh")
	}
}

func TestCache_SnapshotAvailableAfterRefresh(t *testing.T) {
	f := &fakeFetcher{body: json.RawMessage(`{"temp":10}`)}
	c := NewCache("weather", time.Minute, f)

	if err := c.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	snap, ok := c.Snapshot()
	if !ok {
		t.Fatal("expected a fresh snapshot")
	}
	if string(snap) != `{"temp":10}` {
		t.Errorf("snapshot = %s", snap)
	}
}

func TestCache_ExpiresAfterTTL(t *testing.T) {
	f := &fakeFetcher{body: json.RawMessage(`{"temp":10}`)}
	c := NewCache("weather", time.Millisecond, f)

	if err := c.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	time.Sleep(5 * time.Millisecond)
	if _, ok := c.Snapshot(); ok {
		t.Error("expected snapshot to have expired")
	}
}

func TestCache_FetchFailureKeepsPreviousSnapshot(t *testing.T) {
	f := &fakeFetcher{body: json.RawMessage(`{"temp":10}`)}
	c := NewCache("weather", time.Minute, f)
	_ = c.Refresh(context.Background())

	f.err = errors.New("upstream unavailable")
	if err := c.Refresh(context.Background()); err == nil {
		t.Fatal("expected Refresh to report the fetch error")
	}
	if _, ok := c.Snapshot(); !ok {
		t.Error("expected previous snapshot to remain valid")
	}
}
