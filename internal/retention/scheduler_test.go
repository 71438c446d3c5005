package retention

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/homelab/ha-ingestor/internal/tsdb"
)

// fakeStoreServer fakes the Time-Series Store's query/write/purge endpoints
// in front of an in-memory point set, keyed by measurement.
type fakeStoreServer struct {
	mu      sync.Mutex
	points  map[string][]tsdb.Point
	written map[string][]tsdb.Point
	purged  []string
}

func newFakeStoreServer() *fakeStoreServer {
	return &fakeStoreServer{points: make(map[string][]tsdb.Point), written: make(map[string][]tsdb.Point)}
}

func (f *fakeStoreServer) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			measurement := r.URL.Query().Get("measurement")
			f.mu.Lock()
			pts := f.points[measurement]
			f.mu.Unlock()
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(pts)
		case http.MethodPost:
			var batch tsdb.Batch
			_ = json.NewDecoder(r.Body).Decode(&batch)
			f.mu.Lock()
			f.written[batch.Measurement] = append(f.written[batch.Measurement], batch.Points...)
			f.mu.Unlock()
			w.WriteHeader(http.StatusOK)
		case http.MethodDelete:
			measurement := r.URL.Query().Get("measurement")
			f.mu.Lock()
			f.purged = append(f.purged, measurement)
			f.mu.Unlock()
			w.WriteHeader(http.StatusOK)
		}
	}
}

func TestRunDaily_WritesOneBatchPerDetector(t *testing.T) {
	fake := newFakeStoreServer()
	srv := httptest.NewServer(fake.handler())
	defer srv.Close()

	day := time.Date(2025, 1, 20, 0, 0, 0, 0, time.UTC)
	// light.b changes within the same minute as light.a, so the
	// co-occurrence and sequence detectors also emit rows.
	fake.points[MeasurementRawEvents] = []tsdb.Point{
		rawPoint("light.a", "living_room", "on", day.Add(9*time.Hour), 10),
		rawPoint("light.b", "living_room", "on", day.Add(9*time.Hour+30*time.Second), 15),
		rawPoint("light.a", "living_room", "off", day.Add(10*time.Hour), 20),
	}

	client := tsdb.New(srv.URL, "tok", &http.Client{})
	store := openTestStore(t)
	s := testScheduler(t, store, client)

	if err := s.runDaily(t.Context()); err != nil {
		t.Fatalf("runDaily: %v", err)
	}

	for _, d := range DailyDetectors() {
		if _, ok := fake.written[d.Name()]; !ok {
			t.Errorf("expected a write to measurement %q", d.Name())
		}
	}
}

func TestRunRetentionSweep_PurgesEveryBucket(t *testing.T) {
	fake := newFakeStoreServer()
	srv := httptest.NewServer(fake.handler())
	defer srv.Close()

	client := tsdb.New(srv.URL, "tok", &http.Client{})
	store := openTestStore(t)
	s := testScheduler(t, store, client)
	s.cfg.Retention.Raw = 7 * 24 * time.Hour
	s.cfg.Retention.Daily = 90 * 24 * time.Hour
	s.cfg.Retention.Weekly = 52 * 7 * 24 * time.Hour

	if err := s.runRetentionSweep(t.Context()); err != nil {
		t.Fatalf("runRetentionSweep: %v", err)
	}

	if !contains(fake.purged, MeasurementRawEvents) {
		t.Error("expected raw bucket to be purged")
	}
	if !contains(fake.purged, MeasurementTimeBasedDaily) {
		t.Error("expected daily bucket to be purged")
	}
	if !contains(fake.purged, MeasurementSessionWeekly) {
		t.Error("expected weekly bucket to be purged")
	}
}

func contains(ss []string, want string) bool {
	for _, s := range ss {
		if strings.EqualFold(s, want) {
			return true
		}
	}
	return false
}
