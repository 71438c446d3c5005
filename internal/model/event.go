// Package model defines the canonical data types shared across the ingestion
// pipeline: the flattened Event record, the Catalog entities (Device, Entity,
// Area, Capability), and the webhook subscription/delivery records.
package model

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"
)

// Origin describes whether an event originated locally or from a remote
// Home Assistant integration.
type Origin string

const (
	OriginLocal  Origin = "LOCAL"
	OriginRemote Origin = "REMOTE"
)

// entityIDPattern matches the required <domain>.<object_id> shape.
var entityIDPattern = regexp.MustCompile(`^[a-z_]+\.[a-z0-9_]+$`)

// ValidEntityID reports whether id matches the canonical entity_id shape.
func ValidEntityID(id string) bool {
	return entityIDPattern.MatchString(id)
}

// DomainOf extracts the domain prefix from an entity_id. Callers must have
// validated the id with [ValidEntityID] first; malformed ids return "".
func DomainOf(entityID string) string {
	i := strings.IndexByte(entityID, '.')
	if i <= 0 {
		return ""
	}
	return entityID[:i]
}

// Context carries the Home Assistant event context envelope.
type Context struct {
	ID       string  `json:"id"`
	ParentID *string `json:"parent_id,omitempty"`
	UserID   *string `json:"user_id,omitempty"`
}

// State is the new_state/old_state payload of a state_changed event.
type State struct {
	State       string          `json:"state"`
	Attributes  json.RawMessage `json:"attributes,omitempty"`
	LastChanged time.Time       `json:"last_changed"`
	LastUpdated time.Time       `json:"last_updated"`
}

// Event is the canonical, flattened record produced by the Event Ingestor
// (C3) and consumed by the Batch Writer (C4) and Webhook Dispatcher (C5).
//
// entity_id lives only at the top level; it is never duplicated inside
// NewState/OldState.
type Event struct {
	EventType string  `json:"event_type"`
	EntityID  string  `json:"entity_id"`
	Domain    string  `json:"domain"`
	TimeFired time.Time `json:"time_fired"`
	IngestTime time.Time `json:"ingest_time"`
	Origin    Origin  `json:"origin"`
	Context   Context `json:"context"`

	NewState *State `json:"new_state,omitempty"`
	OldState *State `json:"old_state,omitempty"`

	DeviceID *string `json:"device_id,omitempty"`
	AreaID   *string `json:"area_id,omitempty"`

	// DurationInState is seconds between OldState.LastChanged and
	// NewState.LastChanged, present only when both are known.
	DurationInState *int64 `json:"duration_in_state,omitempty"`

	// Enrichment holds external-source tags (e.g. a weather snapshot at
	// TimeFired). May be empty; absence of a tag is not an error.
	Enrichment map[string]json.RawMessage `json:"enrichment,omitempty"`
}

// ComputeDuration fills DurationInState from OldState/NewState.LastChanged
// when both are present and the result is non-negative. It is a no-op
// otherwise.
func (e *Event) ComputeDuration() {
	if e.OldState == nil || e.NewState == nil {
		return
	}
	if e.OldState.LastChanged.IsZero() || e.NewState.LastChanged.IsZero() {
		return
	}
	d := int64(e.NewState.LastChanged.Sub(e.OldState.LastChanged).Seconds())
	if d < 0 {
		return
	}
	e.DurationInState = &d
}

// Fingerprint returns a deterministic hash of the fields that identify a
// single point for idempotence/dedupe purposes, mirroring the content-hash
// convention used elsewhere in this codebase for change detection.
func (e *Event) Fingerprint() string {
	h := sha256.New()
	h.Write([]byte(e.EntityID))
	h.Write([]byte("|"))
	h.Write([]byte(e.EventType))
	h.Write([]byte("|"))
	h.Write([]byte(e.TimeFired.UTC().Format(time.RFC3339Nano)))
	h.Write([]byte("|"))
	if e.NewState != nil {
		h.Write([]byte(e.NewState.State))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// BatchID derives the idempotence key described in the writer contract:
// hash of (measurement, time of first point, count, xor of point hashes).
func BatchID(measurement string, firstPointTime time.Time, points []*Event) string {
	var xor [32]byte
	for _, p := range points {
		sum := sha256.Sum256([]byte(p.Fingerprint()))
		for i := range xor {
			xor[i] ^= sum[i]
		}
	}
	h := sha256.New()
	_, _ = fmt.Fprintf(h, "%s|%s|%d|%x", measurement, firstPointTime.UTC().Format(time.RFC3339Nano), len(points), xor)
	return hex.EncodeToString(h.Sum(nil))
}
