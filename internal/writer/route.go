package writer

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/homelab/ha-ingestor/internal/metrics"
	"github.com/homelab/ha-ingestor/internal/model"
	"github.com/homelab/ha-ingestor/internal/tsdb"
)

// measurementRawEvents is the single measurement C4 writes to today; C6
// reads the same bucket for its detectors.
const measurementRawEvents = "home_assistant_events"

// normalize coerces an Event's timestamps to UTC millisecond precision and
// lowercases entity_id, in place. entity_id is already required to be
// lowercase by [model.ValidEntityID], so this only guards against a caller
// that bypassed validation.
func normalize(ev *model.Event) {
	ev.EntityID = strings.ToLower(ev.EntityID)
	ev.TimeFired = ev.TimeFired.UTC().Round(time.Millisecond)
	ev.IngestTime = ev.IngestTime.UTC().Round(time.Millisecond)
}

// route maps a normalized, enriched Event to one tsdb.Point, applying the
// tag/field split and cardinality bound described in the writer contract.
func (w *Writer) route(ev *model.Event) tsdb.Point {
	tags := map[string]string{
		"entity_id":  w.bound("entity_id", ev.EntityID),
		"event_type": w.bound("event_type", ev.EventType),
		"domain":     w.bound("domain", ev.Domain),
	}
	if ev.DeviceID != nil {
		tags["device_id"] = w.bound("device_id", *ev.DeviceID)
	} else {
		tags["device_id"] = ""
	}
	if ev.AreaID != nil {
		tags["area_id"] = w.bound("area_id", *ev.AreaID)
	} else {
		tags["area_id"] = ""
	}

	fields := map[string]interface{}{}
	if ev.NewState != nil {
		fields["state"] = ev.NewState.State
		if name, ok := friendlyName(ev.NewState.Attributes); ok {
			fields["attr_friendly_name"] = name
		}
		if len(ev.NewState.Attributes) > 0 {
			fields["attributes"] = string(ev.NewState.Attributes)
		}
	}
	if ev.DurationInState != nil {
		fields["duration_in_state"] = *ev.DurationInState
	}
	for source, snapshot := range ev.Enrichment {
		fields["enrichment_"+source] = string(snapshot)
	}

	return tsdb.Point{
		Measurement: measurementRawEvents,
		Tags:        tags,
		Fields:      fields,
		Time:        ev.TimeFired,
	}
}

func (w *Writer) bound(tag, value string) string {
	bounded, overflow := w.cardinality.Bound(tag, value)
	if overflow {
		metrics.TagCardinalityOverflow.WithLabelValues(tag).Inc()
	}
	return bounded
}

func friendlyName(attrs json.RawMessage) (string, bool) {
	if len(attrs) == 0 {
		return "", false
	}
	var parsed struct {
		FriendlyName string `json:"friendly_name"`
	}
	if err := json.Unmarshal(attrs, &parsed); err != nil || parsed.FriendlyName == "" {
		return "", false
	}
	return parsed.FriendlyName, true
}
