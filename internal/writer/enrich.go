package writer

import (
	"encoding/json"

	"github.com/homelab/ha-ingestor/internal/model"
)

// SnapshotSource returns the freshest cached snapshot for an external
// enrichment source, or ok=false if none is fresh enough. Implemented by
// [github.com/homelab/ha-ingestor/internal/enrichment.Cache].
type SnapshotSource interface {
	Name() string
	Snapshot() (json.RawMessage, bool)
}

// enrich attaches each configured source's current snapshot to ev. A
// source with no fresh snapshot is skipped silently; missing enrichment is
// never a write failure.
func enrich(ev *model.Event, sources []SnapshotSource) {
	if len(sources) == 0 {
		return
	}
	for _, src := range sources {
		snap, ok := src.Snapshot()
		if !ok {
			continue
		}
		if ev.Enrichment == nil {
			ev.Enrichment = make(map[string]json.RawMessage, len(sources))
		}
		ev.Enrichment[src.Name()] = snap
	}
}
