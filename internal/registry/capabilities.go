package registry

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/homelab/ha-ingestor/internal/catalog"
	"github.com/homelab/ha-ingestor/internal/model"
)

// exposeEntry mirrors one entry of an integration's typed expose schema,
// when present.
type exposeEntry struct {
	Name string          `json:"name"`
	Type string          `json:"type"` // numeric, enum, binary, composite
	Min  *float64        `json:"min,omitempty"`
	Max  *float64        `json:"max,omitempty"`
	Unit string          `json:"unit,omitempty"`
	Values []string      `json:"values,omitempty"`
	Features []string    `json:"features,omitempty"`
	Raw    json.RawMessage `json:"-"`
}

// ApplyExposeSchema maps each expose entry to a Capability row with its
// native type and a JSON properties blob.
func ApplyExposeSchema(ctx context.Context, store *catalog.Store, deviceID string, entries []exposeEntry) error {
	for _, entry := range entries {
		props, err := propertiesJSON(entry)
		if err != nil {
			return fmt.Errorf("building properties for capability %q: %w", entry.Name, err)
		}
		row := &model.Capability{
			DeviceID:   deviceID,
			Name:       entry.Name,
			Type:       model.CapabilityType(entry.Type),
			Properties: props,
			Exposed:    true,
			Source:     "expose-schema",
		}
		if err := store.UpsertCapability(ctx, row); err != nil {
			return err
		}
	}
	return nil
}

func propertiesJSON(e exposeEntry) (json.RawMessage, error) {
	switch model.CapabilityType(e.Type) {
	case model.CapabilityNumeric:
		return json.Marshal(model.NumericProperties{Min: e.Min, Max: e.Max, Unit: e.Unit})
	case model.CapabilityEnum:
		return json.Marshal(model.EnumProperties{Values: e.Values})
	case model.CapabilityComposite:
		return json.Marshal(model.CompositeProperties{Features: e.Features})
	default:
		return []byte("{}"), nil
	}
}

// domainInferredCapabilities maps a domain lacking a typed expose schema to
// its inferred capability set, e.g. light -> numeric brightness [0-255].
var domainInferredCapabilities = map[string][]model.Capability{
	"light": {{
		Name: "brightness", Type: model.CapabilityNumeric, Source: "inferred",
	}},
	"climate": {{
		Name: "temperature", Type: model.CapabilityNumeric, Source: "inferred",
	}},
	"cover": {{
		Name: "position", Type: model.CapabilityNumeric, Source: "inferred",
	}},
	"fan": {{
		Name: "speed", Type: model.CapabilityNumeric, Source: "inferred",
	}},
}

// InferCapabilities derives capabilities for a device from its associated
// entities' domains, used when the integration reports no typed expose
// schema.
func InferCapabilities(ctx context.Context, store *catalog.Store, deviceID string, entityDomains []string) error {
	seen := make(map[string]bool)
	for _, domain := range entityDomains {
		caps, ok := domainInferredCapabilities[domain]
		if !ok {
			continue
		}
		for _, c := range caps {
			if seen[c.Name] {
				continue
			}
			seen[c.Name] = true

			props, err := inferredProperties(domain, c.Name)
			if err != nil {
				return err
			}
			row := &model.Capability{
				DeviceID:   deviceID,
				Name:       c.Name,
				Type:       c.Type,
				Properties: props,
				Exposed:    true,
				Source:     "inferred",
			}
			if err := store.UpsertCapability(ctx, row); err != nil {
				return err
			}
		}
	}
	return nil
}

func inferredProperties(domain, name string) (json.RawMessage, error) {
	switch {
	case domain == "light" && name == "brightness":
		return json.Marshal(model.NumericProperties{Min: f(0), Max: f(255)})
	case domain == "cover" && name == "position":
		return json.Marshal(model.NumericProperties{Min: f(0), Max: f(100), Unit: "%"})
	default:
		return json.Marshal(model.NumericProperties{})
	}
}

func f(v float64) *float64 { return &v }
