package model

import (
	"encoding/json"
	"time"
)

// Device is a Catalog row reconciled from Home Assistant's device registry.
// Unique by DeviceID. Owned exclusively by the Registry Discoverer (C2);
// every other component reads it through the Catalog Store API.
type Device struct {
	DeviceID     string  `json:"device_id"`
	Name         string  `json:"name"`
	NameByUser   *string `json:"name_by_user,omitempty"`
	Manufacturer *string `json:"manufacturer,omitempty"`
	Model        *string `json:"model,omitempty"`
	SWVersion    *string `json:"sw_version,omitempty"`
	AreaID       *string `json:"area_id,omitempty"`
	Integration  string  `json:"integration"`
	EntryType    *string `json:"entry_type,omitempty"`
	HealthScore  *int    `json:"health_score,omitempty"` // 0-100
	LastSeen     *time.Time `json:"last_seen,omitempty"`
	Disabled     bool    `json:"disabled"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Entity is a Catalog row reconciled from Home Assistant's entity registry.
// Unique by EntityID; (DeviceID, UniqueID) is unique when both are present.
type Entity struct {
	EntityID  string  `json:"entity_id"`
	DeviceID  *string `json:"device_id,omitempty"`
	Domain    string  `json:"domain"`
	Platform  string  `json:"platform"`
	UniqueID  string  `json:"unique_id"`
	AreaID    *string `json:"area_id,omitempty"`
	Disabled  bool    `json:"disabled"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Area is a Catalog row reconciled from Home Assistant's area registry.
// Unique by AreaID.
type Area struct {
	AreaID    string   `json:"area_id"`
	Name      string   `json:"name"`
	Aliases   []string `json:"aliases"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// CapabilityType enumerates the shapes a device Capability's properties can take.
type CapabilityType string

const (
	CapabilityNumeric   CapabilityType = "numeric"
	CapabilityEnum      CapabilityType = "enum"
	CapabilityBinary    CapabilityType = "binary"
	CapabilityComposite CapabilityType = "composite"
)

// Capability is an optional child row of Device describing one exposed
// control or sensor surface. Unique by (DeviceID, Name).
type Capability struct {
	DeviceID   string          `json:"device_id"`
	Name       string          `json:"name"`
	Type       CapabilityType  `json:"type"`
	Properties json.RawMessage `json:"properties"`
	Exposed    bool            `json:"exposed"`
	Source     string          `json:"source"` // "expose-schema" or "inferred"
}

// NumericProperties is the Properties shape for CapabilityNumeric.
type NumericProperties struct {
	Min  *float64 `json:"min,omitempty"`
	Max  *float64 `json:"max,omitempty"`
	Unit string   `json:"unit,omitempty"`
}

// EnumProperties is the Properties shape for CapabilityEnum.
type EnumProperties struct {
	Values []string `json:"values"`
}

// CompositeProperties is the Properties shape for CapabilityComposite.
type CompositeProperties struct {
	Features []string `json:"features"`
}
