package connection

import "encoding/json"

// Frame is the generic envelope used for every Home Assistant WebSocket
// message, in both directions. Only the fields relevant to a given message
// type are populated.
type Frame struct {
	ID      int64           `json:"id,omitempty"`
	Type    string          `json:"type"`
	Success bool            `json:"success,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *FrameError     `json:"error,omitempty"`
	Event   json.RawMessage `json:"event,omitempty"`

	// Outbound-only fields.
	AccessToken string `json:"access_token,omitempty"`
	EventType   string `json:"event_type,omitempty"`
}

// FrameError is Home Assistant's {code, message} error shape.
type FrameError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

const (
	TypeAuthRequired = "auth_required"
	TypeAuth         = "auth"
	TypeAuthOK       = "auth_ok"
	TypeAuthInvalid  = "auth_invalid"

	TypeResult = "result"
	TypeEvent  = "event"

	TypePing = "ping"
	TypePong = "pong"

	TypeSubscribeEvents = "subscribe_events"

	TypeListDeviceRegistry = "config/device_registry/list"
	TypeListEntityRegistry = "config/entity_registry/list"
	TypeListAreaRegistry   = "config/area_registry/list"

	TypeDeviceRegistryUpdated = "device_registry_updated"
	TypeEntityRegistryUpdated = "entity_registry_updated"
	TypeAreaRegistryUpdated   = "area_registry_updated"
)
