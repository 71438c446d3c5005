package model

import (
	"encoding/json"
	"time"
)

// WebhookSubscription describes a registered outbound webhook.
type WebhookSubscription struct {
	ID         int64           `json:"id"`
	Name       string          `json:"name"`
	URL        string          `json:"url"`
	Secret     string          `json:"-"` // never serialized; used for HMAC signing
	Conditions json.RawMessage `json:"conditions"`
	Enabled    bool            `json:"enabled"`
	CreatedAt  time.Time       `json:"created_at"`
}

// DeliveryStatus enumerates the lifecycle of a single webhook delivery attempt.
type DeliveryStatus string

const (
	DeliveryPending  DeliveryStatus = "pending"
	DeliveryDelivered DeliveryStatus = "delivered"
	DeliveryFailed   DeliveryStatus = "failed"
	DeliveryGivingUp DeliveryStatus = "giving_up"
)

// WebhookDelivery tracks one delivery attempt lineage for a subscription.
// Owned by the Webhook Dispatcher (C5) until it reaches a terminal status.
type WebhookDelivery struct {
	ID             string         `json:"id"` // uuid
	SubscriptionID int64          `json:"subscription_id"`
	PayloadHash    string         `json:"payload_hash"`
	Attempt        int            `json:"attempt"`
	Status         DeliveryStatus `json:"status"`
	NextAttemptAt  *time.Time     `json:"next_attempt_at,omitempty"`
	LastError      string         `json:"last_error,omitempty"`
}

// WebhookPayload is the JSON body posted to subscriber URLs.
type WebhookPayload struct {
	SubscriptionID int64     `json:"subscription_id"`
	EventID        string    `json:"event_id"`
	FiredAt        time.Time `json:"fired_at"`
	EntityID       string    `json:"entity_id"`
	NewState       *State    `json:"new_state,omitempty"`
	OldState       *State    `json:"old_state,omitempty"`
	CorrelationID  string    `json:"correlation_id"`
}
