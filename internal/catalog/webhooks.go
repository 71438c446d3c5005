package catalog

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/homelab/ha-ingestor/internal/model"
)

func scanSubscription(s scanner) (*model.WebhookSubscription, error) {
	var sub model.WebhookSubscription
	var conditionsJSON, createdAt string
	var enabled int

	err := s.Scan(&sub.ID, &sub.Name, &sub.URL, &sub.Secret, &conditionsJSON, &enabled, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil //nolint:nilnil
	}
	if err != nil {
		return nil, fmt.Errorf("scanning webhook subscription row: %w", err)
	}
	sub.Conditions = []byte(conditionsJSON)
	sub.Enabled = enabled != 0
	sub.CreatedAt = parseTime(createdAt)
	return &sub, nil
}

// ListWebhookSubscriptions returns every subscription, enabled or not.
func (s *Store) ListWebhookSubscriptions(ctx context.Context) ([]*model.WebhookSubscription, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, url, secret, conditions, enabled, created_at FROM webhook_subscriptions`)
	if err != nil {
		return nil, fmt.Errorf("listing webhook subscriptions: %w", err)
	}
	defer rows.Close()

	var out []*model.WebhookSubscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sub)
	}
	return out, rows.Err()
}

// CreateWebhookSubscription inserts a new subscription and returns its
// assigned id.
func (s *Store) CreateWebhookSubscription(ctx context.Context, sub *model.WebhookSubscription) (int64, error) {
	conditions := sub.Conditions
	if len(conditions) == 0 {
		conditions = []byte("{}")
	}
	res, err := s.exec(ctx,
		`INSERT INTO webhook_subscriptions (name, url, secret, conditions, enabled, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		sub.Name, sub.URL, sub.Secret, string(conditions), boolToInt(sub.Enabled), formatTime(sub.CreatedAt))
	if err != nil {
		return 0, fmt.Errorf("creating webhook subscription %q: %w", sub.Name, err)
	}
	return res.LastInsertId()
}

func scanDelivery(s scanner) (*model.WebhookDelivery, error) {
	var d model.WebhookDelivery
	var nextAttemptAt sql.NullString

	err := s.Scan(&d.ID, &d.SubscriptionID, &d.PayloadHash, &d.Attempt, &d.Status, &nextAttemptAt, &d.LastError)
	if err == sql.ErrNoRows {
		return nil, nil //nolint:nilnil
	}
	if err != nil {
		return nil, fmt.Errorf("scanning webhook delivery row: %w", err)
	}
	d.NextAttemptAt = parseTimePtr(nextAttemptAt)
	return &d, nil
}

// UpsertDelivery inserts or updates a delivery row keyed by id, ensuring a
// crash mid-dispatch never loses the pending row.
func (s *Store) UpsertDelivery(ctx context.Context, d *model.WebhookDelivery) error {
	const q = `
		INSERT INTO webhook_deliveries (id, subscription_id, payload_hash, attempt, status, next_attempt_at, last_error)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
		    attempt         = excluded.attempt,
		    status          = excluded.status,
		    next_attempt_at = excluded.next_attempt_at,
		    last_error      = excluded.last_error`

	var nextAttempt sql.NullString
	if d.NextAttemptAt != nil {
		nextAttempt = sql.NullString{String: formatTime(*d.NextAttemptAt), Valid: true}
	}

	_, err := s.exec(ctx, q, d.ID, d.SubscriptionID, d.PayloadHash, d.Attempt, string(d.Status), nextAttempt, d.LastError)
	if err != nil {
		return fmt.Errorf("upserting webhook delivery %q: %w", d.ID, err)
	}
	return nil
}

// GetPendingDeliveries returns deliveries still in pending status, used to
// resume dispatch after a crash.
func (s *Store) GetPendingDeliveries(ctx context.Context, subscriptionID int64) ([]*model.WebhookDelivery, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, subscription_id, payload_hash, attempt, status, next_attempt_at, last_error
		 FROM webhook_deliveries WHERE subscription_id = ? AND status = 'pending'`, subscriptionID)
	if err != nil {
		return nil, fmt.Errorf("listing pending deliveries for subscription %d: %w", subscriptionID, err)
	}
	defer rows.Close()

	var out []*model.WebhookDelivery
	for rows.Next() {
		d, err := scanDelivery(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}
