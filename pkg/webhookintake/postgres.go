package webhookintake

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// PostgresStore is the database/sql-backed Store.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore wraps an already-migrated *sql.DB.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// RecordDelivery is an insert-with-conflict-ignore on deliveryID,
// mirroring the effect outbox's Schedule idiom.
func (s *PostgresStore) RecordDelivery(ctx context.Context, deliveryID, eventType, repo string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO webhook_deliveries (delivery_id, event_type, repo, received_at)
		VALUES ($1,$2,$3,$4)
		ON CONFLICT (delivery_id) DO NOTHING`,
		deliveryID, eventType, repo, time.Now().UTC())
	if err != nil {
		return false, fmt.Errorf("webhookintake: record delivery: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("webhookintake: delivery rows affected: %w", err)
	}
	return n > 0, nil
}

// PersistEvent stores the full inbound event row.
func (s *PostgresStore) PersistEvent(ctx context.Context, ev Event) error {
	payload, err := json.Marshal(ev.Payload)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO webhook_events (delivery_id, event_type, event_action, repo, payload, signature, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		ev.DeliveryID, ev.EventType, ev.EventAction, ev.Repo, payload, ev.Signature, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("webhookintake: persist event: %w", err)
	}
	return nil
}
