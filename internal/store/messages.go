package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

// Message directions.
const (
	DirectionIncoming = "incoming"
	DirectionOutgoing = "outgoing"
)

// StoredMessage is one entry of a tenant's message log.
type StoredMessage struct {
	ID         string    `json:"id"`
	Direction  string    `json:"direction"`
	Body       string    `json:"body"`
	From       string    `json:"from"`
	SenderName string    `json:"senderName"`
	Timestamp  time.Time `json:"timestamp"`
}

type messageRow struct {
	ID         string `db:"id"`
	TenantID   string `db:"tenant_id"`
	Direction  string `db:"direction"`
	Body       string `db:"body"`
	Contact    string `db:"contact"`
	SenderName string `db:"sender_name"`
	Timestamp  string `db:"timestamp"`
}

// MessageStore appends to and reads the per-tenant message log.
type MessageStore struct {
	db *sqlx.DB
}

func NewMessageStore(db *sqlx.DB) *MessageStore {
	return &MessageStore{db: db}
}

// Append writes one message. Re-appending an id already in the log for the
// tenant is an error; the pipeline's dedup gate makes that unreachable in
// normal operation.
func (s *MessageStore) Append(ctx context.Context, tenantID string, m StoredMessage) error {
	query := s.db.Rebind(`
		INSERT INTO messages (id, tenant_id, direction, body, contact, sender_name, timestamp)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`)
	_, err := s.db.ExecContext(ctx, query,
		m.ID, tenantID, m.Direction, m.Body, m.From, m.SenderName,
		m.Timestamp.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("append message %s for %s: %w", m.ID, tenantID, err)
	}
	return nil
}

// List returns the tenant's log in chronological order, capped at limit
// (500 when limit is not positive).
func (s *MessageStore) List(ctx context.Context, tenantID string, limit int) ([]StoredMessage, error) {
	if limit <= 0 {
		limit = 500
	}
	query := s.db.Rebind(`
		SELECT id, tenant_id, direction, body, contact, sender_name, timestamp
		FROM messages WHERE tenant_id = $1
		ORDER BY timestamp ASC LIMIT $2`)
	var rows []messageRow
	if err := s.db.SelectContext(ctx, &rows, query, tenantID, limit); err != nil {
		return nil, fmt.Errorf("list messages for %s: %w", tenantID, err)
	}
	return rowsToMessages(rows), nil
}

// ListByContact returns the tenant's messages exchanged with one contact.
func (s *MessageStore) ListByContact(ctx context.Context, tenantID, contact string) ([]StoredMessage, error) {
	query := s.db.Rebind(`
		SELECT id, tenant_id, direction, body, contact, sender_name, timestamp
		FROM messages WHERE tenant_id = $1 AND contact = $2
		ORDER BY timestamp ASC`)
	var rows []messageRow
	if err := s.db.SelectContext(ctx, &rows, query, tenantID, contact); err != nil {
		return nil, fmt.Errorf("list messages for %s/%s: %w", tenantID, contact, err)
	}
	return rowsToMessages(rows), nil
}

// Clear deletes the tenant's whole message log.
func (s *MessageStore) Clear(ctx context.Context, tenantID string) error {
	query := s.db.Rebind(`DELETE FROM messages WHERE tenant_id = $1`)
	if _, err := s.db.ExecContext(ctx, query, tenantID); err != nil {
		return fmt.Errorf("clear messages for %s: %w", tenantID, err)
	}
	return nil
}

func rowsToMessages(rows []messageRow) []StoredMessage {
	out := make([]StoredMessage, 0, len(rows))
	for _, r := range rows {
		ts, _ := time.Parse(time.RFC3339Nano, r.Timestamp)
		out = append(out, StoredMessage{
			ID:         r.ID,
			Direction:  r.Direction,
			Body:       r.Body,
			From:       r.Contact,
			SenderName: r.SenderName,
			Timestamp:  ts,
		})
	}
	return out
}
