package archive

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/terminal-bench/vaultengine/pkg/messaging"
)

// Store persists published vault events to Postgres so indexers and
// operators can query history after the fact.
type Store struct {
	db *sql.DB
}

// StoredEvent is one archived event row.
type StoredEvent struct {
	ID        int64           `json:"id"`
	Subject   string          `json:"subject"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
}

// NewStore wraps an open database handle.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// EnsureSchema creates the events table if it does not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx,
		`CREATE TABLE IF NOT EXISTS vault_events (
			id         BIGSERIAL PRIMARY KEY,
			subject    TEXT NOT NULL,
			payload    JSONB NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`)
	if err != nil {
		return fmt.Errorf("failed to create events table: %w", err)
	}
	return nil
}

// Record inserts one event.
func (s *Store) Record(ctx context.Context, subject string, payload []byte) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO vault_events (subject, payload) VALUES ($1, $2)`,
		subject, payload,
	)
	if err != nil {
		return fmt.Errorf("failed to record event: %w", err)
	}
	return nil
}

// Recent returns the newest events, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]StoredEvent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, subject, payload, created_at
		 FROM vault_events ORDER BY id DESC LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var events []StoredEvent
	for rows.Next() {
		var e StoredEvent
		if err := rows.Scan(&e.ID, &e.Subject, &e.Payload, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// RecentBySubject returns the newest events for one subject.
func (s *Store) RecentBySubject(ctx context.Context, subject string, limit int) ([]StoredEvent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, subject, payload, created_at
		 FROM vault_events WHERE subject = $1 ORDER BY id DESC LIMIT $2`,
		subject, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var events []StoredEvent
	for rows.Next() {
		var e StoredEvent
		if err := rows.Scan(&e.ID, &e.Subject, &e.Payload, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// Subjects is every subject the archiver follows.
var Subjects = []string{
	messaging.EventTypeShareIssued,
	messaging.EventTypeShareRedeemed,
	messaging.EventTypeTransferTaxed,
	messaging.EventTypeBurnApplied,
	messaging.EventTypeTokenDeposited,
	messaging.EventTypeClaimMinted,
	messaging.EventTypeClaimRedeemed,
	messaging.EventTypeWeightUpdated,
}

// Follow queue-subscribes the store to every vault subject. Insert failures
// are reported through errs; the subscription stays up.
func (s *Store) Follow(ctx context.Context, client *messaging.Client, errs chan<- error) error {
	for _, subject := range Subjects {
		subject := subject
		err := client.QueueSubscribe(subject, "archive", func(msg *nats.Msg) {
			if err := s.Record(ctx, subject, msg.Data); err != nil {
				select {
				case errs <- err:
				default:
				}
			}
		})
		if err != nil {
			return fmt.Errorf("failed to follow %s: %w", subject, err)
		}
	}
	return nil
}
