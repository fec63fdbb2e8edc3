package events

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
)

// DBTX is satisfied by *pgxpool.Pool, *pgx.Conn and pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PGStore persists events in the domain_events table.
type PGStore struct {
	DB DBTX
}

const insertEvent = `INSERT INTO domain_events (id, topic, aggregate_id, payload)
VALUES ($1, $2, $3, $4)
RETURNING id, topic, aggregate_id, payload, occurred_at`

// InsertEvent stores ev and returns the row as written.
func (s PGStore) InsertEvent(ctx context.Context, ev Event) (Event, error) {
	var (
		id         pgtype.UUID
		out        Event
		payload    []byte
		occurredAt pgtype.Timestamptz
	)
	err := s.DB.QueryRow(ctx, insertEvent, toPGUUID(ev.ID), ev.Topic, ev.AggregateID, []byte(ev.Payload)).
		Scan(&id, &out.Topic, &out.AggregateID, &payload, &occurredAt)
	if err != nil {
		return Event{}, err
	}
	out.ID = uuid.UUID(id.Bytes)
	out.Payload = payload
	out.OccurredAt = occurredAt.Time
	return out, nil
}

// MarkPublished stamps published_at once the event reached the broker.
func (s PGStore) MarkPublished(ctx context.Context, id uuid.UUID) error {
	if _, err := s.DB.Exec(ctx, `UPDATE domain_events SET published_at = now() WHERE id = $1 AND published_at IS NULL`, toPGUUID(id)); err != nil {
		return fmt.Errorf("events: mark published: %w", err)
	}
	return nil
}

func toPGUUID(id uuid.UUID) pgtype.UUID {
	return pgtype.UUID{Bytes: id, Valid: id != uuid.Nil}
}
