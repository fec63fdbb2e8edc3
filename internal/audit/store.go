package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"

	json "github.com/goccy/go-json"
)

// Entry is one row of the audit log.
type Entry struct {
	ID           int64           `json:"id"`
	ActorKind    string          `json:"actor_kind"`
	ActorUserID  *string         `json:"actor_user_id,omitempty"`
	Action       string          `json:"action"`
	ResourceType string          `json:"resource_type"`
	ResourceID   *string         `json:"resource_id,omitempty"`
	Method       string          `json:"method"`
	Path         string          `json:"path"`
	Route        *string         `json:"route,omitempty"`
	Status       int             `json:"status"`
	IP           *string         `json:"ip,omitempty"`
	UserAgent    *string         `json:"user_agent,omitempty"`
	RequestID    *string         `json:"request_id,omitempty"`
	Metadata     json.RawMessage `json:"metadata,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
}

// Store defines the database operations required for auditing.
type Store interface {
	InsertAuditLog(ctx context.Context, e Entry) error
	ListAuditLogs(ctx context.Context, limit, offset int) ([]Entry, error)
}

// DBTX is satisfied by *pgxpool.Pool and pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// PGStore persists audit entries in the audit_logs table.
type PGStore struct {
	DB DBTX
}

const insertAuditLog = `INSERT INTO audit_logs
  (actor_kind, actor_user_id, action, resource_type, resource_id, method, path, route, status, ip, user_agent, request_id, metadata)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`

// InsertAuditLog writes e.
func (s PGStore) InsertAuditLog(ctx context.Context, e Entry) error {
	var metadata any
	if len(e.Metadata) > 0 {
		metadata = []byte(e.Metadata)
	}
	_, err := s.DB.Exec(ctx, insertAuditLog,
		e.ActorKind, toNullUUID(e.ActorUserID), e.Action, e.ResourceType, toNullText(e.ResourceID),
		e.Method, e.Path, toNullText(e.Route), int32(e.Status), toNullText(e.IP),
		toNullText(e.UserAgent), toNullText(e.RequestID), metadata,
	)
	if err != nil {
		return fmt.Errorf("audit: insert: %w", err)
	}
	return nil
}

const listAuditLogs = `SELECT id, actor_kind, actor_user_id, action, resource_type, resource_id, method, path, route,
  status, ip, user_agent, request_id, metadata, created_at
FROM audit_logs
ORDER BY created_at DESC, id DESC
LIMIT $1 OFFSET $2`

// ListAuditLogs returns entries newest first.
func (s PGStore) ListAuditLogs(ctx context.Context, limit, offset int) ([]Entry, error) {
	rows, err := s.DB.Query(ctx, listAuditLogs, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("audit: list: %w", err)
	}
	defer rows.Close()

	out := make([]Entry, 0, limit)
	for rows.Next() {
		var (
			e                           Entry
			actor                       pgtype.UUID
			resID, route, ip, ua, reqID pgtype.Text
			status                      int32
			metadata                    []byte
		)
		if err := rows.Scan(&e.ID, &e.ActorKind, &actor, &e.Action, &e.ResourceType, &resID, &e.Method, &e.Path,
			&route, &status, &ip, &ua, &reqID, &metadata, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("audit: scan: %w", err)
		}
		if actor.Valid {
			id := uuid.UUID(actor.Bytes).String()
			e.ActorUserID = &id
		}
		e.ResourceID = fromNullText(resID)
		e.Route = fromNullText(route)
		e.IP = fromNullText(ip)
		e.UserAgent = fromNullText(ua)
		e.RequestID = fromNullText(reqID)
		e.Status = int(status)
		if len(metadata) > 0 {
			e.Metadata = metadata
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func toNullUUID(value *string) pgtype.UUID {
	if value == nil {
		return pgtype.UUID{}
	}
	parsed, err := uuid.Parse(*value)
	if err != nil {
		return pgtype.UUID{}
	}
	return pgtype.UUID{Bytes: parsed, Valid: true}
}

func toNullText(value *string) pgtype.Text {
	if value == nil {
		return pgtype.Text{}
	}
	return pgtype.Text{String: *value, Valid: true}
}

func fromNullText(value pgtype.Text) *string {
	if !value.Valid {
		return nil
	}
	s := value.String
	return &s
}
