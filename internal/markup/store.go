package markup

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
)

// ErrNotFound is returned when a markup does not exist for the project.
var ErrNotFound = errors.New("markup: not found")

// Queries are the row-level operations on vertical_markup.
type Queries interface {
	ListByProject(ctx context.Context, projectID int64) ([]Markup, error)
	MaxOrder(ctx context.Context, projectID int64) (int, error)
	Insert(ctx context.Context, m Markup) (Markup, error)
	Update(ctx context.Context, m Markup) (Markup, error)
	Delete(ctx context.Context, projectID int64, id uuid.UUID) error
}

// Store adds transactional execution on top of Queries.
type Store interface {
	Queries
	InTx(ctx context.Context, fn func(Queries) error) error
}

// DBTX is satisfied by *pgxpool.Pool, *pgx.Conn and pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// TxDB is a DBTX that can open transactions.
type TxDB interface {
	DBTX
	Begin(ctx context.Context) (pgx.Tx, error)
}

// PGStore implements Store on Postgres.
type PGStore struct {
	pgQueries
	db TxDB
}

// NewPGStore wraps a pool or connection.
func NewPGStore(db TxDB) *PGStore {
	return &PGStore{pgQueries: pgQueries{db: db}, db: db}
}

// InTx runs fn inside a transaction, rolling back when fn fails.
func (s *PGStore) InTx(ctx context.Context, fn func(Queries) error) error {
	return pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
		return fn(pgQueries{db: tx})
	})
}

type pgQueries struct {
	db DBTX
}

const markupColumns = `id, project_id, markup_type, percentage, compound, calculation_order, created_at, updated_at`

const listByProject = `SELECT ` + markupColumns + `
FROM vertical_markup
WHERE project_id = $1
ORDER BY calculation_order ASC, created_at ASC`

func (q pgQueries) ListByProject(ctx context.Context, projectID int64) ([]Markup, error) {
	rows, err := q.db.Query(ctx, listByProject, projectID)
	if err != nil {
		return nil, fmt.Errorf("markup: list: %w", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Markup, error) {
		return scanMarkup(row)
	})
	if err != nil {
		return nil, fmt.Errorf("markup: list: %w", err)
	}
	return out, nil
}

func (q pgQueries) MaxOrder(ctx context.Context, projectID int64) (int, error) {
	var order int
	err := q.db.QueryRow(ctx, `SELECT COALESCE(MAX(calculation_order), 0) FROM vertical_markup WHERE project_id = $1`, projectID).Scan(&order)
	if err != nil {
		return 0, fmt.Errorf("markup: max order: %w", err)
	}
	return order, nil
}

const insertMarkup = `INSERT INTO vertical_markup (id, project_id, markup_type, percentage, compound, calculation_order)
VALUES ($1, $2, $3, $4, $5, $6)
RETURNING ` + markupColumns

func (q pgQueries) Insert(ctx context.Context, m Markup) (Markup, error) {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	row := q.db.QueryRow(ctx, insertMarkup, toPGUUID(m.ID), m.ProjectID, m.MarkupType, m.Percentage, m.Compound, m.CalculationOrder)
	out, err := scanMarkup(row)
	if err != nil {
		return Markup{}, fmt.Errorf("markup: insert: %w", err)
	}
	return out, nil
}

const updateMarkup = `UPDATE vertical_markup
SET markup_type = $3, percentage = $4, compound = $5, calculation_order = $6, updated_at = now()
WHERE id = $1 AND project_id = $2
RETURNING ` + markupColumns

func (q pgQueries) Update(ctx context.Context, m Markup) (Markup, error) {
	row := q.db.QueryRow(ctx, updateMarkup, toPGUUID(m.ID), m.ProjectID, m.MarkupType, m.Percentage, m.Compound, m.CalculationOrder)
	out, err := scanMarkup(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Markup{}, ErrNotFound
	}
	if err != nil {
		return Markup{}, fmt.Errorf("markup: update: %w", err)
	}
	return out, nil
}

func (q pgQueries) Delete(ctx context.Context, projectID int64, id uuid.UUID) error {
	tag, err := q.db.Exec(ctx, `DELETE FROM vertical_markup WHERE id = $1 AND project_id = $2`, toPGUUID(id), projectID)
	if err != nil {
		return fmt.Errorf("markup: delete: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanMarkup(row pgx.Row) (Markup, error) {
	var (
		m                Markup
		id               pgtype.UUID
		created, updated pgtype.Timestamptz
	)
	if err := row.Scan(&id, &m.ProjectID, &m.MarkupType, &m.Percentage, &m.Compound, &m.CalculationOrder, &created, &updated); err != nil {
		return Markup{}, err
	}
	m.ID = uuid.UUID(id.Bytes)
	m.CreatedAt = created.Time
	m.UpdatedAt = updated.Time
	return m, nil
}

func toPGUUID(id uuid.UUID) pgtype.UUID {
	return pgtype.UUID{Bytes: id, Valid: id != uuid.Nil}
}
