package markup

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/alleato/procore-api/internal/events"
)

type memQueries struct {
	rows map[uuid.UUID]Markup
	now  time.Time
}

func (q *memQueries) ListByProject(_ context.Context, projectID int64) ([]Markup, error) {
	out := []Markup{}
	for _, m := range q.rows {
		if m.ProjectID == projectID {
			out = append(out, m)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CalculationOrder != out[j].CalculationOrder {
			return out[i].CalculationOrder < out[j].CalculationOrder
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (q *memQueries) MaxOrder(_ context.Context, projectID int64) (int, error) {
	max := 0
	for _, m := range q.rows {
		if m.ProjectID == projectID && m.CalculationOrder > max {
			max = m.CalculationOrder
		}
	}
	return max, nil
}

func (q *memQueries) Insert(_ context.Context, m Markup) (Markup, error) {
	q.now = q.now.Add(time.Second)
	m.CreatedAt, m.UpdatedAt = q.now, q.now
	q.rows[m.ID] = m
	return m, nil
}

func (q *memQueries) Update(_ context.Context, m Markup) (Markup, error) {
	existing, ok := q.rows[m.ID]
	if !ok || existing.ProjectID != m.ProjectID {
		return Markup{}, ErrNotFound
	}
	q.now = q.now.Add(time.Second)
	m.CreatedAt, m.UpdatedAt = existing.CreatedAt, q.now
	q.rows[m.ID] = m
	return m, nil
}

func (q *memQueries) Delete(_ context.Context, projectID int64, id uuid.UUID) error {
	existing, ok := q.rows[id]
	if !ok || existing.ProjectID != projectID {
		return ErrNotFound
	}
	delete(q.rows, id)
	return nil
}

// memStore is an in-memory Store whose transactions work on a copy.
type memStore struct {
	mu      sync.Mutex
	state   *memQueries
	listErr error
}

func newMemStore(seed ...Markup) *memStore {
	s := &memStore{state: &memQueries{rows: map[uuid.UUID]Markup{}, now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}}
	for _, m := range seed {
		s.state.rows[m.ID] = m
	}
	return s
}

func (s *memStore) ListByProject(ctx context.Context, projectID int64) ([]Markup, error) {
	if s.listErr != nil {
		return nil, s.listErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.ListByProject(ctx, projectID)
}

func (s *memStore) MaxOrder(ctx context.Context, projectID int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.MaxOrder(ctx, projectID)
}

func (s *memStore) Insert(ctx context.Context, m Markup) (Markup, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Insert(ctx, m)
}

func (s *memStore) Update(ctx context.Context, m Markup) (Markup, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Update(ctx, m)
}

func (s *memStore) Delete(ctx context.Context, projectID int64, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Delete(ctx, projectID, id)
}

func (s *memStore) InTx(_ context.Context, fn func(Queries) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx := &memQueries{rows: make(map[uuid.UUID]Markup, len(s.state.rows)), now: s.state.now}
	for k, v := range s.state.rows {
		tx.rows[k] = v
	}
	if err := fn(tx); err != nil {
		return err
	}
	s.state = tx
	return nil
}

type recordedEvent struct {
	Topic       string
	AggregateID string
	Payload     any
}

type fakeEmitter struct {
	mu     sync.Mutex
	events []recordedEvent
	err    error
}

func (f *fakeEmitter) Emit(_ context.Context, topic, aggregateID string, payload any) (events.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, recordedEvent{Topic: topic, AggregateID: aggregateID, Payload: payload})
	return events.Event{ID: uuid.New(), Topic: topic, AggregateID: aggregateID}, f.err
}

type fakeLocker struct {
	keys []string
	err  error
}

func (l *fakeLocker) WithLock(ctx context.Context, key string, _ time.Duration, fn func(context.Context) error) error {
	l.keys = append(l.keys, key)
	if l.err != nil {
		return l.err
	}
	return fn(ctx)
}

var errBoom = errors.New("boom")

func seedMarkup(projectID int64, order int, typ string, pct float64, compound bool) Markup {
	return Markup{
		ID:               uuid.New(),
		ProjectID:        projectID,
		MarkupType:       typ,
		Percentage:       pct,
		Compound:         compound,
		CalculationOrder: order,
		CreatedAt:        time.Date(2023, 12, 1, 0, 0, order, 0, time.UTC),
	}
}
