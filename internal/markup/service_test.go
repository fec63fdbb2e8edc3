package markup

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/alleato/procore-api/internal/common"
	"github.com/alleato/procore-api/internal/events"
	"github.com/alleato/procore-api/internal/lock"
)

func ptr[T any](v T) *T { return &v }

func newTestService(t *testing.T, store Store, opts ...func(*ServiceConfig)) *Service {
	t.Helper()
	cfg := ServiceConfig{Store: store}
	for _, opt := range opts {
		opt(&cfg)
	}
	svc, err := NewService(cfg)
	require.NoError(t, err)
	return svc
}

func TestNewServiceRequiresStore(t *testing.T) {
	_, err := NewService(ServiceConfig{})
	require.Error(t, err)
}

func TestCreateAppendsAfterLastOrder(t *testing.T) {
	store := newMemStore(seedMarkup(7, 3, "Insurance", 1.5, true))
	emitter := &fakeEmitter{}
	locker := &fakeLocker{}
	svc := newTestService(t, store, func(c *ServiceConfig) { c.Events = emitter; c.Locker = locker })

	created, err := svc.Create(context.Background(), 7, CreateInput{MarkupType: "  Fee ", Percentage: ptr(5.0)})
	require.NoError(t, err)
	require.Equal(t, "Fee", created.MarkupType)
	require.Equal(t, 4, created.CalculationOrder)
	require.True(t, created.Compound, "compound defaults to true")
	require.Equal(t, []string{lock.ProjectKey(7)}, locker.keys)

	require.Len(t, emitter.events, 1)
	require.Equal(t, events.TopicMarkupCreated, emitter.events[0].Topic)
	require.Equal(t, "project:7", emitter.events[0].AggregateID)
}

func TestCreateFirstMarkupGetsOrderOne(t *testing.T) {
	svc := newTestService(t, newMemStore())
	created, err := svc.Create(context.Background(), 1, CreateInput{MarkupType: "Bond", Percentage: ptr(0.0), Compound: ptr(false)})
	require.NoError(t, err)
	require.Equal(t, 1, created.CalculationOrder)
	require.False(t, created.Compound)
}

func TestCreateValidation(t *testing.T) {
	svc := newTestService(t, newMemStore())
	cases := map[string]CreateInput{
		"missing type":       {Percentage: ptr(1.0)},
		"blank type":         {MarkupType: "   ", Percentage: ptr(1.0)},
		"missing percentage": {MarkupType: "Fee"},
		"negative":           {MarkupType: "Fee", Percentage: ptr(-1.0)},
		"over 100":           {MarkupType: "Fee", Percentage: ptr(100.5)},
		"long type":          {MarkupType: strings.Repeat("x", 101), Percentage: ptr(1.0)},
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := svc.Create(context.Background(), 1, in)
			var appErr *common.AppError
			require.ErrorAs(t, err, &appErr)
			require.Equal(t, "VALIDATION_ERROR", appErr.Code)
			require.Equal(t, http.StatusBadRequest, appErr.HTTPStatus)
		})
	}
}

func TestCreateLockContention(t *testing.T) {
	store := newMemStore()
	svc := newTestService(t, store, func(c *ServiceConfig) { c.Locker = &fakeLocker{err: lock.ErrNotAcquired} })
	_, err := svc.Create(context.Background(), 1, CreateInput{MarkupType: "Fee", Percentage: ptr(1.0)})
	var appErr *common.AppError
	require.ErrorAs(t, err, &appErr)
	require.Equal(t, http.StatusConflict, appErr.HTTPStatus)

	rows, _ := store.ListByProject(context.Background(), 1)
	require.Empty(t, rows)
}

func TestBulkUpdateRenumbersByPosition(t *testing.T) {
	a := seedMarkup(3, 1, "Insurance", 1, true)
	b := seedMarkup(3, 2, "Fee", 5, false)
	store := newMemStore(a, b)
	emitter := &fakeEmitter{}
	svc := newTestService(t, store, func(c *ServiceConfig) { c.Events = emitter })

	updated, err := svc.BulkUpdate(context.Background(), 3, BulkUpdateInput{Markups: []UpdateItem{
		{ID: b.ID.String(), MarkupType: "Fee", Percentage: ptr(6.0)},
		{ID: a.ID.String(), MarkupType: "Insurance", Percentage: ptr(1.0), Compound: ptr(false)},
	}})
	require.NoError(t, err)
	require.Len(t, updated, 2)
	require.Equal(t, b.ID, updated[0].ID)
	require.Equal(t, 1, updated[0].CalculationOrder)
	require.Equal(t, 6.0, updated[0].Percentage)
	require.False(t, updated[0].Compound, "omitted compound keeps stored value")
	require.Equal(t, 2, updated[1].CalculationOrder)
	require.False(t, updated[1].Compound)

	rows, err := store.ListByProject(context.Background(), 3)
	require.NoError(t, err)
	require.Equal(t, []uuid.UUID{b.ID, a.ID}, []uuid.UUID{rows[0].ID, rows[1].ID})
	require.Len(t, emitter.events, 1)
	require.Equal(t, events.TopicMarkupUpdated, emitter.events[0].Topic)
}

func TestBulkUpdatePartialListKeepsOrdersUnique(t *testing.T) {
	a := seedMarkup(3, 1, "Insurance", 10, false)
	b := seedMarkup(3, 2, "Bond", 5, true)
	c := seedMarkup(3, 3, "Fee", 2, true)
	store := newMemStore(a, b, c)
	svc := newTestService(t, store)

	updated, err := svc.BulkUpdate(context.Background(), 3, BulkUpdateInput{Markups: []UpdateItem{
		{ID: c.ID.String(), MarkupType: "Fee", Percentage: ptr(2.0)},
	}})
	require.NoError(t, err)
	require.Len(t, updated, 3)

	rows, err := store.ListByProject(context.Background(), 3)
	require.NoError(t, err)
	require.Equal(t, []uuid.UUID{c.ID, a.ID, b.ID}, []uuid.UUID{rows[0].ID, rows[1].ID, rows[2].ID})
	require.Equal(t, []int{1, 2, 3}, []int{rows[0].CalculationOrder, rows[1].CalculationOrder, rows[2].CalculationOrder})
	for i, m := range updated {
		require.Equal(t, rows[i].ID, m.ID)
		require.Equal(t, i+1, m.CalculationOrder)
	}
}

func TestBulkUpdateUnknownIDRollsBack(t *testing.T) {
	a := seedMarkup(3, 1, "Insurance", 1, true)
	store := newMemStore(a)
	emitter := &fakeEmitter{}
	svc := newTestService(t, store, func(c *ServiceConfig) { c.Events = emitter })

	_, err := svc.BulkUpdate(context.Background(), 3, BulkUpdateInput{Markups: []UpdateItem{
		{ID: a.ID.String(), MarkupType: "Changed", Percentage: ptr(9.0)},
		{ID: uuid.NewString(), MarkupType: "Ghost", Percentage: ptr(1.0)},
	}})
	var appErr *common.AppError
	require.ErrorAs(t, err, &appErr)
	require.Equal(t, http.StatusNotFound, appErr.HTTPStatus)

	rows, _ := store.ListByProject(context.Background(), 3)
	require.Equal(t, "Insurance", rows[0].MarkupType)
	require.Empty(t, emitter.events)
}

func TestBulkUpdateRejectsOtherProjectsMarkup(t *testing.T) {
	other := seedMarkup(99, 1, "Fee", 1, true)
	svc := newTestService(t, newMemStore(other))
	_, err := svc.BulkUpdate(context.Background(), 3, BulkUpdateInput{Markups: []UpdateItem{
		{ID: other.ID.String(), MarkupType: "Fee", Percentage: ptr(2.0)},
	}})
	var appErr *common.AppError
	require.ErrorAs(t, err, &appErr)
	require.Equal(t, "NOT_FOUND", appErr.Code)
}

func TestBulkUpdateValidation(t *testing.T) {
	svc := newTestService(t, newMemStore())
	id := uuid.NewString()
	for name, in := range map[string]BulkUpdateInput{
		"empty":        {},
		"bad id":       {Markups: []UpdateItem{{ID: "nope", MarkupType: "Fee", Percentage: ptr(1.0)}}},
		"duplicate id": {Markups: []UpdateItem{{ID: id, MarkupType: "A", Percentage: ptr(1.0)}, {ID: id, MarkupType: "B", Percentage: ptr(1.0)}}},
		"bad pct":      {Markups: []UpdateItem{{ID: id, MarkupType: "Fee", Percentage: ptr(101.0)}}},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := svc.BulkUpdate(context.Background(), 1, in)
			var appErr *common.AppError
			require.ErrorAs(t, err, &appErr)
			require.Equal(t, "VALIDATION_ERROR", appErr.Code)
		})
	}
}

func TestDelete(t *testing.T) {
	a := seedMarkup(5, 1, "Fee", 1, true)
	store := newMemStore(a)
	emitter := &fakeEmitter{}
	svc := newTestService(t, store, func(c *ServiceConfig) { c.Events = emitter })

	require.NoError(t, svc.Delete(context.Background(), 5, a.ID))
	rows, _ := store.ListByProject(context.Background(), 5)
	require.Empty(t, rows)
	require.Equal(t, events.TopicMarkupDeleted, emitter.events[0].Topic)

	err := svc.Delete(context.Background(), 5, a.ID)
	var appErr *common.AppError
	require.ErrorAs(t, err, &appErr)
	require.Equal(t, http.StatusNotFound, appErr.HTTPStatus)
}

func TestEmitFailureDoesNotFailMutation(t *testing.T) {
	svc := newTestService(t, newMemStore(), func(c *ServiceConfig) { c.Events = &fakeEmitter{err: errBoom} })
	_, err := svc.Create(context.Background(), 1, CreateInput{MarkupType: "Fee", Percentage: ptr(1.0)})
	require.NoError(t, err)
}

func TestCalculateUsesStoredOrder(t *testing.T) {
	store := newMemStore(
		seedMarkup(9, 2, "Fee", 5, true),
		seedMarkup(9, 1, "Insurance", 10, false),
	)
	svc := newTestService(t, store)

	res, err := svc.Calculate(context.Background(), 9, 100000)
	require.NoError(t, err)
	require.Empty(t, res.Message)
	require.Len(t, res.Calculations, 2)
	require.Equal(t, "Insurance", res.Calculations[0].Type)
	require.InDelta(t, 115500, res.FinalAmount, 1e-9)
	require.InDelta(t, 15500, res.TotalMarkup, 1e-9)
}

func TestCalculateNoRules(t *testing.T) {
	svc := newTestService(t, newMemStore())
	res, err := svc.Calculate(context.Background(), 9, 2500)
	require.NoError(t, err)
	require.Equal(t, NoRulesMessage, res.Message)
	require.NotNil(t, res.Calculations)
	require.Empty(t, res.Calculations)
	require.Equal(t, 2500.0, res.FinalAmount)
	require.Zero(t, res.TotalMarkup)
}

func TestCalculateStoreError(t *testing.T) {
	store := newMemStore()
	store.listErr = errBoom
	svc := newTestService(t, store)
	_, err := svc.Calculate(context.Background(), 9, 1)
	require.True(t, errors.Is(err, errBoom))
}
