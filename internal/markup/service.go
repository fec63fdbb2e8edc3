package markup

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strings"
	"time"

	validator "github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/alleato/procore-api/internal/common"
	"github.com/alleato/procore-api/internal/events"
	"github.com/alleato/procore-api/internal/lock"
	"github.com/alleato/procore-api/internal/obs"
	"github.com/alleato/procore-api/internal/pricing"
)

// Locker serialises writes for a key.
type Locker interface {
	WithLock(ctx context.Context, key string, ttl time.Duration, fn func(context.Context) error) error
}

// Emitter records domain events for committed mutations.
type Emitter interface {
	Emit(ctx context.Context, topic, aggregateID string, payload any) (events.Event, error)
}

// Service orchestrates markup persistence, locking, events and calculation.
type Service struct {
	store    Store
	locker   Locker
	lockTTL  time.Duration
	events   Emitter
	validate *validator.Validate
	logger   zerolog.Logger
}

// ServiceConfig groups Service dependencies. Locker and Events are optional.
type ServiceConfig struct {
	Store     Store
	Locker    Locker
	LockTTL   time.Duration
	Events    Emitter
	Validator *validator.Validate
	Logger    zerolog.Logger
}

// NewService constructs a Service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Store == nil {
		return nil, errors.New("markup: store is required")
	}
	v := cfg.Validator
	if v == nil {
		v = validator.New(validator.WithRequiredStructEnabled())
	}
	ttl := cfg.LockTTL
	if ttl <= 0 {
		ttl = 5 * time.Second
	}
	return &Service{
		store:    cfg.Store,
		locker:   cfg.Locker,
		lockTTL:  ttl,
		events:   cfg.Events,
		validate: v,
		logger:   cfg.Logger,
	}, nil
}

// List returns the project's markups in calculation order.
func (s *Service) List(ctx context.Context, projectID int64) ([]Markup, error) {
	rows, err := s.store.ListByProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if rows == nil {
		rows = []Markup{}
	}
	return rows, nil
}

// Create appends a markup after the project's current last rule.
func (s *Service) Create(ctx context.Context, projectID int64, in CreateInput) (created Markup, err error) {
	defer func() { obs.ObserveMutation("create", err) }()

	in.MarkupType = strings.TrimSpace(in.MarkupType)
	if err := s.check(in); err != nil {
		return Markup{}, err
	}
	compound := true
	if in.Compound != nil {
		compound = *in.Compound
	}

	err = s.withProjectLock(ctx, projectID, func(ctx context.Context) error {
		return s.store.InTx(ctx, func(q Queries) error {
			last, err := q.MaxOrder(ctx, projectID)
			if err != nil {
				return err
			}
			created, err = q.Insert(ctx, Markup{
				ID:               uuid.New(),
				ProjectID:        projectID,
				MarkupType:       in.MarkupType,
				Percentage:       *in.Percentage,
				Compound:         compound,
				CalculationOrder: last + 1,
			})
			return err
		})
	})
	if err != nil {
		return Markup{}, err
	}
	s.emit(ctx, events.TopicMarkupCreated, projectID, map[string]any{"project_id": projectID, "markup": created})
	return created, nil
}

// BulkUpdate rewrites the listed markups and renumbers them by position.
// Markups not listed keep their relative order after the listed ones, so the
// returned slice is the project's full stack. An unknown id aborts the whole
// update.
func (s *Service) BulkUpdate(ctx context.Context, projectID int64, in BulkUpdateInput) (updated []Markup, err error) {
	defer func() { obs.ObserveMutation("update", err) }()

	seen := make(map[string]struct{}, len(in.Markups))
	for i := range in.Markups {
		in.Markups[i].MarkupType = strings.TrimSpace(in.Markups[i].MarkupType)
		id := strings.ToLower(strings.TrimSpace(in.Markups[i].ID))
		if _, dup := seen[id]; dup {
			return nil, common.ValidationError("invalid markups", map[string]string{
				fmt.Sprintf("markups[%d].id", i): "duplicate",
			})
		}
		seen[id] = struct{}{}
	}
	if err := s.check(in); err != nil {
		return nil, err
	}

	err = s.withProjectLock(ctx, projectID, func(ctx context.Context) error {
		return s.store.InTx(ctx, func(q Queries) error {
			current, err := q.ListByProject(ctx, projectID)
			if err != nil {
				return err
			}
			byID := make(map[uuid.UUID]Markup, len(current))
			for _, m := range current {
				byID[m.ID] = m
			}
			updated = make([]Markup, 0, len(in.Markups))
			for i, item := range in.Markups {
				id, _ := uuid.Parse(item.ID)
				existing, ok := byID[id]
				if !ok {
					return ErrNotFound
				}
				existing.MarkupType = item.MarkupType
				existing.Percentage = *item.Percentage
				if item.Compound != nil {
					existing.Compound = *item.Compound
				}
				existing.CalculationOrder = i + 1
				row, err := q.Update(ctx, existing)
				if err != nil {
					return err
				}
				updated = append(updated, row)
			}
			next := len(in.Markups)
			for _, m := range current {
				if _, listed := seen[m.ID.String()]; listed {
					continue
				}
				next++
				if m.CalculationOrder != next {
					m.CalculationOrder = next
					if m, err = q.Update(ctx, m); err != nil {
						return err
					}
				}
				updated = append(updated, m)
			}
			return nil
		})
	})
	if err != nil {
		return nil, mapStoreError(err)
	}
	s.emit(ctx, events.TopicMarkupUpdated, projectID, map[string]any{"project_id": projectID, "markups": updated})
	return updated, nil
}

// Delete removes one markup. Remaining orders are left as stored.
func (s *Service) Delete(ctx context.Context, projectID int64, id uuid.UUID) (err error) {
	defer func() { obs.ObserveMutation("delete", err) }()

	err = s.withProjectLock(ctx, projectID, func(ctx context.Context) error {
		return s.store.InTx(ctx, func(q Queries) error {
			return q.Delete(ctx, projectID, id)
		})
	})
	if err != nil {
		return mapStoreError(err)
	}
	s.emit(ctx, events.TopicMarkupDeleted, projectID, map[string]any{"project_id": projectID, "markup_id": id})
	return nil
}

// Calculate loads the project's rules and applies them to baseAmount.
func (s *Service) Calculate(ctx context.Context, projectID int64, baseAmount float64) (CalculationResponse, error) {
	rows, err := s.store.ListByProject(ctx, projectID)
	if err != nil {
		obs.ObserveCalculation("error", 0)
		return CalculationResponse{}, err
	}
	if len(rows) == 0 {
		obs.ObserveCalculation("empty", 0)
		return CalculationResponse{
			CalculationResult: pricing.CalculationResult{
				BaseAmount:   baseAmount,
				Calculations: []pricing.CalculationStep{},
				TotalMarkup:  0,
				FinalAmount:  baseAmount,
			},
			Message: NoRulesMessage,
		}, nil
	}
	result := pricing.CalculateMarkups(baseAmount, Rules(rows))
	if !finite(result.FinalAmount) || !finite(result.TotalMarkup) {
		obs.ObserveCalculation("overflow", len(rows))
		return CalculationResponse{}, common.BadRequest("calculation result is out of range")
	}
	obs.ObserveCalculation("ok", len(rows))
	return CalculationResponse{CalculationResult: result}, nil
}

func finite(v float64) bool {
	return !math.IsInf(v, 0) && !math.IsNaN(v)
}

func (s *Service) check(v any) error {
	if err := s.validate.Struct(v); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			details := make(map[string]string, len(verrs))
			for _, fe := range verrs {
				details[fieldName(fe)] = fe.Tag()
			}
			return common.ValidationError("invalid markup", details)
		}
		return common.BadRequest("invalid markup")
	}
	return nil
}

// fieldName renders the namespace without the root struct, e.g. Markups[0].Percentage.
func fieldName(fe validator.FieldError) string {
	ns := fe.Namespace()
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		return ns[i+1:]
	}
	return ns
}

func (s *Service) withProjectLock(ctx context.Context, projectID int64, fn func(context.Context) error) error {
	if s.locker == nil {
		return fn(ctx)
	}
	err := s.locker.WithLock(ctx, lock.ProjectKey(projectID), s.lockTTL, fn)
	if errors.Is(err, lock.ErrNotAcquired) {
		return common.NewAppError("CONFLICT", "markups for this project are being modified, retry shortly", http.StatusConflict, err)
	}
	return err
}

// emit records a domain event. The mutation has already committed, so
// failures are logged and not returned.
func (s *Service) emit(ctx context.Context, topic string, projectID int64, payload any) {
	if s.events == nil {
		return
	}
	if _, err := s.events.Emit(ctx, topic, fmt.Sprintf("project:%d", projectID), payload); err != nil {
		s.logger.Error().Err(err).Str("topic", topic).Int64("project_id", projectID).Msg("markup_event_emit_failed")
	}
}

func mapStoreError(err error) error {
	if errors.Is(err, ErrNotFound) {
		return common.NotFound("markup not found")
	}
	return err
}
