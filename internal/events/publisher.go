package events

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	json "github.com/goccy/go-json"

	"github.com/alleato/procore-api/internal/obs"
	"github.com/alleato/procore-api/internal/resilience"
)

// MessageWriter is the subset of *kafka.Writer used for publishing.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// KafkaPublisher writes events to a Kafka topic through a circuit breaker.
type KafkaPublisher struct {
	Writer  MessageWriter
	Breaker *resilience.Breaker
}

// NewKafkaWriter builds a writer that keys messages by aggregate so changes to
// one project keep their order within a partition.
func NewKafkaWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
		BatchTimeout:           50 * time.Millisecond,
	}
}

// Publish writes ev. It returns resilience.ErrOpenCircuit without contacting
// the brokers while the breaker is open.
func (p KafkaPublisher) Publish(ctx context.Context, ev Event) error {
	if p.Writer == nil {
		return errors.New("events: kafka writer not configured")
	}
	value, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("events: encode event: %w", err)
	}
	msg := kafka.Message{
		Key:   []byte(ev.AggregateID),
		Value: value,
		Time:  ev.OccurredAt,
		Headers: []kafka.Header{
			{Key: "event-id", Value: []byte(ev.ID.String())},
			{Key: "topic", Value: []byte(ev.Topic)},
		},
	}
	write := func(ctx context.Context) error { return p.Writer.WriteMessages(ctx, msg) }
	if p.Breaker == nil {
		return write(ctx)
	}
	return p.Breaker.Do(ctx, write)
}

// Publisher delivers events to the outside world.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// PublishedMarker records successful publication.
type PublishedMarker interface {
	MarkPublished(ctx context.Context, id uuid.UUID) error
}

// PublishHandler processes TaskPublish tasks in the worker. Returning an error
// lets asynq retry the task with backoff.
type PublishHandler struct {
	Publisher Publisher
	Marker    PublishedMarker
	Logger    zerolog.Logger
}

// ProcessTask implements asynq.Handler.
func (h PublishHandler) ProcessTask(ctx context.Context, task *asynq.Task) error {
	var ev Event
	if err := json.Unmarshal(task.Payload(), &ev); err != nil {
		h.Logger.Error().Err(err).Str("task", task.Type()).Msg("event_payload_invalid")
		return fmt.Errorf("decode event: %v: %w", err, asynq.SkipRetry)
	}
	logger := h.Logger.With().Str("event_id", ev.ID.String()).Str("topic", ev.Topic).Logger()

	err := h.Publisher.Publish(ctx, ev)
	obs.ObservePublish(err)
	if err != nil {
		if errors.Is(err, resilience.ErrOpenCircuit) {
			logger.Warn().Msg("event_publish_deferred_circuit_open")
		} else {
			logger.Error().Err(err).Msg("event_publish_failed")
		}
		return err
	}
	if h.Marker != nil {
		if err := h.Marker.MarkPublished(ctx, ev.ID); err != nil {
			logger.Warn().Err(err).Msg("event_mark_published_failed")
		}
	}
	logger.Debug().Msg("event_published")
	return nil
}
