package events_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"

	json "github.com/goccy/go-json"

	"github.com/alleato/procore-api/internal/events"
	"github.com/alleato/procore-api/internal/resilience"
)

type fakeWriter struct {
	msgs []kafka.Message
	err  error
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, msgs...)
	return nil
}

type fakeEnqueuer struct {
	tasks []*asynq.Task
	opts  [][]asynq.Option
	err   error
}

func (f *fakeEnqueuer) EnqueueContext(_ context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	f.tasks = append(f.tasks, task)
	f.opts = append(f.opts, opts)
	return &asynq.TaskInfo{}, f.err
}

type markerFunc func(context.Context, uuid.UUID) error

func (f markerFunc) MarkPublished(ctx context.Context, id uuid.UUID) error { return f(ctx, id) }

func sampleEvent() events.Event {
	return events.Event{
		ID:          uuid.MustParse("6a1f0a9e-5f3c-4b55-9d2c-1c0f3b0b7d10"),
		Topic:       events.TopicMarkupCreated,
		AggregateID: "project:42",
		Payload:     json.RawMessage(`{"markup_type":"Overhead"}`),
		OccurredAt:  time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestKafkaPublisherWritesKeyedMessage(t *testing.T) {
	w := &fakeWriter{}
	pub := events.KafkaPublisher{Writer: w, Breaker: resilience.NewBreaker(3, 0.5, time.Minute)}

	require.NoError(t, pub.Publish(context.Background(), sampleEvent()))
	require.Len(t, w.msgs, 1)
	require.Equal(t, "project:42", string(w.msgs[0].Key))
	require.Equal(t, "event-id", w.msgs[0].Headers[0].Key)

	var decoded events.Event
	require.NoError(t, json.Unmarshal(w.msgs[0].Value, &decoded))
	require.Equal(t, events.TopicMarkupCreated, decoded.Topic)
}

func TestKafkaPublisherOpensCircuit(t *testing.T) {
	w := &fakeWriter{err: errors.New("dial tcp: connection refused")}
	pub := events.KafkaPublisher{Writer: w, Breaker: resilience.NewBreaker(1, 0.5, time.Minute)}

	require.Error(t, pub.Publish(context.Background(), sampleEvent()))
	err := pub.Publish(context.Background(), sampleEvent())
	require.ErrorIs(t, err, resilience.ErrOpenCircuit)
}

func TestAsynqSchedulerEnqueuesPublishTask(t *testing.T) {
	enq := &fakeEnqueuer{}
	s := events.AsynqScheduler{Client: enq, Queue: "events", MaxRetry: 8}

	require.NoError(t, s.Schedule(context.Background(), sampleEvent()))
	require.Len(t, enq.tasks, 1)
	require.Equal(t, events.TaskPublish, enq.tasks[0].Type())
	require.Len(t, enq.opts[0], 3)
}

func TestAsynqSchedulerIgnoresDuplicates(t *testing.T) {
	s := events.AsynqScheduler{Client: &fakeEnqueuer{err: asynq.ErrTaskIDConflict}}
	require.NoError(t, s.Schedule(context.Background(), sampleEvent()))

	s = events.AsynqScheduler{Client: &fakeEnqueuer{err: errors.New("redis down")}}
	require.Error(t, s.Schedule(context.Background(), sampleEvent()))
}

func TestPublishHandlerProcessTask(t *testing.T) {
	w := &fakeWriter{}
	var marked uuid.UUID
	h := events.PublishHandler{
		Publisher: events.KafkaPublisher{Writer: w},
		Marker: markerFunc(func(_ context.Context, id uuid.UUID) error {
			marked = id
			return nil
		}),
		Logger: zerolog.Nop(),
	}
	task, err := events.NewPublishTask(sampleEvent())
	require.NoError(t, err)

	require.NoError(t, h.ProcessTask(context.Background(), task))
	require.Len(t, w.msgs, 1)
	require.Equal(t, sampleEvent().ID, marked)
}

func TestPublishHandlerRejectsMalformedPayload(t *testing.T) {
	h := events.PublishHandler{Publisher: events.KafkaPublisher{Writer: &fakeWriter{}}, Logger: zerolog.Nop()}
	err := h.ProcessTask(context.Background(), asynq.NewTask(events.TaskPublish, []byte("{")))
	require.ErrorIs(t, err, asynq.SkipRetry)
}

func TestPublishHandlerReturnsPublishError(t *testing.T) {
	h := events.PublishHandler{
		Publisher: events.KafkaPublisher{Writer: &fakeWriter{err: errors.New("leader not available")}},
		Logger:    zerolog.Nop(),
	}
	task, err := events.NewPublishTask(sampleEvent())
	require.NoError(t, err)
	require.Error(t, h.ProcessTask(context.Background(), task))
}
