package events

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	json "github.com/goccy/go-json"
)

// TaskPublish is the asynq task type carrying an event to the broker.
const TaskPublish = "event:publish"

// Enqueuer is the subset of *asynq.Client used to schedule tasks.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// AsynqScheduler enqueues one publish task per event, keyed by event id.
type AsynqScheduler struct {
	Client   Enqueuer
	Queue    string
	MaxRetry int
	Timeout  time.Duration
}

// Schedule enqueues ev for publication. Re-scheduling the same event is a no-op.
func (s AsynqScheduler) Schedule(ctx context.Context, ev Event) error {
	if s.Client == nil {
		return nil
	}
	task, err := NewPublishTask(ev)
	if err != nil {
		return err
	}
	opts := []asynq.Option{asynq.TaskID(ev.ID.String())}
	if s.Queue != "" {
		opts = append(opts, asynq.Queue(s.Queue))
	}
	if s.MaxRetry > 0 {
		opts = append(opts, asynq.MaxRetry(s.MaxRetry))
	}
	if s.Timeout > 0 {
		opts = append(opts, asynq.Timeout(s.Timeout))
	}
	if _, err := s.Client.EnqueueContext(ctx, task, opts...); err != nil && !errors.Is(err, asynq.ErrTaskIDConflict) {
		return fmt.Errorf("enqueue %s: %w", TaskPublish, err)
	}
	return nil
}

// NewPublishTask encodes ev as a publish task.
func NewPublishTask(ev Event) (*asynq.Task, error) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("encode event: %w", err)
	}
	return asynq.NewTask(TaskPublish, payload), nil
}
