package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/alleato/procore-api/internal/events"
)

// FeedNotifier turns domain events into feed entries.
type FeedNotifier struct {
	Store Store
	Now   func() time.Time
}

// Notify implements events.Notifier.
func (n FeedNotifier) Notify(ctx context.Context, ev events.Event) error {
	if n.Store == nil {
		return nil
	}
	created := ev.OccurredAt
	if created.IsZero() {
		if n.Now != nil {
			created = n.Now()
		} else {
			created = time.Now()
		}
	}
	return n.Store.Add(ctx, Notification{
		ID:          ev.ID.String(),
		Topic:       ev.Topic,
		AggregateID: ev.AggregateID,
		Message:     describe(ev),
		CreatedAt:   created.UTC(),
	})
}

func describe(ev events.Event) string {
	switch ev.Topic {
	case events.TopicMarkupCreated:
		return fmt.Sprintf("Vertical markup %s added", ev.AggregateID)
	case events.TopicMarkupUpdated:
		return fmt.Sprintf("Vertical markups updated for %s", ev.AggregateID)
	case events.TopicMarkupDeleted:
		return fmt.Sprintf("Vertical markup %s removed", ev.AggregateID)
	default:
		return ev.Topic
	}
}
