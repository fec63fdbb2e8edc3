package events

import (
	"time"

	"github.com/google/uuid"

	json "github.com/goccy/go-json"
)

// Topics emitted for vertical markup changes.
const (
	TopicMarkupCreated = "markup.created"
	TopicMarkupUpdated = "markup.updated"
	TopicMarkupDeleted = "markup.deleted"
)

// DefaultTopics returns the topics the platform emits.
func DefaultTopics() []string {
	return []string{TopicMarkupCreated, TopicMarkupUpdated, TopicMarkupDeleted}
}

// Event is a persisted domain event.
type Event struct {
	ID          uuid.UUID       `json:"id"`
	Topic       string          `json:"topic"`
	AggregateID string          `json:"aggregate_id"`
	Payload     json.RawMessage `json:"payload"`
	OccurredAt  time.Time       `json:"occurred_at"`
}
