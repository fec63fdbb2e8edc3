package notify

import (
	"context"
	"sync"
	"time"
)

// Notification is one entry of the activity feed.
type Notification struct {
	ID          string    `json:"id"`
	Topic       string    `json:"topic"`
	AggregateID string    `json:"aggregate_id"`
	Message     string    `json:"message"`
	CreatedAt   time.Time `json:"created_at"`
}

// Store holds recent notifications.
type Store interface {
	Add(ctx context.Context, n Notification) error
	// Recent returns at most limit notifications, newest first.
	Recent(ctx context.Context, limit int) ([]Notification, error)
}

// Feed is a fixed-capacity ring buffer of notifications. Once full, each Add
// overwrites the oldest entry. Safe for concurrent use.
type Feed struct {
	mu    sync.RWMutex
	buf   []Notification
	next  int
	count int
}

// NewFeed returns a feed retaining up to capacity notifications.
func NewFeed(capacity int) *Feed {
	if capacity <= 0 {
		capacity = 1
	}
	return &Feed{buf: make([]Notification, capacity)}
}

// Add appends n, evicting the oldest entry when the feed is full.
func (f *Feed) Add(_ context.Context, n Notification) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.buf[f.next] = n
	f.next = (f.next + 1) % len(f.buf)
	if f.count < len(f.buf) {
		f.count++
	}
	return nil
}

// Recent returns up to limit entries, newest first. A non-positive limit returns all.
func (f *Feed) Recent(_ context.Context, limit int) ([]Notification, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if limit <= 0 || limit > f.count {
		limit = f.count
	}
	out := make([]Notification, 0, limit)
	for i := 1; i <= limit; i++ {
		idx := (f.next - i + len(f.buf)) % len(f.buf)
		out = append(out, f.buf[idx])
	}
	return out, nil
}

// Len reports the number of retained notifications.
func (f *Feed) Len() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.count
}

// Cap reports the feed capacity.
func (f *Feed) Cap() int {
	return len(f.buf)
}
