package degradation

import (
	"errors"
	"sync"
	"time"

	"github.com/longregen/marlowe/internal/metrics"
	"github.com/longregen/marlowe/shared/id"
)

// Priority orders queued messages. High-priority messages dequeue first
// and survive eviction.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
)

const (
	// DefaultQueueCapacity bounds the offline queue. Beyond it the oldest
	// low-priority message is evicted to make room.
	DefaultQueueCapacity = 50

	// MaxDeliveryAttempts is how many times a queued message is retried
	// before it is reported as permanently failed.
	MaxDeliveryAttempts = 3
)

// ErrQueueFull is returned when the queue is at capacity and nothing is
// evictable (every queued message is high priority).
var ErrQueueFull = errors.New("offline queue full")

// QueuedMessage is a message held for delivery once the connection
// recovers.
type QueuedMessage struct {
	ID             string
	ConversationID string
	UserID         string
	Content        string
	Priority       Priority
	Attempts       int
	EnqueuedAt     time.Time
}

// Queue is a bounded, priority-ordered holding area for messages composed
// while offline.
type Queue struct {
	mu       sync.Mutex
	items    []*QueuedMessage
	capacity int
}

func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = DefaultQueueCapacity
	}
	return &Queue{capacity: capacity}
}

// Enqueue adds a message and returns its queue ID. At capacity, the
// oldest message of less-than-high priority is evicted first; if every
// queued message is high priority, the new message is rejected instead.
func (q *Queue) Enqueue(conversationID, userID, content string, priority Priority) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) >= q.capacity {
		if !q.evictLocked() {
			return "", ErrQueueFull
		}
	}

	msg := &QueuedMessage{
		ID:             id.NewQueued(),
		ConversationID: conversationID,
		UserID:         userID,
		Content:        content,
		Priority:       priority,
		EnqueuedAt:     time.Now().UTC(),
	}
	q.items = append(q.items, msg)
	metrics.OfflineQueueDepth.Set(float64(len(q.items)))
	return msg.ID, nil
}

// evictLocked removes the lowest-priority message, oldest first within
// that priority. Returns false when nothing is evictable.
func (q *Queue) evictLocked() bool {
	victim := -1
	for i, m := range q.items {
		if m.Priority == PriorityHigh {
			continue
		}
		if victim == -1 ||
			m.Priority < q.items[victim].Priority ||
			(m.Priority == q.items[victim].Priority && m.EnqueuedAt.Before(q.items[victim].EnqueuedAt)) {
			victim = i
		}
	}
	if victim == -1 {
		return false
	}
	q.items = append(q.items[:victim], q.items[victim+1:]...)
	metrics.OfflineQueueDroppedTotal.Inc()
	return true
}

// Dequeue removes and returns the next message: highest priority first,
// oldest first within a priority. Returns nil when empty.
func (q *Queue) Dequeue() *QueuedMessage {
	q.mu.Lock()
	defer q.mu.Unlock()

	best := -1
	for i, m := range q.items {
		if best == -1 {
			best = i
			continue
		}
		if m.Priority > q.items[best].Priority ||
			(m.Priority == q.items[best].Priority && m.EnqueuedAt.Before(q.items[best].EnqueuedAt)) {
			best = i
		}
	}
	if best == -1 {
		return nil
	}

	msg := q.items[best]
	q.items = append(q.items[:best], q.items[best+1:]...)
	metrics.OfflineQueueDepth.Set(float64(len(q.items)))
	return msg
}

// Requeue puts a message back after a failed delivery attempt, under the
// same capacity and eviction rules as Enqueue. Returns false once the
// message has exhausted its attempts, or when the queue refilled and no
// slot can be reclaimed; either way the caller must report a permanent
// failure instead of retrying again.
func (q *Queue) Requeue(msg *QueuedMessage) bool {
	msg.Attempts++
	if msg.Attempts >= MaxDeliveryAttempts {
		return false
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) >= q.capacity {
		if !q.evictLocked() {
			metrics.OfflineQueueDroppedTotal.Inc()
			return false
		}
	}
	q.items = append(q.items, msg)
	metrics.OfflineQueueDepth.Set(float64(len(q.items)))
	return true
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
