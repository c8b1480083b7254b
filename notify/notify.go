// Package notify queues user-facing notifications produced by the session
// layer, such as confirmed contact requests. The UI drains the queue; this
// module only ever enqueues.
package notify

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Notification is one user-facing entry.
type Notification struct {
	ID        string
	Title     string
	Subtitle  string
	CreatedAt time.Time
}

// Queue is an in-memory FIFO of notifications, safe for concurrent use.
type Queue struct {
	mu      sync.Mutex
	entries []Notification
}

// NewQueue creates an empty Queue.
func NewQueue() *Queue {
	return &Queue{}
}

// Enqueue appends a notification and returns it with its assigned id.
func (q *Queue) Enqueue(title, subtitle string) Notification {
	n := Notification{
		ID:        uuid.NewString(),
		Title:     title,
		Subtitle:  subtitle,
		CreatedAt: time.Now(),
	}

	q.mu.Lock()
	q.entries = append(q.entries, n)
	q.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"function": "Enqueue",
		"id":       n.ID,
		"title":    title,
	}).Debug("Notification enqueued")

	return n
}

// Next pops the oldest notification. ok is false when the queue is empty;
// Next never blocks.
func (q *Queue) Next() (Notification, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.entries) == 0 {
		return Notification{}, false
	}

	n := q.entries[0]
	q.entries = q.entries[1:]
	return n, true
}

// Len reports the number of queued notifications.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}
