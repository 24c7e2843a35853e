package jobs

import (
	"sync"
	"time"
)

// EventType identifies what happened to a job.
type EventType string

const (
	EventEnqueued     EventType = "enqueued"
	EventClaimed      EventType = "claimed"
	EventSucceeded    EventType = "succeeded"
	EventRetried      EventType = "retried"
	EventDeadLettered EventType = "dead_lettered"
	EventCanceled     EventType = "canceled"
	EventRecovered    EventType = "recovered"
)

// Event is a lifecycle notification emitted by the queue core. Events are
// advisory: the database row is the source of truth, and a dropped event
// never changes job state.
type Event struct {
	Type    EventType `json:"type"`
	JobID   string    `json:"job_id"`
	JobType string    `json:"job_type"`
	Status  Status    `json:"status"`
	At      time.Time `json:"at"`
}

const eventBufferSize = 64

// Notifier fans lifecycle events out to subscribers. Publishing never
// blocks; a subscriber that falls behind misses events rather than stalling
// a worker.
type Notifier struct {
	mu   sync.RWMutex
	subs map[chan Event]struct{}
}

// NewNotifier creates an empty notifier.
func NewNotifier() *Notifier {
	return &Notifier{subs: make(map[chan Event]struct{})}
}

// Subscribe registers a listener. The returned cancel function removes the
// subscription and closes the channel.
func (n *Notifier) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, eventBufferSize)
	n.mu.Lock()
	n.subs[ch] = struct{}{}
	n.mu.Unlock()

	cancel := func() {
		n.mu.Lock()
		if _, ok := n.subs[ch]; ok {
			delete(n.subs, ch)
			close(ch)
		}
		n.mu.Unlock()
	}
	return ch, cancel
}

// Publish delivers an event to every subscriber with room in its buffer.
func (n *Notifier) Publish(event Event) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	for ch := range n.subs {
		select {
		case ch <- event:
		default:
		}
	}
}
