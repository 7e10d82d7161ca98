package stream

import (
	"sync"

	"github.com/phancao/Project-Management-Agent-sub011/internal/logging"
)

// Queue is the per-thread FIFO between the workflow (single producer) and
// the delivery loop (single consumer). The buffer is bounded; a slow
// consumer causes non-critical events to be dropped with a signal rather
// than exhausting memory.
type Queue struct {
	threadID string
	ch       chan Event
	logger   logging.Logger
	metrics  *Metrics

	closeMu   sync.RWMutex
	closed    bool
	closeOnce sync.Once

	dropMu  sync.Mutex
	dropped int64
}

// NewQueue creates a bounded queue for one thread.
func NewQueue(threadID string, buffer int, metrics *Metrics, logger logging.Logger) *Queue {
	if buffer <= 0 {
		buffer = 1
	}
	return &Queue{
		threadID: threadID,
		ch:       make(chan Event, buffer),
		logger:   logging.OrNop(logger),
		metrics:  metrics,
	}
}

// Publish enqueues an event without blocking the workflow. When the buffer
// is full, non-critical events are dropped and counted; critical events
// evict the oldest queued event to make room (mirroring how the server
// broadcaster protects final results).
func (q *Queue) Publish(event Event) bool {
	q.closeMu.RLock()
	defer q.closeMu.RUnlock()
	if q.closed {
		return false
	}

	select {
	case q.ch <- event:
		q.metrics.IncEnqueued(string(event.Kind))
		return true
	default:
	}

	if !event.Critical() {
		q.recordDrop(event)
		return false
	}

	// Retry once in case the consumer drained the buffer meanwhile.
	select {
	case q.ch <- event:
		q.metrics.IncEnqueued(string(event.Kind))
		return true
	default:
	}

	// Drop the oldest event to free space for the critical one.
	select {
	case old := <-q.ch:
		q.recordDrop(old)
	default:
	}

	select {
	case q.ch <- event:
		q.logger.Warn("queue saturated for thread %s; dropped oldest event to deliver critical %s", q.threadID, event.Kind)
		q.metrics.IncEnqueued(string(event.Kind))
		return true
	default:
		q.recordDrop(event)
		return false
	}
}

func (q *Queue) recordDrop(event Event) {
	q.dropMu.Lock()
	q.dropped++
	total := q.dropped
	q.dropMu.Unlock()
	q.metrics.IncDropped(string(event.Kind))
	q.logger.Warn("queue full for thread %s, dropping %s event (total dropped: %d)", q.threadID, event.Kind, total)
}

// Dropped returns the number of events this queue has discarded.
func (q *Queue) Dropped() int64 {
	q.dropMu.Lock()
	defer q.dropMu.Unlock()
	return q.dropped
}

// Depth returns the number of buffered events.
func (q *Queue) Depth() int { return len(q.ch) }

// Events exposes the consume side for the delivery loop. Only the single
// bound consumer may read from it.
func (q *Queue) Events() <-chan Event { return q.ch }

// Close ends the stream. Publishes after Close are ignored. Safe to call
// more than once.
func (q *Queue) Close() {
	q.closeOnce.Do(func() {
		q.closeMu.Lock()
		q.closed = true
		q.closeMu.Unlock()
		close(q.ch)
	})
}
