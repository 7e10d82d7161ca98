package stream

import (
	"context"
	"sync"

	"github.com/phancao/Project-Management-Agent-sub011/internal/logging"
)

// Thread owns one conversation's queue and the cancel handle for its
// running workflow. Created lazily on first activity, torn down when the
// client disconnects.
type Thread struct {
	ID    string
	Queue *Queue

	cancelMu sync.Mutex
	cancel   context.CancelFunc
}

// BindWorkflow attaches the cancel func of the thread's running workflow so
// teardown can abandon further tool dispatch.
func (t *Thread) BindWorkflow(cancel context.CancelFunc) {
	t.cancelMu.Lock()
	t.cancel = cancel
	t.cancelMu.Unlock()
}

// CancelWorkflow aborts the running workflow, if any.
func (t *Thread) CancelWorkflow() {
	t.cancelMu.Lock()
	cancel := t.cancel
	t.cancel = nil
	t.cancelMu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Registry maps thread id to its queue. It is service-owned state with
// atomic insert-if-absent and explicit teardown, never ambient globals.
type Registry struct {
	mu      sync.Mutex
	threads map[string]*Thread
	buffer  int
	metrics *Metrics
	logger  logging.Logger
}

// NewRegistry creates a registry whose queues use the given buffer size.
func NewRegistry(buffer int, metrics *Metrics, logger logging.Logger) *Registry {
	return &Registry{
		threads: make(map[string]*Thread),
		buffer:  buffer,
		metrics: metrics,
		logger:  logging.OrNop(logger),
	}
}

// Acquire returns the thread for id, creating it if absent. The returned
// bool reports whether the thread was created by this call. Concurrent
// first-touch from multiple threads is safe; exactly one caller creates.
func (r *Registry) Acquire(id string) (*Thread, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if t, ok := r.threads[id]; ok {
		return t, false
	}
	t := &Thread{
		ID:    id,
		Queue: NewQueue(id, r.buffer, r.metrics, r.logger),
	}
	r.threads[id] = t
	r.metrics.SetActiveThreads(len(r.threads))
	r.logger.Info("thread %s registered (active: %d)", id, len(r.threads))
	return t, true
}

// Lookup returns the thread for id without creating it.
func (r *Registry) Lookup(id string) (*Thread, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.threads[id]
	return t, ok
}

// Close tears a thread down: the workflow is cancelled so no further tools
// are dispatched, and the queue is closed so the delivery loop drains out.
func (r *Registry) Close(id string) {
	r.mu.Lock()
	t, ok := r.threads[id]
	if ok {
		delete(r.threads, id)
		r.metrics.SetActiveThreads(len(r.threads))
	}
	r.mu.Unlock()
	if !ok {
		return
	}
	t.CancelWorkflow()
	t.Queue.Close()
	r.logger.Info("thread %s torn down", id)
}

// Len returns the number of live threads.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.threads)
}
