package amqprpc

import (
	"context"
	"sync"
	"time"
)

// result is what a Waiter's completion slot carries: either a response or
// an error, never both.
type result struct {
	response *ResponsePacket
	err      error
}

// Waiter is an in-memory record representing a caller awaiting a response
// for one correlation ID. It is created before publish and
// is terminal on its first completion (success/error/timeout/cancel/
// dispose); a second completion attempt is always a no-op.
type Waiter struct {
	correlationID string

	mu        sync.Mutex
	done      bool
	resultCh  chan result
	timer     *time.Timer
	cancelCtx context.Context
	stopWatch context.CancelFunc
}

// newWaiter allocates a Waiter for correlationID. The caller must call
// arm() to install the timeout/cancellation machinery before registering
// it with a Registry, unless timeout == 0, in which case the Waiter is
// never registered at all (fire-and-forget).
func newWaiter(correlationID string) *Waiter {
	return &Waiter{
		correlationID: correlationID,
		resultCh:      make(chan result, 1),
	}
}

// arm installs a timer (unless timeout is InfiniteTimeout) and wires
// ctx's cancellation to complete the waiter with ErrCanceled. It must be
// called at most once.
func (w *Waiter) arm(timeout time.Duration, ctx context.Context) {
	watchCtx, stop := context.WithCancel(ctx)
	w.cancelCtx = watchCtx
	w.stopWatch = stop

	if timeout != InfiniteTimeout {
		w.timer = time.AfterFunc(timeout, func() {
			w.complete(nil, ErrTimeout)
		})
	}

	go func() {
		<-watchCtx.Done()
		if ctx.Err() != nil {
			w.complete(nil, ErrCanceled)
		}
	}()
}

// complete fulfils the waiter's completion slot at most once. Subsequent
// calls are no-ops. It also stops the timer and the cancellation watcher
// so neither fires again after a terminal transition.
func (w *Waiter) complete(resp *ResponsePacket, err error) bool {
	w.mu.Lock()
	if w.done {
		w.mu.Unlock()
		return false
	}
	w.done = true
	w.mu.Unlock()

	if w.timer != nil {
		w.timer.Stop()
	}
	if w.stopWatch != nil {
		w.stopWatch()
	}

	w.resultCh <- result{response: resp, err: err}
	return true
}

// Future blocks until the waiter is completed, returning its terminal
// result. It is safe to call at most once per Waiter (the channel is
// single-delivery).
func (w *Waiter) Future(ctx context.Context) (*ResponsePacket, error) {
	select {
	case r := <-w.resultCh:
		return r.response, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Registry is the pending-request registry: a concurrent mapping from
// correlation ID to Waiter. Mutations across distinct keys
// proceed independently; mutation of a single key is serialized by the
// per-entry mutex on Waiter itself plus the registry's own map mutex.
type Registry struct {
	mu      sync.Mutex
	waiters map[string]*Waiter
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{waiters: make(map[string]*Waiter)}
}

// Register installs w under correlationID. It returns ErrAlreadyRegistered
// if the ID is already present; given the entropy of a minted correlation
// ID this should be impossible, and is treated as a fatal programmer
// error by callers.
func (r *Registry) Register(correlationID string, w *Waiter) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.waiters[correlationID]; exists {
		return ErrAlreadyRegistered
	}
	r.waiters[correlationID] = w
	return nil
}

// Complete removes and fulfils the waiter registered under correlationID,
// if any. It reports whether a waiter was registered; a delivery for an
// unregistered ID is dropped by the caller as a late response. A waiter
// that already completed (by timeout or cancellation) stays registered
// until then, so Complete still reports true for it while the completion
// itself is a no-op.
func (r *Registry) Complete(correlationID string, resp *ResponsePacket, err error) bool {
	r.mu.Lock()
	w, ok := r.waiters[correlationID]
	if ok {
		delete(r.waiters, correlationID)
	}
	r.mu.Unlock()

	if !ok {
		return false
	}
	w.complete(resp, err)
	return true
}

// Remove deletes correlationID from the registry without completing its
// waiter, used on the error-cleanup path between registration and
// publish.
func (r *Registry) Remove(correlationID string) {
	r.mu.Lock()
	delete(r.waiters, correlationID)
	r.mu.Unlock()
}

// CancelAll removes every waiter and fails each with err. Used by
// dispose() and by CancelPendingRequests().
func (r *Registry) CancelAll(err error) {
	r.mu.Lock()
	waiters := r.waiters
	r.waiters = make(map[string]*Waiter)
	r.mu.Unlock()

	for _, w := range waiters {
		w.complete(nil, err)
	}
}

// Len reports the number of currently pending waiters.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.waiters)
}
