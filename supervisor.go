package amqprpc

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	backoff "github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"
)

// supervisorState is a three-state enum used in place of a pair of
// ad-hoc boolean health flags.
type supervisorState int32

const (
	supIdle supervisorState = iota
	supStarting
	supRunning
)

// supervisor establishes and re-establishes the broker connection, and
// owns the channel pool's and callback consumer's lifetime. Every field
// here is instance-local: the connection, pool, and consumer are never
// shared across Client instances.
type supervisor struct {
	cfg      *Config
	clientID string
	registry *Registry

	// startMu serializes ensureStarted; holding it across the full startup
	// protocol makes startup atomic without a separate broadcast channel.
	startMu sync.Mutex
	state   supervisorState

	mu   sync.RWMutex
	conn Connection
	pool *ChannelPool
	cons *consumerLoop

	disposed atomic.Bool

	declareMu       sync.Mutex
	lastDeclareTick atomic.Int64
}

func newSupervisor(cfg *Config, clientID string, registry *Registry) *supervisor {
	return &supervisor{cfg: cfg, clientID: clientID, registry: registry}
}

// callbackQueueName is this supervisor's client's private callback queue.
func (s *supervisor) callbackQueueName() string {
	return callbackQueueName(s.cfg.Descriptor, s.clientID)
}

// healthy reports whether a caller may currently obtain a publisher
// channel and expect deliveries for their correlation ID to be routed
// back, without attempting any I/O.
func (s *supervisor) healthy() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state == supRunning && s.conn != nil && !s.conn.IsClosed() && s.cons != nil && s.cons.alive()
}

// ensureStarted is idempotent: it leaves the supervisor in a state where
// Send may borrow a publisher channel and expect deliveries to be routed
// back to the caller's correlation ID.
func (s *supervisor) ensureStarted(ctx context.Context) error {
	if s.disposed.Load() {
		return ErrDisposed
	}

	s.startMu.Lock()
	defer s.startMu.Unlock()

	// Double-checked: another goroutine may have completed startup (or a
	// concurrent dispose) while we waited for the lock.
	if s.disposed.Load() {
		return ErrDisposed
	}
	if s.healthy() {
		return nil
	}

	s.mu.Lock()
	s.state = supStarting
	s.mu.Unlock()

	factory := s.cfg.connectionFactory
	if factory == nil {
		factory = dialAMQP
	}

	var conn Connection
	dial := func() error {
		var dialErr error
		conn, dialErr = factory(ctx, s.cfg.Descriptor.ServerAddress, s.cfg.ConnectionTimeout)
		if dialErr != nil {
			slog.Warn("amqprpc: dial attempt failed, retrying with backoff", "error", dialErr)
		}
		return dialErr
	}
	if err := backoff.Retry(dial, backoff.WithContext(s.reconnectBackoff(), ctx)); err != nil {
		s.mu.Lock()
		s.state = supIdle
		s.mu.Unlock()
		return errors.Wrap(ErrBrokerUnreachable, err.Error())
	}

	pool := NewChannelPool(conn, s.cfg.PoolSize)

	consumeCh, err := conn.Channel()
	if err != nil {
		pool.Dispose()
		conn.Close()
		s.mu.Lock()
		s.state = supIdle
		s.mu.Unlock()
		return errors.Wrap(ErrBrokerUnreachable, "unable to open consumer channel: "+err.Error())
	}

	queueName := s.callbackQueueName()
	if err := declareTopology(consumeCh, s.cfg.Descriptor, queueName); err != nil {
		consumeCh.Close()
		pool.Dispose()
		conn.Close()
		s.mu.Lock()
		s.state = supIdle
		s.mu.Unlock()
		return errors.Wrap(ErrBrokerUnreachable, err.Error())
	}
	s.noteDeclare()

	deliveries, err := consumeCh.Consume(queueName, "amqprpc-"+s.clientID, false, false, false, false, nil)
	if err != nil {
		consumeCh.Close()
		pool.Dispose()
		conn.Close()
		s.mu.Lock()
		s.state = supIdle
		s.mu.Unlock()
		return errors.Wrap(ErrBrokerUnreachable, "unable to start consuming: "+err.Error())
	}

	cons := newConsumerLoop(consumeCh, deliveries, s.registry)

	s.mu.Lock()
	oldPool := s.pool
	s.conn = conn
	s.pool = pool
	s.cons = cons
	s.state = supRunning
	s.mu.Unlock()

	if oldPool != nil {
		oldPool.Dispose()
	}

	go cons.run(func() {
		slog.Debug("amqprpc: callback consumer exited, marking supervisor down")
		s.mu.Lock()
		if s.cons == cons {
			s.cons = nil
			s.state = supIdle
		}
		s.mu.Unlock()
	})

	slog.Info("amqprpc: connection supervisor started", "callback_queue", queueName)
	return nil
}

// borrowChannel obtains a publisher channel from the current pool. Callers
// must have already called ensureStarted.
func (s *supervisor) borrowChannel(ctx context.Context) (*ChannelLease, error) {
	s.mu.RLock()
	pool := s.pool
	s.mu.RUnlock()
	if pool == nil {
		return nil, errors.Wrap(ErrBrokerUnreachable, "no active channel pool")
	}
	return pool.Get(ctx, publisherChannel)
}

// noteDeclare records that a topology declare just succeeded.
func (s *supervisor) noteDeclare() {
	s.lastDeclareTick.Store(time.Now().UnixNano())
}

// declareIfStale re-declares topology on ch if more than
// cfg.TopologyDeclareInterval has elapsed since the last declare, or if
// the monotonic tick difference is non-positive (clock wrap). The tick is
// stored before the declare runs, so a failed declare also starts a new
// window. At most one declare proceeds per stale window thanks to
// declareMu.
func (s *supervisor) declareIfStale(ch Channel) error {
	last := s.lastDeclareTick.Load()
	now := time.Now().UnixNano()
	elapsed := now - last
	if last != 0 && elapsed > 0 && elapsed <= s.cfg.TopologyDeclareInterval.Nanoseconds() {
		return nil
	}

	s.declareMu.Lock()
	defer s.declareMu.Unlock()

	// Re-check under the guard: another Send may have just declared.
	last = s.lastDeclareTick.Load()
	now = time.Now().UnixNano()
	elapsed = now - last
	if last != 0 && elapsed > 0 && elapsed <= s.cfg.TopologyDeclareInterval.Nanoseconds() {
		return nil
	}

	s.lastDeclareTick.Store(now)
	return declareTopology(ch, s.cfg.Descriptor, s.callbackQueueName())
}

// dispose tears down the supervisor: it cancels every pending waiter with
// ErrDisposed, stops the consumer, disposes the pool, and closes the
// connection. Idempotent.
func (s *supervisor) dispose() {
	if !s.disposed.CompareAndSwap(false, true) {
		return
	}

	s.registry.CancelAll(ErrDisposed)

	s.mu.Lock()
	conn, pool, cons := s.conn, s.pool, s.cons
	s.conn, s.pool, s.cons = nil, nil, nil
	s.state = supIdle
	s.mu.Unlock()

	if cons != nil {
		cons.stop()
	}
	if pool != nil {
		pool.Dispose()
	}
	if conn != nil {
		conn.Close()
	}
}

// reconnectBackoff builds the exponential backoff policy ensureStarted
// retries its dial attempt under: MaxElapsedTime of zero means the retry
// loop never gives up on its own, so it is always the caller's ctx that
// ultimately bounds how long a Send will wait for the broker to come
// back.
func (s *supervisor) reconnectBackoff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.cfg.ReconnectBackoffBase
	b.MaxInterval = s.cfg.ReconnectBackoffMax
	b.MaxElapsedTime = 0
	return b
}
