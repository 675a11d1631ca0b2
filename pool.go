package amqprpc

import (
	"context"
	"sync"

	"github.com/pkg/errors"
)

// channelFlags classifies a leased channel. Only unflagged publisher
// channels exist today; the type exists so the pool's contract does not
// need to change shape if a future flag (e.g. a confirm-mode channel) is
// added.
type channelFlags uint8

const publisherChannel channelFlags = 0

// ChannelPool is a borrow/return pool of publisher channels bound to a
// single broker connection, modeled on a buffered-channel-as-semaphore
// pool pattern.
type ChannelPool struct {
	conn Connection

	mu     sync.Mutex
	idle   chan Channel
	size   int
	closed bool
}

// NewChannelPool creates a channel pool bound to conn with up to size idle
// channels. No channels are opened eagerly; they are created on first
// demand and recycled on Close.
func NewChannelPool(conn Connection, size int) *ChannelPool {
	if size <= 0 {
		size = DefaultPoolSize
	}
	return &ChannelPool{
		conn: conn,
		idle: make(chan Channel, size),
		size: size,
	}
}

// Get borrows a publisher channel. It returns an idle
// channel if one is available without blocking, else opens a new one on
// demand. Get never waits for an idle slot, so ctx is not consulted, and
// flags is not inspected since only publisher channels exist.
func (p *ChannelPool) Get(ctx context.Context, flags channelFlags) (*ChannelLease, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, errors.New("amqprpc: channel pool is closed")
	}
	p.mu.Unlock()

	select {
	case ch := <-p.idle:
		if ch.IsClosed() {
			return p.newLease()
		}
		return &ChannelLease{pool: p, ch: ch}, nil
	default:
		return p.newLease()
	}
}

func (p *ChannelPool) newLease() (*ChannelLease, error) {
	ch, err := p.conn.Channel()
	if err != nil {
		return nil, errors.Wrap(err, "amqprpc: unable to open publisher channel")
	}
	return &ChannelLease{pool: p, ch: ch}, nil
}

// release returns ch to the pool, or discards it if the pool is stopped or
// the channel itself is no longer usable.
func (p *ChannelPool) release(ch Channel) {
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()

	if closed || ch.IsClosed() {
		ch.Close()
		return
	}

	select {
	case p.idle <- ch:
	default:
		// Pool at capacity; this channel is surplus to the warm set.
		ch.Close()
	}
}

// Dispose closes every idle channel. Leases already held by a caller are
// not forcibly closed; their eventual Close() discards instead of
// returning.
func (p *ChannelPool) Dispose() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.mu.Unlock()

	close(p.idle)
	for ch := range p.idle {
		ch.Close()
	}
}

// ChannelLease is a borrowed publisher channel: at any instant it is held
// by exactly one caller or sitting in the pool, never both, never
// neither.
type ChannelLease struct {
	pool *ChannelPool
	ch   Channel

	mu           sync.Mutex
	relinquished bool
}

// Channel returns the underlying channel for the duration of the lease.
func (l *ChannelLease) Channel() Channel { return l.ch }

// Close returns the lease to its pool, or discards the channel if the pool
// is stopped or the channel is broken. Idempotent: a second Close is a
// no-op.
func (l *ChannelLease) Close() {
	l.mu.Lock()
	if l.relinquished {
		l.mu.Unlock()
		return
	}
	l.relinquished = true
	l.mu.Unlock()

	l.pool.release(l.ch)
}

// Discard closes the underlying channel outright instead of returning it to
// the pool. Used when the caller knows the channel is broken (e.g. a failed
// publish) so a bad channel is never recycled.
func (l *ChannelLease) Discard() {
	l.mu.Lock()
	if l.relinquished {
		l.mu.Unlock()
		return
	}
	l.relinquished = true
	l.mu.Unlock()

	l.ch.Close()
}
