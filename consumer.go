package amqprpc

import (
	"log/slog"
	"sync"
	"sync/atomic"

	amqp "github.com/rabbitmq/amqp091-go"
)

// consumerLoop owns one consumer channel and one callback queue, draining
// deliveries and dispatching each by correlation ID. It runs on a single
// dedicated goroutine and is the sole reader of deliveries and the sole
// completer-by-delivery for the registry.
type consumerLoop struct {
	ch         Channel
	deliveries <-chan amqp.Delivery
	registry   *Registry

	doneCh    chan struct{}
	aliveFlag atomic.Bool
	closeOnce sync.Once
}

func newConsumerLoop(ch Channel, deliveries <-chan amqp.Delivery, registry *Registry) *consumerLoop {
	c := &consumerLoop{
		ch:         ch,
		deliveries: deliveries,
		registry:   registry,
		doneCh:     make(chan struct{}),
	}
	c.aliveFlag.Store(true)
	return c
}

// alive reports whether the delivery loop is still running.
func (c *consumerLoop) alive() bool {
	return c.aliveFlag.Load()
}

// run drains deliveries until the channel is closed (by the broker, by a
// fatal error, or by stop()), then releases the consumer channel and
// invokes onExit so the supervisor can clear its handle and trigger a
// fresh startup on the next Send.
func (c *consumerLoop) run(onExit func()) {
	defer close(c.doneCh)
	defer c.aliveFlag.Store(false)
	defer c.closeChannel()
	defer onExit()

	for delivery := range c.deliveries {
		c.dispatch(delivery)
	}
	slog.Debug("amqprpc: callback consumer delivery channel closed")
}

// dispatch looks up the waiter for delivery's correlation ID and completes
// it, then acknowledges the delivery regardless of outcome: the ack is
// unconditional, so a delivery this consumer could not parse is never
// redelivered to a client that could not parse it either.
func (c *consumerLoop) dispatch(d amqp.Delivery) {
	corrID := d.CorrelationId

	resp, err := DeserializeResponse(d.Body)
	if err != nil {
		if !c.registry.Complete(corrID, nil, ErrBadResponse) {
			slog.Debug("amqprpc: dropping bad response for unknown/late correlation id", "correlation_id", corrID)
		}
	} else {
		resp.fixContentLength()
		if !c.registry.Complete(corrID, resp, nil) {
			slog.Debug("amqprpc: dropping late response", "correlation_id", corrID)
		}
	}

	if ackErr := d.Ack(false); ackErr != nil {
		slog.Warn("amqprpc: failed to ack delivery", "correlation_id", corrID, "error", ackErr)
	}
}

func (c *consumerLoop) closeChannel() {
	c.closeOnce.Do(func() {
		c.ch.Close()
	})
}

// stop closes the consumer channel, which unblocks the delivery loop's
// range over deliveries, and waits for run() to exit.
func (c *consumerLoop) stop() {
	c.closeChannel()
	<-c.doneCh
}
