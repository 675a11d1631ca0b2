package amqprpc

import (
	"context"
	"crypto/tls"
	"net"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Connection is the subset of *amqp091.Connection the core depends on.
// Production code adapts the real broker connection; tests substitute an
// in-process fake implementing exchange/queue routing semantics.
type Connection interface {
	Channel() (Channel, error)
	Close() error
	IsClosed() bool
	NotifyClose(receiver chan *amqp.Error) chan *amqp.Error
}

// Channel is the subset of *amqp091.Channel the core depends on. AMQP
// channels are not safe for concurrent use, which is why publishers
// borrow one from a pool rather than sharing a single channel.
type Channel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error
	Publish(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
	Close() error
	IsClosed() bool
}

// connectionFactory dials a broker connection. Overridden by tests to
// substitute an in-process fake.
type connectionFactory func(ctx context.Context, url string, connectionTimeout time.Duration) (Connection, error)

// dialAMQP is the production connectionFactory: it adapts amqp091-go,
// requesting a 30-second heartbeat and bounding the dial with
// connectionTimeout, following a dial-with-deadline idiom.
func dialAMQP(ctx context.Context, url string, connectionTimeout time.Duration) (Connection, error) {
	cfg := amqp.Config{
		Heartbeat: DefaultHeartbeat,
		Dial: func(network, addr string) (net.Conn, error) {
			conn, err := net.DialTimeout(network, addr, connectionTimeout)
			if err != nil {
				return nil, err
			}
			if err := conn.SetDeadline(time.Now().Add(connectionTimeout)); err != nil {
				return nil, err
			}
			return conn, nil
		},
	}

	if tlsCfg, ok := tlsConfigFromContext(ctx); ok {
		cfg.TLSClientConfig = tlsCfg
	}

	conn, err := amqp.DialConfig(url, cfg)
	if err != nil {
		return nil, err
	}
	return &amqpConnection{conn: conn}, nil
}

type tlsConfigKey struct{}

// tlsConfigFromContext returns the *tls.Config stored in ctx under
// tlsConfigKey, if any. The key is unexported and nothing in this package
// stores a value under it, so code outside the package cannot supply TLS
// settings this way; without one, dialAMQP leaves TLSClientConfig unset.
func tlsConfigFromContext(ctx context.Context) (*tls.Config, bool) {
	v, ok := ctx.Value(tlsConfigKey{}).(*tls.Config)
	return v, ok
}

// amqpConnection adapts *amqp091.Connection to Connection.
type amqpConnection struct {
	conn *amqp.Connection
}

func (c *amqpConnection) Channel() (Channel, error) {
	ch, err := c.conn.Channel()
	if err != nil {
		return nil, err
	}
	return &amqpChannel{ch: ch}, nil
}

func (c *amqpConnection) Close() error { return c.conn.Close() }

func (c *amqpConnection) IsClosed() bool { return c.conn.IsClosed() }

func (c *amqpConnection) NotifyClose(receiver chan *amqp.Error) chan *amqp.Error {
	return c.conn.NotifyClose(receiver)
}

// amqpChannel adapts *amqp091.Channel to Channel.
type amqpChannel struct {
	ch *amqp.Channel
}

func (c *amqpChannel) ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error {
	return c.ch.ExchangeDeclare(name, kind, durable, autoDelete, internal, noWait, args)
}

func (c *amqpChannel) QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error) {
	return c.ch.QueueDeclare(name, durable, autoDelete, exclusive, noWait, args)
}

func (c *amqpChannel) QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error {
	return c.ch.QueueBind(name, key, exchange, noWait, args)
}

func (c *amqpChannel) Publish(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error {
	return c.ch.PublishWithContext(ctx, exchange, key, mandatory, immediate, msg)
}

func (c *amqpChannel) Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error) {
	return c.ch.Consume(queue, consumer, autoAck, exclusive, noLocal, noWait, args)
}

func (c *amqpChannel) Close() error { return c.ch.Close() }

func (c *amqpChannel) IsClosed() bool { return c.ch.IsClosed() }
