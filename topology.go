package amqprpc

import (
	"github.com/pkg/errors"
	amqp "github.com/rabbitmq/amqp091-go"
)

// Queue describes an AMQP queue declaration. Shaped after the topology
// value types used elsewhere in the AMQP ecosystem (bryk-io/pkg's
// amqp.Queue), trimmed to the arguments this module actually declares.
type Queue struct {
	Name       string
	Durable    bool
	Exclusive  bool
	AutoDelete bool
	Arguments  amqp.Table
}

// Exchange describes an AMQP exchange declaration.
type Exchange struct {
	Name       string
	Kind       string
	Durable    bool
	AutoDelete bool
}

// Binding connects a queue to an exchange under a routing key.
type Binding struct {
	Exchange   string
	Queue      string
	RoutingKey string
}

// declareTopology declares the request exchange and the per-client callback
// queue on ch, and binds the callback queue to the exchange under its own
// name. No work queue is declared or bound for the default routing key. It is
// invoked both at consumer startup and opportunistically by Send when the
// topology staleness window (30 seconds by default) has elapsed.
func declareTopology(ch Channel, descriptor ExchangeDescriptor, callbackQueue string) error {
	if err := ch.ExchangeDeclare(
		exchangeName(descriptor),
		descriptor.ExchangeType,
		descriptor.ExchangeDurable,
		descriptor.ExchangeAutoDelete,
		false, // internal
		false, // noWait
		nil,
	); err != nil {
		return errors.Wrap(err, "unable to declare request exchange")
	}

	ttlMillis := descriptor.CallbackQueueTTL.Milliseconds()
	if ttlMillis <= 0 {
		ttlMillis = DefaultCallbackQueueTTL.Milliseconds()
	}

	if _, err := ch.QueueDeclare(
		callbackQueue,
		false, // durable
		true,  // autoDelete
		false, // exclusive: declared non-exclusive so the
		// queue survives the declaring channel being recycled by the pool
		false, // noWait
		amqp.Table{"x-expires": ttlMillis},
	); err != nil {
		return errors.Wrap(err, "unable to declare callback queue")
	}

	if err := ch.QueueBind(
		callbackQueue,
		callbackQueue,
		exchangeName(descriptor),
		false,
		nil,
	); err != nil {
		return errors.Wrap(err, "unable to bind callback queue")
	}

	return nil
}
