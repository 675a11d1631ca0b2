package amqprpc

import (
	"fmt"

	uuid "github.com/satori/go.uuid"
)

// defaultRoutingKeyValue is the work-queue routing key used when a
// MessageMapper does not supply one of its own.
const defaultRoutingKeyValue = "amqprpc.requests"

// exchangeName derives a deterministic exchange name from a descriptor. It
// is stable across restarts for the same descriptor.
func exchangeName(descriptor ExchangeDescriptor) string {
	if descriptor.ExchangeNameHint != "" {
		return descriptor.ExchangeNameHint
	}
	return "amqprpc.requests"
}

// callbackQueueName derives a per-client callback queue name. clientID is
// freshly random per client instance so each client owns a private queue.
func callbackQueueName(descriptor ExchangeDescriptor, clientID string) string {
	return fmt.Sprintf("amqprpc.callback.%s.%s", exchangeName(descriptor), clientID)
}

// defaultRoutingKey returns the routing key used for requests whose mapper
// does not supply one.
func defaultRoutingKey() string {
	return defaultRoutingKeyValue
}

// randomID mints a fresh identifier with at least 122 bits of entropy. A
// UUIDv4 satisfies this directly.
func randomID() string {
	return uuid.NewV4().String()
}
