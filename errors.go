package amqprpc

import "github.com/pkg/errors"

// Sentinel errors surfaced to callers. Use errors.Is to test for these;
// concrete failures are wrapped with additional context via pkg/errors.
var (
	// ErrInvalidArgument is returned when Send is called with a nil request.
	ErrInvalidArgument = errors.New("amqprpc: invalid argument")

	// ErrInvalidState is returned when a request's URI cannot be resolved,
	// or when configuration is mutated after the client has started.
	ErrInvalidState = errors.New("amqprpc: invalid state")

	// ErrDisposed is returned by Send (and by configuration setters) once
	// the client has been disposed.
	ErrDisposed = errors.New("amqprpc: client disposed")

	// ErrBrokerUnreachable is returned when the connection supervisor could
	// not establish a broker connection.
	ErrBrokerUnreachable = errors.New("amqprpc: broker unreachable")

	// ErrTimeout completes a waiter whose timer fired before a response
	// arrived.
	ErrTimeout = errors.New("amqprpc: request timed out")

	// ErrCanceled completes a waiter whose cancellation signal fired.
	ErrCanceled = errors.New("amqprpc: request canceled")

	// ErrBadResponse completes a waiter whose delivery body could not be
	// deserialized into a ResponsePacket.
	ErrBadResponse = errors.New("amqprpc: bad response")

	// ErrPublishFailed is returned when the broker rejected, or the channel
	// closed during, a publish attempt.
	ErrPublishFailed = errors.New("amqprpc: publish failed")

	// ErrAlreadyRegistered is a fatal programmer error: a correlation ID
	// collided with one already present in the registry. This should be
	// impossible under the ID's entropy guarantee.
	ErrAlreadyRegistered = errors.New("amqprpc: correlation id already registered")
)
