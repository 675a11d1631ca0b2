// Package amqprpc is a request/response RPC client that tunnels HTTP-shaped
// requests and responses over an AMQP 0-9-1 broker such as RabbitMQ.
//
// A caller builds a Client, then calls Send with a RequestPacket; the client
// serializes the request, publishes it to a request exchange with a routing
// key derived by a MessageMapper, and correlates the response delivered to a
// per-client callback queue back to the future returned from Send.
//
// The broker connection, publisher channel pool, and callback consumer are
// all owned by a single Client instance and are never shared across
// instances. Internally the client adapts github.com/rabbitmq/amqp091-go
// behind a small Connection/Channel interface pair so that the correlation
// engine can be exercised against an in-process fake broker in tests.
package amqprpc
