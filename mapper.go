package amqprpc

// MessageMapper supplies the exchange descriptor, routing key, and
// per-message expiry flag for a request. It is the single policy seam
// between "what to send" and "where on the broker it goes", and lets a
// caller route some requests to a different exchange than the client's
// configured default.
type MessageMapper interface {
	// Map returns the exchange to publish req to, the routing key to
	// publish it under, and whether the message is eligible for a
	// per-message TTL derived from the request's timeout.
	Map(req *RequestPacket) (exchange ExchangeDescriptor, routingKey string, expirable bool)
}

// DefaultMessageMapper routes every request to the client's configured
// exchange under the default work-queue routing key, and marks every
// request expirable.
type DefaultMessageMapper struct {
	// Descriptor is the exchange every request is routed to.
	Descriptor ExchangeDescriptor
}

// Map implements MessageMapper.
func (m DefaultMessageMapper) Map(req *RequestPacket) (ExchangeDescriptor, string, bool) {
	return m.Descriptor, defaultRoutingKey(), true
}
