package amqprpc

import (
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

var _ = Describe("Identifiers", func() {
	It("derives a stable exchange name from the same descriptor", func() {
		d := ExchangeDescriptor{ExchangeNameHint: "orders"}
		Expect(exchangeName(d)).To(Equal("orders"))
		Expect(exchangeName(d)).To(Equal(exchangeName(d)))
	})

	It("falls back to the default exchange name when no hint is set", func() {
		d := ExchangeDescriptor{}
		Expect(exchangeName(d)).To(Equal("amqprpc.requests"))
	})

	It("derives a per-client callback queue name scoped to the client id", func() {
		d := ExchangeDescriptor{ExchangeNameHint: "orders"}
		Expect(callbackQueueName(d, "client-1")).To(Equal("amqprpc.callback.orders.client-1"))
		Expect(callbackQueueName(d, "client-1")).NotTo(Equal(callbackQueueName(d, "client-2")))
	})

	It("mints distinct, non-empty random ids", func() {
		a := randomID()
		b := randomID()
		Expect(a).NotTo(BeEmpty())
		Expect(a).NotTo(Equal(b))
	})
})
