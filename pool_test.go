package amqprpc

import (
	"context"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

var _ = Describe("ChannelPool", func() {
	It("returns a closed lease's channel to the idle set for reuse", func() {
		broker := newFakeBroker()
		conn := &fakeConnection{broker: broker}
		pool := NewChannelPool(conn, 2)
		defer pool.Dispose()

		lease, err := pool.Get(context.Background(), publisherChannel)
		Expect(err).NotTo(HaveOccurred())
		lease.Close()

		lease2, err := pool.Get(context.Background(), publisherChannel)
		Expect(err).NotTo(HaveOccurred())
		Expect(lease2.Channel()).To(Equal(lease.Channel()))
	})

	It("discards rather than recycles a channel released via Discard", func() {
		broker := newFakeBroker()
		conn := &fakeConnection{broker: broker}
		pool := NewChannelPool(conn, 2)
		defer pool.Dispose()

		lease, err := pool.Get(context.Background(), publisherChannel)
		Expect(err).NotTo(HaveOccurred())
		ch := lease.Channel()
		lease.Discard()
		Expect(ch.IsClosed()).To(BeTrue())
	})

	It("is a no-op on a second Close/Discard of the same lease", func() {
		broker := newFakeBroker()
		conn := &fakeConnection{broker: broker}
		pool := NewChannelPool(conn, 2)
		defer pool.Dispose()

		lease, err := pool.Get(context.Background(), publisherChannel)
		Expect(err).NotTo(HaveOccurred())
		lease.Close()
		lease.Close()
		lease.Discard()
	})

	It("closes every idle channel on Dispose and rejects further Get calls", func() {
		broker := newFakeBroker()
		conn := &fakeConnection{broker: broker}
		pool := NewChannelPool(conn, 2)

		lease, err := pool.Get(context.Background(), publisherChannel)
		Expect(err).NotTo(HaveOccurred())
		ch := lease.Channel()
		lease.Close()

		pool.Dispose()
		Expect(ch.IsClosed()).To(BeTrue())

		_, err = pool.Get(context.Background(), publisherChannel)
		Expect(err).To(HaveOccurred())
	})
})
