package amqprpc

import (
	"context"
	"time"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

var _ = Describe("supervisor", func() {
	It("ensureStarted is idempotent once healthy", func() {
		broker := newFakeBroker()
		cfg := &Config{
			Descriptor: ExchangeDescriptor{
				ServerAddress:    "amqp://test/",
				ExchangeNameHint: "amqprpc.sup",
				ExchangeType:     "topic",
			},
			connectionFactory: broker.factory(),
		}
		cfg.applyDefaults()

		sup := newSupervisor(cfg, "client-1", NewRegistry())
		defer sup.dispose()

		Expect(sup.ensureStarted(context.Background())).To(Succeed())
		Expect(sup.healthy()).To(BeTrue())
		Expect(sup.ensureStarted(context.Background())).To(Succeed())
	})

	It("declares topology only once within the staleness window", func() {
		broker := newFakeBroker()
		cfg := &Config{
			Descriptor: ExchangeDescriptor{
				ServerAddress:    "amqp://test/",
				ExchangeNameHint: "amqprpc.sup2",
				ExchangeType:     "topic",
			},
			TopologyDeclareInterval: time.Hour,
			connectionFactory:       broker.factory(),
		}
		cfg.applyDefaults()

		sup := newSupervisor(cfg, "client-2", NewRegistry())
		defer sup.dispose()
		Expect(sup.ensureStarted(context.Background())).To(Succeed())

		lease, err := sup.borrowChannel(context.Background())
		Expect(err).NotTo(HaveOccurred())
		defer lease.Close()

		firstTick := sup.lastDeclareTick.Load()
		Expect(sup.declareIfStale(lease.Channel())).To(Succeed())
		Expect(sup.lastDeclareTick.Load()).To(Equal(firstTick))
	})

	It("rejects ensureStarted after dispose", func() {
		broker := newFakeBroker()
		cfg := &Config{
			Descriptor: ExchangeDescriptor{
				ServerAddress:    "amqp://test/",
				ExchangeNameHint: "amqprpc.sup3",
				ExchangeType:     "topic",
			},
			connectionFactory: broker.factory(),
		}
		cfg.applyDefaults()

		sup := newSupervisor(cfg, "client-3", NewRegistry())
		Expect(sup.ensureStarted(context.Background())).To(Succeed())
		sup.dispose()

		Expect(sup.ensureStarted(context.Background())).To(MatchError(ErrDisposed))
	})
})
