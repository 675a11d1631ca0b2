package amqprpc

import (
	"context"
	"sync/atomic"
	"time"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

var _ = Describe("Waiter", func() {
	It("completes exactly once even under concurrent completion attempts", func() {
		w := newWaiter("corr-1")
		w.arm(InfiniteTimeout, context.Background())

		var wins atomic.Int64
		done := make(chan struct{})
		for i := 0; i < 8; i++ {
			go func() {
				if w.complete(&ResponsePacket{StatusCode: 200}, nil) {
					wins.Add(1)
				}
				done <- struct{}{}
			}()
		}
		for i := 0; i < 8; i++ {
			<-done
		}
		Expect(wins.Load()).To(Equal(int64(1)))
	})

	It("fires ErrTimeout when its timer elapses before completion", func() {
		w := newWaiter("corr-2")
		w.arm(20*time.Millisecond, context.Background())

		_, err := w.Future(context.Background())
		Expect(err).To(MatchError(ErrTimeout))
	})

	It("fires ErrCanceled when its context is canceled before completion", func() {
		ctx, cancel := context.WithCancel(context.Background())
		w := newWaiter("corr-3")
		w.arm(InfiniteTimeout, ctx)

		go func() {
			time.Sleep(10 * time.Millisecond)
			cancel()
		}()

		_, err := w.Future(context.Background())
		Expect(err).To(MatchError(ErrCanceled))
	})
})

var _ = Describe("Registry", func() {
	It("rejects a duplicate correlation id", func() {
		r := NewRegistry()
		w1 := newWaiter("dup")
		w1.arm(InfiniteTimeout, context.Background())
		Expect(r.Register("dup", w1)).To(Succeed())

		w2 := newWaiter("dup")
		w2.arm(InfiniteTimeout, context.Background())
		Expect(r.Register("dup", w2)).To(MatchError(ErrAlreadyRegistered))
	})

	It("drops a delivery for an unknown correlation id", func() {
		r := NewRegistry()
		Expect(r.Complete("missing", &ResponsePacket{}, nil)).To(BeFalse())
	})

	It("cancels every pending waiter on CancelAll", func() {
		r := NewRegistry()
		w1 := newWaiter("a")
		w1.arm(InfiniteTimeout, context.Background())
		w2 := newWaiter("b")
		w2.arm(InfiniteTimeout, context.Background())
		Expect(r.Register("a", w1)).To(Succeed())
		Expect(r.Register("b", w2)).To(Succeed())

		r.CancelAll(ErrDisposed)

		_, err1 := w1.Future(context.Background())
		_, err2 := w2.Future(context.Background())
		Expect(err1).To(MatchError(ErrDisposed))
		Expect(err2).To(MatchError(ErrDisposed))
		Expect(r.Len()).To(Equal(0))
	})
})
