package events

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("queue", Ordered, func() {
	Context("queue", func() {
		It("keeps fifo order", func() {
			q := newQueue()
			Expect(q.Size()).To(Equal(0))
			Expect(q.Pop()).To(BeNil())

			q.PushBack(&message{Kind: RunMessageKind, Data: []byte("msg1")})
			Expect(q.Size()).To(Equal(1))

			q.PushBack(&message{Kind: RunMessageKind, Data: []byte("msg2")})
			q.PushBack(&message{Kind: RunMessageKind, Data: []byte("msg3")})
			Expect(q.Size()).To(Equal(3))

			Expect(q.Pop().Data).To(Equal([]byte("msg1")))
			Expect(q.Pop().Data).To(Equal([]byte("msg2")))
			Expect(q.Pop().Data).To(Equal([]byte("msg3")))
			Expect(q.Pop()).To(BeNil())
			Expect(q.Size()).To(Equal(0))
		})
	})
})
