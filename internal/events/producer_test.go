package events

import (
	"context"
	"sync"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("producer", Ordered, func() {
	Context("write", func() {
		It("writes successfully", func() {
			w := newTestWriter()
			ep := NewEventProducer(w, WithTopic("audit.topic"))

			err := ep.Write(context.TODO(), RunMessageKind, RunEvent{RunID: "r1", Status: "RUNNING", Rows: 3})
			Expect(err).To(BeNil())

			err = ep.Write(context.TODO(), PromptMessageKind, PromptEvent{RunID: "r1", PromptID: "cost_center:OPS"})
			Expect(err).To(BeNil())

			Eventually(w.Count).Should(Equal(2))

			messages := w.Snapshot()
			Expect(messages[0].Type()).To(Equal(RunMessageKind))
			Expect(messages[0].Source()).To(Equal("expense.validation.validator"))
			Expect(messages[0].Data()).To(MatchJSON(`{"run_id":"r1","status":"RUNNING","rows":3}`))
			Expect(messages[1].Type()).To(Equal(PromptMessageKind))

			Expect(w.Topics()).To(ConsistOf("audit.topic", "audit.topic"))

			Expect(ep.Close()).To(BeNil())
		})

		It("rejects unmarshalable payloads", func() {
			w := newTestWriter()
			ep := NewEventProducer(w)
			defer func() { _ = ep.Close() }()

			err := ep.Write(context.TODO(), RunMessageKind, func() {})
			Expect(err).NotTo(BeNil())
		})
	})
})

type testwriter struct {
	lock     sync.Mutex
	messages []cloudevents.Event
	topics   []string
}

func newTestWriter() *testwriter {
	return &testwriter{}
}

func (t *testwriter) Write(_ context.Context, topic string, e cloudevents.Event) error {
	t.lock.Lock()
	defer t.lock.Unlock()
	t.messages = append(t.messages, e)
	t.topics = append(t.topics, topic)
	return nil
}

func (t *testwriter) Close(_ context.Context) error {
	return nil
}

func (t *testwriter) Count() int {
	t.lock.Lock()
	defer t.lock.Unlock()
	return len(t.messages)
}

func (t *testwriter) Snapshot() []cloudevents.Event {
	t.lock.Lock()
	defer t.lock.Unlock()
	return append([]cloudevents.Event{}, t.messages...)
}

func (t *testwriter) Topics() []string {
	t.lock.Lock()
	defer t.lock.Unlock()
	return append([]string{}, t.topics...)
}
