package events

type ProducerOption func(ep *EventProducer)

func WithTopic(topic string) ProducerOption {
	return func(ep *EventProducer) {
		ep.topic = topic
	}
}
