package kafka_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	kafkago "github.com/segmentio/kafka-go"

	"github.com/papercomputeco/switchboard/pkg/eventstream"
	"github.com/papercomputeco/switchboard/pkg/eventstream/kafka"
	"github.com/papercomputeco/switchboard/pkg/storage"
)

type fakeWriter struct {
	mu     sync.Mutex
	msgs   []kafkago.Message
	err    error
	closed bool
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafkago.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	return nil
}

var _ = Describe("Publisher", func() {
	var (
		writer *fakeWriter
		pub    *kafka.Publisher
		event  *eventstream.InteractionEvent
	)

	BeforeEach(func() {
		writer = &fakeWriter{}
		var err error
		pub, err = kafka.NewPublisher(kafka.Config{
			Brokers: []string{"localhost:9092"},
			Topic:   "switchboard.interactions",
		}, kafka.WithWriter(writer))
		Expect(err).NotTo(HaveOccurred())

		rec := &storage.InteractionRecord{ID: "msg_1", ProviderID: "local", Model: "m1"}
		event = eventstream.NewInteractionEvent(eventstream.EventTypeInteractionCompleted, rec, time.Now())
	})

	It("requires brokers and a topic", func() {
		_, err := kafka.NewPublisher(kafka.Config{Topic: "t"})
		Expect(err).To(MatchError(ContainSubstring("broker")))

		_, err = kafka.NewPublisher(kafka.Config{Brokers: []string{"b:9092"}})
		Expect(err).To(MatchError(ContainSubstring("topic")))
	})

	It("builds a kafka-go writer when none is injected", func() {
		p, err := kafka.NewPublisher(kafka.Config{Brokers: []string{"b:9092"}, Topic: "t"})
		Expect(err).NotTo(HaveOccurred())
		Expect(p.Close()).To(Succeed())
	})

	It("writes the event keyed by interaction id", func() {
		Expect(pub.PublishInteraction(context.Background(), event)).To(Succeed())

		Expect(writer.msgs).To(HaveLen(1))
		msg := writer.msgs[0]
		Expect(string(msg.Key)).To(Equal("msg_1"))
		Expect(msg.Headers).To(ContainElement(kafkago.Header{
			Key:   "event_type",
			Value: []byte(eventstream.EventTypeInteractionCompleted),
		}))

		var got eventstream.InteractionEvent
		Expect(json.Unmarshal(msg.Value, &got)).To(Succeed())
		Expect(got.EventID).To(Equal(event.EventID))
		Expect(got.Interaction.ProviderID).To(Equal("local"))
	})

	It("rejects nil events", func() {
		Expect(pub.PublishInteraction(context.Background(), nil)).To(MatchError(eventstream.ErrNilInteractionEvent))
	})

	It("wraps writer failures with the topic", func() {
		writer.err = errors.New("leader not available")
		err := pub.PublishInteraction(context.Background(), event)
		Expect(err).To(MatchError(ContainSubstring("switchboard.interactions")))
		Expect(err).To(MatchError(ContainSubstring("leader not available")))
	})

	It("closes the writer", func() {
		Expect(pub.Close()).To(Succeed())
		Expect(writer.closed).To(BeTrue())
	})
})
