package recorder_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/switchboard/pkg/eventstream"
	"github.com/papercomputeco/switchboard/pkg/llm"
	"github.com/papercomputeco/switchboard/pkg/recorder"
	"github.com/papercomputeco/switchboard/pkg/storage"
	"github.com/papercomputeco/switchboard/pkg/storage/inmemory"
)

// countingDriver counts writes and can fail creates.
type countingDriver struct {
	*inmemory.Driver
	creates    atomic.Int32
	updates    atomic.Int32
	failCreate atomic.Int32
}

func (d *countingDriver) Create(ctx context.Context, rec *storage.InteractionRecord) error {
	d.creates.Add(1)
	if d.failCreate.Load() > 0 {
		d.failCreate.Add(-1)
		return errors.New("database is locked")
	}
	return d.Driver.Create(ctx, rec)
}

func (d *countingDriver) Update(ctx context.Context, id string, c *storage.Completion) error {
	d.updates.Add(1)
	return d.Driver.Update(ctx, id, c)
}

func (d *countingDriver) writes() int32 {
	return d.creates.Load() + d.updates.Load()
}

type eventSink struct {
	mu     sync.Mutex
	events []*eventstream.InteractionEvent
}

func (s *eventSink) Enqueue(e *eventstream.InteractionEvent) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
	return true
}

func (s *eventSink) types() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.events))
	for _, e := range s.events {
		out = append(out, e.EventType)
	}
	return out
}

var _ = Describe("Recorder", func() {
	var (
		driver *countingDriver
		events *eventSink
		rec    *recorder.Recorder
		ctx    context.Context
		now    time.Time
	)

	request := func(streaming bool) recorder.Request {
		return recorder.Request{
			ID:         "msg_1",
			ProviderID: "local",
			Model:      "m1",
			Streaming:  streaming,
			RawRequest: json.RawMessage(`{"model":"local-default"}`),
		}
	}

	response := &llm.MessagesResponse{
		ID:         "msg_1",
		Type:       "message",
		Role:       llm.RoleAssistant,
		Model:      "m1",
		Content:    []llm.ContentBlock{{Type: llm.BlockText, Text: "Hello"}},
		StopReason: "end_turn",
		Usage:      llm.Usage{InputTokens: 3, OutputTokens: 2},
	}

	BeforeEach(func() {
		driver = &countingDriver{Driver: inmemory.NewDriver()}
		events = &eventSink{}
		ctx = context.Background()
		now = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
		rec = recorder.New(recorder.Options{
			Driver:   driver,
			Notifier: events,
			Now:      func() time.Time { return now },
		})
	})

	Context("streaming", func() {
		It("writes the record before any chunk with no response", func() {
			in := rec.Begin(ctx, request(true))
			Expect(in.ID()).To(Equal("msg_1"))

			stored, err := driver.Get(ctx, "msg_1")
			Expect(err).NotTo(HaveOccurred())
			Expect(stored.RawResponse).To(BeNil())
			Expect(stored.Completed()).To(BeFalse())
			Expect(stored.RawRequest).To(MatchJSON(`{"model":"local-default"}`))
			Expect(events.types()).To(Equal([]string{eventstream.EventTypeInteractionCreated}))
		})

		It("completes the record once with the response and usage", func() {
			in := rec.Begin(ctx, request(true))
			now = now.Add(1500 * time.Millisecond)
			Expect(in.Finish(ctx, recorder.Result{
				Response:   response,
				Content:    "Hello",
				Usage:      response.Usage,
				StatusCode: 200,
			})).To(Succeed())

			stored, err := driver.Get(ctx, "msg_1")
			Expect(err).NotTo(HaveOccurred())
			Expect(stored.Completed()).To(BeTrue())
			Expect(stored.Content).To(Equal("Hello"))
			Expect(stored.InputTokens).To(Equal(3))
			Expect(stored.OutputTokens).To(Equal(2))
			Expect(stored.ResponseTimeMs).To(Equal(int64(1500)))
			Expect(stored.Error).To(BeEmpty())

			var got llm.MessagesResponse
			Expect(json.Unmarshal(stored.RawResponse, &got)).To(Succeed())
			Expect(got.StopReason).To(Equal("end_turn"))

			Expect(driver.writes()).To(Equal(int32(2)))
			Expect(events.types()).To(Equal([]string{
				eventstream.EventTypeInteractionCreated,
				eventstream.EventTypeInteractionCompleted,
			}))
		})

		It("records the error and no response when the upstream fails before any chunk", func() {
			in := rec.Begin(ctx, request(true))
			Expect(in.Finish(ctx, recorder.Result{
				StatusCode: 200,
				Err:        errors.New("connection refused"),
			})).To(Succeed())

			stored, err := driver.Get(ctx, "msg_1")
			Expect(err).NotTo(HaveOccurred())
			Expect(stored.Error).To(Equal("connection refused"))
			Expect(stored.RawResponse).To(BeNil())
			Expect(stored.Content).To(BeEmpty())
		})

		It("keeps partial content and drops the response of a failed stream", func() {
			in := rec.Begin(ctx, request(true))
			Expect(in.Finish(ctx, recorder.Result{
				Response: response,
				Content:  "Hel",
				Err:      errors.New("stream reset"),
			})).To(Succeed())

			stored, err := driver.Get(ctx, "msg_1")
			Expect(err).NotTo(HaveOccurred())
			Expect(stored.Content).To(Equal("Hel"))
			Expect(stored.RawResponse).To(BeNil())
		})

		It("writes after the client context is cancelled", func() {
			cctx, cancel := context.WithCancel(ctx)
			in := rec.Begin(cctx, request(true))
			cancel()

			Expect(in.Finish(cctx, recorder.Result{Content: "Hel", Err: context.Canceled})).To(Succeed())

			stored, err := driver.Get(ctx, "msg_1")
			Expect(err).NotTo(HaveOccurred())
			Expect(stored.Completed()).To(BeTrue())
		})

		It("falls back to a full insert when the initial write failed", func() {
			driver.failCreate.Store(1)
			in := rec.Begin(ctx, request(true))

			_, err := driver.Get(ctx, "msg_1")
			Expect(storage.IsNotFound(err)).To(BeTrue())

			Expect(in.Finish(ctx, recorder.Result{Content: "Hello", StatusCode: 200})).To(Succeed())

			stored, err := driver.Get(ctx, "msg_1")
			Expect(err).NotTo(HaveOccurred())
			Expect(stored.Completed()).To(BeTrue())
			Expect(stored.Content).To(Equal("Hello"))
			Expect(events.types()).To(Equal([]string{eventstream.EventTypeInteractionCompleted}))
		})
	})

	Context("non-streaming", func() {
		It("writes nothing until Finish and then exactly once", func() {
			in := rec.Begin(ctx, request(false))
			Expect(driver.writes()).To(BeZero())

			Expect(in.Finish(ctx, recorder.Result{
				Response:   response,
				Content:    "Hello",
				Usage:      response.Usage,
				StatusCode: 200,
			})).To(Succeed())

			Expect(driver.creates.Load()).To(Equal(int32(1)))
			Expect(driver.updates.Load()).To(BeZero())

			stored, err := driver.Get(ctx, "msg_1")
			Expect(err).NotTo(HaveOccurred())
			Expect(stored.Streaming).To(BeFalse())
			Expect(stored.Completed()).To(BeTrue())
			Expect(stored.RawResponse).NotTo(BeNil())
			Expect(events.types()).To(Equal([]string{eventstream.EventTypeInteractionCompleted}))
		})

		It("records an upstream failure with its status", func() {
			in := rec.Begin(ctx, request(false))
			Expect(in.Finish(ctx, recorder.Result{StatusCode: 502, Err: errors.New("bad gateway")})).To(Succeed())

			stored, err := driver.Get(ctx, "msg_1")
			Expect(err).NotTo(HaveOccurred())
			Expect(stored.StatusCode).To(Equal(502))
			Expect(stored.Error).To(Equal("bad gateway"))
		})
	})

	It("applies exactly one terminal write across concurrent finishes", func() {
		for _, streaming := range []bool{true, false} {
			driver = &countingDriver{Driver: inmemory.NewDriver()}
			rec = recorder.New(recorder.Options{Driver: driver})
			in := rec.Begin(ctx, request(streaming))
			before := driver.writes()

			var (
				wg       sync.WaitGroup
				finished atomic.Int32
			)
			for range 10 {
				wg.Add(1)
				go func() {
					defer GinkgoRecover()
					defer wg.Done()
					err := in.Finish(ctx, recorder.Result{Content: "x", StatusCode: 200})
					if err == nil {
						finished.Add(1)
						return
					}
					Expect(err).To(MatchError(recorder.ErrFinished))
				}()
			}
			wg.Wait()

			Expect(finished.Load()).To(Equal(int32(1)))
			Expect(driver.writes() - before).To(Equal(int32(1)))
		}
	})
})
