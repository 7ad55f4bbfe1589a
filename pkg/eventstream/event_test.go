package eventstream_test

import (
	"encoding/json"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/switchboard/pkg/eventstream"
	"github.com/papercomputeco/switchboard/pkg/storage"
)

var _ = Describe("Event", func() {
	It("snapshots the record with expected top-level keys", func() {
		now := time.Unix(1735689600, 0)
		rec := &storage.InteractionRecord{
			ID:         "msg_1",
			ProviderID: "local",
			Model:      "m1",
			RawRequest: json.RawMessage(`{"model":"m1"}`),
			CreatedAt:  now,
		}

		event := eventstream.NewInteractionEvent(eventstream.EventTypeInteractionCreated, rec, now)
		rec.Model = "changed"

		Expect(event.SchemaVersion).To(Equal(eventstream.SchemaVersionV1))
		Expect(event.EventID).To(HavePrefix("evt_"))
		Expect(event.Interaction.Model).To(Equal("m1"))

		payload, err := json.Marshal(event)
		Expect(err).NotTo(HaveOccurred())

		var got map[string]any
		Expect(json.Unmarshal(payload, &got)).To(Succeed())
		Expect(got).To(HaveKeyWithValue("event_type", "switchboard.interaction.created"))
		Expect(got).To(HaveKey("event_id"))
		Expect(got).To(HaveKey("emitted_at"))
		Expect(got).To(HaveKey("interaction"))
		Expect(got["interaction"]).To(HaveKeyWithValue("id", "msg_1"))
	})

	It("gives every event a distinct id", func() {
		rec := &storage.InteractionRecord{ID: "msg_1"}
		a := eventstream.NewInteractionEvent(eventstream.EventTypeInteractionCompleted, rec, time.Now())
		b := eventstream.NewInteractionEvent(eventstream.EventTypeInteractionCompleted, rec, time.Now())
		Expect(a.EventID).NotTo(Equal(b.EventID))
	})
})
