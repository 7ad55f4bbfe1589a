package nop_test

import (
	"context"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/switchboard/pkg/eventstream"
	"github.com/papercomputeco/switchboard/pkg/eventstream/nop"
)

var _ = Describe("Publisher", func() {
	It("returns ErrNilInteractionEvent for nil events", func() {
		p := nop.NewPublisher()
		err := p.PublishInteraction(context.Background(), nil)
		Expect(err).To(MatchError(eventstream.ErrNilInteractionEvent))
	})

	It("succeeds for non-nil events", func() {
		p := nop.NewPublisher()
		err := p.PublishInteraction(context.Background(), &eventstream.InteractionEvent{})
		Expect(err).NotTo(HaveOccurred())
	})

	It("closes successfully", func() {
		Expect(nop.NewPublisher().Close()).To(Succeed())
	})
})
