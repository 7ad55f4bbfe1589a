package metrics_test

import (
	"errors"
	"io"
	"net/http/httptest"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/switchboard/pkg/metrics"
)

func scrape(m *metrics.Metrics) string {
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Result().Body)
	Expect(err).NotTo(HaveOccurred())
	return string(body)
}

var _ = Describe("Metrics", func() {
	It("exposes request counts labelled by provider, mode and status", func() {
		m := metrics.New()
		m.ObserveRequest("local", true, 200, 120*time.Millisecond)
		m.ObserveRequest("local", true, 200, 80*time.Millisecond)
		m.ObserveRequest("openai", false, 502, time.Second)

		body := scrape(m)
		Expect(body).To(ContainSubstring(`switchboard_requests_total{mode="stream",provider="local",status="200"} 2`))
		Expect(body).To(ContainSubstring(`switchboard_requests_total{mode="json",provider="openai",status="502"} 1`))
		Expect(body).To(ContainSubstring(`switchboard_request_latency_ms_count{mode="stream",provider="local",status="200"} 2`))
	})

	It("adds token usage and skips zero counts", func() {
		m := metrics.New()
		m.ObserveTokens("local", 10, 0)
		m.ObserveTokens("local", 5, 7)

		body := scrape(m)
		Expect(body).To(ContainSubstring(`switchboard_tokens_total{direction="input",provider="local"} 15`))
		Expect(body).To(ContainSubstring(`switchboard_tokens_total{direction="output",provider="local"} 7`))
	})

	It("counts refresh outcomes and dropped events", func() {
		m := metrics.New()
		m.ObserveRefresh("claude", nil)
		m.ObserveRefresh("claude", errors.New("rejected"))
		m.EventDropped()

		body := scrape(m)
		Expect(body).To(ContainSubstring(`switchboard_oauth_refresh_total{provider="claude",result="ok"} 1`))
		Expect(body).To(ContainSubstring(`switchboard_oauth_refresh_total{provider="claude",result="error"} 1`))
		Expect(body).To(ContainSubstring(`switchboard_events_dropped_total 1`))
	})

	It("keeps registries independent", func() {
		a := metrics.New()
		b := metrics.New()
		a.EventDropped()
		Expect(scrape(b)).To(ContainSubstring(`switchboard_events_dropped_total 0`))
	})
})
