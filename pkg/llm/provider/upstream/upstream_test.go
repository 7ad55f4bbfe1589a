package upstream_test

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/switchboard/pkg/credentials"
	"github.com/papercomputeco/switchboard/pkg/llm"
	"github.com/papercomputeco/switchboard/pkg/llm/provider/upstream"
)

var _ = Describe("Client", func() {
	var server *httptest.Server

	AfterEach(func() {
		server.Close()
	})

	newClient := func() *upstream.Client {
		return upstream.NewClient(upstream.Config{
			Provider: &credentials.ProviderConfig{ID: "openai", BaseURL: server.URL + "/"},
		})
	}

	It("posts JSON and hands back a successful response", func() {
		server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer GinkgoRecover()
			Expect(r.URL.Path).To(Equal("/v1/chat/completions"))
			Expect(r.Header.Get("Content-Type")).To(Equal("application/json"))
			Expect(r.Header.Get("Authorization")).To(Equal("Bearer k"))
			Expect(r.Header.Get("User-Agent")).To(HavePrefix("switchboard/"))
			w.WriteHeader(http.StatusOK)
		}))

		resp, err := newClient().Post(GinkgoT().Context(), "/v1/chat/completions",
			map[string]string{"model": "m"}, http.Header{"Authorization": {"Bearer k"}})
		Expect(err).NotTo(HaveOccurred())
		resp.Body.Close()
	})

	It("returns non-2xx responses as protocol errors carrying the body", func() {
		server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"error":"slow down"}` + "\n"))
		}))

		_, err := newClient().Post(GinkgoT().Context(), "/x", struct{}{}, nil)

		var uErr *upstream.Error
		Expect(errors.As(err, &uErr)).To(BeTrue())
		Expect(uErr.StatusCode).To(Equal(http.StatusTooManyRequests))
		Expect(uErr.Body).To(Equal(`{"error":"slow down"}`))
		Expect(errors.Is(err, llm.ErrUpstreamProtocol)).To(BeTrue())
	})
})

var _ = Describe("Error", func() {
	It("bounds the body quoted in the message", func() {
		err := &upstream.Error{Provider: "p", StatusCode: 500, Body: strings.Repeat("x", 5000)}

		Expect(len(err.Error())).To(BeNumerically("<", 1100))
		Expect(err.Error()).To(HaveSuffix("..."))
	})

	It("describes transport failures", func() {
		err := &upstream.Error{Provider: "p", Err: errors.New("dial tcp: refused")}

		Expect(err.Error()).To(Equal("upstream p: dial tcp: refused"))
		Expect(errors.Is(err, llm.ErrUpstreamProtocol)).To(BeTrue())
	})

	It("wraps payload errors from Protocolf", func() {
		err := upstream.Protocolf("p", "bad chunk %d", 3)
		Expect(err).To(MatchError("upstream p: bad chunk 3"))
	})
})

var _ = Describe("NewHTTPClient", func() {
	It("falls back to the default timeout", func() {
		Expect(upstream.NewHTTPClient(0).Timeout).To(Equal(upstream.DefaultTimeout))
	})
})
