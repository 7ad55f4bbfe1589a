package oauth_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/switchboard/pkg/credentials"
	"github.com/papercomputeco/switchboard/pkg/credentials/inmemory"
	"github.com/papercomputeco/switchboard/pkg/oauth"
)

// tokenServer is a fake authorization server.
type tokenServer struct {
	*httptest.Server

	exchanges  atomic.Int32
	refreshes  atomic.Int32
	revokes    atomic.Int32
	delay      atomic.Int64
	omitRotate atomic.Bool
	revokeFail atomic.Bool

	mu       sync.Mutex
	verifier string
	state    string
}

func newTokenServer() *tokenServer {
	ts := &tokenServer{}
	mux := http.NewServeMux()
	mux.HandleFunc("/token", ts.token)
	mux.HandleFunc("/revoke", func(w http.ResponseWriter, _ *http.Request) {
		ts.revokes.Add(1)
		if ts.revokeFail.Load() {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	ts.Server = httptest.NewServer(mux)
	return ts
}

func (ts *tokenServer) lastExchange() (verifier, state string) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return ts.verifier, ts.state
}

func (ts *tokenServer) token(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	writeJSON := func(status int, body map[string]any) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(body)
	}

	switch r.PostForm.Get("grant_type") {
	case "authorization_code":
		ts.exchanges.Add(1)
		ts.mu.Lock()
		ts.verifier = r.PostForm.Get("code_verifier")
		ts.state = r.PostForm.Get("state")
		ts.mu.Unlock()

		switch r.PostForm.Get("code") {
		case "good-code":
			writeJSON(http.StatusOK, map[string]any{
				"access_token":  "access-1",
				"refresh_token": "refresh-1",
				"token_type":    "Bearer",
				"expires_in":    3600,
				"scope":         "user:inference",
			})
		case "html":
			w.WriteHeader(http.StatusBadGateway)
			_, _ = w.Write([]byte("<html>bad gateway</html>"))
		default:
			writeJSON(http.StatusBadRequest, map[string]any{
				"error":             "invalid_grant",
				"error_description": "authorization code is invalid",
			})
		}

	case "refresh_token":
		n := ts.refreshes.Add(1)
		time.Sleep(time.Duration(ts.delay.Load()))
		if r.PostForm.Get("refresh_token") == "revoked" {
			writeJSON(http.StatusBadRequest, map[string]any{"error": "invalid_grant"})
			return
		}
		body := map[string]any{
			"access_token": fmt.Sprintf("access-r%d", n),
			"token_type":   "Bearer",
			"expires_in":   3600,
		}
		if !ts.omitRotate.Load() {
			body["refresh_token"] = "refresh-r"
		}
		writeJSON(http.StatusOK, body)

	default:
		writeJSON(http.StatusBadRequest, map[string]any{"error": "unsupported_grant_type"})
	}
}

var _ = Describe("Manager", func() {
	var (
		ts      *tokenServer
		store   *inmemory.Store
		manager *oauth.Manager
		now     time.Time
		ctx     context.Context
		devMode bool
	)

	provider := func(clientID string) *credentials.ProviderConfig {
		p := &credentials.ProviderConfig{
			ID:     "claude",
			Family: credentials.FamilyOAuth,
			Active: true,
			OAuth: &credentials.OAuthClientConfig{
				ClientID:     clientID,
				AuthorizeURL: ts.URL + "/authorize",
				TokenURL:     ts.URL + "/token",
				RevokeURL:    ts.URL + "/revoke",
				RedirectURI:  "http://localhost:8080/oauth/callback",
				Scopes:       []string{"user:inference"},
			},
		}
		p.ApplyDefaults()
		return p
	}

	build := func() {
		manager = oauth.NewManager(oauth.Options{
			Store:   store,
			DevMode: devMode,
			Now:     func() time.Time { return now },
		})
	}

	BeforeEach(func() {
		ts = newTokenServer()
		DeferCleanup(ts.Close)

		store = inmemory.NewStore()
		now = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
		ctx = context.Background()
		devMode = false

		Expect(store.SaveProvider(ctx, provider("client-1"))).To(Succeed())
		build()
	})

	startFlow := func() url.Values {
		raw, err := manager.Authorize(ctx, "claude")
		Expect(err).NotTo(HaveOccurred())
		u, err := url.Parse(raw)
		Expect(err).NotTo(HaveOccurred())
		return u.Query()
	}

	Describe("Authorize", func() {
		It("builds a PKCE authorization URL and records the session", func() {
			q := startFlow()
			Expect(q.Get("response_type")).To(Equal("code"))
			Expect(q.Get("client_id")).To(Equal("client-1"))
			Expect(q.Get("redirect_uri")).To(Equal("http://localhost:8080/oauth/callback"))
			Expect(q.Get("scope")).To(Equal("user:inference"))
			Expect(q.Get("code_challenge_method")).To(Equal("S256"))
			Expect(q.Get("code_challenge")).To(HaveLen(43))
			Expect(q.Get("state")).To(HaveLen(32))
			Expect(manager.Sessions().Pending("claude")).To(BeTrue())
		})

		It("fails with a ConfigurationError without a client id", func() {
			Expect(store.SaveProvider(ctx, provider(""))).To(Succeed())

			_, err := manager.Authorize(ctx, "claude")
			var cfgErr *oauth.ConfigurationError
			Expect(errors.As(err, &cfgErr)).To(BeTrue())
			Expect(cfgErr.Field).To(Equal("client_id"))
			Expect(manager.Sessions().Len()).To(BeZero())
		})

		It("uses a placeholder client id in dev mode", func() {
			Expect(store.SaveProvider(ctx, provider(""))).To(Succeed())
			devMode = true
			build()

			Expect(startFlow().Get("client_id")).To(Equal(oauth.DevClientID))
		})

		It("fails with a ConfigurationError without a redirect uri", func() {
			p := provider("client-1")
			p.OAuth.RedirectURI = ""
			Expect(store.SaveProvider(ctx, p)).To(Succeed())

			_, err := manager.Authorize(ctx, "claude")
			var cfgErr *oauth.ConfigurationError
			Expect(errors.As(err, &cfgErr)).To(BeTrue())
			Expect(cfgErr.Field).To(Equal("redirect_uri"))
		})
	})

	Describe("Complete", func() {
		It("rejects an unknown state without contacting the token endpoint", func() {
			startFlow()

			_, err := manager.Complete(ctx, "good-code", "not-a-state", "")
			Expect(err).To(MatchError(oauth.ErrExchangeFailed))

			var oErr *oauth.Error
			Expect(errors.As(err, &oErr)).To(BeTrue())
			Expect(oErr.Kind).To(Equal(oauth.KindStateMismatch))
			Expect(ts.exchanges.Load()).To(BeZero())
		})

		It("exchanges the code and stores the token", func() {
			q := startFlow()

			id, err := manager.Complete(ctx, "good-code", q.Get("state"), "claude")
			Expect(err).NotTo(HaveOccurred())
			Expect(id).To(Equal("claude"))

			verifier, state := ts.lastExchange()
			Expect(state).To(Equal(q.Get("state")))
			Expect(oauth.Challenge(verifier)).To(Equal(q.Get("code_challenge")))

			tok, err := store.GetToken(ctx, "claude")
			Expect(err).NotTo(HaveOccurred())
			Expect(tok.AccessToken).To(Equal("access-1"))
			Expect(tok.RefreshToken).To(Equal("refresh-1"))
			Expect(tok.Scope).To(Equal("user:inference"))
			Expect(tok.ExpiresAt).To(Equal(now.Add(time.Hour)))
		})

		It("consumes the session exactly once", func() {
			q := startFlow()

			_, err := manager.Complete(ctx, "good-code", q.Get("state"), "")
			Expect(err).NotTo(HaveOccurred())

			_, err = manager.Complete(ctx, "good-code", q.Get("state"), "")
			Expect(err).To(MatchError(oauth.ErrExchangeFailed))
			Expect(ts.exchanges.Load()).To(Equal(int32(1)))
		})

		It("falls back to the provider's session when the state is missing", func() {
			startFlow()

			_, err := manager.Complete(ctx, "good-code", "", "claude")
			Expect(err).NotTo(HaveOccurred())
		})

		It("rejects a state that belongs to another provider", func() {
			q := startFlow()

			_, err := manager.Complete(ctx, "good-code", q.Get("state"), "openai")
			var oErr *oauth.Error
			Expect(errors.As(err, &oErr)).To(BeTrue())
			Expect(oErr.Kind).To(Equal(oauth.KindStateMismatch))
		})

		It("keeps the session pending after a callback on the wrong provider route", func() {
			q := startFlow()

			_, err := manager.Complete(ctx, "good-code", q.Get("state"), "openai")
			Expect(err).To(MatchError(oauth.ErrExchangeFailed))
			Expect(manager.Sessions().Pending("claude")).To(BeTrue())

			id, err := manager.Complete(ctx, "good-code", q.Get("state"), "claude")
			Expect(err).NotTo(HaveOccurred())
			Expect(id).To(Equal("claude"))
			Expect(ts.exchanges.Load()).To(Equal(int32(1)))
		})

		It("rejects expired sessions", func() {
			q := startFlow()
			now = now.Add(31 * time.Minute)

			_, err := manager.Complete(ctx, "good-code", q.Get("state"), "")
			Expect(err).To(MatchError(oauth.ErrExchangeFailed))
		})

		It("classifies RFC 6749 error bodies", func() {
			q := startFlow()

			_, err := manager.Complete(ctx, "bad-code", q.Get("state"), "")
			var oErr *oauth.Error
			Expect(errors.As(err, &oErr)).To(BeTrue())
			Expect(oErr.Kind).To(Equal(oauth.KindRejected))
			Expect(oErr.Code).To(Equal("invalid_grant"))
			Expect(oErr.Description).To(Equal("authorization code is invalid"))
			Expect(oErr.StatusCode).To(Equal(http.StatusBadRequest))
		})

		It("keeps the raw body of unstructured errors", func() {
			q := startFlow()

			_, err := manager.Complete(ctx, "html", q.Get("state"), "")
			var oErr *oauth.Error
			Expect(errors.As(err, &oErr)).To(BeTrue())
			Expect(oErr.Kind).To(Equal(oauth.KindRejected))
			Expect(oErr.Code).To(BeEmpty())
			Expect(oErr.Body).To(ContainSubstring("bad gateway"))
		})

		It("classifies transport failures as network errors", func() {
			q := startFlow()
			ts.Close()

			_, err := manager.Complete(ctx, "good-code", q.Get("state"), "")
			var oErr *oauth.Error
			Expect(errors.As(err, &oErr)).To(BeTrue())
			Expect(oErr.Kind).To(Equal(oauth.KindNetwork))
		})
	})

	Describe("EnsureValidToken", func() {
		save := func(refresh string, expiresIn int64) {
			tok := credentials.NewTokenRecord("access-0", refresh, "Bearer", "", now, expiresIn)
			Expect(store.SaveToken(ctx, "claude", tok)).To(Succeed())
		}

		It("returns a token that is not close to expiry", func() {
			save("refresh-0", 600)

			tok, err := manager.EnsureValidToken(ctx, "claude")
			Expect(err).NotTo(HaveOccurred())
			Expect(tok.AccessToken).To(Equal("access-0"))
			Expect(ts.refreshes.Load()).To(BeZero())
		})

		It("refreshes inside the buffer and persists the result", func() {
			save("refresh-0", 120)

			tok, err := manager.EnsureValidToken(ctx, "claude")
			Expect(err).NotTo(HaveOccurred())
			Expect(tok.AccessToken).To(Equal("access-r1"))
			Expect(tok.ExpiresAt).To(Equal(now.Add(time.Hour)))

			stored, err := store.GetToken(ctx, "claude")
			Expect(err).NotTo(HaveOccurred())
			Expect(stored.AccessToken).To(Equal("access-r1"))
			Expect(stored.RefreshToken).To(Equal("refresh-r"))
		})

		It("keeps the refresh token when the response omits one", func() {
			save("refresh-0", 60)
			ts.omitRotate.Store(true)

			tok, err := manager.EnsureValidToken(ctx, "claude")
			Expect(err).NotTo(HaveOccurred())
			Expect(tok.RefreshToken).To(Equal("refresh-0"))
		})

		It("coalesces concurrent refreshes into one request", func() {
			save("refresh-0", 60)
			ts.delay.Store(int64(100 * time.Millisecond))

			var wg sync.WaitGroup
			results := make([]string, 10)
			for i := range results {
				wg.Add(1)
				go func() {
					defer GinkgoRecover()
					defer wg.Done()
					tok, err := manager.EnsureValidToken(ctx, "claude")
					Expect(err).NotTo(HaveOccurred())
					results[i] = tok.AccessToken
				}()
			}
			wg.Wait()

			Expect(ts.refreshes.Load()).To(Equal(int32(1)))
			for _, r := range results {
				Expect(r).To(Equal("access-r1"))
			}
		})

		It("reports NoValidCredential without a token", func() {
			_, err := manager.EnsureValidToken(ctx, "claude")
			Expect(err).To(MatchError(oauth.ErrNoValidCredential))
		})

		It("reports NoValidCredential for an expiring token without a refresh token", func() {
			save("", 60)

			_, err := manager.EnsureValidToken(ctx, "claude")
			Expect(err).To(MatchError(oauth.ErrNoValidCredential))
			Expect(ts.refreshes.Load()).To(BeZero())
		})

		It("classifies refresh rejections", func() {
			save("revoked", 60)

			_, err := manager.EnsureValidToken(ctx, "claude")
			Expect(err).To(MatchError(oauth.ErrRefreshFailed))
			Expect(errors.Is(err, oauth.ErrExchangeFailed)).To(BeFalse())
		})

		It("reports every refresh outcome to the hook", func() {
			var outcomes []error
			manager = oauth.NewManager(oauth.Options{
				Store:     store,
				Now:       func() time.Time { return now },
				OnRefresh: func(_ string, err error) { outcomes = append(outcomes, err) },
			})

			save("refresh-0", 60)
			_, err := manager.EnsureValidToken(ctx, "claude")
			Expect(err).NotTo(HaveOccurred())

			save("revoked", 60)
			_, err = manager.EnsureValidToken(ctx, "claude")
			Expect(err).To(HaveOccurred())

			Expect(outcomes).To(HaveLen(2))
			Expect(outcomes[0]).NotTo(HaveOccurred())
			Expect(outcomes[1]).To(MatchError(oauth.ErrRefreshFailed))
		})

		It("does not hand a forced refresh the result of an expiry-driven one", func() {
			save("refresh-0", 60)
			ts.delay.Store(int64(200 * time.Millisecond))

			done := make(chan string, 1)
			go func() {
				defer GinkgoRecover()
				tok, err := manager.EnsureValidToken(ctx, "claude")
				Expect(err).NotTo(HaveOccurred())
				done <- tok.AccessToken
			}()
			Eventually(ts.refreshes.Load).Should(Equal(int32(1)))

			forced, err := manager.ForceRefresh(ctx, "claude")
			Expect(err).NotTo(HaveOccurred())
			Expect(forced.AccessToken).To(Equal("access-r2"))
			Expect(ts.refreshes.Load()).To(Equal(int32(2)))
			Eventually(done).Should(Receive(Equal("access-r1")))
		})

		It("refreshes on demand", func() {
			save("refresh-0", 3600)

			tok, err := manager.ForceRefresh(ctx, "claude")
			Expect(err).NotTo(HaveOccurred())
			Expect(tok.AccessToken).To(Equal("access-r1"))
		})
	})

	Describe("Disconnect and Status", func() {
		BeforeEach(func() {
			tok := credentials.NewTokenRecord("access-0", "refresh-0", "Bearer", "user:inference", now, 3600)
			Expect(store.SaveToken(ctx, "claude", tok)).To(Succeed())
		})

		It("reports the stored token", func() {
			st, err := manager.Status(ctx, "claude")
			Expect(err).NotTo(HaveOccurred())
			Expect(st.Connected).To(BeTrue())
			Expect(st.Expired).To(BeFalse())
			Expect(st.HasRefreshToken).To(BeTrue())
			Expect(*st.ExpiresAt).To(Equal(now.Add(time.Hour)))
		})

		It("revokes both tokens and deletes them", func() {
			Expect(manager.Disconnect(ctx, "claude")).To(Succeed())
			Expect(ts.revokes.Load()).To(Equal(int32(2)))

			st, err := manager.Status(ctx, "claude")
			Expect(err).NotTo(HaveOccurred())
			Expect(st.Connected).To(BeFalse())
		})

		It("deletes local tokens even when revocation fails", func() {
			ts.revokeFail.Store(true)

			Expect(manager.Disconnect(ctx, "claude")).To(MatchError(ContainSubstring("status 500")))

			_, err := store.GetToken(ctx, "claude")
			Expect(credentials.IsNotFound(err)).To(BeTrue())
		})

		It("refuses non-OAuth providers", func() {
			p := &credentials.ProviderConfig{ID: "local", Family: credentials.FamilyLocal, Active: true}
			p.ApplyDefaults()
			Expect(store.SaveProvider(ctx, p)).To(Succeed())

			_, err := manager.Status(ctx, "local")
			var cfgErr *oauth.ConfigurationError
			Expect(errors.As(err, &cfgErr)).To(BeTrue())
		})
	})
})

var _ = Describe("SessionStore", func() {
	var (
		store *oauth.SessionStore
		t0    time.Time
	)

	BeforeEach(func() {
		store = oauth.NewSessionStore(30 * time.Minute)
		t0 = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	})

	session := func(provider, state string, at time.Time) *oauth.Session {
		return &oauth.Session{Provider: provider, PKCE: oauth.PKCE{State: state}, CreatedAt: at}
	}

	It("sweeps only sessions older than the TTL", func() {
		store.Put(session("a", "s1", t0))
		store.Put(session("b", "s2", t0.Add(20*time.Minute)))

		Expect(store.Sweep(t0.Add(31 * time.Minute))).To(Equal(1))
		Expect(store.Len()).To(Equal(1))
		Expect(store.Pending("a")).To(BeFalse())
		Expect(store.Pending("b")).To(BeTrue())
	})

	It("replaces a provider's earlier pending session", func() {
		store.Put(session("a", "s1", t0))
		store.Put(session("a", "s2", t0))

		Expect(store.Len()).To(Equal(1))
		_, ok := store.Take("s1", t0)
		Expect(ok).To(BeFalse())
		sess, ok := store.Take("s2", t0)
		Expect(ok).To(BeTrue())
		Expect(sess.Provider).To(Equal("a"))
		Expect(store.Pending("a")).To(BeFalse())
	})

	It("stops sweeping when the context is cancelled", func() {
		store.Put(session("a", "s1", t0))
		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan struct{})

		go func() {
			store.Run(ctx, 5*time.Millisecond, func() time.Time { return t0.Add(time.Hour) })
			close(done)
		}()

		Eventually(store.Len).Should(BeZero())
		cancel()
		Eventually(done).Should(BeClosed())
	})
})
