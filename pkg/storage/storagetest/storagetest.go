// Package storagetest holds the shared ginkgo specs every storage driver must
// pass. Driver test suites call DescribeDriver and DescribeCredentialStore
// from a container node.
package storagetest

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/switchboard/pkg/credentials"
	"github.com/papercomputeco/switchboard/pkg/storage"
)

// NewRecord returns a pending record created at the given offset from a
// fixed base time.
func NewRecord(id, providerID string, offset time.Duration) *storage.InteractionRecord {
	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	return &storage.InteractionRecord{
		ID:         id,
		ProviderID: providerID,
		Model:      "m1",
		Streaming:  true,
		RawRequest: json.RawMessage(`{"model":"m1","messages":[{"role":"user","content":"hi"}]}`),
		CreatedAt:  base.Add(offset),
	}
}

// DescribeDriver registers the interaction store specs. newDriver is called
// before each spec.
func DescribeDriver(newDriver func() storage.Driver) {
	Describe("storage.Driver", func() {
		var (
			driver storage.Driver
			ctx    context.Context
		)

		BeforeEach(func() {
			driver = newDriver()
			ctx = context.Background()
			DeferCleanup(func() {
				Expect(driver.Close()).To(Succeed())
			})
		})

		It("returns NotFoundError for unknown records", func() {
			_, err := driver.Get(ctx, "missing")
			Expect(storage.IsNotFound(err)).To(BeTrue())
		})

		It("stores a pending record without a response", func() {
			Expect(driver.Create(ctx, NewRecord("i1", "local", 0))).To(Succeed())

			rec, err := driver.Get(ctx, "i1")
			Expect(err).NotTo(HaveOccurred())
			Expect(rec.ProviderID).To(Equal("local"))
			Expect(rec.Streaming).To(BeTrue())
			Expect(rec.RawRequest).To(MatchJSON(`{"model":"m1","messages":[{"role":"user","content":"hi"}]}`))
			Expect(rec.RawResponse).To(BeNil())
			Expect(rec.Error).To(BeEmpty())
			Expect(rec.Completed()).To(BeFalse())
		})

		It("rejects duplicate ids", func() {
			Expect(driver.Create(ctx, NewRecord("i1", "local", 0))).To(Succeed())
			Expect(driver.Create(ctx, NewRecord("i1", "local", 0))).NotTo(Succeed())
		})

		It("applies a successful completion", func() {
			Expect(driver.Create(ctx, NewRecord("i1", "local", 0))).To(Succeed())

			err := driver.Update(ctx, "i1", &storage.Completion{
				RawResponse:  json.RawMessage(`{"id":"i1","type":"message"}`),
				Content:      "Hello",
				InputTokens:  3,
				OutputTokens: 5,
				ResponseTime: 1500 * time.Millisecond,
				StatusCode:   200,
				CompletedAt:  time.Date(2026, 1, 2, 3, 5, 0, 0, time.UTC),
			})
			Expect(err).NotTo(HaveOccurred())

			rec, err := driver.Get(ctx, "i1")
			Expect(err).NotTo(HaveOccurred())
			Expect(rec.Completed()).To(BeTrue())
			Expect(rec.RawResponse).To(MatchJSON(`{"id":"i1","type":"message"}`))
			Expect(rec.Content).To(Equal("Hello"))
			Expect(rec.InputTokens).To(Equal(3))
			Expect(rec.OutputTokens).To(Equal(5))
			Expect(rec.ResponseTimeMs).To(Equal(int64(1500)))
			Expect(rec.StatusCode).To(Equal(200))
		})

		It("keeps partial content and the error of a failed completion", func() {
			Expect(driver.Create(ctx, NewRecord("i1", "local", 0))).To(Succeed())

			Expect(driver.Update(ctx, "i1", &storage.Completion{
				Content:    "Hel",
				StatusCode: 502,
				Error:      "upstream reset",
			})).To(Succeed())

			rec, err := driver.Get(ctx, "i1")
			Expect(err).NotTo(HaveOccurred())
			Expect(rec.RawResponse).To(BeNil())
			Expect(rec.Content).To(Equal("Hel"))
			Expect(rec.Error).To(Equal("upstream reset"))
			Expect(rec.Completed()).To(BeTrue())
		})

		It("completes a record at most once", func() {
			Expect(driver.Create(ctx, NewRecord("i1", "local", 0))).To(Succeed())
			Expect(driver.Update(ctx, "i1", &storage.Completion{Content: "first", StatusCode: 200})).To(Succeed())

			err := driver.Update(ctx, "i1", &storage.Completion{Content: "second", StatusCode: 500, Error: "late"})
			Expect(err).To(MatchError(storage.ErrAlreadyCompleted))

			rec, err := driver.Get(ctx, "i1")
			Expect(err).NotTo(HaveOccurred())
			Expect(rec.Content).To(Equal("first"))
		})

		It("lets exactly one of many concurrent completions win", func() {
			Expect(driver.Create(ctx, NewRecord("i1", "local", 0))).To(Succeed())

			var (
				wg   sync.WaitGroup
				mu   sync.Mutex
				wins int
			)
			for i := range 8 {
				wg.Add(1)
				go func() {
					defer GinkgoRecover()
					defer wg.Done()
					err := driver.Update(ctx, "i1", &storage.Completion{Content: fmt.Sprint(i), StatusCode: 200})
					if err == nil {
						mu.Lock()
						wins++
						mu.Unlock()
						return
					}
					Expect(err).To(MatchError(storage.ErrAlreadyCompleted))
				}()
			}
			wg.Wait()

			Expect(wins).To(Equal(1))
		})

		It("returns NotFoundError when completing an unknown record", func() {
			err := driver.Update(ctx, "missing", &storage.Completion{StatusCode: 200})
			Expect(storage.IsNotFound(err)).To(BeTrue())
		})

		It("lists newest first with filter and limit", func() {
			Expect(driver.Create(ctx, NewRecord("a", "local", 0))).To(Succeed())
			Expect(driver.Create(ctx, NewRecord("b", "openai", time.Second))).To(Succeed())
			Expect(driver.Create(ctx, NewRecord("c", "local", 2*time.Second))).To(Succeed())

			all, err := driver.List(ctx, storage.ListOptions{})
			Expect(err).NotTo(HaveOccurred())
			Expect(ids(all)).To(Equal([]string{"c", "b", "a"}))

			local, err := driver.List(ctx, storage.ListOptions{ProviderID: "local"})
			Expect(err).NotTo(HaveOccurred())
			Expect(ids(local)).To(Equal([]string{"c", "a"}))

			one, err := driver.List(ctx, storage.ListOptions{Limit: 1})
			Expect(err).NotTo(HaveOccurred())
			Expect(ids(one)).To(Equal([]string{"c"}))
		})
	})
}

// DescribeCredentialStore registers the provider and secret store specs.
func DescribeCredentialStore(newStore func() credentials.Store) {
	Describe("credentials.Store", func() {
		var (
			store credentials.Store
			ctx   context.Context
		)

		BeforeEach(func() {
			store = newStore()
			ctx = context.Background()
			DeferCleanup(func() {
				Expect(store.Close()).To(Succeed())
			})
		})

		It("round-trips a provider configuration", func() {
			p := Provider("openai", credentials.FamilyAPIKey, false)
			p.APIKey = "sk-config"
			p.Models = []string{"gpt-4o"}
			p.ModelAliases = map[string]string{"fast": "gpt-4o-mini"}
			Expect(store.SaveProvider(ctx, p)).To(Succeed())

			got, err := store.GetProvider(ctx, "openai")
			Expect(err).NotTo(HaveOccurred())
			Expect(got).To(Equal(p))
		})

		It("returns NotFoundError for unknown providers", func() {
			_, err := store.GetProvider(ctx, "missing")
			Expect(credentials.IsNotFound(err)).To(BeTrue())
		})

		It("keeps at most one default among active providers", func() {
			Expect(store.SaveProvider(ctx, Provider("a", credentials.FamilyLocal, true))).To(Succeed())
			Expect(store.SaveProvider(ctx, Provider("b", credentials.FamilyLocal, true))).To(Succeed())

			list, err := store.ListProviders(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(list).To(HaveLen(2))
			Expect(list[0].ID).To(Equal("a"))
			Expect(list[0].Default).To(BeFalse())
			Expect(credentials.FindDefault(list).ID).To(Equal("b"))

			Expect(store.SetDefault(ctx, "a")).To(Succeed())
			list, err = store.ListProviders(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(credentials.FindDefault(list).ID).To(Equal("a"))
			Expect(list[1].Default).To(BeFalse())
		})

		It("refuses to make a missing or inactive provider default", func() {
			off := Provider("off", credentials.FamilyLocal, false)
			off.Active = false
			Expect(store.SaveProvider(ctx, off)).To(Succeed())

			Expect(store.SetDefault(ctx, "off")).To(MatchError(credentials.ErrInactiveProvider))
			Expect(credentials.IsNotFound(store.SetDefault(ctx, "missing"))).To(BeTrue())
		})

		It("stores API keys", func() {
			key, err := store.GetAPIKey(ctx, "openai")
			Expect(err).NotTo(HaveOccurred())
			Expect(key).To(BeEmpty())

			Expect(store.SetAPIKey(ctx, "openai", "sk-1")).To(Succeed())
			Expect(store.SetAPIKey(ctx, "openai", "sk-2")).To(Succeed())
			key, err = store.GetAPIKey(ctx, "openai")
			Expect(err).NotTo(HaveOccurred())
			Expect(key).To(Equal("sk-2"))
		})

		It("replaces and deletes tokens", func() {
			issued := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
			Expect(store.SaveToken(ctx, "claude", credentials.NewTokenRecord("a1", "r1", "Bearer", "", issued, 60))).To(Succeed())
			Expect(store.SaveToken(ctx, "claude", credentials.NewTokenRecord("a2", "r2", "Bearer", "user:inference", issued, 3600))).To(Succeed())

			tok, err := store.GetToken(ctx, "claude")
			Expect(err).NotTo(HaveOccurred())
			Expect(tok.AccessToken).To(Equal("a2"))
			Expect(tok.RefreshToken).To(Equal("r2"))
			Expect(tok.Scope).To(Equal("user:inference"))
			Expect(tok.ExpiresAt.Equal(issued.Add(time.Hour))).To(BeTrue())

			Expect(store.DeleteToken(ctx, "claude")).To(Succeed())
			_, err = store.GetToken(ctx, "claude")
			Expect(credentials.IsNotFound(err)).To(BeTrue())

			Expect(store.DeleteToken(ctx, "claude")).To(Succeed())
		})

		It("keeps tokens without an expiry", func() {
			issued := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
			Expect(store.SaveToken(ctx, "claude", credentials.NewTokenRecord("a1", "", "", "", issued, 0))).To(Succeed())

			tok, err := store.GetToken(ctx, "claude")
			Expect(err).NotTo(HaveOccurred())
			Expect(tok.ExpiresAt.IsZero()).To(BeTrue())
			Expect(tok.RefreshToken).To(BeEmpty())
		})
	})
}

// Provider returns a valid active provider of the given family.
func Provider(id string, family credentials.Family, def bool) *credentials.ProviderConfig {
	p := &credentials.ProviderConfig{
		ID:           id,
		Family:       family,
		DefaultModel: "m1",
		Active:       true,
		Default:      def,
	}
	p.ApplyDefaults()
	return p
}

func ids(recs []*storage.InteractionRecord) []string {
	out := make([]string, 0, len(recs))
	for _, r := range recs {
		out = append(out, r.ID)
	}
	return out
}
