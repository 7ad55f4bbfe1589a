package inmemory_test

import (
	"context"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/switchboard/pkg/credentials"
	"github.com/papercomputeco/switchboard/pkg/credentials/inmemory"
	"github.com/papercomputeco/switchboard/pkg/storage/storagetest"
)

func provider(id string, def bool) *credentials.ProviderConfig {
	p := &credentials.ProviderConfig{
		ID:           id,
		Family:       credentials.FamilyLocal,
		DefaultModel: "m1",
		Active:       true,
		Default:      def,
	}
	p.ApplyDefaults()
	return p
}

var _ = Describe("Store", func() {
	var (
		store *inmemory.Store
		ctx   context.Context
	)

	BeforeEach(func() {
		store = inmemory.NewStore()
		ctx = context.Background()
	})

	Describe("providers", func() {
		It("returns NotFoundError for unknown providers", func() {
			_, err := store.GetProvider(ctx, "missing")
			Expect(credentials.IsNotFound(err)).To(BeTrue())
		})

		It("rejects invalid providers", func() {
			err := store.SaveProvider(ctx, &credentials.ProviderConfig{ID: "x", Family: "bogus"})
			Expect(err).To(MatchError(ContainSubstring("unknown family")))
		})

		It("lists providers ordered by id", func() {
			Expect(store.SaveProvider(ctx, provider("b", false))).To(Succeed())
			Expect(store.SaveProvider(ctx, provider("a", false))).To(Succeed())

			list, err := store.ListProviders(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(list).To(HaveLen(2))
			Expect(list[0].ID).To(Equal("a"))
		})

		It("keeps at most one default among active providers", func() {
			Expect(store.SaveProvider(ctx, provider("a", true))).To(Succeed())
			Expect(store.SaveProvider(ctx, provider("b", true))).To(Succeed())

			list, err := store.ListProviders(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(credentials.FindDefault(list).ID).To(Equal("b"))
			Expect(list[0].Default).To(BeFalse())

			Expect(store.SetDefault(ctx, "a")).To(Succeed())
			list, err = store.ListProviders(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(credentials.FindDefault(list).ID).To(Equal("a"))
			Expect(list[1].Default).To(BeFalse())
		})

		It("refuses to make an inactive provider default", func() {
			p := provider("off", false)
			p.Active = false
			Expect(store.SaveProvider(ctx, p)).To(Succeed())
			Expect(store.SetDefault(ctx, "off")).To(MatchError(credentials.ErrInactiveProvider))
		})

		It("returns copies that callers cannot mutate", func() {
			Expect(store.SaveProvider(ctx, provider("a", false))).To(Succeed())
			got, err := store.GetProvider(ctx, "a")
			Expect(err).NotTo(HaveOccurred())
			got.DefaultModel = "changed"

			again, err := store.GetProvider(ctx, "a")
			Expect(err).NotTo(HaveOccurred())
			Expect(again.DefaultModel).To(Equal("m1"))
		})
	})

	Describe("secrets", func() {
		It("stores API keys", func() {
			key, err := store.GetAPIKey(ctx, "openai")
			Expect(err).NotTo(HaveOccurred())
			Expect(key).To(BeEmpty())

			Expect(store.SetAPIKey(ctx, "openai", "sk-1")).To(Succeed())
			key, err = store.GetAPIKey(ctx, "openai")
			Expect(err).NotTo(HaveOccurred())
			Expect(key).To(Equal("sk-1"))
		})

		It("replaces and deletes tokens", func() {
			now := time.Now()
			Expect(store.SaveToken(ctx, "claude", credentials.NewTokenRecord("a1", "r1", "", "", now, 60))).To(Succeed())
			Expect(store.SaveToken(ctx, "claude", credentials.NewTokenRecord("a2", "r2", "", "", now, 60))).To(Succeed())

			tok, err := store.GetToken(ctx, "claude")
			Expect(err).NotTo(HaveOccurred())
			Expect(tok.AccessToken).To(Equal("a2"))

			Expect(store.DeleteToken(ctx, "claude")).To(Succeed())
			_, err = store.GetToken(ctx, "claude")
			Expect(credentials.IsNotFound(err)).To(BeTrue())
		})
	})
})

var _ = Describe("Store conformance", func() {
	storagetest.DescribeCredentialStore(func() credentials.Store {
		return inmemory.NewStore()
	})
})
