package inmemory_test

import (
	"context"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/switchboard/pkg/storage"
	"github.com/papercomputeco/switchboard/pkg/storage/inmemory"
	"github.com/papercomputeco/switchboard/pkg/storage/storagetest"
)

var _ = Describe("Driver", func() {
	storagetest.DescribeDriver(func() storage.Driver {
		return inmemory.NewDriver()
	})

	It("returns copies that callers cannot mutate", func() {
		ctx := context.Background()
		driver := inmemory.NewDriver()

		rec := storagetest.NewRecord("i1", "local", 0)
		Expect(driver.Create(ctx, rec)).To(Succeed())
		rec.Model = "changed"

		got, err := driver.Get(ctx, "i1")
		Expect(err).NotTo(HaveOccurred())
		Expect(got.Model).To(Equal("m1"))

		got.Content = "changed"
		again, err := driver.Get(ctx, "i1")
		Expect(err).NotTo(HaveOccurred())
		Expect(again.Content).To(BeEmpty())
	})
})
