package switchboardcmder_test

import (
	"bytes"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	switchboardcmder "github.com/papercomputeco/switchboard/cmd/switchboard"
	"github.com/papercomputeco/switchboard/pkg/utils"
)

var _ = Describe("switchboard command", func() {
	run := func(args ...string) (string, error) {
		out := &bytes.Buffer{}
		cmd := switchboardcmder.NewSwitchboardCmd()
		cmd.SetOut(out)
		cmd.SetErr(out)
		cmd.SetArgs(args)
		err := cmd.Execute()
		return out.String(), err
	}

	It("registers every subcommand", func() {
		cmd := switchboardcmder.NewSwitchboardCmd()

		names := []string{}
		for _, c := range cmd.Commands() {
			names = append(names, c.Name())
		}
		Expect(names).To(ContainElements("serve", "auth", "config", "version"))
	})

	It("prints the build version", func() {
		out, err := run("version")
		Expect(err).NotTo(HaveOccurred())
		Expect(out).To(ContainSubstring("Version: " + utils.Version))
	})

	It("passes the config dir through to subcommands", func() {
		dir := GinkgoT().TempDir()

		_, err := run("config", "set", "gateway.default_provider", "local", "--config-dir", dir)
		Expect(err).NotTo(HaveOccurred())

		out, err := run("config", "get", "gateway.default_provider", "--config-dir", dir)
		Expect(err).NotTo(HaveOccurred())
		Expect(out).To(ContainSubstring("local"))
	})

	It("exposes the serve flags", func() {
		cmd := switchboardcmder.NewSwitchboardCmd()
		serve, _, err := cmd.Find([]string{"serve"})
		Expect(err).NotTo(HaveOccurred())

		for _, name := range []string{"listen", "storage-driver", "sqlite", "eventstream", "kafka-brokers"} {
			Expect(serve.Flags().Lookup(name)).NotTo(BeNil(), name)
		}
	})
})
