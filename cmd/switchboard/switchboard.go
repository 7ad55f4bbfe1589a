// Package switchboardcmder
package switchboardcmder

import (
	"github.com/spf13/cobra"

	authcmder "github.com/papercomputeco/switchboard/cmd/switchboard/auth"
	configcmder "github.com/papercomputeco/switchboard/cmd/switchboard/config"
	servecmder "github.com/papercomputeco/switchboard/cmd/switchboard/serve"
	versioncmder "github.com/papercomputeco/switchboard/cmd/version"
)

const switchboardLongDesc string = `Switchboard is a gateway for LLM providers.

Clients speak one message API; switchboard routes every request to the
default provider, handles provider credentials and OAuth tokens, and records
each interaction.

Run the gateway using:
  switchboard serve                 Run the gateway
  switchboard auth <provider>       Store a provider API key
  switchboard config list           Show the persistent configuration`

const switchboardShortDesc string = "Switchboard - LLM provider gateway"

func NewSwitchboardCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "switchboard",
		Short:        switchboardShortDesc,
		Long:         switchboardLongDesc,
		SilenceUsage: true,
	}

	// Global flags
	cmd.PersistentFlags().BoolP("debug", "d", false, "Enable debug logging")
	cmd.PersistentFlags().String("config-dir", "", "Path to the .switchboard/ directory (default: ./.switchboard or ~/.switchboard)")

	// Add subcommands
	cmd.AddCommand(servecmder.NewServeCmd())
	cmd.AddCommand(authcmder.NewAuthCmd())
	cmd.AddCommand(configcmder.NewConfigCmd())
	cmd.AddCommand(versioncmder.NewVersionCmd())

	return cmd
}
