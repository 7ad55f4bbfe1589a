// Package configcmder provides the config command for managing persistent
// switchboard configuration stored in the .switchboard/ directory.
package configcmder

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/switchboard/pkg/cliui"
	"github.com/papercomputeco/switchboard/pkg/config"
)

const configLongDesc string = `Manage persistent switchboard configuration.

Configuration is stored as config.toml in the .switchboard/ directory and
provides default values for "switchboard serve". CLI flags and SWITCHBOARD_*
environment variables take precedence over config file values.

Keys use dotted notation matching the TOML section structure:
  gateway.listen, gateway.request_timeout, gateway.default_provider,
  gateway.api_keys, storage.driver, storage.dsn, storage.sqlite_path,
  oauth.dev_mode, oauth.success_redirect, oauth.failure_redirect,
  oauth.session_ttl, oauth.sweep_interval,
  eventstream.provider, eventstream.brokers, eventstream.topic

Providers are declared as [[providers]] tables and are edited in the file
directly.

Examples:
  switchboard config set gateway.listen :9090
  switchboard config set eventstream.brokers broker-1:9092,broker-2:9092
  switchboard config get storage.driver
  switchboard config list`

const configShortDesc string = "Manage persistent switchboard configuration"

func NewConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: configShortDesc,
		Long:  configLongDesc,
	}

	cmd.AddCommand(newSetCmd())
	cmd.AddCommand(newGetCmd())
	cmd.AddCommand(newListCmd())

	return cmd
}

func completeKeys(_ *cobra.Command, args []string, _ string) ([]string, cobra.ShellCompDirective) {
	if len(args) == 0 {
		return config.ValidConfigKeys(), cobra.ShellCompDirectiveNoFileComp
	}
	return nil, cobra.ShellCompDirectiveNoFileComp
}

func unknownKey(key string) error {
	return fmt.Errorf("unknown config key: %q\n\nValid keys: %s",
		key, strings.Join(config.ValidConfigKeys(), ", "))
}

func printTarget(w io.Writer, cfger *config.Configer) {
	if _, err := os.Stat(cfger.GetTarget()); err == nil {
		fmt.Fprintf(w, "\n  %s %s\n\n",
			cliui.KeyStyle.Render("Config file:"),
			cliui.DimStyle.Render(cfger.GetTarget()),
		)
		return
	}
	fmt.Fprintf(w, "\n  %s\n\n", cliui.DimStyle.Render("No config file found. Using defaults."))
}
