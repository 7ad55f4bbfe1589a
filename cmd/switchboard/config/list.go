package configcmder

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/switchboard/pkg/config"
)

const listLongDesc string = `List all configuration values.

Displays every configuration key and its current value from the config.toml
file stored in the .switchboard/ directory, followed by the declared
providers.

Examples:
  switchboard config list`

const listShortDesc string = "List all configuration values"

func newListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: listShortDesc,
		Long:  listLongDesc,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			configDir, _ := cmd.Flags().GetString("config-dir")
			return runList(cmd.OutOrStdout(), configDir)
		},
	}

	return cmd
}

func runList(w io.Writer, configDir string) error {
	cfger, err := config.NewConfiger(configDir)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	printTarget(w, cfger)

	keys := config.ValidConfigKeys()

	maxLen := 0
	for _, k := range keys {
		if len(k) > maxLen {
			maxLen = len(k)
		}
	}

	for _, key := range keys {
		value, err := cfger.GetConfigValue(key)
		if err != nil {
			return err
		}

		if value == "" {
			fmt.Fprintf(w, "%-*s = <not set>\n", maxLen, key)
		} else {
			fmt.Fprintf(w, "%-*s = %q\n", maxLen, key, value)
		}
	}

	cfg, err := cfger.LoadConfig()
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "\nproviders:\n")
	for _, p := range cfg.Providers {
		flags := ""
		if p.Default {
			flags += " default"
		}
		if p.Disabled {
			flags += " disabled"
		}
		fmt.Fprintf(w, "  %-*s family=%s%s\n", maxLen-2, p.ID, p.Family, flags)
	}

	return nil
}
