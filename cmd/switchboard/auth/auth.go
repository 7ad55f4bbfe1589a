// Package authcmder provides the auth command for storing provider API keys.
package authcmder

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/papercomputeco/switchboard/pkg/cliui"
	"github.com/papercomputeco/switchboard/pkg/config"
	"github.com/papercomputeco/switchboard/pkg/credentials"
)

const authLongDesc string = `Store API keys for upstream providers.

Keys are stored in credentials.toml in the .switchboard/ directory and are
imported into the gateway's credential store when "switchboard serve" starts.
The provider argument is a provider id declared in config.toml.

OAuth providers are connected through the gateway instead, by opening
/oauth/<provider>/authorize in a browser.

Examples:
  switchboard auth openai              Prompt for the openai API key
  switchboard auth --list              List stored credentials
  switchboard auth --remove openai     Remove stored openai credentials
  echo $KEY | switchboard auth openai  Pipe the API key from stdin`

const authShortDesc string = "Store API keys for upstream providers"

func NewAuthCmd() *cobra.Command {
	var listFlag bool
	var removeFlag string

	cmd := &cobra.Command{
		Use:   "auth [provider]",
		Short: authShortDesc,
		Long:  authLongDesc,
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			configDir, _ := cmd.Flags().GetString("config-dir")
			w := cmd.OutOrStdout()

			switch {
			case listFlag:
				return runList(w, configDir)
			case removeFlag != "":
				return runRemove(w, removeFlag, configDir)
			default:
				if len(args) == 0 {
					return errors.New("provider argument required")
				}
				return runAuth(w, os.Stdin, args[0], configDir)
			}
		},
		ValidArgsFunction: func(cmd *cobra.Command, args []string, _ string) ([]string, cobra.ShellCompDirective) {
			if len(args) > 0 {
				return nil, cobra.ShellCompDirectiveNoFileComp
			}
			configDir, _ := cmd.Flags().GetString("config-dir")
			ids, _ := declaredProviders(configDir)
			return ids, cobra.ShellCompDirectiveNoFileComp
		},
	}

	cmd.Flags().BoolVar(&listFlag, "list", false, "List stored credentials")
	cmd.Flags().StringVar(&removeFlag, "remove", "", "Remove stored credentials for a provider")

	return cmd
}

func runAuth(w io.Writer, in *os.File, provider, configDir string) error {
	provider = strings.TrimSpace(provider)
	if provider == "" {
		return errors.New("provider id cannot be empty")
	}

	apiKey, err := readAPIKey(w, in, provider)
	if err != nil {
		return err
	}

	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return errors.New("API key cannot be empty")
	}

	mgr, err := credentials.NewManager(configDir)
	if err != nil {
		return fmt.Errorf("loading credentials: %w", err)
	}

	if err := mgr.SetKey(provider, apiKey); err != nil {
		return err
	}

	fmt.Fprintf(w, "\n  %s Stored %s credentials %s\n",
		cliui.SuccessMark,
		cliui.NameStyle.Render(provider),
		cliui.DimStyle.Render("("+mgr.GetTarget()+")"),
	)

	ids, err := declaredProviders(configDir)
	if err == nil && !slices.Contains(ids, provider) {
		fmt.Fprintf(w, "  %s %s is not declared in config.toml; the key is unused until it is.\n",
			cliui.WarnStyle.Render("!"), provider)
	}
	fmt.Fprintf(w, "  %s Restart the gateway to pick up the new key.\n\n", cliui.DimStyle.Render(" "))

	return nil
}

func runList(w io.Writer, configDir string) error {
	mgr, err := credentials.NewManager(configDir)
	if err != nil {
		return fmt.Errorf("loading credentials: %w", err)
	}

	creds, err := mgr.Load()
	if err != nil {
		return err
	}

	providers, err := mgr.ListProviders()
	if err != nil {
		return err
	}

	if len(providers) == 0 {
		fmt.Fprintf(w, "\n  %s No stored credentials.\n", cliui.DimStyle.Render("●"))
		fmt.Fprintf(w, "  Use 'switchboard auth <provider>' to store an API key.\n\n")
		return nil
	}

	fmt.Fprintf(w, "\n  %s\n\n", cliui.HeaderStyle.Render("Stored credentials"))
	for _, p := range providers {
		pc := creds.Providers[p]

		var kinds []string
		if pc.APIKey != "" {
			kinds = append(kinds, "api key")
		}
		if pc.Token != nil {
			kinds = append(kinds, "oauth token")
		}

		fmt.Fprintf(w, "  %s  %s  %s\n",
			cliui.SuccessMark,
			cliui.NameStyle.Render(p),
			cliui.DimStyle.Render(strings.Join(kinds, ", ")),
		)
	}
	fmt.Fprintln(w)

	return nil
}

func runRemove(w io.Writer, provider, configDir string) error {
	provider = strings.TrimSpace(provider)

	mgr, err := credentials.NewManager(configDir)
	if err != nil {
		return fmt.Errorf("loading credentials: %w", err)
	}

	if err := mgr.RemoveKey(provider); err != nil {
		return err
	}

	fmt.Fprintf(w, "\n  %s Removed %s credentials.\n\n", cliui.SuccessMark, cliui.NameStyle.Render(provider))

	return nil
}

// readAPIKey reads an API key from in. If in is not a terminal, it reads the
// first line. Otherwise, it prompts with hidden input.
func readAPIKey(w io.Writer, in *os.File, provider string) (string, error) {
	fi, err := in.Stat()
	if err != nil {
		return "", fmt.Errorf("checking stdin: %w", err)
	}

	// Piped input
	if (fi.Mode() & os.ModeCharDevice) == 0 {
		scanner := bufio.NewScanner(in)
		if scanner.Scan() {
			return scanner.Text(), nil
		}
		if err := scanner.Err(); err != nil {
			return "", fmt.Errorf("reading stdin: %w", err)
		}
		return "", errors.New("no input received on stdin")
	}

	fmt.Fprintf(w, "Enter API key for %s: ", provider)

	keyBytes, err := term.ReadPassword(int(in.Fd()))
	fmt.Fprintln(w)
	if err != nil {
		return "", fmt.Errorf("reading API key: %w", err)
	}

	return string(keyBytes), nil
}

func declaredProviders(configDir string) ([]string, error) {
	cfger, err := config.NewConfiger(configDir)
	if err != nil {
		return nil, err
	}
	cfg, err := cfger.LoadConfig()
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(cfg.Providers))
	for _, p := range cfg.Providers {
		ids = append(ids, p.ID)
	}
	return ids, nil
}
