// Package servecmder provides the serve command that runs the gateway.
package servecmder

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/papercomputeco/switchboard/gateway"
	"github.com/papercomputeco/switchboard/pkg/config"
	"github.com/papercomputeco/switchboard/pkg/credentials"
	"github.com/papercomputeco/switchboard/pkg/dispatch"
	"github.com/papercomputeco/switchboard/pkg/llm/provider/upstream"
	"github.com/papercomputeco/switchboard/pkg/logger"
	"github.com/papercomputeco/switchboard/pkg/metrics"
	"github.com/papercomputeco/switchboard/pkg/oauth"
)

type serveCommander struct {
	listen          string
	requestTimeout  string
	defaultProvider string
	storageDriver   string
	storageDSN      string
	sqlitePath      string
	eventStream     string
	kafkaBrokers    string
	kafkaTopic      string

	configDir string
	debug     bool
	jsonLogs  bool

	viper    *viper.Viper
	configer *config.Configer
	cfg      *config.Config
	logger   *zap.Logger
}

const serveLongDesc string = `Run the switchboard gateway.

The gateway accepts Anthropic-style message requests on /v1/messages and
routes every request to the default provider declared in config.toml. Each
interaction is recorded to the configured store and published as an event.

Providers are declared as [[providers]] tables in config.toml and re-applied
whenever the file changes. API keys stored with "switchboard auth" are
imported at startup.

Flags override SWITCHBOARD_* environment variables, which override
config.toml.`

const serveShortDesc string = "Run the switchboard gateway"

var serveFlagKeys = []string{
	config.FlagListen,
	config.FlagRequestTimeout,
	config.FlagDefaultProvider,
	config.FlagStorageDriver,
	config.FlagStorageDSN,
	config.FlagSQLite,
	config.FlagEventStream,
	config.FlagKafkaBrokers,
	config.FlagKafkaTopic,
}

func NewServeCmd() *cobra.Command {
	cmder := &serveCommander{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: serveShortDesc,
		Long:  serveLongDesc,
		PreRunE: func(cmd *cobra.Command, _ []string) error {
			cmder.configDir, _ = cmd.Flags().GetString("config-dir")
			return cmder.loadConfig(cmd)
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			var err error
			cmder.debug, err = cmd.Flags().GetBool("debug")
			if err != nil {
				return fmt.Errorf("could not get debug flag: %w", err)
			}

			return cmder.run()
		},
	}

	config.AddStringFlag(cmd, config.ServeFlags, config.FlagListen, &cmder.listen)
	config.AddStringFlag(cmd, config.ServeFlags, config.FlagRequestTimeout, &cmder.requestTimeout)
	config.AddStringFlag(cmd, config.ServeFlags, config.FlagDefaultProvider, &cmder.defaultProvider)
	config.AddStringFlag(cmd, config.ServeFlags, config.FlagStorageDriver, &cmder.storageDriver)
	config.AddStringFlag(cmd, config.ServeFlags, config.FlagStorageDSN, &cmder.storageDSN)
	config.AddStringFlag(cmd, config.ServeFlags, config.FlagSQLite, &cmder.sqlitePath)
	config.AddStringFlag(cmd, config.ServeFlags, config.FlagEventStream, &cmder.eventStream)
	config.AddStringFlag(cmd, config.ServeFlags, config.FlagKafkaBrokers, &cmder.kafkaBrokers)
	config.AddStringFlag(cmd, config.ServeFlags, config.FlagKafkaTopic, &cmder.kafkaTopic)
	cmd.Flags().BoolVar(&cmder.jsonLogs, "json-logs", false, "Write logs as JSON")

	return cmd
}

// loadConfig resolves config.toml, environment and flags into c.cfg.
func (c *serveCommander) loadConfig(cmd *cobra.Command) error {
	var err error

	c.configer, err = config.NewConfiger(c.configDir)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	c.viper, err = config.InitViper(c.configer)
	if err != nil {
		return err
	}
	config.BindRegisteredFlags(c.viper, cmd, config.ServeFlags, serveFlagKeys)

	c.cfg, err = config.Resolve(c.viper, c.configer)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	return nil
}

func (c *serveCommander) run() error {
	c.logger = logger.New(logger.WithDebug(c.debug), logger.WithJSON(c.jsonLogs))
	defer func() { _ = c.logger.Sync() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st, err := openStores(ctx, c.cfg.Storage, c.logger)
	if err != nil {
		return err
	}
	defer st.Close()

	if err := seedProviders(ctx, st.creds, c.cfg); err != nil {
		return err
	}

	credsFile, err := credentials.NewManager(c.configDir)
	if err != nil {
		return fmt.Errorf("loading credentials: %w", err)
	}
	imported, err := credentials.Import(ctx, credsFile, st.creds)
	if err != nil {
		return fmt.Errorf("importing credentials: %w", err)
	}
	c.logger.Info("imported stored credentials",
		zap.String("path", credsFile.GetTarget()),
		zap.Int("count", imported),
	)

	m := metrics.New()

	oauthManager := oauth.NewManager(oauth.Options{
		Store:     st.creds,
		Sessions:  oauth.NewSessionStore(c.cfg.OAuth.TTL()),
		DevMode:   c.cfg.OAuth.DevMode,
		Logger:    c.logger,
		OnRefresh: m.ObserveRefresh,
	})
	go oauthManager.RunSweeper(ctx, c.cfg.OAuth.Sweep())

	dispatcher := dispatch.New(dispatch.Options{
		Store:           st.creds,
		Tokens:          oauthManager,
		DefaultProvider: c.cfg.Gateway.DefaultProvider,
		HTTPClient:      upstream.NewHTTPClient(c.cfg.Gateway.Timeout()),
		Logger:          c.logger,
	})

	publisher, err := newPublisher(c.cfg.EventStream, c.logger)
	if err != nil {
		return err
	}

	gw, err := gateway.New(gateway.Config{
		ListenAddr:      c.cfg.Gateway.Listen,
		APIKeys:         c.cfg.Gateway.APIKeys,
		Store:           st.creds,
		Dispatcher:      dispatcher,
		OAuth:           oauthManager,
		Publisher:       publisher,
		Metrics:         m,
		SuccessRedirect: c.cfg.OAuth.SuccessRedirect,
		FailureRedirect: c.cfg.OAuth.FailureRedirect,
	}, st.driver, c.logger)
	if err != nil {
		_ = publisher.Close()
		return fmt.Errorf("creating gateway: %w", err)
	}
	defer gw.Close()

	if config.Watch(c.viper, c.configer, c.onConfigChange(ctx, st.creds, dispatcher)) {
		c.logger.Info("watching config for provider changes", zap.String("path", c.configer.GetTarget()))
	}

	errChan := make(chan error, 1)
	go func() {
		if err := gw.Run(); err != nil {
			errChan <- fmt.Errorf("gateway error: %w", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errChan:
		return err
	case sig := <-sigChan:
		c.logger.Info("received signal, shutting down", zap.String("signal", sig.String()))
		return nil
	}
}

// onConfigChange re-applies the provider set and the fallback default after
// config.toml is edited. Listener, storage and event stream changes need a
// restart.
func (c *serveCommander) onConfigChange(ctx context.Context, store credentials.Store, d *dispatch.Dispatcher) func(*config.Config, error) {
	return func(cfg *config.Config, err error) {
		if err != nil {
			c.logger.Warn("ignoring invalid config change", zap.Error(err))
			return
		}

		if err := seedProviders(ctx, store, cfg); err != nil {
			c.logger.Warn("could not apply providers from config", zap.Error(err))
			return
		}
		d.SetDefaultProvider(cfg.Gateway.DefaultProvider)

		c.logger.Info("reloaded providers from config",
			zap.Int("providers", len(cfg.Providers)),
			zap.String("default_provider", cfg.Gateway.DefaultProvider),
		)
	}
}
