package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"

	"github.com/papercomputeco/switchboard/pkg/dotdir"
)

const (
	configFile = "config.toml"

	// v0 is the alpha version of the config
	v0 = 0

	// CurrentV is the currently supported version, points to v0
	CurrentV = v0
)

type Configer struct {
	ddm        *dotdir.Manager
	targetDir  string
	targetPath string
}

func NewConfiger(override string) (*Configer, error) {
	cfger := &Configer{}

	cfger.ddm = dotdir.NewManager()
	target, err := cfger.ddm.Target(override)
	if err != nil {
		return nil, err
	}

	path := filepath.Join(target, configFile)
	_, err = os.Stat(path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	cfger.targetDir = target
	cfger.targetPath = path

	return cfger, nil
}

// orderedKeys is the stable listing order matching the TOML section layout.
var orderedKeys = []string{
	"gateway.listen",
	"gateway.request_timeout",
	"gateway.default_provider",
	"gateway.api_keys",
	"storage.driver",
	"storage.dsn",
	"storage.sqlite_path",
	"oauth.dev_mode",
	"oauth.success_redirect",
	"oauth.failure_redirect",
	"oauth.session_ttl",
	"oauth.sweep_interval",
	"eventstream.provider",
	"eventstream.brokers",
	"eventstream.topic",
}

// ValidConfigKeys returns the ordered list of all supported configuration key names.
func ValidConfigKeys() []string {
	result := make([]string, 0, len(orderedKeys))
	for _, k := range orderedKeys {
		if _, ok := configKeys[k]; ok {
			result = append(result, k)
		}
	}
	return result
}

// IsValidConfigKey returns true if the given key is a supported configuration key.
func IsValidConfigKey(key string) bool {
	_, ok := configKeys[key]
	return ok
}

func (c *Configer) GetTarget() string {
	return c.targetPath
}

// GetTargetDir returns the resolved .switchboard/ directory.
func (c *Configer) GetTargetDir() string {
	return c.targetDir
}

// LoadConfig loads the configuration from config.toml in the target
// .switchboard/ directory. If the file does not exist, returns the defaults
// and the default provider set so callers always receive a fully-populated
// Config.
// Fields explicitly set in the file override the defaults.
func (c *Configer) LoadConfig() (*Config, error) {
	data, err := os.ReadFile(c.targetPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			cfg := NewDefaultConfig()
			applyDefaults(cfg)
			c.applyPathDefaults(cfg)
			return cfg, nil
		}
		return nil, fmt.Errorf("reading config: %w", err)
	}

	cfg, err := ParseConfigTOML(data)
	if err != nil {
		return nil, err
	}

	applyDefaults(cfg)
	c.applyPathDefaults(cfg)

	return cfg, nil
}

// applyPathDefaults places the default sqlite database inside the resolved
// .switchboard/ directory.
func (c *Configer) applyPathDefaults(cfg *Config) {
	if cfg.Storage.Driver == "sqlite" && cfg.Storage.SQLitePath == "" && c.targetDir != "" {
		cfg.Storage.SQLitePath = filepath.Join(c.targetDir, "switchboard.db")
	}
}

// applyDefaults fills zero-value fields in cfg with values from NewDefaultConfig().
func applyDefaults(cfg *Config) {
	defaults := NewDefaultConfig()

	if cfg.Version == 0 {
		cfg.Version = defaults.Version
	}

	if cfg.Gateway.Listen == "" {
		cfg.Gateway.Listen = defaults.Gateway.Listen
	}
	if cfg.Gateway.RequestTimeout == "" {
		cfg.Gateway.RequestTimeout = defaults.Gateway.RequestTimeout
	}

	if cfg.Storage.Driver == "" {
		cfg.Storage.Driver = defaults.Storage.Driver
	}

	if cfg.OAuth.SuccessRedirect == "" {
		cfg.OAuth.SuccessRedirect = defaults.OAuth.SuccessRedirect
	}
	if cfg.OAuth.FailureRedirect == "" {
		cfg.OAuth.FailureRedirect = defaults.OAuth.FailureRedirect
	}
	if cfg.OAuth.SessionTTL == "" {
		cfg.OAuth.SessionTTL = defaults.OAuth.SessionTTL
	}
	if cfg.OAuth.SweepInterval == "" {
		cfg.OAuth.SweepInterval = defaults.OAuth.SweepInterval
	}

	if cfg.EventStream.Provider == "" {
		cfg.EventStream.Provider = defaults.EventStream.Provider
	}
	if cfg.EventStream.Topic == "" {
		cfg.EventStream.Topic = defaults.EventStream.Topic
	}

	if len(cfg.Providers) == 0 {
		cfg.Providers = DefaultProviders()
	}
}

// SaveConfig persists the configuration to config.toml in the target
// .switchboard/ directory.
func (c *Configer) SaveConfig(cfg *Config) error {
	if cfg == nil {
		return errors.New("cannot save nil config")
	}

	if c.targetPath == "" {
		return errors.New("cannot save empty target path")
	}

	var buf bytes.Buffer
	encoder := toml.NewEncoder(&buf)
	if err := encoder.Encode(cfg); err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}

	if err := os.WriteFile(c.targetPath, buf.Bytes(), 0o600); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}

	return nil
}

// SetConfigValue loads the config, sets the given key to the given value, and saves it.
// Returns an error if the key is not a valid config key.
func (c *Configer) SetConfigValue(key string, value string) error {
	info, ok := configKeys[key]
	if !ok {
		return fmt.Errorf("unknown config key: %q", key)
	}

	cfg, err := c.LoadConfig()
	if err != nil {
		return err
	}

	if err := info.set(cfg, value); err != nil {
		return err
	}

	return c.SaveConfig(cfg)
}

// GetConfigValue loads the config and returns the string representation of the given key.
// Returns an error if the key is not a valid config key.
func (c *Configer) GetConfigValue(key string) (string, error) {
	info, ok := configKeys[key]
	if !ok {
		return "", fmt.Errorf("unknown config key: %q", key)
	}

	cfg, err := c.LoadConfig()
	if err != nil {
		return "", err
	}

	return info.get(cfg), nil
}

// ParseConfigTOML parses raw TOML bytes into a Config.
// Returns an error if the version field is present and not equal to CurrentV.
func ParseConfigTOML(data []byte) (*Config, error) {
	cfg := &Config{}
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config TOML: %w", err)
	}

	if cfg.Version != 0 && cfg.Version != CurrentV {
		return nil, fmt.Errorf("unsupported config version %d (expected %d)", cfg.Version, CurrentV)
	}

	return cfg, nil
}
