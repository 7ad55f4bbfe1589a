package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// InitViper creates and returns a configured *viper.Viper.
// It reads the config.toml file found via dotdir resolution and binds
// environment variables with the SWITCHBOARD_ prefix. Defaults are not
// registered here; Resolve takes them from LoadConfig so that IsSet only
// reports keys a user actually set.
//
// Config precedence (highest to lowest):
//  1. CLI flags (once bound via BindRegisteredFlags)
//  2. Environment variables (SWITCHBOARD_GATEWAY_LISTEN, etc.)
//  3. config.toml file values
//  4. Defaults from NewDefaultConfig()
func InitViper(configer *Configer) (*viper.Viper, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("toml")
	if dir := configer.GetTargetDir(); dir != "" {
		v.AddConfigPath(dir)
	}

	if err := v.ReadInConfig(); err != nil {
		// Config file not found errors are fine, defaults will apply.
		if !errors.As(err, &viper.ConfigFileNotFoundError{}) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	v.SetEnvPrefix("SWITCHBOARD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return v, nil
}

// setViperDefaults registers defaults from NewDefaultConfig() into viper
// using dotted-key notation. Flag registration reads defaults through it so
// that defaults.go stays the single source of truth.
func setViperDefaults(v *viper.Viper) {
	d := NewDefaultConfig()

	v.SetDefault("version", d.Version)
	for _, key := range ValidConfigKeys() {
		v.SetDefault(key, configKeys[key].get(d))
	}
}

// Resolve loads config.toml through the Configer and overlays every scalar
// key with the highest-precedence value viper holds for it. Providers always
// come from the file.
func Resolve(v *viper.Viper, configer *Configer) (*Config, error) {
	cfg, err := configer.LoadConfig()
	if err != nil {
		return nil, err
	}

	for _, key := range ValidConfigKeys() {
		if !v.IsSet(key) {
			continue
		}
		if err := configKeys[key].set(cfg, viperString(v, key)); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

// Watch re-resolves the configuration whenever config.toml changes and hands
// the result to onChange. It is a no-op when no config file was read.
func Watch(v *viper.Viper, configer *Configer, onChange func(*Config, error)) bool {
	if v.ConfigFileUsed() == "" {
		return false
	}

	v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		onChange(Resolve(v, configer))
	})
	v.WatchConfig()

	return true
}

// viperString renders a viper value in the comma-separated form the key
// setters accept. TOML arrays arrive as []any, env values as strings.
func viperString(v *viper.Viper, key string) string {
	switch val := v.Get(key).(type) {
	case []any:
		parts := make([]string, 0, len(val))
		for _, p := range val {
			parts = append(parts, fmt.Sprint(p))
		}
		return strings.Join(parts, ",")
	case []string:
		return strings.Join(val, ",")
	default:
		return v.GetString(key)
	}
}
