package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/papercomputeco/switchboard/pkg/credentials"
)

// Config represents the persistent switchboard configuration stored as
// config.toml in the .switchboard/ directory. The TOML layout uses sections
// for logical grouping.
type Config struct {
	Version     int               `toml:"version"`
	Gateway     GatewayConfig     `toml:"gateway"`
	Storage     StorageConfig     `toml:"storage"`
	OAuth       OAuthConfig       `toml:"oauth"`
	EventStream EventStreamConfig `toml:"eventstream"`
	Providers   []ProviderSection `toml:"providers,omitempty"`
}

// GatewayConfig holds the HTTP gateway settings.
type GatewayConfig struct {
	Listen          string   `toml:"listen,omitempty"`
	RequestTimeout  string   `toml:"request_timeout,omitempty"`
	DefaultProvider string   `toml:"default_provider,omitempty"`
	APIKeys         []string `toml:"api_keys,omitempty"`
}

// StorageConfig selects the interaction and credential store.
type StorageConfig struct {
	// Driver is one of memory, sqlite, postgres or mysql.
	Driver     string `toml:"driver,omitempty"`
	DSN        string `toml:"dsn,omitempty"`
	SQLitePath string `toml:"sqlite_path,omitempty"`
}

// OAuthConfig holds the gateway-wide OAuth flow settings.
type OAuthConfig struct {
	// DevMode permits a placeholder client id for providers without one.
	DevMode         bool   `toml:"dev_mode,omitempty"`
	SuccessRedirect string `toml:"success_redirect,omitempty"`
	FailureRedirect string `toml:"failure_redirect,omitempty"`
	SessionTTL      string `toml:"session_ttl,omitempty"`
	SweepInterval   string `toml:"sweep_interval,omitempty"`
}

// EventStreamConfig selects where interaction events are published.
type EventStreamConfig struct {
	Provider string   `toml:"provider,omitempty"`
	Brokers  []string `toml:"brokers,omitempty"`
	Topic    string   `toml:"topic,omitempty"`
}

// ProviderSection is one [[providers]] entry.
type ProviderSection struct {
	ID                string            `toml:"id"`
	Family            string            `toml:"family"`
	Protocol          string            `toml:"protocol,omitempty"`
	AuthType          string            `toml:"auth_type,omitempty"`
	BaseURL           string            `toml:"base_url,omitempty"`
	APIKey            string            `toml:"api_key,omitempty"`
	DefaultModel      string            `toml:"default_model,omitempty"`
	Models            []string          `toml:"models,omitempty"`
	ModelAliases      map[string]string `toml:"model_aliases,omitempty"`
	NativeTools       *bool             `toml:"native_tools,omitempty"`
	ForwardClientAuth bool              `toml:"forward_client_auth,omitempty"`
	Disabled          bool              `toml:"disabled,omitempty"`
	Default           bool              `toml:"default,omitempty"`
	OAuth             *OAuthClient      `toml:"oauth,omitempty"`
}

// OAuthClient is the [providers.oauth] table.
type OAuthClient struct {
	ClientID     string   `toml:"client_id,omitempty"`
	AuthorizeURL string   `toml:"authorize_url"`
	TokenURL     string   `toml:"token_url"`
	RevokeURL    string   `toml:"revoke_url,omitempty"`
	RedirectURI  string   `toml:"redirect_uri,omitempty"`
	Scopes       []string `toml:"scopes,omitempty"`
}

// ProviderConfig converts the section into a validated provider config.
func (s ProviderSection) ProviderConfig() (*credentials.ProviderConfig, error) {
	p := &credentials.ProviderConfig{
		ID:                s.ID,
		Family:            credentials.Family(s.Family),
		Protocol:          s.Protocol,
		AuthType:          credentials.AuthType(s.AuthType),
		BaseURL:           strings.TrimRight(s.BaseURL, "/"),
		APIKey:            s.APIKey,
		DefaultModel:      s.DefaultModel,
		Models:            s.Models,
		ModelAliases:      s.ModelAliases,
		ForwardClientAuth: s.ForwardClientAuth,
		Active:            !s.Disabled,
		Default:           s.Default,
	}

	if s.OAuth != nil {
		p.OAuth = &credentials.OAuthClientConfig{
			ClientID:     s.OAuth.ClientID,
			AuthorizeURL: s.OAuth.AuthorizeURL,
			TokenURL:     s.OAuth.TokenURL,
			RevokeURL:    s.OAuth.RevokeURL,
			RedirectURI:  s.OAuth.RedirectURI,
			Scopes:       s.OAuth.Scopes,
		}
	}

	p.ApplyDefaults()
	if s.NativeTools != nil {
		p.NativeTools = *s.NativeTools
	}

	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// ProviderConfigs converts every [[providers]] entry and checks the set as a
// whole.
func (c *Config) ProviderConfigs() ([]*credentials.ProviderConfig, error) {
	out := make([]*credentials.ProviderConfig, 0, len(c.Providers))
	for _, s := range c.Providers {
		p, err := s.ProviderConfig()
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}

	if err := credentials.ValidateProviders(out); err != nil {
		return nil, err
	}
	return out, nil
}

// Timeout returns the parsed request timeout.
func (g GatewayConfig) Timeout() time.Duration {
	return parseDuration(g.RequestTimeout, defaultRequestTimeout)
}

// TTL returns the parsed OAuth session TTL.
func (o OAuthConfig) TTL() time.Duration {
	return parseDuration(o.SessionTTL, defaultSessionTTL)
}

// Sweep returns the parsed OAuth session sweep interval.
func (o OAuthConfig) Sweep() time.Duration {
	return parseDuration(o.SweepInterval, defaultSweepInterval)
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

// configKeyInfo maps a user-facing dotted key name to a getter and setter on *Config.
type configKeyInfo struct {
	get func(c *Config) string
	set func(c *Config, v string) error
}

func durationSetter(key string, field func(c *Config) *string) func(c *Config, v string) error {
	return func(c *Config, v string) error {
		if v != "" {
			if _, err := time.ParseDuration(v); err != nil {
				return fmt.Errorf("invalid value for %s: %w", key, err)
			}
		}
		*field(c) = v
		return nil
	}
}

func splitList(v string) []string {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// configKeys is the authoritative map of all supported scalar config keys.
// Keys use dotted notation matching the TOML section structure. Providers are
// edited in config.toml directly.
var configKeys = map[string]configKeyInfo{
	"gateway.listen": {
		get: func(c *Config) string { return c.Gateway.Listen },
		set: func(c *Config, v string) error { c.Gateway.Listen = v; return nil },
	},
	"gateway.request_timeout": {
		get: func(c *Config) string { return c.Gateway.RequestTimeout },
		set: durationSetter("gateway.request_timeout", func(c *Config) *string { return &c.Gateway.RequestTimeout }),
	},
	"gateway.default_provider": {
		get: func(c *Config) string { return c.Gateway.DefaultProvider },
		set: func(c *Config, v string) error { c.Gateway.DefaultProvider = v; return nil },
	},
	"gateway.api_keys": {
		get: func(c *Config) string { return strings.Join(c.Gateway.APIKeys, ",") },
		set: func(c *Config, v string) error { c.Gateway.APIKeys = splitList(v); return nil },
	},
	"storage.driver": {
		get: func(c *Config) string { return c.Storage.Driver },
		set: func(c *Config, v string) error {
			switch v {
			case "memory", "sqlite", "postgres", "mysql":
				c.Storage.Driver = v
				return nil
			default:
				return fmt.Errorf("invalid value for storage.driver: %q (available: memory, sqlite, postgres, mysql)", v)
			}
		},
	},
	"storage.dsn": {
		get: func(c *Config) string { return c.Storage.DSN },
		set: func(c *Config, v string) error { c.Storage.DSN = v; return nil },
	},
	"storage.sqlite_path": {
		get: func(c *Config) string { return c.Storage.SQLitePath },
		set: func(c *Config, v string) error { c.Storage.SQLitePath = v; return nil },
	},
	"oauth.dev_mode": {
		get: func(c *Config) string { return strconv.FormatBool(c.OAuth.DevMode) },
		set: func(c *Config, v string) error {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return fmt.Errorf("invalid value for oauth.dev_mode: %w", err)
			}
			c.OAuth.DevMode = b
			return nil
		},
	},
	"oauth.success_redirect": {
		get: func(c *Config) string { return c.OAuth.SuccessRedirect },
		set: func(c *Config, v string) error { c.OAuth.SuccessRedirect = v; return nil },
	},
	"oauth.failure_redirect": {
		get: func(c *Config) string { return c.OAuth.FailureRedirect },
		set: func(c *Config, v string) error { c.OAuth.FailureRedirect = v; return nil },
	},
	"oauth.session_ttl": {
		get: func(c *Config) string { return c.OAuth.SessionTTL },
		set: durationSetter("oauth.session_ttl", func(c *Config) *string { return &c.OAuth.SessionTTL }),
	},
	"oauth.sweep_interval": {
		get: func(c *Config) string { return c.OAuth.SweepInterval },
		set: durationSetter("oauth.sweep_interval", func(c *Config) *string { return &c.OAuth.SweepInterval }),
	},
	"eventstream.provider": {
		get: func(c *Config) string { return c.EventStream.Provider },
		set: func(c *Config, v string) error {
			switch v {
			case "nop", "kafka":
				c.EventStream.Provider = v
				return nil
			default:
				return fmt.Errorf("invalid value for eventstream.provider: %q (available: nop, kafka)", v)
			}
		},
	},
	"eventstream.brokers": {
		get: func(c *Config) string { return strings.Join(c.EventStream.Brokers, ",") },
		set: func(c *Config, v string) error { c.EventStream.Brokers = splitList(v); return nil },
	},
	"eventstream.topic": {
		get: func(c *Config) string { return c.EventStream.Topic },
		set: func(c *Config, v string) error { c.EventStream.Topic = v; return nil },
	},
}
