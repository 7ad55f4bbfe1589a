package config

import "time"

const (
	defaultListen          = ":8080"
	defaultRequestTimeout  = 5 * time.Minute
	defaultStorageDriver   = "sqlite"
	defaultSessionTTL      = 30 * time.Minute
	defaultSweepInterval   = 10 * time.Minute
	defaultOAuthRedirect   = "/oauth/complete"
	defaultStreamProvider  = "nop"
	defaultStreamTopic     = "switchboard.interactions"
	defaultLocalProviderID = "local"
	defaultLocalModel      = "llama3.2"
)

// NewDefaultConfig returns a Config with sane defaults for all fields.
// This is the single source of truth for default values.
func NewDefaultConfig() *Config {
	return &Config{
		Version: CurrentV,
		Gateway: GatewayConfig{
			Listen:         defaultListen,
			RequestTimeout: defaultRequestTimeout.String(),
		},
		Storage: StorageConfig{
			Driver: defaultStorageDriver,
		},
		OAuth: OAuthConfig{
			SuccessRedirect: defaultOAuthRedirect,
			FailureRedirect: defaultOAuthRedirect,
			SessionTTL:      defaultSessionTTL.String(),
			SweepInterval:   defaultSweepInterval.String(),
		},
		EventStream: EventStreamConfig{
			Provider: defaultStreamProvider,
			Topic:    defaultStreamTopic,
		},
	}
}

// DefaultProviders is the provider set used when config.toml declares none:
// a single local model server on the default Ollama port.
func DefaultProviders() []ProviderSection {
	return []ProviderSection{
		{
			ID:           defaultLocalProviderID,
			Family:       "local",
			DefaultModel: defaultLocalModel,
			Default:      true,
		},
	}
}
