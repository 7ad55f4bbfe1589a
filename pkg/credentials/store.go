package credentials

import (
	"context"
	"errors"
)

// NotFoundError is returned when a provider, key or token is not stored.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e NotFoundError) Error() string {
	if e.ID == "" {
		return e.Kind + " not found"
	}
	return e.Kind + " not found: " + e.ID
}

// IsNotFound reports whether err is a NotFoundError.
func IsNotFound(err error) bool {
	var nf NotFoundError
	return errors.As(err, &nf)
}

// SecretStore persists per-provider secrets.
type SecretStore interface {
	// GetAPIKey returns the stored API key, or "" when none is stored.
	GetAPIKey(ctx context.Context, providerID string) (string, error)

	// SetAPIKey stores an API key.
	SetAPIKey(ctx context.Context, providerID, key string) error

	// GetToken returns the current OAuth token, or NotFoundError.
	GetToken(ctx context.Context, providerID string) (*TokenRecord, error)

	// SaveToken replaces the OAuth token atomically.
	SaveToken(ctx context.Context, providerID string, token *TokenRecord) error

	// DeleteToken removes the OAuth token. Deleting a missing token is a no-op.
	DeleteToken(ctx context.Context, providerID string) error
}

// ProviderStore persists provider configurations.
type ProviderStore interface {
	// SaveProvider inserts or replaces a provider.
	SaveProvider(ctx context.Context, p *ProviderConfig) error

	// GetProvider returns a provider by id, or NotFoundError.
	GetProvider(ctx context.Context, id string) (*ProviderConfig, error)

	// ListProviders returns all providers ordered by id.
	ListProviders(ctx context.Context) ([]*ProviderConfig, error)

	// SetDefault flags the provider as default and clears the flag on all
	// others. The provider must exist and be active.
	SetDefault(ctx context.Context, id string) error
}

// Store is the full credential store used by dispatch and the OAuth manager.
type Store interface {
	ProviderStore
	SecretStore

	// Close releases any resources held by the store.
	Close() error
}

// ErrInactiveProvider is returned by SetDefault for inactive providers.
var ErrInactiveProvider = errors.New("provider is not active")

// Import copies every secret held by src into dst. It is used to load
// credentials.toml into the running store at startup.
func Import(ctx context.Context, src *Manager, dst SecretStore) (int, error) {
	creds, err := src.Load()
	if err != nil {
		return 0, err
	}

	n := 0
	for id, pc := range creds.Providers {
		if pc.APIKey != "" {
			if err := dst.SetAPIKey(ctx, id, pc.APIKey); err != nil {
				return n, err
			}
			n++
		}
		if pc.Token != nil && pc.Token.AccessToken != "" {
			if err := dst.SaveToken(ctx, id, pc.Token); err != nil {
				return n, err
			}
			n++
		}
	}

	return n, nil
}
