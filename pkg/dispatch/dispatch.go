// Package dispatch selects the upstream provider for a request and builds an
// adapter carrying a usable credential.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"go.uber.org/zap"

	"github.com/papercomputeco/switchboard/pkg/credentials"
	"github.com/papercomputeco/switchboard/pkg/llm"
	"github.com/papercomputeco/switchboard/pkg/llm/provider"
	"github.com/papercomputeco/switchboard/pkg/llm/provider/upstream"
	"github.com/papercomputeco/switchboard/pkg/logger"
)

// ErrNoProvider means no active provider is flagged default and none is
// configured as the gateway default.
var ErrNoProvider = errors.New("no active default provider")

// TokenSource yields OAuth tokens that are valid for immediate use.
// *oauth.Manager implements it.
type TokenSource interface {
	EnsureValidToken(ctx context.Context, providerID string) (*credentials.TokenRecord, error)
}

// Options configures a Dispatcher.
type Options struct {
	Store credentials.Store

	// Tokens supplies bearer tokens for oauth providers.
	Tokens TokenSource

	// DefaultProvider is used when no provider in the store is flagged
	// default.
	DefaultProvider string

	HTTPClient *http.Client
	Logger     *zap.Logger
}

// Dispatcher resolves providers and prepares adapters.
type Dispatcher struct {
	store  credentials.Store
	tokens TokenSource
	client *http.Client
	logger *zap.Logger

	mu              sync.RWMutex
	defaultProvider string
}

// New creates a Dispatcher.
func New(opts Options) *Dispatcher {
	client := opts.HTTPClient
	if client == nil {
		client = upstream.NewHTTPClient(upstream.DefaultTimeout)
	}
	log := opts.Logger
	if log == nil {
		log = logger.Nop()
	}

	return &Dispatcher{
		store:           opts.Store,
		tokens:          opts.Tokens,
		client:          client,
		logger:          log,
		defaultProvider: opts.DefaultProvider,
	}
}

// SetDefaultProvider replaces the configured fallback provider id.
func (d *Dispatcher) SetDefaultProvider(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.defaultProvider = id
}

// Select returns the system default provider: the active provider flagged
// default in the store, else the configured default provider.
func (d *Dispatcher) Select(ctx context.Context) (*credentials.ProviderConfig, error) {
	providers, err := d.store.ListProviders(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing providers: %w", err)
	}
	if p := credentials.FindDefault(providers); p != nil {
		return p, nil
	}

	d.mu.RLock()
	id := d.defaultProvider
	d.mu.RUnlock()

	if id == "" {
		return nil, ErrNoProvider
	}

	p, err := d.store.GetProvider(ctx, id)
	if err != nil {
		if credentials.IsNotFound(err) {
			return nil, fmt.Errorf("%w: configured provider %q does not exist", ErrNoProvider, id)
		}
		return nil, err
	}
	if !p.Active {
		return nil, fmt.Errorf("%w: configured provider %q is not active", ErrNoProvider, id)
	}

	return p, nil
}

// Prepare builds the adapter for cfg with the credential its auth type
// requires. It never calls the upstream model API; failing to obtain a
// credential wraps llm.ErrUpstreamAuthUnavailable.
func (d *Dispatcher) Prepare(ctx context.Context, cfg *credentials.ProviderConfig) (provider.Adapter, error) {
	cred, err := d.credential(ctx, cfg)
	if err != nil {
		d.logger.Warn("no usable upstream credential",
			zap.String("provider", cfg.ID),
			zap.Error(err),
		)
		return nil, err
	}

	return provider.New(cfg, cred, d.client)
}

func (d *Dispatcher) credential(ctx context.Context, cfg *credentials.ProviderConfig) (upstream.Credential, error) {
	if cfg.ForwardClientAuth {
		caller, ok := CallerFrom(ctx)
		if !ok || caller.Empty() {
			return upstream.Credential{}, fmt.Errorf("%w: provider %q forwards client auth but the request has none",
				llm.ErrUpstreamAuthUnavailable, cfg.ID)
		}
		if caller.Bearer != "" {
			return upstream.Credential{Kind: upstream.CredentialBearer, Value: caller.Bearer}, nil
		}
		return upstream.Credential{Kind: upstream.CredentialAPIKey, Value: caller.APIKey}, nil
	}

	switch cfg.AuthType {
	case credentials.AuthOAuth:
		if d.tokens == nil {
			return upstream.Credential{}, fmt.Errorf("%w: oauth is not configured", llm.ErrUpstreamAuthUnavailable)
		}
		tok, err := d.tokens.EnsureValidToken(ctx, cfg.ID)
		if err != nil {
			return upstream.Credential{}, fmt.Errorf("%w: %w", llm.ErrUpstreamAuthUnavailable, err)
		}
		return upstream.Credential{Kind: upstream.CredentialBearer, Value: tok.AccessToken}, nil

	case credentials.AuthAPIKey:
		key, err := d.store.GetAPIKey(ctx, cfg.ID)
		if err != nil {
			return upstream.Credential{}, fmt.Errorf("reading api key: %w", err)
		}
		if key == "" {
			key = cfg.APIKey
		}
		if key == "" {
			return upstream.Credential{}, fmt.Errorf("%w: provider %q has no api key",
				llm.ErrUpstreamAuthUnavailable, cfg.ID)
		}
		return upstream.Credential{Kind: upstream.CredentialAPIKey, Value: key}, nil

	default:
		return upstream.Credential{Kind: upstream.CredentialNone}, nil
	}
}
