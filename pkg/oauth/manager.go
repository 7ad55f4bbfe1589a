// Package oauth runs the OAuth 2.0 authorization code flow with PKCE for
// upstream providers and keeps their tokens fresh.
package oauth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/papercomputeco/switchboard/pkg/credentials"
	"github.com/papercomputeco/switchboard/pkg/logger"
)

const (
	// RefreshBuffer is how close to expiry a token is refreshed.
	RefreshBuffer = 5 * time.Minute

	refreshTimeout = 30 * time.Second
)

// Options configures a Manager.
type Options struct {
	Store      credentials.Store
	Sessions   *SessionStore
	HTTPClient *http.Client
	DevMode    bool
	Logger     *zap.Logger

	// Now overrides the clock. Defaults to time.Now.
	Now func() time.Time

	// OnRefresh, when set, is called after every refresh_token grant.
	OnRefresh func(providerID string, err error)
}

// Manager owns the authorization flow and token lifecycle for every OAuth
// provider.
type Manager struct {
	store      credentials.Store
	sessions   *SessionStore
	httpClient *http.Client
	devMode    bool
	logger     *zap.Logger
	now        func() time.Time
	onRefresh  func(string, error)

	// flight coalesces concurrent refreshes per provider id. Forced
	// refreshes use their own key.
	flight singleflight.Group
}

// NewManager creates a Manager.
func NewManager(opts Options) *Manager {
	m := &Manager{
		store:      opts.Store,
		sessions:   opts.Sessions,
		httpClient: opts.HTTPClient,
		devMode:    opts.DevMode,
		logger:     opts.Logger,
		now:        opts.Now,
		onRefresh:  opts.OnRefresh,
	}
	if m.sessions == nil {
		m.sessions = NewSessionStore(DefaultSessionTTL)
	}
	if m.httpClient == nil {
		m.httpClient = &http.Client{Timeout: refreshTimeout}
	}
	if m.logger == nil {
		m.logger = logger.Nop()
	}
	if m.now == nil {
		m.now = time.Now
	}
	return m
}

// Sessions returns the pending session store.
func (m *Manager) Sessions() *SessionStore {
	return m.sessions
}

// RunSweeper removes expired sessions every interval until ctx is done.
func (m *Manager) RunSweeper(ctx context.Context, interval time.Duration) {
	m.sessions.Run(ctx, interval, m.now)
}

// Authorize starts a flow for providerID and returns the URL to redirect the
// user to.
func (m *Manager) Authorize(ctx context.Context, providerID string) (string, error) {
	cfg, err := m.oauthProvider(ctx, providerID)
	if err != nil {
		return "", err
	}

	pkce, err := GeneratePKCE()
	if err != nil {
		return "", err
	}

	authURL, err := m.BuildAuthorizationURL(pkce, cfg)
	if err != nil {
		return "", err
	}

	clientID, _ := m.clientID(cfg)
	m.sessions.Put(&Session{
		Provider:    providerID,
		PKCE:        pkce,
		ClientID:    clientID,
		RedirectURI: cfg.OAuth.RedirectURI,
		CreatedAt:   m.now(),
	})

	m.logger.Info("oauth authorization started", zap.String("provider", providerID))
	return authURL, nil
}

// Complete handles a callback: it consumes the pending session, exchanges the
// code and stores the token. When state is empty the pending session of
// providerHint is used. It returns the provider id the token was stored for.
func (m *Manager) Complete(ctx context.Context, code, state, providerHint string) (string, error) {
	var (
		sess *Session
		ok   bool
	)
	now := m.now()
	if state != "" {
		// A callback on the wrong provider route leaves the session pending.
		if providerHint != "" {
			if owner, found := m.sessions.Owner(state); found && owner != providerHint {
				return "", &Error{Op: OpExchange, Kind: KindStateMismatch, Err: fmt.Errorf("state belongs to provider %q", owner)}
			}
		}
		sess, ok = m.sessions.Take(state, now)
	} else if providerHint != "" {
		sess, ok = m.sessions.TakeProvider(providerHint, now)
	}
	if !ok {
		return "", &Error{Op: OpExchange, Kind: KindStateMismatch, Err: errors.New("no pending authorization for state")}
	}
	if providerHint != "" && providerHint != sess.Provider {
		return "", &Error{Op: OpExchange, Kind: KindStateMismatch, Err: fmt.Errorf("state belongs to provider %q", sess.Provider)}
	}

	cfg, err := m.oauthProvider(ctx, sess.Provider)
	if err != nil {
		return "", err
	}

	tok, err := m.ExchangeCode(ctx, code, sess.PKCE.Verifier, sess.PKCE.State, cfg)
	if err != nil {
		m.logger.Warn("oauth code exchange failed", zap.String("provider", sess.Provider), zap.Error(err))
		return "", err
	}

	if err := m.store.SaveToken(ctx, sess.Provider, tok); err != nil {
		return "", fmt.Errorf("saving token: %w", err)
	}

	m.logger.Info("oauth authorization completed", zap.String("provider", sess.Provider))
	return sess.Provider, nil
}

// EnsureValidToken returns a token that is valid for at least RefreshBuffer,
// refreshing it first when needed. Concurrent callers for the same provider
// share one refresh, and the refreshed token is persisted before any of them
// return.
func (m *Manager) EnsureValidToken(ctx context.Context, providerID string) (*credentials.TokenRecord, error) {
	tok, err := m.store.GetToken(ctx, providerID)
	if err != nil {
		if credentials.IsNotFound(err) {
			return nil, fmt.Errorf("%w: provider %q has no token", ErrNoValidCredential, providerID)
		}
		return nil, err
	}

	if !tok.ExpiresWithin(RefreshBuffer, m.now()) {
		return tok, nil
	}
	if tok.RefreshToken == "" {
		return nil, fmt.Errorf("%w: provider %q token expires without a refresh token", ErrNoValidCredential, providerID)
	}

	return m.sharedRefresh(ctx, providerID, false)
}

// ForceRefresh refreshes the provider's token regardless of its expiry.
func (m *Manager) ForceRefresh(ctx context.Context, providerID string) (*credentials.TokenRecord, error) {
	return m.sharedRefresh(ctx, providerID, true)
}

func (m *Manager) sharedRefresh(ctx context.Context, providerID string, force bool) (*credentials.TokenRecord, error) {
	// Forced refreshes never join an expiry-driven flight.
	key := providerID
	if force {
		key += "#force"
	}

	ch := m.flight.DoChan(key, func() (any, error) {
		// The flight outlives any single caller.
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), refreshTimeout)
		defer cancel()
		return m.refresh(fctx, providerID, force)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		tok := *res.Val.(*credentials.TokenRecord)
		return &tok, nil
	}
}

func (m *Manager) refresh(ctx context.Context, providerID string, force bool) (*credentials.TokenRecord, error) {
	// Another flight may have finished between the caller's read and ours.
	tok, err := m.store.GetToken(ctx, providerID)
	if err != nil {
		if credentials.IsNotFound(err) {
			return nil, fmt.Errorf("%w: provider %q has no token", ErrNoValidCredential, providerID)
		}
		return nil, err
	}
	if !force && !tok.ExpiresWithin(RefreshBuffer, m.now()) {
		return tok, nil
	}
	if tok.RefreshToken == "" {
		return nil, fmt.Errorf("%w: provider %q has no refresh token", ErrNoValidCredential, providerID)
	}

	cfg, err := m.oauthProvider(ctx, providerID)
	if err != nil {
		return nil, err
	}

	fresh, err := m.Refresh(ctx, tok.RefreshToken, cfg)
	if m.onRefresh != nil {
		m.onRefresh(providerID, err)
	}
	if err != nil {
		m.logger.Warn("oauth refresh failed", zap.String("provider", providerID), zap.Error(err))
		return nil, err
	}

	if err := m.store.SaveToken(ctx, providerID, fresh); err != nil {
		return nil, fmt.Errorf("saving refreshed token: %w", err)
	}

	m.logger.Debug("oauth token refreshed",
		zap.String("provider", providerID),
		zap.Time("expires_at", fresh.ExpiresAt),
	)
	return fresh, nil
}

// Disconnect revokes the provider's tokens upstream and deletes them locally.
// Local deletion happens even when revocation fails; the revocation error is
// still returned.
func (m *Manager) Disconnect(ctx context.Context, providerID string) error {
	cfg, err := m.oauthProvider(ctx, providerID)
	if err != nil {
		return err
	}

	tok, err := m.store.GetToken(ctx, providerID)
	if err != nil {
		if credentials.IsNotFound(err) {
			return nil
		}
		return err
	}

	var revokeErrs []error
	if tok.RefreshToken != "" {
		revokeErrs = append(revokeErrs, m.Revoke(ctx, tok.RefreshToken, "refresh_token", cfg))
	}
	revokeErrs = append(revokeErrs, m.Revoke(ctx, tok.AccessToken, "access_token", cfg))

	if err := m.store.DeleteToken(ctx, providerID); err != nil {
		return fmt.Errorf("deleting token: %w", err)
	}

	if err := errors.Join(revokeErrs...); err != nil {
		m.logger.Warn("oauth revocation failed", zap.String("provider", providerID), zap.Error(err))
		return err
	}
	return nil
}

// Status describes a provider's stored token without exposing it.
type Status struct {
	Provider        string     `json:"provider"`
	Connected       bool       `json:"connected"`
	Expired         bool       `json:"expired"`
	ExpiresAt       *time.Time `json:"expires_at,omitempty"`
	HasRefreshToken bool       `json:"has_refresh_token"`
	Scope           string     `json:"scope,omitempty"`
	Pending         bool       `json:"pending"`
}

// Status reports the provider's token state.
func (m *Manager) Status(ctx context.Context, providerID string) (*Status, error) {
	if _, err := m.oauthProvider(ctx, providerID); err != nil {
		return nil, err
	}

	st := &Status{
		Provider: providerID,
		Pending:  m.sessions.Pending(providerID),
	}

	tok, err := m.store.GetToken(ctx, providerID)
	if err != nil {
		if credentials.IsNotFound(err) {
			return st, nil
		}
		return nil, err
	}

	st.Connected = true
	st.Expired = tok.Expired(m.now())
	st.HasRefreshToken = tok.RefreshToken != ""
	st.Scope = tok.Scope
	if !tok.ExpiresAt.IsZero() {
		expires := tok.ExpiresAt
		st.ExpiresAt = &expires
	}
	return st, nil
}

// oauthProvider loads providerID and checks it is an OAuth provider.
func (m *Manager) oauthProvider(ctx context.Context, providerID string) (*credentials.ProviderConfig, error) {
	cfg, err := m.store.GetProvider(ctx, providerID)
	if err != nil {
		return nil, err
	}
	if cfg.AuthType != credentials.AuthOAuth || cfg.OAuth == nil {
		return nil, &ConfigurationError{Provider: providerID, Field: "oauth section"}
	}
	return cfg, nil
}

// SplitCode handles callback pages that deliver "code#state" in the code
// parameter. An explicit state wins.
func SplitCode(code, state string) (string, string) {
	c, s, found := strings.Cut(code, "#")
	if !found {
		return code, state
	}
	if state == "" {
		state = s
	}
	return c, state
}
