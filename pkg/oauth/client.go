package oauth

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/oauth2"

	"github.com/papercomputeco/switchboard/pkg/credentials"
)

// DevClientID is used in dev mode for providers configured without a client id.
const DevClientID = "switchboard-dev-client"

// clientID returns the provider's client id, the dev placeholder, or a
// ConfigurationError.
func (m *Manager) clientID(cfg *credentials.ProviderConfig) (string, error) {
	if cfg.OAuth == nil {
		return "", &ConfigurationError{Provider: cfg.ID, Field: "oauth section"}
	}
	if cfg.OAuth.ClientID != "" {
		return cfg.OAuth.ClientID, nil
	}
	if m.devMode {
		return DevClientID, nil
	}
	return "", &ConfigurationError{Provider: cfg.ID, Field: "client_id"}
}

func (m *Manager) oauth2Config(cfg *credentials.ProviderConfig) (*oauth2.Config, error) {
	clientID, err := m.clientID(cfg)
	if err != nil {
		return nil, err
	}
	if cfg.OAuth.RedirectURI == "" {
		return nil, &ConfigurationError{Provider: cfg.ID, Field: "redirect_uri"}
	}

	return &oauth2.Config{
		ClientID: clientID,
		Endpoint: oauth2.Endpoint{
			AuthURL:   cfg.OAuth.AuthorizeURL,
			TokenURL:  cfg.OAuth.TokenURL,
			AuthStyle: oauth2.AuthStyleInParams,
		},
		RedirectURL: cfg.OAuth.RedirectURI,
		Scopes:      cfg.OAuth.Scopes,
	}, nil
}

// withClient installs the manager's HTTP client for x/oauth2.
func (m *Manager) withClient(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, m.httpClient)
}

// BuildAuthorizationURL composes the authorization redirect for pkce.
func (m *Manager) BuildAuthorizationURL(pkce PKCE, cfg *credentials.ProviderConfig) (string, error) {
	oc, err := m.oauth2Config(cfg)
	if err != nil {
		return "", err
	}
	return oc.AuthCodeURL(pkce.State, oauth2.S256ChallengeOption(pkce.Verifier)), nil
}

// ExchangeCode trades an authorization code for a token record.
func (m *Manager) ExchangeCode(ctx context.Context, code, verifier, state string, cfg *credentials.ProviderConfig) (*credentials.TokenRecord, error) {
	oc, err := m.oauth2Config(cfg)
	if err != nil {
		return nil, err
	}

	tok, err := oc.Exchange(m.withClient(ctx), code,
		oauth2.VerifierOption(verifier),
		oauth2.SetAuthURLParam("state", state),
	)
	if err != nil {
		return nil, classify(OpExchange, err)
	}

	return m.record(tok, ""), nil
}

// Refresh runs the refresh_token grant. A response without a refresh token
// keeps refreshToken.
func (m *Manager) Refresh(ctx context.Context, refreshToken string, cfg *credentials.ProviderConfig) (*credentials.TokenRecord, error) {
	oc, err := m.oauth2Config(cfg)
	if err != nil {
		return nil, err
	}

	tok, err := oc.TokenSource(m.withClient(ctx), &oauth2.Token{RefreshToken: refreshToken}).Token()
	if err != nil {
		return nil, classify(OpRefresh, err)
	}

	return m.record(tok, refreshToken), nil
}

// Revoke asks the provider to invalidate token (RFC 7009). Providers without
// a revocation endpoint succeed trivially.
func (m *Manager) Revoke(ctx context.Context, token, tokenTypeHint string, cfg *credentials.ProviderConfig) error {
	if cfg.OAuth == nil || cfg.OAuth.RevokeURL == "" || token == "" {
		return nil
	}

	form := url.Values{"token": {token}}
	if tokenTypeHint != "" {
		form.Set("token_type_hint", tokenTypeHint)
	}
	if clientID, err := m.clientID(cfg); err == nil {
		form.Set("client_id", clientID)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.OAuth.RevokeURL, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("creating revoke request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("revoking token: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("revoking token: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}

// record converts an oauth2 token. Expiry is measured on this clock from
// expires_in rather than taken from the token's computed Expiry.
func (m *Manager) record(tok *oauth2.Token, fallbackRefresh string) *credentials.TokenRecord {
	refresh := tok.RefreshToken
	if refresh == "" {
		refresh = fallbackRefresh
	}

	scope, _ := tok.Extra("scope").(string)

	return credentials.NewTokenRecord(tok.AccessToken, refresh, tok.TokenType, scope, m.now(), tok.ExpiresIn)
}

// classify maps an x/oauth2 failure onto an *Error.
func classify(op string, err error) *Error {
	var rErr *oauth2.RetrieveError
	if errors.As(err, &rErr) {
		e := &Error{
			Op:          op,
			Kind:        KindRejected,
			Code:        rErr.ErrorCode,
			Description: rErr.ErrorDescription,
			Err:         err,
		}
		if rErr.Response != nil {
			e.StatusCode = rErr.Response.StatusCode
		}
		if e.Code == "" {
			e.Body = strings.TrimSpace(string(rErr.Body))
		}
		return e
	}

	var netErr net.Error
	var urlErr *url.Error
	if errors.As(err, &netErr) || errors.As(err, &urlErr) {
		return &Error{Op: op, Kind: KindNetwork, Err: err}
	}

	return &Error{Op: op, Kind: KindUnexpected, Err: err}
}
