package credentials

import (
	"errors"
	"fmt"
	"time"
)

// Family is the protocol class of an upstream provider.
type Family string

const (
	// FamilyOAuth providers require an OAuth bearer token.
	FamilyOAuth Family = "oauth"

	// FamilyAPIKey providers take a static API key.
	FamilyAPIKey Family = "apikey"

	// FamilyLocal providers are local model servers without credentials.
	FamilyLocal Family = "local"
)

// AuthType is how credentials are attached to upstream requests.
type AuthType string

const (
	AuthOAuth  AuthType = "oauth"
	AuthAPIKey AuthType = "api_key"
	AuthNone   AuthType = "none"
)

// Upstream wire protocols spoken by the adapters.
const (
	ProtocolAnthropic = "anthropic"
	ProtocolOpenAI    = "openai"
	ProtocolOllama    = "ollama"
)

var defaultBaseURLs = map[string]string{
	ProtocolAnthropic: "https://api.anthropic.com",
	ProtocolOpenAI:    "https://api.openai.com",
	ProtocolOllama:    "http://localhost:11434",
}

// ProviderConfig describes one configured upstream provider.
type ProviderConfig struct {
	ID       string   `json:"id"`
	Family   Family   `json:"family"`
	Protocol string   `json:"protocol"`
	AuthType AuthType `json:"auth_type"`
	BaseURL  string   `json:"base_url"`

	// APIKey is the static credential for AuthAPIKey providers. A key stored
	// in the credential store takes precedence.
	APIKey string `json:"-"`

	// DefaultModel is forwarded when the caller names no model, or names a
	// vendor model against a local provider.
	DefaultModel string `json:"default_model,omitempty"`

	// Models is the allowed model list. Empty allows any model.
	Models []string `json:"models,omitempty"`

	// ModelAliases maps canonical aliases to vendor model ids.
	ModelAliases map[string]string `json:"model_aliases,omitempty"`

	// NativeTools reports whether tool declarations and tool blocks are
	// forwarded structurally. Local providers default to inline annotations.
	NativeTools bool `json:"native_tools"`

	// ForwardClientAuth forwards the inbound caller's bearer credential
	// upstream instead of a stored credential.
	ForwardClientAuth bool `json:"forward_client_auth,omitempty"`

	Active  bool `json:"active"`
	Default bool `json:"default"`

	// OAuth holds client settings for AuthOAuth providers.
	OAuth *OAuthClientConfig `json:"oauth,omitempty"`
}

// OAuthClientConfig holds the OAuth 2.0 client settings for one provider.
type OAuthClientConfig struct {
	ClientID     string   `json:"client_id"`
	AuthorizeURL string   `json:"authorize_url"`
	TokenURL     string   `json:"token_url"`
	RevokeURL    string   `json:"revoke_url,omitempty"`
	RedirectURI  string   `json:"redirect_uri"`
	Scopes       []string `json:"scopes,omitempty"`
}

// ApplyDefaults fills the protocol, auth type and base URL implied by the
// provider family.
func (p *ProviderConfig) ApplyDefaults() {
	if p.Protocol == "" {
		switch p.Family {
		case FamilyOAuth:
			p.Protocol = ProtocolAnthropic
		case FamilyLocal:
			p.Protocol = ProtocolOllama
		default:
			p.Protocol = ProtocolOpenAI
		}
	}

	if p.AuthType == "" {
		switch p.Family {
		case FamilyOAuth:
			p.AuthType = AuthOAuth
		case FamilyLocal:
			p.AuthType = AuthNone
		default:
			p.AuthType = AuthAPIKey
		}
	}

	if p.BaseURL == "" {
		p.BaseURL = defaultBaseURLs[p.Protocol]
	}

	if p.Family != FamilyLocal {
		p.NativeTools = true
	}
}

// Validate checks the provider is internally consistent.
func (p *ProviderConfig) Validate() error {
	if p.ID == "" {
		return errors.New("provider id is required")
	}

	switch p.Family {
	case FamilyOAuth, FamilyAPIKey, FamilyLocal:
	default:
		return fmt.Errorf("provider %q: unknown family %q", p.ID, p.Family)
	}

	switch p.Protocol {
	case ProtocolAnthropic, ProtocolOpenAI, ProtocolOllama:
	default:
		return fmt.Errorf("provider %q: unknown protocol %q", p.ID, p.Protocol)
	}

	if p.AuthType == AuthOAuth && p.OAuth == nil {
		return fmt.Errorf("provider %q: oauth auth type requires an oauth section", p.ID)
	}

	if p.BaseURL == "" {
		return fmt.Errorf("provider %q: base url is required", p.ID)
	}

	return nil
}

// VendorModel maps a canonical alias to the vendor model id.
func (p *ProviderConfig) VendorModel(model string) string {
	if vendor, ok := p.ModelAliases[model]; ok {
		return vendor
	}
	return model
}

// CanonicalModel maps a vendor model id back to the alias the caller used to
// name it, when exactly one alias points at it.
func (p *ProviderConfig) CanonicalModel(vendor string) string {
	found := ""
	for alias, v := range p.ModelAliases {
		if v != vendor {
			continue
		}
		if found != "" {
			return vendor
		}
		found = alias
	}

	if found == "" {
		return vendor
	}
	return found
}

// Clone returns a deep copy.
func (p *ProviderConfig) Clone() *ProviderConfig {
	cp := *p
	cp.Models = append([]string(nil), p.Models...)
	if p.ModelAliases != nil {
		cp.ModelAliases = make(map[string]string, len(p.ModelAliases))
		for k, v := range p.ModelAliases {
			cp.ModelAliases[k] = v
		}
	}
	if p.OAuth != nil {
		oc := *p.OAuth
		oc.Scopes = append([]string(nil), p.OAuth.Scopes...)
		cp.OAuth = &oc
	}
	return &cp
}

// ValidateProviders checks every provider and enforces that at most one
// active provider is flagged default.
func ValidateProviders(providers []*ProviderConfig) error {
	seen := make(map[string]struct{}, len(providers))
	defaults := 0

	for _, p := range providers {
		if err := p.Validate(); err != nil {
			return err
		}
		if _, dup := seen[p.ID]; dup {
			return fmt.Errorf("duplicate provider id %q", p.ID)
		}
		seen[p.ID] = struct{}{}

		if p.Active && p.Default {
			defaults++
		}
	}

	if defaults > 1 {
		return fmt.Errorf("%d active providers are flagged default, at most one is allowed", defaults)
	}

	return nil
}

// FindDefault returns the active provider flagged default, or nil.
func FindDefault(providers []*ProviderConfig) *ProviderConfig {
	for _, p := range providers {
		if p.Active && p.Default {
			return p
		}
	}
	return nil
}

// TokenRecord is an OAuth token for one provider.
type TokenRecord struct {
	AccessToken  string    `toml:"access_token" json:"-"`
	RefreshToken string    `toml:"refresh_token,omitempty" json:"-"`
	TokenType    string    `toml:"token_type,omitempty" json:"token_type,omitempty"`
	Scope        string    `toml:"scope,omitempty" json:"scope,omitempty"`
	IssuedAt     time.Time `toml:"issued_at" json:"issued_at"`

	// ExpiresAt is always IssuedAt + expires_in, measured on the gateway's
	// clock. Zero means the token server reported no expiry.
	ExpiresAt time.Time `toml:"expires_at,omitempty" json:"expires_at,omitzero"`
}

// NewTokenRecord builds a record whose expiry is derived from the issue time
// and the expires_in seconds reported by the token endpoint.
func NewTokenRecord(access, refresh, tokenType, scope string, issuedAt time.Time, expiresIn int64) *TokenRecord {
	rec := &TokenRecord{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    tokenType,
		Scope:        scope,
		IssuedAt:     issuedAt,
	}
	if expiresIn > 0 {
		rec.ExpiresAt = issuedAt.Add(time.Duration(expiresIn) * time.Second)
	}
	return rec
}

// ExpiresWithin reports whether the token expires within d of now.
// Tokens without an expiry never do.
func (t *TokenRecord) ExpiresWithin(d time.Duration, now time.Time) bool {
	if t.ExpiresAt.IsZero() {
		return false
	}
	return !t.ExpiresAt.After(now.Add(d))
}

// Expired reports whether the token has expired at now.
func (t *TokenRecord) Expired(now time.Time) bool {
	return t.ExpiresWithin(0, now)
}

// Credentials represents the stored secrets in credentials.toml.
type Credentials struct {
	Version   int                           `toml:"version"`
	Providers map[string]ProviderCredential `toml:"providers"`
}

// ProviderCredential holds the secrets for a single provider.
type ProviderCredential struct {
	APIKey string       `toml:"api_key,omitempty"`
	Token  *TokenRecord `toml:"token,omitempty"`
}
