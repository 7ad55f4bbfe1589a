// Package credentials holds provider configurations and the secrets used to
// reach them: static API keys and OAuth token records.
package credentials

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/BurntSushi/toml"

	"github.com/papercomputeco/switchboard/pkg/dotdir"
)

const (
	credentialsFile = "credentials.toml"

	currentVersion = 0
)

// Manager manages reading and writing credentials.toml in the .switchboard/
// directory. It implements SecretStore so the CLI and tests can use the file
// directly; the gateway imports it into its running store at startup.
type Manager struct {
	ddm        *dotdir.Manager
	targetPath string

	// mu serializes load-modify-save cycles within the process.
	mu sync.Mutex
}

var _ SecretStore = (*Manager)(nil)

// NewManager creates a new credentials Manager. If override is non-empty it is
// used as the .switchboard/ directory; otherwise the standard dotdir
// resolution applies.
func NewManager(override string) (*Manager, error) {
	mgr := &Manager{}
	mgr.ddm = dotdir.NewManager()

	target, err := mgr.ddm.Target(override)
	if err != nil {
		return nil, err
	}

	mgr.targetPath = filepath.Join(target, credentialsFile)

	return mgr, nil
}

// Load reads credentials.toml from the target directory.
// Returns an empty Credentials if the file does not exist.
func (m *Manager) Load() (*Credentials, error) {
	data, err := os.ReadFile(m.targetPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &Credentials{
				Version:   currentVersion,
				Providers: make(map[string]ProviderCredential),
			}, nil
		}
		return nil, fmt.Errorf("reading credentials: %w", err)
	}

	creds := &Credentials{}
	if err := toml.Unmarshal(data, creds); err != nil {
		return nil, fmt.Errorf("parsing credentials: %w", err)
	}

	if creds.Providers == nil {
		creds.Providers = make(map[string]ProviderCredential)
	}

	return creds, nil
}

// Save writes credentials to credentials.toml with 0600 permissions.
func (m *Manager) Save(creds *Credentials) error {
	if creds == nil {
		return errors.New("cannot save nil credentials")
	}

	var buf bytes.Buffer
	encoder := toml.NewEncoder(&buf)
	if err := encoder.Encode(creds); err != nil {
		return fmt.Errorf("encoding credentials: %w", err)
	}

	if err := os.WriteFile(m.targetPath, buf.Bytes(), 0o600); err != nil {
		return fmt.Errorf("writing credentials: %w", err)
	}

	return nil
}

// update runs fn against the loaded credentials and saves the result.
func (m *Manager) update(fn func(creds *Credentials)) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	creds, err := m.Load()
	if err != nil {
		return err
	}

	fn(creds)

	return m.Save(creds)
}

// SetKey stores an API key for the given provider.
func (m *Manager) SetKey(provider, key string) error {
	return m.update(func(creds *Credentials) {
		pc := creds.Providers[provider]
		pc.APIKey = key
		creds.Providers[provider] = pc
	})
}

// GetKey returns the stored API key for the given provider.
// Returns an empty string if no key is stored.
func (m *Manager) GetKey(provider string) (string, error) {
	creds, err := m.Load()
	if err != nil {
		return "", err
	}

	return creds.Providers[provider].APIKey, nil
}

// RemoveKey deletes every stored credential for a provider.
func (m *Manager) RemoveKey(provider string) error {
	return m.update(func(creds *Credentials) {
		delete(creds.Providers, provider)
	})
}

// ListProviders returns the names of providers that have stored credentials.
func (m *Manager) ListProviders() ([]string, error) {
	creds, err := m.Load()
	if err != nil {
		return nil, err
	}

	providers := make([]string, 0, len(creds.Providers))
	for name := range creds.Providers {
		providers = append(providers, name)
	}

	sort.Strings(providers)

	return providers, nil
}

// GetTarget returns the resolved path to the credentials file.
func (m *Manager) GetTarget() string {
	return m.targetPath
}

// GetAPIKey implements SecretStore.
func (m *Manager) GetAPIKey(_ context.Context, providerID string) (string, error) {
	return m.GetKey(providerID)
}

// SetAPIKey implements SecretStore.
func (m *Manager) SetAPIKey(_ context.Context, providerID, key string) error {
	return m.SetKey(providerID, key)
}

// GetToken implements SecretStore.
func (m *Manager) GetToken(_ context.Context, providerID string) (*TokenRecord, error) {
	creds, err := m.Load()
	if err != nil {
		return nil, err
	}

	pc, ok := creds.Providers[providerID]
	if !ok || pc.Token == nil {
		return nil, NotFoundError{Kind: "token", ID: providerID}
	}

	tok := *pc.Token
	return &tok, nil
}

// SaveToken implements SecretStore.
func (m *Manager) SaveToken(_ context.Context, providerID string, token *TokenRecord) error {
	if token == nil {
		return errors.New("cannot save nil token")
	}

	tok := *token
	return m.update(func(creds *Credentials) {
		pc := creds.Providers[providerID]
		pc.Token = &tok
		creds.Providers[providerID] = pc
	})
}

// DeleteToken implements SecretStore.
func (m *Manager) DeleteToken(_ context.Context, providerID string) error {
	return m.update(func(creds *Credentials) {
		pc, ok := creds.Providers[providerID]
		if !ok {
			return
		}
		pc.Token = nil
		if pc.APIKey == "" {
			delete(creds.Providers, providerID)
			return
		}
		creds.Providers[providerID] = pc
	})
}
