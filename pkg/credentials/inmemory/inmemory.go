// Package inmemory provides an in-memory credentials.Store.
package inmemory

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/papercomputeco/switchboard/pkg/credentials"
)

// Store implements credentials.Store using in-memory maps.
type Store struct {
	mu        sync.RWMutex
	providers map[string]*credentials.ProviderConfig
	keys      map[string]string
	tokens    map[string]*credentials.TokenRecord
}

var _ credentials.Store = (*Store)(nil)

// NewStore creates a new empty in-memory store.
func NewStore() *Store {
	return &Store{
		providers: make(map[string]*credentials.ProviderConfig),
		keys:      make(map[string]string),
		tokens:    make(map[string]*credentials.TokenRecord),
	}
}

// SaveProvider inserts or replaces a provider.
func (s *Store) SaveProvider(_ context.Context, p *credentials.ProviderConfig) error {
	if p == nil {
		return errors.New("cannot store nil provider")
	}
	if err := p.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if p.Active && p.Default {
		s.clearDefaultLocked(p.ID)
	}
	s.providers[p.ID] = p.Clone()
	return nil
}

// GetProvider returns a provider by id.
func (s *Store) GetProvider(_ context.Context, id string) (*credentials.ProviderConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.providers[id]
	if !ok {
		return nil, credentials.NotFoundError{Kind: "provider", ID: id}
	}
	return p.Clone(), nil
}

// ListProviders returns all providers ordered by id.
func (s *Store) ListProviders(_ context.Context) ([]*credentials.ProviderConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*credentials.ProviderConfig, 0, len(s.providers))
	for _, p := range s.providers {
		out = append(out, p.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// SetDefault flags id as the default provider.
func (s *Store) SetDefault(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.providers[id]
	if !ok {
		return credentials.NotFoundError{Kind: "provider", ID: id}
	}
	if !p.Active {
		return credentials.ErrInactiveProvider
	}

	s.clearDefaultLocked(id)
	p.Default = true
	return nil
}

func (s *Store) clearDefaultLocked(except string) {
	for id, p := range s.providers {
		if id != except {
			p.Default = false
		}
	}
}

// GetAPIKey returns the stored API key, or "".
func (s *Store) GetAPIKey(_ context.Context, providerID string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.keys[providerID], nil
}

// SetAPIKey stores an API key.
func (s *Store) SetAPIKey(_ context.Context, providerID, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys[providerID] = key
	return nil
}

// GetToken returns a copy of the current token.
func (s *Store) GetToken(_ context.Context, providerID string) (*credentials.TokenRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tok, ok := s.tokens[providerID]
	if !ok {
		return nil, credentials.NotFoundError{Kind: "token", ID: providerID}
	}
	cp := *tok
	return &cp, nil
}

// SaveToken replaces the current token.
func (s *Store) SaveToken(_ context.Context, providerID string, token *credentials.TokenRecord) error {
	if token == nil {
		return errors.New("cannot store nil token")
	}

	cp := *token
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens[providerID] = &cp
	return nil
}

// DeleteToken removes the current token.
func (s *Store) DeleteToken(_ context.Context, providerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tokens, providerID)
	return nil
}

// Close is a no-op.
func (s *Store) Close() error {
	return nil
}
