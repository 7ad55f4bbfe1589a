package oauth

import (
	"context"
	"sync"
	"time"
)

const (
	// DefaultSessionTTL is how long a pending authorization stays valid.
	DefaultSessionTTL = 30 * time.Minute

	// DefaultSweepInterval is how often expired sessions are removed.
	DefaultSweepInterval = 10 * time.Minute
)

// Session is one pending authorization, created when the flow starts and
// consumed by the callback.
type Session struct {
	Provider    string
	PKCE        PKCE
	ClientID    string
	RedirectURI string
	CreatedAt   time.Time
}

// SessionStore holds pending sessions keyed by state and mirrored by provider
// id, for callbacks that arrive without a state parameter.
type SessionStore struct {
	mu         sync.Mutex
	ttl        time.Duration
	byState    map[string]*Session
	byProvider map[string]*Session
}

// NewSessionStore creates a store whose sessions expire after ttl.
func NewSessionStore(ttl time.Duration) *SessionStore {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &SessionStore{
		ttl:        ttl,
		byState:    make(map[string]*Session),
		byProvider: make(map[string]*Session),
	}
}

// Put registers s, replacing any pending session for the same provider.
func (s *SessionStore) Put(sess *Session) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if old, ok := s.byProvider[sess.Provider]; ok {
		delete(s.byState, old.PKCE.State)
	}
	s.byState[sess.PKCE.State] = sess
	s.byProvider[sess.Provider] = sess
}

// Take removes and returns the session for state. Expired sessions are
// treated as missing.
func (s *SessionStore) Take(state string, now time.Time) (*Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.byState[state]
	if !ok {
		return nil, false
	}
	s.removeLocked(sess)
	return sess, !s.expired(sess, now)
}

// Owner returns the provider of the pending session for state without
// consuming it.
func (s *SessionStore) Owner(state string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.byState[state]
	if !ok {
		return "", false
	}
	return sess.Provider, true
}

// TakeProvider removes and returns the pending session for a provider.
func (s *SessionStore) TakeProvider(provider string, now time.Time) (*Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.byProvider[provider]
	if !ok {
		return nil, false
	}
	s.removeLocked(sess)
	return sess, !s.expired(sess, now)
}

// Sweep deletes sessions older than the TTL and returns how many it removed.
func (s *SessionStore) Sweep(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for _, sess := range s.byState {
		if s.expired(sess, now) {
			s.removeLocked(sess)
			removed++
		}
	}
	return removed
}

// Pending reports whether provider has a session awaiting its callback.
func (s *SessionStore) Pending(provider string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.byProvider[provider]
	return ok
}

// Len returns the number of pending sessions.
func (s *SessionStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.byState)
}

// Run sweeps every interval until ctx is done.
func (s *SessionStore) Run(ctx context.Context, interval time.Duration, now func() time.Time) {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep(now())
		}
	}
}

func (s *SessionStore) removeLocked(sess *Session) {
	delete(s.byState, sess.PKCE.State)
	if cur, ok := s.byProvider[sess.Provider]; ok && cur == sess {
		delete(s.byProvider, sess.Provider)
	}
}

func (s *SessionStore) expired(sess *Session, now time.Time) bool {
	return now.Sub(sess.CreatedAt) > s.ttl
}
