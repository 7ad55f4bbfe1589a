package oauth

import (
	"errors"
	"fmt"
)

var (
	// ErrExchangeFailed classifies every failed authorization code exchange,
	// including callbacks whose state matches no pending session.
	ErrExchangeFailed = errors.New("oauth exchange failed")

	// ErrRefreshFailed classifies every failed refresh_token grant.
	ErrRefreshFailed = errors.New("oauth refresh failed")

	// ErrNoValidCredential means a provider has no token, or an expiring
	// token without a refresh token.
	ErrNoValidCredential = errors.New("no valid oauth credential")
)

// Kind separates failures that need different operator responses.
type Kind string

const (
	// KindStateMismatch is a callback whose state has no pending session.
	KindStateMismatch Kind = "state_mismatch"

	// KindRejected means the token endpoint answered with an error.
	KindRejected Kind = "rejected"

	// KindNetwork means the token endpoint could not be reached.
	KindNetwork Kind = "network"

	// KindUnexpected covers malformed token responses.
	KindUnexpected Kind = "unexpected"
)

// Op names the grant that failed.
const (
	OpExchange = "exchange"
	OpRefresh  = "refresh"
)

// Error is a classified token endpoint failure.
type Error struct {
	Op   string
	Kind Kind

	// Code and Description come from an RFC 6749 error body when the token
	// endpoint sent one.
	Code        string
	Description string

	StatusCode int
	Body       string
	Err        error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("oauth %s failed (%s)", e.Op, e.Kind)
	switch {
	case e.Code != "" && e.Description != "":
		msg += ": " + e.Code + ": " + e.Description
	case e.Code != "":
		msg += ": " + e.Code
	case e.Body != "":
		msg += fmt.Sprintf(": status %d: %s", e.StatusCode, e.Body)
	case e.Err != nil:
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches the sentinel of the failed grant.
func (e *Error) Is(target error) bool {
	switch target {
	case ErrExchangeFailed:
		return e.Op == OpExchange
	case ErrRefreshFailed:
		return e.Op == OpRefresh
	}
	return false
}

// ConfigurationError reports a provider whose OAuth settings are incomplete.
type ConfigurationError struct {
	Provider string
	Field    string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("oauth provider %q is missing %s", e.Provider, e.Field)
}
