// Package upstream holds the HTTP plumbing shared by the provider adapters:
// credentials, the bounded client and upstream error classification.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/papercomputeco/switchboard/pkg/credentials"
	"github.com/papercomputeco/switchboard/pkg/llm"
	"github.com/papercomputeco/switchboard/pkg/utils"
)

// DefaultTimeout bounds a single upstream request, streaming included.
const DefaultTimeout = 5 * time.Minute

const maxErrorBody = 64 * 1024

// maxErrorMessage bounds how much of the body an error message carries.
const maxErrorMessage = 1024

// CredentialKind is how a credential is attached upstream.
type CredentialKind int

const (
	CredentialNone CredentialKind = iota
	CredentialAPIKey
	CredentialBearer
)

// Credential is the secret the adapter attaches to every request.
type Credential struct {
	Kind  CredentialKind
	Value string
}

// Config is what every adapter is built from.
type Config struct {
	Provider   *credentials.ProviderConfig
	Credential Credential
	HTTPClient *http.Client
}

// NewHTTPClient returns a client whose timeout covers the whole request,
// including reading a streamed body.
func NewHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &http.Client{Timeout: timeout}
}

// Error is a failed upstream call: a transport failure or a non-2xx status.
type Error struct {
	Provider   string
	StatusCode int
	Body       string
	Err        error
}

func (e *Error) Error() string {
	switch {
	case e.StatusCode != 0 && e.Body != "":
		return fmt.Sprintf("upstream %s: status %d: %s", e.Provider, e.StatusCode, utils.Truncate(e.Body, maxErrorMessage))
	case e.StatusCode != 0:
		return fmt.Sprintf("upstream %s: status %d", e.Provider, e.StatusCode)
	case e.Err != nil:
		return fmt.Sprintf("upstream %s: %v", e.Provider, e.Err)
	default:
		return fmt.Sprintf("upstream %s: request failed", e.Provider)
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports every upstream failure as a protocol error.
func (e *Error) Is(target error) bool {
	return target == llm.ErrUpstreamProtocol
}

// Protocolf reports an upstream payload the adapter could not translate.
func Protocolf(provider, format string, args ...any) error {
	return &Error{Provider: provider, Err: fmt.Errorf(format, args...)}
}

// Client posts JSON to one provider.
type Client struct {
	provider string
	baseURL  string
	http     *http.Client
}

// NewClient creates a Client for cfg.
func NewClient(cfg Config) *Client {
	hc := cfg.HTTPClient
	if hc == nil {
		hc = NewHTTPClient(DefaultTimeout)
	}
	return &Client{
		provider: cfg.Provider.ID,
		baseURL:  strings.TrimRight(cfg.Provider.BaseURL, "/"),
		http:     hc,
	}
}

// Post sends body as JSON to path. A non-2xx response is drained, closed and
// returned as an *Error; otherwise the caller owns the response body.
func (c *Client) Post(ctx context.Context, path string, body any, header http.Header) (*http.Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encoding upstream request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, &Error{Provider: c.provider, Err: err}
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Content-Type", "application/json")
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", utils.UserAgent())
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &Error{Provider: c.provider, Err: err}
	}

	if resp.StatusCode/100 != 2 {
		defer resp.Body.Close()
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &Error{
			Provider:   c.provider,
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(raw)),
		}
	}

	return resp, nil
}

// Wrap classifies an error raised while reading an upstream body.
func (c *Client) Wrap(err error) error {
	var uErr *Error
	if errors.As(err, &uErr) {
		return err
	}
	return &Error{Provider: c.provider, Err: err}
}

// Provider returns the provider id the client talks to.
func (c *Client) Provider() string {
	return c.provider
}

// DecodeInput parses a JSON object of tool arguments. Empty input is an
// empty object.
func DecodeInput(raw string) (map[string]any, error) {
	if strings.TrimSpace(raw) == "" {
		return map[string]any{}, nil
	}
	var input map[string]any
	if err := json.Unmarshal([]byte(raw), &input); err != nil {
		return nil, err
	}
	if input == nil {
		input = map[string]any{}
	}
	return input, nil
}

// EncodeInput renders tool arguments as a JSON object string.
func EncodeInput(input map[string]any) string {
	if input == nil {
		return "{}"
	}
	b, err := json.Marshal(input)
	if err != nil {
		return "{}"
	}
	return string(b)
}
