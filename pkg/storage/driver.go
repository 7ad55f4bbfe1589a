// Package storage defines the interaction record and the drivers that persist
// it for auditing.
package storage

import (
	"context"
	"encoding/json"
	"time"
)

// InteractionRecord is the audit record of one inbound request.
type InteractionRecord struct {
	ID         string `json:"id"`
	ProviderID string `json:"provider_id"`
	Model      string `json:"model"`
	Streaming  bool   `json:"streaming"`

	// RawRequest is the canonical request body as received.
	RawRequest json.RawMessage `json:"raw_request"`

	// RawResponse is the canonical response. It stays nil until the
	// interaction completes successfully.
	RawResponse json.RawMessage `json:"raw_response"`

	// Content is the accumulated text with inline tool markup. It may be
	// partial when the interaction failed.
	Content string `json:"content"`

	InputTokens    int   `json:"input_tokens"`
	OutputTokens   int   `json:"output_tokens"`
	ResponseTimeMs int64 `json:"response_time_ms"`
	StatusCode     int   `json:"status_code"`

	// Error is empty unless the interaction failed.
	Error string `json:"error,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Completed reports whether the terminal update has been applied.
func (r *InteractionRecord) Completed() bool {
	return r.CompletedAt != nil
}

// Completion is the terminal update applied to a record.
type Completion struct {
	RawResponse  json.RawMessage
	Content      string
	InputTokens  int
	OutputTokens int
	ResponseTime time.Duration
	StatusCode   int
	Error        string
	CompletedAt  time.Time
}

// Apply copies the completion onto r.
func (c *Completion) Apply(r *InteractionRecord) {
	completed := c.CompletedAt
	r.RawResponse = c.RawResponse
	r.Content = c.Content
	r.InputTokens = c.InputTokens
	r.OutputTokens = c.OutputTokens
	r.ResponseTimeMs = c.ResponseTime.Milliseconds()
	r.StatusCode = c.StatusCode
	r.Error = c.Error
	r.CompletedAt = &completed
}

// ListOptions filters List.
type ListOptions struct {
	// ProviderID restricts results to one provider when set.
	ProviderID string

	// Limit caps the number of records; zero means DefaultListLimit.
	Limit int
}

// DefaultListLimit is the page size used when ListOptions.Limit is zero.
const DefaultListLimit = 50

// Driver persists interaction records. Records are created once and
// completed at most once.
type Driver interface {
	// Create inserts a new record.
	Create(ctx context.Context, rec *InteractionRecord) error

	// Update applies the terminal completion to the record with id. A second
	// completion returns ErrAlreadyCompleted.
	Update(ctx context.Context, id string, c *Completion) error

	// Get returns the record with id, or NotFoundError.
	Get(ctx context.Context, id string) (*InteractionRecord, error)

	// List returns records newest first.
	List(ctx context.Context, opts ListOptions) ([]*InteractionRecord, error)

	// Close releases any resources held by the driver.
	Close() error
}
