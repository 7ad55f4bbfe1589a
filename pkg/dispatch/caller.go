package dispatch

import "context"

// Caller is the credential the inbound request authenticated with. It is
// carried on the request context so that providers configured to forward
// client auth can reuse it.
type Caller struct {
	// APIKey is the x-api-key header value.
	APIKey string

	// Bearer is the Authorization bearer token.
	Bearer string
}

// Empty reports whether the caller presented no credential.
func (c Caller) Empty() bool {
	return c.APIKey == "" && c.Bearer == ""
}

type callerKey struct{}

// WithCaller returns a copy of ctx carrying c.
func WithCaller(ctx context.Context, c Caller) context.Context {
	return context.WithValue(ctx, callerKey{}, c)
}

// CallerFrom returns the caller stored on ctx.
func CallerFrom(ctx context.Context) (Caller, bool) {
	c, ok := ctx.Value(callerKey{}).(Caller)
	return c, ok
}
