// Package header handles the headers of the gateway's inbound leg:
//
//	Client <--> Gateway <--> Upstream provider
//
// Inbound credentials are read off the client request, and the streaming
// response headers are set on the way back down. Upstream headers are built
// by the provider adapters and never copied from the client.
package header

import (
	"crypto/subtle"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/papercomputeco/switchboard/pkg/dispatch"
)

const (
	// APIKeyHeader carries a static gateway key.
	APIKeyHeader = "X-Api-Key"

	// RequestIDHeader echoes the interaction id on every /v1/messages response.
	RequestIDHeader = "Request-Id"

	bearerPrefix = "Bearer "
)

// streamHeaders are set on every SSE response. X-Accel-Buffering stops
// reverse proxies such as nginx from holding events back.
var streamHeaders = map[string]string{
	fiber.HeaderContentType:  "text/event-stream",
	fiber.HeaderCacheControl: "no-cache",
	fiber.HeaderConnection:   "keep-alive",
	"X-Accel-Buffering":      "no",
}

// Handler authenticates inbound requests against the configured gateway keys.
type Handler struct {
	keys [][]byte
}

// NewHandler creates a Handler. With no keys every request is accepted.
func NewHandler(apiKeys []string) *Handler {
	h := &Handler{}
	for _, k := range apiKeys {
		if k = strings.TrimSpace(k); k != "" {
			h.keys = append(h.keys, []byte(k))
		}
	}
	return h
}

// Caller extracts the credential the client presented.
func (h *Handler) Caller(c *fiber.Ctx) dispatch.Caller {
	caller := dispatch.Caller{APIKey: strings.TrimSpace(c.Get(APIKeyHeader))}

	auth := c.Get(fiber.HeaderAuthorization)
	if len(auth) > len(bearerPrefix) && strings.EqualFold(auth[:len(bearerPrefix)], bearerPrefix) {
		caller.Bearer = strings.TrimSpace(auth[len(bearerPrefix):])
	}

	return caller
}

// Authorized reports whether caller may use the gateway.
func (h *Handler) Authorized(caller dispatch.Caller) bool {
	if len(h.keys) == 0 {
		return true
	}

	for _, presented := range []string{caller.APIKey, caller.Bearer} {
		if presented == "" {
			continue
		}
		for _, k := range h.keys {
			if subtle.ConstantTimeCompare([]byte(presented), k) == 1 {
				return true
			}
		}
	}
	return false
}

// SetStreamHeaders prepares c for an SSE response.
func (h *Handler) SetStreamHeaders(c *fiber.Ctx) {
	for k, v := range streamHeaders {
		c.Set(k, v)
	}
}
