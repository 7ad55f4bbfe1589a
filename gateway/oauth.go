package gateway

import (
	"errors"
	"net/url"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/papercomputeco/switchboard/pkg/credentials"
	"github.com/papercomputeco/switchboard/pkg/llm"
	"github.com/papercomputeco/switchboard/pkg/oauth"
)

const defaultOAuthLanding = "/oauth/complete"

// Callback failure classes carried in the "error" query parameter of the
// failure redirect. Errors reported by the authorization server itself, such
// as access_denied, are passed through unchanged.
const (
	callbackStateMismatch    = "state_mismatch"
	callbackExchangeRejected = "exchange_rejected"
	callbackNetworkError     = "network_error"
	callbackConfiguration    = "configuration_error"
	callbackInvalidRequest   = "invalid_request"
	callbackServerError      = "server_error"
)

// registerOAuthRoutes mounts the OAuth endpoints. The browser legs of the
// flow stay open; token administration requires the gateway api key.
func (g *Gateway) registerOAuthRoutes(app *fiber.App) {
	o := app.Group("/oauth")
	o.Get("/complete", g.handleOAuthComplete)
	o.Get("/callback", g.handleOAuthCallback)
	o.Get("/:provider/authorize", g.handleOAuthAuthorize)
	o.Get("/:provider/callback", g.handleOAuthCallback)
	o.Get("/:provider/status", g.authenticate, g.handleOAuthStatus)
	o.Post("/:provider/revoke", g.authenticate, g.handleOAuthRevoke)
	o.Post("/:provider/refresh", g.authenticate, g.handleOAuthRefresh)
}

func (g *Gateway) handleOAuthAuthorize(c *fiber.Ctx) error {
	authURL, err := g.oauth.Authorize(c.UserContext(), c.Params("provider"))
	if err != nil {
		return err
	}
	return c.Redirect(authURL, fiber.StatusFound)
}

// handleOAuthCallback finishes a flow. Some providers render the code as
// "code#state" on a page for the user to paste, so the state may arrive
// inside the code parameter.
func (g *Gateway) handleOAuthCallback(c *fiber.Ctx) error {
	hint := c.Params("provider")

	if providerErr := c.Query("error"); providerErr != "" {
		g.logger.Warn("oauth provider returned an error",
			zap.String("provider", hint),
			zap.String("error", providerErr),
		)
		return g.oauthFailure(c, hint, providerErr, c.Query("error_description"))
	}

	code, state := oauth.SplitCode(c.Query("code"), c.Query("state"))
	if code == "" {
		return g.oauthFailure(c, hint, callbackInvalidRequest, "missing authorization code")
	}

	providerID, err := g.oauth.Complete(c.UserContext(), code, state, hint)
	if err != nil {
		return g.oauthFailure(c, hint, callbackReason(err), err.Error())
	}

	return c.Redirect(withQuery(g.successRedirect(), url.Values{
		"provider": {providerID},
		"status":   {"connected"},
	}), fiber.StatusFound)
}

func (g *Gateway) oauthFailure(c *fiber.Ctx, providerID, reason, description string) error {
	q := url.Values{"error": {reason}}
	if description != "" {
		q.Set("error_description", description)
	}
	if providerID != "" {
		q.Set("provider", providerID)
	}
	return c.Redirect(withQuery(g.failureRedirect(), q), fiber.StatusFound)
}

// callbackReason classifies a failed code exchange for the failure redirect.
func callbackReason(err error) string {
	var (
		oe *oauth.Error
		ce *oauth.ConfigurationError
	)

	switch {
	case errors.As(err, &ce), credentials.IsNotFound(err):
		return callbackConfiguration
	case errors.As(err, &oe):
		switch oe.Kind {
		case oauth.KindStateMismatch:
			return callbackStateMismatch
		case oauth.KindNetwork:
			return callbackNetworkError
		default:
			return callbackExchangeRejected
		}
	}
	return callbackServerError
}

// handleOAuthComplete is the landing page used when no redirect is
// configured. It echoes the outcome of the flow.
func (g *Gateway) handleOAuthComplete(c *fiber.Ctx) error {
	if reason := c.Query("error"); reason != "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"status":            "failed",
			"provider":          c.Query("provider"),
			"error":             reason,
			"error_description": c.Query("error_description"),
		})
	}

	return c.JSON(fiber.Map{
		"status":   c.Query("status", "connected"),
		"provider": c.Query("provider"),
	})
}

func (g *Gateway) handleOAuthStatus(c *fiber.Ctx) error {
	st, err := g.oauth.Status(c.UserContext(), c.Params("provider"))
	if err != nil {
		return err
	}
	return c.JSON(st)
}

// handleOAuthRevoke deletes the provider's token. The local token is gone
// even when the upstream revocation fails; that case is reported as 502.
func (g *Gateway) handleOAuthRevoke(c *fiber.Ctx) error {
	providerID := c.Params("provider")

	if err := g.oauth.Disconnect(c.UserContext(), providerID); err != nil {
		var ce *oauth.ConfigurationError
		if errors.As(err, &ce) || credentials.IsNotFound(err) {
			return err
		}
		return c.Status(fiber.StatusBadGateway).JSON(llm.NewErrorResponse(llm.ErrorTypeAPI,
			"token removed locally, upstream revocation failed: "+err.Error()))
	}

	return c.JSON(fiber.Map{"provider": providerID, "status": "disconnected"})
}

func (g *Gateway) handleOAuthRefresh(c *fiber.Ctx) error {
	providerID := c.Params("provider")

	if _, err := g.oauth.ForceRefresh(c.UserContext(), providerID); err != nil {
		return err
	}

	st, err := g.oauth.Status(c.UserContext(), providerID)
	if err != nil {
		return err
	}
	return c.JSON(st)
}

func (g *Gateway) successRedirect() string {
	if g.config.SuccessRedirect != "" {
		return g.config.SuccessRedirect
	}
	return defaultOAuthLanding
}

func (g *Gateway) failureRedirect() string {
	if g.config.FailureRedirect != "" {
		return g.config.FailureRedirect
	}
	return defaultOAuthLanding
}

// withQuery merges q into the query string of location.
func withQuery(location string, q url.Values) string {
	u, err := url.Parse(location)
	if err != nil {
		return location + "?" + q.Encode()
	}

	merged := u.Query()
	for k, v := range q {
		merged[k] = v
	}
	u.RawQuery = merged.Encode()
	return u.String()
}
