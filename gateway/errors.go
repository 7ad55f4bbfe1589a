package gateway

import (
	"errors"
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/papercomputeco/switchboard/pkg/credentials"
	"github.com/papercomputeco/switchboard/pkg/dispatch"
	"github.com/papercomputeco/switchboard/pkg/llm"
	"github.com/papercomputeco/switchboard/pkg/oauth"
	"github.com/papercomputeco/switchboard/pkg/storage"
)

// errorStatus maps an error to its HTTP status and canonical error type.
func errorStatus(err error) (int, string) {
	var (
		fe *fiber.Error
		ce *oauth.ConfigurationError
	)

	switch {
	case errors.As(err, &fe):
		switch fe.Code {
		case fiber.StatusNotFound:
			return fe.Code, llm.ErrorTypeNotFound
		case fiber.StatusUnauthorized:
			return fe.Code, llm.ErrorTypeAuthentication
		}
		if fe.Code < http.StatusInternalServerError {
			return fe.Code, llm.ErrorTypeInvalidRequest
		}
		return fe.Code, llm.ErrorTypeAPI

	case errors.Is(err, llm.ErrInvalidRequest):
		return fiber.StatusBadRequest, llm.ErrorTypeInvalidRequest

	case errors.Is(err, llm.ErrUpstreamAuthUnavailable):
		return fiber.StatusServiceUnavailable, llm.ErrorTypeAuthentication

	case errors.Is(err, dispatch.ErrNoProvider):
		return fiber.StatusServiceUnavailable, llm.ErrorTypeAPI

	case errors.Is(err, llm.ErrUpstreamProtocol),
		errors.Is(err, oauth.ErrRefreshFailed),
		errors.Is(err, oauth.ErrExchangeFailed):
		return fiber.StatusBadGateway, llm.ErrorTypeAPI

	case errors.Is(err, oauth.ErrNoValidCredential):
		return fiber.StatusConflict, llm.ErrorTypeAuthentication

	case errors.As(err, &ce):
		return fiber.StatusBadRequest, llm.ErrorTypeInvalidRequest

	case credentials.IsNotFound(err), storage.IsNotFound(err):
		return fiber.StatusNotFound, llm.ErrorTypeNotFound
	}

	return fiber.StatusInternalServerError, llm.ErrorTypeAPI
}

// errorHandler renders every error that reaches fiber, including recovered
// panics and unknown routes, as a canonical error body.
func (g *Gateway) errorHandler(c *fiber.Ctx, err error) error {
	status, errType := errorStatus(err)

	msg := err.Error()
	if status == fiber.StatusInternalServerError {
		g.logger.Error("request failed", zapRequest(c, err)...)
		msg = "internal error"
	}

	return c.Status(status).JSON(llm.NewErrorResponse(errType, msg))
}
