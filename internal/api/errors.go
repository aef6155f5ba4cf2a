package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/user/bankdesk/internal/gateway"
	"github.com/user/bankdesk/internal/prompt"
	"github.com/user/bankdesk/internal/types"
	"github.com/user/bankdesk/pkg/llm"
)

// statusFor maps a service error onto an HTTP status and a public message.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, types.ErrSessionNotFound):
		return http.StatusNotFound, "Session not found"
	case errors.Is(err, gateway.ErrEmptyMessage):
		return http.StatusBadRequest, "message is required"
	case errors.Is(err, gateway.ErrBusy):
		return http.StatusTooManyRequests, "too many pending messages for this session"
	case errors.Is(err, llm.ErrUpstreamUnavailable):
		return http.StatusServiceUnavailable, "assistant temporarily unavailable"
	case errors.Is(err, llm.ErrUpstreamRejected):
		return http.StatusBadGateway, "assistant could not produce a reply"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "assistant took too long to reply"
	case errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable, "request cancelled"
	default:
		return http.StatusInternalServerError, "internal error"
	}
}

// writeError renders err as JSON. Failed turns also carry the apology
// reply so clients can show something to the customer.
func writeError(c echo.Context, err error, result *types.TurnResult) error {
	status, message := statusFor(err)
	if status >= http.StatusInternalServerError {
		slog.Error("request failed",
			"method", c.Request().Method,
			"path", c.Path(),
			"status", status,
			"error", err,
		)
	}

	body := map[string]any{"error": message}
	switch {
	case result != nil:
		body["session_id"] = result.SessionID
		body["response"] = result.Response
	case status >= http.StatusBadGateway:
		body["response"] = prompt.Apology
	}
	return c.JSON(status, body)
}
