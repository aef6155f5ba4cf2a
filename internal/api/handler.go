// Package api provides the HTTP JSON interface to the banking assistant.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/user/bankdesk/internal/types"
)

// Version is reported by the banner and health endpoints.
const Version = "1.0.0"

// Service is the session-facing API the handlers drive. It is satisfied by
// *gateway.Gateway.
type Service interface {
	CreateSession(ctx context.Context, key types.SessionKey) (*types.Session, error)
	PostMessage(ctx context.Context, id types.SessionID, text string) (*types.TurnResult, error)
	SessionInfo(ctx context.Context, id types.SessionID) (*types.Info, error)
	DeleteSession(ctx context.Context, id types.SessionID) error
	ListSessions(ctx context.Context) ([]types.Summary, error)
}

// Handler handles HTTP requests.
type Handler struct {
	service     Service
	turnTimeout time.Duration
}

// NewHandler creates a new handler. turnTimeout bounds a single chat turn;
// zero means the request context alone decides.
func NewHandler(service Service, turnTimeout time.Duration) *Handler {
	return &Handler{
		service:     service,
		turnTimeout: turnTimeout,
	}
}

// RegisterRoutes registers routes with the echo server.
func (h *Handler) RegisterRoutes(e *echo.Echo) {
	e.GET("/", h.Root)
	e.GET("/health", h.Health)

	e.POST("/api/chat", h.Chat)
	e.POST("/api/session/new", h.NewSession)
	e.GET("/api/session/:session_id/info", h.SessionInfo)
	e.DELETE("/api/session/:session_id", h.DeleteSession)
	e.GET("/api/sessions", h.ListSessions)
}

// Root returns the service banner.
// GET /
func (h *Handler) Root(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"message": "Bank AI Assistant API",
		"version": Version,
		"status":  "running",
	})
}

// Health returns health status.
// GET /health
func (h *Handler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status":  "healthy",
		"version": Version,
	})
}
