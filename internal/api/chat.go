package api

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/user/bankdesk/internal/types"
)

// ChatRequest is the body of POST /api/chat.
type ChatRequest struct {
	Message   string `json:"message"`
	SessionID string `json:"session_id,omitempty"`
}

// NewSessionResponse is returned by POST /api/session/new.
type NewSessionResponse struct {
	SessionID      types.SessionID `json:"session_id"`
	Message        string          `json:"message"`
	InitialMessage string          `json:"initial_message"`
}

// Chat runs one conversation turn. A request without session_id starts a
// new session first.
// POST /api/chat
func (h *Handler) Chat(c echo.Context) error {
	ctx := c.Request().Context()

	var req ChatRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	if strings.TrimSpace(req.Message) == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "message is required"})
	}

	id := types.SessionID(req.SessionID)
	if id == "" {
		session, err := h.service.CreateSession(ctx, "")
		if err != nil {
			slog.Error("failed to create session", "error", err)
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to create session"})
		}
		id = session.ID
	}

	if h.turnTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.turnTimeout)
		defer cancel()
	}

	result, err := h.service.PostMessage(ctx, id, req.Message)
	if err != nil {
		return writeError(c, err, result)
	}
	return c.JSON(http.StatusOK, result)
}

// NewSession starts a conversation and returns its greeting.
// POST /api/session/new
func (h *Handler) NewSession(c echo.Context) error {
	ctx := c.Request().Context()

	session, err := h.service.CreateSession(ctx, "")
	if err != nil {
		slog.Error("failed to create session", "error", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to create session"})
	}

	var greeting string
	if first, ok := firstTurn(session); ok {
		greeting = first.Text
	}
	return c.JSON(http.StatusOK, NewSessionResponse{
		SessionID:      session.ID,
		Message:        "New session created",
		InitialMessage: greeting,
	})
}

func firstTurn(session *types.Session) (types.Turn, bool) {
	if len(session.History) == 0 {
		return types.Turn{}, false
	}
	return session.History[0], true
}
