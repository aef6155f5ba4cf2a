package api

import (
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/user/bankdesk/internal/types"
)

// ListSessionsResponse is returned by GET /api/sessions.
type ListSessionsResponse struct {
	ActiveSessions int               `json:"active_sessions"`
	SessionIDs     []types.SessionID `json:"session_ids"`
	Sessions       []types.Summary   `json:"sessions"`
}

// SessionInfo returns the category, collected details and stage of a
// session.
// GET /api/session/:session_id/info
func (h *Handler) SessionInfo(c echo.Context) error {
	ctx := c.Request().Context()
	id := types.SessionID(c.Param("session_id"))

	info, err := h.service.SessionInfo(ctx, id)
	if err != nil {
		return writeError(c, err, nil)
	}
	return c.JSON(http.StatusOK, info)
}

// DeleteSession removes a session.
// DELETE /api/session/:session_id
func (h *Handler) DeleteSession(c echo.Context) error {
	ctx := c.Request().Context()
	id := types.SessionID(c.Param("session_id"))

	if err := h.service.DeleteSession(ctx, id); err != nil {
		return writeError(c, err, nil)
	}
	return c.JSON(http.StatusOK, map[string]string{"message": "Session deleted"})
}

// ListSessions lists every active session, most recently active first.
// GET /api/sessions
func (h *Handler) ListSessions(c echo.Context) error {
	ctx := c.Request().Context()

	sessions, err := h.service.ListSessions(ctx)
	if err != nil {
		slog.Error("failed to list sessions", "error", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to list sessions"})
	}

	ids := make([]types.SessionID, len(sessions))
	for i, s := range sessions {
		ids[i] = s.SessionID
	}
	return c.JSON(http.StatusOK, ListSessionsResponse{
		ActiveSessions: len(sessions),
		SessionIDs:     ids,
		Sessions:       sessions,
	})
}
