package api

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/sudo-init-do/homebid/internal/httperr"
	"github.com/sudo-init-do/homebid/internal/middleware"
)

type postMessageRequest struct {
	Body string `json:"body"`
}

// POST /showings/:id/messages
func (h *handlers) postMessage(c echo.Context) error {
	req := new(postMessageRequest)
	if err := c.Bind(req); err != nil {
		return httperr.BadRequest(c, "invalid payload")
	}
	m, err := h.chat.PostMessage(c.Request().Context(), c.Param("id"), middleware.UserID(c), req.Body)
	if err != nil {
		return httperr.Write(c, err)
	}
	return c.JSON(http.StatusCreated, m)
}

// GET /showings/:id/messages?since=RFC3339
func (h *handlers) listMessages(c echo.Context) error {
	var since time.Time
	if s := c.QueryParam("since"); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return httperr.BadRequest(c, "invalid since timestamp, use RFC3339")
		}
		since = t
	}
	msgs, err := h.chat.ListMessages(c.Request().Context(), c.Param("id"), middleware.UserID(c), since)
	if err != nil {
		return httperr.Write(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"messages": msgs})
}

// GET /showings/:id/ws streams chat events to a participant.
func (h *handlers) chatSocket(c echo.Context) error {
	id, caller := c.Param("id"), middleware.UserID(c)
	if _, err := h.chat.Authorize(c.Request().Context(), id, caller); err != nil {
		return httperr.Write(c, err)
	}
	return h.hubs.Serve(c.Response(), c.Request(), id, caller)
}
