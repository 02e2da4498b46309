package api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/sudo-init-do/homebid/internal/httperr"
	"github.com/sudo-init-do/homebid/internal/middleware"
)

// GET /notifications
func (h *handlers) listNotifications(c echo.Context) error {
	items, err := h.inbox.List(c.Request().Context(), middleware.UserID(c), queryLimit(c))
	if err != nil {
		return httperr.Write(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"notifications": items})
}

// POST /notifications/:id/read
func (h *handlers) markNotificationRead(c echo.Context) error {
	if err := h.inbox.MarkRead(c.Request().Context(), middleware.UserID(c), c.Param("id")); err != nil {
		return httperr.Write(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"id": c.Param("id"), "read": true})
}
