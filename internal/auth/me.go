package auth

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/sudo-init-do/homebid/internal/middleware"
)

// Me returns the authenticated account, balance included.
func (h *Handler) Me(c echo.Context) error {
	acct, err := h.accounts.Get(c.Request().Context(), middleware.UserID(c))
	if err != nil {
		return c.JSON(http.StatusNotFound, echo.Map{"error": "account not found"})
	}
	return c.JSON(http.StatusOK, acct)
}
