package api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/sudo-init-do/homebid/internal/httperr"
	"github.com/sudo-init-do/homebid/internal/middleware"
)

type updateProfileRequest struct {
	Name string `json:"name"`
}

// PATCH /auth/me
func (h *handlers) updateProfile(c echo.Context) error {
	var req updateProfileRequest
	if err := c.Bind(&req); err != nil {
		return httperr.BadRequest(c, "invalid request")
	}
	acct, err := h.accounts.UpdateName(c.Request().Context(), middleware.UserID(c), req.Name)
	if err != nil {
		return httperr.Write(c, err)
	}
	return c.JSON(http.StatusOK, acct)
}

// GET /accounts/:id/profile
func (h *handlers) getProfile(c echo.Context) error {
	p, err := h.accounts.PublicProfile(c.Request().Context(), c.Param("id"))
	if err != nil {
		return httperr.Write(c, err)
	}
	return c.JSON(http.StatusOK, p)
}
