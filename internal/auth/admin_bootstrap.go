package auth

import (
	"crypto/subtle"
	"errors"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/sudo-init-do/homebid/internal/account"
)

type BootstrapAdminRequest struct {
	Email  string `json:"email"`
	Secret string `json:"secret"`
}

// BootstrapAdmin promotes an existing account to admin when the caller
// knows ADMIN_BOOTSTRAP_SECRET. Disabled when the secret is unset.
func (h *Handler) BootstrapAdmin(c echo.Context) error {
	req := new(BootstrapAdminRequest)
	if err := c.Bind(req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request"})
	}

	if h.bootstrapSecret == "" {
		return c.JSON(http.StatusForbidden, echo.Map{"error": "bootstrap disabled"})
	}
	if subtle.ConstantTimeCompare([]byte(req.Secret), []byte(h.bootstrapSecret)) != 1 {
		return c.JSON(http.StatusForbidden, echo.Map{"error": "invalid secret"})
	}
	if req.Email == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "email required"})
	}

	ctx := c.Request().Context()
	creds, err := h.accounts.Credentials(ctx, req.Email)
	if errors.Is(err, account.ErrNotFound) {
		return c.JSON(http.StatusNotFound, echo.Map{"error": "account not found"})
	}
	if err == nil {
		err = h.accounts.SetRole(ctx, creds.ID, account.RoleAdmin)
	}
	if err != nil {
		slog.ErrorContext(ctx, "admin bootstrap failed", "error", err)
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to promote account"})
	}

	slog.WarnContext(ctx, "account promoted to admin via bootstrap", "account_id", creds.ID)
	return c.JSON(http.StatusOK, echo.Map{"message": "account promoted to admin", "email": req.Email})
}
