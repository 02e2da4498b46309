// Package auth serves signup, login and the current-account endpoint.
package auth

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"golang.org/x/crypto/bcrypt"

	"github.com/sudo-init-do/homebid/internal/account"
	"github.com/sudo-init-do/homebid/internal/middleware"
)

const (
	TokenTTL       = 72 * time.Hour
	minPasswordLen = 6
)

type Handler struct {
	accounts        *account.Service
	secret          []byte
	bootstrapSecret string
	now             func() time.Time
}

func NewHandler(accounts *account.Service, jwtSecret, bootstrapSecret string) *Handler {
	return &Handler{accounts: accounts, secret: []byte(jwtSecret), bootstrapSecret: bootstrapSecret, now: time.Now}
}

func (h *Handler) SetClock(now func() time.Time) { h.now = now }

type SignupRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
	Role     string `json:"role"`
}

type TokenResponse struct {
	Token   string           `json:"token"`
	Account *account.Account `json:"account,omitempty"`
}

// Signup creates a buyer or agent account. Admins are promoted out of band.
func (h *Handler) Signup(c echo.Context) error {
	req := new(SignupRequest)
	if err := c.Bind(req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request"})
	}
	if len(req.Password) < minPasswordLen {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "password must be at least 6 characters"})
	}

	role := account.Role(strings.ToLower(strings.TrimSpace(req.Role)))
	switch role {
	case "":
		role = account.RoleBuyer
	case account.RoleBuyer, account.RoleAgent:
	default:
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "role must be buyer or agent"})
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "server error"})
	}

	acct, err := h.accounts.Create(c.Request().Context(), account.NewAccount{
		Email:        req.Email,
		Name:         req.Name,
		PasswordHash: string(hashed),
		Role:         role,
	})
	switch {
	case errors.Is(err, account.ErrEmailTaken):
		return c.JSON(http.StatusConflict, echo.Map{"error": err.Error()})
	case errors.Is(err, account.ErrInvalid):
		return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
	case err != nil:
		slog.ErrorContext(c.Request().Context(), "signup failed", "error", err)
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "service unavailable"})
	}

	token, err := middleware.IssueToken(h.secret, acct.ID, acct.Role, TokenTTL, h.now())
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "token generation failed"})
	}
	return c.JSON(http.StatusCreated, TokenResponse{Token: token, Account: acct})
}
