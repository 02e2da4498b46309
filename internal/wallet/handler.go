// Package wallet serves an account's credit balance and history.
package wallet

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/sudo-init-do/homebid/internal/httperr"
	"github.com/sudo-init-do/homebid/internal/ledger"
	"github.com/sudo-init-do/homebid/internal/middleware"
)

// MaxTopup caps a single self-service top-up.
const MaxTopup = 10_000

type Handler struct {
	ledger *ledger.Ledger
}

func NewHandler(l *ledger.Ledger) *Handler {
	return &Handler{ledger: l}
}

// Balance returns the authenticated account's credit balance
func (h *Handler) Balance(c echo.Context) error {
	userID := middleware.UserID(c)
	balance, err := h.ledger.Balance(c.Request().Context(), userID)
	if err != nil {
		return httperr.Write(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{
		"account_id": userID,
		"balance":    balance,
	})
}

// Transactions returns ledger entries newest first. ?limit= defaults to 50.
func (h *Handler) Transactions(c echo.Context) error {
	limit := 50
	if s := c.QueryParam("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			return httperr.BadRequest(c, "invalid limit")
		}
		limit = n
	}
	entries, err := h.ledger.Entries(c.Request().Context(), middleware.UserID(c), limit)
	if err != nil {
		return httperr.Write(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"transactions": entries})
}

type TopupRequest struct {
	Amount int64 `json:"amount"`
}

// Topup credits the caller's account. Payment capture is out of scope, so
// the credit is applied as if the charge succeeded.
func (h *Handler) Topup(c echo.Context) error {
	req := new(TopupRequest)
	if err := c.Bind(req); err != nil || req.Amount <= 0 || req.Amount > MaxTopup {
		return httperr.BadRequest(c, "amount must be between 1 and "+strconv.Itoa(MaxTopup))
	}
	balance, err := h.ledger.Credit(c.Request().Context(), middleware.UserID(c), req.Amount, ledger.ReasonTopup, "")
	if err != nil {
		return httperr.Write(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"balance": balance})
}
