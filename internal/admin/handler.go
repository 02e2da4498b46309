// Package admin serves operator endpoints: account moderation, manual
// credit adjustments, showing completion and on-demand sweeps.
package admin

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/sudo-init-do/homebid/internal/account"
	"github.com/sudo-init-do/homebid/internal/httperr"
	"github.com/sudo-init-do/homebid/internal/ledger"
	"github.com/sudo-init-do/homebid/internal/middleware"
	"github.com/sudo-init-do/homebid/internal/showing"
	"github.com/sudo-init-do/homebid/internal/store"
	"github.com/sudo-init-do/homebid/internal/sweeper"
)

type Handler struct {
	db       *store.DB
	accounts *account.Service
	ledger   *ledger.Ledger
	showings *showing.Service
	sweeper  *sweeper.Sweeper
}

func NewHandler(db *store.DB, accounts *account.Service, l *ledger.Ledger, showings *showing.Service, sw *sweeper.Sweeper) *Handler {
	return &Handler{db: db, accounts: accounts, ledger: l, showings: showings, sweeper: sw}
}

// GET /admin/accounts
func (h *Handler) ListAccounts(c echo.Context) error {
	accounts, err := h.accounts.List(c.Request().Context(), 200)
	if err != nil {
		return httperr.Write(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"accounts": accounts})
}

// POST /admin/accounts/:id/disable
func (h *Handler) DisableAccount(c echo.Context) error {
	id := c.Param("id")
	if id == middleware.UserID(c) {
		return httperr.BadRequest(c, "cannot disable your own account")
	}
	if err := h.accounts.Disable(c.Request().Context(), id); err != nil {
		return httperr.Write(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"message": "account disabled", "account_id": id})
}

// POST /admin/accounts/:id/activate
func (h *Handler) ActivateAccount(c echo.Context) error {
	id := c.Param("id")
	if err := h.accounts.Activate(c.Request().Context(), id); err != nil {
		return httperr.Write(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"message": "account activated", "account_id": id})
}

type TopupRequest struct {
	Amount    int64  `json:"amount"`
	Reference string `json:"reference"`
}

// POST /admin/accounts/:id/topup
func (h *Handler) Topup(c echo.Context) error {
	req := new(TopupRequest)
	if err := c.Bind(req); err != nil || req.Amount <= 0 {
		return httperr.BadRequest(c, "amount must be positive")
	}
	id := c.Param("id")
	ref := req.Reference
	if ref == "" {
		ref = "admin:" + middleware.UserID(c)
	}
	balance, err := h.ledger.Credit(c.Request().Context(), id, req.Amount, ledger.ReasonTopup, ref)
	if err != nil {
		return httperr.Write(c, err)
	}
	slog.InfoContext(c.Request().Context(), "admin topup", "account_id", id, "amount", req.Amount, "admin_id", middleware.UserID(c))
	return c.JSON(http.StatusOK, echo.Map{"account_id": id, "balance": balance})
}

// GET /admin/accounts/:id/reconcile
func (h *Handler) Reconcile(c echo.Context) error {
	balance, err := h.ledger.Reconcile(c.Request().Context(), c.Param("id"))
	if err != nil {
		return httperr.Write(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"account_id": c.Param("id"), "balance": balance, "consistent": true})
}

// POST /admin/showings/:id/complete
func (h *Handler) CompleteShowing(c echo.Context) error {
	sr, err := h.showings.Complete(c.Request().Context(), c.Param("id"))
	if err != nil {
		return httperr.Write(c, err)
	}
	return c.JSON(http.StatusOK, sr)
}

// POST /admin/sweep
func (h *Handler) Sweep(c echo.Context) error {
	res, err := h.sweeper.RunOnce(c.Request().Context())
	if err != nil {
		return httperr.Write(c, err)
	}
	return c.JSON(http.StatusOK, res)
}

// GET /admin/stats
func (h *Handler) Stats(c echo.Context) error {
	ctx := c.Request().Context()

	var accounts, credits int64
	if err := h.db.QueryRow(ctx,
		`SELECT COUNT(*), CAST(COALESCE(SUM(credit_balance), 0) AS BIGINT) FROM accounts`,
	).Scan(&accounts, &credits); err != nil {
		return httperr.Write(c, err)
	}
	bounties, err := countByStatus(ctx, h.db, "bounties")
	if err != nil {
		return httperr.Write(c, err)
	}
	showings, err := countByStatus(ctx, h.db, "showing_requests")
	if err != nil {
		return httperr.Write(c, err)
	}

	return c.JSON(http.StatusOK, echo.Map{
		"accounts":           accounts,
		"credits_in_wallets": credits,
		"bounties":           bounties,
		"showing_requests":   showings,
	})
}

func countByStatus(ctx context.Context, db *store.DB, table string) (map[string]int64, error) {
	rows, err := db.Query(ctx, `SELECT status, COUNT(*) FROM `+table+` GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[string]int64{}
	for rows.Next() {
		var status string
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		out[status] = n
	}
	return out, rows.Err()
}
