// Package api assembles the HTTP surface of the marketplace.
package api

import (
	"net/http"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"golang.org/x/time/rate"

	"github.com/sudo-init-do/homebid/internal/account"
	"github.com/sudo-init-do/homebid/internal/admin"
	"github.com/sudo-init-do/homebid/internal/alerts"
	"github.com/sudo-init-do/homebid/internal/auth"
	"github.com/sudo-init-do/homebid/internal/bounty"
	"github.com/sudo-init-do/homebid/internal/logging"
	"github.com/sudo-init-do/homebid/internal/messaging"
	mw "github.com/sudo-init-do/homebid/internal/middleware"
	"github.com/sudo-init-do/homebid/internal/showing"
	"github.com/sudo-init-do/homebid/internal/store"
	"github.com/sudo-init-do/homebid/internal/wallet"
)

// Deps are the services the router exposes.
type Deps struct {
	DB       *store.DB
	JWT      []byte
	Accounts *account.Service
	Auth     *auth.Handler
	Wallet   *wallet.Handler
	Admin    *admin.Handler
	Bounties *bounty.Service
	Showings *showing.Service
	Chat     *messaging.Log
	Hubs     *messaging.Hubs
	Inbox    *alerts.Inbox

	// AuthRateLimit is requests per second per IP on /auth; 0 disables it.
	AuthRateLimit float64
}

type handlers struct {
	accounts *account.Service
	bounties *bounty.Service
	showings *showing.Service
	chat     *messaging.Log
	hubs     *messaging.Hubs
	inbox    *alerts.Inbox
}

func NewRouter(d Deps) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(echomw.Recover())
	e.Use(logging.RequestLogger())

	h := &handlers{accounts: d.Accounts, bounties: d.Bounties, showings: d.Showings, chat: d.Chat, hubs: d.Hubs, inbox: d.Inbox}

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, echo.Map{"status": "ok"})
	})
	e.GET("/ready", func(c echo.Context) error {
		if err := d.DB.Ping(c.Request().Context()); err != nil {
			return c.JSON(http.StatusServiceUnavailable, echo.Map{"status": "not_ready", "error": "db unreachable"})
		}
		return c.JSON(http.StatusOK, echo.Map{"status": "ready"})
	})

	// Auth routes with per-IP rate limiting to protect signup/login from abuse
	authGroup := e.Group("/auth")
	if d.AuthRateLimit > 0 {
		authGroup.Use(echomw.RateLimiter(echomw.NewRateLimiterMemoryStore(rate.Limit(d.AuthRateLimit))))
	}
	authGroup.POST("/signup", d.Auth.Signup)
	authGroup.POST("/login", d.Auth.Login)
	authGroup.POST("/bootstrap-admin", d.Auth.BootstrapAdmin)

	buyer := mw.RequireRoles(account.RoleBuyer)
	agent := mw.RequireRoles(account.RoleAgent)

	api := e.Group("")
	api.Use(mw.JWT(d.JWT, d.Accounts))

	api.GET("/auth/me", d.Auth.Me)
	api.PATCH("/auth/me", h.updateProfile)
	api.GET("/accounts/:id/profile", h.getProfile)

	api.GET("/wallet/balance", d.Wallet.Balance)
	api.GET("/wallet/transactions", d.Wallet.Transactions)
	api.POST("/wallet/topup", d.Wallet.Topup)

	api.POST("/bounties", h.openBounty, buyer)
	api.GET("/bounties", h.listBounties)
	api.GET("/bounties/:id", h.getBounty)
	api.POST("/bounties/:id/claim", h.claimBounty, agent)
	api.POST("/bounties/:id/deliver", h.deliverBounty, agent)
	api.GET("/bounties/:id/report", h.bountyReport)

	api.POST("/showings", h.openShowing, buyer)
	api.GET("/showings", h.listShowings)
	api.GET("/showings/:id", h.getShowing)
	api.POST("/showings/:id/bids", h.placeBid, agent)
	api.GET("/showings/:id/bids", h.listBids)
	api.POST("/showings/:id/confirm", h.confirmShowing, mw.RequireRoles(account.RoleBuyer, account.RoleAgent))
	api.POST("/showings/:id/messages", h.postMessage)
	api.GET("/showings/:id/messages", h.listMessages)
	api.GET("/showings/:id/ws", h.chatSocket)

	api.GET("/notifications", h.listNotifications)
	api.POST("/notifications/:id/read", h.markNotificationRead)

	adm := e.Group("/admin")
	adm.Use(mw.JWT(d.JWT, d.Accounts))
	adm.Use(mw.AdminGuard)

	adm.GET("/accounts", d.Admin.ListAccounts)
	adm.POST("/accounts/:id/disable", d.Admin.DisableAccount)
	adm.POST("/accounts/:id/activate", d.Admin.ActivateAccount)
	adm.POST("/accounts/:id/topup", d.Admin.Topup)
	adm.GET("/accounts/:id/reconcile", d.Admin.Reconcile)
	adm.POST("/showings/:id/complete", d.Admin.CompleteShowing)
	adm.POST("/sweep", d.Admin.Sweep)
	adm.GET("/stats", d.Admin.Stats)

	return e
}
