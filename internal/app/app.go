// Package app wires configuration, storage and services into a running
// marketplace. The server and the admin CLI share it.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/sudo-init-do/homebid/internal/account"
	"github.com/sudo-init-do/homebid/internal/admin"
	"github.com/sudo-init-do/homebid/internal/alerts"
	"github.com/sudo-init-do/homebid/internal/api"
	"github.com/sudo-init-do/homebid/internal/archive"
	"github.com/sudo-init-do/homebid/internal/auth"
	"github.com/sudo-init-do/homebid/internal/bounty"
	"github.com/sudo-init-do/homebid/internal/config"
	"github.com/sudo-init-do/homebid/internal/ledger"
	"github.com/sudo-init-do/homebid/internal/messaging"
	"github.com/sudo-init-do/homebid/internal/scorer"
	"github.com/sudo-init-do/homebid/internal/showing"
	"github.com/sudo-init-do/homebid/internal/store"
	"github.com/sudo-init-do/homebid/internal/sweeper"
	"github.com/sudo-init-do/homebid/internal/wallet"
)

const (
	scorerTimeout = 60 * time.Second
	authRateLimit = 20
)

type App struct {
	Config   *config.Config
	DB       *store.DB
	Accounts *account.Service
	Ledger   *ledger.Ledger
	Bounties *bounty.Service
	Showings *showing.Service
	Inbox    *alerts.Inbox
	Chat     *messaging.Log
	Hubs     *messaging.Hubs
	Sweeper  *sweeper.Sweeper

	dispatcher *alerts.Dispatcher
	worker     *alerts.Worker
}

// New builds every service over d. Notifications go through Redis when
// REDIS_ADDR is set and straight into the inbox otherwise.
func New(ctx context.Context, cfg *config.Config, d *store.DB) (*App, error) {
	a := &App{Config: cfg, DB: d}
	rules := cfg.Rules

	a.Inbox = alerts.NewInbox(d)
	if m := alerts.PlunkFromEnv(); m != nil {
		a.Inbox.SetMailer(m)
	}
	var notifier alerts.Notifier = a.Inbox
	if cfg.RedisAddr != "" {
		a.dispatcher = alerts.NewDispatcher(cfg.RedisAddr)
		a.worker = alerts.NewWorker(cfg.RedisAddr, a.Inbox)
		notifier = a.dispatcher
	}

	var sc scorer.Scorer = scorer.Disabled{}
	if cfg.ScorerURL != "" {
		sc = scorer.NewHTTPClient(cfg.ScorerURL, scorerTimeout)
	}

	a.Accounts = account.NewService(d, rules.SignupGrant)
	a.Ledger = ledger.New(d)
	a.Bounties = bounty.NewService(d, bounty.Options{
		ClaimTTL: rules.ClaimTTL,
		OpenTTL:  rules.BountyOpenTTL,
		Reward:   rules.BountyReward,
	}, sc, notifier)
	if cfg.S3.Enabled() {
		arc, err := archive.NewS3Archive(ctx, cfg.S3)
		if err != nil {
			return nil, fmt.Errorf("configuring document archive: %w", err)
		}
		a.Bounties.SetArchive(arc)
	}
	a.Showings = showing.NewService(d, showing.Options{
		MinBid:              rules.MinBid,
		InstantWinThreshold: rules.InstantWinThreshold,
		Escrow:              rules.ShowingEscrow,
		Window:              rules.AuctionWindow,
	}, notifier)
	a.Hubs = messaging.NewHubs()
	a.Chat = messaging.NewLog(d, a.Showings, notifier, a.Hubs)
	a.Sweeper = sweeper.New(a.Bounties, a.Showings, rules.SweepInterval)

	slog.Info("services ready",
		"db", d.Dialect().String(), "redis", cfg.RedisAddr != "", "scorer", cfg.ScorerURL != "", "archive", cfg.S3.Enabled())
	return a, nil
}

// Router returns the HTTP handler for the API.
func (a *App) Router() *echo.Echo {
	return api.NewRouter(api.Deps{
		DB:            a.DB,
		JWT:           []byte(a.Config.JWTSecret),
		Accounts:      a.Accounts,
		Auth:          auth.NewHandler(a.Accounts, a.Config.JWTSecret, a.Config.AdminBootstrapSecret),
		Wallet:        wallet.NewHandler(a.Ledger),
		Admin:         admin.NewHandler(a.DB, a.Accounts, a.Ledger, a.Showings, a.Sweeper),
		Bounties:      a.Bounties,
		Showings:      a.Showings,
		Chat:          a.Chat,
		Hubs:          a.Hubs,
		Inbox:         a.Inbox,
		AuthRateLimit: authRateLimit,
	})
}

// StartBackground starts the notification worker (if any) and the sweeper.
func (a *App) StartBackground(ctx context.Context) error {
	if a.worker != nil {
		if err := a.worker.Start(); err != nil {
			return fmt.Errorf("starting notification worker: %w", err)
		}
	}
	return a.Sweeper.Start(ctx)
}

// Close stops background work and releases connections.
func (a *App) Close() {
	a.Sweeper.Stop()
	if a.worker != nil {
		a.worker.Shutdown()
	}
	if a.dispatcher != nil {
		if err := a.dispatcher.Close(); err != nil {
			slog.Warn("closing notification dispatcher", "error", err)
		}
	}
	if err := a.DB.Close(); err != nil {
		slog.Warn("closing database", "error", err)
	}
}
