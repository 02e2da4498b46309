package db

import (
	"context"
	"fmt"
	"strings"

	"github.com/sudo-init-do/homebid/internal/store"
)

// migrations is an ordered list of idempotent statements. They are written
// for Postgres; sqliteTypes adapts column types for SQLite, whose driver
// only parses time values from columns declared TIMESTAMP.
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS accounts (
		id             TEXT        PRIMARY KEY,
		email          TEXT        NOT NULL UNIQUE,
		name           TEXT        NOT NULL DEFAULT '',
		password_hash  TEXT        NOT NULL DEFAULT '',
		role           TEXT        NOT NULL CHECK (role IN ('buyer', 'agent', 'admin')),
		credit_balance BIGINT      NOT NULL DEFAULT 0 CHECK (credit_balance >= 0),
		is_active      BOOLEAN     NOT NULL DEFAULT TRUE,
		created_at     TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS ledger_entries (
		id            TEXT        PRIMARY KEY,
		account_id    TEXT        NOT NULL REFERENCES accounts(id),
		delta         BIGINT      NOT NULL CHECK (delta <> 0),
		reason        TEXT        NOT NULL,
		reference     TEXT        NOT NULL DEFAULT '',
		balance_after BIGINT      NOT NULL CHECK (balance_after >= 0),
		created_at    TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_ledger_entries_account ON ledger_entries(account_id, created_at)`,
	`CREATE TABLE IF NOT EXISTS bounties (
		id               TEXT        PRIMARY KEY,
		property_id      TEXT        NOT NULL,
		requester        TEXT        NOT NULL REFERENCES accounts(id),
		status           TEXT        NOT NULL CHECK (status IN ('open', 'claimed', 'completed', 'expired')),
		claimed_by       TEXT        REFERENCES accounts(id),
		claim_expires_at TIMESTAMPTZ,
		completed_by     TEXT        REFERENCES accounts(id),
		open_expires_at  TIMESTAMPTZ,
		created_at       TIMESTAMPTZ NOT NULL,
		updated_at       TIMESTAMPTZ NOT NULL,
		CHECK ((status = 'claimed') = (claimed_by IS NOT NULL)),
		CHECK ((status = 'claimed') = (claim_expires_at IS NOT NULL))
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_bounties_property_active
		ON bounties(property_id) WHERE status IN ('open', 'claimed')`,
	`CREATE INDEX IF NOT EXISTS idx_bounties_status ON bounties(status, claim_expires_at)`,
	`CREATE TABLE IF NOT EXISTS reports (
		id         TEXT        PRIMARY KEY,
		bounty_id  TEXT        NOT NULL UNIQUE REFERENCES bounties(id),
		agent_id   TEXT        NOT NULL REFERENCES accounts(id),
		summary    TEXT        NOT NULL DEFAULT '',
		risk_score INTEGER     NOT NULL DEFAULT 0,
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS report_findings (
		id             TEXT    PRIMARY KEY,
		report_id      TEXT    NOT NULL REFERENCES reports(id) ON DELETE CASCADE,
		position       INTEGER NOT NULL,
		category       TEXT    NOT NULL,
		risk_level     TEXT    NOT NULL,
		estimated_cost BIGINT  NOT NULL DEFAULT 0,
		source_page    INTEGER NOT NULL DEFAULT 0
	)`,
	`CREATE INDEX IF NOT EXISTS idx_report_findings_report ON report_findings(report_id, position)`,
	`CREATE TABLE IF NOT EXISTS showing_requests (
		id                 TEXT        PRIMARY KEY,
		property_id        TEXT        NOT NULL,
		requester          TEXT        NOT NULL REFERENCES accounts(id),
		status             TEXT        NOT NULL CHECK (status IN ('bidding', 'awarded', 'confirmed', 'completed', 'cancelled')),
		credits_escrowed   BIGINT      NOT NULL CHECK (credits_escrowed >= 0),
		preferred_times    TEXT        NOT NULL DEFAULT '',
		auction_closes_at  TIMESTAMPTZ NOT NULL,
		current_high_bid   BIGINT,
		winning_agent      TEXT        REFERENCES accounts(id),
		winning_bid_amount BIGINT,
		agent_confirmed_at TIMESTAMPTZ,
		buyer_confirmed_at TIMESTAMPTZ,
		version            BIGINT      NOT NULL DEFAULT 0,
		created_at         TIMESTAMPTZ NOT NULL,
		updated_at         TIMESTAMPTZ NOT NULL,
		CHECK ((status IN ('awarded', 'confirmed', 'completed')) = (winning_agent IS NOT NULL))
	)`,
	`CREATE INDEX IF NOT EXISTS idx_showing_requests_status ON showing_requests(status, auction_closes_at)`,
	`CREATE TABLE IF NOT EXISTS bids (
		id                 TEXT        PRIMARY KEY,
		showing_request_id TEXT        NOT NULL REFERENCES showing_requests(id),
		bidding_agent      TEXT        NOT NULL REFERENCES accounts(id),
		bid_amount         BIGINT      NOT NULL CHECK (bid_amount > 0),
		selected_time_slot TEXT        NOT NULL DEFAULT '',
		status             TEXT        NOT NULL CHECK (status IN ('active', 'superseded', 'winning', 'lost')),
		created_at         TIMESTAMPTZ NOT NULL
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_bids_one_winner
		ON bids(showing_request_id) WHERE status = 'winning'`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_bids_one_active_per_agent
		ON bids(showing_request_id, bidding_agent) WHERE status = 'active'`,
	`CREATE INDEX IF NOT EXISTS idx_bids_request_status ON bids(showing_request_id, status)`,
	`CREATE TABLE IF NOT EXISTS messages (
		id                 TEXT        PRIMARY KEY,
		showing_request_id TEXT        NOT NULL REFERENCES showing_requests(id),
		sender             TEXT        NOT NULL REFERENCES accounts(id),
		body               TEXT        NOT NULL,
		created_at         TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_messages_request ON messages(showing_request_id, created_at)`,
	`CREATE TABLE IF NOT EXISTS notifications (
		id         TEXT        PRIMARY KEY,
		account_id TEXT        NOT NULL REFERENCES accounts(id),
		message    TEXT        NOT NULL,
		url        TEXT        NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL,
		read_at    TIMESTAMPTZ
	)`,
	`CREATE INDEX IF NOT EXISTS idx_notifications_account ON notifications(account_id, created_at)`,
}

var sqliteTypes = strings.NewReplacer("TIMESTAMPTZ", "TIMESTAMP")

// migrate runs all migrations in order.
func migrate(ctx context.Context, d *store.DB) error {
	for i, m := range migrations {
		if d.Dialect() == store.SQLite {
			m = sqliteTypes.Replace(m)
		}
		if _, err := d.Exec(ctx, m); err != nil {
			return fmt.Errorf("migration %d: %w", i, err)
		}
	}
	return nil
}
