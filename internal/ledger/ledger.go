// Package ledger owns every change to an account's credit balance. Each
// change is a guarded UPDATE of the balance plus an append-only entry,
// written in the caller's transaction.
package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/sudo-init-do/homebid/internal/store"
)

var (
	ErrInsufficientFunds = errors.New("insufficient credits")
	ErrAccountNotFound   = errors.New("account not found")
	ErrZeroDelta         = errors.New("ledger adjustment must be non-zero")
	ErrLedgerMismatch    = errors.New("ledger entries do not match balance")
)

const (
	ReasonSignupGrant   = "signup_grant"
	ReasonTopup         = "topup"
	ReasonShowingEscrow = "showing_escrow"
	ReasonEscrowRefund  = "escrow_refund"
	ReasonShowingPayout = "showing_payout"
	ReasonBountyReward  = "bounty_reward"
)

type Entry struct {
	ID           string    `json:"id"`
	AccountID    string    `json:"account_id"`
	Delta        int64     `json:"delta"`
	Reason       string    `json:"reason"`
	Reference    string    `json:"reference,omitempty"`
	BalanceAfter int64     `json:"balance_after"`
	CreatedAt    time.Time `json:"created_at"`
}

type Adjustment struct {
	AccountID string
	Delta     int64
	Reason    string
	Reference string
	At        time.Time
}

// Adjust applies adj to the account's balance and records the entry, both
// through q. A debit that would take the balance below zero fails with
// ErrInsufficientFunds and changes nothing. Returns the new balance.
func Adjust(ctx context.Context, q store.Querier, adj Adjustment) (int64, error) {
	if adj.Delta == 0 {
		return 0, ErrZeroDelta
	}

	var balance int64
	err := q.QueryRow(ctx,
		`UPDATE accounts SET credit_balance = credit_balance + ?
		 WHERE id = ? AND credit_balance + ? >= 0
		 RETURNING credit_balance`,
		adj.Delta, adj.AccountID, adj.Delta,
	).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, guardFailure(ctx, q, adj)
	}
	if err != nil {
		return 0, fmt.Errorf("adjusting balance: %w", err)
	}

	_, err = q.Exec(ctx,
		`INSERT INTO ledger_entries (id, account_id, delta, reason, reference, balance_after, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		uuid.Must(uuid.NewV7()).String(), adj.AccountID, adj.Delta, adj.Reason, adj.Reference, balance, adj.At.UTC(),
	)
	if err != nil {
		return 0, fmt.Errorf("inserting ledger entry: %w", err)
	}
	return balance, nil
}

// guardFailure explains why the conditional update matched no row.
func guardFailure(ctx context.Context, q store.Querier, adj Adjustment) error {
	var balance int64
	err := q.QueryRow(ctx, `SELECT credit_balance FROM accounts WHERE id = ?`, adj.AccountID).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrAccountNotFound
	}
	if err != nil {
		return fmt.Errorf("reading balance: %w", err)
	}
	return fmt.Errorf("%w: balance %d, need %d", ErrInsufficientFunds, balance, -adj.Delta)
}

// Ledger serves reads and standalone adjustments.
type Ledger struct {
	db  *store.DB
	now func() time.Time
}

func New(db *store.DB) *Ledger {
	return &Ledger{db: db, now: time.Now}
}

func (l *Ledger) SetClock(now func() time.Time) { l.now = now }

// Credit adds amount in its own transaction.
func (l *Ledger) Credit(ctx context.Context, accountID string, amount int64, reason, reference string) (int64, error) {
	if amount <= 0 {
		return 0, fmt.Errorf("credit amount must be positive, got %d", amount)
	}
	return l.adjust(ctx, accountID, amount, reason, reference)
}

// Debit removes amount in its own transaction.
func (l *Ledger) Debit(ctx context.Context, accountID string, amount int64, reason, reference string) (int64, error) {
	if amount <= 0 {
		return 0, fmt.Errorf("debit amount must be positive, got %d", amount)
	}
	return l.adjust(ctx, accountID, -amount, reason, reference)
}

func (l *Ledger) adjust(ctx context.Context, accountID string, delta int64, reason, reference string) (int64, error) {
	var balance int64
	err := l.db.InTx(ctx, func(tx *store.Tx) error {
		var err error
		balance, err = Adjust(ctx, tx, Adjustment{
			AccountID: accountID,
			Delta:     delta,
			Reason:    reason,
			Reference: reference,
			At:        l.now().UTC(),
		})
		return err
	})
	if err != nil {
		return 0, err
	}
	slog.InfoContext(ctx, "ledger adjusted", "account_id", accountID, "delta", delta, "reason", reason, "balance", balance)
	return balance, nil
}

func (l *Ledger) Balance(ctx context.Context, accountID string) (int64, error) {
	var balance int64
	err := l.db.QueryRow(ctx, `SELECT credit_balance FROM accounts WHERE id = ?`, accountID).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrAccountNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("querying balance: %w", err)
	}
	return balance, nil
}

// Entries returns the account's most recent entries, newest first.
func (l *Ledger) Entries(ctx context.Context, accountID string, limit int) ([]Entry, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := l.db.Query(ctx,
		`SELECT id, account_id, delta, reason, reference, balance_after, created_at
		 FROM ledger_entries WHERE account_id = ?
		 ORDER BY created_at DESC, id DESC LIMIT ?`,
		accountID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying entries: %w", err)
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.AccountID, &e.Delta, &e.Reason, &e.Reference, &e.BalanceAfter, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Reconcile checks that the account's entries sum to its balance.
func (l *Ledger) Reconcile(ctx context.Context, accountID string) (int64, error) {
	balance, err := l.Balance(ctx, accountID)
	if err != nil {
		return 0, err
	}

	var sum int64
	err = l.db.QueryRow(ctx,
		`SELECT CAST(COALESCE(SUM(delta), 0) AS BIGINT) FROM ledger_entries WHERE account_id = ?`,
		accountID,
	).Scan(&sum)
	if err != nil {
		return 0, fmt.Errorf("summing entries: %w", err)
	}

	if sum != balance {
		slog.ErrorContext(ctx, "ledger mismatch", "account_id", accountID, "balance", balance, "entries_sum", sum)
		return balance, fmt.Errorf("%w: balance %d, entries sum %d", ErrLedgerMismatch, balance, sum)
	}
	return balance, nil
}
