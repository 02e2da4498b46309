// Package testutil holds helpers shared by package tests: a migrated
// SQLite database in a temp dir, a controllable clock and account seeding.
package testutil

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/sudo-init-do/homebid/internal/db"
	"github.com/sudo-init-do/homebid/internal/store"
)

// OpenDB returns a freshly migrated SQLite database that is closed when
// the test ends.
func OpenDB(t *testing.T) *store.DB {
	t.Helper()
	d, err := db.OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "market.db"))
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { d.Close() })
	return d
}

// Clock is a manually advanced time source.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

func NewClock() *Clock {
	return &Clock{now: time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// SeedAccount inserts an account holding balance credits, recorded as a
// single ledger entry so reconciliation holds.
func SeedAccount(t *testing.T, d *store.DB, role string, balance int64) string {
	t.Helper()
	ctx := context.Background()
	id := uuid.NewString()
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	_, err := d.Exec(ctx,
		`INSERT INTO accounts (id, email, name, role, credit_balance, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		id, id+"@example.com", role+" "+id[:8], role, balance, now,
	)
	if err != nil {
		t.Fatalf("seed account: %v", err)
	}
	if balance > 0 {
		_, err = d.Exec(ctx,
			`INSERT INTO ledger_entries (id, account_id, delta, reason, reference, balance_after, created_at) VALUES (?, ?, ?, 'seed', '', ?, ?)`,
			uuid.NewString(), id, balance, balance, now,
		)
		if err != nil {
			t.Fatalf("seed ledger: %v", err)
		}
	}
	return id
}

// Balance reads an account's stored balance.
func Balance(t *testing.T, d *store.DB, accountID string) int64 {
	t.Helper()
	var bal int64
	if err := d.QueryRow(context.Background(), `SELECT credit_balance FROM accounts WHERE id = ?`, accountID).Scan(&bal); err != nil {
		t.Fatalf("balance: %v", err)
	}
	return bal
}

// Recorder is a Notifier that records every call.
type Recorder struct {
	mu    sync.Mutex
	Notes []Note
}

type Note struct {
	AccountID string
	Message   string
	URL       string
}

func (r *Recorder) Notify(ctx context.Context, accountID, message, url string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Notes = append(r.Notes, Note{AccountID: accountID, Message: message, URL: url})
	return nil
}

// For returns the notes addressed to accountID.
func (r *Recorder) For(accountID string) []Note {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Note
	for _, n := range r.Notes {
		if n.AccountID == accountID {
			out = append(out, n)
		}
	}
	return out
}
