package db

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/sudo-init-do/homebid/internal/config"
)

func TestOpenSQLite(t *testing.T) {
	tests := []struct {
		name  string
		setup func(t *testing.T) string
	}{
		{
			name: "creates new database",
			setup: func(t *testing.T) string {
				return filepath.Join(t.TempDir(), "market.db")
			},
		},
		{
			name: "creates nested directories",
			setup: func(t *testing.T) string {
				return filepath.Join(t.TempDir(), "a", "b", "market.db")
			},
		},
		{
			name: "reopens existing database",
			setup: func(t *testing.T) string {
				path := filepath.Join(t.TempDir(), "market.db")
				d, err := OpenSQLite(context.Background(), path)
				if err != nil {
					t.Fatalf("setup: %v", err)
				}
				if err := d.Close(); err != nil {
					t.Fatalf("setup close: %v", err)
				}
				return path
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := OpenSQLite(context.Background(), tt.setup(t))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			defer func() {
				if err := d.Close(); err != nil {
					t.Errorf("close: %v", err)
				}
			}()
			if err := d.Ping(context.Background()); err != nil {
				t.Errorf("ping: %v", err)
			}
		})
	}
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	if _, err := Open(context.Background(), config.DBConfig{Driver: "oracle"}); err == nil {
		t.Error("expected error for unknown driver")
	}
}

func TestSchemaInvariants(t *testing.T) {
	ctx := context.Background()
	d, err := OpenSQLite(ctx, filepath.Join(t.TempDir(), "market.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer d.Close()

	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	exec := func(q string, args ...any) error {
		_, err := d.Exec(ctx, q, args...)
		return err
	}

	if err := exec(`INSERT INTO accounts (id, email, role, created_at) VALUES ('b1', 'b@x', 'buyer', ?)`, now); err != nil {
		t.Fatalf("insert account: %v", err)
	}
	if err := exec(`INSERT INTO accounts (id, email, role, created_at) VALUES ('a1', 'a@x', 'agent', ?)`, now); err != nil {
		t.Fatalf("insert agent: %v", err)
	}

	tests := []struct {
		name    string
		query   string
		args    []any
		wantErr bool
	}{
		{
			name:  "open bounty",
			query: `INSERT INTO bounties (id, property_id, requester, status, created_at, updated_at) VALUES ('x1', 'p1', 'b1', 'open', ?, ?)`,
			args:  []any{now, now},
		},
		{
			name:    "second active bounty for property",
			query:   `INSERT INTO bounties (id, property_id, requester, status, created_at, updated_at) VALUES ('x2', 'p1', 'b1', 'open', ?, ?)`,
			args:    []any{now, now},
			wantErr: true,
		},
		{
			name:  "terminal bounty for same property",
			query: `INSERT INTO bounties (id, property_id, requester, status, created_at, updated_at) VALUES ('x3', 'p1', 'b1', 'expired', ?, ?)`,
			args:  []any{now, now},
		},
		{
			name:    "claimed without holder",
			query:   `INSERT INTO bounties (id, property_id, requester, status, claim_expires_at, created_at, updated_at) VALUES ('x4', 'p2', 'b1', 'claimed', ?, ?, ?)`,
			args:    []any{now, now, now},
			wantErr: true,
		},
		{
			name:    "open with holder",
			query:   `INSERT INTO bounties (id, property_id, requester, status, claimed_by, created_at, updated_at) VALUES ('x5', 'p3', 'b1', 'open', 'a1', ?, ?)`,
			args:    []any{now, now},
			wantErr: true,
		},
		{
			name:    "negative balance",
			query:   `UPDATE accounts SET credit_balance = -1 WHERE id = 'b1'`,
			wantErr: true,
		},
		{
			name:    "awarded without winner",
			query:   `INSERT INTO showing_requests (id, property_id, requester, status, credits_escrowed, auction_closes_at, created_at, updated_at) VALUES ('s1', 'p1', 'b1', 'awarded', 50, ?, ?, ?)`,
			args:    []any{now, now, now},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := exec(tt.query, tt.args...)
			if tt.wantErr && err == nil {
				t.Fatal("expected constraint error, got nil")
			}
			if !tt.wantErr && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestTimestampRoundTrip(t *testing.T) {
	ctx := context.Background()
	d, err := OpenSQLite(ctx, filepath.Join(t.TempDir(), "market.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer d.Close()

	want := time.Date(2025, 3, 4, 5, 6, 7, 800, time.UTC)
	if _, err := d.Exec(ctx, `INSERT INTO accounts (id, email, role, created_at) VALUES ('a', 'a@x', 'agent', ?)`, want); err != nil {
		t.Fatalf("insert: %v", err)
	}

	var got time.Time
	if err := d.QueryRow(ctx, `SELECT created_at FROM accounts WHERE id = 'a'`).Scan(&got); err != nil {
		t.Fatalf("scan: %v", err)
	}
	if !got.Equal(want) {
		t.Errorf("created_at = %v, want %v", got, want)
	}
}
