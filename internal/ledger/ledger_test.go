package ledger

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/sudo-init-do/homebid/internal/store"
	"github.com/sudo-init-do/homebid/internal/testutil"
)

func TestAdjust(t *testing.T) {
	tests := []struct {
		name        string
		start       int64
		delta       int64
		wantBalance int64
		wantErr     error
	}{
		{"credit", 10, 5, 15, nil},
		{"debit within balance", 50, -50, 0, nil},
		{"debit beyond balance", 49, -50, 49, ErrInsufficientFunds},
		{"zero delta", 10, 0, 10, ErrZeroDelta},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := testutil.OpenDB(t)
			clock := testutil.NewClock()
			acct := testutil.SeedAccount(t, d, "buyer", tt.start)
			ctx := context.Background()

			err := d.InTx(ctx, func(tx *store.Tx) error {
				_, err := Adjust(ctx, tx, Adjustment{AccountID: acct, Delta: tt.delta, Reason: ReasonTopup, At: clock.Now()})
				return err
			})
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("err = %v, want %v", err, tt.wantErr)
			}
			if got := testutil.Balance(t, d, acct); got != tt.wantBalance {
				t.Errorf("balance = %d, want %d", got, tt.wantBalance)
			}

			l := New(d)
			if _, err := l.Reconcile(ctx, acct); err != nil {
				t.Errorf("reconcile: %v", err)
			}
		})
	}
}

func TestAdjustUnknownAccount(t *testing.T) {
	d := testutil.OpenDB(t)
	ctx := context.Background()
	err := d.InTx(ctx, func(tx *store.Tx) error {
		_, err := Adjust(ctx, tx, Adjustment{AccountID: "missing", Delta: 5, Reason: ReasonTopup})
		return err
	})
	if !errors.Is(err, ErrAccountNotFound) {
		t.Fatalf("err = %v, want ErrAccountNotFound", err)
	}
}

func TestCreditDebitEntries(t *testing.T) {
	d := testutil.OpenDB(t)
	clock := testutil.NewClock()
	l := New(d)
	l.SetClock(clock.Now)
	ctx := context.Background()
	acct := testutil.SeedAccount(t, d, "buyer", 0)

	if _, err := l.Credit(ctx, acct, 100, ReasonTopup, "pay-1"); err != nil {
		t.Fatalf("credit: %v", err)
	}
	clock.Advance(1)
	bal, err := l.Debit(ctx, acct, 30, ReasonShowingEscrow, "sr-1")
	if err != nil {
		t.Fatalf("debit: %v", err)
	}
	if bal != 70 {
		t.Errorf("balance = %d, want 70", bal)
	}

	if _, err := l.Debit(ctx, acct, 71, ReasonShowingEscrow, "sr-2"); !errors.Is(err, ErrInsufficientFunds) {
		t.Errorf("overdraft err = %v, want ErrInsufficientFunds", err)
	}

	entries, err := l.Entries(ctx, acct, 10)
	if err != nil {
		t.Fatalf("entries: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("len(entries) = %d, want 2", len(entries))
	}
	if entries[0].Delta != -30 || entries[0].Reference != "sr-1" || entries[0].BalanceAfter != 70 {
		t.Errorf("newest entry = %+v, want debit of 30 for sr-1", entries[0])
	}
	if entries[1].Delta != 100 || entries[1].Reason != ReasonTopup {
		t.Errorf("oldest entry = %+v, want topup of 100", entries[1])
	}

	if _, err := l.Credit(ctx, acct, 0, ReasonTopup, ""); err == nil {
		t.Error("expected error for zero credit")
	}
}

func TestReconcileDetectsMismatch(t *testing.T) {
	d := testutil.OpenDB(t)
	ctx := context.Background()
	acct := testutil.SeedAccount(t, d, "buyer", 40)

	// bypass the ledger
	if _, err := d.Exec(ctx, `UPDATE accounts SET credit_balance = 45 WHERE id = ?`, acct); err != nil {
		t.Fatalf("tamper: %v", err)
	}

	_, err := New(d).Reconcile(ctx, acct)
	if !errors.Is(err, ErrLedgerMismatch) {
		t.Fatalf("err = %v, want ErrLedgerMismatch", err)
	}
}

func TestConcurrentDebitsNeverOverdraw(t *testing.T) {
	d := testutil.OpenDB(t)
	l := New(d)
	ctx := context.Background()
	acct := testutil.SeedAccount(t, d, "buyer", 100)

	const workers = 8
	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := l.Debit(ctx, acct, 30, ReasonShowingEscrow, "")
			if err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
				return
			}
			if !errors.Is(err, ErrInsufficientFunds) {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if succeeded != 3 {
		t.Errorf("succeeded = %d, want 3", succeeded)
	}
	if got := testutil.Balance(t, d, acct); got != 10 {
		t.Errorf("balance = %d, want 10", got)
	}
	if _, err := l.Reconcile(ctx, acct); err != nil {
		t.Errorf("reconcile: %v", err)
	}
}
