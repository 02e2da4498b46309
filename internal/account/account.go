package account

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/sudo-init-do/homebid/internal/ledger"
	"github.com/sudo-init-do/homebid/internal/store"
)

type Role string

const (
	RoleBuyer Role = "buyer"
	RoleAgent Role = "agent"
	RoleAdmin Role = "admin"
)

func (r Role) Valid() bool {
	switch r {
	case RoleBuyer, RoleAgent, RoleAdmin:
		return true
	}
	return false
}

var (
	ErrNotFound   = errors.New("account not found")
	ErrEmailTaken = errors.New("email already registered")
	ErrInvalid    = errors.New("invalid account")
)

type Account struct {
	ID            string    `json:"id"`
	Email         string    `json:"email"`
	Name          string    `json:"name"`
	Role          Role      `json:"role"`
	CreditBalance int64     `json:"credit_balance"`
	IsActive      bool      `json:"is_active"`
	CreatedAt     time.Time `json:"created_at"`
}

// Credentials is what login needs; never serialized.
type Credentials struct {
	ID           string
	Role         Role
	PasswordHash string
	IsActive     bool
}

type NewAccount struct {
	Email        string
	Name         string
	PasswordHash string
	Role         Role
}

type Service struct {
	db    *store.DB
	grant int64
	now   func() time.Time
}

// NewService returns an account service. grant credits are given to every
// new account through the ledger.
func NewService(db *store.DB, grant int64) *Service {
	return &Service{db: db, grant: grant, now: time.Now}
}

func (s *Service) SetClock(now func() time.Time) { s.now = now }

func (s *Service) Create(ctx context.Context, in NewAccount) (*Account, error) {
	email := strings.ToLower(strings.TrimSpace(in.Email))
	if email == "" || !strings.Contains(email, "@") {
		return nil, fmt.Errorf("%w: email is required", ErrInvalid)
	}
	if !in.Role.Valid() {
		return nil, fmt.Errorf("%w: unknown role %q", ErrInvalid, in.Role)
	}

	now := s.now().UTC()
	acct := &Account{
		ID:        uuid.NewString(),
		Email:     email,
		Name:      strings.TrimSpace(in.Name),
		Role:      in.Role,
		IsActive:  true,
		CreatedAt: now,
	}

	err := s.db.InTx(ctx, func(tx *store.Tx) error {
		_, err := tx.Exec(ctx,
			`INSERT INTO accounts (id, email, name, password_hash, role, credit_balance, is_active, created_at)
			 VALUES (?, ?, ?, ?, ?, 0, ?, ?)`,
			acct.ID, acct.Email, acct.Name, in.PasswordHash, string(acct.Role), true, now,
		)
		if store.IsUniqueViolation(err) {
			return ErrEmailTaken
		}
		if err != nil {
			return fmt.Errorf("inserting account: %w", err)
		}
		if s.grant > 0 {
			bal, err := ledger.Adjust(ctx, tx, ledger.Adjustment{
				AccountID: acct.ID,
				Delta:     s.grant,
				Reason:    ledger.ReasonSignupGrant,
				At:        now,
			})
			if err != nil {
				return err
			}
			acct.CreditBalance = bal
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	slog.InfoContext(ctx, "account created", "account_id", acct.ID, "role", acct.Role)
	return acct, nil
}

func (s *Service) Get(ctx context.Context, id string) (*Account, error) {
	var a Account
	var role string
	err := s.db.QueryRow(ctx,
		`SELECT id, email, name, role, credit_balance, is_active, created_at FROM accounts WHERE id = ?`, id,
	).Scan(&a.ID, &a.Email, &a.Name, &role, &a.CreditBalance, &a.IsActive, &a.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying account: %w", err)
	}
	a.Role = Role(role)
	return &a, nil
}

func (s *Service) Credentials(ctx context.Context, email string) (*Credentials, error) {
	var c Credentials
	var role string
	err := s.db.QueryRow(ctx,
		`SELECT id, role, password_hash, is_active FROM accounts WHERE email = ?`,
		strings.ToLower(strings.TrimSpace(email)),
	).Scan(&c.ID, &role, &c.PasswordHash, &c.IsActive)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying credentials: %w", err)
	}
	c.Role = Role(role)
	return &c, nil
}

// SetRole changes an account's role; used by the admin CLI.
func (s *Service) SetRole(ctx context.Context, id string, role Role) error {
	if !role.Valid() {
		return fmt.Errorf("%w: unknown role %q", ErrInvalid, role)
	}
	ok, err := store.ExecOne(ctx, s.db, `UPDATE accounts SET role = ? WHERE id = ?`, string(role), id)
	if err != nil {
		return fmt.Errorf("updating role: %w", err)
	}
	if !ok {
		return ErrNotFound
	}
	return nil
}

// Disable soft-deletes an account. Accounts are never removed because
// ledger entries reference them.
func (s *Service) Disable(ctx context.Context, id string) error {
	ok, err := store.ExecOne(ctx, s.db, `UPDATE accounts SET is_active = ? WHERE id = ?`, false, id)
	if err != nil {
		return fmt.Errorf("disabling account: %w", err)
	}
	if !ok {
		return ErrNotFound
	}
	slog.InfoContext(ctx, "account disabled", "account_id", id)
	return nil
}

// Activate reverses Disable.
func (s *Service) Activate(ctx context.Context, id string) error {
	ok, err := store.ExecOne(ctx, s.db, `UPDATE accounts SET is_active = ? WHERE id = ?`, true, id)
	if err != nil {
		return fmt.Errorf("activating account: %w", err)
	}
	if !ok {
		return ErrNotFound
	}
	slog.InfoContext(ctx, "account activated", "account_id", id)
	return nil
}

// List returns accounts newest first.
func (s *Service) List(ctx context.Context, limit int) ([]Account, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := s.db.Query(ctx,
		`SELECT id, email, name, role, credit_balance, is_active, created_at FROM accounts
		 ORDER BY created_at DESC, id LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("listing accounts: %w", err)
	}
	defer rows.Close()

	out := []Account{}
	for rows.Next() {
		var a Account
		var role string
		if err := rows.Scan(&a.ID, &a.Email, &a.Name, &role, &a.CreditBalance, &a.IsActive, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning account: %w", err)
		}
		a.Role = Role(role)
		out = append(out, a)
	}
	return out, rows.Err()
}
