package account

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sudo-init-do/homebid/internal/store"
)

const maxNameLen = 120

// Profile is the public view of an account. Buyers use it to judge an
// agent before accepting a bid.
type Profile struct {
	ID                string    `json:"id"`
	Name              string    `json:"name"`
	Role              Role      `json:"role"`
	MemberSince       time.Time `json:"member_since"`
	BountiesCompleted int64     `json:"bounties_completed"`
	ShowingsWon       int64     `json:"showings_won"`
	ShowingsCompleted int64     `json:"showings_completed"`
}

// UpdateName sets the display name. Blank names are rejected.
func (s *Service) UpdateName(ctx context.Context, id, name string) (*Account, error) {
	name = strings.TrimSpace(name)
	if name == "" || len(name) > maxNameLen {
		return nil, fmt.Errorf("%w: name must be 1-%d characters", ErrInvalid, maxNameLen)
	}
	ok, err := store.ExecOne(ctx, s.db, `UPDATE accounts SET name = ? WHERE id = ?`, name, id)
	if err != nil {
		return nil, fmt.Errorf("updating name: %w", err)
	}
	if !ok {
		return nil, ErrNotFound
	}
	return s.Get(ctx, id)
}

// PublicProfile returns the account's track record. Disabled accounts are
// reported as not found.
func (s *Service) PublicProfile(ctx context.Context, id string) (*Profile, error) {
	var p Profile
	var role string
	var active bool
	err := s.db.QueryRow(ctx,
		`SELECT id, name, role, is_active, created_at FROM accounts WHERE id = ?`, id,
	).Scan(&p.ID, &p.Name, &role, &active, &p.MemberSince)
	if errors.Is(err, sql.ErrNoRows) || (err == nil && !active) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying profile: %w", err)
	}
	p.Role = Role(role)

	counts := []struct {
		dst   *int64
		query string
	}{
		{&p.BountiesCompleted, `SELECT COUNT(*) FROM bounties WHERE completed_by = ? AND status = 'completed'`},
		{&p.ShowingsWon, `SELECT COUNT(*) FROM showing_requests WHERE winning_agent = ?`},
		{&p.ShowingsCompleted, `SELECT COUNT(*) FROM showing_requests WHERE winning_agent = ? AND status = 'completed'`},
	}
	for _, c := range counts {
		if err := s.db.QueryRow(ctx, c.query, id).Scan(c.dst); err != nil {
			return nil, fmt.Errorf("counting track record: %w", err)
		}
	}
	return &p, nil
}
