// Package bounty leases disclosure-analysis bounties to agents. A claim
// carries a hard expiry; lapsed claims are reclaimed by ReapExpired, which
// runs both periodically and ahead of every read.
package bounty

import (
	"errors"
	"time"

	"github.com/sudo-init-do/homebid/internal/scorer"
)

type Status string

const (
	StatusOpen      Status = "open"
	StatusClaimed   Status = "claimed"
	StatusCompleted Status = "completed"
	StatusExpired   Status = "expired"
)

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusExpired
}

var (
	ErrNotFound        = errors.New("bounty not found")
	ErrAlreadyClaimed  = errors.New("bounty already claimed")
	ErrBountyClosed    = errors.New("bounty is closed")
	ErrNotClaimHolder  = errors.New("caller does not hold the claim")
	ErrBountyExists    = errors.New("an active bounty already exists for this property")
	ErrSelfDealing     = errors.New("agents cannot claim their own bounty")
	ErrInvalidProperty = errors.New("property id is required")
	ErrScoringFailed   = errors.New("document scoring failed")
)

type Bounty struct {
	ID             string     `json:"id"`
	PropertyID     string     `json:"property_id"`
	Requester      string     `json:"requester"`
	Status         Status     `json:"status"`
	ClaimedBy      *string    `json:"claimed_by,omitempty"`
	ClaimExpiresAt *time.Time `json:"claim_expires_at,omitempty"`
	CompletedBy    *string    `json:"completed_by,omitempty"`
	OpenExpiresAt  *time.Time `json:"open_expires_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// HeldBy reports whether agentID holds an unexpired claim at now. A claim
// is still held at the exact expiry instant.
func (b *Bounty) HeldBy(agentID string, now time.Time) bool {
	return b.Status == StatusClaimed &&
		b.ClaimedBy != nil && *b.ClaimedBy == agentID &&
		b.ClaimExpiresAt != nil && !b.ClaimExpiresAt.Before(now)
}

// Report is the persisted scorer output for a completed bounty.
type Report struct {
	ID        string           `json:"id"`
	BountyID  string           `json:"bounty_id"`
	AgentID   string           `json:"agent_id"`
	Summary   string           `json:"summary"`
	RiskScore int              `json:"risk_score"`
	Findings  []scorer.Finding `json:"findings"`
	CreatedAt time.Time        `json:"created_at"`
}

// ReapResult counts rows moved by one ReapExpired pass.
type ReapResult struct {
	Reclaimed int64 `json:"reclaimed"`
	Expired   int64 `json:"expired"`
}
