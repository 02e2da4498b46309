// Package showing runs the timed auction for showing requests and the
// two-party confirmation that follows an award.
//
// A request opens in bidding with the buyer's escrow held. Agents bid;
// each accepted bid must beat the current high bid. The auction ends when
// a bid reaches the instant-win threshold or the window closes, whichever
// comes first. Both paths use the same resolution routine.
package showing

import (
	"errors"
	"time"
)

type Status string

const (
	StatusBidding   Status = "bidding"
	StatusAwarded   Status = "awarded"
	StatusConfirmed Status = "confirmed"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

type BidStatus string

const (
	BidActive     BidStatus = "active"
	BidSuperseded BidStatus = "superseded"
	BidWinning    BidStatus = "winning"
	BidLost       BidStatus = "lost"
)

// MaxWindow caps a window chosen by the requester; escrow is locked until
// the auction closes.
const MaxWindow = 7 * 24 * time.Hour

var (
	ErrNotFound          = errors.New("showing request not found")
	ErrAuctionClosed     = errors.New("auction is closed")
	ErrBidTooLow         = errors.New("bid too low")
	ErrConflict          = errors.New("showing request is busy, please retry")
	ErrSelfDealing       = errors.New("agents cannot bid on their own request")
	ErrNotParticipant    = errors.New("not a participant in this showing")
	ErrInvalidRole       = errors.New("invalid confirmation role")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrInvalidWindow     = errors.New("auction window must be positive and at most 7 days")
	ErrInvalidProperty   = errors.New("property id is required")
)

type ShowingRequest struct {
	ID               string     `json:"id"`
	PropertyID       string     `json:"property_id"`
	Requester        string     `json:"requester"`
	Status           Status     `json:"status"`
	CreditsEscrowed  int64      `json:"credits_escrowed"`
	PreferredTimes   string     `json:"preferred_times,omitempty"`
	AuctionClosesAt  time.Time  `json:"auction_closes_at"`
	CurrentHighBid   *int64     `json:"current_high_bid,omitempty"`
	WinningAgent     *string    `json:"winning_agent,omitempty"`
	WinningBidAmount *int64     `json:"winning_bid_amount,omitempty"`
	AgentConfirmedAt *time.Time `json:"agent_confirmed_at,omitempty"`
	BuyerConfirmedAt *time.Time `json:"buyer_confirmed_at,omitempty"`
	Version          int64      `json:"version"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// Participant reports whether accountID is the requester or the winner.
func (sr *ShowingRequest) Participant(accountID string) bool {
	if accountID == sr.Requester {
		return true
	}
	return sr.WinningAgent != nil && *sr.WinningAgent == accountID
}

type Bid struct {
	ID               string    `json:"id"`
	ShowingRequestID string    `json:"showing_request_id"`
	BiddingAgent     string    `json:"bidding_agent"`
	BidAmount        int64     `json:"bid_amount"`
	SelectedTimeSlot string    `json:"selected_time_slot,omitempty"`
	Status           BidStatus `json:"status"`
	CreatedAt        time.Time `json:"created_at"`
}

type OpenRequest struct {
	Requester      string
	PropertyID     string
	PreferredTimes string
	// Window overrides the default auction window when non-zero.
	Window time.Duration
}

type BidRequest struct {
	ShowingRequestID string
	AgentID          string
	Amount           int64
	TimeSlot         string
}

type BidResult struct {
	Bid        Bid            `json:"bid"`
	Request    ShowingRequest `json:"showing_request"`
	InstantWin bool           `json:"instant_win"`
}

// ResolveSummary counts the outcomes of one ResolveExpired pass.
type ResolveSummary struct {
	Awarded   int `json:"awarded"`
	Cancelled int `json:"cancelled"`
	Failed    int `json:"failed"`
}
