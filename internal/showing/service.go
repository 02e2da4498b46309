package showing

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/sudo-init-do/homebid/internal/alerts"
	"github.com/sudo-init-do/homebid/internal/store"
)

const (
	maxBidAttempts     = 5
	maxResolveAttempts = 5
)

type Options struct {
	MinBid              int64
	InstantWinThreshold int64
	Escrow              int64
	Window              time.Duration
}

type Service struct {
	db       *store.DB
	opts     Options
	notifier alerts.Notifier
	now      func() time.Time
}

func NewService(db *store.DB, opts Options, n alerts.Notifier) *Service {
	return &Service{db: db, opts: opts, notifier: n, now: time.Now}
}

func (s *Service) SetClock(now func() time.Time) { s.now = now }

func (s *Service) clock() time.Time { return s.now().UTC() }

const requestColumns = `id, property_id, requester, status, credits_escrowed, preferred_times,
	auction_closes_at, current_high_bid, winning_agent, winning_bid_amount,
	agent_confirmed_at, buyer_confirmed_at, version, created_at, updated_at`

const bidColumns = `id, showing_request_id, bidding_agent, bid_amount, selected_time_slot, status, created_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanRequest(row scanner) (*ShowingRequest, error) {
	var sr ShowingRequest
	var status string
	var highBid, winAmount sql.NullInt64
	var winner sql.NullString
	var agentAt, buyerAt sql.NullTime
	err := row.Scan(&sr.ID, &sr.PropertyID, &sr.Requester, &status, &sr.CreditsEscrowed, &sr.PreferredTimes,
		&sr.AuctionClosesAt, &highBid, &winner, &winAmount,
		&agentAt, &buyerAt, &sr.Version, &sr.CreatedAt, &sr.UpdatedAt)
	if err != nil {
		return nil, err
	}
	sr.Status = Status(status)
	if highBid.Valid {
		sr.CurrentHighBid = &highBid.Int64
	}
	if winner.Valid {
		sr.WinningAgent = &winner.String
	}
	if winAmount.Valid {
		sr.WinningBidAmount = &winAmount.Int64
	}
	if agentAt.Valid {
		t := agentAt.Time
		sr.AgentConfirmedAt = &t
	}
	if buyerAt.Valid {
		t := buyerAt.Time
		sr.BuyerConfirmedAt = &t
	}
	return &sr, nil
}

func getRequest(ctx context.Context, q store.Querier, id string) (*ShowingRequest, error) {
	sr, err := scanRequest(q.QueryRow(ctx, `SELECT `+requestColumns+` FROM showing_requests WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying showing request: %w", err)
	}
	return sr, nil
}

func scanBid(row scanner) (*Bid, error) {
	var b Bid
	var status string
	if err := row.Scan(&b.ID, &b.ShowingRequestID, &b.BiddingAgent, &b.BidAmount, &b.SelectedTimeSlot, &status, &b.CreatedAt); err != nil {
		return nil, err
	}
	b.Status = BidStatus(status)
	return &b, nil
}

// Get returns a request, resolving it first if its auction has closed.
func (s *Service) Get(ctx context.Context, id string) (*ShowingRequest, error) {
	if err := s.resolveIfDue(ctx, id); err != nil {
		return nil, err
	}
	return getRequest(ctx, s.db, id)
}

// Bids returns the request together with every bid on it, highest first.
func (s *Service) Bids(ctx context.Context, id string) (*ShowingRequest, []Bid, error) {
	sr, err := s.Get(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	rows, err := s.db.Query(ctx,
		`SELECT `+bidColumns+` FROM bids WHERE showing_request_id = ?
		 ORDER BY bid_amount DESC, created_at ASC, id ASC`, id,
	)
	if err != nil {
		return nil, nil, fmt.Errorf("querying bids: %w", err)
	}
	defer rows.Close()

	bids := []Bid{}
	for rows.Next() {
		b, err := scanBid(rows)
		if err != nil {
			return nil, nil, fmt.Errorf("scanning bid: %w", err)
		}
		bids = append(bids, *b)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}
	return sr, bids, nil
}

// ListBidding returns auctions still accepting bids, closing soonest first.
func (s *Service) ListBidding(ctx context.Context, limit int) ([]ShowingRequest, error) {
	if _, err := s.ResolveExpired(ctx); err != nil {
		return nil, err
	}
	return s.list(ctx, `WHERE status = 'bidding' ORDER BY auction_closes_at ASC, id ASC LIMIT ?`, clampLimit(limit))
}

// ListForAccount returns requests the account opened, won or bid on.
func (s *Service) ListForAccount(ctx context.Context, accountID string, limit int) ([]ShowingRequest, error) {
	if _, err := s.ResolveExpired(ctx); err != nil {
		return nil, err
	}
	return s.list(ctx,
		`WHERE requester = ? OR winning_agent = ?
		    OR id IN (SELECT showing_request_id FROM bids WHERE bidding_agent = ?)
		 ORDER BY created_at DESC, id DESC LIMIT ?`,
		accountID, accountID, accountID, clampLimit(limit),
	)
}

func (s *Service) list(ctx context.Context, where string, args ...any) ([]ShowingRequest, error) {
	rows, err := s.db.Query(ctx, `SELECT `+requestColumns+` FROM showing_requests `+where, args...)
	if err != nil {
		return nil, fmt.Errorf("listing showing requests: %w", err)
	}
	defer rows.Close()

	out := []ShowingRequest{}
	for rows.Next() {
		sr, err := scanRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning showing request: %w", err)
		}
		out = append(out, *sr)
	}
	return out, rows.Err()
}

func clampLimit(limit int) int {
	if limit <= 0 || limit > 200 {
		return 50
	}
	return limit
}
