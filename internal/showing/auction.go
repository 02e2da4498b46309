package showing

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/sudo-init-do/homebid/internal/alerts"
	"github.com/sudo-init-do/homebid/internal/ledger"
	"github.com/sudo-init-do/homebid/internal/store"
)

// errStale means the request changed between read and conditional update.
var errStale = errors.New("showing request changed during resolution")

// Open creates a request in bidding and debits the escrow from the
// requester in the same transaction.
func (s *Service) Open(ctx context.Context, req OpenRequest) (*ShowingRequest, error) {
	propertyID := strings.TrimSpace(req.PropertyID)
	if propertyID == "" {
		return nil, ErrInvalidProperty
	}
	if req.Window > MaxWindow {
		return nil, ErrInvalidWindow
	}
	window := req.Window
	if window == 0 {
		window = s.opts.Window
	}
	if window <= 0 {
		return nil, ErrInvalidWindow
	}

	now := s.clock()
	sr := &ShowingRequest{
		ID:              uuid.NewString(),
		PropertyID:      propertyID,
		Requester:       req.Requester,
		Status:          StatusBidding,
		CreditsEscrowed: s.opts.Escrow,
		PreferredTimes:  strings.TrimSpace(req.PreferredTimes),
		AuctionClosesAt: now.Add(window),
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	err := s.db.InTx(ctx, func(tx *store.Tx) error {
		_, err := tx.Exec(ctx,
			`INSERT INTO showing_requests (id, property_id, requester, status, credits_escrowed, preferred_times,
			 auction_closes_at, version, created_at, updated_at)
			 VALUES (?, ?, ?, 'bidding', ?, ?, ?, 0, ?, ?)`,
			sr.ID, sr.PropertyID, sr.Requester, sr.CreditsEscrowed, sr.PreferredTimes,
			sr.AuctionClosesAt, now, now,
		)
		if err != nil {
			return fmt.Errorf("inserting showing request: %w", err)
		}
		if sr.CreditsEscrowed == 0 {
			return nil
		}
		_, err = ledger.Adjust(ctx, tx, ledger.Adjustment{
			AccountID: sr.Requester,
			Delta:     -sr.CreditsEscrowed,
			Reason:    ledger.ReasonShowingEscrow,
			Reference: sr.ID,
			At:        now,
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	slog.InfoContext(ctx, "showing request opened", "showing_request_id", sr.ID, "requester", sr.Requester,
		"escrow", sr.CreditsEscrowed, "closes_at", sr.AuctionClosesAt)
	return sr, nil
}

// PlaceBid records a bid that beats the current high bid. A bid at or above
// the instant-win threshold resolves the auction in the same transaction.
func (s *Service) PlaceBid(ctx context.Context, req BidRequest) (*BidResult, error) {
	now := s.clock()
	var out BidResult
	var res *resolution

	err := s.db.InTx(ctx, func(tx *store.Tx) error {
		sr, err := s.raiseHighBid(ctx, tx, req, now)
		if err != nil {
			return err
		}

		_, err = tx.Exec(ctx,
			`UPDATE bids SET status = 'superseded'
			 WHERE showing_request_id = ? AND bidding_agent = ? AND status = 'active'`,
			sr.ID, req.AgentID,
		)
		if err != nil {
			return fmt.Errorf("superseding prior bid: %w", err)
		}

		bid := Bid{
			ID:               uuid.Must(uuid.NewV7()).String(),
			ShowingRequestID: sr.ID,
			BiddingAgent:     req.AgentID,
			BidAmount:        req.Amount,
			SelectedTimeSlot: strings.TrimSpace(req.TimeSlot),
			Status:           BidActive,
			CreatedAt:        now,
		}
		_, err = tx.Exec(ctx,
			`INSERT INTO bids (`+bidColumns+`) VALUES (?, ?, ?, ?, ?, 'active', ?)`,
			bid.ID, bid.ShowingRequestID, bid.BiddingAgent, bid.BidAmount, bid.SelectedTimeSlot, bid.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("inserting bid: %w", err)
		}
		out.Bid = bid
		out.Request = *sr

		if req.Amount < s.opts.InstantWinThreshold {
			return nil
		}
		res, err = s.resolve(ctx, tx, sr, now)
		if errors.Is(err, errStale) {
			return ErrConflict
		}
		if err != nil {
			return err
		}
		if res.winner == nil || res.winner.ID != bid.ID {
			return fmt.Errorf("instant-win bid %s was not selected as winner", bid.ID)
		}
		out.Bid.Status = BidWinning
		out.Request = *res.request
		out.InstantWin = true
		return nil
	})
	if err != nil {
		return nil, err
	}

	slog.InfoContext(ctx, "bid placed", "showing_request_id", req.ShowingRequestID, "agent_id", req.AgentID,
		"amount", req.Amount, "instant_win", out.InstantWin)
	if res != nil {
		s.notifyResolution(ctx, res)
	}
	return &out, nil
}

// raiseHighBid validates the bid against a fresh read and bumps the high
// bid with a version check, retrying when a concurrent writer got there
// first.
func (s *Service) raiseHighBid(ctx context.Context, tx *store.Tx, req BidRequest, now time.Time) (*ShowingRequest, error) {
	for attempt := 1; attempt <= maxBidAttempts; attempt++ {
		sr, err := getRequest(ctx, tx, req.ShowingRequestID)
		if err != nil {
			return nil, err
		}
		if err := s.validateBid(sr, req, now); err != nil {
			return nil, err
		}

		ok, err := store.ExecOne(ctx, tx,
			`UPDATE showing_requests SET current_high_bid = ?, version = version + 1, updated_at = ?
			 WHERE id = ? AND version = ? AND status = 'bidding' AND auction_closes_at > ?`,
			req.Amount, now, sr.ID, sr.Version, now,
		)
		if err != nil {
			return nil, fmt.Errorf("raising high bid: %w", err)
		}
		if ok {
			amount := req.Amount
			sr.CurrentHighBid = &amount
			sr.Version++
			sr.UpdatedAt = now
			return sr, nil
		}
		slog.DebugContext(ctx, "bid lost version race", "showing_request_id", sr.ID, "attempt", attempt)
	}
	return nil, ErrConflict
}

func (s *Service) validateBid(sr *ShowingRequest, req BidRequest, now time.Time) error {
	if sr.Status != StatusBidding || !now.Before(sr.AuctionClosesAt) {
		return ErrAuctionClosed
	}
	if sr.Requester == req.AgentID {
		return ErrSelfDealing
	}
	if req.Amount < s.opts.MinBid {
		return fmt.Errorf("%w: minimum bid is %d", ErrBidTooLow, s.opts.MinBid)
	}
	if sr.CurrentHighBid != nil && req.Amount <= *sr.CurrentHighBid {
		return fmt.Errorf("%w: must exceed current high bid of %d", ErrBidTooLow, *sr.CurrentHighBid)
	}
	return nil
}

type resolution struct {
	request  *ShowingRequest
	winner   *Bid
	refunded int64
}

// resolve ends the auction for sr. With at least one active bid the best
// one wins; otherwise the request is cancelled and the escrow refunded.
// Returns errStale if sr no longer matches the stored row.
func (s *Service) resolve(ctx context.Context, tx *store.Tx, sr *ShowingRequest, now time.Time) (*resolution, error) {
	winner, err := bestActiveBid(ctx, tx, sr.ID)
	if err != nil {
		return nil, err
	}
	res := &resolution{}

	if winner != nil {
		ok, err := store.ExecOne(ctx, tx,
			`UPDATE showing_requests SET status = 'awarded', winning_agent = ?, winning_bid_amount = ?,
			 version = version + 1, updated_at = ?
			 WHERE id = ? AND version = ? AND status = 'bidding'`,
			winner.BiddingAgent, winner.BidAmount, now, sr.ID, sr.Version,
		)
		if err != nil {
			return nil, fmt.Errorf("awarding showing request: %w", err)
		}
		if !ok {
			return nil, errStale
		}
		if _, err := tx.Exec(ctx, `UPDATE bids SET status = 'winning' WHERE id = ?`, winner.ID); err != nil {
			return nil, fmt.Errorf("marking winning bid: %w", err)
		}
		winner.Status = BidWinning
		res.winner = winner
	} else {
		ok, err := store.ExecOne(ctx, tx,
			`UPDATE showing_requests SET status = 'cancelled', version = version + 1, updated_at = ?
			 WHERE id = ? AND version = ? AND status = 'bidding'`,
			now, sr.ID, sr.Version,
		)
		if err != nil {
			return nil, fmt.Errorf("cancelling showing request: %w", err)
		}
		if !ok {
			return nil, errStale
		}
		if sr.CreditsEscrowed > 0 {
			_, err := ledger.Adjust(ctx, tx, ledger.Adjustment{
				AccountID: sr.Requester,
				Delta:     sr.CreditsEscrowed,
				Reason:    ledger.ReasonEscrowRefund,
				Reference: sr.ID,
				At:        now,
			})
			if err != nil {
				return nil, err
			}
			res.refunded = sr.CreditsEscrowed
		}
	}

	_, err = tx.Exec(ctx,
		`UPDATE bids SET status = 'lost' WHERE showing_request_id = ? AND status IN ('active', 'superseded')`,
		sr.ID,
	)
	if err != nil {
		return nil, fmt.Errorf("marking lost bids: %w", err)
	}

	res.request, err = getRequest(ctx, tx, sr.ID)
	if err != nil {
		return nil, err
	}
	return res, nil
}

func bestActiveBid(ctx context.Context, q store.Querier, requestID string) (*Bid, error) {
	b, err := scanBid(q.QueryRow(ctx,
		`SELECT `+bidColumns+` FROM bids WHERE showing_request_id = ? AND status = 'active'
		 ORDER BY bid_amount DESC, created_at ASC, id ASC LIMIT 1`, requestID,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying best bid: %w", err)
	}
	return b, nil
}

// resolveOne resolves a single request if it is still bidding past its
// close. It returns nil when there was nothing to do.
func (s *Service) resolveOne(ctx context.Context, id string, now time.Time) (*resolution, error) {
	var out *resolution
	err := s.db.InTx(ctx, func(tx *store.Tx) error {
		for attempt := 1; attempt <= maxResolveAttempts; attempt++ {
			sr, err := getRequest(ctx, tx, id)
			if err != nil {
				return err
			}
			if sr.Status != StatusBidding || now.Before(sr.AuctionClosesAt) {
				return nil
			}
			res, err := s.resolve(ctx, tx, sr, now)
			if errors.Is(err, errStale) {
				continue
			}
			if err != nil {
				return err
			}
			out = res
			return nil
		}
		return ErrConflict
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Service) resolveIfDue(ctx context.Context, id string) error {
	res, err := s.resolveOne(ctx, id, s.clock())
	if err != nil {
		return err
	}
	if res != nil {
		s.logResolution(ctx, res)
		s.notifyResolution(ctx, res)
	}
	return nil
}

// ResolveExpired resolves every auction past its close. Each request is
// resolved in its own transaction; a failure is logged and the pass goes on.
func (s *Service) ResolveExpired(ctx context.Context) (ResolveSummary, error) {
	now := s.clock()
	var sum ResolveSummary

	rows, err := s.db.Query(ctx,
		`SELECT id FROM showing_requests WHERE status = 'bidding' AND auction_closes_at <= ?
		 ORDER BY auction_closes_at ASC`, now,
	)
	if err != nil {
		return sum, fmt.Errorf("querying expired auctions: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return sum, fmt.Errorf("scanning auction id: %w", err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return sum, fmt.Errorf("iterating expired auctions: %w", err)
	}

	for _, id := range ids {
		res, err := s.resolveOne(ctx, id, now)
		if err != nil {
			sum.Failed++
			slog.ErrorContext(ctx, "resolving auction failed", "showing_request_id", id, "error", err)
			continue
		}
		if res == nil {
			continue
		}
		if res.winner != nil {
			sum.Awarded++
		} else {
			sum.Cancelled++
		}
		s.logResolution(ctx, res)
		s.notifyResolution(ctx, res)
	}
	return sum, nil
}

func (s *Service) logResolution(ctx context.Context, res *resolution) {
	if res.winner != nil {
		slog.InfoContext(ctx, "auction awarded", "showing_request_id", res.request.ID,
			"winning_agent", res.winner.BiddingAgent, "amount", res.winner.BidAmount)
		return
	}
	slog.InfoContext(ctx, "auction cancelled", "showing_request_id", res.request.ID, "refunded", res.refunded)
}

func (s *Service) notifyResolution(ctx context.Context, res *resolution) {
	sr := res.request
	url := "/showings/" + sr.ID
	if res.winner != nil {
		alerts.Send(ctx, s.notifier, res.winner.BiddingAgent,
			fmt.Sprintf("You won the showing for property %s with a bid of %d", sr.PropertyID, res.winner.BidAmount), url)
		alerts.Send(ctx, s.notifier, sr.Requester,
			fmt.Sprintf("An agent has been selected for your showing of property %s", sr.PropertyID), url)
		return
	}
	alerts.Send(ctx, s.notifier, sr.Requester,
		fmt.Sprintf("No agent bid on your showing of property %s; %d credits refunded", sr.PropertyID, res.refunded), url)
}
