package showing

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/sudo-init-do/homebid/internal/account"
	"github.com/sudo-init-do/homebid/internal/alerts"
	"github.com/sudo-init-do/homebid/internal/ledger"
	"github.com/sudo-init-do/homebid/internal/store"
)

// Confirm records the winning agent's or the buyer's confirmation of an
// awarded showing. When both have confirmed, the request moves to
// confirmed in the same transaction.
func (s *Service) Confirm(ctx context.Context, id, actorID string, role account.Role) (*ShowingRequest, error) {
	var stampCol, partyCol string
	switch role {
	case account.RoleAgent:
		stampCol, partyCol = "agent_confirmed_at", "winning_agent"
	case account.RoleBuyer:
		stampCol, partyCol = "buyer_confirmed_at", "requester"
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidRole, role)
	}

	// an auction that closed unnoticed is resolved before confirming
	if err := s.resolveIfDue(ctx, id); err != nil {
		return nil, err
	}

	now := s.clock()
	var out *ShowingRequest
	var bothConfirmed bool

	err := s.db.InTx(ctx, func(tx *store.Tx) error {
		ok, err := store.ExecOne(ctx, tx,
			fmt.Sprintf(`UPDATE showing_requests SET %[1]s = COALESCE(%[1]s, ?), version = version + 1, updated_at = ?
				WHERE id = ? AND status = 'awarded' AND %[2]s = ?`, stampCol, partyCol),
			now, now, id, actorID,
		)
		if err != nil {
			return fmt.Errorf("recording confirmation: %w", err)
		}
		if !ok {
			sr, err := getRequest(ctx, tx, id)
			if err != nil {
				return err
			}
			return confirmFailure(sr, actorID, role)
		}

		bothConfirmed, err = store.ExecOne(ctx, tx,
			`UPDATE showing_requests SET status = 'confirmed', version = version + 1, updated_at = ?
			 WHERE id = ? AND status = 'awarded'
			   AND agent_confirmed_at IS NOT NULL AND buyer_confirmed_at IS NOT NULL`,
			now, id,
		)
		if err != nil {
			return fmt.Errorf("confirming showing: %w", err)
		}

		out, err = getRequest(ctx, tx, id)
		return err
	})
	if err != nil {
		return nil, err
	}

	slog.InfoContext(ctx, "showing confirmation recorded", "showing_request_id", id, "role", role, "confirmed", bothConfirmed)
	if bothConfirmed {
		url := "/showings/" + id
		msg := fmt.Sprintf("Showing of property %s is confirmed", out.PropertyID)
		alerts.Send(ctx, s.notifier, out.Requester, msg, url)
		if out.WinningAgent != nil {
			alerts.Send(ctx, s.notifier, *out.WinningAgent, msg, url)
		}
	}
	return out, nil
}

func confirmFailure(sr *ShowingRequest, actorID string, role account.Role) error {
	switch {
	case role == account.RoleBuyer && sr.Requester != actorID:
		return ErrNotParticipant
	case role == account.RoleAgent && sr.WinningAgent != nil && *sr.WinningAgent != actorID:
		return ErrNotParticipant
	case sr.Status != StatusAwarded:
		return fmt.Errorf("%w: request is %s", ErrInvalidTransition, sr.Status)
	}
	return ErrNotParticipant
}

// Complete marks a confirmed showing as done and releases the escrow to
// the winning agent.
func (s *Service) Complete(ctx context.Context, id string) (*ShowingRequest, error) {
	now := s.clock()
	var out *ShowingRequest

	err := s.db.InTx(ctx, func(tx *store.Tx) error {
		sr, err := getRequest(ctx, tx, id)
		if err != nil {
			return err
		}
		ok, err := store.ExecOne(ctx, tx,
			`UPDATE showing_requests SET status = 'completed', version = version + 1, updated_at = ?
			 WHERE id = ? AND status = 'confirmed'`,
			now, id,
		)
		if err != nil {
			return fmt.Errorf("completing showing: %w", err)
		}
		if !ok {
			current, err := getRequest(ctx, tx, id)
			if err != nil {
				return err
			}
			return fmt.Errorf("%w: request is %s", ErrInvalidTransition, current.Status)
		}

		if sr.CreditsEscrowed > 0 && sr.WinningAgent != nil {
			_, err := ledger.Adjust(ctx, tx, ledger.Adjustment{
				AccountID: *sr.WinningAgent,
				Delta:     sr.CreditsEscrowed,
				Reason:    ledger.ReasonShowingPayout,
				Reference: id,
				At:        now,
			})
			if err != nil {
				return err
			}
		}

		out, err = getRequest(ctx, tx, id)
		return err
	})
	if err != nil {
		return nil, err
	}

	slog.InfoContext(ctx, "showing completed", "showing_request_id", id, "payout", out.CreditsEscrowed)
	if out.WinningAgent != nil {
		alerts.Send(ctx, s.notifier, *out.WinningAgent,
			fmt.Sprintf("Showing of property %s completed; %d credits paid", out.PropertyID, out.CreditsEscrowed),
			"/showings/"+id)
	}
	return out, nil
}
