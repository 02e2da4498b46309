package bounty

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
	"github.com/sudo-init-do/homebid/internal/archive"
	"github.com/sudo-init-do/homebid/internal/document"
	"github.com/sudo-init-do/homebid/internal/ledger"
	"github.com/sudo-init-do/homebid/internal/scorer"
	"github.com/sudo-init-do/homebid/internal/store"
)

type Options struct {
	ClaimTTL time.Duration
	// OpenTTL expires unclaimed bounties; zero keeps them open forever.
	OpenTTL time.Duration
	Reward  int64
}

// Archiver stores delivered documents.
type Archiver interface {
	Put(ctx context.Context, key string, body []byte, contentType string) error
}

type Service struct {
	db       *store.DB
	opts     Options
	scorer   scorer.Scorer
	notifier alerts.Notifier
	archive  Archiver
	now      func() time.Time
}

func NewService(db *store.DB, opts Options, sc scorer.Scorer, n alerts.Notifier) *Service {
	if sc == nil {
		sc = scorer.Disabled{}
	}
	return &Service{db: db, opts: opts, scorer: sc, notifier: n, now: time.Now}
}

func (s *Service) SetArchive(a Archiver) { s.archive = a }
func (s *Service) SetClock(now func() time.Time) { s.now = now }

func (s *Service) clock() time.Time { return s.now().UTC() }

const bountyColumns = `id, property_id, requester, status, claimed_by, claim_expires_at,
	completed_by, open_expires_at, created_at, updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanBounty(row scanner) (*Bounty, error) {
	var b Bounty
	var status string
	var claimedBy, completedBy sql.NullString
	var claimExp, openExp sql.NullTime
	err := row.Scan(&b.ID, &b.PropertyID, &b.Requester, &status, &claimedBy, &claimExp,
		&completedBy, &openExp, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		return nil, err
	}
	b.Status = Status(status)
	if claimedBy.Valid {
		b.ClaimedBy = &claimedBy.String
	}
	if completedBy.Valid {
		b.CompletedBy = &completedBy.String
	}
	if claimExp.Valid {
		t := claimExp.Time
		b.ClaimExpiresAt = &t
	}
	if openExp.Valid {
		t := openExp.Time
		b.OpenExpiresAt = &t
	}
	return &b, nil
}

func getBounty(ctx context.Context, q store.Querier, id string) (*Bounty, error) {
	b, err := scanBounty(q.QueryRow(ctx, `SELECT `+bountyColumns+` FROM bounties WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying bounty: %w", err)
	}
	return b, nil
}

// reclaim reopens lapsed claims, optionally narrowed by scope.
func reclaim(ctx context.Context, q store.Querier, now time.Time, scope string, args ...any) (int64, error) {
	query := `UPDATE bounties SET status = 'open', claimed_by = NULL, claim_expires_at = NULL, updated_at = ?
		WHERE status = 'claimed' AND claim_expires_at < ?` + scope
	n, err := store.ExecCount(ctx, q, query, append([]any{now, now}, args...)...)
	if err != nil {
		return 0, fmt.Errorf("reclaiming lapsed claims: %w", err)
	}
	return n, nil
}

// expireOpen retires open bounties past their open deadline.
func expireOpen(ctx context.Context, q store.Querier, now time.Time, scope string, args ...any) (int64, error) {
	query := `UPDATE bounties SET status = 'expired', updated_at = ?
		WHERE status = 'open' AND open_expires_at IS NOT NULL AND open_expires_at < ?` + scope
	n, err := store.ExecCount(ctx, q, query, append([]any{now, now}, args...)...)
	if err != nil {
		return 0, fmt.Errorf("expiring open bounties: %w", err)
	}
	return n, nil
}

// reapOne applies both expiry rules to a single bounty.
func reapOne(ctx context.Context, q store.Querier, id string, now time.Time) error {
	if _, err := reclaim(ctx, q, now, ` AND id = ?`, id); err != nil {
		return err
	}
	_, err := expireOpen(ctx, q, now, ` AND id = ?`, id)
	return err
}

// Open creates a bounty for propertyID. Only one open or claimed bounty
// may exist per property.
func (s *Service) Open(ctx context.Context, requester, propertyID string) (*Bounty, error) {
	propertyID = strings.TrimSpace(propertyID)
	if propertyID == "" {
		return nil, ErrInvalidProperty
	}

	now := s.clock()
	b := &Bounty{
		ID:         uuid.NewString(),
		PropertyID: propertyID,
		Requester:  requester,
		Status:     StatusOpen,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	var openExp any
	if s.opts.OpenTTL > 0 {
		exp := now.Add(s.opts.OpenTTL)
		b.OpenExpiresAt = &exp
		openExp = exp
	}

	err := s.db.InTx(ctx, func(tx *store.Tx) error {
		if _, err := expireOpen(ctx, tx, now, ` AND property_id = ?`, propertyID); err != nil {
			return err
		}
		_, err := tx.Exec(ctx,
			`INSERT INTO bounties (id, property_id, requester, status, open_expires_at, created_at, updated_at)
			 VALUES (?, ?, ?, 'open', ?, ?, ?)`,
			b.ID, b.PropertyID, b.Requester, openExp, now, now,
		)
		if store.IsUniqueViolation(err) {
			return ErrBountyExists
		}
		if err != nil {
			return fmt.Errorf("inserting bounty: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	slog.InfoContext(ctx, "bounty opened", "bounty_id", b.ID, "property_id", propertyID, "requester", requester)
	return b, nil
}

// Claim leases an open bounty to agentID for ClaimTTL. Concurrent
// claimants race on a conditional update; exactly one wins.
func (s *Service) Claim(ctx context.Context, bountyID, agentID string) (*Bounty, error) {
	now := s.clock()
	var claimed *Bounty

	err := s.db.InTx(ctx, func(tx *store.Tx) error {
		if err := reapOne(ctx, tx, bountyID, now); err != nil {
			return err
		}

		ok, err := store.ExecOne(ctx, tx,
			`UPDATE bounties SET status = 'claimed', claimed_by = ?, claim_expires_at = ?, updated_at = ?
			 WHERE id = ? AND status = 'open' AND requester <> ?`,
			agentID, now.Add(s.opts.ClaimTTL), now, bountyID, agentID,
		)
		if err != nil {
			return fmt.Errorf("claiming bounty: %w", err)
		}

		b, err := getBounty(ctx, tx, bountyID)
		if err != nil {
			return err
		}
		if !ok {
			return claimFailure(b, agentID)
		}
		claimed = b
		return nil
	})
	if err != nil {
		return nil, err
	}

	slog.InfoContext(ctx, "bounty claimed", "bounty_id", bountyID, "agent_id", agentID, "expires_at", claimed.ClaimExpiresAt)
	return claimed, nil
}

func claimFailure(b *Bounty, agentID string) error {
	switch {
	case b.Requester == agentID:
		return ErrSelfDealing
	case b.Status == StatusClaimed:
		return ErrAlreadyClaimed
	case b.Status.Terminal():
		return fmt.Errorf("%w: %s", ErrBountyClosed, b.Status)
	}
	return fmt.Errorf("claim did not apply to bounty in status %s", b.Status)
}

// ReapExpired reopens every lapsed claim and, when an open TTL is set,
// expires stale open bounties. Safe to run concurrently and repeatedly.
func (s *Service) ReapExpired(ctx context.Context) (ReapResult, error) {
	now := s.clock()
	var res ReapResult
	err := s.db.InTx(ctx, func(tx *store.Tx) error {
		var err error
		if res.Reclaimed, err = reclaim(ctx, tx, now, ""); err != nil {
			return err
		}
		res.Expired, err = expireOpen(ctx, tx, now, "")
		return err
	})
	if err != nil {
		return ReapResult{}, err
	}
	if res.Reclaimed > 0 || res.Expired > 0 {
		slog.InfoContext(ctx, "bounties reaped", "reclaimed", res.Reclaimed, "expired", res.Expired)
	}
	return res, nil
}

// Complete finishes a bounty held by agentID, stores the scorer result and
// credits the reward, all in one transaction.
func (s *Service) Complete(ctx context.Context, bountyID, agentID string, result scorer.Result) (*Report, error) {
	now := s.clock()
	report := &Report{
		ID:        uuid.NewString(),
		BountyID:  bountyID,
		AgentID:   agentID,
		Summary:   result.Summary,
		RiskScore: result.RiskScore,
		Findings:  result.Findings,
		CreatedAt: now,
	}
	before, err := getBounty(ctx, s.db, bountyID)
	if err != nil {
		return nil, err
	}
	// a rejected completion must not roll the reap back
	if err := reapOne(ctx, s.db, bountyID, now); err != nil {
		return nil, err
	}

	err = s.db.InTx(ctx, func(tx *store.Tx) error {
		ok, err := store.ExecOne(ctx, tx,
			`UPDATE bounties SET status = 'completed', completed_by = ?, claimed_by = NULL, claim_expires_at = NULL, updated_at = ?
			 WHERE id = ? AND status = 'claimed' AND claimed_by = ?`,
			agentID, now, bountyID, agentID,
		)
		if err != nil {
			return fmt.Errorf("completing bounty: %w", err)
		}
		if !ok {
			current, err := getBounty(ctx, tx, bountyID)
			if err != nil {
				return err
			}
			return completeFailure(before, current, agentID)
		}

		if err := insertReport(ctx, tx, report); err != nil {
			return err
		}
		if s.opts.Reward > 0 {
			_, err := ledger.Adjust(ctx, tx, ledger.Adjustment{
				AccountID: agentID,
				Delta:     s.opts.Reward,
				Reason:    ledger.ReasonBountyReward,
				Reference: bountyID,
				At:        now,
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	slog.InfoContext(ctx, "bounty completed", "bounty_id", bountyID, "agent_id", agentID, "reward", s.opts.Reward)
	alerts.Send(ctx, s.notifier, before.Requester, "Your disclosure analysis is ready", "/bounties/"+bountyID+"/report")
	return report, nil
}

// completeFailure explains a rejected completion. before is the row as it
// was prior to reaping, current as it is now.
func completeFailure(before, current *Bounty, agentID string) error {
	if current.Status.Terminal() {
		return fmt.Errorf("%w: %s", ErrBountyClosed, current.Status)
	}
	if before.Status == StatusClaimed && before.ClaimedBy != nil && *before.ClaimedBy == agentID {
		return fmt.Errorf("%w: claim expired, please claim again", ErrNotClaimHolder)
	}
	return ErrNotClaimHolder
}

func insertReport(ctx context.Context, tx *store.Tx, r *Report) error {
	_, err := tx.Exec(ctx,
		`INSERT INTO reports (id, bounty_id, agent_id, summary, risk_score, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		r.ID, r.BountyID, r.AgentID, r.Summary, r.RiskScore, r.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting report: %w", err)
	}
	for i, f := range r.Findings {
		_, err := tx.Exec(ctx,
			`INSERT INTO report_findings (id, report_id, position, category, risk_level, estimated_cost, source_page)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			uuid.NewString(), r.ID, i, f.Category, f.RiskLevel, f.EstimatedCost, f.SourcePage,
		)
		if err != nil {
			return fmt.Errorf("inserting finding: %w", err)
		}
	}
	return nil
}

// Deliver is the agent upload flow: check the claim, extract text, score
// it and complete. A scoring failure leaves the claim in place.
func (s *Service) Deliver(ctx context.Context, bountyID, agentID string, doc document.Upload) (*Report, error) {
	b, err := s.Get(ctx, bountyID)
	if err != nil {
		return nil, err
	}
	if b.Status.Terminal() {
		return nil, fmt.Errorf("%w: %s", ErrBountyClosed, b.Status)
	}
	if !b.HeldBy(agentID, s.clock()) {
		return nil, ErrNotClaimHolder
	}

	text, err := document.Text(doc)
	if err != nil {
		return nil, err
	}
	result, err := s.scorer.Analyze(ctx, text)
	if err != nil {
		slog.WarnContext(ctx, "scoring failed", "bounty_id", bountyID, "error", err)
		return nil, fmt.Errorf("%w: %v", ErrScoringFailed, err)
	}

	report, err := s.Complete(ctx, bountyID, agentID, result)
	if err != nil {
		return nil, err
	}

	if s.archive != nil {
		key := archive.Key(bountyID, report.ID, doc.Filename)
		if err := s.archive.Put(ctx, key, doc.Body, doc.ContentType); err != nil {
			slog.WarnContext(ctx, "archiving document failed", "bounty_id", bountyID, "key", key, "error", err)
		}
	}
	return report, nil
}

// Get returns a bounty after reaping it if its lease lapsed.
func (s *Service) Get(ctx context.Context, id string) (*Bounty, error) {
	if err := reapOne(ctx, s.db, id, s.clock()); err != nil {
		return nil, err
	}
	return getBounty(ctx, s.db, id)
}

// ListOpen returns claimable bounties, oldest first.
func (s *Service) ListOpen(ctx context.Context, limit int) ([]Bounty, error) {
	if _, err := s.ReapExpired(ctx); err != nil {
		return nil, err
	}
	return s.list(ctx, `WHERE status = 'open' ORDER BY created_at ASC, id ASC LIMIT ?`, clampLimit(limit))
}

// ListForAccount returns bounties the account requested, holds or completed.
func (s *Service) ListForAccount(ctx context.Context, accountID string, limit int) ([]Bounty, error) {
	if _, err := s.ReapExpired(ctx); err != nil {
		return nil, err
	}
	return s.list(ctx,
		`WHERE requester = ? OR claimed_by = ? OR completed_by = ? ORDER BY created_at DESC, id DESC LIMIT ?`,
		accountID, accountID, accountID, clampLimit(limit),
	)
}

func (s *Service) list(ctx context.Context, where string, args ...any) ([]Bounty, error) {
	rows, err := s.db.Query(ctx, `SELECT `+bountyColumns+` FROM bounties `+where, args...)
	if err != nil {
		return nil, fmt.Errorf("listing bounties: %w", err)
	}
	defer rows.Close()

	out := []Bounty{}
	for rows.Next() {
		b, err := scanBounty(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning bounty: %w", err)
		}
		out = append(out, *b)
	}
	return out, rows.Err()
}

func clampLimit(limit int) int {
	if limit <= 0 || limit > 200 {
		return 50
	}
	return limit
}

// Report returns the stored analysis for a completed bounty.
func (s *Service) Report(ctx context.Context, bountyID string) (*Report, error) {
	var r Report
	err := s.db.QueryRow(ctx,
		`SELECT id, bounty_id, agent_id, summary, risk_score, created_at FROM reports WHERE bounty_id = ?`, bountyID,
	).Scan(&r.ID, &r.BountyID, &r.AgentID, &r.Summary, &r.RiskScore, &r.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying report: %w", err)
	}

	rows, err := s.db.Query(ctx,
		`SELECT category, risk_level, estimated_cost, source_page FROM report_findings
		 WHERE report_id = ? ORDER BY position`, r.ID,
	)
	if err != nil {
		return nil, fmt.Errorf("querying findings: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var f scorer.Finding
		if err := rows.Scan(&f.Category, &f.RiskLevel, &f.EstimatedCost, &f.SourcePage); err != nil {
			return nil, fmt.Errorf("scanning finding: %w", err)
		}
		r.Findings = append(r.Findings, f)
	}
	return &r, rows.Err()
}
