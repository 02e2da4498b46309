package showing

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sudo-init-do/homebid/internal/account"
	"github.com/sudo-init-do/homebid/internal/ledger"
	"github.com/sudo-init-do/homebid/internal/store"
	"github.com/sudo-init-do/homebid/internal/testutil"
)

type fixture struct {
	db     *store.DB
	clock  *testutil.Clock
	notes  *testutil.Recorder
	svc    *Service
	buyer  string
	agentA string
	agentB string
	agentC string
}

func testSetup(t *testing.T) *fixture {
	t.Helper()
	d := testutil.OpenDB(t)
	f := &fixture{db: d, clock: testutil.NewClock(), notes: &testutil.Recorder{}}
	f.svc = NewService(d, Options{MinBid: 20, InstantWinThreshold: 50, Escrow: 50, Window: 2 * time.Hour}, f.notes)
	f.svc.SetClock(f.clock.Now)
	f.buyer = testutil.SeedAccount(t, d, "buyer", 100)
	f.agentA = testutil.SeedAccount(t, d, "agent", 0)
	f.agentB = testutil.SeedAccount(t, d, "agent", 0)
	f.agentC = testutil.SeedAccount(t, d, "agent", 0)
	return f
}

func (f *fixture) open(t *testing.T) *ShowingRequest {
	t.Helper()
	sr, err := f.svc.Open(context.Background(), OpenRequest{Requester: f.buyer, PropertyID: "prop-1", PreferredTimes: "Sat morning"})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	return sr
}

func (f *fixture) bid(t *testing.T, srID, agent string, amount int64) *BidResult {
	t.Helper()
	res, err := f.svc.PlaceBid(context.Background(), BidRequest{ShowingRequestID: srID, AgentID: agent, Amount: amount})
	if err != nil {
		t.Fatalf("bid %d by %s: %v", amount, agent, err)
	}
	return res
}

func (f *fixture) reconcile(t *testing.T, accounts ...string) {
	t.Helper()
	l := ledger.New(f.db)
	for _, a := range accounts {
		if _, err := l.Reconcile(context.Background(), a); err != nil {
			t.Errorf("reconcile %s: %v", a, err)
		}
	}
}

func bidsByAgent(t *testing.T, f *fixture, srID string) map[string][]Bid {
	t.Helper()
	_, bids, err := f.svc.Bids(context.Background(), srID)
	if err != nil {
		t.Fatalf("bids: %v", err)
	}
	out := map[string][]Bid{}
	for _, b := range bids {
		out[b.BiddingAgent] = append(out[b.BiddingAgent], b)
	}
	return out
}

func TestOpenDebitsEscrow(t *testing.T) {
	f := testSetup(t)
	sr := f.open(t)

	if sr.Status != StatusBidding || sr.CreditsEscrowed != 50 {
		t.Errorf("request = %+v", sr)
	}
	if want := f.clock.Now().Add(2 * time.Hour); !sr.AuctionClosesAt.Equal(want) {
		t.Errorf("closes_at = %v, want %v", sr.AuctionClosesAt, want)
	}
	if bal := testutil.Balance(t, f.db, f.buyer); bal != 50 {
		t.Errorf("buyer balance = %d, want 50", bal)
	}
	f.reconcile(t, f.buyer)
}

func TestOpenInsufficientFunds(t *testing.T) {
	f := testSetup(t)
	ctx := context.Background()
	poor := testutil.SeedAccount(t, f.db, "buyer", 49)

	_, err := f.svc.Open(ctx, OpenRequest{Requester: poor, PropertyID: "prop-1"})
	if !errors.Is(err, ledger.ErrInsufficientFunds) {
		t.Fatalf("err = %v, want ErrInsufficientFunds", err)
	}
	if bal := testutil.Balance(t, f.db, poor); bal != 49 {
		t.Errorf("balance = %d, want 49", bal)
	}
	var n int
	if err := f.db.QueryRow(ctx, `SELECT COUNT(*) FROM showing_requests WHERE requester = ?`, poor).Scan(&n); err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 0 {
		t.Errorf("requests = %d, want 0 after failed open", n)
	}
}

func TestOpenWindow(t *testing.T) {
	f := testSetup(t)
	ctx := context.Background()

	sr, err := f.svc.Open(ctx, OpenRequest{Requester: f.buyer, PropertyID: "p", Window: 30 * time.Minute})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if want := f.clock.Now().Add(30 * time.Minute); !sr.AuctionClosesAt.Equal(want) {
		t.Errorf("closes_at = %v, want %v", sr.AuctionClosesAt, want)
	}
	if _, err := f.svc.Open(ctx, OpenRequest{Requester: f.buyer, PropertyID: "p", Window: -time.Minute}); !errors.Is(err, ErrInvalidWindow) {
		t.Errorf("negative window = %v, want ErrInvalidWindow", err)
	}
	if _, err := f.svc.Open(ctx, OpenRequest{Requester: f.buyer, PropertyID: "p", Window: MaxWindow + time.Minute}); !errors.Is(err, ErrInvalidWindow) {
		t.Errorf("oversized window = %v, want ErrInvalidWindow", err)
	}
	if _, err := f.svc.Open(ctx, OpenRequest{Requester: f.buyer, PropertyID: "p", Window: MaxWindow}); err != nil {
		t.Errorf("maximum window: %v", err)
	}
	if _, err := f.svc.Open(ctx, OpenRequest{Requester: f.buyer}); !errors.Is(err, ErrInvalidProperty) {
		t.Errorf("missing property = %v, want ErrInvalidProperty", err)
	}
}

func TestPlaceBidValidation(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(t *testing.T, f *fixture, srID string)
		agent   func(f *fixture) string
		amount  int64
		srID    string
		wantErr error
	}{
		{
			name:   "minimum bid accepted",
			agent:  func(f *fixture) string { return f.agentA },
			amount: 20,
		},
		{
			name:    "below minimum",
			agent:   func(f *fixture) string { return f.agentA },
			amount:  19,
			wantErr: ErrBidTooLow,
		},
		{
			name:    "equal to high bid",
			setup:   func(t *testing.T, f *fixture, id string) { f.bid(t, id, f.agentB, 30) },
			agent:   func(f *fixture) string { return f.agentA },
			amount:  30,
			wantErr: ErrBidTooLow,
		},
		{
			name:    "requester bidding",
			agent:   func(f *fixture) string { return f.buyer },
			amount:  30,
			wantErr: ErrSelfDealing,
		},
		{
			name:    "at close time",
			setup:   func(t *testing.T, f *fixture, id string) { f.clock.Advance(2 * time.Hour) },
			agent:   func(f *fixture) string { return f.agentA },
			amount:  30,
			wantErr: ErrAuctionClosed,
		},
		{
			name:    "unknown request",
			agent:   func(f *fixture) string { return f.agentA },
			amount:  30,
			srID:    "missing",
			wantErr: ErrNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := testSetup(t)
			sr := f.open(t)
			if tt.setup != nil {
				tt.setup(t, f, sr.ID)
			}
			id := sr.ID
			if tt.srID != "" {
				id = tt.srID
			}
			_, err := f.svc.PlaceBid(context.Background(), BidRequest{ShowingRequestID: id, AgentID: tt.agent(f), Amount: tt.amount})
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("err = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestRebidSupersedes(t *testing.T) {
	f := testSetup(t)
	sr := f.open(t)

	f.bid(t, sr.ID, f.agentA, 25)
	f.bid(t, sr.ID, f.agentB, 30)
	res := f.bid(t, sr.ID, f.agentA, 35)

	if res.Request.CurrentHighBid == nil || *res.Request.CurrentHighBid != 35 {
		t.Errorf("high bid = %v, want 35", res.Request.CurrentHighBid)
	}
	byAgent := bidsByAgent(t, f, sr.ID)
	statuses := map[int64]BidStatus{}
	for _, b := range byAgent[f.agentA] {
		statuses[b.BidAmount] = b.Status
	}
	if statuses[25] != BidSuperseded || statuses[35] != BidActive {
		t.Errorf("agent A bids = %v", statuses)
	}
}

// A bid at the instant-win threshold ends the auction immediately.
func TestInstantWin(t *testing.T) {
	f := testSetup(t)
	ctx := context.Background()
	sr := f.open(t)

	f.bid(t, sr.ID, f.agentA, 25)
	res := f.bid(t, sr.ID, f.agentB, 50)

	if !res.InstantWin {
		t.Fatal("expected instant win")
	}
	if res.Request.Status != StatusAwarded || *res.Request.WinningAgent != f.agentB || *res.Request.WinningBidAmount != 50 {
		t.Errorf("request = %+v", res.Request)
	}
	if res.Bid.Status != BidWinning {
		t.Errorf("bid status = %s, want winning", res.Bid.Status)
	}

	byAgent := bidsByAgent(t, f, sr.ID)
	if byAgent[f.agentA][0].Status != BidLost {
		t.Errorf("agent A bid = %s, want lost", byAgent[f.agentA][0].Status)
	}

	if _, err := f.svc.PlaceBid(ctx, BidRequest{ShowingRequestID: sr.ID, AgentID: f.agentC, Amount: 60}); !errors.Is(err, ErrAuctionClosed) {
		t.Errorf("late bid = %v, want ErrAuctionClosed", err)
	}

	// escrow stays held until completion
	if bal := testutil.Balance(t, f.db, f.buyer); bal != 50 {
		t.Errorf("buyer balance = %d, want 50", bal)
	}
	if len(f.notes.For(f.agentB)) != 1 || len(f.notes.For(f.buyer)) != 1 {
		t.Errorf("notes = %+v", f.notes.Notes)
	}
}

func TestResolveExpiredAwardsHighest(t *testing.T) {
	f := testSetup(t)
	ctx := context.Background()
	sr := f.open(t)

	f.bid(t, sr.ID, f.agentA, 25)
	f.clock.Advance(time.Minute)
	f.bid(t, sr.ID, f.agentB, 30)
	f.clock.Advance(time.Minute)
	f.bid(t, sr.ID, f.agentC, 45)

	f.clock.Advance(2 * time.Hour)
	sum, err := f.svc.ResolveExpired(ctx)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if sum.Awarded != 1 || sum.Cancelled != 0 || sum.Failed != 0 {
		t.Errorf("summary = %+v", sum)
	}

	again, err := f.svc.ResolveExpired(ctx)
	if err != nil {
		t.Fatalf("second resolve: %v", err)
	}
	if again != (ResolveSummary{}) {
		t.Errorf("second summary = %+v, want empty", again)
	}

	got, _ := f.svc.Get(ctx, sr.ID)
	if got.Status != StatusAwarded || *got.WinningAgent != f.agentC || *got.WinningBidAmount != 45 {
		t.Errorf("request = %+v", got)
	}

	winners := 0
	for _, bids := range bidsByAgent(t, f, sr.ID) {
		for _, b := range bids {
			if b.Status == BidWinning {
				winners++
			}
			if b.Status == BidActive {
				t.Errorf("bid %s still active after resolution", b.ID)
			}
		}
	}
	if winners != 1 {
		t.Errorf("winning bids = %d, want 1", winners)
	}
}

func TestZeroBidsRefundOnce(t *testing.T) {
	f := testSetup(t)
	ctx := context.Background()
	sr := f.open(t)
	if bal := testutil.Balance(t, f.db, f.buyer); bal != 50 {
		t.Fatalf("balance after open = %d, want 50", bal)
	}

	f.clock.Advance(2 * time.Hour)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := f.svc.ResolveExpired(ctx); err != nil {
				t.Errorf("resolve: %v", err)
			}
		}()
	}
	wg.Wait()

	got, err := f.svc.Get(ctx, sr.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != StatusCancelled || got.WinningAgent != nil {
		t.Errorf("request = %+v, want cancelled with no winner", got)
	}
	if bal := testutil.Balance(t, f.db, f.buyer); bal != 100 {
		t.Errorf("buyer balance = %d, want 100 (refunded exactly once)", bal)
	}
	f.reconcile(t, f.buyer)

	entries, _ := ledger.New(f.db).Entries(ctx, f.buyer, 10)
	refunds := 0
	for _, e := range entries {
		if e.Reason == ledger.ReasonEscrowRefund {
			refunds++
		}
	}
	if refunds != 1 {
		t.Errorf("refund entries = %d, want 1", refunds)
	}
	if notes := f.notes.For(f.buyer); len(notes) != 1 {
		t.Errorf("buyer notes = %+v", notes)
	}
}

func TestLazyResolveOnGet(t *testing.T) {
	f := testSetup(t)
	ctx := context.Background()
	sr := f.open(t)
	f.bid(t, sr.ID, f.agentA, 30)

	f.clock.Advance(2*time.Hour + time.Second)
	got, err := f.svc.Get(ctx, sr.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != StatusAwarded || *got.WinningAgent != f.agentA {
		t.Errorf("request = %+v, want awarded to agent A", got)
	}

	open, err := f.svc.ListBidding(ctx, 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(open) != 0 {
		t.Errorf("bidding = %d, want 0", len(open))
	}
}

func TestConcurrentBids(t *testing.T) {
	f := testSetup(t)
	ctx := context.Background()
	sr := f.open(t)

	agents := []string{f.agentA, f.agentB, f.agentC}
	for i := 0; i < 5; i++ {
		agents = append(agents, testutil.SeedAccount(t, f.db, "agent", 0))
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	var accepted []int64
	for i, agent := range agents {
		wg.Add(1)
		go func(agent string, amount int64) {
			defer wg.Done()
			_, err := f.svc.PlaceBid(ctx, BidRequest{ShowingRequestID: sr.ID, AgentID: agent, Amount: amount})
			if err == nil {
				mu.Lock()
				accepted = append(accepted, amount)
				mu.Unlock()
				return
			}
			if !errors.Is(err, ErrBidTooLow) && !errors.Is(err, ErrConflict) {
				t.Errorf("bid %d: %v", amount, err)
			}
		}(agent, int64(21+i*3))
	}
	wg.Wait()

	if len(accepted) == 0 {
		t.Fatal("no bid accepted")
	}
	var max int64
	for _, a := range accepted {
		if a > max {
			max = a
		}
	}
	got, _ := f.svc.Get(ctx, sr.ID)
	if got.CurrentHighBid == nil || *got.CurrentHighBid != max {
		t.Errorf("high bid = %v, want %d", got.CurrentHighBid, max)
	}

	f.clock.Advance(2 * time.Hour)
	got, _ = f.svc.Get(ctx, sr.ID)
	if got.Status != StatusAwarded || *got.WinningBidAmount != max {
		t.Errorf("request = %+v, want awarded at %d", got, max)
	}
}

func awardedRequest(t *testing.T, f *fixture) *ShowingRequest {
	t.Helper()
	sr := f.open(t)
	res := f.bid(t, sr.ID, f.agentA, 50)
	if !res.InstantWin {
		t.Fatal("setup: expected instant win")
	}
	return &res.Request
}

func TestConfirmHandshake(t *testing.T) {
	f := testSetup(t)
	ctx := context.Background()
	sr := awardedRequest(t, f)

	got, err := f.svc.Confirm(ctx, sr.ID, f.agentA, account.RoleAgent)
	if err != nil {
		t.Fatalf("agent confirm: %v", err)
	}
	if got.Status != StatusAwarded || got.AgentConfirmedAt == nil || got.BuyerConfirmedAt != nil {
		t.Errorf("after agent confirm = %+v", got)
	}

	// repeat is harmless and keeps the first timestamp
	first := *got.AgentConfirmedAt
	f.clock.Advance(time.Minute)
	got, err = f.svc.Confirm(ctx, sr.ID, f.agentA, account.RoleAgent)
	if err != nil {
		t.Fatalf("repeat confirm: %v", err)
	}
	if !got.AgentConfirmedAt.Equal(first) {
		t.Errorf("agent_confirmed_at moved from %v to %v", first, got.AgentConfirmedAt)
	}

	got, err = f.svc.Confirm(ctx, sr.ID, f.buyer, account.RoleBuyer)
	if err != nil {
		t.Fatalf("buyer confirm: %v", err)
	}
	if got.Status != StatusConfirmed {
		t.Errorf("status = %s, want confirmed", got.Status)
	}
	if len(f.notes.For(f.buyer)) < 2 {
		t.Errorf("buyer notes = %+v", f.notes.For(f.buyer))
	}

	done, err := f.svc.Complete(ctx, sr.ID)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if done.Status != StatusCompleted {
		t.Errorf("status = %s, want completed", done.Status)
	}
	if bal := testutil.Balance(t, f.db, f.agentA); bal != 50 {
		t.Errorf("agent balance = %d, want 50 (escrow payout)", bal)
	}
	if _, err := f.svc.Complete(ctx, sr.ID); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("second complete = %v, want ErrInvalidTransition", err)
	}
	f.reconcile(t, f.buyer, f.agentA)
}

func TestConfirmErrors(t *testing.T) {
	tests := []struct {
		name    string
		awarded bool
		actor   func(f *fixture) string
		role    account.Role
		wantErr error
	}{
		{"losing agent", true, func(f *fixture) string { return f.agentB }, account.RoleAgent, ErrNotParticipant},
		{"other buyer", true, func(f *fixture) string { return f.agentB }, account.RoleBuyer, ErrNotParticipant},
		{"admin role", true, func(f *fixture) string { return f.buyer }, account.RoleAdmin, ErrInvalidRole},
		{"still bidding", false, func(f *fixture) string { return f.buyer }, account.RoleBuyer, ErrInvalidTransition},
		{"agent while bidding", false, func(f *fixture) string { return f.agentA }, account.RoleAgent, ErrInvalidTransition},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := testSetup(t)
			var id string
			if tt.awarded {
				id = awardedRequest(t, f).ID
			} else {
				id = f.open(t).ID
			}
			_, err := f.svc.Confirm(context.Background(), id, tt.actor(f), tt.role)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("err = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestCompleteRequiresConfirmed(t *testing.T) {
	f := testSetup(t)
	ctx := context.Background()
	sr := awardedRequest(t, f)

	if _, err := f.svc.Complete(ctx, sr.ID); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("complete awarded = %v, want ErrInvalidTransition", err)
	}
	if _, err := f.svc.Complete(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("complete missing = %v, want ErrNotFound", err)
	}
	if bal := testutil.Balance(t, f.db, f.agentA); bal != 0 {
		t.Errorf("agent balance = %d, want 0", bal)
	}
}

func TestListForAccount(t *testing.T) {
	f := testSetup(t)
	ctx := context.Background()
	sr := f.open(t)
	f.bid(t, sr.ID, f.agentB, 25)

	for _, acct := range []string{f.buyer, f.agentB} {
		list, err := f.svc.ListForAccount(ctx, acct, 10)
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		if len(list) != 1 || list[0].ID != sr.ID {
			t.Errorf("list for %s = %+v", acct, list)
		}
	}
	if list, _ := f.svc.ListForAccount(ctx, f.agentC, 10); len(list) != 0 {
		t.Errorf("uninvolved agent sees %d requests", len(list))
	}
}
