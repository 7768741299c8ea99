package swap

import (
	"errors"
	"math/big"
	"testing"

	"comclear/core/state"
	"comclear/native/oracle"
	"comclear/native/reputation"
	"comclear/storage"
)

func testAddr(b byte) [20]byte {
	var addr [20]byte
	addr[19] = b
	return addr
}

type testEnv struct {
	engine *Engine
	state  *state.Manager
	rep    *reputation.Ledger
	feed   *oracle.ManualFeed
	now    int64
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	manager := state.NewManager(storage.NewMemDB())
	rep := reputation.NewLedger(manager)
	feed := oracle.NewManualFeed()
	engine := NewEngine(rep)
	engine.SetState(manager)
	engine.SetFeed(feed)
	env := &testEnv{engine: engine, state: manager, rep: rep, feed: feed, now: 1_000}
	engine.SetNowFunc(func() int64 { return env.now })
	return env
}

func (env *testEnv) fund(t *testing.T, addr [20]byte, amount int64) {
	t.Helper()
	if err := env.state.Credit(addr, big.NewInt(amount)); err != nil {
		t.Fatalf("fund %x: %v", addr, err)
	}
}

func (env *testEnv) balance(t *testing.T, addr [20]byte) int64 {
	t.Helper()
	account, err := env.state.GetAccount(addr[:])
	if err != nil {
		t.Fatalf("balance %x: %v", addr, err)
	}
	return account.Balance.Int64()
}

func (env *testEnv) score(t *testing.T, addr [20]byte) uint64 {
	t.Helper()
	score, err := env.rep.Score(addr)
	if err != nil {
		t.Fatalf("score %x: %v", addr, err)
	}
	return score
}

func (env *testEnv) materialize(t *testing.T, partyA, partyB [20]byte, times []int64) *Swap {
	t.Helper()
	s, err := env.engine.Materialize(MaterializeParams{
		RequestID:          1,
		Creator:            partyA,
		Acceptor:           partyB,
		Commodity:          "WTI",
		Quantity:           big.NewInt(2),
		ReferencePrice:     big.NewInt(50),
		Mode:               PricingOracle,
		OracleHandle:       "WTI",
		CollateralPerParty: big.NewInt(100),
		Maturity:           10_000,
		SettlementTimes:    times,
	})
	if err != nil {
		t.Fatalf("materialize: %v", err)
	}
	return s
}

func (env *testEnv) post(t *testing.T, price int64) {
	t.Helper()
	if err := env.feed.Post("WTI", big.NewInt(price), env.now); err != nil {
		t.Fatalf("post price: %v", err)
	}
}

func TestSettleZeroDiffRewardsBothParties(t *testing.T) {
	env := newTestEnv(t)
	partyA, partyB := testAddr(1), testAddr(2)
	if err := env.rep.SetScore(partyA, 10); err != nil {
		t.Fatalf("seed score: %v", err)
	}
	if err := env.rep.SetScore(partyB, 10); err != nil {
		t.Fatalf("seed score: %v", err)
	}
	s := env.materialize(t, partyA, partyB, []int64{2_000, 3_000})

	env.now = 2_000
	env.post(t, 50)
	result, err := env.engine.Settle(s.ID)
	if err != nil {
		t.Fatalf("settle: %v", err)
	}
	if result.PriceDiff.Sign() != 0 {
		t.Fatalf("expected zero diff, got %s", result.PriceDiff)
	}
	if result.AmountPaid.Sign() != 0 {
		t.Fatalf("expected no payment, got %s", result.AmountPaid)
	}
	if result.Finished {
		t.Fatalf("swap should not be finished after the first of two rounds")
	}
	if got := env.score(t, partyA); got != 11 {
		t.Fatalf("party A score = %d, want 11", got)
	}
	if got := env.score(t, partyB); got != 11 {
		t.Fatalf("party B score = %d, want 11", got)
	}
	stored, err := env.engine.GetSwap(s.ID)
	if err != nil {
		t.Fatalf("get swap: %v", err)
	}
	if stored.CurrentRound != 1 {
		t.Fatalf("current round = %d, want 1", stored.CurrentRound)
	}
	if stored.CollateralA.Int64() != 100 || stored.CollateralB.Int64() != 100 {
		t.Fatalf("collateral moved on a zero-diff round: A=%s B=%s", stored.CollateralA, stored.CollateralB)
	}
}

func TestSettleExactPaymentRaisesUnderCollateralDeficit(t *testing.T) {
	env := newTestEnv(t)
	partyA, partyB := testAddr(1), testAddr(2)
	s := env.materialize(t, partyA, partyB, []int64{2_000, 3_000})

	env.now = 2_000
	env.post(t, 60)
	result, err := env.engine.Settle(s.ID)
	if err != nil {
		t.Fatalf("settle: %v", err)
	}
	// diff = +10, quantity 2: B owes 20, staying within collateral.
	if result.Winner != partyA {
		t.Fatalf("winner = %x, want party A", result.Winner)
	}
	if result.AmountPaid.Int64() != 20 {
		t.Fatalf("amount paid = %s, want 20", result.AmountPaid)
	}
	if got := env.balance(t, partyA); got != 20 {
		t.Fatalf("winner balance = %d, want 20", got)
	}
	if result.NewDeficit == nil || result.NewDeficit.Kind != DeficitUnderCollateral {
		t.Fatalf("expected an under-collateral deficit, got %+v", result.NewDeficit)
	}
	if result.NewDeficit.Amount.Int64() != 20 {
		t.Fatalf("deficit amount = %s, want 20", result.NewDeficit.Amount)
	}
	wantDeadline := env.now + int64(DefaultGracePeriod.Seconds())
	if result.NewDeficit.Deadline != wantDeadline {
		t.Fatalf("deficit deadline = %d, want %d", result.NewDeficit.Deadline, wantDeadline)
	}
	// No reward when the round raised a margin call.
	if got := env.score(t, partyA); got != 0 {
		t.Fatalf("party A score = %d, want 0", got)
	}
	stored, err := env.engine.GetSwap(s.ID)
	if err != nil {
		t.Fatalf("get swap: %v", err)
	}
	if stored.CollateralB.Int64() != 80 {
		t.Fatalf("loser collateral = %s, want 80", stored.CollateralB)
	}
	if stored.DeficitB == nil || stored.DeficitA != nil {
		t.Fatalf("deficit should rest on party B only: A=%+v B=%+v", stored.DeficitA, stored.DeficitB)
	}
}

func TestSettleFullShortfallPaysEntireCollateral(t *testing.T) {
	env := newTestEnv(t)
	partyA, partyB := testAddr(1), testAddr(2)
	s := env.materialize(t, partyA, partyB, []int64{2_000, 3_000})

	env.now = 2_000
	env.post(t, 125) // diff +75, quantity 2: B owes 150 against 100 collateral.
	result, err := env.engine.Settle(s.ID)
	if err != nil {
		t.Fatalf("settle: %v", err)
	}
	if result.AmountPaid.Int64() != 100 {
		t.Fatalf("amount paid = %s, want 100", result.AmountPaid)
	}
	if got := env.balance(t, partyA); got != 100 {
		t.Fatalf("winner balance = %d, want 100", got)
	}
	if result.NewDeficit == nil || result.NewDeficit.Kind != DeficitFullShortfall {
		t.Fatalf("expected a full-shortfall deficit, got %+v", result.NewDeficit)
	}
	if result.NewDeficit.Amount.Int64() != 50 {
		t.Fatalf("deficit amount = %s, want 50", result.NewDeficit.Amount)
	}
	if result.Finished {
		t.Fatalf("swap must stay alive through the grace window")
	}
	stored, err := env.engine.GetSwap(s.ID)
	if err != nil {
		t.Fatalf("get swap: %v", err)
	}
	if stored.CollateralB.Sign() != 0 {
		t.Fatalf("loser collateral = %s, want 0", stored.CollateralB)
	}
	if !stored.Active {
		t.Fatalf("swap finalized while a margin call was pending")
	}
}

func TestSettleBlockedWhileDeficitLive(t *testing.T) {
	env := newTestEnv(t)
	partyA, partyB := testAddr(1), testAddr(2)
	s := env.materialize(t, partyA, partyB, []int64{2_000, 3_000})

	env.now = 2_000
	env.post(t, 125)
	if _, err := env.engine.Settle(s.ID); err != nil {
		t.Fatalf("settle: %v", err)
	}

	// Round two is due but the grace window has not expired.
	env.now = 3_000
	env.post(t, 50)
	if _, err := env.engine.Settle(s.ID); !errors.Is(err, ErrDeficitOutstanding) {
		t.Fatalf("settle error = %v, want ErrDeficitOutstanding", err)
	}
	stored, err := env.engine.GetSwap(s.ID)
	if err != nil {
		t.Fatalf("get swap: %v", err)
	}
	if stored.DeficitB == nil || stored.DeficitB.Amount.Int64() != 50 {
		t.Fatalf("rejected settle must leave the deficit untouched: %+v", stored.DeficitB)
	}
	if stored.CurrentRound != 1 {
		t.Fatalf("rejected settle advanced the round: %d", stored.CurrentRound)
	}
}

func TestSettleSweepsExpiredDeficit(t *testing.T) {
	env := newTestEnv(t)
	partyA, partyB := testAddr(1), testAddr(2)
	if err := env.rep.SetScore(partyB, 10); err != nil {
		t.Fatalf("seed score: %v", err)
	}
	s := env.materialize(t, partyA, partyB, []int64{2_000, 3_000})

	env.now = 2_000
	env.post(t, 125)
	if _, err := env.engine.Settle(s.ID); err != nil {
		t.Fatalf("settle: %v", err)
	}

	// Let the grace window lapse, then settle the next round.
	env.now = 2_000 + int64(DefaultGracePeriod.Seconds()) + 1
	env.post(t, 50)
	result, err := env.engine.Settle(s.ID)
	if err != nil {
		t.Fatalf("settle after expiry: %v", err)
	}
	// The sweep slashed 5 and the zero-diff round then rewarded 1.
	if got := env.score(t, partyB); got != 6 {
		t.Fatalf("debtor score = %d, want 10-5+1=6", got)
	}
	if !result.Finished {
		// Round two was the final round and party B's collateral is zero
		// with no deficit left, so the swap finalizes.
		t.Fatalf("expected finalization after the last round")
	}
	stored, err := env.engine.GetSwap(s.ID)
	if err != nil {
		t.Fatalf("get swap: %v", err)
	}
	if stored.Active || !stored.Finished {
		t.Fatalf("swap not finalized: active=%v finished=%v", stored.Active, stored.Finished)
	}
	if stored.DeficitA != nil || stored.DeficitB != nil {
		t.Fatalf("deficits survived finalization")
	}
	// Party A got the round-one payout plus its own collateral back, and
	// nothing for the forgiven debt.
	if got := env.balance(t, partyA); got != 200 {
		t.Fatalf("party A balance = %d, want 200", got)
	}
}

func TestSettleOracleFaultLeavesStateUntouched(t *testing.T) {
	env := newTestEnv(t)
	partyA, partyB := testAddr(1), testAddr(2)
	if err := env.rep.SetScore(partyB, 10); err != nil {
		t.Fatalf("seed score: %v", err)
	}
	s := env.materialize(t, partyA, partyB, []int64{2_000, 3_000})

	env.now = 2_000
	env.post(t, 125)
	if _, err := env.engine.Settle(s.ID); err != nil {
		t.Fatalf("settle: %v", err)
	}

	// Grace expired, but the quote is stale: the sweep must be discarded.
	env.now = 2_000 + int64(DefaultGracePeriod.Seconds()) + 10
	if err := env.feed.Post("WTI", big.NewInt(50), 2_000); err != nil {
		t.Fatalf("post stale price: %v", err)
	}
	if _, err := env.engine.Settle(s.ID); !errors.Is(err, ErrOracleStale) {
		t.Fatalf("settle error = %v, want ErrOracleStale", err)
	}
	if got := env.score(t, partyB); got != 10 {
		t.Fatalf("rejected settle slashed reputation: score = %d", got)
	}
	stored, err := env.engine.GetSwap(s.ID)
	if err != nil {
		t.Fatalf("get swap: %v", err)
	}
	if stored.DeficitB == nil {
		t.Fatalf("rejected settle cleared the deficit")
	}
}

func TestSettleRejectsBeforeDueTime(t *testing.T) {
	env := newTestEnv(t)
	s := env.materialize(t, testAddr(1), testAddr(2), []int64{2_000})

	env.now = 1_500
	env.post(t, 50)
	if _, err := env.engine.Settle(s.ID); !errors.Is(err, ErrRoundNotDue) {
		t.Fatalf("settle error = %v, want ErrRoundNotDue", err)
	}
}

func TestSettleFinalRoundRefundsCollateral(t *testing.T) {
	env := newTestEnv(t)
	partyA, partyB := testAddr(1), testAddr(2)
	s := env.materialize(t, partyA, partyB, []int64{2_000})

	env.now = 2_000
	env.post(t, 50)
	result, err := env.engine.Settle(s.ID)
	if err != nil {
		t.Fatalf("settle: %v", err)
	}
	if !result.Finished {
		t.Fatalf("single-round swap should finalize")
	}
	if got := env.balance(t, partyA); got != 100 {
		t.Fatalf("party A refund = %d, want 100", got)
	}
	if got := env.balance(t, partyB); got != 100 {
		t.Fatalf("party B refund = %d, want 100", got)
	}
	if _, err := env.engine.Settle(s.ID); !errors.Is(err, ErrSwapInactive) {
		t.Fatalf("settle on finished swap = %v, want ErrSwapInactive", err)
	}
}

func TestSettleStalePriceRejectedFreshAccepted(t *testing.T) {
	env := newTestEnv(t)
	s := env.materialize(t, testAddr(1), testAddr(2), []int64{2_000})

	env.now = 2_000 + int64(DefaultMaxOracleDelay.Seconds()) + 100
	if err := env.feed.Post("WTI", big.NewInt(50), 2_000); err != nil {
		t.Fatalf("post: %v", err)
	}
	if _, err := env.engine.Settle(s.ID); !errors.Is(err, ErrOracleStale) {
		t.Fatalf("settle error = %v, want ErrOracleStale", err)
	}
	if err := env.feed.Post("WTI", big.NewInt(50), env.now); err != nil {
		t.Fatalf("post: %v", err)
	}
	if _, err := env.engine.Settle(s.ID); err != nil {
		t.Fatalf("settle with fresh quote: %v", err)
	}
}

func TestSettleMissingHandleRejected(t *testing.T) {
	env := newTestEnv(t)
	s := env.materialize(t, testAddr(1), testAddr(2), []int64{2_000})

	env.now = 2_000
	if _, err := env.engine.Settle(s.ID); !errors.Is(err, ErrOracleUnavailable) {
		t.Fatalf("settle error = %v, want ErrOracleUnavailable", err)
	}
}

func TestFixedModeSettlesAtReferencePrice(t *testing.T) {
	env := newTestEnv(t)
	partyA, partyB := testAddr(1), testAddr(2)
	s, err := env.engine.Materialize(MaterializeParams{
		RequestID:          7,
		Creator:            partyA,
		Acceptor:           partyB,
		Commodity:          "BRENT",
		Quantity:           big.NewInt(3),
		ReferencePrice:     big.NewInt(80),
		Mode:               PricingFixed,
		CollateralPerParty: big.NewInt(60),
		Maturity:           10_000,
		SettlementTimes:    []int64{2_000, 3_000},
	})
	if err != nil {
		t.Fatalf("materialize: %v", err)
	}

	env.now = 2_000
	result, err := env.engine.Settle(s.ID)
	if err != nil {
		t.Fatalf("settle: %v", err)
	}
	if result.PriceDiff.Sign() != 0 || result.AmountPaid.Sign() != 0 {
		t.Fatalf("fixed mode must settle at the reference price: diff=%s paid=%s",
			result.PriceDiff, result.AmountPaid)
	}
	if got := env.score(t, partyA); got != 1 {
		t.Fatalf("party A score = %d, want 1", got)
	}
}

func TestSettleConservesFunds(t *testing.T) {
	env := newTestEnv(t)
	partyA, partyB := testAddr(1), testAddr(2)
	env.fund(t, partyB, 500)
	s := env.materialize(t, partyA, partyB, []int64{2_000, 3_000, 4_000})

	total := func() int64 {
		stored, err := env.engine.GetSwap(s.ID)
		if err != nil {
			t.Fatalf("get swap: %v", err)
		}
		return env.balance(t, partyA) + env.balance(t, partyB) +
			stored.CollateralA.Int64() + stored.CollateralB.Int64()
	}
	initial := total()

	env.now = 2_000
	env.post(t, 60)
	if _, err := env.engine.Settle(s.ID); err != nil {
		t.Fatalf("settle round 1: %v", err)
	}
	if got := total(); got != initial {
		t.Fatalf("conservation broken after round 1: %d != %d", got, initial)
	}

	// Party B restores the floor, clearing the under-collateral call.
	if err := env.engine.TopUpCollateral(s.ID, partyB, big.NewInt(40)); err != nil {
		t.Fatalf("top up: %v", err)
	}
	if got := total(); got != initial {
		t.Fatalf("conservation broken after top-up: %d != %d", got, initial)
	}

	env.now = 3_000
	env.post(t, 50)
	if _, err := env.engine.Settle(s.ID); err != nil {
		t.Fatalf("settle round 2: %v", err)
	}
	env.now = 4_000
	env.post(t, 50)
	result, err := env.engine.Settle(s.ID)
	if err != nil {
		t.Fatalf("settle round 3: %v", err)
	}
	if got := total(); got != initial {
		t.Fatalf("conservation broken at finalization: %d != %d", got, initial)
	}
	if !result.Finished {
		t.Fatalf("expected finalization after the last round")
	}
}
