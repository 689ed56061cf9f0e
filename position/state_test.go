package position

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func d(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

func TestBuyObservation_BasisRatchetsDownOnly(t *testing.T) {
	sm := New(4 * time.Hour)
	t0 := time.Now()

	if !sm.StartBuyObservation(t0, d(3400000)) {
		t.Fatal("buy observation should start from FLAT")
	}

	// Lower price ratchets the basis down
	sm.UpdateBuyBasis(d(3398000))
	basis, observing := sm.BasisPrice()
	if !observing {
		t.Fatal("expected an active observation")
	}
	if !basis.Equal(d(3398000)) {
		t.Errorf("expected basis 3398000, got %s", basis)
	}

	// Higher price never moves it back up
	sm.UpdateBuyBasis(d(3402000))
	basis, _ = sm.BasisPrice()
	if !basis.Equal(d(3398000)) {
		t.Errorf("basis must not ratchet up, got %s", basis)
	}
}

func TestBuyTriggerAndExecute(t *testing.T) {
	sm := New(4 * time.Hour)
	t0 := time.Now()

	sm.StartBuyObservation(t0, d(3400000))
	sm.UpdateBuyBasis(d(3398000))

	if sm.CheckBuyTrigger(d(3397000)) {
		t.Error("price below basis must not trigger a buy")
	}
	if !sm.CheckBuyTrigger(d(3399000)) {
		t.Error("price above the ratcheted basis must trigger")
	}

	seq := sm.ExecuteBuy(t0.Add(time.Hour), d(3399000))
	if seq != 1 {
		t.Fatalf("expected sequence 1, got %d", seq)
	}

	s := sm.Summary()
	if !s.Long {
		t.Error("expected LONG after buy")
	}
	if s.Observing {
		t.Error("observation must clear on execution")
	}
}

func TestSellObservation_BasisRatchetsUpOnly(t *testing.T) {
	sm := New(4 * time.Hour)
	t0 := time.Now()

	sm.ExecuteBuy(t0, d(3400000))
	if !sm.StartSellObservation(t0.Add(time.Minute), d(3410000)) {
		t.Fatal("sell observation should start from LONG")
	}

	sm.UpdateSellBasis(d(3415000))
	basis, _ := sm.BasisPrice()
	if !basis.Equal(d(3415000)) {
		t.Errorf("expected basis 3415000, got %s", basis)
	}

	sm.UpdateSellBasis(d(3405000))
	basis, _ = sm.BasisPrice()
	if !basis.Equal(d(3415000)) {
		t.Errorf("basis must not ratchet down, got %s", basis)
	}

	if !sm.CheckSellTrigger(d(3414000)) {
		t.Error("price below the ratcheted basis must trigger a sell")
	}
}

func TestStrictAlternation(t *testing.T) {
	sm := New(4 * time.Hour)
	t0 := time.Now()

	if seq := sm.ExecuteBuy(t0, d(100)); seq != 1 {
		t.Fatalf("first buy: expected sequence 1, got %d", seq)
	}
	if seq := sm.ExecuteBuy(t0.Add(time.Minute), d(99)); seq != 0 {
		t.Fatalf("second consecutive buy must fail, got %d", seq)
	}
	if s := sm.Summary(); !s.Long {
		t.Error("failed buy must leave position LONG")
	}

	if seq := sm.ExecuteSell(t0.Add(2*time.Minute), d(105)); seq != 1 {
		t.Fatalf("sell: expected sequence 1, got %d", seq)
	}
	if seq := sm.ExecuteSell(t0.Add(3*time.Minute), d(106)); seq != 0 {
		t.Fatalf("second consecutive sell must fail, got %d", seq)
	}
	if s := sm.Summary(); s.Long {
		t.Error("failed sell must leave position FLAT")
	}
}

func TestSellFromFlatFails(t *testing.T) {
	sm := New(4 * time.Hour)

	if seq := sm.ExecuteSell(time.Now(), d(100)); seq != 0 {
		t.Fatalf("sell from FLAT must fail, got %d", seq)
	}
	if sm.StartSellObservation(time.Now(), d(100)) {
		t.Error("sell observation from FLAT must be rejected")
	}
}

func TestLIFOPairingAndProfit(t *testing.T) {
	sm := New(4 * time.Hour)
	t0 := time.Now()

	sm.ExecuteBuy(t0, d(100))
	sm.ExecuteSell(t0.Add(time.Minute), d(110))
	sm.ExecuteBuy(t0.Add(2*time.Minute), d(105))
	sm.ExecuteSell(t0.Add(3*time.Minute), d(103))

	pairs := sm.ClosedPairs()
	if len(pairs) != 2 {
		t.Fatalf("expected 2 closed pairs, got %d", len(pairs))
	}
	if !pairs[0].Profit.Equal(d(10)) {
		t.Errorf("first pair profit: expected 10, got %s", pairs[0].Profit)
	}
	if !pairs[1].Profit.Equal(d(-2)) {
		t.Errorf("second pair profit: expected -2, got %s", pairs[1].Profit)
	}

	s := sm.Summary()
	if s.BuyCount != 2 || s.SellCount != 2 {
		t.Errorf("expected 2 buys and 2 sells, got %d/%d", s.BuyCount, s.SellCount)
	}
	if !s.TotalProfit.Equal(d(8)) {
		t.Errorf("expected total profit 8, got %s", s.TotalProfit)
	}
	if len(sm.History()) != 4 {
		t.Errorf("expected 4 history events, got %d", len(sm.History()))
	}
}

func TestObservationExpiry(t *testing.T) {
	sm := New(time.Hour)
	t0 := time.Now()

	sm.StartBuyObservation(t0, d(100))
	if sm.IsObservationExpired(t0.Add(30 * time.Minute)) {
		t.Error("observation must not expire before its duration")
	}
	if !sm.IsObservationExpired(t0.Add(61 * time.Minute)) {
		t.Error("observation must expire after its duration")
	}
}

func TestDoubleObservationRejected(t *testing.T) {
	sm := New(4 * time.Hour)
	t0 := time.Now()

	sm.StartBuyObservation(t0, d(100))
	if sm.StartBuyObservation(t0, d(99)) {
		t.Error("a second observation must be rejected while one runs")
	}
	if sm.CanOpenBuy() {
		t.Error("CanOpenBuy must be false while observing")
	}
}

func TestCancelObservationReopensGate(t *testing.T) {
	sm := New(4 * time.Hour)
	t0 := time.Now()

	sm.StartBuyObservation(t0, d(100))
	sm.CancelObservation()

	if s := sm.Summary(); s.Observing {
		t.Error("cancel must clear the observation")
	}
	if !sm.CanOpenBuy() {
		t.Error("a cancelled observation must reopen the buy gate")
	}
	if _, ok := sm.BasisPrice(); ok {
		t.Error("no basis after cancel")
	}

	// Cancel without an observation is a no-op
	sm.CancelObservation()
	if seq := sm.ExecuteBuy(t0, d(100)); seq != 1 {
		t.Errorf("state must stay executable after cancels, got seq %d", seq)
	}
}
