package stats

import (
	"math"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/dyntrade/tracker/types"
)

func result(sigType types.SignalType, reason types.ExecutionReason, improvement int64, duration time.Duration) types.DynamicTradeResult {
	return types.DynamicTradeResult{
		TradeID:          "t",
		SignalType:       sigType,
		ExecutionReason:  reason,
		PriceImprovement: decimal.NewFromInt(improvement),
		TrackingDuration: duration,
	}
}

func TestSnapshot_Empty(t *testing.T) {
	s := New().Snapshot()
	if s.TotalTrades != 0 || s.SuccessRate != 0 {
		t.Errorf("empty tracker must report zeros, got %+v", s)
	}
	if !s.AvgImprovement.IsZero() {
		t.Errorf("expected zero average, got %s", s.AvgImprovement)
	}
}

func TestRecord_Aggregates(t *testing.T) {
	tr := New()
	tr.Record(result(types.SignalBuy, types.ReasonReversal, 1000, time.Hour))
	tr.Record(result(types.SignalBuy, types.ReasonTimeout, 1500, 2*time.Hour))
	tr.Record(result(types.SignalSell, types.ReasonReversal, -500, 3*time.Hour))

	s := tr.Snapshot()

	if s.TotalTrades != 3 || s.BuyTrades != 2 || s.SellTrades != 1 {
		t.Errorf("counts wrong: %d total, %d buy, %d sell", s.TotalTrades, s.BuyTrades, s.SellTrades)
	}
	if s.ByReason[types.ReasonReversal] != 2 || s.ByReason[types.ReasonTimeout] != 1 {
		t.Errorf("reason counts wrong: %+v", s.ByReason)
	}
	if s.SuccessCount != 2 {
		t.Errorf("expected 2 successes, got %d", s.SuccessCount)
	}
	if math.Abs(s.SuccessRate-2.0/3.0) > 1e-9 {
		t.Errorf("expected success rate 0.667, got %f", s.SuccessRate)
	}

	avg, _ := s.AvgImprovement.Float64()
	if math.Abs(avg-666.6667) > 0.001 {
		t.Errorf("expected average improvement 666.67, got %f", avg)
	}
	if !s.BestImprovement.Equal(decimal.NewFromInt(1500)) {
		t.Errorf("expected best 1500, got %s", s.BestImprovement)
	}
	if !s.WorstImprovement.Equal(decimal.NewFromInt(-500)) {
		t.Errorf("expected worst -500, got %s", s.WorstImprovement)
	}
	if s.AvgDuration != 2*time.Hour {
		t.Errorf("expected average duration 2h, got %s", s.AvgDuration)
	}
}

func TestRecord_SingleNegative(t *testing.T) {
	tr := New()
	tr.Record(result(types.SignalBuy, types.ReasonTimeout, -100, time.Hour))

	s := tr.Snapshot()
	if s.SuccessRate != 0 {
		t.Errorf("expected zero success rate, got %f", s.SuccessRate)
	}
	if !s.BestImprovement.Equal(decimal.NewFromInt(-100)) {
		t.Errorf("single trade is both best and worst, got best %s", s.BestImprovement)
	}
}

func TestSnapshot_IsolatedFromLaterRecords(t *testing.T) {
	tr := New()
	tr.Record(result(types.SignalBuy, types.ReasonReversal, 1000, time.Hour))

	snap := tr.Snapshot()
	tr.Record(result(types.SignalSell, types.ReasonTimeout, 2000, time.Hour))

	if snap.TotalTrades != 1 {
		t.Errorf("snapshot must not see later records, got %d", snap.TotalTrades)
	}
	if snap.ByReason[types.ReasonTimeout] != 0 {
		t.Error("snapshot reason map must be a copy")
	}
}
