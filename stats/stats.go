package stats

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/dyntrade/tracker/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// STATISTICS - Running aggregate over executed trade results
// ═══════════════════════════════════════════════════════════════════════════════
//
// Updated incrementally per result; never recomputed from scratch on
// the hot path.
//
// ═══════════════════════════════════════════════════════════════════════════════

// Tracker accumulates trade result statistics
type Tracker struct {
	mu sync.RWMutex

	total     int
	buyCount  int
	sellCount int
	byReason  map[types.ExecutionReason]int

	successCount     int
	improvementSum   decimal.Decimal
	bestImprovement  decimal.Decimal
	worstImprovement decimal.Decimal

	durationSum time.Duration
}

// New creates an empty tracker
func New() *Tracker {
	return &Tracker{
		byReason:       make(map[types.ExecutionReason]int),
		improvementSum: decimal.Zero,
	}
}

// Record folds one trade result into the aggregate
func (t *Tracker) Record(r types.DynamicTradeResult) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.total++
	if r.SignalType == types.SignalBuy {
		t.buyCount++
	} else {
		t.sellCount++
	}
	t.byReason[r.ExecutionReason]++

	if r.PriceImprovement.IsPositive() {
		t.successCount++
	}
	t.improvementSum = t.improvementSum.Add(r.PriceImprovement)
	if t.total == 1 || r.PriceImprovement.GreaterThan(t.bestImprovement) {
		t.bestImprovement = r.PriceImprovement
	}
	if t.total == 1 || r.PriceImprovement.LessThan(t.worstImprovement) {
		t.worstImprovement = r.PriceImprovement
	}

	t.durationSum += r.TrackingDuration
}

// Snapshot returns the current aggregate. Safe to call concurrently
// with Record.
func (t *Tracker) Snapshot() types.TrackingStatistics {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := types.TrackingStatistics{
		TotalTrades:      t.total,
		BuyTrades:        t.buyCount,
		SellTrades:       t.sellCount,
		ByReason:         make(map[types.ExecutionReason]int, len(t.byReason)),
		SuccessCount:     t.successCount,
		ImprovementSum:   t.improvementSum,
		BestImprovement:  t.bestImprovement,
		WorstImprovement: t.worstImprovement,
	}
	for k, v := range t.byReason {
		out.ByReason[k] = v
	}

	if t.total > 0 {
		out.SuccessRate = float64(t.successCount) / float64(t.total)
		out.AvgImprovement = t.improvementSum.Div(decimal.NewFromInt(int64(t.total)))
		out.AvgDuration = t.durationSum / time.Duration(t.total)
	} else {
		out.AvgImprovement = decimal.Zero
	}
	return out
}
