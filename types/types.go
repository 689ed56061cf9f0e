package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// ═══════════════════════════════════════════════════════════════════════════════
// SHARED TYPES - Avoid import cycles
// ═══════════════════════════════════════════════════════════════════════════════

// SignalType is the direction of a trading signal
type SignalType string

const (
	SignalBuy  SignalType = "BUY"
	SignalSell SignalType = "SELL"
)

// WindowStatus is the lifecycle state of a tracking window
type WindowStatus string

const (
	StatusActive    WindowStatus = "ACTIVE"
	StatusCompleted WindowStatus = "COMPLETED"
	StatusExpired   WindowStatus = "EXPIRED"
	StatusCancelled WindowStatus = "CANCELLED"
)

// ExecutionReason explains why a window was closed
type ExecutionReason string

const (
	ReasonReversal ExecutionReason = "REVERSAL_DETECTED"
	ReasonTimeout  ExecutionReason = "TIMEOUT"
	ReasonManual   ExecutionReason = "MANUAL"
	ReasonSystem   ExecutionReason = "SYSTEM"
)

// Priority is advisory ranking for scheduled windows
type Priority int

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
	PriorityCritical
)

func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "LOW"
	case PriorityHigh:
		return "HIGH"
	case PriorityCritical:
		return "CRITICAL"
	default:
		return "NORMAL"
	}
}

// PricePoint is a single observed market sample inside a window.
// Immutable once appended to a window's history.
type PricePoint struct {
	Timestamp        time.Time
	Price            decimal.Decimal
	Volume           decimal.Decimal
	IsExtreme        bool
	ReversalStrength float64 // 0-1
}

// TrackingWindow is a bounded-duration observation period for one
// pending buy or sell decision. Owned by the PriceTracker while
// ACTIVE; read-only once moved to the completed set.
type TrackingWindow struct {
	ID           string
	SignalType   SignalType
	StartTime    time.Time
	EndTime      time.Time
	StartPrice   decimal.Decimal

	// Best price seen so far: running minimum for BUY, running
	// maximum for SELL. Ratchets only in the favorable direction.
	CurrentExtremePrice decimal.Decimal
	ExtremeTime         time.Time

	History []PricePoint

	Status          WindowStatus
	ExecutionReason ExecutionReason // empty until closed

	MaxPrice   decimal.Decimal
	MinPrice   decimal.Decimal
	Volatility float64 // population stddev as % of mean, set at close
}

// TimeRemaining returns the duration until the window closes
func (w *TrackingWindow) TimeRemaining(now time.Time) time.Duration {
	return w.EndTime.Sub(now)
}

// IsExpired reports whether the window deadline has passed
func (w *TrackingWindow) IsExpired(now time.Time) bool {
	return now.After(w.EndTime)
}

// LastPrice returns the most recent sample price (start price if none)
func (w *TrackingWindow) LastPrice() decimal.Decimal {
	if len(w.History) == 0 {
		return w.StartPrice
	}
	return w.History[len(w.History)-1].Price
}

// PriceUpdate is one market sample delivered by a price feed
type PriceUpdate struct {
	Symbol    string
	Price     decimal.Decimal
	Volume    decimal.Decimal
	Timestamp time.Time
}

// ReversalSignal is a confirmed move away from the extreme that
// should trigger execution.
type ReversalSignal struct {
	Timestamp          time.Time
	Price              decimal.Decimal
	Strength           float64 // 0-1 normalized magnitude
	Confidence         float64 // 0-1 blended score
	VolumeConfirmation bool
	Reason             string
}

// OpenTrade is an executed buy awaiting its matching sell
type OpenTrade struct {
	Sequence int
	Time     time.Time
	Price    decimal.Decimal
}

// TradePair is a matched buy/sell with realized profit
type TradePair struct {
	BuySequence  int
	SellSequence int
	BuyTime      time.Time
	SellTime     time.Time
	BuyPrice     decimal.Decimal
	SellPrice    decimal.Decimal
	Profit       decimal.Decimal // sell - buy
}

// TradeEvent is one entry in the full execution history
type TradeEvent struct {
	Sequence int
	Type     SignalType
	Time     time.Time
	Price    decimal.Decimal
}

// PositionSummary is a read-only snapshot of the position state
type PositionSummary struct {
	Long             bool
	Observing        bool
	ObservationType  SignalType
	BasisPrice       decimal.Decimal
	ObservationStart time.Time
	BuyCount         int
	SellCount        int
	OpenTrades       int
	ClosedPairs      int
	TotalProfit      decimal.Decimal
}

// DynamicTradeResult is the write-once output produced when a window
// closes with a trade actually executed.
type DynamicTradeResult struct {
	TradeID              string
	SignalType           SignalType
	OriginalSignalTime   time.Time
	OriginalSignalPrice  decimal.Decimal
	ActualExecutionTime  time.Time
	ActualExecutionPrice decimal.Decimal
	ExecutionReason      ExecutionReason

	// Positive when execution beat the original signal price in the
	// signal's favorable direction.
	PriceImprovement      decimal.Decimal
	ImprovementPercentage decimal.Decimal
	TrackingDuration      time.Duration
}

// NewTradeResult derives improvement fields from signal and execution
// prices. For BUY the favorable direction is down (cheaper entry), for
// SELL it is up.
func NewTradeResult(id string, sigType SignalType, sigTime time.Time, sigPrice decimal.Decimal,
	execTime time.Time, execPrice decimal.Decimal, reason ExecutionReason) DynamicTradeResult {

	improvement := sigPrice.Sub(execPrice)
	if sigType == SignalSell {
		improvement = improvement.Neg()
	}

	pct := decimal.Zero
	if !sigPrice.IsZero() {
		pct = improvement.Div(sigPrice).Mul(decimal.NewFromInt(100))
	}

	return DynamicTradeResult{
		TradeID:               id,
		SignalType:            sigType,
		OriginalSignalTime:    sigTime,
		OriginalSignalPrice:   sigPrice,
		ActualExecutionTime:   execTime,
		ActualExecutionPrice:  execPrice,
		ExecutionReason:       reason,
		PriceImprovement:      improvement,
		ImprovementPercentage: pct,
		TrackingDuration:      execTime.Sub(sigTime),
	}
}

// WindowSummary is the typed query result for a single window
type WindowSummary struct {
	ID              string
	SignalType      SignalType
	Status          WindowStatus
	ExecutionReason ExecutionReason
	StartTime       time.Time
	EndTime         time.Time
	StartPrice      decimal.Decimal
	ExtremePrice    decimal.Decimal
	ExtremeTime     time.Time
	LastPrice       decimal.Decimal
	LastSampleTime  time.Time
	SampleCount     int
	MaxPrice        decimal.Decimal
	MinPrice        decimal.Decimal
	Volatility      float64
}

// TrackingStatistics is the running aggregate over trade results
type TrackingStatistics struct {
	TotalTrades      int
	BuyTrades        int
	SellTrades       int
	ByReason         map[ExecutionReason]int
	SuccessCount     int // trades with positive improvement
	SuccessRate      float64
	ImprovementSum   decimal.Decimal
	AvgImprovement   decimal.Decimal
	BestImprovement  decimal.Decimal
	WorstImprovement decimal.Decimal
	AvgDuration      time.Duration
}
