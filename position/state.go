package position

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/dyntrade/tracker/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// POSITION STATE MACHINE - Strict buy→sell alternation
// ═══════════════════════════════════════════════════════════════════════════════
//
// FLAT ⇄ LONG. A buy is only legal from FLAT, a sell only from LONG,
// so the execution sequence is always buy(1), sell(1), buy(2), …
//
// While observing, the basis price ratchets only in the trader's
// favor: down for a pending buy, up for a pending sell. A trigger
// fires when price crosses back over the ratcheted basis.
//
// ═══════════════════════════════════════════════════════════════════════════════

// StateMachine enforces alternating execution for one instrument.
// All transitions are atomic under a single lock.
type StateMachine struct {
	mu sync.Mutex

	long bool // false = FLAT, true = LONG

	buyCount  int
	sellCount int

	openTrades  []types.OpenTrade
	closedPairs []types.TradePair
	history     []types.TradeEvent

	// Observation state
	observing   bool
	obsType     types.SignalType
	basisPrice  decimal.Decimal
	obsStart    time.Time
	obsDuration time.Duration
}

// New creates a state machine starting FLAT with the given
// observation window length
func New(observationDuration time.Duration) *StateMachine {
	return &StateMachine{obsDuration: observationDuration}
}

// CanOpenBuy reports whether a buy observation may start
func (sm *StateMachine) CanOpenBuy() bool {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return !sm.long && !sm.observing
}

// CanOpenSell reports whether a sell observation may start
func (sm *StateMachine) CanOpenSell() bool {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.long && !sm.observing
}

// StartBuyObservation begins tracking a pending buy. Only legal from
// FLAT with no observation running.
func (sm *StateMachine) StartBuyObservation(t time.Time, price decimal.Decimal) bool {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if sm.long || sm.observing || price.LessThanOrEqual(decimal.Zero) {
		return false
	}

	sm.observing = true
	sm.obsType = types.SignalBuy
	sm.basisPrice = price
	sm.obsStart = t

	log.Debug().Str("basis", price.String()).Msg("Buy observation started")
	return true
}

// StartSellObservation begins tracking a pending sell. Only legal
// from LONG with no observation running.
func (sm *StateMachine) StartSellObservation(t time.Time, price decimal.Decimal) bool {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if !sm.long || sm.observing || price.LessThanOrEqual(decimal.Zero) {
		return false
	}

	sm.observing = true
	sm.obsType = types.SignalSell
	sm.basisPrice = price
	sm.obsStart = t

	log.Debug().Str("basis", price.String()).Msg("Sell observation started")
	return true
}

// UpdateBuyBasis ratchets the basis down while observing a buy
func (sm *StateMachine) UpdateBuyBasis(price decimal.Decimal) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if sm.observing && sm.obsType == types.SignalBuy && price.IsPositive() &&
		price.LessThan(sm.basisPrice) {
		sm.basisPrice = price
	}
}

// UpdateSellBasis ratchets the basis up while observing a sell
func (sm *StateMachine) UpdateSellBasis(price decimal.Decimal) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if sm.observing && sm.obsType == types.SignalSell &&
		price.GreaterThan(sm.basisPrice) {
		sm.basisPrice = price
	}
}

// CheckBuyTrigger is true when a buy observation sees price recover
// above the ratcheted low
func (sm *StateMachine) CheckBuyTrigger(price decimal.Decimal) bool {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.observing && sm.obsType == types.SignalBuy && price.GreaterThan(sm.basisPrice)
}

// CheckSellTrigger is true when a sell observation sees price fall
// below the ratcheted high
func (sm *StateMachine) CheckSellTrigger(price decimal.Decimal) bool {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.observing && sm.obsType == types.SignalSell && price.LessThan(sm.basisPrice)
}

// ExecuteBuy transitions FLAT→LONG and returns the buy sequence
// number. Returns 0 when preconditions are unmet; the caller treats
// that as a reported, not fatal, condition.
func (sm *StateMachine) ExecuteBuy(t time.Time, price decimal.Decimal) int {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if sm.long || price.LessThanOrEqual(decimal.Zero) {
		log.Warn().
			Bool("long", sm.long).
			Str("price", price.String()).
			Msg("Buy rejected: sequence precondition unmet")
		return 0
	}

	sm.long = true
	sm.buyCount++
	sm.clearObservationLocked()

	sm.openTrades = append(sm.openTrades, types.OpenTrade{
		Sequence: sm.buyCount,
		Time:     t,
		Price:    price,
	})
	sm.history = append(sm.history, types.TradeEvent{
		Sequence: sm.buyCount,
		Type:     types.SignalBuy,
		Time:     t,
		Price:    price,
	})

	log.Info().Int("seq", sm.buyCount).Str("price", price.String()).Msg("🟢 Buy executed")
	return sm.buyCount
}

// ExecuteSell transitions LONG→FLAT, pairing with the most recently
// opened buy (LIFO). Returns 0 when preconditions are unmet.
func (sm *StateMachine) ExecuteSell(t time.Time, price decimal.Decimal) int {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if !sm.long || len(sm.openTrades) == 0 || price.LessThanOrEqual(decimal.Zero) {
		log.Warn().
			Bool("long", sm.long).
			Str("price", price.String()).
			Msg("Sell rejected: sequence precondition unmet")
		return 0
	}

	sm.long = false
	sm.sellCount++
	sm.clearObservationLocked()

	open := sm.openTrades[len(sm.openTrades)-1]
	sm.openTrades = sm.openTrades[:len(sm.openTrades)-1]

	pair := types.TradePair{
		BuySequence:  open.Sequence,
		SellSequence: sm.sellCount,
		BuyTime:      open.Time,
		SellTime:     t,
		BuyPrice:     open.Price,
		SellPrice:    price,
		Profit:       price.Sub(open.Price),
	}
	sm.closedPairs = append(sm.closedPairs, pair)
	sm.history = append(sm.history, types.TradeEvent{
		Sequence: sm.sellCount,
		Type:     types.SignalSell,
		Time:     t,
		Price:    price,
	})

	log.Info().
		Int("seq", sm.sellCount).
		Str("price", price.String()).
		Str("profit", pair.Profit.String()).
		Msg("🔴 Sell executed")
	return sm.sellCount
}

// IsObservationExpired reports whether the running observation has
// outlived its configured duration
func (sm *StateMachine) IsObservationExpired(now time.Time) bool {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.observing && now.Sub(sm.obsStart) >= sm.obsDuration
}

// CancelObservation drops the running observation without executing.
// Position state (FLAT/LONG) is untouched.
func (sm *StateMachine) CancelObservation() {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	if !sm.observing {
		return
	}
	log.Debug().Str("type", string(sm.obsType)).Msg("Observation cancelled")
	sm.clearObservationLocked()
}

// BasisPrice returns the current ratcheted basis (ok=false when not
// observing)
func (sm *StateMachine) BasisPrice() (decimal.Decimal, bool) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.basisPrice, sm.observing
}

// Summary returns a read-only snapshot of the full state
func (sm *StateMachine) Summary() types.PositionSummary {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	total := decimal.Zero
	for _, p := range sm.closedPairs {
		total = total.Add(p.Profit)
	}

	return types.PositionSummary{
		Long:             sm.long,
		Observing:        sm.observing,
		ObservationType:  sm.obsType,
		BasisPrice:       sm.basisPrice,
		ObservationStart: sm.obsStart,
		BuyCount:         sm.buyCount,
		SellCount:        sm.sellCount,
		OpenTrades:       len(sm.openTrades),
		ClosedPairs:      len(sm.closedPairs),
		TotalProfit:      total,
	}
}

// ClosedPairs returns a copy of all matched trade pairs
func (sm *StateMachine) ClosedPairs() []types.TradePair {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	out := make([]types.TradePair, len(sm.closedPairs))
	copy(out, sm.closedPairs)
	return out
}

// History returns a copy of the full execution history
func (sm *StateMachine) History() []types.TradeEvent {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	out := make([]types.TradeEvent, len(sm.history))
	copy(out, sm.history)
	return out
}

func (sm *StateMachine) clearObservationLocked() {
	sm.observing = false
	sm.basisPrice = decimal.Zero
	sm.obsStart = time.Time{}
	sm.obsType = ""
}
