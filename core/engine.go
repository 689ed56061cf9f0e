package core

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/dyntrade/tracker/position"
	"github.com/dyntrade/tracker/scheduler"
	"github.com/dyntrade/tracker/stats"
	"github.com/dyntrade/tracker/tracker"
	"github.com/dyntrade/tracker/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// ENGINE - Central orchestrator
// ═══════════════════════════════════════════════════════════════════════════════
//
// Flow:
//   Signal → position gate → tracker window + schedule
//   Feed → tracker updates → reversal or timeout → execution → stats/sink
//
// ═══════════════════════════════════════════════════════════════════════════════

// PriceFeed delivers market samples for the tracked instrument
type PriceFeed interface {
	Subscribe() <-chan types.PriceUpdate
	Start() error
	Stop()
}

// ResultSink persists executed trade results (external persistence
// layer; nil-safe in the engine)
type ResultSink interface {
	SaveTradeResult(r types.DynamicTradeResult) error
	SaveStatsSnapshot(s types.TrackingStatistics) error
}

// TradeNotifier pushes human-facing notifications (Telegram)
type TradeNotifier interface {
	NotifyExecution(r types.DynamicTradeResult)
	NotifyWarning(windowID string, minutesRemaining float64)
}

// Signal is one directional candidate from the upstream indicator
// evaluator
type Signal struct {
	Type  types.SignalType
	Price decimal.Decimal
	Time  time.Time
}

// Engine wires the position machine, tracker and scheduler together
type Engine struct {
	mu sync.Mutex

	pos    *position.StateMachine
	trk    *tracker.PriceTracker
	sched  *scheduler.WindowManager
	stats  *stats.Tracker
	feed   PriceFeed
	sink   ResultSink
	notify TradeNotifier

	dryRun bool

	// Window id of the in-flight observation (one per instrument,
	// like the position machine itself)
	obsWindowID string

	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// NewEngine assembles the engine. sink and notifier may be nil.
func NewEngine(pos *position.StateMachine, trk *tracker.PriceTracker, sched *scheduler.WindowManager,
	st *stats.Tracker, feed PriceFeed, sink ResultSink, dryRun bool) *Engine {

	e := &Engine{
		pos:    pos,
		trk:    trk,
		sched:  sched,
		stats:  st,
		feed:   feed,
		sink:   sink,
		dryRun: dryRun,
		stopCh: make(chan struct{}),
	}

	trk.SetListener(e)
	sched.SetTimeoutCallback(e.onScheduleTimeout)
	sched.SetWarningCallback(e.onScheduleWarning)
	return e
}

// SetNotifier registers the notification sink
func (e *Engine) SetNotifier(n TradeNotifier) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.notify = n
}

// Start begins consuming the price feed
func (e *Engine) Start() error {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return nil
	}
	e.running = true
	e.mu.Unlock()

	if err := e.feed.Start(); err != nil {
		return err
	}

	ch := e.feed.Subscribe()
	e.wg.Add(1)
	go e.mainLoop(ch)

	log.Info().Bool("dry_run", e.dryRun).Msg("⚡ Engine started")
	return nil
}

// Stop shuts the engine down: feed first, then every window and
// schedule closes with a SYSTEM reason
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	e.running = false
	close(e.stopCh)
	e.mu.Unlock()

	e.feed.Stop()
	e.wg.Wait()

	e.trk.Shutdown()
	e.sched.Stop()
	log.Info().Msg("Engine stopped")
}

func (e *Engine) mainLoop(ch <-chan types.PriceUpdate) {
	defer e.wg.Done()

	for {
		select {
		case <-e.stopCh:
			return
		case update := <-ch:
			e.ProcessUpdate(update)
		}
	}
}

// HandleSignal admits one directional candidate from the signal
// source. Returns the window id, or an empty id when the signal was
// gated away or dropped for capacity.
func (e *Engine) HandleSignal(sig Signal) (string, error) {
	switch sig.Type {
	case types.SignalBuy:
		if !e.pos.CanOpenBuy() {
			log.Debug().Msg("Buy signal gated: position not FLAT or already observing")
			return "", nil
		}
	case types.SignalSell:
		if !e.pos.CanOpenSell() {
			log.Debug().Msg("Sell signal gated: position not LONG or already observing")
			return "", nil
		}
	default:
		return "", nil
	}

	id, err := e.trk.StartTracking(sig.Type, sig.Price, sig.Time)
	if err != nil {
		// Capacity exhaustion is a dropped signal, not a failure
		return "", err
	}

	if sig.Type == types.SignalBuy {
		e.pos.StartBuyObservation(sig.Time, sig.Price)
	} else {
		e.pos.StartSellObservation(sig.Time, sig.Price)
	}

	w, _ := e.trk.GetActiveWindow(id)
	e.sched.CreateWindow(id, sig.Type, sig.Time, w.EndTime.Sub(sig.Time), types.PriorityNormal, nil)

	e.mu.Lock()
	e.obsWindowID = id
	e.mu.Unlock()

	return id, nil
}

// ProcessUpdate applies one market sample to every active window and
// ratchets the observation basis
func (e *Engine) ProcessUpdate(update types.PriceUpdate) {
	e.pos.UpdateBuyBasis(update.Price)
	e.pos.UpdateSellBasis(update.Price)

	for _, id := range e.trk.ActiveWindowIDs() {
		if e.trk.UpdatePrice(id, update.Price, update.Timestamp, update.Volume) {
			e.sched.UpdateWindowActivity(id, update.Timestamp)
		}
	}
}

// ═══════════════════════════════════════════════════════════════════════════════
// TRACKER EVENT LISTENER
// ═══════════════════════════════════════════════════════════════════════════════

// OnWindowCreated implements tracker.EventListener
func (e *Engine) OnWindowCreated(w types.WindowSummary) {
	log.Debug().Str("window", w.ID).Msg("Window created")
}

// OnWindowUpdated implements tracker.EventListener
func (e *Engine) OnWindowUpdated(w types.WindowSummary, p types.PricePoint) {
	log.Trace().
		Str("window", w.ID).
		Str("price", p.Price.String()).
		Str("extreme", w.ExtremePrice.String()).
		Msg("Window updated")
}

// OnReversalDetected implements tracker.EventListener
func (e *Engine) OnReversalDetected(windowID string, sig types.ReversalSignal) {
	log.Info().
		Str("window", windowID).
		Str("price", sig.Price.String()).
		Float64("strength", sig.Strength).
		Float64("confidence", sig.Confidence).
		Bool("volume_confirmed", sig.VolumeConfirmation).
		Str("reason", sig.Reason).
		Msg("↩️ Reversal detected")
}

// OnWindowCompleted implements tracker.EventListener. Execution
// happens here so the reversal and timeout paths share one code path.
func (e *Engine) OnWindowCompleted(w types.WindowSummary) {
	e.sched.CloseWindow(w.ID, w.ExecutionReason)

	e.mu.Lock()
	if e.obsWindowID == w.ID {
		e.obsWindowID = ""
	}
	e.mu.Unlock()

	var execPrice decimal.Decimal
	switch w.ExecutionReason {
	case types.ReasonReversal:
		// The reversal confirms the extreme held: execution is
		// booked at the ratcheted extreme price
		execPrice = w.ExtremePrice
	case types.ReasonTimeout:
		// Expiry without a trigger still trades, at the last seen
		// market price, so the buy/sell sequence never desyncs
		execPrice = w.LastPrice
	default:
		// MANUAL and SYSTEM closures cancel the observation without
		// a trade
		e.pos.CancelObservation()
		log.Info().Str("window", w.ID).Str("reason", string(w.ExecutionReason)).Msg("Window cancelled, no trade")
		return
	}

	e.execute(w, execPrice)
}

func (e *Engine) execute(w types.WindowSummary, execPrice decimal.Decimal) {
	execTime := w.LastSampleTime

	var seq int
	if w.SignalType == types.SignalBuy {
		seq = e.pos.ExecuteBuy(execTime, execPrice)
	} else {
		seq = e.pos.ExecuteSell(execTime, execPrice)
	}
	if seq == 0 {
		log.Warn().
			Str("window", w.ID).
			Str("signal", string(w.SignalType)).
			Msg("Execution skipped: position sequence rejected trade")
		return
	}

	result := types.NewTradeResult(uuid.New().String(), w.SignalType, w.StartTime, w.StartPrice,
		execTime, execPrice, w.ExecutionReason)

	log.Info().
		Str("trade", result.TradeID).
		Str("signal", string(result.SignalType)).
		Str("signal_price", result.OriginalSignalPrice.String()).
		Str("exec_price", result.ActualExecutionPrice.String()).
		Str("improvement", result.PriceImprovement.String()).
		Str("reason", string(result.ExecutionReason)).
		Msg("✅ Trade executed")

	e.stats.Record(result)

	if e.sink != nil && !e.dryRun {
		if err := e.sink.SaveTradeResult(result); err != nil {
			log.Error().Err(err).Str("trade", result.TradeID).Msg("Failed to persist trade result")
		}
	}

	e.mu.Lock()
	notify := e.notify
	e.mu.Unlock()
	if notify != nil {
		notify.NotifyExecution(result)
	}
}

// ═══════════════════════════════════════════════════════════════════════════════
// SCHEDULER CALLBACKS
// ═══════════════════════════════════════════════════════════════════════════════

func (e *Engine) onScheduleTimeout(windowID string, _ scheduler.Schedule) {
	// The tracker close path fires OnWindowCompleted, which executes
	// the forced trade
	e.trk.ForceCompleteWindow(windowID, types.ReasonTimeout)
}

func (e *Engine) onScheduleWarning(windowID string, _ scheduler.Schedule, minutesRemaining float64) {
	e.mu.Lock()
	notify := e.notify
	e.mu.Unlock()
	if notify != nil {
		notify.NotifyWarning(windowID, minutesRemaining)
	}
}

// ═══════════════════════════════════════════════════════════════════════════════
// QUERIES & MAINTENANCE
// ═══════════════════════════════════════════════════════════════════════════════

// Statistics returns the current aggregate
func (e *Engine) Statistics() types.TrackingStatistics {
	return e.stats.Snapshot()
}

// Position returns the position state snapshot
func (e *Engine) Position() types.PositionSummary {
	return e.pos.Summary()
}

// Cleanup sweeps expired windows and prunes old completed ones.
// Driven externally (cron) so it runs even with a silent feed.
func (e *Engine) Cleanup(retention time.Duration) {
	expired := e.trk.CleanupExpiredWindows(time.Now())
	pruned := e.trk.CleanupOldCompletedWindows(retention)
	if expired > 0 || pruned > 0 {
		log.Debug().Int("expired", expired).Int("pruned", pruned).Msg("Cleanup pass done")
	}
}

// PersistStats writes a statistics snapshot to the sink
func (e *Engine) PersistStats() {
	if e.sink == nil {
		return
	}
	if err := e.sink.SaveStatsSnapshot(e.stats.Snapshot()); err != nil {
		log.Error().Err(err).Msg("Failed to persist stats snapshot")
	}
}
