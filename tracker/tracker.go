package tracker

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/dyntrade/tracker/detector"
	"github.com/dyntrade/tracker/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// PRICE TRACKER - Owns all active tracking windows
// ═══════════════════════════════════════════════════════════════════════════════
//
// One detector per window. Price updates ratchet the window extreme,
// feed the detector, and close the window on reversal or on a stale
// timestamp. Callbacks fire after the lock is released so a listener
// may call back into the tracker.
//
// ═══════════════════════════════════════════════════════════════════════════════

var (
	// ErrTooManyWindows is the admission-control rejection: the
	// signal was dropped, not failed. Callers retry on a later signal.
	ErrTooManyWindows = errors.New("active window limit reached")

	ErrInvalidPrice    = errors.New("start price must be positive")
	ErrDuplicateWindow = errors.New("window id already active")
)

// EventListener receives window lifecycle events. Each callback runs
// synchronously on the thread that caused the event, with no tracker
// lock held.
type EventListener interface {
	OnWindowCreated(w types.WindowSummary)
	OnWindowUpdated(w types.WindowSummary, p types.PricePoint)
	OnReversalDetected(windowID string, sig types.ReversalSignal)
	OnWindowCompleted(w types.WindowSummary)
}

// Config controls window creation
type Config struct {
	BuyWindowDuration    time.Duration
	SellWindowDuration   time.Duration
	MaxConcurrentWindows int
	Detector             detector.Config
}

// trackedWindow bundles a window with its detector and the running
// volatility accumulators (Welford)
type trackedWindow struct {
	window *types.TrackingWindow
	det    *detector.Detector

	welfordCount int
	welfordMean  float64
	welfordM2    float64
}

// PriceTracker owns the active and completed window sets
type PriceTracker struct {
	mu sync.RWMutex

	cfg       Config
	active    map[string]*trackedWindow
	completed map[string]*types.TrackingWindow

	listener EventListener
}

// New creates a tracker; the detector configuration is validated up
// front so no window can be created from a bad config
func New(cfg Config) (*PriceTracker, error) {
	if cfg.MaxConcurrentWindows < 1 {
		return nil, fmt.Errorf("max concurrent windows must be at least 1, got %d", cfg.MaxConcurrentWindows)
	}
	if _, err := detector.New(cfg.Detector, types.SignalBuy); err != nil {
		return nil, fmt.Errorf("detector config: %w", err)
	}

	return &PriceTracker{
		cfg:       cfg,
		active:    make(map[string]*trackedWindow),
		completed: make(map[string]*types.TrackingWindow),
	}, nil
}

// SetListener registers the lifecycle observer
func (pt *PriceTracker) SetListener(l EventListener) {
	pt.mu.Lock()
	defer pt.mu.Unlock()
	pt.listener = l
}

// StartTracking opens a window for a directional signal and seeds it
// with the start price as the first sample. Returns the window id.
func (pt *PriceTracker) StartTracking(signalType types.SignalType, startPrice decimal.Decimal, startTime time.Time) (string, error) {
	if startPrice.LessThanOrEqual(decimal.Zero) {
		return "", ErrInvalidPrice
	}

	duration := pt.cfg.BuyWindowDuration
	if signalType == types.SignalSell {
		duration = pt.cfg.SellWindowDuration
	}

	det, err := detector.New(pt.cfg.Detector, signalType)
	if err != nil {
		return "", err
	}

	id := fmt.Sprintf("%s_%d", signalType, startTime.UnixNano())

	w := &types.TrackingWindow{
		ID:                  id,
		SignalType:          signalType,
		StartTime:           startTime,
		EndTime:             startTime.Add(duration),
		StartPrice:          startPrice,
		CurrentExtremePrice: startPrice,
		ExtremeTime:         startTime,
		Status:              types.StatusActive,
		MaxPrice:            startPrice,
		MinPrice:            startPrice,
	}

	tw := &trackedWindow{window: w, det: det}
	seed := types.PricePoint{Timestamp: startTime, Price: startPrice, Volume: decimal.Zero, IsExtreme: true}

	pt.mu.Lock()
	if len(pt.active) >= pt.cfg.MaxConcurrentWindows {
		pt.mu.Unlock()
		log.Warn().
			Int("active", pt.ActiveCount()).
			Str("signal", string(signalType)).
			Msg("Signal dropped: window capacity reached")
		return "", ErrTooManyWindows
	}
	if _, exists := pt.active[id]; exists {
		pt.mu.Unlock()
		return "", ErrDuplicateWindow
	}

	tw.appendPoint(seed)
	det.AddPricePoint(seed)
	pt.active[id] = tw
	listener := pt.listener
	summary := summarize(w)
	pt.mu.Unlock()

	log.Info().
		Str("window", id).
		Str("start_price", startPrice.String()).
		Time("deadline", w.EndTime).
		Msg("🎯 Tracking window opened")

	if listener != nil {
		listener.OnWindowCreated(summary)
	}
	return id, nil
}

// UpdatePrice applies one market sample to a window. Returns false
// when the window is unknown or the sample arrived past the deadline
// (in which case the window closes with reason TIMEOUT).
func (pt *PriceTracker) UpdatePrice(windowID string, price decimal.Decimal, t time.Time, volume decimal.Decimal) bool {
	if price.LessThanOrEqual(decimal.Zero) || volume.IsNegative() {
		log.Debug().
			Str("window", windowID).
			Str("price", price.String()).
			Msg("Rejected malformed price update")
		return false
	}

	pt.mu.Lock()

	tw, ok := pt.active[windowID]
	if !ok {
		pt.mu.Unlock()
		return false
	}

	// Fast path of the scheduler's deadline: a sample past endTime
	// expires the window no matter how favorable the price is
	if t.After(tw.window.EndTime) {
		pt.closeLocked(tw, types.StatusExpired, types.ReasonTimeout)
		listener := pt.listener
		summary := summarize(tw.window)
		pt.mu.Unlock()

		if listener != nil {
			listener.OnWindowCompleted(summary)
		}
		return false
	}

	point := types.PricePoint{Timestamp: t, Price: price, Volume: volume}
	if tw.det.AddPricePoint(point) {
		point.IsExtreme = true
		tw.window.CurrentExtremePrice = price
		tw.window.ExtremeTime = t
	}
	tw.appendPoint(point)

	var reversal *types.ReversalSignal
	if sig := tw.det.DetectPriceReversal(); sig != nil {
		reversal = sig
		if n := len(tw.window.History); n > 0 {
			tw.window.History[n-1].ReversalStrength = sig.Strength
		}
		pt.closeLocked(tw, types.StatusCompleted, types.ReasonReversal)
	}

	listener := pt.listener
	summary := summarize(tw.window)
	pt.mu.Unlock()

	if listener != nil {
		if reversal != nil {
			// Reversal delivery precedes the completion event
			listener.OnReversalDetected(windowID, *reversal)
			listener.OnWindowCompleted(summary)
		} else {
			listener.OnWindowUpdated(summary, point)
		}
	}
	return true
}

// ForceCompleteWindow closes a window administratively. The second
// call for the same id is a no-op returning false.
func (pt *PriceTracker) ForceCompleteWindow(windowID string, reason types.ExecutionReason) bool {
	pt.mu.Lock()

	tw, ok := pt.active[windowID]
	if !ok {
		pt.mu.Unlock()
		return false
	}

	status := types.StatusCompleted
	switch reason {
	case types.ReasonTimeout:
		status = types.StatusExpired
	case types.ReasonManual, types.ReasonSystem:
		status = types.StatusCancelled
	}
	pt.closeLocked(tw, status, reason)
	listener := pt.listener
	summary := summarize(tw.window)
	pt.mu.Unlock()

	if listener != nil {
		listener.OnWindowCompleted(summary)
	}
	return true
}

// CleanupExpiredWindows sweeps windows past their deadline. Runs even
// when no price updates arrive, complementing the scheduler.
func (pt *PriceTracker) CleanupExpiredWindows(now time.Time) int {
	pt.mu.Lock()

	var expired []*trackedWindow
	for _, tw := range pt.active {
		if tw.window.IsExpired(now) {
			expired = append(expired, tw)
		}
	}
	for _, tw := range expired {
		pt.closeLocked(tw, types.StatusExpired, types.ReasonTimeout)
	}

	listener := pt.listener
	summaries := make([]types.WindowSummary, 0, len(expired))
	for _, tw := range expired {
		summaries = append(summaries, summarize(tw.window))
	}
	pt.mu.Unlock()

	if listener != nil {
		for _, s := range summaries {
			listener.OnWindowCompleted(s)
		}
	}
	return len(expired)
}

// CleanupOldCompletedWindows drops completed windows older than the
// retention horizon and returns how many were removed
func (pt *PriceTracker) CleanupOldCompletedWindows(retention time.Duration) int {
	cutoff := time.Now().Add(-retention)

	pt.mu.Lock()
	defer pt.mu.Unlock()

	removed := 0
	for id, w := range pt.completed {
		if w.EndTime.Before(cutoff) {
			delete(pt.completed, id)
			removed++
		}
	}
	if removed > 0 {
		log.Debug().Int("removed", removed).Msg("Pruned completed windows")
	}
	return removed
}

// GetActiveWindow returns a snapshot copy of an active window
func (pt *PriceTracker) GetActiveWindow(windowID string) (types.TrackingWindow, bool) {
	pt.mu.RLock()
	defer pt.mu.RUnlock()

	tw, ok := pt.active[windowID]
	if !ok {
		return types.TrackingWindow{}, false
	}
	return snapshot(tw.window), true
}

// GetCompletedWindow returns a snapshot copy of a completed window
func (pt *PriceTracker) GetCompletedWindow(windowID string) (types.TrackingWindow, bool) {
	pt.mu.RLock()
	defer pt.mu.RUnlock()

	w, ok := pt.completed[windowID]
	if !ok {
		return types.TrackingWindow{}, false
	}
	return snapshot(w), true
}

// GetWindowSummary works for active and completed windows alike
func (pt *PriceTracker) GetWindowSummary(windowID string) (types.WindowSummary, bool) {
	pt.mu.RLock()
	defer pt.mu.RUnlock()

	if tw, ok := pt.active[windowID]; ok {
		return summarize(tw.window), true
	}
	if w, ok := pt.completed[windowID]; ok {
		return summarize(w), true
	}
	return types.WindowSummary{}, false
}

// ActiveCount returns the number of windows currently tracked
func (pt *PriceTracker) ActiveCount() int {
	pt.mu.RLock()
	defer pt.mu.RUnlock()
	return len(pt.active)
}

// ActiveWindowIDs returns the ids of all active windows
func (pt *PriceTracker) ActiveWindowIDs() []string {
	pt.mu.RLock()
	defer pt.mu.RUnlock()

	ids := make([]string, 0, len(pt.active))
	for id := range pt.active {
		ids = append(ids, id)
	}
	return ids
}

// Shutdown force-closes every active window with a SYSTEM reason
func (pt *PriceTracker) Shutdown() {
	for _, id := range pt.ActiveWindowIDs() {
		pt.ForceCompleteWindow(id, types.ReasonSystem)
	}
}

// closeLocked finalizes a window exactly once: status, reason,
// volatility, and the move to completed storage. Caller holds the lock.
func (pt *PriceTracker) closeLocked(tw *trackedWindow, status types.WindowStatus, reason types.ExecutionReason) {
	w := tw.window
	if w.Status != types.StatusActive {
		return
	}

	w.Status = status
	w.ExecutionReason = reason
	w.Volatility = tw.volatilityPct()

	delete(pt.active, w.ID)
	pt.completed[w.ID] = w

	log.Info().
		Str("window", w.ID).
		Str("reason", string(reason)).
		Str("extreme", w.CurrentExtremePrice.String()).
		Float64("volatility_pct", w.Volatility).
		Msg("📊 Window closed")
}

// appendPoint records a sample and maintains the running aggregates
func (tw *trackedWindow) appendPoint(p types.PricePoint) {
	w := tw.window
	w.History = append(w.History, p)

	if p.Price.GreaterThan(w.MaxPrice) {
		w.MaxPrice = p.Price
	}
	if p.Price.LessThan(w.MinPrice) {
		w.MinPrice = p.Price
	}

	// Welford accumulation for the close-time volatility figure
	f := p.Price.InexactFloat64()
	tw.welfordCount++
	delta := f - tw.welfordMean
	tw.welfordMean += delta / float64(tw.welfordCount)
	tw.welfordM2 += delta * (f - tw.welfordMean)
}

// volatilityPct is the population standard deviation of the price
// history as a percentage of the mean price
func (tw *trackedWindow) volatilityPct() float64 {
	if tw.welfordCount < 2 || tw.welfordMean == 0 {
		return 0
	}
	variance := tw.welfordM2 / float64(tw.welfordCount)
	return math.Sqrt(variance) / tw.welfordMean * 100
}

func summarize(w *types.TrackingWindow) types.WindowSummary {
	lastSample := w.StartTime
	if n := len(w.History); n > 0 {
		lastSample = w.History[n-1].Timestamp
	}
	return types.WindowSummary{
		ID:              w.ID,
		SignalType:      w.SignalType,
		Status:          w.Status,
		ExecutionReason: w.ExecutionReason,
		StartTime:       w.StartTime,
		EndTime:         w.EndTime,
		StartPrice:      w.StartPrice,
		ExtremePrice:    w.CurrentExtremePrice,
		ExtremeTime:     w.ExtremeTime,
		LastPrice:       w.LastPrice(),
		LastSampleTime:  lastSample,
		SampleCount:     len(w.History),
		MaxPrice:        w.MaxPrice,
		MinPrice:        w.MinPrice,
		Volatility:      w.Volatility,
	}
}

func snapshot(w *types.TrackingWindow) types.TrackingWindow {
	out := *w
	out.History = make([]types.PricePoint, len(w.History))
	copy(out.History, w.History)
	return out
}
