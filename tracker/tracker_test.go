package tracker

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/dyntrade/tracker/detector"
	"github.com/dyntrade/tracker/types"
)

func testConfig() Config {
	return Config{
		BuyWindowDuration:    4 * time.Hour,
		SellWindowDuration:   4 * time.Hour,
		MaxConcurrentWindows: 20,
		Detector: detector.Config{
			ReversalThreshold:   0.3,
			ConfirmationPeriods: 2,
			NoiseThreshold:      0.01,
			MaxMovePercent:      2.0,
		},
	}
}

// recorder collects lifecycle events for assertions
type recorder struct {
	mu        sync.Mutex
	created   []string
	completed []types.WindowSummary
	reversals map[string]types.ReversalSignal
	updates   int
}

func newRecorder() *recorder {
	return &recorder{reversals: make(map[string]types.ReversalSignal)}
}

func (r *recorder) OnWindowCreated(w types.WindowSummary) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.created = append(r.created, w.ID)
}

func (r *recorder) OnWindowUpdated(w types.WindowSummary, p types.PricePoint) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updates++
}

func (r *recorder) OnReversalDetected(id string, sig types.ReversalSignal) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reversals[id] = sig
}

func (r *recorder) OnWindowCompleted(w types.WindowSummary) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.completed = append(r.completed, w)
}

func (r *recorder) lastCompleted(t *testing.T) types.WindowSummary {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.completed) == 0 {
		t.Fatal("no completed windows recorded")
	}
	return r.completed[len(r.completed)-1]
}

func mustTracker(t *testing.T, cfg Config) (*PriceTracker, *recorder) {
	t.Helper()
	pt, err := New(cfg)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	rec := newRecorder()
	pt.SetListener(rec)
	return pt, rec
}

func TestNew_RejectsBadDetectorConfig(t *testing.T) {
	cfg := testConfig()
	cfg.Detector.ReversalThreshold = 99
	if _, err := New(cfg); err == nil {
		t.Fatal("expected error for invalid detector config")
	}
}

func TestStartTracking_RejectsInvalidPrice(t *testing.T) {
	pt, _ := mustTracker(t, testConfig())

	if _, err := pt.StartTracking(types.SignalBuy, decimal.Zero, time.Now()); !errors.Is(err, ErrInvalidPrice) {
		t.Fatalf("expected ErrInvalidPrice, got %v", err)
	}
}

func TestStartTracking_CapacityRejection(t *testing.T) {
	cfg := testConfig()
	cfg.MaxConcurrentWindows = 3
	pt, _ := mustTracker(t, cfg)

	t0 := time.Now()
	for i := 0; i < 3; i++ {
		if _, err := pt.StartTracking(types.SignalBuy, decimal.NewFromInt(100), t0.Add(time.Duration(i)*time.Second)); err != nil {
			t.Fatalf("window %d: %v", i, err)
		}
	}

	_, err := pt.StartTracking(types.SignalBuy, decimal.NewFromInt(100), t0.Add(time.Minute))
	if !errors.Is(err, ErrTooManyWindows) {
		t.Fatalf("expected ErrTooManyWindows at cap, got %v", err)
	}
	if pt.ActiveCount() != 3 {
		t.Errorf("rejection must leave the active set unchanged, got %d", pt.ActiveCount())
	}
}

func TestUpdatePrice_UnknownWindow(t *testing.T) {
	pt, _ := mustTracker(t, testConfig())

	if pt.UpdatePrice("nope", decimal.NewFromInt(100), time.Now(), decimal.Zero) {
		t.Error("unknown window id must return false")
	}
}

func TestUpdatePrice_ExtremeRatchet(t *testing.T) {
	pt, _ := mustTracker(t, testConfig())
	t0 := time.Now()

	id, err := pt.StartTracking(types.SignalBuy, decimal.NewFromInt(3400000), t0)
	if err != nil {
		t.Fatalf("StartTracking failed: %v", err)
	}

	prices := []int64{3395000, 3399000, 3390000, 3396000}
	prevExtreme := decimal.NewFromInt(3400000)
	for i, p := range prices {
		pt.UpdatePrice(id, decimal.NewFromInt(p), t0.Add(time.Duration(i+1)*time.Minute), decimal.NewFromInt(1))

		w, ok := pt.GetActiveWindow(id)
		if !ok {
			t.Fatalf("window vanished at update %d", i)
		}
		if w.CurrentExtremePrice.GreaterThan(prevExtreme) {
			t.Fatalf("BUY extreme must be non-increasing: %s > %s", w.CurrentExtremePrice, prevExtreme)
		}
		prevExtreme = w.CurrentExtremePrice
	}

	w, _ := pt.GetActiveWindow(id)
	if !w.CurrentExtremePrice.Equal(decimal.NewFromInt(3390000)) {
		t.Errorf("expected extreme 3390000, got %s", w.CurrentExtremePrice)
	}
	if !w.MinPrice.Equal(decimal.NewFromInt(3390000)) || !w.MaxPrice.Equal(decimal.NewFromInt(3400000)) {
		t.Errorf("running min/max wrong: %s / %s", w.MinPrice, w.MaxPrice)
	}
}

func TestUpdatePrice_ReversalClosesWindow(t *testing.T) {
	pt, rec := mustTracker(t, testConfig())
	t0 := time.Now()

	id, err := pt.StartTracking(types.SignalBuy, decimal.NewFromInt(3400000), t0)
	if err != nil {
		t.Fatalf("StartTracking failed: %v", err)
	}

	steps := []struct {
		price int64
		at    time.Duration
	}{
		{3395000, 10 * time.Minute},
		{3390000, 20 * time.Minute},
		{3385000, 30 * time.Minute},
		{3391000, 40 * time.Minute},
		{3398000, 50 * time.Minute},
	}
	for _, s := range steps {
		if !pt.UpdatePrice(id, decimal.NewFromInt(s.price), t0.Add(s.at), decimal.NewFromInt(1)) {
			t.Fatalf("update at %s rejected", s.at)
		}
	}

	sig, ok := rec.reversals[id]
	if !ok {
		t.Fatal("expected a reversal callback")
	}
	if sig.Strength <= 0 {
		t.Errorf("expected positive strength, got %f", sig.Strength)
	}

	done := rec.lastCompleted(t)
	if done.ExecutionReason != types.ReasonReversal {
		t.Errorf("expected REVERSAL_DETECTED, got %s", done.ExecutionReason)
	}
	if !done.ExtremePrice.Equal(decimal.NewFromInt(3385000)) {
		t.Errorf("expected extreme 3385000, got %s", done.ExtremePrice)
	}

	// Improvement vs the signal price: 3,400,000 - 3,385,000
	improvement := done.StartPrice.Sub(done.ExtremePrice)
	if !improvement.Equal(decimal.NewFromInt(15000)) {
		t.Errorf("expected improvement 15000, got %s", improvement)
	}

	w, ok := pt.GetCompletedWindow(id)
	if !ok {
		t.Fatal("window must move to completed storage")
	}
	if w.Status != types.StatusCompleted {
		t.Errorf("expected COMPLETED, got %s", w.Status)
	}
	if w.Volatility <= 0 {
		t.Errorf("expected volatility computed at close, got %f", w.Volatility)
	}
}

func TestUpdatePrice_LateSampleClosesWithTimeout(t *testing.T) {
	pt, rec := mustTracker(t, testConfig())
	t0 := time.Now()

	id, _ := pt.StartTracking(types.SignalBuy, decimal.NewFromInt(3400000), t0)

	// A very favorable price past the deadline must still expire the window
	if pt.UpdatePrice(id, decimal.NewFromInt(3000000), t0.Add(5*time.Hour), decimal.NewFromInt(1)) {
		t.Error("stale update must return false")
	}

	done := rec.lastCompleted(t)
	if done.ExecutionReason != types.ReasonTimeout {
		t.Errorf("expected TIMEOUT, got %s", done.ExecutionReason)
	}
	if !done.ExtremePrice.Equal(decimal.NewFromInt(3400000)) {
		t.Errorf("stale sample must not move the extreme, got %s", done.ExtremePrice)
	}

	w, _ := pt.GetCompletedWindow(id)
	if w.Status != types.StatusExpired {
		t.Errorf("expected EXPIRED, got %s", w.Status)
	}
}

func TestForceCompleteWindow_Idempotent(t *testing.T) {
	pt, rec := mustTracker(t, testConfig())

	id, _ := pt.StartTracking(types.SignalBuy, decimal.NewFromInt(100), time.Now())

	if !pt.ForceCompleteWindow(id, types.ReasonManual) {
		t.Fatal("first close must succeed")
	}
	if pt.ForceCompleteWindow(id, types.ReasonManual) {
		t.Fatal("second close must be a no-op")
	}

	rec.mu.Lock()
	completions := len(rec.completed)
	rec.mu.Unlock()
	if completions != 1 {
		t.Errorf("completion callback must fire exactly once, got %d", completions)
	}

	w, _ := pt.GetCompletedWindow(id)
	if w.Status != types.StatusCancelled {
		t.Errorf("manual close should cancel, got %s", w.Status)
	}
}

func TestCleanupExpiredWindows(t *testing.T) {
	pt, rec := mustTracker(t, testConfig())
	t0 := time.Now()

	idOld, _ := pt.StartTracking(types.SignalBuy, decimal.NewFromInt(100), t0.Add(-5*time.Hour))
	idLive, _ := pt.StartTracking(types.SignalSell, decimal.NewFromInt(100), t0)

	if n := pt.CleanupExpiredWindows(t0); n != 1 {
		t.Fatalf("expected 1 expired window, got %d", n)
	}
	if _, ok := pt.GetActiveWindow(idLive); !ok {
		t.Error("live window must survive the sweep")
	}
	if _, ok := pt.GetCompletedWindow(idOld); !ok {
		t.Error("expired window must be in completed storage")
	}
	if done := rec.lastCompleted(t); done.ExecutionReason != types.ReasonTimeout {
		t.Errorf("sweep must close with TIMEOUT, got %s", done.ExecutionReason)
	}
}

func TestCleanupOldCompletedWindows(t *testing.T) {
	pt, _ := mustTracker(t, testConfig())
	t0 := time.Now()

	id, _ := pt.StartTracking(types.SignalBuy, decimal.NewFromInt(100), t0.Add(-30*time.Hour))
	pt.CleanupExpiredWindows(t0)

	if n := pt.CleanupOldCompletedWindows(24 * time.Hour); n != 1 {
		t.Fatalf("expected 1 pruned window, got %d", n)
	}
	if _, ok := pt.GetCompletedWindow(id); ok {
		t.Error("pruned window must be gone")
	}
}

func TestShutdown_ClosesAllWithSystemReason(t *testing.T) {
	pt, rec := mustTracker(t, testConfig())
	t0 := time.Now()

	pt.StartTracking(types.SignalBuy, decimal.NewFromInt(100), t0)
	pt.StartTracking(types.SignalBuy, decimal.NewFromInt(100), t0.Add(time.Second))

	pt.Shutdown()

	if pt.ActiveCount() != 0 {
		t.Errorf("expected no active windows after shutdown, got %d", pt.ActiveCount())
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	for _, w := range rec.completed {
		if w.ExecutionReason != types.ReasonSystem {
			t.Errorf("expected SYSTEM reason, got %s", w.ExecutionReason)
		}
	}
}

func TestGetWindowSummary(t *testing.T) {
	pt, _ := mustTracker(t, testConfig())
	t0 := time.Now()

	id, _ := pt.StartTracking(types.SignalBuy, decimal.NewFromInt(3400000), t0)
	pt.UpdatePrice(id, decimal.NewFromInt(3395000), t0.Add(time.Minute), decimal.NewFromInt(2))

	s, ok := pt.GetWindowSummary(id)
	if !ok {
		t.Fatal("expected a summary for the active window")
	}
	if s.SampleCount != 2 {
		t.Errorf("expected 2 samples (seed + update), got %d", s.SampleCount)
	}
	if !s.LastPrice.Equal(decimal.NewFromInt(3395000)) {
		t.Errorf("expected last price 3395000, got %s", s.LastPrice)
	}
}
