package scheduler

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dyntrade/tracker/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// WINDOW MANAGER - Deadline authority for tracking windows
// ═══════════════════════════════════════════════════════════════════════════════
//
// Deadlines are enforced by a single monitor goroutine, decoupled from
// price flow: a window that never receives another sample still closes
// on time. One ticker per manager, never a goroutine per window.
//
// Schedule lifecycle: CREATED → ACTIVE (monitored) → EXPIRED or
// CLOSED → kept in the completed set until pruned.
//
// ═══════════════════════════════════════════════════════════════════════════════

// Schedule is the manager's view of one active window
type Schedule struct {
	WindowID        string
	SignalType      types.SignalType
	Priority        types.Priority
	CreatedTime     time.Time
	ExpectedEndTime time.Time
	LastUpdateTime  time.Time

	// Set on close
	ClosedAt time.Time
	Reason   types.ExecutionReason

	warned  bool
	timeout TimeoutCallback
}

// TimeoutCallback fires when a schedule's deadline passes
type TimeoutCallback func(windowID string, s Schedule)

// WarningCallback fires once per schedule as the deadline nears
type WarningCallback func(windowID string, s Schedule, minutesRemaining float64)

// Config controls the monitor loop
type Config struct {
	PollInterval       time.Duration // default 30s
	WarningThreshold   time.Duration // default 30m
	CompletedRetention time.Duration // default 24h
}

func (c *Config) applyDefaults() {
	if c.PollInterval <= 0 {
		c.PollInterval = 30 * time.Second
	}
	if c.WarningThreshold <= 0 {
		c.WarningThreshold = 30 * time.Minute
	}
	if c.CompletedRetention <= 0 {
		c.CompletedRetention = 24 * time.Hour
	}
}

// WindowManager schedules expiry and warnings for active windows
type WindowManager struct {
	mu sync.Mutex

	cfg       Config
	active    map[string]*Schedule
	completed map[string]*Schedule

	onTimeout TimeoutCallback
	onWarning WarningCallback

	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// NewWindowManager builds a manager; the monitor starts lazily with
// the first schedule
func NewWindowManager(cfg Config) *WindowManager {
	cfg.applyDefaults()
	return &WindowManager{
		cfg:       cfg,
		active:    make(map[string]*Schedule),
		completed: make(map[string]*Schedule),
	}
}

// SetTimeoutCallback registers the manager-level timeout handler
func (wm *WindowManager) SetTimeoutCallback(cb TimeoutCallback) {
	wm.mu.Lock()
	defer wm.mu.Unlock()
	wm.onTimeout = cb
}

// SetWarningCallback registers the pre-expiry warning handler
func (wm *WindowManager) SetWarningCallback(cb WarningCallback) {
	wm.mu.Lock()
	defer wm.mu.Unlock()
	wm.onWarning = cb
}

// CreateWindow registers a schedule for a window. Returns false on a
// duplicate id or a deadline already in the past.
func (wm *WindowManager) CreateWindow(id string, signalType types.SignalType, startTime time.Time,
	duration time.Duration, priority types.Priority, timeout TimeoutCallback) bool {

	if id == "" || duration <= 0 {
		return false
	}

	wm.mu.Lock()
	defer wm.mu.Unlock()

	if _, exists := wm.active[id]; exists {
		return false
	}

	wm.active[id] = &Schedule{
		WindowID:        id,
		SignalType:      signalType,
		Priority:        priority,
		CreatedTime:     startTime,
		ExpectedEndTime: startTime.Add(duration),
		LastUpdateTime:  startTime,
		timeout:         timeout,
	}

	if !wm.running {
		wm.running = true
		wm.stopCh = make(chan struct{})
		wm.wg.Add(1)
		go wm.monitor()
	}

	log.Debug().
		Str("window", id).
		Str("priority", priority.String()).
		Time("deadline", startTime.Add(duration)).
		Msg("Schedule created")
	return true
}

// UpdateWindowActivity refreshes the last-update stamp. Diagnostics
// only: the deadline never extends.
func (wm *WindowManager) UpdateWindowActivity(id string, t time.Time) {
	wm.mu.Lock()
	defer wm.mu.Unlock()

	if s, ok := wm.active[id]; ok {
		s.LastUpdateTime = t
	}
}

// IsWindowExpired reports whether the schedule's deadline has passed
func (wm *WindowManager) IsWindowExpired(id string, now time.Time) bool {
	wm.mu.Lock()
	defer wm.mu.Unlock()

	s, ok := wm.active[id]
	if !ok {
		return false
	}
	return now.After(s.ExpectedEndTime)
}

// GetTimeRemaining returns the time left before the deadline (ok=false
// for unknown ids)
func (wm *WindowManager) GetTimeRemaining(id string, now time.Time) (time.Duration, bool) {
	wm.mu.Lock()
	defer wm.mu.Unlock()

	s, ok := wm.active[id]
	if !ok {
		return 0, false
	}
	return s.ExpectedEndTime.Sub(now), true
}

// GetSchedule returns a copy of an active schedule
func (wm *WindowManager) GetSchedule(id string) (Schedule, bool) {
	wm.mu.Lock()
	defer wm.mu.Unlock()

	s, ok := wm.active[id]
	if !ok {
		return Schedule{}, false
	}
	return *s, true
}

// ActiveSchedules returns copies of all active schedules
func (wm *WindowManager) ActiveSchedules() []Schedule {
	wm.mu.Lock()
	defer wm.mu.Unlock()

	out := make([]Schedule, 0, len(wm.active))
	for _, s := range wm.active {
		out = append(out, *s)
	}
	return out
}

// ActiveCount returns the number of monitored schedules
func (wm *WindowManager) ActiveCount() int {
	wm.mu.Lock()
	defer wm.mu.Unlock()
	return len(wm.active)
}

// CloseWindow retires a schedule with an external reason. Idempotent:
// a second close of the same id returns false.
func (wm *WindowManager) CloseWindow(id string, reason types.ExecutionReason) bool {
	wm.mu.Lock()

	s, ok := wm.active[id]
	if !ok {
		wm.mu.Unlock()
		return false
	}
	wm.retireLocked(s, reason, time.Now())
	wm.mu.Unlock()

	log.Debug().Str("window", id).Str("reason", string(reason)).Msg("Schedule closed")
	return true
}

// Stop force-closes every schedule with a SYSTEM reason and joins the
// monitor goroutine before returning
func (wm *WindowManager) Stop() {
	wm.mu.Lock()
	if !wm.running {
		wm.mu.Unlock()
		return
	}
	wm.running = false

	now := time.Now()
	for _, s := range wm.active {
		wm.retireLocked(s, types.ReasonSystem, now)
	}
	close(wm.stopCh)
	wm.mu.Unlock()

	wm.wg.Wait()
	log.Info().Msg("Window manager stopped")
}

// retireLocked moves a schedule to the completed set. Caller holds the
// lock.
func (wm *WindowManager) retireLocked(s *Schedule, reason types.ExecutionReason, now time.Time) {
	s.ClosedAt = now
	s.Reason = reason
	delete(wm.active, s.WindowID)
	wm.completed[s.WindowID] = s
}

// monitor is the single poll loop enforcing deadlines, warnings and
// completed-set pruning
func (wm *WindowManager) monitor() {
	defer wm.wg.Done()

	ticker := time.NewTicker(wm.cfg.PollInterval)
	defer ticker.Stop()

	log.Info().Dur("interval", wm.cfg.PollInterval).Msg("⏱️ Window monitor started")

	for {
		select {
		case <-wm.stopCh:
			return
		case <-ticker.C:
			wm.tick(time.Now())
		}
	}
}

// tick runs one monitor pass. Kept separate from the goroutine so
// tests can drive it with a synthetic clock.
func (wm *WindowManager) tick(now time.Time) {
	type firing struct {
		snapshot Schedule
		cb       TimeoutCallback
	}

	wm.mu.Lock()

	var expired []firing
	var warnings []Schedule
	for _, s := range wm.active {
		if now.After(s.ExpectedEndTime) {
			expired = append(expired, firing{snapshot: *s, cb: s.timeout})
			continue
		}
		if !s.warned && s.ExpectedEndTime.Sub(now) <= wm.cfg.WarningThreshold {
			s.warned = true
			warnings = append(warnings, *s)
		}
	}
	for _, f := range expired {
		if s, ok := wm.active[f.snapshot.WindowID]; ok {
			wm.retireLocked(s, types.ReasonTimeout, now)
		}
	}

	cutoff := now.Add(-wm.cfg.CompletedRetention)
	for id, s := range wm.completed {
		if !s.ClosedAt.IsZero() && s.ClosedAt.Before(cutoff) {
			delete(wm.completed, id)
		}
	}

	onTimeout := wm.onTimeout
	onWarning := wm.onWarning
	wm.mu.Unlock()

	// Callbacks run without the lock so they may call back in
	for _, f := range expired {
		log.Warn().
			Str("window", f.snapshot.WindowID).
			Time("deadline", f.snapshot.ExpectedEndTime).
			Msg("⏰ Window deadline passed")
		if f.cb != nil {
			f.cb(f.snapshot.WindowID, f.snapshot)
		}
		if onTimeout != nil {
			onTimeout(f.snapshot.WindowID, f.snapshot)
		}
	}
	for _, s := range warnings {
		remaining := s.ExpectedEndTime.Sub(now).Minutes()
		log.Info().
			Str("window", s.WindowID).
			Float64("minutes_remaining", remaining).
			Msg("Window nearing deadline")
		if onWarning != nil {
			onWarning(s.WindowID, s, remaining)
		}
	}
}
