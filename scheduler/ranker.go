package scheduler

import "sort"

// Priority is advisory only: ranking never preempts or starves a
// window, the monitor serves them all alike.

// RankRule reports whether a should come before b
type RankRule func(a, b Schedule) bool

// ByPriority ranks CRITICAL first, then HIGH, NORMAL, LOW
func ByPriority(a, b Schedule) bool {
	return a.Priority > b.Priority
}

// ByDeadline ranks the nearest deadline first
func ByDeadline(a, b Schedule) bool {
	return a.ExpectedEndTime.Before(b.ExpectedEndTime)
}

// WindowScheduler applies an ordered chain of rules: earlier rules
// win, later rules break ties
type WindowScheduler struct {
	mgr   *WindowManager
	rules []RankRule
}

// NewWindowScheduler builds a ranker; with no rules it defaults to
// priority then deadline
func NewWindowScheduler(mgr *WindowManager, rules ...RankRule) *WindowScheduler {
	if len(rules) == 0 {
		rules = []RankRule{ByPriority, ByDeadline}
	}
	return &WindowScheduler{mgr: mgr, rules: rules}
}

// Ranked returns all active schedules in rule order
func (ws *WindowScheduler) Ranked() []Schedule {
	schedules := ws.mgr.ActiveSchedules()

	sort.SliceStable(schedules, func(i, j int) bool {
		for _, rule := range ws.rules {
			if rule(schedules[i], schedules[j]) {
				return true
			}
			if rule(schedules[j], schedules[i]) {
				return false
			}
		}
		return false
	})
	return schedules
}
