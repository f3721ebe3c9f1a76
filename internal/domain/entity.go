// Package domain contains core business entities and interfaces.
// This is the innermost layer in Clean Architecture - no external dependencies.
package domain

import (
	"fmt"
	"time"
)

// Weekday names a day of the week, Monday-first.
type Weekday string

const (
	Monday    Weekday = "monday"
	Tuesday   Weekday = "tuesday"
	Wednesday Weekday = "wednesday"
	Thursday  Weekday = "thursday"
	Friday    Weekday = "friday"
	Saturday  Weekday = "saturday"
	Sunday    Weekday = "sunday"
)

// WeekdayOf maps a time.Time to its Weekday name.
func WeekdayOf(t time.Time) Weekday {
	switch t.Weekday() {
	case time.Monday:
		return Monday
	case time.Tuesday:
		return Tuesday
	case time.Wednesday:
		return Wednesday
	case time.Thursday:
		return Thursday
	case time.Friday:
		return Friday
	case time.Saturday:
		return Saturday
	default:
		return Sunday
	}
}

// Interval is a blocking window within a single day, expressed as
// minute-of-day bounds in [0, 1440). Both bounds are inclusive.
// An interval never spans midnight: End < Start matches nothing.
type Interval struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Contains reports whether the given minute-of-day falls inside the interval.
func (iv Interval) Contains(minute int) bool {
	return minute >= iv.Start && minute <= iv.End
}

// ParseClock converts an "HH:MM" string to minute-of-day.
func ParseClock(s string) (int, error) {
	var h, m int
	if _, err := fmt.Sscanf(s, "%d:%d", &h, &m); err != nil {
		return 0, fmt.Errorf("invalid clock value %q: %w", s, err)
	}
	if h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, fmt.Errorf("clock value %q out of range", s)
	}
	return h*60 + m, nil
}

// FormatClock renders a minute-of-day back to "HH:MM".
func FormatClock(minute int) string {
	return fmt.Sprintf("%02d:%02d", minute/60, minute%60)
}

// Schedule is a named weekly blocking plan. Days absent from the map (or
// mapped to an empty list) mean no blocking that day. Intervals within a day
// need not be sorted or disjoint; overlaps are redundant, not an error.
type Schedule struct {
	ID      string                 `json:"id"`
	Name    string                 `json:"name"`
	Enabled bool                   `json:"enabled"`
	Days    map[Weekday][]Interval `json:"days"`
}

// ScheduleState is the snapshot the evaluator works from: all schedules, the
// active-schedule pointer, the pause override and the global on/off switch.
type ScheduleState struct {
	Schedules   []Schedule `json:"schedules"`
	ActiveID    string     `json:"activeId"`
	PausedUntil *time.Time `json:"pausedUntil,omitempty"`
	Enabled     bool       `json:"enabled"`
}

// Active resolves the active-schedule pointer, or nil if it points nowhere.
func (s ScheduleState) Active() *Schedule {
	if s.ActiveID == "" {
		return nil
	}
	for i := range s.Schedules {
		if s.Schedules[i].ID == s.ActiveID {
			return &s.Schedules[i]
		}
	}
	return nil
}

// BlockedSite is one entry of the user's block list. Pattern is a hostname or
// hostname+path glob, optionally with a leading "*." wildcard. Duplicate
// patterns are harmless - they just produce redundant rules.
type BlockedSite struct {
	ID      string `json:"id"`
	Pattern string `json:"pattern"`
	Enabled bool   `json:"enabled"`
}

// Budget configuration bounds enforced at the configuration boundary.
const (
	MinBudgetMinutes = 5
	MaxBudgetMinutes = 480
)

// BudgetConfig is the user's daily allowance settings.
type BudgetConfig struct {
	TotalMinutes int    `json:"totalMinutes"`
	ResetTime    string `json:"resetTime"` // "HH:MM"
}

// Validate rejects out-of-range budgets and malformed reset times.
func (c BudgetConfig) Validate() error {
	if c.TotalMinutes < MinBudgetMinutes || c.TotalMinutes > MaxBudgetMinutes {
		return fmt.Errorf("budget must be between %d and %d minutes, got %d",
			MinBudgetMinutes, MaxBudgetMinutes, c.TotalMinutes)
	}
	if _, err := ParseClock(c.ResetTime); err != nil {
		return fmt.Errorf("invalid reset time: %w", err)
	}
	return nil
}

// WarnLevel identifies a budget threshold warning.
type WarnLevel string

const (
	WarnLow      WarnLevel = "low"      // remaining <= 25% of total
	WarnCritical WarnLevel = "critical" // remaining <= 10% of total
)

// DailyBudget is the current day's consumption record. Used and PerSite are
// fractional minutes; the tracker never rounds internally. Warned latches
// each threshold once per day and is reset with the daily reset.
type DailyBudget struct {
	Date    string             `json:"date"` // "YYYY-MM-DD"
	Used    float64            `json:"used"`
	PerSite map[string]float64 `json:"perSite"`
	Warned  map[WarnLevel]bool `json:"warned,omitempty"`
}

// NewDailyBudget returns a fresh zeroed record for the given date.
func NewDailyBudget(date string) DailyBudget {
	return DailyBudget{
		Date:    date,
		PerSite: make(map[string]float64),
		Warned:  make(map[WarnLevel]bool),
	}
}

// HistoryCap is the maximum number of archived daily records kept.
const HistoryCap = 30

// BudgetStatus is the read-side view of the current budget.
type BudgetStatus struct {
	Total     float64 `json:"total"`
	Used      float64 `json:"used"`
	Remaining float64 `json:"remaining"`
	Date      string  `json:"date"`
}

// Session is a live per-tab budget spend. Held only in memory for the
// lifetime of the browsing session; never persisted, never resumed after a
// restart. Consumed budget up to the last persisted tick survives, the
// session itself does not.
type Session struct {
	TabID      int
	SiteID     string
	Pattern    string
	StartedAt  time.Time
	LastTickAt time.Time
}

// ScheduleStatus is the answer to a GET_SCHEDULE_STATUS query.
type ScheduleStatus struct {
	IsPaused bool `json:"isPaused"`
	IsActive bool `json:"isActive"`
}

// Rule is one installed declarative blocking rule. Derived state: fully
// recomputable from sites + schedule verdict + active sessions, never a
// source of truth.
type Rule struct {
	ID             int    `json:"id"`
	Pattern        string `json:"pattern"`
	RedirectURL    string `json:"redirectUrl"`
	ExcludedTabIDs []int  `json:"excludedTabIds,omitempty"`
}

// RuleDiff is a batched add/remove to apply to the installed rule set.
type RuleDiff struct {
	Add       []Rule `json:"add"`
	RemoveIDs []int  `json:"removeIds"`
}

// Empty reports whether applying the diff would be a no-op.
func (d RuleDiff) Empty() bool {
	return len(d.Add) == 0 && len(d.RemoveIDs) == 0
}

// RegistryEntry records the engine daemon for discovery by the CLI.
type RegistryEntry struct {
	Version       int    `json:"version"`
	PID           int    `json:"pid"`
	ListenAddr    string `json:"listen_addr"`
	StartedAt     int64  `json:"started_at"`
	LastHeartbeat int64  `json:"last_heartbeat"`
	AppVersion    string `json:"app_version,omitempty"`
}
