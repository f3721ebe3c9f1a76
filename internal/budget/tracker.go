// Package budget tracks daily time-budget consumption across live per-tab
// sessions, with exhaustion, threshold warnings and daily resets.
package budget

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/peva0411/focusgate/internal/domain"
	"github.com/peva0411/focusgate/internal/store"
)

// ErrBudgetExhausted is the expected, reported error when a session is
// requested with no remaining budget. Callers surface it as "budget
// exhausted" UX, it is not a system fault.
var ErrBudgetExhausted = errors.New("daily budget exhausted")

// Tracker is the per-day budget state machine: Fresh -> Accruing ->
// Exhausted, reset to Fresh at the configured reset-time crossing.
//
// The session map is volatile and owned exclusively by the Tracker; sessions
// never survive a process restart. All methods must be called from the
// coordinator's event loop - the Tracker does no locking of its own.
type Tracker struct {
	clock    domain.Clock
	storage  domain.Store
	notifier domain.Notifier
	logger   *zap.Logger

	cfg      domain.BudgetConfig
	today    domain.DailyBudget
	history  []domain.DailyBudget
	sessions map[int]*domain.Session

	// dirty marks a failed persist to be retried on the next tick.
	dirty bool

	// onForceEnd is invoked for each session ended by exhaustion, so the
	// coordinator can reinstate rules and signal the tab's interstitial.
	onForceEnd func(domain.Session)
}

// NewTracker creates a tracker seeded from persisted state. The in-memory
// session map always starts empty.
func NewTracker(
	clock domain.Clock,
	storage domain.Store,
	notifier domain.Notifier,
	cfg domain.BudgetConfig,
	today domain.DailyBudget,
	history []domain.DailyBudget,
	logger *zap.Logger,
) *Tracker {
	return &Tracker{
		clock:    clock,
		storage:  storage,
		notifier: notifier,
		logger:   logger,
		cfg:      cfg,
		today:    today,
		history:  history,
		sessions: make(map[int]*domain.Session),
	}
}

// SetForceEndHandler registers the exhaustion callback.
func (t *Tracker) SetForceEndHandler(fn func(domain.Session)) {
	t.onForceEnd = fn
}

// Config returns the current budget configuration.
func (t *Tracker) Config() domain.BudgetConfig {
	return t.cfg
}

// SetConfig validates and persists a new budget configuration.
func (t *Tracker) SetConfig(ctx context.Context, cfg domain.BudgetConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	t.cfg = cfg
	if err := t.storage.Put(ctx, store.KeyBudgetConfig, cfg); err != nil {
		// The in-memory config is already updated; the write is retried
		// with the next tick's persist.
		t.logger.Warn("failed to persist budget config", zap.Error(err))
		t.dirty = true
	}
	return nil
}

// budgetDate computes the calendar date a given instant belongs to under the
// configured reset time: before the reset crossing, the instant still counts
// against the previous date.
func (t *Tracker) budgetDate(now time.Time) string {
	resetMinute, err := domain.ParseClock(t.cfg.ResetTime)
	if err != nil {
		resetMinute = 0
	}
	day := now
	if now.Hour()*60+now.Minute() < resetMinute {
		day = now.AddDate(0, 0, -1)
	}
	return day.Format("2006-01-02")
}

// NextReset returns the next instant the daily reset crosses. Used for the
// "pause until tomorrow" operation.
func (t *Tracker) NextReset(now time.Time) time.Time {
	resetMinute, err := domain.ParseClock(t.cfg.ResetTime)
	if err != nil {
		resetMinute = 0
	}
	at := time.Date(now.Year(), now.Month(), now.Day(),
		resetMinute/60, resetMinute%60, 0, 0, now.Location())
	if !at.After(now) {
		at = at.AddDate(0, 0, 1)
	}
	return at
}

// CheckDailyReset archives the current record and starts a fresh one when
// the calendar date implied by the clock and reset time has moved on.
// Exactly-once per boundary: the date comparison is the only trigger, so any
// number of ticks around the crossing performs a single reset. Returns true
// if a reset happened.
func (t *Tracker) CheckDailyReset(ctx context.Context) bool {
	date := t.budgetDate(t.clock.Now())
	if t.today.Date == date {
		return false
	}

	// An empty date means the zero record from first run; nothing to archive.
	if t.today.Date != "" {
		t.history = append(t.history, t.today)
		if len(t.history) > domain.HistoryCap {
			t.history = t.history[len(t.history)-domain.HistoryCap:]
		}
	}

	t.today = domain.NewDailyBudget(date)
	t.logger.Info("daily budget reset",
		zap.String("date", date),
		zap.Int("history_len", len(t.history)))

	t.persist(ctx)
	return true
}

// Status is the pure read of the current budget.
func (t *Tracker) Status() domain.BudgetStatus {
	total := float64(t.cfg.TotalMinutes)
	return domain.BudgetStatus{
		Total:     total,
		Used:      t.today.Used,
		Remaining: total - t.today.Used,
		Date:      t.today.Date,
	}
}

// History returns the archived daily records, oldest first.
func (t *Tracker) History() []domain.DailyBudget {
	return t.history
}

// CanAccess reports whether a site may be accessed under budget right now.
func (t *Tracker) CanAccess(siteID string) bool {
	return t.Status().Remaining > 0
}

// StartSession registers a volatile session for the tab. Fails with
// ErrBudgetExhausted when no budget remains - a reported error, not a silent
// no-op, so callers can present the right UX. A tab that already holds a
// session has navigated again; its old session gets a final accrual and is
// replaced.
func (t *Tracker) StartSession(ctx context.Context, tabID int, siteID, pattern string) (*domain.Session, error) {
	if !t.CanAccess(siteID) {
		return nil, fmt.Errorf("site %s: %w", siteID, ErrBudgetExhausted)
	}

	if _, ok := t.sessions[tabID]; ok {
		t.EndSession(ctx, tabID)
	}

	now := t.clock.Now()
	s := &domain.Session{
		TabID:      tabID,
		SiteID:     siteID,
		Pattern:    pattern,
		StartedAt:  now,
		LastTickAt: now,
	}
	t.sessions[tabID] = s

	t.logger.Info("budget session started",
		zap.Int("tab", tabID),
		zap.String("site", siteID),
		zap.Float64("remaining", t.Status().Remaining))

	return s, nil
}

// EndSession performs a final accrual and discards the session. Idempotent:
// ending an already-ended session is a no-op.
func (t *Tracker) EndSession(ctx context.Context, tabID int) {
	s, ok := t.sessions[tabID]
	if !ok {
		return
	}
	t.accrue(s)
	delete(t.sessions, tabID)
	t.checkWarnings(ctx)
	t.persist(ctx)

	t.logger.Info("budget session ended",
		zap.Int("tab", tabID),
		zap.String("site", s.SiteID),
		zap.Float64("used", t.today.Used))
}

// EndAllSessions finalizes every live session (used at shutdown so consumed
// budget is persisted; the sessions themselves are not resumable).
func (t *Tracker) EndAllSessions(ctx context.Context) {
	for tabID := range t.sessions {
		t.EndSession(ctx, tabID)
	}
}

// Tick accrues elapsed wall-clock time into every active session and
// persists the running totals. Sessions that push the budget to exhaustion
// are force-ended and reported through the force-end handler. Also retries
// a previously failed persist even when no session is active.
func (t *Tracker) Tick(ctx context.Context) {
	if len(t.sessions) == 0 {
		if t.dirty {
			t.persist(ctx)
		}
		return
	}

	for _, s := range t.sessions {
		t.accrue(s)
	}

	if t.Status().Remaining <= 0 {
		t.forceEndAll(ctx)
	}

	t.checkWarnings(ctx)
	t.persist(ctx)
}

// HasSessions reports whether any session is live (drives the fast ticker).
func (t *Tracker) HasSessions() bool {
	return len(t.sessions) > 0
}

// ActiveSiteIDs returns the site ids with a live session. This is the
// synchronizer's exclusion set.
func (t *Tracker) ActiveSiteIDs() map[string]bool {
	ids := make(map[string]bool, len(t.sessions))
	for _, s := range t.sessions {
		ids[s.SiteID] = true
	}
	return ids
}

// SessionCount returns the number of live sessions.
func (t *Tracker) SessionCount() int {
	return len(t.sessions)
}

// accrue adds the wall-clock delta since the session's last tick to the
// global and per-site totals, capped so Used never exceeds the allowance.
// Fractional minutes accumulate; nothing is rounded here.
func (t *Tracker) accrue(s *domain.Session) {
	now := t.clock.Now()
	delta := now.Sub(s.LastTickAt)
	s.LastTickAt = now
	if delta <= 0 {
		// Clock moved backwards; skip rather than refund budget.
		return
	}

	minutes := delta.Minutes()
	avail := float64(t.cfg.TotalMinutes) - t.today.Used
	if avail < 0 {
		avail = 0
	}
	if minutes > avail {
		minutes = avail
	}

	t.today.Used += minutes
	t.today.PerSite[s.SiteID] += minutes
}

func (t *Tracker) forceEndAll(ctx context.Context) {
	for tabID, s := range t.sessions {
		ended := *s
		delete(t.sessions, tabID)
		t.logger.Info("budget exhausted, force-ending session",
			zap.Int("tab", ended.TabID),
			zap.String("site", ended.SiteID))
		if t.onForceEnd != nil {
			t.onForceEnd(ended)
		}
	}

	if err := t.notifier.Notify(ctx, "Time budget exhausted",
		"Your daily allowance is used up. Blocked sites are locked until the next reset.", true); err != nil {
		t.logger.Warn("failed to deliver exhaustion notice", zap.Error(err))
	}
}

// checkWarnings raises each threshold warning exactly once per day. The
// latches live in the daily record, so the daily reset re-arms them.
func (t *Tracker) checkWarnings(ctx context.Context) {
	total := float64(t.cfg.TotalMinutes)
	if total <= 0 {
		return
	}
	remaining := total - t.today.Used
	frac := remaining / total

	if frac <= 0.25 && !t.today.Warned[domain.WarnLow] {
		t.today.Warned[domain.WarnLow] = true
		t.warn(ctx, "Time budget low",
			fmt.Sprintf("Less than 25%% of your daily budget remains (%.1f min).", remaining), false)
	}
	if frac <= 0.10 && !t.today.Warned[domain.WarnCritical] {
		t.today.Warned[domain.WarnCritical] = true
		t.warn(ctx, "Time budget almost gone",
			fmt.Sprintf("Less than 10%% of your daily budget remains (%.1f min).", remaining), true)
	}
}

func (t *Tracker) warn(ctx context.Context, summary, body string, urgent bool) {
	t.logger.Info("budget warning", zap.String("summary", summary))
	if err := t.notifier.Notify(ctx, summary, body, urgent); err != nil {
		t.logger.Warn("failed to deliver budget warning", zap.Error(err))
	}
}

// persist writes the running record and history. A write failure is logged
// and retried on the next tick rather than aborting any session.
func (t *Tracker) persist(ctx context.Context) {
	if err := t.storage.Put(ctx, store.KeyBudgetToday, t.today); err != nil {
		t.logger.Warn("failed to persist daily budget, will retry", zap.Error(err))
		t.dirty = true
		return
	}
	if err := t.storage.Put(ctx, store.KeyBudgetHistory, t.history); err != nil {
		t.logger.Warn("failed to persist budget history, will retry", zap.Error(err))
		t.dirty = true
		return
	}
	if t.cfg != (domain.BudgetConfig{}) {
		if err := t.storage.Put(ctx, store.KeyBudgetConfig, t.cfg); err != nil {
			t.logger.Warn("failed to persist budget config, will retry", zap.Error(err))
			t.dirty = true
			return
		}
	}
	t.dirty = false
}
