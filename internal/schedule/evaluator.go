// Package schedule decides whether blocking should be active right now.
package schedule

import (
	"go.uber.org/zap"

	"github.com/peva0411/focusgate/internal/domain"
)

// Evaluator answers "should blocking be active at this instant" from a
// ScheduleState snapshot. It holds no state of its own and never mutates its
// input; malformed data always degrades to "not blocking".
type Evaluator struct {
	clock  domain.Clock
	logger *zap.Logger
}

// NewEvaluator creates a schedule evaluator.
func NewEvaluator(clock domain.Clock, logger *zap.Logger) *Evaluator {
	return &Evaluator{clock: clock, logger: logger}
}

// ShouldBlockNow evaluates the snapshot against the injected clock.
//
// Precedence: the global enabled switch and the pause override both force
// "not blocking" before the active schedule is consulted. A pause is cleared
// implicitly by time passing it - every call compares now against
// PausedUntil, there is no resume event.
//
// Intervals are same-day only. A window like 22:00-06:00 does not wrap into
// the next calendar day; it matches nothing past midnight. Known limitation,
// kept deliberately.
func (e *Evaluator) ShouldBlockNow(state domain.ScheduleState) bool {
	if !state.Enabled {
		return false
	}

	now := e.clock.Now()

	// Pause always wins.
	if state.PausedUntil != nil && now.Before(*state.PausedUntil) {
		return false
	}

	active := state.Active()
	if active == nil {
		return false
	}
	if !active.Enabled {
		return false
	}

	day := domain.WeekdayOf(now)
	minute := now.Hour()*60 + now.Minute()

	for _, iv := range active.Days[day] {
		if iv.Contains(minute) {
			e.logger.Debug("inside blocking window",
				zap.String("schedule", active.ID),
				zap.String("day", string(day)),
				zap.Int("minute", minute),
				zap.Int("start", iv.Start),
				zap.Int("end", iv.End))
			return true
		}
	}

	return false
}

// IsPaused reports whether a pause override currently covers the clock.
func (e *Evaluator) IsPaused(state domain.ScheduleState) bool {
	return state.PausedUntil != nil && e.clock.Now().Before(*state.PausedUntil)
}

// Status returns the paused/active pair served to the UI layers.
func (e *Evaluator) Status(state domain.ScheduleState) domain.ScheduleStatus {
	return domain.ScheduleStatus{
		IsPaused: e.IsPaused(state),
		IsActive: e.ShouldBlockNow(state),
	}
}
