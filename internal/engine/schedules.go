package engine

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/peva0411/focusgate/internal/domain"
	"github.com/peva0411/focusgate/internal/store"
)

// ErrNoSuchSchedule is returned when an operation references an unknown
// schedule id.
var ErrNoSuchSchedule = fmt.Errorf("no such schedule")

// Schedules returns a copy of all stored schedules plus the active id.
func (c *Coordinator) Schedules(ctx context.Context) ([]domain.Schedule, string, error) {
	var (
		out    []domain.Schedule
		active string
	)
	err := c.do(ctx, func(ctx context.Context) {
		out = append(out, c.schedState.Schedules...)
		active = c.schedState.ActiveID
	})
	return out, active, err
}

// SaveSchedule inserts or updates a schedule. An empty id assigns a new one.
// The engine only reads schedules during evaluation; this is the
// configuration surface writing on its behalf.
func (c *Coordinator) SaveSchedule(ctx context.Context, s domain.Schedule) (domain.Schedule, error) {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	for day, intervals := range s.Days {
		for _, iv := range intervals {
			if iv.Start < 0 || iv.Start >= 24*60 || iv.End < 0 || iv.End >= 24*60 {
				return domain.Schedule{}, fmt.Errorf("schedule %q: %s interval %s-%s out of range",
					s.Name, day, domain.FormatClock(iv.Start), domain.FormatClock(iv.End))
			}
		}
	}

	err := c.do(ctx, func(ctx context.Context) {
		replaced := false
		for i := range c.schedState.Schedules {
			if c.schedState.Schedules[i].ID == s.ID {
				c.schedState.Schedules[i] = s
				replaced = true
				break
			}
		}
		if !replaced {
			c.schedState.Schedules = append(c.schedState.Schedules, s)
		}
		c.persistSchedules(ctx)
		c.reconcile(ctx)
		c.logger.Info("schedule saved", zap.String("id", s.ID), zap.String("name", s.Name))
	})
	return s, err
}

// DeleteSchedule removes a schedule; if it was active, the active pointer is
// cleared (blocking degrades to off rather than pointing at nothing).
func (c *Coordinator) DeleteSchedule(ctx context.Context, id string) error {
	var opErr error
	err := c.do(ctx, func(ctx context.Context) {
		idx := -1
		for i := range c.schedState.Schedules {
			if c.schedState.Schedules[i].ID == id {
				idx = i
				break
			}
		}
		if idx < 0 {
			opErr = fmt.Errorf("schedule %s: %w", id, ErrNoSuchSchedule)
			return
		}
		c.schedState.Schedules = append(c.schedState.Schedules[:idx], c.schedState.Schedules[idx+1:]...)
		if c.schedState.ActiveID == id {
			c.schedState.ActiveID = ""
			if err := c.storage.Put(ctx, store.KeyActiveID, ""); err != nil {
				c.logger.Warn("failed to clear active schedule", zap.Error(err))
			}
		}
		c.persistSchedules(ctx)
		c.reconcile(ctx)
		c.logger.Info("schedule deleted", zap.String("id", id))
	})
	if err != nil {
		return err
	}
	return opErr
}

// SelectSchedule sets the active-schedule pointer. An empty id deselects.
func (c *Coordinator) SelectSchedule(ctx context.Context, id string) error {
	var opErr error
	err := c.do(ctx, func(ctx context.Context) {
		if id != "" {
			found := false
			for i := range c.schedState.Schedules {
				if c.schedState.Schedules[i].ID == id {
					found = true
					break
				}
			}
			if !found {
				opErr = fmt.Errorf("schedule %s: %w", id, ErrNoSuchSchedule)
				return
			}
		}
		c.schedState.ActiveID = id
		if err := c.storage.Put(ctx, store.KeyActiveID, id); err != nil {
			c.logger.Warn("failed to persist active schedule", zap.Error(err))
		}
		c.reconcile(ctx)
		c.logger.Info("active schedule changed", zap.String("id", id))
	})
	if err != nil {
		return err
	}
	return opErr
}

// SetEnabled flips the global blocking switch.
func (c *Coordinator) SetEnabled(ctx context.Context, enabled bool) error {
	return c.do(ctx, func(ctx context.Context) {
		c.schedState.Enabled = enabled
		if err := c.storage.Put(ctx, store.KeyEnabled, enabled); err != nil {
			c.logger.Warn("failed to persist enabled flag", zap.Error(err))
		}
		c.reconcile(ctx)
		c.logger.Info("blocking switch changed", zap.Bool("enabled", enabled))
	})
}

func (c *Coordinator) persistSchedules(ctx context.Context) {
	if err := c.storage.Put(ctx, store.KeySchedules, c.schedState.Schedules); err != nil {
		c.logger.Warn("failed to persist schedules", zap.Error(err))
	}
}
