package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/peva0411/focusgate/internal/domain"
	"github.com/peva0411/focusgate/internal/store"
)

// User actions and queries. Every method posts onto the event loop, so the
// affected sub-evaluation and reconcile run immediately rather than waiting
// for the next tick, and UI feedback reflects the new state on return.

// AddSite appends a pattern to the block list and reconciles.
func (c *Coordinator) AddSite(ctx context.Context, pattern string) (domain.BlockedSite, error) {
	pattern = strings.TrimSpace(pattern)
	if pattern == "" {
		return domain.BlockedSite{}, fmt.Errorf("empty site pattern")
	}

	site := domain.BlockedSite{
		ID:      uuid.NewString(),
		Pattern: pattern,
		Enabled: true,
	}

	err := c.do(ctx, func(ctx context.Context) {
		c.sites = append(c.sites, site)
		c.persistSites(ctx)
		c.reconcile(ctx)
		c.logger.Info("site added", zap.String("id", site.ID), zap.String("pattern", pattern))
	})
	return site, err
}

// RemoveSite deletes a site by id and reconciles.
func (c *Coordinator) RemoveSite(ctx context.Context, siteID string) error {
	var opErr error
	err := c.do(ctx, func(ctx context.Context) {
		idx := -1
		for i, s := range c.sites {
			if s.ID == siteID {
				idx = i
				break
			}
		}
		if idx < 0 {
			opErr = fmt.Errorf("site %s: %w", siteID, ErrNoSuchSite)
			return
		}
		c.sites = append(c.sites[:idx], c.sites[idx+1:]...)
		c.persistSites(ctx)
		c.reconcile(ctx)
		c.logger.Info("site removed", zap.String("id", siteID))
	})
	if err != nil {
		return err
	}
	return opErr
}

// Sites returns a copy of the block list.
func (c *Coordinator) Sites(ctx context.Context) ([]domain.BlockedSite, error) {
	var out []domain.BlockedSite
	err := c.do(ctx, func(ctx context.Context) {
		out = append(out, c.sites...)
	})
	return out, err
}

// Pause suspends blocking for the given number of minutes, or until the next
// daily-reset crossing when minutes is -1 ("until tomorrow"). Returns the
// pause expiry.
func (c *Coordinator) Pause(ctx context.Context, minutes int) (time.Time, error) {
	if minutes != -1 && minutes <= 0 {
		return time.Time{}, fmt.Errorf("pause minutes must be positive or -1, got %d", minutes)
	}

	var until time.Time
	err := c.do(ctx, func(ctx context.Context) {
		now := c.clock.Now()
		if minutes == -1 {
			until = c.tracker.NextReset(now)
		} else {
			until = now.Add(time.Duration(minutes) * time.Minute)
		}
		c.schedState.PausedUntil = &until
		if err := c.storage.Put(ctx, store.KeyPausedUntil, until); err != nil {
			c.logger.Warn("failed to persist pause state", zap.Error(err))
		}
		c.reconcile(ctx)
		c.logger.Info("blocking paused", zap.Time("until", until))
	})
	return until, err
}

// Resume clears an active pause early.
func (c *Coordinator) Resume(ctx context.Context) error {
	return c.do(ctx, func(ctx context.Context) {
		c.schedState.PausedUntil = nil
		if err := c.storage.Delete(ctx, store.KeyPausedUntil); err != nil {
			c.logger.Warn("failed to clear pause state", zap.Error(err))
		}
		c.reconcile(ctx)
		c.logger.Info("blocking resumed")
	})
}

// ScheduleStatus answers the paused/active query.
func (c *Coordinator) ScheduleStatus(ctx context.Context) (domain.ScheduleStatus, error) {
	var st domain.ScheduleStatus
	err := c.do(ctx, func(ctx context.Context) {
		st = c.evaluator.Status(c.schedState)
	})
	return st, err
}

// CheckBudget reports whether a site may be accessed under budget, with the
// remaining/total context the interstitial renders.
func (c *Coordinator) CheckBudget(ctx context.Context, siteID string) (domain.BudgetStatus, bool, error) {
	var (
		st  domain.BudgetStatus
		can bool
	)
	err := c.do(ctx, func(ctx context.Context) {
		c.tracker.CheckDailyReset(ctx)
		st = c.tracker.Status()
		can = c.tracker.CanAccess(siteID)
	})
	return st, can, err
}

// StartBudgetSession begins spending budget on a blocked site from one tab.
// On success the site's rule is lifted (reconciled immediately) and the
// original URL is returned as the redirect target. Exhaustion is a reported
// error for the interstitial to render, not a fault.
func (c *Coordinator) StartBudgetSession(ctx context.Context, siteID, originalURL string, tabID int) (string, error) {
	var opErr error
	err := c.do(ctx, func(ctx context.Context) {
		site := c.siteByID(siteID)
		if site == nil {
			opErr = fmt.Errorf("site %s: %w", siteID, ErrNoSuchSite)
			return
		}
		c.tracker.CheckDailyReset(ctx)
		if _, err := c.tracker.StartSession(ctx, tabID, site.ID, site.Pattern); err != nil {
			opErr = err
			return
		}
		c.reconcile(ctx)
	})
	if err != nil {
		return "", err
	}
	if opErr != nil {
		return "", opErr
	}
	return originalURL, nil
}

// EndBudgetSession ends the tab's session (navigation away or tab close).
// Idempotent.
func (c *Coordinator) EndBudgetSession(ctx context.Context, tabID int) error {
	return c.do(ctx, func(ctx context.Context) {
		c.tracker.EndSession(ctx, tabID)
		c.reconcile(ctx)
	})
}

// SessionCount returns the number of live budget sessions.
func (c *Coordinator) SessionCount(ctx context.Context) (int, error) {
	var n int
	err := c.do(ctx, func(ctx context.Context) {
		n = c.tracker.SessionCount()
	})
	return n, err
}

// BudgetConfig returns the current allowance settings.
func (c *Coordinator) BudgetConfig(ctx context.Context) (domain.BudgetConfig, error) {
	var cfg domain.BudgetConfig
	err := c.do(ctx, func(ctx context.Context) {
		cfg = c.tracker.Config()
	})
	return cfg, err
}

// SetBudgetConfig validates and applies new allowance settings.
func (c *Coordinator) SetBudgetConfig(ctx context.Context, cfg domain.BudgetConfig) error {
	var opErr error
	err := c.do(ctx, func(ctx context.Context) {
		opErr = c.tracker.SetConfig(ctx, cfg)
	})
	if err != nil {
		return err
	}
	return opErr
}

// BudgetHistory returns the archived daily records, oldest first.
func (c *Coordinator) BudgetHistory(ctx context.Context) ([]domain.DailyBudget, error) {
	var out []domain.DailyBudget
	err := c.do(ctx, func(ctx context.Context) {
		out = append(out, c.tracker.History()...)
	})
	return out, err
}

// RecordBlock increments the block counter for a site (statistics only).
func (c *Coordinator) RecordBlock(ctx context.Context, siteID string) error {
	return c.do(ctx, func(ctx context.Context) {
		key := store.StatsKeyPrefix + c.clock.Now().Format("2006-01-02")
		counters := make(map[string]int)
		if _, err := c.storage.Get(ctx, key, &counters); err != nil {
			c.logger.Warn("failed to read block counters", zap.Error(err))
			return
		}
		counters[siteID]++
		if err := c.storage.Put(ctx, key, counters); err != nil {
			c.logger.Warn("failed to persist block counters", zap.Error(err))
		}
	})
}

// BlockStats returns per-site block counts keyed by date for the most recent
// days.
func (c *Coordinator) BlockStats(ctx context.Context, days int) (map[string]map[string]int, error) {
	out := make(map[string]map[string]int)
	err := c.do(ctx, func(ctx context.Context) {
		keys, err := c.storage.Keys(ctx, store.StatsKeyPrefix)
		if err != nil {
			c.logger.Warn("failed to list block counters", zap.Error(err))
			return
		}
		if days > 0 && len(keys) > days {
			keys = keys[len(keys)-days:]
		}
		for _, key := range keys {
			counters := make(map[string]int)
			if _, err := c.storage.Get(ctx, key, &counters); err != nil {
				continue
			}
			out[strings.TrimPrefix(key, store.StatsKeyPrefix)] = counters
		}
	})
	return out, err
}

// ForceReconcile runs a full tick immediately (CLI scan command).
func (c *Coordinator) ForceReconcile(ctx context.Context) error {
	return c.do(ctx, func(ctx context.Context) {
		c.tick(ctx)
	})
}

func (c *Coordinator) siteByID(id string) *domain.BlockedSite {
	for i := range c.sites {
		if c.sites[i].ID == id {
			return &c.sites[i]
		}
	}
	return nil
}

func (c *Coordinator) persistSites(ctx context.Context) {
	if err := c.storage.Put(ctx, store.KeySites, c.sites); err != nil {
		c.logger.Warn("failed to persist site list", zap.Error(err))
	}
}
