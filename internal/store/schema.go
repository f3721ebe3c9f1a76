package store

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/peva0411/focusgate/internal/domain"
)

// DefaultBudgetConfig is used when no budget configuration has been stored
// or the stored one fails validation.
var DefaultBudgetConfig = domain.BudgetConfig{
	TotalMinutes: 30,
	ResetTime:    "00:00",
}

// PersistedState aggregates everything the engine loads at startup. Loading
// never fails hard: malformed or missing payloads fall back to safe defaults
// so a corrupt store degrades to not blocking rather than blocking forever.
type PersistedState struct {
	Schedule      domain.ScheduleState
	Sites         []domain.BlockedSite
	BudgetConfig  domain.BudgetConfig
	BudgetToday   domain.DailyBudget
	BudgetHistory []domain.DailyBudget
}

// Load reads and validates the full persisted state, running the schema
// migration step first. Unknown fields are dropped by JSON decoding; missing
// keys take documented defaults.
func Load(ctx context.Context, s domain.Store, logger *zap.Logger) (*PersistedState, error) {
	if err := Migrate(ctx, s, logger); err != nil {
		return nil, err
	}

	st := &PersistedState{
		BudgetConfig: DefaultBudgetConfig,
	}
	st.Schedule.Enabled = true

	if _, err := s.Get(ctx, KeySchedules, &st.Schedule.Schedules); err != nil {
		logger.Warn("failed to load schedules, treating as none", zap.Error(err))
		st.Schedule.Schedules = nil
	}
	if _, err := s.Get(ctx, KeyActiveID, &st.Schedule.ActiveID); err != nil {
		logger.Warn("failed to load active schedule id", zap.Error(err))
		st.Schedule.ActiveID = ""
	}
	// Clear a dangling active pointer (referenced schedule deleted).
	if st.Schedule.ActiveID != "" && st.Schedule.Active() == nil {
		logger.Warn("active schedule pointer dangling, clearing",
			zap.String("id", st.Schedule.ActiveID))
		st.Schedule.ActiveID = ""
	}

	var paused time.Time
	if found, err := s.Get(ctx, KeyPausedUntil, &paused); err != nil {
		logger.Warn("failed to load pause state", zap.Error(err))
	} else if found && !paused.IsZero() {
		st.Schedule.PausedUntil = &paused
	}

	if found, err := s.Get(ctx, KeyEnabled, &st.Schedule.Enabled); err != nil {
		logger.Warn("failed to load enabled flag, defaulting on", zap.Error(err))
		st.Schedule.Enabled = true
	} else if !found {
		st.Schedule.Enabled = true
	}

	if _, err := s.Get(ctx, KeySites, &st.Sites); err != nil {
		logger.Warn("failed to load site list, treating as empty", zap.Error(err))
		st.Sites = nil
	}

	var cfg domain.BudgetConfig
	if found, err := s.Get(ctx, KeyBudgetConfig, &cfg); err != nil {
		logger.Warn("failed to load budget config, using default", zap.Error(err))
	} else if found {
		if err := cfg.Validate(); err != nil {
			logger.Warn("stored budget config invalid, using default", zap.Error(err))
		} else {
			st.BudgetConfig = cfg
		}
	}

	if found, err := s.Get(ctx, KeyBudgetToday, &st.BudgetToday); err != nil || !found {
		if err != nil {
			logger.Warn("failed to load daily budget record", zap.Error(err))
		}
		st.BudgetToday = domain.NewDailyBudget("")
	}
	if st.BudgetToday.PerSite == nil {
		st.BudgetToday.PerSite = make(map[string]float64)
	}
	if st.BudgetToday.Warned == nil {
		st.BudgetToday.Warned = make(map[domain.WarnLevel]bool)
	}

	if _, err := s.Get(ctx, KeyBudgetHistory, &st.BudgetHistory); err != nil {
		logger.Warn("failed to load budget history", zap.Error(err))
		st.BudgetHistory = nil
	}
	if len(st.BudgetHistory) > domain.HistoryCap {
		st.BudgetHistory = st.BudgetHistory[len(st.BudgetHistory)-domain.HistoryCap:]
	}

	return st, nil
}

// Migrate brings the stored schema up to the current version. Version 0
// (fresh database) just stamps the version; future versions chain from here.
func Migrate(ctx context.Context, s domain.Store, logger *zap.Logger) error {
	var version int
	found, err := s.Get(ctx, KeySchemaVersion, &version)
	if err != nil {
		// A corrupt version marker is treated as a fresh database; the
		// per-key loaders above tolerate whatever is really there.
		logger.Warn("failed to read schema version, restamping", zap.Error(err))
		found = false
	}

	if !found || version < SchemaVersion {
		if err := s.Put(ctx, KeySchemaVersion, SchemaVersion); err != nil {
			return err
		}
		if !found {
			logger.Info("initialized store schema", zap.Int("version", SchemaVersion))
		} else {
			logger.Info("migrated store schema",
				zap.Int("from", version), zap.Int("to", SchemaVersion))
		}
	}

	return nil
}
