// Package store implements the persistent key-value collaborator on bbolt,
// plus an in-memory variant for tests and the versioned load-time schema.
package store

// Persisted state keys. All values are JSON documents.
const (
	KeySchemaVersion = "schema_version"
	KeySchedules     = "schedules"
	KeyActiveID      = "active_schedule"
	KeyPausedUntil   = "paused_until"
	KeySites         = "sites"
	KeyBudgetConfig  = "budget_config"
	KeyBudgetToday   = "budget_today"
	KeyBudgetHistory = "budget_history"
	KeyEnabled       = "enabled"
	KeyBlockVerdict  = "blocking_active"
)

// StatsKeyPrefix namespaces per-day block counters ("stats:YYYY-MM-DD").
const StatsKeyPrefix = "stats:"

// SchemaVersion is the current persisted schema version.
const SchemaVersion = 1

// watchBuffer is the per-subscriber notification buffer. Slow consumers
// drop notifications rather than block writers.
const watchBuffer = 64
