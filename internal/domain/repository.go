package domain

import (
	"context"
	"time"
)

// Clock supplies wall-clock time. Injected everywhere time is read so tests
// can simulate arbitrary timestamps without patching a global.
type Clock interface {
	Now() time.Time
}

// Store is the persistent key-value collaborator: asynchronous get/set with
// change notifications. JSON-serializable values only. The store is the
// single source of truth for all durable engine state.
type Store interface {
	// Get unmarshals the value at key into out. Returns false if the key
	// does not exist (out is left untouched).
	Get(ctx context.Context, key string, out any) (bool, error)

	// Put marshals v and writes it at key, then notifies watchers.
	Put(ctx context.Context, key string, v any) error

	// Delete removes key. Deleting a missing key is a no-op.
	Delete(ctx context.Context, key string) error

	// Keys lists all keys with the given prefix, in byte order.
	Keys(ctx context.Context, prefix string) ([]string, error)

	// Watch returns a channel receiving the keys of subsequent writes.
	// The channel is buffered; slow consumers drop notifications rather
	// than block writers.
	Watch() <-chan string

	// Close releases the underlying database.
	Close() error
}

// RuleInstaller is the platform's declarative content blocker, treated as a
// black box that installs redirect rules. The installed set is disposable:
// on any ambiguity the synchronizer recomputes and overwrites it.
type RuleInstaller interface {
	// ListRules returns the currently installed dynamic rules.
	ListRules(ctx context.Context) ([]Rule, error)

	// ApplyDiff removes and adds rules in a single batched call, so there
	// is never a visible window with zero or duplicate rules.
	ApplyDiff(ctx context.Context, diff RuleDiff) error
}

// Notifier delivers user-facing warnings (low budget, forced session end).
// Delivery failures are logged, never fatal.
type Notifier interface {
	Notify(ctx context.Context, summary, body string, urgent bool) error
}

// ProcessManager handles OS process liveness checks.
// Implementation: uses gopsutil for cross-platform support.
type ProcessManager interface {
	// IsRunning checks if a PID exists and is running.
	IsRunning(pid int) bool

	// GetCurrentPID returns the current process PID.
	GetCurrentPID() int
}

// DaemonRegistry provides engine-daemon discovery for the CLI.
// Implementation: JSON file written atomically.
type DaemonRegistry interface {
	// Register saves the running daemon's PID and listen address.
	Register(entry RegistryEntry) error

	// Load returns the registry state, or nil if no daemon registered.
	Load() (*RegistryEntry, error)

	// UpdateHeartbeat updates the liveness timestamp.
	UpdateHeartbeat() error

	// Clear removes the registry file.
	Clear() error
}

// KeyProvider abstracts the source of the secret-store encryption key.
type KeyProvider interface {
	// GetKey returns the encryption key bytes.
	GetKey() ([]byte, error)

	// StoreKey persists a new encryption key.
	StoreKey(key []byte) error

	// KeyExists checks if a key has been generated.
	KeyExists() bool
}

// SecretStore provides encrypted persistent storage for secrets, such as the
// RPC auth token generated at install time.
type SecretStore interface {
	// GetSecret retrieves a secret by key.
	GetSecret(key string) (string, error)

	// SetSecret stores a secret.
	SetSecret(key, value string) error

	// Close releases resources (e.g., database connection).
	Close() error
}
