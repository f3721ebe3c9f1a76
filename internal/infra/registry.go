package infra

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/peva0411/focusgate/internal/domain"
)

const registryFileName = "daemon.json"

// FileRegistry implements domain.DaemonRegistry as a JSON file written
// atomically. The CLI reads it to find the running engine daemon; liveness
// is decided by the PID, the heartbeat is informational.
type FileRegistry struct {
	path  string
	clock domain.Clock
}

// NewFileRegistry creates a registry under the given data directory.
func NewFileRegistry(dataDir string, clock domain.Clock) *FileRegistry {
	return &FileRegistry{
		path:  filepath.Join(dataDir, registryFileName),
		clock: clock,
	}
}

// Register saves the running daemon's PID and listen address.
func (r *FileRegistry) Register(entry domain.RegistryEntry) error {
	entry.Version = 1
	now := r.clock.Now().Unix()
	if entry.StartedAt == 0 {
		entry.StartedAt = now
	}
	entry.LastHeartbeat = now
	return r.atomicWrite(entry)
}

// Load returns the registry state, or nil if no daemon registered.
func (r *FileRegistry) Load() (*domain.RegistryEntry, error) {
	data, err := os.ReadFile(r.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var entry domain.RegistryEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("corrupt daemon registry: %w", err)
	}
	return &entry, nil
}

// UpdateHeartbeat updates the liveness timestamp.
func (r *FileRegistry) UpdateHeartbeat() error {
	entry, err := r.Load()
	if err != nil {
		return err
	}
	if entry == nil {
		return fmt.Errorf("no daemon registered")
	}
	entry.LastHeartbeat = r.clock.Now().Unix()
	return r.atomicWrite(*entry)
}

// Clear removes the registry file.
func (r *FileRegistry) Clear() error {
	err := os.Remove(r.path)
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

// atomicWrite writes the registry file atomically (temp + rename).
func (r *FileRegistry) atomicWrite(entry domain.RegistryEntry) error {
	if err := os.MkdirAll(filepath.Dir(r.path), 0700); err != nil {
		return err
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}

	tmpPath := fmt.Sprintf("%s.%d.tmp", r.path, os.Getpid())
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return err
	}
	if err := os.Rename(tmpPath, r.path); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return nil
}

var _ domain.DaemonRegistry = (*FileRegistry)(nil)
