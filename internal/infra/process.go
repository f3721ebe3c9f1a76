// Package infra implements infrastructure concerns (clock, rule publication,
// process and registry management, secrets).
package infra

import (
	"os"

	"github.com/shirou/gopsutil/v3/process"

	"github.com/peva0411/focusgate/internal/domain"
)

// ProcessManagerImpl implements domain.ProcessManager using gopsutil.
type ProcessManagerImpl struct{}

// NewProcessManager creates a new process manager.
func NewProcessManager() domain.ProcessManager {
	return &ProcessManagerImpl{}
}

// IsRunning checks if a PID exists and is running.
func (pm *ProcessManagerImpl) IsRunning(pid int) bool {
	if pid <= 0 {
		return false
	}
	ok, err := process.PidExists(int32(pid))
	return err == nil && ok
}

// GetCurrentPID returns the current process PID.
func (pm *ProcessManagerImpl) GetCurrentPID() int {
	return os.Getpid()
}

var _ domain.ProcessManager = (*ProcessManagerImpl)(nil)
