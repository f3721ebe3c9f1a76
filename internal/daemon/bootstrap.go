// Package daemon wires the engine, storage, RPC endpoint and daemon
// registry into a runnable background process, and spawns that process
// detached from the CLI that requested it.
package daemon

import (
	"os"
	"os/exec"
	"syscall"
)

// StartDetached spawns the engine daemon as a detached background process.
// The daemon is a self-exec of the current binary with the hidden "daemon"
// subcommand, running in its own session so closing the terminal does not
// take it down.
func StartDetached(extraArgs ...string) (int, error) {
	executable, err := os.Executable()
	if err != nil {
		return 0, err
	}

	args := append([]string{"daemon"}, extraArgs...)
	cmd := exec.Command(executable, args...)
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setsid: true,
	}
	cmd.Stdin = nil
	cmd.Stdout = nil
	cmd.Stderr = nil

	if err := cmd.Start(); err != nil {
		return 0, err
	}
	return cmd.Process.Pid, nil
}
