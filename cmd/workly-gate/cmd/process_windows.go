//go:build windows

package cmd

import (
	"os"

	"golang.org/x/sys/windows"
)

// stillActive is the exit code Windows reports for a running process.
const stillActive = 259

// shutdownSignals are the signals that trigger a graceful gate shutdown.
// SIGTERM does not exist on Windows.
func shutdownSignals() []os.Signal {
	return []os.Signal{os.Interrupt}
}

// processIsAlive opens a handle to proc and checks its exit code.
func processIsAlive(proc *os.Process) bool {
	handle, err := windows.OpenProcess(windows.PROCESS_QUERY_LIMITED_INFORMATION, false, uint32(proc.Pid))
	if err != nil {
		return false
	}
	defer windows.CloseHandle(handle)

	var exitCode uint32
	if err := windows.GetExitCodeProcess(handle, &exitCode); err != nil {
		return false
	}
	return exitCode == stillActive
}

// sendGracefulStop terminates proc. Windows has no SIGTERM, so the gate
// exits without draining.
func sendGracefulStop(proc *os.Process) error {
	return proc.Kill()
}
