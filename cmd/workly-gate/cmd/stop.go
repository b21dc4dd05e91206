package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running gate",
	Long: `Stop a running gate by reading its PID file and sending SIGTERM.

The PID file is located at ~/.workly-gate/gate.pid.

Examples:
  # Stop the running gate
  workly-gate stop`,
	RunE: runStop,
}

func init() {
	rootCmd.AddCommand(stopCmd)
}

func runStop(cmd *cobra.Command, args []string) error {
	pidPath := pidFilePath()

	pid := readPIDFile(pidPath)
	if pid == 0 {
		return fmt.Errorf("no gate PID file found at %s\nIs the gate running?", pidPath)
	}

	proc, err := os.FindProcess(pid)
	if err != nil {
		os.Remove(pidPath)
		return fmt.Errorf("invalid PID %d: %w", pid, err)
	}

	if !processIsAlive(proc) {
		os.Remove(pidPath)
		return fmt.Errorf("gate process %d is not running (stale PID file removed)", pid)
	}

	// SIGTERM on Unix, Kill on Windows.
	fmt.Fprintf(os.Stderr, "Stopping workly-gate (PID %d)...\n", pid)
	if err := sendGracefulStop(proc); err != nil {
		return fmt.Errorf("failed to stop gate: %w", err)
	}

	// Poll every 200ms, max 10s.
	for range 50 {
		time.Sleep(200 * time.Millisecond)
		if !processIsAlive(proc) {
			os.Remove(pidPath)
			fmt.Fprintf(os.Stderr, "Gate stopped.\n")
			return nil
		}
	}

	fmt.Fprintf(os.Stderr, "Gate did not stop gracefully, sending SIGKILL...\n")
	_ = proc.Kill()
	os.Remove(pidPath)
	fmt.Fprintf(os.Stderr, "Gate killed.\n")
	return nil
}
