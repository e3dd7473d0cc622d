package deimos

import (
	"fmt"
	"os"
)

// checkOrCreatePIDFile refuses to start a second watchdog for the same client.
func checkOrCreatePIDFile(pidFile string) error {
	if _, err := os.Stat(pidFile); err == nil {
		return fmt.Errorf("PID file %s already exists; another instance may be running", pidFile)
	}
	pid := os.Getpid()
	if err := os.WriteFile(pidFile, []byte(fmt.Sprintf("%d\n", pid)), 0o644); err != nil {
		return fmt.Errorf("write PID file: %w", err)
	}
	return nil
}

func removePIDFile(pidFile string) {
	_ = os.Remove(pidFile)
}
