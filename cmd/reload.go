package cmd

import (
	"fmt"
	"io"
	"syscall"

	"grimm.is/cloudnet/internal/config"
	"grimm.is/cloudnet/internal/system"
)

// RunReload asks the running daemon to reload its configuration. The file
// is validated first unless force is set.
func RunReload(out io.Writer, configPath, pidFile string, force bool) error {
	if !force {
		if _, err := config.LoadFile(configPath); err != nil {
			return fmt.Errorf("configuration validation failed: %w", err)
		}
		Printer.Fprintf(out, "Configuration is valid: %s\n", configPath)
	}

	pid, err := system.SignalPIDFile(pidFile, syscall.SIGHUP)
	if err != nil {
		return fmt.Errorf("failed to signal daemon (is it running?): %w", err)
	}
	Printer.Fprintf(out, "Reload signal sent to pid %d\n", pid)
	return nil
}
