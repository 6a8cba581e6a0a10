package system

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/natefinch/atomic"
)

// WritePIDFile records the current process ID at path. The returned
// cleanup removes the file only if it still names this process.
func WritePIDFile(path string) (cleanup func(), err error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create run directory: %w", err)
	}
	pid := strconv.Itoa(os.Getpid())
	if err := atomic.WriteFile(path, bytes.NewReader([]byte(pid+"\n"))); err != nil {
		return nil, fmt.Errorf("failed to write PID file: %w", err)
	}
	_ = os.Chmod(path, 0o644)

	cleanup = func() {
		if data, err := os.ReadFile(path); err == nil && strings.TrimSpace(string(data)) == pid {
			os.Remove(path)
		}
	}
	return cleanup, nil
}

// ReadPIDFile returns the PID recorded at path.
func ReadPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("failed to read PID file: %w", err)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, fmt.Errorf("invalid PID file %s", path)
	}
	return pid, nil
}

// SignalPIDFile sends sig to the process named in the PID file.
func SignalPIDFile(path string, sig syscall.Signal) (int, error) {
	pid, err := ReadPIDFile(path)
	if err != nil {
		return 0, err
	}
	if err := syscall.Kill(pid, sig); err != nil {
		return pid, fmt.Errorf("failed to signal process %d: %w", pid, err)
	}
	return pid, nil
}
