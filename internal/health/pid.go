package health

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"
)

// ReadPID parses the PID file. A missing file returns os.ErrNotExist.
func ReadPID(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, fmt.Errorf("pidfile %s: bad contents %q", path, strings.TrimSpace(string(data)))
	}
	return pid, nil
}

// IsRunning reports whether the process named by the PID file is alive,
// probed with signal 0. EPERM counts as alive: the process exists but is
// owned elsewhere.
func IsRunning(path string) (bool, int) {
	pid, err := ReadPID(path)
	if err != nil {
		return false, 0
	}
	if err := syscall.Kill(pid, 0); err != nil && !errors.Is(err, syscall.EPERM) {
		return false, pid
	}
	return true, pid
}
