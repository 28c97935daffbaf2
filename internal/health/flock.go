// Package health owns executor liveness: the flock-guarded PID file and the
// atomically written status file other processes read.
package health

import (
	"fmt"
	"os"
	"syscall"
)

// AcquireFlock takes an exclusive lock on the PID file and writes our PID
// into it as decimal ASCII without a trailing newline. The returned handle
// must stay open for the process lifetime; closing it drops the lock.
func AcquireFlock(path string) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return nil, fmt.Errorf("flock: open %s: %w", path, err)
	}

	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		f.Close()
		return nil, fmt.Errorf("another relay executor is running (lock: %s)", path)
	}

	if err := f.Truncate(0); err != nil {
		ReleaseFlock(f)
		return nil, fmt.Errorf("flock: truncate %s: %w", path, err)
	}
	if _, err := f.Seek(0, 0); err != nil {
		ReleaseFlock(f)
		return nil, fmt.Errorf("flock: seek %s: %w", path, err)
	}
	if _, err := fmt.Fprintf(f, "%d", os.Getpid()); err != nil {
		ReleaseFlock(f)
		return nil, fmt.Errorf("flock: write pid to %s: %w", path, err)
	}

	return f, nil
}

// ReleaseFlock unlocks and removes the PID file.
func ReleaseFlock(f *os.File) {
	if f == nil {
		return
	}
	syscall.Flock(int(f.Fd()), syscall.LOCK_UN)
	name := f.Name()
	f.Close()
	os.Remove(name)
}
