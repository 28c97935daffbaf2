package health

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"
)

func TestAcquireFlockWritesBarePID(t *testing.T) {
	path := filepath.Join(t.TempDir(), "executor.pid")

	f, err := AcquireFlock(path)
	if err != nil {
		t.Fatal(err)
	}
	defer ReleaseFlock(f)

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	want := strconv.Itoa(os.Getpid())
	if string(data) != want {
		t.Errorf("pidfile = %q, want %q with no trailing newline", data, want)
	}
}

func TestSecondAcquireFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "executor.pid")

	f, err := AcquireFlock(path)
	if err != nil {
		t.Fatal(err)
	}
	defer ReleaseFlock(f)

	if second, err := AcquireFlock(path); err == nil {
		ReleaseFlock(second)
		t.Fatal("second acquire succeeded, want lock contention error")
	}
}

func TestReleaseFlockRemovesFileAndFreesLock(t *testing.T) {
	path := filepath.Join(t.TempDir(), "executor.pid")

	f, err := AcquireFlock(path)
	if err != nil {
		t.Fatal(err)
	}
	ReleaseFlock(f)

	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("pidfile still present after release: %v", err)
	}

	f2, err := AcquireFlock(path)
	if err != nil {
		t.Fatalf("reacquire after release: %v", err)
	}
	ReleaseFlock(f2)
}

func TestIsRunning(t *testing.T) {
	dir := t.TempDir()

	// Our own PID is alive.
	alive := filepath.Join(dir, "alive.pid")
	if err := os.WriteFile(alive, []byte(strconv.Itoa(os.Getpid())), 0600); err != nil {
		t.Fatal(err)
	}
	if ok, pid := IsRunning(alive); !ok || pid != os.Getpid() {
		t.Errorf("IsRunning(self) = (%v, %d), want (true, %d)", ok, pid, os.Getpid())
	}

	// Absent file means not running.
	if ok, _ := IsRunning(filepath.Join(dir, "missing.pid")); ok {
		t.Error("IsRunning(missing) = true, want false")
	}

	// Garbage contents mean not running.
	junk := filepath.Join(dir, "junk.pid")
	if err := os.WriteFile(junk, []byte("not-a-pid"), 0600); err != nil {
		t.Fatal(err)
	}
	if ok, _ := IsRunning(junk); ok {
		t.Error("IsRunning(junk) = true, want false")
	}
}

func TestStatusRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "executor.status.json")

	in := &Status{
		Running:        true,
		Paused:         false,
		PID:            4242,
		InstanceID:     "exec_1_deadbeef",
		StartedAt:      1700000000000,
		UptimeSeconds:  37,
		CurrentTasks:   []string{"task_1_aaaa", "task_2_bbbb"},
		CompletedToday: 5,
		FailedToday:    1,
		NextScheduled:  1700000100000,
	}
	if err := WriteStatus(path, in); err != nil {
		t.Fatal(err)
	}

	out, err := ReadStatus(path)
	if err != nil {
		t.Fatal(err)
	}
	if out == nil {
		t.Fatal("ReadStatus returned nil for an existing file")
	}
	if out.PID != in.PID || out.InstanceID != in.InstanceID || !out.Running {
		t.Errorf("round trip lost fields: %+v", out)
	}
	if len(out.CurrentTasks) != 2 || out.CurrentTasks[0] != "task_1_aaaa" {
		t.Errorf("current tasks = %v", out.CurrentTasks)
	}

	// No leftover temp files from the atomic write.
	entries, err := os.ReadDir(filepath.Dir(path))
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Errorf("directory has %d entries, want only the status file", len(entries))
	}
}

func TestReadStatusAbsent(t *testing.T) {
	s, err := ReadStatus(filepath.Join(t.TempDir(), "nope.json"))
	if err != nil {
		t.Fatalf("absent status file errored: %v", err)
	}
	if s != nil {
		t.Errorf("status = %+v, want nil when no executor wrote one", s)
	}
}

func TestRemoveStatusTolerant(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "executor.status.json")

	if err := RemoveStatus(path); err != nil {
		t.Errorf("remove of absent file: %v", err)
	}
	if err := WriteStatus(path, &Status{Running: true}); err != nil {
		t.Fatal(err)
	}
	if err := RemoveStatus(path); err != nil {
		t.Errorf("remove: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("status file still present after remove")
	}
}
