package lockfile

import (
	"bufio"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestAcquireRecordsHolder(t *testing.T) {
	dir := t.TempDir()
	lock, err := AcquireLock(dir)
	if err != nil {
		t.Fatalf("AcquireLock failed: %v", err)
	}
	defer lock.Release()

	if lock.Path() != filepath.Join(dir, LockFileName) {
		t.Errorf("Path() = %q", lock.Path())
	}
	holder, err := ReadHolder(lock.Path())
	if err != nil {
		t.Fatalf("ReadHolder failed: %v", err)
	}
	if holder.PID != os.Getpid() {
		t.Errorf("holder PID = %d, want %d", holder.PID, os.Getpid())
	}
	if time.Since(holder.Started) > time.Minute {
		t.Errorf("holder start time %v is stale", holder.Started)
	}
}

func TestSecondAcquireFails(t *testing.T) {
	dir := t.TempDir()
	first, err := AcquireLock(dir)
	if err != nil {
		t.Fatalf("first AcquireLock failed: %v", err)
	}
	defer first.Release()

	second, err := AcquireLock(dir)
	if err == nil {
		second.Release()
		t.Fatal("second AcquireLock succeeded")
	}
	if !errors.Is(err, ErrLocked) {
		t.Errorf("expected ErrLocked, got %v", err)
	}
	var lockErr *LockError
	if !errors.As(err, &lockErr) {
		t.Fatalf("expected *LockError, got %T", err)
	}
	if lockErr.Holder.PID != os.Getpid() {
		t.Errorf("reported holder PID = %d", lockErr.Holder.PID)
	}
	if !strings.Contains(err.Error(), dir) || !strings.Contains(err.Error(), "held by PID") {
		t.Errorf("unhelpful error: %s", err)
	}

	// the failed attempt must not clobber the holder record
	if holder, _ := ReadHolder(first.Path()); holder.PID != os.Getpid() {
		t.Errorf("holder record lost: %+v", holder)
	}
}

func TestReleaseIsIdempotentAndAllowsReacquire(t *testing.T) {
	dir := t.TempDir()
	lock, err := AcquireLock(dir)
	if err != nil {
		t.Fatalf("AcquireLock failed: %v", err)
	}
	if err := lock.Release(); err != nil {
		t.Fatalf("Release failed: %v", err)
	}
	if _, err := os.Stat(lock.Path()); !os.IsNotExist(err) {
		t.Errorf("lock file still present after release")
	}
	if err := lock.Release(); err != nil {
		t.Errorf("second Release failed: %v", err)
	}

	again, err := AcquireLock(dir)
	if err != nil {
		t.Fatalf("reacquire failed: %v", err)
	}
	again.Release()
}

func TestAcquireCreatesDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "state")
	lock, err := AcquireLock(dir)
	if err != nil {
		t.Fatalf("AcquireLock failed: %v", err)
	}
	defer lock.Release()
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		t.Errorf("state directory not created: %v", err)
	}
}

func TestParseHolder(t *testing.T) {
	tests := []struct {
		name    string
		content string
		pid     int
		started bool
	}{
		{"full record", "pid=12345\nstarted=2024-05-01T10:00:00Z\n", 12345, true},
		{"pid only", "pid=67890\n", 67890, false},
		{"unknown keys", "host=box\npid=42\n", 42, false},
		{"bad pid", "pid=abc\n", 0, false},
		{"negative pid", "pid=-3\n", 0, false},
		{"empty", "", 0, false},
		{"no separator", "pid12345", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, err := parseHolder(bufio.NewScanner(strings.NewReader(tt.content)))
			if err != nil {
				t.Fatalf("parseHolder error: %v", err)
			}
			if h.PID != tt.pid {
				t.Errorf("PID = %d, want %d", h.PID, tt.pid)
			}
			if h.Started.IsZero() == tt.started {
				t.Errorf("Started = %v, want set=%v", h.Started, tt.started)
			}
		})
	}
}

func TestLockErrorMessages(t *testing.T) {
	running := &LockError{LockPath: "/state/replaypipe.lock", Holder: Holder{PID: os.Getpid()}}
	if !strings.Contains(running.Error(), "held by PID") {
		t.Errorf("running holder message: %s", running.Error())
	}
	unknown := &LockError{LockPath: "/state/replaypipe.lock"}
	if !strings.Contains(unknown.Error(), "could not be identified") {
		t.Errorf("unknown holder message: %s", unknown.Error())
	}
}

func TestIsProcessRunning(t *testing.T) {
	if !isProcessRunning(os.Getpid()) {
		t.Error("own process reported as not running")
	}
}
