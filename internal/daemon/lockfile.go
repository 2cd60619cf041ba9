package daemon

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// ErrAlreadyRunning is returned by Acquire while another process holds the
// lock.
var ErrAlreadyRunning = errors.New("daemon already running")

// LockFile is an advisory OS lock on a file that records the holder's PID.
// The lock dies with the process, so a file left behind by a crash is simply
// locked again by the next daemon.
type LockFile struct {
	path string
	file *os.File
}

// NewLockFile returns an unacquired lock on path.
func NewLockFile(path string) *LockFile {
	return &LockFile{path: path}
}

// Path returns the lock file path.
func (l *LockFile) Path() string { return l.path }

// Acquire takes the lock without blocking and writes the current PID.
func (l *LockFile) Acquire() error {
	if err := os.MkdirAll(filepath.Dir(l.path), 0o700); err != nil {
		return fmt.Errorf("create lock directory: %w", err)
	}
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_RDWR, 0o600) //nolint:gosec // G304: path comes from config
	if err != nil {
		return fmt.Errorf("open lock file: %w", err)
	}

	locked, err := tryLock(f)
	if err != nil {
		f.Close()
		return fmt.Errorf("lock %s: %w", l.path, err)
	}
	if !locked {
		pid := readPID(f)
		f.Close()
		if pid > 0 {
			return fmt.Errorf("%w (PID %d), lock file: %s", ErrAlreadyRunning, pid, l.path)
		}
		return fmt.Errorf("%w, lock file: %s", ErrAlreadyRunning, l.path)
	}

	if err := writePID(f, os.Getpid()); err != nil {
		unlock(f)
		f.Close()
		return err
	}
	l.file = f
	return nil
}

// Release unlocks and removes the lock file. Releasing an unacquired lock is
// a no-op.
func (l *LockFile) Release() error {
	if l.file == nil {
		return nil
	}
	f := l.file
	l.file = nil

	unlock(f)
	if err := f.Close(); err != nil {
		return fmt.Errorf("close lock file: %w", err)
	}
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove lock file: %w", err)
	}
	return nil
}

// ReadHeldPID reports the PID in lockPath when another process currently
// holds the lock.
func ReadHeldPID(lockPath string) (pid int, held bool, err error) {
	f, err := os.OpenFile(lockPath, os.O_RDWR, 0) //nolint:gosec // G304: path comes from config
	if os.IsNotExist(err) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("open lock file: %w", err)
	}
	defer f.Close()

	locked, err := tryLock(f)
	if err != nil {
		return 0, false, fmt.Errorf("probe lock: %w", err)
	}
	if locked {
		unlock(f)
		return 0, false, nil
	}
	return readPID(f), true, nil
}

func writePID(f *os.File, pid int) error {
	if err := f.Truncate(0); err != nil {
		return fmt.Errorf("truncate lock file: %w", err)
	}
	if _, err := f.WriteAt([]byte(strconv.Itoa(pid)+"\n"), 0); err != nil {
		return fmt.Errorf("write PID: %w", err)
	}
	return f.Sync()
}

// readPID returns the PID stored in f, or 0 if it holds none.
func readPID(f *os.File) int {
	buf := make([]byte, 32)
	n, err := f.ReadAt(buf, 0)
	if err != nil && !errors.Is(err, io.EOF) {
		return 0
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(buf[:n])))
	if err != nil || pid <= 0 {
		return 0
	}
	return pid
}
