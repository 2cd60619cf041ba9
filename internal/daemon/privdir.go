package daemon

import (
	"errors"
	"fmt"
	"os"
	"runtime"
)

// ErrExposedDirectory is returned for a directory other users can enter. The
// data directory holds free-text feedback notes.
var ErrExposedDirectory = errors.New("directory is accessible to other users")

// EnsurePrivateDir creates dir with mode 0700 or narrows an existing
// directory to 0700. Windows ACLs are left alone.
func EnsurePrivateDir(dir string) error {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}
	if runtime.GOOS == "windows" {
		return nil
	}
	if err := checkPrivateDir(dir); !errors.Is(err, ErrExposedDirectory) {
		return err
	}
	if err := os.Chmod(dir, 0o700); err != nil { //nolint:gosec // G302: directories need the execute bit
		return fmt.Errorf("restrict %s: %w", dir, err)
	}
	return nil
}

// checkPrivateDir returns ErrExposedDirectory unless dir is a directory with
// mode exactly 0700.
func checkPrivateDir(dir string) error {
	info, err := os.Stat(dir)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", dir)
	}
	if perm := info.Mode().Perm(); perm != 0o700 {
		return fmt.Errorf("%w: %s has mode %#o", ErrExposedDirectory, dir, perm)
	}
	return nil
}
