// Package config loads, validates and saves the prizm configuration and
// resolves where its files live.
package config

import (
	"os"
	"path/filepath"
	"runtime"
)

// HomeEnv names a directory that, when set, holds every prizm file. It takes
// precedence over the platform defaults.
const HomeEnv = "PRIZM_HOME"

// Paths locates the configuration, data and runtime directories.
type Paths struct {
	ConfigDir  string // config.yaml
	DataDir    string // database and logs
	RuntimeDir string // daemon lock file
}

// DefaultPaths resolves the directories for the current user: $PRIZM_HOME
// if set, otherwise the XDG base directories on Unix and %APPDATA% and
// %LOCALAPPDATA% on Windows.
func DefaultPaths() *Paths {
	return resolvePaths(os.Getenv, runtime.GOOS, userHome())
}

func resolvePaths(getenv func(string) string, goos, home string) *Paths {
	or := func(key, fallback string) string {
		if v := getenv(key); v != "" {
			return v
		}
		return fallback
	}

	if root := getenv(HomeEnv); root != "" {
		return &Paths{
			ConfigDir:  root,
			DataDir:    root,
			RuntimeDir: filepath.Join(root, "run"),
		}
	}

	if goos == "windows" {
		local := filepath.Join(or("LOCALAPPDATA", filepath.Join(home, "AppData", "Local")), "prizm")
		return &Paths{
			ConfigDir:  filepath.Join(or("APPDATA", filepath.Join(home, "AppData", "Roaming")), "prizm"),
			DataDir:    local,
			RuntimeDir: filepath.Join(local, "run"),
		}
	}

	runDir := filepath.Join(home, ".prizm", "run")
	if xdg := getenv("XDG_RUNTIME_DIR"); xdg != "" {
		runDir = filepath.Join(xdg, "prizm")
	}
	return &Paths{
		ConfigDir:  filepath.Join(or("XDG_CONFIG_HOME", filepath.Join(home, ".config")), "prizm"),
		DataDir:    filepath.Join(or("XDG_DATA_HOME", filepath.Join(home, ".local", "share")), "prizm"),
		RuntimeDir: runDir,
	}
}

func (p *Paths) ConfigFile() string   { return filepath.Join(p.ConfigDir, "config.yaml") }
func (p *Paths) DatabaseFile() string { return filepath.Join(p.DataDir, "prizm.db") }
func (p *Paths) LockFile() string     { return filepath.Join(p.RuntimeDir, "prizmd.lock") }
func (p *Paths) LogDir() string       { return filepath.Join(p.DataDir, "logs") }
func (p *Paths) LogFile() string      { return filepath.Join(p.LogDir(), "prizmd.log") }

// EnsureDirectories creates every directory prizm writes to.
func (p *Paths) EnsureDirectories() error {
	for _, dir := range []string{p.ConfigDir, p.DataDir, p.RuntimeDir, p.LogDir()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return nil
}

func userHome() string {
	if home, err := os.UserHomeDir(); err == nil {
		return home
	}
	if runtime.GOOS == "windows" {
		return os.Getenv("USERPROFILE")
	}
	return os.Getenv("HOME")
}
