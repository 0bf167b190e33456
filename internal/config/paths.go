package config

import (
	"os"
	"path/filepath"
	"runtime"
)

const (
	platformLinux  = "linux"
	platformDarwin = "darwin"
)

const appName = "dropsync"

const configFileName = "config.toml"

// DefaultConfigDir returns the platform-specific directory for config files.
// On Linux, respects XDG_CONFIG_HOME (defaults to ~/.config/dropsync).
func DefaultConfigDir() string {
	return platformDir("XDG_CONFIG_HOME", ".config")
}

// DefaultDataDir returns the platform-specific directory for the SQLite
// database and log files. On Linux, respects XDG_DATA_HOME.
func DefaultDataDir() string {
	return platformDir("XDG_DATA_HOME", filepath.Join(".local", "share"))
}

// platformDir resolves an application directory. macOS collapses config
// and data into Application Support.
func platformDir(xdgVar, homeRel string) string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}

	switch runtime.GOOS {
	case platformDarwin:
		return filepath.Join(home, "Library", "Application Support", appName)
	case platformLinux:
		if xdg := os.Getenv(xdgVar); xdg != "" {
			return filepath.Join(xdg, appName)
		}
	}

	return filepath.Join(home, homeRel, appName)
}

// DefaultConfigPath returns the full path to the default config file, used
// when neither DROPSYNC_CONFIG nor --config is given.
func DefaultConfigPath() string {
	dir := DefaultConfigDir()
	if dir == "" {
		return ""
	}

	return filepath.Join(dir, configFileName)
}
