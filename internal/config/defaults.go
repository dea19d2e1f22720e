package config

import (
	"os"
	"path/filepath"
	"runtime"
	"strconv"
)

const appName = "blinkscan"

// PlatformDataDir returns the platform-specific data directory.
//
// Platform paths:
//   - macOS:   ~/Library/Application Support/blinkscan/
//   - Linux:   ~/.local/share/blinkscan/
//   - Windows: %APPDATA%\blinkscan\
//
// Falls back to ~/.blinkscan if platform detection fails.
func PlatformDataDir() string {
	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(homeDir(), "Library", "Application Support", appName)
	case "linux":
		return xdgDir("XDG_DATA_HOME", ".local", "share")
	case "windows":
		if appData := os.Getenv("APPDATA"); appData != "" {
			return filepath.Join(appData, appName)
		}
		return filepath.Join(homeDir(), "AppData", "Roaming", appName)
	default:
		return filepath.Join(homeDir(), "."+appName)
	}
}

// PlatformRuntimeDir returns the directory for the instance lock.
//
// Platform paths:
//   - Linux:   $XDG_RUNTIME_DIR/blinkscan/ or /tmp/blinkscan-$UID/
//   - others:  the OS temp dir, per user
func PlatformRuntimeDir() string {
	if runtime.GOOS == "linux" {
		if xdgRuntime := os.Getenv("XDG_RUNTIME_DIR"); xdgRuntime != "" {
			return filepath.Join(xdgRuntime, appName)
		}
	}
	return filepath.Join(os.TempDir(), appName+"-"+userID())
}

// LockPath returns the single-instance lock file path.
func LockPath() string {
	return filepath.Join(PlatformRuntimeDir(), appName+".lock")
}

func xdgDir(env string, fallback ...string) string {
	if dir := os.Getenv(env); dir != "" {
		return filepath.Join(dir, appName)
	}
	parts := append([]string{homeDir()}, fallback...)
	return filepath.Join(append(parts, appName)...)
}

func homeDir() string {
	if home := os.Getenv("HOME"); home != "" {
		return home
	}
	home, _ := os.UserHomeDir()
	return home
}

func userID() string {
	if uid := os.Getuid(); uid >= 0 {
		return strconv.Itoa(uid)
	}
	return "0"
}
