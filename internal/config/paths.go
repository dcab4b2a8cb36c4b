package config

import (
	"os"
	"path/filepath"
	"runtime"
)

// PlatformDataDir returns the directory for logs and calibration data.
//
// Platform paths:
//   - macOS:   ~/Library/Application Support/keycadence/
//   - Linux:   $XDG_DATA_HOME/keycadence/ or ~/.local/share/keycadence/
//   - Windows: %APPDATA%\keycadence\
//
// KEYCADENCE_DATA_DIR overrides all of them.
func PlatformDataDir() string {
	if dir := os.Getenv(EnvPrefix + "DATA_DIR"); dir != "" {
		return dir
	}
	home, _ := os.UserHomeDir()
	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(home, "Library", "Application Support", "keycadence")
	case "windows":
		if appData := os.Getenv("APPDATA"); appData != "" {
			return filepath.Join(appData, "keycadence")
		}
	default:
		if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
			return filepath.Join(xdg, "keycadence")
		}
		return filepath.Join(home, ".local", "share", "keycadence")
	}
	return filepath.Join(home, ".keycadence")
}

// PlatformConfigDir returns the directory searched for config files.
func PlatformConfigDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "keycadence")
	}
	return PlatformDataDir()
}

// SupportedConfigFormats lists accepted file extensions.
func SupportedConfigFormats() []string {
	return []string{"toml", "json", "yaml", "yml"}
}

// FindConfigFile returns the first config.<ext> found in the working
// directory or the platform config directory, or "".
func FindConfigFile() string {
	for _, dir := range []string{".", PlatformConfigDir()} {
		for _, ext := range SupportedConfigFormats() {
			path := filepath.Join(dir, "config."+ext)
			if _, err := os.Stat(path); err == nil {
				return path
			}
		}
	}
	return ""
}
