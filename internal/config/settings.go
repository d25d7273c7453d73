package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// For mocking in tests.
var getSettingsPath = func() (string, error) {
	dir, err := UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, settingsFileName), nil
}

// DefaultSettings returns the built-in timing and lookup parameters.
func DefaultSettings() Settings {
	return Settings{
		PortForwardStabilization: 2 * time.Second,
		ProxyStabilization:       1 * time.Second,
		RestartDelay:             500 * time.Millisecond,
		ProbeTimeout:             500 * time.Millisecond,
		RecentErrorWindow:        10 * time.Second,
		KubectlPaths: []string{
			"/opt/homebrew/bin/kubectl",
			"/usr/local/bin/kubectl",
			"/usr/bin/kubectl",
		},
		SocatPaths: []string{
			"/opt/homebrew/bin/socat",
			"/usr/local/bin/socat",
			"/usr/bin/socat",
		},
	}
}

// LoadSettings loads settings by layering the user's settings.yaml (if any)
// over the defaults. A missing file is not an error; a malformed one is.
func LoadSettings() (Settings, error) {
	settings := DefaultSettings()

	path, err := getSettingsPath()
	if err != nil {
		// Settings are optional; without a home directory the defaults stand.
		fmt.Fprintf(os.Stderr, "Warning: could not determine settings path: %v\n", err)
		return settings, nil
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return settings, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Settings{}, fmt.Errorf("error reading settings from %s: %w", path, err)
	}

	var overlay Settings
	if err := yaml.Unmarshal(data, &overlay); err != nil {
		return Settings{}, fmt.Errorf("error parsing settings from %s: %w", path, err)
	}

	return mergeSettings(settings, overlay), nil
}

// mergeSettings merges 'overlay' into 'base'; zero-valued overlay fields keep
// the base value. This means a duration cannot be explicitly configured to
// zero; omit the field to get the default instead.
func mergeSettings(base, overlay Settings) Settings {
	merged := base

	if overlay.PortForwardStabilization != 0 {
		merged.PortForwardStabilization = overlay.PortForwardStabilization
	}
	if overlay.ProxyStabilization != 0 {
		merged.ProxyStabilization = overlay.ProxyStabilization
	}
	if overlay.RestartDelay != 0 {
		merged.RestartDelay = overlay.RestartDelay
	}
	if overlay.ProbeTimeout != 0 {
		merged.ProbeTimeout = overlay.ProbeTimeout
	}
	if overlay.RecentErrorWindow != 0 {
		merged.RecentErrorWindow = overlay.RecentErrorWindow
	}
	if len(overlay.KubectlPaths) > 0 {
		merged.KubectlPaths = overlay.KubectlPaths
	}
	if len(overlay.SocatPaths) > 0 {
		merged.SocatPaths = overlay.SocatPaths
	}

	return merged
}
