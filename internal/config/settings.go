// File: internal/config/settings.go
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

// DefaultConfigFile is where settings are persisted when no --config
// flag was given.
const DefaultConfigFile = "wbw.yaml"

// SaveMonitorSettings writes the current monitor selection (URL,
// interval, buttons) back to the configuration file so a later run can
// start without re-selecting. Credentials are deliberately not written;
// the bot token stays in the environment.
func SaveMonitorSettings(v *viper.Viper, path string, mon MonitorConfig) error {
	if path == "" {
		path = DefaultConfigFile
	}

	v.Set("monitor.url", mon.URL)
	v.Set("monitor.interval", mon.Interval.String())

	buttons := make([]map[string]string, 0, len(mon.Buttons))
	for _, b := range mon.Buttons {
		buttons = append(buttons, map[string]string{
			"selector": b.Selector,
			"label":    b.Label,
		})
	}
	v.Set("monitor.buttons", buttons)

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
	}
	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("failed to write settings to %s: %w", path, err)
	}
	return nil
}
