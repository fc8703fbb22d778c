// conf/utils.go various util functions for configuration package
package conf

import (
	"os"
	"path/filepath"
	"runtime"
)

const osWindows = "windows"

// GetDefaultConfigPaths returns the directories searched for config.yaml, in
// order: the working directory, the per-user config directory and, on
// Unix-like systems, /etc/loopback.
func GetDefaultConfigPaths() []string {
	configPaths := []string{"."}

	if configDir, err := os.UserConfigDir(); err == nil {
		configPaths = append(configPaths, filepath.Join(configDir, "loopback"))
	}

	if runtime.GOOS != osWindows {
		configPaths = append(configPaths, "/etc/loopback")
	}

	return configPaths
}
