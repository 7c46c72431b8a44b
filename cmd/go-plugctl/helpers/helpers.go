package helpers

import (
	"os"
	"path/filepath"
)

// defaultPluginDir returns the default plugin directory path.
func defaultPluginDir() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return filepath.Join(defaultHomeDir, dirSuffix)
	}
	return filepath.Join(home, dirSuffix)
}
