package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// envConfigDir overrides the configuration directory location, mainly for
// tests and packaging.
const envConfigDir = "ONEDRIVED_CONFIG_DIR"

// ErrConfigDirMissing is returned by CheckConfigDir when the configuration
// directory does not exist. The daemon treats this as fatal (exit 1).
var ErrConfigDirMissing = errors.New("config: configuration directory does not exist")

// Dir returns the configuration directory: $ONEDRIVED_CONFIG_DIR if set,
// otherwise ~/.config/onedrived.
func Dir() string {
	if dir := os.Getenv(envConfigDir); dir != "" {
		return dir
	}

	home, err := os.UserHomeDir()
	if err != nil {
		// Last resort: relative directory in the working dir.
		return ".onedrived"
	}

	return filepath.Join(home, ".config", "onedrived")
}

// CheckConfigDir verifies the configuration directory exists. It does not
// create it — initial setup is a deliberate operator step.
func CheckConfigDir(dir string) error {
	info, err := os.Stat(dir)
	if errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%w: %s (run `onedrived init` first)", ErrConfigDirMissing, dir)
	}

	if err != nil {
		return fmt.Errorf("config: stat %s: %w", dir, err)
	}

	if !info.IsDir() {
		return fmt.Errorf("%w: %s is not a directory", ErrConfigDirMissing, dir)
	}

	return nil
}

// FilePath returns the path of the TOML config file inside dir.
func FilePath(dir string) string {
	return filepath.Join(dir, "onedrived.toml")
}

// StateDBPath returns the path of the SQLite state database inside dir.
func StateDBPath(dir string) string {
	return filepath.Join(dir, "onedrived.db")
}

// TokenPath returns the path of the OAuth2 token file inside dir.
func TokenPath(dir string) string {
	return filepath.Join(dir, "token.json")
}

// PIDPath returns the path of the daemon PID file inside dir.
func PIDPath(dir string) string {
	return filepath.Join(dir, "onedrived.pid")
}
