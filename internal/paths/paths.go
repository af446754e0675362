// Package paths resolves the on-disk layout under ~/.voxledger.
// It only imports the standard library so every other package can use it.
package paths

import (
	"fmt"
	"os"
	"path/filepath"
)

// ConfigFileName is the name searched for in the working directory and the base dir.
const ConfigFileName = "voxledger.json"

// BaseDir returns the voxledger base directory (~/.voxledger).
// VOXLEDGER_HOME overrides it.
func BaseDir() (string, error) {
	if dir := os.Getenv("VOXLEDGER_HOME"); dir != "" {
		return ExpandTilde(dir)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".voxledger"), nil
}

// DataPath returns a path within the base directory.
func DataPath(subpath string) (string, error) {
	base, err := BaseDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(base, subpath), nil
}

// ConfigPath returns the active config file.
// Priority: ./voxledger.json > ~/.voxledger/voxledger.json.
// Returns ("", nil) when neither exists; defaults apply in that case.
func ConfigPath() (string, error) {
	if _, err := os.Stat(ConfigFileName); err == nil {
		abs, err := filepath.Abs(ConfigFileName)
		if err != nil {
			return "", fmt.Errorf("failed to get absolute path: %w", err)
		}
		return abs, nil
	}

	global, err := DataPath(ConfigFileName)
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(global); err == nil {
		return global, nil
	}
	return "", nil
}

// DefaultConfigPath is where `config init` writes a new file.
func DefaultConfigPath() (string, error) {
	return DataPath(ConfigFileName)
}

// DefaultWorkDir holds downloaded and normalized audio (~/.voxledger/audio).
func DefaultWorkDir() (string, error) {
	return DataPath("audio")
}

// EnsureDir creates a directory with 0750 permissions if missing.
func EnsureDir(path string) error {
	if err := os.MkdirAll(path, 0750); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", path, err)
	}
	return nil
}

// EnsureParentDir creates the parent directory of a file path if missing.
func EnsureParentDir(filePath string) error {
	return EnsureDir(filepath.Dir(filePath))
}

// ExpandTilde expands a leading ~ to the user's home directory.
func ExpandTilde(path string) (string, error) {
	if len(path) == 0 || path[0] != '~' {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	if len(path) == 1 {
		return home, nil
	}
	return filepath.Join(home, path[1:]), nil
}

// Resolve expands ~ and makes relative paths relative to the base directory.
func Resolve(path string) (string, error) {
	expanded, err := ExpandTilde(path)
	if err != nil {
		return "", err
	}
	if expanded == "" || filepath.IsAbs(expanded) {
		return expanded, nil
	}
	return DataPath(expanded)
}
