package config

import (
	"os"
	"path/filepath"
)

// DefaultRegistryFile is the default module registry file name.
const DefaultRegistryFile = ".reconflow"

// FindRegistryFile searches for the module registry file in the following
// order:
//  1. If path is specified, use it directly
//  2. Look for .reconflow in the current directory
//  3. Look for .reconflow in the user's home directory
//
// Returns the path if found, or empty string if not found.
func FindRegistryFile(path string) string {
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			return path
		}
		return ""
	}

	cwd, err := os.Getwd()
	if err == nil {
		cwdRegistry := filepath.Join(cwd, DefaultRegistryFile)
		if _, err := os.Stat(cwdRegistry); err == nil {
			return cwdRegistry
		}
	}

	home, err := os.UserHomeDir()
	if err == nil {
		homeRegistry := filepath.Join(home, DefaultRegistryFile)
		if _, err := os.Stat(homeRegistry); err == nil {
			return homeRegistry
		}
	}

	return ""
}
