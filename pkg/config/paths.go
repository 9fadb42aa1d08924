package config

import (
	"os"
	"path/filepath"
)

const (
	defaultConfigDirName   = "cloudhaul"
	defaultConfigFile      = "config.yaml"
	defaultCredentialsFile = "credentials.json"
)

func DefaultConfigPath() string {
	if env := os.Getenv("CLOUDHAUL_CONFIG"); env != "" {
		return env
	}
	base, err := os.UserConfigDir()
	if err == nil {
		return filepath.Join(base, defaultConfigDirName, defaultConfigFile)
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".cloudhaul", defaultConfigFile)
}

// DefaultCredentialsPath is where the secret store's fallback file lives.
func DefaultCredentialsPath() string {
	base, err := os.UserConfigDir()
	if err == nil {
		return filepath.Join(base, defaultConfigDirName, defaultCredentialsFile)
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".cloudhaul", defaultCredentialsFile)
}
