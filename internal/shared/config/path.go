package config

import (
	"os"
	"path/filepath"
	"strings"
)

const (
	configPathEnvVar  = "TASKHISTORY_CONFIG_PATH"
	defaultConfigDir  = ".taskhistory"
	defaultConfigName = "config.yaml"
)

// ResolveConfigPath returns the configuration file path and its source label.
// Priority order:
//  1. Explicit TASKHISTORY_CONFIG_PATH.
//  2. $HOME/.taskhistory/config.yaml.
//  3. ./configs/config.yaml (fallback when the home directory is unavailable).
func ResolveConfigPath(envLookup EnvLookup, homeDir func() (string, error)) (string, string) {
	if envLookup == nil {
		envLookup = DefaultEnvLookup
	}
	if value, ok := envLookup(configPathEnvVar); ok {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			return trimmed, configPathEnvVar
		}
	}
	if home := resolveHome(homeDir); home != "" {
		return filepath.Join(home, defaultConfigDir, defaultConfigName), "default"
	}
	return filepath.Join("configs", defaultConfigName), "fallback"
}

func resolveHome(homeDir func() (string, error)) string {
	if homeDir == nil {
		homeDir = os.UserHomeDir
	}
	resolved, err := homeDir()
	if err != nil {
		return ""
	}
	return strings.TrimSpace(resolved)
}
