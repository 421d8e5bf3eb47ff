package config

import (
	"path/filepath"
	"time"
)

const (
	DefaultWriteConcurrency = 16
	DefaultLockTimeout      = 5 * time.Second
	DefaultMaxIndexBackups  = 3
	DefaultLegacyStateKey   = "taskHistory"

	defaultTasksDirName   = "tasks"
	defaultIndexDirName   = "taskHistory"
	defaultLegacyFileName = "globalState.json"
)

// Config is the resolved runtime configuration of the history engine.
type Config struct {
	DataDir          string        `yaml:"data_dir"`
	TasksDir         string        `yaml:"tasks_dir"`
	IndexDir         string        `yaml:"index_dir"`
	LegacyStatePath  string        `yaml:"legacy_state_path"`
	LegacyStateKey   string        `yaml:"legacy_state_key"`
	CurrentWorkspace string        `yaml:"current_workspace"`
	WriteConcurrency int           `yaml:"write_concurrency"`
	LockTimeout      time.Duration `yaml:"lock_timeout"`
	// CacheMaxItems of zero keeps every loaded item.
	CacheMaxItems int `yaml:"cache_max_items"`
	// MaxIndexBackups of -1 keeps every backup.
	MaxIndexBackups *int   `yaml:"max_index_backups"`
	TimeZone        string `yaml:"time_zone"`
	LogDir          string `yaml:"log_dir"`
}

// Metadata records where the configuration came from.
type Metadata struct {
	Path       string
	Source     string
	FileLoaded bool
	LoadedAt   time.Time
}

// applyDefaults fills every unset field. Directory defaults derive from DataDir.
func (c Config) applyDefaults(home string) Config {
	if c.DataDir == "" {
		if home != "" {
			c.DataDir = filepath.Join(home, defaultConfigDir)
		} else {
			c.DataDir = defaultConfigDir
		}
	}
	if c.TasksDir == "" {
		c.TasksDir = filepath.Join(c.DataDir, defaultTasksDirName)
	}
	if c.IndexDir == "" {
		c.IndexDir = filepath.Join(c.DataDir, defaultIndexDirName)
	}
	if c.LegacyStatePath == "" {
		c.LegacyStatePath = filepath.Join(c.DataDir, defaultLegacyFileName)
	}
	if c.LegacyStateKey == "" {
		c.LegacyStateKey = DefaultLegacyStateKey
	}
	if c.WriteConcurrency <= 0 {
		c.WriteConcurrency = DefaultWriteConcurrency
	}
	if c.LockTimeout <= 0 {
		c.LockTimeout = DefaultLockTimeout
	}
	if c.CacheMaxItems < 0 {
		c.CacheMaxItems = 0
	}
	if c.MaxIndexBackups == nil {
		n := DefaultMaxIndexBackups
		c.MaxIndexBackups = &n
	}
	return c
}

// Location resolves TimeZone. Empty or "local" means time.Local.
func (c Config) Location() (*time.Location, error) {
	switch c.TimeZone {
	case "", "local", "Local":
		return time.Local, nil
	default:
		return time.LoadLocation(c.TimeZone)
	}
}
