package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvLookup resolves the value for an environment variable.
type EnvLookup func(string) (string, bool)

// Option customises the loader behaviour.
type Option func(*loadOptions)

type loadOptions struct {
	envLookup  EnvLookup
	readFile   func(string) ([]byte, error)
	homeDir    func() (string, error)
	overrides  Overrides
	configPath string
}

// Overrides carries caller-supplied values that take precedence over the
// file. Nil fields leave the file value in place.
type Overrides struct {
	DataDir          *string
	TasksDir         *string
	IndexDir         *string
	LegacyStatePath  *string
	LegacyStateKey   *string
	CurrentWorkspace *string
	WriteConcurrency *int
	LockTimeout      *time.Duration
	CacheMaxItems    *int
	MaxIndexBackups  *int
	TimeZone         *string
	LogDir           *string
}

// WithOverrides applies caller overrides that take highest precedence.
func WithOverrides(overrides Overrides) Option {
	return func(o *loadOptions) {
		o.overrides = overrides
	}
}

// WithEnv supplies a custom environment lookup implementation.
func WithEnv(lookup EnvLookup) Option {
	return func(o *loadOptions) {
		o.envLookup = lookup
	}
}

// WithConfigPath forces the loader to read configuration from a specific file.
func WithConfigPath(path string) Option {
	return func(o *loadOptions) {
		o.configPath = path
	}
}

// WithReadFile injects a custom reader, used primarily for tests.
func WithReadFile(reader func(string) ([]byte, error)) Option {
	return func(o *loadOptions) {
		o.readFile = reader
	}
}

// WithHomeDir overrides how the loader resolves the user's home directory.
func WithHomeDir(resolver func() (string, error)) Option {
	return func(o *loadOptions) {
		o.homeDir = resolver
	}
}

// DefaultEnvLookup delegates to os.LookupEnv.
func DefaultEnvLookup(key string) (string, bool) {
	return os.LookupEnv(key)
}

// Load reads the YAML config file, expands environment references in path
// fields and applies defaults. A missing or empty file yields the defaults.
func Load(opts ...Option) (Config, Metadata, error) {
	options := loadOptions{
		envLookup: DefaultEnvLookup,
		readFile:  os.ReadFile,
		homeDir:   os.UserHomeDir,
	}
	for _, opt := range opts {
		opt(&options)
	}
	meta := Metadata{LoadedAt: time.Now()}
	home := resolveHome(options.homeDir)

	meta.Path = strings.TrimSpace(options.configPath)
	meta.Source = "override"
	if meta.Path == "" {
		meta.Path, meta.Source = ResolveConfigPath(options.envLookup, options.homeDir)
	}

	var parsed Config
	data, err := options.readFile(meta.Path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return Config{}, meta, fmt.Errorf("read config file: %w", err)
	case len(bytes.TrimSpace(data)) > 0:
		if err := yaml.Unmarshal(data, &parsed); err != nil {
			return Config{}, meta, fmt.Errorf("parse config file %s: %w", meta.Path, err)
		}
		meta.FileLoaded = true
	}

	parsed = options.overrides.apply(parsed)
	parsed = expandConfigEnv(options.envLookup, home, parsed)
	cfg := parsed.applyDefaults(home)
	if err := cfg.Validate(); err != nil {
		return Config{}, meta, err
	}
	return cfg, meta, nil
}

// Validate reports settings that cannot be used.
func (c Config) Validate() error {
	if _, err := c.Location(); err != nil {
		return fmt.Errorf("time_zone %q: %w", c.TimeZone, err)
	}
	if c.MaxIndexBackups != nil && *c.MaxIndexBackups < -1 {
		return fmt.Errorf("max_index_backups must be -1 or greater, got %d", *c.MaxIndexBackups)
	}
	if filepath.Clean(c.TasksDir) == filepath.Clean(c.IndexDir) {
		return fmt.Errorf("tasks_dir and index_dir must differ (%s)", c.TasksDir)
	}
	return nil
}

func (o Overrides) apply(cfg Config) Config {
	setString := func(dst *string, src *string) {
		if src != nil {
			*dst = *src
		}
	}
	setString(&cfg.DataDir, o.DataDir)
	setString(&cfg.TasksDir, o.TasksDir)
	setString(&cfg.IndexDir, o.IndexDir)
	setString(&cfg.LegacyStatePath, o.LegacyStatePath)
	setString(&cfg.LegacyStateKey, o.LegacyStateKey)
	setString(&cfg.CurrentWorkspace, o.CurrentWorkspace)
	setString(&cfg.TimeZone, o.TimeZone)
	setString(&cfg.LogDir, o.LogDir)
	if o.WriteConcurrency != nil {
		cfg.WriteConcurrency = *o.WriteConcurrency
	}
	if o.LockTimeout != nil {
		cfg.LockTimeout = *o.LockTimeout
	}
	if o.CacheMaxItems != nil {
		cfg.CacheMaxItems = *o.CacheMaxItems
	}
	if o.MaxIndexBackups != nil {
		n := *o.MaxIndexBackups
		cfg.MaxIndexBackups = &n
	}
	return cfg
}

func expandConfigEnv(lookup EnvLookup, home string, cfg Config) Config {
	cfg.DataDir = expandPath(lookup, home, cfg.DataDir)
	cfg.TasksDir = expandPath(lookup, home, cfg.TasksDir)
	cfg.IndexDir = expandPath(lookup, home, cfg.IndexDir)
	cfg.LegacyStatePath = expandPath(lookup, home, cfg.LegacyStatePath)
	cfg.CurrentWorkspace = expandPath(lookup, home, cfg.CurrentWorkspace)
	cfg.LogDir = expandPath(lookup, home, cfg.LogDir)
	cfg.LegacyStateKey = expandEnvValue(lookup, cfg.LegacyStateKey)
	cfg.TimeZone = expandEnvValue(lookup, cfg.TimeZone)
	return cfg
}

// expandEnvValue replaces ${VAR} and $VAR references. Unset variables expand
// to the empty string.
func expandEnvValue(lookup EnvLookup, value string) string {
	value = strings.TrimSpace(value)
	if value == "" || !strings.Contains(value, "$") {
		return value
	}
	if lookup == nil {
		lookup = DefaultEnvLookup
	}
	return os.Expand(value, func(key string) string {
		resolved, _ := lookup(key)
		return resolved
	})
}

func expandPath(lookup EnvLookup, home, value string) string {
	value = expandEnvValue(lookup, value)
	if home == "" {
		return value
	}
	if value == "~" {
		return home
	}
	if strings.HasPrefix(value, "~/") {
		return filepath.Join(home, value[2:])
	}
	return value
}
