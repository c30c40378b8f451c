// Package config loads the twinsync configuration.
//
// Values come from, in increasing precedence: built-in defaults, a config
// file (TOML or YAML, picked by extension) and TWINSYNC_* environment
// variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable read by Load.
const EnvPrefix = "TWINSYNC"

// Config is the complete daemon configuration.
type Config struct {
	// SyncDir is the local directory kept in sync.
	SyncDir string `mapstructure:"sync_dir"`

	// DataDir holds the metadata store, logs and the default remote feed.
	DataDir string `mapstructure:"data_dir"`

	// DBPath is the metadata store file. Defaults to DataDir/metadata.db.
	DBPath string `mapstructure:"db_path"`

	// DebounceInterval is how long the local side waits for the
	// filesystem to go quiet before reconciling.
	DebounceInterval time.Duration `mapstructure:"debounce_interval"`

	// PollInterval is how often the remote changes feed is read.
	PollInterval time.Duration `mapstructure:"poll_interval"`

	// RemoteFeed is either a ws:// or wss:// URL or the path of a
	// JSON-lines feed file. Defaults to DataDir/remote.jsonl.
	RemoteFeed string `mapstructure:"remote_feed"`

	// LogFile, if set, receives a copy of the log, rotated at
	// LogMaxSizeMB and keeping LogMaxBackups old files.
	LogFile       string `mapstructure:"log_file"`
	LogMaxSizeMB  int    `mapstructure:"log_max_size_mb"`
	LogMaxBackups int    `mapstructure:"log_max_backups"`

	// DashboardPort is the status WebSocket port. 0 disables the dashboard.
	DashboardPort int `mapstructure:"dashboard_port"`

	// Ignore lists glob patterns of local paths never synced.
	Ignore []string `mapstructure:"ignore"`
}

// DefaultDir returns the default data directory, ~/.twinsync.
func DefaultDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".twinsync"
	}
	return filepath.Join(home, ".twinsync")
}

// Default returns the built-in configuration.
func Default() *Config {
	dataDir := DefaultDir()
	return &Config{
		SyncDir:          filepath.Join(filepath.Dir(dataDir), "Twinsync"),
		DataDir:          dataDir,
		DebounceInterval: 200 * time.Millisecond,
		PollInterval:     2 * time.Second,
		LogMaxSizeMB:     10,
		LogMaxBackups:    3,
		DashboardPort:    7420,
		Ignore:           []string{".twinsync", "*.tmp", "*.swp", "~*", ".DS_Store"},
	}
}

// Load reads the configuration. An empty path looks for config.toml or
// config.yaml in DefaultDir and carries on with defaults when there is
// none; an explicit path must exist.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v, Default())

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(DefaultDir())
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("failed to read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	cfg.resolve()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("sync_dir", d.SyncDir)
	v.SetDefault("data_dir", d.DataDir)
	v.SetDefault("db_path", d.DBPath)
	v.SetDefault("debounce_interval", d.DebounceInterval)
	v.SetDefault("poll_interval", d.PollInterval)
	v.SetDefault("remote_feed", d.RemoteFeed)
	v.SetDefault("log_file", d.LogFile)
	v.SetDefault("log_max_size_mb", d.LogMaxSizeMB)
	v.SetDefault("log_max_backups", d.LogMaxBackups)
	v.SetDefault("dashboard_port", d.DashboardPort)
	v.SetDefault("ignore", d.Ignore)
}

// resolve fills the paths derived from DataDir.
func (c *Config) resolve() {
	if c.DBPath == "" {
		c.DBPath = filepath.Join(c.DataDir, "metadata.db")
	}
	if c.RemoteFeed == "" {
		c.RemoteFeed = filepath.Join(c.DataDir, "remote.jsonl")
	}
}

// RemoteIsWebSocket reports whether RemoteFeed is a WebSocket URL.
func (c *Config) RemoteIsWebSocket() bool {
	return strings.HasPrefix(c.RemoteFeed, "ws://") || strings.HasPrefix(c.RemoteFeed, "wss://")
}

// Validate checks the configuration for values the daemon cannot run with.
func (c *Config) Validate() error {
	switch {
	case c.SyncDir == "":
		return fmt.Errorf("sync_dir cannot be empty")
	case c.DataDir == "":
		return fmt.Errorf("data_dir cannot be empty")
	case c.DebounceInterval <= 0:
		return fmt.Errorf("debounce_interval must be positive, got %v", c.DebounceInterval)
	case c.PollInterval <= 0:
		return fmt.Errorf("poll_interval must be positive, got %v", c.PollInterval)
	case c.DashboardPort < 0 || c.DashboardPort > 65535:
		return fmt.Errorf("dashboard_port out of range: %d", c.DashboardPort)
	case c.LogMaxSizeMB < 0 || c.LogMaxBackups < 0:
		return fmt.Errorf("log rotation limits cannot be negative")
	}
	for _, p := range c.Ignore {
		if _, err := filepath.Match(p, ""); err != nil {
			return fmt.Errorf("invalid ignore pattern %q: %w", p, err)
		}
	}
	return nil
}

// fileConfig is the on-disk layout written by WriteTOML. Durations are
// written as strings such as "200ms".
type fileConfig struct {
	SyncDir          string   `toml:"sync_dir"`
	DataDir          string   `toml:"data_dir"`
	DBPath           string   `toml:"db_path,omitempty"`
	DebounceInterval string   `toml:"debounce_interval"`
	PollInterval     string   `toml:"poll_interval"`
	RemoteFeed       string   `toml:"remote_feed,omitempty"`
	LogFile          string   `toml:"log_file,omitempty"`
	LogMaxSizeMB     int      `toml:"log_max_size_mb"`
	LogMaxBackups    int      `toml:"log_max_backups"`
	DashboardPort    int      `toml:"dashboard_port"`
	Ignore           []string `toml:"ignore"`
}

// WriteTOML writes cfg to path as TOML, creating parent directories.
func WriteTOML(path string, cfg *Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	out := fileConfig{
		SyncDir:          cfg.SyncDir,
		DataDir:          cfg.DataDir,
		DBPath:           cfg.DBPath,
		DebounceInterval: cfg.DebounceInterval.String(),
		PollInterval:     cfg.PollInterval.String(),
		RemoteFeed:       cfg.RemoteFeed,
		LogFile:          cfg.LogFile,
		LogMaxSizeMB:     cfg.LogMaxSizeMB,
		LogMaxBackups:    cfg.LogMaxBackups,
		DashboardPort:    cfg.DashboardPort,
		Ignore:           cfg.Ignore,
	}
	if err := toml.NewEncoder(f).Encode(out); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return f.Close()
}
