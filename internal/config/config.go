package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config represents the complete cubic configuration
type Config struct {
	Paths     PathsConfig     `mapstructure:"paths" yaml:"paths"`
	Instances InstancesConfig `mapstructure:"instances" yaml:"instances"`
	Download  DownloadConfig  `mapstructure:"download" yaml:"download"`
	Dispatch  DispatchConfig  `mapstructure:"dispatch" yaml:"dispatch"`
	Launch    LaunchConfig    `mapstructure:"launch" yaml:"launch"`
	Logging   LoggingConfig   `mapstructure:"logging" yaml:"logging"`
}

// PathsConfig controls where cubic stores data
type PathsConfig struct {
	// DataDir is the root for all cubic state. If empty, defaults to
	// $XDG_DATA_HOME/cubic or ~/.local/share/cubic. Supports ~ expansion.
	DataDir string `mapstructure:"data_dir" yaml:"data_dir"`
	// InstancesDir holds one directory per instance.
	// Relative paths resolve against DataDir. (default: "instances")
	InstancesDir string `mapstructure:"instances_dir" yaml:"instances_dir"`
	// GameRoot holds installed game versions.
	// Relative paths resolve against DataDir. (default: "game")
	GameRoot string `mapstructure:"game_root" yaml:"game_root"`
}

// InstancesConfig controls the instance store
type InstancesConfig struct {
	// Watch reloads the instance index when the instances directory changes
	// outside of cubic (default: false)
	Watch bool `mapstructure:"watch" yaml:"watch"`
}

// DownloadConfig controls the download queue
type DownloadConfig struct {
	// Workers is the number of concurrent downloads (default: 3)
	Workers int `mapstructure:"workers" yaml:"workers"`
	// ChunkSizeKB is the read buffer size per progress update (default: 8)
	ChunkSizeKB int `mapstructure:"chunk_size_kb" yaml:"chunk_size_kb"`
	// MaxBytesPerSec caps the combined bandwidth of all workers. 0 disables the cap.
	MaxBytesPerSec int64 `mapstructure:"max_bytes_per_sec" yaml:"max_bytes_per_sec"`
	// BaseURL is where game versions are fetched from, as
	// <base_url>/<version>/<version>.jar
	BaseURL string `mapstructure:"base_url" yaml:"base_url"`
}

// DispatchConfig controls the background task dispatcher
type DispatchConfig struct {
	// ShutdownGraceSeconds bounds how long shutdown waits for in-flight work (default: 5)
	ShutdownGraceSeconds int `mapstructure:"shutdown_grace_seconds" yaml:"shutdown_grace_seconds"`
}

// LaunchConfig holds the options passed to the engine when starting a game
type LaunchConfig struct {
	Username    string `mapstructure:"username" yaml:"username"`
	JavaPath    string `mapstructure:"java_path" yaml:"java_path"`
	MinMemoryMB int    `mapstructure:"min_memory_mb" yaml:"min_memory_mb"`
	MaxMemoryMB int    `mapstructure:"max_memory_mb" yaml:"max_memory_mb"`
	Width       int    `mapstructure:"width" yaml:"width"`
	Height      int    `mapstructure:"height" yaml:"height"`
	Fullscreen  bool   `mapstructure:"fullscreen" yaml:"fullscreen"`
}

// LoggingConfig controls logging behavior
type LoggingConfig struct {
	// Enabled controls whether logs are written to <data_dir>/logs (default: true)
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
	// Level is the log level: "debug", "info", "warn", "error" (default: "info")
	Level string `mapstructure:"level" yaml:"level"`
	// MaxSizeMB is the maximum log file size in megabytes before rotation (default: 10)
	MaxSizeMB int `mapstructure:"max_size_mb" yaml:"max_size_mb"`
	// MaxBackups is the number of backup log files to keep (default: 3)
	MaxBackups int `mapstructure:"max_backups" yaml:"max_backups"`
	// Compress gzips rotated log files (default: false)
	Compress bool `mapstructure:"compress" yaml:"compress"`
}

// Default returns a Config with sensible default values
func Default() *Config {
	return &Config{
		Paths: PathsConfig{
			DataDir:      "", // Empty means use the XDG data directory
			InstancesDir: "instances",
			GameRoot:     "game",
		},
		Instances: InstancesConfig{
			Watch: false,
		},
		Download: DownloadConfig{
			Workers:        3,
			ChunkSizeKB:    8,
			MaxBytesPerSec: 0,
			BaseURL:        "",
		},
		Dispatch: DispatchConfig{
			ShutdownGraceSeconds: 5,
		},
		Launch: LaunchConfig{
			Username:    "Player",
			JavaPath:    "java",
			MinMemoryMB: 512,
			MaxMemoryMB: 2048,
			Width:       854,
			Height:      480,
			Fullscreen:  false,
		},
		Logging: LoggingConfig{
			Enabled:    true,
			Level:      "info",
			MaxSizeMB:  10,
			MaxBackups: 3,
			Compress:   false,
		},
	}
}

// ChunkSize returns the download chunk size in bytes
func (d *DownloadConfig) ChunkSize() int {
	return d.ChunkSizeKB * 1024
}

// ShutdownGrace returns the shutdown grace period as a time.Duration
func (d *DispatchConfig) ShutdownGrace() time.Duration {
	return time.Duration(d.ShutdownGraceSeconds) * time.Second
}

// ResolveDataDir returns the absolute data directory.
func (p *PathsConfig) ResolveDataDir() string {
	if p.DataDir != "" {
		return expandHome(p.DataDir)
	}
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "cubic")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".cubic"
	}
	return filepath.Join(home, ".local", "share", "cubic")
}

// ResolveInstancesDir returns the instances root, resolved against the data dir.
func (p *PathsConfig) ResolveInstancesDir() string {
	return p.resolveUnderData(p.InstancesDir, "instances")
}

// ResolveGameRoot returns the game root, resolved against the data dir.
func (p *PathsConfig) ResolveGameRoot() string {
	return p.resolveUnderData(p.GameRoot, "game")
}

// ResolveLogDir returns the directory log files are written to.
func (p *PathsConfig) ResolveLogDir() string {
	return filepath.Join(p.ResolveDataDir(), "logs")
}

func (p *PathsConfig) resolveUnderData(path, fallback string) string {
	if path == "" {
		path = fallback
	}
	path = expandHome(path)
	if !filepath.IsAbs(path) {
		path = filepath.Join(p.ResolveDataDir(), path)
	}
	return path
}

// expandHome expands a leading ~ to the user's home directory.
func expandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	if path == "~" {
		return home
	}
	return filepath.Join(home, path[2:])
}

// SetDefaults registers default values with viper
func SetDefaults() {
	defaults := Default()

	// Paths defaults
	viper.SetDefault("paths.data_dir", defaults.Paths.DataDir)
	viper.SetDefault("paths.instances_dir", defaults.Paths.InstancesDir)
	viper.SetDefault("paths.game_root", defaults.Paths.GameRoot)

	// Instances defaults
	viper.SetDefault("instances.watch", defaults.Instances.Watch)

	// Download defaults
	viper.SetDefault("download.workers", defaults.Download.Workers)
	viper.SetDefault("download.chunk_size_kb", defaults.Download.ChunkSizeKB)
	viper.SetDefault("download.max_bytes_per_sec", defaults.Download.MaxBytesPerSec)
	viper.SetDefault("download.base_url", defaults.Download.BaseURL)

	// Dispatch defaults
	viper.SetDefault("dispatch.shutdown_grace_seconds", defaults.Dispatch.ShutdownGraceSeconds)

	// Launch defaults
	viper.SetDefault("launch.username", defaults.Launch.Username)
	viper.SetDefault("launch.java_path", defaults.Launch.JavaPath)
	viper.SetDefault("launch.min_memory_mb", defaults.Launch.MinMemoryMB)
	viper.SetDefault("launch.max_memory_mb", defaults.Launch.MaxMemoryMB)
	viper.SetDefault("launch.width", defaults.Launch.Width)
	viper.SetDefault("launch.height", defaults.Launch.Height)
	viper.SetDefault("launch.fullscreen", defaults.Launch.Fullscreen)

	// Logging defaults
	viper.SetDefault("logging.enabled", defaults.Logging.Enabled)
	viper.SetDefault("logging.level", defaults.Logging.Level)
	viper.SetDefault("logging.max_size_mb", defaults.Logging.MaxSizeMB)
	viper.SetDefault("logging.max_backups", defaults.Logging.MaxBackups)
	viper.SetDefault("logging.compress", defaults.Logging.Compress)
}

// Keys returns every configuration key known to cubic, in display order.
func Keys() []string {
	return []string{
		"paths.data_dir",
		"paths.instances_dir",
		"paths.game_root",
		"instances.watch",
		"download.workers",
		"download.chunk_size_kb",
		"download.max_bytes_per_sec",
		"download.base_url",
		"dispatch.shutdown_grace_seconds",
		"launch.username",
		"launch.java_path",
		"launch.min_memory_mb",
		"launch.max_memory_mb",
		"launch.width",
		"launch.height",
		"launch.fullscreen",
		"logging.enabled",
		"logging.level",
		"logging.max_size_mb",
		"logging.max_backups",
		"logging.compress",
	}
}

// IsValidKey reports whether key is a known configuration key
func IsValidKey(key string) bool {
	for _, k := range Keys() {
		if k == key {
			return true
		}
	}
	return false
}

// LoadDotEnv loads KEY=VALUE pairs from the given files into the process
// environment without overriding variables that are already set. Missing
// files are ignored. With no arguments, ".env" in the working directory
// is tried.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return err
		}
	}
	return nil
}

// Load reads the configuration from viper into a Config struct and validates it
func Load() (*Config, error) {
	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	// Validate the configuration
	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, ValidationErrors(errs)
	}

	return &cfg, nil
}

// Get returns the current configuration (convenience function)
func Get() *Config {
	cfg, err := Load()
	if err != nil {
		// Fall back to defaults if unmarshaling fails
		return Default()
	}
	return cfg
}

// ConfigDir returns the path to the user's config directory
func ConfigDir() string {
	// Check XDG_CONFIG_HOME first
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "cubic")
	}
	// Fall back to ~/.config/cubic
	home, err := os.UserHomeDir()
	if err != nil {
		return ".cubic"
	}
	return filepath.Join(home, ".config", "cubic")
}

// ConfigFile returns the path to the config file
func ConfigFile() string {
	return filepath.Join(ConfigDir(), "config.yaml")
}
