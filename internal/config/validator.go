package config

import (
	"fmt"
	"net/url"
	"slices"
	"strings"
)

// ValidationError represents a single validation failure
type ValidationError struct {
	Field   string // The config field path (e.g., "download.workers")
	Value   any    // The invalid value
	Message string // Human-readable error description
}

// Error implements the error interface for ValidationError
func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface for ValidationErrors
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d validation errors:\n", len(e)))
	for i, err := range e {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// Bounds for download settings
const (
	MinWorkers     = 1
	MaxWorkers     = 16
	MaxChunkSizeKB = 1024
)

// ValidLogLevels returns the list of valid log levels
func ValidLogLevels() []string {
	return []string{"debug", "info", "warn", "error"}
}

// Validate checks the Config for invalid values and returns all validation errors found
func (c *Config) Validate() []ValidationError {
	var errors []ValidationError

	errors = append(errors, c.validatePaths()...)
	errors = append(errors, c.validateDownload()...)
	errors = append(errors, c.validateDispatch()...)
	errors = append(errors, c.validateLaunch()...)
	errors = append(errors, c.validateLogging()...)

	return errors
}

// validatePaths validates the PathsConfig
func (c *Config) validatePaths() []ValidationError {
	var errors []ValidationError

	fields := []struct {
		name  string
		value string
	}{
		{"paths.data_dir", c.Paths.DataDir},
		{"paths.instances_dir", c.Paths.InstancesDir},
		{"paths.game_root", c.Paths.GameRoot},
	}

	// Reasonable path length limit (most filesystems have limits around 4096)
	const maxPathLength = 4096
	for _, f := range fields {
		if strings.ContainsRune(f.value, '\x00') {
			errors = append(errors, ValidationError{
				Field:   f.name,
				Value:   f.value,
				Message: "path contains invalid null character",
			})
		}
		if len(f.value) > maxPathLength {
			errors = append(errors, ValidationError{
				Field:   f.name,
				Value:   f.value,
				Message: fmt.Sprintf("path exceeds maximum length of %d characters", maxPathLength),
			})
		}
	}

	return errors
}

// validateDownload validates the DownloadConfig
func (c *Config) validateDownload() []ValidationError {
	var errors []ValidationError

	if c.Download.Workers < MinWorkers || c.Download.Workers > MaxWorkers {
		errors = append(errors, ValidationError{
			Field:   "download.workers",
			Value:   c.Download.Workers,
			Message: fmt.Sprintf("must be between %d and %d", MinWorkers, MaxWorkers),
		})
	}

	if c.Download.ChunkSizeKB <= 0 || c.Download.ChunkSizeKB > MaxChunkSizeKB {
		errors = append(errors, ValidationError{
			Field:   "download.chunk_size_kb",
			Value:   c.Download.ChunkSizeKB,
			Message: fmt.Sprintf("must be between 1 and %d", MaxChunkSizeKB),
		})
	}

	if c.Download.MaxBytesPerSec < 0 {
		errors = append(errors, ValidationError{
			Field:   "download.max_bytes_per_sec",
			Value:   c.Download.MaxBytesPerSec,
			Message: "must be non-negative (0 means unlimited)",
		})
	}

	if c.Download.BaseURL != "" {
		u, err := url.Parse(c.Download.BaseURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			errors = append(errors, ValidationError{
				Field:   "download.base_url",
				Value:   c.Download.BaseURL,
				Message: "must be an absolute http or https URL",
			})
		}
	}

	return errors
}

// validateDispatch validates the DispatchConfig
func (c *Config) validateDispatch() []ValidationError {
	var errors []ValidationError

	if c.Dispatch.ShutdownGraceSeconds < 0 {
		errors = append(errors, ValidationError{
			Field:   "dispatch.shutdown_grace_seconds",
			Value:   c.Dispatch.ShutdownGraceSeconds,
			Message: "must be non-negative",
		})
	}

	return errors
}

// validateLaunch validates the LaunchConfig
func (c *Config) validateLaunch() []ValidationError {
	var errors []ValidationError

	if strings.TrimSpace(c.Launch.Username) == "" {
		errors = append(errors, ValidationError{
			Field:   "launch.username",
			Value:   c.Launch.Username,
			Message: "must not be empty",
		})
	}

	if strings.TrimSpace(c.Launch.JavaPath) == "" {
		errors = append(errors, ValidationError{
			Field:   "launch.java_path",
			Value:   c.Launch.JavaPath,
			Message: "must not be empty",
		})
	}

	if c.Launch.MinMemoryMB <= 0 {
		errors = append(errors, ValidationError{
			Field:   "launch.min_memory_mb",
			Value:   c.Launch.MinMemoryMB,
			Message: "must be positive",
		})
	}

	if c.Launch.MaxMemoryMB < c.Launch.MinMemoryMB {
		errors = append(errors, ValidationError{
			Field:   "launch.max_memory_mb",
			Value:   c.Launch.MaxMemoryMB,
			Message: fmt.Sprintf("must be at least launch.min_memory_mb (%d)", c.Launch.MinMemoryMB),
		})
	}

	if c.Launch.Width <= 0 {
		errors = append(errors, ValidationError{
			Field:   "launch.width",
			Value:   c.Launch.Width,
			Message: "must be positive",
		})
	}

	if c.Launch.Height <= 0 {
		errors = append(errors, ValidationError{
			Field:   "launch.height",
			Value:   c.Launch.Height,
			Message: "must be positive",
		})
	}

	return errors
}

// validateLogging validates the LoggingConfig
func (c *Config) validateLogging() []ValidationError {
	var errors []ValidationError

	// Validate log level
	if c.Logging.Level != "" && !slices.Contains(ValidLogLevels(), c.Logging.Level) {
		errors = append(errors, ValidationError{
			Field:   "logging.level",
			Value:   c.Logging.Level,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidLogLevels(), ", ")),
		})
	}

	// Max size must be positive
	if c.Logging.MaxSizeMB <= 0 {
		errors = append(errors, ValidationError{
			Field:   "logging.max_size_mb",
			Value:   c.Logging.MaxSizeMB,
			Message: "must be positive",
		})
	}

	const maxLogSizeMB = 1000 // 1GB
	if c.Logging.MaxSizeMB > maxLogSizeMB {
		errors = append(errors, ValidationError{
			Field:   "logging.max_size_mb",
			Value:   c.Logging.MaxSizeMB,
			Message: fmt.Sprintf("exceeds maximum of %dMB", maxLogSizeMB),
		})
	}

	if c.Logging.MaxBackups < 0 {
		errors = append(errors, ValidationError{
			Field:   "logging.max_backups",
			Value:   c.Logging.MaxBackups,
			Message: "must be non-negative",
		})
	}

	return errors
}
