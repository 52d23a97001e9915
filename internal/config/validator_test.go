package config

import (
	"strings"
	"testing"
)

func TestValidationError_Error(t *testing.T) {
	err := ValidationError{
		Field:   "download.workers",
		Value:   0,
		Message: "must be between 1 and 16",
	}

	expected := "download.workers: must be between 1 and 16 (got: 0)"
	if err.Error() != expected {
		t.Errorf("Error() = %q, want %q", err.Error(), expected)
	}
}

func TestValidationErrors_Error(t *testing.T) {
	t.Run("empty errors", func(t *testing.T) {
		var errs ValidationErrors
		if errs.Error() != "" {
			t.Errorf("Error() for empty = %q, want empty string", errs.Error())
		}
	})

	t.Run("single error", func(t *testing.T) {
		errs := ValidationErrors{
			{Field: "test.field", Value: 123, Message: "is invalid"},
		}
		expected := "test.field: is invalid (got: 123)"
		if errs.Error() != expected {
			t.Errorf("Error() = %q, want %q", errs.Error(), expected)
		}
	})

	t.Run("multiple errors", func(t *testing.T) {
		errs := ValidationErrors{
			{Field: "field1", Value: "bad", Message: "is invalid"},
			{Field: "field2", Value: -1, Message: "must be positive"},
		}
		result := errs.Error()
		if !strings.Contains(result, "2 validation errors") {
			t.Errorf("Error() should mention 2 errors: %s", result)
		}
		if !strings.Contains(result, "field1") || !strings.Contains(result, "field2") {
			t.Errorf("Error() should mention both fields: %s", result)
		}
	})
}

func TestConfig_Validate_DefaultConfig(t *testing.T) {
	cfg := Default()
	errs := cfg.Validate()
	if len(errs) != 0 {
		t.Errorf("Default config should be valid, got %d errors: %v", len(errs), errs)
	}
}

// hasFieldError reports whether errs contains an error for field.
func hasFieldError(errs []ValidationError, field string) bool {
	for _, err := range errs {
		if err.Field == field {
			return true
		}
	}
	return false
}

func TestConfig_Validate_Download(t *testing.T) {
	tests := []struct {
		name      string
		modify    func(*Config)
		wantField string
		wantErr   bool
	}{
		{"one worker is valid", func(c *Config) { c.Download.Workers = 1 }, "download.workers", false},
		{"sixteen workers is valid", func(c *Config) { c.Download.Workers = 16 }, "download.workers", false},
		{"zero workers", func(c *Config) { c.Download.Workers = 0 }, "download.workers", true},
		{"seventeen workers", func(c *Config) { c.Download.Workers = 17 }, "download.workers", true},
		{"zero chunk size", func(c *Config) { c.Download.ChunkSizeKB = 0 }, "download.chunk_size_kb", true},
		{"huge chunk size", func(c *Config) { c.Download.ChunkSizeKB = MaxChunkSizeKB + 1 }, "download.chunk_size_kb", true},
		{"negative bandwidth cap", func(c *Config) { c.Download.MaxBytesPerSec = -1 }, "download.max_bytes_per_sec", true},
		{"unlimited bandwidth", func(c *Config) { c.Download.MaxBytesPerSec = 0 }, "download.max_bytes_per_sec", false},
		{"https base url", func(c *Config) { c.Download.BaseURL = "https://cdn.example.com/versions" }, "download.base_url", false},
		{"ftp base url", func(c *Config) { c.Download.BaseURL = "ftp://cdn.example.com" }, "download.base_url", true},
		{"relative base url", func(c *Config) { c.Download.BaseURL = "versions/" }, "download.base_url", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(cfg)
			if got := hasFieldError(cfg.Validate(), tt.wantField); got != tt.wantErr {
				t.Errorf("error for %s = %v, want %v", tt.wantField, got, tt.wantErr)
			}
		})
	}
}

func TestConfig_Validate_Launch(t *testing.T) {
	tests := []struct {
		name      string
		modify    func(*Config)
		wantField string
	}{
		{"blank username", func(c *Config) { c.Launch.Username = "  " }, "launch.username"},
		{"empty java path", func(c *Config) { c.Launch.JavaPath = "" }, "launch.java_path"},
		{"zero min memory", func(c *Config) { c.Launch.MinMemoryMB = 0 }, "launch.min_memory_mb"},
		{"max below min", func(c *Config) { c.Launch.MaxMemoryMB = c.Launch.MinMemoryMB - 1 }, "launch.max_memory_mb"},
		{"zero width", func(c *Config) { c.Launch.Width = 0 }, "launch.width"},
		{"negative height", func(c *Config) { c.Launch.Height = -5 }, "launch.height"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(cfg)
			if !hasFieldError(cfg.Validate(), tt.wantField) {
				t.Errorf("expected error for %s", tt.wantField)
			}
		})
	}
}

func TestConfig_Validate_Dispatch(t *testing.T) {
	cfg := Default()
	cfg.Dispatch.ShutdownGraceSeconds = -1
	if !hasFieldError(cfg.Validate(), "dispatch.shutdown_grace_seconds") {
		t.Error("expected error for negative grace period")
	}
}

func TestConfig_Validate_Paths(t *testing.T) {
	cfg := Default()
	cfg.Paths.GameRoot = "game\x00root"
	cfg.Paths.DataDir = "/" + strings.Repeat("a", 4100)
	errs := cfg.Validate()

	if !hasFieldError(errs, "paths.game_root") {
		t.Error("expected error for null byte in game root")
	}
	if !hasFieldError(errs, "paths.data_dir") {
		t.Error("expected error for overlong data dir")
	}
}

func TestConfig_Validate_Logging(t *testing.T) {
	t.Run("valid log levels", func(t *testing.T) {
		for _, level := range []string{"debug", "info", "warn", "error", ""} {
			cfg := Default()
			cfg.Logging.Level = level
			if hasFieldError(cfg.Validate(), "logging.level") {
				t.Errorf("level %q should be valid", level)
			}
		}
	})

	t.Run("case sensitive log level", func(t *testing.T) {
		cfg := Default()
		cfg.Logging.Level = "INFO"
		if !hasFieldError(cfg.Validate(), "logging.level") {
			t.Error("expected error for uppercase log level")
		}
	})

	t.Run("size bounds", func(t *testing.T) {
		for _, size := range []int{0, -1, 1001} {
			cfg := Default()
			cfg.Logging.MaxSizeMB = size
			if !hasFieldError(cfg.Validate(), "logging.max_size_mb") {
				t.Errorf("expected error for max_size_mb=%d", size)
			}
		}
	})

	t.Run("negative backups", func(t *testing.T) {
		cfg := Default()
		cfg.Logging.MaxBackups = -1
		if !hasFieldError(cfg.Validate(), "logging.max_backups") {
			t.Error("expected error for negative max_backups")
		}
	})
}

func TestConfig_Validate_MultipleErrors(t *testing.T) {
	cfg := Default()
	cfg.Download.Workers = 0
	cfg.Launch.Width = 0
	cfg.Logging.Level = "loud"

	errs := cfg.Validate()
	if len(errs) != 3 {
		t.Errorf("expected 3 errors, got %d: %v", len(errs), errs)
	}
}
