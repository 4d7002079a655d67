// Package config loads cmd/streamd's operational configuration from
// environment variables, grounded on the teacher's internal/config/config.go
// (BROKER_* settings, Load() returning an aggregated validation error)
// generalized to this repo's own STREAMD_* settings: listen address,
// persistence directory, retention, and structured-logging tunables. This
// is ambient server configuration — spec.md §6 explicitly keeps the core
// stream/queue packages themselves free of environment variables and
// implicit time sources; only the demo binary reads any of this.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

const (
	// DefaultAddr is the default TCP address cmd/streamd listens on.
	DefaultAddr = ":8765"
	// DefaultPersistenceDir is where file-backed streams are stored.
	DefaultPersistenceDir = "./data"
	// DefaultRetentionEntries is the default for Config.RetentionEntries,
	// where zero means "no retention limit". Load validates the value, but
	// no component in this repository reads it or removes old entries.
	DefaultRetentionEntries = 0

	// DefaultLogLevel controls verbosity for streamd logs.
	DefaultLogLevel = "info"
	// DefaultLogPath is where structured logs are written.
	DefaultLogPath = "streamd.log"
	// DefaultLogMaxSizeMB caps the size of a single log file before rotation.
	DefaultLogMaxSizeMB = 100
	// DefaultLogMaxBackups limits retained rotated log files.
	DefaultLogMaxBackups = 10
	// DefaultLogMaxAgeDays controls how long rotated log files are kept on disk.
	DefaultLogMaxAgeDays = 7
	// DefaultLogCompress toggles gzip compression for rotated log files.
	DefaultLogCompress = true
)

// Config captures all runtime tunables for cmd/streamd.
type Config struct {
	Address          string
	PersistenceDir   string
	RetentionEntries int
	AdminToken       string
	Logging          LoggingConfig
}

// LoggingConfig captures structured logging configuration options.
type LoggingConfig struct {
	Level      string
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// Load reads streamd's configuration from environment variables, applying
// sane defaults and returning one aggregated error listing every invalid
// override.
func Load() (*Config, error) {
	cfg := &Config{
		Address:          getString("STREAMD_ADDR", DefaultAddr),
		PersistenceDir:   getString("STREAMD_PERSISTENCE_DIR", DefaultPersistenceDir),
		RetentionEntries: DefaultRetentionEntries,
		AdminToken:       strings.TrimSpace(os.Getenv("STREAMD_ADMIN_TOKEN")),
		Logging: LoggingConfig{
			Level:      strings.TrimSpace(getString("STREAMD_LOG_LEVEL", DefaultLogLevel)),
			Path:       strings.TrimSpace(getString("STREAMD_LOG_PATH", DefaultLogPath)),
			MaxSizeMB:  DefaultLogMaxSizeMB,
			MaxBackups: DefaultLogMaxBackups,
			MaxAgeDays: DefaultLogMaxAgeDays,
			Compress:   DefaultLogCompress,
		},
	}

	var problems []string

	if raw := strings.TrimSpace(os.Getenv("STREAMD_RETENTION_ENTRIES")); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil || value < 0 {
			problems = append(problems, fmt.Sprintf("STREAMD_RETENTION_ENTRIES must be a non-negative integer, got %q", raw))
		} else {
			cfg.RetentionEntries = value
		}
	}

	if raw := strings.TrimSpace(os.Getenv("STREAMD_LOG_MAX_SIZE_MB")); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil || value <= 0 {
			problems = append(problems, fmt.Sprintf("STREAMD_LOG_MAX_SIZE_MB must be a positive integer, got %q", raw))
		} else {
			cfg.Logging.MaxSizeMB = value
		}
	}

	if raw := strings.TrimSpace(os.Getenv("STREAMD_LOG_MAX_BACKUPS")); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil || value < 0 {
			problems = append(problems, fmt.Sprintf("STREAMD_LOG_MAX_BACKUPS must be a non-negative integer, got %q", raw))
		} else {
			cfg.Logging.MaxBackups = value
		}
	}

	if raw := strings.TrimSpace(os.Getenv("STREAMD_LOG_MAX_AGE_DAYS")); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil || value < 0 {
			problems = append(problems, fmt.Sprintf("STREAMD_LOG_MAX_AGE_DAYS must be a non-negative integer, got %q", raw))
		} else {
			cfg.Logging.MaxAgeDays = value
		}
	}

	if raw := strings.TrimSpace(os.Getenv("STREAMD_LOG_COMPRESS")); raw != "" {
		value, err := strconv.ParseBool(raw)
		if err != nil {
			problems = append(problems, fmt.Sprintf("STREAMD_LOG_COMPRESS must be a boolean value, got %q", raw))
		} else {
			cfg.Logging.Compress = value
		}
	}

	if len(problems) > 0 {
		return nil, fmt.Errorf(strings.Join(problems, "; "))
	}

	return cfg, nil
}

func getString(key, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return fallback
}
