// Package config provides the small slice of ambient configuration shared
// across the segmenter binary: logging setup and the human-readable
// Duration type. The HLS directive tree itself lives in internal/hlsconfig.
package config

import (
	"time"
)

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`  // debug, info, warn, error
	Format     string `mapstructure:"format"` // json, text
	AddSource  bool   `mapstructure:"add_source"`
	TimeFormat string `mapstructure:"time_format"`
}

// DefaultLoggingConfig returns sane defaults for standalone use.
func DefaultLoggingConfig() LoggingConfig {
	return LoggingConfig{
		Level:      "info",
		Format:     "json",
		AddSource:  false,
		TimeFormat: time.RFC3339,
	}
}
