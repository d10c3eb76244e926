// Package util provides environment variable parsing helpers shared by the CoachPipe binaries.
package util

import (
	"log/slog"
	"os"
	"strings"
	"time"
)

// GetenvDefault returns the trimmed value of key, or fallback when it is unset or blank.
func GetenvDefault(key, fallback string) string {
	if val := strings.TrimSpace(os.Getenv(key)); val != "" {
		return val
	}
	return fallback
}

// ParseBoolEnv parses a boolean environment variable.
// Accepts true/1/yes/on and false/0/no/off (case-insensitive); anything else yields fallback.
func ParseBoolEnv(key string, fallback bool) bool {
	val := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	switch val {
	case "":
		return fallback
	case "true", "1", "yes", "on":
		return true
	case "false", "0", "no", "off":
		return false
	}
	slog.Warn("ParseBoolEnv: invalid boolean value, using default", "key", key, "value", val, "default", fallback)
	return fallback
}

// ParseDurationEnv parses a Go duration such as "7s" or "1m30s". Invalid or
// negative values yield fallback.
func ParseDurationEnv(key string, fallback time.Duration) time.Duration {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return fallback
	}
	d, err := time.ParseDuration(val)
	if err != nil || d < 0 {
		slog.Warn("ParseDurationEnv: invalid duration, using default", "key", key, "value", val, "default", fallback)
		return fallback
	}
	return d
}
