// Package config provides configuration helpers for go-dialtone commands.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Default service configuration.
const (
	DefaultPort        = "8088"
	DefaultMediaPath   = "/media"
	DefaultWebhookPath = "/webhooks/carrier"
)

// Env returns the value of an environment variable or a default.
func Env(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// EnvRequired returns the value of an environment variable.
// Exits with a usage message if not set.
func EnvRequired(key string) string {
	v := os.Getenv(key)
	if v == "" {
		fmt.Fprintf(os.Stderr, "Error: %s environment variable is required\n", key)
		os.Exit(1)
	}
	return v
}

// EnvFloat returns a float environment variable or a default.
func EnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

// EnvInt returns an integer environment variable or a default.
func EnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

// EnvDuration returns a duration environment variable or a default.
// Values use Go duration syntax, e.g. "250ms" or "6s".
func EnvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
