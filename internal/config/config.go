// Package config loads application configuration from environment variables.
package config

import (
	"encoding/base64"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds the application configuration loaded from environment variables.
type Config struct {
	SessionToken       string
	SigningEndpoints   []string
	SigningMaxAttempts int
	ConfigPath         string
	DBPath             string
	SecretKey          []byte // 32-byte AES-256 key, nil when unset.
	RefreshInterval    time.Duration
	RefreshMargin      time.Duration
}

// HasSessionToken returns true when a session token was supplied via the
// environment. Used by the composition root to decide whether the manager can
// bootstrap from memory when no persisted state exists.
func (c *Config) HasSessionToken() bool {
	return c.SessionToken != ""
}

// Load reads configuration from environment variables and returns a validated
// Config. All variables are optional. Defaults: signing endpoints (the public
// imink endpoint, supplied by the caller when this list is empty),
// SPLATAUTH_SIGNING_MAX_ATTEMPTS (3), SPLATAUTH_CONFIG_PATH (.splatauth.yaml),
// SPLATAUTH_DB_PATH (splatauth.db), SPLATAUTH_REFRESH_INTERVAL (5m),
// SPLATAUTH_REFRESH_MARGIN (15m).
func Load() (*Config, error) {
	sessionToken := os.Getenv("SPLATAUTH_SESSION_TOKEN")

	var endpoints []string
	if v := os.Getenv("SPLATAUTH_F_TOKEN_URLS"); v != "" {
		for _, u := range strings.Split(v, ",") {
			u = strings.TrimSpace(u)
			if u != "" {
				endpoints = append(endpoints, u)
			}
		}
	}

	maxAttempts := 3
	if v := os.Getenv("SPLATAUTH_SIGNING_MAX_ATTEMPTS"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed <= 0 {
			return nil, fmt.Errorf("SPLATAUTH_SIGNING_MAX_ATTEMPTS must be a positive integer, got %q", v)
		}
		maxAttempts = parsed
	}

	configPath := ".splatauth.yaml"
	if v := os.Getenv("SPLATAUTH_CONFIG_PATH"); v != "" {
		configPath = v
	}

	dbPath := "splatauth.db"
	if v := os.Getenv("SPLATAUTH_DB_PATH"); v != "" {
		dbPath = v
	}

	var secretKey []byte
	if v := os.Getenv("SPLATAUTH_SECRET_KEY"); v != "" {
		decoded, err := base64.StdEncoding.DecodeString(v)
		if err != nil {
			return nil, fmt.Errorf("SPLATAUTH_SECRET_KEY is not valid base64: %w", err)
		}
		if len(decoded) != 32 {
			return nil, fmt.Errorf("SPLATAUTH_SECRET_KEY must decode to 32 bytes, got %d", len(decoded))
		}
		secretKey = decoded
	}

	refreshInterval := 5 * time.Minute
	if v := os.Getenv("SPLATAUTH_REFRESH_INTERVAL"); v != "" {
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("SPLATAUTH_REFRESH_INTERVAL has invalid duration %q: %w", v, err)
		}
		refreshInterval = parsed
	}

	refreshMargin := 15 * time.Minute
	if v := os.Getenv("SPLATAUTH_REFRESH_MARGIN"); v != "" {
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("SPLATAUTH_REFRESH_MARGIN has invalid duration %q: %w", v, err)
		}
		refreshMargin = parsed
	}

	return &Config{
		SessionToken:       sessionToken,
		SigningEndpoints:   endpoints,
		SigningMaxAttempts: maxAttempts,
		ConfigPath:         configPath,
		DBPath:             dbPath,
		SecretKey:          secretKey,
		RefreshInterval:    refreshInterval,
		RefreshMargin:      refreshMargin,
	}, nil
}
