// Package config loads process configuration from environment
// variables, following the same "read env, fall back to a sane
// default" idiom used throughout the control plane's adapters.
package config

import (
	"encoding/json"
	"fmt"
	"os"
)

// Config holds server configuration, sourced from environment
// variables.
type Config struct {
	Port     string
	LogLevel string

	DatabaseEnabled  bool
	DatabaseHost     string
	DatabasePort     string
	DatabaseName     string
	DatabaseUser     string
	DatabasePassword string

	ForgeRepoAllowlistJSON string
	ForgeAppID             string
	ForgeAppPrivateKeyPEM  string

	// WebhookSecret signs/verifies inbound Forge webhook deliveries.
	// Empty is valid for local/dev work, matching the rest of this table.
	WebhookSecret string

	LawbookID string

	ForceNewDeployEnabled bool
	DebugMode             bool

	Environment     string
	ObservabilityOn bool
	OTLPEndpoint    string
}

// Load reads configuration from the environment, applying defaults
// for anything unset.
func Load() *Config {
	return &Config{
		Port:     getenv("PORT", "8080"),
		LogLevel: getenv("LOG_LEVEL", "INFO"),

		DatabaseEnabled:  os.Getenv("DATABASE_ENABLED") == "true",
		DatabaseHost:     getenv("DATABASE_HOST", "localhost"),
		DatabasePort:     getenv("DATABASE_PORT", "5432"),
		DatabaseName:     getenv("DATABASE_NAME", "afu9"),
		DatabaseUser:     getenv("DATABASE_USER", "afu9"),
		DatabasePassword: os.Getenv("DATABASE_PASSWORD"),

		ForgeRepoAllowlistJSON: os.Getenv("FORGE_REPO_ALLOWLIST"),
		ForgeAppID:             os.Getenv("FORGE_APP_ID"),
		ForgeAppPrivateKeyPEM:  os.Getenv("FORGE_APP_PRIVATE_KEY_PEM"),
		WebhookSecret:          os.Getenv("FORGE_WEBHOOK_SECRET"),

		LawbookID: getenv("LAWBOOK_ID", "AFU9-LAWBOOK"),

		ForceNewDeployEnabled: os.Getenv("FORCE_NEW_DEPLOY_ENABLED") == "true",
		DebugMode:             os.Getenv("DEBUG_MODE") == "true",

		Environment:     getenv("ENVIRONMENT", "development"),
		ObservabilityOn: os.Getenv("OBSERVABILITY_ENABLED") == "true",
		OTLPEndpoint:    getenv("OTLP_ENDPOINT", "localhost:4317"),
	}
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// DSN builds a libpq-style connection string from the database fields.
func (c *Config) DSN() string {
	sslmode := "disable"
	if !c.DebugMode {
		sslmode = "require"
	}
	return fmt.Sprintf("host=%s port=%s dbname=%s user=%s password=%s sslmode=%s",
		c.DatabaseHost, c.DatabasePort, c.DatabaseName, c.DatabaseUser, c.DatabasePassword, sslmode)
}

// AllowlistEntry is one entry of the FORGE_REPO_ALLOWLIST JSON document.
type AllowlistEntry struct {
	Owner    string   `json:"owner"`
	Repo     string   `json:"repo"`
	Branches []string `json:"branches"`
	Paths    []string `json:"paths,omitempty"`
}

// AllowlistDocument is the shape of FORGE_REPO_ALLOWLIST.
type AllowlistDocument struct {
	Allowlist []AllowlistEntry `json:"allowlist"`
}

// ParseAllowlist decodes the configured allowlist JSON, or returns nil
// with no error when the variable is unset (callers fall back to a
// built-in development default).
func (c *Config) ParseAllowlist() (*AllowlistDocument, error) {
	if c.ForgeRepoAllowlistJSON == "" {
		return nil, nil
	}
	var doc AllowlistDocument
	if err := json.Unmarshal([]byte(c.ForgeRepoAllowlistJSON), &doc); err != nil {
		return nil, fmt.Errorf("config: invalid FORGE_REPO_ALLOWLIST: %w", err)
	}
	return &doc, nil
}
