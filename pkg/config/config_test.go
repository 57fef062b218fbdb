package config_test

import (
	"testing"

	"github.com/afu9/control-center/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestLoad_Defaults verifies that Load() returns sensible defaults
// when no environment variables are set.
func TestLoad_Defaults(t *testing.T) {
	t.Setenv("PORT", "")
	t.Setenv("LOG_LEVEL", "")
	t.Setenv("DATABASE_ENABLED", "")
	t.Setenv("DATABASE_HOST", "")
	t.Setenv("DATABASE_PORT", "")
	t.Setenv("DATABASE_NAME", "")
	t.Setenv("DATABASE_USER", "")
	t.Setenv("LAWBOOK_ID", "")
	t.Setenv("DEBUG_MODE", "")

	cfg := config.Load()

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "INFO", cfg.LogLevel)
	assert.False(t, cfg.DatabaseEnabled)
	assert.Equal(t, "localhost", cfg.DatabaseHost)
	assert.Equal(t, "5432", cfg.DatabasePort)
	assert.Equal(t, "afu9", cfg.DatabaseName)
	assert.Equal(t, "AFU9-LAWBOOK", cfg.LawbookID)
	assert.False(t, cfg.DebugMode)
}

// TestLoad_Overrides verifies that environment variables correctly
// override default values.
func TestLoad_Overrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("LOG_LEVEL", "DEBUG")
	t.Setenv("DATABASE_ENABLED", "true")
	t.Setenv("DATABASE_HOST", "db.internal")
	t.Setenv("DATABASE_PORT", "5433")
	t.Setenv("DATABASE_NAME", "afu9_prod")
	t.Setenv("DATABASE_USER", "afu9svc")
	t.Setenv("DATABASE_PASSWORD", "s3cret")
	t.Setenv("LAWBOOK_ID", "ACME-LAWBOOK-v2")
	t.Setenv("DEBUG_MODE", "true")

	cfg := config.Load()

	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, "DEBUG", cfg.LogLevel)
	assert.True(t, cfg.DatabaseEnabled)
	assert.Equal(t, "db.internal", cfg.DatabaseHost)
	assert.Equal(t, "5433", cfg.DatabasePort)
	assert.Equal(t, "afu9_prod", cfg.DatabaseName)
	assert.Equal(t, "afu9svc", cfg.DatabaseUser)
	assert.Equal(t, "s3cret", cfg.DatabasePassword)
	assert.Equal(t, "ACME-LAWBOOK-v2", cfg.LawbookID)
	assert.True(t, cfg.DebugMode)
}

func TestDSN_DebugModeDisablesSSL(t *testing.T) {
	cfg := &config.Config{
		DatabaseHost: "localhost", DatabasePort: "5432",
		DatabaseName: "afu9", DatabaseUser: "afu9", DatabasePassword: "pw",
		DebugMode: true,
	}
	assert.Contains(t, cfg.DSN(), "sslmode=disable")
}

func TestDSN_ProductionRequiresSSL(t *testing.T) {
	cfg := &config.Config{
		DatabaseHost: "db.internal", DatabasePort: "5432",
		DatabaseName: "afu9", DatabaseUser: "afu9", DatabasePassword: "pw",
		DebugMode: false,
	}
	assert.Contains(t, cfg.DSN(), "sslmode=require")
}

func TestParseAllowlist_Unset(t *testing.T) {
	cfg := &config.Config{}
	doc, err := cfg.ParseAllowlist()
	require.NoError(t, err)
	assert.Nil(t, doc)
}

func TestParseAllowlist_Valid(t *testing.T) {
	cfg := &config.Config{ForgeRepoAllowlistJSON: `{
		"allowlist": [
			{"owner": "acme", "repo": "widgets", "branches": ["main", "release/*"]}
		]
	}`}

	doc, err := cfg.ParseAllowlist()
	require.NoError(t, err)
	require.Len(t, doc.Allowlist, 1)
	assert.Equal(t, "acme", doc.Allowlist[0].Owner)
	assert.Equal(t, "widgets", doc.Allowlist[0].Repo)
	assert.Equal(t, []string{"main", "release/*"}, doc.Allowlist[0].Branches)
}

func TestParseAllowlist_Invalid(t *testing.T) {
	cfg := &config.Config{ForgeRepoAllowlistJSON: `not json`}
	_, err := cfg.ParseAllowlist()
	assert.Error(t, err)
}
