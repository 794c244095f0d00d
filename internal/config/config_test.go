package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDoesNotInjectWeakAuthDefaults(t *testing.T) {
	t.Setenv("AUTH_SECRET", "")
	t.Setenv("CONFIG_FILE", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.AuthSecret != "" {
		t.Fatalf("expected empty AUTH_SECRET when unset, got %q", cfg.AuthSecret)
	}
	if cfg.StockIssueMode != "blocking" {
		t.Fatalf("expected blocking issue mode by default, got %q", cfg.StockIssueMode)
	}
}

func TestLoadLayersFileUnderEnvironment(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stockbook.yaml")
	body := []byte("port: \"9090\"\nstock_issue_mode: permissive\nstock_cache_ttl_seconds: 5\nmax_conflict_retries: 7\n")
	if err := os.WriteFile(path, body, 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("CONFIG_FILE", path)
	t.Setenv("PORT", "")
	t.Setenv("STOCK_ISSUE_MODE", "")
	t.Setenv("STOCK_CACHE_TTL_SECONDS", "")
	t.Setenv("MAX_CONFLICT_RETRIES", "2")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Port != "9090" || cfg.Address() != ":9090" {
		t.Fatalf("expected port from file, got %q", cfg.Port)
	}
	if cfg.StockIssueMode != "permissive" {
		t.Fatalf("expected permissive from file, got %q", cfg.StockIssueMode)
	}
	if cfg.StockCacheTTL() != 5*time.Second {
		t.Fatalf("expected 5s cache ttl, got %s", cfg.StockCacheTTL())
	}
	if cfg.MaxConflictRetries != 2 {
		t.Fatalf("expected env to override file, got %d", cfg.MaxConflictRetries)
	}
}

func TestLoadFailsOnMissingConfigFile(t *testing.T) {
	t.Setenv("CONFIG_FILE", filepath.Join(t.TempDir(), "missing.yaml"))
	if _, err := Load(); err == nil {
		t.Fatalf("expected error for missing config file")
	}
}

func TestLoadIgnoresMalformedNumbers(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("ACCESS_TOKEN_TTL_MINUTES", "soon")
	t.Setenv("REDIS_DB", "-1")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.AccessTokenTTL() != 480*time.Minute {
		t.Fatalf("expected default token ttl, got %s", cfg.AccessTokenTTL())
	}
	if cfg.RedisDB != 0 {
		t.Fatalf("expected default redis db, got %d", cfg.RedisDB)
	}
}
