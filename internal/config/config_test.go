package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadAppliesDefaultsAndOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
logger:
  level: debug
substrate:
  workers: 8
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Logger.Level != "debug" {
		t.Errorf("logger.level = %q, want debug", cfg.Logger.Level)
	}
	if cfg.Substrate.Workers != 8 {
		t.Errorf("substrate.workers = %d, want 8", cfg.Substrate.Workers)
	}
	// untouched fields keep their defaults
	if cfg.Substrate.MaxRetries != 3 {
		t.Errorf("substrate.maxRetries = %d, want default 3", cfg.Substrate.MaxRetries)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}

	t.Setenv("FORESTCTL_LOG_LEVEL", "warn")
	t.Setenv("FORESTCTL_WORKERS", "16")
	cfg.ApplyEnvOverrides()
	if cfg.Logger.Level != "warn" {
		t.Errorf("env override: logger.level = %q, want warn", cfg.Logger.Level)
	}
	if cfg.Substrate.Workers != 16 {
		t.Errorf("env override: substrate.workers = %d, want 16", cfg.Substrate.Workers)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cfg := Default()
	cfg.Logger.Level = "loud"
	cfg.Substrate.Workers = 0
	cfg.Discovery.Mode = "route53" // without zone/suffix
	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation errors")
	}
}
