package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"leadline/internal/config"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := config.Default()
	if cfg.Assistant.MaxLeads != 10 {
		t.Fatalf("want default max_leads 10, got %d", cfg.Assistant.MaxLeads)
	}
	if cfg.Assistant.AutoConfirm {
		t.Fatalf("auto_confirm must default off")
	}
	if _, ok := cfg.Campaigns.Catalog["nurture.default"]; !ok {
		t.Fatalf("default catalog missing nurture.default")
	}
}

func TestValidateRejectsUnknownProvider(t *testing.T) {
	if _, err := config.FromYAML([]byte("assistant:\n  provider: skynet\n")); err == nil {
		t.Fatalf("unknown provider must fail validation")
	}
	for _, p := range []string{"", "openai", "anthropic", "gemini", "mock"} {
		if _, err := config.FromYAML([]byte("assistant:\n  provider: " + p + "\n")); err != nil {
			t.Fatalf("provider %q should validate: %v", p, err)
		}
	}
}

func TestValidateWebhooks(t *testing.T) {
	if _, err := config.FromYAML([]byte("webhooks:\n  - secret: s\n")); err == nil {
		t.Fatalf("webhook without url must fail")
	}
	if _, err := config.FromYAML([]byte("notifications:\n  webhooks:\n    - url: http://x\n      timeout_seconds: -1\n")); err == nil {
		t.Fatalf("negative timeout must fail")
	}
}

func TestValidateFillsDefaults(t *testing.T) {
	cfg, err := config.FromYAML([]byte("assistant: {}\n"))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.Assistant.MaxLeads != 10 || cfg.Assistant.PlanTimeoutSeconds != 30 {
		t.Fatalf("defaults not applied: %+v", cfg.Assistant)
	}
	if _, err := config.FromYAML([]byte("assistant:\n  max_leads: -1\n")); err == nil {
		t.Fatalf("negative max_leads must fail")
	}
}

func TestLoadOptional(t *testing.T) {
	dir := t.TempDir()
	cfg, err := config.LoadOptional(dir)
	if err != nil {
		t.Fatalf("load without file: %v", err)
	}
	if cfg.Assistant.MaxLeads != 10 {
		t.Fatalf("want defaults when file absent, got %+v", cfg.Assistant)
	}

	path := filepath.Join(dir, "leadline.yml")
	if err := os.WriteFile(path, []byte("assistant:\n  max_leads: 3\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg, err = config.LoadOptional(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Assistant.MaxLeads != 3 {
		t.Fatalf("file value not honored: %+v", cfg.Assistant)
	}

	if err := os.WriteFile(path, []byte(":::"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := config.LoadOptional(dir); err == nil {
		t.Fatalf("broken yaml must fail")
	}
}
