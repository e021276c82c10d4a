package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/locsim/ddfetch/internal/utils"
)

func TestDefaultConfig(t *testing.T) {
	cfg := Default()

	if cfg.Workers != 2 {
		t.Errorf("expected default workers 2, got %d", cfg.Workers)
	}
	if cfg.HTTP.Timeout != 3*time.Minute {
		t.Errorf("expected default timeout 3m, got %v", cfg.HTTP.Timeout)
	}
	if cfg.HTTP.UserAgent != utils.ToolUserAgent {
		t.Errorf("expected default user agent %q, got %q", utils.ToolUserAgent, cfg.HTTP.UserAgent)
	}
	if cfg.Git.Depth != 1 {
		t.Errorf("expected default git depth 1, got %d", cfg.Git.Depth)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
}

func TestLoadFromYAML(t *testing.T) {
	yamlContent := `
support_dir: /srv/ddi
definitions_url: https://mirror.example/DeveloperDiskImages.json
workers: 4
http:
  timeout: 30s
  proxy: http://proxy.local:3128
  headers:
    X-Mirror-Token: abc
s3:
  profile: mirror
  region: eu-central-1
git:
  token: ghp_x
`
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte(yamlContent), 0644); err != nil {
		t.Fatalf("write config file: %v", err)
	}

	cfg, err := LoadFromFile(configPath)
	if err != nil {
		t.Fatalf("LoadFromFile: %v", err)
	}

	if cfg.SupportDir != "/srv/ddi" {
		t.Errorf("expected support dir /srv/ddi, got %s", cfg.SupportDir)
	}
	if cfg.Workers != 4 {
		t.Errorf("expected workers 4, got %d", cfg.Workers)
	}
	if cfg.HTTP.Timeout != 30*time.Second {
		t.Errorf("expected timeout 30s, got %v", cfg.HTTP.Timeout)
	}
	if cfg.HTTP.KeepAliveTimeout != 90*time.Second {
		t.Errorf("expected default keep-alive to survive, got %v", cfg.HTTP.KeepAliveTimeout)
	}
	if cfg.HTTP.Headers["X-Mirror-Token"] != "abc" {
		t.Errorf("expected header from file, got %v", cfg.HTTP.Headers)
	}
	if cfg.Git.Depth != 1 || cfg.Git.Token != "ghp_x" {
		t.Errorf("unexpected git config %+v", cfg.Git)
	}
	if cfg.DefinitionsPath() != filepath.Join("/srv/ddi", "DeveloperDiskImages.json") {
		t.Errorf("unexpected definitions path %s", cfg.DefinitionsPath())
	}

	opts := cfg.FetcherOptions()
	if opts.HTTP.ProxyURL != "http://proxy.local:3128" || opts.S3.Region != "eu-central-1" || opts.Git.Token != "ghp_x" {
		t.Errorf("unexpected fetcher options %+v", opts)
	}
}

func TestLoadFromFileErrors(t *testing.T) {
	if _, err := LoadFromFile(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("http:\n  timeout: soon\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadFromFile(path); err == nil {
		t.Error("expected error for invalid duration")
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("DDFETCH_SUPPORT_DIR", "/tmp/ddi")
	t.Setenv("DDFETCH_WORKERS", "8")
	t.Setenv("DDFETCH_GIT_TOKEN", "tok")

	cfg := Default()
	if err := cfg.LoadFromEnv(); err != nil {
		t.Fatalf("LoadFromEnv: %v", err)
	}
	if cfg.SupportDir != "/tmp/ddi" || cfg.Workers != 8 || cfg.Git.Token != "tok" {
		t.Errorf("unexpected config %+v", cfg)
	}

	t.Setenv("DDFETCH_WORKERS", "many")
	if err := cfg.LoadFromEnv(); err == nil {
		t.Error("expected error for invalid DDFETCH_WORKERS")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"no support dir", func(c *Config) { c.SupportDir = "" }},
		{"zero workers", func(c *Config) { c.Workers = 0 }},
		{"negative timeout", func(c *Config) { c.HTTP.Timeout = -time.Second }},
		{"negative depth", func(c *Config) { c.Git.Depth = -1 }},
		{"both drive auths", func(c *Config) { c.GDrive.Credentials = "creds.json"; c.GDrive.APIKey = "key" }},
	}
	for _, tt := range tests {
		cfg := Default()
		tt.mutate(&cfg)
		if err := cfg.Validate(); err == nil {
			t.Errorf("%s: expected validation error", tt.name)
		}
	}
}
