package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_DefaultWhenMissing(t *testing.T) {
	tmpDir := t.TempDir()

	cfg, err := Load(tmpDir)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	def := DefaultConfig()
	if cfg.Discovery.ThresholdMeters != def.Discovery.ThresholdMeters {
		t.Errorf("ThresholdMeters = %v, want %v", cfg.Discovery.ThresholdMeters, def.Discovery.ThresholdMeters)
	}
	if cfg.Catalog.RadiusMode != RadiusModeMeters {
		t.Errorf("RadiusMode = %q, want %q", cfg.Catalog.RadiusMode, RadiusModeMeters)
	}
	if cfg.Catalog.CategoryRadiusFactor != 10 {
		t.Errorf("CategoryRadiusFactor = %v, want 10", cfg.Catalog.CategoryRadiusFactor)
	}
	if cfg.Discovery.PollInterval != 5*time.Second {
		t.Errorf("PollInterval = %v, want 5s", cfg.Discovery.PollInterval)
	}
}

func TestLoad_OverridesFromFile(t *testing.T) {
	tmpDir := t.TempDir()
	yamlCfg := `
catalog:
  radius_mode: degrees
  radius_degrees: 0.001
discovery:
  threshold_meters: 10
  poll_interval: 2s
mcp:
  disabled_tools: [post_delete, " post_delete ", ""]
`
	if err := os.WriteFile(filepath.Join(tmpDir, "config.yaml"), []byte(yamlCfg), 0600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	cfg, err := Load(tmpDir)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Catalog.RadiusMode != RadiusModeDegrees {
		t.Errorf("RadiusMode = %q, want %q", cfg.Catalog.RadiusMode, RadiusModeDegrees)
	}
	if cfg.Catalog.RadiusDegrees != 0.001 {
		t.Errorf("RadiusDegrees = %v, want 0.001", cfg.Catalog.RadiusDegrees)
	}
	if cfg.Discovery.ThresholdMeters != 10 {
		t.Errorf("ThresholdMeters = %v, want 10", cfg.Discovery.ThresholdMeters)
	}
	if cfg.Discovery.PollInterval != 2*time.Second {
		t.Errorf("PollInterval = %v, want 2s", cfg.Discovery.PollInterval)
	}
	if len(cfg.MCP.DisabledTools) != 1 || cfg.MCP.DisabledTools[0] != "post_delete" {
		t.Errorf("DisabledTools = %v, want [post_delete]", cfg.MCP.DisabledTools)
	}
	// Untouched keys keep their defaults
	if cfg.Render.Width != DefaultConfig().Render.Width {
		t.Errorf("Render.Width = %d, want default %d", cfg.Render.Width, DefaultConfig().Render.Width)
	}
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	tmpDir := t.TempDir()
	if err := os.WriteFile(filepath.Join(tmpDir, "config.yaml"), []byte("discovery:\n  threshold_meters: 10\n"), 0600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	t.Setenv("LOCIAL_DISCOVERY_THRESHOLD_METERS", "42")
	t.Setenv("LOCIAL_CATALOG_RADIUS_METERS", "250")
	t.Setenv("LOCIAL_AUTH_SECRET", "s3cret")
	t.Setenv("LOCIAL_UNKNOWN_THING", "ignored")

	cfg, err := Load(tmpDir)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Discovery.ThresholdMeters != 42 {
		t.Errorf("ThresholdMeters = %v, want 42", cfg.Discovery.ThresholdMeters)
	}
	if cfg.Catalog.RadiusMeters != 250 {
		t.Errorf("RadiusMeters = %v, want 250", cfg.Catalog.RadiusMeters)
	}
	if cfg.Auth.Secret != "s3cret" {
		t.Errorf("Auth.Secret = %q, want %q", cfg.Auth.Secret, "s3cret")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	tmpDir := t.TempDir()
	if err := os.WriteFile(filepath.Join(tmpDir, "config.yaml"), []byte("catalog: [unclosed"), 0600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	if _, err := Load(tmpDir); err == nil {
		t.Fatal("Load() expected error, got nil")
	}
}

func TestLoad_ValidationFailure(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("LOCIAL_CATALOG_RADIUS_MODE", "furlongs")

	if _, err := Load(tmpDir); err == nil {
		t.Fatal("Load() expected validation error, got nil")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults", func(*Config) {}, false},
		{"zero threshold", func(c *Config) { c.Discovery.ThresholdMeters = 0 }, true},
		{"negative radius", func(c *Config) { c.Catalog.RadiusMeters = -1 }, true},
		{"factor below one", func(c *Config) { c.Catalog.CategoryRadiusFactor = 0.5 }, true},
		{"poll too fast", func(c *Config) { c.Discovery.PollInterval = time.Millisecond }, true},
		{"tiny canvas", func(c *Config) { c.Render.Width = 10 }, true},
		{"cull margin below one", func(c *Config) { c.Render.CullMargin = 0.9 }, true},
		{"cull margin of one", func(c *Config) { c.Render.CullMargin = 1 }, true},
		{"cull margin just above one", func(c *Config) { c.Render.CullMargin = 1.01 }, false},
		{"unknown speech backend", func(c *Config) { c.Speech.Backend = "carrier-pigeon" }, true},
		{"bad port", func(c *Config) { c.Server.Port = 70000 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestEnvTransform(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"LOCIAL_CATALOG_RADIUS_METERS", "catalog.radius_meters"},
		{"LOCIAL_DISCOVERY_THRESHOLD_METERS", "discovery.threshold_meters"},
		{"LOCIAL_LOG_LEVEL", "log.level"},
		{"LOCIAL_MCP_DISABLED_TOOLS", "mcp.disabled_tools"},
		{"LOCIAL_EXPORT_ALLOW_UNSAFE_PATHS", "export.allow_unsafe_paths"},
		{"LOCIAL_CATALOG", ""},
		{"LOCIAL_NOPE_X", ""},
	}

	for _, tt := range tests {
		if got := envTransform(tt.input); got != tt.want {
			t.Errorf("envTransform(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestCleanStringSlice(t *testing.T) {
	got := cleanStringSlice([]string{" a ", "b", "a", "", "  "})
	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Errorf("cleanStringSlice = %v, want [a b]", got)
	}
	if cleanStringSlice(nil) != nil {
		t.Error("cleanStringSlice(nil) should be nil")
	}
}
