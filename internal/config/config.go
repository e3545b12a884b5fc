package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix is the prefix for environment overrides, e.g. LOCIAL_CATALOG_RADIUS_METERS.
const EnvPrefix = "LOCIAL_"

// Radius modes for the catalog bounding box.
const (
	RadiusModeDegrees = "degrees"
	RadiusModeMeters  = "meters"
)

// Config holds application configuration.
type Config struct {
	Catalog   CatalogConfig   `koanf:"catalog"`
	Discovery DiscoveryConfig `koanf:"discovery"`
	Render    RenderConfig    `koanf:"render"`
	Speech    SpeechConfig    `koanf:"speech"`
	Auth      AuthConfig      `koanf:"auth"`
	Server    ServerConfig    `koanf:"server"`
	Database  DatabaseConfig  `koanf:"database"`
	Log       LogConfig       `koanf:"log"`
	MCP       MCPConfig       `koanf:"mcp"`
	Export    ExportConfig    `koanf:"export"`
}

// CatalogConfig controls the bounding box used to fetch nearby posts.
type CatalogConfig struct {
	// RadiusMode is "meters" (box computed per query) or "degrees" (raw lat/lon offset).
	RadiusMode string `koanf:"radius_mode"`

	// RadiusMeters is the half-width of the discovery box in meters mode.
	RadiusMeters float64 `koanf:"radius_meters"`

	// RadiusDegrees is the half-width of the discovery box in degrees mode.
	RadiusDegrees float64 `koanf:"radius_degrees"`

	// CategoryRadiusFactor widens the box for category-filtered fetches.
	CategoryRadiusFactor float64 `koanf:"category_radius_factor"`

	// FeedLimit caps the number of posts returned by the near feed.
	FeedLimit int `koanf:"feed_limit"`
}

// DiscoveryConfig holds the runtime-adjustable defaults for discovery sessions.
type DiscoveryConfig struct {
	ThresholdMeters float64       `koanf:"threshold_meters"`
	PollInterval    time.Duration `koanf:"poll_interval"`
	WelcomeMessage  string        `koanf:"welcome_message"`
}

// RenderConfig sizes the schematic canvas.
type RenderConfig struct {
	Width          int     `koanf:"width"`
	Height         int     `koanf:"height"`
	PixelsPerMeter float64 `koanf:"pixels_per_meter"`
	GridMeters     float64 `koanf:"grid_meters"`
	ScaleBarMeters float64 `koanf:"scale_bar_meters"`
	CullMargin     float64 `koanf:"cull_margin"`
	ShowThreshold  bool    `koanf:"show_threshold"`
}

// SpeechConfig selects the narration backend.
type SpeechConfig struct {
	// Backend is "log" (write utterances to the log) or "command" (run Command).
	Backend string `koanf:"backend"`

	// Command is the text-to-speech executable, e.g. espeak-ng or say.
	Command string `koanf:"command"`

	// Voice is passed to the command as the voice/language.
	Voice string `koanf:"voice"`

	// WordsPerMinute is the speaking rate.
	WordsPerMinute int `koanf:"words_per_minute"`
}

// AuthConfig configures bearer tokens.
type AuthConfig struct {
	Secret   string        `koanf:"secret"`
	Issuer   string        `koanf:"issuer"`
	TokenTTL time.Duration `koanf:"token_ttl"`
}

// ServerConfig configures the HTTP surface.
type ServerConfig struct {
	Bind           string  `koanf:"bind"`
	Port           int     `koanf:"port"`
	PostsPerMinute float64 `koanf:"posts_per_minute"`
	PostBurst      int     `koanf:"post_burst"`
}

// DatabaseConfig tunes the sqlite connection pool.
type DatabaseConfig struct {
	// MaxOpenConns limits open connections. 0 means sql.DB default.
	MaxOpenConns int `koanf:"max_open_conns"`

	// MaxIdleConns limits idle connections. 0 means sql.DB default.
	MaxIdleConns int `koanf:"max_idle_conns"`
}

// LogConfig configures internal/logging.
type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// MCPConfig controls MCP tool registration.
type MCPConfig struct {
	// DisabledTools lists tool names excluded from registration.
	DisabledTools []string `koanf:"disabled_tools"`
}

// ExportConfig restricts where post backups may be written and read.
type ExportConfig struct {
	// AllowedPaths are extra absolute directories besides ~/.locial/exports.
	AllowedPaths []string `koanf:"allowed_paths"`

	// AllowUnsafePaths lifts the directory restriction. Symlinks stay rejected.
	AllowUnsafePaths bool `koanf:"allow_unsafe_paths"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Catalog: CatalogConfig{
			RadiusMode:           RadiusModeMeters,
			RadiusMeters:         100,
			RadiusDegrees:        0.0001,
			CategoryRadiusFactor: 10,
			FeedLimit:            50,
		},
		Discovery: DiscoveryConfig{
			ThresholdMeters: 25,
			PollInterval:    5 * time.Second,
			WelcomeMessage:  "Welcome to the Near page, where you can see posts from your neighborhood.",
		},
		Render: RenderConfig{
			Width:          400,
			Height:         400,
			PixelsPerMeter: 2,
			GridMeters:     25,
			ScaleBarMeters: 50,
			CullMargin:     1.5,
			ShowThreshold:  true,
		},
		Speech: SpeechConfig{
			Backend:        "log",
			Command:        "espeak-ng",
			Voice:          "en-us",
			WordsPerMinute: 160,
		},
		Auth: AuthConfig{
			Issuer:   "locial",
			TokenTTL: 30 * 24 * time.Hour,
		},
		Server: ServerConfig{
			Bind:           "127.0.0.1",
			Port:           8420,
			PostsPerMinute: 6,
			PostBurst:      3,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Load loads configuration from defaults, baseDir/config.yaml and LOCIAL_* env vars,
// in increasing order of precedence. A missing config file is not an error.
// The baseDir parameter allows tests to use t.TempDir() instead of ~/.locial.
func Load(baseDir string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(DefaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	configPath := filepath.Join(baseDir, "config.yaml")
	if _, err := os.Stat(configPath); err == nil {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envTransform), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}
	cfg.MCP.DisabledTools = cleanStringSlice(cfg.MCP.DisabledTools)
	cfg.Export.AllowedPaths = cleanStringSlice(cfg.Export.AllowedPaths)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// sections lists the top-level keys env vars may address.
var sections = []string{"catalog", "discovery", "render", "speech", "auth", "server", "database", "log", "mcp", "export"}

// envTransform maps LOCIAL_CATALOG_RADIUS_METERS to catalog.radius_meters.
// Unknown sections return "" so koanf skips them.
func envTransform(key string) string {
	key = strings.ToLower(strings.TrimPrefix(key, EnvPrefix))
	for _, section := range sections {
		if rest, ok := strings.CutPrefix(key, section+"_"); ok && rest != "" {
			return section + "." + rest
		}
	}
	return ""
}

// Validate rejects configurations the discovery engine cannot run with.
func (c *Config) Validate() error {
	switch c.Catalog.RadiusMode {
	case RadiusModeDegrees, RadiusModeMeters:
	default:
		return fmt.Errorf("catalog.radius_mode must be %q or %q, got %q", RadiusModeDegrees, RadiusModeMeters, c.Catalog.RadiusMode)
	}
	if c.Catalog.RadiusMeters <= 0 || c.Catalog.RadiusDegrees <= 0 {
		return errors.New("catalog radius must be positive")
	}
	if c.Catalog.CategoryRadiusFactor < 1 {
		return errors.New("catalog.category_radius_factor must be at least 1")
	}
	if c.Discovery.ThresholdMeters <= 0 {
		return errors.New("discovery.threshold_meters must be positive")
	}
	if c.Discovery.PollInterval < 100*time.Millisecond {
		return errors.New("discovery.poll_interval must be at least 100ms")
	}
	if c.Render.Width < 64 || c.Render.Height < 64 {
		return errors.New("render canvas must be at least 64x64")
	}
	if c.Render.PixelsPerMeter <= 0 || c.Render.GridMeters <= 0 || c.Render.ScaleBarMeters <= 0 {
		return errors.New("render scale values must be positive")
	}
	if c.Render.CullMargin <= 1 {
		return errors.New("render.cull_margin must be greater than 1")
	}
	switch c.Speech.Backend {
	case "log", "command":
	default:
		return fmt.Errorf("speech.backend must be \"log\" or \"command\", got %q", c.Speech.Backend)
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port out of range: %d", c.Server.Port)
	}
	return nil
}

// cleanStringSlice trims whitespace and removes empty and duplicate entries.
func cleanStringSlice(in []string) []string {
	seen := make(map[string]bool)
	result := make([]string, 0, len(in))

	for _, s := range in {
		s = strings.TrimSpace(s)
		if s != "" && !seen[s] {
			seen[s] = true
			result = append(result, s)
		}
	}

	if len(result) == 0 {
		return nil
	}
	return result
}
