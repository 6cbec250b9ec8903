// Package config loads server configuration: defaults, then an optional
// TOML/YAML/JSON file, then environment overrides for deployment secrets.
package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

type Config struct {
	Server   ServerConfig   `koanf:"server"`
	Database DatabaseConfig `koanf:"database"`
	Auth     AuthConfig     `koanf:"auth"`
	GitHub   GitHubConfig   `koanf:"github"`
	Cache    CacheConfig    `koanf:"cache"`
	Upload   UploadConfig   `koanf:"upload"`
	Content  ContentConfig  `koanf:"content"`
	Analysis AnalysisConfig `koanf:"analysis"`
	Sandbox  SandboxConfig  `koanf:"sandbox"`
	Log      LogConfig      `koanf:"log"`
}

type ServerConfig struct {
	Port int `koanf:"port"`
	// FrontendURL is where the OAuth callback redirects the browser.
	FrontendURL     string        `koanf:"frontend_url"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

type DatabaseConfig struct {
	Path string `koanf:"path"`
}

type AuthConfig struct {
	JWTSecret  string        `koanf:"jwt_secret"`
	SessionTTL time.Duration `koanf:"session_ttl"`
	// EncryptionKey seals stored GitHub tokens: 32 bytes, hex encoded.
	EncryptionKey string `koanf:"encryption_key"`
}

type GitHubConfig struct {
	ClientID        string        `koanf:"client_id"`
	ClientSecret    string        `koanf:"client_secret"`
	CallbackURL     string        `koanf:"callback_url"`
	Scopes          []string      `koanf:"scopes"`
	StateTTL        time.Duration `koanf:"state_ttl"`
	ExchangeTimeout time.Duration `koanf:"exchange_timeout"`
	APITimeout      time.Duration `koanf:"api_timeout"`
}

type CacheConfig struct {
	CredentialTTL time.Duration `koanf:"credential_ttl"`
}

type UploadConfig struct {
	BlobDir       string `koanf:"blob_dir"`
	MaxFileBytes  int64  `koanf:"max_file_bytes"`
	MaxTotalBytes int64  `koanf:"max_total_bytes"`
	MaxFiles      int    `koanf:"max_files"`
}

type ContentConfig struct {
	MaxBytes int64 `koanf:"max_bytes"`
}

type AnalysisConfig struct {
	Workers              int           `koanf:"workers"`
	QueueSize            int           `koanf:"queue_size"`
	Timeout              time.Duration `koanf:"timeout"`
	MaxCheckerGoroutines int           `koanf:"max_checker_goroutines"`
}

type SandboxConfig struct {
	Enabled  bool          `koanf:"enabled"`
	Image    string        `koanf:"image"`
	MemoryMB int64         `koanf:"memory_mb"`
	CPULimit float64       `koanf:"cpu_limit"`
	Timeout  time.Duration `koanf:"timeout"`
	PoolSize int           `koanf:"pool_size"`
}

type LogConfig struct {
	Level string `koanf:"level"` // debug, info, warn, error
}

func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			FrontendURL:     "http://localhost:5173",
			ShutdownTimeout: 10 * time.Second,
		},
		Database: DatabaseConfig{Path: "data/archon.db"},
		Auth:     AuthConfig{SessionTTL: 24 * time.Hour},
		GitHub: GitHubConfig{
			Scopes:          []string{"repo", "read:user"},
			StateTTL:        10 * time.Minute,
			ExchangeTimeout: 15 * time.Second,
			APITimeout:      30 * time.Second,
		},
		Cache: CacheConfig{CredentialTTL: 5 * time.Minute},
		Upload: UploadConfig{
			BlobDir:       "data/blobs",
			MaxFileBytes:  50 << 20,
			MaxTotalBytes: 200 << 20,
			MaxFiles:      5000,
		},
		Content: ContentConfig{MaxBytes: 1 << 20},
		Analysis: AnalysisConfig{
			Workers:              2,
			QueueSize:            64,
			Timeout:              10 * time.Minute,
			MaxCheckerGoroutines: 4,
		},
		Sandbox: SandboxConfig{
			Enabled:  false,
			Image:    "archon-pytools:latest",
			MemoryMB: 512,
			CPULimit: 1,
			Timeout:  2 * time.Minute,
			PoolSize: 2,
		},
		Log: LogConfig{Level: "info"},
	}
}

// Load reads path over the defaults and then applies the environment. An
// empty path searches the standard locations and falls back to defaults
// when nothing is found.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path == "" {
		path = findConfigFile()
	}
	if path != "" {
		k := koanf.New(".")
		if err := k.Load(file.Provider(path), parserFor(path)); err != nil {
			return nil, fmt.Errorf("config: loading %s: %w", path, err)
		}
		if err := k.Unmarshal("", cfg); err != nil {
			return nil, fmt.Errorf("config: decoding %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(os.Getenv); err != nil {
		return nil, err
	}
	return cfg, nil
}

func parserFor(path string) koanf.Parser {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return yaml.Parser()
	case ".json":
		return json.Parser()
	default:
		return toml.Parser()
	}
}

func findConfigFile() string {
	names := []string{"archon.toml", "archon.yaml", "archon.yml", "archon.json"}
	for _, dir := range []string{".", "config"} {
		for _, name := range names {
			p := filepath.Join(dir, name)
			if _, err := os.Stat(p); err == nil {
				return p
			}
		}
	}
	return ""
}

// applyEnv overrides secrets and deployment-specific values. getenv is a
// parameter so tests need not touch the process environment.
func (c *Config) applyEnv(getenv func(string) string) error {
	if v := getenv("PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config: invalid PORT %q", v)
		}
		c.Server.Port = port
	}

	strs := []struct {
		env string
		dst *string
	}{
		{"DB_PATH", &c.Database.Path},
		{"JWT_SECRET", &c.Auth.JWTSecret},
		{"ARCHON_ENCRYPTION_KEY", &c.Auth.EncryptionKey},
		{"GITHUB_CLIENT_ID", &c.GitHub.ClientID},
		{"GITHUB_CLIENT_SECRET", &c.GitHub.ClientSecret},
		{"GITHUB_CALLBACK_URL", &c.GitHub.CallbackURL},
		{"ARCHON_FRONTEND_URL", &c.Server.FrontendURL},
		{"LOG_LEVEL", &c.Log.Level},
	}
	for _, s := range strs {
		if v := getenv(s.env); v != "" {
			*s.dst = v
		}
	}

	if c.GitHub.CallbackURL == "" {
		c.GitHub.CallbackURL = fmt.Sprintf("http://localhost:%d/api/connection/callback", c.Server.Port)
	}
	return nil
}

// Validate reports every problem at once. Secret values are never echoed.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	if c.Database.Path == "" {
		errs = append(errs, errors.New("database.path is required"))
	}
	if len(c.Auth.JWTSecret) < 16 {
		errs = append(errs, errors.New("auth.jwt_secret must be at least 16 characters"))
	}
	if c.Auth.SessionTTL <= 0 {
		errs = append(errs, errors.New("auth.session_ttl must be positive"))
	}
	if key, err := hex.DecodeString(c.Auth.EncryptionKey); err != nil || len(key) != 32 {
		errs = append(errs, errors.New("auth.encryption_key must be 32 bytes hex encoded"))
	}

	durations := []struct {
		name string
		d    time.Duration
	}{
		{"github.state_ttl", c.GitHub.StateTTL},
		{"github.exchange_timeout", c.GitHub.ExchangeTimeout},
		{"github.api_timeout", c.GitHub.APITimeout},
		{"cache.credential_ttl", c.Cache.CredentialTTL},
		{"analysis.timeout", c.Analysis.Timeout},
	}
	for _, d := range durations {
		if d.d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive", d.name))
		}
	}

	sizes := []struct {
		name string
		n    int64
	}{
		{"upload.max_file_bytes", c.Upload.MaxFileBytes},
		{"upload.max_total_bytes", c.Upload.MaxTotalBytes},
		{"upload.max_files", int64(c.Upload.MaxFiles)},
		{"content.max_bytes", c.Content.MaxBytes},
		{"analysis.workers", int64(c.Analysis.Workers)},
		{"analysis.queue_size", int64(c.Analysis.QueueSize)},
		{"analysis.max_checker_goroutines", int64(c.Analysis.MaxCheckerGoroutines)},
	}
	for _, s := range sizes {
		if s.n <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive", s.name))
		}
	}
	if c.Upload.MaxFileBytes > c.Upload.MaxTotalBytes {
		errs = append(errs, errors.New("upload.max_file_bytes cannot exceed upload.max_total_bytes"))
	}

	if c.Sandbox.Enabled {
		if c.Sandbox.Image == "" {
			errs = append(errs, errors.New("sandbox.image is required when the sandbox is enabled"))
		}
		if c.Sandbox.PoolSize <= 0 || c.Sandbox.MemoryMB <= 0 || c.Sandbox.Timeout <= 0 {
			errs = append(errs, errors.New("sandbox pool_size, memory_mb and timeout must be positive"))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}

// GitHubEnabled reports whether an OAuth app is configured.
func (c *Config) GitHubEnabled() bool {
	return c.GitHub.ClientID != "" && c.GitHub.ClientSecret != ""
}
