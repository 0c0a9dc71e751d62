// Package config loads the registry configuration from YAML, an optional
// .env file, and WHARF_* environment overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/bnema/wharf/pkg/bytesize"
	"github.com/bnema/wharf/pkg/logger"
)

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Storage  StorageConfig  `yaml:"storage"`
	Upload   UploadConfig   `yaml:"upload"`
	Security SecurityConfig `yaml:"security"`
	GC       GCConfig       `yaml:"gc"`
	LogLevel string         `yaml:"log_level"`
}

type ServerConfig struct {
	Addr string `yaml:"addr"`
	// Realm and Service fill the WWW-Authenticate bearer challenge.
	Realm   string `yaml:"realm"`
	Service string `yaml:"service"`
}

type StorageConfig struct {
	Path            string `yaml:"path"`
	MaxBlobSize     string `yaml:"max_blob_size"`
	MaxManifestSize string `yaml:"max_manifest_size"`
	EnableDelete    bool   `yaml:"enable_delete"`

	// Parsed at load time.
	MaxBlobBytes     int64 `yaml:"-"`
	MaxManifestBytes int64 `yaml:"-"`
}

// Duration parses YAML strings like "24h" or "90m".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

type UploadConfig struct {
	SessionTTL Duration `yaml:"session_ttl"`
}

type SecurityConfig struct {
	RequireAuth        bool     `yaml:"require_auth"`
	AllowAnonymousPull bool     `yaml:"allow_anonymous_pull"`
	RateLimit          int      `yaml:"rate_limit"` // requests per minute per principal
	PublicRepos        []string `yaml:"public_repos"`

	// Tokens is the static table handed to the token verifier. Real
	// deployments replace this with an external verifier; the core only
	// ever sees the resulting Principal.
	Tokens []TokenConfig `yaml:"tokens"`
}

type TokenConfig struct {
	Token   string        `yaml:"token"`
	Subject string        `yaml:"subject"`
	Admin   bool          `yaml:"admin"`
	Grants  []GrantConfig `yaml:"grants"`
}

type GrantConfig struct {
	Repo    string   `yaml:"repo"`
	Actions []string `yaml:"actions"`
}

type GCConfig struct {
	SafetyHorizon Duration `yaml:"safety_horizon"`
}

// Defaults returns a config populated with the documented defaults.
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:    ":5000",
			Realm:   "wharf",
			Service: "wharf",
		},
		Storage: StorageConfig{
			Path:            "./storage",
			MaxBlobSize:     "5GB",
			MaxManifestSize: "4MB",
		},
		Upload: UploadConfig{
			SessionTTL: Duration(24 * time.Hour),
		},
		Security: SecurityConfig{
			RequireAuth: true,
			RateLimit:   1000,
		},
		GC: GCConfig{
			SafetyHorizon: Duration(time.Hour),
		},
		LogLevel: "info",
	}
}

// Load reads the config file at path (if it exists), applies .env and
// environment overrides, validates, and derives parsed fields.
func Load(path string) (*Config, error) {
	// A missing .env is fine.
	if err := godotenv.Load(); err == nil {
		logger.Debug("Loaded .env file")
	}

	cfg := Defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
			}
			logger.Debug("Config file not found, using defaults", "path", path)
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.finalize(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if val := os.Getenv("WHARF_SERVER_ADDR"); val != "" {
		cfg.Server.Addr = val
	}
	if val := os.Getenv("WHARF_STORAGE_PATH"); val != "" {
		cfg.Storage.Path = val
	}
	if val := os.Getenv("WHARF_LOG_LEVEL"); val != "" {
		cfg.LogLevel = val
	}
	if val := os.Getenv("WHARF_REQUIRE_AUTH"); val != "" {
		cfg.Security.RequireAuth = val == "true"
	}
	if val := os.Getenv("WHARF_ALLOW_ANONYMOUS_PULL"); val != "" {
		cfg.Security.AllowAnonymousPull = val == "true"
	}
	if val := os.Getenv("WHARF_RATE_LIMIT"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			cfg.Security.RateLimit = n
		}
	}
	if val := os.Getenv("WHARF_SESSION_TTL"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			cfg.Upload.SessionTTL = Duration(d)
		}
	}
}

func (c *Config) finalize() error {
	var err error
	if c.Storage.MaxBlobBytes, err = bytesize.Parse(c.Storage.MaxBlobSize); err != nil {
		return fmt.Errorf("storage.max_blob_size: %w", err)
	}
	if c.Storage.MaxManifestBytes, err = bytesize.Parse(c.Storage.MaxManifestSize); err != nil {
		return fmt.Errorf("storage.max_manifest_size: %w", err)
	}
	if c.Storage.Path == "" {
		return fmt.Errorf("storage.path is required")
	}
	if c.Upload.SessionTTL <= 0 {
		return fmt.Errorf("upload.session_ttl must be positive")
	}
	if c.GC.SafetyHorizon < 0 {
		return fmt.Errorf("gc.safety_horizon must not be negative")
	}
	if c.Security.RateLimit <= 0 {
		return fmt.Errorf("security.rate_limit must be positive")
	}
	return nil
}

// IsPublicRepo reports whether repo is marked public for anonymous pull.
func (c *Config) IsPublicRepo(repo string) bool {
	for _, r := range c.Security.PublicRepos {
		if r == repo {
			return true
		}
	}
	return false
}
