// Package config loads application configuration from a YAML file with
// environment variable overrides, validates it, and supports hot reload in
// development through a file watcher.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	pkgerrors "prism-backend/pkg/errors"
)

// Config is the root application configuration.
type Config struct {
	Environment string `yaml:"environment" validate:"required,oneof=development staging production"`
	LogLevel    string `yaml:"log_level" validate:"omitempty,oneof=debug info warn error"`

	Server   ServerConfig   `yaml:"server"`
	Project  ProjectConfig  `yaml:"project"`
	Git      GitConfig      `yaml:"git"`
	Supabase SupabaseConfig `yaml:"supabase"`
}

// ServerConfig configures the HTTP surface.
type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port" validate:"required,min=1,max=65535"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	AllowedOrigins  []string      `yaml:"allowed_origins"`
}

// ProjectConfig selects the project and its storage backend.
type ProjectConfig struct {
	// Path is the project root for the file backend, and the location of the
	// optional per-project override file for all backends.
	Path    string `yaml:"path" validate:"required"`
	Backend string `yaml:"backend" validate:"required,oneof=git supabase"`
	// ActiveUser identifies the acting user; identity resolution itself is
	// out of scope, the value is already resolved.
	ActiveUser string `yaml:"active_user" validate:"required"`
}

// GitConfig tunes the file backend's git synchronization.
type GitConfig struct {
	Timeout time.Duration `yaml:"timeout"`
}

// SupabaseConfig carries the remote backend's connection parameters.
type SupabaseConfig struct {
	URL             string        `yaml:"url"`
	Key             string        `yaml:"key"`
	ProjectID       string        `yaml:"project_id"`
	ProjectSlug     string        `yaml:"project_slug"`
	ReadOnly        bool          `yaml:"read_only"`
	GraphCacheTTL   time.Duration `yaml:"graph_cache_ttl"`
	MembersCacheTTL time.Duration `yaml:"members_cache_ttl"`
}

// Default returns the development defaults used when no file is present.
func Default() *Config {
	return &Config{
		Environment: "development",
		LogLevel:    "info",
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			AllowedOrigins:  []string{"*"},
		},
		Project: ProjectConfig{
			Path:       "./project",
			Backend:    "git",
			ActiveUser: defaultUser(),
		},
		Git: GitConfig{
			Timeout: 30 * time.Second,
		},
	}
}

// Load reads configuration from the YAML file at path (optional), applies
// environment overrides, and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, pkgerrors.NewInternal("read config file", err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, pkgerrors.NewValidation("malformed config file: " + err.Error())
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides layers PRISM_* environment variables over the file.
func applyEnvOverrides(cfg *Config) {
	setString(&cfg.Environment, "PRISM_ENVIRONMENT")
	setString(&cfg.LogLevel, "PRISM_LOG_LEVEL")
	setString(&cfg.Server.Host, "PRISM_SERVER_HOST")
	setInt(&cfg.Server.Port, "PRISM_SERVER_PORT")
	setString(&cfg.Project.Path, "PRISM_PROJECT_PATH")
	setString(&cfg.Project.Backend, "PRISM_PROJECT_BACKEND")
	setString(&cfg.Project.ActiveUser, "PRISM_ACTIVE_USER")
	setString(&cfg.Supabase.URL, "PRISM_SUPABASE_URL")
	setString(&cfg.Supabase.Key, "PRISM_SUPABASE_KEY")
	setString(&cfg.Supabase.ProjectID, "PRISM_SUPABASE_PROJECT_ID")
	setString(&cfg.Supabase.ProjectSlug, "PRISM_SUPABASE_PROJECT_SLUG")
	setBool(&cfg.Supabase.ReadOnly, "PRISM_SUPABASE_READ_ONLY")
}

func setString(target *string, key string) {
	if v := os.Getenv(key); v != "" {
		*target = v
	}
}

func setInt(target *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*target = n
		}
	}
}

func setBool(target *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*target = b
		}
	}
}

// Validate checks structural constraints plus the cross-field rules the
// struct tags cannot express.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return pkgerrors.NewValidation("invalid configuration: " + err.Error())
	}
	if c.Project.Backend == "supabase" {
		if c.Supabase.URL == "" || c.Supabase.Key == "" {
			return pkgerrors.NewValidation("supabase backend requires url and key")
		}
		if c.Supabase.ProjectID == "" && c.Supabase.ProjectSlug == "" {
			return pkgerrors.NewValidation("supabase backend requires a project id or slug")
		}
	}
	return nil
}

// IsDevelopment reports whether the development environment is active.
func (c *Config) IsDevelopment() bool { return c.Environment == "development" }

// defaultUser falls back to the OS account name for single-user setups.
func defaultUser() string {
	if u := os.Getenv("USER"); u != "" {
		return u
	}
	return "default"
}
