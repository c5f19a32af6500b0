// Package config loads looper settings: built-in defaults, then an optional
// YAML file, then LOOPER_* environment variables. Command-line flags are
// applied last by the caller.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// DefaultFile is read when no config path is given and it exists.
const DefaultFile = "looper.yaml"

// Store backends.
const (
	StoreSQLite = "sqlite"
	StoreBadger = "badger"
	StoreMemory = "memory"
)

// Resolver kinds.
const (
	ResolverKeyword = "keyword"
	ResolverOpenAI  = "openai"
)

// Config is the full looper configuration.
type Config struct {
	Store     string `yaml:"store" env:"LOOPER_STORE"`
	DBPath    string `yaml:"db_path" env:"LOOPER_DB"`
	BadgerDir string `yaml:"badger_dir" env:"LOOPER_BADGER_DIR"`

	Listen    string `yaml:"listen" env:"LOOPER_LISTEN"`
	LogLevel  string `yaml:"log_level" env:"LOOPER_LOG_LEVEL"`
	LogFormat string `yaml:"log_format" env:"LOOPER_LOG_FORMAT"`
	MaxChain  int    `yaml:"max_chain" env:"LOOPER_MAX_CHAIN"`

	Resolver  ResolverConfig  `yaml:"resolver"`
	Generator GeneratorConfig `yaml:"generator"`
}

// ResolverConfig selects how command text becomes an intent.
type ResolverConfig struct {
	Kind    string        `yaml:"kind" env:"LOOPER_RESOLVER_KIND"`
	Model   string        `yaml:"model" env:"LOOPER_RESOLVER_MODEL"`
	APIKey  string        `yaml:"api_key" env:"LOOPER_RESOLVER_API_KEY"`
	BaseURL string        `yaml:"base_url" env:"LOOPER_RESOLVER_BASE_URL"`
	Timeout time.Duration `yaml:"timeout" env:"LOOPER_RESOLVER_TIMEOUT"`
}

// GeneratorConfig selects the music generation capability.
type GeneratorConfig struct {
	Kind        string        `yaml:"kind" env:"LOOPER_GENERATOR_KIND"`
	Placeholder string        `yaml:"placeholder" env:"LOOPER_GENERATOR_PLACEHOLDER"`
	Command     string        `yaml:"command" env:"LOOPER_GENERATOR_COMMAND"`
	Args        []string      `yaml:"args" env:"LOOPER_GENERATOR_ARGS"`
	AssetDir    string        `yaml:"asset_dir" env:"LOOPER_GENERATOR_ASSET_DIR"`
	Extension   string        `yaml:"extension" env:"LOOPER_GENERATOR_EXTENSION"`
	Timeout     time.Duration `yaml:"timeout" env:"LOOPER_GENERATOR_TIMEOUT"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Store:     StoreSQLite,
		Listen:    "127.0.0.1:8000",
		LogLevel:  "info",
		LogFormat: "text",
		MaxChain:  4,
		Resolver: ResolverConfig{
			Kind:    ResolverKeyword,
			Model:   "gpt-4o",
			Timeout: 30 * time.Second,
		},
		Generator: GeneratorConfig{
			Kind:      "none",
			AssetDir:  "assets",
			Extension: ".mp3",
			Timeout:   60 * time.Second,
		},
	}
}

// Load builds a Config from defaults, the YAML file at path, and the
// environment. An empty path reads DefaultFile if present; an explicit path
// must exist.
func Load(path string) (Config, error) {
	cfg := Default()

	explicit := path != ""
	if !explicit {
		path = DefaultFile
	}
	if err := cfg.mergeFile(path); err != nil {
		if explicit || !errors.Is(err, os.ErrNotExist) {
			return cfg, err
		}
	}

	if err := env.Parse(&cfg); err != nil {
		return cfg, fmt.Errorf("parse env: %w", err)
	}
	// OPENAI_API_KEY is the conventional name; LOOPER_RESOLVER_API_KEY wins.
	if cfg.Resolver.APIKey == "" {
		cfg.Resolver.APIKey = os.Getenv("OPENAI_API_KEY")
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c *Config) mergeFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("parsing %s: %w", path, err)
	}
	return nil
}

// Validate rejects unknown enum values and impossible bounds.
func (c Config) Validate() error {
	switch c.Store {
	case StoreSQLite, StoreBadger, StoreMemory:
	default:
		return fmt.Errorf("config: unknown store %q (want sqlite, badger or memory)", c.Store)
	}
	switch c.Resolver.Kind {
	case ResolverKeyword, ResolverOpenAI:
	default:
		return fmt.Errorf("config: unknown resolver %q (want keyword or openai)", c.Resolver.Kind)
	}
	switch c.Generator.Kind {
	case "none", "placeholder", "command":
	default:
		return fmt.Errorf("config: unknown generator %q (want none, placeholder or command)", c.Generator.Kind)
	}
	if c.MaxChain < 1 {
		return fmt.Errorf("config: max_chain must be at least 1, got %d", c.MaxChain)
	}
	if _, err := parseLevel(c.LogLevel); err != nil {
		return err
	}
	if f := strings.ToLower(c.LogFormat); f != "text" && f != "json" {
		return fmt.Errorf("config: unknown log format %q (want text or json)", c.LogFormat)
	}
	return nil
}

// Redacted returns a copy safe to print.
func (c Config) Redacted() Config {
	if c.Resolver.APIKey != "" {
		c.Resolver.APIKey = "***"
	}
	return c
}

func parseLevel(s string) (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("config: log level %q: %w", s, err)
	}
	return lvl, nil
}

// NewLogger builds the process logger from LogLevel and LogFormat.
func (c Config) NewLogger(w io.Writer) *slog.Logger {
	lvl, err := parseLevel(c.LogLevel)
	if err != nil {
		lvl = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: lvl}
	if strings.EqualFold(c.LogFormat, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
