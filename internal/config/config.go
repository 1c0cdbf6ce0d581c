// Package config loads the dtopipe tool configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	execctx "github.com/hanpama/dtopipe/internal/execctx"
)

// Environment variables overriding file settings.
const (
	EnvLocale = "DTOPIPE_LOCALE"
	EnvTrace  = "DTOPIPE_TRACE"
)

type Config struct {
	// Locale is the active rendering locale. Empty means the platform
	// locale.
	Locale string `yaml:"locale" toml:"locale"`
	// LanguageDefaults maps a bare language to the locale tried for it,
	// such as fr: fr_FR.
	LanguageDefaults map[string]string `yaml:"languageDefaults" toml:"languageDefaults"`
	CatalogDir       string            `yaml:"catalogDir" toml:"catalogDir"`
	SchemaDir        string            `yaml:"schemaDir" toml:"schemaDir"`
	// Trace includes node markers in rendered failure paths.
	Trace     bool      `yaml:"trace" toml:"trace"`
	ErrorMode string    `yaml:"errorMode" toml:"errorMode"`
	Log       LogConfig `yaml:"log" toml:"log"`
	OTel      OTel      `yaml:"otel" toml:"otel"`
}

type LogConfig struct {
	Level       string `yaml:"level" toml:"level"`
	Development bool   `yaml:"development" toml:"development"`
}

type OTel struct {
	Endpoint string `yaml:"endpoint" toml:"endpoint"`
	Service  string `yaml:"service" toml:"service"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		SchemaDir: ".",
		ErrorMode: execctx.FailFast.String(),
		Log:       LogConfig{Level: "info"},
		OTel:      OTel{Service: "dtopipe"},
	}
}

// Load reads path over the defaults and applies environment overrides.
// An empty path yields the defaults with overrides.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, err
		}
		if err := Decode(filepath.Ext(path), data, &cfg); err != nil {
			return cfg, fmt.Errorf("%s: %w", path, err)
		}
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

// Decode parses data in the format named by ext into cfg.
func Decode(ext string, data []byte, cfg *Config) error {
	switch strings.ToLower(ext) {
	case ".yaml", ".yml":
		return yaml.Unmarshal(data, cfg)
	case ".toml":
		_, err := toml.Decode(string(data), cfg)
		return err
	}
	return fmt.Errorf("unsupported config format %q", ext)
}

// ApplyEnv overrides settings from the environment.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup(EnvLocale); ok && v != "" {
		c.Locale = v
	}
	if v, ok := lookup(EnvTrace); ok && v != "" {
		on, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvTrace, err)
		}
		c.Trace = on
	}
	return nil
}

func (c Config) Validate() error {
	if _, err := c.Mode(); err != nil {
		return err
	}
	return nil
}

// Mode returns the configured default error mode.
func (c Config) Mode() (execctx.ErrorMode, error) {
	return execctx.ParseErrorMode(c.ErrorMode)
}
