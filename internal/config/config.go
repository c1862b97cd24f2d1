// Package config loads the objgraph CLI configuration.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/charmbracelet/log"
	"gopkg.in/yaml.v3"

	"github.com/Neumenon/objgraph/objgraph"
)

// ConfigDirName is the name of the objgraph configuration directory.
const ConfigDirName = ".objgraph"

// ConfigFileNames are tried in order inside the configuration directory.
var ConfigFileNames = []string{"config.yaml", "config.yml", "config.toml"}

// Config holds all objgraph CLI configuration.
type Config struct {
	Output OutputConfig `yaml:"output" toml:"output"`
	Input  InputConfig  `yaml:"input" toml:"input"`
	Stream StreamConfig `yaml:"stream" toml:"stream"`
	Log    LogConfig    `yaml:"log" toml:"log"`
}

// OutputConfig controls how sessions are written.
type OutputConfig struct {
	Format            string `yaml:"format" toml:"format"`
	OptimizeTypeNames *bool  `yaml:"optimize_type_names" toml:"optimize_type_names"`
	BufferSize        int    `yaml:"buffer_size" toml:"buffer_size"`
}

// InputConfig controls how sessions are read.
type InputConfig struct {
	ErrorPolicy        string `yaml:"error_policy" toml:"error_policy"`
	AllowWeakFallbacks *bool  `yaml:"allow_weak_fallbacks" toml:"allow_weak_fallbacks"`
}

// StreamConfig holds the framing defaults for pack and unpack.
type StreamConfig struct {
	CRC        *bool `yaml:"crc" toml:"crc"`
	Zstd       *bool `yaml:"zstd" toml:"zstd"`
	MaxPayload int   `yaml:"max_payload" toml:"max_payload"`
}

// LogConfig holds the CLI logger settings.
type LogConfig struct {
	Level string `yaml:"level" toml:"level"`
}

// ErrConfigNotFound is returned when no config directory can be found
var ErrConfigNotFound = errors.New("config directory not found")

// ErrInvalidConfig is returned when config validation fails
var ErrInvalidConfig = errors.New("invalid configuration")

// Load reads config from .objgraph/config.{yaml,yml,toml}, falling back to
// defaults. It searches for the config directory starting from workDir and
// walking up the directory tree.
func Load(workDir string) (*Config, error) {
	configDir, err := FindConfigDir(workDir)
	if err != nil {
		return DefaultConfig(), nil
	}

	for _, name := range ConfigFileNames {
		path := filepath.Join(configDir, name)
		if _, err := os.Stat(path); err == nil {
			return LoadFromPath(path)
		}
	}
	return DefaultConfig(), nil
}

// LoadFromPath reads config from a specific path. The decoder is chosen by
// extension: .toml files use TOML, everything else YAML.
// Merges loaded config with defaults and validates the result.
func LoadFromPath(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultConfig(), nil
		}
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	loaded := &Config{}
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if _, err := toml.NewDecoder(bytes.NewReader(data)).Decode(loaded); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	} else if err := yaml.Unmarshal(data, loaded); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	merged := Merge(loaded, DefaultConfig())
	if err := Validate(merged); err != nil {
		return nil, err
	}
	return merged, nil
}

// FindConfigDir locates the .objgraph directory by walking up from startDir.
func FindConfigDir(startDir string) (string, error) {
	absDir, err := filepath.Abs(startDir)
	if err != nil {
		return "", fmt.Errorf("resolving path: %w", err)
	}

	currentDir := absDir
	for {
		configDir := filepath.Join(currentDir, ConfigDirName)
		info, err := os.Stat(configDir)
		if err == nil && info.IsDir() {
			return configDir, nil
		}

		parentDir := filepath.Dir(currentDir)
		if parentDir == currentDir {
			return "", ErrConfigNotFound
		}
		currentDir = parentDir
	}
}

// Validate checks that config values are valid.
func Validate(cfg *Config) error {
	if _, err := objgraph.ParseFormat(cfg.Output.Format); err != nil {
		return fmt.Errorf("%w: output.format: %w", ErrInvalidConfig, err)
	}
	if cfg.Output.BufferSize < 0 {
		return fmt.Errorf("%w: output.buffer_size must be non-negative, got %d",
			ErrInvalidConfig, cfg.Output.BufferSize)
	}
	if _, err := objgraph.ParseErrorPolicy(cfg.Input.ErrorPolicy); err != nil {
		return fmt.Errorf("%w: input.error_policy: %w", ErrInvalidConfig, err)
	}
	if cfg.Stream.MaxPayload <= 0 {
		return fmt.Errorf("%w: stream.max_payload must be positive, got %d",
			ErrInvalidConfig, cfg.Stream.MaxPayload)
	}
	if _, err := log.ParseLevel(cfg.Log.Level); err != nil {
		return fmt.Errorf("%w: log.level: %w", ErrInvalidConfig, err)
	}
	return nil
}

// Options converts the config into session options. The config must have
// passed Validate.
func (c *Config) Options() objgraph.Options {
	opts := objgraph.DefaultOptions()
	opts.Format, _ = objgraph.ParseFormat(c.Output.Format)
	opts.ErrorPolicy, _ = objgraph.ParseErrorPolicy(c.Input.ErrorPolicy)
	if c.Output.OptimizeTypeNames != nil {
		opts.OptimizeTypeNames = *c.Output.OptimizeTypeNames
	}
	if c.Input.AllowWeakFallbacks != nil {
		opts.AllowWeakFallbacks = *c.Input.AllowWeakFallbacks
	}
	if c.Output.BufferSize > 0 {
		opts.BufferSize = c.Output.BufferSize
	}
	return opts
}

// LogLevel returns the configured logger level, or info if it does not parse.
func (c *Config) LogLevel() log.Level {
	level, err := log.ParseLevel(c.Log.Level)
	if err != nil {
		return log.InfoLevel
	}
	return level
}
