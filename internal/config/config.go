// Package config provides configuration management for viewmill using
// Viper for flexible configuration loading from files, environment
// variables, and command-line flags.
//
// The configuration system supports YAML files and environment variable
// overrides with the VIEWMILL_ prefix. It manages the server settings,
// the template source tree, the extension-to-engine table, template
// imports, token substitutions, and change watching.
package config

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Server  ServerConfig   `yaml:"server" mapstructure:"server"`
	Source  SourceConfig   `yaml:"source" mapstructure:"source"`
	Engines []EngineConfig `yaml:"engines" mapstructure:"engines"`
	Imports []string       `yaml:"imports" mapstructure:"imports"`
	Tokens  []Token        `yaml:"tokens" mapstructure:"tokens"`
	Watch   bool           `yaml:"watch" mapstructure:"watch"`
	Render  RenderConfig   `yaml:"render" mapstructure:"render"`
	Cache   CacheConfig    `yaml:"cache" mapstructure:"cache"`
	Log     LogConfig      `yaml:"log" mapstructure:"log"`
}

type ServerConfig struct {
	Host           string   `yaml:"host" mapstructure:"host"`
	Port           int      `yaml:"port" mapstructure:"port"`
	Environment    string   `yaml:"environment" mapstructure:"environment"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
}

// SourceConfig describes the template source tree. ViewDir is relative
// to Root; SharedDir is relative to ViewDir.
type SourceConfig struct {
	Root      string `yaml:"root" mapstructure:"root"`
	ViewDir   string `yaml:"view_dir" mapstructure:"view_dir"`
	SharedDir string `yaml:"shared_dir" mapstructure:"shared_dir"`
}

// EngineConfig binds one source-file extension to a compilation engine.
// The slice order is the probing order at render time.
type EngineConfig struct {
	Ext    string `yaml:"ext" mapstructure:"ext"`
	Engine string `yaml:"engine" mapstructure:"engine"`
}

// Token is one literal substitution applied to template sources before
// compilation. Order matters: earlier tokens are applied first.
type Token struct {
	Token string `yaml:"token" mapstructure:"token"`
	Value string `yaml:"value" mapstructure:"value"`
}

type RenderConfig struct {
	// BOMShim controls the byte-order-marker output shim:
	// "auto" resolves from the platform at startup, "on" and "off"
	// force it.
	BOMShim string `yaml:"bom_shim" mapstructure:"bom_shim"`
}

type CacheConfig struct {
	Enabled  bool  `yaml:"enabled" mapstructure:"enabled"`
	MaxBytes int64 `yaml:"max_bytes" mapstructure:"max_bytes"`
}

type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// EngineNames are the recognized engine identifiers for EngineConfig.
var EngineNames = []string{"gotmpl", "scriggo", "markdown"}

// Default returns a configuration with every default applied.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:        "localhost",
			Port:        7070,
			Environment: "development",
		},
		Source: SourceConfig{
			Root:      ".",
			ViewDir:   "views",
			SharedDir: "shared",
		},
		Engines: []EngineConfig{
			{Ext: "gohtml", Engine: "gotmpl"},
			{Ext: "html", Engine: "scriggo"},
			{Ext: "md", Engine: "markdown"},
		},
		Imports: []string{"strings", "strconv", "time"},
		Watch:   true,
		Render:  RenderConfig{BOMShim: "auto"},
		Cache:   CacheConfig{Enabled: true, MaxBytes: 64 << 20},
		Log:     LogConfig{Level: "info", Format: "text"},
	}
}

// Load unmarshals the viper state into a Config, applies defaults for
// anything unset, and validates the result.
func Load() (*Config, error) {
	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, err
	}

	applyDefaults(&config)

	if err := Validate(&config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

func applyDefaults(config *Config) {
	defaults := Default()

	if config.Server.Host == "" {
		config.Server.Host = defaults.Server.Host
	}
	if config.Server.Port == 0 {
		config.Server.Port = defaults.Server.Port
	}
	if config.Server.Environment == "" {
		config.Server.Environment = defaults.Server.Environment
	}
	if config.Source.Root == "" {
		config.Source.Root = defaults.Source.Root
	}
	if config.Source.ViewDir == "" {
		config.Source.ViewDir = defaults.Source.ViewDir
	}
	if config.Source.SharedDir == "" {
		config.Source.SharedDir = defaults.Source.SharedDir
	}
	if len(config.Engines) == 0 {
		config.Engines = defaults.Engines
	}
	if !viper.IsSet("imports") && len(config.Imports) == 0 {
		config.Imports = defaults.Imports
	}
	if !viper.IsSet("watch") {
		config.Watch = defaults.Watch
	}
	if config.Render.BOMShim == "" {
		config.Render.BOMShim = defaults.Render.BOMShim
	}
	if !viper.IsSet("cache.enabled") {
		config.Cache.Enabled = defaults.Cache.Enabled
	}
	if config.Cache.MaxBytes == 0 {
		config.Cache.MaxBytes = defaults.Cache.MaxBytes
	}
	if config.Log.Level == "" {
		config.Log.Level = defaults.Log.Level
	}
	if config.Log.Format == "" {
		config.Log.Format = defaults.Log.Format
	}

	for i := range config.Engines {
		config.Engines[i].Ext = NormalizeExt(config.Engines[i].Ext)
		config.Engines[i].Engine = strings.ToLower(strings.TrimSpace(config.Engines[i].Engine))
	}
}

// NormalizeExt lower-cases an extension and strips a leading dot.
func NormalizeExt(ext string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(ext), "."))
}

// Validate checks configuration values for correctness and safety.
// Shape errors here are fatal at startup.
func Validate(config *Config) error {
	if err := validateServer(&config.Server); err != nil {
		return fmt.Errorf("server config: %w", err)
	}
	if err := validateSource(&config.Source); err != nil {
		return fmt.Errorf("source config: %w", err)
	}
	if err := validateEngines(config.Engines); err != nil {
		return fmt.Errorf("engines config: %w", err)
	}
	if err := validateTokens(config.Tokens); err != nil {
		return fmt.Errorf("tokens config: %w", err)
	}
	switch config.Render.BOMShim {
	case "auto", "on", "off":
	default:
		return fmt.Errorf("render config: bom_shim must be auto, on or off, got %q", config.Render.BOMShim)
	}
	if config.Cache.Enabled && config.Cache.MaxBytes <= 0 {
		return fmt.Errorf("cache config: max_bytes must be positive, got %d", config.Cache.MaxBytes)
	}
	return nil
}

func validateServer(config *ServerConfig) error {
	if config.Port < 0 || config.Port > 65535 {
		return fmt.Errorf("port %d is not in valid range 0-65535", config.Port)
	}

	if config.Host != "" {
		dangerousChars := []string{";", "&", "|", "$", "`", "(", ")", "<", ">", "\"", "'", "\\"}
		for _, char := range dangerousChars {
			if strings.Contains(config.Host, char) {
				return fmt.Errorf("host contains dangerous character: %s", char)
			}
		}
	}

	return nil
}

func validateSource(config *SourceConfig) error {
	if err := validatePath(config.Root); err != nil {
		return fmt.Errorf("invalid root %q: %w", config.Root, err)
	}
	for _, dir := range []string{config.ViewDir, config.SharedDir} {
		if err := validatePath(dir); err != nil {
			return fmt.Errorf("invalid directory %q: %w", dir, err)
		}
		if filepath.IsAbs(dir) {
			return fmt.Errorf("directory %q must be relative", dir)
		}
	}
	return nil
}

func validateEngines(engines []EngineConfig) error {
	seen := make(map[string]bool, len(engines))
	for _, e := range engines {
		if e.Ext == "" {
			return fmt.Errorf("engine entry with empty extension")
		}
		if seen[e.Ext] {
			return fmt.Errorf("extension %q mapped to more than one engine", e.Ext)
		}
		seen[e.Ext] = true

		known := false
		for _, name := range EngineNames {
			if e.Engine == name {
				known = true
				break
			}
		}
		if !known {
			return fmt.Errorf("unknown engine %q for extension %q (known: %s)",
				e.Engine, e.Ext, strings.Join(EngineNames, ", "))
		}
	}
	return nil
}

func validateTokens(tokens []Token) error {
	for _, t := range tokens {
		if t.Token == "" {
			return fmt.Errorf("token entry with empty token")
		}
	}
	return nil
}

// validatePath validates a file path for safety.
func validatePath(path string) error {
	if path == "" {
		return fmt.Errorf("empty path")
	}

	cleanPath := filepath.Clean(path)

	if strings.Contains(cleanPath, "..") {
		return fmt.Errorf("path contains traversal: %s", path)
	}

	dangerousChars := []string{";", "&", "|", "$", "`", "(", ")", "<", ">", "\"", "'"}
	for _, char := range dangerousChars {
		if strings.Contains(cleanPath, char) {
			return fmt.Errorf("path contains dangerous character: %s", char)
		}
	}

	return nil
}
