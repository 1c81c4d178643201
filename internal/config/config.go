// Package config provides configuration management for the application.
// It supports YAML configuration files with environment variable overrides.
package config

import (
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/pairreview/pairreview/consts"
	"github.com/pairreview/pairreview/pkg/logger"
	"github.com/pairreview/pairreview/pkg/telemetry"
)

// Default configuration values
const (
	defaultHost           = "127.0.0.1"
	defaultTheme          = "auto"
	defaultOTLPEndpoint   = "localhost:4317"
	defaultPrometheusPort = 9464
)

// Config represents the complete application configuration
type Config struct {
	// Host and Port form the HTTP listen address. The service is single-user
	// and binds loopback by default.
	Host string `yaml:"host"`
	Port int    `yaml:"port"`

	Debug       bool     `yaml:"debug"`
	CORSOrigins []string `yaml:"cors_origins"`

	// Theme is the UI theme preference, passed through to clients
	Theme string `yaml:"theme"`

	// GitHubToken authenticates PR-mode API calls. Unused in local mode.
	GitHubToken string `yaml:"github_token"`

	// Yolo replaces the conservative provider tool allow-list with the
	// provider's permissive flag
	Yolo bool `yaml:"yolo"`

	// Providers holds per-provider overrides merged onto the built-in
	// definitions
	Providers map[string]ProviderOverride `yaml:"providers"`

	// Monorepos maps a repository name to its local checkout layout
	Monorepos map[string]MonorepoConfig `yaml:"monorepos"`

	Analysis  AnalysisConfig   `yaml:"analysis"`
	Logging   logger.Config    `yaml:"logging"`
	Telemetry telemetry.Config `yaml:"telemetry"`
}

// ProviderOverride customizes a built-in provider definition
type ProviderOverride struct {
	Command             string            `yaml:"command"`
	ExtraArgs           []string          `yaml:"extra_args"`
	Env                 map[string]string `yaml:"env"`
	InstallInstructions string            `yaml:"installInstructions"`
	Models              []ModelOverride   `yaml:"models"`
}

// ModelOverride customizes or adds a model inside a provider definition
type ModelOverride struct {
	ID          string `yaml:"id"`
	Tier        string `yaml:"tier"`
	Name        string `yaml:"name"`
	Badge       string `yaml:"badge"`
	Default     bool   `yaml:"default"`
	Tagline     string `yaml:"tagline"`
	Description string `yaml:"description"`
}

// MonorepoConfig describes one monorepo checkout
type MonorepoConfig struct {
	Path                 string `yaml:"path"`
	CheckoutScript       string `yaml:"checkout_script"`
	WorktreeDirectory    string `yaml:"worktree_directory"`
	WorktreeNameTemplate string `yaml:"worktree_name_template"`
}

// AnalysisConfig holds orchestrator tuning knobs
type AnalysisConfig struct {
	// MaxParallelVoices caps voice fan-out within a level; 0 means unbounded
	// up to the voice count of the level
	MaxParallelVoices int `yaml:"max_parallel_voices"`
	// RetentionDays prunes terminal local reviews older than this; 0 disables
	RetentionDays int `yaml:"retention_days"`
}

// knownTopLevelKeys is the closed set of recognized configuration keys.
// Unknown keys are logged, not silently absorbed.
var knownTopLevelKeys = map[string]bool{
	"host": true, "port": true, "debug": true, "cors_origins": true,
	"theme": true, "github_token": true, "yolo": true,
	"providers": true, "monorepos": true, "analysis": true,
	"logging": true, "telemetry": true,
}

// Default returns a default configuration
func Default() *Config {
	return &Config{
		Host:  defaultHost,
		Port:  consts.DefaultPort,
		Debug: false,
		Theme: defaultTheme,
		Logging: logger.Config{
			Level:      "info",
			Format:     "text",
			File:       "",
			MaxSize:    100,
			MaxAge:     7,
			MaxBackups: 5,
			Compress:   false,
		},
		Telemetry: telemetry.Config{
			Enabled:     false,
			ServiceName: consts.ServiceName,
			OTLP: telemetry.OTLPConfig{
				Enabled:  false,
				Endpoint: defaultOTLPEndpoint,
				Insecure: true,
			},
			Prometheus: telemetry.PrometheusConfig{
				Enabled: false,
				Port:    defaultPrometheusPort,
			},
		},
	}
}

// DefaultPath returns the config file location under the per-user config directory
func DefaultPath() string {
	configDir, err := os.UserConfigDir()
	if err != nil {
		configDir = "."
	}
	return filepath.Join(configDir, consts.ServiceName, "config.yaml")
}

// Load loads configuration from a YAML file with environment variable expansion
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	expanded := expandEnvVars(string(data))

	warnUnknownKeys([]byte(expanded))

	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadDefault loads the per-user config file. A missing file is not an error;
// defaults apply.
func LoadDefault() (*Config, error) {
	path := DefaultPath()
	cfg, err := Load(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return cfg, nil
}

// warnUnknownKeys logs top-level keys outside the recognized set
func warnUnknownKeys(data []byte) {
	var raw map[string]interface{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return
	}
	for key := range raw {
		if !knownTopLevelKeys[key] {
			logger.Warn("Unknown configuration key ignored", zap.String("key", key))
		}
	}
}

// expandEnvVars replaces ${VAR_NAME} patterns with environment variable values.
// Only matches ${VAR_NAME} format (not $VAR_NAME) to avoid clobbering literal
// dollar signs in argv templates.
func expandEnvVars(content string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(content, func(match string) string {
		varName := match[2 : len(match)-1]

		// Support default values: ${VAR_NAME:-default}
		parts := strings.SplitN(varName, ":-", 2)
		varName = parts[0]

		if value := os.Getenv(varName); value != "" {
			return value
		}

		if len(parts) > 1 {
			return parts[1]
		}

		return ""
	})
}

// Address returns the server listen address string
func (c *Config) Address() string {
	return c.Host + ":" + strconv.Itoa(c.Port)
}

// GetProviderOverride returns the override block for a provider id, if any
func (c *Config) GetProviderOverride(id string) *ProviderOverride {
	if override, ok := c.Providers[id]; ok {
		return &override
	}
	return nil
}

// GetMonorepo returns the monorepo configuration by name
func (c *Config) GetMonorepo(name string) *MonorepoConfig {
	if repo, ok := c.Monorepos[name]; ok {
		return &repo
	}
	return nil
}
