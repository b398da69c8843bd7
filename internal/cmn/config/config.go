// Package config loads orchestrator configuration from environment
// variables (OVERSEER_*) and an optional YAML config file.
package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all process-level settings.
type Config struct {
	// Host and port of the HTTP frontend.
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`

	// DataDir holds the persisted state files (tasks.json, dags.json, ...).
	DataDir string `mapstructure:"dataDir"`

	// ProjectsRoot is the directory agent working copies live under.
	ProjectsRoot string `mapstructure:"projectsRoot"`

	// MasterSecret encrypts config entries at rest.
	MasterSecret string `mapstructure:"masterSecret"`

	// LLM provider settings.
	ProviderBaseURL string `mapstructure:"providerBaseURL"`
	ProviderAPIKey  string `mapstructure:"providerAPIKey"`
	PlannerModel    string `mapstructure:"plannerModel"`
	MemoryModel     string `mapstructure:"memoryModel"`
	EmbeddingModel  string `mapstructure:"embeddingModel"`

	// TaskTimeout bounds the wall clock of a local agent run.
	TaskTimeout time.Duration `mapstructure:"taskTimeout"`

	// DeviceWaitTimeout bounds waiting on a remote device task.
	DeviceWaitTimeout time.Duration `mapstructure:"deviceWaitTimeout"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `mapstructure:"logLevel"`

	// LogFormat is "pretty" or "json".
	LogFormat string `mapstructure:"logFormat"`
}

// StateFile returns the path of a named state file under DataDir.
func (c *Config) StateFile(name string) string {
	return filepath.Join(c.DataDir, name)
}

// Addr returns the listen address of the HTTP frontend.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Load reads configuration from the optional file at path and the
// environment. Environment variables win over file values.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("OVERSEER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("host", "127.0.0.1")
	v.SetDefault("port", 4200)
	v.SetDefault("dataDir", ".overseer")
	v.SetDefault("projectsRoot", ".")
	v.SetDefault("plannerModel", "gpt-4o")
	v.SetDefault("memoryModel", "gpt-4o-mini")
	v.SetDefault("taskTimeout", 30*time.Minute)
	v.SetDefault("deviceWaitTimeout", 10*time.Minute)
	v.SetDefault("logLevel", "info")
	v.SetDefault("logFormat", "pretty")

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: failed to read %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: failed to unmarshal: %w", err)
	}
	return &cfg, nil
}
