package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/utlibraries/crate/internal/batch"
)

// Manager handles loading and hot-reloading configuration.
type Manager struct {
	mu        sync.RWMutex
	config    *Config
	callbacks []func(*Config)
}

// NewManager creates a new config manager and loads initial config.
func NewManager(cfgFile string) (*Manager, error) {
	cm := &Manager{
		callbacks: make([]func(*Config), 0),
	}

	if err := cm.initViper(cfgFile); err != nil {
		return nil, err
	}

	cfg, err := cm.load()
	if err != nil {
		return nil, err
	}
	cm.config = cfg

	return cm, nil
}

// initViper sets up viper with defaults and config file.
func (cm *Manager) initViper(cfgFile string) error {
	defaults := DefaultConfig()
	viper.SetDefault("openai", defaults.OpenAI)
	viper.SetDefault("batch", defaults.Batch)
	viper.SetDefault("steps", defaults.Steps)

	// Environment variables with CRATE_ prefix
	viper.SetEnvPrefix("CRATE")
	viper.AutomaticEnv()

	// Config file
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		viper.AddConfigPath("$HOME/.crate")
	}

	// Try to read config file (not required)
	if err := viper.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}

	return nil
}

// load parses the current viper state into a Config struct.
func (cm *Manager) load() (*Config, error) {
	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &cfg, nil
}

// Get returns the current configuration (thread-safe).
func (cm *Manager) Get() *Config {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.config
}

// OnChange registers a callback for config changes.
func (cm *Manager) OnChange(fn func(*Config)) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.callbacks = append(cm.callbacks, fn)
}

// WatchConfig enables hot-reloading of configuration.
func (cm *Manager) WatchConfig() {
	viper.OnConfigChange(func(e fsnotify.Event) {
		cfg, err := cm.load()
		if err != nil {
			return
		}

		cm.mu.Lock()
		cm.config = cfg
		callbacks := make([]func(*Config), len(cm.callbacks))
		copy(callbacks, cm.callbacks)
		cm.mu.Unlock()

		for _, fn := range callbacks {
			fn(cfg)
		}
	})
	viper.WatchConfig()
}

// ResolveEnvVars expands ${ENV_VAR} references in a string.
func ResolveEnvVars(value string) string {
	if value == "" {
		return value
	}
	pattern := regexp.MustCompile(`\$\{([^}]+)\}`)
	return pattern.ReplaceAllStringFunc(value, func(match string) string {
		varName := match[2 : len(match)-1]
		return os.Getenv(varName)
	})
}

// ToServiceConfig converts the openai section to a format suitable for
// batch.NewOpenAIService. It resolves ${ENV_VAR} references in the API key.
func (c *Config) ToServiceConfig() batch.OpenAIConfig {
	return batch.OpenAIConfig{
		APIKey:    ResolveEnvVars(c.OpenAI.APIKey),
		BaseURL:   c.OpenAI.BaseURL,
		RateLimit: c.OpenAI.RateLimit,
		Timeout:   time.Duration(c.OpenAI.TimeoutSeconds) * time.Second,
	}
}

// ToBatchConfig converts the batch section to a format suitable for
// batch.NewProcessor. Zero fields fall through to the package defaults.
func (c *Config) ToBatchConfig() batch.Config {
	return batch.Config{
		MaxPayloadBytes: c.Batch.MaxFileMB * 1024 * 1024,
		Threshold:       c.Batch.Threshold,
		Upload: batch.UploadConfig{
			Attempts:  c.Batch.UploadAttempts,
			BaseDelay: time.Duration(c.Batch.UploadBaseDelaySeconds) * time.Second,
		},
		PollInterval:   time.Duration(c.Batch.PollIntervalSeconds) * time.Second,
		SharedInterval: time.Duration(c.Batch.SharedIntervalSeconds) * time.Second,
		ProgressEvery:  time.Duration(c.Batch.ProgressMinutes) * time.Minute,
		MaxWait:        time.Duration(c.Batch.MaxWaitHours) * time.Hour,
	}
}

// WriteDefault writes the default configuration to the specified path.
func WriteDefault(path string) error {
	cfg := DefaultConfig()
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	header := []byte(`# Crate configuration
# API keys use ${ENV_VAR} syntax to reference environment variables
# Set these in your shell: export OPENAI_API_KEY=xxx

`)
	return os.WriteFile(path, append(header, data...), 0o644)
}
