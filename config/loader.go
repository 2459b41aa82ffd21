// Package config provides configuration loading and parsing functionality
package config

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ConfigFormat represents the configuration file format
type ConfigFormat string

const (
	FormatYAML ConfigFormat = "yaml"
	FormatJSON ConfigFormat = "json"
)

// Loader handles configuration loading from various sources
type Loader struct {
	// Configuration search paths
	searchPaths []string

	// Environment variable prefix
	envPrefix string

	// Default configuration
	defaultConfig *Config
}

// NewLoader creates a new configuration loader
func NewLoader() *Loader {
	return &Loader{
		searchPaths: []string{
			".",
			"./config",
			"./configs",
			"/etc/rcall",
			os.Getenv("HOME") + "/.rcall",
		},
		envPrefix:     "RCALL",
		defaultConfig: DefaultConfig(),
	}
}

// SetSearchPaths sets the configuration file search paths
func (l *Loader) SetSearchPaths(paths []string) *Loader {
	l.searchPaths = paths
	return l
}

// SetEnvPrefix sets the environment variable prefix
func (l *Loader) SetEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// SetDefaultConfig sets the default configuration
func (l *Loader) SetDefaultConfig(config *Config) *Loader {
	l.defaultConfig = config
	return l
}

// LoadFromFile loads configuration from a specific file, merged over
// the defaults, with environment overrides applied last.
func (l *Loader) LoadFromFile(filename string) (*Config, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	var format ConfigFormat
	switch ext {
	case ".yaml", ".yml":
		format = FormatYAML
	case ".json":
		format = FormatJSON
	default:
		return nil, fmt.Errorf("%w: unsupported extension %s", ErrConfigParseError, ext)
	}

	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config, err := l.parseConfig(data, format)
	if err != nil {
		return nil, err
	}

	return l.finish(config)
}

// LoadFromReader loads configuration from an io.Reader
func (l *Loader) LoadFromReader(reader io.Reader, format ConfigFormat) (*Config, error) {
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to read configuration data: %w", err)
	}

	config, err := l.parseConfig(data, format)
	if err != nil {
		return nil, err
	}

	return l.finish(config)
}

// AutoLoad discovers a configuration file in the search paths and
// loads it. With no file present the defaults plus environment
// overrides are used.
func (l *Loader) AutoLoad() (*Config, error) {
	configFile, err := l.findConfigFile()
	if err != nil {
		if err == ErrConfigFileNotFound {
			config := l.defaults()
			if err := l.loadFromEnv(config); err != nil {
				return nil, err
			}
			if err := config.Validate(); err != nil {
				return nil, fmt.Errorf("%w: %w", ErrConfigValidateError, err)
			}
			return config, nil
		}
		return nil, err
	}

	return l.LoadFromFile(configFile)
}

// finish merges a parsed file config over the defaults, applies the
// environment, and validates.
func (l *Loader) finish(fileConfig *Config) (*Config, error) {
	config := l.mergeConfig(l.defaults(), fileConfig)

	if err := l.loadFromEnv(config); err != nil {
		return nil, err
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfigValidateError, err)
	}
	return config, nil
}

func (l *Loader) defaults() *Config {
	if l.defaultConfig != nil {
		cp := *l.defaultConfig
		return &cp
	}
	return DefaultConfig()
}

// findConfigFile searches for configuration files in search paths
func (l *Loader) findConfigFile() (string, error) {
	filenames := []string{
		"rcall.yaml", "rcall.yml",
		"config.yaml", "config.yml",
		"rcall.json", "config.json",
	}

	for _, searchPath := range l.searchPaths {
		for _, filename := range filenames {
			fullPath := filepath.Join(searchPath, filename)
			if _, err := os.Stat(fullPath); err == nil {
				return fullPath, nil
			}
		}
	}

	return "", ErrConfigFileNotFound
}

// parseConfig parses configuration data based on format
func (l *Loader) parseConfig(data []byte, format ConfigFormat) (*Config, error) {
	config := &Config{}

	switch format {
	case FormatYAML:
		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrConfigParseError, err)
		}
	case FormatJSON:
		if err := json.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrConfigParseError, err)
		}
	default:
		return nil, fmt.Errorf("%w: unsupported format %s", ErrConfigParseError, format)
	}

	return config, nil
}

// loadFromEnv loads configuration overrides from environment variables
func (l *Loader) loadFromEnv(config *Config) error {
	if val := os.Getenv(l.envPrefix + "_APP_NAME"); val != "" {
		config.App.Name = val
	}
	if val := os.Getenv(l.envPrefix + "_APP_VERSION"); val != "" {
		config.App.Version = val
	}
	if val := os.Getenv(l.envPrefix + "_APP_ENVIRONMENT"); val != "" {
		config.App.Environment = Environment(val)
	}
	if val := os.Getenv(l.envPrefix + "_APP_DEBUG"); val != "" {
		config.App.Debug = strings.ToLower(val) == "true"
	}

	if val := os.Getenv(l.envPrefix + "_LOG_LEVEL"); val != "" {
		config.Log.Level = LogLevel(val)
	}
	if val := os.Getenv(l.envPrefix + "_LOG_FORMAT"); val != "" {
		config.Log.Format = val
	}
	if val := os.Getenv(l.envPrefix + "_LOG_OUTPUT"); val != "" {
		config.Log.Output = val
	}

	if val := os.Getenv(l.envPrefix + "_ENGINE_TICK_INTERVAL"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			config.Engine.TickInterval = d
		}
	}
	if val := os.Getenv(l.envPrefix + "_ENGINE_ACK_TIMEOUT"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			config.Engine.AckTimeout = d
		}
	}
	if val := os.Getenv(l.envPrefix + "_ENGINE_MAX_RETRIES"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			config.Engine.MaxRetries = n
		}
	}
	if val := os.Getenv(l.envPrefix + "_ENGINE_MARSHAL_TIMEOUT"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			config.Engine.MarshalTimeout = d
		}
	}

	if val := os.Getenv(l.envPrefix + "_TRANSPORT_TYPE"); val != "" {
		config.Engine.Transport.Type = TransportType(val)
	}
	if val := os.Getenv(l.envPrefix + "_TRANSPORT_LOCAL_ADDR"); val != "" {
		config.Engine.Transport.LocalAddr = val
	}
	if val := os.Getenv(l.envPrefix + "_TRANSPORT_REMOTE_ADDR"); val != "" {
		config.Engine.Transport.RemoteAddr = val
	}

	if val := os.Getenv(l.envPrefix + "_WORKER_QUEUE_SIZE"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			config.Worker.QueueSize = n
		}
	}

	return nil
}

// mergeConfig merges user config with default config
func (l *Loader) mergeConfig(defaultConfig, userConfig *Config) *Config {
	merged := *defaultConfig

	if userConfig.App.Name != "" {
		merged.App.Name = userConfig.App.Name
	}
	if userConfig.App.Version != "" {
		merged.App.Version = userConfig.App.Version
	}
	if userConfig.App.Environment != "" {
		merged.App.Environment = userConfig.App.Environment
	}
	merged.App.Debug = userConfig.App.Debug

	if userConfig.Log.Level != "" {
		merged.Log.Level = userConfig.Log.Level
	}
	if userConfig.Log.Format != "" {
		merged.Log.Format = userConfig.Log.Format
	}
	if userConfig.Log.Output != "" {
		merged.Log.Output = userConfig.Log.Output
	}
	merged.Log.AddSource = userConfig.Log.AddSource

	if userConfig.Engine.Name != "" {
		merged.Engine.Name = userConfig.Engine.Name
	}
	if userConfig.Engine.TickInterval != 0 {
		merged.Engine.TickInterval = userConfig.Engine.TickInterval
	}
	if userConfig.Engine.AckTimeout != 0 {
		merged.Engine.AckTimeout = userConfig.Engine.AckTimeout
	}
	if userConfig.Engine.MaxRetries != 0 {
		merged.Engine.MaxRetries = userConfig.Engine.MaxRetries
	}
	if userConfig.Engine.MarshalTimeout != 0 {
		merged.Engine.MarshalTimeout = userConfig.Engine.MarshalTimeout
	}
	if userConfig.Engine.Transport.Type != "" {
		merged.Engine.Transport.Type = userConfig.Engine.Transport.Type
	}
	if userConfig.Engine.Transport.LocalAddr != "" {
		merged.Engine.Transport.LocalAddr = userConfig.Engine.Transport.LocalAddr
	}
	if userConfig.Engine.Transport.RemoteAddr != "" {
		merged.Engine.Transport.RemoteAddr = userConfig.Engine.Transport.RemoteAddr
	}
	if userConfig.Engine.Transport.ReadTimeout != 0 {
		merged.Engine.Transport.ReadTimeout = userConfig.Engine.Transport.ReadTimeout
	}

	if userConfig.Worker.QueueSize != 0 {
		merged.Worker.QueueSize = userConfig.Worker.QueueSize
	}
	if userConfig.Worker.EnqueueTimeout != 0 {
		merged.Worker.EnqueueTimeout = userConfig.Worker.EnqueueTimeout
	}

	return &merged
}
