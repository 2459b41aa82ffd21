// Package config provides configuration management for the rcall framework
package config

import (
	"log/slog"
	"time"
)

// Environment represents the deployment environment
type Environment string

const (
	EnvDevelopment Environment = "development"
	EnvTesting     Environment = "testing"
	EnvStaging     Environment = "staging"
	EnvProduction  Environment = "production"
)

// String returns the string representation of Environment
func (e Environment) String() string {
	return string(e)
}

// IsValid checks if the environment is valid
func (e Environment) IsValid() bool {
	switch e {
	case EnvDevelopment, EnvTesting, EnvStaging, EnvProduction:
		return true
	default:
		return false
	}
}

// LogLevel represents the logging level
type LogLevel string

const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

// String returns the string representation of LogLevel
func (l LogLevel) String() string {
	return string(l)
}

// IsValid checks if the log level is valid
func (l LogLevel) IsValid() bool {
	switch l {
	case LogLevelDebug, LogLevelInfo, LogLevelWarn, LogLevelError:
		return true
	default:
		return false
	}
}

// SlogLevel maps the level to its slog equivalent.
func (l LogLevel) SlogLevel() slog.Level {
	switch l {
	case LogLevelDebug:
		return slog.LevelDebug
	case LogLevelWarn:
		return slog.LevelWarn
	case LogLevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// TransportType selects the concrete transport the engine is wired to
type TransportType string

const (
	TransportUDP  TransportType = "udp"
	TransportTCP  TransportType = "tcp"
	TransportPipe TransportType = "pipe"
)

// IsValid checks if the transport type is valid
func (t TransportType) IsValid() bool {
	switch t {
	case TransportUDP, TransportTCP, TransportPipe:
		return true
	default:
		return false
	}
}

// Config represents the complete rcall configuration
type Config struct {
	// Application configuration
	App AppConfig `yaml:"app" json:"app"`

	// Logging configuration
	Log LogConfig `yaml:"log" json:"log"`

	// Engine configuration
	Engine EngineConfig `yaml:"engine" json:"engine"`

	// Worker configuration
	Worker WorkerConfig `yaml:"worker" json:"worker"`
}

// AppConfig contains application-level configuration
type AppConfig struct {
	// Application name
	Name string `yaml:"name" json:"name"`

	// Application version
	Version string `yaml:"version" json:"version"`

	// Deployment environment
	Environment Environment `yaml:"environment" json:"environment"`

	// Debug mode
	Debug bool `yaml:"debug" json:"debug"`
}

// LogConfig contains logging configuration
type LogConfig struct {
	// Log level
	Level LogLevel `yaml:"level" json:"level"`

	// Log format (json, text)
	Format string `yaml:"format" json:"format"`

	// Output destination (stdout, stderr, file path)
	Output string `yaml:"output" json:"output"`

	// Include source locations in log records
	AddSource bool `yaml:"add_source" json:"add_source"`
}

// EngineConfig contains engine configuration
type EngineConfig struct {
	// Engine name used in logs
	Name string `yaml:"name" json:"name"`

	// Monitor scan period driving timeout detection
	TickInterval time.Duration `yaml:"tick_interval" json:"tick_interval"`

	// How long a send may stay unacknowledged
	AckTimeout time.Duration `yaml:"ack_timeout" json:"ack_timeout"`

	// Retransmissions per frame before giving up
	MaxRetries int `yaml:"max_retries" json:"max_retries"`

	// Bound on cross-goroutine calls into the engine worker
	MarshalTimeout time.Duration `yaml:"marshal_timeout" json:"marshal_timeout"`

	// Transport wiring
	Transport TransportConfig `yaml:"transport" json:"transport"`
}

// TransportConfig contains transport configuration
type TransportConfig struct {
	// Transport type (udp, pipe)
	Type TransportType `yaml:"type" json:"type"`

	// Local bind address (udp)
	LocalAddr string `yaml:"local_addr" json:"local_addr"`

	// Remote peer address (udp)
	RemoteAddr string `yaml:"remote_addr" json:"remote_addr"`

	// Read deadline window making shutdown observable
	ReadTimeout time.Duration `yaml:"read_timeout" json:"read_timeout"`
}

// WorkerConfig contains worker mailbox configuration
type WorkerConfig struct {
	// Mailbox capacity
	QueueSize int `yaml:"queue_size" json:"queue_size"`

	// Bound on the enqueue wait when the mailbox is full
	EnqueueTimeout time.Duration `yaml:"enqueue_timeout" json:"enqueue_timeout"`
}

// DefaultConfig returns a default configuration
func DefaultConfig() *Config {
	return &Config{
		App: AppConfig{
			Name:        "rcall-app",
			Version:     "1.0.0",
			Environment: EnvDevelopment,
			Debug:       true,
		},
		Log: LogConfig{
			Level:  LogLevelInfo,
			Format: "text",
			Output: "stdout",
		},
		Engine: EngineConfig{
			Name:           "engine",
			TickInterval:   100 * time.Millisecond,
			AckTimeout:     2000 * time.Millisecond,
			MaxRetries:     3,
			MarshalTimeout: 1000 * time.Millisecond,
			Transport: TransportConfig{
				Type:        TransportUDP,
				LocalAddr:   "127.0.0.1:0",
				RemoteAddr:  "127.0.0.1:9500",
				ReadTimeout: 500 * time.Millisecond,
			},
		},
		Worker: WorkerConfig{
			QueueSize:      256,
			EnqueueTimeout: time.Second,
		},
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.App.Name == "" {
		return ErrInvalidAppName
	}
	if !c.App.Environment.IsValid() {
		return ErrInvalidEnvironment
	}

	if !c.Log.Level.IsValid() {
		return ErrInvalidLogLevel
	}

	if c.Engine.TickInterval <= 0 {
		return ErrInvalidTickInterval
	}
	if c.Engine.AckTimeout < c.Engine.TickInterval {
		return ErrInvalidAckTimeout
	}
	if c.Engine.MaxRetries <= 0 {
		return ErrInvalidMaxRetries
	}
	if c.Engine.MarshalTimeout <= 0 {
		return ErrInvalidMarshalTimeout
	}
	if !c.Engine.Transport.Type.IsValid() {
		return ErrInvalidTransportType
	}
	switch c.Engine.Transport.Type {
	case TransportUDP:
		if c.Engine.Transport.LocalAddr == "" || c.Engine.Transport.RemoteAddr == "" {
			return ErrMissingTransportAddr
		}
	case TransportTCP:
		if c.Engine.Transport.RemoteAddr == "" {
			return ErrMissingTransportAddr
		}
	}

	if c.Worker.QueueSize <= 0 {
		return ErrInvalidQueueSize
	}

	return nil
}

// IsDevelopment returns true if the environment is development
func (c *Config) IsDevelopment() bool {
	return c.App.Environment == EnvDevelopment
}

// IsProduction returns true if the environment is production
func (c *Config) IsProduction() bool {
	return c.App.Environment == EnvProduction
}

// IsDebugEnabled returns true if debug mode is enabled
func (c *Config) IsDebugEnabled() bool {
	return c.App.Debug || c.App.Environment == EnvDevelopment
}
