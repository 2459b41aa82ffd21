package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// TestConfig tests basic configuration functionality
func TestConfig(t *testing.T) {
	config := DefaultConfig()
	config.App.Name = "test-app"

	err := config.Validate()
	if err != nil {
		t.Fatalf("Config validation failed: %v", err)
	}

	if config.Engine.TickInterval != 100*time.Millisecond {
		t.Errorf("Expected default tick 100ms, got %v", config.Engine.TickInterval)
	}
	if config.Engine.AckTimeout != 2000*time.Millisecond {
		t.Errorf("Expected default ack timeout 2s, got %v", config.Engine.AckTimeout)
	}
	if config.Engine.MaxRetries != 3 {
		t.Errorf("Expected default max retries 3, got %d", config.Engine.MaxRetries)
	}
}

// TestConfigValidation tests configuration validation
func TestConfigValidation(t *testing.T) {
	valid := func() *Config {
		c := DefaultConfig()
		return c
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr error
	}{
		{
			name:    "valid config",
			mutate:  func(*Config) {},
			wantErr: nil,
		},
		{
			name:    "empty app name",
			mutate:  func(c *Config) { c.App.Name = "" },
			wantErr: ErrInvalidAppName,
		},
		{
			name:    "bad environment",
			mutate:  func(c *Config) { c.App.Environment = "cloud" },
			wantErr: ErrInvalidEnvironment,
		},
		{
			name:    "bad log level",
			mutate:  func(c *Config) { c.Log.Level = "verbose" },
			wantErr: ErrInvalidLogLevel,
		},
		{
			name:    "zero tick",
			mutate:  func(c *Config) { c.Engine.TickInterval = 0 },
			wantErr: ErrInvalidTickInterval,
		},
		{
			name:    "ack timeout below tick",
			mutate:  func(c *Config) { c.Engine.AckTimeout = 10 * time.Millisecond },
			wantErr: ErrInvalidAckTimeout,
		},
		{
			name:    "zero retries",
			mutate:  func(c *Config) { c.Engine.MaxRetries = 0 },
			wantErr: ErrInvalidMaxRetries,
		},
		{
			name:    "bad transport type",
			mutate:  func(c *Config) { c.Engine.Transport.Type = "carrier-pigeon" },
			wantErr: ErrInvalidTransportType,
		},
		{
			name: "udp missing addresses",
			mutate: func(c *Config) {
				c.Engine.Transport.Type = TransportUDP
				c.Engine.Transport.RemoteAddr = ""
			},
			wantErr: ErrMissingTransportAddr,
		},
		{
			name:    "zero worker queue",
			mutate:  func(c *Config) { c.Worker.QueueSize = 0 },
			wantErr: ErrInvalidQueueSize,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(c)
			err := c.Validate()
			if err != tt.wantErr {
				t.Errorf("Config.Validate() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

// TestLoaderYAML tests loading configuration from a YAML file
func TestLoaderYAML(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "rcall.yaml")

	content := `
app:
  name: yaml-app
  environment: production
log:
  level: warn
engine:
  max_retries: 5
  transport:
    type: pipe
worker:
  queue_size: 512
`
	if err := os.WriteFile(file, []byte(content), 0o644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	config, err := NewLoader().LoadFromFile(file)
	if err != nil {
		t.Fatalf("LoadFromFile failed: %v", err)
	}

	if config.App.Name != "yaml-app" {
		t.Errorf("Expected app name 'yaml-app', got '%s'", config.App.Name)
	}
	if config.App.Environment != EnvProduction {
		t.Errorf("Expected production environment, got '%s'", config.App.Environment)
	}
	if config.Log.Level != LogLevelWarn {
		t.Errorf("Expected warn level, got '%s'", config.Log.Level)
	}
	if config.Engine.MaxRetries != 5 {
		t.Errorf("Expected max retries 5, got %d", config.Engine.MaxRetries)
	}
	if config.Engine.Transport.Type != TransportPipe {
		t.Errorf("Expected pipe transport, got '%s'", config.Engine.Transport.Type)
	}
	if config.Worker.QueueSize != 512 {
		t.Errorf("Expected queue size 512, got %d", config.Worker.QueueSize)
	}

	// Unset fields keep their defaults.
	if config.Engine.TickInterval != 100*time.Millisecond {
		t.Errorf("Expected default tick, got %v", config.Engine.TickInterval)
	}
}

// TestLoaderJSON tests loading configuration from a JSON file
func TestLoaderJSON(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "rcall.json")

	content := `{"app":{"name":"json-app"},"engine":{"max_retries":2,"transport":{"type":"pipe"}}}`
	if err := os.WriteFile(file, []byte(content), 0o644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	config, err := NewLoader().LoadFromFile(file)
	if err != nil {
		t.Fatalf("LoadFromFile failed: %v", err)
	}

	if config.App.Name != "json-app" {
		t.Errorf("Expected app name 'json-app', got '%s'", config.App.Name)
	}
	if config.Engine.MaxRetries != 2 {
		t.Errorf("Expected max retries 2, got %d", config.Engine.MaxRetries)
	}
}

// TestLoaderEnvOverrides tests environment variable overrides
func TestLoaderEnvOverrides(t *testing.T) {
	t.Setenv("RCALL_APP_NAME", "env-app")
	t.Setenv("RCALL_LOG_LEVEL", "error")
	t.Setenv("RCALL_ENGINE_TICK_INTERVAL", "50ms")
	t.Setenv("RCALL_ENGINE_MAX_RETRIES", "7")
	t.Setenv("RCALL_TRANSPORT_TYPE", "pipe")

	config, err := NewLoader().SetSearchPaths([]string{t.TempDir()}).AutoLoad()
	if err != nil {
		t.Fatalf("AutoLoad failed: %v", err)
	}

	if config.App.Name != "env-app" {
		t.Errorf("Expected app name 'env-app', got '%s'", config.App.Name)
	}
	if config.Log.Level != LogLevelError {
		t.Errorf("Expected error level, got '%s'", config.Log.Level)
	}
	if config.Engine.TickInterval != 50*time.Millisecond {
		t.Errorf("Expected tick 50ms, got %v", config.Engine.TickInterval)
	}
	if config.Engine.MaxRetries != 7 {
		t.Errorf("Expected max retries 7, got %d", config.Engine.MaxRetries)
	}
}

// TestLoaderValidationFailure tests that invalid files are rejected
func TestLoaderValidationFailure(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "rcall.yaml")

	content := `
app:
  name: bad-app
log:
  level: shouting
`
	if err := os.WriteFile(file, []byte(content), 0o644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	_, err := NewLoader().LoadFromFile(file)
	if err == nil {
		t.Fatal("Expected validation error, got nil")
	}
	if !strings.Contains(err.Error(), ErrInvalidLogLevel.Error()) {
		t.Errorf("Expected log level error, got: %v", err)
	}
}

// TestWatcherReload tests hot-reload on file changes
func TestWatcherReload(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "rcall.yaml")

	writeConfig := func(name string) {
		content := "app:\n  name: " + name + "\n"
		if err := os.WriteFile(file, []byte(content), 0o644); err != nil {
			t.Fatalf("Failed to write config file: %v", err)
		}
	}

	writeConfig("before")

	watcher, err := NewWatcher(file, NewLoader(), nil)
	if err != nil {
		t.Fatalf("NewWatcher failed: %v", err)
	}
	defer watcher.Stop()

	if got := watcher.GetConfig().App.Name; got != "before" {
		t.Fatalf("Expected initial name 'before', got '%s'", got)
	}

	changed := make(chan *Config, 1)
	watcher.OnChange(func(oldConfig, newConfig *Config) {
		select {
		case changed <- newConfig:
		default:
		}
	})

	writeConfig("after")
	if err := watcher.Reload(); err != nil {
		t.Fatalf("Reload failed: %v", err)
	}

	select {
	case newConfig := <-changed:
		if newConfig.App.Name != "after" {
			t.Errorf("Expected reloaded name 'after', got '%s'", newConfig.App.Name)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Change callback never fired")
	}

	if got := watcher.GetConfig().App.Name; got != "after" {
		t.Errorf("Expected current name 'after', got '%s'", got)
	}
}
