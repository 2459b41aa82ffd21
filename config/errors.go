// Package config provides error definitions for configuration management
package config

import "errors"

// Configuration validation errors
var (
	ErrInvalidAppName        = errors.New("invalid application name")
	ErrInvalidEnvironment    = errors.New("invalid environment")
	ErrInvalidLogLevel       = errors.New("invalid log level")
	ErrInvalidTickInterval   = errors.New("invalid tick interval")
	ErrInvalidAckTimeout     = errors.New("ack timeout must be at least one tick")
	ErrInvalidMaxRetries     = errors.New("invalid max retries")
	ErrInvalidMarshalTimeout = errors.New("invalid marshal timeout")
	ErrInvalidTransportType  = errors.New("invalid transport type")
	ErrMissingTransportAddr  = errors.New("transport addresses required")
	ErrInvalidQueueSize      = errors.New("invalid queue size")
)

// Configuration loading errors
var (
	ErrConfigFileNotFound  = errors.New("configuration file not found")
	ErrConfigParseError    = errors.New("configuration parse error")
	ErrConfigValidateError = errors.New("configuration validation error")
	ErrConfigWatchError    = errors.New("configuration watch error")
)
