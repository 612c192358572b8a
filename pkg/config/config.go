// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package config loads ssebridge settings from flags, SSEBRIDGE_* environment
// variables and an optional YAML file, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/stacklok/ssebridge/pkg/engine"
	"github.com/stacklok/ssebridge/pkg/transport/bridge"
	"github.com/stacklok/ssebridge/pkg/transport/framing"
	"github.com/stacklok/ssebridge/pkg/transport/proxy/httpsse"
	"github.com/stacklok/ssebridge/pkg/transport/session"
)

// EnvPrefix prefixes every environment variable, e.g. SSEBRIDGE_PORT.
const EnvPrefix = "SSEBRIDGE"

// Configuration keys. Flags use the same names.
const (
	KeyHost              = "host"
	KeyPort              = "port"
	KeyEngine            = "engine"
	KeyMaxBodyBytes      = "max-body-bytes"
	KeyBufferSize        = "buffer-size"
	KeyMaxFrameSize      = "max-frame-size"
	KeyKeepAliveInterval = "keep-alive-interval"
	KeyIdleTimeout       = "idle-timeout"
	KeyEnableMetrics     = "enable-metrics"
	KeyRuntimeMetrics    = "runtime-metrics"
	KeyShutdownTimeout   = "shutdown-timeout"
)

// Config holds the settings of one bridge process.
type Config struct {
	Host              string        `mapstructure:"host" yaml:"host"`
	Port              int           `mapstructure:"port" yaml:"port"`
	Engine            string        `mapstructure:"engine" yaml:"engine"`
	MaxBodyBytes      int64         `mapstructure:"max-body-bytes" yaml:"max-body-bytes"`
	BufferSize        int           `mapstructure:"buffer-size" yaml:"buffer-size"`
	MaxFrameSize      int           `mapstructure:"max-frame-size" yaml:"max-frame-size"`
	KeepAliveInterval time.Duration `mapstructure:"keep-alive-interval" yaml:"keep-alive-interval"`
	// IdleTimeout reaps sessions without a push stream. Zero disables reaping.
	IdleTimeout     time.Duration `mapstructure:"idle-timeout" yaml:"idle-timeout"`
	EnableMetrics   bool          `mapstructure:"enable-metrics" yaml:"enable-metrics"`
	RuntimeMetrics  bool          `mapstructure:"runtime-metrics" yaml:"runtime-metrics"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown-timeout" yaml:"shutdown-timeout"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Host:              "127.0.0.1",
		Port:              8000,
		Engine:            engine.NameMCP,
		MaxBodyBytes:      bridge.DefaultMaxBodyBytes,
		BufferSize:        bridge.DefaultBufferSize,
		MaxFrameSize:      framing.DefaultMaxFrameSize,
		KeepAliveInterval: httpsse.DefaultKeepAliveInterval,
		IdleTimeout:       session.DefaultIdleTimeout,
		EnableMetrics:     false,
		RuntimeMetrics:    false,
		ShutdownTimeout:   10 * time.Second,
	}
}

// AddFlags registers one flag per setting on fs and binds each to v.
func AddFlags(v *viper.Viper, fs *pflag.FlagSet) error {
	d := Default()
	fs.String(KeyHost, d.Host, "Address to listen on")
	fs.Int(KeyPort, d.Port, "Port to listen on")
	fs.String(KeyEngine, d.Engine, fmt.Sprintf("Protocol engine run for each session (%s)", strings.Join(engine.Names(), ", ")))
	fs.Int64(KeyMaxBodyBytes, d.MaxBodyBytes, "Largest accepted delivery body in bytes")
	fs.Int(KeyBufferSize, d.BufferSize, "Capacity of each session pipe in bytes")
	fs.Int(KeyMaxFrameSize, d.MaxFrameSize, "Largest outbound frame in bytes")
	fs.Duration(KeyKeepAliveInterval, d.KeepAliveInterval, "Interval between push stream keep-alive comments (0 disables)")
	fs.Duration(KeyIdleTimeout, d.IdleTimeout, "Close sessions without a push stream after this long unused (0 disables)")
	fs.Bool(KeyEnableMetrics, d.EnableMetrics, "Expose Prometheus metrics at /metrics")
	fs.Bool(KeyRuntimeMetrics, d.RuntimeMetrics, "Include Go runtime and process metrics")
	fs.Duration(KeyShutdownTimeout, d.ShutdownTimeout, "Time allowed for graceful shutdown")

	var errs []error
	fs.VisitAll(func(f *pflag.Flag) {
		if err := v.BindPFlag(f.Name, f); err != nil {
			errs = append(errs, fmt.Errorf("failed to bind flag %s: %w", f.Name, err))
		}
	})
	return errors.Join(errs...)
}

// Load resolves the configuration from v. configFile, when not empty, names a
// YAML file read before environment variables and flags are applied.
func Load(v *viper.Viper, configFile string) (*Config, error) {
	d := Default()
	v.SetDefault(KeyHost, d.Host)
	v.SetDefault(KeyPort, d.Port)
	v.SetDefault(KeyEngine, d.Engine)
	v.SetDefault(KeyMaxBodyBytes, d.MaxBodyBytes)
	v.SetDefault(KeyBufferSize, d.BufferSize)
	v.SetDefault(KeyMaxFrameSize, d.MaxFrameSize)
	v.SetDefault(KeyKeepAliveInterval, d.KeepAliveInterval)
	v.SetDefault(KeyIdleTimeout, d.IdleTimeout)
	v.SetDefault(KeyEnableMetrics, d.EnableMetrics)
	v.SetDefault(KeyRuntimeMetrics, d.RuntimeMetrics)
	v.SetDefault(KeyShutdownTimeout, d.ShutdownTimeout)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", configFile, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode configuration: %w", err)
	}
	return &cfg, nil
}

// Validate reports every invalid setting.
func (c *Config) Validate() error {
	var errs []error
	if c.Port < 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range", c.Port))
	}
	if !engine.Valid(c.Engine) {
		errs = append(errs, fmt.Errorf("unknown engine %q (expected one of %s)", c.Engine, strings.Join(engine.Names(), ", ")))
	}
	if c.MaxBodyBytes <= 0 {
		errs = append(errs, fmt.Errorf("%s must be positive", KeyMaxBodyBytes))
	}
	if c.BufferSize <= 0 {
		errs = append(errs, fmt.Errorf("%s must be positive", KeyBufferSize))
	}
	if c.MaxFrameSize <= 0 {
		errs = append(errs, fmt.Errorf("%s must be positive", KeyMaxFrameSize))
	}
	if c.KeepAliveInterval < 0 {
		errs = append(errs, fmt.Errorf("%s cannot be negative", KeyKeepAliveInterval))
	}
	if c.IdleTimeout < 0 {
		errs = append(errs, fmt.Errorf("%s cannot be negative", KeyIdleTimeout))
	}
	if c.ShutdownTimeout <= 0 {
		errs = append(errs, fmt.Errorf("%s must be positive", KeyShutdownTimeout))
	}
	if c.RuntimeMetrics && !c.EnableMetrics {
		errs = append(errs, fmt.Errorf("%s requires %s", KeyRuntimeMetrics, KeyEnableMetrics))
	}
	return errors.Join(errs...)
}

// YAML renders the configuration in the config file format.
func (c *Config) YAML() ([]byte, error) {
	out, err := yaml.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("failed to encode configuration: %w", err)
	}
	return out, nil
}
