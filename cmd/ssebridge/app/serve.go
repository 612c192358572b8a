// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package app

import (
	"context"
	"fmt"
	"io"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/stacklok/ssebridge/pkg/config"
	"github.com/stacklok/ssebridge/pkg/engine"
	"github.com/stacklok/ssebridge/pkg/logger"
	"github.com/stacklok/ssebridge/pkg/telemetry"
	"github.com/stacklok/ssebridge/pkg/transport/bridge"
	"github.com/stacklok/ssebridge/pkg/transport/proxy/httpsse"
	"github.com/stacklok/ssebridge/pkg/transport/session"
	"github.com/stacklok/ssebridge/pkg/versions"
)

const serviceName = "ssebridge"

type serveOptions struct {
	configFile  string
	printConfig bool
}

// newServeCmd creates the serve command for starting the bridge
func newServeCmd() *cobra.Command {
	v := viper.New()
	opts := &serveOptions{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the SSE bridge",
		Long: `Start the SSE bridge and serve the configured protocol engine.

Settings are read from flags, SSEBRIDGE_* environment variables (for example
SSEBRIDGE_PORT or SSEBRIDGE_MAX_BODY_BYTES) and an optional YAML file given
with --config, with flags taking precedence.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), v, opts, cmd.OutOrStdout())
		},
	}

	if err := config.AddFlags(v, cmd.Flags()); err != nil {
		logger.Errorf("Error binding serve flags: %v", err)
	}
	cmd.Flags().StringVarP(&opts.configFile, "config", "c", "", "Path to YAML configuration file")
	cmd.Flags().BoolVar(&opts.printConfig, "print-config", false, "Print the resolved configuration and exit")

	return cmd
}

// runServe implements the serve command logic
func runServe(ctx context.Context, v *viper.Viper, opts *serveOptions, out io.Writer) error {
	cfg, err := config.Load(v, opts.configFile)
	if err != nil {
		return fmt.Errorf("configuration loading failed: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	if opts.printConfig {
		data, err := cfg.YAML()
		if err != nil {
			return err
		}
		_, err = out.Write(data)
		return err
	}

	eng, err := engine.Lookup(cfg.Engine, serviceName, versions.GetVersionInfo().Version)
	if err != nil {
		return err
	}

	provider, err := telemetry.NewProvider(telemetry.Config{
		ServiceName:                 serviceName,
		EnablePrometheusMetricsPath: cfg.EnableMetrics,
		IncludeRuntimeMetrics:       cfg.RuntimeMetrics,
	})
	if err != nil {
		return fmt.Errorf("failed to set up metrics: %w", err)
	}

	metrics, err := telemetry.NewMetrics(provider.MeterProvider())
	if err != nil {
		logger.Warnf("Some metrics will not be recorded: %v", err)
	}

	log := logger.Get()
	br := bridge.New(eng,
		bridge.WithManager(session.NewManager(
			session.WithIdleTimeout(cfg.IdleTimeout),
			session.WithLogger(log),
		)),
		bridge.WithMaxBodyBytes(cfg.MaxBodyBytes),
		bridge.WithBufferSize(cfg.BufferSize),
		bridge.WithMaxFrameSize(cfg.MaxFrameSize),
		bridge.WithMetrics(metrics),
		bridge.WithLogger(log),
	)

	proxy := httpsse.NewHTTPSSEProxy(cfg.Host, cfg.Port, br, provider.Handler(), middleware.Recoverer)
	proxy.SetKeepAliveInterval(cfg.KeepAliveInterval)

	logger.Infof("Starting ssebridge %s with engine %s", versions.GetVersionInfo().Version, cfg.Engine)
	if err := proxy.Start(ctx); err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}

	<-ctx.Done()
	logger.Info("Shutting down ssebridge")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := proxy.Stop(shutdownCtx); err != nil {
		logger.Errorf("Failed to stop server: %v", err)
	}
	if err := provider.Shutdown(shutdownCtx); err != nil {
		logger.Warnf("Failed to shut down metrics: %v", err)
	}
	return nil
}
