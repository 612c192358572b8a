// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package telemetry provides OpenTelemetry metrics for the session bridge,
// exported in Prometheus format.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/attribute"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
)

// DefaultServiceName is reported as service.name.
const DefaultServiceName = "ssebridge"

// Config holds the configuration for metrics.
type Config struct {
	// ServiceName is the service name attached to every metric
	ServiceName string `json:"serviceName" yaml:"serviceName"`

	// EnablePrometheusMetricsPath exposes a /metrics endpoint on the bridge port
	EnablePrometheusMetricsPath bool `json:"enablePrometheusMetricsPath" yaml:"enablePrometheusMetricsPath"`

	// IncludeRuntimeMetrics adds Go runtime and process collectors
	IncludeRuntimeMetrics bool `json:"includeRuntimeMetrics" yaml:"includeRuntimeMetrics"`
}

// NewReader creates a Prometheus-backed metric reader and the HTTP handler
// serving its registry.
func NewReader(config Config) (sdkmetric.Reader, http.Handler, error) {
	if !config.EnablePrometheusMetricsPath {
		return nil, nil, errors.New("prometheus reader requires EnablePrometheusMetricsPath")
	}

	registry := prometheus.NewRegistry()
	if config.IncludeRuntimeMetrics {
		registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}

	exporter, err := otelprom.New(otelprom.WithRegisterer(registry))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	handler := promhttp.HandlerFor(registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
	return exporter, handler, nil
}

// Provider bundles a meter provider with its optional /metrics handler.
type Provider struct {
	meterProvider metric.MeterProvider
	handler       http.Handler
	shutdown      func(context.Context) error
}

// NewProvider builds a Provider from config. When the metrics path is
// disabled it returns a no-op provider with a nil handler.
func NewProvider(config Config) (*Provider, error) {
	if !config.EnablePrometheusMetricsPath {
		return &Provider{
			meterProvider: noop.NewMeterProvider(),
			shutdown:      func(context.Context) error { return nil },
		}, nil
	}

	reader, handler, err := NewReader(config)
	if err != nil {
		return nil, err
	}

	name := config.ServiceName
	if name == "" {
		name = DefaultServiceName
	}
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(reader),
		sdkmetric.WithResource(resource.NewSchemaless(attribute.String("service.name", name))),
	)
	return &Provider{
		meterProvider: mp,
		handler:       handler,
		shutdown:      mp.Shutdown,
	}, nil
}

// MeterProvider returns the meter provider.
func (p *Provider) MeterProvider() metric.MeterProvider { return p.meterProvider }

// Handler returns the /metrics handler, or nil when disabled.
func (p *Provider) Handler() http.Handler { return p.handler }

// Shutdown flushes and stops the meter provider.
func (p *Provider) Shutdown(ctx context.Context) error { return p.shutdown(ctx) }
