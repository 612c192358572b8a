// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package telemetry

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

const instrumentationName = "github.com/stacklok/ssebridge"

// Delivery outcomes.
const (
	OutcomeAccepted        = "accepted"
	OutcomeNotFound        = "not_found"
	OutcomePayloadTooLarge = "payload_too_large"
	OutcomeReadError       = "read_error"
	OutcomeWriteError      = "write_error"
)

// Frame results.
const (
	FrameForwarded = "forwarded"
	FrameMalformed = "malformed"
)

// Metrics records bridge activity.
type Metrics struct {
	sessionsActive  metric.Int64UpDownCounter
	sessionsCreated metric.Int64Counter
	sessionsClosed  metric.Int64Counter
	deliveries      metric.Int64Counter
	deliveryBytes   metric.Int64Counter
	frames          metric.Int64Counter
}

// NewMetrics creates the bridge instruments on mp. Instruments that fail to
// register are replaced with no-ops and their errors are returned joined; the
// returned Metrics is always usable.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	meter := mp.Meter(instrumentationName)
	fallback := noop.NewMeterProvider().Meter(instrumentationName)

	var errs []error
	counter := func(name, desc string, opts ...metric.Int64CounterOption) metric.Int64Counter {
		opts = append(opts, metric.WithDescription(desc))
		c, err := meter.Int64Counter(name, opts...)
		if err != nil {
			errs = append(errs, fmt.Errorf("failed to create %s: %w", name, err))
			c, _ = fallback.Int64Counter(name)
		}
		return c
	}

	sessionsActive, err := meter.Int64UpDownCounter(
		"ssebridge_sessions_active",
		metric.WithDescription("Number of registered sessions"),
	)
	if err != nil {
		errs = append(errs, fmt.Errorf("failed to create ssebridge_sessions_active: %w", err))
		sessionsActive, _ = fallback.Int64UpDownCounter("ssebridge_sessions_active")
	}

	// The exporter appends _total to counters.
	m := &Metrics{
		sessionsActive:  sessionsActive,
		sessionsCreated: counter("ssebridge_sessions_created", "Sessions created, by origin"),
		sessionsClosed:  counter("ssebridge_sessions_closed", "Sessions closed, by reason"),
		deliveries:      counter("ssebridge_deliveries", "Inbound deliveries, by outcome"),
		deliveryBytes: counter("ssebridge_delivery_bytes", "Bytes written into inbound pipes",
			metric.WithUnit("By")),
		frames: counter("ssebridge_frames", "Outbound frames, by result"),
	}
	return m, errors.Join(errs...)
}

// NewNoopMetrics returns Metrics that record nothing.
func NewNoopMetrics() *Metrics {
	m, _ := NewMetrics(noop.NewMeterProvider())
	return m
}

// SessionOpened records a new registered session.
func (m *Metrics) SessionOpened(ctx context.Context, origin string) {
	attrs := metric.WithAttributes(attribute.String("origin", origin))
	m.sessionsCreated.Add(ctx, 1, attrs)
	m.sessionsActive.Add(ctx, 1)
}

// SessionClosed records a session teardown.
func (m *Metrics) SessionClosed(ctx context.Context, reason string) {
	m.sessionsClosed.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
	m.sessionsActive.Add(ctx, -1)
}

// DeliveryFinished records one inbound delivery and the bytes it wrote.
func (m *Metrics) DeliveryFinished(ctx context.Context, outcome string, written int64) {
	m.deliveries.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
	if written > 0 {
		m.deliveryBytes.Add(ctx, written)
	}
}

// FrameStreamed records one outbound frame.
func (m *Metrics) FrameStreamed(ctx context.Context, result string) {
	m.frames.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}
