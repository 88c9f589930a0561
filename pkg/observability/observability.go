// Copyright 2025 Trinity Labs
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package observability wires OpenTelemetry tracing and Prometheus-exported
// metrics for the dispatcher, tool sessions and orchestrator.
package observability

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/trace"
)

// Span names used across the module.
const (
	SpanToolDispatch  = "trinity.tool.dispatch"
	SpanToolCall      = "trinity.tool.call"
	SpanLLMCall       = "trinity.llm.call"
	SpanStepExecution = "trinity.step.execute"
	SpanVerification  = "trinity.step.verify"
)

// Common attribute keys.
const (
	AttrToolName   = "tool.name"
	AttrServerName = "tool.server"
	AttrStepID     = "step.id"
	AttrMode       = "mode"
)

// GetTracer returns a tracer from the global provider.
func GetTracer(name string) trace.Tracer {
	return otel.Tracer(name)
}

// Metrics holds the instruments the core records into. A zero-value Metrics
// is a safe no-op.
type Metrics struct {
	toolCalls      metric.Int64Counter
	osNativeCalls  metric.Int64Counter
	toolDuration   metric.Float64Histogram
	stepOutcomes   metric.Int64Counter
	llmTokens      metric.Int64Counter
	serverRestarts metric.Int64Counter
}

var (
	globalMu      sync.RWMutex
	globalMetrics *Metrics
)

// InitMetrics creates a Prometheus-backed meter provider and the Trinity
// instruments, and installs them as the global metrics.
func InitMetrics(ctx context.Context) (*Metrics, error) {
	promExporter, err := prometheus.New()
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	meterProvider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(promExporter))
	otel.SetMeterProvider(meterProvider)
	meter := meterProvider.Meter("trinity")

	m := &Metrics{}

	if m.toolCalls, err = meter.Int64Counter(
		"trinity_tool_calls_total",
		metric.WithDescription("Total tool calls routed through the dispatcher"),
	); err != nil {
		return nil, fmt.Errorf("failed to create tool calls counter: %w", err)
	}

	if m.osNativeCalls, err = meter.Int64Counter(
		"trinity_tool_calls_os_native_total",
		metric.WithDescription("Tool calls routed to the OS-automation server family"),
	); err != nil {
		return nil, fmt.Errorf("failed to create os-native counter: %w", err)
	}

	if m.toolDuration, err = meter.Float64Histogram(
		"trinity_tool_call_duration_seconds",
		metric.WithDescription("Tool call duration in seconds"),
	); err != nil {
		return nil, fmt.Errorf("failed to create tool duration histogram: %w", err)
	}

	if m.stepOutcomes, err = meter.Int64Counter(
		"trinity_step_outcomes_total",
		metric.WithDescription("Plan step outcomes by kind"),
	); err != nil {
		return nil, fmt.Errorf("failed to create step outcomes counter: %w", err)
	}

	if m.llmTokens, err = meter.Int64Counter(
		"trinity_llm_tokens_total",
		metric.WithDescription("Total tokens used by LLM calls"),
	); err != nil {
		return nil, fmt.Errorf("failed to create llm tokens counter: %w", err)
	}

	if m.serverRestarts, err = meter.Int64Counter(
		"trinity_tool_server_restarts_total",
		metric.WithDescription("Tool server restarts"),
	); err != nil {
		return nil, fmt.Errorf("failed to create server restarts counter: %w", err)
	}

	globalMu.Lock()
	globalMetrics = m
	globalMu.Unlock()

	return m, nil
}

// GetGlobalMetrics returns the installed metrics, or nil when metrics are
// disabled.
func GetGlobalMetrics() *Metrics {
	globalMu.RLock()
	defer globalMu.RUnlock()
	return globalMetrics
}

// MetricsHandler returns the Prometheus scrape handler.
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}

// RecordToolCall records a dispatched tool call.
func (m *Metrics) RecordToolCall(ctx context.Context, server, tool string, duration time.Duration, osNative bool, err error) {
	if m == nil || m.toolCalls == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String(AttrServerName, server),
		attribute.String(AttrToolName, tool),
		attribute.Bool("error", err != nil),
	)
	m.toolCalls.Add(ctx, 1, attrs)
	m.toolDuration.Record(ctx, duration.Seconds(), attrs)
	if osNative {
		m.osNativeCalls.Add(ctx, 1, attrs)
	}
}

// RecordStepOutcome records a step outcome kind (success, deviation, ...).
func (m *Metrics) RecordStepOutcome(ctx context.Context, kind string) {
	if m == nil || m.stepOutcomes == nil {
		return
	}
	m.stepOutcomes.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

// RecordLLMTokens records token usage for one LLM call.
func (m *Metrics) RecordLLMTokens(ctx context.Context, model string, tokens int64) {
	if m == nil || m.llmTokens == nil {
		return
	}
	m.llmTokens.Add(ctx, tokens, metric.WithAttributes(attribute.String("model", model)))
}

// RecordServerRestart records a tool-server restart.
func (m *Metrics) RecordServerRestart(ctx context.Context, server string) {
	if m == nil || m.serverRestarts == nil {
		return
	}
	m.serverRestarts.Add(ctx, 1, metric.WithAttributes(attribute.String(AttrServerName, server)))
}
