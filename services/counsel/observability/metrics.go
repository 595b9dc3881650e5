// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package observability provides Prometheus metrics for the counsel
// service: chat streaming, contract review, and corpus ingestion.
//
// Metrics are exposed on /metrics and are safe for concurrent use.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "clauselens"

// Endpoint labels metric series by the handler that produced them.
type Endpoint string

const (
	EndpointChat       Endpoint = "chat"
	EndpointChatStream Endpoint = "chat_stream"
	EndpointReview     Endpoint = "review"
	EndpointIngest     Endpoint = "ingest"
)

// Metrics holds the counsel service's Prometheus instruments. Initialize
// once at startup via InitMetrics.
type Metrics struct {
	// RequestsTotal counts completed requests.
	// Labels: endpoint, status (success, error)
	RequestsTotal *prometheus.CounterVec

	// TokensTotal counts estimated tokens by direction.
	// Labels: direction (input, output), model
	TokensTotal *prometheus.CounterVec

	// ErrorsTotal counts errors by category.
	// Labels: endpoint, error_code
	ErrorsTotal *prometheus.CounterVec

	// TimeToFirstTokenSeconds measures chat stream latency to the first
	// content frame.
	TimeToFirstTokenSeconds *prometheus.HistogramVec

	// StreamDurationSeconds measures total chat stream duration.
	// Labels: endpoint, status
	StreamDurationSeconds *prometheus.HistogramVec

	// ActiveStreams tracks open SSE connections.
	ActiveStreams *prometheus.GaugeVec

	// ActiveReviews tracks reviews currently in the pipeline.
	ActiveReviews prometheus.Gauge

	// ReviewStageSeconds measures per-stage review duration.
	// Labels: stage
	ReviewStageSeconds *prometheus.HistogramVec

	// IngestedSegmentsTotal counts indexed segments.
	// Labels: category
	IngestedSegmentsTotal *prometheus.CounterVec

	// ClientDisconnectsTotal counts clients that dropped mid-stream.
	ClientDisconnectsTotal *prometheus.CounterVec
}

// Default is the process-wide metrics instance, set by InitMetrics.
var Default *Metrics

// InitMetrics registers all instruments on the default registry. Calling
// it twice panics on duplicate registration, so it belongs in main.
func InitMetrics() *Metrics {
	Default = &Metrics{
		RequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "requests_total",
				Help:      "Completed requests by endpoint and status",
			},
			[]string{"endpoint", "status"},
		),
		TokensTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "tokens_total",
				Help:      "Estimated tokens processed by direction and model",
			},
			[]string{"direction", "model"},
		),
		ErrorsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "errors_total",
				Help:      "Errors by endpoint and category",
			},
			[]string{"endpoint", "error_code"},
		),
		TimeToFirstTokenSeconds: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "time_to_first_token_seconds",
				Help:      "Latency from request to first streamed content frame",
				Buckets:   []float64{0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0},
			},
			[]string{"endpoint"},
		),
		StreamDurationSeconds: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "stream_duration_seconds",
				Help:      "Total stream duration by endpoint and status",
				Buckets:   []float64{1, 5, 10, 30, 60, 120, 300},
			},
			[]string{"endpoint", "status"},
		),
		ActiveStreams: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Name:      "active_streams",
				Help:      "Open SSE connections",
			},
			[]string{"endpoint"},
		),
		ActiveReviews: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Name:      "active_reviews",
				Help:      "Contract reviews currently in the pipeline",
			},
		),
		ReviewStageSeconds: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "review_stage_seconds",
				Help:      "Review pipeline stage duration",
				Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600},
			},
			[]string{"stage"},
		),
		IngestedSegmentsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "ingested_segments_total",
				Help:      "Indexed corpus segments by category",
			},
			[]string{"category"},
		),
		ClientDisconnectsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "client_disconnects_total",
				Help:      "Clients that dropped before the stream finished",
			},
			[]string{"endpoint"},
		),
	}
	return Default
}

// All recorder methods accept a nil receiver: when metrics are disabled
// the handlers carry a nil *Metrics and every record call is a no-op.

// RecordRequest records a completed request.
func (m *Metrics) RecordRequest(endpoint Endpoint, success bool) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(string(endpoint), statusLabel(success)).Inc()
}

// RecordError records a categorized error.
func (m *Metrics) RecordError(endpoint Endpoint, code string) {
	if m == nil {
		return
	}
	m.ErrorsTotal.WithLabelValues(string(endpoint), code).Inc()
}

// RecordTokens records estimated token usage for one turn.
func (m *Metrics) RecordTokens(input, output int, model string) {
	if m == nil {
		return
	}
	m.TokensTotal.WithLabelValues("input", model).Add(float64(input))
	m.TokensTotal.WithLabelValues("output", model).Add(float64(output))
}

// StreamStarted and StreamEnded bracket an open SSE connection.
func (m *Metrics) StreamStarted(endpoint Endpoint) {
	if m == nil {
		return
	}
	m.ActiveStreams.WithLabelValues(string(endpoint)).Inc()
}

func (m *Metrics) StreamEnded(endpoint Endpoint) {
	if m == nil {
		return
	}
	m.ActiveStreams.WithLabelValues(string(endpoint)).Dec()
}

// RecordTimeToFirstToken records stream startup latency.
func (m *Metrics) RecordTimeToFirstToken(endpoint Endpoint, seconds float64) {
	if m == nil {
		return
	}
	m.TimeToFirstTokenSeconds.WithLabelValues(string(endpoint)).Observe(seconds)
}

// RecordStreamDuration records the full stream duration.
func (m *Metrics) RecordStreamDuration(endpoint Endpoint, seconds float64, success bool) {
	if m == nil {
		return
	}
	m.StreamDurationSeconds.WithLabelValues(string(endpoint), statusLabel(success)).Observe(seconds)
}

// RecordClientDisconnect counts a client that dropped mid-stream.
func (m *Metrics) RecordClientDisconnect(endpoint Endpoint) {
	if m == nil {
		return
	}
	m.ClientDisconnectsTotal.WithLabelValues(string(endpoint)).Inc()
}

// RecordReviewStage records one pipeline stage duration.
func (m *Metrics) RecordReviewStage(stage string, seconds float64) {
	if m == nil {
		return
	}
	m.ReviewStageSeconds.WithLabelValues(stage).Observe(seconds)
}

// RecordIngestedSegments counts newly indexed segments.
func (m *Metrics) RecordIngestedSegments(category string, count int) {
	if m == nil {
		return
	}
	m.IngestedSegmentsTotal.WithLabelValues(category).Add(float64(count))
}

func statusLabel(success bool) string {
	if success {
		return "success"
	}
	return "error"
}
