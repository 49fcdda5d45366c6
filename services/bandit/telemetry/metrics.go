// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package telemetry

import (
	"fmt"

	"go.opentelemetry.io/otel/metric"
)

// Metrics contains the pre-defined instruments for the bandit service.
// All metrics carry the "bandit_" prefix.
//
// Thread Safety: safe for concurrent use after creation.
type Metrics struct {
	// --- HTTP ---

	// HTTPRequestsTotal counts HTTP requests by method, route, status.
	HTTPRequestsTotal metric.Int64Counter

	// HTTPRequestDuration records request duration in seconds.
	HTTPRequestDuration metric.Float64Histogram

	// --- Decisions ---

	// SelectsTotal counts select operations by experiment and status.
	SelectsTotal metric.Int64Counter

	// SelectDuration records select latency in seconds.
	SelectDuration metric.Float64Histogram

	// RewardsTotal counts reward operations by experiment and status.
	RewardsTotal metric.Int64Counter

	// --- Stopping rule ---

	// EvaluationsTotal counts stopping-rule evaluations.
	EvaluationsTotal metric.Int64Counter

	// EvaluateDuration records Monte Carlo evaluation latency in seconds.
	EvaluateDuration metric.Float64Histogram

	// ConclusionsTotal counts experiments concluded with a winner.
	ConclusionsTotal metric.Int64Counter

	// --- Errors ---

	// ErrorsTotal counts operation failures by operation and kind.
	ErrorsTotal metric.Int64Counter
}

// NewMetrics registers all instruments with the given meter.
//
// Outputs:
//
//	*Metrics - All counters and histograms initialized.
//	error - Non-nil if any instrument registration fails.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	if m.HTTPRequestsTotal, err = meter.Int64Counter("bandit_http_requests_total",
		metric.WithDescription("Total HTTP requests")); err != nil {
		return nil, fmt.Errorf("register bandit_http_requests_total: %w", err)
	}
	if m.HTTPRequestDuration, err = meter.Float64Histogram("bandit_http_request_duration_seconds",
		metric.WithDescription("HTTP request duration"),
		metric.WithUnit("s")); err != nil {
		return nil, fmt.Errorf("register bandit_http_request_duration_seconds: %w", err)
	}
	if m.SelectsTotal, err = meter.Int64Counter("bandit_selects_total",
		metric.WithDescription("Total arm selections")); err != nil {
		return nil, fmt.Errorf("register bandit_selects_total: %w", err)
	}
	if m.SelectDuration, err = meter.Float64Histogram("bandit_select_duration_seconds",
		metric.WithDescription("Arm selection latency"),
		metric.WithUnit("s")); err != nil {
		return nil, fmt.Errorf("register bandit_select_duration_seconds: %w", err)
	}
	if m.RewardsTotal, err = meter.Int64Counter("bandit_rewards_total",
		metric.WithDescription("Total reward reports")); err != nil {
		return nil, fmt.Errorf("register bandit_rewards_total: %w", err)
	}
	if m.EvaluationsTotal, err = meter.Int64Counter("bandit_evaluations_total",
		metric.WithDescription("Total stopping-rule evaluations")); err != nil {
		return nil, fmt.Errorf("register bandit_evaluations_total: %w", err)
	}
	if m.EvaluateDuration, err = meter.Float64Histogram("bandit_evaluate_duration_seconds",
		metric.WithDescription("Stopping-rule evaluation latency"),
		metric.WithUnit("s")); err != nil {
		return nil, fmt.Errorf("register bandit_evaluate_duration_seconds: %w", err)
	}
	if m.ConclusionsTotal, err = meter.Int64Counter("bandit_conclusions_total",
		metric.WithDescription("Experiments concluded with a winner")); err != nil {
		return nil, fmt.Errorf("register bandit_conclusions_total: %w", err)
	}
	if m.ErrorsTotal, err = meter.Int64Counter("bandit_errors_total",
		metric.WithDescription("Operation failures by kind")); err != nil {
		return nil, fmt.Errorf("register bandit_errors_total: %w", err)
	}

	return m, nil
}
