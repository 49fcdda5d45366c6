// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package events emits the append-only decision and reward log.
//
// Every select and reward call produces a record for an external event
// store. The core produces the record but does not own persistence:
// sinks are pluggable, best-effort, and must never block or fail the
// decision path. The InfluxDB sink buffers asynchronously; the slog
// sink writes structured log lines; the nop sink discards.
package events

import (
	"context"
	"log/slog"
	"time"
)

// DecisionRecord is the immutable log entry for one select call.
// Append-only; never mutated after creation.
type DecisionRecord struct {
	ID           string    `json:"id"`
	ExperimentID string    `json:"experiment_id"`
	ArmID        int       `json:"arm_id"`
	At           time.Time `json:"at"`

	// Features is the feature vector used, contextual mode only.
	Features []float64 `json:"features,omitempty"`

	// PBest is the selection-time probability-of-optimality estimate
	// for the chosen arm, when computed.
	PBest float64 `json:"p_best,omitempty"`
}

// RewardRecord links an observed outcome to a prior decision.
type RewardRecord struct {
	ID           string    `json:"id"`
	ExperimentID string    `json:"experiment_id"`
	ArmID        int       `json:"arm_id"`
	Reward       float64   `json:"reward"`
	At           time.Time `json:"at"`

	Features []float64 `json:"features,omitempty"`
}

// Sink receives event records. Implementations must be non-blocking
// from the caller's perspective and safe for concurrent use; delivery
// is best-effort and failures are the sink's to log, never the
// decision path's to observe.
type Sink interface {
	RecordDecision(ctx context.Context, rec DecisionRecord)
	RecordReward(ctx context.Context, rec RewardRecord)
	Close() error
}

// NopSink discards all records.
type NopSink struct{}

func (NopSink) RecordDecision(ctx context.Context, rec DecisionRecord) {}
func (NopSink) RecordReward(ctx context.Context, rec RewardRecord)     {}
func (NopSink) Close() error                                           { return nil }

var _ Sink = NopSink{}

// LogSink writes records as structured log lines. Default sink when no
// event store is configured: the log stream remains replayable.
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink creates a LogSink. A nil logger uses slog.Default().
func NewLogSink(logger *slog.Logger) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSink{logger: logger}
}

func (s *LogSink) RecordDecision(ctx context.Context, rec DecisionRecord) {
	s.logger.Info("decision",
		"decision_id", rec.ID,
		"experiment_id", rec.ExperimentID,
		"arm_id", rec.ArmID,
		"p_best", rec.PBest,
		"at", rec.At.Format(time.RFC3339Nano))
}

func (s *LogSink) RecordReward(ctx context.Context, rec RewardRecord) {
	s.logger.Info("reward",
		"reward_id", rec.ID,
		"experiment_id", rec.ExperimentID,
		"arm_id", rec.ArmID,
		"reward", rec.Reward,
		"at", rec.At.Format(time.RFC3339Nano))
}

func (s *LogSink) Close() error { return nil }

var _ Sink = (*LogSink)(nil)
