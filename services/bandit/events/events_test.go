// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package events

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
	"time"
)

func TestNopSink(t *testing.T) {
	var s Sink = NopSink{}
	s.RecordDecision(context.Background(), DecisionRecord{ID: "d1"})
	s.RecordReward(context.Background(), RewardRecord{ID: "r1"})
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestLogSink_WritesStructuredRecords(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	s := NewLogSink(logger)

	at := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	s.RecordDecision(context.Background(), DecisionRecord{
		ID:           "dec-1",
		ExperimentID: "exp-1",
		ArmID:        2,
		At:           at,
		PBest:        0.42,
	})
	s.RecordReward(context.Background(), RewardRecord{
		ID:           "rew-1",
		ExperimentID: "exp-1",
		ArmID:        2,
		Reward:       1,
		At:           at,
	})
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 log lines, got %d", len(lines))
	}

	var decision map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &decision); err != nil {
		t.Fatal(err)
	}
	if decision["msg"] != "decision" {
		t.Errorf("msg = %v", decision["msg"])
	}
	if decision["decision_id"] != "dec-1" || decision["experiment_id"] != "exp-1" {
		t.Errorf("decision fields missing: %v", decision)
	}
	if decision["p_best"] != 0.42 {
		t.Errorf("p_best = %v", decision["p_best"])
	}

	var reward map[string]any
	if err := json.Unmarshal([]byte(lines[1]), &reward); err != nil {
		t.Fatal(err)
	}
	if reward["msg"] != "reward" || reward["reward"] != 1.0 {
		t.Errorf("reward fields missing: %v", reward)
	}
}

func TestNewLogSink_NilLoggerDefaults(t *testing.T) {
	s := NewLogSink(nil)
	if s.logger == nil {
		t.Fatal("nil logger not defaulted")
	}
}
