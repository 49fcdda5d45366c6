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
	"context"
	"log/slog"
	"strconv"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
)

// InfluxConfig holds connection settings for the InfluxDB event sink.
type InfluxConfig struct {
	URL    string
	Token  string
	Org    string
	Bucket string
}

// InfluxSink writes decision and reward records as InfluxDB points.
//
// Uses the non-blocking write API: points are buffered and flushed in
// the background, so the decision hot path never waits on the event
// store. Write failures are logged through the API's error channel and
// dropped; the event log is best-effort by contract.
type InfluxSink struct {
	client   influxdb2.Client
	writeAPI api.WriteAPI
	logger   *slog.Logger
	done     chan struct{}
}

var _ Sink = (*InfluxSink)(nil)

// NewInfluxSink connects an event sink to InfluxDB.
//
// Description:
//
//	Creates the client and an async write API for the configured org
//	and bucket, and starts a goroutine draining the API's error
//	channel into the logger.
//
// Inputs:
//
//	cfg - Connection settings. URL and Token must be non-empty.
//	logger - Destination for write errors. Nil uses slog.Default().
func NewInfluxSink(cfg InfluxConfig, logger *slog.Logger) *InfluxSink {
	if logger == nil {
		logger = slog.Default()
	}
	client := influxdb2.NewClient(cfg.URL, cfg.Token)
	writeAPI := client.WriteAPI(cfg.Org, cfg.Bucket)

	sink := &InfluxSink{
		client:   client,
		writeAPI: writeAPI,
		logger:   logger,
		done:     make(chan struct{}),
	}
	go func() {
		defer close(sink.done)
		for err := range writeAPI.Errors() {
			logger.Warn("event write failed", "error", err)
		}
	}()
	return sink
}

func (s *InfluxSink) RecordDecision(ctx context.Context, rec DecisionRecord) {
	point := influxdb2.NewPointWithMeasurement("bandit_decisions").
		AddTag("experiment_id", rec.ExperimentID).
		AddTag("arm_id", strconv.Itoa(rec.ArmID)).
		AddField("decision_id", rec.ID).
		AddField("p_best", rec.PBest).
		SetTime(rec.At)
	s.writeAPI.WritePoint(point)
}

func (s *InfluxSink) RecordReward(ctx context.Context, rec RewardRecord) {
	point := influxdb2.NewPointWithMeasurement("bandit_rewards").
		AddTag("experiment_id", rec.ExperimentID).
		AddTag("arm_id", strconv.Itoa(rec.ArmID)).
		AddField("reward_id", rec.ID).
		AddField("reward", rec.Reward).
		SetTime(rec.At)
	s.writeAPI.WritePoint(point)
}

// Close flushes buffered points and releases the client.
func (s *InfluxSink) Close() error {
	s.writeAPI.Flush()
	s.client.Close()
	<-s.done
	return nil
}
