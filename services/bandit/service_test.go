// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package bandit

import (
	"context"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/AleutianAI/AleutianBandit/services/bandit/engine"
	"github.com/AleutianAI/AleutianBandit/services/bandit/events"
	"github.com/AleutianAI/AleutianBandit/services/bandit/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// counterSources yields a deterministic but distinct source per call.
func counterSources(seed uint64) engine.SourceFactory {
	var n atomic.Uint64
	return func() rand.Source {
		return rand.NewPCG(seed, n.Add(1))
	}
}

// captureSink records emitted events for assertions.
type captureSink struct {
	mu        sync.Mutex
	decisions []events.DecisionRecord
	rewards   []events.RewardRecord
}

func (s *captureSink) RecordDecision(_ context.Context, rec events.DecisionRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.decisions = append(s.decisions, rec)
}

func (s *captureSink) RecordReward(_ context.Context, rec events.RewardRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rewards = append(s.rewards, rec)
}

func (s *captureSink) Close() error { return nil }

func newTestService(t *testing.T, opts ...Option) (*Service, *captureSink) {
	t.Helper()
	st, err := store.OpenBadgerInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	sink := &captureSink{}
	cfg := DefaultServiceConfig()
	cfg.PBestSamples = 200
	cfg.StoppingSamples = 2000
	cfg.Sources = counterSources(99)
	svc := NewService(st, cfg, append([]Option{WithSink(sink)}, opts...)...)
	return svc, sink
}

func ptrInt(v int) *int           { return &v }
func ptrFloat(v float64) *float64 { return &v }

func createTestExperiment(t *testing.T, svc *Service, id string, arms int) {
	t.Helper()
	_, err := svc.CreateExperiment(context.Background(), CreateExperimentRequest{
		ExperimentID: id,
		NumArms:      arms,
	})
	require.NoError(t, err)
}

func TestCreateExperiment_Validation(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	tests := []struct {
		name    string
		req     CreateExperimentRequest
		wantErr error
	}{
		{"one arm", CreateExperimentRequest{ExperimentID: "x", NumArms: 1}, ErrTooFewArms},
		{"zero arms", CreateExperimentRequest{ExperimentID: "x", NumArms: 0}, ErrTooFewArms},
		{"contextual without dim", CreateExperimentRequest{
			ExperimentID: "x", NumArms: 2, Type: "contextual",
		}, ErrDimensionMismatch},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.CreateExperiment(ctx, tt.req)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}

	_, err := svc.CreateExperiment(ctx, CreateExperimentRequest{
		ExperimentID: "x", NumArms: 2, Type: "epsilon-greedy",
	})
	assert.Error(t, err)
}

func TestCreateExperiment_Duplicate(t *testing.T) {
	svc, _ := newTestService(t)
	createTestExperiment(t, svc, "exp-1", 2)

	_, err := svc.CreateExperiment(context.Background(), CreateExperimentRequest{
		ExperimentID: "exp-1", NumArms: 3,
	})
	assert.ErrorIs(t, err, ErrExperimentExists)
}

func TestCreateExperiment_ContextualDefaults(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	resp, err := svc.CreateExperiment(ctx, CreateExperimentRequest{
		ExperimentID: "ctx-1", NumArms: 2, Type: "contextual", FeatureDim: 4,
	})
	require.NoError(t, err)
	assert.Equal(t, "contextual", resp.Type)
	assert.Equal(t, 4, resp.FeatureDim)

	got, err := svc.GetExperiment(ctx, "ctx-1")
	require.NoError(t, err)
	assert.Equal(t, "running", got.Status)
}

func TestSelect_UnknownExperiment(t *testing.T) {
	svc, _ := newTestService(t)
	_, err := svc.Select(context.Background(), SelectRequest{ExperimentID: "missing"})
	assert.ErrorIs(t, err, ErrUnknownExperiment)
}

func TestSelect_ReturnsValidArmAndDecision(t *testing.T) {
	svc, sink := newTestService(t)
	createTestExperiment(t, svc, "exp-1", 3)

	resp, err := svc.Select(context.Background(), SelectRequest{ExperimentID: "exp-1"})
	require.NoError(t, err)
	assert.GreaterOrEqual(t, resp.ArmID, 0)
	assert.Less(t, resp.ArmID, 3)
	assert.NotEmpty(t, resp.DecisionID)
	require.NotNil(t, resp.PBest, "p_best estimate enabled in test config")
	assert.GreaterOrEqual(t, *resp.PBest, 0.0)
	assert.LessOrEqual(t, *resp.PBest, 1.0)

	require.Len(t, sink.decisions, 1)
	assert.Equal(t, resp.DecisionID, sink.decisions[0].ID)
	assert.Equal(t, "exp-1", sink.decisions[0].ExperimentID)
}

func TestSelect_DoesNotTouchPosteriors(t *testing.T) {
	svc, _ := newTestService(t)
	createTestExperiment(t, svc, "exp-1", 2)
	ctx := context.Background()

	for i := 0; i < 20; i++ {
		_, err := svc.Select(ctx, SelectRequest{ExperimentID: "exp-1"})
		require.NoError(t, err)
	}

	snap, err := svc.Snapshot(ctx, "exp-1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), snap.TotalDraws)
	for _, arm := range snap.Arms {
		assert.Equal(t, int64(1), arm.Alpha)
		assert.Equal(t, int64(1), arm.Beta)
	}
}

func TestReward_Validation(t *testing.T) {
	svc, _ := newTestService(t)
	createTestExperiment(t, svc, "exp-1", 2)
	ctx := context.Background()

	tests := []struct {
		name    string
		req     RewardRequest
		wantErr error
	}{
		{"unknown experiment", RewardRequest{
			ExperimentID: "missing", ArmID: ptrInt(0), Reward: ptrFloat(1),
		}, ErrUnknownExperiment},
		{"negative arm", RewardRequest{
			ExperimentID: "exp-1", ArmID: ptrInt(-1), Reward: ptrFloat(1),
		}, ErrUnknownArm},
		{"arm out of range", RewardRequest{
			ExperimentID: "exp-1", ArmID: ptrInt(2), Reward: ptrFloat(1),
		}, ErrUnknownArm},
		{"fractional reward", RewardRequest{
			ExperimentID: "exp-1", ArmID: ptrInt(0), Reward: ptrFloat(0.5),
		}, ErrInvalidReward},
		{"reward above one", RewardRequest{
			ExperimentID: "exp-1", ArmID: ptrInt(0), Reward: ptrFloat(2),
		}, ErrInvalidReward},
		{"missing reward", RewardRequest{
			ExperimentID: "exp-1", ArmID: ptrInt(0),
		}, ErrInvalidReward},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := svc.Reward(ctx, tt.req)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}

	// Failed rewards must leave posteriors untouched.
	snap, err := svc.Snapshot(ctx, "exp-1")
	require.NoError(t, err)
	for _, arm := range snap.Arms {
		assert.Equal(t, int64(1), arm.Alpha)
		assert.Equal(t, int64(1), arm.Beta)
	}
}

// After m accepted successes on one arm, alpha must be exactly m+1.
func TestReward_PosteriorMonotonicity(t *testing.T) {
	svc, sink := newTestService(t)
	createTestExperiment(t, svc, "exp-1", 2)
	ctx := context.Background()

	const m = 25
	for i := 0; i < m; i++ {
		require.NoError(t, svc.Reward(ctx, RewardRequest{
			ExperimentID: "exp-1", ArmID: ptrInt(1), Reward: ptrFloat(1),
		}))
	}
	for i := 0; i < 10; i++ {
		require.NoError(t, svc.Reward(ctx, RewardRequest{
			ExperimentID: "exp-1", ArmID: ptrInt(1), Reward: ptrFloat(0),
		}))
	}

	snap, err := svc.Snapshot(ctx, "exp-1")
	require.NoError(t, err)
	assert.Equal(t, int64(m+1), snap.Arms[1].Alpha)
	assert.Equal(t, int64(11), snap.Arms[1].Beta)
	assert.Equal(t, int64(m+10), snap.TotalDraws)
	assert.Len(t, sink.rewards, m+10)
}

func TestContextual_SelectAndReward(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.CreateExperiment(ctx, CreateExperimentRequest{
		ExperimentID: "ctx-1", NumArms: 2, Type: "contextual", FeatureDim: 3,
	})
	require.NoError(t, err)

	// Missing and mismatched features fail before any state changes.
	_, err = svc.Select(ctx, SelectRequest{ExperimentID: "ctx-1"})
	assert.ErrorIs(t, err, ErrMissingFeatures)

	_, err = svc.Select(ctx, SelectRequest{ExperimentID: "ctx-1", Features: []float64{1, 2}})
	assert.ErrorIs(t, err, ErrDimensionMismatch)

	err = svc.Reward(ctx, RewardRequest{
		ExperimentID: "ctx-1", ArmID: ptrInt(0), Reward: ptrFloat(1),
		Features: []float64{1, 2, 3, 4},
	})
	assert.ErrorIs(t, err, ErrDimensionMismatch)

	// A valid round.
	x := []float64{1, 0.5, -0.2}
	resp, err := svc.Select(ctx, SelectRequest{ExperimentID: "ctx-1", Features: x})
	require.NoError(t, err)
	assert.Nil(t, resp.PBest, "contextual selects carry no p_best")

	require.NoError(t, svc.Reward(ctx, RewardRequest{
		ExperimentID: "ctx-1", ArmID: &resp.ArmID, Reward: ptrFloat(0.7),
		Features: x,
	}))

	snap, err := svc.Snapshot(ctx, "ctx-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), snap.TotalDraws)
	assert.Equal(t, int64(1), snap.Arms[resp.ArmID].Updates)
}

func TestEvaluate_ContextualRejected(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.CreateExperiment(ctx, CreateExperimentRequest{
		ExperimentID: "ctx-1", NumArms: 2, Type: "contextual", FeatureDim: 2,
	})
	require.NoError(t, err)

	_, err = svc.Evaluate(ctx, "ctx-1")
	assert.ErrorIs(t, err, ErrContextualStopping)

	_, err = svc.PBest(ctx, "ctx-1")
	assert.ErrorIs(t, err, ErrContextualStopping)
}

func TestEvaluate_FreshExperimentStaysRunning(t *testing.T) {
	svc, _ := newTestService(t)
	createTestExperiment(t, svc, "exp-1", 2)

	eval, err := svc.Evaluate(context.Background(), "exp-1")
	require.NoError(t, err)
	assert.False(t, eval.Concluded)

	exp, err := svc.GetExperiment(context.Background(), "exp-1")
	require.NoError(t, err)
	assert.Equal(t, "running", exp.Status)
}

// Drive a 0.8-vs-0.2 experiment end to end: the stopping rule must
// eventually conclude with arm 0, and the concluded experiment must
// reject further mutations while staying readable.
func TestLifecycle_ConvergesAndConcludes(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	createTestExperiment(t, svc, "exp-1", 2)

	means := []float64{0.8, 0.2}
	outcomes := rand.New(rand.NewPCG(7, 11))

	concluded := false
	for round := 1; round <= 4000 && !concluded; round++ {
		sel, err := svc.Select(ctx, SelectRequest{ExperimentID: "exp-1"})
		require.NoError(t, err)

		reward := 0.0
		if outcomes.Float64() < means[sel.ArmID] {
			reward = 1.0
		}
		require.NoError(t, svc.Reward(ctx, RewardRequest{
			ExperimentID: "exp-1", ArmID: &sel.ArmID, Reward: &reward,
		}))

		if round%100 == 0 {
			eval, err := svc.Evaluate(ctx, "exp-1")
			require.NoError(t, err)
			concluded = eval.Concluded
			if concluded {
				assert.Equal(t, 0, eval.WinnerArm, "better arm must win")
				assert.GreaterOrEqual(t, eval.PBest[0], 0.95)
			}
		}
	}
	require.True(t, concluded, "experiment never concluded in 4000 rounds")

	// Conclusion is permanent: mutations fail, reads keep working.
	_, err := svc.Select(ctx, SelectRequest{ExperimentID: "exp-1"})
	assert.ErrorIs(t, err, ErrExperimentConcluded)

	err = svc.Reward(ctx, RewardRequest{
		ExperimentID: "exp-1", ArmID: ptrInt(0), Reward: ptrFloat(1),
	})
	assert.ErrorIs(t, err, ErrExperimentConcluded)

	exp, err := svc.GetExperiment(ctx, "exp-1")
	require.NoError(t, err)
	assert.Equal(t, "concluded", exp.Status)
	require.NotNil(t, exp.WinnerArm)
	assert.Equal(t, 0, *exp.WinnerArm)

	// Re-evaluating a concluded experiment reports the stored winner.
	eval, err := svc.Evaluate(ctx, "exp-1")
	require.NoError(t, err)
	assert.True(t, eval.Concluded)
	assert.Equal(t, 0, eval.WinnerArm)

	snap, err := svc.Snapshot(ctx, "exp-1")
	require.NoError(t, err)
	assert.Equal(t, "concluded", snap.Status)
}

func TestPBest_VectorShape(t *testing.T) {
	svc, _ := newTestService(t)
	createTestExperiment(t, svc, "exp-1", 3)

	resp, err := svc.PBest(context.Background(), "exp-1")
	require.NoError(t, err)
	require.Len(t, resp.PBest, 3)
	sum := 0.0
	for _, p := range resp.PBest {
		sum += p
	}
	assert.InDelta(t, 1.0, sum, 1e-9)
}

func TestRefreshInverses_SweepsRunningContextual(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.CreateExperiment(ctx, CreateExperimentRequest{
		ExperimentID: "ctx-1", NumArms: 2, Type: "contextual", FeatureDim: 2,
	})
	require.NoError(t, err)
	createTestExperiment(t, svc, "exp-1", 2)

	x := []float64{1, 1}
	for i := 0; i < 5; i++ {
		require.NoError(t, svc.Reward(ctx, RewardRequest{
			ExperimentID: "ctx-1", ArmID: ptrInt(0), Reward: ptrFloat(1), Features: x,
		}))
	}

	require.NoError(t, svc.RefreshInverses(ctx))

	// State must remain usable after the sweep.
	resp, err := svc.Select(ctx, SelectRequest{ExperimentID: "ctx-1", Features: x})
	require.NoError(t, err)
	assert.Contains(t, []int{0, 1}, resp.ArmID)
}

func TestListExperiments(t *testing.T) {
	svc, _ := newTestService(t)
	createTestExperiment(t, svc, "exp-b", 2)
	createTestExperiment(t, svc, "exp-a", 2)

	exps, err := svc.ListExperiments(context.Background())
	require.NoError(t, err)
	require.Len(t, exps, 2)
	assert.Equal(t, "exp-a", exps[0].ExperimentID)
	assert.Equal(t, "exp-b", exps[1].ExperimentID)
}
