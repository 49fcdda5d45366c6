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
	"time"

	"github.com/AleutianAI/AleutianBandit/services/bandit/store"
)

// ServiceVersion is the bandit service version.
const ServiceVersion = "0.1.0"

// CreateExperimentRequest creates and seeds a new experiment.
type CreateExperimentRequest struct {
	ExperimentID string `json:"experiment_id" binding:"required"`
	NumArms      int    `json:"n_arms" binding:"required"`

	// Type is "bernoulli" (default) or "contextual".
	Type string `json:"type"`

	// FeatureDim is required for contextual experiments.
	FeatureDim int `json:"feature_dim"`

	// ExplorationAlpha overrides the configured LinUCB default.
	ExplorationAlpha float64 `json:"exploration_alpha"`

	// Regularization overrides the configured lambda default.
	Regularization float64 `json:"regularization"`
}

// ExperimentResponse describes one experiment.
type ExperimentResponse struct {
	ExperimentID string     `json:"experiment_id"`
	NumArms      int        `json:"n_arms"`
	Type         string     `json:"type"`
	Status       string     `json:"status"`
	WinnerArm    *int       `json:"winner_arm,omitempty"`
	FeatureDim   int        `json:"feature_dim,omitempty"`
	TotalDraws   int64      `json:"total_draws"`
	CreatedAt    time.Time  `json:"created_at"`
	ConcludedAt  *time.Time `json:"concluded_at,omitempty"`
}

// SelectRequest asks for a decision.
type SelectRequest struct {
	ExperimentID string `json:"experiment_id" binding:"required"`

	// Features is required for contextual experiments, ignored
	// otherwise.
	Features []float64 `json:"features,omitempty"`
}

// SelectResponse carries the decision. Safe to retry: selection has no
// side effect on posteriors, though each retry is a fresh independent
// sample and may return a different arm.
type SelectResponse struct {
	ExperimentID string `json:"experiment_id"`
	ArmID        int    `json:"arm_id"`
	DecisionID   string `json:"decision_id"`

	// PBest is the selection-time probability that the chosen arm is
	// best, present when the estimate is enabled (Bernoulli only).
	PBest *float64 `json:"p_best,omitempty"`
}

// RewardRequest reports an observed outcome. NOT idempotent: every
// accepted call increments posterior state, so callers must deliver
// each observed outcome at most once.
type RewardRequest struct {
	ExperimentID string   `json:"experiment_id" binding:"required"`
	ArmID        *int     `json:"arm_id" binding:"required"`
	Reward       *float64 `json:"reward" binding:"required"`
	Features     []float64 `json:"features,omitempty"`
}

// StoppingEvaluation is the result of one stopping-rule run.
type StoppingEvaluation struct {
	ExperimentID string    `json:"experiment_id"`
	PBest        []float64 `json:"p_best"`
	WinnerArm    int       `json:"winner_arm"`
	Concluded    bool      `json:"concluded"`
	Samples      int       `json:"samples"`
	EvaluatedAt  time.Time `json:"evaluated_at"`
}

// ArmSnapshot is the externally visible posterior summary for one arm,
// used for periodic snapshotting by outside tooling. For Bernoulli
// arms Alpha/Beta are set and Mean is the posterior mean; for
// contextual arms Updates counts observations.
type ArmSnapshot struct {
	ArmID   int     `json:"arm_id"`
	Alpha   int64   `json:"alpha,omitempty"`
	Beta    int64   `json:"beta,omitempty"`
	Mean    float64 `json:"mean"`
	Updates int64   `json:"updates,omitempty"`
}

// SnapshotResponse exposes current posterior summaries. The snapshot
// cadence is the caller's; the core only serves the current view.
type SnapshotResponse struct {
	ExperimentID string        `json:"experiment_id"`
	Status       string        `json:"status"`
	TotalDraws   int64         `json:"total_draws"`
	Arms         []ArmSnapshot `json:"arms"`
	TakenAt      time.Time     `json:"taken_at"`
}

// PBestResponse exposes the probability-of-optimality vector without
// concluding anything.
type PBestResponse struct {
	ExperimentID string    `json:"experiment_id"`
	PBest        []float64 `json:"p_best"`
	Samples      int       `json:"samples"`
}

// ErrorResponse is the error envelope for all endpoints.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// HealthResponse reports liveness.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
}

// ReadyResponse reports readiness, including store reachability.
type ReadyResponse struct {
	Ready       bool `json:"ready"`
	Experiments int  `json:"experiments"`
}

func toExperimentResponse(exp store.Experiment, totalDraws int64) ExperimentResponse {
	return ExperimentResponse{
		ExperimentID: exp.ID,
		NumArms:      exp.NumArms,
		Type:         string(exp.Type),
		Status:       string(exp.Status),
		WinnerArm:    exp.WinnerArm,
		FeatureDim:   exp.FeatureDim,
		TotalDraws:   totalDraws,
		CreatedAt:    exp.CreatedAt,
		ConcludedAt:  exp.ConcludedAt,
	}
}
