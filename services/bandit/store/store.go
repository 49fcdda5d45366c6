// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package store persists per-arm posterior state for bandit experiments.
//
// The store holds two kinds of state per (experiment, arm) pair:
//
//   - Beta-Bernoulli counts (alpha, beta), both >= 1 at all times
//   - Linear regression state (A, b) plus the cached inverse of A,
//     serialized as one value so a reader never sees a torn update
//
// All mutations are atomic with respect to concurrent callers on the
// same key: concurrent reward reports must never lose an increment.
// The BadgerDB implementation achieves this with serializable
// transactions and a conflict retry loop.
//
// Logical key schema (mirrored by the Badger implementation):
//
//	experiment:{expId}:meta                -> Experiment (JSON)
//	experiment:{expId}:n_arms              -> integer
//	experiment:{expId}:total_draws         -> integer, monotonic
//	experiment:{expId}:arm:{armId}:alpha   -> integer, init 1
//	experiment:{expId}:arm:{armId}:beta    -> integer, init 1
//	experiment:{expId}:arm:{armId}:linear  -> LinearState (JSON: A, b, A^-1)
package store

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors for store operations. Callers distinguish missing
// state (permanent) from infrastructure failure (transient) via these;
// an unavailable store is never reported as absent state, since
// falling back to prior values would corrupt the experiment.
var (
	// ErrNotFound indicates the experiment or arm key does not exist.
	ErrNotFound = errors.New("experiment not found")

	// ErrAlreadyExists indicates an experiment id collision on create.
	ErrAlreadyExists = errors.New("experiment already exists")

	// ErrNotRunning indicates a conclusion was attempted on an
	// experiment that is no longer running.
	ErrNotRunning = errors.New("experiment is not running")

	// ErrUnavailable indicates the underlying store failed. Transient;
	// safe to retry reads and select operations.
	ErrUnavailable = errors.New("state store unavailable")
)

// BanditType selects the algorithm family for an experiment.
type BanditType string

const (
	// TypeBernoulli is Thompson sampling over Beta posteriors for
	// binary rewards.
	TypeBernoulli BanditType = "bernoulli"

	// TypeContextual is LinUCB over per-arm linear models for rewards
	// that depend on a feature vector.
	TypeContextual BanditType = "contextual"
)

// Status is the lifecycle state of an experiment.
type Status string

const (
	// StatusRunning accepts select, reward and evaluate operations.
	StatusRunning Status = "running"

	// StatusConcluded is terminal. Posterior state becomes read-only.
	StatusConcluded Status = "concluded"
)

// Experiment is the registry record for one experiment. The decision
// core reads identity, arm count and status; status only changes
// through Conclude.
type Experiment struct {
	ID      string     `json:"id"`
	NumArms int        `json:"n_arms"`
	Type    BanditType `json:"type"`
	Status  Status     `json:"status"`

	// WinnerArm is set when the stopping rule concludes the experiment.
	WinnerArm *int `json:"winner_arm,omitempty"`

	// FeatureDim is the shared feature dimensionality d, fixed at
	// creation. Zero for Bernoulli experiments.
	FeatureDim int `json:"feature_dim,omitempty"`

	// ExplorationAlpha is the LinUCB confidence-width coefficient.
	ExplorationAlpha float64 `json:"exploration_alpha,omitempty"`

	// Regularization is the lambda used to initialize A = lambda * I.
	Regularization float64 `json:"regularization,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	ConcludedAt *time.Time `json:"concluded_at,omitempty"`
}

// Running reports whether the experiment still accepts mutations.
func (e Experiment) Running() bool { return e.Status == StatusRunning }

// BernoulliPosterior holds the Beta(alpha, beta) parameters for one
// arm. Invariant: Alpha >= 1 and Beta >= 1 (uniform prior pseudo-counts
// included); values only ever increase while the experiment runs.
type BernoulliPosterior struct {
	Alpha int64 `json:"alpha"`
	Beta  int64 `json:"beta"`
}

// LinearState holds the LinUCB regression state for one arm: the d x d
// design matrix A (row-major), the response vector b, and the cached
// inverse of A maintained by rank-1 updates. The three are serialized
// as a single value so they update as one logical unit.
type LinearState struct {
	Dim int `json:"dim"`

	// A is row-major d*d. Initialized to Regularization * I, so it is
	// symmetric positive-definite and stays invertible under the
	// rank-1 positive-semidefinite updates applied to it.
	A []float64 `json:"a"`

	// B is the length-d response vector, initialized to zero.
	B []float64 `json:"b"`

	// AInv is the cached inverse of A, row-major d*d. A derived
	// artifact: updated incrementally on the hot path and recomputed
	// from A on a maintenance cadence to bound floating-point drift.
	AInv []float64 `json:"a_inv"`

	// Updates counts rank-1 updates applied since creation. Drives
	// the periodic exact recomputation of AInv.
	Updates int64 `json:"updates"`
}

// Store is the posterior store adapter: typed read/modify operations
// over the shared key-value state.
//
// Mutations on the same (experiment, arm) key are linearizable.
// Mutations on different arms or experiments are unordered with
// respect to each other; selection tolerates slightly stale reads of
// other arms' state. Reads never observe a partially applied update.
type Store interface {
	// CreateExperiment registers an experiment and eagerly seeds
	// per-arm state: Beta(1,1) for Bernoulli, (lambda*I, 0) for
	// contextual. Returns ErrAlreadyExists on id collision.
	CreateExperiment(ctx context.Context, exp Experiment) error

	// GetExperiment returns the registry record for id.
	GetExperiment(ctx context.Context, id string) (Experiment, error)

	// ListExperiments returns all experiments, ordered by id.
	ListExperiments(ctx context.Context) ([]Experiment, error)

	// ConcludeExperiment atomically transitions running -> concluded
	// and records the winner. Returns ErrNotRunning if the experiment
	// was already concluded; the transition is one-way.
	ConcludeExperiment(ctx context.Context, id string, winnerArm int, at time.Time) error

	// GetBernoulli returns the posterior for one arm.
	GetBernoulli(ctx context.Context, expID string, armID int) (BernoulliPosterior, error)

	// GetAllBernoulli returns posteriors for arms 0..numArms-1 from a
	// single consistent snapshot.
	GetAllBernoulli(ctx context.Context, expID string, numArms int) ([]BernoulliPosterior, error)

	// IncrementSuccess atomically applies alpha += 1 for the arm and
	// bumps the experiment's total_draws counter.
	IncrementSuccess(ctx context.Context, expID string, armID int) error

	// IncrementFailure atomically applies beta += 1 for the arm and
	// bumps the experiment's total_draws counter.
	IncrementFailure(ctx context.Context, expID string, armID int) error

	// GetLinear returns the regression state for one arm.
	GetLinear(ctx context.Context, expID string, armID int) (LinearState, error)

	// GetAllLinear returns regression state for arms 0..numArms-1 from
	// a single consistent snapshot.
	GetAllLinear(ctx context.Context, expID string, numArms int) ([]LinearState, error)

	// MutateLinear applies fn to the arm's regression state inside an
	// atomic read-modify-write. fn receives the current state and
	// mutates it in place; the whole (A, b, AInv) triple commits as
	// one unit or not at all.
	MutateLinear(ctx context.Context, expID string, armID int, fn func(*LinearState) error) error

	// IncrementDraws bumps the experiment's informational total_draws
	// counter. Used by contextual reward reporting; the Bernoulli
	// increment operations bump it inside their own transaction.
	IncrementDraws(ctx context.Context, expID string) error

	// TotalDraws returns the experiment's monotonic draw counter.
	TotalDraws(ctx context.Context, expID string) (int64, error)

	// Close releases store resources.
	Close() error
}
