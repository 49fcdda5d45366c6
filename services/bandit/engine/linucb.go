// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package engine

import (
	"errors"
	"fmt"
	"math"

	"github.com/AleutianAI/AleutianBandit/services/bandit/store"
	"gonum.org/v1/gonum/mat"
)

var (
	// ErrDimension indicates a feature vector whose length does not
	// match the arm state dimensionality.
	ErrDimension = errors.New("feature vector dimension mismatch")

	// ErrNonFinite indicates a NaN or Inf feature component.
	ErrNonFinite = errors.New("feature vector contains non-finite value")

	// ErrSingular indicates the design matrix could not be inverted
	// during an exact refresh. Unreachable for states initialized with
	// positive regularization, since rank-1 updates only add
	// positive-semidefinite mass.
	ErrSingular = errors.New("design matrix is singular")
)

// LinUCB scores arms with a linear reward model plus an
// upper-confidence exploration bonus:
//
//	s_k = x' theta_k + alpha * sqrt(x' A_k^-1 x),   theta_k = A_k^-1 b_k
//
// The sqrt term is the confidence width; it shrinks as A_k accumulates
// rank-1 updates for the arm, which is optimism-under-uncertainty
// exploration in closed form rather than by random draw.
//
// Thread Safety: stateless; safe for concurrent use.
type LinUCB struct {
	// InverseRefreshEvery forces an exact recomputation of A^-1 from
	// A after this many incremental updates, bounding floating-point
	// drift from repeated Sherman-Morrison steps. Zero disables the
	// automatic cadence (explicit RefreshInverse still works).
	InverseRefreshEvery int64
}

// NewLinUCB creates a LinUCB engine with the given refresh cadence.
func NewLinUCB(inverseRefreshEvery int64) *LinUCB {
	return &LinUCB{InverseRefreshEvery: inverseRefreshEvery}
}

// ValidateFeatures checks dimensionality and finiteness of x against
// the experiment's feature dimension.
func ValidateFeatures(x []float64, dim int) error {
	if len(x) != dim {
		return fmt.Errorf("%w: got %d, want %d", ErrDimension, len(x), dim)
	}
	for _, v := range x {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return ErrNonFinite
		}
	}
	return nil
}

// Score computes the upper-confidence score of one arm for features x.
//
// Inputs:
//
//	state - The arm's regression state (A, b, cached A^-1).
//	x - Feature vector of length state.Dim.
//	alpha - Exploration coefficient (experiment configuration).
//
// Outputs:
//
//	float64 - x' theta + alpha * sqrt(x' A^-1 x).
//	error - ErrDimension or ErrNonFinite on malformed input.
func (l *LinUCB) Score(state store.LinearState, x []float64, alpha float64) (float64, error) {
	if err := ValidateFeatures(x, state.Dim); err != nil {
		return 0, err
	}
	d := state.Dim
	ainv := mat.NewDense(d, d, state.AInv)
	xv := mat.NewVecDense(d, x)
	bv := mat.NewVecDense(d, state.B)

	var theta mat.VecDense
	theta.MulVec(ainv, bv)
	mean := mat.Dot(xv, &theta)

	var ax mat.VecDense
	ax.MulVec(ainv, xv)
	variance := mat.Dot(xv, &ax)
	if variance < 0 {
		// Drift from incremental inverse updates can push a tiny
		// quadratic form below zero.
		variance = 0
	}
	return mean + alpha*math.Sqrt(variance), nil
}

// Select scores every arm and returns the argmax index. Ties break
// toward the lowest arm index.
func (l *LinUCB) Select(states []store.LinearState, x []float64, alpha float64) (int, error) {
	if len(states) == 0 {
		return 0, ErrNoArms
	}
	best := 0
	bestScore := math.Inf(-1)
	for k, state := range states {
		score, err := l.Score(state, x, alpha)
		if err != nil {
			return 0, err
		}
		if score > bestScore {
			best = k
			bestScore = score
		}
	}
	return best, nil
}

// ApplyReward folds one observation into the arm state in place:
//
//	A <- A + x x'
//	b <- b + reward * x
//
// The cached inverse is advanced with the Sherman-Morrison identity
//
//	(A + x x')^-1 = A^-1 - (A^-1 x)(x' A^-1) / (1 + x' A^-1 x)
//
// instead of a full re-inversion, keeping the per-reward cost at
// O(d^2). Every InverseRefreshEvery updates the inverse is recomputed
// exactly from A to bound accumulated drift.
//
// Intended to run inside the store's atomic read-modify-write, so the
// (A, b, A^-1) triple commits as one unit.
func (l *LinUCB) ApplyReward(state *store.LinearState, x []float64, reward float64) error {
	if err := ValidateFeatures(x, state.Dim); err != nil {
		return err
	}
	d := state.Dim
	xv := mat.NewVecDense(d, x)

	// A += x x'
	a := mat.NewDense(d, d, state.A)
	var rank1 mat.Dense
	rank1.Outer(1, xv, xv)
	a.Add(a, &rank1)

	// b += reward * x
	for i := 0; i < d; i++ {
		state.B[i] += reward * x[i]
	}

	// Sherman-Morrison on the cached inverse.
	ainv := mat.NewDense(d, d, state.AInv)
	var ax mat.VecDense
	ax.MulVec(ainv, xv)
	denom := 1 + mat.Dot(xv, &ax)
	var correction mat.Dense
	correction.Outer(1/denom, &ax, &ax)
	ainv.Sub(ainv, &correction)

	state.Updates++
	if l.InverseRefreshEvery > 0 && state.Updates%l.InverseRefreshEvery == 0 {
		return RefreshInverse(state)
	}
	return nil
}

// RefreshInverse recomputes A^-1 directly from A, discarding the
// incrementally maintained cache. Maintenance operation: called on a
// cadence (ApplyReward) or by the service's periodic refresh, never
// required on the per-request hot path.
func RefreshInverse(state *store.LinearState) error {
	d := state.Dim
	a := mat.NewDense(d, d, state.A)
	var inv mat.Dense
	if err := inv.Inverse(a); err != nil {
		// gonum reports ill-conditioned (but solvable) systems as a
		// mat.Condition error with a usable result; only a true
		// failure to invert is fatal here.
		if _, conditioned := err.(mat.Condition); !conditioned {
			return fmt.Errorf("%w: %v", ErrSingular, err)
		}
	}
	copy(state.AInv, inv.RawMatrix().Data)
	return nil
}
