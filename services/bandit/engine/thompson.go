// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package engine implements arm selection and posterior updates for
// the two supported bandit families: Beta-Bernoulli Thompson sampling
// for binary rewards and LinUCB for context-dependent rewards.
//
// Both engines are stateless: they read posterior parameters supplied
// by the caller and return a decision. Persistence and atomicity live
// in the store package; validation and orchestration in the bandit
// service package.
package engine

import (
	"errors"

	"github.com/AleutianAI/AleutianBandit/services/bandit/store"
	"gonum.org/v1/gonum/stat/distuv"
)

var (
	// ErrNoArms indicates selection was invoked with an empty arm set.
	ErrNoArms = errors.New("experiment has no arms")

	// ErrInvalidPosterior indicates an alpha or beta below the prior
	// pseudo-count of 1, which no legal update sequence can produce.
	ErrInvalidPosterior = errors.New("posterior parameters below prior")
)

// Thompson selects arms by Thompson sampling over Beta posteriors.
//
// Each call draws one independent sample from every arm's
// Beta(alpha, beta) posterior and picks the arm with the largest
// sample. As data accumulates a posterior concentrates, so the
// probability of selecting a clearly worse arm decays on its own; no
// epsilon-greedy or annealing schedule is layered on top.
//
// Thread Safety: safe for concurrent use; every call draws from a
// fresh source.
type Thompson struct {
	sources SourceFactory
}

// NewThompson creates a Thompson sampler with the given source
// factory. A nil factory selects production randomness.
func NewThompson(sources SourceFactory) *Thompson {
	if sources == nil {
		sources = DefaultSourceFactory()
	}
	return &Thompson{sources: sources}
}

// Select draws one sample per arm and returns the argmax arm index.
//
// Description:
//
//	Samples theta_k ~ Beta(alpha_k, beta_k) independently for every
//	arm, using one fresh source for this call and no state shared
//	with other calls. Ties (measure-zero for continuous draws) break
//	toward the lowest arm index for determinism.
//
// Inputs:
//
//	posteriors - One (alpha, beta) pair per arm, all >= 1.
//
// Outputs:
//
//	int - Index of the selected arm.
//	error - ErrNoArms or ErrInvalidPosterior on malformed input.
func (t *Thompson) Select(posteriors []store.BernoulliPosterior) (int, error) {
	if len(posteriors) == 0 {
		return 0, ErrNoArms
	}

	src := t.sources()
	best := 0
	bestSample := -1.0
	for k, post := range posteriors {
		if post.Alpha < 1 || post.Beta < 1 {
			return 0, ErrInvalidPosterior
		}
		dist := distuv.Beta{Alpha: float64(post.Alpha), Beta: float64(post.Beta), Src: src}
		if sample := dist.Rand(); sample > bestSample {
			best = k
			bestSample = sample
		}
	}
	return best, nil
}
