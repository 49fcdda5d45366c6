// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package stopping implements the posterior-probability stopping rule.
//
// An experiment concludes when P(arm k is best) exceeds a threshold,
// estimated by Monte Carlo simulation over the current Beta
// posteriors. Because this is a posterior-probability statement rather
// than a repeated significance test, it is valid at any sample size
// and on any evaluation cadence; no multiple-comparisons correction
// applies.
//
// Scope: the rule is restricted to Bernoulli experiments. The LinUCB
// coefficient estimate has no conjugate closed-form posterior in this
// system, so contextual experiments are not concluded automatically;
// the service returns a typed error for them.
//
// Numeric semantics: every probability is a Monte Carlo estimate with
// standard error roughly sqrt(p(1-p)/samples). At the default 10,000
// samples a p near 0.95 carries a standard error of about 0.002;
// callers must treat a crossed threshold as an estimate, not an exact
// bound.
package stopping

import (
	"math"

	"github.com/AleutianAI/AleutianBandit/services/bandit/engine"
	"github.com/AleutianAI/AleutianBandit/services/bandit/store"
	"gonum.org/v1/gonum/stat/distuv"
)

// DefaultThreshold is the conclusion threshold on P(arm is best).
const DefaultThreshold = 0.95

// DefaultSamples is the Monte Carlo sample count at conclusion time.
// Selection-time estimates use a smaller count (service configuration);
// both are tunables, preserved separately on purpose.
const DefaultSamples = 10000

// Result is one stopping-rule evaluation over an experiment.
type Result struct {
	// PBest holds P(arm k is best) per arm. Entries lie in [0, 1] and
	// sum to 1 up to Monte Carlo error.
	PBest []float64

	// Winner is the arm with the highest PBest.
	Winner int

	// Concluded reports whether the winner's PBest crossed the
	// threshold.
	Concluded bool

	// Samples is the Monte Carlo sample count actually used.
	Samples int
}

// Evaluator estimates probability-of-optimality vectors by joint
// posterior simulation.
//
// Thread Safety: safe for concurrent use; each evaluation draws from a
// fresh source.
type Evaluator struct {
	threshold float64
	samples   int
	sources   engine.SourceFactory
}

// NewEvaluator creates an Evaluator.
//
// Inputs:
//
//	threshold - Conclusion threshold; non-positive selects DefaultThreshold.
//	samples - Monte Carlo sample count; non-positive selects DefaultSamples.
//	sources - Random source factory; nil selects production randomness.
func NewEvaluator(threshold float64, samples int, sources engine.SourceFactory) *Evaluator {
	if threshold <= 0 || threshold >= 1 {
		threshold = DefaultThreshold
	}
	if samples <= 0 {
		samples = DefaultSamples
	}
	if sources == nil {
		sources = engine.DefaultSourceFactory()
	}
	return &Evaluator{threshold: threshold, samples: samples, sources: sources}
}

// Threshold returns the configured conclusion threshold.
func (e *Evaluator) Threshold() float64 { return e.threshold }

// Probabilities estimates P(arm k is best) for every arm.
//
// Description:
//
//	Draws `samples` independent joint samples: one value per arm from
//	its Beta posterior per sample. The arm attaining the maximum in a
//	sample scores a win; win counts normalize to probabilities. Ties
//	inside a joint sample credit the lowest arm index.
//
// Inputs:
//
//	posteriors - One (alpha, beta) pair per arm.
//	samples - Sample count override; non-positive uses the configured count.
//
// Outputs:
//
//	[]float64 - Per-arm win probabilities.
//	error - engine.ErrNoArms or engine.ErrInvalidPosterior.
func (e *Evaluator) Probabilities(posteriors []store.BernoulliPosterior, samples int) ([]float64, error) {
	if len(posteriors) == 0 {
		return nil, engine.ErrNoArms
	}
	if samples <= 0 {
		samples = e.samples
	}

	src := e.sources()
	dists := make([]distuv.Beta, len(posteriors))
	for k, post := range posteriors {
		if post.Alpha < 1 || post.Beta < 1 {
			return nil, engine.ErrInvalidPosterior
		}
		dists[k] = distuv.Beta{Alpha: float64(post.Alpha), Beta: float64(post.Beta), Src: src}
	}

	wins := make([]int, len(posteriors))
	for s := 0; s < samples; s++ {
		best := 0
		bestSample := math.Inf(-1)
		for k := range dists {
			if sample := dists[k].Rand(); sample > bestSample {
				best = k
				bestSample = sample
			}
		}
		wins[best]++
	}

	pBest := make([]float64, len(posteriors))
	for k, w := range wins {
		pBest[k] = float64(w) / float64(samples)
	}
	return pBest, nil
}

// Evaluate runs the stopping rule once.
//
// Outputs:
//
//	Result - Probability vector, leading arm, and whether the
//	threshold was crossed at the configured sample count.
func (e *Evaluator) Evaluate(posteriors []store.BernoulliPosterior) (Result, error) {
	pBest, err := e.Probabilities(posteriors, e.samples)
	if err != nil {
		return Result{}, err
	}

	winner := 0
	for k, p := range pBest {
		if p > pBest[winner] {
			winner = k
		}
	}
	return Result{
		PBest:     pBest,
		Winner:    winner,
		Concluded: pBest[winner] >= e.threshold,
		Samples:   e.samples,
	}, nil
}
