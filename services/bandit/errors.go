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

import "errors"

// Error taxonomy for the decision API. Validation errors are permanent
// and returned before the store is touched; ErrStoreUnavailable is
// transient and safe to retry for select (reward retries need
// caller-side deduplication, since reward is not idempotent).
var (
	// ErrUnknownExperiment indicates the experiment id was not found.
	// Permanent; not retried.
	ErrUnknownExperiment = errors.New("unknown experiment")

	// ErrUnknownArm indicates an arm id outside the experiment's arm
	// set. Permanent; caller bug.
	ErrUnknownArm = errors.New("arm is not a member of the experiment")

	// ErrExperimentConcluded indicates a mutation was attempted on a
	// finalized experiment. Permanent; posteriors are read-only.
	ErrExperimentConcluded = errors.New("experiment already concluded")

	// ErrExperimentExists indicates an id collision on create.
	ErrExperimentExists = errors.New("experiment already exists")

	// ErrDimensionMismatch indicates a contextual feature vector of
	// the wrong size. Permanent; caller bug.
	ErrDimensionMismatch = errors.New("feature vector dimension mismatch")

	// ErrMissingFeatures indicates a contextual operation without a
	// feature vector.
	ErrMissingFeatures = errors.New("contextual experiment requires a feature vector")

	// ErrInvalidReward indicates a reward outside the expected domain:
	// in pure Bernoulli mode only 0 and 1 are interpretable, nothing
	// is coerced.
	ErrInvalidReward = errors.New("reward outside expected domain")

	// ErrTooFewArms indicates experiment creation with fewer than two
	// arms.
	ErrTooFewArms = errors.New("experiment requires at least two arms")

	// ErrContextualStopping indicates the stopping rule was invoked on
	// a contextual experiment. The rule is scoped to Bernoulli
	// posteriors; see the stopping package documentation.
	ErrContextualStopping = errors.New("stopping rule is limited to bernoulli experiments")

	// ErrStoreUnavailable indicates the posterior store failed.
	// Transient; never silently treated as prior state.
	ErrStoreUnavailable = errors.New("posterior store unavailable")
)
