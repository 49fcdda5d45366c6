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

import "math/rand/v2"

// SourceFactory produces a fresh random source for one operation.
//
// Selection draws a new source per call so concurrent callers never
// contend on shared generator state. Production uses PCG seeded from
// the process-global generator (statistically sound, not
// cryptographic); tests inject a fixed-seed factory for determinism.
type SourceFactory func() rand.Source

// DefaultSourceFactory returns the production source factory.
func DefaultSourceFactory() SourceFactory {
	return func() rand.Source {
		return rand.NewPCG(rand.Uint64(), rand.Uint64())
	}
}

// SeededSourceFactory returns a factory producing identical sources,
// all seeded with the given values. For tests.
func SeededSourceFactory(seed1, seed2 uint64) SourceFactory {
	return func() rand.Source {
		return rand.NewPCG(seed1, seed2)
	}
}
