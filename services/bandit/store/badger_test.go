// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func openTestStore(t *testing.T) *BadgerStore {
	t.Helper()
	st, err := OpenBadgerInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func createBernoulli(t *testing.T, st *BadgerStore, id string, arms int) {
	t.Helper()
	err := st.CreateExperiment(context.Background(), Experiment{
		ID:        id,
		NumArms:   arms,
		Type:      TypeBernoulli,
		Status:    StatusRunning,
		CreatedAt: time.Now().UTC(),
	})
	require.NoError(t, err)
}

func TestCreateExperiment_SeedsUniformPriors(t *testing.T) {
	st := openTestStore(t)
	createBernoulli(t, st, "exp-1", 3)

	posts, err := st.GetAllBernoulli(context.Background(), "exp-1", 3)
	require.NoError(t, err)
	require.Len(t, posts, 3)
	for k, post := range posts {
		assert.Equal(t, int64(1), post.Alpha, "arm %d alpha", k)
		assert.Equal(t, int64(1), post.Beta, "arm %d beta", k)
	}

	draws, err := st.TotalDraws(context.Background(), "exp-1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), draws)
}

func TestCreateExperiment_DuplicateID(t *testing.T) {
	st := openTestStore(t)
	createBernoulli(t, st, "exp-1", 2)

	err := st.CreateExperiment(context.Background(), Experiment{
		ID: "exp-1", NumArms: 2, Type: TypeBernoulli, Status: StatusRunning,
	})
	assert.ErrorIs(t, err, ErrAlreadyExists)
}

func TestGetExperiment_NotFound(t *testing.T) {
	st := openTestStore(t)

	_, err := st.GetExperiment(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestIncrements_UpdateCountsAndDraws(t *testing.T) {
	st := openTestStore(t)
	createBernoulli(t, st, "exp-1", 2)
	ctx := context.Background()

	require.NoError(t, st.IncrementSuccess(ctx, "exp-1", 0))
	require.NoError(t, st.IncrementSuccess(ctx, "exp-1", 0))
	require.NoError(t, st.IncrementFailure(ctx, "exp-1", 0))
	require.NoError(t, st.IncrementFailure(ctx, "exp-1", 1))

	post, err := st.GetBernoulli(ctx, "exp-1", 0)
	require.NoError(t, err)
	assert.Equal(t, BernoulliPosterior{Alpha: 3, Beta: 2}, post)

	post, err = st.GetBernoulli(ctx, "exp-1", 1)
	require.NoError(t, err)
	assert.Equal(t, BernoulliPosterior{Alpha: 1, Beta: 2}, post)

	draws, err := st.TotalDraws(ctx, "exp-1")
	require.NoError(t, err)
	assert.Equal(t, int64(4), draws)
}

// A thousand concurrent successes on one arm must produce exactly a
// thousand alpha increments. Lost updates here would silently bias
// every future selection.
func TestIncrementSuccess_ConcurrentNoLostUpdates(t *testing.T) {
	st := openTestStore(t)
	createBernoulli(t, st, "exp-1", 2)
	ctx := context.Background()

	const n = 1000
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(32)
	for i := 0; i < n; i++ {
		g.Go(func() error {
			return st.IncrementSuccess(gctx, "exp-1", 0)
		})
	}
	require.NoError(t, g.Wait())

	post, err := st.GetBernoulli(ctx, "exp-1", 0)
	require.NoError(t, err)
	assert.Equal(t, int64(n+1), post.Alpha)
	assert.Equal(t, int64(1), post.Beta)

	draws, err := st.TotalDraws(ctx, "exp-1")
	require.NoError(t, err)
	assert.Equal(t, int64(n), draws)
}

func TestConcludeExperiment_OneWayTransition(t *testing.T) {
	st := openTestStore(t)
	createBernoulli(t, st, "exp-1", 2)
	ctx := context.Background()

	now := time.Now().UTC()
	require.NoError(t, st.ConcludeExperiment(ctx, "exp-1", 1, now))

	exp, err := st.GetExperiment(ctx, "exp-1")
	require.NoError(t, err)
	assert.Equal(t, StatusConcluded, exp.Status)
	require.NotNil(t, exp.WinnerArm)
	assert.Equal(t, 1, *exp.WinnerArm)
	require.NotNil(t, exp.ConcludedAt)

	// Second conclusion must fail and must not change the winner.
	err = st.ConcludeExperiment(ctx, "exp-1", 0, time.Now().UTC())
	assert.ErrorIs(t, err, ErrNotRunning)

	exp, err = st.GetExperiment(ctx, "exp-1")
	require.NoError(t, err)
	assert.Equal(t, 1, *exp.WinnerArm)
}

func TestConcludeExperiment_ConcurrentSingleWinner(t *testing.T) {
	st := openTestStore(t)
	createBernoulli(t, st, "exp-1", 2)
	ctx := context.Background()

	var g errgroup.Group
	errs := make([]error, 8)
	for i := range errs {
		g.Go(func() error {
			errs[i] = st.ConcludeExperiment(ctx, "exp-1", i%2, time.Now().UTC())
			return nil
		})
	}
	require.NoError(t, g.Wait())

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
		} else {
			assert.ErrorIs(t, err, ErrNotRunning)
		}
	}
	assert.Equal(t, 1, succeeded, "exactly one conclusion must win")
}

func TestListExperiments_SortedByID(t *testing.T) {
	st := openTestStore(t)
	createBernoulli(t, st, "exp-c", 2)
	createBernoulli(t, st, "exp-a", 2)
	createBernoulli(t, st, "exp-b", 2)

	exps, err := st.ListExperiments(context.Background())
	require.NoError(t, err)
	require.Len(t, exps, 3)
	assert.Equal(t, "exp-a", exps[0].ID)
	assert.Equal(t, "exp-b", exps[1].ID)
	assert.Equal(t, "exp-c", exps[2].ID)
}

func TestCreateContextual_SeedsRegularizedState(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	err := st.CreateExperiment(ctx, Experiment{
		ID:             "ctx-1",
		NumArms:        2,
		Type:           TypeContextual,
		Status:         StatusRunning,
		FeatureDim:     3,
		Regularization: 2.0,
		CreatedAt:      time.Now().UTC(),
	})
	require.NoError(t, err)

	state, err := st.GetLinear(ctx, "ctx-1", 0)
	require.NoError(t, err)
	assert.Equal(t, 3, state.Dim)
	require.Len(t, state.A, 9)
	require.Len(t, state.AInv, 9)
	require.Len(t, state.B, 3)

	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			want, wantInv := 0.0, 0.0
			if i == j {
				want, wantInv = 2.0, 0.5
			}
			assert.InDelta(t, want, state.A[i*3+j], 1e-12)
			assert.InDelta(t, wantInv, state.AInv[i*3+j], 1e-12)
		}
		assert.Zero(t, state.B[i])
	}
	assert.Zero(t, state.Updates)
}

func TestMutateLinear_AtomicAndPersisted(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	err := st.CreateExperiment(ctx, Experiment{
		ID: "ctx-1", NumArms: 2, Type: TypeContextual, Status: StatusRunning,
		FeatureDim: 2, Regularization: 1.0, CreatedAt: time.Now().UTC(),
	})
	require.NoError(t, err)

	err = st.MutateLinear(ctx, "ctx-1", 0, func(s *LinearState) error {
		s.B[0] = 42
		s.Updates++
		return nil
	})
	require.NoError(t, err)

	state, err := st.GetLinear(ctx, "ctx-1", 0)
	require.NoError(t, err)
	assert.Equal(t, 42.0, state.B[0])
	assert.Equal(t, int64(1), state.Updates)
}

func TestMutateLinear_CallbackErrorPassesThrough(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	err := st.CreateExperiment(ctx, Experiment{
		ID: "ctx-1", NumArms: 2, Type: TypeContextual, Status: StatusRunning,
		FeatureDim: 2, Regularization: 1.0, CreatedAt: time.Now().UTC(),
	})
	require.NoError(t, err)

	sentinel := errors.New("bad features")
	err = st.MutateLinear(ctx, "ctx-1", 0, func(s *LinearState) error {
		s.B[0] = 99 // must not persist
		return sentinel
	})
	assert.ErrorIs(t, err, sentinel)
	assert.NotErrorIs(t, err, ErrUnavailable)

	state, err := st.GetLinear(ctx, "ctx-1", 0)
	require.NoError(t, err)
	assert.Zero(t, state.B[0], "failed mutation must not commit")
}

func TestMutateLinear_ConcurrentUpdatesAllApplied(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	err := st.CreateExperiment(ctx, Experiment{
		ID: "ctx-1", NumArms: 1, Type: TypeContextual, Status: StatusRunning,
		FeatureDim: 2, Regularization: 1.0, CreatedAt: time.Now().UTC(),
	})
	require.NoError(t, err)

	const n = 200
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(16)
	for i := 0; i < n; i++ {
		g.Go(func() error {
			return st.MutateLinear(gctx, "ctx-1", 0, func(s *LinearState) error {
				s.B[0]++
				s.Updates++
				return nil
			})
		})
	}
	require.NoError(t, g.Wait())

	state, err := st.GetLinear(ctx, "ctx-1", 0)
	require.NoError(t, err)
	assert.Equal(t, float64(n), state.B[0])
	assert.Equal(t, int64(n), state.Updates)
}

func TestGetAllBernoulli_MissingArmKey(t *testing.T) {
	st := openTestStore(t)
	createBernoulli(t, st, "exp-1", 2)

	// Asking for more arms than were seeded hits a missing key.
	_, err := st.GetAllBernoulli(context.Background(), "exp-1", 5)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestOpenBadger_RequiresPath(t *testing.T) {
	_, err := OpenBadger(BadgerConfig{})
	assert.Error(t, err)
}

func TestPersistentStore_SurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	st, err := OpenBadger(BadgerConfig{Path: dir})
	require.NoError(t, err)
	require.NoError(t, st.CreateExperiment(ctx, Experiment{
		ID: "exp-1", NumArms: 2, Type: TypeBernoulli, Status: StatusRunning,
		CreatedAt: time.Now().UTC(),
	}))
	require.NoError(t, st.IncrementSuccess(ctx, "exp-1", 1))
	require.NoError(t, st.Close())

	st, err = OpenBadger(BadgerConfig{Path: dir})
	require.NoError(t, err)
	defer st.Close()

	post, err := st.GetBernoulli(ctx, "exp-1", 1)
	require.NoError(t, err)
	assert.Equal(t, BernoulliPosterior{Alpha: 2, Beta: 1}, post)
}
