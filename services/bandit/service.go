// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package bandit is the decision API surface of the experimentation
// engine: arm selection, reward incorporation, and the sequential
// stopping rule, over a shared posterior store.
//
// The service validates every operation before touching the store,
// maps store failures to the error taxonomy in errors.go, and emits an
// append-only decision/reward event per accepted operation. Selection
// is side-effect free on posteriors and safe to retry; reward is not
// idempotent and requires at-most-once delivery by the caller.
package bandit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/AleutianAI/AleutianBandit/services/bandit/engine"
	"github.com/AleutianAI/AleutianBandit/services/bandit/events"
	"github.com/AleutianAI/AleutianBandit/services/bandit/stopping"
	"github.com/AleutianAI/AleutianBandit/services/bandit/store"
	"github.com/AleutianAI/AleutianBandit/services/bandit/telemetry"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// ServiceConfig tunes the decision engine. Zero values select the
// documented defaults.
type ServiceConfig struct {
	// PBestSamples is the Monte Carlo count for the selection-time
	// p_best estimate. Zero disables the estimate.
	PBestSamples int

	// StoppingThreshold concludes an experiment when crossed.
	// Default stopping.DefaultThreshold.
	StoppingThreshold float64

	// StoppingSamples is the Monte Carlo count at conclusion time.
	// Default stopping.DefaultSamples.
	StoppingSamples int

	// DefaultAlpha is the LinUCB exploration coefficient applied when
	// an experiment is created without one. Default 1.0.
	DefaultAlpha float64

	// DefaultLambda is the A = lambda*I regularization applied when an
	// experiment is created without one. Default 1.0.
	DefaultLambda float64

	// InverseRefreshEvery bounds Sherman-Morrison drift; see
	// engine.LinUCB. Default 1000.
	InverseRefreshEvery int64

	// Sources supplies randomness. Nil selects production randomness;
	// tests inject a seeded factory.
	Sources engine.SourceFactory
}

// DefaultServiceConfig returns the production defaults.
func DefaultServiceConfig() ServiceConfig {
	return ServiceConfig{
		PBestSamples:        1000,
		StoppingThreshold:   stopping.DefaultThreshold,
		StoppingSamples:     stopping.DefaultSamples,
		DefaultAlpha:        1.0,
		DefaultLambda:       1.0,
		InverseRefreshEvery: 1000,
	}
}

// Service implements the decision API over a posterior store.
//
// Thread Safety: safe for concurrent use. The service itself is
// stateless; all shared mutable state lives behind the store's atomic
// operations.
type Service struct {
	store     store.Store
	thompson  *engine.Thompson
	linucb    *engine.LinUCB
	evaluator *stopping.Evaluator
	sink      events.Sink
	metrics   *telemetry.Metrics
	logger    *slog.Logger
	cfg       ServiceConfig
}

// Option configures a Service.
type Option func(*Service)

// WithSink sets the event log sink. Default: discard.
func WithSink(sink events.Sink) Option {
	return func(s *Service) { s.sink = sink }
}

// WithMetrics sets the telemetry instruments. Default: none.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithLogger sets the service logger. Default: slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// NewService creates the decision service.
func NewService(st store.Store, cfg ServiceConfig, opts ...Option) *Service {
	if cfg.StoppingThreshold <= 0 || cfg.StoppingThreshold >= 1 {
		cfg.StoppingThreshold = stopping.DefaultThreshold
	}
	if cfg.StoppingSamples <= 0 {
		cfg.StoppingSamples = stopping.DefaultSamples
	}
	if cfg.DefaultAlpha <= 0 {
		cfg.DefaultAlpha = 1.0
	}
	if cfg.DefaultLambda <= 0 {
		cfg.DefaultLambda = 1.0
	}
	if cfg.InverseRefreshEvery <= 0 {
		cfg.InverseRefreshEvery = 1000
	}

	svc := &Service{
		store:     st,
		thompson:  engine.NewThompson(cfg.Sources),
		linucb:    engine.NewLinUCB(cfg.InverseRefreshEvery),
		evaluator: stopping.NewEvaluator(cfg.StoppingThreshold, cfg.StoppingSamples, cfg.Sources),
		sink:      events.NopSink{},
		logger:    slog.Default(),
		cfg:       cfg,
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc
}

// mapStoreErr translates store sentinels into the API taxonomy.
func mapStoreErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, store.ErrNotFound):
		return ErrUnknownExperiment
	case errors.Is(err, store.ErrAlreadyExists):
		return ErrExperimentExists
	case errors.Is(err, store.ErrNotRunning):
		return ErrExperimentConcluded
	case errors.Is(err, store.ErrUnavailable):
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	default:
		return err
	}
}

// CreateExperiment registers and seeds a new experiment.
//
// Description:
//
//	Validates the request (n_arms >= 2; feature_dim > 0 for
//	contextual), fills LinUCB defaults from configuration, and seeds
//	uniform priors in the store.
func (s *Service) CreateExperiment(ctx context.Context, req CreateExperimentRequest) (ExperimentResponse, error) {
	if req.NumArms < 2 {
		return ExperimentResponse{}, ErrTooFewArms
	}

	banditType := store.BanditType(req.Type)
	if banditType == "" {
		banditType = store.TypeBernoulli
	}
	if banditType != store.TypeBernoulli && banditType != store.TypeContextual {
		return ExperimentResponse{}, fmt.Errorf("unsupported bandit type %q", req.Type)
	}

	exp := store.Experiment{
		ID:        req.ExperimentID,
		NumArms:   req.NumArms,
		Type:      banditType,
		Status:    store.StatusRunning,
		CreatedAt: time.Now().UTC(),
	}
	if banditType == store.TypeContextual {
		if req.FeatureDim <= 0 {
			return ExperimentResponse{}, fmt.Errorf("%w: feature_dim must be positive", ErrDimensionMismatch)
		}
		exp.FeatureDim = req.FeatureDim
		exp.ExplorationAlpha = req.ExplorationAlpha
		if exp.ExplorationAlpha <= 0 {
			exp.ExplorationAlpha = s.cfg.DefaultAlpha
		}
		exp.Regularization = req.Regularization
		if exp.Regularization <= 0 {
			exp.Regularization = s.cfg.DefaultLambda
		}
	}

	if err := s.store.CreateExperiment(ctx, exp); err != nil {
		return ExperimentResponse{}, mapStoreErr(err)
	}
	s.logger.Info("experiment created",
		"experiment_id", exp.ID, "n_arms", exp.NumArms, "type", string(exp.Type))
	return toExperimentResponse(exp, 0), nil
}

// GetExperiment returns one experiment with its draw counter.
func (s *Service) GetExperiment(ctx context.Context, id string) (ExperimentResponse, error) {
	exp, err := s.store.GetExperiment(ctx, id)
	if err != nil {
		return ExperimentResponse{}, mapStoreErr(err)
	}
	draws, err := s.store.TotalDraws(ctx, id)
	if err != nil {
		return ExperimentResponse{}, mapStoreErr(err)
	}
	return toExperimentResponse(exp, draws), nil
}

// ListExperiments returns all experiments.
func (s *Service) ListExperiments(ctx context.Context) ([]ExperimentResponse, error) {
	exps, err := s.store.ListExperiments(ctx)
	if err != nil {
		return nil, mapStoreErr(err)
	}
	out := make([]ExperimentResponse, 0, len(exps))
	for _, exp := range exps {
		draws, err := s.store.TotalDraws(ctx, exp.ID)
		if err != nil {
			return nil, mapStoreErr(err)
		}
		out = append(out, toExperimentResponse(exp, draws))
	}
	return out, nil
}

// Select chooses an arm for one request.
//
// Description:
//
//	Reads current posterior parameters, draws/scores per the
//	experiment type, and returns the argmax arm. No posterior state
//	changes: a failed or retried select never biases the experiment,
//	and a failure means no decision, never "arm 0".
//
// Outputs:
//
//	SelectResponse - Chosen arm, decision id, optional p_best.
//	error - ErrUnknownExperiment, ErrExperimentConcluded,
//	ErrMissingFeatures, ErrDimensionMismatch, ErrStoreUnavailable.
func (s *Service) Select(ctx context.Context, req SelectRequest) (SelectResponse, error) {
	start := time.Now()
	exp, err := s.store.GetExperiment(ctx, req.ExperimentID)
	if err != nil {
		return SelectResponse{}, s.fail("select", mapStoreErr(err))
	}
	if !exp.Running() {
		return SelectResponse{}, s.fail("select", ErrExperimentConcluded)
	}

	resp := SelectResponse{ExperimentID: exp.ID, DecisionID: uuid.NewString()}

	switch exp.Type {
	case store.TypeContextual:
		if len(req.Features) == 0 {
			return SelectResponse{}, s.fail("select", ErrMissingFeatures)
		}
		if err := s.validateFeatures(req.Features, exp.FeatureDim); err != nil {
			return SelectResponse{}, s.fail("select", err)
		}
		states, err := s.store.GetAllLinear(ctx, exp.ID, exp.NumArms)
		if err != nil {
			return SelectResponse{}, s.fail("select", mapStoreErr(err))
		}
		arm, err := s.linucb.Select(states, req.Features, exp.ExplorationAlpha)
		if err != nil {
			return SelectResponse{}, s.fail("select", err)
		}
		resp.ArmID = arm

	default:
		posts, err := s.store.GetAllBernoulli(ctx, exp.ID, exp.NumArms)
		if err != nil {
			return SelectResponse{}, s.fail("select", mapStoreErr(err))
		}
		arm, err := s.thompson.Select(posts)
		if err != nil {
			return SelectResponse{}, s.fail("select", err)
		}
		resp.ArmID = arm

		if s.cfg.PBestSamples > 0 {
			pBest, err := s.evaluator.Probabilities(posts, s.cfg.PBestSamples)
			if err != nil {
				return SelectResponse{}, s.fail("select", err)
			}
			p := pBest[arm]
			resp.PBest = &p
		}
	}

	rec := events.DecisionRecord{
		ID:           resp.DecisionID,
		ExperimentID: exp.ID,
		ArmID:        resp.ArmID,
		At:           time.Now().UTC(),
		Features:     req.Features,
	}
	if resp.PBest != nil {
		rec.PBest = *resp.PBest
	}
	s.sink.RecordDecision(ctx, rec)

	if s.metrics != nil {
		attrs := metric.WithAttributes(
			attribute.String("experiment_id", exp.ID),
			attribute.String("type", string(exp.Type)),
		)
		s.metrics.SelectsTotal.Add(ctx, 1, attrs)
		s.metrics.SelectDuration.Record(ctx, time.Since(start).Seconds(), attrs)
	}
	return resp, nil
}

// Reward incorporates one observed outcome into the arm's posterior.
//
// Description:
//
//	Validates experiment, status, arm membership and reward domain
//	before touching posterior state, then applies the update through
//	the store's atomic primitives. Bernoulli: reward must be exactly
//	0 or 1; 1 increments alpha, 0 increments beta. Contextual:
//	A += x x', b += reward * x with the cached inverse advanced by
//	Sherman-Morrison, all committed as one unit.
//
// NOT idempotent; the caller owns at-most-once delivery per outcome.
func (s *Service) Reward(ctx context.Context, req RewardRequest) error {
	exp, err := s.store.GetExperiment(ctx, req.ExperimentID)
	if err != nil {
		return s.fail("reward", mapStoreErr(err))
	}
	if !exp.Running() {
		return s.fail("reward", ErrExperimentConcluded)
	}
	if req.ArmID == nil || req.Reward == nil {
		return s.fail("reward", fmt.Errorf("%w: arm_id and reward are required", ErrInvalidReward))
	}
	armID, reward := *req.ArmID, *req.Reward
	if armID < 0 || armID >= exp.NumArms {
		return s.fail("reward", ErrUnknownArm)
	}

	switch exp.Type {
	case store.TypeContextual:
		if len(req.Features) == 0 {
			return s.fail("reward", ErrMissingFeatures)
		}
		if err := s.validateFeatures(req.Features, exp.FeatureDim); err != nil {
			return s.fail("reward", err)
		}
		err = s.store.MutateLinear(ctx, exp.ID, armID, func(st *store.LinearState) error {
			return s.linucb.ApplyReward(st, req.Features, reward)
		})
		if err != nil {
			return s.fail("reward", mapStoreErr(err))
		}
		if err := s.store.IncrementDraws(ctx, exp.ID); err != nil {
			// The draw counter is informational; the posterior update
			// already committed.
			s.logger.Warn("draw counter increment failed",
				"experiment_id", exp.ID, "error", err)
		}

	default:
		if reward != 0 && reward != 1 {
			return s.fail("reward", fmt.Errorf("%w: bernoulli reward must be 0 or 1, got %v", ErrInvalidReward, reward))
		}
		if reward > 0 {
			err = s.store.IncrementSuccess(ctx, exp.ID, armID)
		} else {
			err = s.store.IncrementFailure(ctx, exp.ID, armID)
		}
		if err != nil {
			return s.fail("reward", mapStoreErr(err))
		}
	}

	s.sink.RecordReward(ctx, events.RewardRecord{
		ID:           uuid.NewString(),
		ExperimentID: exp.ID,
		ArmID:        armID,
		Reward:       reward,
		At:           time.Now().UTC(),
		Features:     req.Features,
	})
	if s.metrics != nil {
		s.metrics.RewardsTotal.Add(ctx, 1, metric.WithAttributes(
			attribute.String("experiment_id", exp.ID),
			attribute.String("type", string(exp.Type)),
		))
	}
	return nil
}

// Evaluate runs the stopping rule and concludes the experiment when
// the threshold is crossed.
//
// Description:
//
//	Estimates P(arm k is best) by Monte Carlo over the current Beta
//	posteriors. When the leader crosses the threshold on a running
//	experiment, the status transitions to concluded with that winner;
//	the transition is a one-way compare-and-swap, so a concurrent
//	evaluation cannot conclude twice. Evaluating an already concluded
//	experiment is a harmless read that reports the stored winner.
//
// Scope: Bernoulli experiments only; contextual experiments return
// ErrContextualStopping (no closed-form posterior to simulate).
func (s *Service) Evaluate(ctx context.Context, experimentID string) (StoppingEvaluation, error) {
	start := time.Now()
	exp, err := s.store.GetExperiment(ctx, experimentID)
	if err != nil {
		return StoppingEvaluation{}, s.fail("evaluate", mapStoreErr(err))
	}
	if exp.Type != store.TypeBernoulli {
		return StoppingEvaluation{}, s.fail("evaluate", ErrContextualStopping)
	}

	posts, err := s.store.GetAllBernoulli(ctx, exp.ID, exp.NumArms)
	if err != nil {
		return StoppingEvaluation{}, s.fail("evaluate", mapStoreErr(err))
	}
	result, err := s.evaluator.Evaluate(posts)
	if err != nil {
		return StoppingEvaluation{}, s.fail("evaluate", err)
	}

	eval := StoppingEvaluation{
		ExperimentID: exp.ID,
		PBest:        result.PBest,
		WinnerArm:    result.Winner,
		Concluded:    result.Concluded,
		Samples:      result.Samples,
		EvaluatedAt:  time.Now().UTC(),
	}

	if !exp.Running() {
		// Posteriors are frozen; report the recorded winner.
		eval.Concluded = true
		if exp.WinnerArm != nil {
			eval.WinnerArm = *exp.WinnerArm
		}
		return eval, nil
	}

	if result.Concluded {
		err := s.store.ConcludeExperiment(ctx, exp.ID, result.Winner, eval.EvaluatedAt)
		if errors.Is(err, store.ErrNotRunning) {
			// Lost the conclusion race; the stored winner stands.
			s.logger.Info("experiment concluded concurrently", "experiment_id", exp.ID)
		} else if err != nil {
			return StoppingEvaluation{}, s.fail("evaluate", mapStoreErr(err))
		} else {
			s.logger.Info("experiment concluded",
				"experiment_id", exp.ID,
				"winner_arm", result.Winner,
				"p_best", result.PBest[result.Winner],
				"samples", result.Samples)
			if s.metrics != nil {
				s.metrics.ConclusionsTotal.Add(ctx, 1, metric.WithAttributes(
					attribute.String("experiment_id", exp.ID)))
			}
		}
	}

	if s.metrics != nil {
		attrs := metric.WithAttributes(attribute.String("experiment_id", exp.ID))
		s.metrics.EvaluationsTotal.Add(ctx, 1, attrs)
		s.metrics.EvaluateDuration.Record(ctx, time.Since(start).Seconds(), attrs)
	}
	return eval, nil
}

// PBest returns the probability-of-optimality vector without touching
// experiment status. Powers external dashboards.
func (s *Service) PBest(ctx context.Context, experimentID string) (PBestResponse, error) {
	exp, err := s.store.GetExperiment(ctx, experimentID)
	if err != nil {
		return PBestResponse{}, mapStoreErr(err)
	}
	if exp.Type != store.TypeBernoulli {
		return PBestResponse{}, ErrContextualStopping
	}
	posts, err := s.store.GetAllBernoulli(ctx, exp.ID, exp.NumArms)
	if err != nil {
		return PBestResponse{}, mapStoreErr(err)
	}
	pBest, err := s.evaluator.Probabilities(posts, s.cfg.StoppingSamples)
	if err != nil {
		return PBestResponse{}, err
	}
	return PBestResponse{
		ExperimentID: exp.ID,
		PBest:        pBest,
		Samples:      s.cfg.StoppingSamples,
	}, nil
}

// Snapshot exposes current posterior summaries for external periodic
// snapshotting. The core does not schedule the cadence.
func (s *Service) Snapshot(ctx context.Context, experimentID string) (SnapshotResponse, error) {
	exp, err := s.store.GetExperiment(ctx, experimentID)
	if err != nil {
		return SnapshotResponse{}, mapStoreErr(err)
	}
	draws, err := s.store.TotalDraws(ctx, exp.ID)
	if err != nil {
		return SnapshotResponse{}, mapStoreErr(err)
	}

	resp := SnapshotResponse{
		ExperimentID: exp.ID,
		Status:       string(exp.Status),
		TotalDraws:   draws,
		TakenAt:      time.Now().UTC(),
	}

	switch exp.Type {
	case store.TypeContextual:
		states, err := s.store.GetAllLinear(ctx, exp.ID, exp.NumArms)
		if err != nil {
			return SnapshotResponse{}, mapStoreErr(err)
		}
		for arm, st := range states {
			resp.Arms = append(resp.Arms, ArmSnapshot{ArmID: arm, Updates: st.Updates})
		}
	default:
		posts, err := s.store.GetAllBernoulli(ctx, exp.ID, exp.NumArms)
		if err != nil {
			return SnapshotResponse{}, mapStoreErr(err)
		}
		for arm, post := range posts {
			resp.Arms = append(resp.Arms, ArmSnapshot{
				ArmID: arm,
				Alpha: post.Alpha,
				Beta:  post.Beta,
				Mean:  float64(post.Alpha) / float64(post.Alpha+post.Beta),
			})
		}
	}
	return resp, nil
}

// RefreshInverses recomputes every cached inverse from its design
// matrix across running contextual experiments. Maintenance operation;
// run on a cadence, never on the request path.
func (s *Service) RefreshInverses(ctx context.Context) error {
	exps, err := s.store.ListExperiments(ctx)
	if err != nil {
		return mapStoreErr(err)
	}
	for _, exp := range exps {
		if exp.Type != store.TypeContextual || !exp.Running() {
			continue
		}
		for arm := 0; arm < exp.NumArms; arm++ {
			err := s.store.MutateLinear(ctx, exp.ID, arm, engine.RefreshInverse)
			if err != nil {
				return fmt.Errorf("refresh inverse for %s arm %d: %w", exp.ID, arm, mapStoreErr(err))
			}
		}
		s.logger.Debug("inverses refreshed", "experiment_id", exp.ID)
	}
	return nil
}

// ExperimentCount reports how many experiments exist; used by the
// readiness probe to confirm store reachability.
func (s *Service) ExperimentCount(ctx context.Context) (int, error) {
	exps, err := s.store.ListExperiments(ctx)
	if err != nil {
		return 0, mapStoreErr(err)
	}
	return len(exps), nil
}

// validateFeatures maps engine feature validation onto the API
// taxonomy.
func (s *Service) validateFeatures(x []float64, dim int) error {
	if err := engine.ValidateFeatures(x, dim); err != nil {
		if errors.Is(err, engine.ErrDimension) {
			return fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(x), dim)
		}
		return err
	}
	return nil
}

// fail logs and counts an operation failure before returning it.
func (s *Service) fail(op string, err error) error {
	s.logger.Warn(op+" failed", "error", err)
	if s.metrics != nil {
		s.metrics.ErrorsTotal.Add(context.Background(), 1, metric.WithAttributes(
			attribute.String("operation", op)))
	}
	return err
}
