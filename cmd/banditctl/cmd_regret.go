// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"fmt"
	"math/rand/v2"
	"slices"

	"github.com/AleutianAI/AleutianBandit/services/bandit"
	"github.com/AleutianAI/AleutianBandit/services/bandit/engine"
	"github.com/AleutianAI/AleutianBandit/services/bandit/store"
	"github.com/spf13/cobra"
)

var (
	regretArmMeans string
	regretRounds   int
	regretSeed     uint64
)

// regretCmd compares Thompson sampling against uniform allocation.
//
// # Description
//
// Runs an offline simulation entirely in process against an in-memory
// posterior store: one bandit allocating by Thompson sampling, one
// baseline allocating uniformly at random, both facing the same true
// arm means. Prints cumulative regret (expected reward given up
// relative to always playing the best arm) at fixed milestones. The
// bandit's curve should flatten as the posterior concentrates; the
// uniform curve grows linearly.
//
// # Examples
//
//	banditctl regret --means 0.10,0.12,0.18
//	banditctl regret --means 0.5,0.55 --rounds 20000 --seed 42
var regretCmd = &cobra.Command{
	Use:   "regret",
	Short: "Offline Thompson-vs-uniform regret comparison",
	RunE:  runRegretCommand,
}

func init() {
	regretCmd.Flags().StringVar(&regretArmMeans, "means", "",
		"Comma-separated true success rates, one per arm (required)")
	regretCmd.Flags().IntVar(&regretRounds, "rounds", 10000,
		"Simulation rounds")
	regretCmd.Flags().Uint64Var(&regretSeed, "seed", 0,
		"RNG seed (0 uses nondeterministic seeding)")
	_ = regretCmd.MarkFlagRequired("means")
}

func runRegretCommand(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	means, err := parseMeans(regretArmMeans)
	if err != nil {
		return err
	}
	if len(means) < 2 {
		return fmt.Errorf("need at least two arm means, got %d", len(means))
	}
	best := slices.Max(means)

	st, err := store.OpenBadgerInMemory()
	if err != nil {
		return err
	}
	defer st.Close()

	cfg := bandit.DefaultServiceConfig()
	cfg.PBestSamples = 0 // keep the simulation loop fast
	if regretSeed != 0 {
		cfg.Sources = engine.SeededSourceFactory(regretSeed, regretSeed+1)
	}
	svc := bandit.NewService(st, cfg)

	const experimentID = "regret-sim"
	_, err = svc.CreateExperiment(ctx, bandit.CreateExperimentRequest{
		ExperimentID: experimentID,
		NumArms:      len(means),
	})
	if err != nil {
		return err
	}

	milestones := []int{1000, 5000, 10000}
	var banditRegret, uniformRegret float64

	seed := regretSeed
	if seed == 0 {
		seed = rand.Uint64()
	}
	outcomes := rand.New(rand.NewPCG(seed, ^seed))

	for round := 1; round <= regretRounds; round++ {
		sel, err := svc.Select(ctx, bandit.SelectRequest{ExperimentID: experimentID})
		if err != nil {
			return fmt.Errorf("round %d: %w", round, err)
		}
		reward := 0.0
		if outcomes.Float64() < means[sel.ArmID] {
			reward = 1.0
		}
		if err := svc.Reward(ctx, bandit.RewardRequest{
			ExperimentID: experimentID,
			ArmID:        &sel.ArmID,
			Reward:       &reward,
		}); err != nil {
			return fmt.Errorf("round %d: %w", round, err)
		}
		banditRegret += best - means[sel.ArmID]

		uniformArm := outcomes.IntN(len(means))
		uniformRegret += best - means[uniformArm]

		if slices.Contains(milestones, round) || round == regretRounds {
			fmt.Printf("round %6d: thompson regret %8.2f | uniform regret %8.2f\n",
				round, banditRegret, uniformRegret)
		}
	}

	eval, err := svc.Evaluate(ctx, experimentID)
	if err != nil {
		return err
	}
	fmt.Printf("final: leader=arm %d p_best=%.4f concluded=%v\n",
		eval.WinnerArm, eval.PBest[eval.WinnerArm], eval.Concluded)
	return nil
}
