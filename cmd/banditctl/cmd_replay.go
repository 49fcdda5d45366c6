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
	"context"
	"fmt"
	"math/rand/v2"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/AleutianAI/AleutianBandit/services/bandit"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

var (
	replayExperimentID string
	replayArmMeans     string
	replayRate         float64
	replayRequests     int
	replayWorkers      int
	replayCreate       bool
)

// replayCmd drives synthetic traffic at a fixed rate.
//
// # Description
//
// Simulates a production integration: a paced stream of select calls,
// each followed by a Bernoulli reward drawn from a per-arm true mean.
// Useful for load testing the decision path and for watching an
// experiment converge end to end against a live server.
//
// # Examples
//
//	banditctl replay -e demo --create --means 0.10,0.12,0.18 --rate 50 -n 5000
//	banditctl replay -e demo --means 0.5,0.6 --rate 200 -n 20000 --workers 8
//
// # Limitations
//
//   - Bernoulli experiments only; contextual replay needs a feature
//     source and is out of scope here.
var replayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Drive synthetic select/reward traffic at a fixed rate",
	RunE:  runReplayCommand,
}

func init() {
	replayCmd.Flags().StringVarP(&replayExperimentID, "experiment", "e", "",
		"Experiment id to drive (required)")
	replayCmd.Flags().StringVar(&replayArmMeans, "means", "",
		"Comma-separated true success rates, one per arm (required)")
	replayCmd.Flags().Float64Var(&replayRate, "rate", 50,
		"Requests per second")
	replayCmd.Flags().IntVarP(&replayRequests, "requests", "n", 1000,
		"Total select/reward rounds")
	replayCmd.Flags().IntVar(&replayWorkers, "workers", 4,
		"Concurrent workers")
	replayCmd.Flags().BoolVar(&replayCreate, "create", false,
		"Create the experiment first if it does not exist")
	_ = replayCmd.MarkFlagRequired("experiment")
	_ = replayCmd.MarkFlagRequired("means")
}

func parseMeans(s string) ([]float64, error) {
	parts := strings.Split(s, ",")
	means := make([]float64, 0, len(parts))
	for _, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil, fmt.Errorf("invalid mean %q: %w", p, err)
		}
		if v < 0 || v > 1 {
			return nil, fmt.Errorf("mean %v outside [0, 1]", v)
		}
		means = append(means, v)
	}
	return means, nil
}

func runReplayCommand(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	client := newAPIClient(serverURL)

	means, err := parseMeans(replayArmMeans)
	if err != nil {
		return err
	}
	if len(means) < 2 {
		return fmt.Errorf("need at least two arm means, got %d", len(means))
	}

	if replayCreate {
		_, err := client.createExperiment(ctx, bandit.CreateExperimentRequest{
			ExperimentID: replayExperimentID,
			NumArms:      len(means),
		})
		if err != nil && !strings.Contains(err.Error(), "EXPERIMENT_EXISTS") {
			return err
		}
	}

	limiter := rate.NewLimiter(rate.Limit(replayRate), 1)
	var rounds, successes, concluded atomic.Int64
	start := time.Now()

	g, gctx := errgroup.WithContext(ctx)
	for w := 0; w < replayWorkers; w++ {
		g.Go(func() error {
			for {
				n := rounds.Add(1)
				if n > int64(replayRequests) {
					return nil
				}
				if err := limiter.Wait(gctx); err != nil {
					return err
				}

				sel, err := client.selectArm(gctx, bandit.SelectRequest{
					ExperimentID: replayExperimentID,
				})
				if err != nil {
					// A concluded experiment ends the replay cleanly.
					if strings.Contains(err.Error(), "EXPERIMENT_CONCLUDED") {
						concluded.Store(1)
						return nil
					}
					return err
				}

				reward := 0.0
				if rand.Float64() < means[sel.ArmID] {
					reward = 1.0
					successes.Add(1)
				}
				err = client.reward(gctx, bandit.RewardRequest{
					ExperimentID: replayExperimentID,
					ArmID:        &sel.ArmID,
					Reward:       &reward,
				})
				if err != nil {
					if strings.Contains(err.Error(), "EXPERIMENT_CONCLUDED") {
						concluded.Store(1)
						return nil
					}
					return err
				}
			}
		})
	}
	if err := g.Wait(); err != nil && err != context.Canceled {
		return err
	}

	elapsed := time.Since(start)
	done := min(rounds.Load(), int64(replayRequests))
	fmt.Printf("replayed %d rounds in %s (%.1f req/s), %d successes\n",
		done, elapsed.Round(time.Millisecond),
		float64(done)/elapsed.Seconds(), successes.Load())
	if concluded.Load() == 1 {
		fmt.Println("experiment concluded during replay")
	}
	return nil
}
