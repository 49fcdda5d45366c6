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

	"github.com/spf13/cobra"
)

var concludeExperimentID string

// concludeCmd runs the stopping rule across experiments.
//
// # Description
//
// Sweeps every running Bernoulli experiment through the server's
// evaluate endpoint. Experiments whose leader crosses the probability
// threshold transition to concluded; the rest stay running. Meant to
// run on a schedule (cron or an orchestrator job).
//
// # Examples
//
//	banditctl conclude                      # Sweep all experiments
//	banditctl conclude -e checkout-cta      # One experiment only
var concludeCmd = &cobra.Command{
	Use:   "conclude",
	Short: "Run the stopping rule across running experiments",
	RunE:  runConcludeCommand,
}

func init() {
	concludeCmd.Flags().StringVarP(&concludeExperimentID, "experiment", "e", "",
		"Evaluate a single experiment instead of sweeping")
}

func runConcludeCommand(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	client := newAPIClient(serverURL)

	ids := []string{concludeExperimentID}
	if concludeExperimentID == "" {
		exps, err := client.listExperiments(ctx)
		if err != nil {
			return err
		}
		ids = ids[:0]
		for _, exp := range exps {
			if exp.Status == "running" && exp.Type == "bernoulli" {
				ids = append(ids, exp.ExperimentID)
			}
		}
		if len(ids) == 0 {
			fmt.Println("no running bernoulli experiments")
			return nil
		}
	}

	for _, id := range ids {
		eval, err := client.evaluate(ctx, id)
		if err != nil {
			return fmt.Errorf("evaluate %s: %w", id, err)
		}
		if eval.Concluded {
			fmt.Printf("%s: CONCLUDED winner=arm %d p_best=%.4f (n=%d)\n",
				id, eval.WinnerArm, eval.PBest[eval.WinnerArm], eval.Samples)
		} else {
			fmt.Printf("%s: running leader=arm %d p_best=%.4f (n=%d)\n",
				id, eval.WinnerArm, eval.PBest[eval.WinnerArm], eval.Samples)
		}
	}
	return nil
}
