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
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	snapshotExperimentID string
	snapshotJSONOutput   bool
)

// snapshotCmd prints posterior snapshots.
//
// # Description
//
// Fetches the current posterior summary for one or all experiments.
// Run on a cadence and shipped to long-term storage, these snapshots
// give the posterior-evolution history the live store does not keep.
//
// # Examples
//
//	banditctl snapshot                     # All experiments, table form
//	banditctl snapshot -e checkout-cta     # One experiment
//	banditctl snapshot --json              # JSON lines for ingestion
var snapshotCmd = &cobra.Command{
	Use:   "snapshot",
	Short: "Print posterior snapshots for experiments",
	RunE:  runSnapshotCommand,
}

func init() {
	snapshotCmd.Flags().StringVarP(&snapshotExperimentID, "experiment", "e", "",
		"Snapshot a single experiment")
	snapshotCmd.Flags().BoolVar(&snapshotJSONOutput, "json", false,
		"Output one JSON document per experiment")
}

func runSnapshotCommand(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	client := newAPIClient(serverURL)

	ids := []string{snapshotExperimentID}
	if snapshotExperimentID == "" {
		exps, err := client.listExperiments(ctx)
		if err != nil {
			return err
		}
		ids = ids[:0]
		for _, exp := range exps {
			ids = append(ids, exp.ExperimentID)
		}
	}

	enc := json.NewEncoder(os.Stdout)
	for _, id := range ids {
		snap, err := client.snapshot(ctx, id)
		if err != nil {
			return fmt.Errorf("snapshot %s: %w", id, err)
		}
		if snapshotJSONOutput {
			if err := enc.Encode(snap); err != nil {
				return err
			}
			continue
		}
		fmt.Printf("%s (%s, draws=%d)\n", snap.ExperimentID, snap.Status, snap.TotalDraws)
		for _, arm := range snap.Arms {
			if arm.Updates > 0 {
				fmt.Printf("  arm %d: updates=%d\n", arm.ArmID, arm.Updates)
			} else {
				fmt.Printf("  arm %d: alpha=%d beta=%d mean=%.4f\n",
					arm.ArmID, arm.Alpha, arm.Beta, arm.Mean)
			}
		}
	}
	return nil
}
