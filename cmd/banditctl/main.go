// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command banditctl is the operational CLI for the Aleutian Bandit
// server.
//
// It covers the periodic jobs an experimentation deployment needs
// around the decision API:
//
//	banditctl conclude             # Run the stopping rule across experiments
//	banditctl snapshot             # Print posterior snapshots
//	banditctl replay               # Drive synthetic traffic at a fixed rate
//	banditctl regret               # Offline Thompson-vs-uniform comparison
//
// All remote commands target --server (default http://localhost:8080).
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var serverURL string

var rootCmd = &cobra.Command{
	Use:   "banditctl",
	Short: "Operational CLI for the Aleutian Bandit server",
	Long: `banditctl drives the periodic jobs around the bandit decision API:
stopping-rule sweeps, posterior snapshots, synthetic replay traffic and
offline regret comparisons.`,
	SilenceUsage: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "banditctl:", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server",
		"http://localhost:8080", "Bandit server base URL")

	rootCmd.AddCommand(concludeCmd)
	rootCmd.AddCommand(snapshotCmd)
	rootCmd.AddCommand(replayCmd)
	rootCmd.AddCommand(regretCmd)
}
