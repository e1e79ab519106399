// Copyright 2025 peelfuzz project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package main

import (
	"os"

	"github.com/spf13/cobra"
	_ "go.uber.org/automaxprocs"
)

var rootCmd = &cobra.Command{
	Use:   "peelfuzz",
	Short: "Coverage-guided byte-buffer fuzzing engine",
	Long: `peelfuzz mutates inputs against an instrumented target, promotes
inputs that reach new coverage into the corpus and persists
deduplicated crash artifacts.`,
	SilenceUsage: true,
}

func main() {
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(targetsCmd)
	rootCmd.PersistentFlags().IntP("verbosity", "v", 0, "log verbosity")
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
