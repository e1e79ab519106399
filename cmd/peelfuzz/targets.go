// Copyright 2025 peelfuzz project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/peelfuzz/peelfuzz/pkg/targets"
)

var targetsCmd = &cobra.Command{
	Use:   "targets",
	Short: "List built-in fuzz targets",
	Run: func(*cobra.Command, []string) {
		for _, name := range targets.Names() {
			fmt.Println(name)
		}
	},
}
