/*
 * Copyright 2016 ClusterHQ
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Command imgdelta is a thin CLI wrapper around the delta computer library:
// inspecting a signature file, computing a delta against a disk image, and
// serving a read-only view of past runs. It deliberately does not own
// filesystem free-space probing, chunk packing or network transport; a
// "diff" run is told what's currently allocated via a plain ranges file.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/sectorimg/imgdelta/internal/diag"
)

func main() {
	logger := diag.Default()

	root := &cobra.Command{
		Use:   "imgdelta",
		Short: "imgdelta",
		Long:  "imgdelta inspects signature files and computes sector-range deltas between disk image versions.",
	}

	root.PersistentFlags().Bool("json", false, "ignored: every subcommand prints plain text")

	root.AddCommand(newInspectCmd(logger))
	root.AddCommand(newDiffCmd(logger))
	root.AddCommand(newServeCmd(logger))

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
