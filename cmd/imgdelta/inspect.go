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

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sectorimg/imgdelta/internal/diag"
	"github.com/sectorimg/imgdelta/sector"
	"github.com/sectorimg/imgdelta/signature"
)

func newInspectCmd(logger *diag.Logger) *cobra.Command {
	var partitionOffset uint64

	cmd := &cobra.Command{
		Use:   "inspect SIGNATURE",
		Short: "print a signature file's header and region summary",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sig, err := signature.Read(args[0], sector.Sector(partitionOffset), logger)
			if err != nil {
				return err
			}

			fmt.Printf("version:         v%d\n", sig.Version)
			fmt.Printf("hash kind:       %d\n", sig.HashKind)
			fmt.Printf("hash block size: %d sectors\n", sig.HashBlockSize)
			fmt.Printf("regions:         %d\n", len(sig.Regions))
			fmt.Printf("max region size: %d sectors\n", sig.MaxRegionSectors)

			var total uint64
			for _, r := range sig.Regions {
				total += uint64(r.Size)
			}
			fmt.Printf("total sectors:   %d\n", total)

			return nil
		},
	}

	cmd.Flags().Uint64Var(&partitionOffset, "partition-offset", 0, "partition start sector, added to each region on load")
	return cmd
}
