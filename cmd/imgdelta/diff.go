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
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/sectorimg/imgdelta/deltaengine"
	"github.com/sectorimg/imgdelta/fixup"
	"github.com/sectorimg/imgdelta/hashkind"
	_ "github.com/sectorimg/imgdelta/hashkind/md5"
	_ "github.com/sectorimg/imgdelta/hashkind/sha1"
	_ "github.com/sectorimg/imgdelta/hashkind/sha256"
	"github.com/sectorimg/imgdelta/internal/config"
	"github.com/sectorimg/imgdelta/internal/diag"
	"github.com/sectorimg/imgdelta/internal/stats"
	"github.com/sectorimg/imgdelta/internal/store"
	"github.com/sectorimg/imgdelta/reloc"
	"github.com/sectorimg/imgdelta/sector"
	"github.com/sectorimg/imgdelta/signature"
)

func newDiffCmd(logger *diag.Logger) *cobra.Command {
	var (
		diskPath         string
		oldSigPath       string
		newSigPath       string
		rangesPath       string
		outDeltaPath     string
		relocPath        string
		outRelocPath     string
		configPath       string
		journalPath      string
		partitionOffset  uint64
		hashBlockSize    uint32
		hashKindName     string
		hashFreeMode     bool
		signatureVersion uint32
	)

	cmd := &cobra.Command{
		Use:   "diff",
		Short: "compute a sector-range delta between a disk image and a prior signature",
		RunE: func(cmd *cobra.Command, args []string) error {
			kind := hashkind.SHA256
			blockSize := uint32(128)

			if configPath != "" {
				cfg := config.New(configPath)
				if err := cfg.Load(); err != nil {
					return err
				}
				if !cfg.DeviceAllowed(diskPath) {
					return fmt.Errorf("disk %s is not in the configured allow-list", diskPath)
				}
				k, err := cfg.ResolveHashKind()
				if err != nil {
					return err
				}
				kind = k
				blockSize = cfg.ResolveHashBlockSize()
				if !cmd.Flags().Changed("hash-free-mode") {
					hashFreeMode = cfg.Params.HashFreeMode
				}
				if signatureVersion == 0 {
					signatureVersion = cfg.Params.SignatureVersion
				}
			}

			if hashKindName != "" {
				k, err := parseHashKind(hashKindName)
				if err != nil {
					return err
				}
				kind = k
			}
			if hashBlockSize != 0 {
				blockSize = hashBlockSize
			}

			disk, err := os.Open(diskPath)
			if err != nil {
				return err
			}
			defer disk.Close()

			var oldSig *signature.Signature
			if oldSigPath != "" {
				oldSig, err = signature.Read(oldSigPath, sector.Sector(partitionOffset), logger)
				if err != nil {
					return err
				}
			} else {
				oldSig = signature.Empty(kind, blockSize)
			}

			curRanges, err := readRangesFile(rangesPath)
			if err != nil {
				return err
			}

			var relocs *reloc.Table
			if relocPath != "" {
				relocs, err = reloc.ReadFile(relocPath)
				if err != nil {
					return err
				}
			}

			counters := &stats.Counters{}
			started := time.Now()

			delta, newSig, err := deltaengine.Compute(context.Background(), curRanges, oldSig, deltaengine.Options{
				Disk:             disk,
				PartitionOffset:  sector.Sector(partitionOffset),
				HashKind:         kind,
				HashBlockSize:    blockSize,
				HashFreeMode:     hashFreeMode,
				WantNewSignature: newSigPath != "",
				Fixups:           fixup.NewOrdered(),
				Relocs:           relocs,
				Stats:            counters,
				Logger:           logger,
			})
			finished := time.Now()
			if err != nil {
				return err
			}

			if outDeltaPath != "" {
				if err := writeRangesFile(outDeltaPath, delta); err != nil {
					return err
				}
			}

			if outRelocPath != "" {
				if relocs == nil {
					return fmt.Errorf("--out-relocations requires --relocations")
				}
				if err := writeRelocOverlay(relocs, delta, outRelocPath); err != nil {
					return err
				}
			}

			if newSigPath != "" {
				version := signature.Version(signatureVersion)
				if version == 0 {
					version = signature.V3
				}
				if err := signature.Write(newSigPath, newSig, version, sector.Sector(partitionOffset), diskPath, logger); err != nil {
					return err
				}
			}

			var deltaSectors uint64
			for _, r := range delta {
				deltaSectors += uint64(r.Size)
			}

			fmt.Printf("delta ranges:    %d\n", len(delta))
			fmt.Printf("delta sectors:   %d\n", deltaSectors)
			fmt.Printf("shared sectors:  %d\n", counters.SharedSectors)
			fmt.Printf("changed sectors: %d\n", counters.ChangedSectors)
			fmt.Printf("new sectors:     %d\n", counters.NewSectors)
			fmt.Printf("origonly sectors:%d\n", counters.OrigOnlySectors)

			if journalPath != "" {
				if err := recordJournal(journalPath, store.RunRecord{
					ID:               store.NewRunID(),
					StartedAt:        started,
					FinishedAt:       finished,
					ImagePath:        diskPath,
					OldSignaturePath: oldSigPath,
					NewSignaturePath: newSigPath,
					HashKind:         hashKindName,
					DeltaRanges:      len(delta),
					DeltaSectors:     deltaSectors,
					SharedSectors:    counters.SharedSectors,
					ChangedSectors:   counters.ChangedSectors,
					NewSectors:       counters.NewSectors,
					OrigOnlySectors:  counters.OrigOnlySectors,
				}); err != nil {
					logger.Warn("could not record run to journal %s: %v", journalPath, err)
				}
			}

			return nil
		},
	}

	cmd.Flags().StringVar(&diskPath, "disk", "", "path to the current disk image")
	cmd.Flags().StringVar(&oldSigPath, "old-signature", "", "path to the prior signature file, if any")
	cmd.Flags().StringVar(&newSigPath, "new-signature", "", "path to write a fresh signature for the current disk")
	cmd.Flags().StringVar(&rangesPath, "ranges", "", "path to a \"start size\" per line file of currently allocated sectors")
	cmd.Flags().StringVar(&outDeltaPath, "out", "", "path to write the computed delta ranges")
	cmd.Flags().StringVar(&relocPath, "relocations", "", "path to a relocation table captured alongside the old signature")
	cmd.Flags().StringVar(&outRelocPath, "out-relocations", "", "path to write the relocations overlapping this run's delta ranges, for the downstream chunk writer")
	cmd.Flags().StringVar(&configPath, "config", "", "path to a YAML config file")
	cmd.Flags().StringVar(&journalPath, "journal", "", "path to a run journal database to record this run in")
	cmd.Flags().Uint64Var(&partitionOffset, "partition-offset", 0, "partition start sector")
	cmd.Flags().Uint32Var(&hashBlockSize, "hash-block-size", 0, "hash region size in sectors (overrides config)")
	cmd.Flags().StringVar(&hashKindName, "hash-kind", "", "md5, sha1 or sha256 (overrides config)")
	cmd.Flags().BoolVar(&hashFreeMode, "hash-free-mode", false, "compare hash regions even when only partially allocated")
	cmd.Flags().Uint32Var(&signatureVersion, "signature-version", 0, "on-disk signature version to write (1, 2 or 3)")
	cmd.MarkFlagRequired("disk")
	cmd.MarkFlagRequired("ranges")

	return cmd
}

func parseHashKind(name string) (hashkind.Kind, error) {
	switch name {
	case "md5":
		return hashkind.MD5, nil
	case "sha1":
		return hashkind.SHA1, nil
	case "sha256":
		return hashkind.SHA256, nil
	default:
		return 0, fmt.Errorf("unknown hash kind %q", name)
	}
}

// writeRelocOverlay extracts, from relocs, only the entries that fall
// within ranges (this run's delta), and writes them to path. ranges stand
// in for the chunk boundaries a downstream compressor would pack the delta
// into; this repository only produces the delta, not the packed chunks.
func writeRelocOverlay(relocs *reloc.Table, ranges []sector.Range, path string) error {
	out := reloc.NewTable()
	for _, r := range ranges {
		var hdr reloc.ChunkHeader
		payload := relocs.ExtractIntoChunkHeader(&hdr, r.Start, r.End())
		if hdr.RelocCount == 0 {
			continue
		}
		if err := out.AddFromChunkHeader(hdr, relocs.Width(), payload); err != nil {
			return err
		}
	}
	return out.WriteFile(path)
}

func recordJournal(path string, rec store.RunRecord) error {
	var (
		j   *store.Store
		err error
	)
	if _, statErr := os.Stat(path); statErr == nil {
		j, err = store.Open(path)
	} else {
		j, err = store.Create(path)
	}
	if err != nil {
		return err
	}
	defer j.Close()

	return j.RecordRun(rec)
}
