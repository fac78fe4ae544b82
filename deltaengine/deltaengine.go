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

// Package deltaengine is the delta computer (C8): the core hash-based
// range-intersection algorithm. Given the currently-allocated sector ranges
// of a disk and a prior signature, it walks both in sector order and
// produces the minimal set of ranges that must be captured to reproduce the
// current disk from the old one, optionally emitting a fresh signature for
// the current disk at the same time.
package deltaengine

import (
	"bytes"
	"context"
	"os"

	"github.com/sectorimg/imgdelta/blockhash"
	"github.com/sectorimg/imgdelta/fixup"
	"github.com/sectorimg/imgdelta/hashkind"
	"github.com/sectorimg/imgdelta/internal/diag"
	"github.com/sectorimg/imgdelta/internal/ferrors"
	"github.com/sectorimg/imgdelta/internal/stats"
	"github.com/sectorimg/imgdelta/reloc"
	"github.com/sectorimg/imgdelta/sector"
	"github.com/sectorimg/imgdelta/signature"
)

// Options bundles a delta run's inputs beyond the two range/region inputs
// themselves, since the full parameter list would otherwise run past what a
// Go call site can stay readable at.
type Options struct {
	// Disk is the current disk image, opened for reading.
	Disk *os.File
	// PartitionOffset is added back to signature regions on load (already
	// done by signature.Read) and is reused here purely to align freshly
	// hashed new-signature chunks to hash-block boundaries relative to the
	// partition, matching the old signature's own alignment.
	PartitionOffset sector.Sector
	// HashKind selects the digest algorithm for comparisons and any new
	// signature this run produces.
	HashKind hashkind.Kind
	// HashBlockSize is the hash region granularity, in sectors.
	HashBlockSize uint32
	// HashFreeMode allows a full hash comparison over a region even when
	// the current allocation only partially covers it, instead of
	// unconditionally marking such a region changed.
	HashFreeMode bool
	// WantNewSignature requests a freshly built signature for the current
	// disk alongside the delta itself.
	WantNewSignature bool
	// Fixups is consulted for every hash region; a region with an
	// overlapping fixup always forces a "changed" outcome and is excluded
	// from hash comparison.
	Fixups fixup.Set
	// Relocs, if set, is queried (never mutated) for every hash region and
	// every current range with no signature coverage, purely for
	// diagnostics: unlike Fixups it never
	// forces a "changed" outcome, since the structural relocations it
	// records are a property of the downstream chunk writer's output, not
	// of whether this region's content changed.
	Relocs *reloc.Table
	// Stats receives sector accounting events; pass stats.Noop to disable.
	Stats stats.Sink
	// Logger receives non-fatal diagnostics; nil discards them.
	Logger *diag.Logger
}

type outcome int

const (
	outcomeMatched outcome = iota
	outcomeHashDiffers
	outcomeNoCompare
	outcomeFixupForce
)

// Compute runs the delta algorithm. curRanges and oldSig.Regions must both
// already be sorted ascending and non-overlapping (rangelist.Drain and
// signature.Read both guarantee this for their outputs) and both in
// absolute sector coordinates. On any error the returned delta and
// signature are nil and any fixup changes this run made are rolled back.
func Compute(ctx context.Context, curRanges []sector.Range, oldSig *signature.Signature, opts Options) ([]sector.Range, *signature.Signature, error) {
	if opts.Stats == nil {
		opts.Stats = stats.Noop
	}

	digestLen, err := hashkind.DigestLen(opts.HashKind)
	if err != nil {
		return nil, nil, err
	}

	if opts.Fixups != nil {
		opts.Fixups.Save()
	}

	e := &engine{
		opts:      opts,
		digestLen: digestLen,
		oldRegions: oldSig.Regions,
		curRanges: curRanges,
		scratch:   make([]byte, uint64(opts.HashBlockSize)*sector.Size),
	}
	e.fetchD()
	e.fetchH()

	delta, newRegions, err := e.run(ctx)

	if opts.Fixups != nil {
		opts.Fixups.Restore(err == nil)
	}

	if err != nil {
		return nil, nil, err
	}

	var newSig *signature.Signature
	if opts.WantNewSignature {
		newSig = &signature.Signature{
			Version:       signature.V3,
			HashKind:      opts.HashKind,
			HashBlockSize: opts.HashBlockSize,
			Regions:       newRegions,
		}
		for _, r := range newRegions {
			if r.Size > newSig.MaxRegionSectors {
				newSig.MaxRegionSectors = r.Size
			}
		}
	}

	return delta, newSig, nil
}

// engine holds the two-cursor walk state. It is single-use: construct one
// per Compute call.
type engine struct {
	opts      Options
	digestLen int

	oldRegions []signature.Region
	curRanges  []sector.Range

	hIdx    int
	hCur    signature.Region
	hDone   bool

	dIdx    int
	dCur    sector.Range
	dDone   bool

	scratch []byte

	delta      []sector.Range
	newRegions []signature.Region
}

func (e *engine) fetchH() {
	if e.hIdx >= len(e.oldRegions) {
		e.hDone = true
		return
	}
	e.hCur = e.oldRegions[e.hIdx]
	e.hIdx++
}

func (e *engine) fetchD() {
	if e.dIdx >= len(e.curRanges) {
		e.dDone = true
		return
	}
	e.dCur = e.curRanges[e.dIdx]
	e.dIdx++
}

func (e *engine) appendDelta(r sector.Range) {
	n := len(e.delta)
	if n > 0 && e.delta[n-1].End() == r.Start {
		e.delta[n-1].Size += r.Size
		return
	}
	e.delta = append(e.delta, r)
}

func (e *engine) run(ctx context.Context) ([]sector.Range, []signature.Region, error) {
	for !(e.dDone && e.hDone) {
		select {
		case <-ctx.Done():
			return nil, nil, ferrors.Wrap(ferrors.ErrCancelled, "delta computation cancelled: %v", ctx.Err())
		default:
		}

		switch {
		case e.hDone:
			if err := e.emitNew(e.dCur); err != nil {
				return nil, nil, err
			}
			e.fetchD()

		case e.dDone:
			e.opts.Stats.AddOrigOnly(uint64(e.hCur.Size))
			e.fetchH()

		case e.dCur.End() <= e.hCur.Start:
			if err := e.emitNew(e.dCur); err != nil {
				return nil, nil, err
			}
			e.fetchD()

		case e.hCur.End() <= e.dCur.Start:
			e.opts.Stats.AddOrigOnly(uint64(e.hCur.Size))
			e.fetchH()

		default:
			if err := e.processRegion(); err != nil {
				return nil, nil, err
			}
		}
	}
	return e.delta, e.newRegions, nil
}

// emitNew handles disk content with no signature coverage at all: it is
// unconditionally changed, and (if a new signature was requested) gets
// fresh hash-block-aligned entries since no prior digest exists to reuse.
func (e *engine) emitNew(r sector.Range) error {
	e.opts.Stats.AddNew(uint64(r.Size))
	e.appendDelta(r)
	e.logRelocs(r.Start, r.Size)
	if !e.opts.WantNewSignature {
		return nil
	}
	return e.hashFreshChunks(r)
}

func (e *engine) hashFreshChunks(r sector.Range) error {
	for _, chunk := range alignChunks(r, e.opts.HashBlockSize, e.opts.PartitionOffset) {
		digest, err := blockhash.HashRange(e.opts.Disk, chunk.Start, chunk.Size, e.opts.HashBlockSize, e.opts.HashKind, e.opts.Fixups, e.scratch)
		if err != nil {
			return err
		}
		e.newRegions = append(e.newRegions, newRegion(chunk, digest))
	}
	return nil
}

// logRelocs reports, at Debug level, how many structural relocations
// Options.Relocs places inside [start, start+size). It never influences the
// delta outcome; it exists so a caller that also loaded the relocation
// table can see which emitted regions the downstream chunk writer will need
// to patch, without the engine itself depending on chunk-packing decisions
// that are out of its scope.
func (e *engine) logRelocs(start sector.Sector, size uint32) {
	if e.opts.Relocs == nil {
		return
	}
	if n := e.opts.Relocs.Inrange(start, size); n > 0 {
		e.opts.Logger.Debug("region %d..%d carries %d structural relocations", start, start+sector.Sector(size), n)
	}
}

// processRegion resolves the current hash region (e.hCur) against whatever
// current allocation overlaps it, consuming zero or more entries from
// curRanges along the way, possibly leaving dCur holding the remainder of a
// current range that extends past the region.
func (e *engine) processRegion() error {
	hStart := e.hCur.Start
	hEnd := e.hCur.End()

	// Head-carve: dCur can start before hCur (e.g. it spans the gap left by
	// a prior region's fetchH), in which case the sectors ahead of hStart
	// have no signature coverage at all and must go straight to emitNew,
	// exactly like the no-old-signature-coverage case does.
	if e.dCur.Start < hStart {
		head := sector.Range{Start: e.dCur.Start, Size: uint32(hStart - e.dCur.Start)}
		if err := e.emitNew(head); err != nil {
			return err
		}
		e.dCur = sector.Range{Start: hStart, Size: e.dCur.Size - head.Size}
	}

	var coverage []sector.Range
	var totalCovered uint32
	cursor := hStart

	for !e.dDone && e.dCur.Start < hEnd {
		if e.dCur.End() <= hStart {
			e.fetchD()
			continue
		}

		segStart := e.dCur.Start
		if cursor > segStart {
			segStart = cursor
		}
		if segStart > cursor {
			gap := segStart - cursor
			e.opts.Stats.AddOrigOnly(uint64(gap))
			e.opts.Stats.AddGap(uint64(gap))
			cursor = segStart
		}

		segEnd := e.dCur.End()
		if segEnd > hEnd {
			segEnd = hEnd
		}
		if segEnd > cursor {
			size := uint32(segEnd - cursor)
			coverage = append(coverage, sector.Range{Start: cursor, Size: size})
			totalCovered += size
			cursor = segEnd
		}

		if e.dCur.End() <= hEnd {
			e.fetchD()
		} else {
			e.dCur = sector.Range{Start: hEnd, Size: e.dCur.Size - uint32(hEnd-e.dCur.Start)}
			break
		}
	}

	if cursor < hEnd {
		gap := uint32(hEnd - cursor)
		e.opts.Stats.AddOrigOnly(uint64(gap))
		e.opts.Stats.AddGap(uint64(gap))
	}

	fullyCovered := totalCovered == e.hCur.Size
	hasFixup := e.opts.Fixups != nil && e.opts.Fixups.HasFixup(hStart, e.hCur.Size)
	e.logRelocs(hStart, e.hCur.Size)

	var result outcome
	var fullDigest []byte

	switch {
	case hasFixup:
		result = outcomeFixupForce
		e.opts.Stats.IncFixupForced()
	case fullyCovered || e.opts.HashFreeMode:
		digest, err := blockhash.HashRange(e.opts.Disk, hStart, e.hCur.Size, e.opts.HashBlockSize, e.opts.HashKind, e.opts.Fixups, e.scratch)
		if err != nil {
			return err
		}
		e.opts.Stats.IncHashCompare()
		fullDigest = digest
		if bytes.Equal(digest, e.hCur.Digest[:e.digestLen]) {
			result = outcomeMatched
		} else {
			result = outcomeHashDiffers
		}
	default:
		result = outcomeNoCompare
		e.opts.Stats.IncNoCompare()
	}

	switch result {
	case outcomeMatched:
		e.opts.Stats.AddShared(uint64(totalCovered))
		if e.opts.WantNewSignature {
			e.newRegions = append(e.newRegions, newRegion(sector.Range{Start: hStart, Size: e.hCur.Size}, fullDigest))
		}

	case outcomeHashDiffers:
		e.opts.Stats.AddChanged(uint64(totalCovered))
		for _, c := range coverage {
			e.appendDelta(c)
		}
		if e.opts.WantNewSignature {
			e.newRegions = append(e.newRegions, newRegion(sector.Range{Start: hStart, Size: e.hCur.Size}, fullDigest))
		}

	case outcomeNoCompare, outcomeFixupForce:
		e.opts.Stats.AddChanged(uint64(totalCovered))
		for _, c := range coverage {
			e.appendDelta(c)
		}
		if e.opts.WantNewSignature {
			for _, c := range coverage {
				if err := e.hashFreshChunks(c); err != nil {
					return err
				}
			}
		}
	}

	e.fetchH()
	return nil
}

func newRegion(r sector.Range, digest []byte) signature.Region {
	reg := signature.Region{Start: r.Start, Size: r.Size}
	copy(reg.Digest[:], digest)
	return reg
}

// alignChunks splits r into pieces aligned to hashBlockSize-sector
// boundaries measured relative to partitionOffset, matching how the
// original signature's own regions are aligned. The first and last pieces
// may be short if r doesn't start or end on a grid boundary.
func alignChunks(r sector.Range, hashBlockSize uint32, partitionOffset sector.Sector) []sector.Range {
	if hashBlockSize == 0 {
		return []sector.Range{r}
	}

	var out []sector.Range
	cur := r.Start
	end := r.End()
	for cur < end {
		relStart := uint64(cur - partitionOffset)
		gridStart := (relStart / uint64(hashBlockSize)) * uint64(hashBlockSize)
		blockEnd := partitionOffset + sector.Sector(gridStart) + sector.Sector(hashBlockSize)
		chunkEnd := blockEnd
		if chunkEnd > end {
			chunkEnd = end
		}
		out = append(out, sector.Range{Start: cur, Size: uint32(chunkEnd - cur)})
		cur = chunkEnd
	}
	return out
}
