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

package deltaengine_test

import (
	"bytes"
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sectorimg/imgdelta/deltaengine"
	"github.com/sectorimg/imgdelta/fixup"
	"github.com/sectorimg/imgdelta/hashkind"
	_ "github.com/sectorimg/imgdelta/hashkind/sha256"
	"github.com/sectorimg/imgdelta/internal/diag"
	"github.com/sectorimg/imgdelta/internal/stats"
	"github.com/sectorimg/imgdelta/reloc"
	"github.com/sectorimg/imgdelta/sector"
	"github.com/sectorimg/imgdelta/signature"
)

const blockSize = 4 // sectors per hash block, small to keep test fixtures short

func writeDisk(t *testing.T, data []byte) *os.File {
	t.Helper()
	f, err := os.CreateTemp("", "deltaengine-disk")
	require.NoError(t, err)
	t.Cleanup(func() {
		f.Close()
		os.Remove(f.Name())
	})
	_, err = f.Write(data)
	require.NoError(t, err)
	return f
}

func digestOf(t *testing.T, data []byte) []byte {
	t.Helper()
	d, err := hashkind.Compute(hashkind.SHA256, data)
	require.NoError(t, err)
	return d
}

func regionFor(t *testing.T, start sector.Sector, size uint32, data []byte) signature.Region {
	t.Helper()
	r := signature.Region{Start: start, Size: size}
	copy(r.Digest[:], digestOf(t, data))
	return r
}

func newOpts(disk *os.File, kind hashkind.Kind, hashFree bool, sink stats.Sink) deltaengine.Options {
	return deltaengine.Options{
		Disk:          disk,
		HashKind:      kind,
		HashBlockSize: blockSize,
		HashFreeMode:  hashFree,
		Fixups:        fixup.NewOrdered(),
		Stats:         sink,
	}
}

// TestComputeMatchedRegionProducesNoDelta covers the case where the disk
// content behind a hash region hasn't changed: the region's digest still
// matches, so nothing is emitted to the delta even though it's fully
// allocated now.
func TestComputeMatchedRegionProducesNoDelta(t *testing.T) {
	data := make([]byte, blockSize*sector.Size)
	for i := range data {
		data[i] = byte(i)
	}
	disk := writeDisk(t, data)

	oldSig := signature.Empty(hashkind.SHA256, blockSize)
	oldSig.Regions = []signature.Region{regionFor(t, 0, blockSize, data)}

	counters := &stats.Counters{}
	curRanges := []sector.Range{{Start: 0, Size: blockSize}}

	delta, _, err := deltaengine.Compute(context.Background(), curRanges, oldSig, newOpts(disk, hashkind.SHA256, false, counters))
	require.NoError(t, err)
	assert.Empty(t, delta)
	assert.Equal(t, uint64(blockSize), counters.SharedSectors)
}

// TestComputeChangedRegionEmitsDelta covers a hash region whose on-disk
// content no longer matches the old signature's digest.
func TestComputeChangedRegionEmitsDelta(t *testing.T) {
	oldData := make([]byte, blockSize*sector.Size)
	disk := writeDisk(t, oldData)

	oldSig := signature.Empty(hashkind.SHA256, blockSize)
	oldSig.Regions = []signature.Region{regionFor(t, 0, blockSize, oldData)}

	newData := make([]byte, blockSize*sector.Size)
	newData[0] = 0xFF
	_, err := disk.WriteAt(newData, 0)
	require.NoError(t, err)

	counters := &stats.Counters{}
	curRanges := []sector.Range{{Start: 0, Size: blockSize}}

	delta, _, err := deltaengine.Compute(context.Background(), curRanges, oldSig, newOpts(disk, hashkind.SHA256, false, counters))
	require.NoError(t, err)
	require.Len(t, delta, 1)
	assert.Equal(t, sector.Range{Start: 0, Size: blockSize}, delta[0])
	assert.Equal(t, uint64(blockSize), counters.ChangedSectors)
}

// TestComputeNewAllocationNoOldCoverage covers disk content with no prior
// signature coverage at all: it is unconditionally emitted as changed.
func TestComputeNewAllocationNoOldCoverage(t *testing.T) {
	data := make([]byte, 8*sector.Size)
	disk := writeDisk(t, data)

	oldSig := signature.Empty(hashkind.SHA256, blockSize)
	counters := &stats.Counters{}
	curRanges := []sector.Range{{Start: 0, Size: 8}}

	delta, _, err := deltaengine.Compute(context.Background(), curRanges, oldSig, newOpts(disk, hashkind.SHA256, false, counters))
	require.NoError(t, err)
	require.Len(t, delta, 1)
	assert.Equal(t, uint64(8), counters.NewSectors)
}

// TestComputeOrigOnlyNoCurrentAllocation covers an old signature region
// whose sectors are no longer allocated at all: accounted but never
// compared or emitted.
func TestComputeOrigOnlyNoCurrentAllocation(t *testing.T) {
	data := make([]byte, blockSize*sector.Size)
	disk := writeDisk(t, data)

	oldSig := signature.Empty(hashkind.SHA256, blockSize)
	oldSig.Regions = []signature.Region{regionFor(t, 0, blockSize, data)}

	counters := &stats.Counters{}
	delta, _, err := deltaengine.Compute(context.Background(), nil, oldSig, newOpts(disk, hashkind.SHA256, false, counters))
	require.NoError(t, err)
	assert.Empty(t, delta)
	assert.Equal(t, uint64(blockSize), counters.OrigOnlySectors)
}

// TestComputePartialCoverageWithoutHashFreeForcesChange verifies that when
// the current allocation only partially covers a hash region and
// HashFreeMode is off, the covered part is forced to "changed" without
// ever reading a full-region digest.
func TestComputePartialCoverageWithoutHashFreeForcesChange(t *testing.T) {
	data := make([]byte, blockSize*sector.Size)
	disk := writeDisk(t, data)

	oldSig := signature.Empty(hashkind.SHA256, blockSize)
	oldSig.Regions = []signature.Region{regionFor(t, 0, blockSize, data)}

	counters := &stats.Counters{}
	// Only the first half of the region is currently allocated.
	curRanges := []sector.Range{{Start: 0, Size: blockSize / 2}}

	delta, _, err := deltaengine.Compute(context.Background(), curRanges, oldSig, newOpts(disk, hashkind.SHA256, false, counters))
	require.NoError(t, err)
	require.Len(t, delta, 1)
	assert.Equal(t, sector.Range{Start: 0, Size: blockSize / 2}, delta[0])
	assert.Equal(t, uint64(1), counters.NoCompare)
	assert.Equal(t, uint64(blockSize/2), counters.OrigOnlySectors)
}

// TestComputePartialCoverageWithHashFreeComparesAnyway verifies that
// HashFreeMode allows a full-region hash comparison even when current
// allocation only partially covers the region, and that an unchanged
// region still produces no delta in that mode.
func TestComputePartialCoverageWithHashFreeComparesAnyway(t *testing.T) {
	data := make([]byte, blockSize*sector.Size)
	disk := writeDisk(t, data)

	oldSig := signature.Empty(hashkind.SHA256, blockSize)
	oldSig.Regions = []signature.Region{regionFor(t, 0, blockSize, data)}

	counters := &stats.Counters{}
	curRanges := []sector.Range{{Start: 0, Size: blockSize / 2}}

	delta, _, err := deltaengine.Compute(context.Background(), curRanges, oldSig, newOpts(disk, hashkind.SHA256, true, counters))
	require.NoError(t, err)
	assert.Empty(t, delta)
	assert.Equal(t, uint64(1), counters.HashCompares)
}

// TestComputeFixupForcesChangeDespiteMatch verifies that a fixup
// overlapping a hash region always forces that region to "changed",
// bypassing the hash comparison entirely even though the underlying bytes
// are actually unchanged.
func TestComputeFixupForcesChangeDespiteMatch(t *testing.T) {
	data := make([]byte, blockSize*sector.Size)
	disk := writeDisk(t, data)

	oldSig := signature.Empty(hashkind.SHA256, blockSize)
	oldSig.Regions = []signature.Region{regionFor(t, 0, blockSize, data)}

	opts := newOpts(disk, hashkind.SHA256, false, &stats.Counters{})
	require.NoError(t, opts.Fixups.(*fixup.Ordered).Add(fixup.Fixup{ByteStart: 0, ByteSize: sector.Size, Payload: make([]byte, sector.Size)}))

	curRanges := []sector.Range{{Start: 0, Size: blockSize}}
	delta, _, err := deltaengine.Compute(context.Background(), curRanges, oldSig, opts)
	require.NoError(t, err)
	require.Len(t, delta, 1)
}

// TestComputeHeadCarveBeforeRegion verifies that currently-allocated
// sectors ahead of the first old-signature region are folded into the
// delta as unconditionally changed, rather than silently clamped away when
// the walk locks its cursor onto the region's start.
func TestComputeHeadCarveBeforeRegion(t *testing.T) {
	data := make([]byte, 10*sector.Size)
	disk := writeDisk(t, data)

	// The 5-sector region needs a hash block of at least 5 sectors.
	oldSig := signature.Empty(hashkind.SHA256, 5)
	oldSig.Regions = []signature.Region{regionFor(t, 5, 5, data[5*sector.Size:])}

	counters := &stats.Counters{}
	curRanges := []sector.Range{{Start: 0, Size: 10}}

	opts := newOpts(disk, hashkind.SHA256, false, counters)
	opts.HashBlockSize = 5
	delta, _, err := deltaengine.Compute(context.Background(), curRanges, oldSig, opts)
	require.NoError(t, err)
	require.Len(t, delta, 1)
	assert.Equal(t, sector.Range{Start: 0, Size: 5}, delta[0])
	assert.Equal(t, uint64(5), counters.NewSectors)
	assert.Equal(t, uint64(5), counters.SharedSectors)
}

// TestComputeLogsRelocationsInRegion verifies that a relocation table
// threaded through Options.Relocs is queried against each hash region and
// reported via the logger, without altering the delta or stats outcome a
// run without one would produce.
func TestComputeLogsRelocationsInRegion(t *testing.T) {
	data := make([]byte, blockSize*sector.Size)
	disk := writeDisk(t, data)

	oldSig := signature.Empty(hashkind.SHA256, blockSize)
	oldSig.Regions = []signature.Region{regionFor(t, 0, blockSize, data)}

	relocs := reloc.NewTable()
	hdr := reloc.ChunkHeader{RelocCount: 1}
	payload := make([]byte, 16)
	payload[0] = byte(reloc.FBSDDisklabel)
	require.NoError(t, relocs.AddFromChunkHeader(hdr, sector.Width64, payload))

	var logBuf bytes.Buffer
	logger := diag.New(&logBuf, "").WithLevel(diag.Debug)

	opts := newOpts(disk, hashkind.SHA256, false, &stats.Counters{})
	opts.Relocs = relocs
	opts.Logger = logger

	curRanges := []sector.Range{{Start: 0, Size: blockSize}}
	delta, _, err := deltaengine.Compute(context.Background(), curRanges, oldSig, opts)
	require.NoError(t, err)
	assert.Empty(t, delta)
	assert.Contains(t, logBuf.String(), "structural relocations")
}

// TestComputeRollsBackFixupsOnError verifies that a delta run failing up
// front (an unregistered hash kind) returns an error and leaves the fixup
// set with the contents it had before the call.
func TestComputeRollsBackFixupsOnError(t *testing.T) {
	disk := writeDisk(t, make([]byte, blockSize*sector.Size))
	oldSig := signature.Empty(hashkind.Kind(99), blockSize) // unregistered kind forces an error

	set := fixup.NewOrdered()
	require.NoError(t, set.Add(fixup.Fixup{ByteStart: 0, ByteSize: sector.Size, Payload: make([]byte, sector.Size)}))
	opts := deltaengine.Options{
		Disk:          disk,
		HashKind:      hashkind.Kind(99),
		HashBlockSize: blockSize,
		Fixups:        set,
		Stats:         &stats.Counters{},
	}

	_, _, err := deltaengine.Compute(context.Background(), nil, oldSig, opts)
	require.Error(t, err)
	assert.True(t, set.HasFixup(0, 1))
}

// TestComputeCancellation verifies that an already-cancelled context stops
// the walk immediately with a wrapped cancellation error.
func TestComputeCancellation(t *testing.T) {
	data := make([]byte, blockSize*sector.Size)
	disk := writeDisk(t, data)

	oldSig := signature.Empty(hashkind.SHA256, blockSize)
	oldSig.Regions = []signature.Region{regionFor(t, 0, blockSize, data)}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	curRanges := []sector.Range{{Start: 0, Size: blockSize}}
	_, _, err := deltaengine.Compute(ctx, curRanges, oldSig, newOpts(disk, hashkind.SHA256, false, &stats.Counters{}))
	require.Error(t, err)
}

// TestComputeNewSignatureRoundTrip verifies that running with
// WantNewSignature produces a signature whose regions, when used as the
// old signature for a second run against the same unchanged disk, compare
// as fully matched.
func TestComputeNewSignatureRoundTrip(t *testing.T) {
	data := make([]byte, 2*blockSize*sector.Size)
	for i := range data {
		data[i] = byte(i % 251)
	}
	disk := writeDisk(t, data)

	oldSig := signature.Empty(hashkind.SHA256, blockSize)
	curRanges := []sector.Range{{Start: 0, Size: 2 * blockSize}}

	opts := newOpts(disk, hashkind.SHA256, false, &stats.Counters{})
	opts.WantNewSignature = true

	_, newSig, err := deltaengine.Compute(context.Background(), curRanges, oldSig, opts)
	require.NoError(t, err)
	require.NotNil(t, newSig)
	require.Len(t, newSig.Regions, 2)

	counters := &stats.Counters{}
	opts2 := newOpts(disk, hashkind.SHA256, false, counters)
	delta, _, err := deltaengine.Compute(context.Background(), curRanges, newSig, opts2)
	require.NoError(t, err)
	assert.Empty(t, delta)
	assert.Equal(t, uint64(2*blockSize), counters.SharedSectors)
}
