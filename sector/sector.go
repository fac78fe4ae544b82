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

// Package sector defines the fundamental addressable unit of a disk image:
// the 512-byte sector, the absolute Sector address and the contiguous Range.
// Both on-disk sector widths (32-bit legacy, 64-bit current) are normalized
// to a single 64-bit in-memory representation here; narrowing back to wire
// width is the signature codec's job, not this package's.
package sector

import (
	"math"

	"github.com/sectorimg/imgdelta/internal/ferrors"
)

// Size is the fixed byte size of one sector.
const Size = 512

// Sector is an absolute, 64-bit disk sector address.
type Sector uint64

// MaxSector is the largest representable absolute sector address.
const MaxSector Sector = math.MaxUint64

// Width identifies an on-disk integer width for sector addresses.
type Width int

const (
	// Width32 is the legacy v1/v2 on-disk sector width.
	Width32 Width = 32
	// Width64 is the current v3 on-disk sector width.
	Width64 Width = 64
)

// Range is a contiguous run of sectors in absolute disk coordinates.
// Invariant: Size > 0 and Start+Size does not overflow 64 bits.
type Range struct {
	Start Sector
	Size  uint32
}

// Validate checks the Range invariant.
func (r Range) Validate() error {
	if r.Size == 0 {
		return ferrors.Wrap(ferrors.ErrBadSignature, "zero-size range at sector %d", r.Start)
	}
	if uint64(r.Start) > math.MaxUint64-uint64(r.Size) {
		return ferrors.Wrap(ferrors.ErrBadSignature, "range at sector %d size %d overflows", r.Start, r.Size)
	}
	return nil
}

// End returns the sector one past the end of the range.
func (r Range) End() Sector {
	return r.Start + Sector(r.Size)
}

// Overlaps reports whether r and other share at least one sector.
func (r Range) Overlaps(other Range) bool {
	return r.Start < other.End() && other.Start < r.End()
}

// Adjacent reports whether r's end abuts other's start (or vice versa),
// i.e. whether appending one to the other would coalesce in a range list.
func (r Range) Adjacent(other Range) bool {
	return r.End() == other.Start || other.End() == r.Start
}

// ByteStart returns the absolute byte offset of the range's first sector.
func (r Range) ByteStart() int64 {
	return int64(r.Start) * Size
}

// ByteSize returns the range's size in bytes.
func (r Range) ByteSize() int64 {
	return int64(r.Size) * Size
}

// Rebase returns r shifted by the given partition offset. add=true adds the
// offset (used when loading a signature, whose regions are partition
// relative); add=false subtracts it (used when writing), failing if the
// range would underflow below zero.
func (r Range) Rebase(partitionOffset Sector, add bool) (Range, error) {
	if add {
		if uint64(r.Start) > math.MaxUint64-uint64(partitionOffset) {
			return Range{}, ferrors.Wrap(ferrors.ErrBadSignature, "partition rebase overflow at sector %d", r.Start)
		}
		return Range{Start: r.Start + partitionOffset, Size: r.Size}, nil
	}
	if r.Start < partitionOffset {
		return Range{}, ferrors.Wrap(ferrors.ErrRegionUnderPartition,
			"region at sector %d underflows partition offset %d", r.Start, partitionOffset)
	}
	return Range{Start: r.Start - partitionOffset, Size: r.Size}, nil
}

// FitsWidth32 reports whether the range's start sector is representable in
// the legacy 32-bit on-disk width.
func (r Range) FitsWidth32() bool {
	return uint64(r.Start) <= math.MaxUint32
}
